package models

import (
	"time"
)

// MirrorState represents the lifecycle state of a mirror
type MirrorState string

const (
	// MirrorStateUnknown means the mirror is known but no sync has been
	// attempted in this process yet.
	MirrorStateUnknown MirrorState = "unknown"
	// MirrorStateQueued means a sync request is waiting for a worker.
	MirrorStateQueued MirrorState = "queued"
	// MirrorStateSyncing means a worker is running the sync operation.
	MirrorStateSyncing MirrorState = "syncing"
	// MirrorStateSynced means the last sync attempt succeeded.
	MirrorStateSynced MirrorState = "synced"
	// MirrorStateFailed means the last sync attempt failed.
	MirrorStateFailed MirrorState = "failed"
	// MirrorStateRemoved means the mirror was deleted upstream and its
	// local copy removed. Terminal.
	MirrorStateRemoved MirrorState = "removed"
)

// Busy reports whether the state already has work pending or running, in
// which case further sync requests for the same mirror are dropped.
func (s MirrorState) Busy() bool {
	return s == MirrorStateQueued || s == MirrorStateSyncing
}

// Mirror is the persisted record of one mirrored repository
type Mirror struct {
	Identifier    string      `gorm:"primaryKey" json:"identifier"`
	State         MirrorState `gorm:"not null;default:'unknown'" json:"state"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
	LastSuccessAt *time.Time  `json:"last_success_at,omitempty"`
	LastError     string      `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
