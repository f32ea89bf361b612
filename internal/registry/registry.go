// Package registry tracks the lifecycle state of every known mirror. It is
// the single arbiter of whether a mirror already has work pending or
// running; the worker pool and the event intake both consult it before
// anything is enqueued.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/models"
)

// Record is one mirror's registry entry. Copies returned by Get and
// Snapshot are detached from the registry.
type Record struct {
	Identifier      identifier.Identifier
	State           models.MirrorState
	LastAttemptAt   *time.Time
	LastSuccessAt   *time.Time
	LastError       string
	DeleteRequested bool

	// prevState restores the record when an accepted request could not
	// be placed on the work queue.
	prevState models.MirrorState
}

// Registry is a mutex-guarded map of mirror records with best-effort
// write-through to the database. The in-memory map is authoritative; a
// persistence failure is logged and never blocks sync work.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	db      *gorm.DB // may be nil
	logger  *slog.Logger
}

// New creates a Registry. db may be nil, in which case records live only
// in memory.
func New(db *gorm.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[string]*Record),
		db:      db,
		logger:  logger,
	}
}

// Load seeds the registry from persisted records. Rows left queued or
// syncing by a previous process are coerced back to unknown; whatever work
// they referred to died with that process.
func (r *Registry) Load() error {
	if r.db == nil {
		return nil
	}

	var rows []models.Mirror
	if err := r.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("loading mirror records: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		id, err := identifier.Parse(row.Identifier)
		if err != nil {
			r.logger.Warn("ignoring persisted record with invalid identifier", "identifier", row.Identifier)
			continue
		}
		rec := &Record{
			Identifier:    id,
			State:         row.State,
			LastAttemptAt: row.LastAttemptAt,
			LastSuccessAt: row.LastSuccessAt,
			LastError:     row.LastError,
		}
		if row.State.Busy() {
			rec.State = models.MirrorStateUnknown
		}
		r.records[row.Identifier] = rec
		if rec.State != row.State {
			r.persist(rec)
		}
	}
	r.logger.Info("mirror records loaded", "count", len(rows))
	return nil
}

// record returns the entry for id, creating it as unknown if needed.
// Callers must hold the mutex.
func (r *Registry) record(id identifier.Identifier) *Record {
	rec, ok := r.records[id.String()]
	if !ok {
		rec = &Record{Identifier: id, State: models.MirrorStateUnknown}
		r.records[id.String()] = rec
	}
	return rec
}

// TryEnqueue claims the queued state for id. It returns false when the
// mirror already has work pending or running, or when the record is
// removed; in that case nothing changes except that a deletion request is
// remembered on a busy record, to be honored after the in-flight work
// completes.
func (r *Registry) TryEnqueue(id identifier.Identifier, deleted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.record(id)
	switch {
	case rec.State.Busy():
		if deleted {
			rec.DeleteRequested = true
		}
		return false
	case rec.State == models.MirrorStateRemoved:
		return false
	}

	rec.prevState = rec.State
	rec.State = models.MirrorStateQueued
	if deleted {
		rec.DeleteRequested = true
	}
	r.persist(rec)
	return true
}

// Release rolls a queued record back to its previous state. Called by the
// submitter that claimed the queued state when its request could not be
// placed on the work queue.
func (r *Registry) Release(id identifier.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id.String()]
	if !ok || rec.State != models.MirrorStateQueued {
		return
	}
	rec.State = rec.prevState
	rec.DeleteRequested = false
	r.persist(rec)
}

// Begin moves a queued record into syncing and stamps the attempt time.
// When a deletion was requested the record stays queued and deleteRequested
// is true: the caller removes the mirror instead of syncing it.
func (r *Registry) Begin(id identifier.Identifier) (deleteRequested, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id.String()]
	if !exists || rec.State != models.MirrorStateQueued {
		return false, false
	}
	if rec.DeleteRequested {
		return true, true
	}

	now := time.Now().UTC()
	rec.State = models.MirrorStateSyncing
	rec.LastAttemptAt = &now
	r.persist(rec)
	return false, true
}

// Finish records the outcome of a sync operation.
func (r *Registry) Finish(id identifier.Identifier, syncErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id.String()]
	if !exists || rec.State != models.MirrorStateSyncing {
		return
	}

	if syncErr != nil {
		rec.State = models.MirrorStateFailed
		rec.LastError = syncErr.Error()
	} else {
		now := time.Now().UTC()
		rec.State = models.MirrorStateSynced
		rec.LastSuccessAt = &now
		rec.LastError = ""
	}
	r.persist(rec)
}

// DeleteRequested reports whether an upstream deletion is pending for id.
func (r *Registry) DeleteRequested(id identifier.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id.String()]
	return ok && rec.DeleteRequested
}

// FinishRemove records the outcome of a mirror deletion. Success makes the
// record removed, which is terminal; failure leaves the record failed with
// the deletion still requested, so a later request retries it.
func (r *Registry) FinishRemove(id identifier.Identifier, removeErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id.String()]
	if !exists {
		return
	}

	if removeErr != nil {
		rec.State = models.MirrorStateFailed
		rec.LastError = removeErr.Error()
		r.persist(rec)
		return
	}
	rec.State = models.MirrorStateRemoved
	rec.DeleteRequested = false
	rec.LastError = ""
	r.persist(rec)
}

// Forget drops a removed record entirely so the identifier can be mirrored
// again. Records in any other state are left alone.
func (r *Registry) Forget(id identifier.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id.String()]
	if !ok || rec.State != models.MirrorStateRemoved {
		return false
	}
	delete(r.records, id.String())
	if r.db != nil {
		if err := r.db.Delete(&models.Mirror{}, "identifier = ?", id.String()).Error; err != nil {
			r.logger.Warn("failed to delete mirror record", "mirror", id.String(), "error", err)
		}
	}
	return true
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id identifier.Identifier) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id.String()]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all records sorted by identifier.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identifier.String() < out[j].Identifier.String()
	})
	return out
}

// persist writes the record through to the database. Callers must hold
// the mutex.
func (r *Registry) persist(rec *Record) {
	if r.db == nil {
		return
	}
	row := models.Mirror{
		Identifier:    rec.Identifier.String(),
		State:         rec.State,
		LastAttemptAt: rec.LastAttemptAt,
		LastSuccessAt: rec.LastSuccessAt,
		LastError:     rec.LastError,
	}
	if err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		r.logger.Warn("failed to persist mirror record", "mirror", row.Identifier, "error", err)
	}
}
