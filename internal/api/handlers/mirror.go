package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/registry"
)

// MirrorHandler serves read-only views of the mirror registry.
type MirrorHandler struct {
	registry *registry.Registry
}

func NewMirrorHandler(reg *registry.Registry) *MirrorHandler {
	return &MirrorHandler{registry: reg}
}

type mirrorView struct {
	Identifier    string     `json:"identifier"`
	State         string     `json:"state"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

func newMirrorView(rec registry.Record) mirrorView {
	return mirrorView{
		Identifier:    rec.Identifier.String(),
		State:         string(rec.State),
		LastAttemptAt: rec.LastAttemptAt,
		LastSuccessAt: rec.LastSuccessAt,
		LastError:     rec.LastError,
	}
}

// ListMirrors returns every known mirror sorted by identifier, optionally
// narrowed by a ?pattern= query such as "acme/*".
func (h *MirrorHandler) ListMirrors(c *gin.Context) {
	var pat *identifier.Pattern
	if raw := c.Query("pattern"); raw != "" {
		p, err := identifier.ParsePattern(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid pattern"})
			return
		}
		pat = &p
	}

	views := make([]mirrorView, 0)
	for _, rec := range h.registry.Snapshot() {
		if pat != nil && !pat.Match(rec.Identifier) {
			continue
		}
		views = append(views, newMirrorView(rec))
	}
	c.JSON(http.StatusOK, views)
}

// GetMirror returns the record for one mirror.
func (h *MirrorHandler) GetMirror(c *gin.Context) {
	id, err := identifier.Parse(c.Param("owner") + "/" + c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid mirror name"})
		return
	}

	rec, ok := h.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "mirror not found"})
		return
	}
	c.JSON(http.StatusOK, newMirrorView(rec))
}
