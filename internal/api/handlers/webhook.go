package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/worker"
)

// maxPayloadBytes caps webhook bodies at GitHub's documented payload limit.
const maxPayloadBytes = 25 << 20

// Submitter places sync requests on the work queue.
type Submitter interface {
	Submit(ctx context.Context, req worker.Request) (bool, error)
}

type webhookPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Deleted *bool `json:"deleted"`
}

// WebhookHandler turns GitHub webhook deliveries into sync requests.
type WebhookHandler struct {
	pool   Submitter
	secret string
	logger *slog.Logger
}

func NewWebhookHandler(pool Submitter, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{pool: pool, secret: secret, logger: logger}
}

// Receive handles one webhook delivery. Validation is ordered so that
// nothing from an unauthenticated payload is acted on: content type, then
// signature over the raw body, then payload fields. The delivery is
// acknowledged as soon as the request is enqueued; the sync itself runs
// asynchronously. A duplicate request for a mirror that already has work
// pending is acknowledged too, so the sender does not retry it.
func (h *WebhookHandler) Receive(c *gin.Context) {
	mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil || mediaType != "application/json" {
		c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{Error: "payload must be application/json"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read payload"})
		return
	}

	if !h.authenticate(c, body) {
		c.Header("WWW-Authenticate", "X-Hub-Signature-256 sha256")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "valid signature required"})
		return
	}

	if c.GetHeader("X-GitHub-Event") == "ping" {
		c.String(http.StatusOK, "pong")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed JSON payload"})
		return
	}
	if payload.Repository.FullName == "" || payload.Deleted == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payload must include repository.full_name and deleted"})
		return
	}

	// The grammar check keeps a validly signed but malformed name from
	// addressing arbitrary filesystem paths.
	id, err := identifier.Parse(payload.Repository.FullName)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid repository name"})
		return
	}

	req := worker.NewRequest(id, worker.CauseWebhook, *payload.Deleted)
	accepted, err := h.pool.Submit(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("webhook delivery rejected", "mirror", id.String(), "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "work queue is full"})
		return
	}

	status := "accepted"
	if !accepted {
		status = "duplicate"
	}
	c.JSON(http.StatusAccepted, gin.H{
		"request_id": req.ID.String(),
		"mirror":     id.String(),
		"status":     status,
	})
}

// authenticate verifies the delivery against the configured secret. GitHub
// signs the raw body with HMAC; X-Hub-Signature-256 is preferred and the
// legacy sha1 header accepted. X-Webhook-Token carries the secret directly
// for senders that cannot sign. All comparisons are constant time.
func (h *WebhookHandler) authenticate(c *gin.Context, body []byte) bool {
	if h.secret == "" {
		return true
	}

	if sig := c.GetHeader("X-Hub-Signature-256"); sig != "" {
		mac := hmac.New(sha256.New, []byte(h.secret))
		mac.Write(body)
		want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(want), []byte(sig))
	}
	if sig := c.GetHeader("X-Hub-Signature"); sig != "" {
		mac := hmac.New(sha1.New, []byte(h.secret))
		mac.Write(body)
		want := "sha1=" + hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(want), []byte(sig))
	}
	if token := c.GetHeader("X-Webhook-Token"); token != "" {
		return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
	}
	return false
}
