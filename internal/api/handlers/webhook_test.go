package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/repligit/repligit/internal/worker"
)

type fakeSubmitter struct {
	requests []worker.Request
	accepted bool
	err      error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req worker.Request) (bool, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return false, f.err
	}
	return f.accepted, nil
}

// setupWebhookRouter creates a Gin engine with the webhook catch-all route.
func setupWebhookRouter(sub Submitter, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(sub, secret, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.POST("/*path", h.Receive)
	return r
}

func postJSON(router *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

func signSHA256(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func signSHA1(secret, body string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAcceptsDelivery(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	router := setupWebhookRouter(sub, "")

	body := `{"repository":{"full_name":"octocat/hello-world"},"deleted":false}`
	w := postJSON(router, "/hooks/github", body, nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("expected status=accepted, got %v", resp["status"])
	}
	if id, ok := resp["request_id"].(string); !ok || id == "" {
		t.Error("expected a request_id in the response")
	}

	if len(sub.requests) != 1 {
		t.Fatalf("expected 1 submitted request, got %d", len(sub.requests))
	}
	req := sub.requests[0]
	if req.Identifier.String() != "octocat/hello-world" {
		t.Errorf("submitted identifier = %q", req.Identifier)
	}
	if req.Cause != worker.CauseWebhook {
		t.Errorf("submitted cause = %q", req.Cause)
	}
	if req.Deleted {
		t.Error("deleted flag should be false")
	}
}

func TestWebhookDeletedFlag(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	router := setupWebhookRouter(sub, "")

	body := `{"repository":{"full_name":"octocat/gone"},"deleted":true}`
	w := postJSON(router, "/", body, nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(sub.requests) != 1 || !sub.requests[0].Deleted {
		t.Error("expected a submitted request with deleted=true")
	}
}

func TestWebhookRejectsWrongContentType(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	router := setupWebhookRouter(sub, "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/hooks/github", strings.NewReader("payload"))
	req.Header.Set("Content-Type", "text/plain")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
	if len(sub.requests) != 0 {
		t.Error("nothing should be submitted for a rejected delivery")
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	router := setupWebhookRouter(sub, "")

	w := postJSON(router, "/", strings.Repeat("x", maxPayloadBytes+1), nil)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if len(sub.requests) != 0 {
		t.Error("nothing should be submitted for an oversized delivery")
	}
}

func TestWebhookRequiresSignature(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	router := setupWebhookRouter(sub, "hunter2")

	body := `{"repository":{"full_name":"octocat/hello-world"},"deleted":false}`

	w := postJSON(router, "/", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned delivery: expected 401, got %d", w.Code)
	}

	w = postJSON(router, "/", body, map[string]string{
		"X-Hub-Signature-256": signSHA256("wrong-secret", body),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", w.Code)
	}

	if len(sub.requests) != 0 {
		t.Error("nothing should be submitted for unauthenticated deliveries")
	}
}

func TestWebhookSignatureSchemes(t *testing.T) {
	body := `{"repository":{"full_name":"octocat/hello-world"},"deleted":false}`
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"sha256", map[string]string{"X-Hub-Signature-256": signSHA256("hunter2", body)}},
		{"sha1 legacy", map[string]string{"X-Hub-Signature": signSHA1("hunter2", body)}},
		{"token", map[string]string{"X-Webhook-Token": "hunter2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{accepted: true}
			router := setupWebhookRouter(sub, "hunter2")

			w := postJSON(router, "/", body, tt.headers)
			if w.Code != http.StatusAccepted {
				t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
			}
			if len(sub.requests) != 1 {
				t.Errorf("expected 1 submitted request, got %d", len(sub.requests))
			}
		})
	}
}

func TestWebhookPing(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	router := setupWebhookRouter(sub, "hunter2")

	// Ping payloads carry no repository data; the event must short-circuit
	// before field validation.
	body := `{"zen":"Keep it logically awesome."}`
	w := postJSON(router, "/", body, map[string]string{
		"X-Hub-Signature-256": signSHA256("hunter2", body),
		"X-GitHub-Event":      "ping",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "pong" {
		t.Errorf("expected body %q, got %q", "pong", w.Body.String())
	}
	if len(sub.requests) != 0 {
		t.Error("ping must never reach the work queue")
	}
}

func TestWebhookRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json at all`},
		{"missing repository", `{"deleted":false}`},
		{"missing deleted", `{"repository":{"full_name":"octocat/hello-world"}}`},
		{"extra path segment", `{"repository":{"full_name":"a/b/c"},"deleted":false}`},
		{"traversal", `{"repository":{"full_name":"../../etc/passwd"},"deleted":false}`},
		{"leading dash", `{"repository":{"full_name":"octocat/-x"},"deleted":false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{accepted: true}
			router := setupWebhookRouter(sub, "")

			w := postJSON(router, "/", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if len(sub.requests) != 0 {
				t.Error("nothing should be submitted for a malformed payload")
			}
		})
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	sub := &fakeSubmitter{accepted: false}
	router := setupWebhookRouter(sub, "")

	body := `{"repository":{"full_name":"octocat/hello-world"},"deleted":false}`
	w := postJSON(router, "/", body, nil)

	// The work is already pending; the sender must not retry.
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "duplicate" {
		t.Errorf("expected status=duplicate, got %v", resp["status"])
	}
}

func TestWebhookQueueFull(t *testing.T) {
	sub := &fakeSubmitter{err: context.DeadlineExceeded}
	router := setupWebhookRouter(sub, "")

	body := `{"repository":{"full_name":"octocat/hello-world"},"deleted":false}`
	w := postJSON(router, "/", body, nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}
