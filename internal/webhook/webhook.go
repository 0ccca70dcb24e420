// Package webhook lets external automation (CI, issue trackers) resolve or
// reopen threads over authenticated HTTP.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/h1v3-io/threadkeeper/internal/thread"
)

// Config holds webhook endpoint configuration.
type Config struct {
	// Endpoints maps endpoint names to their credentials.
	// e.g., {"github": {Secret: "whsec_abc123"}, "ci": {BearerToken: "xyz"}}
	Endpoints map[string]EndpointConfig
}

// EndpointConfig holds per-endpoint credentials. One of the two must be set.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256 header).
	Secret string
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string
}

// Payload is the expected JSON body.
type Payload struct {
	ThreadID string `json:"thread_id"`
	// Status is "resolved"/"locked" or "pending"/"unlocked".
	Status string `json:"status"`
}

// StatusSetter applies a status to a thread.
type StatusSetter interface {
	SetStatus(ctx context.Context, threadID string, st thread.Status) error
}

// Handler serves POST /api/webhook/{name}.
type Handler struct {
	config Config
	setter StatusSetter
	logger *slog.Logger
}

// New creates a new webhook handler.
func New(cfg Config, setter StatusSetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config: cfg,
		setter: setter,
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := r.PathValue("name")
	if name == "" {
		name = extractName(r.URL.Path)
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing endpoint name in path")
		return
	}

	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown webhook endpoint: %s", name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !authenticate(r, endpoint, body) {
		h.logger.Warn("webhook rejected", "endpoint", name, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	st, ok := thread.ParseStatus(payload.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", payload.Status))
		return
	}

	logger := h.logger.With("endpoint", name, "thread_id", payload.ThreadID, "status", st.String())
	if err := h.setter.SetStatus(r.Context(), payload.ThreadID, st); err != nil {
		switch {
		case errors.Is(err, thread.ErrNotThread):
			writeError(w, http.StatusUnprocessableEntity, "channel is not a thread")
		case thread.IsPermissionDenied(err):
			logger.Warn("webhook status change denied", "error", err)
			writeError(w, http.StatusForbidden, "missing permission to edit thread")
		default:
			logger.Error("webhook status change failed", "error", err)
			writeError(w, http.StatusBadGateway, thread.Describe(err))
		}
		return
	}

	logger.Info("webhook status change applied")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": st.String()})
}

func authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}
	if endpoint.BearerToken != "" {
		return verifyBearer(r.Header.Get("Authorization"), endpoint.BearerToken)
	}
	return false
}

// verifyBearer compares an Authorization header against the expected token
// in constant time.
func verifyBearer(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// verifyHMAC checks an HMAC-SHA256 signature of the form "sha256=<hex>".
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	expectedMAC, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractName gets the last path segment from /api/webhook/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "webhook" {
		return ""
	}
	return path
}

// ComputeSignature generates the X-Hub-Signature-256 value for body.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
