// Package webhook is the HTTP ingress for GitHub-style webhook
// deliveries: signature verification, duplicate suppression, and handoff
// to the event queue.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hookflow/hookflow/dedup"
	"github.com/hookflow/hookflow/metrics"
	"github.com/hookflow/hookflow/queue"
)

// signaturePrefix is the scheme tag GitHub puts in front of the hex
// digest.
const signaturePrefix = "sha256="

// maxBodyBytes bounds how much of a delivery we are willing to read.
const maxBodyBytes = 10 << 20

// healthThreshold is the queue fill ratio at which health flips to
// unhealthy.
const healthThreshold = 0.9

// Handler serves the webhook ingress endpoints.
type Handler struct {
	secret  []byte
	queue   *queue.Queue
	dedup   dedup.Checker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an ingress handler. An empty secret disables signature
// verification; deliveries are accepted unsigned.
func New(secret string, q *queue.Queue, d dedup.Checker, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Handler{
		secret:  []byte(secret),
		queue:   q,
		dedup:   d,
		metrics: m,
		logger:  logger,
	}
}

// Router returns the chi router for the ingress endpoints.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/webhook", h.handleDelivery)
	r.Get("/webhook/stats", h.handleStats)
	r.Get("/webhook/health", h.handleHealth)
	return r
}

// handleDelivery implements the ingress pipeline: header checks,
// signature verification, dedup probe, enqueue.
func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if event == "" || deliveryID == "" {
		h.metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "missing X-GitHub-Event or X-GitHub-Delivery header",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.WebhooksReceived.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       "failed to read request body",
			"delivery_id": deliveryID,
		})
		return
	}

	if !h.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("webhook signature rejected", "delivery", deliveryID, "event", event)
		h.metrics.WebhooksReceived.WithLabelValues("unauthorized").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":       "invalid signature",
			"delivery_id": deliveryID,
		})
		return
	}

	if len(body) > 0 && !json.Valid(body) {
		h.metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       "payload is not valid JSON",
			"delivery_id": deliveryID,
		})
		return
	}

	dup, err := h.dedup.IsDuplicate(r.Context(), body, deliveryID)
	if err != nil {
		h.logger.Error("dedup probe failed", "delivery", deliveryID, "error", err)
		h.metrics.WebhooksReceived.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       "deduplication check failed",
			"delivery_id": deliveryID,
		})
		return
	}
	if dup {
		h.logger.Info("duplicate delivery suppressed", "delivery", deliveryID, "event", event)
		h.metrics.DedupHits.Inc()
		h.metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Duplicate delivery ignored",
			"delivery_id": deliveryID,
		})
		return
	}

	headers := map[string]string{
		"X-GitHub-Event":    event,
		"X-GitHub-Delivery": deliveryID,
	}
	if _, err := h.queue.Enqueue(event, body, headers, deliveryID, -1); err != nil {
		status := http.StatusInternalServerError
		msg := "failed to enqueue event"
		if errors.Is(err, queue.ErrQueueFull) {
			msg = "event queue is full"
		}
		h.logger.Error("enqueue failed", "delivery", deliveryID, "event", event, "error", err)
		h.metrics.WebhooksReceived.WithLabelValues("error").Inc()
		writeJSON(w, status, map[string]any{
			"error":       msg,
			"delivery_id": deliveryID,
		})
		return
	}

	stats := h.queue.Stats()
	h.metrics.EventsEnqueued.Inc()
	h.metrics.QueueDepth.Set(float64(stats.Size))
	h.metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
	h.logger.Info("webhook accepted", "delivery", deliveryID, "event", event, "queue_size", stats.Size)

	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Event accepted",
		"delivery_id": deliveryID,
		"event":       event,
		"queue_size":  stats.Size,
	})
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// body using constant-time comparison. With no secret configured every
// delivery passes.
func (h *Handler) VerifySignature(body []byte, header string) bool {
	if len(h.secret) == 0 {
		return true
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	supplied, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(supplied, mac.Sum(nil))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	dedupStats, err := h.dedup.Stats(r.Context())
	if err != nil {
		h.logger.Error("dedup stats failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "failed to collect deduplication stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue":         h.queue.Stats(),
		"deduplication": dedupStats,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := h.queue.Stats()
	fill := float64(stats.Size) / float64(stats.MaxSize)

	status := "healthy"
	code := http.StatusOK
	if fill >= healthThreshold {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"queue_size": stats.Size,
		"capacity":   stats.MaxSize,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
