package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/oddlytics/oddlytics/internal/event"
	"github.com/oddlytics/oddlytics/internal/observability"
)

// ServiceName is reported by the health endpoints.
const ServiceName = "oddlytics-collector"

// defaultPlatform is stored when an event omits platform.
const defaultPlatform = "unknown"

// EventStore persists accepted events.
type EventStore interface {
	InsertEvents(ctx context.Context, events []event.Event, receivedAt time.Time) error
}

// EventPublisher forwards accepted events downstream.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []event.Event) (int, error)
}

// Deduplicator removes events already accepted within its window.
// FilterEvents must not record events; Commit records them once stored.
type Deduplicator interface {
	FilterEvents(ctx context.Context, events []event.Event) []event.Event
	Commit(events []event.Event)
}

// Handler serves the collector endpoints. The store is required; dedup,
// publisher and metrics may be nil.
type Handler struct {
	store     EventStore
	dedup     Deduplicator
	publisher EventPublisher
	metrics   *observability.Metrics
	version   string
	logger    *slog.Logger
	now       func() time.Time

	checks []readinessCheck
}

type readinessCheck struct {
	name string
	fn   func(context.Context) error
}

// NewHandler creates a collector handler.
func NewHandler(store EventStore, dedup Deduplicator, publisher EventPublisher, metrics *observability.Metrics, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics()
	}
	return &Handler{
		store:     store,
		dedup:     dedup,
		publisher: publisher,
		metrics:   metrics,
		version:   version,
		logger:    logger.With("component", "track-handler"),
		now:       time.Now,
	}
}

// AddCheck registers a dependency probed by /ready. Call before Routes.
func (h *Handler) AddCheck(name string, fn func(context.Context) error) {
	h.checks = append(h.checks, readinessCheck{name: name, fn: fn})
}

// Routes returns the full collector handler with middleware applied.
func (h *Handler) Routes(cfg Config) http.Handler {
	track := Chain(http.HandlerFunc(h.Track),
		APIKeyAuth(cfg.APIKey),
		PerKeyRateLimit(cfg.RateLimit),
		BodySizeLimit(cfg.MaxBodyBytes),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Health)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("POST /track", track)

	return Chain(mux,
		Recovery(h.logger),
		RequestID,
		Logging(h.logger),
		observability.HTTPMetrics(h.metrics),
		CORS(cfg.CORS),
		RateLimit(cfg.RateLimit),
		ContentType,
	)
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"version": h.version,
	})
}

// Ready reports 503 when any registered dependency check fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for _, c := range h.checks {
		if err := c.fn(ctx); err != nil {
			failed[c.name] = err.Error()
		}
	}

	if len(failed) > 0 {
		h.logger.Warn("readiness check failed", "failed", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// wireEvent is one event as clients send it. Only event, app_id and
// session_id are required.
type wireEvent struct {
	Event     string          `json:"event"`
	AppID     string          `json:"app_id"`
	Platform  string          `json:"platform"`
	Metadata  json.RawMessage `json:"metadata"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	DeviceID  string          `json:"device_id"`
	Timestamp float64         `json:"timestamp"`
}

// Track ingests a batch {"events":[...]} or a single event object.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			h.reject(ctx, w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge)
			return
		}
		h.reject(ctx, w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}

	events, err := h.parse(body)
	if err != nil {
		h.reject(ctx, w, http.StatusBadRequest, err)
		return
	}

	received := h.now()
	fresh := events
	if h.dedup != nil {
		fresh = h.dedup.FilterEvents(ctx, events)
	}

	if err := h.store.InsertEvents(ctx, fresh, received); err != nil {
		h.logger.Error("failed to store events",
			"count", len(fresh),
			"request_id", GetRequestID(ctx),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, ErrInternal)
		return
	}
	if h.dedup != nil {
		h.dedup.Commit(fresh)
	}
	h.metrics.EventsAccepted.Add(ctx, int64(len(fresh)))

	if h.publisher != nil && len(fresh) > 0 {
		n, err := h.publisher.PublishEvents(ctx, fresh)
		h.metrics.EventsForwarded.Add(ctx, int64(n))
		if err != nil {
			// Stored already; forwarding is best effort.
			h.logger.Warn("failed to forward events", "published", n, "total", len(fresh), "error", err)
		}
	}

	h.logger.Debug("batch accepted",
		"received", len(events),
		"stored", len(fresh),
		"request_id", GetRequestID(ctx),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(events),
	})
}

// parse decodes and validates the request body.
func (h *Handler) parse(body []byte) ([]event.Event, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, ErrInvalidJSON
	}

	items := []json.RawMessage{body}
	if raw, ok := probe["events"]; ok {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return nil, ErrEventsNotArray
		}
		items = nil
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, ErrEventsNotArray
		}
	}

	if len(items) == 0 {
		return nil, ErrNoEvents
	}
	if len(items) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	now := event.UnixSeconds(h.now())
	events := make([]event.Event, 0, len(items))
	for _, item := range items {
		var we wireEvent
		if err := json.Unmarshal(item, &we); err != nil {
			return nil, ErrInvalidEvent
		}
		ev, err := toEvent(we, now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// toEvent validates we and applies defaults.
func toEvent(we wireEvent, now float64) (event.Event, error) {
	switch {
	case strings.TrimSpace(we.Event) == "":
		return event.Event{}, ErrEventRequired
	case strings.TrimSpace(we.AppID) == "":
		return event.Event{}, ErrAppIDRequired
	case strings.TrimSpace(we.SessionID) == "":
		return event.Event{}, ErrSessionIDRequired
	case utf8.RuneCountInString(we.Event) > MaxFieldLength:
		return event.Event{}, ErrEventTooLong
	case utf8.RuneCountInString(we.AppID) > MaxFieldLength:
		return event.Event{}, ErrAppIDTooLong
	case utf8.RuneCountInString(we.SessionID) > MaxFieldLength:
		return event.Event{}, ErrSessionIDTooLong
	}

	metadata := map[string]string{}
	if raw := bytes.TrimSpace(we.Metadata); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return event.Event{}, ErrMetadataNotStrings
		}
		if compact.Len() > MaxMetadataSize {
			return event.Event{}, ErrMetadataTooLarge
		}
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return event.Event{}, ErrMetadataNotStrings
		}
	}

	platform := we.Platform
	if platform == "" {
		platform = defaultPlatform
	}
	ts := we.Timestamp
	if ts <= 0 {
		ts = now
	}

	return event.Event{
		Name:      we.Event,
		AppID:     we.AppID,
		Platform:  platform,
		Metadata:  metadata,
		SessionID: we.SessionID,
		UserID:    we.UserID,
		DeviceID:  we.DeviceID,
		Timestamp: ts,
	}, nil
}

func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, status int, err error) {
	h.metrics.EventsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("status", status),
	))
	h.logger.Debug("request rejected", "status", status, "error", err, "request_id", GetRequestID(ctx))
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
