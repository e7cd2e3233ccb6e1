// Package oddlytics is a telemetry client. Application code calls Track from
// any goroutine; events are batched in memory and delivered to a collection
// endpoint in the background without ever blocking the caller.
//
// A batch is sent when the queue reaches Config.BatchSize, every
// Config.BatchInterval, or when Flush is called. At most one delivery runs at
// a time. Batches rejected with a 4xx status (other than 429) are dropped;
// 429, 5xx and network failures put the batch back at the front of the queue
// for the next attempt.
package oddlytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/oddlytics/oddlytics/identity"
	"github.com/oddlytics/oddlytics/internal/delivery"
	"github.com/oddlytics/oddlytics/internal/event"
	"github.com/oddlytics/oddlytics/internal/observability"
	"github.com/oddlytics/oddlytics/internal/queue"
	"github.com/oddlytics/oddlytics/internal/scheduler"
)

// Version is the client version reported in the User-Agent header.
const Version = "0.3.0"

// Engine batches and delivers events. Create one with Configure and share
// it; all methods are safe for concurrent use. A nil *Engine is valid and
// logs a warning on every call instead of tracking.
type Engine struct {
	config   Config
	identity IdentityProvider
	clock    func() time.Time
	logger   *slog.Logger
	metrics  *observability.Metrics

	queue     *queue.Queue
	transport *delivery.Transport
	scheduler *scheduler.Scheduler

	sessionID atomic.Pointer[string]
	closed    atomic.Bool
	closeOnce sync.Once
}

// Configure validates cfg, applies defaults and starts the background
// scheduler. It returns a *ConfigurationError for an invalid endpoint or a
// missing API key or app ID.
func Configure(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = defaultLogger(cfg.Debug)
	}
	logger = logger.With("component", "oddlytics")

	metrics := observability.NoopMetrics()
	if o.meter != nil {
		m, err := observability.NewMetrics(o.meter)
		if err != nil {
			return nil, fmt.Errorf("oddlytics: create metrics: %w", err)
		}
		metrics = m
	}

	transportOpts := []delivery.Option{
		delivery.WithUserAgent("oddlytics-go/" + Version),
	}
	if o.httpClient != nil {
		transportOpts = append(transportOpts, delivery.WithHTTPClient(o.httpClient))
	}
	transport, err := delivery.NewTransport(cfg.Endpoint, cfg.APIKey, cfg.Timeout, transportOpts...)
	if err != nil {
		return nil, &ConfigurationError{Field: "endpoint", Err: err}
	}

	ident := o.identity
	if ident == nil {
		ident = identity.NewEphemeral()
	}

	clock := o.clock
	if clock == nil {
		clock = time.Now
	}

	e := &Engine{
		config:    cfg,
		identity:  ident,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		transport: transport,
		queue:     queue.New(cfg.BatchSize, cfg.MaxQueueSize),
	}
	e.setSession(uuid.New().String())

	e.scheduler = scheduler.New(cfg.BatchInterval, e.queue.Full(), e.cycle, logger)
	e.scheduler.Start()

	logger.Debug("configured",
		"endpoint", transport.URL(),
		"app_id", cfg.AppID,
		"batch_size", cfg.BatchSize,
		"batch_interval", cfg.BatchInterval,
		"session_id", e.SessionID(),
		"user_id", ident.StableUserID(),
	)

	return e, nil
}

// defaultLogger mirrors the debug switch: verbose when debugging, warnings
// only otherwise.
func defaultLogger(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Track records an event. It returns immediately; delivery happens in the
// background and its outcome is never reported to the caller.
func (e *Engine) Track(name string, metadata map[string]string) {
	if e == nil {
		slog.Warn("oddlytics: Track called before Configure, event discarded", "event", name)
		return
	}
	if e.closed.Load() {
		e.logger.Debug("engine closed, event discarded", "event", name)
		return
	}

	ev := event.New(name, metadata, event.Attributes{
		AppID:     e.config.AppID,
		Platform:  e.config.Platform,
		SessionID: e.SessionID(),
		UserID:    e.identity.StableUserID(),
		DeviceID:  e.identity.DeviceID(),
	}, e.clock())

	e.queue.Enqueue(ev)
	e.metrics.EventsTracked.Add(context.Background(), 1)

	e.logger.Debug("enqueued event", "event", name)
}

// Flush runs one flush cycle and waits for it to finish. If a cycle is
// already running, Flush waits for it and then runs its own. The returned
// error reports only ctx expiry or a closed engine, never the delivery
// outcome.
func (e *Engine) Flush(ctx context.Context) error {
	if e == nil {
		slog.Warn("oddlytics: Flush called before Configure")
		return nil
	}
	if e.closed.Load() {
		return ErrClosed
	}

	if err := e.scheduler.Flush(ctx); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// ResetSession starts a new session. Events already queued keep the session
// ID they were created with.
func (e *Engine) ResetSession() {
	if e == nil {
		slog.Warn("oddlytics: ResetSession called before Configure")
		return
	}
	id := uuid.New().String()
	e.setSession(id)
	e.logger.Debug("new session", "session_id", id)
}

// SessionID returns the current session identifier.
func (e *Engine) SessionID() string {
	if e == nil {
		return ""
	}
	return *e.sessionID.Load()
}

func (e *Engine) setSession(id string) {
	e.sessionID.Store(&id)
}

// Close stops the scheduler. Queued events are not flushed; call Flush
// first to send them. A delivery already in flight is left to finish on its
// own. Close is safe to call more than once.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.scheduler.Stop()

		// The queue outlives the scheduler so an in-flight cycle can still
		// requeue on its way out.
		go func() {
			<-e.scheduler.Done()
			e.queue.Close()
		}()

		e.logger.Debug("closed")
	})
	return nil
}

// Shutdown flushes pending events, closes the engine and waits for the
// scheduler to exit or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}

	flushErr := e.Flush(ctx)
	if errors.Is(flushErr, ErrClosed) {
		flushErr = nil
	}
	_ = e.Close()

	select {
	case <-e.scheduler.Done():
		return flushErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycle is one drain, send, classify pass. It only ever runs on the
// scheduler goroutine.
func (e *Engine) cycle(ctx context.Context, trigger scheduler.Trigger) {
	events := e.queue.Drain()
	if len(events) == 0 {
		return
	}

	out := e.transport.Send(ctx, events)
	disposition, reason := delivery.Classify(out)

	count := int64(len(events))
	e.metrics.BatchSize.Record(ctx, count)
	e.metrics.BatchesSent.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("disposition", disposition.String()),
		attribute.String("trigger", string(trigger)),
	))
	if out.Duration > 0 {
		e.metrics.DeliveryDuration.Record(ctx, float64(out.Duration.Milliseconds()))
	}

	logger := e.logger.With(
		"trigger", trigger,
		"events", len(events),
		"outcome", out.Kind,
	)

	switch disposition {
	case delivery.Accepted:
		logger.Debug("batch delivered", "status", out.StatusCode)

	case delivery.Dropped:
		e.metrics.EventsDropped.Add(ctx, count, otelmetric.WithAttributes(
			attribute.String("reason", string(reason)),
		))
		logger.Debug("batch dropped",
			"reason", reason,
			"status", out.StatusCode,
			"body", out.Body,
			"error", out.Err,
		)

	case delivery.Retryable:
		dropped := e.queue.Requeue(events)
		e.metrics.EventsRequeued.Add(ctx, count-int64(dropped))
		logger.Debug("batch requeued",
			"status", out.StatusCode,
			"body", out.Body,
			"error", out.Err,
		)
		if dropped > 0 {
			e.metrics.EventsDropped.Add(ctx, int64(dropped), otelmetric.WithAttributes(
				attribute.String("reason", "queue_overflow"),
			))
			logger.Warn("queue over capacity, newest events discarded",
				"dropped", dropped,
				"capacity", e.queue.Capacity(),
			)
		}
	}
}
