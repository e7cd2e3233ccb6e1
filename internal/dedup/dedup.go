// Package dedup drops events the collector has already accepted within a
// sliding window. A retried batch whose first delivery actually reached the
// collector is stored only once.
package dedup

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/oddlytics/oddlytics/internal/event"
	"github.com/oddlytics/oddlytics/internal/observability"
)

// Config holds the dedup configuration.
//
// Environment variable overrides:
//   - DEDUP_ENABLED:  turn deduplication on or off (default: true)
//   - DEDUP_WINDOW:   sliding window duration (default: 10m)
//   - DEDUP_CAPACITY: expected events per window (default: 1000000)
//   - DEDUP_FP_RATE:  bloom filter false positive rate (default: 0.0001)
type Config struct {
	Enabled  bool          `env:"DEDUP_ENABLED"  envDefault:"true"`
	Window   time.Duration `env:"DEDUP_WINDOW"   envDefault:"10m"`
	Capacity uint          `env:"DEDUP_CAPACITY" envDefault:"1000000"`
	FPRate   float64       `env:"DEDUP_FP_RATE"  envDefault:"0.0001"`
}

// DefaultConfig returns a 10 minute window sized for 1M events at a 0.01%
// false positive rate.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Window:   10 * time.Minute,
		Capacity: 1_000_000,
		FPRate:   0.0001,
	}
}

// Key identifies an event for deduplication. Events carry no client ID, so
// the key is built from the fields a retry reproduces exactly.
func Key(ev event.Event) string {
	var b strings.Builder
	b.WriteString(ev.AppID)
	b.WriteByte(0)
	b.WriteString(ev.UserID)
	b.WriteByte(0)
	b.WriteString(ev.SessionID)
	b.WriteByte(0)
	b.WriteString(ev.Name)
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(ev.Timestamp, 'f', -1, 64))
	return b.String()
}

// Filter is a sliding window bloom filter. Keys are added to the current
// filter and looked up in both current and previous; every window/2 the
// current filter becomes previous and a fresh one takes its place.
//
// Filter is safe for concurrent use.
type Filter struct {
	mu       sync.RWMutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter

	window   time.Duration
	capacity uint
	fpRate   float64

	metrics *observability.Metrics
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Filter. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = DefaultConfig().FPRate
	}

	return &Filter{
		current:  bloom.NewWithEstimates(cfg.Capacity, cfg.FPRate),
		previous: bloom.NewWithEstimates(cfg.Capacity, cfg.FPRate),
		window:   cfg.Window,
		capacity: cfg.Capacity,
		fpRate:   cfg.FPRate,
		metrics:  metrics,
		logger:   logger.With("component", "dedup"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Contains reports whether key was recorded within the window. Empty keys
// are never contained.
func (f *Filter) Contains(key string) bool {
	if key == "" {
		return false
	}
	data := []byte(key)

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current.Test(data) || f.previous.Test(data)
}

// FilterEvents returns the events not recorded before, in their original
// order, also dropping repeats within events. It does not record anything;
// call Commit once the kept events are stored so a failed write can be
// retried.
func (f *Filter) FilterEvents(ctx context.Context, events []event.Event) []event.Event {
	if len(events) == 0 {
		return events
	}

	kept := make([]event.Event, 0, len(events))
	batch := make(map[string]struct{}, len(events))
	for _, ev := range events {
		key := Key(ev)
		_, repeated := batch[key]
		if repeated || f.Contains(key) {
			if f.metrics != nil {
				f.metrics.DedupDropped.Add(ctx, 1)
			}
			f.logger.Debug("duplicate event dropped", "app_id", ev.AppID, "event", ev.Name)
			continue
		}
		batch[key] = struct{}{}
		kept = append(kept, ev)
	}
	return kept
}

// Commit records events as seen.
func (f *Filter) Commit(events []event.Event) {
	if len(events) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		f.current.Add([]byte(Key(ev)))
	}
}

// Rotate moves current to previous and starts a fresh current filter.
func (f *Filter) Rotate() {
	f.mu.Lock()
	f.previous = f.current
	f.current = bloom.NewWithEstimates(f.capacity, f.fpRate)
	f.mu.Unlock()
}

// Start launches the rotation goroutine, which runs until ctx is cancelled
// or Stop is called.
func (f *Filter) Start(ctx context.Context) {
	interval := f.window / 2
	f.logger.Info("dedup started", "window", f.window, "rotate_interval", interval)

	go func() {
		defer close(f.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.Rotate()
				f.logger.Debug("bloom filter rotated")
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			}
		}
	}()
}

// Stop ends the rotation goroutine and waits for it. Start must have been
// called.
func (f *Filter) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.doneCh
}
