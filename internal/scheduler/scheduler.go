// Package scheduler decides when a flush cycle runs.
//
// A single goroutine owns the periodic ticker, the batch-size signal and
// explicit flush requests, and runs every cycle inline. At most one cycle is
// therefore active at any instant; triggers that arrive while a cycle runs
// are coalesced by their buffered channels.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Flush once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerInterval  Trigger = "interval"
	TriggerBatchSize Trigger = "batch_size"
	TriggerManual    Trigger = "manual"
)

// CycleFunc runs one drain, send, classify sequence.
type CycleFunc func(ctx context.Context, trigger Trigger)

// Scheduler runs flush cycles one at a time.
type Scheduler struct {
	interval time.Duration
	full     <-chan struct{}
	cycle    CycleFunc
	logger   *slog.Logger

	requests chan chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a scheduler that runs cycle every interval and whenever full
// is signalled. Call Start to begin.
func New(interval time.Duration, full <-chan struct{}, cycle CycleFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		full:     full,
		cycle:    cycle,
		logger:   logger.With("component", "scheduler"),
		requests: make(chan chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the scheduling goroutine. Calling Start more than once has
// no further effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// In-flight deliveries are never canceled by Stop; the transport timeout
	// bounds them instead.
	ctx := context.Background()

	for {
		// Stop wins over any trigger that became ready at the same time.
		select {
		case <-s.stopCh:
			s.logger.Debug("scheduler stopped")
			return
		default:
		}

		select {
		case <-ticker.C:
			s.cycle(ctx, TriggerInterval)

		case <-s.full:
			s.cycle(ctx, TriggerBatchSize)

		case reply := <-s.requests:
			s.cycle(ctx, TriggerManual)
			close(reply)

		case <-s.stopCh:
			s.logger.Debug("scheduler stopped")
			return
		}
	}
}

// Flush asks the scheduling goroutine to run one cycle and waits for it to
// complete. If a cycle is already running, the requested one runs after it.
func (s *Scheduler) Flush(ctx context.Context) error {
	reply := make(chan struct{})

	select {
	case s.requests <- reply:
	case <-s.stopCh:
		return ErrStopped
	case <-s.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the ticker and prevents further cycles. A cycle already in
// progress is left to finish on its own; Stop does not wait for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Done is closed once the scheduling goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh
}
