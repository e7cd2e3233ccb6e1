// Package queue provides the in-memory batching queue for pending events.
//
// The queue state is owned by a single goroutine. Producers and the flush
// scheduler reach it only through the mailbox channel, so Enqueue, Drain and
// Requeue never interleave and an event can never land in two batches.
package queue

import (
	"sync"

	"github.com/oddlytics/oddlytics/internal/event"
)

// DefaultCapacity is the ceiling enforced when failed events are requeued.
const DefaultCapacity = 1000

// mailboxSize bounds the number of pending operations. The owner goroutine
// only touches memory, so a full mailbox clears in microseconds.
const mailboxSize = 1024

// op is a unit of work executed by the owner goroutine.
type op func(s *state)

// state is only ever touched by the owner goroutine.
type state struct {
	events []event.Event
}

// Queue is a FIFO buffer of events with atomic drain and front-requeue.
type Queue struct {
	batchSize int
	capacity  int

	mailbox chan op
	full    chan struct{} // threshold signal, buffered 1 so triggers coalesce
	quit    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

// New starts a queue whose threshold signal fires once len >= batchSize.
// capacity applies to Requeue only; zero means DefaultCapacity.
func New(batchSize, capacity int) *Queue {
	if batchSize < 1 {
		batchSize = 1
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	q := &Queue{
		batchSize: batchSize,
		capacity:  capacity,
		mailbox:   make(chan op, mailboxSize),
		full:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

// run is the owner goroutine.
func (q *Queue) run() {
	defer close(q.done)

	s := &state{}
	for {
		select {
		case fn := <-q.mailbox:
			fn(s)
		case <-q.quit:
			return
		}
	}
}

// submit hands fn to the owner goroutine. It reports false once the queue
// has been closed.
func (q *Queue) submit(fn op) bool {
	select {
	case <-q.quit:
		return false
	default:
	}

	select {
	case q.mailbox <- fn:
		return true
	case <-q.quit:
		return false
	}
}

// Full returns the channel signalled when the queue reaches batch size.
func (q *Queue) Full() <-chan struct{} {
	return q.full
}

// Capacity returns the requeue ceiling.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Enqueue appends e to the tail. It does not wait for the append to be
// applied and never fails; events submitted after Close are discarded.
// Enqueue does not enforce capacity.
func (q *Queue) Enqueue(e event.Event) {
	q.submit(func(s *state) {
		s.events = append(s.events, e)
		if len(s.events) >= q.batchSize {
			select {
			case q.full <- struct{}{}:
			default:
				// Flush already signalled
			}
		}
	})
}

// Drain removes and returns the entire contents in enqueue order.
// It returns nil when the queue is empty or closed.
func (q *Queue) Drain() []event.Event {
	reply := make(chan []event.Event, 1)
	if !q.submit(func(s *state) {
		if len(s.events) == 0 {
			reply <- nil
			return
		}
		reply <- s.events
		s.events = nil
	}) {
		return nil
	}
	return q.await(reply)
}

// Requeue reinserts events at the front, ahead of anything enqueued since
// they were drained, then truncates the tail down to capacity. It returns
// the number of events discarded by the truncation.
func (q *Queue) Requeue(events []event.Event) int {
	if len(events) == 0 {
		return 0
	}

	reply := make(chan int, 1)
	if !q.submit(func(s *state) {
		merged := make([]event.Event, 0, len(events)+len(s.events))
		merged = append(merged, events...)
		merged = append(merged, s.events...)

		dropped := 0
		if len(merged) > q.capacity {
			dropped = len(merged) - q.capacity
			clear(merged[q.capacity:])
			merged = merged[:q.capacity]
		}
		s.events = merged
		reply <- dropped
	}) {
		return len(events)
	}
	return q.awaitInt(reply, len(events))
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	reply := make(chan int, 1)
	if !q.submit(func(s *state) {
		reply <- len(s.events)
	}) {
		return 0
	}
	return q.awaitInt(reply, 0)
}

// Close stops the owner goroutine and waits for it to exit. Pending events
// are discarded. Close is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.quit)
	})
	<-q.done
}

// await waits for a reply, giving up if the queue closes before the
// operation ran.
func (q *Queue) await(reply <-chan []event.Event) []event.Event {
	select {
	case events := <-reply:
		return events
	case <-q.done:
		select {
		case events := <-reply:
			return events
		default:
			return nil
		}
	}
}

func (q *Queue) awaitInt(reply <-chan int, fallback int) int {
	select {
	case n := <-reply:
		return n
	case <-q.done:
		select {
		case n := <-reply:
			return n
		default:
			return fallback
		}
	}
}
