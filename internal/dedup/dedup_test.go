package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oddlytics/oddlytics/internal/event"
	"github.com/oddlytics/oddlytics/internal/observability"
)

func newTestFilter(window time.Duration) *Filter {
	return New(Config{Window: window, Capacity: 10000, FPRate: 0.0001}, observability.NoopMetrics(), nil)
}

func testEvent(name string) event.Event {
	return event.Event{Name: name, AppID: "app", SessionID: "s", Timestamp: 1700000000}
}

func TestContains_EmptyKey(t *testing.T) {
	f := newTestFilter(10 * time.Minute)

	if f.Contains("") {
		t.Error("empty key should never be contained")
	}
}

func TestCommit_RecordsEvents(t *testing.T) {
	f := newTestFilter(10 * time.Minute)
	ev := testEvent("k")

	if f.Contains(Key(ev)) {
		t.Error("event contained before commit")
	}
	f.Commit([]event.Event{ev})
	if !f.Contains(Key(ev)) {
		t.Error("committed event not contained")
	}
}

func TestRotate_SlidingWindow(t *testing.T) {
	f := newTestFilter(10 * time.Minute)
	ev := testEvent("k")
	f.Commit([]event.Event{ev})

	// One rotation: the key moves to previous and is still seen.
	f.Rotate()
	if !f.Contains(Key(ev)) {
		t.Error("key should survive one rotation")
	}

	f.Rotate()
	if f.Contains(Key(ev)) {
		t.Error("key should expire after two rotations")
	}
}

func TestCommit_Concurrent(t *testing.T) {
	f := newTestFilter(10 * time.Minute)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := testEvent(fmt.Sprintf("e%d", i))
			f.Commit([]event.Event{ev})
			if !f.Contains(Key(ev)) {
				t.Errorf("event %d not contained after commit", i)
			}
		}()
	}
	wg.Wait()
}

func TestKey(t *testing.T) {
	base := event.Event{Name: "open", AppID: "app", UserID: "u", SessionID: "s", Timestamp: 1700000000.25}

	other := base
	other.Timestamp = 1700000000.5

	if Key(base) != Key(base) {
		t.Error("key must be deterministic")
	}
	if Key(base) == Key(other) {
		t.Error("different timestamps must produce different keys")
	}

	// Field boundaries must not collide.
	a := event.Event{Name: "b", AppID: "a"}
	b := event.Event{Name: "", AppID: "ab"}
	if Key(a) == Key(b) {
		t.Error("keys collide across field boundaries")
	}
}

func TestFilterEvents(t *testing.T) {
	f := newTestFilter(10 * time.Minute)

	batch := make([]event.Event, 3)
	for i := range batch {
		batch[i] = event.Event{Name: fmt.Sprintf("e%d", i), AppID: "app", SessionID: "s", Timestamp: float64(i)}
	}

	kept := f.FilterEvents(context.Background(), batch)
	if len(kept) != 3 {
		t.Fatalf("first delivery: kept %d, want 3", len(kept))
	}
	f.Commit(kept)

	// A retry of the same batch plus one new event.
	retry := append(batch, event.Event{Name: "e3", AppID: "app", SessionID: "s", Timestamp: 3})
	kept = f.FilterEvents(context.Background(), retry)
	if len(kept) != 1 || kept[0].Name != "e3" {
		t.Errorf("retry: kept %v, want only e3", kept)
	}
}

func TestFilterEvents_UncommittedNotRecorded(t *testing.T) {
	f := newTestFilter(10 * time.Minute)
	batch := []event.Event{testEvent("a"), testEvent("b")}

	// A failed write never reaches Commit, so the retry must pass again.
	for i := range 2 {
		if kept := f.FilterEvents(context.Background(), batch); len(kept) != 2 {
			t.Fatalf("attempt %d: kept %d, want 2", i, len(kept))
		}
	}
}

func TestFilterEvents_RepeatWithinBatch(t *testing.T) {
	f := newTestFilter(10 * time.Minute)
	ev := testEvent("a")

	kept := f.FilterEvents(context.Background(), []event.Event{ev, testEvent("b"), ev})
	if len(kept) != 2 || kept[0].Name != "a" || kept[1].Name != "b" {
		t.Errorf("kept %v, want [a b]", kept)
	}
}

func TestStartStop(t *testing.T) {
	f := newTestFilter(20 * time.Millisecond)
	ev := testEvent("k")
	f.Commit([]event.Event{ev})

	f.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	f.Stop()
	f.Stop()

	if f.Contains(Key(ev)) {
		t.Error("key should have expired after several rotations")
	}
}

func TestStart_ContextCancel(t *testing.T) {
	f := newTestFilter(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	f.Start(ctx)
	cancel()

	select {
	case <-f.doneCh:
	case <-time.After(time.Second):
		t.Fatal("rotation goroutine did not exit on cancel")
	}
}
