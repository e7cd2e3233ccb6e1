package oddlytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oddlytics/oddlytics/identity"
	"github.com/oddlytics/oddlytics/internal/event"
)

// collector is a fake collection endpoint that records every batch.
type collector struct {
	mu      sync.Mutex
	batches [][]event.Event
	headers []http.Header
	status  func(n int) int // status for the nth request (0-based)
	got     chan struct{}
}

func newCollector(t *testing.T, status func(n int) int) (*collector, *httptest.Server) {
	t.Helper()
	c := &collector{status: status, got: make(chan struct{}, 100)}
	if c.status == nil {
		c.status = func(int) int { return http.StatusOK }
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch event.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		c.mu.Lock()
		n := len(c.batches)
		c.batches = append(c.batches, batch.Events)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()

		w.WriteHeader(c.status(n))
		select {
		case c.got <- struct{}{}:
		default:
		}
	}))
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *collector) requests() [][]event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]event.Event, len(c.batches))
	copy(out, c.batches)
	return out
}

func (c *collector) header(i int) http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[i]
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
	}
}

func names(events []event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, srv *httptest.Server, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := Config{
		Endpoint:      srv.URL,
		APIKey:        "test-key",
		AppID:         "app-1",
		BatchSize:     100,
		BatchInterval: time.Hour,
		Timeout:       time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	e, err := Configure(cfg, opts...)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func flush(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestConfigure_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"missing endpoint", Config{APIKey: "k", AppID: "a"}, "endpoint"},
		{"relative endpoint", Config{Endpoint: "/track", APIKey: "k", AppID: "a"}, "endpoint"},
		{"bad scheme", Config{Endpoint: "ftp://example.com", APIKey: "k", AppID: "a"}, "endpoint"},
		{"missing api key", Config{Endpoint: "https://example.com", AppID: "a"}, "api_key"},
		{"missing app id", Config{Endpoint: "https://example.com", APIKey: "k"}, "app_id"},
		{"negative batch size", Config{Endpoint: "https://example.com", APIKey: "k", AppID: "a", BatchSize: -1}, "batch_size"},
		{"negative interval", Config{Endpoint: "https://example.com", APIKey: "k", AppID: "a", BatchInterval: -time.Second}, "batch_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Configure(tt.cfg, WithLogger(quietLogger()))
			if err == nil {
				e.Close()
				t.Fatal("expected error")
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigurationError, got %T", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field: got %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestTrack_BatchSizeTrigger(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, func(cfg *Config) { cfg.BatchSize = 5 })

	for i := range 4 {
		e.Track(fmt.Sprintf("e%d", i), nil)
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(c.requests()); n != 0 {
		t.Fatalf("expected no requests below batch size, got %d", n)
	}

	e.Track("e4", nil)
	c.wait(t)

	reqs := c.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	want := []string{"e0", "e1", "e2", "e3", "e4"}
	if got := names(reqs[0]); !equal(got, want) {
		t.Errorf("batch: got %v, want %v", got, want)
	}
}

func TestTrack_IntervalTrigger(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, func(cfg *Config) { cfg.BatchInterval = 50 * time.Millisecond })

	e.Track("a", nil)
	e.Track("b", nil)
	e.Track("c", nil)
	c.wait(t)

	// Later ticks find the queue empty and send nothing.
	time.Sleep(200 * time.Millisecond)

	reqs := c.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if got := names(reqs[0]); !equal(got, []string{"a", "b", "c"}) {
		t.Errorf("batch: got %v", got)
	}
}

func TestFlush_EmptyQueueSendsNothing(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, nil)

	flush(t, e)

	if n := len(c.requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestFlush_RequestShape(t *testing.T) {
	c, srv := newCollector(t, nil)
	at := time.Unix(1700000000, 500_000_000)
	e := newTestEngine(t, srv, func(cfg *Config) { cfg.Platform = "linux" },
		WithIdentity(identity.Static{UserID: "user-1", Device: "device-1"}),
		withClock(func() time.Time { return at }),
	)

	e.Track("app_launched", map[string]string{"screen": "home"})
	flush(t, e)

	reqs := c.requests()
	if len(reqs) != 1 || len(reqs[0]) != 1 {
		t.Fatalf("expected one batch of one event, got %v", reqs)
	}
	ev := reqs[0][0]
	if ev.Name != "app_launched" || ev.AppID != "app-1" || ev.Platform != "linux" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.UserID != "user-1" || ev.DeviceID != "device-1" {
		t.Errorf("identity: got user=%q device=%q", ev.UserID, ev.DeviceID)
	}
	if ev.SessionID != e.SessionID() {
		t.Errorf("session: got %q, want %q", ev.SessionID, e.SessionID())
	}
	if ev.Timestamp != 1700000000.5 {
		t.Errorf("timestamp: got %v", ev.Timestamp)
	}
	if ev.Metadata["screen"] != "home" {
		t.Errorf("metadata: got %v", ev.Metadata)
	}

	h := c.header(0)
	if h.Get("X-API-KEY") != "test-key" {
		t.Errorf("X-API-KEY: got %q", h.Get("X-API-KEY"))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type: got %q", h.Get("Content-Type"))
	}
	if h.Get("User-Agent") != "oddlytics-go/"+Version {
		t.Errorf("User-Agent: got %q", h.Get("User-Agent"))
	}
}

func TestFlush_SuccessClearsQueue(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, nil)

	e.Track("a", nil)
	flush(t, e)
	flush(t, e)

	if n := len(c.requests()); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestFlush_ClientErrorDropsBatch(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"bad request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"not found", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newCollector(t, func(int) int { return tt.status })
			e := newTestEngine(t, srv, nil)

			e.Track("a", nil)
			flush(t, e)
			flush(t, e)

			if n := len(c.requests()); n != 1 {
				t.Errorf("expected dropped batch to be sent once, got %d requests", n)
			}
		})
	}
}

func TestFlush_RetryableRequeuesAtFront(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"service unavailable", http.StatusServiceUnavailable},
		{"too many requests", http.StatusTooManyRequests},
		{"internal error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newCollector(t, func(n int) int {
				if n == 0 {
					return tt.status
				}
				return http.StatusOK
			})
			e := newTestEngine(t, srv, nil)

			e.Track("A", nil)
			e.Track("B", nil)
			e.Track("C", nil)
			flush(t, e)

			e.Track("D", nil)
			flush(t, e)

			reqs := c.requests()
			if len(reqs) != 2 {
				t.Fatalf("expected 2 requests, got %d", len(reqs))
			}
			if got := names(reqs[1]); !equal(got, []string{"A", "B", "C", "D"}) {
				t.Errorf("retried batch: got %v", got)
			}

			flush(t, e)
			if n := len(c.requests()); n != 2 {
				t.Errorf("expected queue to be empty after success, got %d requests", n)
			}
		})
	}
}

func TestFlush_NetworkErrorRequeues(t *testing.T) {
	c, srv := newCollector(t, nil)
	url := srv.URL
	srv.Close()

	e, err := Configure(Config{
		Endpoint:      url,
		APIKey:        "k",
		AppID:         "a",
		BatchInterval: time.Hour,
		Timeout:       time.Second,
	}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer e.Close()

	e.Track("a", nil)
	flush(t, e)

	if n := e.queue.Len(); n != 1 {
		t.Errorf("expected event to be requeued, queue length %d", n)
	}
	if n := len(c.requests()); n != 0 {
		t.Errorf("expected no recorded requests, got %d", n)
	}
}

func TestFlush_RequeueOverflowDropsNewest(t *testing.T) {
	failing := true
	var mu sync.Mutex
	c, srv := newCollector(t, func(int) int {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	e := newTestEngine(t, srv, func(cfg *Config) { cfg.MaxQueueSize = 10 })

	for i := range 8 {
		e.Track(fmt.Sprintf("old-%d", i), nil)
	}
	flush(t, e)

	for i := range 5 {
		e.Track(fmt.Sprintf("new-%d", i), nil)
	}
	if n := e.queue.Len(); n != 13 {
		t.Fatalf("enqueue is not capped: expected 13, got %d", n)
	}

	flush(t, e)
	if n := e.queue.Len(); n != 10 {
		t.Fatalf("expected queue capped at 10 after requeue, got %d", n)
	}

	mu.Lock()
	failing = false
	mu.Unlock()
	flush(t, e)

	reqs := c.requests()
	last := names(reqs[len(reqs)-1])
	want := []string{"old-0", "old-1", "old-2", "old-3", "old-4", "old-5", "old-6", "old-7", "new-0", "new-1"}
	if !equal(last, want) {
		t.Errorf("surviving events: got %v, want %v", last, want)
	}
}

func TestTrack_ConcurrentProducers(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, func(cfg *Config) { cfg.BatchSize = 50 })

	const producers, perProducer = 100, 10

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				e.Track(fmt.Sprintf("p%d-%d", p, i), nil)
			}
		}()
	}
	wg.Wait()
	flush(t, e)

	seen := make(map[string]int)
	for _, batch := range c.requests() {
		for _, ev := range batch {
			seen[ev.Name]++
		}
	}
	if len(seen) != producers*perProducer {
		t.Errorf("expected %d distinct events, got %d", producers*perProducer, len(seen))
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("event %s delivered %d times", name, n)
		}
	}
}

func TestResetSession(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, nil)

	first := e.SessionID()
	e.Track("before", nil)
	e.ResetSession()
	second := e.SessionID()
	e.Track("after", nil)
	flush(t, e)

	if first == second {
		t.Fatal("ResetSession should change the session id")
	}
	batch := c.requests()[0]
	if batch[0].SessionID != first {
		t.Errorf("queued event session: got %q, want %q", batch[0].SessionID, first)
	}
	if batch[1].SessionID != second {
		t.Errorf("new event session: got %q, want %q", batch[1].SessionID, second)
	}
}

func TestClose(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, nil)

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	e.Track("late", nil)
	if err := e.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after Close: got %v, want ErrClosed", err)
	}
	if n := len(c.requests()); n != 0 {
		t.Errorf("expected no requests after Close, got %d", n)
	}
}

func TestShutdown_FlushesPending(t *testing.T) {
	c, srv := newCollector(t, nil)
	e := newTestEngine(t, srv, nil)

	e.Track("a", nil)
	e.Track("b", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reqs := c.requests()
	if len(reqs) != 1 || !equal(names(reqs[0]), []string{"a", "b"}) {
		t.Errorf("expected pending events to be flushed, got %v", reqs)
	}
}

func TestNilEngine(t *testing.T) {
	var e *Engine

	e.Track("ignored", map[string]string{"k": "v"})
	e.ResetSession()
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("Flush: %v", err)
	}
	if id := e.SessionID(); id != "" {
		t.Errorf("SessionID: got %q", id)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
