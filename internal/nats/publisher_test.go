package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/oddlytics/oddlytics/internal/event"
)

type publishCall struct {
	subject string
	data    []byte
}

// mockJetStream records publishes and fails for the configured subjects.
type mockJetStream struct {
	calls   []publishCall
	failFor map[string]bool
}

func (m *mockJetStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if m.failFor[subject] {
		return nil, errors.New("no responders")
	}
	m.calls = append(m.calls, publishCall{subject: subject, data: data})
	return &jetstream.PubAck{Stream: "ODDLYTICS_EVENTS", Sequence: uint64(len(m.calls))}, nil
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name     string
		event    event.Event
		expected string
	}{
		{"simple", event.Event{AppID: "myapp", Name: "app_launched"}, "events.myapp.app_launched"},
		{"dotted app id", event.Event{AppID: "com.example.app", Name: "open"}, "events.com_example_app.open"},
		{"spaces and case", event.Event{AppID: "MyApp", Name: "Button Tap"}, "events.myapp.button_tap"},
		{"wildcards", event.Event{AppID: "a*", Name: "b>"}, "events.a_.b_"},
		{"empty name", event.Event{AppID: "app", Name: ""}, "events.app._"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject(tt.event); got != tt.expected {
				t.Errorf("Subject() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestMessageID(t *testing.T) {
	a := event.Event{AppID: "app", Name: "open", SessionID: "s", Timestamp: 1}
	b := a
	b.Timestamp = 2

	if MessageID(a) != MessageID(a) {
		t.Error("message id must be deterministic")
	}
	if MessageID(a) == MessageID(b) {
		t.Error("different events must have different message ids")
	}
}

func TestPublishEvents(t *testing.T) {
	js := &mockJetStream{failFor: map[string]bool{"events.app.bad": true}}
	p := NewPublisher(js, nil)

	events := []event.Event{
		{AppID: "app", Name: "good", Metadata: map[string]string{}},
		{AppID: "app", Name: "bad", Metadata: map[string]string{}},
		{AppID: "app", Name: "also_good", Metadata: map[string]string{}},
	}

	n, err := p.PublishEvents(context.Background(), events)
	if !errors.Is(err, ErrPartialPublish) {
		t.Errorf("expected ErrPartialPublish, got %v", err)
	}
	if n != 2 {
		t.Errorf("published: got %d, want 2", n)
	}
	if len(js.calls) != 2 || js.calls[1].subject != "events.app.also_good" {
		t.Errorf("unexpected publishes: %+v", js.calls)
	}
}

func TestPublishEvent_JSONPayload(t *testing.T) {
	js := &mockJetStream{}
	p := NewPublisher(js, nil)

	ev := event.Event{AppID: "app", Name: "open", Platform: "ios", SessionID: "s", Metadata: map[string]string{"k": "v"}}
	if err := p.PublishEvent(context.Background(), ev); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	want := `{"event":"open","app_id":"app","platform":"ios","metadata":{"k":"v"},"session_id":"s","user_id":"","timestamp":0}`
	if got := string(js.calls[0].data); got != want {
		t.Errorf("payload:\n got %s\nwant %s", got, want)
	}
}
