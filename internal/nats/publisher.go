package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/oddlytics/oddlytics/internal/dedup"
	"github.com/oddlytics/oddlytics/internal/event"
)

// jsPublisher is the subset of jetstream.JetStream the publisher needs.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher publishes events as JSON to per-app, per-event subjects.
type Publisher struct {
	js     jsPublisher
	logger *slog.Logger
}

// NewPublisher creates a new event publisher. js is usually Client.JetStream().
func NewPublisher(js jsPublisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:     js,
		logger: logger.With("component", "publisher"),
	}
}

// PublishEvent publishes a single event. The message ID is derived from the
// dedup key so JetStream drops republished duplicates.
func (p *Publisher) PublishEvent(ctx context.Context, ev event.Event) error {
	subject := Subject(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(MessageID(ev)))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published",
		"subject", subject,
		"stream", ack.Stream,
		"sequence", ack.Sequence,
	)

	return nil
}

// PublishEvents publishes every event, continuing past failures. It returns
// the number published and ErrPartialPublish if any failed.
func (p *Publisher) PublishEvents(ctx context.Context, events []event.Event) (int, error) {
	published := 0

	for _, ev := range events {
		if err := p.PublishEvent(ctx, ev); err != nil {
			p.logger.Error("failed to publish event in batch",
				"app_id", ev.AppID,
				"event", ev.Name,
				"error", err,
			)
			continue
		}
		published++
	}

	if published < len(events) {
		return published, fmt.Errorf("%w: %d of %d failed", ErrPartialPublish, len(events)-published, len(events))
	}

	return published, nil
}

// MessageID is a name-based UUID of the event's dedup key.
func MessageID(ev event.Event) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(dedup.Key(ev))).String()
}

// Subject derives the subject for an event: events.{app_id}.{event}.
func Subject(ev event.Event) string {
	return fmt.Sprintf("events.%s.%s", sanitizeToken(ev.AppID), sanitizeToken(ev.Name))
}

// sanitizeToken makes s usable as a single subject token.
func sanitizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
