// Package event defines the immutable telemetry event record and its wire
// encoding for the /track collection endpoint.
package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Event is one tracked occurrence. It is never mutated after New returns;
// retries resend the same value.
type Event struct {
	// Name is the event name (e.g., "app_launched")
	Name string `json:"event"`

	// AppID is the application identifier from configuration
	AppID string `json:"app_id"`

	// Platform is the producing platform (e.g., "linux", "iOS")
	Platform string `json:"platform"`

	// Metadata contains arbitrary string key-value pairs
	Metadata map[string]string `json:"metadata"`

	// SessionID is the session active when the event was created
	SessionID string `json:"session_id"`

	// UserID is the stable per-install user identifier
	UserID string `json:"user_id"`

	// DeviceID is the optional device identifier
	DeviceID string `json:"device_id,omitempty"`

	// Timestamp is the creation time in unix seconds
	Timestamp float64 `json:"timestamp"`
}

// Attributes carries the producer-independent fields stamped onto every event.
type Attributes struct {
	AppID     string
	Platform  string
	SessionID string
	UserID    string
	DeviceID  string
}

// New builds an Event. The metadata map is copied so later changes by the
// caller are not observed by the queued event.
func New(name string, metadata map[string]string, attrs Attributes, at time.Time) Event {
	md := make(map[string]string, len(metadata))
	maps.Copy(md, metadata)

	return Event{
		Name:      name,
		AppID:     attrs.AppID,
		Platform:  attrs.Platform,
		Metadata:  md,
		SessionID: attrs.SessionID,
		UserID:    attrs.UserID,
		DeviceID:  attrs.DeviceID,
		Timestamp: UnixSeconds(at),
	}
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Batch is the request body for one delivery attempt.
type Batch struct {
	Events []Event `json:"events"`
}

// Encode serializes events as a batch body.
func Encode(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	body, err := json.Marshal(Batch{Events: events})
	if err != nil {
		return nil, fmt.Errorf("encode batch of %d events: %w", len(events), err)
	}
	return body, nil
}
