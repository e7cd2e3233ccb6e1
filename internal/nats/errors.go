package nats

import "errors"

var (
	// ErrDisconnected is reported by Ready while the connection is down and
	// accepted events are not being forwarded.
	ErrDisconnected = errors.New("event forwarding disconnected")

	// ErrStreamUnavailable is reported by Ready when the events stream
	// cannot be looked up.
	ErrStreamUnavailable = errors.New("events stream unavailable")

	// ErrPartialPublish is returned when only some events of a batch were
	// forwarded.
	ErrPartialPublish = errors.New("some events were not forwarded")
)
