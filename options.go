package oddlytics

import (
	"log/slog"
	"net/http"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
)

// IdentityProvider supplies the user and device identifiers stamped on each
// event. Implementations must be safe for concurrent use; see package
// identity for ready-made providers.
type IdentityProvider interface {
	// StableUserID returns the per-install user identifier.
	StableUserID() string

	// DeviceID returns the device identifier, or "" when unavailable.
	DeviceID() string
}

type options struct {
	logger     *slog.Logger
	identity   IdentityProvider
	httpClient *http.Client
	meter      otelmetric.Meter
	clock      func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger. Without it, the engine logs to stderr at
// debug level when Config.Debug is set and at warn level otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIdentity sets the identity provider. The default is a random
// identity that lasts for the lifetime of the process.
func WithIdentity(p IdentityProvider) Option {
	return func(o *options) {
		o.identity = p
	}
}

// WithHTTPClient sets the client used for delivery. A zero Timeout is
// replaced with Config.Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithMeter records engine metrics on the given meter.
func WithMeter(m otelmetric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// withClock overrides time.Now for event timestamps.
func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}
