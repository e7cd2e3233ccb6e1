// Package delivery sends event batches to the collection endpoint and
// classifies the result into accepted, dropped, or retryable.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oddlytics/oddlytics/internal/event"
)

// maxErrorBody caps how much of a failure response is kept for logging.
const maxErrorBody = 4 << 10

// Kind identifies the shape of a delivery outcome.
type Kind int

const (
	// KindSuccess is a 2xx response.
	KindSuccess Kind = iota
	// KindHTTPError is any non-2xx response.
	KindHTTPError
	// KindNetworkError means no status was received (dial, DNS, timeout).
	KindNetworkError
	// KindSerializationError means the batch could not be encoded.
	KindSerializationError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindHTTPError:
		return "http_error"
	case KindNetworkError:
		return "network_error"
	case KindSerializationError:
		return "serialization_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of exactly one POST attempt.
type Outcome struct {
	Kind Kind

	// StatusCode is set for KindSuccess and KindHTTPError.
	StatusCode int

	// Body holds up to 4 KiB of a failure response body.
	Body string

	// Err is the cause for KindNetworkError and KindSerializationError.
	Err error

	// Duration is the wall time of the HTTP round trip.
	Duration time.Duration
}

// Transport performs one HTTP POST per batch. It holds no mutable state and
// is safe for concurrent use.
type Transport struct {
	client    *http.Client
	url       string
	apiKey    string
	userAgent string
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default client. The client's Timeout should be
// finite; a zero Timeout is replaced by the transport timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

// NewTransport creates a transport that posts to {endpoint}/track.
func NewTransport(endpoint, apiKey string, timeout time.Duration, opts ...Option) (*Transport, error) {
	target, err := url.JoinPath(endpoint, "track")
	if err != nil {
		return nil, fmt.Errorf("build track URL: %w", err)
	}

	t := &Transport{
		client: &http.Client{Timeout: timeout},
		url:    target,
		apiKey: apiKey,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.client.Timeout == 0 {
		clone := *t.client
		clone.Timeout = timeout
		t.client = &clone
	}

	return t, nil
}

// URL returns the resolved track URL.
func (t *Transport) URL() string {
	return t.url
}

// Send encodes events and performs a single POST. It never retries.
func (t *Transport) Send(ctx context.Context, events []event.Event) Outcome {
	body, err := event.Encode(events)
	if err != nil {
		return Outcome{Kind: KindSerializationError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: KindNetworkError, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", t.apiKey)
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return Outcome{
			Kind:     KindNetworkError,
			Err:      fmt.Errorf("request failed: %w", err),
			Duration: time.Since(start),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Read and discard body to enable connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return Outcome{
			Kind:       KindSuccess,
			StatusCode: resp.StatusCode,
			Duration:   time.Since(start),
		}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	return Outcome{
		Kind:       KindHTTPError,
		StatusCode: resp.StatusCode,
		Body:       string(snippet),
		Duration:   time.Since(start),
	}
}
