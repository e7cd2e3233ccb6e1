package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds all metric instruments used by the telemetry engine and the
// reference collector. Instruments are created once and shared.
type Metrics struct {
	// Engine metrics
	EventsTracked    otelmetric.Int64Counter
	EventsRequeued   otelmetric.Int64Counter
	EventsDropped    otelmetric.Int64Counter
	BatchesSent      otelmetric.Int64Counter
	BatchSize        otelmetric.Int64Histogram
	DeliveryDuration otelmetric.Float64Histogram

	// HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// Collector metrics
	EventsAccepted  otelmetric.Int64Counter
	EventsRejected  otelmetric.Int64Counter
	DedupDropped    otelmetric.Int64Counter
	EventsForwarded otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	// Engine metrics
	m.EventsTracked, err = meter.Int64Counter(
		"oddlytics.events.tracked",
		otelmetric.WithDescription("Events accepted by Track"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsRequeued, err = meter.Int64Counter(
		"oddlytics.events.requeued",
		otelmetric.WithDescription("Events returned to the queue after a transient failure"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter(
		"oddlytics.events.dropped",
		otelmetric.WithDescription("Events discarded, by reason"),
	)
	if err != nil {
		return nil, err
	}

	m.BatchesSent, err = meter.Int64Counter(
		"oddlytics.batches.sent",
		otelmetric.WithDescription("Delivery attempts, by disposition"),
	)
	if err != nil {
		return nil, err
	}

	m.BatchSize, err = meter.Int64Histogram(
		"oddlytics.batch.size",
		otelmetric.WithDescription("Events per delivery attempt"),
	)
	if err != nil {
		return nil, err
	}

	m.DeliveryDuration, err = meter.Float64Histogram(
		"oddlytics.delivery.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Delivery round trip in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestTotal, err = meter.Int64Counter(
		"http.request.total",
		otelmetric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestErrors, err = meter.Int64Counter(
		"http.request.errors",
		otelmetric.WithDescription("HTTP request errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// Collector metrics
	m.EventsAccepted, err = meter.Int64Counter(
		"collector.events.accepted",
		otelmetric.WithDescription("Events stored by the collector"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsRejected, err = meter.Int64Counter(
		"collector.events.rejected",
		otelmetric.WithDescription("Events rejected by validation"),
	)
	if err != nil {
		return nil, err
	}

	m.DedupDropped, err = meter.Int64Counter(
		"dedup.dropped",
		otelmetric.WithDescription("Deduplicated events dropped"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsForwarded, err = meter.Int64Counter(
		"collector.events.forwarded",
		otelmetric.WithDescription("Events published to NATS"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// NoopMetrics returns instruments backed by the OTel noop meter.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	if err != nil {
		// The noop meter never fails to create instruments.
		panic(err)
	}
	return m
}
