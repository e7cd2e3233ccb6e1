package delivery

import "net/http"

// Disposition is what happens to a batch after a delivery attempt.
type Disposition int

const (
	// Accepted means the endpoint took the batch; events are discarded.
	Accepted Disposition = iota
	// Dropped means the batch can never succeed; events are discarded.
	Dropped
	// Retryable means the batch goes back to the front of the queue.
	Retryable
)

func (d Disposition) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Retryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// Reason labels why a batch was dropped or requeued, for logs and metrics.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonSerialization   Reason = "serialization"
	ReasonClientRejection Reason = "client_rejection"
	ReasonTransient       Reason = "transient"
)

// Classify maps an outcome to a disposition and reason.
//
// 4xx other than 429 is a permanent rejection. 429, 5xx and network errors
// are transient. Statuses outside those ranges are treated as transient too.
func Classify(o Outcome) (Disposition, Reason) {
	switch o.Kind {
	case KindSuccess:
		return Accepted, ReasonNone
	case KindSerializationError:
		return Dropped, ReasonSerialization
	case KindNetworkError:
		return Retryable, ReasonTransient
	}

	status := o.StatusCode
	switch {
	case status >= 200 && status < 300:
		return Accepted, ReasonNone
	case status == http.StatusTooManyRequests:
		return Retryable, ReasonTransient
	case status >= 400 && status < 500:
		return Dropped, ReasonClientRejection
	default:
		return Retryable, ReasonTransient
	}
}
