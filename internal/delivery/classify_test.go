package delivery

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		outcome     Outcome
		disposition Disposition
		reason      Reason
	}{
		{"200 accepted", Outcome{Kind: KindSuccess, StatusCode: 200}, Accepted, ReasonNone},
		{"204 accepted", Outcome{Kind: KindSuccess, StatusCode: 204}, Accepted, ReasonNone},
		{"400 dropped", Outcome{Kind: KindHTTPError, StatusCode: 400}, Dropped, ReasonClientRejection},
		{"401 dropped", Outcome{Kind: KindHTTPError, StatusCode: 401}, Dropped, ReasonClientRejection},
		{"404 dropped", Outcome{Kind: KindHTTPError, StatusCode: 404}, Dropped, ReasonClientRejection},
		{"413 dropped", Outcome{Kind: KindHTTPError, StatusCode: 413}, Dropped, ReasonClientRejection},
		{"429 retryable", Outcome{Kind: KindHTTPError, StatusCode: 429}, Retryable, ReasonTransient},
		{"500 retryable", Outcome{Kind: KindHTTPError, StatusCode: 500}, Retryable, ReasonTransient},
		{"503 retryable", Outcome{Kind: KindHTTPError, StatusCode: 503}, Retryable, ReasonTransient},
		{"599 retryable", Outcome{Kind: KindHTTPError, StatusCode: 599}, Retryable, ReasonTransient},
		{"304 retryable", Outcome{Kind: KindHTTPError, StatusCode: 304}, Retryable, ReasonTransient},
		{"network retryable", Outcome{Kind: KindNetworkError, Err: errors.New("dial tcp: refused")}, Retryable, ReasonTransient},
		{"serialization dropped", Outcome{Kind: KindSerializationError, Err: errors.New("NaN")}, Dropped, ReasonSerialization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, r := Classify(tt.outcome)
			if d != tt.disposition {
				t.Errorf("disposition: got %s, want %s", d, tt.disposition)
			}
			if r != tt.reason {
				t.Errorf("reason: got %q, want %q", r, tt.reason)
			}
		})
	}
}
