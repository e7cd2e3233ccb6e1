package oddlytics

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("oddlytics: engine closed")

// ConfigurationError reports an invalid Config passed to Configure. It is
// the only error the engine surfaces for delivery-related input; the process
// should not proceed with telemetry when it occurs.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("oddlytics: invalid configuration: %s %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
