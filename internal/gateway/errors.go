package gateway

import (
	"errors"
	"fmt"
)

// Limits applied to each /track request.
const (
	MaxBatchSize    = 100
	MaxFieldLength  = 255
	MaxMetadataSize = 10 * 1024
)

// Sentinel errors for the gateway package. Their messages are returned to
// clients verbatim.
var (
	ErrUnauthorized   = errors.New("Unauthorized")
	ErrInvalidJSON    = errors.New("invalid JSON body")
	ErrBodyTooLarge   = errors.New("request body too large")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInternal       = errors.New("Internal server error")
	ErrEventsNotArray = errors.New("events must be an array")
	ErrNoEvents       = errors.New("No events provided")
	ErrBatchTooLarge  = fmt.Errorf("Batch too large. Maximum: %d events", MaxBatchSize)

	// Validation errors
	ErrInvalidEvent       = errors.New("invalid event payload")
	ErrEventRequired      = errors.New("event must be a non-empty string")
	ErrAppIDRequired      = errors.New("app_id must be a non-empty string")
	ErrSessionIDRequired  = errors.New("session_id must be a non-empty string")
	ErrEventTooLong       = fmt.Errorf("event name too long (max %d chars)", MaxFieldLength)
	ErrAppIDTooLong       = fmt.Errorf("app_id too long (max %d chars)", MaxFieldLength)
	ErrSessionIDTooLong   = fmt.Errorf("session_id too long (max %d chars)", MaxFieldLength)
	ErrMetadataTooLarge   = fmt.Errorf("Metadata too large. Maximum size: %d bytes", MaxMetadataSize)
	ErrMetadataNotStrings = errors.New("metadata must be an object of string values")
)
