// Package identity provides user and device identifier sources for the
// oddlytics engine.
//
// Static returns fixed values, Ephemeral generates random identifiers that
// last for the life of the process, and Store persists random identifiers in
// a SQLite database so they survive restarts.
package identity

import (
	"github.com/google/uuid"
)

// Static is a fixed identity, useful when the host application already has
// stable identifiers.
type Static struct {
	UserID string
	Device string
}

// StableUserID returns the configured user identifier.
func (s Static) StableUserID() string { return s.UserID }

// DeviceID returns the configured device identifier.
func (s Static) DeviceID() string { return s.Device }

// Ephemeral is a random per-process identity with no device identifier.
type Ephemeral struct {
	userID string
}

// NewEphemeral generates a random user identifier.
func NewEphemeral() *Ephemeral {
	return &Ephemeral{userID: uuid.New().String()}
}

// StableUserID returns the generated identifier.
func (e *Ephemeral) StableUserID() string { return e.userID }

// DeviceID always returns "".
func (e *Ephemeral) DeviceID() string { return "" }
