// Package store persists accepted events for the reference collector. It
// runs on SQLite for local use and PostgreSQL in production.
package store

import "time"

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds database settings.
type Config struct {
	// Driver is "sqlite" or "postgres"
	Driver string `env:"DRIVER" envDefault:"sqlite"`

	// DSN is a file path for sqlite or a connection string for postgres
	DSN string `env:"DSN" envDefault:"oddlytics.db"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"25"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `env:"MAX_IDLE_CONNS" envDefault:"5"`

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}
