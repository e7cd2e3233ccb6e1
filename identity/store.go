package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	// Register the pure-Go SQLite driver. This does NOT require CGO.
	_ "modernc.org/sqlite"
)

// Keys in the identity table.
const (
	userIDKey   = "user_id"
	deviceIDKey = "device_id"
)

// Store is an identity persisted in SQLite. Identifiers are generated on
// first open and reused afterwards. Reads are served from memory.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db *sql.DB

	mu       sync.RWMutex
	userID   string
	deviceID string
}

// Open opens (or creates) the identity database at path, runs migrations and
// loads or generates the identifiers.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("identity: database path must not be empty")
	}

	// WAL mode for concurrent access, 5s busy timeout for lock contention.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: run migrations: %w", err)
	}

	s := &Store{db: db}

	if s.userID, err = s.loadOrCreate(userIDKey); err != nil {
		db.Close()
		return nil, err
	}
	if s.deviceID, err = s.loadOrCreate(deviceIDKey); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// StableUserID returns the persisted user identifier.
func (s *Store) StableUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// DeviceID returns the persisted device identifier.
func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// Reset replaces both identifiers with fresh random values, for privacy
// resets. Events already tracked keep the old values.
func (s *Store) Reset() error {
	userID := uuid.New().String()
	deviceID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("identity: begin reset: %w", err)
	}
	for key, value := range map[string]string{userIDKey: userID, deviceIDKey: deviceID} {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO identity (key, value, created_at) VALUES (?, ?, ?)",
			key, value, time.Now().UnixMilli(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("identity: save %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("identity: commit reset: %w", err)
	}

	s.mu.Lock()
	s.userID = userID
	s.deviceID = deviceID
	s.mu.Unlock()

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// loadOrCreate returns the stored value for key, generating and persisting a
// UUID when none exists.
func (s *Store) loadOrCreate(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM identity WHERE key = ?", key).Scan(&value)
	if err == nil && value != "" {
		return value, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("identity: load %s: %w", key, err)
	}

	value = uuid.New().String()
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO identity (key, value, created_at) VALUES (?, ?, ?)",
		key, value, time.Now().UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("identity: save %s: %w", key, err)
	}
	return value, nil
}
