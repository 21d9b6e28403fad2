// Package stats provides durable per-station usage counters and listening-time tracking.
package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the stats database.
	DefaultDBPath = "data/stats.db"
)

// Store persists per-station usage counters. Every counter is monotonic:
// it is only ever incremented, never reset.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewStore creates a new stats store instance.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultDBPath
	}
	return &Store{path: path}
}

// Open opens the database and initializes the schema.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open stats database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s.db = db

	if err := s.initSchema(); err != nil {
		s.db.Close()
		s.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", s.path).Msg("Stats database opened")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// initSchema initializes the database schema.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS station_stats (
		station_id INTEGER PRIMARY KEY,
		play_count INTEGER NOT NULL DEFAULT 0,
		listening_time_ms INTEGER NOT NULL DEFAULT 0,
		data_consumed_bytes INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`, CurrentSchemaVersion)
	return err
}

// IncrementPlayCount adds one genuine tune-in to the station's play count.
func (s *Store) IncrementPlayCount(stationID int) error {
	return s.addCounter(stationID, "play_count", 1)
}

// AddListeningTime accrues confirmed listening time in milliseconds.
func (s *Store) AddListeningTime(stationID int, ms int64) error {
	if ms <= 0 {
		return nil
	}
	return s.addCounter(stationID, "listening_time_ms", ms)
}

// AddDataConsumed accrues received stream bytes.
func (s *Store) AddDataConsumed(stationID int, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return s.addCounter(stationID, "data_consumed_bytes", bytes)
}

// GetPlayCount returns the station's play count.
func (s *Store) GetPlayCount(stationID int) (int64, error) {
	return s.getCounter(stationID, "play_count")
}

// GetListeningTime returns the station's accrued listening time in milliseconds.
func (s *Store) GetListeningTime(stationID int) (int64, error) {
	return s.getCounter(stationID, "listening_time_ms")
}

// GetDataConsumed returns the station's accrued stream bytes.
func (s *Store) GetDataConsumed(stationID int) (int64, error) {
	return s.getCounter(stationID, "data_consumed_bytes")
}

// addCounter performs an atomic read-modify-write on one counter column.
// The column name is always one of the fixed schema columns, never user input.
func (s *Store) addCounter(stationID int, column string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("stats store not open")
	}

	query := fmt.Sprintf(
		`INSERT INTO station_stats (station_id, %[1]s) VALUES (?, ?)
		 ON CONFLICT(station_id) DO UPDATE SET
			%[1]s = %[1]s + excluded.%[1]s,
			updated_at = CURRENT_TIMESTAMP`, column)

	if _, err := s.db.Exec(query, stationID, delta); err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return nil
}

// getCounter reads one counter column; missing stations read as zero.
func (s *Store) getCounter(stationID int, column string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, fmt.Errorf("stats store not open")
	}

	query := fmt.Sprintf(`SELECT %s FROM station_stats WHERE station_id = ?`, column)

	var value int64
	err := s.db.QueryRow(query, stationID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", column, err)
	}
	return value, nil
}
