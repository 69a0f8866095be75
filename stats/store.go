package stats

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested pause is not in the store.
var ErrNotFound = errors.New("stats: pause not found")

// Store persists pause records in SQLite. Each process run gets its own run
// id so several runs can share one database.
type Store struct {
	db    *sql.DB
	path  string
	runID string
	mu    sync.Mutex
}

// Open opens (creating if needed) the pause history at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS pauses (
		run      TEXT    NOT NULL,
		seq      INTEGER NOT NULL,
		started  INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		data     BLOB    NOT NULL,
		PRIMARY KEY (run, seq)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path, runID: uuid.NewString()}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunID identifies this process run in the database.
func (s *Store) RunID() string { return s.runID }

// Save writes records for the current run in one transaction.
func (s *Store) Save(records ...*PauseRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving pauses: %w", err)
	}
	for _, r := range records {
		data, err := MarshalPause(r)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding pause %d: %w", r.Seq, err)
		}
		_, err = tx.Exec(
			"INSERT OR REPLACE INTO pauses (run, seq, started, duration, data) VALUES (?, ?, ?, ?, ?)",
			s.runID, int64(r.Seq), r.Start.UnixNano(), int64(r.Duration), data,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("saving pause %d: %w", r.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving pauses: %w", err)
	}
	return nil
}

// Get loads one pause of a run.
func (s *Store) Get(run string, seq uint64) (*PauseRecord, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM pauses WHERE run = ? AND seq = ?", run, int64(seq)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying pause: %w", err)
	}
	return UnmarshalPause(data)
}

// Recent returns up to limit of a run's latest pauses, newest first.
func (s *Store) Recent(run string, limit int) ([]*PauseRecord, error) {
	rows, err := s.db.Query("SELECT data FROM pauses WHERE run = ? ORDER BY seq DESC LIMIT ?", run, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pauses: %w", err)
	}
	defer rows.Close()

	var out []*PauseRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("reading pause: %w", err)
		}
		r, err := UnmarshalPause(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists the run ids recorded in the database.
func (s *Store) Runs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT run FROM pauses ORDER BY run")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
