// Package store is the SQLite persistence layer: documents, facts, person
// clusters, resolution decisions, the append-only audit log, extraction
// responses with their token costs, and the runtime settings table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.kinforge/kinforge.db"

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and brings the schema up to
// date. Pass ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = expandPath(DefaultDBPath)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats holds observability counters about the store.
type Stats struct {
	DocumentCount  int64 `json:"documents"`
	FactCount      int64 `json:"facts"`
	ClusterCount   int64 `json:"clusters"`
	DecisionCount  int64 `json:"decisions"`
	AuditCount     int64 `json:"audit_entries"`
	ExtractionRows int64 `json:"extraction_cache_rows"`
	DBSizeBytes    int64 `json:"db_size_bytes"`
}

// Stats counts the rows in every table plus the database size on disk.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"documents", &st.DocumentCount},
		{"facts", &st.FactCount},
		{"clusters", &st.ClusterCount},
		{"decisions", &st.DecisionCount},
		{"audit_log", &st.AuditCount},
		{"extractions", &st.ExtractionRows},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}

	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	return st, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
