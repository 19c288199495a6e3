package trust

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const trustSchema = `
CREATE TABLE IF NOT EXISTS pattern_trust (
	pattern_id TEXT PRIMARY KEY,
	alpha      REAL NOT NULL,
	beta       REAL NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore persists trust state in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the trust database at path.
// Use ":memory:" for a throwaway database.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create trust db dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trust db: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, trustSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init trust schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads every row of the trust table.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern_id, alpha, beta FROM pattern_trust`)
	if err != nil {
		return nil, fmt.Errorf("query trust: %w", err)
	}
	defer rows.Close()

	out := make(map[string]State)
	for rows.Next() {
		var id string
		var st State
		if err := rows.Scan(&id, &st.Alpha, &st.Beta); err != nil {
			return nil, fmt.Errorf("scan trust row: %w", err)
		}
		out[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trust rows: %w", err)
	}
	return out, nil
}

// Save upserts the state of one pattern.
func (s *SQLiteStore) Save(ctx context.Context, patternID string, state State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_trust (pattern_id, alpha, beta, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pattern_id) DO UPDATE SET
			alpha = excluded.alpha,
			beta = excluded.beta,
			updated_at = excluded.updated_at
	`, patternID, state.Alpha, state.Beta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save trust for %s: %w", patternID, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
