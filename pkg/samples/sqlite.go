package samples

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sloppylopez/stablemock/pkg/recording"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// SQLiteStore keeps state in a SQLite database, one row per sample.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(absPath))
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %s: %w", stmt, err)
		}
	}

	s := &SQLiteStore{db: db, path: absPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS samples (
    endpoint TEXT NOT NULL,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    operation TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL,
    exchange_id TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    captured_at_ns INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (endpoint, position)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Load reads every sample, grouped by endpoint in position order.
func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT endpoint, method, url, operation, exchange_id, content_type, body, captured_at_ns
FROM samples ORDER BY endpoint, position`)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	out := State{}
	for rows.Next() {
		var (
			endpoint string
			key      recording.EndpointKey
			e        Entry
			ns       int64
		)
		if err := rows.Scan(&endpoint, &key.Method, &key.URL, &key.Operation, &e.ExchangeID, &e.ContentType, &e.Body, &ns); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if ns != 0 {
			e.CapturedAt = time.Unix(0, ns).UTC()
		}
		set, ok := out[endpoint]
		if !ok {
			set = &SampleSet{Key: key}
			out[endpoint] = set
		}
		set.Entries = append(set.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

// Save replaces all rows in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM samples`); err != nil {
		return fmt.Errorf("clear samples: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO samples (endpoint, method, url, operation, position, exchange_id, content_type, body, captured_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, set := range sortedSets(st) {
		endpoint := set.Key.String()
		for i, e := range set.Entries {
			var ns int64
			if !e.CapturedAt.IsZero() {
				ns = e.CapturedAt.UnixNano()
			}
			if _, err := stmt.ExecContext(ctx, endpoint, set.Key.Method, set.Key.URL, set.Key.Operation,
				i, e.ExchangeID, e.ContentType, e.Body, ns); err != nil {
				return fmt.Errorf("insert sample %s #%d: %w", endpoint, i, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit samples: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
