// Package sqlite persists the coordination hub state in a single SQLite
// database. Lease activity is derived from timestamps at read time; the
// only writes on the expiry path come from the hygiene sweeper.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/switchboardhq/switchboard/internal/lease"
	"github.com/switchboardhq/switchboard/internal/storage"
)

//go:embed schema.sql
var schema string

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

type Store struct {
	db    dbHandle
	clock lease.Clock
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}, clock: lease.System()}, nil
}

func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// The in-memory database lives in a single connection; more would each
	// see their own empty database.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db, clock: lease.System()}, nil
}

// WithClock swaps the time source. Tests use it to advance expiry without
// sleeping.
func (s *Store) WithClock(c lease.Clock) *Store {
	s.clock = c
	return s
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamp helpers. Everything is stored as UTC text with a fixed-width
// nanosecond fraction so lexicographic SQL comparisons match chronological
// order. RFC3339Nano is unsuitable as a storage format: it trims trailing
// fraction zeros, and "…:01.12Z" sorts after "…:01.123Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
