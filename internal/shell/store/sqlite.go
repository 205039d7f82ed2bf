package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore persists the operation journal in SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database: "+err.Error(), ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Journal Operations
// =============================================================================

// entryRow represents a journal row in the database.
type entryRow struct {
	ID         string `db:"id"`
	Slug       string `db:"slug"`
	Operation  string `db:"operation"`
	Outcome    string `db:"outcome"`
	Step       string `db:"step"`
	Message    string `db:"message"`
	StartedAt  string `db:"started_at"`
	DurationMS int64  `db:"duration_ms"`
}

func (r entryRow) toEntry() (Entry, error) {
	startedAt, err := time.Parse(timeLayout, r.StartedAt)
	if err != nil {
		return Entry{}, NewStoreError("List", "entry", r.ID, "bad started_at "+r.StartedAt, ErrInvalidData)
	}
	return Entry{
		ID:        r.ID,
		Slug:      r.Slug,
		Operation: r.Operation,
		Outcome:   Outcome(r.Outcome),
		Step:      r.Step,
		Message:   r.Message,
		StartedAt: startedAt,
		Duration:  time.Duration(r.DurationMS) * time.Millisecond,
	}, nil
}

// Record appends entry to the journal and returns it as stored.
func (s *SQLiteStore) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Slug == "" || entry.Operation == "" {
		return Entry{}, NewStoreError("Record", "entry", entry.ID, "slug and operation are required", ErrInvalidData)
	}
	switch entry.Outcome {
	case OutcomeOK, OutcomeFailed, OutcomeAborted:
	default:
		return Entry{}, NewStoreError("Record", "entry", entry.ID, fmt.Sprintf("unknown outcome %q", entry.Outcome), ErrInvalidData)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = s.now()
	}
	entry.StartedAt = entry.StartedAt.UTC()

	row := entryRow{
		ID:         entry.ID,
		Slug:       entry.Slug,
		Operation:  entry.Operation,
		Outcome:    string(entry.Outcome),
		Step:       entry.Step,
		Message:    entry.Message,
		StartedAt:  entry.StartedAt.Format(timeLayout),
		DurationMS: entry.Duration.Milliseconds(),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO journal (id, slug, operation, outcome, step, message, started_at, duration_ms)
		VALUES (:id, :slug, :operation, :outcome, :step, :message, :started_at, :duration_ms)`, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: journal.id") {
			return Entry{}, NewStoreError("Record", "entry", entry.ID, "entry already exists", ErrDuplicateID)
		}
		return Entry{}, NewStoreError("Record", "entry", entry.ID, err.Error(), err)
	}

	// Round-trip precision so callers see what List returns.
	entry.Duration = time.Duration(row.DurationMS) * time.Millisecond
	return entry, nil
}

// List returns journal entries newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	opts = opts.Normalize()

	query := `SELECT id, slug, operation, outcome, step, message, started_at, duration_ms FROM journal`
	args := []any{}
	if opts.Slug != "" {
		query += ` WHERE slug = ?`
		args = append(args, opts.Slug)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("List", "entry", "", err.Error(), err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
