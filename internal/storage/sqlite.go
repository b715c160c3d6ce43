package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path        string
	busyTimeout time.Duration
	db          *sql.DB

	machines *sqliteMachineRepo
	rules    *sqliteRuleRepo
	events   *sqliteEventRepo
	alerts   *sqliteAlertRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path, busyTimeout: 5 * time.Second}
}

// WithBusyTimeout sets how long a writer waits for the database lock.
func (s *SQLiteStorage) WithBusyTimeout(d time.Duration) *SQLiteStorage {
	s.busyTimeout = d
	return s
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	// Write transactions take the RESERVED lock at BEGIN so a find-then-insert
	// on the alerts table cannot interleave with another writer.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate",
		s.path, s.busyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.db = db
	s.machines = &sqliteMachineRepo{db: db}
	s.rules = &sqliteRuleRepo{db: db}
	s.events = &sqliteEventRepo{db: db}
	s.alerts = &sqliteAlertRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Ping checks the connection health.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Machines returns the machine repository.
func (s *SQLiteStorage) Machines() MachineRepository {
	return s.machines
}

// Rules returns the rule repository.
func (s *SQLiteStorage) Rules() RuleRepository {
	return s.rules
}

// Events returns the log event repository.
func (s *SQLiteStorage) Events() EventRepository {
	return s.events
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Helper functions

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func marshalMetadata(md models.Metadata) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMetadata(s string) (models.Metadata, error) {
	if s == "" || s == "{}" {
		return models.Metadata{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return models.NormalizeMetadata(raw)
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	code := sqliteCode(err)
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusy(err error) bool {
	return sqliteCode(err)&0xff == sqlite3.SQLITE_BUSY
}

// classify maps driver errors onto the package sentinels.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isBusy(err):
		return fmt.Errorf("%s: %w: %v", op, ErrBusy, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}
