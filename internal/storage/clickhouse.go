package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	Database string
	Username string
	Password string

	MaxOpenConns int
	MaxIdleConns int
	DialTimeout  time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for event retention.
	RetentionDays int
}

// ClickHouseStorage implements EventStorage for ClickHouse.
type ClickHouseStorage struct {
	config *ClickHouseConfig
	db     *sql.DB
	events *clickhouseEventRepo
}

// NewClickHouseStorage creates a new ClickHouse storage.
func NewClickHouseStorage(config *ClickHouseConfig) *ClickHouseStorage {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 90
	}

	return &ClickHouseStorage{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}
	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.events = &clickhouseEventRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the log_events table if it doesn't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS log_events (
			id UUID,
			machine_id String,
			timestamp DateTime64(9, 'UTC'),
			ingested_at DateTime64(3, 'UTC'),
			event_type LowCardinality(String),
			severity LowCardinality(String),
			raw_message String,
			source_ip String,
			username String,
			metadata String,
			correlation_id String,
			_date Date DEFAULT toDate(timestamp)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (machine_id, event_type, source_ip, timestamp)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create log_events table: %w", err)
	}
	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Events returns the event repository.
func (s *ClickHouseStorage) Events() EventRepository {
	return s.events
}

type clickhouseEventRepo struct {
	db *sql.DB
}

const clickhouseEventColumns = `id, machine_id, timestamp, ingested_at, event_type, severity,
	raw_message, source_ip, username, metadata, correlation_id`

const clickhouseSelectColumns = `toString(id), machine_id, timestamp, ingested_at, event_type, severity,
	raw_message, source_ip, username, metadata, correlation_id`

func timeArg(t time.Time) any { return t.UTC() }

func (r *clickhouseEventRepo) Insert(ctx context.Context, e *models.LogEvent) error {
	return r.InsertBatch(ctx, []*models.LogEvent{e})
}

// InsertBatch inserts events in a single ClickHouse batch.
func (r *clickhouseEventRepo) InsertBatch(ctx context.Context, events []*models.LogEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer observe("clickhouse_insert_events", time.Now(), &err)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_events (`+clickhouseEventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		metadata, err := marshalMetadata(e.Metadata)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			e.ID, e.MachineID, e.Timestamp.UTC(), e.IngestedAt.UTC(), e.EventType, string(e.Severity),
			e.RawMessage, e.SourceIP, e.Username, metadata, e.CorrelationID,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *clickhouseEventRepo) Count(ctx context.Context, filter *EventFilter) (_ int64, err error) {
	defer observe("clickhouse_count_events", time.Now(), &err)
	query, args := clickhouseCountQuery(filter)

	var count uint64
	if err = r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return int64(count), nil
}

func (r *clickhouseEventRepo) List(ctx context.Context, filter *EventFilter) ([]*models.LogEvent, error) {
	where, args := eventWhere(filter, "timestamp", timeArg)
	query := "SELECT " + clickhouseSelectColumns + " FROM log_events" + where +
		fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d OFFSET %d", filter.limit(), max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var events []*models.LogEvent
	for rows.Next() {
		e := &models.LogEvent{}
		var severity, metadata string
		err := rows.Scan(&e.ID, &e.MachineID, &e.Timestamp, &e.IngestedAt, &e.EventType, &severity,
			&e.RawMessage, &e.SourceIP, &e.Username, &metadata, &e.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Severity = models.Severity(severity)
		if e.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func clickhouseCountQuery(filter *EventFilter) (string, []any) {
	where, args := eventWhere(filter, "timestamp", timeArg)
	return "SELECT count() FROM log_events" + where, args
}
