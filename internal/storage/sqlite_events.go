package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
)

type sqliteEventRepo struct {
	db *sql.DB
}

const eventColumns = `id, machine_id, ts_ns, ingested_at_ns, event_type, severity, raw_message,
	source_ip, username, metadata_json, correlation_id`

func nanosArg(t time.Time) any { return toNanos(t) }

func (r *sqliteEventRepo) Insert(ctx context.Context, e *models.LogEvent) (err error) {
	defer observe("sqlite_insert_event", time.Now(), &err)

	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO log_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.MachineID, toNanos(e.Timestamp), toNanos(e.IngestedAt), e.EventType, string(e.Severity),
		e.RawMessage, e.SourceIP, e.Username, metadata, e.CorrelationID,
	)
	return classify("insert event", err)
}

func (r *sqliteEventRepo) Count(ctx context.Context, filter *EventFilter) (_ int64, err error) {
	defer observe("sqlite_count_events", time.Now(), &err)

	where, args := eventWhere(filter, "ts_ns", nanosArg)

	var count int64
	if err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_events"+where, args...).Scan(&count); err != nil {
		return 0, classify("count events", err)
	}
	return count, nil
}

func (r *sqliteEventRepo) List(ctx context.Context, filter *EventFilter) ([]*models.LogEvent, error) {
	where, args := eventWhere(filter, "ts_ns", nanosArg)
	query := "SELECT " + eventColumns + " FROM log_events" + where + " ORDER BY ts_ns DESC LIMIT ? OFFSET ?"
	args = append(args, filter.limit(), filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query events", err)
	}
	defer rows.Close()

	var events []*models.LogEvent
	for rows.Next() {
		e := &models.LogEvent{}
		var ts, ingested int64
		var severity, metadata string
		err := rows.Scan(&e.ID, &e.MachineID, &ts, &ingested, &e.EventType, &severity, &e.RawMessage,
			&e.SourceIP, &e.Username, &metadata, &e.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = fromNanos(ts)
		e.IngestedAt = fromNanos(ingested)
		e.Severity = models.Severity(severity)
		if e.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// observe records a storage call; errp is read when the deferred call runs.
func observe(operation string, start time.Time, errp *error) {
	metrics.ObserveStorage(operation, start, *errp)
}
