package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// alertColumns resolves rule and machine names with scalar subqueries so the
// same list can be used in SELECT and in UPDATE ... RETURNING.
const alertColumns = `id, rule_id, machine_id, source_ip, title, description, severity, status,
	occurrences, first_seen_ns, last_seen_ns, is_escalated, escalated_at_ns, metadata_json,
	created_at_ns, updated_at_ns,
	(SELECT name FROM rules WHERE rules.id = alerts.rule_id),
	(SELECT COALESCE(NULLIF(hostname, ''), name) FROM machines WHERE machines.id = alerts.machine_id)`

type sqliteAlertRepo struct {
	db *sql.DB
}

func (r *sqliteAlertRepo) WithinTx(ctx context.Context, fn func(tx AlertTx) error) (err error) {
	defer observe("sqlite_alert_tx", time.Now(), &err)
	return r.withinTx(ctx, func(t *sqliteAlertTx) error { return fn(t) })
}

func (r *sqliteAlertRepo) withinTx(ctx context.Context, fn func(t *sqliteAlertTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin alert transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteAlertTx{q: tx}); err != nil {
		return err
	}
	return classify("commit alert transaction", tx.Commit())
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	return getAlert(ctx, r.db, id)
}

func (r *sqliteAlertRepo) List(ctx context.Context, filter *AlertFilter) ([]*models.Alert, int64, error) {
	var conditions string
	var args []any
	add := func(cond string, arg any) {
		if conditions == "" {
			conditions = " WHERE " + cond
		} else {
			conditions += " AND " + cond
		}
		args = append(args, arg)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.Severity != "" {
		add("severity = ?", string(filter.Severity))
	}
	if filter.MachineID != "" {
		add("machine_id = ?", filter.MachineID)
	}
	if filter.RuleID != "" {
		add("rule_id = ?", filter.RuleID)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+conditions, args...).Scan(&total); err != nil {
		return nil, 0, classify("count alerts", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + alertColumns + " FROM alerts" + conditions + " ORDER BY last_seen_ns DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, classify("query alerts", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}

func (r *sqliteAlertRepo) SetStatus(ctx context.Context, id string, status models.AlertStatus, actor string) (*models.Alert, error) {
	var updated *models.Alert
	err := r.withinTx(ctx, func(t *sqliteAlertTx) error {
		current, err := getAlert(ctx, t.q, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
		}

		now := time.Now()
		query := "UPDATE alerts SET status = ?, updated_at_ns = ? WHERE id = ? AND status = ? RETURNING " + alertColumns
		updated, err = scanAlert(t.q.QueryRowContext(ctx, query, string(status), toNanos(now), id, string(current.Status)))
		if err != nil {
			return err
		}

		return t.AddHistory(ctx, &models.AlertHistory{
			AlertID:     id,
			Action:      historyActionFor(status),
			Severity:    updated.Severity,
			Occurrences: updated.Occurrences,
			Message:     fmt.Sprintf("status changed from %s to %s", current.Status, status),
			Actor:       actor,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func historyActionFor(status models.AlertStatus) models.HistoryAction {
	if status == models.AlertStatusClosed {
		return models.HistoryClosed
	}
	return models.HistoryAcknowledged
}

// sqliteAlertTx implements AlertTx on an open transaction.
type sqliteAlertTx struct {
	q querier
}

func (t *sqliteAlertTx) FindOpen(ctx context.Context, key models.DedupKey) (*models.Alert, error) {
	query := "SELECT " + alertColumns + ` FROM alerts
		WHERE rule_id = ? AND machine_id = ? AND source_ip = ? AND status = 'open'`
	a, err := scanAlert(t.q.QueryRowContext(ctx, query, key.RuleID, key.MachineID, key.SourceIP))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (t *sqliteAlertTx) Insert(ctx context.Context, a *models.Alert) error {
	metadata, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO alerts (id, rule_id, machine_id, source_ip, title, description, severity,
			severity_rank, status, occurrences, first_seen_ns, last_seen_ns, is_escalated,
			escalated_at_ns, metadata_json, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = t.q.ExecContext(ctx, query,
		a.ID, a.RuleID, a.MachineID, a.SourceIP, a.Title, a.Description, string(a.Severity),
		a.Severity.Rank(), string(a.Status), a.Occurrences, toNanos(a.FirstSeen), toNanos(a.LastSeen),
		boolToInt(a.IsEscalated), nullNanos(a.EscalatedAt), metadata,
		toNanos(a.CreatedAt), toNanos(a.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrOpenAlertExists
	}
	return classify("insert alert", err)
}

// ApplyBreach never lowers occurrences, last_seen or severity: each column is
// computed from its current value in the same statement.
func (t *sqliteAlertTx) ApplyBreach(ctx context.Context, id string, b Breach) (*models.Alert, error) {
	metadata, err := marshalMetadata(b.Metadata)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE alerts SET
			occurrences = MAX(occurrences + 1, ?),
			last_seen_ns = MAX(last_seen_ns, ?),
			severity = CASE WHEN ? > severity_rank THEN ? ELSE severity END,
			severity_rank = MAX(severity_rank, ?),
			metadata_json = ?,
			updated_at_ns = ?
		WHERE id = ? AND status = 'open'
		RETURNING ` + alertColumns
	rank := b.Severity.Rank()
	return scanAlert(t.q.QueryRowContext(ctx, query,
		b.Occurrences, toNanos(b.SeenAt), rank, string(b.Severity), rank, metadata, toNanos(b.SeenAt), id,
	))
}

func (t *sqliteAlertTx) MarkEscalated(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := t.q.ExecContext(ctx,
		"UPDATE alerts SET is_escalated = 1, escalated_at_ns = ?, updated_at_ns = ? WHERE id = ? AND is_escalated = 0",
		toNanos(at), toNanos(at), id,
	)
	if err != nil {
		return false, classify("mark alert escalated", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark alert escalated: %w", err)
	}
	return rows == 1, nil
}

func (t *sqliteAlertTx) AddHistory(ctx context.Context, h *models.AlertHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return insertHistory(ctx, t.q, h)
}

func getAlert(ctx context.Context, q querier, id string) (*models.Alert, error) {
	return scanAlert(q.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id))
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	a := &models.Alert{}
	var severity, status, metadata string
	var escalated int
	var escalatedAt sql.NullInt64
	var firstSeen, lastSeen, created, updated int64
	var ruleName, machineName sql.NullString

	err := row.Scan(&a.ID, &a.RuleID, &a.MachineID, &a.SourceIP, &a.Title, &a.Description,
		&severity, &status, &a.Occurrences, &firstSeen, &lastSeen, &escalated, &escalatedAt,
		&metadata, &created, &updated, &ruleName, &machineName)
	if err != nil {
		return nil, classify("scan alert", err)
	}

	a.Severity = models.Severity(severity)
	a.Status = models.AlertStatus(status)
	a.FirstSeen = fromNanos(firstSeen)
	a.LastSeen = fromNanos(lastSeen)
	a.IsEscalated = escalated == 1
	a.EscalatedAt = timePtr(escalatedAt)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	a.RuleName = ruleName.String
	a.MachineName = machineName.String
	if a.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return a, nil
}
