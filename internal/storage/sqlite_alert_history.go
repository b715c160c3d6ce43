package storage

import (
	"context"
	"fmt"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

func insertHistory(ctx context.Context, q querier, h *models.AlertHistory) error {
	query := `
		INSERT INTO alert_history (id, alert_id, action, severity, occurrences, message, actor, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		h.ID, h.AlertID, string(h.Action), string(h.Severity), h.Occurrences, h.Message, h.Actor,
		toNanos(h.CreatedAt),
	)
	return classify("create alert history", err)
}

func (r *sqliteAlertRepo) History(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertHistory, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history WHERE alert_id = ?", alertID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert history: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, alert_id, action, severity, occurrences, message, actor, created_at_ns
		FROM alert_history WHERE alert_id = ? ORDER BY created_at_ns, rowid LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, alertID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	var histories []*models.AlertHistory
	for rows.Next() {
		h := &models.AlertHistory{}
		var action, severity string
		var created int64
		if err := rows.Scan(&h.ID, &h.AlertID, &action, &severity, &h.Occurrences, &h.Message, &h.Actor, &created); err != nil {
			return nil, 0, fmt.Errorf("scan alert history: %w", err)
		}
		h.Action = models.HistoryAction(action)
		h.Severity = models.Severity(severity)
		h.CreatedAt = fromNanos(created)
		histories = append(histories, h)
	}
	return histories, total, rows.Err()
}
