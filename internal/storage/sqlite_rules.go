package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

type sqliteRuleRepo struct {
	db *sql.DB
}

const ruleColumns = `id, name, slug, description, event_type, severity, threshold,
	window_minutes, enabled, created_at_ns, updated_at_ns`

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.Rule) error {
	query := `INSERT INTO rules (` + ruleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Slug, rule.Description, rule.EventType, string(rule.Severity),
		rule.Threshold, rule.WindowMinutes, boolToInt(rule.Enabled),
		toNanos(rule.CreatedAt), toNanos(rule.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert rule %q: %w", rule.Slug, ErrDuplicate)
	}
	return classify("insert rule", err)
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	return r.scanRule(r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
}

func (r *sqliteRuleRepo) GetBySlug(ctx context.Context, slug string) (*models.Rule, error) {
	return r.scanRule(r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE slug = ?`, slug))
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.Rule) error {
	query := `
		UPDATE rules SET name = ?, slug = ?, description = ?, event_type = ?, severity = ?,
			threshold = ?, window_minutes = ?, enabled = ?, updated_at_ns = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Slug, rule.Description, rule.EventType, string(rule.Severity),
		rule.Threshold, rule.WindowMinutes, boolToInt(rule.Enabled), toNanos(rule.UpdatedAt),
		rule.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update rule %q: %w", rule.Slug, ErrDuplicate)
	}
	if err != nil {
		return classify("update rule", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return classify("delete rule", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRuleRepo) List(ctx context.Context) ([]*models.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY name`)
}

func (r *sqliteRuleRepo) FindEnabled(ctx context.Context, eventType string) ([]*models.Rule, error) {
	return r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE event_type = ? AND enabled = 1 ORDER BY name`,
		eventType,
	)
}

func (r *sqliteRuleRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rules SET enabled = ?, updated_at_ns = ? WHERE id = ?",
		boolToInt(enabled), toNanos(time.Now()), id,
	)
	if err != nil {
		return classify("set rule enabled", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRuleRepo) queryRules(ctx context.Context, query string, args ...any) ([]*models.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query rules", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *sqliteRuleRepo) scanRule(row rowScanner) (*models.Rule, error) {
	rule := &models.Rule{}
	var severity string
	var enabled int
	var created, updated int64

	err := row.Scan(&rule.ID, &rule.Name, &rule.Slug, &rule.Description, &rule.EventType, &severity,
		&rule.Threshold, &rule.WindowMinutes, &enabled, &created, &updated)
	if err != nil {
		return nil, classify("scan rule", err)
	}

	rule.Severity = models.Severity(severity)
	rule.Enabled = enabled == 1
	rule.CreatedAt = fromNanos(created)
	rule.UpdatedAt = fromNanos(updated)
	return rule, nil
}
