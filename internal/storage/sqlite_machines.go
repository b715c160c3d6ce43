package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

type sqliteMachineRepo struct {
	db *sql.DB
}

const machineColumns = `id, name, hostname, ip_address, api_token_hash, is_active,
	last_heartbeat_ns, created_at_ns, updated_at_ns`

func (r *sqliteMachineRepo) Create(ctx context.Context, m *models.Machine) error {
	query := `INSERT INTO machines (` + machineColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.Name, m.Hostname, m.IPAddress, m.APITokenHash, boolToInt(m.IsActive),
		nullNanos(m.LastHeartbeat), toNanos(m.CreatedAt), toNanos(m.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert machine: %w", ErrDuplicate)
	}
	return classify("insert machine", err)
}

func (r *sqliteMachineRepo) GetByID(ctx context.Context, id string) (*models.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines WHERE id = ?`
	return r.scanMachine(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteMachineRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines WHERE api_token_hash = ?`
	return r.scanMachine(r.db.QueryRowContext(ctx, query, tokenHash))
}

func (r *sqliteMachineRepo) List(ctx context.Context) ([]*models.Machine, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query machines: %w", err)
	}
	defer rows.Close()

	var machines []*models.Machine
	for rows.Next() {
		m, err := r.scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (r *sqliteMachineRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE machines SET is_active = ?, updated_at_ns = ? WHERE id = ?",
		boolToInt(active), toNanos(time.Now()), id,
	)
	if err != nil {
		return classify("set machine active", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteMachineRepo) Touch(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE machines SET last_heartbeat_ns = MAX(COALESCE(last_heartbeat_ns, 0), ?) WHERE id = ?",
		toNanos(at), id,
	)
	if err != nil {
		return classify("touch machine", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteMachineRepo) scanMachine(row rowScanner) (*models.Machine, error) {
	m := &models.Machine{}
	var active int
	var heartbeat sql.NullInt64
	var created, updated int64

	err := row.Scan(&m.ID, &m.Name, &m.Hostname, &m.IPAddress, &m.APITokenHash, &active,
		&heartbeat, &created, &updated)
	if err != nil {
		return nil, classify("scan machine", err)
	}

	m.IsActive = active == 1
	m.LastHeartbeat = timePtr(heartbeat)
	m.CreatedAt = fromNanos(created)
	m.UpdatedAt = fromNanos(updated)
	return m, nil
}
