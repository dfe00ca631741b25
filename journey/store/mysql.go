package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prospectiq/journey-go/journey"
)

// MySQL is a production adapter backed by MySQL/MariaDB. Rows carry the
// JSON-serialized record with tenant and status lifted into indexed
// columns; UpdateInstance takes a row lock so concurrent partial updates
// apply last-write-wins without interleaving.
//
// The DSN follows go-sql-driver conventions, e.g.
// "user:pass@tcp(localhost:3306)/journeys?parseTime=true". Never hardcode
// credentials; read the DSN from the environment.
type MySQL struct {
	db *sql.DB
}

// NewMySQL opens a pooled connection and runs schema migration.
func NewMySQL(dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	m := &MySQL{db: db}
	if err := m.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MySQL) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journey_checkpoints (
			instance_id VARCHAR(64) PRIMARY KEY,
			context_json MEDIUMTEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS journey_instances (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			instance_json MEDIUMTEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_tenant (tenant_id),
			INDEX idx_status (status)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (m *MySQL) Close() error {
	return m.db.Close()
}

// SaveCheckpoint implements journey.Store.
func (m *MySQL) SaveCheckpoint(ctx context.Context, instanceID string, ec *journey.ExecutionContext) error {
	data, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO journey_checkpoints (instance_id, context_json)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE context_json = VALUES(context_json)`,
		instanceID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements journey.Store.
func (m *MySQL) LoadCheckpoint(ctx context.Context, instanceID string) (*journey.ExecutionContext, error) {
	var raw string
	err := m.db.QueryRowContext(ctx,
		`SELECT context_json FROM journey_checkpoints WHERE instance_id = ?`,
		instanceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journey.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var ec journey.ExecutionContext
	if err := json.Unmarshal([]byte(raw), &ec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return &ec, nil
}

// SaveInstance implements journey.Store.
func (m *MySQL) SaveInstance(ctx context.Context, inst *journey.JourneyInstance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO journey_instances (id, tenant_id, status, instance_json)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			tenant_id = VALUES(tenant_id),
			status = VALUES(status),
			instance_json = VALUES(instance_json)`,
		inst.InstanceID, inst.TenantID, string(inst.Status), string(data))
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// LoadInstance implements journey.Store.
func (m *MySQL) LoadInstance(ctx context.Context, id string) (*journey.JourneyInstance, error) {
	var raw string
	err := m.db.QueryRowContext(ctx,
		`SELECT instance_json FROM journey_instances WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journey.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	var inst journey.JourneyInstance
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &inst, nil
}

// UpdateInstance implements journey.Store.
func (m *MySQL) UpdateInstance(ctx context.Context, id string, update journey.InstanceUpdate) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT instance_json FROM journey_instances WHERE id = ? FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return journey.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load instance for update: %w", err)
	}

	var inst journey.JourneyInstance
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return fmt.Errorf("failed to unmarshal instance: %w", err)
	}

	applyUpdate(&inst, update)

	data, err := json.Marshal(&inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE journey_instances SET status = ?, instance_json = ? WHERE id = ?`,
		string(inst.Status), string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	return tx.Commit()
}

// ListInstances implements journey.Store.
func (m *MySQL) ListInstances(ctx context.Context, filter journey.InstanceFilter) ([]*journey.JourneyInstance, error) {
	query := `SELECT instance_json FROM journey_instances WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*journey.JourneyInstance
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}
		var inst journey.JourneyInstance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

// DeleteInstance implements journey.Store.
func (m *MySQL) DeleteInstance(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM journey_instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return journey.ErrNotFound
	}
	_, err = m.db.ExecContext(ctx,
		`DELETE FROM journey_checkpoints WHERE instance_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
