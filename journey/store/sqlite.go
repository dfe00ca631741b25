package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prospectiq/journey-go/journey"
	_ "modernc.org/sqlite"
)

// SQLite is a single-file durable adapter built on the pure-Go
// modernc.org/sqlite driver.
//
// Designed for development, testing, and single-process deployments that
// need persistence without a database server. Contexts and instances are
// stored JSON-serialized with status and tenant lifted into indexed
// columns for filtering.
//
// WAL mode is enabled so readers never block behind the single writer.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) the database at path and runs
// schema migration. Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journey_checkpoints (
			instance_id TEXT PRIMARY KEY,
			context_json TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS journey_instances (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			instance_json TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journey_instances_tenant
			ON journey_instances(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_journey_instances_status
			ON journey_instances(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveCheckpoint implements journey.Store.
func (s *SQLite) SaveCheckpoint(ctx context.Context, instanceID string, ec *journey.ExecutionContext) error {
	data, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journey_checkpoints (instance_id, context_json, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(instance_id) DO UPDATE SET
			context_json = excluded.context_json,
			updated_at = CURRENT_TIMESTAMP`,
		instanceID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements journey.Store.
func (s *SQLite) LoadCheckpoint(ctx context.Context, instanceID string) (*journey.ExecutionContext, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
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
func (s *SQLite) SaveInstance(ctx context.Context, inst *journey.JourneyInstance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journey_instances (id, tenant_id, status, instance_json, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			status = excluded.status,
			instance_json = excluded.instance_json,
			updated_at = CURRENT_TIMESTAMP`,
		inst.InstanceID, inst.TenantID, string(inst.Status), string(data))
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// LoadInstance implements journey.Store.
func (s *SQLite) LoadInstance(ctx context.Context, id string) (*journey.JourneyInstance, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
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

// UpdateInstance implements journey.Store. The row is read, patched, and
// written back inside one transaction; last write wins.
func (s *SQLite) UpdateInstance(ctx context.Context, id string, update journey.InstanceUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT instance_json FROM journey_instances WHERE id = ?`, id).Scan(&raw)
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
	_, err = tx.ExecContext(ctx, `
		UPDATE journey_instances
		SET status = ?, instance_json = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(inst.Status), string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	return tx.Commit()
}

// ListInstances implements journey.Store.
func (s *SQLite) ListInstances(ctx context.Context, filter journey.InstanceFilter) ([]*journey.JourneyInstance, error) {
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

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLite) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
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
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM journey_checkpoints WHERE instance_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// applyUpdate patches an instance in place; shared by the SQL adapters.
func applyUpdate(inst *journey.JourneyInstance, update journey.InstanceUpdate) {
	if update.Status != nil {
		inst.Status = *update.Status
	}
	if update.Data != nil {
		inst.Data = *update.Data
	}
	if update.History != nil {
		inst.History = update.History
	}
	if !update.UpdatedAt.IsZero() {
		inst.UpdatedAt = update.UpdatedAt
	}
}
