package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id                  VARCHAR(64) PRIMARY KEY,
			tenant_id           VARCHAR(64) NOT NULL DEFAULT '',
			device_fingerprint  VARCHAR(128) NOT NULL,
			risk_level          VARCHAR(10) NOT NULL CHECK (risk_level IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
			action              VARCHAR(30) NOT NULL,
			violations          JSONB NOT NULL DEFAULT '[]',
			evaluated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_device
			ON risk_assessments (device_fingerprint, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_blocks
			ON risk_assessments (evaluated_at DESC) WHERE action = 'BLOCK';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	violationsJSON, err := json.Marshal(a.Violations)
	if err != nil {
		return fmt.Errorf("failed to marshal violations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, tenant_id, device_fingerprint, risk_level, action, violations, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		a.ID,
		a.TenantID,
		a.DeviceFingerprint,
		string(a.Level),
		string(a.Action),
		violationsJSON,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByDevice(ctx context.Context, fingerprint string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, device_fingerprint, risk_level, action, violations, evaluated_at
		FROM risk_assessments
		WHERE device_fingerprint = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var violationsJSON []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&a.ID, &a.TenantID, &a.DeviceFingerprint, &a.Level, &a.Action, &violationsJSON, &evaluatedAt); err != nil {
			continue
		}
		a.EvaluatedAt = evaluatedAt
		_ = json.Unmarshal(violationsJSON, &a.Violations)
		result = append(result, &a)
	}
	return result, rows.Err()
}
