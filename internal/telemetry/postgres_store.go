package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists telemetry events and compliance reports in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed telemetry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the telemetry tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS telemetry_events (
			id                  VARCHAR(64) PRIMARY KEY,
			event_type          VARCHAR(40) NOT NULL,
			device_fingerprint  VARCHAR(128) NOT NULL,
			risk_level          VARCHAR(10) NOT NULL,
			tenant_id           VARCHAR(64) NOT NULL DEFAULT '',
			payload             JSONB NOT NULL DEFAULT '{}',
			anonymized          BOOLEAN NOT NULL DEFAULT TRUE,
			occurred_at         TIMESTAMPTZ NOT NULL,
			persisted_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_telemetry_events_occurred
			ON telemetry_events (occurred_at DESC);

		CREATE INDEX IF NOT EXISTS idx_telemetry_events_tenant
			ON telemetry_events (tenant_id, occurred_at DESC);

		CREATE TABLE IF NOT EXISTS compliance_reports (
			id                    VARCHAR(64) PRIMARY KEY,
			period_start          TIMESTAMPTZ NOT NULL,
			period_end            TIMESTAMPTZ NOT NULL,
			total_events          BIGINT NOT NULL,
			counts_by_type        JSONB NOT NULL DEFAULT '{}',
			counts_by_risk_level  JSONB NOT NULL DEFAULT '{}',
			generated_at          TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// PersistBatch writes events in one transaction using COPY. Re-delivered
// events are ignored by id.
func (s *PostgresStore) PersistBatch(ctx context.Context, events []*Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin telemetry tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		CREATE TEMP TABLE telemetry_staging (LIKE telemetry_events INCLUDING DEFAULTS) ON COMMIT DROP
	`); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("telemetry_staging",
		"id", "event_type", "device_fingerprint", "risk_level", "tenant_id", "payload", "anonymized", "occurred_at"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, e := range events {
		payload, mErr := json.Marshal(e.Payload)
		if mErr != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to marshal payload: %w", mErr)
		}
		if _, err = stmt.ExecContext(ctx, e.ID, string(e.Type), e.DeviceFingerprint,
			string(e.RiskLevel), e.TenantID, string(payload), e.Anonymized, e.Timestamp); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy event: %w", err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO telemetry_events (id, event_type, device_fingerprint, risk_level, tenant_id, payload, anonymized, occurred_at)
		SELECT id, event_type, device_fingerprint, risk_level, tenant_id, payload, anonymized, occurred_at
		FROM telemetry_staging
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return fmt.Errorf("failed to insert telemetry events: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) RecentEvents(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, device_fingerprint, risk_level, tenant_id, payload, anonymized, occurred_at
		FROM telemetry_events
		WHERE $1 = '' OR tenant_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var e Event
		var payload []byte
		var occurredAt time.Time
		if err := rows.Scan(&e.ID, &e.Type, &e.DeviceFingerprint, &e.RiskLevel, &e.TenantID,
			&payload, &e.Anonymized, &occurredAt); err != nil {
			continue
		}
		e.Timestamp = occurredAt
		_ = json.Unmarshal(payload, &e.Payload)
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SaveReport(ctx context.Context, r *ComplianceReport) error {
	byType, err := json.Marshal(r.CountsByType)
	if err != nil {
		return fmt.Errorf("failed to marshal type counts: %w", err)
	}
	byLevel, err := json.Marshal(r.CountsByRiskLevel)
	if err != nil {
		return fmt.Errorf("failed to marshal level counts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compliance_reports (id, period_start, period_end, total_events, counts_by_type, counts_by_risk_level, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.PeriodStart, r.PeriodEnd, r.TotalEvents, byType, byLevel, r.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to save compliance report: %w", err)
	}
	return nil
}
