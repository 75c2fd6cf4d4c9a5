package telemetry

import (
	"context"
	"errors"
)

// ErrPersist wraps failures writing a batch to the Store.
var ErrPersist = errors.New("telemetry: failed to persist batch")

// Store persists flushed telemetry batches.
type Store interface {
	PersistBatch(ctx context.Context, events []*Event) error
	// RecentEvents returns up to limit of tenantID's events, newest first.
	// An empty tenantID lists events from every tenant.
	RecentEvents(ctx context.Context, tenantID string, limit int) ([]*Event, error)
}

// ReportStore persists generated compliance reports.
type ReportStore interface {
	SaveReport(ctx context.Context, r *ComplianceReport) error
}
