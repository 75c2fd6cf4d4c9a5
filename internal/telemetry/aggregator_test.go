package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/trustgate/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	failures atomic.Int64
	calls    atomic.Int64
	last     atomic.Pointer[ComplianceReport]
}

func (s *countingSink) SubmitReport(_ context.Context, r *ComplianceReport) error {
	s.calls.Add(1)
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return errors.New("regulator unavailable")
	}
	s.last.Store(r)
	return nil
}

func TestAggregator_ZeroEventReport(t *testing.T) {
	agg := NewAggregator()
	r := agg.Cut()

	assert.True(t, strings.HasPrefix(r.ID, "rpt_"))
	assert.Zero(t, r.TotalEvents)
	require.Len(t, r.CountsByType, len(EventTypes))
	for _, typ := range EventTypes {
		assert.Zero(t, r.CountsByType[string(typ)])
	}
	require.Len(t, r.CountsByRiskLevel, len(policy.Levels))
	assert.False(t, r.PeriodEnd.Before(r.PeriodStart))
}

func TestAggregator_CutResetsWindow(t *testing.T) {
	agg := NewAggregator()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return base }
	agg.reset(base)

	agg.Observe(&Event{Type: EventTransactionBlocked, RiskLevel: policy.LevelCritical})
	agg.Observe(&Event{Type: EventTransactionBlocked, RiskLevel: policy.LevelHigh})
	agg.Observe(&Event{Type: EventSecurityCheck, RiskLevel: policy.LevelLow})

	agg.now = func() time.Time { return base.Add(24 * time.Hour) }
	r := agg.Cut()

	assert.EqualValues(t, 3, r.TotalEvents)
	assert.EqualValues(t, 2, r.CountsByType[string(EventTransactionBlocked)])
	assert.EqualValues(t, 1, r.CountsByRiskLevel[string(policy.LevelCritical)])
	assert.Equal(t, base, r.PeriodStart)
	assert.Equal(t, base.Add(24*time.Hour), r.PeriodEnd)

	next := agg.Snapshot()
	assert.Zero(t, next.TotalEvents)
	assert.Equal(t, base.Add(24*time.Hour), next.PeriodStart)
}

func TestReporter_GenerateRetriesSink(t *testing.T) {
	sink := &countingSink{}
	sink.failures.Store(2)
	store := NewMemoryStore()
	agg := NewAggregator()
	agg.Observe(&Event{Type: EventPolicyViolation, RiskLevel: policy.LevelHigh})

	r := NewReporter(agg, store, sink, time.Hour, slog.Default())
	r.backoff = time.Millisecond

	rep, err := r.Generate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, sink.calls.Load())
	assert.Same(t, rep, sink.last.Load())
	assert.Same(t, rep, r.Latest())
	assert.EqualValues(t, 1, rep.TotalEvents)
	require.Len(t, store.Reports(), 1)
	assert.Equal(t, rep.ID, store.Reports()[0].ID)
}

func TestReporter_SinkFailureStillRetainsReport(t *testing.T) {
	sink := &countingSink{}
	sink.failures.Store(10)
	r := NewReporter(NewAggregator(), nil, sink, time.Hour, slog.Default())
	r.backoff = time.Millisecond

	rep, err := r.Generate(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, reportSubmitAttempts, sink.calls.Load())
	assert.Same(t, rep, r.Latest())
}

func TestReporter_RetainsLastReports(t *testing.T) {
	r := NewReporter(NewAggregator(), nil, nil, 0, slog.Default())
	assert.Nil(t, r.Latest())
	assert.Equal(t, defaultReportInterval, r.interval)

	for range reportsRetained + 5 {
		_, err := r.Generate(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, r.Reports(), reportsRetained)
}

func TestReporter_PeriodicLoop(t *testing.T) {
	r := NewReporter(NewAggregator(), nil, nil, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	require.Eventually(t, func() bool { return r.Latest() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.Running())
	cancel()
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)
}
