package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/trustgate/internal/idgen"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/retry"
)

// ComplianceReport aggregates the events recorded in one reporting window.
type ComplianceReport struct {
	ID                string           `json:"reportId"`
	PeriodStart       time.Time        `json:"periodStart"`
	PeriodEnd         time.Time        `json:"periodEnd"`
	TotalEvents       int64            `json:"totalEvents"`
	CountsByType      map[string]int64 `json:"countsByType"`
	CountsByRiskLevel map[string]int64 `json:"countsByRiskLevel"`
	GeneratedAt       time.Time        `json:"generatedAt"`
}

// Aggregator counts recorded events by type and risk level for the
// current reporting window.
type Aggregator struct {
	mu      sync.Mutex
	start   time.Time
	total   int64
	byType  map[string]int64
	byLevel map[string]int64
	now     func() time.Time
}

// NewAggregator creates an aggregator whose first window starts now.
func NewAggregator() *Aggregator {
	a := &Aggregator{now: time.Now}
	a.reset(a.now().UTC())
	return a
}

func (a *Aggregator) reset(start time.Time) {
	a.start = start
	a.total = 0
	a.byType = make(map[string]int64, len(EventTypes))
	for _, t := range EventTypes {
		a.byType[string(t)] = 0
	}
	a.byLevel = make(map[string]int64, len(policy.Levels))
	for _, l := range policy.Levels {
		a.byLevel[string(l)] = 0
	}
}

// Observe counts e in the current window.
func (a *Aggregator) Observe(e *Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	a.byType[string(e.Type)]++
	a.byLevel[string(e.RiskLevel)]++
}

// Snapshot returns the current window's counts without resetting it.
func (a *Aggregator) Snapshot() *ComplianceReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report(a.now().UTC())
}

// Cut closes the current window, returning its report, and starts a new one.
func (a *Aggregator) Cut() *ComplianceReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	end := a.now().UTC()
	r := a.report(end)
	r.ID = idgen.WithPrefix(idgen.PrefixReport)
	a.reset(end)
	return r
}

func (a *Aggregator) report(end time.Time) *ComplianceReport {
	return &ComplianceReport{
		PeriodStart:       a.start,
		PeriodEnd:         end,
		TotalEvents:       a.total,
		CountsByType:      maps.Clone(a.byType),
		CountsByRiskLevel: maps.Clone(a.byLevel),
		GeneratedAt:       end,
	}
}

// ReportSink receives generated compliance reports.
type ReportSink interface {
	SubmitReport(ctx context.Context, r *ComplianceReport) error
}

const (
	defaultReportInterval = 24 * time.Hour
	reportsRetained       = 30
	reportSubmitAttempts  = 3
)

// Reporter periodically cuts the aggregator window into a ComplianceReport,
// saves it and submits it to the regulatory sink.
type Reporter struct {
	agg      *Aggregator
	store    ReportStore
	sink     ReportSink
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	reports []*ComplianceReport

	stop    chan struct{}
	running atomic.Bool
}

// NewReporter creates a compliance report job. store and sink may be nil.
func NewReporter(agg *Aggregator, store ReportStore, sink ReportSink, interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &Reporter{
		agg:      agg,
		store:    store,
		sink:     sink,
		interval: interval,
		backoff:  time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the report loop is actively running.
func (r *Reporter) Running() bool {
	return r.running.Load()
}

// Start begins the report loop. Call in a goroutine.
func (r *Reporter) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeGenerate(ctx)
		}
	}
}

// Stop signals the report loop to stop.
func (r *Reporter) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reporter) safeGenerate(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in compliance reporter", "panic", fmt.Sprint(p))
		}
	}()
	if _, err := r.Generate(ctx); err != nil {
		r.logger.Warn("compliance report submission failed", "error", err)
	}
}

// Generate closes the current window and produces its report. The report
// is retained even when saving or submission fails.
func (r *Reporter) Generate(ctx context.Context) (*ComplianceReport, error) {
	rep := r.agg.Cut()

	r.mu.Lock()
	r.reports = append(r.reports, rep)
	if len(r.reports) > reportsRetained {
		r.reports = r.reports[len(r.reports)-reportsRetained:]
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveReport(ctx, rep); err != nil {
			r.logger.Warn("failed to save compliance report", "reportId", rep.ID, "error", err)
		}
	}

	r.logger.Info("compliance report generated",
		"reportId", rep.ID,
		"totalEvents", rep.TotalEvents,
		"periodStart", rep.PeriodStart,
		"periodEnd", rep.PeriodEnd,
	)

	if r.sink == nil {
		return rep, nil
	}
	err := retry.DoNotify(ctx, reportSubmitAttempts, r.backoff, func() error {
		return r.sink.SubmitReport(ctx, rep)
	}, func(attempt int, err error, next time.Duration) {
		r.logger.Debug("retrying compliance report submission",
			"reportId", rep.ID, "attempt", attempt, "next", next, "error", err)
	})
	if err != nil {
		return rep, fmt.Errorf("submit report %s: %w", rep.ID, err)
	}
	return rep, nil
}

// Latest returns the most recent report, or nil if none was generated.
func (r *Reporter) Latest() *ComplianceReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.reports) == 0 {
		return nil
	}
	return r.reports[len(r.reports)-1]
}

// Window returns the counts of the window still open, without closing it.
func (r *Reporter) Window() *ComplianceReport {
	return r.agg.Snapshot()
}

// Reports returns the retained reports, oldest first.
func (r *Reporter) Reports() []*ComplianceReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ComplianceReport(nil), r.reports...)
}
