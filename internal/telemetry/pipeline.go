package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/trustgate/internal/health"
	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/traces"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 60 * time.Second

	drainTimeout = 5 * time.Second
)

// Config controls pipeline behavior.
type Config struct {
	Enabled      bool
	Anonymize    bool
	BatchSize    int
	BatchTimeout time.Duration
	Salt         string
}

// DefaultConfig returns an enabled, anonymizing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Anonymize:    true,
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultBatchTimeout,
	}
}

// Escalator accepts compliance-relevant events for regulatory submission.
// Submit must not block.
type Escalator interface {
	Submit(e *Event) bool
}

// Broadcaster streams recorded events to realtime subscribers.
type Broadcaster interface {
	BroadcastEvent(e *Event)
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	TotalRecorded        int64 `json:"totalEventsRecorded"`
	QueueDepth           int   `json:"queueDepth"`
	Enabled              bool  `json:"telemetryEnabled"`
	BatchingEnabled      bool  `json:"batchingEnabled"`
	AnonymizationEnabled bool  `json:"anonymizationEnabled"`
	BatchSize            int   `json:"batchSize"`
	Flushes              int64 `json:"flushes"`
	FlushFailures        int64 `json:"flushFailures"`
	Persisted            int64 `json:"eventsPersisted"`
	Escalated            int64 `json:"eventsEscalated"`
	EscalationRejected   int64 `json:"escalationsRejected"`
}

// Pipeline records events and flushes them to a Store in batches.
type Pipeline struct {
	cfg         Config
	store       Store
	anon        *Anonymizer
	agg         *Aggregator
	escalator   Escalator
	broadcaster Broadcaster
	logger      *slog.Logger

	q       queue
	flushMu sync.Mutex
	flushCh chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	recorded      atomic.Int64
	flushes       atomic.Int64
	flushFailures atomic.Int64
	persisted     atomic.Int64
	escalated     atomic.Int64
	escRejected   atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAggregator counts every recorded event in agg.
func WithAggregator(agg *Aggregator) Option {
	return func(p *Pipeline) { p.agg = agg }
}

// WithEscalator forwards compliance-relevant events to esc.
func WithEscalator(esc Escalator) Option {
	return func(p *Pipeline) { p.escalator = esc }
}

// WithBroadcaster streams recorded events to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Pipeline) { p.broadcaster = b }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline persisting to store. Non-positive batch
// settings fall back to the defaults.
func NewPipeline(cfg Config, store Store, opts ...Option) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	p := &Pipeline{
		cfg:     cfg,
		store:   store,
		anon:    NewAnonymizer(cfg.Salt),
		logger:  slog.Default(),
		flushCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record enqueues e for persistence and reports whether it was accepted.
// It never blocks on I/O and is a no-op when telemetry is disabled.
func (p *Pipeline) Record(e *Event) bool {
	if !p.cfg.Enabled || e == nil {
		return false
	}
	if p.cfg.Anonymize {
		e = p.anon.Anonymize(e)
	}

	n := p.q.push(e)
	p.recorded.Add(1)
	metrics.TelemetryEventsTotal.WithLabelValues(string(e.Type)).Inc()
	metrics.TelemetryQueueDepth.Set(float64(n))

	if p.agg != nil {
		p.agg.Observe(e)
	}
	if p.escalator != nil && e.RequiresCompliance() {
		if p.escalator.Submit(e) {
			p.escalated.Add(1)
		} else {
			p.escRejected.Add(1)
		}
	}
	if p.broadcaster != nil {
		p.broadcaster.BroadcastEvent(e)
	}

	if n >= p.cfg.BatchSize {
		p.signalFlush()
	}
	return true
}

func (p *Pipeline) signalFlush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// QueueLen returns the number of events waiting to be flushed.
func (p *Pipeline) QueueLen() int {
	return p.q.len()
}

// Flush persists up to BatchSize of the oldest queued events. On failure
// the batch is put back at the head of the queue and the returned error
// wraps ErrPersist. Concurrent calls are serialized.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	batch := p.q.drain(p.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	ctx, span := traces.StartSpan(ctx, "telemetry.Flush", traces.BatchSize(len(batch)))
	defer span.End()

	if err := p.store.PersistBatch(ctx, batch); err != nil {
		p.q.requeueFront(batch)
		p.flushFailures.Add(1)
		metrics.TelemetryFlushesTotal.WithLabelValues("error").Inc()
		metrics.TelemetryQueueDepth.Set(float64(p.q.len()))
		traces.RecordError(span, err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	p.flushes.Add(1)
	p.persisted.Add(int64(len(batch)))
	metrics.TelemetryFlushesTotal.WithLabelValues("ok").Inc()
	metrics.TelemetryEventsPersistedTotal.Add(float64(len(batch)))

	remaining := p.q.len()
	metrics.TelemetryQueueDepth.Set(float64(remaining))
	if remaining >= p.cfg.BatchSize {
		p.signalFlush()
	}
	return nil
}

// Drain flushes until the queue is empty or a flush fails.
func (p *Pipeline) Drain(ctx context.Context) error {
	for p.q.len() > 0 {
		if err := p.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Running reports whether the flush loop is actively running.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Start runs the flush worker until ctx is done or Stop is called, then
// makes a final attempt to drain the queue. Call in a goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finalDrain(ctx)
			return
		case <-p.stop:
			p.finalDrain(ctx)
			return
		case <-ticker.C:
			p.safeFlush(ctx, "periodic")
		case <-p.flushCh:
			p.safeFlush(ctx, "reactive")
		}
	}
}

// Stop signals the flush worker to drain and exit. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pipeline) safeFlush(ctx context.Context, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in telemetry flush", "panic", fmt.Sprint(r))
		}
	}()
	if err := p.Flush(ctx); err != nil {
		p.logger.Warn("telemetry flush failed, batch re-queued",
			"trigger", trigger, "queueDepth", p.q.len(), "error", err)
	}
}

func (p *Pipeline) finalDrain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		p.logger.Warn("telemetry events left unflushed at shutdown",
			"queueDepth", p.q.len(), "error", err)
	}
}

// RecentEvents lists persisted events from the store, newest first. Events
// still queued are not included.
func (p *Pipeline) RecentEvents(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	return p.store.RecentEvents(ctx, tenantID, limit)
}

// Stats returns the current pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		TotalRecorded:        p.recorded.Load(),
		QueueDepth:           p.q.len(),
		Enabled:              p.cfg.Enabled,
		BatchingEnabled:      p.cfg.BatchSize > 1,
		AnonymizationEnabled: p.cfg.Anonymize,
		BatchSize:            p.cfg.BatchSize,
		Flushes:              p.flushes.Load(),
		FlushFailures:        p.flushFailures.Load(),
		Persisted:            p.persisted.Load(),
		Escalated:            p.escalated.Load(),
		EscalationRejected:   p.escRejected.Load(),
	}
}

// maxHealthyBacklog is the queue depth, in batches, above which the
// pipeline reports itself unhealthy.
const maxHealthyBacklog = 10

// HealthCheck reports the pipeline as down when the backlog grows past
// maxHealthyBacklog batches.
func (p *Pipeline) HealthCheck(ctx context.Context) health.Status {
	if !p.cfg.Enabled {
		return health.Status{Name: "telemetry", Healthy: true, Detail: "disabled"}
	}
	depth := p.q.len()
	if depth > p.cfg.BatchSize*maxHealthyBacklog {
		return health.Status{Name: "telemetry", Healthy: false, Detail: fmt.Sprintf("backlog of %d events", depth)}
	}
	return health.Status{Name: "telemetry", Healthy: true, Detail: fmt.Sprintf("queue depth %d", depth)}
}
