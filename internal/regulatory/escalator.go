package regulatory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/trustgate/internal/telemetry"
)

const (
	DefaultQueueSize     = 256
	DefaultSubmitTimeout = 10 * time.Second
)

// EscalationStats counts escalator outcomes.
type EscalationStats struct {
	Submitted int64 `json:"submitted"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// Escalator forwards events to a Sink from a single background worker.
// Events are anonymized on submission whether or not the pipeline that
// recorded them anonymizes.
type Escalator struct {
	sink    Sink
	ch      chan *telemetry.Event
	anon    *telemetry.Anonymizer
	timeout time.Duration
	logger  *slog.Logger

	submitted atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewEscalator creates an escalator with a queue of queueSize events.
func NewEscalator(sink Sink, queueSize int, logger *slog.Logger) *Escalator {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Escalator{
		sink:    sink,
		ch:      make(chan *telemetry.Event, queueSize),
		anon:    telemetry.NewAnonymizer(""),
		timeout: DefaultSubmitTimeout,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// WithSalt sets the salt used to anonymize escalated events.
func (x *Escalator) WithSalt(salt string) *Escalator {
	x.anon = telemetry.NewAnonymizer(salt)
	return x
}

// Submit anonymizes e and queues it for escalation without blocking. It
// returns false and counts the event as dropped when the queue is full.
func (x *Escalator) Submit(e *telemetry.Event) bool {
	e = x.anon.Anonymize(e)
	select {
	case x.ch <- e:
		return true
	default:
		x.dropped.Add(1)
		x.logger.Warn("regulatory escalation queue full, event dropped",
			"eventId", e.ID, "eventType", e.Type)
		return false
	}
}

// Running reports whether the worker is actively running.
func (x *Escalator) Running() bool {
	return x.running.Load()
}

// Start runs the escalation worker. Call in a goroutine. Events still
// queued when it stops are submitted before it returns.
func (x *Escalator) Start(ctx context.Context) {
	x.running.Store(true)
	defer x.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			x.drain(context.WithoutCancel(ctx))
			return
		case <-x.stop:
			x.drain(context.WithoutCancel(ctx))
			return
		case e := <-x.ch:
			x.safeSubmit(ctx, e)
		}
	}
}

// Stop signals the worker to drain and exit. Safe to call more than once.
func (x *Escalator) Stop() {
	x.stopOnce.Do(func() { close(x.stop) })
}

func (x *Escalator) drain(ctx context.Context) {
	for {
		select {
		case e := <-x.ch:
			x.safeSubmit(ctx, e)
		default:
			return
		}
	}
}

func (x *Escalator) safeSubmit(ctx context.Context, e *telemetry.Event) {
	defer func() {
		if r := recover(); r != nil {
			x.failed.Add(1)
			x.logger.Error("panic in regulatory escalator", "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	if err := x.sink.SubmitEvent(ctx, e); err != nil {
		x.failed.Add(1)
		x.logger.Warn("regulatory escalation failed",
			"eventId", e.ID, "eventType", e.Type, "riskLevel", e.RiskLevel, "error", err)
		return
	}
	x.submitted.Add(1)
}

// Stats returns the escalator counters.
func (x *Escalator) Stats() EscalationStats {
	return EscalationStats{
		Submitted: x.submitted.Load(),
		Failed:    x.failed.Load(),
		Dropped:   x.dropped.Load(),
		Pending:   len(x.ch),
	}
}
