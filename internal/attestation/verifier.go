package attestation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/trustgate/internal/circuitbreaker"
	"github.com/mbd888/trustgate/internal/health"
	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/traces"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 3 * time.Second

// Verifier validates evidence and obtains a verdict from a Provider.
type Verifier struct {
	provider Provider
	timeout  time.Duration
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTimeout sets the provider call timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithBreaker guards provider calls with a circuit breaker keyed by the
// provider name.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(v *Verifier) { v.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier creates a verifier backed by p.
func NewVerifier(p Provider, opts ...Option) *Verifier {
	v := &Verifier{
		provider: p,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates ev and returns a Result. It does not return errors or
// panic; provider failures, timeouts and open circuits yield FAILED.
func (v *Verifier) Verify(ctx context.Context, ev *Evidence) (res *Result) {
	ctx, span := traces.StartSpan(ctx, "attestation.Verify")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("attestation verify panic", "panic", r)
			res = failed("Attestation verification unavailable", v.now())
			metrics.AttestationResultsTotal.WithLabelValues(string(res.Status)).Inc()
		}
	}()

	res = v.verify(ctx, ev)
	span.SetAttributes(traces.AttestationStatus(string(res.Status)))
	metrics.AttestationResultsTotal.WithLabelValues(string(res.Status)).Inc()
	return res
}

func (v *Verifier) verify(ctx context.Context, ev *Evidence) *Result {
	now := v.now()

	if ev == nil {
		return invalidToken("No attestation evidence provided", now)
	}
	if err := CheckFormat(ev.Token); err != nil {
		if errors.Is(err, ErrEmptyToken) {
			return invalidToken("Attestation token is missing", now)
		}
		return invalidToken("Invalid token format", now)
	}
	if ev.Nonce != "" {
		tokenNonce, err := ExtractNonce(ev.Token)
		if err != nil || !ValidateNonce(tokenNonce, ev.Nonce) {
			return invalidToken("Nonce mismatch", now)
		}
	}

	verdict, err := v.callProvider(ctx, ev.Token)
	if err != nil {
		v.logger.Warn("attestation provider failed",
			"provider", v.provider.Name(), "error", err)
		if errors.Is(err, ErrSignatureRejected) {
			return &Result{
				Status:     StatusVerificationError,
				Message:    "Token signature could not be verified",
				RiskHint:   policy.LevelCritical,
				VerifiedAt: now,
			}
		}
		return failed("Attestation verification unavailable", now)
	}
	if verdict == nil {
		return failed("Attestation provider returned no verdict", now)
	}

	return &Result{
		Status:     StatusSuccess,
		Message:    "Attestation verified",
		Verdict:    verdict,
		RiskHint:   successHint(ev, verdict),
		VerifiedAt: now,
	}
}

type providerResult struct {
	verdict *Verdict
	err     error
}

// callProvider runs the provider under the timeout and breaker. The call
// runs on its own goroutine so a provider that ignores ctx cannot hold the
// caller past the deadline.
func (v *Verifier) callProvider(ctx context.Context, token string) (*Verdict, error) {
	key := "attestation:" + v.provider.Name()
	if v.breaker != nil && !v.breaker.Allow(key) {
		return nil, circuitbreaker.ErrOpen
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.AttestationDuration)
	defer timer.ObserveDuration()

	done := make(chan providerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- providerResult{err: fmt.Errorf("attestation: provider panic: %v", r)}
			}
		}()
		verdict, err := v.provider.Verify(ctx, token)
		done <- providerResult{verdict: verdict, err: err}
	}()

	var res providerResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = providerResult{err: fmt.Errorf("attestation: provider timed out: %w", ctx.Err())}
	}

	if v.breaker != nil {
		// A rejected signature is a verdict on the token, not a provider outage.
		if res.err != nil && !errors.Is(res.err, ErrSignatureRejected) {
			v.breaker.RecordFailure(key)
		} else {
			v.breaker.RecordSuccess(key)
		}
	}
	return res.verdict, res.err
}

// HealthCheck reports the provider circuit state.
func (v *Verifier) HealthCheck(ctx context.Context) health.Status {
	st := health.Status{Name: "attestation", Healthy: true, Detail: v.provider.Name()}
	if v.breaker != nil {
		state := v.breaker.State("attestation:" + v.provider.Name())
		st.Healthy = state != circuitbreaker.StateOpen
		st.Detail = v.provider.Name() + " circuit " + state.String()
	}
	return st
}
