package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/keel/internal/clock"
)

// CostSource is the external congestion/cost feed, polled per identity.
// Only the latest value matters; the gate never averages history.
type CostSource interface {
	Cost(ctx context.Context, identity string) (float64, error)
}

// CostGateConfig holds the per-gate thresholds. Expected ordering is
// ResumeBelow <= MaxAcceptable < PauseAbove.
type CostGateConfig struct {
	// MaxAcceptable is the cost up to which submission proceeds
	// unconditionally.
	MaxAcceptable float64

	// PauseAbove triggers the pause-and-poll loop. Costs between
	// MaxAcceptable and PauseAbove are the elevated band, requiring
	// explicit opt-in.
	PauseAbove float64

	// ResumeBelow is the cost the signal must drop under for a paused
	// caller to proceed.
	ResumeBelow float64

	// PollInterval is the wait between signal re-reads while paused.
	PollInterval time.Duration

	// MaxWait bounds the total pause. Elapsing it returns Blocked
	// rather than proceeding silently.
	MaxWait time.Duration
}

// Validate checks threshold ordering.
func (cfg CostGateConfig) Validate() error {
	if cfg.MaxAcceptable <= 0 {
		return fmt.Errorf("max_acceptable must be positive, got %v", cfg.MaxAcceptable)
	}
	if cfg.PauseAbove < cfg.MaxAcceptable {
		return fmt.Errorf("pause_above (%v) must be >= max_acceptable (%v)", cfg.PauseAbove, cfg.MaxAcceptable)
	}
	if cfg.ResumeBelow > cfg.MaxAcceptable {
		return fmt.Errorf("resume_below (%v) must be <= max_acceptable (%v)", cfg.ResumeBelow, cfg.MaxAcceptable)
	}
	return nil
}

// ConsentFunc is the explicit opt-in for the elevated cost band. A nil
// ConsentFunc means elevated costs are always refused.
type ConsentFunc func(identity string, cost float64) bool

// CostGate throttles submissions on an external cost signal.
type CostGate struct {
	source  CostSource
	clock   clock.Clock
	cfg     CostGateConfig
	consent ConsentFunc
}

// CostGateOption configures a CostGate.
type CostGateOption func(*CostGate)

// WithGateClock injects a clock for the pause-and-poll loop.
func WithGateClock(c clock.Clock) CostGateOption {
	return func(g *CostGate) { g.clock = c }
}

// WithConsent installs the elevated-band opt-in callback.
func WithConsent(f ConsentFunc) CostGateOption {
	return func(g *CostGate) { g.consent = f }
}

// NewCostGate creates a gate over the given signal source.
func NewCostGate(source CostSource, cfg CostGateConfig, opts ...CostGateOption) (*CostGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Minute
	}
	g := &CostGate{source: source, clock: clock.Real{}, cfg: cfg}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ShouldProceed decides whether a submission for the identity may go
// ahead right now. A nil return means proceed.
//
// Cost bands:
//   - at or below MaxAcceptable: proceed.
//   - above MaxAcceptable, at or below PauseAbove: elevated; proceed
//     only with explicit consent, otherwise Blocked.
//   - above PauseAbove: pause and re-poll until the signal drops below
//     ResumeBelow or MaxWait elapses, then Blocked.
//
// The poll loop is the gate's only suspension point and is bounded by
// MaxWait; control always returns to the caller with an explicit
// outcome.
func (g *CostGate) ShouldProceed(ctx context.Context, identity string) error {
	cost, err := g.source.Cost(ctx, identity)
	if err != nil {
		return fmt.Errorf("cost signal for %q: %w", identity, err)
	}

	switch {
	case cost <= g.cfg.MaxAcceptable:
		return nil
	case cost <= g.cfg.PauseAbove:
		if g.consent != nil && g.consent(identity, cost) {
			slog.Info("proceeding at elevated cost with consent", "identity", identity, "cost", cost)
			return nil
		}
		return &BlockedError{Identity: identity, Cost: cost,
			Reason: fmt.Sprintf("cost exceeds max acceptable %.2f and no consent given", g.cfg.MaxAcceptable)}
	default:
		return g.pauseAndPoll(ctx, identity, cost)
	}
}

// pauseAndPoll waits for the signal to drop below ResumeBelow.
func (g *CostGate) pauseAndPoll(ctx context.Context, identity string, cost float64) error {
	deadline := g.clock.Now().Add(g.cfg.MaxWait)
	slog.Info("pausing on high cost signal", "identity", identity, "cost", cost,
		"resume_below", g.cfg.ResumeBelow, "max_wait", g.cfg.MaxWait)

	for {
		if !g.clock.Now().Add(g.cfg.PollInterval).Before(deadline) {
			return &BlockedError{Identity: identity, Cost: cost,
				Reason: fmt.Sprintf("signal did not drop below %.2f within %v", g.cfg.ResumeBelow, g.cfg.MaxWait)}
		}
		if err := g.clock.Sleep(ctx, g.cfg.PollInterval); err != nil {
			return err
		}

		latest, err := g.source.Cost(ctx, identity)
		if err != nil {
			return fmt.Errorf("cost signal for %q: %w", identity, err)
		}
		cost = latest
		if cost < g.cfg.ResumeBelow {
			slog.Info("cost signal recovered", "identity", identity, "cost", cost)
			return nil
		}
	}
}
