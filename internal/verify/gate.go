// Package verify is the post-batch verification gate: independent
// predicates re-derive outcomes from ground truth instead of trusting
// what the operations reported about themselves, and only a unanimous
// Pass commits the batch's effects.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Outcome is a single predicate's verdict.
type Outcome string

const (
	OutcomePass Outcome = "Pass"
	OutcomeFail Outcome = "Fail"

	// OutcomeInconclusive covers timeouts, errors, and panics. It is
	// never treated as a pass.
	OutcomeInconclusive Outcome = "Inconclusive"
)

// Predicate is an independently-executed check. Evidence is a short
// human-readable account of what the predicate observed.
type Predicate interface {
	Name() string
	Check(ctx context.Context) (Outcome, string, error)
}

type funcPredicate struct {
	name string
	fn   func(ctx context.Context) (Outcome, string, error)
}

func (p *funcPredicate) Name() string { return p.name }
func (p *funcPredicate) Check(ctx context.Context) (Outcome, string, error) {
	return p.fn(ctx)
}

// NewPredicate wraps a function as a named Predicate.
func NewPredicate(name string, fn func(ctx context.Context) (Outcome, string, error)) Predicate {
	return &funcPredicate{name: name, fn: fn}
}

// PredicateResult is one predicate's verdict with its evidence.
// Results are produced fresh per verification; never cached.
type PredicateResult struct {
	Name     string
	Outcome  Outcome
	Evidence string
}

// Decision aggregates predicate results into commit or rollback.
type Decision struct {
	// Commit is true only when every predicate passed.
	Commit  bool
	Results []PredicateResult
}

// FirstNonPass returns the first predicate result that blocked the
// commit, or nil when the decision was a commit.
func (d *Decision) FirstNonPass() *PredicateResult {
	for i := range d.Results {
		if d.Results[i].Outcome != OutcomePass {
			return &d.Results[i]
		}
	}
	return nil
}

// DefaultPredicateTimeout bounds a single predicate's run.
const DefaultPredicateTimeout = 30 * time.Second

// Gate runs verification predicates and renders the commit decision.
type Gate struct {
	predicateTimeout time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithPredicateTimeout sets the per-predicate run budget.
func WithPredicateTimeout(d time.Duration) Option {
	return func(g *Gate) { g.predicateTimeout = d }
}

// New creates a verification gate.
func New(opts ...Option) *Gate {
	g := &Gate{predicateTimeout: DefaultPredicateTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify runs every predicate and aggregates the commit decision.
//
// A predicate that errors, panics, or exceeds its timeout yields
// Inconclusive, and Inconclusive is never promoted to Pass: any
// outcome other than a unanimous Pass means rollback. Every predicate
// runs even after an early Fail so the decision carries complete
// evidence.
func (g *Gate) Verify(ctx context.Context, predicates []Predicate) *Decision {
	decision := &Decision{Commit: true}

	for _, p := range predicates {
		result := g.check(ctx, p)
		if result.Outcome != OutcomePass {
			decision.Commit = false
		}
		decision.Results = append(decision.Results, result)
		slog.Debug("predicate checked", "name", result.Name, "outcome", result.Outcome)
	}

	if !decision.Commit {
		if blocker := decision.FirstNonPass(); blocker != nil {
			slog.Warn("verification rejected commit",
				"predicate", blocker.Name, "outcome", blocker.Outcome, "evidence", blocker.Evidence)
		}
	}
	return decision
}

// check runs one predicate under its timeout, converting every failure
// mode to an outcome.
func (g *Gate) check(ctx context.Context, p Predicate) (result PredicateResult) {
	result.Name = p.Name()

	checkCtx := ctx
	if g.predicateTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, g.predicateTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeInconclusive
			result.Evidence = fmt.Sprintf("predicate panicked: %v", r)
		}
	}()

	outcome, evidence, err := p.Check(checkCtx)
	if err != nil {
		result.Outcome = OutcomeInconclusive
		result.Evidence = fmt.Sprintf("predicate error: %v", err)
		return result
	}
	switch outcome {
	case OutcomePass, OutcomeFail, OutcomeInconclusive:
		result.Outcome = outcome
	default:
		// An unknown verdict is not trusted.
		result.Outcome = OutcomeInconclusive
		evidence = fmt.Sprintf("unknown outcome %q: %s", outcome, evidence)
	}
	result.Evidence = evidence
	return result
}
