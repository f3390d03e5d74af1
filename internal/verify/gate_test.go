package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passPredicate(name string) Predicate {
	return NewPredicate(name, func(ctx context.Context) (Outcome, string, error) {
		return OutcomePass, "checked ok", nil
	})
}

func failPredicate(name string) Predicate {
	return NewPredicate(name, func(ctx context.Context) (Outcome, string, error) {
		return OutcomeFail, "observed drift", nil
	})
}

func TestVerify_AllPassCommits(t *testing.T) {
	gate := New()

	decision := gate.Verify(context.Background(), []Predicate{
		passPredicate("checksum"), passPredicate("row-count"),
	})

	assert.True(t, decision.Commit)
	require.Len(t, decision.Results, 2)
	assert.Nil(t, decision.FirstNonPass())
}

func TestVerify_AnyFailRejects(t *testing.T) {
	gate := New()

	decision := gate.Verify(context.Background(), []Predicate{
		passPredicate("checksum"), failPredicate("row-count"), passPredicate("sequence"),
	})

	assert.False(t, decision.Commit)
	require.Len(t, decision.Results, 3, "every predicate runs even after a failure")

	blocker := decision.FirstNonPass()
	require.NotNil(t, blocker)
	assert.Equal(t, "row-count", blocker.Name)
	assert.Equal(t, "observed drift", blocker.Evidence)
}

func TestVerify_InconclusiveNeverCommits(t *testing.T) {
	gate := New()

	inconclusive := NewPredicate("flaky", func(ctx context.Context) (Outcome, string, error) {
		return OutcomeInconclusive, "could not reach ground truth", nil
	})

	decision := gate.Verify(context.Background(), []Predicate{
		passPredicate("a"), inconclusive, passPredicate("b"),
	})

	assert.False(t, decision.Commit, "Inconclusive must never be promoted to Pass")
	assert.Equal(t, OutcomeInconclusive, decision.Results[1].Outcome)
}

func TestVerify_PredicateErrorIsInconclusive(t *testing.T) {
	gate := New()

	erroring := NewPredicate("broken", func(ctx context.Context) (Outcome, string, error) {
		return "", "", errors.New("connection refused")
	})

	decision := gate.Verify(context.Background(), []Predicate{erroring})

	assert.False(t, decision.Commit)
	assert.Equal(t, OutcomeInconclusive, decision.Results[0].Outcome)
	assert.Contains(t, decision.Results[0].Evidence, "connection refused")
}

func TestVerify_PredicatePanicIsInconclusive(t *testing.T) {
	gate := New()

	panicking := NewPredicate("explosive", func(ctx context.Context) (Outcome, string, error) {
		panic("nil map write")
	})

	decision := gate.Verify(context.Background(), []Predicate{panicking, passPredicate("after")})

	assert.False(t, decision.Commit)
	assert.Equal(t, OutcomeInconclusive, decision.Results[0].Outcome)
	assert.Contains(t, decision.Results[0].Evidence, "nil map write")
	assert.Equal(t, OutcomePass, decision.Results[1].Outcome, "a panic must not stop later predicates")
}

func TestVerify_TimeoutIsInconclusive(t *testing.T) {
	gate := New(WithPredicateTimeout(10 * time.Millisecond))

	hanging := NewPredicate("slow", func(ctx context.Context) (Outcome, string, error) {
		<-ctx.Done()
		return "", "", ctx.Err()
	})

	decision := gate.Verify(context.Background(), []Predicate{hanging})

	assert.False(t, decision.Commit)
	assert.Equal(t, OutcomeInconclusive, decision.Results[0].Outcome)
	assert.Contains(t, decision.Results[0].Evidence, "context deadline exceeded")
}

func TestVerify_UnknownOutcomeIsInconclusive(t *testing.T) {
	gate := New()

	weird := NewPredicate("weird", func(ctx context.Context) (Outcome, string, error) {
		return Outcome("Maybe"), "shrug", nil
	})

	decision := gate.Verify(context.Background(), []Predicate{weird})

	assert.False(t, decision.Commit)
	assert.Equal(t, OutcomeInconclusive, decision.Results[0].Outcome)
	assert.Contains(t, decision.Results[0].Evidence, `unknown outcome "Maybe"`)
}

func TestVerify_NoPredicatesCommits(t *testing.T) {
	gate := New()
	decision := gate.Verify(context.Background(), nil)
	assert.True(t, decision.Commit)
	assert.Empty(t, decision.Results)
}
