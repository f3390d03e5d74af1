package store

import (
	"context"
	"testing"
	"time"
)

func TestAcquire_UncontendedSucceedsImmediately(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	handle, err := s.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if handle.DocumentID != "doc-1" {
		t.Errorf("handle document = %q, expected doc-1", handle.DocumentID)
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("uncontended acquire slept %d times, expected 0", len(clk.Sleeps()))
	}
	if err := s.Release(ctx, handle); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
}

func TestAcquire_ContendedTimesOut(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	held, err := s.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("first Acquire() failed: %v", err)
	}
	defer s.Release(ctx, held)

	_, err = s.Acquire(ctx, "doc-1", 200*time.Millisecond)
	if !IsLockTimeout(err) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
}

func TestAcquire_BoundedExponentialBackoff(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	held, _ := s.Acquire(ctx, "doc-1", time.Second)
	defer s.Release(ctx, held)

	_, err := s.Acquire(ctx, "doc-1", 5*time.Second)
	if !IsLockTimeout(err) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) == 0 {
		t.Fatal("expected backoff sleeps")
	}
	for i := 1; i < len(sleeps); i++ {
		if sleeps[i] < sleeps[i-1] {
			t.Errorf("backoff decreased: %v after %v", sleeps[i], sleeps[i-1])
		}
		if sleeps[i] > lockBackoffCap {
			t.Errorf("backoff %v exceeds cap %v", sleeps[i], lockBackoffCap)
		}
	}
	if sleeps[0] != lockBackoffBase {
		t.Errorf("first backoff = %v, expected %v", sleeps[0], lockBackoffBase)
	}
}

func TestAcquire_ReclaimsExpiredLock(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	stale, err := s.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	// Holder crashes without releasing; after the TTL the lock is
	// reclaimable by the next Acquire.
	clk.Advance(DefaultLockTTL + time.Second)

	reclaimed, err := s.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() after expiry failed: %v", err)
	}
	if reclaimed.Holder == stale.Holder {
		t.Error("reclaimed handle reused the stale holder")
	}

	// The stale handle's Release must not free the new holder's lock.
	if err := s.Release(ctx, stale); err != nil {
		t.Fatalf("stale Release() failed: %v", err)
	}
	_, err = s.Acquire(ctx, "doc-1", 100*time.Millisecond)
	if !IsLockTimeout(err) {
		t.Fatalf("stale release freed an active lock: %v", err)
	}
}

func TestAcquire_AvailableAfterRelease(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	h1, _ := s.Acquire(ctx, "doc-1", time.Second)
	if err := s.Release(ctx, h1); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	if _, err := s.Acquire(ctx, "doc-1", time.Second); err != nil {
		t.Fatalf("Acquire() after release failed: %v", err)
	}
}

func TestAcquire_IndependentDocuments(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "doc-1", time.Second); err != nil {
		t.Fatalf("Acquire(doc-1) failed: %v", err)
	}
	if _, err := s.Acquire(ctx, "doc-2", time.Second); err != nil {
		t.Fatalf("Acquire(doc-2) blocked by unrelated lock: %v", err)
	}
}
