package store

import (
	"context"
	"testing"
)

func TestChangeLog_AppendAndReadInOrder(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	entries := []ChangeLogEntry{
		{BatchID: "batch-1", EntrySeq: 1, OperationID: "op-a", Description: "first", Status: "Success", Result: "ok"},
		{BatchID: "batch-1", EntrySeq: 2, OperationID: "op-b", Description: "second", Status: "Failed", Error: "boom"},
		{BatchID: "batch-1", EntrySeq: 3, OperationID: "op-a", Description: "first", Status: "RolledBack"},
	}
	for _, e := range entries {
		if err := s.AppendChangeLog(ctx, e); err != nil {
			t.Fatalf("AppendChangeLog() failed: %v", err)
		}
	}

	got, err := s.ReadChangeLog(ctx, "batch-1")
	if err != nil {
		t.Fatalf("ReadChangeLog() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entry count = %d, expected 3", len(got))
	}
	for i, e := range got {
		if e.EntrySeq != int64(i+1) {
			t.Errorf("entry[%d].EntrySeq = %d, expected %d", i, e.EntrySeq, i+1)
		}
	}
	if got[1].Error != "boom" {
		t.Errorf("entry[1].Error = %q, expected boom", got[1].Error)
	}
}

func TestChangeLog_DuplicateSeqIsIdempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	e := ChangeLogEntry{BatchID: "batch-1", EntrySeq: 1, OperationID: "op-a", Description: "first", Status: "Success"}
	if err := s.AppendChangeLog(ctx, e); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	// A resumed batch re-recording the same entry is silently ignored.
	e.Status = "Failed"
	if err := s.AppendChangeLog(ctx, e); err != nil {
		t.Fatalf("duplicate append failed: %v", err)
	}

	got, _ := s.ReadChangeLog(ctx, "batch-1")
	if len(got) != 1 {
		t.Fatalf("entry count = %d, expected 1", len(got))
	}
	if got[0].Status != "Success" {
		t.Errorf("original entry was overwritten: status = %q", got[0].Status)
	}
}

func TestChangeLog_EmptyBatchReturnsEmptySlice(t *testing.T) {
	s, _ := createTestStore(t)

	got, err := s.ReadChangeLog(context.Background(), "no-such-batch")
	if err != nil {
		t.Fatalf("ReadChangeLog() failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestChangeLog_BatchesAreIsolated(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	s.AppendChangeLog(ctx, ChangeLogEntry{BatchID: "batch-1", EntrySeq: 1, OperationID: "op-a", Description: "a", Status: "Success"})
	s.AppendChangeLog(ctx, ChangeLogEntry{BatchID: "batch-2", EntrySeq: 1, OperationID: "op-b", Description: "b", Status: "Success"})

	got, _ := s.ReadChangeLog(ctx, "batch-1")
	if len(got) != 1 || got[0].OperationID != "op-a" {
		t.Errorf("batch-1 log contaminated: %v", got)
	}
}
