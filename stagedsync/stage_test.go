package stagedsync

import (
	"errors"
	"testing"
)

func TestStageStateDoneAndUpdatePersists(t *testing.T) {
	var persisted uint64
	s := NewStageState(StageHeaders, 0, nil, func(blockN uint64) error {
		persisted = blockN
		return nil
	})
	if err := s.DoneAndUpdate(10); err != nil {
		t.Fatalf("DoneAndUpdate: %v", err)
	}
	if persisted != 10 {
		t.Fatalf("persisted = %d, want 10", persisted)
	}
	if s.BlockNumber != 10 {
		t.Fatalf("BlockNumber = %d, want 10", s.BlockNumber)
	}
}

func TestStageStateDoneAndUpdateWrapsError(t *testing.T) {
	s := NewStageState(StageClasses, 0, nil, func(uint64) error {
		return errors.New("disk full")
	})
	err := s.DoneAndUpdate(5)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestStageStateExecutionAtDefaultsToBlockNumber(t *testing.T) {
	s := NewStageState(StageEvents, 7, nil, nil)
	got, err := s.ExecutionAt()
	if err != nil {
		t.Fatalf("ExecutionAt: %v", err)
	}
	if got != 7 {
		t.Fatalf("ExecutionAt() = %d, want 7", got)
	}
}

func TestUnwindStateDoneCallsBack(t *testing.T) {
	var gotPoint uint64
	u := NewUnwindState(StageTransactions, 20, 5, func(unwindPoint uint64) error {
		gotPoint = unwindPoint
		return nil
	})
	if err := u.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if gotPoint != 5 {
		t.Fatalf("unwind callback got %d, want 5", gotPoint)
	}
}
