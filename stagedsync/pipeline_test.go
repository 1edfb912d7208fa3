package stagedsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSteps doubles every input int in ParallelStep and sums them in
// SequentialStep, recording the order SequentialStep actually runs in so
// tests can assert FIFO ordering independent of ParallelStep completion
// order.
type fakeSteps struct {
	mu       sync.Mutex
	seqOrder []uint64
	delay    map[uint64]time.Duration
	starting *uint64
}

func (s *fakeSteps) ParallelStep(ctx context.Context, r Range, input []int) (int, error) {
	s.mu.Lock()
	d := s.delay[r.Start]
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	sum := 0
	for _, v := range input {
		sum += v * 2
	}
	return sum, nil
}

func (s *fakeSteps) SequentialStep(ctx context.Context, r Range, input int) (ApplyOutcome[int], error) {
	s.mu.Lock()
	s.seqOrder = append(s.seqOrder, r.Start)
	s.mu.Unlock()
	return Success(input), nil
}

func (s *fakeSteps) StartingBlockN() *uint64 { return s.starting }

func TestControllerRunsSequentialStepsInOrder(t *testing.T) {
	steps := &fakeSteps{delay: map[uint64]time.Duration{0: 20 * time.Millisecond}}
	ctrl := NewController[int, int, int](context.Background(), steps, 4)
	defer ctrl.Close()

	// Range starting at 0 is slower than the later ranges, so out-of-order
	// completion from ParallelStep must still be re-serialized by the
	// sequencer before reaching SequentialStep.
	ctrl.Push(Range{Start: 0, End: 1}, []int{1})
	ctrl.Push(Range{Start: 1, End: 2}, []int{2})
	ctrl.Push(Range{Start: 2, End: 3}, []int{3})

	for i := 0; i < 3; i++ {
		if _, _, err, ok := ctrl.Next(context.Background()); err != nil || !ok {
			t.Fatalf("Next() #%d: err=%v ok=%v", i, err, ok)
		}
	}

	steps.mu.Lock()
	order := append([]uint64(nil), steps.seqOrder...)
	steps.mu.Unlock()
	want := []uint64{0, 1, 2}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("SequentialStep order = %v, want %v", order, want)
	}
}

func TestControllerCanScheduleMoreRespectsParallelizationAndBackpressure(t *testing.T) {
	steps := &fakeSteps{}
	ctrl := NewController[int, int, int](context.Background(), steps, 1)
	defer ctrl.Close()

	if !ctrl.CanScheduleMore() {
		t.Fatal("CanScheduleMore() = false before any push")
	}
	ctrl.Push(Range{Start: 0, End: 1}, []int{1})

	r, _, err, ok := ctrl.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next(): err=%v ok=%v", err, ok)
	}
	if r.Start != 0 {
		t.Fatalf("Next() range = %v, want start 0", r)
	}

	// A delivered-but-unconsumed result (len(resultCh)==1) should block
	// further scheduling until Next() drains it - this Next() already
	// drained it above, so scheduling should be open again.
	if !ctrl.CanScheduleMore() {
		t.Fatal("CanScheduleMore() = false after draining the only result")
	}
}

func TestControllerIsEmptyAfterDraining(t *testing.T) {
	steps := &fakeSteps{}
	ctrl := NewController[int, int, int](context.Background(), steps, 4)
	defer ctrl.Close()

	if !ctrl.IsEmpty() {
		t.Fatal("IsEmpty() = false on a fresh controller")
	}
	ctrl.Push(Range{Start: 0, End: 1}, []int{1})
	if ctrl.IsEmpty() {
		t.Fatal("IsEmpty() = true immediately after Push")
	}
	if _, _, err, ok := ctrl.Next(context.Background()); err != nil || !ok {
		t.Fatalf("Next(): err=%v ok=%v", err, ok)
	}
	if !ctrl.IsEmpty() {
		t.Fatal("IsEmpty() = false after the only range drained")
	}
}

func TestControllerResumesFromStartingBlockN(t *testing.T) {
	start := uint64(9)
	steps := &fakeSteps{starting: &start}
	ctrl := NewController[int, int, int](context.Background(), steps, 4)
	defer ctrl.Close()

	if got := ctrl.NextInputBlockN(); got != 10 {
		t.Fatalf("NextInputBlockN() = %d, want 10 (StartingBlockN+1)", got)
	}
}

func TestControllerPropagatesParallelStepError(t *testing.T) {
	errSteps := &erroringSteps{}
	ctrl := NewController[int, int, int](context.Background(), errSteps, 2)
	defer ctrl.Close()

	ctrl.Push(Range{Start: 0, End: 1}, []int{1})
	_, _, err, ok := ctrl.Next(context.Background())
	if !ok {
		t.Fatal("Next() ok = false, want true (error delivered as a result)")
	}
	if err == nil {
		t.Fatal("Next() err = nil, want the ParallelStep error")
	}
}

type erroringSteps struct{}

func (erroringSteps) ParallelStep(ctx context.Context, r Range, input []int) (int, error) {
	return 0, fmt.Errorf("boom")
}
func (erroringSteps) SequentialStep(ctx context.Context, r Range, input int) (ApplyOutcome[int], error) {
	return Success(0), nil
}
func (erroringSteps) StartingBlockN() *uint64 { return nil }
