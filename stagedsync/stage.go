// Package stagedsync implements the generic two-phase pipeline scheduler
// (C4): a parallel step that may run concurrently across disjoint block
// ranges, feeding a strictly-ordered sequential step that advances
// persisted progress. Grounded on crates/madara/client/sync2/src's
// pipeline/gateway modules, with the progress-reporting contract named
// after turbo-geth's StageState/UnwindState (eth/stagedsync/stage_log_index.go).
package stagedsync

import "fmt"

// StageID names one of the facet counters a pipeline advances (spec.md
// §3's per-facet ChainHead counters).
type StageID string

const (
	StageHeaders      StageID = "Headers"
	StageStateDiffs   StageID = "StateDiffs"
	StageClasses      StageID = "Classes"
	StageTransactions StageID = "Transactions"
	StageEvents       StageID = "Events"
	StageGlobalTrie   StageID = "GlobalTrie"
)

// StageState reports persisted progress for one facet counter, the Go
// analogue of turbo-geth's *StageState (ExecutionAt/BlockNumber/Done/
// DoneAndUpdate as used throughout stage_log_index.go), generalized here
// from an Ethereum bucket cursor to a single ChainHead facet.
type StageState struct {
	ID          StageID
	BlockNumber uint64 // progress as of the last Done/DoneAndUpdate call

	executionAt   func() (uint64, error)
	doneAndUpdate func(blockN uint64) error
}

// NewStageState wires a StageState to the backing progress accessors,
// typically closures over one ChainHead BlockNStatus field.
func NewStageState(id StageID, current uint64, executionAt func() (uint64, error), doneAndUpdate func(uint64) error) *StageState {
	return &StageState{ID: id, BlockNumber: current, executionAt: executionAt, doneAndUpdate: doneAndUpdate}
}

// ExecutionAt reports the target height this stage should advance
// towards, typically the previous stage's committed progress.
func (s *StageState) ExecutionAt() (uint64, error) {
	if s.executionAt == nil {
		return s.BlockNumber, nil
	}
	return s.executionAt()
}

// Done marks the stage as caught up with no progress change, matching
// StageState.Done's no-op use in stage_log_index.go's early-return path.
func (s *StageState) Done() {}

// DoneAndUpdate persists blockN as this stage's new progress, matching
// StageState.DoneAndUpdate's commit-and-advance contract.
func (s *StageState) DoneAndUpdate(blockN uint64) error {
	if s.doneAndUpdate != nil {
		if err := s.doneAndUpdate(blockN); err != nil {
			return fmt.Errorf("stage %s: %w", s.ID, err)
		}
	}
	s.BlockNumber = blockN
	return nil
}

// UnwindState describes a requested rollback of one stage to
// UnwindPoint, the Go analogue of turbo-geth's *UnwindState.
type UnwindState struct {
	ID          StageID
	UnwindPoint uint64
	BlockNumber uint64

	done func(unwindPoint uint64) error
}

// NewUnwindState builds an UnwindState for stage id, rolling back from
// current to unwindPoint.
func NewUnwindState(id StageID, current, unwindPoint uint64, done func(uint64) error) *UnwindState {
	return &UnwindState{ID: id, UnwindPoint: unwindPoint, BlockNumber: current, done: done}
}

// Done persists the unwind as complete, matching UnwindState.Done in
// stage_log_index.go's UnwindLogIndex.
func (u *UnwindState) Done() error {
	if u.done != nil {
		return u.done(u.UnwindPoint)
	}
	return nil
}
