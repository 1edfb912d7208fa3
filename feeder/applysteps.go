package feeder

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/starksync/chainimport"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/model"
	"github.com/ledgerwatch/starksync/stagedsync"
	synccore "github.com/ledgerwatch/starksync/sync"
	"github.com/ledgerwatch/starksync/trie"
)

// ApplyStateSteps is the apply-state pipeline's two-phase contract: it
// mutates the global state trie for every range in strict order and
// advances the global-trie head facet. Grounded on ApplyStateSync
// (referenced, not independently retrieved, in gateway/mod.rs; its sibling
// state_diffs/classes pipelines in state_diffs.rs/classes.rs show the same
// InputItem-is-the-upstream-output shape this type follows). The trie
// mutation itself has no useful parallel precomputation - unlike
// per-block header/tx verification, applying diffs to one shared trie is
// inherently sequential - so ParallelStep is a pass-through and all CPU
// work happens in SequentialStep via the importer's bounded worker pool.
type ApplyStateSteps struct {
	importer      *chainimport.Importer
	contractsTrie *trie.Trie
	classesTrie   *trie.Trie
	db            kv.Database
	head          *synccore.ChainHead

	// DisableTries skips the global trie apply step entirely, matching
	// spec.md §6's disable_tries flag: headers/transactions/events/state
	// diffs/classes are still verified and saved, just without state
	// root maintenance.
	DisableTries bool
}

// NewApplyStateSteps builds the apply-state pipeline steps. contractsTrie
// holds the per-contract leaves (spec.md §4.2); classesTrie holds the
// declared-class leaves; ApplyToGlobalTrie combines both into the final
// root.
func NewApplyStateSteps(importer *chainimport.Importer, contractsTrie, classesTrie *trie.Trie, db kv.Database, head *synccore.ChainHead) *ApplyStateSteps {
	return &ApplyStateSteps{importer: importer, contractsTrie: contractsTrie, classesTrie: classesTrie, db: db, head: head}
}

// ParallelStep passes the range's state diffs through unchanged; the
// apply-state pipeline's only real work happens at the sequential
// boundary, where range ordering against the shared trie is guaranteed.
func (s *ApplyStateSteps) ParallelStep(ctx context.Context, r stagedsync.Range, input []model.StateDiff) ([]model.StateDiff, error) {
	return input, nil
}

// SequentialStep applies the range's state diffs to the global trie and
// advances the global-trie head facet, grounded on
// BlockImporter::apply_to_global_trie's call site in gateway/mod.rs.
func (s *ApplyStateSteps) SequentialStep(ctx context.Context, r stagedsync.Range, input []model.StateDiff) (stagedsync.ApplyOutcome[struct{}], error) {
	if !s.DisableTries {
		batch := s.db.NewBatch()
		if err := s.importer.ApplyToGlobalTrie(ctx, r.Start, r.End, input, s.contractsTrie, s.classesTrie, batch); err != nil {
			return stagedsync.ApplyOutcome[struct{}]{}, err
		}
		if err := batch.Write(); err != nil {
			return stagedsync.ApplyOutcome[struct{}]{}, fmt.Errorf("committing trie batch for %s: %w", r, err)
		}
	}

	if r.Len() > 0 {
		last := r.End - 1
		// Marked done even with DisableTries: an unmaintained trie can't
		// mismatch, and the composite head's MIN-across-facets would
		// otherwise stall here forever.
		s.head.GlobalTrie.Set(last, true)
		if err := s.head.Save(s.db); err != nil {
			return stagedsync.ApplyOutcome[struct{}]{}, fmt.Errorf("saving chain head after apply-state %s: %w", r, err)
		}
	}
	return stagedsync.Success(struct{}{}), nil
}

// StartingBlockN resumes from the global-trie facet.
func (s *ApplyStateSteps) StartingBlockN() *uint64 {
	n, ok := s.head.GlobalTrie.Get()
	if !ok {
		return nil
	}
	return &n
}
