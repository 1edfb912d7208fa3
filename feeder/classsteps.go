package feeder

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/starksync/chainimport"
	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/model"
	"github.com/ledgerwatch/starksync/stagedsync"
	synccore "github.com/ledgerwatch/starksync/sync"
)

// classesBlockResult is one block's compiled, saveable classes, carried
// from ClassSteps.ParallelStep to its SequentialStep.
type classesBlockResult struct {
	blockN    uint64
	converted []model.ConvertedClass
}

// ClassSteps is the classes pipeline's two-phase contract: for every block
// in range it fetches the declared classes' source bytes, verifies and
// compiles them, and persists the result. Scheduled independently from the
// blocks and apply-state pipelines, grounded on ClassesSyncSteps in
// classes.rs (there driven over a P2P class stream; here driven directly
// off the gateway client, which doubles as the classes source).
type ClassSteps struct {
	client   Client
	importer *chainimport.Importer
	db       kv.Database
	head     *synccore.ChainHead
}

// NewClassSteps builds the classes pipeline steps.
func NewClassSteps(client Client, importer *chainimport.Importer, db kv.Database, head *synccore.ChainHead) *ClassSteps {
	return &ClassSteps{client: client, importer: importer, db: db, head: head}
}

// ParallelStep fetches, verifies and compiles the declared classes
// for every block in r. input[i] is the state diff produced by the blocks
// pipeline for r.Start+i (gateway/mod.rs's
// `state_diffs.iter().map(|s| s.all_declared_classes())`).
func (s *ClassSteps) ParallelStep(ctx context.Context, r stagedsync.Range, input []model.StateDiff) ([]classesBlockResult, error) {
	out := make([]classesBlockResult, 0, r.Len())
	for i, diff := range input {
		blockN := r.Start + uint64(i)
		converted, err := s.importClasses(ctx, blockN, diff)
		if err != nil {
			return nil, err
		}
		if converted == nil {
			continue
		}
		out = append(out, classesBlockResult{blockN: blockN, converted: converted})
	}
	return out, nil
}

func (s *ClassSteps) importClasses(ctx context.Context, blockN uint64, diff model.StateDiff) ([]model.ConvertedClass, error) {
	if len(diff.DeclaredClasses) == 0 {
		return nil, nil
	}
	checkAgainst := make(map[felt.Felt]model.DeclaredClassCompiledClass, len(diff.DeclaredClasses))
	declared := make([]model.ClassInfoWithHash, 0, len(diff.DeclaredClasses))
	at := common.Number(common.BlockNumber(blockN))

	for _, dc := range diff.DeclaredClasses {
		raw, err := s.client.GetClassByHash(ctx, dc.ClassHash, at)
		if err != nil {
			return nil, fmt.Errorf("fetching class %s at block %d: %w", dc.ClassHash, blockN, err)
		}
		if dc.CompiledClassHash != nil {
			checkAgainst[dc.ClassHash] = model.DeclaredClassCompiledClass{CompiledClassHash: *dc.CompiledClassHash}
			declared = append(declared, model.ClassInfoWithHash{
				ClassHash: dc.ClassHash,
				Type:      model.ClassTypeSierra,
				Sierra:    &model.SierraClassInfo{ContractClass: raw, CompiledClassHash: *dc.CompiledClassHash},
			})
			continue
		}
		checkAgainst[dc.ClassHash] = model.DeclaredClassCompiledClass{IsLegacy: true}
		declared = append(declared, model.ClassInfoWithHash{
			ClassHash: dc.ClassHash,
			Type:      model.ClassTypeLegacy,
			Legacy:    &model.LegacyClassInfo{ContractClass: raw},
		})
	}

	converted, ierr := s.importer.VerifyCompileClasses(declared, checkAgainst)
	if ierr != nil {
		return nil, ierr
	}
	return converted, nil
}

// SequentialStep persists every block's converted classes in order and
// advances the classes head facet, grounded on ClassesSyncSteps's
// p2p_sequential_step.
func (s *ClassSteps) SequentialStep(ctx context.Context, r stagedsync.Range, input []classesBlockResult) (stagedsync.ApplyOutcome[struct{}], error) {
	for _, res := range input {
		if ierr := s.importer.SaveClasses(res.blockN, res.converted); ierr != nil {
			return stagedsync.ApplyOutcome[struct{}]{}, ierr
		}
	}
	if r.Len() > 0 {
		last := r.End - 1
		s.head.Classes.Set(last, true)
		if err := s.head.Save(s.db); err != nil {
			return stagedsync.ApplyOutcome[struct{}]{}, fmt.Errorf("saving chain head after classes %s: %w", r, err)
		}
	}
	return stagedsync.Success(struct{}{}), nil
}

// StartingBlockN resumes from the classes facet.
func (s *ClassSteps) StartingBlockN() *uint64 {
	n, ok := s.head.Classes.Get()
	if !ok {
		return nil
	}
	return &n
}
