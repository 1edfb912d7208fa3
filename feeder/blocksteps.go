package feeder

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/starksync/chainimport"
	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/model"
	"github.com/ledgerwatch/starksync/stagedsync"
	synccore "github.com/ledgerwatch/starksync/sync"
)

// allowPreV0_13_2 is passed to every verify_* call: pre-v0.13.2 headers
// fetched from the gateway do not carry commitments at all, so mismatch
// checks against them must be tolerated rather than treated as
// peer-faulty. Grounded verbatim on the `let allow_pre_v0_13_2 = true`
// comment in GatewaySyncSteps::parallel_step (gateway/mod.rs): "Fill in
// the header with the commitments missing in pre-v0.13.2 headers from
// the gateway."
const allowPreV0_13_2 = true

// BlockSteps is the blocks pipeline's two-phase contract: each block is
// fetched, verified and persisted (header, transactions, events, state
// diff) in ParallelStep; SequentialStep advances the head facets those
// writes cover and hands the accumulated state diffs downstream to the
// classes and apply-state pipelines. Grounded verbatim on GatewaySyncSteps
// in gateway/mod.rs.
type BlockSteps struct {
	client   Client
	importer *chainimport.Importer
	db       kv.Database
	head     *synccore.ChainHead
}

// NewBlockSteps builds the blocks pipeline steps.
func NewBlockSteps(client Client, importer *chainimport.Importer, db kv.Database, head *synccore.ChainHead) *BlockSteps {
	return &BlockSteps{client: client, importer: importer, db: db, head: head}
}

// ParallelStep fetches, verifies and persists every block in r, returning
// the state diffs for the classes/apply-state pipelines.
func (s *BlockSteps) ParallelStep(ctx context.Context, r stagedsync.Range, _ []struct{}) ([]model.StateDiff, error) {
	out := make([]model.StateDiff, 0, r.Len())
	for blockN := r.Start; blockN < r.End; blockN++ {
		diff, err := s.importBlock(ctx, blockN)
		if err != nil {
			return nil, err
		}
		out = append(out, diff)
	}
	return out, nil
}

func (s *BlockSteps) importBlock(ctx context.Context, blockN uint64) (model.StateDiff, error) {
	resp, err := s.client.GetStateUpdateWithBlock(ctx, common.Number(common.BlockNumber(blockN)))
	if err != nil {
		return model.StateDiff{}, fmt.Errorf("fetching block %d: %w", blockN, err)
	}
	gw, err := gatewayBlockFromRaw(resp)
	if err != nil {
		return model.StateDiff{}, fmt.Errorf("parsing block %d: %w", blockN, err)
	}

	signed := model.BlockHeaderWithSignatures{BlockHash: gw.BlockHash, Header: gw.Header}

	stateDiffCommitment, ierr := s.importer.VerifyStateDiff(blockN, gw.StateDiff, gw.Header, allowPreV0_13_2)
	if ierr != nil {
		return model.StateDiff{}, ierr
	}
	txCommitment, receiptCommitment, ierr := s.importer.VerifyTransactions(blockN, gw.Transactions, gw.Header, allowPreV0_13_2)
	if ierr != nil {
		return model.StateDiff{}, ierr
	}
	eventCommitment, ierr := s.importer.VerifyEvents(blockN, gw.Events, gw.Header, allowPreV0_13_2)
	if ierr != nil {
		return model.StateDiff{}, ierr
	}

	signed.Header.StateDiffCommitment = &stateDiffCommitment
	signed.Header.TransactionCommitment = txCommitment
	signed.Header.ReceiptCommitment = &receiptCommitment
	signed.Header.EventCommitment = eventCommitment

	if ierr := s.importer.VerifyHeader(blockN, signed); ierr != nil {
		return model.StateDiff{}, ierr
	}
	if ierr := s.importer.SaveHeader(blockN, signed); ierr != nil {
		return model.StateDiff{}, ierr
	}
	if ierr := s.importer.SaveStateDiff(blockN, gw.StateDiff); ierr != nil {
		return model.StateDiff{}, ierr
	}
	if ierr := s.importer.SaveTransactions(blockN, gw.Transactions); ierr != nil {
		return model.StateDiff{}, ierr
	}
	if ierr := s.importer.SaveEvents(blockN, gw.Events); ierr != nil {
		return model.StateDiff{}, ierr
	}

	return gw.StateDiff, nil
}

// SequentialStep advances the headers/state-diffs/transactions/events head
// facets to the range's last block, grounded on GatewaySyncSteps's
// sequential_step. Each of the three pipelines (blocks/classes/apply-state)
// advances disjoint facets of the same ChainHead and persists it
// independently; concurrent Save calls race benignly since every facet is
// stored atomically and each encode reflects the freshest locally-known
// state.
func (s *BlockSteps) SequentialStep(ctx context.Context, r stagedsync.Range, input []model.StateDiff) (stagedsync.ApplyOutcome[[]model.StateDiff], error) {
	if r.Len() > 0 {
		last := r.End - 1
		s.head.Headers.Set(last, true)
		s.head.StateDiffs.Set(last, true)
		s.head.Transactions.Set(last, true)
		s.head.Events.Set(last, true)
		if err := s.head.Save(s.db); err != nil {
			return stagedsync.ApplyOutcome[[]model.StateDiff]{}, fmt.Errorf("saving chain head after blocks %s: %w", r, err)
		}
	}
	return stagedsync.Success(input), nil
}

// StartingBlockN resumes from the headers facet.
func (s *BlockSteps) StartingBlockN() *uint64 {
	n, ok := s.head.Headers.Get()
	if !ok {
		return nil
	}
	return &n
}
