package feeder

import (
	"context"
	"testing"

	"github.com/ledgerwatch/starksync/chainimport"
	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/cpupool"
	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/model"
	"github.com/ledgerwatch/starksync/stagedsync"
	synccore "github.com/ledgerwatch/starksync/sync"
	"github.com/ledgerwatch/starksync/trie"
)

// fakeGatewayClient serves one canned block per number, with no classes.
type fakeGatewayClient struct {
	blocks map[uint64]*ProviderStateUpdateWithBlock
	latest uint64
}

func (c *fakeGatewayClient) GetStateUpdateWithBlock(_ context.Context, id common.BlockId) (*ProviderStateUpdateWithBlock, error) {
	n := id.AsNumber()
	b, ok := c.blocks[uint64(n)]
	if !ok {
		return nil, ErrUnexpectedPending
	}
	return b, nil
}

func (c *fakeGatewayClient) GetHeader(context.Context, common.BlockId) (*model.Header, error) {
	return &model.Header{BlockNumber: common.BlockNumber(c.latest)}, nil
}

func (c *fakeGatewayClient) GetClassByHash(context.Context, felt.Felt, common.BlockId) ([]byte, error) {
	return nil, nil
}

func canned(blockN uint64) *ProviderStateUpdateWithBlock {
	hash := "0x1"
	return &ProviderStateUpdateWithBlock{
		Block: RawBlock{
			BlockHash:        &hash,
			BlockNumber:      blockN,
			ParentBlockHash:  "0x0",
			SequencerAddress: &hash,
			StateRoot:        "0x0",
			L1DAMode:         "CALLDATA",
		},
	}
}

func newTestImporter(t *testing.T, db kv.Database) *chainimport.Importer {
	t.Helper()
	pool := cpupool.New(2)
	return chainimport.New(db, chainimport.Config{NoCheck: true}, pool, felt.FromUint64(1), chainimport.NewDBHeaderStore(db), nil)
}

func newTestBlockSteps(t *testing.T, client Client) (*BlockSteps, *synccore.ChainHead, kv.Database) {
	t.Helper()
	db := kv.NewMemDatabase()
	head := &synccore.ChainHead{}
	steps := NewBlockSteps(client, newTestImporter(t, db), db, head)
	return steps, head, db
}

func TestBlockStepsImportsAndAdvancesHead(t *testing.T) {
	client := &fakeGatewayClient{blocks: map[uint64]*ProviderStateUpdateWithBlock{
		0: canned(0),
		1: canned(1),
	}, latest: 1}
	steps, head, _ := newTestBlockSteps(t, client)

	r := stagedsync.Range{Start: 0, End: 2}
	diffs, err := steps.ParallelStep(context.Background(), r, make([]struct{}, 2))
	if err != nil {
		t.Fatalf("ParallelStep: %v", err)
	}
	if len(diffs) != 2 {
		t.Fatalf("len(diffs) = %d, want 2", len(diffs))
	}

	outcome, err := steps.SequentialStep(context.Background(), r, diffs)
	if err != nil {
		t.Fatalf("SequentialStep: %v", err)
	}
	if outcome.Retry {
		t.Fatal("SequentialStep unexpectedly requested a retry")
	}

	n, ok := head.Headers.Get()
	if !ok || n != 1 {
		t.Fatalf("head.Headers.Get() = (%d, %v), want (1, true)", n, ok)
	}
}

func TestBlockStepsStartingBlockNResumesFromHead(t *testing.T) {
	steps, head, _ := newTestBlockSteps(t, &fakeGatewayClient{})
	if steps.StartingBlockN() != nil {
		t.Fatal("StartingBlockN on a fresh head should be nil")
	}
	head.Headers.Set(9, true)
	n := steps.StartingBlockN()
	if n == nil || *n != 9 {
		t.Fatalf("StartingBlockN() = %v, want 9", n)
	}
}

func TestBlockStepsPropagatesClientError(t *testing.T) {
	client := &fakeGatewayClient{blocks: map[uint64]*ProviderStateUpdateWithBlock{}}
	steps, _, _ := newTestBlockSteps(t, client)
	_, err := steps.ParallelStep(context.Background(), stagedsync.Range{Start: 0, End: 1}, make([]struct{}, 1))
	if err == nil {
		t.Fatal("expected an error for a block the fake client doesn't have")
	}
}

func TestApplyStateStepsAppliesAndAdvancesHead(t *testing.T) {
	db := kv.NewMemDatabase()
	importer := newTestImporter(t, db)
	tr, err := trie.New("global", db, trie.Pedersen)
	if err != nil {
		t.Fatalf("trie.New: %v", err)
	}
	classesTrie, err := trie.New("classes", db, trie.Poseidon)
	if err != nil {
		t.Fatalf("trie.New: %v", err)
	}
	head := &synccore.ChainHead{}
	steps := NewApplyStateSteps(importer, tr, classesTrie, db, head)

	diff := model.StateDiff{DeployedContracts: []model.DeployedContract{{Address: felt.FromUint64(1), ClassHash: felt.FromUint64(1)}}}
	r := stagedsync.Range{Start: 0, End: 1}
	passthrough, err := steps.ParallelStep(context.Background(), r, []model.StateDiff{diff})
	if err != nil {
		t.Fatalf("ParallelStep: %v", err)
	}

	if _, err := steps.SequentialStep(context.Background(), r, passthrough); err != nil {
		t.Fatalf("SequentialStep: %v", err)
	}

	n, ok := head.GlobalTrie.Get()
	if !ok || n != 0 {
		t.Fatalf("head.GlobalTrie.Get() = (%d, %v), want (0, true)", n, ok)
	}
}

func TestForwardSyncRunsToTargetHeight(t *testing.T) {
	client := &fakeGatewayClient{blocks: map[uint64]*ProviderStateUpdateWithBlock{
		0: canned(0),
		1: canned(1),
		2: canned(2),
	}, latest: 2}
	db := kv.NewMemDatabase()
	importer := newTestImporter(t, db)
	tr, err := trie.New("global", db, trie.Pedersen)
	if err != nil {
		t.Fatalf("trie.New: %v", err)
	}
	head := &synccore.ChainHead{}

	ctx := context.Background()
	fs, err := NewForwardSync(ctx, client, importer, tr, db, head, true, ForwardSyncConfig{
		BlockParallelization: 4,
		BlockBatchSize:       1,
		ClassParallelization: 4,
		ApplyParallelization: 4,
	})
	if err != nil {
		t.Fatalf("NewForwardSync: %v", err)
	}
	defer fs.Close()

	var updated []uint64
	metrics := metricsFunc(func(blockN uint64) { updated = append(updated, blockN) })

	if err := fs.Run(ctx, 2, metrics); err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, ok := fs.LatestBlock()
	if !ok || n != 2 {
		t.Fatalf("LatestBlock() = (%d, %v), want (2, true)", n, ok)
	}
	if len(updated) != 3 {
		t.Fatalf("metrics notified for %v, want 3 blocks", updated)
	}
}

func TestLatestProbeReturnsClientLatest(t *testing.T) {
	client := &fakeGatewayClient{latest: 42}
	probe := NewLatestProbe(client)
	n, err := probe.ForwardProbe(context.Background(), 0)
	if err != nil {
		t.Fatalf("ForwardProbe: %v", err)
	}
	if n == nil || *n != 42 {
		t.Fatalf("ForwardProbe() = %v, want 42", n)
	}
}

// metricsFunc adapts a func to synccore.MetricsSink.
type metricsFunc func(blockN uint64)

func (f metricsFunc) UpdateBlock(blockN uint64) { f(blockN) }
