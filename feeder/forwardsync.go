package feeder

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerwatch/starksync/chainimport"
	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/log"
	"github.com/ledgerwatch/starksync/model"
	"github.com/ledgerwatch/starksync/stagedsync"
	synccore "github.com/ledgerwatch/starksync/sync"
	"github.com/ledgerwatch/starksync/trie"
)

// idlePollInterval bounds how long Run's orchestration loop can sleep
// between TryNext polls when no pipeline has made progress, mirroring
// stagedsync.Controller.Next's bridge interval.
const idlePollInterval = 5 * time.Millisecond

// ForwardSyncConfig sizes each of the three pipelines' parallel fan-out,
// grounded verbatim on ForwardSyncConfig's block_*/classes_*/
// apply_state_* fields in gateway/mod.rs.
type ForwardSyncConfig struct {
	BlockParallelization int
	BlockBatchSize       uint64
	ClassParallelization int
	ApplyParallelization int
}

// DefaultForwardSyncConfig mirrors ForwardSyncConfig::default in
// gateway/mod.rs.
func DefaultForwardSyncConfig() ForwardSyncConfig {
	return ForwardSyncConfig{
		BlockParallelization: 100,
		BlockBatchSize:       1,
		ClassParallelization: 200,
		ApplyParallelization: 3,
	}
}

// ForwardSync composes the three independently-scheduled pipelines
// (blocks, classes, apply-state) spec.md §4.5 names, grounded on
// GatewayForwardSync in gateway/mod.rs. Each pipeline owns a distinct
// ChainHead facet; LatestFullBlockN (a MIN across facets) only reports a
// block done once every pipeline has cleared it.
type ForwardSync struct {
	blocks  *stagedsync.Controller[struct{}, []model.StateDiff, []model.StateDiff]
	classes *stagedsync.Controller[model.StateDiff, []classesBlockResult, struct{}]
	apply   *stagedsync.Controller[model.StateDiff, []model.StateDiff, struct{}]

	head   *synccore.ChainHead
	config ForwardSyncConfig
	logger *log.Logger
}

// NewForwardSync builds a ForwardSync driving client against importer,
// maintaining contractsTrie (the per-contract leaves) and an internally
// opened class tree (unless disableTries), over the given config.
func NewForwardSync(ctx context.Context, client Client, importer *chainimport.Importer, contractsTrie *trie.Trie, db kv.Database, head *synccore.ChainHead, disableTries bool, config ForwardSyncConfig) (*ForwardSync, error) {
	classesTrie, err := trie.New("classes", db, trie.Poseidon)
	if err != nil {
		return nil, fmt.Errorf("feeder: opening class tree: %w", err)
	}

	blockSteps := NewBlockSteps(client, importer, db, head)
	classSteps := NewClassSteps(client, importer, db, head)
	applySteps := NewApplyStateSteps(importer, contractsTrie, classesTrie, db, head)
	applySteps.DisableTries = disableTries

	return &ForwardSync{
		blocks:  stagedsync.NewController[struct{}, []model.StateDiff, []model.StateDiff](ctx, blockSteps, config.BlockParallelization),
		classes: stagedsync.NewController[model.StateDiff, []classesBlockResult, struct{}](ctx, classSteps, config.ClassParallelization),
		apply:   stagedsync.NewController[model.StateDiff, []model.StateDiff, struct{}](ctx, applySteps, config.ApplyParallelization),
		head:    head,
		config:  config,
		logger:  log.New("feeder"),
	}, nil
}

// Run pushes block ranges up to targetHeight, fans each completed range
// out to the classes and apply-state pipelines, and notifies metrics for
// every block that newly became fully imported. Grounded verbatim on
// GatewayForwardSync::run's loop, including its cross-stage coupling: a
// blocks-pipeline result is only consumed once both downstream pipelines
// have spare capacity (spec.md §4.4 point 4 - this is what keeps state
// diffs in flight bounded, since an unconsumed blocks result simply stays
// queued in the blocks controller's single-slot resultCh instead of
// accumulating here).
func (f *ForwardSync) Run(ctx context.Context, targetHeight uint64, metrics synccore.MetricsSink) error {
	for {
		for f.blocks.CanScheduleMore() && f.blocks.NextInputBlockN() <= targetHeight {
			start := f.blocks.NextInputBlockN()
			end := start + f.config.BlockBatchSize
			if end > targetHeight+1 {
				end = targetHeight + 1
			}
			input := make([]struct{}, end-start)
			f.blocks.Push(stagedsync.Range{Start: start, End: end}, input)
		}

		beforeNext := f.head.NextFullBlock()
		progressed := false

		if r, _, err, ok := f.apply.TryNext(); ok {
			progressed = true
			if err != nil {
				return fmt.Errorf("feeder: applying state for range %s: %w", r, err)
			}
		}
		if r, _, err, ok := f.classes.TryNext(); ok {
			progressed = true
			if err != nil {
				return fmt.Errorf("feeder: importing classes for range %s: %w", r, err)
			}
		}
		if f.classes.CanScheduleMore() && f.apply.CanScheduleMore() {
			if r, diffs, err, ok := f.blocks.TryNext(); ok {
				progressed = true
				if err != nil {
					return fmt.Errorf("feeder: importing blocks range %s: %w", r, err)
				}
				f.classes.Push(r, diffs)
				f.apply.Push(r, diffs)
			}
		}

		afterNext := f.head.NextFullBlock()
		for blockN := beforeNext; blockN < afterNext; blockN++ {
			if metrics != nil {
				metrics.UpdateBlock(blockN)
			}
		}

		if f.blocks.IsEmpty() && f.classes.IsEmpty() && f.apply.IsEmpty() {
			return nil
		}
		if !progressed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// NextInputBlockN implements sync.ForwardPipeline.
func (f *ForwardSync) NextInputBlockN() uint64 { return f.blocks.NextInputBlockN() }

// IsEmpty implements sync.ForwardPipeline.
func (f *ForwardSync) IsEmpty() bool { return f.blocks.IsEmpty() && f.classes.IsEmpty() && f.apply.IsEmpty() }

// ShowStatus implements sync.ForwardPipeline, grounded on
// GatewayForwardSync::show_status's three-pipeline status line.
func (f *ForwardSync) ShowStatus() {
	f.logger.Info("sync status", "blocks", f.blocks.Status(), "classes", f.classes.Status(), "apply_state", f.apply.Status())
}

// LatestBlock implements sync.ForwardPipeline.
func (f *ForwardSync) LatestBlock() (uint64, bool) { return f.head.LatestFullBlockN() }

// Close releases every pipeline's background sequencer.
func (f *ForwardSync) Close() {
	f.blocks.Close()
	f.classes.Close()
	f.apply.Close()
}

// LatestProbe implements sync.Probe against the feeder gateway's
// `latest` tag, grounded verbatim on GatewayLatestProbe in gateway/mod.rs.
type LatestProbe struct {
	client Client
}

// NewLatestProbe builds a LatestProbe over client.
func NewLatestProbe(client Client) *LatestProbe {
	return &LatestProbe{client: client}
}

// ForwardProbe implements sync.Probe.
func (p *LatestProbe) ForwardProbe(ctx context.Context, _nextBlockN uint64) (*uint64, error) {
	header, err := p.client.GetHeader(ctx, common.Tag(common.TagLatest))
	if err != nil {
		return nil, fmt.Errorf("feeder: getting latest header: %w", err)
	}
	n := uint64(header.BlockNumber)
	return &n, nil
}
