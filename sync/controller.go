package sync

import (
	"context"
	"time"

	"github.com/ledgerwatch/starksync/log"
)

// Probe reports a current target height upstream, the sole job of a
// "small adapter" per spec.md's glossary entry for Probe. Grounded on
// the Probe trait (GatewayLatestProbe::forward_probe in gateway/mod.rs).
type Probe interface {
	ForwardProbe(ctx context.Context, nextBlockN uint64) (*uint64, error)
}

// MetricsSink receives per-block notifications as the composite head
// advances.
type MetricsSink interface {
	UpdateBlock(blockN uint64)
}

// ForwardPipeline is the controller's composed unit of work: typically a
// blocks+classes+apply-state trio driven towards a target height.
// Grounded on GatewayForwardSync's ForwardPipeline impl in gateway/mod.rs
// (run/next_input_block_n/is_empty/show_status/latest_block).
type ForwardPipeline interface {
	// Run drives the composed pipelines until they either reach
	// targetHeight or drain with nothing left to do.
	Run(ctx context.Context, targetHeight uint64, metrics MetricsSink) error
	NextInputBlockN() uint64
	IsEmpty() bool
	ShowStatus()
	LatestBlock() (uint64, bool)
}

// ControllerConfig tunes the probe re-poll cadence, grounded on
// SyncControllerConfig (referenced, not independently retrieved, in
// gateway/mod.rs's forward_sync constructor).
type ControllerConfig struct {
	ProbeInterval time.Duration
}

// DefaultControllerConfig mirrors the cadence implied by forward_sync's
// call sites (probe re-polled "periodically", spec.md §4.5).
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{ProbeInterval: 2 * time.Second}
}

// Controller is the top-level driver: it polls probe for a target
// height and repeatedly runs pipeline towards it. Grounded on
// SyncController (referenced in gateway/mod.rs's forward_sync) and, for
// its main-loop shape, on cmd/headers/download/downloader.go's
// Downloader (a for-select over timers and ctx.Done()).
type Controller struct {
	pipeline ForwardPipeline
	probe    Probe
	config   ControllerConfig
	metrics  MetricsSink

	logger *log.Logger
}

// NewController composes pipeline with an optional probe (nil disables
// horizon extension; useful for warp-update/replay tooling that already
// knows its target height).
func NewController(pipeline ForwardPipeline, probe Probe, config ControllerConfig, metrics MetricsSink) *Controller {
	return &Controller{pipeline: pipeline, probe: probe, config: config, metrics: metrics, logger: log.New("sync")}
}

// Run drives the controller until ctx is cancelled, stopAtHeight is
// reached (if set), or the pipeline returns a fatal error. Matches the
// main loop sketched in spec.md §4.5, wrapped in the probe re-poll /
// ctx.Done() select shape used throughout this core's ambient stack.
func (c *Controller) Run(ctx context.Context, stopAtHeight *uint64) error {
	ticker := time.NewTicker(c.config.ProbeInterval)
	defer ticker.Stop()

	target, err := c.pollTarget(ctx, stopAtHeight)
	if err != nil {
		return err
	}

	for {
		if target != nil {
			if err := c.pipeline.Run(ctx, *target, c.metrics); err != nil {
				return err
			}
		}
		c.pipeline.ShowStatus()

		if stopAtHeight != nil {
			if n, ok := c.pipeline.LatestBlock(); ok && n >= *stopAtHeight {
				c.logger.Info("reached sync_stop_at, halting", "height", n)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			newTarget, err := c.pollTarget(ctx, stopAtHeight)
			if err != nil {
				c.logger.Warn("probe failed, will retry", "err", err)
				continue
			}
			target = newTarget
		}
	}
}

func (c *Controller) pollTarget(ctx context.Context, stopAtHeight *uint64) (*uint64, error) {
	if stopAtHeight != nil {
		return stopAtHeight, nil
	}
	if c.probe == nil {
		return nil, nil
	}
	return c.probe.ForwardProbe(ctx, c.pipeline.NextInputBlockN())
}
