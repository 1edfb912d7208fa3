package stagedsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"golang.org/x/sync/semaphore"
)

// idlePollInterval bounds how long Next() can block re-checking for
// pipeline drain between resultCh deliveries; it is not a polling
// interval for real work (the sequencer goroutine wakes on every
// completion via sync.Cond), only a bridge against the race between a
// result landing on resultCh and Next() having just observed "empty".
const idlePollInterval = 5 * time.Millisecond

// Range is a half-open block range [Start, End).
type Range struct {
	Start, End uint64
}

// Len is the number of blocks covered by r.
func (r Range) Len() uint64 { return r.End - r.Start }

func (r Range) String() string { return fmt.Sprintf("%d..%d", r.Start, r.End) }

// ApplyOutcome is the sequential step's result for one range: either the
// computed Output, or a request to drop and retry the range (a
// peer-faulty verification mismatch that does not warrant aborting the
// whole pipeline - spec.md §7's propagation policy). Grounded on
// ApplyOutcome, referenced (not independently retrieved) in gateway/mod.rs's
// sequential_step, authored here from that call site's `Ok(ApplyOutcome::Success(input))`.
type ApplyOutcome[Output any] struct {
	Retry  bool
	Output Output
}

// Success wraps out as a non-retry outcome.
func Success[Output any](out Output) ApplyOutcome[Output] {
	return ApplyOutcome[Output]{Output: out}
}

// RetryRange requests that the range be dropped and rescheduled.
func RetryRange[Output any]() ApplyOutcome[Output] {
	return ApplyOutcome[Output]{Retry: true}
}

// Steps is the two-phase contract one pipeline implements, grounded on
// gateway/mod.rs's GatewaySyncSteps (PipelineSteps impl): an idempotent
// parallel step that may run concurrently across disjoint ranges, and a
// strictly-ordered sequential step that advances persisted progress.
type Steps[InputItem, SequentialInput, Output any] interface {
	ParallelStep(ctx context.Context, r Range, input []InputItem) (SequentialInput, error)
	SequentialStep(ctx context.Context, r Range, input SequentialInput) (ApplyOutcome[Output], error)
	// StartingBlockN reports where this pipeline should resume from, or
	// nil to start at genesis.
	StartingBlockN() *uint64
}

type parallelOutcome[S any] struct {
	value S
	err   error
}

type rangeResult[Output any] struct {
	r      Range
	output Output
	err    error
}

// Controller runs one pipeline instance: bounded parallel fan-out feeding
// a strictly-ordered sequential step. Grounded on PipelineController in
// gateway/mod.rs (can_schedule_more/next_input_block_n/push/next/
// is_empty/status).
type Controller[InputItem, SequentialInput, Output any] struct {
	steps           Steps[InputItem, SequentialInput, Output]
	parallelization int64

	sem *semaphore.Weighted

	mu             sync.Mutex
	cond           *sync.Cond
	nextInputN     uint64
	inflight       int
	inFlightStarts mapset.Set // range-start block numbers currently in ParallelStep, for Status()
	ready          *readyQueue[parallelOutcome[SequentialInput]]
	expected       uint64 // next range start the sequential step must process
	closed         bool

	resultCh chan rangeResult[Output]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController builds a controller over steps, resuming just past
// steps.StartingBlockN() (or at 0 if nil), with up to parallelization
// concurrent parallel-step tasks.
func NewController[InputItem, SequentialInput, Output any](
	ctx context.Context,
	steps Steps[InputItem, SequentialInput, Output],
	parallelization int,
) *Controller[InputItem, SequentialInput, Output] {
	start := uint64(0)
	if s := steps.StartingBlockN(); s != nil {
		start = *s + 1
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &Controller[InputItem, SequentialInput, Output]{
		steps:           steps,
		parallelization: int64(parallelization),
		sem:             semaphore.NewWeighted(int64(parallelization)),
		nextInputN:      start,
		expected:        start,
		inFlightStarts:  mapset.NewThreadUnsafeSet(),
		ready:           newReadyQueue[parallelOutcome[SequentialInput]](),
		resultCh:        make(chan rangeResult[Output], 1),
		ctx:             cctx,
		cancel:          cancel,
	}
	c.cond = sync.NewCond(&c.mu)
	go c.sequencer()
	return c
}

// CanScheduleMore reports whether a new range may be pushed: the
// parallel window isn't full and no sequential-step result is sitting
// unconsumed (spec.md §4.4 points 1 and 3).
func (c *Controller[I, S, O]) CanScheduleMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.inflight) < c.parallelization && len(c.resultCh) == 0
}

// NextInputBlockN is the next block number not yet pushed into this
// pipeline.
func (c *Controller[I, S, O]) NextInputBlockN() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextInputN
}

// IsEmpty reports whether the pipeline is fully drained: nothing
// in-flight, nothing waiting for the sequential step, and no buffered
// result.
func (c *Controller[I, S, O]) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isEmptyLocked()
}

func (c *Controller[I, S, O]) isEmptyLocked() bool {
	return c.inflight == 0 && c.ready.len() == 0 && len(c.resultCh) == 0 && c.expected == c.nextInputN
}

// Status renders a short human-readable progress summary, matching the
// role of GatewayBlockSync::status() in gateway/mod.rs's show_status.
func (c *Controller[I, S, O]) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("next=%d inflight=%d/%d (starts=%s) ready=%d", c.nextInputN, c.inflight, c.parallelization, c.inFlightStarts.String(), c.ready.len())
}

// Push schedules r as a new parallel-step task. Callers must only push
// when CanScheduleMore() is true.
func (c *Controller[I, S, O]) Push(r Range, input []I) {
	c.mu.Lock()
	c.inflight++
	c.inFlightStarts.Add(r.Start)
	if r.End > c.nextInputN {
		c.nextInputN = r.End
	}
	c.mu.Unlock()

	go func() {
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			c.storeOutcome(r, parallelOutcome[S]{err: err})
			return
		}
		out, err := c.steps.ParallelStep(c.ctx, r, input)
		c.sem.Release(1)
		c.storeOutcome(r, parallelOutcome[S]{value: out, err: err})
	}()
}

func (c *Controller[I, S, O]) storeOutcome(r Range, out parallelOutcome[S]) {
	c.mu.Lock()
	c.inflight--
	c.inFlightStarts.Remove(r.Start)
	c.ready.put(r.Start, r, out)
	c.cond.Signal()
	c.mu.Unlock()
}

// sequencer drains ready results strictly in range-start order, running
// the sequential step for each and publishing its outcome on resultCh -
// the single buffered slot that makes CanScheduleMore's "unconsumed
// result" check meaningful (spec.md §4.4 point 3).
func (c *Controller[I, S, O]) sequencer() {
	for {
		item, ok := c.waitNextReady()
		if !ok {
			return
		}
		c.process(item)
	}
}

func (c *Controller[I, S, O]) waitNextReady() (*rangeItem[parallelOutcome[S]], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.closed {
			return nil, false
		}
		item, ok := c.ready.peekMin()
		if ok && item.start == c.expected {
			c.ready.popMin()
			return item, true
		}
		c.cond.Wait()
	}
}

func (c *Controller[I, S, O]) process(item *rangeItem[parallelOutcome[S]]) {
	if item.value.err != nil {
		c.advanceExpected(item.rng.End)
		c.deliver(rangeResult[O]{r: item.rng, err: item.value.err})
		return
	}
	outcome, err := c.steps.SequentialStep(c.ctx, item.rng, item.value.value)
	if err != nil {
		c.advanceExpected(item.rng.End)
		c.deliver(rangeResult[O]{r: item.rng, err: err})
		return
	}
	c.advanceExpected(item.rng.End)
	if outcome.Retry {
		// Drop the range silently; the sync controller's scheduling
		// loop re-pushes it (possibly against a different source).
		// Progress still advances past it since FIFO ordering demands
		// forward-only replay - a retried range is handled by the
		// caller pushing a fresh range covering the same blocks later.
		return
	}
	c.deliver(rangeResult[O]{r: item.rng, output: outcome.Output})
}

func (c *Controller[I, S, O]) advanceExpected(end uint64) {
	c.mu.Lock()
	c.expected = end
	c.mu.Unlock()
}

func (c *Controller[I, S, O]) deliver(res rangeResult[O]) {
	select {
	case c.resultCh <- res:
	case <-c.ctx.Done():
	}
}

// Next blocks until the next in-order sequential-step result is ready,
// returning ok=false once the pipeline is fully drained with nothing
// left to produce.
func (c *Controller[I, S, O]) Next(ctx context.Context) (r Range, output O, err error, ok bool) {
	for {
		if c.IsEmpty() {
			return Range{}, output, nil, false
		}
		select {
		case res := <-c.resultCh:
			return res.r, res.output, res.err, true
		case <-ctx.Done():
			return Range{}, output, ctx.Err(), true
		case <-time.After(idlePollInterval):
		}
	}
}

// TryNext returns the next in-order sequential-step result if one is
// already buffered, without blocking; ok is false if none is available
// yet. Used by multi-pipeline orchestration (feeder.ForwardSync) to poll
// several controllers in one select-free loop, mirroring the role
// `tokio::select!`'s per-branch readiness check plays in gateway/mod.rs's
// ForwardPipeline::run.
func (c *Controller[I, S, O]) TryNext() (r Range, output O, err error, ok bool) {
	select {
	case res := <-c.resultCh:
		return res.r, res.output, res.err, true
	default:
		return Range{}, output, nil, false
	}
}

// Close aborts every in-flight parallel task and releases the sequencer
// goroutine, matching the pipeline's drop-guard cancellation contract
// (spec.md §4.4 point 5, §5's "Cancellation & timeouts").
func (c *Controller[I, S, O]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	c.cancel()
}
