package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePipeline struct {
	runs        int
	latest      uint64
	latestOK    bool
	nextInputN  uint64
	runErr      error
	statusCalls int
}

func (p *fakePipeline) Run(ctx context.Context, targetHeight uint64, metrics MetricsSink) error {
	p.runs++
	if p.runErr != nil {
		return p.runErr
	}
	p.latest = targetHeight
	p.latestOK = true
	metrics.UpdateBlock(targetHeight)
	return nil
}
func (p *fakePipeline) NextInputBlockN() uint64 { return p.nextInputN }
func (p *fakePipeline) IsEmpty() bool           { return true }
func (p *fakePipeline) ShowStatus()             { p.statusCalls++ }
func (p *fakePipeline) LatestBlock() (uint64, bool) {
	return p.latest, p.latestOK
}

type fakeMetrics struct {
	updated []uint64
}

func (m *fakeMetrics) UpdateBlock(blockN uint64) { m.updated = append(m.updated, blockN) }

func TestControllerRunStopsAtSyncStopAtWithoutProbing(t *testing.T) {
	pipeline := &fakePipeline{}
	metrics := &fakeMetrics{}
	ctrl := NewController(pipeline, nil, ControllerConfig{ProbeInterval: time.Hour}, metrics)

	stopAt := uint64(100)
	if err := ctrl.Run(context.Background(), &stopAt); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pipeline.runs != 1 {
		t.Fatalf("pipeline.Run called %d times, want 1", pipeline.runs)
	}
	if len(metrics.updated) != 1 || metrics.updated[0] != 100 {
		t.Fatalf("metrics.updated = %v, want [100]", metrics.updated)
	}
}

func TestControllerRunPropagatesPipelineError(t *testing.T) {
	wantErr := errors.New("boom")
	pipeline := &fakePipeline{runErr: wantErr}
	ctrl := NewController(pipeline, nil, ControllerConfig{ProbeInterval: time.Hour}, &fakeMetrics{})

	stopAt := uint64(1)
	err := ctrl.Run(context.Background(), &stopAt)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() err = %v, want %v", err, wantErr)
	}
}

func TestControllerRunWithNilProbeAndNoStopAtNeverCallsPipeline(t *testing.T) {
	pipeline := &fakePipeline{}
	ctrl := NewController(pipeline, nil, ControllerConfig{ProbeInterval: time.Millisecond}, &fakeMetrics{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ctrl.Run(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() err = %v, want context.DeadlineExceeded", err)
	}
	if pipeline.runs != 0 {
		t.Fatalf("pipeline.Run called %d times with no probe and no stop height, want 0", pipeline.runs)
	}
}
