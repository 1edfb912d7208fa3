// Package cpupool provides a bounded CPU-worker pool (spec.md §5),
// implemented with a golang.org/x/sync/semaphore weighted semaphore as the
// replacement for the original's rayon thread pool
// (mp_utils::rayon::RayonPool). Its one user is chainimport's
// ApplyToGlobalTrie, which runs the trie apply-step on it; the importer's
// class hashing and compilation (VerifyCompileClasses) run on the caller's
// goroutine, not on this pool.
package cpupool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent CPU-heavy work to a fixed number of slots,
// mirroring BlockImporter::run_in_rayon_pool's handoff-and-await shape in
// import.rs (there: a rayon thread pool sized to available cores; here: a
// weighted semaphore sized the same way by the caller).
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool with the given number of concurrent slots.
func New(slots int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(slots)}
}

// Run submits fn to the pool, blocking the caller until a slot frees up,
// running fn, and returning its result - the Go equivalent of
// run_in_rayon_pool's spawn-then-await handoff.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer p.sem.Release(1)
	return fn()
}

// RunVoid is Run specialized to side-effecting work with no return value.
func RunVoid(ctx context.Context, p *Pool, fn func() error) error {
	_, err := Run(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
