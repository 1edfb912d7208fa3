package stagedsync

import "github.com/petar/GoLLRB/llrb"

// rangeItem orders a completed parallel-step outcome by its range start,
// so the sequential step can replay results in ascending order
// regardless of which parallel worker finished first (spec.md §4.4 point
// 2). Grounded on turbo/stages/headerdownload/header_data_struct.go's use
// of llrb.New() (its tipLimiter) to keep out-of-order arrivals sorted by
// a comparable key.
type rangeItem[T any] struct {
	start uint64
	rng   Range
	value T
}

func (r *rangeItem[T]) Less(than llrb.Item) bool {
	return r.start < than.(*rangeItem[T]).start
}

// readyQueue holds completed-but-not-yet-sequentially-processed parallel
// results, ordered by range start.
type readyQueue[T any] struct {
	tree *llrb.LLRB
}

func newReadyQueue[T any]() *readyQueue[T] {
	return &readyQueue[T]{tree: llrb.New()}
}

func (q *readyQueue[T]) put(start uint64, r Range, v T) {
	q.tree.ReplaceOrInsert(&rangeItem[T]{start: start, rng: r, value: v})
}

// peekMin returns the lowest-start item without removing it.
func (q *readyQueue[T]) peekMin() (*rangeItem[T], bool) {
	item := q.tree.Min()
	if item == nil {
		return nil, false
	}
	return item.(*rangeItem[T]), true
}

func (q *readyQueue[T]) popMin() (*rangeItem[T], bool) {
	item := q.tree.DeleteMin()
	if item == nil {
		return nil, false
	}
	return item.(*rangeItem[T]), true
}

func (q *readyQueue[T]) len() int { return q.tree.Len() }
