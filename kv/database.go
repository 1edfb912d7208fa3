package kv

import "errors"

// ErrKeyNotFound is returned by Get when the key is absent.
var ErrKeyNotFound = errors.New("kv: key not found")

// Direction selects iteration order for Iterator.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Database is the column store's read/write surface, grounded on
// ethdb.ObjectDatabase's Get/Put/Delete/Walk contract (generalized from a
// single flat keyspace to the Column-partitioned keyspace named in the
// data model) and on spec.md §4.1's operation list.
type Database interface {
	Get(col Column, key []byte) ([]byte, error)
	Has(col Column, key []byte) (bool, error)
	Put(col Column, key, value []byte) error
	Delete(col Column, key []byte) error
	Iterator(col Column, from []byte, dir Direction) Iterator
	// IteratorPrefix scans (key, value) in key order starting at prefix,
	// terminating at the first key that no longer starts with prefix.
	IteratorPrefix(col Column, prefix []byte) Iterator
	RemoveByPrefix(col Column, prefix []byte) error

	// NewBatch returns a fresh write batch accumulating puts/deletes
	// across columns, committed as one atomic unit by Batch.Write.
	NewBatch() Batch

	// Snapshot pins a point-in-time read view across all columns.
	Snapshot() Snapshot

	Close() error
}

// Iterator walks (key, value) pairs in column order. Grounded on
// ethdb.Cursor's Seek/Next idiom (eth/stagedsync/stage_log_index.go).
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}

// Batch accumulates writes for atomic commit. DisableWAL marks a batch of
// bulk trie writes (spec.md §4.1); neither engine relaxes the commit's
// durability for a marked batch.
type Batch interface {
	Put(col Column, key, value []byte)
	Delete(col Column, key []byte)
	DisableWAL()
	Write() error
	Reset()
	Size() int
}

// Snapshot is a read-only, point-in-time view shared by the column store
// and the trie's snapshot registry (spec.md §4.2: "Snapshots are shared by
// A (the registry) and B (in-flight read transactions); lifetime = longest
// holder"). Grounded on BonsaiDatabase's get/get_by_prefix/contains
// contract in bonsai_db.rs.
type Snapshot interface {
	Get(col Column, key []byte) ([]byte, error)
	Has(col Column, key []byte) (bool, error)
	Iterator(col Column, from []byte, dir Direction) Iterator
	IteratorPrefix(col Column, prefix []byte) Iterator
	Release()
}
