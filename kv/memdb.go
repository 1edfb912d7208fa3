package kv

import (
	"bytes"
	"sort"
	"sync"
)

// MemDatabase is a pure in-memory Database, grounded on
// ethdb/memory_database.go's in-memory engine selection (there, LMDB
// opened with InMem(); here, a direct map since the column store's
// contract - not LMDB's on-disk format - is what the scenario tests in
// chainimport/stagedsync/sync exercise). LMDBDatabase is the on-disk
// counterpart used in production (lmdb_database.go).
type MemDatabase struct {
	mu   sync.RWMutex
	cols map[Column]map[string][]byte
}

// NewMemDatabase returns an empty in-memory Database with every declared
// Column pre-created, mirroring reinit()'s column bootstrap.
func NewMemDatabase() *MemDatabase {
	db := &MemDatabase{cols: make(map[Column]map[string][]byte, len(Columns))}
	for _, c := range Columns {
		db.cols[c] = make(map[string][]byte)
	}
	return db
}

func (db *MemDatabase) column(col Column) map[string][]byte {
	m, ok := db.cols[col]
	if !ok {
		m = make(map[string][]byte)
		db.cols[col] = m
	}
	return m
}

func (db *MemDatabase) Get(col Column, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.column(col)[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (db *MemDatabase) Has(col Column, key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.column(col)[string(key)]
	return ok, nil
}

func (db *MemDatabase) Put(col Column, key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	db.column(col)[string(key)] = v
	return nil
}

func (db *MemDatabase) Delete(col Column, key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.column(col), string(key))
	return nil
}

func (db *MemDatabase) sortedKeys(col Column) []string {
	m := db.column(col)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (db *MemDatabase) Iterator(col Column, from []byte, dir Direction) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()
	keys := db.sortedKeys(col)
	if dir == Backward {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	start := 0
	for i, k := range keys {
		if dir == Forward && k >= string(from) {
			start = i
			break
		}
		if dir == Backward && k <= string(from) {
			start = i
			break
		}
		start = i + 1
	}
	return &memIterator{db: db, col: col, keys: keys[start:], idx: -1}
}

func (db *MemDatabase) IteratorPrefix(col Column, prefix []byte) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()
	keys := db.sortedKeys(col)
	var filtered []string
	for _, k := range keys {
		if bytes.HasPrefix([]byte(k), prefix) {
			filtered = append(filtered, k)
		}
	}
	return &memIterator{db: db, col: col, keys: filtered, idx: -1}
}

func (db *MemDatabase) RemoveByPrefix(col Column, prefix []byte) error {
	it := db.IteratorPrefix(col, prefix)
	defer it.Close()
	var keys [][]byte
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		keys = append(keys, k)
	}
	if err := it.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	m := db.column(col)
	for _, k := range keys {
		delete(m, string(k))
	}
	return nil
}

func (db *MemDatabase) NewBatch() Batch {
	return &memBatch{db: db}
}

func (db *MemDatabase) Snapshot() Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()
	clone := &MemDatabase{cols: make(map[Column]map[string][]byte, len(db.cols))}
	for c, m := range db.cols {
		cm := make(map[string][]byte, len(m))
		for k, v := range m {
			vv := make([]byte, len(v))
			copy(vv, v)
			cm[k] = vv
		}
		clone.cols[c] = cm
	}
	return &memSnapshot{frozen: clone}
}

func (db *MemDatabase) Close() error { return nil }

type memIterator struct {
	db   *MemDatabase
	col  Column
	keys []string
	idx  int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *memIterator) Key() []byte {
	return []byte(it.keys[it.idx])
}

func (it *memIterator) Value() []byte {
	it.db.mu.RLock()
	defer it.db.mu.RUnlock()
	return it.db.column(it.col)[it.keys[it.idx]]
}

func (it *memIterator) Err() error { return nil }
func (it *memIterator) Close()     {}

type memBatch struct {
	db   *MemDatabase
	ops  []batchOp
	size int
}

type batchOp struct {
	col    Column
	key    []byte
	value  []byte
	delete bool
}

func (b *memBatch) Put(col Column, key, value []byte) {
	b.ops = append(b.ops, batchOp{col: col, key: key, value: value})
	b.size += len(key) + len(value)
}

func (b *memBatch) Delete(col Column, key []byte) {
	b.ops = append(b.ops, batchOp{col: col, key: key, delete: true})
	b.size += len(key)
}

// DisableWAL is a no-op for the in-memory engine; there is no WAL.
func (b *memBatch) DisableWAL() {}

func (b *memBatch) Write() error {
	for _, op := range b.ops {
		if op.delete {
			if err := b.db.Delete(op.col, op.key); err != nil {
				return err
			}
			continue
		}
		if err := b.db.Put(op.col, op.key, op.value); err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

func (b *memBatch) Reset() { b.ops = nil; b.size = 0 }
func (b *memBatch) Size() int { return b.size }

// memSnapshot is a frozen copy-on-read view; adequate for tests and small
// datasets, unlike LMDBDatabase's production snapshot which uses the
// engine's native MVCC read transactions instead of copying.
type memSnapshot struct {
	frozen *MemDatabase
}

func (s *memSnapshot) Get(col Column, key []byte) ([]byte, error) { return s.frozen.Get(col, key) }
func (s *memSnapshot) Has(col Column, key []byte) (bool, error)   { return s.frozen.Has(col, key) }
func (s *memSnapshot) Iterator(col Column, from []byte, dir Direction) Iterator {
	return s.frozen.Iterator(col, from, dir)
}
func (s *memSnapshot) IteratorPrefix(col Column, prefix []byte) Iterator {
	return s.frozen.IteratorPrefix(col, prefix)
}
func (s *memSnapshot) Release() {}
