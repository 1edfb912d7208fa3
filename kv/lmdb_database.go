package kv

import (
	"fmt"

	"github.com/ledgerwatch/lmdb-go/lmdb"
)

// LMDBDatabase is the production column-store engine, grounded on
// ethdb/memory_database.go's NewLMDB().InMem().MustOpen(...) idiom: one
// LMDB environment, one named sub-database (DBI) per Column, opened with
// the DupSort flags declared in ColumnConfigs.
type LMDBDatabase struct {
	env  *lmdb.Env
	dbis map[Column]lmdb.DBI
}

// LMDBOptions configures OpenLMDB.
type LMDBOptions struct {
	Path    string
	InMem   bool
	MapSize int64
	NoSync  bool // trades durability for bulk-write throughput (spec.md §4.1 WAL-disable option)
}

// OpenLMDB opens (creating if absent) an LMDB-backed Database with every
// declared Column mapped to its own DBI.
func OpenLMDB(opts LMDBOptions) (*LMDBDatabase, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("kv: creating lmdb env: %w", err)
	}
	if err := env.SetMaxDBs(len(Columns) + 1); err != nil {
		return nil, fmt.Errorf("kv: setting max dbs: %w", err)
	}
	mapSize := opts.MapSize
	if mapSize == 0 {
		mapSize = 1 << 34 // 16GiB default, generous for a full node's column store
	}
	if err := env.SetMapSize(mapSize); err != nil {
		return nil, fmt.Errorf("kv: setting map size: %w", err)
	}

	path := opts.Path
	flags := uint(0)
	if opts.InMem {
		path = ""
		flags |= lmdb.NoSync | lmdb.NoMetaSync
	}
	if opts.NoSync {
		flags |= lmdb.NoSync
	}
	if err := env.Open(path, flags, 0644); err != nil {
		return nil, fmt.Errorf("kv: opening lmdb env at %q: %w", path, err)
	}

	db := &LMDBDatabase{env: env, dbis: make(map[Column]lmdb.DBI, len(Columns))}
	err = env.Update(func(txn *lmdb.Txn) error {
		for _, col := range Columns {
			dbiFlags := uint(lmdb.Create)
			if ColumnConfigs[col].Flags&lmdb.DupSort != 0 {
				dbiFlags |= lmdb.DupSort
			}
			dbi, err := txn.OpenDBI(string(col), dbiFlags)
			if err != nil {
				return fmt.Errorf("opening dbi %s: %w", col, err)
			}
			db.dbis[col] = dbi
		}
		return nil
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return db, nil
}

func (db *LMDBDatabase) Get(col Column, key []byte) ([]byte, error) {
	var out []byte
	err := db.env.View(func(txn *lmdb.Txn) error {
		v, err := txn.Get(db.dbis[col], key)
		if lmdb.IsNotFound(err) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (db *LMDBDatabase) Has(col Column, key []byte) (bool, error) {
	_, err := db.Get(col, key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (db *LMDBDatabase) Put(col Column, key, value []byte) error {
	return db.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(db.dbis[col], key, value, 0)
	})
}

func (db *LMDBDatabase) Delete(col Column, key []byte) error {
	return db.env.Update(func(txn *lmdb.Txn) error {
		err := txn.Del(db.dbis[col], key, nil)
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
}

func (db *LMDBDatabase) Iterator(col Column, from []byte, dir Direction) Iterator {
	return db.newIterator(col, from, dir, nil)
}

func (db *LMDBDatabase) IteratorPrefix(col Column, prefix []byte) Iterator {
	return db.newIterator(col, prefix, Forward, prefix)
}

func (db *LMDBDatabase) newIterator(col Column, from []byte, dir Direction, prefix []byte) Iterator {
	txn, err := db.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return &errIterator{err: err}
	}
	cur, err := txn.OpenCursor(db.dbis[col])
	if err != nil {
		txn.Abort()
		return &errIterator{err: err}
	}
	return &lmdbIterator{txn: txn, cur: cur, from: from, dir: dir, prefix: prefix, first: true}
}

// RemoveByPrefix lowers to scan + batched deletes, per spec.md §4.1.
func (db *LMDBDatabase) RemoveByPrefix(col Column, prefix []byte) error {
	it := db.IteratorPrefix(col, prefix)
	defer it.Close()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	if err := it.Err(); err != nil {
		return err
	}
	b := db.NewBatch()
	for _, k := range keys {
		b.Delete(col, k)
	}
	return b.Write()
}

func (db *LMDBDatabase) NewBatch() Batch {
	return &lmdbBatch{db: db}
}

func (db *LMDBDatabase) Snapshot() Snapshot {
	txn, err := db.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return &errSnapshot{err: err}
	}
	return &lmdbSnapshot{db: db, txn: txn}
}

func (db *LMDBDatabase) Close() error {
	db.env.Close()
	return nil
}

type lmdbIterator struct {
	txn    *lmdb.Txn
	cur    *lmdb.Cursor
	from   []byte
	prefix []byte
	dir    Direction
	first  bool
	k, v   []byte
	err    error
	done   bool
}

func (it *lmdbIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	var op uint
	if it.first {
		it.first = false
		if len(it.from) > 0 {
			it.k, it.v, it.err = it.cur.Get(it.from, nil, lmdb.SetRange)
		} else if it.dir == Forward {
			it.k, it.v, it.err = it.cur.Get(nil, nil, lmdb.First)
		} else {
			it.k, it.v, it.err = it.cur.Get(nil, nil, lmdb.Last)
		}
	} else {
		if it.dir == Forward {
			op = lmdb.Next
		} else {
			op = lmdb.Prev
		}
		it.k, it.v, it.err = it.cur.Get(nil, nil, op)
	}
	if lmdb.IsNotFound(it.err) {
		it.err = nil
		it.done = true
		return false
	}
	if it.err != nil {
		it.done = true
		return false
	}
	if len(it.prefix) > 0 && !hasPrefix(it.k, it.prefix) {
		it.done = true
		return false
	}
	return true
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (it *lmdbIterator) Key() []byte   { return it.k }
func (it *lmdbIterator) Value() []byte { return it.v }
func (it *lmdbIterator) Err() error    { return it.err }
func (it *lmdbIterator) Close() {
	it.cur.Close()
	if it.txn != nil {
		it.txn.Abort()
	}
}

type errIterator struct{ err error }

func (it *errIterator) Next() bool     { return false }
func (it *errIterator) Key() []byte    { return nil }
func (it *errIterator) Value() []byte  { return nil }
func (it *errIterator) Err() error     { return it.err }
func (it *errIterator) Close()         {}

type lmdbBatch struct {
	db     *LMDBDatabase
	ops    []batchOp
	noSync bool
}

func (b *lmdbBatch) Put(col Column, key, value []byte) {
	b.ops = append(b.ops, batchOp{col: col, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *lmdbBatch) Delete(col Column, key []byte) {
	b.ops = append(b.ops, batchOp{col: col, key: append([]byte(nil), key...), delete: true})
}

// DisableWAL marks this batch; the mark only sets RawRead on the commit
// transaction. The commit is synced according to the environment's flags
// (LMDBOptions.NoSync/InMem), like any other batch.
func (b *lmdbBatch) DisableWAL() { b.noSync = true }

func (b *lmdbBatch) Write() error {
	return b.db.env.Update(func(txn *lmdb.Txn) error {
		if b.noSync {
			txn.RawRead = true
		}
		for _, op := range b.ops {
			if op.delete {
				if err := txn.Del(b.db.dbis[op.col], op.key, nil); err != nil && !lmdb.IsNotFound(err) {
					return err
				}
				continue
			}
			if err := txn.Put(b.db.dbis[op.col], op.key, op.value, 0); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *lmdbBatch) Reset() { b.ops = nil }
func (b *lmdbBatch) Size() int {
	n := 0
	for _, op := range b.ops {
		n += len(op.key) + len(op.value)
	}
	return n
}

type lmdbSnapshot struct {
	db  *LMDBDatabase
	txn *lmdb.Txn
}

func (s *lmdbSnapshot) Get(col Column, key []byte) ([]byte, error) {
	v, err := s.txn.Get(s.db.dbis[col], key)
	if lmdb.IsNotFound(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

func (s *lmdbSnapshot) Has(col Column, key []byte) (bool, error) {
	_, err := s.Get(col, key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *lmdbSnapshot) Iterator(col Column, from []byte, dir Direction) Iterator {
	cur, err := s.txn.OpenCursor(s.db.dbis[col])
	if err != nil {
		return &errIterator{err: err}
	}
	return &lmdbIterator{txn: nil, cur: cur, from: from, dir: dir, first: true}
}

func (s *lmdbSnapshot) IteratorPrefix(col Column, prefix []byte) Iterator {
	cur, err := s.txn.OpenCursor(s.db.dbis[col])
	if err != nil {
		return &errIterator{err: err}
	}
	return &lmdbIterator{txn: nil, cur: cur, from: prefix, dir: Forward, prefix: prefix, first: true}
}

func (s *lmdbSnapshot) Release() {
	s.txn.Abort()
}

type errSnapshot struct{ err error }

func (s *errSnapshot) Get(Column, []byte) ([]byte, error)           { return nil, s.err }
func (s *errSnapshot) Has(Column, []byte) (bool, error)             { return false, s.err }
func (s *errSnapshot) Iterator(Column, []byte, Direction) Iterator  { return &errIterator{err: s.err} }
func (s *errSnapshot) IteratorPrefix(Column, []byte) Iterator       { return &errIterator{err: s.err} }
func (s *errSnapshot) Release()                                    {}
