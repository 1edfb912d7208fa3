package trie

import (
	"github.com/ledgerwatch/starksync/kv"
)

// Overlay is a read-only snapshot wrapped with an in-memory write buffer
// that accumulates mutations never visible to other readers, grounded on
// BonsaiTransaction in bonsai_db.rs. GetByPrefix and RemoveByPrefix are
// intentionally unreachable here, matching that type's unreachable!()
// (SPEC_FULL Open Question 2): no production code path in this module
// ever calls them on a transaction overlay, only on the persistent
// database.
type Overlay struct {
	base    kv.Snapshot
	changed map[kv.Column]map[string][]byte
}

func newOverlay(base kv.Snapshot) *Overlay {
	return &Overlay{base: base, changed: make(map[kv.Column]map[string][]byte)}
}

// Get reads the overlay's buffer first, falling back to the pinned base
// snapshot.
func (o *Overlay) Get(col kv.Column, key []byte) ([]byte, error) {
	if m, ok := o.changed[col]; ok {
		if v, ok := m[string(key)]; ok {
			if v == nil {
				return nil, kv.ErrKeyNotFound
			}
			return v, nil
		}
	}
	return o.base.Get(col, key)
}

// Put buffers a write, visible only to this overlay.
func (o *Overlay) Put(col kv.Column, key, value []byte) {
	m, ok := o.changed[col]
	if !ok {
		m = make(map[string][]byte)
		o.changed[col] = m
	}
	m[string(key)] = append([]byte(nil), value...)
}

// Delete buffers a tombstone, visible only to this overlay.
func (o *Overlay) Delete(col kv.Column, key []byte) {
	m, ok := o.changed[col]
	if !ok {
		m = make(map[string][]byte)
		o.changed[col] = m
	}
	m[string(key)] = nil
}

// GetByPrefix is unreachable on a transaction overlay: read-only
// historical views never need prefix scans in this module's code paths,
// matching BonsaiTransaction::get_by_prefix's unreachable!() in
// bonsai_db.rs.
func (o *Overlay) GetByPrefix(kv.Column, []byte) {
	panic("trie: GetByPrefix is not supported on a transaction overlay")
}

// RemoveByPrefix is unreachable on a transaction overlay, matching
// BonsaiTransaction::remove_by_prefix's unreachable!() in bonsai_db.rs.
func (o *Overlay) RemoveByPrefix(kv.Column, []byte) {
	panic("trie: RemoveByPrefix is not supported on a transaction overlay")
}

// WriteBatch is a no-op on a transaction overlay: the overlay's buffer
// already holds every pending mutation; nothing is flushed to the
// persistent store until the overlay is discarded, matching
// BonsaiTransaction::write_batch in bonsai_db.rs.
func (o *Overlay) WriteBatch() error { return nil }

// Release returns the pinned base snapshot.
func (o *Overlay) Release() {
	o.base.Release()
}
