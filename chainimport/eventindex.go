package chainimport

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring"

	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/kv/eventindex"
	"github.com/ledgerwatch/starksync/model"
)

// addressIndexKey is the eventindex key every event emitted by address
// contributes its block number to.
func addressIndexKey(address felt.Felt) []byte {
	b := address.Bytes()
	return append([]byte("addr:"), b[:]...)
}

// keyIndexKey is the eventindex key for an event whose keys[index] ==
// value. Keyed on (index, value) rather than value alone: two events
// with the same felt at different key positions must not collide.
func keyIndexKey(index int, value felt.Felt) []byte {
	b := value.Bytes()
	k := make([]byte, 0, 4+len(b))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(index))
	k = append(k, idx[:]...)
	k = append(k, b[:]...)
	return append([]byte("key:"), k...)
}

// indexEvents folds blockN into the roaring-bitmap address/key index for
// every event in the block, adapted from the per-log indexing
// bitmapdb.go's callers in the teacher do for Ethereum topics/addresses
// (kv/eventindex's doc comment). One merge per distinct key, not per
// event, since AppendMergeByOr already ORs the full delta in one shot.
func indexEvents(db kv.Database, blockN uint64, events []model.EventWithTransactionHash) error {
	if blockN > uint64(^uint32(0)) {
		// The roaring bitmap shards are uint32-keyed (same limitation the
		// teacher's bitmapdb carries for Ethereum block numbers); a chain
		// this long is out of scope.
		return nil
	}
	n := uint32(blockN)

	type indexKey struct {
		col kv.Column
		key string
	}
	deltas := make(map[indexKey]*roaring.Bitmap)
	addTo := func(col kv.Column, key []byte) {
		ik := indexKey{col: col, key: string(key)}
		bm, ok := deltas[ik]
		if !ok {
			bm = roaring.New()
			deltas[ik] = bm
		}
		bm.Add(n)
	}

	for _, ev := range events {
		addTo(kv.EventIndexByAddress, addressIndexKey(ev.Event.FromAddress))
		for i, k := range ev.Event.Keys {
			addTo(kv.EventIndexByKey, keyIndexKey(i, k))
		}
	}

	for ik, bm := range deltas {
		if err := eventindex.AppendMergeByOr(db, ik.col, []byte(ik.key), bm); err != nil {
			return err
		}
	}
	return nil
}

// candidateBlocks returns the set of block numbers in [from, to] that the
// address/key index reports as possibly containing a matching event, or
// nil if the filter has no address/key constraints (meaning every block
// in range must be scanned). It is a superset of the true match set: a
// block can appear here because distinct events separately satisfy
// distinct key constraints, which GetEvents resolves with its own
// per-event check.
func candidateBlocks(db kv.Database, address *felt.Felt, keys [][]felt.Felt, from, to uint64) (*roaring.Bitmap, error) {
	if address == nil && len(keys) == 0 {
		return nil, nil
	}
	var candidate *roaring.Bitmap
	narrowed := false
	intersect := func(bm *roaring.Bitmap) {
		narrowed = true
		if candidate == nil {
			candidate = bm
			return
		}
		candidate = roaring.And(candidate, bm)
	}

	fromU32, toU32 := uint32(0), ^uint32(0)
	if from <= uint64(^uint32(0)) {
		fromU32 = uint32(from)
	}
	if to <= uint64(^uint32(0)) {
		toU32 = uint32(to)
	}

	if address != nil {
		bm, err := eventindex.Get(db, kv.EventIndexByAddress, addressIndexKey(*address), fromU32, toU32)
		if err != nil {
			return nil, err
		}
		intersect(bm)
	}
	for i, allowed := range keys {
		if len(allowed) == 0 {
			continue
		}
		var perIndex *roaring.Bitmap
		for _, v := range allowed {
			bm, err := eventindex.Get(db, kv.EventIndexByKey, keyIndexKey(i, v), fromU32, toU32)
			if err != nil {
				return nil, err
			}
			if perIndex == nil {
				perIndex = bm
			} else {
				perIndex = roaring.Or(perIndex, bm)
			}
		}
		if perIndex != nil {
			intersect(perIndex)
		}
	}
	if !narrowed {
		return nil, nil
	}
	if candidate == nil {
		candidate = roaring.New()
	}
	return candidate, nil
}
