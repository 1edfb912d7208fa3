// Package eventindex maintains roaring-bitmap indices mapping an event's
// address or key to the set of block numbers it appears in, adapted from
// ethdb/bitmapdb/dbutils.go (AppendMergeByOr / writeBitmapSharded /
// ShardLimit), swapped from the teacher's cgo-backed RoaringBitmap/roaring
// onto its pure-Go form, which is already the import used in that exact
// file (no dependency swap needed: the teacher's own stage_log_index.go
// reaches for github.com/RoaringBitmap/roaring, via the bitmapdb package,
// for the identical sharding algorithm this package generalizes from
// Ethereum log topics/addresses to Starknet event keys/addresses).
package eventindex

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring"
	"github.com/c2h5oh/datasize"

	"github.com/ledgerwatch/starksync/kv"
)

// ShardLimit bounds the serialized size of a single bitmap shard, as in
// ethdb/bitmapdb.ShardLimit.
const ShardLimit = 3 * datasize.KB

func shardKeyFor(key []byte, shardMax uint32) []byte {
	sk := make([]byte, len(key)+4)
	copy(sk, key)
	binary.BigEndian.PutUint32(sk[len(sk)-4:], shardMax)
	return sk
}

// AppendMergeByOr merges delta into the hottest existing shard for key (or
// creates a new one), re-sharding if the merged bitmap exceeds ShardLimit.
func AppendMergeByOr(db kv.Database, col kv.Column, key []byte, delta *roaring.Bitmap) error {
	lastShardKey := shardKeyFor(key, ^uint32(0))
	existing, err := db.Get(col, lastShardKey)
	if err != nil && err != kv.ErrKeyNotFound {
		return err
	}
	if err == nil {
		last, rerr := roaring.New(), error(nil)
		_, rerr = last.FromBuffer(existing)
		if rerr != nil {
			return rerr
		}
		delta = roaring.Or(delta, last)
	}
	return writeBitmapSharded(db, col, key, delta)
}

func writeBitmapSharded(db kv.Database, col kv.Column, key []byte, delta *roaring.Bitmap) error {
	sz := delta.GetSerializedSizeInBytes()
	if sz <= uint64(ShardLimit) {
		buf, err := delta.ToBytes()
		if err != nil {
			return err
		}
		return db.Put(col, shardKeyFor(key, ^uint32(0)), buf)
	}

	shardsAmount := uint32(sz / uint64(ShardLimit))
	if shardsAmount == 0 {
		shardsAmount = 1
	}
	step := uint64(delta.Maximum()-delta.Minimum()) / uint64(shardsAmount)
	if step == 0 {
		step = 1
	}
	shard, tmp := roaring.New(), roaring.New()
	b := db.NewBatch()
	for delta.GetCardinality() > 0 {
		from := uint64(delta.Minimum())
		to := from + step
		tmp.Clear()
		tmp.AddRange(from, to)
		tmp.And(delta)
		shard.Or(tmp)
		shard.RunOptimize()
		delta.RemoveRange(from, to)
		if delta.GetCardinality() == 0 {
			break
		}
		if shard.GetSerializedSizeInBytes() >= uint64(ShardLimit) {
			buf, err := shard.ToBytes()
			if err != nil {
				return err
			}
			b.Put(col, shardKeyFor(key, shard.Maximum()), buf)
			shard.Clear()
		}
	}
	if shard.GetSerializedSizeInBytes() > 0 {
		buf, err := shard.ToBytes()
		if err != nil {
			return err
		}
		b.Put(col, shardKeyFor(key, ^uint32(0)), buf)
	}
	return b.Write()
}

// Get reads as many shards as needed to cover [from, to] and ORs them
// together into a single bitmap.
func Get(db kv.Database, col kv.Column, key []byte, from, to uint32) (*roaring.Bitmap, error) {
	fromKey := shardKeyFor(key, from)
	it := db.IteratorPrefix(col, key)
	defer it.Close()
	var shards []*roaring.Bitmap
	started := false
	for it.Next() {
		if !started {
			if string(it.Key()) < string(fromKey) {
				continue
			}
			started = true
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(it.Value()); err != nil {
			return nil, err
		}
		shards = append(shards, bm)
		shardMax := binary.BigEndian.Uint32(it.Key()[len(it.Key())-4:])
		if shardMax >= to {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return roaring.New(), nil
	}
	return roaring.FastOr(shards...), nil
}

// TruncateRange removes [from, to) from every shard under key, dropping
// shards that become empty, matching ethdb/bitmapdb.TruncateRange.
func TruncateRange(db kv.Database, col kv.Column, key []byte, from, to uint64) error {
	it := db.IteratorPrefix(col, key)
	defer it.Close()
	b := db.NewBatch()
	for it.Next() {
		k := append([]byte(nil), it.Key()...)
		bm := roaring.New()
		if _, err := bm.FromBuffer(it.Value()); err != nil {
			return err
		}
		bm.RemoveRange(from, to)
		if bm.GetCardinality() == 0 {
			b.Delete(col, k)
			continue
		}
		bm.RunOptimize()
		buf, err := bm.ToBytes()
		if err != nil {
			return err
		}
		b.Put(col, k, buf)
	}
	if err := it.Err(); err != nil {
		return err
	}
	return b.Write()
}
