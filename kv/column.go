// Package kv implements the column store (C1): a typed key-space over a
// persistent ordered KV engine with snapshot and batch semantics. Grounded
// on common/dbutils/bucket.go's bucket enumeration and
// ethdb/memory_database.go's engine-selection pattern, with Ethereum
// buckets replaced 1:1 by the Starknet columns named in the data model.
package kv

import (
	"sort"
	"strings"

	"github.com/ledgerwatch/lmdb-go/lmdb"
)

// Column names the physical key-spaces. The set is closed: callers must
// use one of the constants below, never an ad-hoc string.
type Column string

const (
	// BlockStorageMeta holds singleton rows, notably "head_status".
	BlockStorageMeta Column = "BlockStorageMeta"
	// Headers maps block number -> encoded Header.
	Headers Column = "Headers"
	// Transactions maps (block number, tx index) -> TransactionWithReceipt.
	Transactions Column = "Transactions"
	// Events maps (block number, tx index, event index) -> EventWithTransactionHash.
	Events Column = "Events"
	// StateDiffs maps block number -> encoded StateDiff.
	StateDiffs Column = "StateDiffs"
	// ClassInfo maps class hash -> ClassInfo (Sierra/legacy source).
	ClassInfo Column = "ClassInfo"
	// ContractMeta maps contract address -> its current (class hash,
	// nonce) pair, the pre-image the per-contract leaf in the global
	// contract-state tree hashes over. The tree only stores the leaf
	// hash; this column is what lets a block that only touches a
	// contract's storage recover its unchanged class hash and nonce.
	ContractMeta Column = "ContractMeta"
	// CompiledClasses maps class hash -> compiled CASM blob.
	CompiledClasses Column = "CompiledClasses"
	// PendingBlock is a single-row column overwritten on every update.
	PendingBlock Column = "PendingBlock"
	// PendingClasses is a single-row column overwritten on every update.
	PendingClasses Column = "PendingClasses"
	// TrieFlat holds leaf images for the trie layer.
	TrieFlat Column = "TrieFlat"
	// TrieNodes holds internal trie nodes keyed by hash.
	TrieNodes Column = "TrieNodes"
	// TrieLog holds the historical trie change log.
	TrieLog Column = "TrieLog"
	// L1Messages holds L1-to-L2 message bookkeeping.
	L1Messages Column = "L1Messages"

	// EventIndexByAddress and EventIndexByKey back the roaring-bitmap
	// event index (kv/eventindex), adapted from ethdb/bitmapdb.
	EventIndexByAddress Column = "EventIndexByAddress"
	EventIndexByKey     Column = "EventIndexByKey"

	// Migrations records applied schema migrations, as in
	// migrations/migrations.go.
	Migrations Column = "Migrations"
)

// ColumnConfig mirrors BucketConfigItem: per-column LMDB flags.
type ColumnConfig struct {
	Flags uint
}

// Columns lists every column; sorted in init() exactly like
// common/dbutils/bucket.go's sortBuckets().
var Columns = []Column{
	BlockStorageMeta,
	Headers,
	Transactions,
	Events,
	StateDiffs,
	ClassInfo,
	ContractMeta,
	CompiledClasses,
	PendingBlock,
	PendingClasses,
	TrieFlat,
	TrieNodes,
	TrieLog,
	L1Messages,
	EventIndexByAddress,
	EventIndexByKey,
	Migrations,
}

// ColumnConfigs gives per-column DupSort/comparator configuration. Only
// the multi-value event index sub-tables use DupSort; everything
// else is a plain ordered map.
var ColumnConfigs = map[Column]ColumnConfig{
	Transactions:        {},
	Events:               {},
	EventIndexByAddress: {Flags: lmdb.DupSort},
	EventIndexByKey:     {Flags: lmdb.DupSort},
}

func sortColumns() {
	sort.SliceStable(Columns, func(i, j int) bool {
		return strings.Compare(string(Columns[i]), string(Columns[j])) < 0
	})
}

func init() {
	reinit()
}

func reinit() {
	sortColumns()
	for _, name := range Columns {
		if _, ok := ColumnConfigs[name]; !ok {
			ColumnConfigs[name] = ColumnConfig{}
		}
	}
}
