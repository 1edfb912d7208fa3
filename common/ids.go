// Package common holds the small value types shared by every layer of the
// synchronization core: block numbers, chain ids, and the BlockId sum type
// used to address a block by number, hash or tag. Modeled on the plain
// fixed-size value types in turbo-geth's common package (Hash, Address),
// generalized to felt-keyed Starknet data.
package common

import (
	"fmt"

	"github.com/ledgerwatch/starksync/felt"
)

// BlockNumber is a monotone block height. Genesis is 0.
type BlockNumber uint64

// ChainID identifies the network (mainnet, sepolia, ...).
type ChainID string

// ToFelt encodes the chain id as the felt used in hash domain separation.
func (c ChainID) ToFelt() felt.Felt {
	var buf [32]byte
	copy(buf[32-len(c):], c)
	f, _ := felt.FromBytesBE(buf[:])
	return f
}

// BlockTag selects a symbolic block.
type BlockTag int

const (
	// TagLatest is the most recent fully-imported block.
	TagLatest BlockTag = iota
	// TagPending is the single in-flight candidate block.
	TagPending
)

func (t BlockTag) String() string {
	switch t {
	case TagLatest:
		return "latest"
	case TagPending:
		return "pending"
	default:
		return "unknown"
	}
}

// BlockId is a closed sum type addressing a block by number, hash, or tag.
// Exactly one of the three is meaningful per value, selected by Kind.
type BlockId struct {
	kind BlockIdKind
	num  BlockNumber
	hash felt.Felt
	tag  BlockTag
}

// BlockIdKind discriminates the BlockId variant in use.
type BlockIdKind int

const (
	BlockIdNumber BlockIdKind = iota
	BlockIdHash
	BlockIdTag
)

// Number builds a BlockId addressing a specific height.
func Number(n BlockNumber) BlockId { return BlockId{kind: BlockIdNumber, num: n} }

// Hash builds a BlockId addressing a specific block hash.
func Hash(h felt.Felt) BlockId { return BlockId{kind: BlockIdHash, hash: h} }

// Tag builds a BlockId addressing a symbolic tag (latest/pending).
func Tag(t BlockTag) BlockId { return BlockId{kind: BlockIdTag, tag: t} }

// Kind reports which variant this BlockId holds.
func (b BlockId) Kind() BlockIdKind { return b.kind }

// AsNumber returns the numeric value; callers must check Kind() first.
func (b BlockId) AsNumber() BlockNumber { return b.num }

// AsHash returns the hash value; callers must check Kind() first.
func (b BlockId) AsHash() felt.Felt { return b.hash }

// AsTag returns the tag value; callers must check Kind() first.
func (b BlockId) AsTag() BlockTag { return b.tag }

func (b BlockId) String() string {
	switch b.kind {
	case BlockIdNumber:
		return fmt.Sprintf("#%d", b.num)
	case BlockIdHash:
		return b.hash.String()
	case BlockIdTag:
		return b.tag.String()
	default:
		return "invalid-block-id"
	}
}

// Address is a contract/account address, a felt under the hood.
type Address = felt.Felt
