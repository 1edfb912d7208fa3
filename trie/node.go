// Package trie implements the Bonsai-style binary Merkle-Patricia trie
// (C2): a content-addressed trie parametrized by a hash function
// (Pedersen for most trees, Poseidon for the class tree), backed by three
// logical columns (TrieFlat, TrieNodes, TrieLog). Node shapes are grounded
// on trie/trie_from_witness.go's shortNode/fullNode/valueNode set, adapted
// from hex-nibble Ethereum tries to the 251-bit binary paths Starknet
// trees use (see that file's NewBinary(h) vs New(h) distinction - this
// package always builds the binary form).
package trie

import "github.com/ledgerwatch/starksync/felt"

// node is the common interface implemented by every trie node shape.
type node interface {
	cachedHash() (felt.Felt, bool)
}

// edgeNode is a compressed run of binary path bits leading to Child,
// equivalent to trie_from_witness.go's shortNode but over a bitstring key
// instead of hex nibbles.
type edgeNode struct {
	path   *bitPath
	child  node
	hash   *felt.Felt
}

func (n *edgeNode) cachedHash() (felt.Felt, bool) {
	if n.hash == nil {
		return felt.Felt{}, false
	}
	return *n.hash, true
}

// binaryNode is a two-way branch (left = bit 0, right = bit 1), equivalent
// to trie_from_witness.go's fullNode narrowed from 16-ary to 2-ary.
type binaryNode struct {
	left, right node
	hash        *felt.Felt
}

func (n *binaryNode) cachedHash() (felt.Felt, bool) {
	if n.hash == nil {
		return felt.Felt{}, false
	}
	return *n.hash, true
}

// leafNode stores the value felt at the end of a path.
type leafNode struct {
	value felt.Felt
}

func (n *leafNode) cachedHash() (felt.Felt, bool) { return n.value, true }

// hashNode is a reference to a node stored elsewhere, identified by its
// content hash; used for lazily-loaded subtrees, as in
// trie_from_witness.go's hashNode/OperatorHash.
type hashNode felt.Felt

func (n hashNode) cachedHash() (felt.Felt, bool) { return felt.Felt(n), true }

// bitPath is a run of big-endian bits over a 251-bit felt, the binary
// trie's equivalent of the hex-nibble "Key" field on shortNode.
type bitPath struct {
	bits []bool
}

func newBitPath(f felt.Felt, length int) *bitPath {
	b := f.Bytes() // big-endian, 32 bytes = 256 bits
	bits := make([]bool, length)
	for i := 0; i < length; i++ {
		// depth i corresponds to bit (length-1-i) counted from the LSB,
		// i.e. the path walks the value from its most significant
		// relevant bit down to its least significant bit.
		bitFromLSB := length - 1 - i
		byteIdx := len(b) - 1 - bitFromLSB/8
		bitInByte := uint(bitFromLSB % 8)
		bits[i] = (b[byteIdx]>>bitInByte)&1 == 1
	}
	return &bitPath{bits: bits}
}

func (p *bitPath) len() int { return len(p.bits) }

func (p *bitPath) commonPrefixLen(o *bitPath) int {
	n := p.len()
	if o.len() < n {
		n = o.len()
	}
	i := 0
	for i < n && p.bits[i] == o.bits[i] {
		i++
	}
	return i
}

func (p *bitPath) slice(from int) *bitPath {
	return &bitPath{bits: append([]bool(nil), p.bits[from:]...)}
}
