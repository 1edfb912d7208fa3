package trie

import "github.com/ledgerwatch/starksync/felt"

// TreeHeight is the bit-depth of every trie in this store: 251 bits,
// matching the STARK field's usable range.
const TreeHeight = 251

// HashFunc combines two felts into a parent hash. Trees select Pedersen
// (most trees) or Poseidon (class tree) via this pluggable function,
// grounded on trie_from_witness.go's newHasher(isBinary) pattern, which
// selected a hash strategy at construction time rather than hard-coding
// one globally.
type HashFunc func(a, b felt.Felt) felt.Felt

// Pedersen and Poseidon are the two HashFunc values trees in this store
// select between.
var (
	Pedersen HashFunc = felt.PedersenHash
	Poseidon HashFunc = felt.PoseidonHash
)

// hasher computes node hashes bottom-up, mirroring trie_from_witness.go's
// pooled *hasher with a hash(node, force, buf) method, specialized here to
// the binary edge/binary/leaf node shapes.
type hasher struct {
	hashFunc HashFunc
}

func newHasher(hf HashFunc) *hasher {
	return &hasher{hashFunc: hf}
}

// hash returns n's content hash, computing and caching it if absent.
func (h *hasher) hash(n node) felt.Felt {
	if n == nil {
		return felt.Zero
	}
	if cached, ok := n.cachedHash(); ok {
		return cached
	}
	switch t := n.(type) {
	case *leafNode:
		return t.value
	case hashNode:
		return felt.Felt(t)
	case *edgeNode:
		childHash := h.hash(t.child)
		length := felt.FromUint64(uint64(t.path.len()))
		pathValue := bitsToFelt(t.path.bits)
		combined := h.hashFunc(childHash, pathValue)
		combined = combined.Add(length)
		out := combined
		t.hash = &out
		return out
	case *binaryNode:
		lh := h.hash(t.left)
		rh := h.hash(t.right)
		out := h.hashFunc(lh, rh)
		t.hash = &out
		return out
	default:
		return felt.Zero
	}
}

func bitsToFelt(bits []bool) felt.Felt {
	v := felt.Zero
	two := felt.FromUint64(2)
	for _, b := range bits {
		v = v.Mul(two)
		if b {
			v = v.Add(felt.One)
		}
	}
	return v
}
