package trie

import (
	"fmt"

	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
)

// Trie is a single named binary Merkle-Patricia tree (the global state
// tree, a per-contract storage tree, or the class tree), buffering
// mutations in memory until Commit materializes them as a new version.
// Grounded on spec.md §4.2's insert/remove/commit/root_hash contract.
type Trie struct {
	id       string // disambiguates sibling trees sharing one column store, e.g. "contract:<addr>"
	db       kv.Database
	hasher   *hasher
	root     node
	pending  map[string]*felt.Felt // bit-path key -> pending value (nil = delete)
	modified bool
}

// New opens (or creates empty) the named trie over db, using hf for node
// hashing.
func New(id string, db kv.Database, hf HashFunc) (*Trie, error) {
	t := &Trie{id: id, db: db, hasher: newHasher(hf), pending: make(map[string]*felt.Felt)}
	rootKey := t.rootKey()
	raw, err := db.Get(kv.TrieNodes, rootKey)
	if err == kv.ErrKeyNotFound {
		return t, nil
	}
	if err != nil {
		return nil, err
	}
	h, err := felt.FromBytesBE(raw)
	if err != nil {
		return nil, err
	}
	t.root = hashNode(h)
	return t, nil
}

func (t *Trie) rootKey() []byte { return []byte("root:" + t.id) }

// Insert buffers a pending write of value at the path identified by key
// (spec.md: "insert(identifier, bit-path, value) - buffer mutations").
func (t *Trie) Insert(key felt.Felt, value felt.Felt) {
	p := newBitPath(key, TreeHeight)
	v := value
	t.pending[pathString(p)] = &v
	t.modified = true
}

// Remove buffers a pending deletion at the path identified by key.
func (t *Trie) Remove(key felt.Felt) {
	p := newBitPath(key, TreeHeight)
	t.pending[pathString(p)] = nil
	t.modified = true
}

func pathString(p *bitPath) string {
	buf := make([]byte, p.len())
	for i, b := range p.bits {
		if b {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	return string(buf)
}

func pathFromString(s string) *bitPath {
	bits := make([]bool, len(s))
	for i, c := range s {
		bits[i] = c == '1'
	}
	return &bitPath{bits: bits}
}

// Commit materializes every buffered mutation into the trie, persists the
// resulting nodes under the column store, tags the version with id (a
// monotone block number), and returns the new root. Matches spec.md's
// "commit(id) - materialize buffered mutations... produce updated root".
func (t *Trie) Commit(blockID uint64, batch kv.Batch) (felt.Felt, error) {
	if len(t.pending) == 0 && t.root != nil {
		return t.hasher.hash(t.root), nil
	}
	for pathStr, val := range t.pending {
		p := pathFromString(pathStr)
		if val == nil {
			t.root = removeAt(t.root, p)
		} else {
			t.root = insertAt(t.root, p, *val)
		}
	}
	t.pending = make(map[string]*felt.Felt)

	root := t.hasher.hash(t.root)
	persistNodes(t.root, batch)
	rootBytes := root.Bytes()
	batch.Put(kv.TrieNodes, t.rootKey(), rootBytes[:])
	batch.Put(kv.TrieLog, logKey(t.id, blockID), rootBytes[:])
	t.modified = false
	return root, nil
}

func logKey(id string, blockID uint64) []byte {
	return []byte(fmt.Sprintf("log:%s:%020d", id, blockID))
}

// RootHash returns the current (possibly uncommitted) root for this trie.
func (t *Trie) RootHash() felt.Felt {
	return t.hasher.hash(t.root)
}

func insertAt(n node, p *bitPath, value felt.Felt) node {
	if p.len() == 0 {
		return &leafNode{value: value}
	}
	if n == nil {
		return &edgeNode{path: p, child: &leafNode{value: value}}
	}
	switch t := n.(type) {
	case *edgeNode:
		common := t.path.commonPrefixLen(p)
		if common == t.path.len() {
			return &edgeNode{path: t.path, child: insertAt(t.child, p.slice(common), value)}
		}
		// split the edge
		branch := &binaryNode{}
		attach(branch, t.path.bits[common], suffixOrChild(t.path, common+1, t.child))
		attach(branch, p.bits[common], insertAt(nil, p.slice(common+1), value))
		if common == 0 {
			return branch
		}
		return &edgeNode{path: &bitPath{bits: p.bits[:common]}, child: branch}
	case *binaryNode:
		branch := &binaryNode{left: t.left, right: t.right}
		if p.bits[0] {
			branch.right = insertAt(t.right, p.slice(1), value)
		} else {
			branch.left = insertAt(t.left, p.slice(1), value)
		}
		return branch
	default:
		return &edgeNode{path: p, child: &leafNode{value: value}}
	}
}

func suffixOrChild(p *bitPath, from int, child node) node {
	if from >= p.len() {
		return child
	}
	return &edgeNode{path: p.slice(from), child: child}
}

func attach(b *binaryNode, bit bool, n node) {
	if bit {
		b.right = n
	} else {
		b.left = n
	}
}

func removeAt(n node, p *bitPath) node {
	if n == nil {
		return nil
	}
	switch t := n.(type) {
	case *edgeNode:
		common := t.path.commonPrefixLen(p)
		if common != t.path.len() {
			return t // key not present under this edge
		}
		child := removeAt(t.child, p.slice(common))
		if child == nil {
			return nil
		}
		return &edgeNode{path: t.path, child: child}
	case *binaryNode:
		branch := &binaryNode{left: t.left, right: t.right}
		if p.bits[0] {
			branch.right = removeAt(t.right, p.slice(1))
		} else {
			branch.left = removeAt(t.left, p.slice(1))
		}
		if branch.left == nil && branch.right == nil {
			return nil
		}
		return branch
	default:
		return nil
	}
}

// persistNodes walks the buffered tree and writes every node needing a
// hash into TrieNodes (internal) / TrieFlat (leaves), per spec.md's
// column split.
func persistNodes(n node, batch kv.Batch) felt.Felt {
	switch t := n.(type) {
	case nil:
		return felt.Zero
	case *leafNode:
		h := t.value
		hb := h.Bytes()
		batch.Put(kv.TrieFlat, hb[:], hb[:])
		return h
	case hashNode:
		return felt.Felt(t)
	case *edgeNode:
		h, _ := t.cachedHash()
		hb := h.Bytes()
		batch.Put(kv.TrieNodes, hb[:], hb[:])
		return h
	case *binaryNode:
		h, _ := t.cachedHash()
		hb := h.Bytes()
		batch.Put(kv.TrieNodes, hb[:], hb[:])
		return h
	default:
		return felt.Zero
	}
}
