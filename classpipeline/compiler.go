// Package classpipeline wraps a Sierra-to-CASM compilation backend with
// the caching layer that makes per-block class verification cheap: most
// blocks declare no new classes, and the ones that do frequently repeat
// classes already seen earlier in the chain. The compiler itself - the
// Cairo toolchain that actually lowers Sierra to CASM - is an external
// collaborator (out of scope, the same way the downstream Cairo VM is);
// this package only owns the memoization in front of it.
package classpipeline

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"

	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/model"
)

// Backend is the actual Sierra compiler and class-hash computation this
// package delegates to once the caches miss. An implementation wraps
// whatever Cairo toolchain is deployed alongside the node (out-of-process
// binary, FFI, or a downstream crate) - classpipeline never assumes one.
type Backend interface {
	CompileToCasm(sierra []byte) (compiledClassHash felt.Felt, casm []byte, err error)
	ComputeClassHash(classType model.ClassType, contractClass []byte) (felt.Felt, error)
}

// Config sizes the two cache tiers: a small LRU for the scalar
// class-hash results (mirrors db_state_writer.go's per-field account/
// storage/code caches), and a fixed-memory fastcache for the much larger
// compiled CASM blobs.
type Config struct {
	ClassHashCacheSize int
	CompiledCacheBytes int
}

// DefaultConfig sizes caches generously for a single full node process.
func DefaultConfig() Config {
	return Config{ClassHashCacheSize: 4096, CompiledCacheBytes: 256 << 20}
}

// Compiler implements chainimport.ClassCompiler, memoizing both calls
// against backend.
type Compiler struct {
	backend Backend

	mu        sync.Mutex
	hashCache *lru.Cache

	compiledCache *fastcache.Cache
}

// New builds a Compiler in front of backend with the given cache sizing.
func New(backend Backend, cfg Config) (*Compiler, error) {
	hashCache, err := lru.New(cfg.ClassHashCacheSize)
	if err != nil {
		return nil, fmt.Errorf("classpipeline: building class-hash cache: %w", err)
	}
	return &Compiler{
		backend:       backend,
		hashCache:     hashCache,
		compiledCache: fastcache.New(cfg.CompiledCacheBytes),
	}, nil
}

// CompileToCasm compiles sierra to CASM, serving from the compiled-blob
// cache when the same Sierra program has already been compiled (e.g. a
// class declared once and deployed to many contracts).
func (c *Compiler) CompileToCasm(sierra []byte) (felt.Felt, []byte, error) {
	key := sierraCacheKey(sierra)
	if cached, ok := c.compiledCache.HasGet(nil, key); ok {
		hash, casm, err := decodeCompiledEntry(cached)
		if err == nil {
			return hash, casm, nil
		}
		// fall through to recompile on a corrupt cache entry
	}

	hash, casm, err := c.backend.CompileToCasm(sierra)
	if err != nil {
		return felt.Felt{}, nil, err
	}
	c.compiledCache.Set(key, encodeCompiledEntry(hash, casm))
	return hash, casm, nil
}

// ComputeClassHash computes contractClass's class hash, serving from a
// small LRU keyed on the class type and a digest of the class bytes.
func (c *Compiler) ComputeClassHash(classType model.ClassType, contractClass []byte) (felt.Felt, error) {
	key := classHashCacheKey(classType, contractClass)

	c.mu.Lock()
	if v, ok := c.hashCache.Get(key); ok {
		c.mu.Unlock()
		return v.(felt.Felt), nil
	}
	c.mu.Unlock()

	hash, err := c.backend.ComputeClassHash(classType, contractClass)
	if err != nil {
		return felt.Felt{}, err
	}

	c.mu.Lock()
	c.hashCache.Add(key, hash)
	c.mu.Unlock()
	return hash, nil
}

func sierraCacheKey(sierra []byte) []byte {
	return felt.PedersenHashN(feltChunks(sierra)).Bytes()[:]
}

type classHashKey struct {
	classType model.ClassType
	digest    felt.Felt
}

func classHashCacheKey(classType model.ClassType, contractClass []byte) classHashKey {
	return classHashKey{classType: classType, digest: felt.PedersenHashN(feltChunks(contractClass))}
}

// feltChunks splits raw bytes into 31-byte felt-sized chunks so arbitrary
// class payloads can be folded through the felt hash functions without
// risking a chunk that overflows the field's 251-bit modulus.
func feltChunks(b []byte) []felt.Felt {
	const chunkSize = 31
	out := make([]felt.Felt, 0, len(b)/chunkSize+1)
	for i := 0; i < len(b); i += chunkSize {
		end := i + chunkSize
		if end > len(b) {
			end = len(b)
		}
		f, _ := felt.FromBytesBE(b[i:end])
		out = append(out, f)
	}
	if len(out) == 0 {
		out = append(out, felt.Zero)
	}
	return out
}

func encodeCompiledEntry(hash felt.Felt, casm []byte) []byte {
	hb := hash.Bytes()
	out := make([]byte, 0, 32+len(casm))
	out = append(out, hb[:]...)
	out = append(out, casm...)
	return out
}

func decodeCompiledEntry(raw []byte) (felt.Felt, []byte, error) {
	if len(raw) < 32 {
		return felt.Felt{}, nil, fmt.Errorf("classpipeline: truncated cache entry")
	}
	hash, err := felt.FromBytesBE(raw[:32])
	if err != nil {
		return felt.Felt{}, nil, err
	}
	casm := make([]byte, len(raw)-32)
	copy(casm, raw[32:])
	return hash, casm, nil
}
