package classpipeline

import (
	"errors"
	"testing"

	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/model"
)

type countingBackend struct {
	compileCalls int
	hashCalls    int
	compileErr   error
}

func (b *countingBackend) CompileToCasm(sierra []byte) (felt.Felt, []byte, error) {
	b.compileCalls++
	if b.compileErr != nil {
		return felt.Felt{}, nil, b.compileErr
	}
	return felt.FromUint64(uint64(len(sierra))), append([]byte("casm:"), sierra...), nil
}

func (b *countingBackend) ComputeClassHash(classType model.ClassType, contractClass []byte) (felt.Felt, error) {
	b.hashCalls++
	return felt.FromUint64(uint64(len(contractClass))), nil
}

func TestCompileToCasmCachesByContent(t *testing.T) {
	backend := &countingBackend{}
	c, err := New(backend, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sierra := []byte("some sierra program bytes")
	h1, casm1, err := c.CompileToCasm(sierra)
	if err != nil {
		t.Fatalf("CompileToCasm: %v", err)
	}
	h2, casm2, err := c.CompileToCasm(sierra)
	if err != nil {
		t.Fatalf("CompileToCasm (cached): %v", err)
	}
	if backend.compileCalls != 1 {
		t.Fatalf("backend.CompileToCasm called %d times, want 1 (second call should hit cache)", backend.compileCalls)
	}
	if !h1.Eq(h2) || string(casm1) != string(casm2) {
		t.Fatal("cached CompileToCasm result differs from the original")
	}
}

func TestCompileToCasmDistinctInputsMiss(t *testing.T) {
	backend := &countingBackend{}
	c, err := New(backend, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := c.CompileToCasm([]byte("program a")); err != nil {
		t.Fatalf("CompileToCasm a: %v", err)
	}
	if _, _, err := c.CompileToCasm([]byte("program b")); err != nil {
		t.Fatalf("CompileToCasm b: %v", err)
	}
	if backend.compileCalls != 2 {
		t.Fatalf("backend.CompileToCasm called %d times, want 2 for distinct inputs", backend.compileCalls)
	}
}

func TestComputeClassHashCachesByContentAndType(t *testing.T) {
	backend := &countingBackend{}
	c, err := New(backend, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	contract := []byte("contract bytes")

	if _, err := c.ComputeClassHash(model.ClassTypeSierra, contract); err != nil {
		t.Fatalf("ComputeClassHash: %v", err)
	}
	if _, err := c.ComputeClassHash(model.ClassTypeSierra, contract); err != nil {
		t.Fatalf("ComputeClassHash (cached): %v", err)
	}
	if backend.hashCalls != 1 {
		t.Fatalf("backend.ComputeClassHash called %d times, want 1", backend.hashCalls)
	}

	// Same bytes, different class type: must not share a cache entry.
	if _, err := c.ComputeClassHash(model.ClassTypeLegacy, contract); err != nil {
		t.Fatalf("ComputeClassHash legacy: %v", err)
	}
	if backend.hashCalls != 2 {
		t.Fatalf("backend.ComputeClassHash called %d times, want 2 (type must be part of the cache key)", backend.hashCalls)
	}
}

func TestCompileToCasmPropagatesBackendError(t *testing.T) {
	backend := &countingBackend{compileErr: errors.New("compile failed")}
	c, err := New(backend, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := c.CompileToCasm([]byte("bad program")); err == nil {
		t.Fatal("expected backend error to propagate")
	}
}
