// Package felt implements the 251-bit STARK field element used throughout
// the synchronization core as the universal scalar: block hashes, state
// roots, addresses, class hashes and storage keys/values are all felts.
package felt

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Felt is a field element of the STARK prime field
// P = 2^251 + 17*2^192 + 1, stored as a fixed-width unsigned integer. The
// modulus is not enforced on every arithmetic op (callers reduce where it
// matters); Felt is primarily a value type for hashing and storage.
type Felt struct {
	inner uint256.Int
}

// Prime is the STARK field modulus.
var Prime = func() uint256.Int {
	p, err := uint256.FromHex("0x800000000000011000000000000000000000000000000000000000000000001")
	if err != nil {
		panic(err)
	}
	return *p
}()

// Zero is the additive identity.
var Zero = Felt{}

// One is the multiplicative identity.
var One = FromUint64(1)

// FromUint64 builds a Felt from a small integer.
func FromUint64(v uint64) Felt {
	var f Felt
	f.inner.SetUint64(v)
	return f
}

// FromHex parses a `0x`-prefixed (or bare) hex string into a Felt.
func FromHex(s string) (Felt, error) {
	v, err := uint256.FromHex(s)
	if err != nil {
		return Felt{}, fmt.Errorf("felt: invalid hex %q: %w", s, err)
	}
	return Felt{inner: *v}, nil
}

// MustFromHex is FromHex, panicking on error; used for constants and tests.
func MustFromHex(s string) Felt {
	f, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FromBytesBE interprets a big-endian byte slice (at most 32 bytes) as a Felt.
func FromBytesBE(b []byte) (Felt, error) {
	if len(b) > 32 {
		return Felt{}, errors.New("felt: input longer than 32 bytes")
	}
	var f Felt
	f.inner.SetBytes(b)
	return f, nil
}

// Bytes returns the big-endian 32-byte encoding of f.
func (f Felt) Bytes() [32]byte {
	return f.inner.Bytes32()
}

// String renders f as a `0x`-prefixed hex string, matching the display
// convention used throughout the gateway/error types this core mirrors.
func (f Felt) String() string {
	return "0x" + hex.EncodeToString(bytesTrimLeadingZero(f.inner.Bytes()))
}

func bytesTrimLeadingZero(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// Eq reports whether f and other represent the same value.
func (f Felt) Eq(other Felt) bool {
	return f.inner.Eq(&other.inner)
}

// IsZero reports whether f is the additive identity.
func (f Felt) IsZero() bool {
	return f.inner.IsZero()
}

// Add returns f+other reduced modulo Prime.
func (f Felt) Add(other Felt) Felt {
	var out Felt
	out.inner.AddMod(&f.inner, &other.inner, &Prime)
	return out
}

// Mul returns f*other reduced modulo Prime.
func (f Felt) Mul(other Felt) Felt {
	var out Felt
	out.inner.MulMod(&f.inner, &other.inner, &Prime)
	return out
}

// Sub returns f-other reduced modulo Prime.
func (f Felt) Sub(other Felt) Felt {
	var out Felt
	out.inner.SubMod(&f.inner, &other.inner, &Prime)
	return out
}

// primeMinusTwo is Prime-2, the exponent Inverse raises to (Fermat's
// little theorem: since Prime is prime, a^(Prime-2) == a^-1 mod Prime).
var primeMinusTwo = func() uint256.Int {
	var two, out uint256.Int
	two.SetUint64(2)
	out.Sub(&Prime, &two)
	return out
}()

// Inverse returns f's multiplicative inverse modulo Prime, used by the
// elliptic-curve point arithmetic behind PedersenHash (slope computation
// needs division). Panics on zero, which has no inverse.
func (f Felt) Inverse() Felt {
	if f.IsZero() {
		panic("felt: inverse of zero")
	}
	return f.expMod(primeMinusTwo)
}

// expMod computes f^exponent mod Prime by square-and-multiply.
func (f Felt) expMod(exponent uint256.Int) Felt {
	result := One
	base := f
	e := exponent
	var one uint256.Int
	one.SetUint64(1)
	for !e.IsZero() {
		var bit uint256.Int
		bit.And(&e, &one)
		if !bit.IsZero() {
			result = result.Mul(base)
		}
		base = base.Mul(base)
		e.Rsh(&e, 1)
	}
	return result
}

// Uint256 exposes the backing integer for callers that need it (trie paths,
// bit-indexing).
func (f Felt) Uint256() uint256.Int {
	return f.inner
}
