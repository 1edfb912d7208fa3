package felt

import "github.com/holiman/uint256"

// Pedersen and Poseidon are the two hash functions used by the Starknet
// protocol over the STARK field: Pedersen (elliptic-curve based) for most
// trees and older commitment schemes, Poseidon (a Hades sponge
// permutation) for the class tree and v0.13.2+ commitment schemes.
// Neither hash's protocol-published constants (the curve's fixed
// generator points, Poseidon's round-constant table) are vendored by any
// example retrieved alongside this repository (DESIGN.md) - both are
// built here as the real algorithm shape (genuine EC group law for
// Pedersen, a genuine full/partial-round Hades permutation with an MDS
// mixing layer for Poseidon) over parameters this package derives and
// fixes itself, rather than transcribed protocol constants that can't be
// checked against real test vectors without running the toolchain.

// curveAlpha is the STARK curve's linear coefficient in
// y^2 = x^3 + alpha*x + beta, matching the protocol's published curve
// family (alpha=1).
var curveAlpha = One

// curveBase is a fixed base point on the curve; curveBeta is solved from
// it so the point is genuinely on-curve, since the protocol's own beta
// constant isn't available to cross-check here.
var curveBase = ecPoint{x: FromUint64(2), y: FromUint64(5)}

var curveBeta = func() Felt {
	x, y := curveBase.x, curveBase.y
	return y.Mul(y).Sub(x.Mul(x).Mul(x)).Sub(curveAlpha.Mul(x))
}()

// pedersenShiftPoint, pedersenP0..pedersenP3 are the five fixed points
// the Pedersen hash combines against: a shift point added once, and two
// points per input half (low 248 bits, high remainder) per
// pedersen_hash's official low/high split. Each is curveBase scaled by a
// distinct fixed scalar - real scalar multiplications on a real curve,
// standing in for the protocol's independently-chosen generator points.
var (
	pedersenShiftPoint = scalarMul(curveBase, smallScalar(0xA0A1A2A3A4A5A6A7))
	pedersenP0         = scalarMul(curveBase, smallScalar(0xB0B1B2B3B4B5B6B7))
	pedersenP1         = scalarMul(curveBase, smallScalar(0xC0C1C2C3C4C5C6C7))
	pedersenP2         = scalarMul(curveBase, smallScalar(0xD0D1D2D3D4D5D6D7))
	pedersenP3         = scalarMul(curveBase, smallScalar(0xE0E1E2E3E4E5E6E7))
)

func smallScalar(v uint64) uint256.Int {
	var u uint256.Int
	u.SetUint64(v)
	return u
}

// ecPoint is a point on the short Weierstrass curve
// y^2 = x^3 + curveAlpha*x + curveBeta, or the point at infinity.
type ecPoint struct {
	x, y     Felt
	infinity bool
}

var ecInfinity = ecPoint{infinity: true}

// pointAdd is the curve group law: general chord-and-tangent addition,
// falling back to pointDouble when the two points coincide.
func pointAdd(a, b ecPoint) ecPoint {
	if a.infinity {
		return b
	}
	if b.infinity {
		return a
	}
	if a.x.Eq(b.x) {
		if a.y.Eq(b.y) && !a.y.IsZero() {
			return pointDouble(a)
		}
		return ecInfinity // a + (-a)
	}
	lambda := b.y.Sub(a.y).Mul(b.x.Sub(a.x).Inverse())
	x3 := lambda.Mul(lambda).Sub(a.x).Sub(b.x)
	y3 := lambda.Mul(a.x.Sub(x3)).Sub(a.y)
	return ecPoint{x: x3, y: y3}
}

func pointDouble(a ecPoint) ecPoint {
	if a.infinity || a.y.IsZero() {
		return ecInfinity
	}
	num := a.x.Mul(a.x).Mul(FromUint64(3)).Add(curveAlpha)
	den := a.y.Mul(FromUint64(2)).Inverse()
	lambda := num.Mul(den)
	x3 := lambda.Mul(lambda).Sub(a.x).Sub(a.x)
	y3 := lambda.Mul(a.x.Sub(x3)).Sub(a.y)
	return ecPoint{x: x3, y: y3}
}

// scalarMul computes scalar*p by double-and-add.
func scalarMul(p ecPoint, scalar uint256.Int) ecPoint {
	result := ecInfinity
	base := p
	e := scalar
	var one uint256.Int
	one.SetUint64(1)
	for !e.IsZero() {
		var bit uint256.Int
		bit.And(&e, &one)
		if !bit.IsZero() {
			result = pointAdd(result, base)
		}
		base = pointDouble(base)
		e.Rsh(&e, 1)
	}
	return result
}

// lowHighSplit splits x's 251 significant bits into a 248-bit low part
// and the remaining high part, per pedersen_hash's official element
// encoding.
func lowHighSplit(x Felt) (low, high uint256.Int) {
	u := x.Uint256()
	var mask, one uint256.Int
	one.SetUint64(1)
	mask.Lsh(&one, 248)
	mask.Sub(&mask, &one)
	low.And(&u, &mask)
	high.Rsh(&u, 248)
	return low, high
}

func addScaledElement(point ecPoint, lowPoint, highPoint ecPoint, x Felt) ecPoint {
	low, high := lowHighSplit(x)
	point = pointAdd(point, scalarMul(lowPoint, low))
	point = pointAdd(point, scalarMul(highPoint, high))
	return point
}

// PedersenHash combines two felts into one via the elliptic-curve
// Pedersen construction: a fixed shift point plus, for each input, its
// low/high split each scaled against a dedicated generator point and
// added in; the result is the final point's x-coordinate. Grounded on
// pedersen_hash's official algorithm (StarkWare's pedersen_params /
// pedersen_hash.py), adapted here over self-derived curve points (see
// package doc comment and DESIGN.md).
func PedersenHash(a, b Felt) Felt {
	point := pedersenShiftPoint
	point = addScaledElement(point, pedersenP0, pedersenP1, a)
	point = addScaledElement(point, pedersenP2, pedersenP3, b)
	return point.x
}

// PedersenHashN folds a slice of felts using the protocol's
// compute_hash_on_elements construction: a left fold of PedersenHash
// starting from 0, with the element count hashed in last.
func PedersenHashN(elems []Felt) Felt {
	h := Zero
	for _, e := range elems {
		h = PedersenHash(h, e)
	}
	return PedersenHash(h, FromUint64(uint64(len(elems))))
}

// hadesFullRounds and hadesPartialRounds size the Hades permutation:
// hadesFullRounds/2 full rounds, then hadesPartialRounds partial rounds,
// then hadesFullRounds/2 more full rounds - the standard Hades round
// schedule Starknet's Poseidon instantiates over a width-3 state. The
// exact round count the protocol uses isn't available to cross-check
// here (DESIGN.md); these are a structurally-faithful but independently
// chosen parameterization.
const (
	hadesFullRounds    = 8
	hadesPartialRounds = 56
)

// hadesConstant derives this package's stand-in for Poseidon's
// per-round, per-lane additive round constant. The protocol publishes a
// fixed table of these; absent that table, a deterministic formula
// fills the same structural role (see package doc comment).
func hadesConstant(round, lane int) Felt {
	seed := FromUint64(uint64(round)*2017 + uint64(lane)*131 + 1)
	return seed.Mul(seed).Mul(seed).Add(seed)
}

// hadesMix applies the width-3 MDS linear layer.
func hadesMix(s [3]Felt) [3]Felt {
	two := FromUint64(2)
	return [3]Felt{
		s[0].Mul(two).Add(s[1]).Add(s[2]),
		s[0].Add(s[1].Mul(two)).Add(s[2]),
		s[0].Add(s[1]).Add(s[2].Mul(two)),
	}
}

func cube(f Felt) Felt { return f.Mul(f).Mul(f) }

func hadesFullRound(s [3]Felt, round int) [3]Felt {
	for i := range s {
		s[i] = cube(s[i].Add(hadesConstant(round, i)))
	}
	return hadesMix(s)
}

func hadesPartialRound(s [3]Felt, round int) [3]Felt {
	for i := range s {
		s[i] = s[i].Add(hadesConstant(round, i))
	}
	s[0] = cube(s[0])
	return hadesMix(s)
}

// hadesPermutation is the Hades permutation: half the full rounds, then
// every partial round (cubing only the first lane), then the remaining
// full rounds.
func hadesPermutation(s [3]Felt) [3]Felt {
	round := 0
	for i := 0; i < hadesFullRounds/2; i++ {
		s = hadesFullRound(s, round)
		round++
	}
	for i := 0; i < hadesPartialRounds; i++ {
		s = hadesPartialRound(s, round)
		round++
	}
	for i := 0; i < hadesFullRounds/2; i++ {
		s = hadesFullRound(s, round)
		round++
	}
	return s
}

// PoseidonHash combines two felts via one Hades permutation over a
// width-3 state (a,b,0), returning the first lane.
func PoseidonHash(a, b Felt) Felt {
	state := hadesPermutation([3]Felt{a, b, Zero})
	return state[0]
}

// PoseidonHashN sponges an arbitrary number of felts through the Hades
// permutation at rate 2 (two lanes absorbed per permutation, the third
// held as capacity), padding an odd tail with a domain-separating
// marker in the capacity lane so a trailing single element can't collide
// with a same-valued pair.
func PoseidonHashN(elems []Felt) Felt {
	state := [3]Felt{Zero, Zero, Zero}
	i := 0
	for i+1 < len(elems) {
		state[0] = state[0].Add(elems[i])
		state[1] = state[1].Add(elems[i+1])
		state = hadesPermutation(state)
		i += 2
	}
	if i < len(elems) {
		state[0] = state[0].Add(elems[i])
		state[2] = state[2].Add(One)
	} else {
		state[2] = state[2].Add(FromUint64(2))
	}
	state = hadesPermutation(state)
	return state[0]
}
