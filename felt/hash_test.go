package felt

import "testing"

func TestPedersenHashDeterministic(t *testing.T) {
	a, b := FromUint64(1), FromUint64(2)
	h1 := PedersenHash(a, b)
	h2 := PedersenHash(a, b)
	if !h1.Eq(h2) {
		t.Fatal("PedersenHash is not deterministic")
	}
}

func TestPedersenHashOrderSensitive(t *testing.T) {
	a, b := FromUint64(1), FromUint64(2)
	if PedersenHash(a, b).Eq(PedersenHash(b, a)) {
		t.Fatal("PedersenHash(a, b) == PedersenHash(b, a), want order-sensitive")
	}
}

func TestPedersenHashNEmpty(t *testing.T) {
	got := PedersenHashN(nil)
	if !got.Eq(PedersenHash(Zero, Zero)) {
		t.Fatalf("PedersenHashN(nil) = %s, want PedersenHash(0, 0)", got)
	}
}

func TestPedersenHashNAppendsLength(t *testing.T) {
	elems := []Felt{FromUint64(1), FromUint64(2)}
	got := PedersenHashN(elems)
	want := PedersenHash(PedersenHash(PedersenHash(Zero, elems[0]), elems[1]), FromUint64(2))
	if !got.Eq(want) {
		t.Fatalf("PedersenHashN did not hash the element count in last")
	}
}

func TestPoseidonHashDeterministic(t *testing.T) {
	a, b := FromUint64(3), FromUint64(4)
	if !PoseidonHash(a, b).Eq(PoseidonHash(a, b)) {
		t.Fatal("PoseidonHash is not deterministic")
	}
}

func TestPoseidonAndPedersenDiffer(t *testing.T) {
	a, b := FromUint64(5), FromUint64(6)
	if PoseidonHash(a, b).Eq(PedersenHash(a, b)) {
		t.Fatal("PoseidonHash and PedersenHash collided on the same inputs, expected distinct fold schedules")
	}
}
