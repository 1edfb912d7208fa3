package kv

import (
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	fuzz "github.com/google/gofuzz"
)

type codecTestRow struct {
	A uint64
	B string
	C []byte
}

// codecFuzzRow avoids byte-slice nil/empty ambiguity so randomized
// instances compare exactly equal after a round trip.
type codecFuzzRow struct {
	A uint64
	B int32
	C string
	D bool
	E []uint64
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	row := codecTestRow{A: 42, B: "hello", C: []byte{1, 2, 3}}
	enc, err := Encode(row)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got codecTestRow
	if err := Decode(enc, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.A != row.A || got.B != row.B || string(got.C) != string(row.C) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, row)
	}
}

// TestEncodeDecodeRoundTripFuzzed exercises the CBOR round trip over
// randomized rows, catching field-type combinations a hand-picked
// example would miss.
func TestEncodeDecodeRoundTripFuzzed(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 5)
	for i := 0; i < 50; i++ {
		var row codecFuzzRow
		f.Fuzz(&row)

		enc, err := Encode(row)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", row, err)
		}
		var got codecFuzzRow
		if err := Decode(enc, &got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !reflect.DeepEqual(row, got) {
			t.Fatalf("round trip mismatch:\nwant: %s\ngot:  %s", spew.Sdump(row), spew.Sdump(got))
		}
	}
}

func TestEncodeIsCanonical(t *testing.T) {
	row := codecTestRow{A: 7, B: "x"}
	a, err := Encode(row)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(row)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("Encode is not deterministic across calls")
	}
}
