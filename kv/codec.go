package kv

import (
	"github.com/ugorji/go/codec"
)

// cborHandle is the shared CBOR codec handle used to encode every row
// persisted by this store (ChainHead, Header, StateDiff, ...), named in
// SPEC_FULL.md's DOMAIN STACK as the replacement for go-ethereum's RLP,
// which has no natural encoding for felt-keyed Starknet structures.
var cborHandle = func() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	return h
}()

// Encode serializes v into its canonical CBOR row representation.
func Encode(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, cborHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode deserializes a row previously produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, cborHandle)
	return dec.Decode(v)
}
