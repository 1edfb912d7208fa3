package kv

import "github.com/golang/snappy"

// CompressBlob snappy-compresses large stored blobs (contract classes,
// state diffs) before they hit the column store, named in SPEC_FULL.md's
// DOMAIN STACK. Small rows (headers, single felts) are left uncompressed
// by callers; this helper is only wired into the class/state-diff save
// paths in chainimport.
func CompressBlob(b []byte) []byte {
	return snappy.Encode(nil, b)
}

// DecompressBlob reverses CompressBlob.
func DecompressBlob(b []byte) ([]byte, error) {
	return snappy.Decode(nil, b)
}
