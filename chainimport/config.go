// Package chainimport implements the block importer (C3): a stateless
// verifier+persister for headers, transactions, receipts, events, classes
// and state diffs, and the driver of the global trie apply-step. Grounded
// throughout on crates/madara/client/sync/src/import.rs.
package chainimport

// Config composes the importer's validation switches, grounded verbatim
// on BlockValidationConfig in import.rs.
type Config struct {
	// TrustClassHashes skips recomputing a declared class's hash.
	TrustClassHashes bool
	// TrustParentHash ignores block ordering to allow starting mid-chain.
	TrustParentHash bool
	// NoCheck disables every verification, for testing/replay tooling.
	NoCheck bool
	// VerifySignatures is accepted (default false) but VerifyHeader checks
	// no consensus signature whether it is true or false (SPEC_FULL Open
	// Question 1).
	VerifySignatures bool
}

// WithTrustParentHash returns a copy of c with TrustParentHash set.
func (c Config) WithTrustParentHash(v bool) Config {
	c.TrustParentHash = v
	return c
}

// WithNoCheck returns a copy of c with NoCheck set, matching
// BlockValidationConfig::all_verifications_disabled in import.rs.
func (c Config) WithNoCheck(v bool) Config {
	c.NoCheck = v
	return c
}
