// Package model holds the wire/storage data types shared across the
// synchronization core: headers, transactions, receipts, events, state
// diffs and converted classes, as enumerated in spec.md §3.
package model

import (
	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/felt"
)

// StarknetVersion is a protocol version, used to gate the pre-v0.13.2
// transaction-hash special case (spec.md §4.3, §9).
type StarknetVersion struct {
	Major, Minor, Patch uint32
}

// V0_13_2 is the version at which transaction/receipt/event commitments
// became mandatory in every header (DESIGN.md Open Question 3).
var V0_13_2 = StarknetVersion{0, 13, 2}

func (v StarknetVersion) Less(o StarknetVersion) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Max returns the larger of a and b.
func (v StarknetVersion) Max(o StarknetVersion) StarknetVersion {
	if v.Less(o) {
		return o
	}
	return v
}

// GasPrices bundles the four L1 gas price facets carried in a header.
type GasPrices struct {
	EthL1GasPrice      uint64
	StrkL1GasPrice     uint64
	EthL1DataGasPrice  uint64
	StrkL1DataGasPrice uint64
}

// L1DAMode selects how a block's data availability was posted to L1.
type L1DAMode int

const (
	L1DACalldata L1DAMode = iota
	L1DABlob
)

// Header is the immutable, once-stored block header (spec.md §3).
type Header struct {
	BlockNumber          common.BlockNumber
	ParentBlockHash      felt.Felt
	GlobalStateRoot      felt.Felt
	SequencerAddress     felt.Felt
	BlockTimestamp       uint64
	ProtocolVersion      StarknetVersion
	L1GasPrice           GasPrices
	L1DAMode             L1DAMode
	TransactionCount     uint64
	TransactionCommitment felt.Felt
	EventCount           uint64
	EventCommitment      felt.Felt
	StateDiffLength      *uint64
	StateDiffCommitment  *felt.Felt
	ReceiptCommitment    *felt.Felt
}

// BlockHeaderWithSignatures pairs a header with its block hash and the
// (possibly empty, pending verification) consensus signatures, grounded
// on BlockHeaderWithSignatures in import.rs.
type BlockHeaderWithSignatures struct {
	BlockHash            felt.Felt
	Header               Header
	ConsensusSignatures  []felt.Felt
}

// Transaction is a minimal envelope over the protocol's many transaction
// variants; this core only needs enough of it to hash and commit, not to
// execute it.
type Transaction struct {
	Kind      string
	Signature []felt.Felt
	Payload   []byte
}

// TransactionKindInvoke is the gateway's "type" tag for an invoke
// transaction, the one kind whose signature is always folded into its
// hash regardless of block number (see ComputeHashWithSignature).
const TransactionKindInvoke = "INVOKE_FUNCTION"

// Receipt carries a transaction's execution outcome and its events.
type Receipt struct {
	TransactionHash felt.Felt
	Events          []Event
}

// Event is a single emitted log, keyed by contract address with keys/data.
type Event struct {
	FromAddress felt.Felt
	Keys        []felt.Felt
	Data        []felt.Felt
}

// TransactionWithReceipt is an ordered (transaction, receipt) pair
// (spec.md §3).
type TransactionWithReceipt struct {
	Transaction Transaction
	Receipt     Receipt
}

// EventWithTransactionHash is the normalized flat view used for event
// commitment and indexing (spec.md §3).
type EventWithTransactionHash struct {
	TransactionHash felt.Felt
	Event           Event
}

// DeployedContract records a newly deployed contract's address and class.
type DeployedContract struct {
	Address   felt.Felt
	ClassHash felt.Felt
}

// StorageEntry is a single key/value write within a contract's storage.
type StorageEntry struct {
	Key, Value felt.Felt
}

// ContractStorageDiff groups all storage writes for one contract address.
type ContractStorageDiff struct {
	Address        felt.Felt
	StorageEntries []StorageEntry
}

// DeclaredClass names a class hash declared at this block, with an
// optional compiled-class hash (absent for legacy classes).
type DeclaredClass struct {
	ClassHash         felt.Felt
	CompiledClassHash *felt.Felt
}

// NonceUpdate records a contract's new nonce value.
type NonceUpdate struct {
	ContractAddress felt.Felt
	Nonce           felt.Felt
}

// StateDiff is the set of state mutations caused by one block (spec.md §3).
type StateDiff struct {
	DeployedContracts []DeployedContract
	ReplacedClasses   []DeployedContract
	StorageDiffs      []ContractStorageDiff
	DeclaredClasses   []DeclaredClass
	Nonces            []NonceUpdate
}

// Len is the state diff's canonical length, used in the
// StateDiffLength verification check (spec.md §4.3).
func (s StateDiff) Len() uint64 {
	n := uint64(len(s.DeployedContracts) + len(s.ReplacedClasses) + len(s.DeclaredClasses) + len(s.Nonces))
	for _, d := range s.StorageDiffs {
		n += uint64(len(d.StorageEntries))
	}
	return n
}

// AllDeclaredClassHashes lists every class hash this diff declares,
// feeding the classes pipeline stage (spec.md §4.5, gateway/mod.rs's
// state_diffs.all_declared_classes()).
func (s StateDiff) AllDeclaredClassHashes() []felt.Felt {
	out := make([]felt.Felt, 0, len(s.DeclaredClasses))
	for _, c := range s.DeclaredClasses {
		out = append(out, c.ClassHash)
	}
	return out
}

// ClassType distinguishes Sierra from legacy (Cairo 0) classes.
type ClassType int

const (
	ClassTypeLegacy ClassType = iota
	ClassTypeSierra
)

func (t ClassType) String() string {
	if t == ClassTypeSierra {
		return "Sierra"
	}
	return "Legacy"
}

// SierraClassInfo is the source representation of a declared Sierra
// class, prior to compilation.
type SierraClassInfo struct {
	ContractClass     []byte // opaque Sierra program bytes
	CompiledClassHash felt.Felt
}

// LegacyClassInfo is the source representation of a declared Cairo-0
// class.
type LegacyClassInfo struct {
	ContractClass []byte
}

// ClassInfoWithHash pairs a declared class's hash with its source form
// (Sierra xor legacy), grounded on ClassInfoWithHash in import.rs.
type ClassInfoWithHash struct {
	ClassHash felt.Felt
	Type      ClassType
	Sierra    *SierraClassInfo
	Legacy    *LegacyClassInfo
}

// ConvertedClass is the importer's verified, compiled output for one
// declared class (spec.md §3).
type ConvertedClass struct {
	Type              ClassType
	ClassHash         felt.Felt
	SierraInfo        *SierraClassInfo
	LegacyInfo        *LegacyClassInfo
	CompiledClassHash felt.Felt // zero for legacy classes
	CompiledCasm      []byte    // nil for legacy classes
}

// DeclaredClassCompiledClass is the gateway's cross-check input for
// verify_compile_classes: which compiled-class hash (if any) a class
// hash is expected to carry.
type DeclaredClassCompiledClass struct {
	IsLegacy          bool
	CompiledClassHash felt.Felt // meaningless when IsLegacy
}
