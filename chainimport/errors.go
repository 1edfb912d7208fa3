package chainimport

import (
	"fmt"

	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/model"
)

// Kind classifies an ImportError for the pipeline's failure-routing
// policy (spec.md §7).
type Kind int

const (
	// KindVerificationMismatch is peer-faulty: requeue against a
	// different source.
	KindVerificationMismatch Kind = iota
	// KindCompilationError is structural: retry is futile, surface and
	// halt.
	KindCompilationError
	// KindPeerTimeout / KindTransport: retry with the same source up to
	// a cap, then rotate.
	KindPeerTimeout
	KindTransport
	// KindInternal is unrecoverable: abort the pipeline.
	KindInternal
)

// ImportError is the closed error taxonomy grounded verbatim on the
// BlockImportError enum in import.rs.
type ImportError struct {
	kind Kind
	msg  string
}

func (e *ImportError) Error() string { return e.msg }

// Kind reports this error's routing class.
func (e *ImportError) Kind() Kind { return e.kind }

// IsInternal reports whether this is an unrecoverable error, matching
// BlockImportError::is_internal in import.rs.
func (e *ImportError) IsInternal() bool {
	return e.kind == KindInternal
}

func (k Kind) String() string {
	switch k {
	case KindVerificationMismatch:
		return "verification_mismatch"
	case KindCompilationError:
		return "compilation_error"
	case KindPeerTimeout:
		return "peer_timeout"
	case KindTransport:
		return "transport"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

func mismatch(format string, args ...interface{}) *ImportError {
	return &ImportError{kind: KindVerificationMismatch, msg: fmt.Sprintf(format, args...)}
}

// ErrTransactionCount mirrors BlockImportError::TransactionCount.
func ErrTransactionCount(got, expected uint64) *ImportError {
	return mismatch("transaction count mismatch: expected %d, got %d", expected, got)
}

// ErrTransactionCommitment mirrors BlockImportError::TransactionCommitment.
func ErrTransactionCommitment(got, expected felt.Felt) *ImportError {
	return mismatch("transaction commitment mismatch: expected %s, got %s", expected, got)
}

// ErrEventCount mirrors BlockImportError::EventCount.
func ErrEventCount(got, expected uint64) *ImportError {
	return mismatch("event count mismatch: expected %d, got %d", expected, got)
}

// ErrEventCommitment mirrors BlockImportError::EventCommitment.
func ErrEventCommitment(got, expected felt.Felt) *ImportError {
	return mismatch("event commitment mismatch: expected %s, got %s", expected, got)
}

// ErrStateDiffLength mirrors BlockImportError::StateDiffLength.
func ErrStateDiffLength(got, expected uint64) *ImportError {
	return mismatch("state diff length mismatch: expected %d, got %d", expected, got)
}

// ErrStateDiffCommitment mirrors BlockImportError::StateDiffCommitment.
func ErrStateDiffCommitment(got, expected felt.Felt) *ImportError {
	return mismatch("state diff commitment mismatch: expected %s, got %s", expected, got)
}

// ErrReceiptCommitment mirrors BlockImportError::ReceiptCommitment.
func ErrReceiptCommitment(got, expected felt.Felt) *ImportError {
	return mismatch("receipt commitment mismatch: expected %s, got %s", expected, got)
}

// ErrUnexpectedClass mirrors BlockImportError::UnexpectedClass.
func ErrUnexpectedClass(classHash felt.Felt) *ImportError {
	return mismatch("unexpected class: %s", classHash)
}

// ErrClassType mirrors BlockImportError::ClassType.
func ErrClassType(classHash felt.Felt, got, expected model.ClassType) *ImportError {
	return mismatch("class type mismatch for class hash %s: expected %s, got %s", classHash, expected, got)
}

// ErrClassHash mirrors BlockImportError::ClassHash.
func ErrClassHash(got, expected felt.Felt) *ImportError {
	return mismatch("class hash mismatch: expected %s, got %s", expected, got)
}

// ErrClassCount mirrors BlockImportError::ClassCount.
func ErrClassCount(got, expected uint64) *ImportError {
	return mismatch("class count mismatch: expected %d, got %d", expected, got)
}

// ErrDuplicateClass flags a class hash declared twice in the same block -
// a gateway/peer fault, since the state diff's declared_classes list is
// a set by construction.
func ErrDuplicateClass(classHash felt.Felt) *ImportError {
	return mismatch("class hash %s declared more than once in the same block", classHash)
}

// ErrCompiledClassHash mirrors BlockImportError::CompiledClassHash.
func ErrCompiledClassHash(classHash, got, expected felt.Felt) *ImportError {
	return mismatch("compiled class hash mismatch for class hash %s: expected %s, got %s", classHash, expected, got)
}

// ErrCompilationClassError mirrors BlockImportError::CompilationClassError:
// a structural error in the class itself; retry is futile.
func ErrCompilationClassError(classHash felt.Felt, cause error) *ImportError {
	return &ImportError{kind: KindCompilationError, msg: fmt.Sprintf("class %s failed to compile: %v", classHash, cause)}
}

// ErrComputeClassHash mirrors BlockImportError::ComputeClassHash.
func ErrComputeClassHash(classHash felt.Felt, cause error) *ImportError {
	return &ImportError{kind: KindCompilationError, msg: fmt.Sprintf("failed to compute class hash %s: %v", classHash, cause)}
}

// ErrBlockNumber mirrors BlockImportError::BlockNumber.
func ErrBlockNumber(got, expected uint64) *ImportError {
	return mismatch("block number mismatch: expected %d, got %d", expected, got)
}

// ErrGlobalStateRoot mirrors BlockImportError::GlobalStateRoot.
func ErrGlobalStateRoot(got, expected felt.Felt) *ImportError {
	return mismatch("global state root mismatch: expected %s, got %s", expected, got)
}

// ErrInternalDb mirrors BlockImportError::InternalDb.
func ErrInternalDb(context string, cause error) *ImportError {
	return &ImportError{kind: KindInternal, msg: fmt.Sprintf("internal database error while %s: %v", context, cause)}
}

// ErrInternal mirrors BlockImportError::Internal.
func ErrInternal(msg string) *ImportError {
	return &ImportError{kind: KindInternal, msg: "internal error: " + msg}
}

// ErrPeerTimeout classifies a slow peer for the retry-then-rotate policy.
func ErrPeerTimeout(msg string) *ImportError {
	return &ImportError{kind: KindPeerTimeout, msg: msg}
}

// ErrTransport classifies a transport-level failure for the
// retry-then-rotate policy.
func ErrTransport(cause error) *ImportError {
	return &ImportError{kind: KindTransport, msg: cause.Error()}
}
