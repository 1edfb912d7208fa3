// Package p2p declares the Go-level stream interfaces this core consumes
// from the peer-to-peer overlay: peer discovery and stream multiplexing
// themselves are an external collaborator (spec.md §1) and are not
// implemented here. Grounded on mc_p2p::P2pCommands's make_*_stream
// methods and mc_db::stream::BlockStreamConfig, referenced throughout
// crates/client/sync2/src/{classes,state_diffs,headers}.rs.
package p2p

import (
	"context"

	"github.com/ledgerwatch/starksync/model"
)

// PeerId identifies a remote peer on the overlay.
type PeerId string

// Direction selects whether a block stream walks forward or backward
// from BlockRange's start.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionBackward
)

// BlockStreamConfig parameterizes a block-range stream request,
// grounded verbatim on BlockStreamConfig (referenced, not independently
// retrieved, in state_diffs.rs/classes.rs's make_*_stream calls).
type BlockStreamConfig struct {
	BlockRange [2]uint64 // [start, end), half-open
	Direction  Direction
	Step       uint64
	Limit      *uint64
}

// WithBlockRange returns a copy of c addressing [start, end).
func (c BlockStreamConfig) WithBlockRange(start, end uint64) BlockStreamConfig {
	c.BlockRange = [2]uint64{start, end}
	return c
}

// HeaderItem is one item yielded by a headers stream.
type HeaderItem struct {
	Header model.Header
}

// StateDiffItem is one item yielded by a state-diffs stream.
type StateDiffItem struct {
	StateDiff model.StateDiff
}

// ClassesItem is one item yielded by a classes stream.
type ClassesItem struct {
	Classes []model.ClassInfoWithHash
}

// Stream is the minimal pull interface every make_*_stream call returns:
// one item per block in the requested range, in the requested direction.
// A stream that runs dry before the range is exhausted signals a peer
// error (truncation), matching spec.md §6.
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
	Close()
}

// ErrPeerTruncated is returned by Stream.Next when the peer's stream
// ends before every block in the requested range has been delivered.
type ErrPeerTruncated struct {
	PeerId PeerId
}

func (e *ErrPeerTruncated) Error() string {
	return "p2p: peer " + string(e.PeerId) + " truncated its block stream"
}

// Commands is the subset of the overlay's command surface this core
// depends on, grounded on mc_p2p::P2pCommands's make_classes_stream/
// make_state_diffs_stream/make_headers_stream.
type Commands interface {
	MakeHeadersStream(ctx context.Context, peer PeerId, cfg BlockStreamConfig) (Stream[HeaderItem], error)
	MakeStateDiffsStream(ctx context.Context, peer PeerId, cfg BlockStreamConfig, expectedLengths []uint64) (Stream[StateDiffItem], error)
	MakeClassesStream(ctx context.Context, peer PeerId, cfg BlockStreamConfig, expectedCounts []uint64) (Stream[ClassesItem], error)
}

// PeerSet selects candidate peers for a pipeline parallel step, grounded
// on P2pPipelineController's peer_set field in p2p.rs (referenced, not
// independently retrieved).
type PeerSet interface {
	// NextPeer returns a candidate peer to try, or ok=false if none are
	// currently known.
	NextPeer(ctx context.Context) (peer PeerId, ok bool)
	// ReportFault marks peer as having produced a verification mismatch
	// or truncated stream, demoting it in future NextPeer selection.
	ReportFault(peer PeerId)
}
