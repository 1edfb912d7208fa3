package chainimport

import (
	"errors"
	"fmt"

	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/model"
)

// MaxEventsChunkSize and MaxEventsKeys bound a single GetEvents request,
// grounded on the RPC layer's MAX_EVENTS_CHUNK_SIZE / MAX_EVENTS_KEYS
// guards in get_events.rs.
const (
	MaxEventsChunkSize = 1024
	MaxEventsKeys      = 16
)

var (
	// ErrTooManyKeysInFilter mirrors StarknetRpcApiError::TooManyKeysInFilter.
	ErrTooManyKeysInFilter = errors.New("chainimport: too many keys in filter")
	// ErrPageSizeTooBig mirrors StarknetRpcApiError::PageSizeTooBig.
	ErrPageSizeTooBig = errors.New("chainimport: chunk_size exceeds maximum page size")
	// ErrBlockNotFound mirrors StarknetRpcApiError::BlockNotFound.
	ErrBlockNotFound = errors.New("chainimport: block not found")
	// ErrInvalidContinuationToken mirrors
	// StarknetRpcApiError::InvalidContinuationToken.
	ErrInvalidContinuationToken = errors.New("chainimport: invalid continuation token")
)

// ContinuationToken resumes a GetEvents scan mid-block, grounded on
// crate::types::ContinuationToken.
type ContinuationToken struct {
	BlockN uint64
	EventN uint64
}

// String renders the token the way callers hand it back on the next
// request.
func (c ContinuationToken) String() string {
	return fmt.Sprintf("%d-%d", c.BlockN, c.EventN)
}

// ParseContinuationToken parses a token previously produced by String.
func ParseContinuationToken(s string) (ContinuationToken, error) {
	var c ContinuationToken
	if _, err := fmt.Sscanf(s, "%d-%d", &c.BlockN, &c.EventN); err != nil {
		return ContinuationToken{}, ErrInvalidContinuationToken
	}
	return c, nil
}

// EventFilter selects the events GetEvents returns, grounded on
// EventFilterWithPage in get_events.rs. Keys[i] is the set of values
// allowed at position i; an empty Keys[i] matches any value there
// (including absent), matching get_block_events's match_keys rule.
type EventFilter struct {
	Address           *felt.Felt
	Keys              [][]felt.Felt
	FromBlock         uint64
	ToBlock           uint64
	ChunkSize         uint64
	ContinuationToken *ContinuationToken
}

// EmittedEvent is one event as returned by GetEvents, grounded on
// starknet_core::types::EmittedEvent.
type EmittedEvent struct {
	FromAddress     felt.Felt
	Keys            []felt.Felt
	Data            []felt.Felt
	BlockNumber     uint64
	TransactionHash felt.Felt
}

// EventsPage is one page of a GetEvents scan.
type EventsPage struct {
	Events            []EmittedEvent
	ContinuationToken *ContinuationToken
}

func loadEvents(db kv.Database, blockN uint64) ([]model.EventWithTransactionHash, error) {
	raw, err := db.Get(kv.Events, headerKey(blockN))
	if err != nil {
		return nil, err
	}
	var events []model.EventWithTransactionHash
	if err := kv.Decode(raw, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// matchesKeys reports whether ev satisfies every positional constraint
// in keys, grounded verbatim on get_block_events's match_keys closure.
func matchesKeys(ev model.Event, keys [][]felt.Felt) bool {
	for i, allowed := range keys {
		if len(allowed) == 0 {
			continue
		}
		if len(ev.Keys) <= i {
			return false
		}
		found := false
		for _, v := range allowed {
			if ev.Keys[i].Eq(v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// filterBlockEvents filters one block's events against address/keys,
// grounded on get_block_events in get_events.rs.
func filterBlockEvents(events []model.EventWithTransactionHash, blockN uint64, address *felt.Felt, keys [][]felt.Felt) []EmittedEvent {
	var out []EmittedEvent
	for _, e := range events {
		if address != nil && !e.Event.FromAddress.Eq(*address) {
			continue
		}
		if !matchesKeys(e.Event, keys) {
			continue
		}
		out = append(out, EmittedEvent{
			FromAddress:     e.Event.FromAddress,
			Keys:            e.Event.Keys,
			Data:            e.Event.Data,
			BlockNumber:     blockN,
			TransactionHash: e.TransactionHash,
		})
	}
	return out
}

// GetEvents scans [from_block, to_block] (or resumes from a
// continuation token) for events matching filter, paginating at
// chunk_size, grounded verbatim on get_events in get_events.rs -
// including its per-block skip/take bookkeeping and the
// InvalidContinuationToken check when a token's event_n outruns its
// block's match count. The address/key roaring-bitmap index
// (kv/eventindex) narrows which blocks in range are even read; it is a
// superset filter; filterBlockEvents still re-checks every candidate
// event exactly.
func (im *Importer) GetEvents(filter EventFilter) (EventsPage, error) {
	if len(filter.Keys) > MaxEventsKeys {
		return EventsPage{}, ErrTooManyKeysInFilter
	}
	if filter.ChunkSize > MaxEventsChunkSize {
		return EventsPage{}, ErrPageSizeTooBig
	}

	fromBlock, eventN := filter.FromBlock, uint64(0)
	if filter.ContinuationToken != nil {
		fromBlock, eventN = filter.ContinuationToken.BlockN, filter.ContinuationToken.EventN
	}
	toBlock := filter.ToBlock

	if fromBlock > toBlock {
		return EventsPage{}, nil
	}
	if _, err := im.headers.GetHeader(fromBlock); err != nil {
		return EventsPage{}, ErrBlockNotFound
	}

	candidates, err := candidateBlocks(im.db, filter.Address, filter.Keys, fromBlock, toBlock)
	if err != nil {
		return EventsPage{}, ErrInternalDb("loading event index", err)
	}

	var result []EmittedEvent
	for blockN := fromBlock; blockN <= toBlock; blockN++ {
		if candidates != nil && blockN <= uint64(^uint32(0)) && !candidates.Contains(uint32(blockN)) {
			continue
		}

		events, err := loadEvents(im.db, blockN)
		if err != nil {
			if err == kv.ErrKeyNotFound {
				continue
			}
			return EventsPage{}, ErrInternalDb(fmt.Sprintf("loading events for %d", blockN), err)
		}

		matched := filterBlockEvents(events, blockN, filter.Address, filter.Keys)
		if blockN == fromBlock && uint64(len(matched)) < eventN {
			return EventsPage{}, ErrInvalidContinuationToken
		}

		skip := uint64(0)
		if blockN == fromBlock {
			skip = eventN
		}
		page := matched[skip:]
		remaining := filter.ChunkSize - uint64(len(result))
		if uint64(len(page)) > remaining {
			page = page[:remaining]
		}
		result = append(result, page...)

		if uint64(len(result)) == filter.ChunkSize {
			nextEventN := uint64(len(page))
			if blockN == fromBlock {
				nextEventN = eventN + filter.ChunkSize
			}
			token := ContinuationToken{BlockN: blockN, EventN: nextEventN}
			return EventsPage{Events: result, ContinuationToken: &token}, nil
		}
	}
	return EventsPage{Events: result}, nil
}
