package chainimport

import (
	"testing"

	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/model"
)

// eventTriple mirrors get_events.rs's block_events: one event matching
// keys[0]=0, one matching keys[1]=1, one unkeyed - distinguishable by
// exactly one of the S4 filters each.
func eventTriple(blockN uint64) []model.Event {
	addr := felt.FromUint64(blockN)
	return []model.Event{
		{FromAddress: addr, Keys: []felt.Felt{felt.Zero, felt.FromUint64(9)}},
		{FromAddress: addr, Keys: []felt.Felt{felt.One, felt.One}},
		{FromAddress: addr, Keys: nil},
	}
}

// seedEventBlocks stores header+events for blocks [0, n) - two receipts
// of three events each per block, grounded on S4's fixture shape.
func seedEventBlocks(t *testing.T, im *Importer, n uint64) {
	t.Helper()
	for blockN := uint64(0); blockN < n; blockN++ {
		signed := model.BlockHeaderWithSignatures{Header: model.Header{BlockNumber: blockN}}
		if err := im.SaveHeader(blockN, signed); err != nil {
			t.Fatalf("SaveHeader(%d): %v", blockN, err)
		}
		var events []model.EventWithTransactionHash
		for _, txOffset := range []uint64{0, 1} {
			txHash := felt.FromUint64(blockN*10 + txOffset)
			for _, ev := range eventTriple(blockN) {
				events = append(events, model.EventWithTransactionHash{TransactionHash: txHash, Event: ev})
			}
		}
		if err := im.SaveEvents(blockN, events); err != nil {
			t.Fatalf("SaveEvents(%d): %v", blockN, err)
		}
	}
}

func TestGetEventsNoFilterReturnsSingleBlock(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 3)

	page, err := im.GetEvents(EventFilter{FromBlock: 0, ToBlock: 0, ChunkSize: 10})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(page.Events) != 6 {
		t.Fatalf("len(Events) = %d, want 6", len(page.Events))
	}
	if page.ContinuationToken != nil {
		t.Fatalf("ContinuationToken = %+v, want nil (range exhausted)", page.ContinuationToken)
	}
}

func TestGetEventsFiltersByFirstKey(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 3)

	page, err := im.GetEvents(EventFilter{
		Keys:      [][]felt.Felt{{felt.Zero}},
		FromBlock: 0, ToBlock: 2, ChunkSize: 10,
	})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(page.Events) != 6 {
		t.Fatalf("len(Events) = %d, want 6", len(page.Events))
	}
	for _, e := range page.Events {
		if len(e.Keys) == 0 || !e.Keys[0].Eq(felt.Zero) {
			t.Fatalf("event %+v does not have keys[0] = 0", e)
		}
	}
}

func TestGetEventsFiltersBySecondKeyOnly(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 3)

	page, err := im.GetEvents(EventFilter{
		Keys:      [][]felt.Felt{{}, {felt.One}},
		FromBlock: 0, ToBlock: 2, ChunkSize: 10,
	})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(page.Events) != 6 {
		t.Fatalf("len(Events) = %d, want 6", len(page.Events))
	}
	for _, e := range page.Events {
		if len(e.Keys) < 2 || !e.Keys[1].Eq(felt.One) {
			t.Fatalf("event %+v does not have keys[1] = 1", e)
		}
	}
}

func TestGetEventsContinuationTokenRoundTrips(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 3)

	first, err := im.GetEvents(EventFilter{FromBlock: 0, ToBlock: 2, ChunkSize: 6})
	if err != nil {
		t.Fatalf("GetEvents (first page): %v", err)
	}
	if len(first.Events) != 6 {
		t.Fatalf("len(first.Events) = %d, want 6", len(first.Events))
	}
	if first.ContinuationToken == nil {
		t.Fatal("expected a continuation token since more blocks remain")
	}
	if first.ContinuationToken.BlockN != 0 || first.ContinuationToken.EventN != 6 {
		t.Fatalf("token = %+v, want {BlockN:0 EventN:6}", first.ContinuationToken)
	}

	roundTripped, err := ParseContinuationToken(first.ContinuationToken.String())
	if err != nil {
		t.Fatalf("ParseContinuationToken: %v", err)
	}
	if roundTripped != *first.ContinuationToken {
		t.Fatalf("round-tripped token = %+v, want %+v", roundTripped, *first.ContinuationToken)
	}

	second, err := im.GetEvents(EventFilter{FromBlock: 0, ToBlock: 2, ChunkSize: 6, ContinuationToken: &roundTripped})
	if err != nil {
		t.Fatalf("GetEvents (second page): %v", err)
	}
	if len(second.Events) != 6 {
		t.Fatalf("len(second.Events) = %d, want 6", len(second.Events))
	}
	if second.Events[0].BlockNumber != 1 {
		t.Fatalf("second page started at block %d, want 1", second.Events[0].BlockNumber)
	}
}

func TestGetEventsOutOfRangeBlockNotFound(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 1)

	_, err := im.GetEvents(EventFilter{FromBlock: 1, ToBlock: 1, ChunkSize: 10})
	if err != ErrBlockNotFound {
		t.Fatalf("err = %v, want ErrBlockNotFound", err)
	}
}

func TestGetEventsFromAfterToIsEmptyPage(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 1)

	page, err := im.GetEvents(EventFilter{FromBlock: 1, ToBlock: 0, ChunkSize: 10})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(page.Events) != 0 || page.ContinuationToken != nil {
		t.Fatalf("page = %+v, want empty with no token", page)
	}
}

func TestGetEventsTooManyKeysRejected(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 1)

	keys := make([][]felt.Felt, MaxEventsKeys+1)
	_, err := im.GetEvents(EventFilter{Keys: keys, FromBlock: 0, ToBlock: 0, ChunkSize: 10})
	if err != ErrTooManyKeysInFilter {
		t.Fatalf("err = %v, want ErrTooManyKeysInFilter", err)
	}
}

func TestGetEventsChunkSizeTooBigRejected(t *testing.T) {
	db := kv.NewMemDatabase()
	im := newTestImporter(t, db, Config{}, &fakeCompiler{})
	seedEventBlocks(t, im, 1)

	_, err := im.GetEvents(EventFilter{FromBlock: 0, ToBlock: 0, ChunkSize: MaxEventsChunkSize + 1})
	if err != ErrPageSizeTooBig {
		t.Fatalf("err = %v, want ErrPageSizeTooBig", err)
	}
}
