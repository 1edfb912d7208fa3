package feeder

import (
	"testing"

	"github.com/ledgerwatch/starksync/model"
)

func rawBlock() *ProviderStateUpdateWithBlock {
	hash := "0x1"
	return &ProviderStateUpdateWithBlock{
		Block: RawBlock{
			BlockHash:        &hash,
			BlockNumber:      5,
			ParentBlockHash:  "0x2",
			SequencerAddress: &hash,
			Timestamp:        123,
			StateRoot:        "0x3",
			L1DAMode:         "CALLDATA",
			Transactions: []RawTransaction{
				{Kind: "INVOKE", Signature: []string{"0x1", "0x2"}},
			},
			TransactionReceipts: []RawReceipt{
				{TransactionHash: "0x4", Events: []RawEvent{
					{FromAddress: "0x5", Keys: []string{"0x6"}, Data: []string{"0x7"}},
				}},
			},
		},
		StateUpdate: RawStateUpdate{
			StateDiff: RawStateDiff{
				DeployedContracts: []RawDeployedContract{{Address: "0x8", ClassHash: "0x9"}},
				Nonces:            map[string]string{"0xa": "0x1"},
			},
		},
	}
}

func TestGatewayBlockFromRawConvertsFields(t *testing.T) {
	gb, err := gatewayBlockFromRaw(rawBlock())
	if err != nil {
		t.Fatalf("gatewayBlockFromRaw: %v", err)
	}
	if gb.Header.BlockNumber != 5 {
		t.Fatalf("BlockNumber = %d, want 5", gb.Header.BlockNumber)
	}
	if len(gb.Transactions) != 1 {
		t.Fatalf("len(Transactions) = %d, want 1", len(gb.Transactions))
	}
	if len(gb.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(gb.Events))
	}
	if len(gb.StateDiff.DeployedContracts) != 1 {
		t.Fatalf("len(DeployedContracts) = %d, want 1", len(gb.StateDiff.DeployedContracts))
	}
	if gb.Header.L1DAMode != model.L1DACalldata {
		t.Fatalf("L1DAMode = %v, want L1DACalldata", gb.Header.L1DAMode)
	}
}

func TestGatewayBlockFromRawRejectsPending(t *testing.T) {
	raw := rawBlock()
	raw.Pending = true
	if _, err := gatewayBlockFromRaw(raw); err != ErrUnexpectedPending {
		t.Fatalf("err = %v, want ErrUnexpectedPending", err)
	}
}

func TestGatewayBlockFromRawRejectsTransactionReceiptCountMismatch(t *testing.T) {
	raw := rawBlock()
	raw.Block.TransactionReceipts = nil
	if _, err := gatewayBlockFromRaw(raw); err != ErrTransactionReceiptCountMismatch {
		t.Fatalf("err = %v, want ErrTransactionReceiptCountMismatch", err)
	}
}

func TestParseL1DAModeDefaultsToCalldata(t *testing.T) {
	mode, err := parseL1DAMode("")
	if err != nil {
		t.Fatalf("parseL1DAMode: %v", err)
	}
	if mode != model.L1DACalldata {
		t.Fatalf("mode = %v, want L1DACalldata", mode)
	}
}

func TestParseL1DAModeRejectsUnknown(t *testing.T) {
	if _, err := parseL1DAMode("bogus"); err == nil {
		t.Fatal("expected error for unknown l1_da_mode")
	}
}

func TestParseStarknetVersionEmptyIsZero(t *testing.T) {
	v, err := parseStarknetVersion("")
	if err != nil {
		t.Fatalf("parseStarknetVersion: %v", err)
	}
	if v != (model.StarknetVersion{}) {
		t.Fatalf("v = %+v, want zero value", v)
	}
}

func TestParseStarknetVersionParsesTriple(t *testing.T) {
	v, err := parseStarknetVersion("0.13.2")
	if err != nil {
		t.Fatalf("parseStarknetVersion: %v", err)
	}
	want := model.StarknetVersion{Major: 0, Minor: 13, Patch: 2}
	if v != want {
		t.Fatalf("v = %+v, want %+v", v, want)
	}
}

func TestParseStarknetVersionRejectsMalformed(t *testing.T) {
	if _, err := parseStarknetVersion("not.a.version"); err == nil {
		t.Fatal("expected error for malformed version")
	}
	if _, err := parseStarknetVersion("0"); err == nil {
		t.Fatal("expected error for too few components")
	}
}

func TestConvertStateDiffSplitsDeclaredClassesByAge(t *testing.T) {
	raw := RawStateDiff{
		DeclaredClasses:    []RawDeclaredClass{{ClassHash: "0x1", CompiledClassHash: "0x2"}},
		OldDeclaredClasses: []string{"0x3"},
	}
	diff, classes, err := convertStateDiff(raw)
	if err != nil {
		t.Fatalf("convertStateDiff: %v", err)
	}
	if len(diff.DeclaredClasses) != 2 {
		t.Fatalf("len(DeclaredClasses) = %d, want 2", len(diff.DeclaredClasses))
	}
	if len(classes) != 2 {
		t.Fatalf("len(classes) = %d, want 2", len(classes))
	}
	if classes[0].Type != model.ClassTypeSierra {
		t.Fatalf("classes[0].Type = %v, want ClassTypeSierra", classes[0].Type)
	}
	if classes[1].Type != model.ClassTypeLegacy {
		t.Fatalf("classes[1].Type = %v, want ClassTypeLegacy", classes[1].Type)
	}
}
