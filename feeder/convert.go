package feeder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/model"
)

// GatewayBlock is the fully-parsed, felt-typed view of one gateway
// response: a header plus every facet the importer verifies against it.
// Grounded on GatewayBlock in gateway/mod.rs, whose TryFrom<
// ProviderStateUpdateWithBlock> this type's conversion mirrors.
type GatewayBlock struct {
	BlockHash       felt.Felt
	Header          model.Header
	Transactions    []model.TransactionWithReceipt
	Events          []model.EventWithTransactionHash
	StateDiff       model.StateDiff
	DeclaredClasses []model.ClassInfoWithHash
}

// ErrTransactionReceiptCountMismatch mirrors import.rs's
// TransactionCountNotEqualToReceiptCount check, applied here at the
// gateway-conversion boundary rather than inside the importer, since a
// gateway response with mismatched counts cannot even be zipped into
// TransactionWithReceipt pairs.
var ErrTransactionReceiptCountMismatch = fmt.Errorf("feeder: transaction count does not match receipt count")

func gatewayBlockFromRaw(raw *ProviderStateUpdateWithBlock) (*GatewayBlock, error) {
	if raw.Pending {
		return nil, ErrUnexpectedPending
	}
	if len(raw.Block.Transactions) != len(raw.Block.TransactionReceipts) {
		return nil, ErrTransactionReceiptCountMismatch
	}

	blockHash, err := parseFelt(strOrEmpty(raw.Block.BlockHash))
	if err != nil {
		return nil, fmt.Errorf("feeder: block_hash: %w", err)
	}
	parentHash, err := parseFelt(raw.Block.ParentBlockHash)
	if err != nil {
		return nil, fmt.Errorf("feeder: parent_block_hash: %w", err)
	}
	stateRoot, err := parseFelt(raw.Block.StateRoot)
	if err != nil {
		return nil, fmt.Errorf("feeder: state_root: %w", err)
	}
	sequencer, err := parseFelt(strOrEmpty(raw.Block.SequencerAddress))
	if err != nil {
		return nil, fmt.Errorf("feeder: sequencer_address: %w", err)
	}
	version, err := parseStarknetVersion(strOrEmpty(raw.Block.StarknetVersion))
	if err != nil {
		return nil, fmt.Errorf("feeder: starknet_version: %w", err)
	}
	daMode, err := parseL1DAMode(raw.Block.L1DAMode)
	if err != nil {
		return nil, err
	}

	txCommitment, err := parseOptFelt(raw.Block.TransactionCommitment)
	if err != nil {
		return nil, fmt.Errorf("feeder: transaction_commitment: %w", err)
	}
	eventCommitment, err := parseOptFelt(raw.Block.EventCommitment)
	if err != nil {
		return nil, fmt.Errorf("feeder: event_commitment: %w", err)
	}
	stateDiffCommitment, err := parseOptFelt(raw.Block.StateDiffCommitment)
	if err != nil {
		return nil, fmt.Errorf("feeder: state_diff_commitment: %w", err)
	}
	receiptCommitment, err := parseOptFelt(raw.Block.ReceiptCommitment)
	if err != nil {
		return nil, fmt.Errorf("feeder: receipt_commitment: %w", err)
	}

	stateDiff, declaredClasses, err := convertStateDiff(raw.StateUpdate.StateDiff)
	if err != nil {
		return nil, err
	}

	txs := make([]model.TransactionWithReceipt, len(raw.Block.Transactions))
	var events []model.EventWithTransactionHash
	for i := range raw.Block.Transactions {
		rawTx := raw.Block.Transactions[i]
		rawRc := raw.Block.TransactionReceipts[i]

		sig := make([]felt.Felt, len(rawTx.Signature))
		for j, s := range rawTx.Signature {
			f, err := parseFelt(s)
			if err != nil {
				return nil, fmt.Errorf("feeder: tx[%d].signature[%d]: %w", i, j, err)
			}
			sig[j] = f
		}
		txHash, err := parseFelt(rawRc.TransactionHash)
		if err != nil {
			return nil, fmt.Errorf("feeder: receipt[%d].transaction_hash: %w", i, err)
		}

		receiptEvents := make([]model.Event, len(rawRc.Events))
		for j, re := range rawRc.Events {
			ev, err := convertEvent(re)
			if err != nil {
				return nil, fmt.Errorf("feeder: receipt[%d].events[%d]: %w", i, j, err)
			}
			receiptEvents[j] = ev
			events = append(events, model.EventWithTransactionHash{TransactionHash: txHash, Event: ev})
		}

		txs[i] = model.TransactionWithReceipt{
			Transaction: model.Transaction{Kind: rawTx.Kind, Signature: sig, Payload: rawTx.Raw},
			Receipt:     model.Receipt{TransactionHash: txHash, Events: receiptEvents},
		}
	}

	header := model.Header{
		BlockNumber:           common.BlockNumber(raw.Block.BlockNumber),
		ParentBlockHash:       parentHash,
		GlobalStateRoot:       stateRoot,
		SequencerAddress:      sequencer,
		BlockTimestamp:        raw.Block.Timestamp,
		ProtocolVersion:       version,
		L1GasPrice:            convertGasPrices(raw.Block.L1GasPrice, raw.Block.L1DataGasPrice),
		L1DAMode:              daMode,
		TransactionCount:      uint64(len(raw.Block.Transactions)),
		TransactionCommitment: feltOrZero(txCommitment),
		EventCount:            uint64(len(events)),
		EventCommitment:       feltOrZero(eventCommitment),
		StateDiffLength:       lengthOrNil(stateDiffCommitment != nil, stateDiff.Len()),
		StateDiffCommitment:   stateDiffCommitment,
		ReceiptCommitment:     receiptCommitment,
	}

	return &GatewayBlock{
		BlockHash:       blockHash,
		Header:          header,
		Transactions:    txs,
		Events:          events,
		StateDiff:       stateDiff,
		DeclaredClasses: declaredClasses,
	}, nil
}

func convertGasPrices(l1 RawResourcePrice, l1Data RawResourcePrice) model.GasPrices {
	return model.GasPrices{
		EthL1GasPrice:      l1.PriceInWei,
		StrkL1GasPrice:     l1.PriceInFri,
		EthL1DataGasPrice:  l1Data.PriceInWei,
		StrkL1DataGasPrice: l1Data.PriceInFri,
	}
}

func convertEvent(re RawEvent) (model.Event, error) {
	from, err := parseFelt(re.FromAddress)
	if err != nil {
		return model.Event{}, fmt.Errorf("from_address: %w", err)
	}
	keys := make([]felt.Felt, len(re.Keys))
	for i, k := range re.Keys {
		f, err := parseFelt(k)
		if err != nil {
			return model.Event{}, fmt.Errorf("keys[%d]: %w", i, err)
		}
		keys[i] = f
	}
	data := make([]felt.Felt, len(re.Data))
	for i, d := range re.Data {
		f, err := parseFelt(d)
		if err != nil {
			return model.Event{}, fmt.Errorf("data[%d]: %w", i, err)
		}
		data[i] = f
	}
	return model.Event{FromAddress: from, Keys: keys, Data: data}, nil
}

func convertStateDiff(raw RawStateDiff) (model.StateDiff, []model.ClassInfoWithHash, error) {
	var out model.StateDiff

	for _, dc := range raw.DeployedContracts {
		d, err := convertDeployedContract(dc)
		if err != nil {
			return out, nil, fmt.Errorf("deployed_contracts: %w", err)
		}
		out.DeployedContracts = append(out.DeployedContracts, d)
	}
	for _, rc := range raw.ReplacedClasses {
		d, err := convertDeployedContract(rc)
		if err != nil {
			return out, nil, fmt.Errorf("replaced_classes: %w", err)
		}
		out.ReplacedClasses = append(out.ReplacedClasses, d)
	}
	for addr, entries := range raw.StorageDiffs {
		address, err := parseFelt(addr)
		if err != nil {
			return out, nil, fmt.Errorf("storage_diffs key: %w", err)
		}
		diff := model.ContractStorageDiff{Address: address}
		for _, e := range entries {
			key, err := parseFelt(e.Key)
			if err != nil {
				return out, nil, fmt.Errorf("storage_diffs[%s].key: %w", addr, err)
			}
			value, err := parseFelt(e.Value)
			if err != nil {
				return out, nil, fmt.Errorf("storage_diffs[%s].value: %w", addr, err)
			}
			diff.StorageEntries = append(diff.StorageEntries, model.StorageEntry{Key: key, Value: value})
		}
		out.StorageDiffs = append(out.StorageDiffs, diff)
	}
	for contract, nonce := range raw.Nonces {
		address, err := parseFelt(contract)
		if err != nil {
			return out, nil, fmt.Errorf("nonces key: %w", err)
		}
		n, err := parseFelt(nonce)
		if err != nil {
			return out, nil, fmt.Errorf("nonces[%s]: %w", contract, err)
		}
		out.Nonces = append(out.Nonces, model.NonceUpdate{ContractAddress: address, Nonce: n})
	}

	declaredByHash := make(map[felt.Felt]*model.DeclaredClass)
	var classes []model.ClassInfoWithHash
	for _, dc := range raw.DeclaredClasses {
		classHash, err := parseFelt(dc.ClassHash)
		if err != nil {
			return out, nil, fmt.Errorf("declared_classes.class_hash: %w", err)
		}
		compiledHash, err := parseFelt(dc.CompiledClassHash)
		if err != nil {
			return out, nil, fmt.Errorf("declared_classes.compiled_class_hash: %w", err)
		}
		d := model.DeclaredClass{ClassHash: classHash, CompiledClassHash: &compiledHash}
		out.DeclaredClasses = append(out.DeclaredClasses, d)
		declaredByHash[classHash] = &d
		classes = append(classes, model.ClassInfoWithHash{ClassHash: classHash, Type: model.ClassTypeSierra})
	}
	for _, h := range raw.OldDeclaredClasses {
		classHash, err := parseFelt(h)
		if err != nil {
			return out, nil, fmt.Errorf("old_declared_contracts: %w", err)
		}
		out.DeclaredClasses = append(out.DeclaredClasses, model.DeclaredClass{ClassHash: classHash})
		classes = append(classes, model.ClassInfoWithHash{ClassHash: classHash, Type: model.ClassTypeLegacy})
	}

	return out, classes, nil
}

func convertDeployedContract(dc RawDeployedContract) (model.DeployedContract, error) {
	address, err := parseFelt(dc.Address)
	if err != nil {
		return model.DeployedContract{}, fmt.Errorf("address: %w", err)
	}
	classHash, err := parseFelt(dc.ClassHash)
	if err != nil {
		return model.DeployedContract{}, fmt.Errorf("class_hash: %w", err)
	}
	return model.DeployedContract{Address: address, ClassHash: classHash}, nil
}

func parseL1DAMode(s string) (model.L1DAMode, error) {
	switch strings.ToUpper(s) {
	case "BLOB":
		return model.L1DABlob, nil
	case "CALLDATA", "":
		return model.L1DACalldata, nil
	default:
		return 0, fmt.Errorf("feeder: unknown l1_da_mode %q", s)
	}
}

// parseStarknetVersion parses the gateway's "major.minor.patch" string,
// treating a missing version (pre-0.9.1 blocks never carried one) as 0.0.0.
func parseStarknetVersion(s string) (model.StarknetVersion, error) {
	if s == "" {
		return model.StarknetVersion{}, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return model.StarknetVersion{}, fmt.Errorf("malformed version %q", s)
	}
	nums := make([]uint32, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return model.StarknetVersion{}, fmt.Errorf("malformed version %q: %w", s, err)
		}
		nums[i] = uint32(n)
	}
	return model.StarknetVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func parseFelt(s string) (felt.Felt, error) {
	if s == "" {
		return felt.Zero, nil
	}
	return felt.FromHex(s)
}

func feltOrZero(f *felt.Felt) felt.Felt {
	if f == nil {
		return felt.Zero
	}
	return *f
}

func parseOptFelt(s *string) (*felt.Felt, error) {
	if s == nil {
		return nil, nil
	}
	f, err := parseFelt(*s)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func lengthOrNil(present bool, n uint64) *uint64 {
	if !present {
		return nil
	}
	return &n
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
