// Package feeder implements the upstream feeder-gateway HTTP client and
// the gateway response -> domain model conversion, grounded on
// crates/madara/client/sync2/src/gateway/mod.rs (GatewayProvider calls,
// GatewayBlock's TryFrom). Request pacing uses golang.org/x/time/rate,
// named in SPEC_FULL.md's DOMAIN STACK.
package feeder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/model"
)

// ProviderStateUpdateWithBlock is the raw gateway response for
// get_state_update_with_block, prior to conversion into a GatewayBlock.
// Field shapes mirror mp_gateway::state_update::ProviderStateUpdateWithBlock.
type ProviderStateUpdateWithBlock struct {
	Block       RawBlock       `json:"block"`
	StateUpdate RawStateUpdate `json:"state_update"`
	// Pending is set when the gateway answered with the pending block
	// instead of a numbered one, matching
	// ProviderStateUpdateWithBlockPendingMaybe::Pending.
	Pending bool `json:"-"`
}

// RawBlock is the gateway's block envelope (a strict subset of the
// fields this core needs).
type RawBlock struct {
	BlockHash               *string               `json:"block_hash"`
	BlockNumber             uint64                `json:"block_number"`
	ParentBlockHash         string                `json:"parent_block_hash"`
	SequencerAddress        *string               `json:"sequencer_address"`
	Timestamp               uint64                `json:"timestamp"`
	StarknetVersion         *string               `json:"starknet_version"`
	L1GasPrice              RawResourcePrice      `json:"l1_gas_price"`
	L1DataGasPrice          RawResourcePrice      `json:"l1_data_gas_price"`
	L1DAMode                string                `json:"l1_da_mode"`
	StateRoot               string                `json:"state_root"`
	TransactionCommitment   *string               `json:"transaction_commitment"`
	EventCommitment         *string               `json:"event_commitment"`
	StateDiffCommitment     *string               `json:"state_diff_commitment"`
	ReceiptCommitment       *string               `json:"receipt_commitment"`
	Transactions            []RawTransaction      `json:"transactions"`
	TransactionReceipts     []RawReceipt          `json:"transaction_receipts"`
}

// RawResourcePrice mirrors the gateway's {price_in_wei, price_in_fri} pair.
type RawResourcePrice struct {
	PriceInWei uint64 `json:"price_in_wei"`
	PriceInFri uint64 `json:"price_in_fri"`
}

// RawTransaction is the gateway's transaction envelope, already
// normalized enough for this core's commitment-only needs.
type RawTransaction struct {
	Kind      string   `json:"type"`
	Signature []string `json:"signature"`
	Raw       []byte   `json:"-"`
}

// RawReceipt is the gateway's receipt envelope for one transaction.
type RawReceipt struct {
	TransactionHash string     `json:"transaction_hash"`
	Events          []RawEvent `json:"events"`
}

// RawEvent is a single gateway-reported event.
type RawEvent struct {
	FromAddress string   `json:"from_address"`
	Keys        []string `json:"keys"`
	Data        []string `json:"data"`
}

// RawStateUpdate is the gateway's state_update envelope.
type RawStateUpdate struct {
	StateDiff RawStateDiff `json:"state_diff"`
}

// RawStateDiff mirrors the gateway's state diff shape.
type RawStateDiff struct {
	DeployedContracts []RawDeployedContract  `json:"deployed_contracts"`
	ReplacedClasses   []RawDeployedContract  `json:"replaced_classes"`
	StorageDiffs      map[string][]RawStorageEntry `json:"storage_diffs"`
	DeclaredClasses   []RawDeclaredClass     `json:"declared_classes"`
	OldDeclaredClasses []string              `json:"old_declared_contracts"`
	Nonces            map[string]string      `json:"nonces"`
}

type RawDeployedContract struct {
	Address   string `json:"address"`
	ClassHash string `json:"class_hash"`
}

type RawStorageEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RawDeclaredClass struct {
	ClassHash         string `json:"class_hash"`
	CompiledClassHash string `json:"compiled_class_hash"`
}

// ErrUnexpectedPending is returned when a numbered block was requested
// but the gateway answered with the pending block instead, matching
// spec.md §4.1's "pending blocks are distinguished at the type level"
// requirement.
var ErrUnexpectedPending = fmt.Errorf("feeder: gateway returned a pending block for a numbered request")

// Client is the feeder-gateway HTTP surface this core depends on,
// grounded on GatewayProvider's get_state_update_with_block/get_header
// calls in gateway/mod.rs. GetClassByHash is not independently grounded
// in any retrieved gateway/mod.rs-adjacent file (the classes pipeline
// there fetches over p2p, not the feeder gateway) but is required to
// drive chainimport.ClassCompiler from a gateway-only deployment, per
// the well-known feeder_gateway/get_class_by_hash endpoint.
type Client interface {
	GetStateUpdateWithBlock(ctx context.Context, id common.BlockId) (*ProviderStateUpdateWithBlock, error)
	GetHeader(ctx context.Context, id common.BlockId) (*model.Header, error)
	GetClassByHash(ctx context.Context, classHash felt.Felt, at common.BlockId) ([]byte, error)
}

// HTTPClient is the production Client, pacing requests with a token
// bucket and attaching the optional throttling-bypass API key header
// (spec.md §6's "optional API-key header (x-throttling-bypass)").
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithAPIKey attaches an x-throttling-bypass header to every request.
func WithAPIKey(key string) HTTPClientOption {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithRateLimit overrides the default request pacing.
func WithRateLimit(requestsPerSecond float64, burst int) HTTPClientOption {
	return func(c *HTTPClient) { c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst) }
}

// NewHTTPClient builds a feeder-gateway client rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPClientOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("feeder: invalid gateway url: %w", err)
	}
	c := &HTTPClient{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetStateUpdateWithBlock fetches the block + state update for id.
func (c *HTTPClient) GetStateUpdateWithBlock(ctx context.Context, id common.BlockId) (*ProviderStateUpdateWithBlock, error) {
	var out ProviderStateUpdateWithBlock
	if err := c.get(ctx, "feeder_gateway/get_state_update", map[string]string{
		"includeBlock": "true",
	}, blockIdParams(id), &out); err != nil {
		return nil, err
	}
	if out.Block.BlockHash == nil {
		out.Pending = true
	}
	if _, numbered := id.Kind(), id.Kind() == common.BlockIdNumber; numbered && out.Pending {
		return nil, ErrUnexpectedPending
	}
	return &out, nil
}

// GetHeader fetches the full state update with block for id and returns
// only its header (used by the latest-height probe).
func (c *HTTPClient) GetHeader(ctx context.Context, id common.BlockId) (*model.Header, error) {
	upd, err := c.GetStateUpdateWithBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	gw, err := gatewayBlockFromRaw(upd)
	if err != nil {
		return nil, err
	}
	return &gw.Header, nil
}

// GetClassByHash fetches a declared class's raw program bytes (Sierra or
// legacy Cairo-0, as opaque bytes; the caller already knows which from
// the state diff that declared it).
func (c *HTTPClient) GetClassByHash(ctx context.Context, classHash felt.Felt, at common.BlockId) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("feeder: rate limiter: %w", err)
	}

	u := *c.baseURL
	u.Path = joinPath(u.Path, "feeder_gateway/get_class_by_hash")
	q := u.Query()
	q.Set("classHash", classHash.String())
	for k, v := range blockIdParams(at) {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("feeder: building request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-throttling-bypass", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feeder: get_class_by_hash request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feeder: gateway returned status %d for get_class_by_hash", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feeder: reading get_class_by_hash response: %w", err)
	}
	return body, nil
}

func blockIdParams(id common.BlockId) map[string]string {
	switch id.Kind() {
	case common.BlockIdNumber:
		return map[string]string{"blockNumber": fmt.Sprintf("%d", uint64(id.AsNumber()))}
	case common.BlockIdHash:
		return map[string]string{"blockHash": id.AsHash().String()}
	default:
		return map[string]string{"blockNumber": id.AsTag().String()}
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, base map[string]string, extra map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("feeder: rate limiter: %w", err)
	}

	u := *c.baseURL
	u.Path = joinPath(u.Path, path)
	q := u.Query()
	for k, v := range base {
		q.Set(k, v)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feeder: building request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-throttling-bypass", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feeder: request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feeder: gateway returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("feeder: decoding response from %s: %w", path, err)
	}
	return nil
}

func joinPath(base, add string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + add
	}
	return base + "/" + add
}
