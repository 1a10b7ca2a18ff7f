// Package nodegateway wraps one chain daemon behind typed JSON-RPC calls
// and a block-notification stream. Every RPC failure, whether transport or
// a JSON-RPC error response, is reported as a NodeUnavailableError so the
// caller can treat the node as a transient dependency and retry on the
// next tip.
package nodegateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// Config holds the connection details for one chain's daemon.
type Config struct {
	ChainName   string
	RPCHost     string
	RPCPort     int
	RPCUser     string
	RPCPassword string
	Timeout     time.Duration
}

// rpcRequest represents a JSON-RPC request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// rpcError represents a JSON-RPC error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Client is a JSON-RPC client for one chain's daemon. Nodes are
// chain-specific, so there is one Client per coordinator.
type Client struct {
	config    Config
	url       string
	client    *http.Client
	requestID int64
}

// NewClient creates a client for the daemon described by config.
func NewClient(config Config) (*Client, error) {
	if config.RPCHost == "" {
		return nil, &poolmodel.ConfigError{Field: "rpc_host", Err: fmt.Errorf("must not be empty")}
	}
	if config.RPCPort <= 0 {
		return nil, &poolmodel.ConfigError{Field: "rpc_port", Err: fmt.Errorf("must be > 0")}
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		url:    fmt.Sprintf("http://%s:%d", config.RPCHost, config.RPCPort),
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}

	request := rpcRequest{
		JSONRPC: "1.0",
		ID:      atomic.AddInt64(&c.requestID, 1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, c.unavailable(method, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, c.unavailable(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.RPCUser != "" {
		req.SetBasicAuth(c.config.RPCUser, c.config.RPCPassword)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.unavailable(method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.unavailable(method, fmt.Errorf("failed to read response: %w", err))
	}

	var response rpcResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, c.unavailable(method, fmt.Errorf("failed to parse response (HTTP %d): %w", resp.StatusCode, err))
	}
	if response.Error != nil {
		return nil, c.unavailable(method, response.Error)
	}

	return response.Result, nil
}

func (c *Client) unavailable(method string, err error) error {
	return &poolmodel.NodeUnavailableError{Chain: c.config.ChainName, Method: method, Err: err}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type rawIdentity struct {
	IdentityAddress     string   `json:"identityaddress"`
	Name                string   `json:"name"`
	PrimaryAddresses    []string `json:"primaryaddresses"`
	MinimumSignatures   int32    `json:"minimumsignatures"`
	RevocationAuthority string   `json:"revocationauthority"`
	RecoveryAuthority   string   `json:"recoveryauthority"`
	Flags               int32    `json:"flags"`
	Timelock            int64    `json:"timelock"`
}

func (r *rawIdentity) toModel() *poolmodel.Identity {
	primaries := make([]poolmodel.CurrencyAddress, 0, len(r.PrimaryAddresses))
	for _, a := range r.PrimaryAddresses {
		primaries = append(primaries, poolmodel.CurrencyAddress(a))
	}
	return &poolmodel.Identity{
		IdentityAddress:     poolmodel.IdentityAddress(r.IdentityAddress),
		Name:                r.Name,
		PrimaryAddresses:    primaries,
		MinimumSignatures:   r.MinimumSignatures,
		RevocationAuthority: poolmodel.IdentityAddress(r.RevocationAuthority),
		RecoveryAuthority:   poolmodel.IdentityAddress(r.RecoveryAuthority),
		Flags:               r.Flags,
		Timelock:            r.Timelock,
	}
}

type rawScriptPubKey struct {
	IdentityPrimary *rawIdentity `json:"identityprimary"`
}

type rawVout struct {
	ValueSat     int64           `json:"valueSat"`
	SpentTxid    string          `json:"spentTxId"`
	ScriptPubKey rawScriptPubKey `json:"scriptPubKey"`
}

type rawVin struct {
	ValueSat int64 `json:"valueSat"`
}

type rawTx struct {
	Txid string    `json:"txid"`
	Vin  []rawVin  `json:"vin"`
	Vout []rawVout `json:"vout"`
}

type rawBlock struct {
	Hash             string  `json:"hash"`
	Height           int64   `json:"height"`
	Confirmations    int64   `json:"confirmations"`
	ValidationType   string  `json:"validationtype"`
	PosTxDDest       string  `json:"postxddest"`
	PosSourceTxid    string  `json:"possourcetxid"`
	PosSourceVoutNum int32   `json:"possourcevoutnum"`
	Tx               []rawTx `json:"tx"`
}

// =============================================================================
// RPC METHODS
// =============================================================================

// GetBlock fetches one block at verbosity 2, including per-transaction
// inputs, outputs and identity-update payloads.
func (c *Client) GetBlock(ctx context.Context, hash poolmodel.BlockHash) (*poolmodel.Block, error) {
	result, err := c.call(ctx, "getblock", []interface{}{string(hash), 2})
	if err != nil {
		return nil, err
	}

	var raw rawBlock
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, c.unavailable("getblock", fmt.Errorf("failed to parse block: %w", err))
	}

	block := &poolmodel.Block{
		Hash:             poolmodel.BlockHash(raw.Hash),
		Height:           raw.Height,
		Confirmations:    raw.Confirmations,
		ValidationType:   poolmodel.ValidationType(raw.ValidationType),
		PosTxDDest:       poolmodel.CurrencyAddress(raw.PosTxDDest),
		PosSourceTxid:    poolmodel.Txid(raw.PosSourceTxid),
		PosSourceVoutNum: raw.PosSourceVoutNum,
	}

	for _, rt := range raw.Tx {
		tx := poolmodel.Tx{Txid: poolmodel.Txid(rt.Txid)}
		for _, vin := range rt.Vin {
			tx.Vin = append(tx.Vin, poolmodel.Vin{ValueSat: vin.ValueSat})
		}
		for _, vout := range rt.Vout {
			v := poolmodel.Vout{ValueSat: vout.ValueSat}
			if vout.ScriptPubKey.IdentityPrimary != nil {
				v.IdentityPrimary = vout.ScriptPubKey.IdentityPrimary.toModel()
			}
			tx.Vout = append(tx.Vout, v)
		}
		// the daemon reports a spent coinbase on vout[0]; that is the
		// StakeGuard signal the maturity tracker watches for
		if len(rt.Vout) > 0 && rt.Vout[0].SpentTxid != "" {
			spent := poolmodel.Txid(rt.Vout[0].SpentTxid)
			tx.SpentTxid = &spent
		}
		block.Tx = append(block.Tx, tx)
	}

	return block, nil
}

type rawIdentityResponse struct {
	FullyQualifiedName string      `json:"fullyqualifiedname"`
	Identity           rawIdentity `json:"identity"`
}

// GetIdentity fetches the current state of a VerusID. The coordinator
// always re-fetches rather than trusting the in-block payload, since an
// identity can be updated more than once per block.
func (c *Client) GetIdentity(ctx context.Context, address poolmodel.IdentityAddress) (*poolmodel.Identity, error) {
	result, err := c.call(ctx, "getidentity", []interface{}{string(address)})
	if err != nil {
		return nil, err
	}

	var raw rawIdentityResponse
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, c.unavailable("getidentity", fmt.Errorf("failed to parse identity: %w", err))
	}

	identity := raw.Identity.toModel()
	if raw.FullyQualifiedName != "" {
		identity.Name = raw.FullyQualifiedName
	}
	return identity, nil
}

type rawUtxo struct {
	Txid    string      `json:"txid"`
	Vout    int32       `json:"vout"`
	Address string      `json:"address"`
	Amount  json.Number `json:"amount"`
}

// ListUnspent returns the unspent outputs held by the given addresses with
// at least minConf confirmations.
func (c *Client) ListUnspent(ctx context.Context, minConf int, addresses []poolmodel.IdentityAddress) ([]poolmodel.Utxo, error) {
	addrs := make([]string, 0, len(addresses))
	for _, a := range addresses {
		addrs = append(addrs, string(a))
	}

	result, err := c.call(ctx, "listunspent", []interface{}{minConf, 9999999, addrs})
	if err != nil {
		return nil, err
	}

	var raw []rawUtxo
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, c.unavailable("listunspent", fmt.Errorf("failed to parse unspent outputs: %w", err))
	}

	utxos := make([]poolmodel.Utxo, 0, len(raw))
	for _, u := range raw {
		amount, err := poolmodel.NewMoneyFromString(u.Amount.String())
		if err != nil {
			return nil, c.unavailable("listunspent", fmt.Errorf("failed to parse amount %q: %w", u.Amount, err))
		}
		utxos = append(utxos, poolmodel.Utxo{
			Txid:    poolmodel.Txid(u.Txid),
			Vout:    u.Vout,
			Address: poolmodel.IdentityAddress(u.Address),
			Amount:  amount,
		})
	}
	return utxos, nil
}

// GetMiningInfo reports whether the daemon is currently staking and the
// network's total staking supply.
func (c *Client) GetMiningInfo(ctx context.Context) (*poolmodel.MiningInfo, error) {
	result, err := c.call(ctx, "getmininginfo", nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Staking       bool    `json:"staking"`
		StakingSupply float64 `json:"stakingsupply"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, c.unavailable("getmininginfo", fmt.Errorf("failed to parse mining info: %w", err))
	}
	return &poolmodel.MiningInfo{Staking: raw.Staking, StakingSupply: raw.StakingSupply}, nil
}

// GetWalletInfo reports the wallet's eligible staking balance.
func (c *Client) GetWalletInfo(ctx context.Context) (*poolmodel.WalletInfo, error) {
	result, err := c.call(ctx, "getwalletinfo", nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		EligibleStakingBalance float64 `json:"eligible_staking_balance"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, c.unavailable("getwalletinfo", fmt.Errorf("failed to parse wallet info: %w", err))
	}
	return &poolmodel.WalletInfo{EligibleStakingBalance: raw.EligibleStakingBalance}, nil
}

type sendCurrencyOutput struct {
	Address string      `json:"address"`
	Amount  json.Number `json:"amount"`
}

// SendCurrency submits one asynchronous multi-output transfer from the
// given address and returns the daemon's operation id. The transfer is not
// final until GetOperationStatus reports success.
func (c *Client) SendCurrency(ctx context.Context, from poolmodel.CurrencyAddress, outputs []poolmodel.SendOutput) (string, error) {
	wire := make([]sendCurrencyOutput, 0, len(outputs))
	for _, o := range outputs {
		wire = append(wire, sendCurrencyOutput{
			Address: string(o.Address),
			Amount:  json.Number(o.Amount.String()),
		})
	}

	result, err := c.call(ctx, "sendcurrency", []interface{}{string(from), wire})
	if err != nil {
		return "", err
	}

	var opid string
	if err := json.Unmarshal(result, &opid); err != nil {
		return "", c.unavailable("sendcurrency", fmt.Errorf("failed to parse operation id: %w", err))
	}
	return opid, nil
}

type rawOperation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result *struct {
		Txid string `json:"txid"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GetOperationStatus reports the state of asynchronous wallet operations
// started by SendCurrency.
func (c *Client) GetOperationStatus(ctx context.Context, opids []string) ([]poolmodel.Operation, error) {
	result, err := c.call(ctx, "z_getoperationstatus", []interface{}{opids})
	if err != nil {
		return nil, err
	}

	var raw []rawOperation
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, c.unavailable("z_getoperationstatus", fmt.Errorf("failed to parse operation status: %w", err))
	}

	ops := make([]poolmodel.Operation, 0, len(raw))
	for _, r := range raw {
		op := poolmodel.Operation{
			OpID:   r.ID,
			Status: poolmodel.OperationStatus(r.Status),
		}
		if r.Result != nil {
			op.Result = &poolmodel.OperationResult{Txid: poolmodel.Txid(r.Result.Txid)}
		}
		if r.Error != nil {
			op.Error = r.Error.Message
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// GetCurrencyName resolves a currency address to its human-readable name.
// The coordinator does not call it; webhook payloads carry the configured
// chain name.
func (c *Client) GetCurrencyName(ctx context.Context, currency poolmodel.CurrencyAddress) (string, error) {
	result, err := c.call(ctx, "getcurrency", []interface{}{string(currency)})
	if err != nil {
		return "", err
	}

	var raw struct {
		FullyQualifiedName string `json:"fullyqualifiedname"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return "", c.unavailable("getcurrency", fmt.Errorf("failed to parse currency: %w", err))
	}
	return raw.FullyQualifiedName, nil
}
