package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

// Dialect picks the JSON-RPC method names and block/transfer decoding rules
// for an account-model chain family. NEO N3 and Ethereum-style chains both
// speak JSON-RPC 2.0 over the same envelope but disagree on block shape,
// transfer representation and numeric encoding, so the transport below is
// shared and only the dialect varies.
type Dialect string

const (
	DialectNeo      Dialect = "neo"
	DialectEthereum Dialect = "ethereum"
)

// AccountConfig configures an AccountClient against an account-model chain's
// JSON-RPC endpoint (spec §1: "relies on external ledger access providers
// as data sources").
type AccountConfig struct {
	Chain          domain.Chain
	Dialect        Dialect
	RPCURL         string
	NativeAsset    string
	RequestTimeout time.Duration
}

// AccountClient adapts an account-model chain (balance deltas rather than
// UTXO sets) to the Client contract. The transport is a JSON-RPC 2.0
// request/response envelope, the same shape the teacher's NEO RPC client
// (infrastructure/chain/client.go) builds by hand for getblockcount,
// getblock, getrawtransaction and getapplicationlog: one request struct,
// one response struct, no method-specific typed client.
type AccountClient struct {
	cfg  AccountConfig
	http *http.Client
}

func NewAccountClient(cfg AccountConfig) (*AccountClient, error) {
	normalized, _, err := httputil.NormalizeBaseURL(cfg.RPCURL, httputil.BaseURLOptions{RequireHTTPSInStrictMode: true})
	if err != nil {
		return nil, fmt.Errorf("ledger account client %s: %w", cfg.Chain, err)
	}
	cfg.RPCURL = normalized
	if cfg.NativeAsset == "" {
		cfg.NativeAsset = "NATIVE"
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectNeo
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	base := &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()}
	return &AccountClient{
		cfg:  cfg,
		http: httputil.CopyHTTPClientWithTimeout(base, cfg.RequestTimeout, true),
	}, nil
}

func (c *AccountClient) Chain() domain.Chain { return c.cfg.Chain }

// --- JSON-RPC 2.0 transport ---
//
// rpcRequest/rpcResponse/rpcError mirror the teacher's chain.RPCRequest,
// chain.RPCResponse and chain.RPCError; call mirrors chain.Client.Call.

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (c *AccountClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute %s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpc http status %d calling %s", resp.StatusCode, method)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// HeadHeight reports the chain tip. NEO's getblockcount returns the count
// of blocks, one past the tip index; Ethereum's eth_blockNumber returns the
// tip index directly as a 0x-prefixed hex string.
func (c *AccountClient) HeadHeight(ctx context.Context) (uint64, error) {
	switch c.cfg.Dialect {
	case DialectEthereum:
		result, err := c.call(ctx, "eth_blockNumber", nil)
		if err != nil {
			return 0, fmt.Errorf("fetch chain tip: %w", err)
		}
		var hexHeight string
		if err := json.Unmarshal(result, &hexHeight); err != nil {
			return 0, fmt.Errorf("unmarshal eth_blockNumber result: %w", err)
		}
		return parseHexUint(hexHeight)
	default:
		result, err := c.call(ctx, "getblockcount", nil)
		if err != nil {
			return 0, fmt.Errorf("fetch chain tip: %w", err)
		}
		var count uint64
		if err := json.Unmarshal(result, &count); err != nil {
			return 0, fmt.Errorf("unmarshal getblockcount result: %w", err)
		}
		if count == 0 {
			return 0, nil
		}
		return count - 1, nil
	}
}

// BlockHash fetches only the header at height, avoiding the cost of pulling
// full transaction bodies just to compare hashes for reorg detection.
func (c *AccountClient) BlockHash(ctx context.Context, height uint64) (string, error) {
	switch c.cfg.Dialect {
	case DialectEthereum:
		result, err := c.call(ctx, "eth_getBlockByNumber", []interface{}{toHex(height), false})
		if err != nil {
			return "", fmt.Errorf("fetch block hash at %d: %w", height, err)
		}
		var header struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(result, &header); err != nil {
			return "", fmt.Errorf("unmarshal eth block header at %d: %w", height, err)
		}
		return header.Hash, nil
	default:
		result, err := c.call(ctx, "getblockheader", []interface{}{height, true})
		if err != nil {
			return "", fmt.Errorf("fetch block hash at %d: %w", height, err)
		}
		var header struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(result, &header); err != nil {
			return "", fmt.Errorf("unmarshal getblockheader result at %d: %w", height, err)
		}
		return header.Hash, nil
	}
}

// neoBlock and neoTx mirror the fields the teacher's chain.Block and
// chain.Transaction decode (chain/types.go), trimmed to what FetchBlocks
// needs.
type neoBlock struct {
	Hash              string  `json:"hash"`
	PreviousBlockHash string  `json:"previousblockhash"`
	Time              int64   `json:"time"`
	Index             uint64  `json:"index"`
	Tx                []neoTx `json:"tx"`
}

type neoTx struct {
	Hash   string `json:"hash"`
	Sysfee string `json:"sysfee"`
	Netfee string `json:"netfee"`
}

type neoStackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type neoNotification struct {
	Contract  string `json:"contract"`
	EventName string `json:"eventname"`
	State     struct {
		Value []neoStackItem `json:"value"`
	} `json:"state"`
}

type neoApplicationLog struct {
	TxID       string `json:"txid"`
	Executions []struct {
		VMState       string            `json:"vmstate"`
		Notifications []neoNotification `json:"notifications"`
	} `json:"executions"`
}

type ethTx struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

type ethBlock struct {
	Hash         string  `json:"hash"`
	ParentHash   string  `json:"parentHash"`
	Number       string  `json:"number"`
	Timestamp    string  `json:"timestamp"`
	Transactions []ethTx `json:"transactions"`
}

// FetchBlocks retrieves and normalises blocks [from, to]. Transfers come
// from NEP-17 "Transfer" notifications in getapplicationlog for NEO, or
// directly from the transaction's to/value fields for Ethereum-style
// chains, matching the account-model invariant in domain.Transaction's
// doc comment: the sender's balance delta is -(value+fee), represented as
// an Input from the sender and an Output to the receiver.
func (c *AccountClient) FetchBlocks(ctx context.Context, from, to uint64) ([]Block, error) {
	blocks := make([]Block, 0, to-from+1)
	for height := from; height <= to; height++ {
		block, err := c.fetchBlock(ctx, height)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (c *AccountClient) fetchBlock(ctx context.Context, height uint64) (Block, error) {
	if c.cfg.Dialect == DialectEthereum {
		return c.fetchEthBlock(ctx, height)
	}
	return c.fetchNeoBlock(ctx, height)
}

func (c *AccountClient) fetchNeoBlock(ctx context.Context, height uint64) (Block, error) {
	result, err := c.call(ctx, "getblock", []interface{}{height, true})
	if err != nil {
		return Block{}, fmt.Errorf("fetch block %d: %w", height, err)
	}
	var raw neoBlock
	if err := json.Unmarshal(result, &raw); err != nil {
		return Block{}, fmt.Errorf("unmarshal block %d: %w", height, err)
	}

	block := Block{
		Height:    height,
		Hash:      raw.Hash,
		PrevHash:  raw.PreviousBlockHash,
		Timestamp: time.UnixMilli(raw.Time).UTC(),
	}
	for _, tx := range raw.Tx {
		normalised, err := c.normaliseNeoTx(ctx, tx, height, block.Timestamp)
		if err != nil {
			return Block{}, fmt.Errorf("normalise tx %s in block %d: %w", tx.Hash, height, err)
		}
		block.Transactions = append(block.Transactions, normalised)
	}
	return block, nil
}

// normaliseNeoTx fetches the application log for tx and extracts NEP-17
// Transfer notifications ([from Hash160, to Hash160, amount Integer]),
// decoding each stack item the way the teacher's chain.ParseHash160 and
// chain.ParseInteger do: Hash160 values are base64-or-hex byte strings,
// reversed for big-endian display; Integer values are decimal strings
// parsed into a big.Int.
func (c *AccountClient) normaliseNeoTx(ctx context.Context, tx neoTx, height uint64, ts time.Time) (domain.Transaction, error) {
	result, err := c.call(ctx, "getapplicationlog", []interface{}{tx.Hash})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("fetch application log: %w", err)
	}
	var appLog neoApplicationLog
	if err := json.Unmarshal(result, &appLog); err != nil {
		return domain.Transaction{}, fmt.Errorf("unmarshal application log: %w", err)
	}

	var inputs, outputs []domain.TxIO
	for _, execution := range appLog.Executions {
		for _, notification := range execution.Notifications {
			if notification.EventName != "Transfer" || len(notification.State.Value) < 3 {
				continue
			}
			from, err := parseNeoHash160(notification.State.Value[0])
			if err != nil {
				continue
			}
			to, err := parseNeoHash160(notification.State.Value[1])
			if err != nil {
				continue
			}
			amount, err := parseNeoInteger(notification.State.Value[2])
			if err != nil {
				continue
			}
			value := nep17ToFloat(amount)
			inputs = append(inputs, domain.TxIO{Address: from, Asset: c.cfg.NativeAsset, Amount: value})
			outputs = append(outputs, domain.TxIO{Address: to, Asset: c.cfg.NativeAsset, Amount: value})
		}
	}

	return domain.Transaction{
		Chain:       c.cfg.Chain,
		TxHash:      tx.Hash,
		BlockHeight: height,
		Timestamp:   ts,
		Inputs:      inputs,
		Outputs:     outputs,
		Fee:         gasFractionToFloat(tx.Sysfee) + gasFractionToFloat(tx.Netfee),
		Status:      domain.TxStatusConfirmed,
	}, nil
}

func (c *AccountClient) fetchEthBlock(ctx context.Context, height uint64) (Block, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []interface{}{toHex(height), true})
	if err != nil {
		return Block{}, fmt.Errorf("fetch block %d: %w", height, err)
	}
	var raw ethBlock
	if err := json.Unmarshal(result, &raw); err != nil {
		return Block{}, fmt.Errorf("unmarshal block %d: %w", height, err)
	}
	timestamp, err := parseHexUint(raw.Timestamp)
	if err != nil {
		return Block{}, fmt.Errorf("unmarshal block %d timestamp: %w", height, err)
	}

	block := Block{
		Height:    height,
		Hash:      raw.Hash,
		PrevHash:  raw.ParentHash,
		Timestamp: time.Unix(int64(timestamp), 0).UTC(),
	}
	for _, tx := range raw.Transactions {
		normalised, err := c.normaliseEthTx(tx, height, block.Timestamp)
		if err != nil {
			return Block{}, fmt.Errorf("normalise tx %s in block %d: %w", tx.Hash, height, err)
		}
		block.Transactions = append(block.Transactions, normalised)
	}
	return block, nil
}

func (c *AccountClient) normaliseEthTx(tx ethTx, height uint64, ts time.Time) (domain.Transaction, error) {
	value, err := parseHexWeiToFloat(tx.Value)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse value: %w", err)
	}
	gas, err := parseHexUint(tx.Gas)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse gas: %w", err)
	}
	gasPrice, err := parseHexWeiToFloat(tx.GasPrice)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse gas price: %w", err)
	}

	return domain.Transaction{
		Chain:       c.cfg.Chain,
		TxHash:      tx.Hash,
		BlockHeight: height,
		Timestamp:   ts,
		Inputs:      []domain.TxIO{{Address: tx.From, Asset: c.cfg.NativeAsset, Amount: value}},
		Outputs:     []domain.TxIO{{Address: tx.To, Asset: c.cfg.NativeAsset, Amount: value}},
		Fee:         gasPrice * float64(gas),
		Status:      domain.TxStatusConfirmed,
	}, nil
}

func (c *AccountClient) Balance(ctx context.Context, address, asset string) (float64, error) {
	switch c.cfg.Dialect {
	case DialectEthereum:
		result, err := c.call(ctx, "eth_getBalance", []interface{}{address, "latest"})
		if err != nil {
			return 0, fmt.Errorf("fetch balance: %w", err)
		}
		var hexBalance string
		if err := json.Unmarshal(result, &hexBalance); err != nil {
			return 0, fmt.Errorf("unmarshal eth_getBalance result: %w", err)
		}
		return parseHexWeiToFloat(hexBalance)
	default:
		result, err := c.call(ctx, "getnep17balances", []interface{}{address})
		if err != nil {
			return 0, fmt.Errorf("fetch balance: %w", err)
		}
		var balances struct {
			Balance []struct {
				AssetHash string `json:"assethash"`
				Amount    string `json:"amount"`
			} `json:"balance"`
		}
		if err := json.Unmarshal(result, &balances); err != nil {
			return 0, fmt.Errorf("unmarshal getnep17balances result: %w", err)
		}
		for _, entry := range balances.Balance {
			if entry.AssetHash == asset || asset == "" {
				n := new(big.Int)
				if _, ok := n.SetString(entry.Amount, 10); !ok {
					return 0, fmt.Errorf("malformed nep17 amount %q", entry.Amount)
				}
				return nep17ToFloat(n), nil
			}
		}
		return 0, nil
	}
}

// --- stack item and numeric decoding, mirroring chain/stack_parsers.go ---

// decodeNeoBytes decodes a stack item's string value per Neo N3 RPC
// convention: hex with a 0x prefix, base64 otherwise, with a raw unprefixed
// hex fallback for responses that omit the prefix.
func decodeNeoBytes(value string) ([]byte, error) {
	if strings.HasPrefix(value, "0x") {
		return hex.DecodeString(value[2:])
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return hex.DecodeString(value)
}

func parseNeoHash160(item neoStackItem) (string, error) {
	if item.Type != "ByteString" && item.Type != "Buffer" {
		return "", fmt.Errorf("unexpected hash160 type: %s", item.Type)
	}
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return "", err
	}
	raw, err := decodeNeoBytes(value)
	if err != nil {
		return "", err
	}
	if len(raw) != 20 {
		return "", fmt.Errorf("unexpected hash160 length: %d", len(raw))
	}
	reversed := make([]byte, len(raw))
	for i, b := range raw {
		reversed[len(raw)-1-i] = b
	}
	return "0x" + hex.EncodeToString(reversed), nil
}

func parseNeoInteger(item neoStackItem) (*big.Int, error) {
	if item.Type != "Integer" {
		return nil, fmt.Errorf("unexpected integer type: %s", item.Type)
	}
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return nil, err
	}
	n := new(big.Int)
	if _, ok := n.SetString(value, 10); !ok {
		return nil, fmt.Errorf("malformed integer stack value %q", value)
	}
	return n, nil
}

// nep17ToFloat converts a raw NEP-17 integer amount to a display value
// assuming 8 decimals, the precision GAS and most NEP-17 tokens use.
func nep17ToFloat(amount *big.Int) float64 {
	f := new(big.Float).SetInt(amount)
	f.Quo(f, big.NewFloat(1e8))
	v, _ := f.Float64()
	return v
}

// gasFractionToFloat converts a NEO sysfee/netfee string (raw GAS fraction
// units, 8 decimals) to a display GAS value.
func gasFractionToFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	n := new(big.Int)
	if _, ok := n.SetString(raw, 10); !ok {
		return 0
	}
	return nep17ToFloat(n)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

func parseHexWeiToFloat(s string) (float64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	n := new(big.Int)
	if _, ok := n.SetString(s, 16); !ok {
		return 0, fmt.Errorf("malformed hex value %q", s)
	}
	f := new(big.Float).SetInt(n)
	f.Quo(f, big.NewFloat(1e18))
	v, _ := f.Float64()
	return v, nil
}

func toHex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
