package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mr-tron/base58"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
)

// UTXOConfig configures a UTXOClient against an external block-explorer-style
// ledger data source (spec §1: "relies on external ledger access providers
// as data sources").
type UTXOConfig struct {
	Chain       domain.Chain
	BaseURL     string // e.g. "https://explorer.example/api"
	Params      *chaincfg.Params
	RequestTimeout time.Duration
}

// UTXOClient adapts a UTXO-style chain (Bitcoin and similar) to the Client
// contract. It classifies addresses with btcutil so downstream components
// never need chain-specific decoding logic.
type UTXOClient struct {
	cfg    UTXOConfig
	http   *http.Client
	logger *logging.Logger
}

// NewUTXOClient constructs a UTXOClient. Params defaults to MainNetParams
// when unset.
func NewUTXOClient(cfg UTXOConfig) (*UTXOClient, error) {
	normalized, _, err := httputil.NormalizeBaseURL(cfg.BaseURL, httputil.BaseURLOptions{RequireHTTPSInStrictMode: true})
	if err != nil {
		return nil, fmt.Errorf("ledger utxo client %s: %w", cfg.Chain, err)
	}
	cfg.BaseURL = normalized
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	base := &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()}
	return &UTXOClient{
		cfg:    cfg,
		http:   httputil.CopyHTTPClientWithTimeout(base, cfg.RequestTimeout, true),
		logger: logging.New("ledger-utxo", "info", "json"),
	}, nil
}

func (c *UTXOClient) Chain() domain.Chain { return c.cfg.Chain }

type explorerBlockHeader struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

func (c *UTXOClient) HeadHeight(ctx context.Context) (uint64, error) {
	var tip explorerBlockHeader
	if err := c.getJSON(ctx, "/blocks/tip", &tip); err != nil {
		return 0, fmt.Errorf("fetch chain tip: %w", err)
	}
	return uint64(tip.Height), nil
}

func (c *UTXOClient) BlockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	if err := c.getJSON(ctx, "/block-height/"+strconv.FormatUint(height, 10), &hash); err != nil {
		return "", fmt.Errorf("fetch block hash at %d: %w", height, err)
	}
	if _, err := chainhash.NewHashFromStr(hash); err != nil {
		return "", fmt.Errorf("explorer returned malformed block hash at height %d: %w", height, err)
	}
	return hash, nil
}

type explorerVin struct {
	PrevOut struct {
		Address string  `json:"scriptpubkey_address"`
		Value   float64 `json:"value"`
	} `json:"prevout"`
}

type explorerVout struct {
	Address string  `json:"scriptpubkey_address"`
	Value   float64 `json:"value"`
}

type explorerTx struct {
	TxID string         `json:"txid"`
	Vin  []explorerVin  `json:"vin"`
	Vout []explorerVout `json:"vout"`
	Fee  float64        `json:"fee"`
}

type explorerBlock struct {
	Height    int64        `json:"height"`
	Hash      string       `json:"id"`
	PrevHash  string       `json:"previousblockhash"`
	Timestamp int64        `json:"timestamp"`
	Txs       []explorerTx `json:"tx"`
}

// FetchBlocks retrieves and normalises blocks [from, to]. Address strings
// are validated with btcutil.DecodeAddress against the configured network
// params; addresses that fail to decode are kept as raw strings so a
// classification error in one output never drops the whole block.
func (c *UTXOClient) FetchBlocks(ctx context.Context, from, to uint64) ([]Block, error) {
	blocks := make([]Block, 0, to-from+1)
	for height := from; height <= to; height++ {
		hash, err := c.BlockHash(ctx, height)
		if err != nil {
			return nil, err
		}

		var raw explorerBlock
		if err := c.getJSON(ctx, "/block/"+hash, &raw); err != nil {
			return nil, fmt.Errorf("fetch block %s: %w", hash, err)
		}

		block := Block{
			Height:    height,
			Hash:      raw.Hash,
			PrevHash:  raw.PrevHash,
			Timestamp: time.Unix(raw.Timestamp, 0).UTC(),
		}
		for _, tx := range raw.Txs {
			block.Transactions = append(block.Transactions, c.normaliseTx(tx, height, block.Timestamp))
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (c *UTXOClient) normaliseTx(tx explorerTx, height uint64, ts time.Time) domain.Transaction {
	inputs := make([]domain.TxIO, 0, len(tx.Vin))
	for _, vin := range tx.Vin {
		inputs = append(inputs, domain.TxIO{
			Address: c.classifyAddress(vin.PrevOut.Address),
			Asset:   "BTC",
			Amount:  satsToUnits(vin.PrevOut.Value),
		})
	}

	outputs := make([]domain.TxIO, 0, len(tx.Vout))
	for _, vout := range tx.Vout {
		outputs = append(outputs, domain.TxIO{
			Address: c.classifyAddress(vout.Address),
			Asset:   "BTC",
			Amount:  satsToUnits(vout.Value),
		})
	}

	if _, err := chainhash.NewHashFromStr(tx.TxID); err != nil {
		c.logger.WithFields(map[string]interface{}{"tx_hash": tx.TxID, "error": err.Error()}).
			Debug("explorer returned a malformed transaction hash, keeping raw form")
	}

	return domain.Transaction{
		Chain:       c.cfg.Chain,
		TxHash:      tx.TxID,
		BlockHeight: height,
		Timestamp:   ts,
		Inputs:      inputs,
		Outputs:     outputs,
		Fee:         satsToUnits(tx.Fee),
		Status:      domain.TxStatusConfirmed,
	}
}

// classifyAddress validates the address against the configured network
// params, logging (not failing) on a decode error — the raw string is
// still usable as an opaque participant key downstream. Forked chains
// (Litecoin, Dogecoin, ...) use version bytes chaincfg has no preset for,
// so a bare base58check decode is tried as a fallback: it confirms the
// address is at least a well-formed base58check string even when the
// network-specific prefix is unrecognised.
func (c *UTXOClient) classifyAddress(raw string) string {
	if raw == "" {
		return raw
	}
	if _, err := btcutil.DecodeAddress(raw, c.cfg.Params); err != nil {
		if _, decodeErr := base58.Decode(raw); decodeErr != nil {
			c.logger.WithFields(map[string]interface{}{
				"address": raw,
				"error":   err.Error(),
			}).Debug("address failed both network and base58 classification, keeping raw form")
		} else {
			c.logger.WithFields(map[string]interface{}{"address": raw}).
				Debug("address is valid base58 but not on the configured network, keeping raw form")
		}
	}
	return raw
}

func (c *UTXOClient) Balance(ctx context.Context, address, asset string) (float64, error) {
	var stats struct {
		ChainStats struct {
			FundedTxoSum int64 `json:"funded_txo_sum"`
			SpentTxoSum  int64 `json:"spent_txo_sum"`
		} `json:"chain_stats"`
	}
	if err := c.getJSON(ctx, "/address/"+address, &stats); err != nil {
		return 0, fmt.Errorf("fetch address stats: %w", err)
	}
	return satsToUnits(float64(stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum)), nil
}

func (c *UTXOClient) getJSON(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func satsToUnits(sats float64) float64 {
	return sats / 1e8
}
