package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ── Solana JSON-RPC Client ──────────────────────────────────
// Talks directly to any standard Solana RPC node (mainnet-beta, Chainstack,
// QuickNode, Helius RPC). Consumes exactly two capabilities:
// getSignaturesForAddress and getTransaction (jsonParsed).

// ErrTransient marks upstream timeouts, 429s and 5xx responses. The client
// retries these with backoff and returns the error once attempts run out.
var ErrTransient = errors.New("transient rpc error")

// ErrPermanent marks non-retryable upstream failures (4xx other than 429).
var ErrPermanent = errors.New("permanent rpc error")

func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// Fetcher is the capability set consumed by ingestion and the analyzer.
// Tests inject fakes.
type Fetcher interface {
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
}

type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// ParsedInstruction is one jsonParsed instruction. Parsed stays raw; the
// extractor decodes it per program.
type ParsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

type InnerInstructionSet struct {
	Index        int                 `json:"index"`
	Instructions []ParsedInstruction `json:"instructions"`
}

type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string   `json:"amount"`
		Decimals int      `json:"decimals"`
		UIAmount *float64 `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

type TxMeta struct {
	Err               interface{}           `json:"err"`
	Fee               int64                 `json:"fee"`
	InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
	PreBalances       []int64               `json:"preBalances"`
	PostBalances      []int64               `json:"postBalances"`
	PreTokenBalances  []TokenBalance        `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance        `json:"postTokenBalances"`
}

type AccountKey struct {
	Pubkey string `json:"pubkey"`
	Signer bool   `json:"signer"`
}

type ParsedTransaction struct {
	Slot        int64   `json:"slot"`
	BlockTime   *int64  `json:"blockTime"`
	Meta        *TxMeta `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys  []AccountKey        `json:"accountKeys"`
			Instructions []ParsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// Signature returns the transaction's primary signature.
func (t *ParsedTransaction) Signature() string {
	if len(t.Transaction.Signatures) > 0 {
		return t.Transaction.Signatures[0]
	}
	return ""
}

// Success reports whether the transaction executed without error.
func (t *ParsedTransaction) Success() bool {
	return t.Meta == nil || t.Meta.Err == nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Client struct {
	endpoint string
	client   *http.Client
	gate     *RateGate
	retries  int
}

func NewClient(endpoint string, gate *RateGate, retries int) *Client {
	if retries < 1 {
		retries = 1
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		gate:     gate,
		retries:  retries,
	}
}

// call performs one JSON-RPC round trip through the rate gate, classifying
// failures as transient or permanent. Transient failures are retried with
// exponential backoff up to the configured attempt count.
func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if c.gate != nil {
			if err := c.gate.Wait(ctx); err != nil {
				return nil, err
			}
		}
		result, err := c.callOnce(ctx, method, params)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		log.Warn().Err(err).Str("method", method).Int("attempt", attempt+1).Msg("rpc retry")
	}
	return nil, lastErr
}

func (c *Client) callOnce(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	reqBody, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: timeout: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: http %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: http %d", ErrPermanent, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrPermanent, err)
	}
	if rpcResp.Error != nil {
		// -32005 is the node-is-behind / rate-limited family
		if rpcResp.Error.Code == -32005 || rpcResp.Error.Code == 429 {
			return nil, fmt.Errorf("%w: rpc error %d: %s", ErrTransient, rpcResp.Error.Code, rpcResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: rpc error %d: %s", ErrPermanent, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	result, err := c.call(ctx, "getSignaturesForAddress", []interface{}{
		address,
		map[string]interface{}{"limit": limit},
	})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}
	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("%w: decode signatures: %v", ErrPermanent, err)
	}
	return sigs, nil
}

func (c *Client) GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	result, err := c.call(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("%w: transaction %s not found", ErrPermanent, signature)
	}
	var tx ParsedTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", ErrPermanent, err)
	}
	if len(tx.Transaction.Signatures) == 0 {
		tx.Transaction.Signatures = []string{signature}
	}
	return &tx, nil
}
