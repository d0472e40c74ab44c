package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/infra"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

const (
	methodLatestLedger = "getLatestLedger"
	methodSimulate     = "simulateBalance"
	methodPlaceOrder   = "placeOrder"
	methodOrderStatus  = "getOrderStatus"
	methodCancelOrder  = "cancelOrder"

	defaultReadAttempts = 3
)

// Config describes the ledger gateway and the pool it trades against.
type Config struct {
	URL        string
	APIKey     string
	Pool       string // pool contract, also the holder whose balances are simulated
	QuoteToken string // asset A contract
	BaseToken  string // asset B contract
	Timeout    time.Duration
}

// Client talks JSON-RPC 2.0 to the ledger gateway. It implements domain.Ledger and
// domain.OrderCanceler. Reads are retried with exponential backoff; order submission
// never is, since a lost response may still have landed on chain.
type Client struct {
	cfg       Config
	http      *fasthttp.Client
	nextID    atomic.Uint64
	attempts  int
	retryBase time.Duration
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &fasthttp.Client{
			Name:         "ladder-go",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		attempts:  defaultReadAttempts,
		retryBase: time.Second,
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// LatestLedgerSequence returns the most recent ledger the gateway knows about.
func (c *Client) LatestLedgerSequence(ctx context.Context) (int64, error) {
	res, err := c.read(ctx, methodLatestLedger, nil)
	if err != nil {
		return 0, err
	}
	seq := res.Get("sequence")
	if !seq.Exists() {
		return 0, domain.NewFatalNetworkError(methodLatestLedger, errors.New("missing sequence"))
	}
	return seq.Int(), nil
}

// SimulateBalance asks the token contract for the pool's balance.
func (c *Client) SimulateBalance(ctx context.Context, token string) (domain.BaseUnits, error) {
	params := map[string]string{
		"contract": token,
		"holder":   c.cfg.Pool,
	}
	res, err := c.read(ctx, methodSimulate, params)
	if err != nil {
		return 0, err
	}

	amount := res.Get("amount")
	if !amount.Exists() {
		return 0, domain.NewFatalNetworkError(methodSimulate, errors.New("missing amount"))
	}
	units, err := domain.ParseBaseUnits(amount.String())
	if err != nil {
		return 0, domain.NewFatalNetworkError(methodSimulate, err)
	}
	return units, nil
}

// PlaceOrder submits one limit order. Exactly one attempt is made.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderReceipt, error) {
	params := map[string]any{
		"pool":        c.cfg.Pool,
		"side":        string(req.Side),
		"base_token":  c.cfg.BaseToken,
		"quote_token": c.cfg.QuoteToken,
		"amount":      int64(req.Amount),
		"price":       int64(req.Price),
	}
	res, err := c.call(ctx, methodPlaceOrder, params)
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	hash := res.Get("hash").String()
	if hash == "" {
		return domain.OrderReceipt{}, domain.NewFatalNetworkError(methodPlaceOrder, errors.New("missing transaction hash"))
	}

	submitted := time.Now()
	if ms := res.Get("submittedAt"); ms.Exists() {
		submitted = time.UnixMilli(ms.Int())
	}
	return domain.OrderReceipt{Handle: domain.OrderHandle(hash), SubmittedAt: submitted}, nil
}

// OrderStatus reports what the ledger knows about a submitted order.
func (c *Client) OrderStatus(ctx context.Context, handle domain.OrderHandle) (domain.OrderStatus, error) {
	params := map[string]string{
		"pool": c.cfg.Pool,
		"hash": string(handle),
	}
	res, err := c.read(ctx, methodOrderStatus, params)
	if err != nil {
		return domain.OrderStatusUnknown, err
	}
	return domain.ParseOrderStatus(res.Get("status").String()), nil
}

// CancelOrder withdraws a resting order.
func (c *Client) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	params := map[string]string{
		"pool": c.cfg.Pool,
		"hash": string(handle),
	}
	_, err := c.call(ctx, methodCancelOrder, params)
	return err
}

// read retries retriable failures of an idempotent call.
func (c *Client) read(ctx context.Context, method string, params any) (gjson.Result, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			delay := infra.CalculateBackoff(c.retryBase, i-1)
			slog.Info("Retrying ledger request",
				slog.String("method", method),
				slog.Int("attempt", i),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return gjson.Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := c.call(ctx, method, params)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			break
		}
		slog.Warn("Ledger request attempt failed",
			slog.String("method", method),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
	}
	return gjson.Result{}, lastErr
}

// call performs a single JSON-RPC round trip and returns the "result" member.
func (c *Client) call(ctx context.Context, method string, params any) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, err
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, domain.NewFatalNetworkError(method, err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.cfg.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}
	req.SetBody(body)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return gjson.Result{}, domain.NewNetworkError(method, err)
	}

	status := resp.StatusCode()
	if status >= 500 || status == fasthttp.StatusTooManyRequests {
		return gjson.Result{}, domain.NewNetworkError(method, fmt.Errorf("http status %d", status))
	}
	if status != fasthttp.StatusOK {
		return gjson.Result{}, domain.NewFatalNetworkError(method, fmt.Errorf("http status %d", status))
	}

	payload := resp.Body()
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, domain.NewFatalNetworkError(method, errors.New("malformed response"))
	}
	if rpcErr := gjson.GetBytes(payload, "error"); rpcErr.Exists() {
		return gjson.Result{}, domain.NewFatalNetworkError(method,
			fmt.Errorf("rpc error %d: %s", rpcErr.Get("code").Int(), rpcErr.Get("message").String()))
	}

	result := gjson.GetBytes(payload, "result")
	if !result.Exists() {
		return gjson.Result{}, domain.NewFatalNetworkError(method, errors.New("missing result"))
	}
	return result, nil
}
