package rpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ladder_go/internal/domain"

	"github.com/tidwall/gjson"
)

func newTestClient(url string) *Client {
	c := NewClient(Config{
		URL:        url,
		APIKey:     "test-key",
		Pool:       "CPOOL",
		QuoteToken: "CUSDC",
		BaseToken:  "CBLND",
		Timeout:    2 * time.Second,
	})
	c.retryBase = time.Millisecond
	return c
}

// gateway answers each request with respond(method, params).
func gateway(t *testing.T, respond func(method string, params gjson.Result) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("Missing API key header")
		}
		req := gjson.ParseBytes(body)
		if req.Get("jsonrpc").String() != "2.0" {
			t.Errorf("Expected jsonrpc 2.0, got %s", body)
		}
		status, resp := respond(req.Get("method").String(), req.Get("params"))
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LatestLedgerSequence(t *testing.T) {
	srv := gateway(t, func(method string, _ gjson.Result) (int, string) {
		if method != "getLatestLedger" {
			t.Errorf("Unexpected method %s", method)
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"id":"abc","protocolVersion":20,"sequence":51234}}`
	})

	seq, err := newTestClient(srv.URL).LatestLedgerSequence(context.Background())
	if err != nil {
		t.Fatalf("LatestLedgerSequence failed: %v", err)
	}
	if seq != 51234 {
		t.Errorf("Expected 51234, got %d", seq)
	}
}

func TestClient_SimulateBalance(t *testing.T) {
	srv := gateway(t, func(method string, params gjson.Result) (int, string) {
		if params.Get("contract").String() != "CUSDC" || params.Get("holder").String() != "CPOOL" {
			t.Errorf("Unexpected params %s", params.Raw)
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"amount":"12345678901"}}`
	})

	amount, err := newTestClient(srv.URL).SimulateBalance(context.Background(), "CUSDC")
	if err != nil {
		t.Fatalf("SimulateBalance failed: %v", err)
	}
	if amount != 12345678901 {
		t.Errorf("Expected 12345678901, got %d", amount)
	}
	if amount.String() != "1234.5678901" {
		t.Errorf("Expected 1234.5678901, got %s", amount.String())
	}
}

func TestClient_PlaceOrder(t *testing.T) {
	srv := gateway(t, func(method string, params gjson.Result) (int, string) {
		if method != "placeOrder" {
			t.Errorf("Unexpected method %s", method)
		}
		if params.Get("side").String() != "buy" ||
			params.Get("amount").Int() != 5_000_000_000 ||
			params.Get("price").Int() != 9_950_000 ||
			params.Get("base_token").String() != "CBLND" {
			t.Errorf("Unexpected params %s", params.Raw)
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"hash":"deadbeef","submittedAt":1700000000000}}`
	})

	receipt, err := newTestClient(srv.URL).PlaceOrder(context.Background(), domain.OrderRequest{
		Side:   domain.SideBuy,
		Amount: 5_000_000_000,
		Price:  9_950_000,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if receipt.Handle != "deadbeef" {
		t.Errorf("Expected handle deadbeef, got %s", receipt.Handle)
	}
	if !receipt.SubmittedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("Unexpected submittedAt %v", receipt.SubmittedAt)
	}
}

func TestClient_PlaceOrderNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := gateway(t, func(string, gjson.Result) (int, string) {
		calls.Add(1)
		return http.StatusServiceUnavailable, `busy`
	})

	_, err := newTestClient(srv.URL).PlaceOrder(context.Background(), domain.OrderRequest{Side: domain.SideSell, Amount: 1, Price: 1})
	if !errors.Is(err, domain.ErrLedgerRequestFailed) {
		t.Fatalf("Expected ErrLedgerRequestFailed, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", n)
	}
}

func TestClient_ReadRetries(t *testing.T) {
	t.Run("recovers from transient failure", func(t *testing.T) {
		var calls atomic.Int32
		srv := gateway(t, func(string, gjson.Result) (int, string) {
			if calls.Add(1) < 3 {
				return http.StatusBadGateway, `oops`
			}
			return http.StatusOK, `{"jsonrpc":"2.0","id":3,"result":{"status":"filled"}}`
		})

		status, err := newTestClient(srv.URL).OrderStatus(context.Background(), "deadbeef")
		if err != nil {
			t.Fatalf("OrderStatus failed: %v", err)
		}
		if status != domain.OrderStatusFilled {
			t.Errorf("Expected filled, got %s", status)
		}
		if n := calls.Load(); n != 3 {
			t.Errorf("Expected 3 attempts, got %d", n)
		}
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := gateway(t, func(string, gjson.Result) (int, string) {
			calls.Add(1)
			return http.StatusInternalServerError, `down`
		})

		_, err := newTestClient(srv.URL).LatestLedgerSequence(context.Background())
		if !domain.IsRetriable(err) {
			t.Fatalf("Expected retriable error, got %v", err)
		}
		if n := calls.Load(); n != 3 {
			t.Errorf("Expected 3 attempts, got %d", n)
		}
	})

	t.Run("rpc error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := gateway(t, func(string, gjson.Result) (int, string) {
			calls.Add(1)
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`
		})

		_, err := newTestClient(srv.URL).SimulateBalance(context.Background(), "CUSDC")
		var netErr *domain.NetworkError
		if !errors.As(err, &netErr) || netErr.Retriable {
			t.Fatalf("Expected fatal NetworkError, got %v", err)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("Expected 1 attempt, got %d", n)
		}
	})
}

func TestClient_OrderStatusMapping(t *testing.T) {
	tests := map[string]domain.OrderStatus{
		"pending":   domain.OrderStatusPending,
		"open":      domain.OrderStatusPending,
		"filled":    domain.OrderStatusFilled,
		"cancelled": domain.OrderStatusCancelled,
		"weird":     domain.OrderStatusUnknown,
	}

	for raw, want := range tests {
		srv := gateway(t, func(string, gjson.Result) (int, string) {
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"status":"` + raw + `"}}`
		})
		got, err := newTestClient(srv.URL).OrderStatus(context.Background(), "h")
		if err != nil {
			t.Fatalf("OrderStatus(%s) failed: %v", raw, err)
		}
		if got != want {
			t.Errorf("OrderStatus(%s) = %s, want %s", raw, got, want)
		}
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).LatestLedgerSequence(context.Background())
	if !errors.Is(err, domain.ErrLedgerRequestFailed) {
		t.Errorf("Expected ErrLedgerRequestFailed, got %v", err)
	}
}
