package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newLimitsGate(t *testing.T, cfg Config) *LimitsGate {
	t.Helper()
	gate, err := NewLimitsGate(cfg)
	if err != nil {
		t.Fatalf("failed to build limits gate: %v", err)
	}
	return gate
}

func TestLimitsGateQty(t *testing.T) {
	gate := newLimitsGate(t, Config{MaxOrderQty: "2", MaxOrderNotional: "0"})

	decision, err := gate.ValidateTrade(context.Background(), 1, 1, TradeCheck{
		Symbol: "BTC/USDT",
		Amount: decimal.NewFromFloat(1.5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("trade inside the quantity limit must pass: %+v", decision)
	}

	decision, err = gate.ValidateTrade(context.Background(), 1, 1, TradeCheck{
		Symbol: "BTC/USDT",
		Amount: decimal.NewFromFloat(2.5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed || len(decision.Violations) != 1 {
		t.Fatalf("oversized trade must be blocked with one violation: %+v", decision)
	}
}

func TestLimitsGateNotional(t *testing.T) {
	gate := newLimitsGate(t, Config{MaxOrderQty: "0", MaxOrderNotional: "10000"})

	decision, err := gate.ValidateTrade(context.Background(), 1, 1, TradeCheck{
		Symbol: "BTC/USDT",
		Amount: decimal.NewFromFloat(1),
		Price:  decimal.NewFromFloat(50000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("notional above the limit must be blocked: %+v", decision)
	}

	// Market orders carry no reference price: the gate warns instead of
	// guessing a notional.
	decision, err = gate.ValidateTrade(context.Background(), 1, 1, TradeCheck{
		Symbol: "BTC/USDT",
		Amount: decimal.NewFromFloat(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || len(decision.Warnings) != 1 {
		t.Fatalf("priceless trade must pass with a warning: %+v", decision)
	}
}

func TestLimitsGateSymbolAllowlist(t *testing.T) {
	gate := newLimitsGate(t, Config{
		MaxOrderQty:      "0",
		MaxOrderNotional: "0",
		AllowedSymbols:   []string{"btc/usdt", " ETH/USDT "},
	})

	decision, err := gate.ValidateTrade(context.Background(), 1, 1, TradeCheck{
		Symbol: "BTC/USDT",
		Amount: decimal.NewFromFloat(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("allowlisted symbol must pass: %+v", decision)
	}

	decision, err = gate.ValidateTrade(context.Background(), 1, 1, TradeCheck{
		Symbol: "DOGE/USDT",
		Amount: decimal.NewFromFloat(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("off-list symbol must be blocked: %+v", decision)
	}
}

func TestRemoteGate(t *testing.T) {
	t.Run("relays the service decision", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/trades/validate" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var req remoteCheckRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			if req.UserID != 7 || req.Trade.Symbol != "BTC/USDT" {
				t.Errorf("unexpected request payload: %+v", req)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Decision{
				Allowed:    false,
				Violations: []string{"daily loss limit reached"},
			})
		}))
		defer srv.Close()

		gate := NewRemoteGate(Config{RemoteURL: srv.URL, RemoteRetryCount: 0})

		decision, err := gate.ValidateTrade(context.Background(), 7, 1, TradeCheck{
			Symbol: "BTC/USDT",
			Amount: decimal.NewFromFloat(1),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if decision.Allowed || len(decision.Violations) != 1 {
			t.Fatalf("expected the remote rejection to be relayed: %+v", decision)
		}
	})

	t.Run("server error becomes connection_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		gate := NewRemoteGate(Config{RemoteURL: srv.URL, RemoteRetryCount: 0})

		if _, err := gate.ValidateTrade(context.Background(), 7, 1, TradeCheck{
			Symbol: "BTC/USDT",
			Amount: decimal.NewFromFloat(1),
		}); err == nil {
			t.Fatal("expected an error for a failing risk service")
		}
	})
}

func TestChainGate(t *testing.T) {
	open := newLimitsGate(t, Config{MaxOrderQty: "0", MaxOrderNotional: "0"})
	strict := newLimitsGate(t, Config{MaxOrderQty: "1", MaxOrderNotional: "0"})

	chain := NewChainGate(open, strict)

	decision, err := chain.ValidateTrade(context.Background(), 1, 1, TradeCheck{
		Symbol: "BTC/USDT",
		Amount: decimal.NewFromFloat(5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("chain must stop at the first blocking gate: %+v", decision)
	}
}
