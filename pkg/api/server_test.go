package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paperledger/brokerd/pkg/broker"
	"github.com/paperledger/brokerd/pkg/ledger"
	"github.com/paperledger/brokerd/pkg/marketdata"
	"github.com/paperledger/brokerd/pkg/util"
)

func newTestServer(t *testing.T) (*Server, *marketdata.Static) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store := ledger.NewMemory()
	oracle := marketdata.NewStatic()
	engine := broker.NewEngine(store, oracle, util.RealClock{}, logger)
	analytics := broker.NewAnalytics(store, oracle, nil, broker.DefaultRiskFreeRate, logger)
	return NewServer(engine, analytics, nil, logger), oracle
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func openTestAccount(t *testing.T, s *Server, userID string, balance int64) {
	t.Helper()
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/accounts", OpenAccountRequest{
		UserID:          userID,
		StartingBalance: decimal.NewFromInt(balance),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open account: status %d, body %s", rec.Code, rec.Body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestOpenAccountAndFetch(t *testing.T) {
	s, _ := newTestServer(t)
	openTestAccount(t, s, "alice", 100000)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/accounts/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var acct broker.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !acct.CashBalance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("balance = %s, want 100000", acct.CashBalance)
	}
}

func TestOpenAccountConflict(t *testing.T) {
	s, _ := newTestServer(t)
	openTestAccount(t, s, "alice", 1000)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/accounts", OpenAccountRequest{UserID: "alice"})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/accounts/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTradeStatusMapping(t *testing.T) {
	s, oracle := newTestServer(t)
	openTestAccount(t, s, "alice", 100000)
	oracle.SetPrice("AAPL", decimal.NewFromInt(150))

	cases := []struct {
		name string
		user string
		req  TradeRequest
		want int
	}{
		{"buy ok", "alice", TradeRequest{Symbol: "AAPL", Side: "buy", Quantity: 10}, http.StatusCreated},
		{"bad side", "alice", TradeRequest{Symbol: "AAPL", Side: "HOLD", Quantity: 1}, http.StatusBadRequest},
		{"zero quantity", "alice", TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 0}, http.StatusBadRequest},
		{"unknown account", "ghost", TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 1}, http.StatusNotFound},
		{"insufficient balance", "alice", TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 100000}, http.StatusUnprocessableEntity},
		{"oversell", "alice", TradeRequest{Symbol: "AAPL", Side: "SELL", Quantity: 99}, http.StatusUnprocessableEntity},
		{"price unavailable", "alice", TradeRequest{Symbol: "ZZZZ", Side: "BUY", Quantity: 1}, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := fmt.Sprintf("/api/v1/accounts/%s/trades", c.user)
			rec := doJSON(t, s.Handler(), http.MethodPost, path, c.req)
			if rec.Code != c.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, c.want, rec.Body)
			}
		})
	}
}

func TestPortfolioAndSnapshotEndpoints(t *testing.T) {
	s, oracle := newTestServer(t)
	openTestAccount(t, s, "alice", 100000)
	oracle.SetPrice("AAPL", decimal.NewFromInt(150))
	oracle.SetSector("AAPL", "Technology")

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/accounts/alice/trades",
		TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 100})
	if rec.Code != http.StatusCreated {
		t.Fatalf("trade: status %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/accounts/alice/portfolio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("portfolio: status %d", rec.Code)
	}
	var pf broker.Portfolio
	if err := json.Unmarshal(rec.Body.Bytes(), &pf); err != nil {
		t.Fatalf("decode portfolio: %v", err)
	}
	if len(pf.Positions) != 1 || pf.Positions[0].NetQuantity != 100 {
		t.Errorf("positions = %+v, want 100 AAPL", pf.Positions)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/accounts/alice/snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: status %d", rec.Code)
	}
	var snap broker.PortfolioSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ConcentrationRisk == "" {
		t.Error("snapshot missing concentration risk")
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/accounts/alice/equity", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("equity: status %d", rec.Code)
	}
	var curve []broker.EquityPoint
	if err := json.Unmarshal(rec.Body.Bytes(), &curve); err != nil {
		t.Fatalf("decode curve: %v", err)
	}
	if len(curve) != 1 {
		t.Errorf("curve length = %d, want 1", len(curve))
	}
}

func TestTransactionsEndpointEmptyArray(t *testing.T) {
	s, _ := newTestServer(t)
	openTestAccount(t, s, "alice", 1000)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/accounts/alice/transactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); body[0] != '[' {
		t.Errorf("body = %s, want a JSON array even when empty", body)
	}
}
