package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/api"
	"github.com/atmx/market-engine/internal/coordinator"
	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/store"
	"github.com/atmx/market-engine/internal/trade"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// newTestEnv creates a test Service with an in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.RegisterUser(ctx, "SYSTEM"); err != nil {
		t.Fatalf("register SYSTEM: %v", err)
	}

	coord := coordinator.New(st, coordinator.Config{
		TakerFeeRate:    d(0.01),
		MinPrice:        d(0.01),
		MaxPrice:        d(0.99),
		MaxQuantity:     d(1_000_000),
		SystemAccountID: "SYSTEM",
	})
	a := api.New(coord, st)
	svc := trade.NewService(a, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", svc.PlaceOrder)
	r.Post("/api/v1/orders/{orderID}/cancel", svc.CancelOrder)
	r.Post("/api/v1/markets/{marketID}/cancel", svc.CancelMarket)
	r.Post("/api/v1/markets/{marketID}/resolve", svc.ResolveMarket)
	r.Get("/api/v1/markets/{marketID}/book/{outcome}", svc.MarketSnapshot)
	r.Get("/api/v1/portfolio/{userID}", svc.Portfolio)

	return st, r
}

func seedUser(t *testing.T, st *store.MemoryStore, userID string, available float64) {
	t.Helper()
	ctx := context.Background()
	if err := st.RegisterUser(ctx, userID); err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
	if err := st.PutBalance(ctx, model.Balance{UserID: userID, Available: d(available)}); err != nil {
		t.Fatalf("seed balance %s: %v", userID, err)
	}
}

func seedMarket(t *testing.T, st *store.MemoryStore, marketID string) {
	t.Helper()
	if err := st.CreateMarket(context.Background(), model.Market{
		ID: marketID, Question: "?", Status: model.MarketOpen, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create market: %v", err)
	}
}

func placeOrder(t *testing.T, router chi.Router, req trade.PlaceOrderRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/orders", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func TestPlaceOrder_RestingThenFill(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)
	seedUser(t, st, "B", 1000)
	if err := st.PutPosition(context.Background(), model.Position{UserID: "B", MarketID: "m1", Outcome: model.Yes, Shares: d(50)}); err != nil {
		t.Fatalf("seed shares B: %v", err)
	}

	w := placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "B", MarketID: "m1", Outcome: "YES", Side: "SELL", Price: "0.55", Quantity: "50",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sellOut api.PlaceOrderOutput
	if err := json.Unmarshal(w.Body.Bytes(), &sellOut); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sellOut.Order.Status != "OPEN" {
		t.Fatalf("expected resting OPEN, got %s", sellOut.Order.Status)
	}

	w = placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "0.60", Quantity: "50",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var buyOut api.PlaceOrderOutput
	if err := json.Unmarshal(w.Body.Bytes(), &buyOut); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buyOut.Order.Status != "FILLED" {
		t.Fatalf("expected FILLED, got %s", buyOut.Order.Status)
	}
	if len(buyOut.Matches) != 1 || buyOut.Matches[0].Price != "0.55" {
		t.Fatalf("expected match at maker price 0.55, got %+v", buyOut.Matches)
	}
}

func TestPlaceOrder_InvalidSide(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)

	w := placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "MAYBE", Price: "0.5", Quantity: "10",
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unrecognized side (not a named api error), got %d", w.Code)
	}
}

func TestPlaceOrder_InvalidPrice(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)

	w := placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "1.50", Quantity: "10",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-bounds price, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1)

	w := placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "0.50", Quantity: "100",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for insufficient funds, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceOrder_MarketNotFound(t *testing.T) {
	_, router := newTestEnv(t)

	w := placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "nope", Outcome: "YES", Side: "BUY", Price: "0.50", Quantity: "10",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCancelOrder(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)

	w := placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "0.50", Quantity: "10",
	})
	var out api.PlaceOrderOutput
	json.Unmarshal(w.Body.Bytes(), &out)

	body, _ := json.Marshal(trade.CancelOrderRequest{UserID: "A"})
	req := httptest.NewRequest("POST", "/api/v1/orders/"+out.Order.ID+"/cancel", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var cancelled api.OrderDTO
	json.Unmarshal(w.Body.Bytes(), &cancelled)
	if cancelled.Status != "CANCELLED" {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
}

func TestCancelOrder_NotOwner(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)
	seedUser(t, st, "B", 1000)

	w := placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "0.50", Quantity: "10",
	})
	var out api.PlaceOrderOutput
	json.Unmarshal(w.Body.Bytes(), &out)

	body, _ := json.Marshal(trade.CancelOrderRequest{UserID: "B"})
	req := httptest.NewRequest("POST", "/api/v1/orders/"+out.Order.ID+"/cancel", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMarketSnapshot(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)

	placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "0.50", Quantity: "10",
	})

	req := httptest.NewRequest("GET", "/api/v1/markets/m1/book/YES", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var snap api.MarketSnapshotOutput
	json.Unmarshal(w.Body.Bytes(), &snap)
	if len(snap.Bids) != 1 || snap.Bids[0].Price != "0.5" {
		t.Errorf("expected one bid level at 0.5, got %+v", snap.Bids)
	}
	if snap.BestBid == nil || *snap.BestBid != "0.5" {
		t.Errorf("expected best bid 0.5, got %v", snap.BestBid)
	}
}

func TestMarketSnapshot_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/markets/nope/book/YES", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestResolveMarket(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)

	placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "0.50", Quantity: "10",
	})

	body, _ := json.Marshal(trade.ResolveMarketRequest{AdminUserID: "admin", Winner: "YES"})
	req := httptest.NewRequest("POST", "/api/v1/markets/m1/resolve", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	m, err := st.GetMarket(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.Status != model.MarketResolved {
		t.Errorf("expected RESOLVED, got %s", m.Status)
	}
}

func TestPortfolio(t *testing.T) {
	st, router := newTestEnv(t)
	seedMarket(t, st, "m1")
	seedUser(t, st, "A", 1000)

	placeOrder(t, router, trade.PlaceOrderRequest{
		UserID: "A", MarketID: "m1", Outcome: "YES", Side: "BUY", Price: "0.50", Quantity: "10",
	})

	req := httptest.NewRequest("GET", "/api/v1/portfolio/A", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var p api.PortfolioOutput
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.UserID != "A" {
		t.Errorf("expected user A, got %s", p.UserID)
	}
	if len(p.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(p.Orders))
	}
	if p.Balance.Reserved != "5" {
		t.Errorf("expected reserved 5 (0.50*10), got %s", p.Balance.Reserved)
	}
}

func TestPortfolio_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/portfolio/nobody", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
