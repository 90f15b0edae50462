// Package trade provides the chi HTTP handlers that expose internal/api
// to a hosting process, plus a WebSocket hub broadcasting trade and
// order-lifecycle events. It holds no trading logic of its own — every
// handler decodes/encodes JSON and delegates to internal/api.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/api"
	"github.com/atmx/market-engine/internal/metrics"
)

// Service wires HTTP handlers to an api.API. wsHub is optional; pass nil
// to disable broadcasting.
type Service struct {
	api   *api.API
	wsHub *WSHub
}

// NewService creates a Service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(a *api.API, hub *WSHub) *Service {
	return &Service{api: a, wsHub: hub}
}

// PlaceOrderRequest is the JSON body for POST /api/v1/orders.
type PlaceOrderRequest struct {
	UserID   string `json:"user_id"`
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// PlaceOrder handles POST /api/v1/orders.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.MarketID == "" {
		writeError(w, "user_id and market_id are required", http.StatusBadRequest)
		return
	}

	out, err := s.api.PlaceOrder(r.Context(), api.PlaceOrderInput{
		UserID:   req.UserID,
		MarketID: req.MarketID,
		Outcome:  req.Outcome,
		Side:     req.Side,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		writePlacementError(w, err)
		return
	}

	slog.Info("order placed",
		"order_id", out.Order.ID,
		"user", req.UserID,
		"market", req.MarketID,
		"outcome", req.Outcome,
		"side", req.Side,
		"price", req.Price,
		"quantity", req.Quantity,
		"fills", len(out.Trades),
	)

	metrics.OrdersPlacedTotal.WithLabelValues(req.Side).Inc()
	for _, tr := range out.Trades {
		metrics.TradesTotal.WithLabelValues(req.Side).Inc()
		fee, err := decimal.NewFromString(tr.TakerFee)
		if err == nil {
			metrics.TakerFeesTotal.WithLabelValues(tr.MarketID).Add(fee.InexactFloat64())
		}
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "order_placed",
			MarketID: req.MarketID,
			Outcome:  req.Outcome,
			Side:     req.Side,
			Price:    req.Price,
			Quantity: req.Quantity,
			OrderID:  out.Order.ID,
		})
		for _, tr := range out.Trades {
			s.wsHub.Broadcast(WSMessage{
				Type:     "trade_executed",
				MarketID: tr.MarketID,
				Outcome:  tr.Outcome,
				Price:    tr.Price,
				Quantity: tr.Quantity,
			})
		}
	}

	writeJSON(w, http.StatusCreated, out)
}

// CancelOrderRequest is the JSON body for POST /api/v1/orders/{orderID}/cancel.
type CancelOrderRequest struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.api.CancelOrder(r.Context(), api.CancelOrderInput{
		UserID:  req.UserID,
		OrderID: orderID,
		IsAdmin: req.IsAdmin,
	})
	if err != nil {
		writeCancelError(w, err)
		return
	}

	metrics.OrdersCancelledTotal.Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "order_cancelled",
			MarketID: order.MarketID,
			Outcome:  order.Outcome,
			OrderID:  order.ID,
		})
	}

	writeJSON(w, http.StatusOK, order)
}

// CancelMarket handles POST /api/v1/markets/{marketID}/cancel.
func (s *Service) CancelMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req struct {
		AdminUserID string `json:"admin_user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	out, err := s.api.CancelMarket(r.Context(), req.AdminUserID, marketID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	slog.Info("market cancelled", "market", marketID, "refunded_orders", out.RefundedOrders)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "market_cancelled", MarketID: marketID})
	}

	writeJSON(w, http.StatusOK, out)
}

// ResolveMarketRequest is the JSON body for POST /api/v1/markets/{marketID}/resolve.
type ResolveMarketRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Winner      string `json:"winner"`
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := s.api.ResolveMarket(r.Context(), req.AdminUserID, marketID, req.Winner)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	slog.Info("market resolved", "market", marketID, "winner", req.Winner)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "market_resolved", MarketID: marketID, Winner: req.Winner})
	}

	writeJSON(w, http.StatusOK, out)
}

// MarketSnapshot handles GET /api/v1/markets/{marketID}/book/{outcome}.
func (s *Service) MarketSnapshot(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	outcome := chi.URLParam(r, "outcome")

	snap, err := s.api.MarketSnapshot(r.Context(), marketID, outcome)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			writeError(w, "market not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load book snapshot", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Portfolio handles GET /api/v1/portfolio/{userID}.
func (s *Service) Portfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	p, err := s.api.Portfolio(r.Context(), userID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// writePlacementError maps internal/api's placeOrder errors onto status
// codes per the HTTP boundary's error taxonomy.
func writePlacementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrInvalidPrice), errors.Is(err, api.ErrInvalidQuantity), errors.Is(err, api.ErrInvalidOutcome):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, api.ErrMarketClosed):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, api.ErrInsufficientFunds), errors.Is(err, api.ErrInsufficientShares):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, api.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "failed to place order", http.StatusInternalServerError)
	}
}

// writeCancelError maps internal/api's cancelOrder errors onto status codes.
func writeCancelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, api.ErrNotOwner):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, api.ErrNotCancellable):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "failed to cancel order", http.StatusInternalServerError)
	}
}

// writeLifecycleError maps cancelMarket/resolveMarket errors onto status codes.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, api.ErrNotOpen), errors.Is(err, api.ErrInvalidOutcome):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "failed to update market", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes v as a JSON response with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
