// Package api is the external-interface adapter (C7): the contract
// surface the hosting layer consumes, with canonical string
// serialization for decimals, enums, and timestamps. It holds no
// trading logic of its own — every operation here is a thin
// translation over internal/coordinator.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/coordinator"
	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/money"
	"github.com/atmx/market-engine/internal/store"
)

// Re-exported coordinator errors, named per spec §6's operation table.
var (
	ErrInvalidPrice       = coordinator.ErrInvalidPrice
	ErrInvalidQuantity    = coordinator.ErrInvalidQuantity
	ErrInvalidOutcome     = coordinator.ErrInvalidOutcome
	ErrMarketClosed       = coordinator.ErrMarketClosed
	ErrInsufficientFunds  = coordinator.ErrInsufficientFunds
	ErrInsufficientShares = coordinator.ErrInsufficientShares
	ErrNotFound           = coordinator.ErrNotFound
	ErrNotOwner           = coordinator.ErrNotOwner
	ErrNotCancellable     = coordinator.ErrNotCancellable
	ErrNotOpen            = coordinator.ErrNotOpen
)

// timestamp renders t as ISO-8601 UTC with millisecond precision.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// decimalString renders d as a minimal decimal string: no scientific
// notation (decimal.Decimal.String() never produces any) and no
// trailing fractional zeros.
func decimalString(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// parseDecimal rejects malformed or negative decimal strings; callers
// translate the error into the appropriate ErrInvalid* sentinel.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("api: negative decimal %q", s)
	}
	return d, nil
}

// midpoint returns the mean of bid and ask when both sides are present.
func midpoint(hasBid bool, bid decimal.Decimal, hasAsk bool, ask decimal.Decimal) (decimal.Decimal, bool) {
	if !hasBid || !hasAsk {
		return decimal.Decimal{}, false
	}
	return money.Half(bid.Add(ask)), true
}

// API adapts internal/coordinator for the hosting layer. The market
// lookup in MarketSnapshot goes straight to the store; every other
// operation goes through the coordinator.
type API struct {
	coord *coordinator.Coordinator
	store store.Store
}

// New creates an API over coord, reading market lookups through st.
func New(coord *coordinator.Coordinator, st store.Store) *API {
	return &API{coord: coord, store: st}
}

// OrderDTO is the canonical serialization of an order.
type OrderDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	MarketID  string `json:"marketId"`
	Outcome   string `json:"outcome"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

func orderDTO(o model.Order) OrderDTO {
	return OrderDTO{
		ID:        o.ID,
		UserID:    o.UserID,
		MarketID:  o.MarketID,
		Outcome:   string(o.Outcome),
		Side:      string(o.Side),
		Price:     decimalString(o.Price),
		Quantity:  decimalString(o.Quantity),
		Remaining: decimalString(o.Remaining),
		Status:    string(o.Status),
		CreatedAt: timestamp(o.CreatedAt),
	}
}

// MatchDTO is the canonical serialization of one execution.
type MatchDTO struct {
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
	MakerUserID  string `json:"makerUserId"`
	TakerUserID  string `json:"takerUserId"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	MakerSide    string `json:"makerSide"`
}

func matchDTO(m model.Match) MatchDTO {
	return MatchDTO{
		MakerOrderID: m.MakerOrderID,
		TakerOrderID: m.TakerOrderID,
		MakerUserID:  m.MakerUserID,
		TakerUserID:  m.TakerUserID,
		Price:        decimalString(m.Price),
		Quantity:     decimalString(m.Quantity),
		MakerSide:    string(m.MakerSide),
	}
}

// TradeDTO is the canonical serialization of a persisted trade.
type TradeDTO struct {
	ID           string `json:"id"`
	MarketID     string `json:"marketId"`
	Outcome      string `json:"outcome"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
	MakerUserID  string `json:"makerUserId"`
	TakerUserID  string `json:"takerUserId"`
	TakerFee     string `json:"takerFee"`
	CreatedAt    string `json:"createdAt"`
}

func tradeDTO(t model.Trade) TradeDTO {
	return TradeDTO{
		ID:           t.ID,
		MarketID:     t.MarketID,
		Outcome:      string(t.Outcome),
		Price:        decimalString(t.Price),
		Quantity:     decimalString(t.Quantity),
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		MakerUserID:  t.MakerUserID,
		TakerUserID:  t.TakerUserID,
		TakerFee:     decimalString(t.TakerFee),
		CreatedAt:    timestamp(t.CreatedAt),
	}
}

// BalanceDTO is the canonical serialization of a balance.
type BalanceDTO struct {
	UserID    string `json:"userId"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
}

func balanceDTO(b model.Balance) BalanceDTO {
	return BalanceDTO{UserID: b.UserID, Available: decimalString(b.Available), Reserved: decimalString(b.Reserved)}
}

// PositionDTO is the canonical serialization of a position.
type PositionDTO struct {
	UserID         string `json:"userId"`
	MarketID       string `json:"marketId"`
	Outcome        string `json:"outcome"`
	Shares         string `json:"shares"`
	ReservedShares string `json:"reservedShares"`
	AvgPrice       string `json:"avgPrice"`
}

func positionDTO(p model.Position) PositionDTO {
	return PositionDTO{
		UserID:         p.UserID,
		MarketID:       p.MarketID,
		Outcome:        string(p.Outcome),
		Shares:         decimalString(p.Shares),
		ReservedShares: decimalString(p.ReservedShares),
		AvgPrice:       decimalString(p.AvgPrice),
	}
}

// LevelDTO is one aggregated price level in a book snapshot.
type LevelDTO struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

func levelDTOs(levels []model.Level) []LevelDTO {
	out := make([]LevelDTO, len(levels))
	for i, l := range levels {
		out[i] = LevelDTO{Price: decimalString(l.Price), Quantity: decimalString(l.Quantity), Orders: l.Orders}
	}
	return out
}

// PlaceOrderInput is the input of placeOrder.
type PlaceOrderInput struct {
	UserID   string
	MarketID string
	Outcome  string
	Side     string
	Price    string
	Quantity string
}

// PlaceOrderOutput is the result of placeOrder.
type PlaceOrderOutput struct {
	Order   OrderDTO   `json:"order"`
	Matches []MatchDTO `json:"matches"`
	Trades  []TradeDTO `json:"trades"`
}

// PlaceOrder validates and parses in's decimal strings, then places the
// order through the coordinator.
func (a *API) PlaceOrder(ctx context.Context, in PlaceOrderInput) (PlaceOrderOutput, error) {
	price, err := parseDecimal(in.Price)
	if err != nil {
		return PlaceOrderOutput{}, ErrInvalidPrice
	}
	qty, err := parseDecimal(in.Quantity)
	if err != nil {
		return PlaceOrderOutput{}, ErrInvalidQuantity
	}

	result, err := a.coord.PlaceOrder(ctx, coordinator.PlaceOrderRequest{
		UserID:   in.UserID,
		MarketID: in.MarketID,
		Outcome:  model.Outcome(in.Outcome),
		Side:     model.Side(in.Side),
		Price:    price,
		Quantity: qty,
	})
	if err != nil {
		return PlaceOrderOutput{}, err
	}

	matches := make([]MatchDTO, len(result.Matches))
	for i, m := range result.Matches {
		matches[i] = matchDTO(m)
	}
	trades := make([]TradeDTO, len(result.Trades))
	for i, t := range result.Trades {
		trades[i] = tradeDTO(t)
	}
	return PlaceOrderOutput{Order: orderDTO(result.Order), Matches: matches, Trades: trades}, nil
}

// CancelOrderInput is the input of cancelOrder.
type CancelOrderInput struct {
	UserID  string
	OrderID string
	IsAdmin bool
}

// CancelOrder cancels an order through the coordinator.
func (a *API) CancelOrder(ctx context.Context, in CancelOrderInput) (OrderDTO, error) {
	o, err := a.coord.CancelOrder(ctx, coordinator.CancelOrderRequest{
		OrderID: in.OrderID,
		UserID:  in.UserID,
		IsAdmin: in.IsAdmin,
	})
	if err != nil {
		return OrderDTO{}, err
	}
	return orderDTO(o), nil
}

// CancelMarketOutput is the result of cancelMarket.
type CancelMarketOutput struct {
	RefundedOrders int `json:"refundedOrders"`
}

// CancelMarket cancels marketID, refunding every still-open order.
func (a *API) CancelMarket(ctx context.Context, adminUserID, marketID string) (CancelMarketOutput, error) {
	_ = adminUserID // authorization is a hosting-layer concern; the core trusts the caller
	drained, err := a.coord.CancelMarket(ctx, marketID)
	if err != nil {
		return CancelMarketOutput{}, err
	}
	return CancelMarketOutput{RefundedOrders: len(drained)}, nil
}

// ResolveMarketOutput is the result of resolveMarket.
type ResolveMarketOutput struct {
	MarketID       string `json:"marketId"`
	WinningOutcome string `json:"winningOutcome"`
}

// ResolveMarket resolves marketID in favor of winner.
func (a *API) ResolveMarket(ctx context.Context, adminUserID, marketID, winner string) (ResolveMarketOutput, error) {
	if err := a.coord.ResolveMarket(ctx, marketID, model.Outcome(winner), adminUserID); err != nil {
		return ResolveMarketOutput{}, err
	}
	return ResolveMarketOutput{MarketID: marketID, WinningOutcome: winner}, nil
}

// MarketSnapshotOutput is per-outcome book levels plus best bid/ask/
// midpoint, all nil-if-absent.
type MarketSnapshotOutput struct {
	MarketID string     `json:"marketId"`
	Outcome  string     `json:"outcome"`
	Bids     []LevelDTO `json:"bids"`
	Asks     []LevelDTO `json:"asks"`
	BestBid  *string    `json:"bestBid,omitempty"`
	BestAsk  *string    `json:"bestAsk,omitempty"`
	Midpoint *string    `json:"midpoint,omitempty"`
}

// MarketSnapshot returns a price-leveled view of marketID's outcome
// book, with best bid/ask/midpoint.
func (a *API) MarketSnapshot(ctx context.Context, marketID, outcome string) (MarketSnapshotOutput, error) {
	if _, err := a.store.GetMarket(ctx, marketID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return MarketSnapshotOutput{}, ErrNotFound
		}
		return MarketSnapshotOutput{}, fmt.Errorf("api: get market: %w", err)
	}

	oc := model.Outcome(outcome)
	snap := a.coord.MarketSnapshot(marketID, oc)
	bid, hasBid, ask, hasAsk := a.coord.BestPrices(marketID, oc)

	out := MarketSnapshotOutput{
		MarketID: marketID,
		Outcome:  outcome,
		Bids:     levelDTOs(snap.Bids),
		Asks:     levelDTOs(snap.Asks),
	}
	if hasBid {
		s := decimalString(bid)
		out.BestBid = &s
	}
	if hasAsk {
		s := decimalString(ask)
		out.BestAsk = &s
	}
	if mid, ok := midpoint(hasBid, bid, hasAsk, ask); ok {
		s := decimalString(mid)
		out.Midpoint = &s
	}
	return out, nil
}

// PortfolioOutput is a user's balance, positions, and orders.
type PortfolioOutput struct {
	UserID    string        `json:"userId"`
	Balance   BalanceDTO    `json:"balance"`
	Positions []PositionDTO `json:"positions"`
	Orders    []OrderDTO    `json:"orders"`
}

// Portfolio assembles userID's balance, positions, and orders.
func (a *API) Portfolio(ctx context.Context, userID string) (PortfolioOutput, error) {
	p, err := a.coord.Portfolio(ctx, userID)
	if err != nil {
		return PortfolioOutput{}, err
	}

	positions := make([]PositionDTO, len(p.Positions))
	for i, pos := range p.Positions {
		positions[i] = positionDTO(pos)
	}
	orders := make([]OrderDTO, len(p.Orders))
	for i, o := range p.Orders {
		orders[i] = orderDTO(o)
	}
	return PortfolioOutput{
		UserID:    p.UserID,
		Balance:   balanceDTO(p.Balance),
		Positions: positions,
		Orders:    orders,
	}, nil
}
