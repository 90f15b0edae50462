// Package model defines the core domain types shared across the trading
// core. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome identifies one side of a binary market.
type Outcome string

const (
	Yes Outcome = "YES"
	No  Outcome = "NO"
)

// Side identifies the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketOpen      MarketStatus = "OPEN"
	MarketResolved  MarketStatus = "RESOLVED"
	MarketCancelled MarketStatus = "CANCELLED"
)

// LedgerReason enumerates the closed set of reasons a ledger entry can
// be written for.
type LedgerReason string

const (
	ReasonFaucetCredit        LedgerReason = "FAUCET_CREDIT"
	ReasonOrderReserve        LedgerReason = "ORDER_RESERVE"
	ReasonOrderReserveRelease LedgerReason = "ORDER_RESERVE_RELEASE"
	ReasonTradeBuy            LedgerReason = "TRADE_BUY"
	ReasonTradeSell           LedgerReason = "TRADE_SELL"
	ReasonTradeFee            LedgerReason = "TRADE_FEE"
	ReasonSettlementWin       LedgerReason = "SETTLEMENT_WIN"
	ReasonSettlementLoss      LedgerReason = "SETTLEMENT_LOSS"
	ReasonMarketCancelRefund  LedgerReason = "MARKET_CANCEL_REFUND"
	ReasonAdminAdjustment     LedgerReason = "ADMIN_ADJUSTMENT"
)

// SystemAccountID is the default ledger counterparty that collects
// taker fees. Overridable via config.
const SystemAccountID = "SYSTEM"

// Order is a resting or incoming limit order on one (market, outcome)
// book.
//
// Invariants: 0 <= Remaining <= Quantity; Status == FILLED iff
// Remaining == 0; Status == PARTIAL implies 0 < Remaining < Quantity.
type Order struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Outcome   Outcome         `json:"outcome" db:"outcome"`
	Side      Side            `json:"side" db:"side"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Remaining decimal.Decimal `json:"remaining" db:"remaining"`
	Status    OrderStatus     `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Match is one execution between a taker and a resting maker order,
// produced by the matching engine.
type Match struct {
	MakerOrderID string
	TakerOrderID string
	MakerUserID  string
	TakerUserID  string
	MarketID     string
	Outcome      Outcome
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	// MakerSide is the side of the resting order; the taker side is the
	// opposite.
	MakerSide Side
}

// Trade is the persisted record of one Match, including the fee charged
// to the taker.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	Outcome      Outcome         `json:"outcome" db:"outcome"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	MakerOrderID string          `json:"maker_order_id" db:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id" db:"taker_order_id"`
	MakerUserID  string          `json:"maker_user_id" db:"maker_user_id"`
	TakerUserID  string          `json:"taker_user_id" db:"taker_user_id"`
	TakerFee     decimal.Decimal `json:"taker_fee" db:"taker_fee"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Balance is a user's cash position: available (freely spendable) and
// reserved (earmarked against open BUY orders).
type Balance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Available decimal.Decimal `json:"available" db:"available"`
	Reserved  decimal.Decimal `json:"reserved" db:"reserved"`
}

// LedgerRef identifies the entity a ledger entry is attributable to.
type LedgerRef struct {
	Type string `json:"ref_type" db:"ref_type"` // "order", "trade", "market", ""
	ID   string `json:"ref_id" db:"ref_id"`
}

// LedgerEntry is an immutable record of a balance delta. Entries are
// never updated or deleted.
type LedgerEntry struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	DeltaAvailable decimal.Decimal `json:"delta_available" db:"delta_available"`
	DeltaReserved  decimal.Decimal `json:"delta_reserved" db:"delta_reserved"`
	Reason         LedgerReason    `json:"reason" db:"reason"`
	Ref            LedgerRef       `json:"ref"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's share holdings in one (market, outcome).
//
// Invariants: Shares >= 0; ReservedShares >= 0; ReservedShares <= Shares.
type Position struct {
	UserID         string          `json:"user_id" db:"user_id"`
	MarketID       string          `json:"market_id" db:"market_id"`
	Outcome        Outcome         `json:"outcome" db:"outcome"`
	Shares         decimal.Decimal `json:"shares" db:"shares"`
	ReservedShares decimal.Decimal `json:"reserved_shares" db:"reserved_shares"`
	AvgPrice       decimal.Decimal `json:"avg_price" db:"avg_price"`
}

// Market is a binary prediction market.
type Market struct {
	ID        string       `json:"id" db:"id"`
	Question  string       `json:"question" db:"question"`
	Status    MarketStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// MarketResolution binds a resolved market to its winning outcome.
type MarketResolution struct {
	MarketID       string    `json:"market_id" db:"market_id"`
	WinningOutcome Outcome   `json:"winning_outcome" db:"winning_outcome"`
	ResolvedAt     time.Time `json:"resolved_at" db:"resolved_at"`
	ResolverUserID string    `json:"resolver_user_id" db:"resolver_user_id"`
}

// Level is one aggregated price level of an order-book snapshot.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookSnapshot is a price-aggregated view of one (market, outcome) book.
type BookSnapshot struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Portfolio aggregates a user's balance, positions, and orders of every
// status.
type Portfolio struct {
	UserID    string     `json:"user_id"`
	Balance   Balance    `json:"balance"`
	Positions []Position `json:"positions"`
	Orders    []Order    `json:"orders"`
}
