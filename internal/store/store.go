// Package store defines the persistence interface for the trading core
// and its three implementations: PostgreSQL (source of truth), Redis
// (read-through cache), and an in-memory store for tests.
package store

import (
	"context"
	"errors"

	"github.com/atmx/market-engine/internal/ledger"
	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/position"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyRegistered is returned by RegisterUser when a balance row
// already exists for the user.
var ErrAlreadyRegistered = errors.New("store: user already registered")

// MarketStore persists markets and their resolutions.
type MarketStore interface {
	CreateMarket(ctx context.Context, m model.Market) error
	GetMarket(ctx context.Context, id string) (model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)
	UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error
	PutMarketResolution(ctx context.Context, res model.MarketResolution) error
}

// OrderStore persists order rows and the queries the coordinator needs
// over them.
type OrderStore interface {
	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	UpdateOrder(ctx context.Context, o model.Order) error
	ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error)
	ListOpenOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
}

// TradeStore persists the immutable trade tape.
type TradeStore interface {
	InsertTrade(ctx context.Context, t model.Trade) error
	ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)
}

// DataStore is the full read/write surface over balances, ledger
// entries, positions, orders, trades, and markets. It is satisfied both
// by a Store directly and by the Tx it hands out.
type DataStore interface {
	ledger.Store
	position.Store
	MarketStore
	OrderStore
	TradeStore

	// ListPositionsByMarket enumerates every (user, outcome) position
	// row for a market, for resolution payout and startup cross-checks.
	ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// ListPositionsByUser enumerates every position row held by userID,
	// for portfolio assembly.
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)
}

// Tx is a DataStore scoped to one storage transaction. All of a trading
// event's mutations happen against one Tx, committed or rolled back as
// a unit.
type Tx interface {
	DataStore
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the top-level persistence handle. RegisterUser creates a
// user's zero-valued balance row exactly once; ledger.Apply never
// upserts one.
type Store interface {
	DataStore
	BeginTx(ctx context.Context) (Tx, error)
	RegisterUser(ctx context.Context, userID string) error
}
