// Package position tracks per (user, market, outcome) share holdings,
// their reservation accounting, and weighted-average cost basis.
package position

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/model"
)

// ErrInsufficientShares is returned when a reservation would exceed the
// unreserved share balance.
var ErrInsufficientShares = errors.New("position: insufficient unreserved shares")

// InvariantError indicates shares or reservedShares would go negative,
// or reservedShares would exceed shares.
type InvariantError struct {
	UserID, MarketID string
	Outcome          model.Outcome
	Msg              string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("position: invariant violated for %s/%s/%s: %s", e.UserID, e.MarketID, e.Outcome, e.Msg)
}

// Key identifies one position row.
type Key struct {
	UserID   string
	MarketID string
	Outcome  model.Outcome
}

// Store is the persistence surface the position package needs.
type Store interface {
	GetPosition(ctx context.Context, key Key) (model.Position, error)
	PutPosition(ctx context.Context, pos model.Position) error
}

// Positions wraps a backing Store with the reservation/cost-basis
// operations from spec §4.3.
type Positions struct {
	store Store
}

// New creates a Positions accessor backed by store.
func New(store Store) *Positions {
	return &Positions{store: store}
}

// Get returns the position row for key, or a zero-valued position if
// none exists yet (positions are lazily created on first fill).
func (p *Positions) Get(ctx context.Context, key Key) (model.Position, error) {
	pos, err := p.store.GetPosition(ctx, key)
	if err != nil {
		return model.Position{}, err
	}
	if pos.UserID == "" {
		pos = model.Position{UserID: key.UserID, MarketID: key.MarketID, Outcome: key.Outcome}
	}
	return pos, nil
}

// Reserve earmarks qty shares against an open SELL order. Requires
// shares - reservedShares >= qty.
func (p *Positions) Reserve(ctx context.Context, key Key, qty decimal.Decimal) error {
	pos, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	free := pos.Shares.Sub(pos.ReservedShares)
	if free.LessThan(qty) {
		return ErrInsufficientShares
	}
	pos.ReservedShares = pos.ReservedShares.Add(qty)
	return p.store.PutPosition(ctx, pos)
}

// Release frees qty previously reserved shares, e.g. on order cancel.
func (p *Positions) Release(ctx context.Context, key Key, qty decimal.Decimal) error {
	pos, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	result := pos.ReservedShares.Sub(qty)
	if result.IsNegative() {
		return &InvariantError{UserID: key.UserID, MarketID: key.MarketID, Outcome: key.Outcome, Msg: "release would drive reservedShares negative"}
	}
	pos.ReservedShares = result
	return p.store.PutPosition(ctx, pos)
}

// ConsumeReserved moves qty shares out of both shares and reservedShares
// together, for a SELL fill.
func (p *Positions) ConsumeReserved(ctx context.Context, key Key, qty decimal.Decimal) error {
	pos, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	newShares := pos.Shares.Sub(qty)
	newReserved := pos.ReservedShares.Sub(qty)
	if newShares.IsNegative() || newReserved.IsNegative() {
		return &InvariantError{UserID: key.UserID, MarketID: key.MarketID, Outcome: key.Outcome, Msg: "consume would drive shares or reservedShares negative"}
	}
	pos.Shares = newShares
	pos.ReservedShares = newReserved
	return p.store.PutPosition(ctx, pos)
}

// Add applies a BUY fill: recomputes the weighted-average cost and
// increases shares.
//
//	avgPrice' = (shares*avgPrice + qty*tradePrice) / (shares + qty)
func (p *Positions) Add(ctx context.Context, key Key, qty, tradePrice decimal.Decimal) error {
	pos, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	if pos.Shares.IsZero() {
		pos.AvgPrice = tradePrice
	} else {
		numerator := pos.Shares.Mul(pos.AvgPrice).Add(qty.Mul(tradePrice))
		denominator := pos.Shares.Add(qty)
		pos.AvgPrice = numerator.Div(denominator)
	}
	pos.Shares = pos.Shares.Add(qty)
	return p.store.PutPosition(ctx, pos)
}

// Clear zeroes shares and reservedShares, used by market resolution and
// cancellation. The row itself remains for audit.
func (p *Positions) Clear(ctx context.Context, key Key) error {
	pos, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	pos.Shares = decimal.Zero
	pos.ReservedShares = decimal.Zero
	return p.store.PutPosition(ctx, pos)
}
