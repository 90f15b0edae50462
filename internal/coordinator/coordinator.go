// Package coordinator is the single writer for every market's trading
// events. Each event — place, cancel, cancel-market, resolve — runs
// under that market's critical section, mutates the in-memory order
// book, asks internal/settlement for the resulting deltas, and commits
// everything through one storage transaction.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/ledger"
	"github.com/atmx/market-engine/internal/matching"
	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/position"
	"github.com/atmx/market-engine/internal/settlement"
	"github.com/atmx/market-engine/internal/store"
)

// maxStorageRetries bounds the number of attempts the
// transient-storage-error retry loop (serialization failures,
// deadlocks) makes before an event fatalizes.
const maxStorageRetries = 3

// Config carries the trading parameters the coordinator and its
// settlement calculator need.
type Config struct {
	TakerFeeRate    decimal.Decimal
	MinPrice        decimal.Decimal
	MaxPrice        decimal.Decimal
	MaxQuantity     decimal.Decimal
	SystemAccountID string
}

// bookKey identifies one (market, outcome) order book.
type bookKey struct {
	marketID string
	outcome  model.Outcome
}

// Coordinator sequences placement, cancellation, market cancellation,
// and resolution events. It owns the in-memory order books; the ledger
// and position store remain the single authoritative source for
// balances and holdings.
type Coordinator struct {
	store store.Store
	calc  *settlement.Calculator

	minPrice, maxPrice, maxQuantity decimal.Decimal

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	booksMu sync.Mutex
	books   map[bookKey]*matching.Book
}

// New creates a Coordinator backed by st.
func New(st store.Store, cfg Config) *Coordinator {
	return &Coordinator{
		store:       st,
		calc:        settlement.New(cfg.TakerFeeRate, cfg.SystemAccountID),
		minPrice:    cfg.MinPrice,
		maxPrice:    cfg.MaxPrice,
		maxQuantity: cfg.MaxQuantity,
		locks:       make(map[string]*sync.Mutex),
		books:       make(map[bookKey]*matching.Book),
	}
}

// lockFor returns the per-market critical-section lock, creating it on
// first use. Held for the duration of one event, with guaranteed
// release on every exit path via the caller's defer.
func (c *Coordinator) lockFor(marketID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[marketID] = l
	}
	return l
}

// bookFor returns the in-memory book for (marketID, outcome), creating
// an empty one on first use.
func (c *Coordinator) bookFor(marketID string, outcome model.Outcome) *matching.Book {
	c.booksMu.Lock()
	defer c.booksMu.Unlock()
	key := bookKey{marketID, outcome}
	b, ok := c.books[key]
	if !ok {
		b = matching.New()
		c.books[key] = b
	}
	return b
}

// Recover rebuilds every market's in-memory books from orders currently
// in {OPEN, PARTIAL}, replayed in ascending creation-timestamp order to
// reconstruct price-time priority exactly. It then cross-checks BUY-side
// reservation totals against each user's projected reserved balance —
// a diagnostic only; the balances table remains authoritative and is
// never recomputed from entries.
func (c *Coordinator) Recover(ctx context.Context) error {
	markets, err := c.store.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: recover: list markets: %w", err)
	}

	reservedByUser := make(map[string]decimal.Decimal)

	for _, m := range markets {
		orders, err := c.store.ListOpenOrdersByMarket(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("coordinator: recover: list open orders for %s: %w", m.ID, err)
		}
		sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })

		for _, o := range orders {
			c.bookFor(o.MarketID, o.Outcome).Restore(o)
			if o.Side == model.Buy {
				reservedByUser[o.UserID] = reservedByUser[o.UserID].Add(o.Price.Mul(o.Remaining))
			}
		}
	}

	for userID, expected := range reservedByUser {
		bal, err := c.store.GetBalance(ctx, userID)
		if err != nil {
			slog.Warn("recovery cross-check: balance lookup failed", "user", userID, "err", err)
			continue
		}
		if !bal.Reserved.Equal(expected) {
			slog.Warn("recovery cross-check: reserved balance does not match open BUY orders",
				"user", userID, "reserved", bal.Reserved.String(), "expected_from_orders", expected.String())
		}
	}

	return nil
}

func (c *Coordinator) newID() string { return uuid.New().String() }

// withTx runs fn inside a fresh storage transaction, committing on
// success and rolling back on any error. Transient storage errors
// (serialization failures, deadlocks) are retried, with at most
// maxStorageRetries attempts in all; every other error fatalizes the
// event.
func (c *Coordinator) withTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxStorageRetries; attempt++ {
		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("coordinator: begin tx: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			lastErr = err
			if isTransientStorageError(err) {
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			lastErr = fmt.Errorf("coordinator: commit: %w", err)
			if isTransientStorageError(err) {
				continue
			}
			return lastErr
		}
		return nil
	}
	return fmt.Errorf("coordinator: storage retries exhausted: %w", lastErr)
}

// isTransientStorageError reports whether err is a retryable
// PostgreSQL serialization failure or deadlock, per spec §7's
// transient/permanent storage-error split.
func isTransientStorageError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

// applyPlan commits every effect in plan against tx: ledger deltas,
// position deltas, then order state changes. Any error aborts the
// whole plan; withTx rolls back the enclosing transaction.
func (c *Coordinator) applyPlan(ctx context.Context, tx store.Tx, plan settlement.Plan) error {
	if len(plan.LedgerDeltas) > 0 {
		if err := ledger.New(tx, c.newID).ApplyBatch(ctx, plan.LedgerDeltas); err != nil {
			return err
		}
	}

	pos := position.New(tx)
	for _, pd := range plan.PositionDeltas {
		var err error
		switch pd.DeltaKind {
		case settlement.PositionReserve:
			err = pos.Reserve(ctx, pd.Key, pd.Quantity)
		case settlement.PositionRelease:
			err = pos.Release(ctx, pd.Key, pd.Quantity)
		case settlement.PositionConsumeReserved:
			err = pos.ConsumeReserved(ctx, pd.Key, pd.Quantity)
		case settlement.PositionAdd:
			err = pos.Add(ctx, pd.Key, pd.Quantity, pd.TradePrice)
		case settlement.PositionClear:
			err = pos.Clear(ctx, pd.Key)
		}
		if err != nil {
			return err
		}
	}

	for _, chg := range plan.OrderStateChanges {
		o, err := tx.GetOrder(ctx, chg.OrderID)
		if err != nil {
			return err
		}
		o.Remaining = chg.Remaining
		o.Status = chg.Status
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// positionsForMarket lists every position row for marketID through tx,
// for resolution payout.
func (c *Coordinator) positionsForMarket(ctx context.Context, tx store.Tx, marketID string) ([]model.Position, error) {
	return tx.ListPositionsByMarket(ctx, marketID)
}

// mergePlans concatenates b's effects onto a.
func mergePlans(a, b settlement.Plan) settlement.Plan {
	a.LedgerDeltas = append(a.LedgerDeltas, b.LedgerDeltas...)
	a.PositionDeltas = append(a.PositionDeltas, b.PositionDeltas...)
	a.OrderStateChanges = append(a.OrderStateChanges, b.OrderStateChanges...)
	return a
}

// restoreToBook restores o onto whichever of yesBook/noBook matches its
// outcome, used to rewind a market-wide drain.
func restoreToBook(yesBook, noBook *matching.Book, o model.Order) {
	if o.Outcome == model.Yes {
		yesBook.Restore(o)
		return
	}
	noBook.Restore(o)
}

// mapStorageErr translates an error surfaced from applyPlan or the
// store into the coordinator's named business-error set, leaving
// anything unrecognized to propagate as an opaque storage failure.
func mapStorageErr(err error) error {
	var ledgerInvariant *ledger.InvariantError
	if errors.As(err, &ledgerInvariant) {
		if ledgerInvariant.Field == "available" {
			return ErrInsufficientFunds
		}
		return ErrInsufficientShares
	}
	var positionInvariant *position.InvariantError
	if errors.As(err, &positionInvariant) {
		return ErrInsufficientShares
	}
	if errors.Is(err, position.ErrInsufficientShares) {
		return ErrInsufficientShares
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
