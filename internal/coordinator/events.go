package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/matching"
	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/money"
	"github.com/atmx/market-engine/internal/position"
	"github.com/atmx/market-engine/internal/settlement"
	"github.com/atmx/market-engine/internal/store"
)

// PlaceOrderRequest carries the caller-supplied fields of a new order.
type PlaceOrderRequest struct {
	UserID   string
	MarketID string
	Outcome  model.Outcome
	Side     model.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// PlaceOrderResult is what the caller gets back: the placed order in
// its final state, plus the matches and trades it produced, if any.
type PlaceOrderResult struct {
	Order   model.Order
	Matches []model.Match
	Trades  []model.Trade
}

// PlaceOrder validates req, reserves funds or shares, matches it
// against the resting book, and commits the result in one storage
// transaction. The order row and its reservation are written before the
// book is touched, so a rejected reservation leaves the book as it was.
// If a step after matching fails, the book mutation is rewound: before
// a retried attempt, and again after the last attempt fails. A BUY that
// fills below its limit price gets the unused part of its reservation
// released.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if req.Outcome != model.Yes && req.Outcome != model.No {
		return PlaceOrderResult{}, ErrInvalidOutcome
	}
	if req.Side != model.Buy && req.Side != model.Sell {
		return PlaceOrderResult{}, fmt.Errorf("coordinator: unknown side %q", req.Side)
	}
	if _, err := money.NewPrice(req.Price, c.minPrice, c.maxPrice); err != nil {
		return PlaceOrderResult{}, ErrInvalidPrice
	}
	if _, err := money.NewQuantity(req.Quantity, c.maxQuantity); err != nil {
		return PlaceOrderResult{}, ErrInvalidQuantity
	}

	lock := c.lockFor(req.MarketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := c.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PlaceOrderResult{}, ErrNotFound
		}
		return PlaceOrderResult{}, fmt.Errorf("coordinator: get market: %w", err)
	}
	if market.Status != model.MarketOpen {
		return PlaceOrderResult{}, ErrMarketClosed
	}

	book := c.bookFor(req.MarketID, req.Outcome)

	order := model.Order{
		ID:        c.newID(),
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		Outcome:   req.Outcome,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Remaining: req.Quantity,
		Status:    model.OrderOpen,
		CreatedAt: time.Now().UTC(),
	}

	var (
		addResult   matching.AddResult
		preMakers   []model.Order
		bookMutated bool
		result      PlaceOrderResult
	)

	rewind := func() {
		for _, pm := range preMakers {
			book.Cancel(pm.ID)
			book.Restore(pm)
		}
		if addResult.Residual != nil {
			book.Cancel(order.ID)
		}
		preMakers = nil
		addResult = matching.AddResult{}
		bookMutated = false
	}

	err = c.withTx(ctx, func(tx store.Tx) error {
		if bookMutated {
			rewind()
		}

		var plan settlement.Plan
		if order.Side == model.Buy {
			plan = mergePlans(plan, c.calc.PlanBuyReserve(order.UserID, order.ID, order.Price, order.Quantity))
		} else {
			plan.PositionDeltas = append(plan.PositionDeltas, settlement.PositionDelta{
				Key:       position.Key{UserID: order.UserID, MarketID: order.MarketID, Outcome: order.Outcome},
				DeltaKind: settlement.PositionReserve,
				Quantity:  order.Quantity,
			})
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := c.applyPlan(ctx, tx, plan); err != nil {
			return err
		}

		addResult = book.AddOrder(order)
		bookMutated = true

		var (
			matchPlan settlement.Plan
			trades    []model.Trade
		)
		preMakers = preMakers[:0]
		for _, m := range addResult.Matches {
			p, fee, _ := c.calc.PlanTrade(m, order.ID, m.MakerOrderID)
			matchPlan = mergePlans(matchPlan, p)
			if order.Side == model.Buy && m.Price.LessThan(order.Price) {
				// Filled below the limit: return the unused part of the reservation.
				matchPlan = mergePlans(matchPlan, c.calc.PlanOrderRelease(order.UserID, order.ID, order.Price.Sub(m.Price), m.Quantity))
			}

			trades = append(trades, model.Trade{
				ID:           c.newID(),
				MarketID:     m.MarketID,
				Outcome:      m.Outcome,
				Price:        m.Price,
				Quantity:     m.Quantity,
				MakerOrderID: m.MakerOrderID,
				TakerOrderID: m.TakerOrderID,
				MakerUserID:  m.MakerUserID,
				TakerUserID:  m.TakerUserID,
				TakerFee:     fee,
				CreatedAt:    time.Now().UTC(),
			})

			maker, err := tx.GetOrder(ctx, m.MakerOrderID)
			if err != nil {
				return err
			}
			preMakers = append(preMakers, maker)

			newRemaining := maker.Remaining.Sub(m.Quantity)
			status := model.OrderPartial
			if newRemaining.IsZero() {
				status = model.OrderFilled
			}
			matchPlan.OrderStateChanges = append(matchPlan.OrderStateChanges, settlement.OrderStateChange{
				OrderID:   maker.ID,
				Remaining: newRemaining,
				Status:    status,
			})
		}

		if addResult.Residual != nil {
			matchPlan.OrderStateChanges = append(matchPlan.OrderStateChanges, settlement.OrderStateChange{
				OrderID:   addResult.Residual.ID,
				Remaining: addResult.Residual.Remaining,
				Status:    addResult.Residual.Status,
			})
		} else {
			matchPlan.OrderStateChanges = append(matchPlan.OrderStateChanges, settlement.OrderStateChange{
				OrderID:   order.ID,
				Remaining: decimal.Zero,
				Status:    model.OrderFilled,
			})
		}

		for _, t := range trades {
			if err := tx.InsertTrade(ctx, t); err != nil {
				return err
			}
		}
		if err := c.applyPlan(ctx, tx, matchPlan); err != nil {
			return err
		}

		finalOrder := order
		if addResult.Residual != nil {
			finalOrder = *addResult.Residual
		} else {
			finalOrder.Remaining = decimal.Zero
			finalOrder.Status = model.OrderFilled
		}
		result = PlaceOrderResult{Order: finalOrder, Matches: addResult.Matches, Trades: trades}
		return nil
	})

	if err != nil {
		if bookMutated {
			rewind()
		}
		return PlaceOrderResult{}, mapStorageErr(err)
	}
	return result, nil
}

// CancelOrderRequest identifies the order to cancel and the caller
// attempting it. An admin caller may cancel any user's order.
type CancelOrderRequest struct {
	OrderID string
	UserID  string
	IsAdmin bool
}

// CancelOrder removes an OPEN or PARTIAL order from its book and
// releases whatever it had reserved.
func (c *Coordinator) CancelOrder(ctx context.Context, req CancelOrderRequest) (model.Order, error) {
	existing, err := c.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, fmt.Errorf("coordinator: get order: %w", err)
	}
	if !req.IsAdmin && existing.UserID != req.UserID {
		return model.Order{}, ErrNotOwner
	}
	if existing.Status != model.OrderOpen && existing.Status != model.OrderPartial {
		return model.Order{}, ErrNotCancellable
	}

	lock := c.lockFor(existing.MarketID)
	lock.Lock()
	defer lock.Unlock()

	book := c.bookFor(existing.MarketID, existing.Outcome)

	var (
		preCancel  model.Order
		wasRemoved bool
		result     model.Order
	)

	rewind := func() {
		if wasRemoved {
			book.Restore(preCancel)
			wasRemoved = false
		}
	}

	err = c.withTx(ctx, func(tx store.Tx) error {
		rewind()

		o, ok := book.Cancel(req.OrderID)
		if !ok {
			return ErrNotCancellable
		}
		preCancel = o
		wasRemoved = true

		plan := c.calc.PlanOrderCancel(o)
		plan.OrderStateChanges = append(plan.OrderStateChanges, settlement.OrderStateChange{
			OrderID:   o.ID,
			Remaining: decimal.Zero,
			Status:    model.OrderCancelled,
		})
		if err := c.applyPlan(ctx, tx, plan); err != nil {
			return err
		}

		result = o
		result.Remaining = decimal.Zero
		result.Status = model.OrderCancelled
		return nil
	})

	if err != nil {
		rewind()
		return model.Order{}, mapStorageErr(err)
	}
	return result, nil
}

// CancelMarket drains both books for marketID, refunds every still-open
// order's reservation, and marks the market CANCELLED.
func (c *Coordinator) CancelMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	market, err := c.store.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("coordinator: get market: %w", err)
	}
	if market.Status != model.MarketOpen {
		return nil, ErrNotOpen
	}

	lock := c.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	yesBook := c.bookFor(marketID, model.Yes)
	noBook := c.bookFor(marketID, model.No)

	var (
		drained      []model.Order
		drainedBooks bool
		result       []model.Order
	)

	rewind := func() {
		if !drainedBooks {
			return
		}
		for _, o := range drained {
			restoreToBook(yesBook, noBook, o)
		}
		drained = nil
		drainedBooks = false
	}

	err = c.withTx(ctx, func(tx store.Tx) error {
		rewind()

		drained = append(yesBook.ClearAll(), noBook.ClearAll()...)
		drainedBooks = true

		plan := c.calc.PlanMarketCancel(drained)
		if err := c.applyPlan(ctx, tx, plan); err != nil {
			return err
		}
		if err := tx.UpdateMarketStatus(ctx, marketID, model.MarketCancelled); err != nil {
			return err
		}
		result = drained
		return nil
	})

	if err != nil {
		rewind()
		return nil, mapStorageErr(err)
	}
	return result, nil
}

// ResolveMarket drains both books (refunding any still-open orders),
// pays out 1 per share to every position on the winning outcome, and
// marks the market RESOLVED.
func (c *Coordinator) ResolveMarket(ctx context.Context, marketID string, winner model.Outcome, resolverUserID string) error {
	if winner != model.Yes && winner != model.No {
		return ErrInvalidOutcome
	}

	market, err := c.store.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("coordinator: get market: %w", err)
	}
	if market.Status != model.MarketOpen {
		return ErrNotOpen
	}

	lock := c.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	yesBook := c.bookFor(marketID, model.Yes)
	noBook := c.bookFor(marketID, model.No)

	var (
		drained      []model.Order
		drainedBooks bool
	)

	rewind := func() {
		if !drainedBooks {
			return
		}
		for _, o := range drained {
			restoreToBook(yesBook, noBook, o)
		}
		drained = nil
		drainedBooks = false
	}

	err = c.withTx(ctx, func(tx store.Tx) error {
		rewind()

		drained = append(yesBook.ClearAll(), noBook.ClearAll()...)
		drainedBooks = true

		plan := c.calc.PlanMarketCancel(drained)

		positions, err := c.positionsForMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		plan = mergePlans(plan, c.calc.PlanResolve(marketID, winner, positions))

		if err := c.applyPlan(ctx, tx, plan); err != nil {
			return err
		}
		if err := tx.UpdateMarketStatus(ctx, marketID, model.MarketResolved); err != nil {
			return err
		}
		return tx.PutMarketResolution(ctx, model.MarketResolution{
			MarketID:       marketID,
			WinningOutcome: winner,
			ResolvedAt:     time.Now().UTC(),
			ResolverUserID: resolverUserID,
		})
	})

	if err != nil {
		rewind()
		return mapStorageErr(err)
	}
	return nil
}

// MarketSnapshot returns a price-leveled view of one (market, outcome)
// book.
func (c *Coordinator) MarketSnapshot(marketID string, outcome model.Outcome) model.BookSnapshot {
	return c.bookFor(marketID, outcome).Snapshot()
}

// BestPrices returns the best bid and ask for one (market, outcome)
// book, each with a found flag.
func (c *Coordinator) BestPrices(marketID string, outcome model.Outcome) (bid decimal.Decimal, hasBid bool, ask decimal.Decimal, hasAsk bool) {
	book := c.bookFor(marketID, outcome)
	bid, hasBid = book.BestBid()
	ask, hasAsk = book.BestAsk()
	return
}

// Portfolio assembles a user's balance, positions, and orders.
func (c *Coordinator) Portfolio(ctx context.Context, userID string) (model.Portfolio, error) {
	bal, err := c.store.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Portfolio{}, ErrNotFound
		}
		return model.Portfolio{}, fmt.Errorf("coordinator: get balance: %w", err)
	}

	positions, err := c.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("coordinator: list positions: %w", err)
	}

	orders, err := c.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("coordinator: list orders: %w", err)
	}

	return model.Portfolio{UserID: userID, Balance: bal, Positions: positions, Orders: orders}, nil
}
