// Package settlement turns trading events into ledger and position
// deltas. Every function here is pure: no I/O, no storage access, no
// suspension. The trading coordinator is the only thing that commits
// the plans this package returns.
package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/ledger"
	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/position"
)

// PositionDelta describes one change to a (user, market, outcome)
// position row.
type PositionDelta struct {
	Key        position.Key
	DeltaKind  PositionDeltaKind
	Quantity   decimal.Decimal
	TradePrice decimal.Decimal // only meaningful for Add
}

// PositionDeltaKind identifies which position operation a
// PositionDelta applies.
type PositionDeltaKind int

const (
	PositionReserve PositionDeltaKind = iota
	PositionRelease
	PositionConsumeReserved
	PositionAdd
	PositionClear
)

// OrderStateChange describes a status/remaining transition to apply to
// one order row.
type OrderStateChange struct {
	OrderID   string
	Remaining decimal.Decimal
	Status    model.OrderStatus
}

// Plan is the uniform output of every function in this package: the
// full set of effects one event produces, ready for the coordinator to
// apply atomically.
type Plan struct {
	LedgerDeltas      []ledger.Delta
	PositionDeltas    []PositionDelta
	OrderStateChanges []OrderStateChange
}

// merge appends other's contents onto p, returning p.
func (p Plan) merge(other Plan) Plan {
	p.LedgerDeltas = append(p.LedgerDeltas, other.LedgerDeltas...)
	p.PositionDeltas = append(p.PositionDeltas, other.PositionDeltas...)
	p.OrderStateChanges = append(p.OrderStateChanges, other.OrderStateChanges...)
	return p
}

// Calculator carries the configuration settlement formulas need: the
// taker fee rate and the account fees are routed to.
type Calculator struct {
	TakerFeeRate    decimal.Decimal
	SystemAccountID string
}

// New creates a Calculator with the given taker fee rate and system fee
// account.
func New(takerFeeRate decimal.Decimal, systemAccountID string) *Calculator {
	return &Calculator{TakerFeeRate: takerFeeRate, SystemAccountID: systemAccountID}
}

// PlanBuyReserve moves price*qty from available to reserved for a new
// BUY order.
func (c *Calculator) PlanBuyReserve(userID, orderID string, price, qty decimal.Decimal) Plan {
	amount := price.Mul(qty)
	return Plan{
		LedgerDeltas: []ledger.Delta{
			{
				UserID:         userID,
				DeltaAvailable: amount.Neg(),
				DeltaReserved:  amount,
				Reason:         model.ReasonOrderReserve,
				Ref:            model.LedgerRef{Type: "order", ID: orderID},
			},
		},
	}
}

// PlanOrderRelease moves price*remaining back from reserved to
// available, e.g. on order cancel.
func (c *Calculator) PlanOrderRelease(userID, orderID string, price, remaining decimal.Decimal) Plan {
	amount := price.Mul(remaining)
	return Plan{
		LedgerDeltas: []ledger.Delta{
			{
				UserID:         userID,
				DeltaAvailable: amount,
				DeltaReserved:  amount.Neg(),
				Reason:         model.ReasonOrderReserveRelease,
				Ref:            model.LedgerRef{Type: "order", ID: orderID},
			},
		},
	}
}

// PlanTrade computes the ledger and position deltas for one match. The
// resulting trade record (fee, value) is the caller's to build; this
// plan only carries what moves balances and positions.
//
// value = qty*price; fee = value*TakerFeeRate. The seller is credited
// the full value, and the fee always flows from the taker's available
// balance to SYSTEM's, so the deltas of one trade sum to zero.
func (c *Calculator) PlanTrade(m model.Match, takerOrderID, makerOrderID string) (Plan, decimal.Decimal, decimal.Decimal) {
	value := m.Quantity.Mul(m.Price)
	fee := value.Mul(c.TakerFeeRate)

	takerSide := model.Buy
	if m.MakerSide == model.Buy {
		takerSide = model.Sell
	}

	var plan Plan
	if takerSide == model.Buy {
		// Taker is the buyer: consumes its own reservation, pays the fee,
		// gains shares. Maker was the resting SELL: receives the value,
		// loses shares and reservedShares.
		plan.LedgerDeltas = append(plan.LedgerDeltas,
			ledger.Delta{UserID: m.TakerUserID, DeltaReserved: value.Neg(), Reason: model.ReasonTradeBuy, Ref: model.LedgerRef{Type: "trade", ID: takerOrderID}},
			ledger.Delta{UserID: m.TakerUserID, DeltaAvailable: fee.Neg(), Reason: model.ReasonTradeFee, Ref: model.LedgerRef{Type: "trade", ID: takerOrderID}},
			ledger.Delta{UserID: c.SystemAccountID, DeltaAvailable: fee, Reason: model.ReasonTradeFee, Ref: model.LedgerRef{Type: "trade", ID: takerOrderID}},
			ledger.Delta{UserID: m.MakerUserID, DeltaAvailable: value, Reason: model.ReasonTradeSell, Ref: model.LedgerRef{Type: "trade", ID: makerOrderID}},
		)
		plan.PositionDeltas = append(plan.PositionDeltas,
			PositionDelta{Key: position.Key{UserID: m.TakerUserID, MarketID: m.MarketID, Outcome: m.Outcome}, DeltaKind: PositionAdd, Quantity: m.Quantity, TradePrice: m.Price},
			PositionDelta{Key: position.Key{UserID: m.MakerUserID, MarketID: m.MarketID, Outcome: m.Outcome}, DeltaKind: PositionConsumeReserved, Quantity: m.Quantity},
		)
	} else {
		// Taker is the seller: consumes its own reservedShares, receives
		// the value and pays the fee. Maker was the resting BUY: consumes
		// its own reservation, gains shares.
		plan.LedgerDeltas = append(plan.LedgerDeltas,
			ledger.Delta{UserID: m.MakerUserID, DeltaReserved: value.Neg(), Reason: model.ReasonTradeBuy, Ref: model.LedgerRef{Type: "trade", ID: makerOrderID}},
			ledger.Delta{UserID: m.TakerUserID, DeltaAvailable: value, Reason: model.ReasonTradeSell, Ref: model.LedgerRef{Type: "trade", ID: takerOrderID}},
			ledger.Delta{UserID: m.TakerUserID, DeltaAvailable: fee.Neg(), Reason: model.ReasonTradeFee, Ref: model.LedgerRef{Type: "trade", ID: takerOrderID}},
			ledger.Delta{UserID: c.SystemAccountID, DeltaAvailable: fee, Reason: model.ReasonTradeFee, Ref: model.LedgerRef{Type: "trade", ID: takerOrderID}},
		)
		plan.PositionDeltas = append(plan.PositionDeltas,
			PositionDelta{Key: position.Key{UserID: m.MakerUserID, MarketID: m.MarketID, Outcome: m.Outcome}, DeltaKind: PositionAdd, Quantity: m.Quantity, TradePrice: m.Price},
			PositionDelta{Key: position.Key{UserID: m.TakerUserID, MarketID: m.MarketID, Outcome: m.Outcome}, DeltaKind: PositionConsumeReserved, Quantity: m.Quantity},
		)
	}

	return plan, fee, value
}

// PlanOrderCancel releases whatever the order had reserved: cash for a
// BUY, reservedShares for a SELL.
func (c *Calculator) PlanOrderCancel(o model.Order) Plan {
	if o.Side == model.Buy {
		return c.PlanOrderRelease(o.UserID, o.ID, o.Price, o.Remaining)
	}
	return Plan{
		PositionDeltas: []PositionDelta{
			{Key: position.Key{UserID: o.UserID, MarketID: o.MarketID, Outcome: o.Outcome}, DeltaKind: PositionRelease, Quantity: o.Remaining},
		},
	}
}

// PlanMarketCancel aggregates refunds across every still-open order in a
// market: cash refunds for BUYs, reservedShares releases for SELLs.
func (c *Calculator) PlanMarketCancel(openOrders []model.Order) Plan {
	var plan Plan
	for _, o := range openOrders {
		plan = plan.merge(c.PlanOrderCancel(o))
		plan.OrderStateChanges = append(plan.OrderStateChanges, OrderStateChange{
			OrderID:   o.ID,
			Remaining: o.Remaining,
			Status:    model.OrderCancelled,
		})
	}
	return plan
}

// PlanResolve pays out 1 per share to positions on the winning outcome
// and records a zero-delta audit entry for losers, then clears every
// position. Must be preceded by PlanMarketCancel for any still-open
// orders so no reservation lingers past resolution.
func (c *Calculator) PlanResolve(marketID string, winner model.Outcome, positions []model.Position) Plan {
	var plan Plan
	for _, pos := range positions {
		if !pos.Shares.IsPositive() {
			continue
		}
		key := position.Key{UserID: pos.UserID, MarketID: pos.MarketID, Outcome: pos.Outcome}
		if pos.Outcome == winner {
			plan.LedgerDeltas = append(plan.LedgerDeltas, ledger.Delta{
				UserID:         pos.UserID,
				DeltaAvailable: pos.Shares,
				Reason:         model.ReasonSettlementWin,
				Ref:            model.LedgerRef{Type: "market", ID: marketID},
			})
		} else {
			plan.LedgerDeltas = append(plan.LedgerDeltas, ledger.Delta{
				UserID:         pos.UserID,
				DeltaAvailable: decimal.Zero,
				Reason:         model.ReasonSettlementLoss,
				Ref:            model.LedgerRef{Type: "market", ID: marketID},
			})
		}
		plan.PositionDeltas = append(plan.PositionDeltas, PositionDelta{Key: key, DeltaKind: PositionClear})
	}
	return plan
}
