package settlement

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestPlanBuyReserve(t *testing.T) {
	c := New(d(0.01), "SYSTEM")
	plan := c.PlanBuyReserve("alice", "ord1", d(0.30), d(100))

	if len(plan.LedgerDeltas) != 1 {
		t.Fatalf("expected 1 ledger delta, got %d", len(plan.LedgerDeltas))
	}
	dl := plan.LedgerDeltas[0]
	if !dl.DeltaAvailable.Equal(d(-30)) || !dl.DeltaReserved.Equal(d(30)) {
		t.Errorf("expected -30 available / +30 reserved, got %s / %s", dl.DeltaAvailable, dl.DeltaReserved)
	}
	if dl.Reason != model.ReasonOrderReserve {
		t.Errorf("expected ORDER_RESERVE reason, got %s", dl.Reason)
	}
}

func TestPlanTrade_S1_SimpleCrossAtMakerPrice(t *testing.T) {
	c := New(d(0.01), "SYSTEM")
	m := model.Match{
		MakerOrderID: "sell1",
		TakerOrderID: "buy1",
		MakerUserID:  "B",
		TakerUserID:  "A",
		MarketID:     "m1",
		Outcome:      model.Yes,
		Price:        d(0.55),
		Quantity:     d(50),
		MakerSide:    model.Sell,
	}

	plan, fee, value := c.PlanTrade(m, "buy1", "sell1")

	if !value.Equal(d(27.50)) {
		t.Errorf("expected value 27.50, got %s", value)
	}
	if !fee.Equal(d(0.275)) {
		t.Errorf("expected fee 0.275, got %s", fee)
	}

	sum := decimal.Zero
	for _, dl := range plan.LedgerDeltas {
		sum = sum.Add(dl.DeltaAvailable).Add(dl.DeltaReserved)
	}
	if !sum.IsZero() {
		t.Errorf("expected four-party ledger sum zero, got %s", sum)
	}

	var takerFee, makerCredit, systemCredit, takerReservedRelease decimal.Decimal
	for _, dl := range plan.LedgerDeltas {
		switch {
		case dl.UserID == "A" && dl.Reason == model.ReasonTradeFee:
			takerFee = dl.DeltaAvailable
		case dl.UserID == "A" && dl.Reason == model.ReasonTradeBuy:
			takerReservedRelease = dl.DeltaReserved
		case dl.UserID == "B" && dl.Reason == model.ReasonTradeSell:
			makerCredit = dl.DeltaAvailable
		case dl.UserID == "SYSTEM":
			systemCredit = dl.DeltaAvailable
		}
	}
	if !takerFee.Equal(d(-0.275)) {
		t.Errorf("expected taker fee debit -0.275, got %s", takerFee)
	}
	if !takerReservedRelease.Equal(d(-27.50)) {
		t.Errorf("expected taker reserved consumed -27.50, got %s", takerReservedRelease)
	}
	if !makerCredit.Equal(d(27.50)) {
		t.Errorf("expected maker credit 27.50, got %s", makerCredit)
	}
	if !systemCredit.Equal(d(0.275)) {
		t.Errorf("expected SYSTEM fee credit 0.275, got %s", systemCredit)
	}

	if len(plan.PositionDeltas) != 2 {
		t.Fatalf("expected 2 position deltas, got %d", len(plan.PositionDeltas))
	}
}

func TestPlanTrade_SellTaker(t *testing.T) {
	c := New(d(0.01), "SYSTEM")
	m := model.Match{
		MakerOrderID: "buy1",
		TakerOrderID: "sell1",
		MakerUserID:  "A",
		TakerUserID:  "B",
		MarketID:     "m1",
		Outcome:      model.Yes,
		Price:        d(0.55),
		Quantity:     d(50),
		MakerSide:    model.Buy,
	}

	plan, fee, value := c.PlanTrade(m, "sell1", "buy1")
	if !value.Equal(d(27.50)) || !fee.Equal(d(0.275)) {
		t.Fatalf("expected value 27.50 fee 0.275, got %s / %s", value, fee)
	}

	sum := decimal.Zero
	for _, dl := range plan.LedgerDeltas {
		sum = sum.Add(dl.DeltaAvailable).Add(dl.DeltaReserved)
	}
	if !sum.IsZero() {
		t.Errorf("expected four-party ledger sum zero, got %s", sum)
	}
}

func TestPlanOrderCancel_S5_BuyReleasesReservation(t *testing.T) {
	c := New(d(0.01), "SYSTEM")
	o := model.Order{ID: "ord1", UserID: "A", MarketID: "m1", Outcome: model.Yes, Side: model.Buy, Price: d(0.30), Quantity: d(100), Remaining: d(100)}

	plan := c.PlanOrderCancel(o)
	if len(plan.LedgerDeltas) != 1 {
		t.Fatalf("expected 1 ledger delta, got %d", len(plan.LedgerDeltas))
	}
	dl := plan.LedgerDeltas[0]
	if !dl.DeltaAvailable.Equal(d(30)) || !dl.DeltaReserved.Equal(d(-30)) {
		t.Errorf("expected +30 available / -30 reserved, got %s / %s", dl.DeltaAvailable, dl.DeltaReserved)
	}
}

func TestPlanOrderCancel_SellReleasesReservedShares(t *testing.T) {
	c := New(d(0.01), "SYSTEM")
	o := model.Order{ID: "ord2", UserID: "B", MarketID: "m1", Outcome: model.Yes, Side: model.Sell, Price: d(0.70), Quantity: d(40), Remaining: d(40)}

	plan := c.PlanOrderCancel(o)
	if len(plan.LedgerDeltas) != 0 {
		t.Errorf("expected no ledger deltas for a SELL cancel, got %d", len(plan.LedgerDeltas))
	}
	if len(plan.PositionDeltas) != 1 || !plan.PositionDeltas[0].Quantity.Equal(d(40)) {
		t.Fatalf("expected 1 position release of 40, got %+v", plan.PositionDeltas)
	}
}

func TestPlanMarketCancel_S6_RefundsBothSides(t *testing.T) {
	c := New(d(0.01), "SYSTEM")
	openOrders := []model.Order{
		{ID: "ord1", UserID: "Alice", MarketID: "m1", Outcome: model.Yes, Side: model.Buy, Price: d(0.30), Quantity: d(100), Remaining: d(100)},
		{ID: "ord2", UserID: "Bob", MarketID: "m1", Outcome: model.Yes, Side: model.Sell, Price: d(0.70), Quantity: d(40), Remaining: d(40)},
	}

	plan := c.PlanMarketCancel(openOrders)
	if len(plan.LedgerDeltas) != 1 {
		t.Fatalf("expected 1 ledger delta (Alice's refund), got %d", len(plan.LedgerDeltas))
	}
	if !plan.LedgerDeltas[0].DeltaAvailable.Equal(d(30)) {
		t.Errorf("expected Alice refund of 30, got %s", plan.LedgerDeltas[0].DeltaAvailable)
	}
	if len(plan.PositionDeltas) != 1 || !plan.PositionDeltas[0].Quantity.Equal(d(40)) {
		t.Fatalf("expected Bob's reservedShares release of 40, got %+v", plan.PositionDeltas)
	}
	if len(plan.OrderStateChanges) != 2 {
		t.Fatalf("expected both orders to transition to CANCELLED, got %d", len(plan.OrderStateChanges))
	}
	for _, chg := range plan.OrderStateChanges {
		if chg.Status != model.OrderCancelled {
			t.Errorf("expected CANCELLED, got %s", chg.Status)
		}
	}
}

func TestPlanResolve_S4_WinnerAndLoser(t *testing.T) {
	c := New(d(0.01), "SYSTEM")
	positions := []model.Position{
		{UserID: "Alice", MarketID: "m1", Outcome: model.Yes, Shares: d(100), AvgPrice: d(0.40)},
		{UserID: "Bob", MarketID: "m1", Outcome: model.No, Shares: d(50), AvgPrice: d(0.60)},
	}

	plan := c.PlanResolve("m1", model.Yes, positions)
	if len(plan.LedgerDeltas) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(plan.LedgerDeltas))
	}

	var aliceDelta, bobDelta decimal.Decimal
	var aliceReason, bobReason model.LedgerReason
	for _, dl := range plan.LedgerDeltas {
		if dl.UserID == "Alice" {
			aliceDelta, aliceReason = dl.DeltaAvailable, dl.Reason
		}
		if dl.UserID == "Bob" {
			bobDelta, bobReason = dl.DeltaAvailable, dl.Reason
		}
	}
	if !aliceDelta.Equal(d(100)) || aliceReason != model.ReasonSettlementWin {
		t.Errorf("expected Alice +100 SETTLEMENT_WIN, got %s %s", aliceDelta, aliceReason)
	}
	if !bobDelta.IsZero() || bobReason != model.ReasonSettlementLoss {
		t.Errorf("expected Bob +0 SETTLEMENT_LOSS, got %s %s", bobDelta, bobReason)
	}
	if len(plan.PositionDeltas) != 2 {
		t.Fatalf("expected both positions cleared, got %d deltas", len(plan.PositionDeltas))
	}
	for _, pd := range plan.PositionDeltas {
		if pd.DeltaKind != PositionClear {
			t.Errorf("expected PositionClear, got %v", pd.DeltaKind)
		}
	}
}
