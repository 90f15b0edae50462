package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// memStore is a minimal in-memory Store for unit tests.
type memStore struct {
	balances map[string]model.Balance
	entries  []model.LedgerEntry
}

func newMemStore() *memStore {
	return &memStore{balances: make(map[string]model.Balance)}
}

func (s *memStore) GetBalance(_ context.Context, userID string) (model.Balance, error) {
	bal, ok := s.balances[userID]
	if !ok {
		return model.Balance{}, ErrBalanceNotFound
	}
	return bal, nil
}

func (s *memStore) PutBalance(_ context.Context, bal model.Balance) error {
	s.balances[bal.UserID] = bal
	return nil
}

func (s *memStore) InsertLedgerEntry(_ context.Context, entry model.LedgerEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func seedID() IDGenerator {
	n := 0
	return func() string {
		n++
		return "entry-" + decimal.NewFromInt(int64(n)).String()
	}
}

func TestApply_CreditIncreasesAvailable(t *testing.T) {
	store := newMemStore()
	store.balances["alice"] = model.Balance{UserID: "alice", Available: d(100), Reserved: d(0)}
	l := New(store, seedID())

	err := l.Apply(context.Background(), Delta{
		UserID:         "alice",
		DeltaAvailable: d(50),
		Reason:         model.ReasonFaucetCredit,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bal, _ := l.GetBalance(context.Background(), "alice")
	if !bal.Available.Equal(d(150)) {
		t.Errorf("expected available=150, got %s", bal.Available)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(store.entries))
	}
}

func TestApply_RejectsNegativeAvailable(t *testing.T) {
	store := newMemStore()
	store.balances["alice"] = model.Balance{UserID: "alice", Available: d(10), Reserved: d(0)}
	l := New(store, seedID())

	err := l.Apply(context.Background(), Delta{
		UserID:         "alice",
		DeltaAvailable: d(-50),
		Reason:         model.ReasonOrderReserve,
	})

	var invErr *InvariantError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvariantError, got %v", err)
	}

	// Balance and entry count must be unchanged — the rejected delta
	// must not have partially applied.
	bal, _ := l.GetBalance(context.Background(), "alice")
	if !bal.Available.Equal(d(10)) {
		t.Errorf("balance must be unchanged after rejection, got %s", bal.Available)
	}
	if len(store.entries) != 0 {
		t.Errorf("expected no ledger entries after rejection, got %d", len(store.entries))
	}
}

func TestApply_UnknownUserFails(t *testing.T) {
	store := newMemStore()
	l := New(store, seedID())

	err := l.Apply(context.Background(), Delta{UserID: "nobody", DeltaAvailable: d(1)})
	if err == nil {
		t.Fatal("expected error for missing balance row")
	}
}

func TestApplyBatch_FourPartySumIsZero(t *testing.T) {
	// Simulates a trade settlement: taker pays value from reserved and
	// the fee from available, maker receives value, SYSTEM receives the
	// fee, so the four deltas sum to 0.
	store := newMemStore()
	store.balances["taker"] = model.Balance{UserID: "taker", Available: d(970), Reserved: d(30)}
	store.balances["maker"] = model.Balance{UserID: "maker", Available: d(0), Reserved: d(0)}
	store.balances[model.SystemAccountID] = model.Balance{UserID: model.SystemAccountID, Available: d(0), Reserved: d(0)}
	l := New(store, seedID())

	value := d(27.50)
	fee := d(0.275)

	deltas := []Delta{
		{UserID: "taker", DeltaReserved: value.Neg(), Reason: model.ReasonTradeBuy},
		{UserID: "taker", DeltaAvailable: fee.Neg(), Reason: model.ReasonTradeFee},
		{UserID: "maker", DeltaAvailable: value.Sub(fee).Add(fee), Reason: model.ReasonTradeSell},
		{UserID: model.SystemAccountID, DeltaAvailable: fee, Reason: model.ReasonTradeFee},
	}

	sum := decimal.Zero
	for _, dl := range deltas {
		sum = sum.Add(dl.DeltaAvailable).Add(dl.DeltaReserved)
	}
	if !sum.IsZero() {
		t.Fatalf("four-party sum must be zero, got %s", sum)
	}

	if err := l.ApplyBatch(context.Background(), deltas); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
