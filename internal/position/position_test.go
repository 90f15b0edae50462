package position

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

type memStore struct {
	rows map[Key]model.Position
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[Key]model.Position)}
}

func (s *memStore) GetPosition(_ context.Context, key Key) (model.Position, error) {
	return s.rows[key], nil
}

func (s *memStore) PutPosition(_ context.Context, pos model.Position) error {
	s.rows[Key{UserID: pos.UserID, MarketID: pos.MarketID, Outcome: pos.Outcome}] = pos
	return nil
}

func TestAdd_FirstFillSetsAvgPrice(t *testing.T) {
	store := newMemStore()
	p := New(store)
	key := Key{UserID: "alice", MarketID: "m1", Outcome: model.Yes}

	if err := p.Add(context.Background(), key, d(50), d(0.55)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos, _ := p.Get(context.Background(), key)
	if !pos.Shares.Equal(d(50)) {
		t.Errorf("expected shares=50, got %s", pos.Shares)
	}
	if !pos.AvgPrice.Equal(d(0.55)) {
		t.Errorf("expected avgPrice=0.55, got %s", pos.AvgPrice)
	}
}

func TestAdd_WeightedAverage(t *testing.T) {
	store := newMemStore()
	p := New(store)
	key := Key{UserID: "alice", MarketID: "m1", Outcome: model.Yes}

	p.Add(context.Background(), key, d(50), d(0.40))
	p.Add(context.Background(), key, d(50), d(0.60))

	pos, _ := p.Get(context.Background(), key)
	if !pos.Shares.Equal(d(100)) {
		t.Errorf("expected shares=100, got %s", pos.Shares)
	}
	if !pos.AvgPrice.Equal(d(0.50)) {
		t.Errorf("expected avgPrice=0.50, got %s", pos.AvgPrice)
	}
}

func TestReserve_InsufficientShares(t *testing.T) {
	store := newMemStore()
	p := New(store)
	key := Key{UserID: "bob", MarketID: "m1", Outcome: model.Yes}
	p.Add(context.Background(), key, d(40), d(0.70))

	err := p.Reserve(context.Background(), key, d(50))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestReserveThenConsumeReserved(t *testing.T) {
	store := newMemStore()
	p := New(store)
	key := Key{UserID: "bob", MarketID: "m1", Outcome: model.Yes}
	p.Add(context.Background(), key, d(40), d(0.70))

	if err := p.Reserve(context.Background(), key, d(40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.ConsumeReserved(context.Background(), key, d(40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos, _ := p.Get(context.Background(), key)
	if !pos.Shares.IsZero() || !pos.ReservedShares.IsZero() {
		t.Errorf("expected shares and reservedShares both zero, got %s/%s", pos.Shares, pos.ReservedShares)
	}
}

func TestRelease_BelowZeroFails(t *testing.T) {
	store := newMemStore()
	p := New(store)
	key := Key{UserID: "bob", MarketID: "m1", Outcome: model.Yes}

	var invErr *InvariantError
	err := p.Release(context.Background(), key, d(1))
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
}

func TestClear_ZeroesSharesAndReserved(t *testing.T) {
	store := newMemStore()
	p := New(store)
	key := Key{UserID: "alice", MarketID: "m1", Outcome: model.Yes}
	p.Add(context.Background(), key, d(100), d(0.40))
	p.Reserve(context.Background(), key, d(10))

	if err := p.Clear(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos, _ := p.Get(context.Background(), key)
	if !pos.Shares.IsZero() || !pos.ReservedShares.IsZero() {
		t.Errorf("expected cleared position, got shares=%s reserved=%s", pos.Shares, pos.ReservedShares)
	}
}
