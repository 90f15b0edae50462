package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/position"
)

// MemoryStore implements Store with in-memory maps guarded by a single
// mutex. Used for tests and local development; not suitable for
// production since nothing survives a restart.
type MemoryStore struct {
	mu         sync.Mutex
	balances   map[string]model.Balance
	entries    []model.LedgerEntry
	positions  map[position.Key]model.Position
	markets    map[string]model.Market
	resolves   map[string]model.MarketResolution
	orders     map[string]model.Order
	trades     []model.Trade
	inTx       bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]model.Balance),
		positions: make(map[position.Key]model.Position),
		markets:   make(map[string]model.Market),
		resolves:  make(map[string]model.MarketResolution),
		orders:    make(map[string]model.Order),
	}
}

// --- ledger.Store ---

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (model.Balance, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	bal, ok := s.balances[userID]
	if !ok {
		return model.Balance{}, fmt.Errorf("memory store: %w: balance for %s", ErrNotFound, userID)
	}
	return bal, nil
}

func (s *MemoryStore) PutBalance(_ context.Context, bal model.Balance) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	s.balances[bal.UserID] = bal
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry model.LedgerEntry) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	s.entries = append(s.entries, entry)
	return nil
}

// --- position.Store ---

func (s *MemoryStore) GetPosition(_ context.Context, key position.Key) (model.Position, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	return s.positions[key], nil
}

func (s *MemoryStore) PutPosition(_ context.Context, pos model.Position) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	key := position.Key{UserID: pos.UserID, MarketID: pos.MarketID, Outcome: pos.Outcome}
	s.positions[key] = pos
	return nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	var out []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- MarketStore ---

func (s *MemoryStore) CreateMarket(_ context.Context, m model.Market) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory store: market %s already exists", m.ID)
	}
	s.markets[m.ID] = m
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (model.Market, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	m, ok := s.markets[id]
	if !ok {
		return model.Market{}, fmt.Errorf("memory store: %w: market %s", ErrNotFound, id)
	}
	return m, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	out := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) UpdateMarketStatus(_ context.Context, id string, status model.MarketStatus) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory store: %w: market %s", ErrNotFound, id)
	}
	m.Status = status
	s.markets[id] = m
	return nil
}

func (s *MemoryStore) PutMarketResolution(_ context.Context, res model.MarketResolution) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	s.resolves[res.MarketID] = res
	return nil
}

// --- OrderStore ---

func (s *MemoryStore) CreateOrder(_ context.Context, o model.Order) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("memory store: order %s already exists", o.ID)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("memory store: %w: order %s", ErrNotFound, id)
	}
	return o, nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o model.Order) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("memory store: %w: order %s", ErrNotFound, o.ID)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) ListOpenOrdersByMarket(_ context.Context, marketID string) ([]model.Order, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	var out []model.Order
	for _, o := range s.orders {
		if o.MarketID == marketID && isOpenStatus(o.Status) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListOpenOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID && isOpenStatus(o.Status) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func isOpenStatus(status model.OrderStatus) bool {
	return status == model.OrderOpen || status == model.OrderPartial
}

// --- TradeStore ---

func (s *MemoryStore) InsertTrade(_ context.Context, t model.Trade) error {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	s.trades = append(s.trades, t)
	return nil
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.lockIfNotInTx()
	defer s.unlockIfNotInTx()
	var out []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Store ---

// RegisterUser creates userID's zero-valued balance row. It is an error
// to register the same user twice.
func (s *MemoryStore) RegisterUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[userID]; ok {
		return ErrAlreadyRegistered
	}
	s.balances[userID] = model.Balance{UserID: userID}
	return nil
}

// memTx is a MemoryStore transaction. Since MemoryStore already
// serializes every operation under one mutex, BeginTx snapshots every
// map so Rollback can restore them; Commit simply discards the
// snapshot and releases the lock.
type memTx struct {
	store *MemoryStore

	balances  map[string]model.Balance
	entries   []model.LedgerEntry
	positions map[position.Key]model.Position
	markets   map[string]model.Market
	resolves  map[string]model.MarketResolution
	orders    map[string]model.Order
	trades    []model.Trade

	done bool
}

// BeginTx acquires the store's lock for the duration of the transaction
// and snapshots all state for rollback.
func (s *MemoryStore) BeginTx(_ context.Context) (Tx, error) {
	s.mu.Lock()
	s.inTx = true

	tx := &memTx{
		store:     s,
		balances:  cloneMap(s.balances),
		entries:   append([]model.LedgerEntry(nil), s.entries...),
		positions: cloneMap(s.positions),
		markets:   cloneMap(s.markets),
		resolves:  cloneMap(s.resolves),
		orders:    cloneMap(s.orders),
		trades:    append([]model.Trade(nil), s.trades...),
	}
	return tx, nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) lockIfNotInTx() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *MemoryStore) unlockIfNotInTx() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

func (t *memTx) finish() {
	t.store.inTx = false
	t.store.mu.Unlock()
}

// Commit discards the pre-transaction snapshot; the live maps already
// hold every write made through t.
func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("memory store: transaction already finished")
	}
	t.done = true
	t.finish()
	return nil
}

// Rollback restores every map to its pre-transaction snapshot.
func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.balances = t.balances
	t.store.entries = t.entries
	t.store.positions = t.positions
	t.store.markets = t.markets
	t.store.resolves = t.resolves
	t.store.orders = t.orders
	t.store.trades = t.trades
	t.finish()
	return nil
}

func (t *memTx) GetBalance(ctx context.Context, userID string) (model.Balance, error) {
	return t.store.GetBalance(ctx, userID)
}
func (t *memTx) PutBalance(ctx context.Context, bal model.Balance) error {
	return t.store.PutBalance(ctx, bal)
}
func (t *memTx) InsertLedgerEntry(ctx context.Context, entry model.LedgerEntry) error {
	return t.store.InsertLedgerEntry(ctx, entry)
}
func (t *memTx) GetPosition(ctx context.Context, key position.Key) (model.Position, error) {
	return t.store.GetPosition(ctx, key)
}
func (t *memTx) PutPosition(ctx context.Context, pos model.Position) error {
	return t.store.PutPosition(ctx, pos)
}
func (t *memTx) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return t.store.ListPositionsByMarket(ctx, marketID)
}
func (t *memTx) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	return t.store.ListPositionsByUser(ctx, userID)
}
func (t *memTx) CreateMarket(ctx context.Context, m model.Market) error {
	return t.store.CreateMarket(ctx, m)
}
func (t *memTx) GetMarket(ctx context.Context, id string) (model.Market, error) {
	return t.store.GetMarket(ctx, id)
}
func (t *memTx) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return t.store.ListMarkets(ctx)
}
func (t *memTx) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	return t.store.UpdateMarketStatus(ctx, id, status)
}
func (t *memTx) PutMarketResolution(ctx context.Context, res model.MarketResolution) error {
	return t.store.PutMarketResolution(ctx, res)
}
func (t *memTx) CreateOrder(ctx context.Context, o model.Order) error {
	return t.store.CreateOrder(ctx, o)
}
func (t *memTx) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return t.store.GetOrder(ctx, id)
}
func (t *memTx) UpdateOrder(ctx context.Context, o model.Order) error {
	return t.store.UpdateOrder(ctx, o)
}
func (t *memTx) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return t.store.ListOpenOrdersByMarket(ctx, marketID)
}
func (t *memTx) ListOpenOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return t.store.ListOpenOrdersByUser(ctx, userID)
}
func (t *memTx) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return t.store.ListOrdersByUser(ctx, userID)
}
func (t *memTx) InsertTrade(ctx context.Context, tr model.Trade) error {
	return t.store.InsertTrade(ctx, tr)
}
func (t *memTx) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return t.store.ListTradesByMarket(ctx, marketID)
}
