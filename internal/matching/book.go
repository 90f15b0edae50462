// Package matching implements a per (market, outcome) limit order book
// with strict price-time priority. The book is an in-memory structure
// confined behind the trading coordinator's per-market lock: it never
// performs I/O and never suspends.
package matching

import (
	"container/list"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/money"
)

// entry is one resting order at a price level, wrapped for O(1) removal
// from its list.List.
type entry struct {
	order model.Order
}

// level is one price level: a FIFO queue of resting orders in arrival
// order, giving time priority within the price.
type level struct {
	price decimal.Decimal
	queue *list.List // of *entry
}

// side holds one direction (bids or asks) as price levels kept sorted
// by the side's priority order: bids descending by price, asks
// ascending by price.
type side struct {
	isBid  bool
	levels []*level
}

// find returns the index of the level at price, and whether it exists.
func (s *side) find(price decimal.Decimal) (int, bool) {
	n := len(s.levels)
	if s.isBid {
		// descending: first index whose price <= target
		idx := sort.Search(n, func(i int) bool { return s.levels[i].price.LessThanOrEqual(price) })
		if idx < n && s.levels[idx].price.Equal(price) {
			return idx, true
		}
		return idx, false
	}
	// ascending: first index whose price >= target
	idx := sort.Search(n, func(i int) bool { return s.levels[i].price.GreaterThanOrEqual(price) })
	if idx < n && s.levels[idx].price.Equal(price) {
		return idx, true
	}
	return idx, false
}

// insert pushes order onto the back of its price level's queue,
// creating the level if necessary, keeping levels sorted.
func (s *side) insert(o model.Order) *list.Element {
	idx, ok := s.find(o.Price)
	var lvl *level
	if ok {
		lvl = s.levels[idx]
	} else {
		lvl = &level{price: o.Price, queue: list.New()}
		s.levels = append(s.levels, nil)
		copy(s.levels[idx+1:], s.levels[idx:])
		s.levels[idx] = lvl
	}
	return lvl.queue.PushBack(&entry{order: o})
}

// best returns the head order of the best-priority level, or false if
// the side is empty.
func (s *side) best() (model.Order, bool) {
	if len(s.levels) == 0 {
		return model.Order{}, false
	}
	lvl := s.levels[0]
	return lvl.queue.Front().Value.(*entry).order, true
}

// popBest removes and returns the head order of the best-priority
// level, dropping the level if it becomes empty.
func (s *side) popBest() (model.Order, bool) {
	if len(s.levels) == 0 {
		return model.Order{}, false
	}
	lvl := s.levels[0]
	elem := lvl.queue.Front()
	o := elem.Value.(*entry).order
	lvl.queue.Remove(elem)
	if lvl.queue.Len() == 0 {
		s.levels = s.levels[1:]
	}
	return o, true
}

// updateHead overwrites the order at the head of the best-priority
// level in place (used after a partial match shrinks remaining).
func (s *side) updateHead(o model.Order) {
	lvl := s.levels[0]
	lvl.queue.Front().Value.(*entry).order = o
}

// removeByID scans every level for an order with id, removing and
// returning it. Linear in book depth; cancellation is not the hot path.
func (s *side) removeByID(id string) (model.Order, bool) {
	for li, lvl := range s.levels {
		for e := lvl.queue.Front(); e != nil; e = e.Next() {
			if e.Value.(*entry).order.ID == id {
				o := e.Value.(*entry).order
				lvl.queue.Remove(e)
				if lvl.queue.Len() == 0 {
					s.levels = append(s.levels[:li], s.levels[li+1:]...)
				}
				return o, true
			}
		}
	}
	return model.Order{}, false
}

// snapshot aggregates the side into price levels with summed remaining
// quantity and order counts.
func (s *side) snapshot() []model.Level {
	out := make([]model.Level, 0, len(s.levels))
	for _, lvl := range s.levels {
		sum := decimal.Zero
		count := 0
		for e := lvl.queue.Front(); e != nil; e = e.Next() {
			sum = sum.Add(e.Value.(*entry).order.Remaining)
			count++
		}
		out = append(out, model.Level{Price: lvl.price, Quantity: sum, Orders: count})
	}
	return out
}

// drain removes and returns every resting order on the side, in
// price-time priority order.
func (s *side) drain() []model.Order {
	var out []model.Order
	for _, lvl := range s.levels {
		for e := lvl.queue.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(*entry).order)
		}
	}
	s.levels = nil
	return out
}

// Book is one (market, outcome) order book.
type Book struct {
	bids *side
	asks *side
}

// New creates an empty book.
func New() *Book {
	return &Book{
		bids: &side{isBid: true},
		asks: &side{isBid: false},
	}
}

// AddResult is the outcome of AddOrder: the matches produced and the
// taker's final state if anything remains to rest on the book.
type AddResult struct {
	Matches  []model.Match
	Residual *model.Order
}

// AddOrder matches o as a taker against the opposite side while
// crossable, then rests any remaining quantity on o's own side.
// o.Remaining must be > 0 on entry.
func (b *Book) AddOrder(o model.Order) AddResult {
	var opposite, own *side
	if o.Side == model.Buy {
		opposite, own = b.asks, b.bids
	} else {
		opposite, own = b.bids, b.asks
	}

	var matches []model.Match
	for o.Remaining.IsPositive() {
		maker, ok := opposite.best()
		if !ok {
			break
		}
		if !crosses(o.Side, o.Price, maker.Price) {
			break
		}

		qty := minDecimal(o.Remaining, maker.Remaining)
		maker.Remaining = maker.Remaining.Sub(qty)
		o.Remaining = o.Remaining.Sub(qty)

		m := model.Match{
			MakerOrderID: maker.ID,
			TakerOrderID: o.ID,
			MakerUserID:  maker.UserID,
			TakerUserID:  o.UserID,
			MarketID:     o.MarketID,
			Outcome:      o.Outcome,
			Price:        maker.Price,
			Quantity:     qty,
			MakerSide:    maker.Side,
		}
		matches = append(matches, m)

		if maker.Remaining.IsZero() {
			maker.Status = model.OrderFilled
			opposite.popBest()
		} else {
			maker.Status = model.OrderPartial
			opposite.updateHead(maker)
		}
	}

	if o.Remaining.IsZero() {
		o.Status = model.OrderFilled
		return AddResult{Matches: matches, Residual: nil}
	}

	if len(matches) > 0 {
		o.Status = model.OrderPartial
	} else {
		o.Status = model.OrderOpen
	}
	own.insert(o)
	residual := o
	return AddResult{Matches: matches, Residual: &residual}
}

// crosses reports whether a taker of side with price p crosses against
// a resting maker priced makerPrice.
func crosses(takerSide model.Side, p, makerPrice decimal.Decimal) bool {
	if takerSide == model.Buy {
		return makerPrice.LessThanOrEqual(p)
	}
	return makerPrice.GreaterThanOrEqual(p)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Restore inserts o directly onto its side without matching it against
// the opposite side. Used by startup recovery to rebuild a book from
// persisted OPEN/PARTIAL orders, and by the coordinator to rewind a
// book mutation when a later persistence step in the same event fails.
func (b *Book) Restore(o model.Order) {
	if o.Side == model.Buy {
		b.bids.insert(o)
		return
	}
	b.asks.insert(o)
}

// Cancel removes the order identified by id from whichever side holds
// it, returning it and true, or false if not found.
func (b *Book) Cancel(id string) (model.Order, bool) {
	if o, ok := b.bids.removeByID(id); ok {
		return o, true
	}
	return b.asks.removeByID(id)
}

// Snapshot returns an aggregated, price-leveled view of both sides.
func (b *Book) Snapshot() model.BookSnapshot {
	return model.BookSnapshot{Bids: b.bids.snapshot(), Asks: b.asks.snapshot()}
}

// BestBid returns the best resting bid price, or false if the bid side
// is empty.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	o, ok := b.bids.best()
	if !ok {
		return decimal.Decimal{}, false
	}
	return o.Price, true
}

// BestAsk returns the best resting ask price, or false if the ask side
// is empty.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	o, ok := b.asks.best()
	if !ok {
		return decimal.Decimal{}, false
	}
	return o.Price, true
}

// Midpoint returns (bestBid+bestAsk)/2 when both sides are non-empty;
// otherwise whichever side has a best price; otherwise false.
func (b *Book) Midpoint() (decimal.Decimal, bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	switch {
	case hasBid && hasAsk:
		return money.Half(bid.Add(ask)), true
	case hasBid:
		return bid, true
	case hasAsk:
		return ask, true
	default:
		return decimal.Decimal{}, false
	}
}

// ClearAll drains both sides and returns every resting order, bids
// first then asks, each in price-time priority order.
func (b *Book) ClearAll() []model.Order {
	out := b.bids.drain()
	out = append(out, b.asks.drain()...)
	return out
}
