// Package book implements one side of a market's order book: a price-indexed
// collection of FIFO levels with best-to-worst traversal and O(1) cancel.
package book

import (
	"container/list"
	"sort"

	"github.com/ksred/exchange-core/internal/types"
)

// level is a single price level. Orders are kept in arrival order; matching
// always consumes from the front, which is what enforces time priority.
type level struct {
	price  int64
	orders *list.List // of *types.Order
}

// Book is one side of an order book. The bid side ranks highest price best,
// the ask side lowest. Resting orders are additionally indexed by ID so a
// cancel never walks a level; the index entry is the owned replacement for
// the raw list-position pointer the matching loop would otherwise need.
//
// A Book is not safe for concurrent use. The owning market processor is the
// only writer by construction.
type Book struct {
	side   types.Side
	levels map[int64]*level
	prices []int64 // sorted best-first for this side
	index  map[types.OrderID]*list.Element
}

// New returns an empty book for the given side.
func New(side types.Side) *Book {
	return &Book{
		side:   side,
		levels: make(map[int64]*level),
		index:  make(map[types.OrderID]*list.Element),
	}
}

// Side returns which side of the market this book holds.
func (b *Book) Side() types.Side {
	return b.side
}

// Add rests an order at the tail of its price level, creating the level if
// needed. The caller guarantees the order's price is set and tick-valid.
func (b *Book) Add(o *types.Order) {
	lvl, ok := b.levels[o.Price]
	if !ok {
		lvl = &level{price: o.Price, orders: list.New()}
		b.levels[o.Price] = lvl
		b.insertPrice(o.Price)
	}
	b.index[o.ID] = lvl.orders.PushBack(o)
}

// Cancel removes a resting order. It returns false if the order is not in
// this book (already filled, already canceled, or never rested), with no
// side effects in that case. Empty levels are removed immediately so a level
// exists iff it holds at least one order.
func (b *Book) Cancel(o *types.Order) bool {
	elem, ok := b.index[o.ID]
	if !ok {
		return false
	}
	lvl, ok := b.levels[o.Price]
	if !ok {
		return false
	}
	lvl.orders.Remove(elem)
	delete(b.index, o.ID)
	if lvl.orders.Len() == 0 {
		delete(b.levels, o.Price)
		b.removePrice(o.Price)
	}
	return true
}

// Best returns the order at the front of the best price level, or nil when
// the book is empty.
func (b *Book) Best() *types.Order {
	if len(b.prices) == 0 {
		return nil
	}
	lvl := b.levels[b.prices[0]]
	return lvl.orders.Front().Value.(*types.Order)
}

// BestPrice returns the best price on this side, if any.
func (b *Book) BestPrice() (int64, bool) {
	if len(b.prices) == 0 {
		return 0, false
	}
	return b.prices[0], true
}

// Contains reports whether the order currently rests in this book.
func (b *Book) Contains(id types.OrderID) bool {
	_, ok := b.index[id]
	return ok
}

// Len returns the number of resting orders across all levels.
func (b *Book) Len() int {
	return len(b.index)
}

// Empty reports whether the book holds no orders.
func (b *Book) Empty() bool {
	return len(b.index) == 0
}

// Walk visits every resting order from best price to worst, FIFO within a
// level, until fn returns false. fn must not mutate the book.
func (b *Book) Walk(fn func(o *types.Order) bool) {
	for _, price := range b.prices {
		for elem := b.levels[price].orders.Front(); elem != nil; elem = elem.Next() {
			if !fn(elem.Value.(*types.Order)) {
				return
			}
		}
	}
}

// better reports whether price a ranks ahead of b on this side.
func (b *Book) better(a, c int64) bool {
	if b.side == types.Buy {
		return a > c
	}
	return a < c
}

func (b *Book) insertPrice(price int64) {
	i := sort.Search(len(b.prices), func(i int) bool {
		return !b.better(b.prices[i], price)
	})
	b.prices = append(b.prices, 0)
	copy(b.prices[i+1:], b.prices[i:])
	b.prices[i] = price
}

func (b *Book) removePrice(price int64) {
	i := sort.Search(len(b.prices), func(i int) bool {
		return !b.better(b.prices[i], price)
	})
	if i < len(b.prices) && b.prices[i] == price {
		b.prices = append(b.prices[:i], b.prices[i+1:]...)
	}
}
