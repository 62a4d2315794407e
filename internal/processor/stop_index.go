package processor

import (
	"sort"

	"github.com/ksred/exchange-core/internal/types"
)

// stopIndex holds resting conditional orders keyed by trigger price, FIFO
// within a price. The buy-side index ranks the lowest trigger first (a buy
// stop fires when the traded price rises to or past it), the sell-side index
// the highest first. An order lives here, in a book level, or nowhere --
// never in two places at once.
type stopIndex struct {
	ascending bool
	prices    []int64 // sorted, most-eligible trigger first
	orders    map[int64][]*types.Order
}

func newStopIndex(ascending bool) *stopIndex {
	return &stopIndex{
		ascending: ascending,
		orders:    make(map[int64][]*types.Order),
	}
}

func (s *stopIndex) empty() bool {
	return len(s.prices) == 0
}

// bestTrigger returns the most eligible trigger price, if any.
func (s *stopIndex) bestTrigger() (int64, bool) {
	if len(s.prices) == 0 {
		return 0, false
	}
	return s.prices[0], true
}

func (s *stopIndex) add(o *types.Order) {
	price := o.StopPrice
	if _, ok := s.orders[price]; !ok {
		i := sort.Search(len(s.prices), func(i int) bool {
			if s.ascending {
				return s.prices[i] >= price
			}
			return s.prices[i] <= price
		})
		s.prices = append(s.prices, 0)
		copy(s.prices[i+1:], s.prices[i:])
		s.prices[i] = price
	}
	s.orders[price] = append(s.orders[price], o)
}

// popBest removes and returns the entire most-eligible price level in
// arrival order.
func (s *stopIndex) popBest() []*types.Order {
	if len(s.prices) == 0 {
		return nil
	}
	price := s.prices[0]
	level := s.orders[price]
	delete(s.orders, price)
	s.prices = s.prices[1:]
	return level
}

// remove drops a single order from its trigger level, for cancellation of a
// not-yet-triggered stop. It returns false if the order is not indexed.
func (s *stopIndex) remove(o *types.Order) bool {
	level, ok := s.orders[o.StopPrice]
	if !ok {
		return false
	}
	for i, candidate := range level {
		if candidate.ID != o.ID {
			continue
		}
		level = append(level[:i], level[i+1:]...)
		if len(level) == 0 {
			delete(s.orders, o.StopPrice)
			for j, price := range s.prices {
				if price == o.StopPrice {
					s.prices = append(s.prices[:j], s.prices[j+1:]...)
					break
				}
			}
		} else {
			s.orders[o.StopPrice] = level
		}
		return true
	}
	return false
}

func (s *stopIndex) size() int {
	n := 0
	for _, level := range s.orders {
		n += len(level)
	}
	return n
}
