// Package market implements a single instrument's matching logic: price-time
// priority matching across two book sides, time-in-force semantics, tick
// validation, and last-traded-price tracking.
package market

import (
	"errors"
	"sync/atomic"

	"github.com/ksred/exchange-core/internal/book"
	"github.com/ksred/exchange-core/internal/types"
)

var (
	ErrInactiveMarket   = errors.New("market is inactive")
	ErrInvalidTickSize  = errors.New("tick size must be positive")
	ErrTickViolation    = errors.New("price is not a positive multiple of the tick size")
	ErrConditionalOrder = errors.New("conditional orders cannot be processed directly")
)

// Market owns the bid and ask books for one symbol and applies orders to
// them. All mutation happens on the owning processor's goroutine; the active
// flag and last traded price are atomic so the submission boundary and
// reporting can read them without coordination. Book contents themselves may
// only be inspected from the processor goroutine or after it has stopped.
type Market struct {
	symbol   string
	tickSize int64
	active   atomic.Bool
	bids     *book.Book
	asks     *book.Book

	lastPrice atomic.Int64
	hasLast   atomic.Bool
	tradeSeq  uint64
}

// New creates an active market for symbol with the given tick size in minor
// currency units.
func New(symbol string, tickSize int64) (*Market, error) {
	if symbol == "" {
		return nil, types.ErrEmptySymbol
	}
	if tickSize <= 0 {
		return nil, ErrInvalidTickSize
	}
	m := &Market{
		symbol:   symbol,
		tickSize: tickSize,
		bids:     book.New(types.Buy),
		asks:     book.New(types.Sell),
	}
	m.active.Store(true)
	return m, nil
}

// Symbol returns the market's instrument symbol.
func (m *Market) Symbol() string { return m.symbol }

// TickSize returns the market's price increment in minor currency units.
func (m *Market) TickSize() int64 { return m.tickSize }

// Active reports whether the market accepts orders.
func (m *Market) Active() bool { return m.active.Load() }

// Activate opens the market for order flow.
func (m *Market) Activate() { m.active.Store(true) }

// Deactivate halts the market; subsequent orders are rejected.
func (m *Market) Deactivate() { m.active.Store(false) }

// ValidPrice reports whether price is a positive multiple of the tick size.
func (m *Market) ValidPrice(price int64) bool {
	return price > 0 && price%m.tickSize == 0
}

// LastPrice returns the last traded price; ok is false until the first trade.
func (m *Market) LastPrice() (price int64, ok bool) {
	if !m.hasLast.Load() {
		return 0, false
	}
	return m.lastPrice.Load(), true
}

// BidPrice returns the best resting bid, if any. Processor goroutine only.
func (m *Market) BidPrice() (int64, bool) { return m.bids.BestPrice() }

// AskPrice returns the best resting ask, if any. Processor goroutine only.
func (m *Market) AskPrice() (int64, bool) { return m.asks.BestPrice() }

// Bids returns the bid book. Processor goroutine only.
func (m *Market) Bids() *book.Book { return m.bids }

// Asks returns the ask book. Processor goroutine only.
func (m *Market) Asks() *book.Book { return m.asks }

// ProcessOrder matches the order against the opposite book and applies the
// resting policy for whatever remains. It returns the trade and fill events
// produced, in match order. Validation failures leave both books untouched.
//
// Conditional orders never reach this method directly; the processor parks
// them in its stop index and resubmits them as Limit or Market orders once
// triggered.
func (m *Market) ProcessOrder(o *types.Order) ([]types.MarketEvent, error) {
	if !m.active.Load() {
		return nil, ErrInactiveMarket
	}
	switch o.Type {
	case types.Limit:
		if !m.ValidPrice(o.Price) {
			return nil, ErrTickViolation
		}
		return m.processLimit(o), nil
	case types.Market:
		if o.Price != 0 {
			return nil, types.ErrUnexpectedPrice
		}
		return m.processMarket(o), nil
	default:
		return nil, ErrConditionalOrder
	}
}

// processLimit runs the FOK pre-check, the matching loop bounded by the
// order's limit price, and the resting policy.
func (m *Market) processLimit(o *types.Order) []types.MarketEvent {
	// FOK is all-or-nothing, decided before any match. Single-threaded
	// processing per market makes the check atomic with the matching below.
	if o.TimeInForce == types.FOK && m.availableQuantity(o) < o.Quantity {
		return nil
	}

	events := m.matchLoop(o, func(levelPrice int64) bool {
		if o.Side == types.Buy {
			return o.Price >= levelPrice
		}
		return o.Price <= levelPrice
	})

	switch {
	case o.Remaining == 0:
		o.Status = types.Filled
		events = append(events, types.NewFilledOrderEvent(o.ID, o.Symbol))
	case o.TimeInForce == types.IOC:
		// Remainder is discarded, never rested. Status reflects whatever
		// portion traded.
		if o.Remaining < o.Quantity {
			o.Status = types.PartiallyFilled
		}
	default:
		if o.Remaining < o.Quantity {
			o.Status = types.PartiallyFilled
		}
		m.sideBook(o.Side).Add(o)
	}
	return events
}

// processMarket matches at every opposite level until filled or the book is
// exhausted. Market orders never rest.
func (m *Market) processMarket(o *types.Order) []types.MarketEvent {
	// FOK is all-or-nothing here too, counted across the whole opposite book.
	if o.TimeInForce == types.FOK && m.availableQuantity(o) < o.Quantity {
		return nil
	}

	events := m.matchLoop(o, func(int64) bool { return true })
	if o.Remaining == 0 {
		o.Status = types.Filled
		events = append(events, types.NewFilledOrderEvent(o.ID, o.Symbol))
	} else if o.Remaining < o.Quantity {
		o.Status = types.PartiallyFilled
	}
	return events
}

// matchLoop consumes the opposite book from the best level outward while the
// aggressor has remaining quantity and eligible reports the level price as
// crossable. Within a level it always takes the head of the FIFO queue, so a
// partially filled head keeps its position and priority.
func (m *Market) matchLoop(o *types.Order, eligible func(levelPrice int64) bool) []types.MarketEvent {
	opposite := m.sideBook(o.Side.Opposite())

	var events []types.MarketEvent
	for o.Remaining > 0 {
		match := opposite.Best()
		if match == nil || !eligible(match.Price) {
			break
		}

		quantity := min(o.Remaining, match.Remaining)
		o.Remaining -= quantity
		match.Remaining -= quantity
		trade := m.recordTrade(o, match, match.Price, quantity)
		events = append(events, types.NewTradeEvent(o.ID, match.ID, m.symbol, trade.Price, trade.Quantity))

		if match.Remaining == 0 {
			match.Status = types.Filled
			opposite.Cancel(match)
			events = append(events, types.NewFilledOrderEvent(match.ID, match.Symbol))
		} else {
			// The head soaked up everything the aggressor had left.
			match.Status = types.PartiallyFilled
			break
		}
	}
	return events
}

// availableQuantity sums the resting quantity the order could trade against:
// every opposite level that crosses its limit, or the whole opposite book
// for market orders. It stops early once the order's quantity is covered.
func (m *Market) availableQuantity(o *types.Order) int64 {
	opposite := m.sideBook(o.Side.Opposite())

	var total int64
	opposite.Walk(func(resting *types.Order) bool {
		if o.Type == types.Limit {
			if o.Side == types.Buy && resting.Price > o.Price {
				return false
			}
			if o.Side == types.Sell && resting.Price < o.Price {
				return false
			}
		}
		total += resting.Remaining
		return total < o.Quantity
	})
	return total
}

// CancelOrder removes a resting order from its side's book. Market-type
// orders never rest, so canceling one is a successful no-op. It returns
// false, without side effects, when the order is not currently resting.
func (m *Market) CancelOrder(o *types.Order) bool {
	if o.Type == types.Market {
		return true
	}
	if !m.sideBook(o.Side).Cancel(o) {
		return false
	}
	o.Status = types.Canceled
	o.Remaining = 0
	return true
}

// recordTrade updates the last traded price and builds the transient Trade
// record for the match step.
func (m *Market) recordTrade(aggressor, resting *types.Order, price, quantity int64) types.Trade {
	m.tradeSeq++
	m.lastPrice.Store(price)
	m.hasLast.Store(true)

	trade := types.Trade{
		ID:       m.tradeSeq,
		Price:    price,
		Quantity: quantity,
	}
	if aggressor.Side == types.Buy {
		trade.BuyOrderID, trade.BuyerID = aggressor.ID, aggressor.ClientID
		trade.SellOrderID, trade.SellerID = resting.ID, resting.ClientID
	} else {
		trade.BuyOrderID, trade.BuyerID = resting.ID, resting.ClientID
		trade.SellOrderID, trade.SellerID = aggressor.ID, aggressor.ClientID
	}
	return trade
}

func (m *Market) sideBook(side types.Side) *book.Book {
	if side == types.Buy {
		return m.bids
	}
	return m.asks
}
