package processor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/exchange-core/internal/market"
	"github.com/ksred/exchange-core/internal/types"
)

// capturePublisher flattens every published batch into one slice, preserving
// publish order.
type capturePublisher struct {
	mu     sync.Mutex
	events []types.MarketEvent
}

func (c *capturePublisher) Publish(events []types.MarketEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *capturePublisher) typeSequence() []types.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := make([]types.EventType, len(c.events))
	for i, ev := range c.events {
		seq[i] = ev.Type
	}
	return seq
}

func (c *capturePublisher) count(tp types.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == tp {
			n++
		}
	}
	return n
}

func (c *capturePublisher) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func newTestProcessor(t *testing.T) (*Processor, *capturePublisher) {
	t.Helper()
	m, err := market.New("AAPL", 1)
	require.NoError(t, err)
	pub := &capturePublisher{}
	return New(m, 1, pub, nil), pub
}

func submitLimit(p *Processor, id types.OrderID, quantity, price int64, side types.Side, tif types.TimeInForce) {
	p.handleEvent(types.NewAddOrderEvent(id, 1, "AAPL", quantity, side, price, 0, types.Limit, tif))
}

func submitStop(p *Processor, id types.OrderID, quantity, stopPrice int64, side types.Side) {
	p.handleEvent(types.NewAddOrderEvent(id, 1, "AAPL", quantity, side, 0, stopPrice, types.Stop, types.GTC))
}

func submitStopLimit(p *Processor, id types.OrderID, quantity, price, stopPrice int64, side types.Side) {
	p.handleEvent(types.NewAddOrderEvent(id, 1, "AAPL", quantity, side, price, stopPrice, types.StopLimit, types.GTC))
}

// establishLast prints a trade at the given price so the market has a last
// traded price. Consumes two order IDs.
func establishLast(t *testing.T, p *Processor, price int64, sellID, buyID types.OrderID) {
	t.Helper()
	submitLimit(p, sellID, 5, price, types.Sell, types.GTC)
	submitLimit(p, buyID, 5, price, types.Buy, types.GTC)
	last, ok := p.Market().LastPrice()
	require.True(t, ok)
	require.Equal(t, price, last)
}

func TestStopBuyParksThenTriggersOnTrade(t *testing.T) {
	p, pub := newTestProcessor(t)

	// Resting liquidity, then a stop buy above the (not yet set) last price.
	submitLimit(p, 1, 20, 105, types.Sell, types.GTC)
	submitStop(p, 2, 10, 105, types.Buy)

	assert.Equal(t, 1, p.PendingStops())
	assert.Equal(t, 1, p.Market().Asks().Len(), "parked stop must not touch the book")

	// A trade at the trigger price fires it.
	submitLimit(p, 3, 5, 105, types.Buy, types.GTC)

	assert.Equal(t, 0, p.PendingStops())
	stop, ok := p.Order(2)
	require.True(t, ok)
	assert.Equal(t, types.Filled, stop.Status)
	assert.Equal(t, int64(0), stop.Remaining)
	assert.Equal(t, types.Market, stop.Type, "stop converts to market on trigger")

	assert.Equal(t, []types.EventType{
		types.EventAddOrder,      // order 1
		types.EventAddOrder,      // order 2, echoed when parked
		types.EventAddOrder,      // order 3
		types.EventTrade,         // 3 x 1 at 105
		types.EventFilledOrder,   // order 3
		types.EventStopTriggered, // order 2 fires
		types.EventTrade,         // 2 x 1 at 105
		types.EventFilledOrder,   // order 2
	}, pub.typeSequence())
}

func TestBuyStopTriggerBoundary(t *testing.T) {
	p, pub := newTestProcessor(t)
	establishLast(t, p, 104, 1, 2)

	submitStop(p, 3, 5, 105, types.Buy)
	require.Equal(t, 1, p.PendingStops())

	// One tick below the trigger: no fire, even though the price moved.
	establishLast(t, p, 103, 4, 5)
	assert.Equal(t, 1, p.PendingStops())
	assert.Equal(t, 0, pub.count(types.EventStopTriggered))

	// Exactly at the trigger: fires.
	submitLimit(p, 6, 10, 105, types.Sell, types.GTC)
	submitLimit(p, 7, 5, 105, types.Buy, types.GTC)
	assert.Equal(t, 0, p.PendingStops())
	assert.Equal(t, 1, pub.count(types.EventStopTriggered))

	stop, ok := p.Order(3)
	require.True(t, ok)
	assert.Equal(t, types.Filled, stop.Status)
}

func TestSellStopTriggerBoundary(t *testing.T) {
	p, pub := newTestProcessor(t)
	establishLast(t, p, 96, 1, 2)

	submitStop(p, 3, 5, 95, types.Sell)
	require.Equal(t, 1, p.PendingStops())

	// One tick above the trigger: no fire.
	establishLast(t, p, 97, 4, 5)
	assert.Equal(t, 1, p.PendingStops())
	assert.Equal(t, 0, pub.count(types.EventStopTriggered))

	// Exactly at the trigger: fires and consumes the resting bid.
	submitLimit(p, 6, 10, 95, types.Buy, types.GTC)
	submitLimit(p, 7, 5, 95, types.Sell, types.GTC)
	assert.Equal(t, 0, p.PendingStops())
	assert.Equal(t, 1, pub.count(types.EventStopTriggered))

	stop, ok := p.Order(3)
	require.True(t, ok)
	assert.Equal(t, types.Filled, stop.Status)
}

func TestStopCascade(t *testing.T) {
	p, pub := newTestProcessor(t)

	submitLimit(p, 1, 10, 105, types.Sell, types.GTC)
	submitLimit(p, 2, 10, 110, types.Sell, types.GTC)
	establishLast(t, p, 100, 3, 4)

	submitStop(p, 5, 10, 105, types.Buy)
	submitStop(p, 6, 10, 110, types.Buy)
	require.Equal(t, 2, p.PendingStops())
	pub.reset()

	// One aggressive buy lifts the 105 offer, which fires the first stop,
	// whose fill at 110 fires the second.
	submitLimit(p, 7, 10, 105, types.Buy, types.GTC)

	assert.Equal(t, 0, p.PendingStops())
	assert.Equal(t, 2, pub.count(types.EventStopTriggered))

	first, ok := p.Order(5)
	require.True(t, ok)
	assert.Equal(t, types.Filled, first.Status)

	last, ok := p.Market().LastPrice()
	require.True(t, ok)
	assert.Equal(t, int64(110), last)
	assert.True(t, p.Market().Asks().Empty())
}

func TestStopLimitConvertsToLimitAndRests(t *testing.T) {
	p, _ := newTestProcessor(t)
	establishLast(t, p, 104, 1, 2)

	submitStopLimit(p, 3, 10, 106, 105, types.Buy)
	require.Equal(t, 1, p.PendingStops())

	submitLimit(p, 4, 10, 105, types.Sell, types.GTC)
	submitLimit(p, 5, 5, 105, types.Buy, types.GTC)

	assert.Equal(t, 0, p.PendingStops())
	stop, ok := p.Order(3)
	require.True(t, ok)
	assert.Equal(t, types.Limit, stop.Type)
	assert.Equal(t, types.PartiallyFilled, stop.Status)
	assert.Equal(t, int64(5), stop.Remaining, "takes the 5 left at 105, rests the rest")

	bid, ok := p.Market().BidPrice()
	require.True(t, ok)
	assert.Equal(t, int64(106), bid)
}

func TestCancelUnknownOrderIsSilentNoOp(t *testing.T) {
	p, pub := newTestProcessor(t)

	p.handleEvent(types.NewCancelOrderEvent(999, "AAPL"))

	assert.Empty(t, pub.typeSequence())
	assert.Equal(t, int64(1), p.ProcessedCount(), "the event still counts as processed")
}

func TestCancelPendingStopRemovesFromIndex(t *testing.T) {
	p, pub := newTestProcessor(t)

	submitStop(p, 1, 10, 105, types.Buy)
	require.Equal(t, 1, p.PendingStops())
	pub.reset()

	p.handleEvent(types.NewCancelOrderEvent(1, "AAPL"))

	assert.Equal(t, 0, p.PendingStops())
	order, ok := p.Order(1)
	require.True(t, ok)
	assert.Equal(t, types.Canceled, order.Status)
	assert.Equal(t, int64(0), order.Remaining)
	assert.Equal(t, 1, pub.count(types.EventCancelOrder))

	// A later trade through the old trigger must not resurrect it.
	submitLimit(p, 2, 5, 106, types.Sell, types.GTC)
	submitLimit(p, 3, 5, 106, types.Buy, types.GTC)
	assert.Equal(t, 0, pub.count(types.EventStopTriggered))
}

func TestCancelRestingOrder(t *testing.T) {
	p, pub := newTestProcessor(t)

	submitLimit(p, 1, 10, 105, types.Sell, types.GTC)
	p.handleEvent(types.NewCancelOrderEvent(1, "AAPL"))

	order, ok := p.Order(1)
	require.True(t, ok)
	assert.Equal(t, types.Canceled, order.Status)
	assert.True(t, p.Market().Asks().Empty())
	assert.Equal(t, 1, pub.count(types.EventCancelOrder))

	// Cancelling again finds nothing resting and emits nothing.
	p.handleEvent(types.NewCancelOrderEvent(1, "AAPL"))
	assert.Equal(t, 1, pub.count(types.EventCancelOrder))
}

func TestMalformedAddOrderDropped(t *testing.T) {
	p, pub := newTestProcessor(t)

	p.handleEvent(types.NewAddOrderEvent(1, 1, "AAPL", 0, types.Buy, 100, 0, types.Limit, types.GTC))

	_, ok := p.Order(1)
	assert.False(t, ok)
	assert.Empty(t, pub.typeSequence())
}

func TestLatencyAccounting(t *testing.T) {
	p, _ := newTestProcessor(t)

	submitLimit(p, 1, 10, 100, types.Sell, types.GTC)
	submitLimit(p, 2, 10, 100, types.Buy, types.GTC)

	assert.Equal(t, int64(2), p.ProcessedCount())
	assert.Greater(t, p.AverageLatency(), time.Duration(0))
}

func TestLatencyExcludesCancels(t *testing.T) {
	p, _ := newTestProcessor(t)

	// A cancel counts as a processed event but is not an order latency sample.
	p.handleEvent(types.NewCancelOrderEvent(1, "AAPL"))
	assert.Equal(t, int64(1), p.ProcessedCount())
	assert.Equal(t, time.Duration(0), p.AverageLatency())

	submitLimit(p, 2, 10, 100, types.Sell, types.GTC)
	before := p.AverageLatency()
	assert.Greater(t, before, time.Duration(0))

	// A stale cancel timestamp must not drag the average around.
	ev := types.NewCancelOrderEvent(3, "AAPL")
	ev.Timestamp = ev.Timestamp.Add(-time.Hour)
	p.handleEvent(ev)
	assert.Equal(t, before, p.AverageLatency())
}

func TestStartSubmitStopLifecycle(t *testing.T) {
	p, pub := newTestProcessor(t)
	p.Start()

	require.NoError(t, p.Submit(types.NewAddOrderEvent(1, 1, "AAPL", 10, types.Sell, 100, 0, types.Limit, types.GTC)))
	require.NoError(t, p.Submit(types.NewAddOrderEvent(2, 2, "AAPL", 10, types.Buy, 100, 0, types.Limit, types.GTC)))

	// Stop drains the queue before returning, so worker state is safe to read.
	p.Stop()

	assert.Equal(t, int64(2), p.ProcessedCount())
	buyer, ok := p.Order(2)
	require.True(t, ok)
	assert.Equal(t, types.Filled, buyer.Status)
	assert.Equal(t, 1, pub.count(types.EventTrade))

	assert.ErrorIs(t, p.Submit(types.NewCancelOrderEvent(1, "AAPL")), ErrStopped)
}
