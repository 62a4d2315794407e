// Package processor runs the single-writer actor that owns one market. All
// mutations to a market's books flow through its event queue and are applied
// by one dedicated goroutine, so the matching path needs no locks. Many
// producers may enqueue concurrently; markets run fully in parallel with no
// shared state between them.
package processor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/exchange-core/internal/market"
	"github.com/ksred/exchange-core/internal/metrics"
	"github.com/ksred/exchange-core/internal/types"
	"github.com/ksred/exchange-core/pkg/mpsc"
)

// ErrStopped is returned when an event is submitted to a stopped processor.
var ErrStopped = errors.New("market processor is stopped")

// Publisher receives finished market events. The handoff must not block the
// caller; the concrete publisher runs its own queue and worker.
type Publisher interface {
	Publish(events []types.MarketEvent)
}

// Processor owns one Market, the order table holding every order record it
// has accepted, and the two stop-order indices. Submit enqueues; the worker
// goroutine started by Start is the only code path that touches the market.
type Processor struct {
	market   *market.Market
	marketID types.MarketID

	queue     *mpsc.Queue[types.MarketEvent]
	publisher Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// Worker-goroutine state. Not locked: the worker is the only writer.
	orders    map[types.OrderID]*types.Order
	stopBuys  *stopIndex
	stopSells *stopIndex

	// Latency accounting across submitted orders. Cancels count toward
	// processedCount but contribute no latency samples.
	totalLatencyNs atomic.Int64
	latencySamples atomic.Int64
	processedCount atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New wires a processor around the given market. metricsCol may be nil.
func New(m *market.Market, marketID types.MarketID, pub Publisher, metricsCol *metrics.Metrics) *Processor {
	return &Processor{
		market:    m,
		marketID:  marketID,
		queue:     mpsc.New[types.MarketEvent](),
		publisher: pub,
		metrics:   metricsCol,
		logger: log.With().
			Str("component", "market_processor").
			Str("symbol", m.Symbol()).
			Logger(),
		orders:    make(map[types.OrderID]*types.Order),
		stopBuys:  newStopIndex(true),
		stopSells: newStopIndex(false),
		done:      make(chan struct{}),
	}
}

// Market returns the owned market. Book-level accessors on it are only safe
// from the worker goroutine or after Stop has returned.
func (p *Processor) Market() *market.Market { return p.market }

// MarketID returns the small integer packed into this market's order IDs.
func (p *Processor) MarketID() types.MarketID { return p.marketID }

// Start spawns the worker goroutine. It is idempotent.
func (p *Processor) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop closes the queue, lets the worker drain what is already enqueued, and
// joins it. After Stop returns no goroutine observes the market again, so
// the owner may tear it down.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.queue.Close()
		<-p.done
	})
}

// Submit enqueues an event for the worker. It never blocks on processing;
// ordering across concurrent producers is queue arrival order.
func (p *Processor) Submit(ev types.MarketEvent) error {
	if !p.queue.Push(ev) {
		return ErrStopped
	}
	return nil
}

// QueueLen returns the number of events waiting to be applied.
func (p *Processor) QueueLen() int {
	return p.queue.Len()
}

// AverageLatency returns the mean wall-clock time from order submission to
// completed processing, across the orders the worker has applied.
func (p *Processor) AverageLatency() time.Duration {
	count := p.latencySamples.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(p.totalLatencyNs.Load() / count)
}

// ProcessedCount returns how many events the worker has handled.
func (p *Processor) ProcessedCount() int64 {
	return p.processedCount.Load()
}

func (p *Processor) run() {
	defer close(p.done)
	p.logger.Info().Msg("market processor started")

	for {
		ev, ok := p.queue.Pop()
		if !ok {
			p.logger.Info().Msg("market processor stopped")
			return
		}
		p.handleEventSafely(ev)
	}
}

// handleEventSafely isolates the worker loop from faults in a single event:
// an internal invariant violation is logged and the loop moves on rather
// than killing the market.
func (p *Processor) handleEventSafely(ev types.MarketEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Uint64("order_id", uint64(ev.OrderID)).
				Str("event_type", ev.Type.String()).
				Msg("recovered from fault while processing event")
		}
	}()
	p.handleEvent(ev)
}

func (p *Processor) handleEvent(ev types.MarketEvent) {
	switch ev.Type {
	case types.EventAddOrder:
		p.handleAdd(ev)
		latency := time.Since(ev.Timestamp)
		p.totalLatencyNs.Add(latency.Nanoseconds())
		p.latencySamples.Add(1)
		p.metrics.ObserveLatency(p.market.Symbol(), latency.Seconds())
	case types.EventCancelOrder:
		p.handleCancel(ev)
	default:
		p.logger.Warn().Str("event_type", ev.Type.String()).Msg("ignoring unexpected event type")
		return
	}

	p.processedCount.Add(1)
}

// handleAdd constructs the order record from the event and either parks it
// in a stop index (conditional types) or hands it to the market. A change in
// the last traded price afterwards re-evaluates the stop indices.
func (p *Processor) handleAdd(ev types.MarketEvent) {
	order, err := p.buildOrder(ev)
	if err != nil {
		p.logger.Error().Err(err).Uint64("order_id", uint64(ev.OrderID)).Msg("rejecting malformed add order event")
		p.metrics.OrderRejected(p.market.Symbol())
		return
	}
	p.orders[order.ID] = order

	if order.Type.Conditional() {
		if order.Side == types.Buy {
			p.stopBuys.add(order)
		} else {
			p.stopSells.add(order)
		}
		p.logger.Debug().
			Uint64("order_id", uint64(order.ID)).
			Int64("stop_price", order.StopPrice).
			Msg("parked conditional order")
		p.publish([]types.MarketEvent{ev})
		return
	}

	previousLast, _ := p.market.LastPrice()
	events, err := p.market.ProcessOrder(order)
	if err != nil {
		p.logger.Error().Err(err).Uint64("order_id", uint64(order.ID)).Msg("market rejected order")
		p.metrics.OrderRejected(p.market.Symbol())
		delete(p.orders, order.ID)
		return
	}
	p.metrics.OrderProcessed(p.market.Symbol())
	p.countTrades(events)

	p.publish(append([]types.MarketEvent{ev}, events...))

	if last, ok := p.market.LastPrice(); ok && last != previousLast {
		p.checkStopOrders()
	}
}

// handleCancel resolves the order locally and asks the market to remove it.
// Unknown IDs are dropped silently: the submission API is fire-and-forget
// past the queue boundary, and a cancel racing an in-flight add is an
// accepted outcome.
func (p *Processor) handleCancel(ev types.MarketEvent) {
	order, ok := p.orders[ev.OrderID]
	if !ok {
		p.logger.Debug().Uint64("order_id", uint64(ev.OrderID)).Msg("cancel for unknown order dropped")
		return
	}

	if order.Type.Conditional() && order.Status == types.New {
		// Still waiting on its trigger; pull it from the stop index.
		index := p.stopSells
		if order.Side == types.Buy {
			index = p.stopBuys
		}
		if index.remove(order) {
			order.Status = types.Canceled
			order.Remaining = 0
			p.publish([]types.MarketEvent{types.NewCancelOrderEvent(order.ID, order.Symbol)})
		}
		return
	}

	if p.market.CancelOrder(order) {
		p.publish([]types.MarketEvent{types.NewCancelOrderEvent(order.ID, order.Symbol)})
	} else {
		p.logger.Debug().
			Uint64("order_id", uint64(order.ID)).
			Str("status", order.Status.String()).
			Msg("cancel ignored, order not resting")
	}
}

// checkStopOrders re-evaluates both stop indices against the last traded
// price. Each triggered level converts and resubmits its orders, which can
// move the price again, so the outer loop runs until neither index has an
// eligible level. This is what lets one stop fill cascade into another.
func (p *Processor) checkStopOrders() {
	for {
		triggered := false

		for {
			last, ok := p.market.LastPrice()
			if !ok {
				return
			}
			trigger, present := p.stopBuys.bestTrigger()
			if !present || last < trigger {
				break
			}
			p.fireStopLevel(p.stopBuys.popBest())
			triggered = true
		}

		for {
			last, ok := p.market.LastPrice()
			if !ok {
				return
			}
			trigger, present := p.stopSells.bestTrigger()
			if !present || last > trigger {
				break
			}
			p.fireStopLevel(p.stopSells.popBest())
			triggered = true
		}

		if !triggered {
			return
		}
	}
}

// fireStopLevel converts every order at a popped trigger level (Stop becomes
// Market, StopLimit becomes Limit) and resubmits it to the market.
func (p *Processor) fireStopLevel(level []*types.Order) {
	for _, order := range level {
		converted := types.Market
		if order.Type == types.StopLimit {
			converted = types.Limit
		}
		p.publish([]types.MarketEvent{types.NewStopTriggeredEvent(order, converted)})
		order.Type = converted

		p.logger.Debug().
			Uint64("order_id", uint64(order.ID)).
			Int64("stop_price", order.StopPrice).
			Str("converted_to", converted.String()).
			Msg("stop order triggered")

		events, err := p.market.ProcessOrder(order)
		if err != nil {
			p.logger.Error().Err(err).Uint64("order_id", uint64(order.ID)).Msg("triggered stop order rejected")
			p.metrics.OrderRejected(p.market.Symbol())
			continue
		}
		p.metrics.OrderProcessed(p.market.Symbol())
		p.countTrades(events)
		p.publish(events)
	}
}

// buildOrder dispatches on the embedded order type to the matching
// constructor.
func (p *Processor) buildOrder(ev types.MarketEvent) (*types.Order, error) {
	switch ev.OrderType {
	case types.Limit:
		return types.NewLimitOrder(ev.OrderID, ev.ClientID, ev.Symbol, ev.Quantity, ev.Price, ev.Side, ev.TimeInForce)
	case types.Market:
		return types.NewMarketOrder(ev.OrderID, ev.ClientID, ev.Symbol, ev.Quantity, ev.Side, ev.TimeInForce)
	case types.Stop:
		return types.NewStopOrder(ev.OrderID, ev.ClientID, ev.Symbol, ev.Quantity, ev.StopPrice, ev.Side, ev.TimeInForce)
	case types.StopLimit:
		return types.NewStopLimitOrder(ev.OrderID, ev.ClientID, ev.Symbol, ev.Quantity, ev.Price, ev.StopPrice, ev.Side, ev.TimeInForce)
	default:
		return nil, errors.New("unknown order type in add order event")
	}
}

// Order returns the processor's record for id. Worker goroutine only, or
// after Stop.
func (p *Processor) Order(id types.OrderID) (*types.Order, bool) {
	o, ok := p.orders[id]
	return o, ok
}

// PendingStops returns how many conditional orders wait in the stop
// indices. Worker goroutine only, or after Stop.
func (p *Processor) PendingStops() int {
	return p.stopBuys.size() + p.stopSells.size()
}

func (p *Processor) publish(events []types.MarketEvent) {
	if p.publisher == nil || len(events) == 0 {
		return
	}
	p.publisher.Publish(events)
}

func (p *Processor) countTrades(events []types.MarketEvent) {
	n := 0
	for _, ev := range events {
		if ev.Type == types.EventTrade {
			n++
		}
	}
	p.metrics.TradesExecuted(p.market.Symbol(), n)
}
