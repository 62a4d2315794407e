// Package engine is the stateless routing facade in front of the per-market
// processors: it validates order parameters, assigns globally unique order
// IDs, and enqueues submission and cancellation events on the right
// processor. It never waits for matching to complete.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/exchange-core/internal/market"
	"github.com/ksred/exchange-core/internal/registry"
	"github.com/ksred/exchange-core/internal/types"
)

// ErrUnknownSymbol is returned when no market exists for the requested
// symbol. It is the one routing failure surfaced synchronously.
var ErrUnknownSymbol = errors.New("unknown symbol")

// counterMask keeps the low 48 bits of the per-market sequence; the market
// ID occupies the high 16.
const counterMask = 0x0000FFFFFFFFFFFF

// OrderRequest carries the caller-supplied parameters of a new order.
// Price and StopPrice are in minor currency units and must be zero when the
// order type does not use them.
type OrderRequest struct {
	ClientID    types.ClientID
	Symbol      string
	Quantity    int64
	Side        types.Side
	Type        types.OrderType
	TimeInForce types.TimeInForce
	Price       int64
	StopPrice   int64
}

// Engine routes orders to market processors. Its only state is one atomic
// order-ID counter per market, so submissions to different markets never
// contend.
type Engine struct {
	registry *registry.Registry
	logger   zerolog.Logger

	mu       sync.Mutex
	counters map[types.MarketID]*atomic.Uint64
}

// New creates an engine routing through the given registry.
func New(reg *registry.Registry) *Engine {
	return &Engine{
		registry: reg,
		logger:   log.With().Str("component", "matching_engine").Logger(),
		counters: make(map[types.MarketID]*atomic.Uint64),
	}
}

// SubmitOrder validates the request, assigns an order ID, and enqueues an
// add-order event on the symbol's processor. Validation failures are
// returned synchronously and nothing is enqueued; once the event is queued
// the outcome is observable only through published market events.
func (e *Engine) SubmitOrder(req OrderRequest) (types.OrderID, error) {
	proc, ok := e.registry.GetProcessor(req.Symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, req.Symbol)
	}
	if err := e.validate(req, proc.Market()); err != nil {
		return 0, err
	}

	id := e.nextOrderID(proc.MarketID())
	ev := types.NewAddOrderEvent(id, req.ClientID, req.Symbol, req.Quantity, req.Side,
		req.Price, req.StopPrice, req.Type, req.TimeInForce)
	if err := proc.Submit(ev); err != nil {
		return 0, err
	}

	e.logger.Debug().
		Uint64("order_id", uint64(id)).
		Str("symbol", req.Symbol).
		Str("side", req.Side.String()).
		Str("type", req.Type.String()).
		Int64("quantity", req.Quantity).
		Msg("order submitted")
	return id, nil
}

// CancelOrder enqueues a cancellation for id on the symbol's processor. A
// cancel for an ID the processor has no record of is resolved there as a
// no-op; only an unknown symbol fails here.
func (e *Engine) CancelOrder(symbol string, id types.OrderID) error {
	proc, ok := e.registry.GetProcessor(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return proc.Submit(types.NewCancelOrderEvent(id, symbol))
}

// validate applies the synchronous checks: quantity, the price/stop-price
// combination for the order type, tick conformance, and market state.
func (e *Engine) validate(req OrderRequest, m *market.Market) error {
	if req.Quantity <= 0 {
		return types.ErrInvalidQuantity
	}
	if !m.Active() {
		return market.ErrInactiveMarket
	}

	switch req.Type {
	case types.Limit:
		if req.StopPrice != 0 {
			return types.ErrUnexpectedStop
		}
		if !m.ValidPrice(req.Price) {
			return market.ErrTickViolation
		}
	case types.Market:
		if req.Price != 0 {
			return types.ErrUnexpectedPrice
		}
		if req.StopPrice != 0 {
			return types.ErrUnexpectedStop
		}
	case types.Stop:
		if req.Price != 0 {
			return types.ErrUnexpectedPrice
		}
		if req.StopPrice <= 0 {
			return types.ErrStopPriceRequired
		}
	case types.StopLimit:
		if req.StopPrice <= 0 {
			return types.ErrStopPriceRequired
		}
		if !m.ValidPrice(req.Price) {
			return market.ErrTickViolation
		}
	default:
		return fmt.Errorf("unknown order type %d", req.Type)
	}
	return nil
}

// nextOrderID packs the market ID into the high 16 bits and the market's
// monotonically increasing sequence into the low 48. Uniqueness needs no
// cross-market coordination.
func (e *Engine) nextOrderID(marketID types.MarketID) types.OrderID {
	e.mu.Lock()
	counter, ok := e.counters[marketID]
	if !ok {
		counter = &atomic.Uint64{}
		e.counters[marketID] = counter
	}
	e.mu.Unlock()

	seq := counter.Add(1)
	return types.OrderID(uint64(marketID)<<48 | (seq & counterMask))
}
