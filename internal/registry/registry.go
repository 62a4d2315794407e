// Package registry manages the lifecycle of market processors and resolves
// symbols to them.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/exchange-core/internal/market"
	"github.com/ksred/exchange-core/internal/metrics"
	"github.com/ksred/exchange-core/internal/processor"
	"github.com/ksred/exchange-core/internal/types"
)

// ErrMarketExists is returned when creating a market whose symbol is taken.
var ErrMarketExists = errors.New("market already exists")

// Registry maps symbols to running market processors. Each created market
// gets the next small integer ID, which ends up in the high bits of every
// order ID the engine assigns for it.
type Registry struct {
	publisher processor.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu         sync.RWMutex
	processors map[string]*processor.Processor
	nextID     types.MarketID
}

// New creates an empty registry. Every processor it creates shares pub and
// metricsCol; both may be nil.
func New(pub processor.Publisher, metricsCol *metrics.Metrics) *Registry {
	return &Registry{
		publisher:  pub,
		metrics:    metricsCol,
		logger:     log.With().Str("component", "market_registry").Logger(),
		processors: make(map[string]*processor.Processor),
	}
}

// CreateMarket creates a market with the given tick size, assigns it a
// market ID, and starts its processor worker.
func (r *Registry) CreateMarket(symbol string, tickSize int64) (*processor.Processor, error) {
	m, err := market.New(symbol, tickSize)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[symbol]; exists {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, symbol)
	}
	r.nextID++
	proc := processor.New(m, r.nextID, r.publisher, r.metrics)
	r.processors[symbol] = proc
	proc.Start()

	r.logger.Info().
		Str("symbol", symbol).
		Int64("tick_size", tickSize).
		Uint16("market_id", uint16(proc.MarketID())).
		Msg("market created")
	return proc, nil
}

// GetProcessor resolves a symbol to its processor.
func (r *Registry) GetProcessor(symbol string) (*processor.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, ok := r.processors[symbol]
	return proc, ok
}

// RemoveMarket stops the symbol's processor worker and removes the market.
// The worker is joined before the entry is dropped so nothing observes a
// torn-down market.
func (r *Registry) RemoveMarket(symbol string) bool {
	r.mu.Lock()
	proc, ok := r.processors[symbol]
	if ok {
		delete(r.processors, symbol)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	proc.Stop()
	r.logger.Info().Str("symbol", symbol).Msg("market removed")
	return true
}

// Close stops every processor, draining their queues first.
func (r *Registry) Close() {
	r.mu.Lock()
	procs := make([]*processor.Processor, 0, len(r.processors))
	for _, proc := range r.processors {
		procs = append(procs, proc)
	}
	r.processors = make(map[string]*processor.Processor)
	r.mu.Unlock()

	for _, proc := range procs {
		proc.Stop()
	}
	r.logger.Info().Int("markets", len(procs)).Msg("registry closed")
}

// MarketSummary is a top-of-book snapshot for one market. Zero prices mean
// no trade or no depth yet.
type MarketSummary struct {
	Symbol    string
	LastPrice int64
	BidPrice  int64
	AskPrice  int64
}

// Summaries reports last/bid/ask per market. Book tops are only coherent
// while the processors are quiesced, so call this during a pause in order
// flow, after the event queues have drained.
func (r *Registry) Summaries() []MarketSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]MarketSummary, 0, len(r.processors))
	for symbol, proc := range r.processors {
		m := proc.Market()
		s := MarketSummary{Symbol: symbol}
		if last, ok := m.LastPrice(); ok {
			s.LastPrice = last
		}
		if bid, ok := m.BidPrice(); ok {
			s.BidPrice = bid
		}
		if ask, ok := m.AskPrice(); ok {
			s.AskPrice = ask
		}
		summaries = append(summaries, s)
	}
	return summaries
}
