// Package publisher fans finished market events out to subscribers. It sits
// behind its own queue and worker goroutine so that slow or numerous
// listeners never add latency to the matching path.
package publisher

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/exchange-core/internal/types"
	"github.com/ksred/exchange-core/pkg/mpsc"
)

// Listener receives published event batches on the publisher's goroutine, in
// publish order. Implementations must not block for long; they delay every
// later batch, though never the matching threads.
type Listener interface {
	OnMarketEvents(events []types.MarketEvent)
}

// Publisher broadcasts event batches to registered listeners. Publish is a
// non-blocking handoff onto an unbounded queue; delivery is at-least-once
// per enqueued batch with no ordering guarantee relative to matching
// progress in other markets.
type Publisher struct {
	queue  *mpsc.Queue[[]types.MarketEvent]
	logger zerolog.Logger

	mu        sync.RWMutex
	listeners map[string]Listener

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates a publisher. Call Start before publishing.
func New() *Publisher {
	return &Publisher{
		queue:     mpsc.New[[]types.MarketEvent](),
		logger:    log.With().Str("component", "market_data_publisher").Logger(),
		listeners: make(map[string]Listener),
		done:      make(chan struct{}),
	}
}

// Start spawns the delivery worker. Idempotent.
func (p *Publisher) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop drains the queue and joins the worker. Batches published after Stop
// are dropped.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.queue.Close()
		<-p.done
	})
}

// Publish hands a batch to the delivery worker without blocking on
// listeners. Empty batches are ignored.
func (p *Publisher) Publish(events []types.MarketEvent) {
	if len(events) == 0 {
		return
	}
	if !p.queue.Push(events) {
		p.logger.Warn().Int("events", len(events)).Msg("publisher stopped, batch dropped")
	}
}

// Subscribe registers a listener and returns a handle for Unsubscribe.
func (p *Publisher) Subscribe(l Listener) string {
	id := uuid.NewString()
	p.mu.Lock()
	p.listeners[id] = l
	p.mu.Unlock()
	p.logger.Debug().Str("subscription_id", id).Msg("listener subscribed")
	return id
}

// Unsubscribe removes a listener. It returns false for an unknown handle.
func (p *Publisher) Unsubscribe(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.listeners[id]; !ok {
		return false
	}
	delete(p.listeners, id)
	return true
}

func (p *Publisher) run() {
	defer close(p.done)
	p.logger.Info().Msg("market data publisher started")

	for {
		batch, ok := p.queue.Pop()
		if !ok {
			p.logger.Info().Msg("market data publisher stopped")
			return
		}

		p.mu.RLock()
		listeners := make([]Listener, 0, len(p.listeners))
		for _, l := range p.listeners {
			listeners = append(listeners, l)
		}
		p.mu.RUnlock()

		for _, l := range listeners {
			l.OnMarketEvents(batch)
		}
	}
}
