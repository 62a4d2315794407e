package main

import (
	"flag"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/exchange-core/internal/config"
	"github.com/ksred/exchange-core/internal/engine"
	"github.com/ksred/exchange-core/internal/metrics"
	"github.com/ksred/exchange-core/internal/publisher"
	"github.com/ksred/exchange-core/internal/registry"
	"github.com/ksred/exchange-core/internal/types"
)

// init configures pretty logging for the simulation with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// submitStats tracks latency statistics for engine submissions
type submitStats struct {
	mu        sync.Mutex
	durations []time.Duration
	failures  int
}

// addDuration records a new duration measurement
func (s *submitStats) addDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
}

// addFailure records a rejected submission
func (s *submitStats) addFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (s *submitStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(s.durations, func(i, j int) bool {
		return s.durations[i] < s.durations[j]
	})

	min = s.durations[0]
	max = s.durations[len(s.durations)-1]

	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	mean = sum / time.Duration(len(s.durations))
	median = s.durations[len(s.durations)/2]

	p95idx := int(math.Ceil(float64(len(s.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(s.durations))*0.99)) - 1
	p95 = s.durations[p95idx]
	p99 = s.durations[p99idx]

	return
}

// eventCounter tallies published market events by type
type eventCounter struct {
	adds    atomic.Int64
	trades  atomic.Int64
	fills   atomic.Int64
	cancels atomic.Int64
	stops   atomic.Int64
}

func (c *eventCounter) OnMarketEvents(events []types.MarketEvent) {
	for _, ev := range events {
		switch ev.Type {
		case types.EventAddOrder:
			c.adds.Add(1)
		case types.EventTrade:
			c.trades.Add(1)
			log.Debug().
				Uint64("order_id", uint64(ev.OrderID)).
				Uint64("counterparty_id", uint64(ev.CounterpartyID)).
				Int64("price", ev.ExecutedPrice).
				Int64("quantity", ev.ExecutedQty).
				Str("symbol", ev.Symbol).
				Msg("trade")
		case types.EventFilledOrder:
			c.fills.Add(1)
		case types.EventCancelOrder:
			c.cancels.Add(1)
		case types.EventStopTriggered:
			c.stops.Add(1)
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
	}

	// Build the stack: publisher, metrics, registry, engine.
	pub := publisher.New()
	counter := &eventCounter{}
	pub.Subscribe(counter)
	pub.Start()

	metricsCol := metrics.New("exchange")
	reg := registry.New(pub, metricsCol)

	for _, mc := range cfg.Markets {
		if _, err := reg.CreateMarket(mc.Symbol, mc.TickSize); err != nil {
			log.Fatal().Err(err).Str("symbol", mc.Symbol).Msg("failed to create market")
		}
	}

	eng := engine.New(reg)
	stats := &submitStats{}

	log.Info().
		Int("markets", len(cfg.Markets)).
		Int("workers", cfg.Simulation.Workers).
		Int("orders_per_worker", cfg.Simulation.OrdersPerWorker).
		Msg("starting simulation")

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < cfg.Simulation.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(worker, cfg, eng, stats)
		}(w)
	}
	wg.Wait()

	// Let the processors drain their queues before reading book tops.
	waitForDrain(reg, cfg, 10*time.Second)
	time.Sleep(100 * time.Millisecond) // publisher delivery tail

	for _, summary := range reg.Summaries() {
		proc, _ := reg.GetProcessor(summary.Symbol)
		log.Info().
			Str("symbol", summary.Symbol).
			Int64("last_price", summary.LastPrice).
			Int64("bid_price", summary.BidPrice).
			Int64("ask_price", summary.AskPrice).
			Int64("events_processed", proc.ProcessedCount()).
			Dur("avg_latency", proc.AverageLatency()).
			Msg("market summary")
	}

	reg.Close()
	pub.Stop()

	min, max, mean, median, p95, p99 := stats.calculate()
	log.Info().
		Dur("min", min).
		Dur("max", max).
		Dur("mean", mean).
		Dur("median", median).
		Dur("p95", p95).
		Dur("p99", p99).
		Int("failures", stats.failures).
		Msg("submission latency")

	log.Info().
		Int64("adds", counter.adds.Load()).
		Int64("trades", counter.trades.Load()).
		Int64("fills", counter.fills.Load()).
		Int64("cancels", counter.cancels.Load()).
		Int64("stop_triggers", counter.stops.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("simulation complete")
}

// runWorker submits randomized order flow for one simulated client session.
func runWorker(worker int, cfg *config.Config, eng *engine.Engine, stats *submitStats) {
	session := uuid.NewString()
	clientID := types.ClientID(worker + 1)
	rng := rand.New(rand.NewSource(cfg.Simulation.Seed + int64(worker)))
	logger := log.With().
		Str("component", "simulation_worker").
		Str("session", session).
		Uint32("client_id", uint32(clientID)).
		Logger()

	type placed struct {
		symbol string
		id     types.OrderID
	}
	var submitted []placed

	for i := 0; i < cfg.Simulation.OrdersPerWorker; i++ {
		mc := cfg.Markets[rng.Intn(len(cfg.Markets))]

		// Occasionally cancel something we placed earlier instead.
		if len(submitted) > 0 && rng.Float64() < 0.1 {
			target := submitted[rng.Intn(len(submitted))]
			if err := eng.CancelOrder(target.symbol, target.id); err != nil {
				logger.Warn().Err(err).Msg("cancel failed")
			}
			continue
		}

		req := randomRequest(rng, mc, clientID)
		begin := time.Now()
		id, err := eng.SubmitOrder(req)
		if err != nil {
			stats.addFailure()
			logger.Debug().Err(err).Str("symbol", req.Symbol).Msg("submission rejected")
			continue
		}
		stats.addDuration(time.Since(begin))
		submitted = append(submitted, placed{mc.Symbol, id})
	}

	logger.Debug().Int("orders", len(submitted)).Msg("worker finished")
}

// randomRequest builds a plausible order around a 100.00 reference price,
// aligned to the market's tick size.
func randomRequest(rng *rand.Rand, mc config.MarketConfig, clientID types.ClientID) engine.OrderRequest {
	const referencePrice = 10000 // minor units

	side := types.Buy
	if rng.Intn(2) == 1 {
		side = types.Sell
	}

	ticksAround := int64(rng.Intn(41)) - 20 // +/- 20 ticks
	price := referencePrice + ticksAround*mc.TickSize
	if price < mc.TickSize {
		price = mc.TickSize
	}

	req := engine.OrderRequest{
		ClientID: clientID,
		Symbol:   mc.Symbol,
		Quantity: int64(rng.Intn(100) + 1),
		Side:     side,
	}

	switch roll := rng.Float64(); {
	case roll < 0.70:
		req.Type = types.Limit
		req.Price = price
		req.TimeInForce = pickTIF(rng)
	case roll < 0.85:
		req.Type = types.Market
		req.TimeInForce = types.IOC
	case roll < 0.95:
		req.Type = types.Stop
		req.StopPrice = price
		req.TimeInForce = types.GTC
	default:
		req.Type = types.StopLimit
		req.Price = price
		req.StopPrice = price
		req.TimeInForce = types.GTC
	}
	return req
}

func pickTIF(rng *rand.Rand) types.TimeInForce {
	switch rng.Intn(4) {
	case 0:
		return types.Day
	case 1:
		return types.IOC
	case 2:
		return types.FOK
	default:
		return types.GTC
	}
}

// waitForDrain polls until every processor's queue is empty or the timeout
// elapses.
func waitForDrain(reg *registry.Registry, cfg *config.Config, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		drained := true
		for _, mc := range cfg.Markets {
			if proc, ok := reg.GetProcessor(mc.Symbol); ok && proc.QueueLen() > 0 {
				drained = false
				break
			}
		}
		if drained {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	log.Warn().Msg("timed out waiting for processors to drain")
}
