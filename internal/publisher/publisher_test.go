package publisher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/exchange-core/internal/types"
)

// recordingListener keeps every delivered batch.
type recordingListener struct {
	mu      sync.Mutex
	batches [][]types.MarketEvent
}

func (l *recordingListener) OnMarketEvents(events []types.MarketEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, events)
}

func (l *recordingListener) batchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.batches)
}

func (l *recordingListener) firstOrderIDs() []types.OrderID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]types.OrderID, len(l.batches))
	for i, batch := range l.batches {
		ids[i] = batch[0].OrderID
	}
	return ids
}

func batch(id types.OrderID) []types.MarketEvent {
	return []types.MarketEvent{types.NewCancelOrderEvent(id, "AAPL")}
}

func TestDeliveryInPublishOrder(t *testing.T) {
	pub := New()
	listener := &recordingListener{}
	pub.Subscribe(listener)
	pub.Start()

	pub.Publish(batch(1))
	pub.Publish(batch(2))
	pub.Publish(batch(3))
	pub.Stop()

	require.Equal(t, 3, listener.batchCount())
	assert.Equal(t, []types.OrderID{1, 2, 3}, listener.firstOrderIDs())
}

func TestStopDrainsPendingBatches(t *testing.T) {
	pub := New()
	listener := &recordingListener{}
	pub.Subscribe(listener)
	pub.Start()

	for i := types.OrderID(1); i <= 100; i++ {
		pub.Publish(batch(i))
	}
	pub.Stop()

	assert.Equal(t, 100, listener.batchCount())
}

func TestPublishAfterStopDropped(t *testing.T) {
	pub := New()
	listener := &recordingListener{}
	pub.Subscribe(listener)
	pub.Start()
	pub.Stop()

	pub.Publish(batch(1))
	assert.Equal(t, 0, listener.batchCount())
}

func TestEmptyBatchIgnored(t *testing.T) {
	pub := New()
	listener := &recordingListener{}
	pub.Subscribe(listener)
	pub.Start()

	pub.Publish(nil)
	pub.Publish([]types.MarketEvent{})
	pub.Publish(batch(1))
	pub.Stop()

	assert.Equal(t, 1, listener.batchCount())
}

func TestUnsubscribe(t *testing.T) {
	pub := New()
	kept := &recordingListener{}
	dropped := &recordingListener{}
	pub.Subscribe(kept)
	id := pub.Subscribe(dropped)
	pub.Start()

	require.True(t, pub.Unsubscribe(id))
	assert.False(t, pub.Unsubscribe(id), "handle is single use")
	assert.False(t, pub.Unsubscribe("bogus"))

	pub.Publish(batch(1))
	pub.Stop()

	assert.Equal(t, 1, kept.batchCount())
	assert.Equal(t, 0, dropped.batchCount())
}

func TestConcurrentPublishers(t *testing.T) {
	pub := New()
	listener := &recordingListener{}
	pub.Subscribe(listener)
	pub.Start()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				pub.Publish(batch(types.OrderID(p*perProducer + i)))
			}
		}(p)
	}
	wg.Wait()
	pub.Stop()

	require.Eventually(t, func() bool {
		return listener.batchCount() == producers*perProducer
	}, time.Second, time.Millisecond)
}
