package sink

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Subscription receives broadcast records until cancelled
type Subscription struct {
	C <-chan *models.OutputRecord

	id  uint64
	hub *Hub
}

// Cancel detaches the subscription and closes C
func (s *Subscription) Cancel() {
	s.hub.unsubscribe(s.id)
}

// Hub fans records out to live subscribers. A subscriber that cannot keep
// up loses records rather than blocking the pipeline.
type Hub struct {
	buffer int
	logger *logrus.Entry

	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan *models.OutputRecord
	dropped int64
	closed  bool
	onCount func(int)
}

// NewHub creates a hub with a per-subscriber buffer
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer: buffer,
		logger: utils.ComponentLogger("broadcast"),
		subs:   make(map[uint64]chan *models.OutputRecord),
	}
}

// OnSubscriberCount registers a callback invoked with the subscriber count
func (h *Hub) OnSubscriberCount(fn func(int)) {
	h.mu.Lock()
	h.onCount = fn
	h.mu.Unlock()
}

// Subscribe registers a new subscriber
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *models.OutputRecord, h.buffer)
	if h.closed {
		close(ch)
		return &Subscription{C: ch, hub: h}
	}

	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.notifyLocked()

	return &Subscription{C: ch, id: id, hub: h}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
		h.notifyLocked()
	}
}

func (h *Hub) notifyLocked() {
	if h.onCount != nil {
		h.onCount(len(h.subs))
	}
}

// Subscribers returns the current subscriber count
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were discarded for slow subscribers
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Publish offers record to every subscriber without blocking
func (h *Hub) Publish(record *models.OutputRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- record:
		default:
			h.dropped++
			h.logger.WithField("subscriber", id).Debug("Subscriber buffer full, dropping record")
		}
	}
}

// Close disconnects all subscribers
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.notifyLocked()
}

// BroadcastSink publishes records to a Hub
type BroadcastSink struct {
	hub *Hub
}

// NewBroadcastSink creates a sink publishing to hub
func NewBroadcastSink(hub *Hub) *BroadcastSink {
	return &BroadcastSink{hub: hub}
}

// Name implements Sink
func (b *BroadcastSink) Name() string { return "broadcast" }

// Send implements Sink
func (b *BroadcastSink) Send(_ context.Context, record *models.OutputRecord) error {
	b.hub.Publish(record)
	return nil
}

// Close implements Sink
func (b *BroadcastSink) Close() error {
	b.hub.Close()
	return nil
}
