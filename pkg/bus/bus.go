// Package bus provides the in-process pub/sub channel for live telemetry.
// Each project is a topic; each subscriber owns a bounded queue. Publishing
// never blocks: a full queue drops the oldest frame and marks a gap for that
// subscriber, and a subscriber that overflows too many times in a row is
// evicted. The bus carries deltas only, no replay; late joiners reconcile
// over the query API.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codeframe-dev/codeframe/pkg/metrics"
)

// Defaults, overridable via Options.
const (
	DefaultQueueSize  = 256
	DefaultEvictTicks = 3
)

// TypeGap is the frame type injected into a subscriber's queue when frames
// were dropped. Clients treat it as a signal to re-query authoritative state.
const TypeGap = "gap"

// Frame is one telemetry message delivered to subscribers.
type Frame struct {
	Type      string          `json:"type"`
	ProjectID int64           `json:"project_id"`
	TS        time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Options configures a Bus.
type Options struct {
	// QueueSize bounds each subscriber's queue.
	QueueSize int
	// EvictTicks is the number of consecutive overflowing publishes after
	// which a slow subscriber is dropped.
	EvictTicks int
}

// Bus is the per-process broadcaster.
type Bus struct {
	mu     sync.RWMutex
	topics map[int64]*topic

	queueSize  int
	evictTicks int

	ready atomic.Bool
}

type topic struct {
	// pubMu serializes publishes within the topic so every subscriber
	// observes the same frame order (per-project FIFO).
	pubMu sync.Mutex
	subs  map[string]*Subscriber
}

// Subscriber is one attached consumer. Read frames from C(); the channel is
// closed on eviction or Unsubscribe.
type Subscriber struct {
	ID        string
	ProjectID int64

	ch        chan Frame
	overflows int
	closed    bool
}

// C returns the subscriber's frame channel.
func (s *Subscriber) C() <-chan Frame {
	return s.ch
}

// New creates a Bus. Call Start before accepting subscribers.
func New(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.EvictTicks <= 0 {
		opts.EvictTicks = DefaultEvictTicks
	}
	return &Bus{
		topics:     make(map[int64]*topic),
		queueSize:  opts.QueueSize,
		evictTicks: opts.EvictTicks,
	}
}

// Start marks the bus ready. The /ws/health probe gates subscriptions on it.
func (b *Bus) Start() {
	b.ready.Store(true)
}

// Ready reports whether the broadcaster is fully initialized.
func (b *Bus) Ready() bool {
	return b.ready.Load()
}

// Subscribe attaches a new subscriber to the project topic.
func (b *Bus) Subscribe(projectID int64) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		ch:        make(chan Frame, b.queueSize),
	}

	b.mu.Lock()
	t, ok := b.topics[projectID]
	if !ok {
		t = &topic{subs: make(map[string]*Subscriber)}
		b.topics[projectID] = t
	}
	b.mu.Unlock()

	t.pubMu.Lock()
	t.subs[sub.ID] = sub
	t.pubMu.Unlock()
	return sub
}

// Unsubscribe detaches the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.RLock()
	t, ok := b.topics[sub.ProjectID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	b.removeLocked(t, sub)
}

// Publish broadcasts a frame to every subscriber of the project topic.
// Never blocks on a slow subscriber.
func (b *Bus) Publish(projectID int64, frameType string, payload json.RawMessage) {
	frame := Frame{
		Type:      frameType,
		ProjectID: projectID,
		TS:        time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	t, ok := b.topics[projectID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	for _, sub := range t.subs {
		b.deliverLocked(t, sub, frame)
	}
}

// SubscriberCount returns the number of subscribers on a project topic.
func (b *Bus) SubscriberCount(projectID int64) int {
	b.mu.RLock()
	t, ok := b.topics[projectID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	return len(t.subs)
}

// deliverLocked enqueues frame for sub, applying the drop-oldest + gap
// policy on overflow. Caller holds t.pubMu.
func (b *Bus) deliverLocked(t *topic, sub *Subscriber, frame Frame) {
	if sub.closed {
		return
	}

	select {
	case sub.ch <- frame:
		sub.overflows = 0
		return
	default:
	}

	// Queue full: count the overflow tick and evict a persistently slow
	// subscriber instead of spending memory on it.
	sub.overflows++
	metrics.SubscriberFramesDropped.Inc()
	if sub.overflows >= b.evictTicks {
		slog.Warn("Evicting slow subscriber",
			"subscriber_id", sub.ID, "project_id", sub.ProjectID,
			"overflow_ticks", sub.overflows)
		metrics.SubscriberEvictions.Inc()
		b.removeLocked(t, sub)
		return
	}

	// Drop the two oldest frames to make room for a gap marker plus the
	// new frame, preserving FIFO for everything that remains.
	drop := 2
	for drop > 0 {
		select {
		case <-sub.ch:
			drop--
		default:
			drop = 0
		}
	}
	gap := Frame{Type: TypeGap, ProjectID: sub.ProjectID, TS: time.Now().UTC()}
	select {
	case sub.ch <- gap:
	default:
	}
	select {
	case sub.ch <- frame:
	default:
	}
}

// removeLocked detaches sub from the topic. Caller holds t.pubMu.
func (b *Bus) removeLocked(t *topic, sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(t.subs, sub.ID)
	close(sub.ch)
}

// Close evicts all subscribers on all topics (shutdown path).
func (b *Bus) Close() {
	b.ready.Store(false)
	b.mu.Lock()
	topics := b.topics
	b.topics = make(map[int64]*topic)
	b.mu.Unlock()

	for _, t := range topics {
		t.pubMu.Lock()
		for _, sub := range t.subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		t.subs = make(map[string]*Subscriber)
		t.pubMu.Unlock()
	}
}
