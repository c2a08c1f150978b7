package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/ledgertap/pkg/metrics"
	"github.com/cuemby/ledgertap/pkg/types"
)

// ErrClosed is returned when receiving on a closed subscription or bus.
var ErrClosed = errors.New("bus closed")

// Bus is the live broadcast channel: a bounded ring of recent records with
// one cursor per subscriber. Publishing never blocks; a subscriber that
// falls behind by more than the ring capacity loses its oldest undelivered
// records and is told how many.
type Bus struct {
	mu       sync.Mutex
	ring     []*types.Record
	capacity uint64
	seq      uint64 // total records ever published
	subs     map[string]*Subscription
	closed   bool
}

// New creates a bus retaining up to capacity records.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		ring:     make([]*types.Record, capacity),
		capacity: uint64(capacity),
		subs:     make(map[string]*Subscription),
	}
}

// Publish appends the record to the ring and wakes subscribers. With no
// subscribers this is a slot write and a counter increment.
func (b *Bus) Publish(r *types.Record) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.ring[b.seq%b.capacity] = r
	b.seq++
	for _, sub := range b.subs {
		select {
		case sub.wake <- struct{}{}:
		default:
			// Already signalled; the subscriber will catch up on its
			// next receive.
		}
	}
	b.mu.Unlock()

	metrics.BusPublishedTotal.Inc()
}

// Subscribe registers a new subscriber positioned at the current head; it
// receives only records published from now on.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		bus:    b,
		id:     uuid.NewString(),
		cursor: b.seq,
		wake:   make(chan struct{}, 1),
	}
	b.subs[sub.id] = sub
	metrics.BusSubscribers.Set(float64(len(b.subs)))
	return sub, nil
}

// Close wakes and invalidates all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is one subscriber's cursor into the bus.
type Subscription struct {
	bus    *Bus
	id     string
	cursor uint64
	wake   chan struct{}
	closed bool
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Next returns the next record and the number of records this subscriber
// lost since the previous call (zero unless it lagged past the ring
// capacity). It blocks until a record is available, the context is
// cancelled, or the bus is closed.
func (s *Subscription) Next(ctx context.Context) (*types.Record, uint64, error) {
	for {
		s.bus.mu.Lock()
		if s.closed {
			s.bus.mu.Unlock()
			return nil, 0, ErrClosed
		}

		var dropped uint64
		if oldest := s.bus.oldest(); s.cursor < oldest {
			dropped = oldest - s.cursor
			s.cursor = oldest
		}

		if s.cursor < s.bus.seq {
			r := s.bus.ring[s.cursor%s.bus.capacity]
			s.cursor++
			s.bus.mu.Unlock()
			if dropped > 0 {
				metrics.BusDroppedTotal.Add(float64(dropped))
			}
			return r, dropped, nil
		}

		if s.bus.closed {
			s.bus.mu.Unlock()
			return nil, dropped, ErrClosed
		}
		s.bus.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s.id)
	metrics.BusSubscribers.Set(float64(len(s.bus.subs)))
}

// oldest returns the sequence number of the oldest retained record.
// Callers hold b.mu.
func (b *Bus) oldest() uint64 {
	if b.seq <= b.capacity {
		return 0
	}
	return b.seq - b.capacity
}
