package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"mediaqueue/internal/logging"
)

const (
	defaultHistory = 512
	defaultBuffer  = 64
)

// Subscription is one consumer's buffered view of the bus. C is closed when
// the subscriber is dropped or unsubscribes.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	bus     *Bus
	dropped bool
}

// Dropped reports whether the bus closed the subscription for falling behind.
func (s *Subscription) Dropped() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.removeLocked(s)
}

// Bus fans published events out to subscribers.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	subs    map[*Subscription]struct{}
	ring    []Event
	history int
	logger  *slog.Logger
	now     func() time.Time
}

// NewBus constructs a bus retaining up to history recent events.
func NewBus(history int, logger *slog.Logger) *Bus {
	if history <= 0 {
		history = defaultHistory
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		subs:    make(map[*Subscription]struct{}),
		history: history,
		logger:  logging.NewComponentLogger(logger, "events"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish stamps and delivers an event, returning the stamped copy.
func (b *Bus) Publish(typ Type, jobID string, data any) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	evt := Event{Type: typ, Seq: b.seq, Timestamp: b.now(), JobID: jobID, Data: data}

	b.ring = append(b.ring, evt)
	if len(b.ring) > b.history {
		b.ring = slices.Delete(b.ring, 0, len(b.ring)-b.history)
	}

	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped = true
			b.removeLocked(sub)
			b.logger.Warn("dropping slow subscriber",
				logging.Uint64("seq", evt.Seq),
				logging.String(logging.FieldEventType, "subscriber_dropped"),
				logging.String(logging.FieldImpact, "client must resync from snapshot"),
			)
		}
	}
	return evt
}

// Subscribe registers a consumer with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) removeLocked(sub *Subscription) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Seq returns the sequence number of the last published event.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Since returns buffered events with a sequence greater than seq.
func (b *Bus) Since(seq uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, _ := slices.BinarySearchFunc(b.ring, seq+1, func(e Event, target uint64) int {
		switch {
		case e.Seq < target:
			return -1
		case e.Seq > target:
			return 1
		}
		return 0
	})
	return slices.Clone(b.ring[idx:])
}

// Subscribers reports the live subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
