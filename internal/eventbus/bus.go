// Package eventbus carries in-process notifications from the scheduler,
// notifier and router to observers (metrics, audit, debug log).
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the reminder pipeline. The part before the dot
// names the publishing component.
const (
	TypeJobRegistered = "scheduler.registered"
	TypeJobReplaced   = "scheduler.replaced"
	TypeJobDuplicate  = "scheduler.duplicate"
	TypeJobFired      = "scheduler.fired"
	TypeJobFailed     = "scheduler.failed"
	TypeJobCancelled  = "scheduler.cancelled"
	TypeReplySent     = "notifier.sent"
	TypeReplyFailed   = "notifier.failed"
	TypeUpdateRouted  = "router.routed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events whose type starts with
	// one of prefixes (all events when none are given).
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	// Dropped is the number of deliveries skipped because a subscriber was full.
	Dropped() uint64
}

func New() Bus {
	return &memBus{}
}

type subscription struct {
	ch       chan Event
	prefixes []string
}

func (s *subscription) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	// mu is held for reading while sending, so unsubscribe (write lock)
	// cannot close a channel mid-send.
	mu      sync.RWMutex
	subs    []*subscription
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	s := &subscription{ch: make(chan Event, max(buffer, 8)), prefixes: prefixes}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, x := range b.subs {
				if x == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Publish stamps and publishes an event; a nil bus is a no-op.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}
