package bridge

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"moff.io/wallet-bridge/pkg/log"
)

// subscriberBacklog bounds the values queued for one slow subscriber; the
// oldest is dropped beyond it.
const subscriberBacklog = 256

// fanout delivers values to subscribers without blocking the sender. Every
// subscriber has its own queue drained by its own goroutine, so one stalled
// reader never holds up the serial executor or the other readers.
type fanout struct {
	name string
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	mu    sync.Mutex
	queue []interface{}
	wake  chan struct{}
}

func newFanout(name string) *fanout {
	return &fanout{name: name, subs: map[*subscriber]struct{}{}}
}

// Subscribe registers a subscriber; deliver hands one value to it and returns
// false once quit is closed.
func (f *fanout) Subscribe(deliver func(v interface{}, quit <-chan struct{}) bool) event.Subscription {
	s := &subscriber{wake: make(chan struct{}, 1)}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer f.remove(s)
		for {
			select {
			case <-quit:
				return nil
			case <-s.wake:
			}
			for {
				v, ok := s.pop()
				if !ok {
					break
				}
				if !deliver(v, quit) {
					return nil
				}
			}
		}
	})
}

// Send queues v for every subscriber and returns immediately.
func (f *fanout) Send(v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		if s.push(v) {
			log.Warnf("bridge - %s subscriber is %d updates behind, dropping the oldest", f.name, subscriberBacklog)
		}
	}
}

func (f *fanout) remove(s *subscriber) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

// push reports whether an old value had to be dropped.
func (s *subscriber) push(v interface{}) (dropped bool) {
	s.mu.Lock()
	if len(s.queue) >= subscriberBacklog {
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (s *subscriber) pop() (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	v := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return v, true
}
