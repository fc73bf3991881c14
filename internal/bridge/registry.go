package bridge

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/atomic"
)

// Registry owns the active sessions, one per dApp peer, in insertion order.
//
// Mutations must come from the bridge's serial executor. Reads are served from
// an immutable snapshot republished after every mutation, so they are safe from
// any goroutine and never observe a partial update.
type Registry struct {
	sessions *linkedhashmap.Map
	snapshot atomic.Value
	feed     *fanout
}

func NewRegistry() *Registry {
	r := &Registry{sessions: linkedhashmap.New(), feed: newFanout("sessions")}
	r.snapshot.Store([]Session{})
	return r
}

// InsertOrReplace stores s. An existing entry for the same peer is replaced in
// place; a new peer is appended.
func (r *Registry) InsertOrReplace(s Session) (replaced bool) {
	_, replaced = r.sessions.Get(s.PeerID)
	r.sessions.Put(s.PeerID, s.clone())
	r.publish()
	return replaced
}

// Remove deletes the session for peerID, reporting whether one existed.
func (r *Registry) Remove(peerID string) (Session, bool) {
	v, ok := r.sessions.Get(peerID)
	if !ok {
		return Session{}, false
	}
	r.sessions.Remove(peerID)
	r.publish()
	return v.(Session), true
}

// RemoveByRelayURL deletes every session reached through url.
func (r *Registry) RemoveByRelayURL(url string) []Session {
	var removed []Session
	it := r.sessions.Iterator()
	for it.Next() {
		if s := it.Value().(Session); s.RelayURL == url {
			removed = append(removed, s)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	for _, s := range removed {
		r.sessions.Remove(s.PeerID)
	}
	r.publish()
	return removed
}

func (r *Registry) Find(peerID string) (Session, bool) {
	for _, s := range r.All() {
		if s.PeerID == peerID {
			return s.clone(), true
		}
	}
	return Session{}, false
}

func (r *Registry) Contains(peerID string) bool {
	_, ok := r.Find(peerID)
	return ok
}

// All returns the sessions in insertion order. The slice is a copy.
func (r *Registry) All() []Session {
	current := r.snapshot.Load().([]Session)
	out := make([]Session, len(current))
	for i, s := range current {
		out[i] = s.clone()
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.snapshot.Load().([]Session))
}

// Subscribe delivers a snapshot after every mutation, in mutation order.
// Mutations never wait for ch; a reader that falls far behind loses the
// oldest snapshots.
func (r *Registry) Subscribe(ch chan<- []Session) event.Subscription {
	return r.feed.Subscribe(func(v interface{}, quit <-chan struct{}) bool {
		select {
		case ch <- v.([]Session):
			return true
		case <-quit:
			return false
		}
	})
}

func (r *Registry) publish() {
	next := make([]Session, 0, r.sessions.Size())
	it := r.sessions.Iterator()
	for it.Next() {
		next = append(next, it.Value().(Session))
	}
	r.snapshot.Store(next)
	r.feed.Send(r.All())
}
