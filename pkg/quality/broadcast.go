package quality

import "sync"

// Subscription delivers snapshots to one observer. Delivery is latest-wins:
// a slow reader never blocks the monitor, it simply skips intermediate
// snapshots and always finds the newest one waiting.
type Subscription struct {
	b  *broadcaster
	ch chan Snapshot

	mu     sync.Mutex
	closed bool
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	// Replace the unread snapshot. Only offer sends, and it holds s.mu, so
	// the slot is free after the drain.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

type broadcaster struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*Subscription]struct{})}
}

// subscribe registers a subscriber and primes it with current(). The write
// lock keeps a concurrent publish from slipping in between the two steps.
func (b *broadcaster) subscribe(current func() Snapshot) *Subscription {
	sub := &Subscription{b: b, ch: make(chan Snapshot, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()
	sub.offer(current())
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func (b *broadcaster) publish(snap Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		sub.offer(snap)
	}
}

func (b *broadcaster) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
