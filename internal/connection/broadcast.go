package connection

import (
	"sync"
)

// broadcaster fans State values out to every live Subscription. Publishing
// only appends to each subscriber's queue and signals its pump goroutine, so
// the goroutine delivering session callbacks never blocks on a slow reader.
type broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*Subscription]struct{})}
}

// subscribe registers a new subscription. It only sees states published
// after it was registered.
func (b *broadcaster) subscribe() *Subscription {
	s := &Subscription{
		out:    make(chan State),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		owner:  b,
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()

	return s
}

// publish enqueues st for every subscriber. Holding b.mu for the whole fan
// out keeps the per-subscriber order identical to the publish order.
func (b *broadcaster) publish(st State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		s.enqueue(st)
	}
}

func (b *broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one reader of the state stream. Each subscription has its
// own unbounded queue; states are delivered on C in publish order.
type Subscription struct {
	mu      sync.Mutex
	pending []State
	notify  chan struct{} // capacity 1; signaled on enqueue
	done    chan struct{}
	out     chan State
	once    sync.Once
	owner   *broadcaster
}

// C returns the delivery channel. It is closed after Close.
func (s *Subscription) C() <-chan State {
	return s.out
}

// Close stops delivery. States still queued are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.owner.remove(s)
		close(s.done)
	})
}

func (s *Subscription) enqueue(st State) {
	s.mu.Lock()
	s.pending = append(s.pending, st)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
		// Already signaled; pump will drain everything queued.
	}
}

func (s *Subscription) drain() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.pending
	s.pending = nil

	return batch
}

// pump moves queued states to the delivery channel until Close.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for _, st := range s.drain() {
			select {
			case s.out <- st:
			case <-s.done:
				return
			}
		}
	}
}
