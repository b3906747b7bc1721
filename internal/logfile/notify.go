package logfile

import "sync"

// Subscription is one reader's wake handle on a Store. C receives a value
// after one or more appends (wakes coalesce); Done is closed when the store
// is sealed.
type Subscription struct {
	c chan struct{}
	n *notifier
}

// C returns the wake channel.
func (s *Subscription) C() <-chan struct{} { return s.c }

// Done is closed once the file is sealed and no further appends can occur.
func (s *Subscription) Done() <-chan struct{} { return s.n.done }

// Unsubscribe detaches the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.n.remove(s) }

type notifier struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	done   chan struct{}
	sealed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[*Subscription]struct{}), done: make(chan struct{})}
}

func (n *notifier) subscribe() *Subscription {
	s := &Subscription{c: make(chan struct{}, 1), n: n}
	n.mu.Lock()
	if !n.sealed {
		n.subs[s] = struct{}{}
	}
	n.mu.Unlock()
	return s
}

func (n *notifier) remove(s *Subscription) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}

// broadcast wakes every subscriber without blocking; a subscriber that has
// not consumed its previous wake keeps a single pending one.
func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for s := range n.subs {
		select {
		case s.c <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) seal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sealed {
		return
	}
	n.sealed = true
	close(n.done)
	for s := range n.subs {
		delete(n.subs, s)
	}
}

func (n *notifier) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
