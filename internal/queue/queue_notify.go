package queue

import "sync"

const subscriberBufferSize = 64

// notifier runs caller callbacks in order on its own goroutine so that the
// owning loop never blocks on caller code.
type notifier struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	signal  chan struct{}
	done    chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(fn func()) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.pending = append(n.pending, fn)
	n.mu.Unlock()
	n.wake()
}

func (n *notifier) wake() {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		closed := n.closed
		n.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-n.signal
		}
	}
}

// close delivers what is already queued and stops the goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wake()
	<-n.done
}

// Subscribe returns a channel receiving queue events. Slow subscribers miss events
// instead of blocking the queue.
func (q *Queue) Subscribe() <-chan *Event {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()

	ch := make(chan *Event, subscriberBufferSize)
	if q.subsClosed {
		close(ch)
		return ch
	}
	q.subs = append(q.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (q *Queue) Unsubscribe(ch <-chan *Event) {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()

	for i, sub := range q.subs {
		if sub == ch {
			close(sub)
			q.subs = append(q.subs[:i], q.subs[i+1:]...)
			break
		}
	}
}

func (q *Queue) broadcast(event *Event) {
	q.subsMu.RLock()
	defer q.subsMu.RUnlock()

	for _, sub := range q.subs {
		select {
		case sub <- event:
		default:
			// subscriber is behind, drop
		}
	}
}

func (q *Queue) closeSubscribers() {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()

	for _, sub := range q.subs {
		close(sub)
	}
	q.subs = nil
	q.subsClosed = true
}
