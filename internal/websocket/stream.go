package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/placenet"
)

// Stream fans inbound frames out to subscribers.
//
// Each subscriber owns a bounded buffer. Publishing never blocks: when a
// subscriber's buffer is full the oldest buffered frame is discarded to make
// room for the new one. Frames published while nobody is subscribed are lost,
// and new subscribers never see frames published before they attached.
type Stream struct {
	capacity int
	onDrop   func()

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewStream creates a stream whose subscribers buffer up to capacity frames.
func NewStream(capacity int, onDrop func()) *Stream {
	if capacity <= 0 {
		capacity = 64
	}
	return &Stream{
		capacity: capacity,
		onDrop:   onDrop,
		subs:     make(map[*Subscriber]struct{}),
	}
}

// Subscribe attaches a new subscriber. Subscribing to a closed stream returns
// a subscription whose channel is already closed.
func (s *Stream) Subscribe() *Subscriber {
	sub := &Subscriber{
		stream: s,
		ch:     make(chan string, s.capacity),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Publish delivers frame to every subscriber without blocking.
func (s *Stream) Publish(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		sub.offer(frame, s.onDrop)
	}
}

// Subscribers returns the number of attached subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close detaches and closes every subscriber.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.closed = true
		close(sub.ch)
		delete(s.subs, sub)
	}
}

func (s *Stream) remove(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub)
	close(sub.ch)
}

var _ placenet.Subscription = (*Subscriber)(nil)

// Subscriber implements placenet.Subscription. Its closed flag is guarded
// by the owning stream's mutex.
type Subscriber struct {
	stream  *Stream
	ch      chan string
	dropped atomic.Uint64
	closed  bool
}

// offer must be called with the stream mutex held.
func (sub *Subscriber) offer(frame string, onDrop func()) {
	for {
		select {
		case sub.ch <- frame:
			return
		default:
		}

		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			if onDrop != nil {
				onDrop()
			}
		default:
		}
	}
}

func (sub *Subscriber) Frames() <-chan string {
	return sub.ch
}

func (sub *Subscriber) Dropped() uint64 {
	return sub.dropped.Load()
}

func (sub *Subscriber) Close() {
	sub.stream.remove(sub)
}
