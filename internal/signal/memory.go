package signal

import (
	"context"
	"errors"
	"sync"

	"walkroom/native/internal/domain"
)

// ErrRelayClosed is reported to subscribers when the relay shuts down.
var ErrRelayClosed = errors.New("relay closed")

// MemoryRelay is an in-process relay. Every subscriber of a room, the
// publisher included, receives each message in publish order on its own
// goroutine.
type MemoryRelay struct {
	mu     sync.Mutex
	rooms  map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryRelay creates an empty relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{rooms: make(map[string]map[*memorySub]struct{})}
}

var _ domain.Relay = (*MemoryRelay)(nil)

// Subscribe registers handlers for room.
func (r *MemoryRelay) Subscribe(ctx context.Context, room string, onMessage func([]byte), onLost func(error)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySub{
		relay:     r,
		room:      room,
		onMessage: onMessage,
		onLost:    onLost,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRelayClosed
	}
	subs := r.rooms[room]
	if subs == nil {
		subs = make(map[*memorySub]struct{})
		r.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	r.mu.Unlock()

	go sub.loop()
	return sub, nil
}

// Publish queues data for every subscriber of room and returns without
// waiting for delivery.
func (r *MemoryRelay) Publish(ctx context.Context, room string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	for sub := range r.rooms[room] {
		msg := make([]byte, len(data))
		copy(msg, data)
		sub.enqueue(msg)
	}
	return nil
}

// Subscribers returns how many subscriptions room has.
func (r *MemoryRelay) Subscribers(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// Close ends every subscription, reporting ErrRelayClosed to each.
func (r *MemoryRelay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var subs []*memorySub
	for _, room := range r.rooms {
		for sub := range room {
			subs = append(subs, sub)
		}
	}
	r.rooms = make(map[string]map[*memorySub]struct{})
	r.mu.Unlock()

	for _, sub := range subs {
		if sub.stop() && sub.onLost != nil {
			go sub.onLost(ErrRelayClosed)
		}
	}
}

func (r *MemoryRelay) remove(sub *memorySub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.rooms[sub.room]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.rooms, sub.room)
		}
	}
}

type memorySub struct {
	relay     *MemoryRelay
	room      string
	onMessage func([]byte)
	onLost    func(error)

	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *memorySub) enqueue(data []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, data)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	data := s.queue[0]
	s.queue = s.queue[1:]
	return data, true
}

func (s *memorySub) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			data, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-s.done:
				return
			default:
			}
			if s.onMessage != nil {
				s.onMessage(data)
			}
		}
	}
}

// stop reports whether this call ended the subscription.
func (s *memorySub) stop() bool {
	stopped := false
	s.once.Do(func() {
		close(s.done)
		stopped = true
	})
	return stopped
}

func (s *memorySub) Unsubscribe() error {
	if s.stop() {
		s.relay.remove(s)
	}
	return nil
}
