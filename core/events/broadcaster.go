package events

import (
	"context"
	"sync"
	"time"

	"splat-orchestrator/core/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler receives a published event. It must not block; slow consumers
// buffer on their side and drop.
type Handler func(ctx context.Context, event models.StatusEvent) error

// Publisher is what producers of status events depend on
type Publisher interface {
	Publish(ctx context.Context, room string, event models.StatusEvent)
}

// Broadcaster fans status events out to room subscribers. Nothing is
// retained: a subscriber only sees events published after it subscribed.
type Broadcaster struct {
	mu     sync.RWMutex
	rooms  map[string][]subscriber
	all    []subscriber
	nextID uint64
	now    func() time.Time
}

type subscriber struct {
	id      uint64
	handler Handler
}

// NewBroadcaster creates an in-process broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		rooms: make(map[string][]subscriber),
		now:   time.Now,
	}
}

// Publish delivers event to every current subscriber of room and to every
// all-rooms subscriber. Handler errors are logged and do not stop delivery.
func (b *Broadcaster) Publish(ctx context.Context, room string, event models.StatusEvent) {
	event.Room = room
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.rooms[room])+len(b.all))
	subs = append(subs, b.rooms[room]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, event)
	}
}

func (b *Broadcaster) deliver(ctx context.Context, sub subscriber, event models.StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("room", event.Room).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	if err := sub.handler(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("room", event.Room).
			Str("step", string(event.Step)).
			Msg("event handler error")
	}
}

// Subscribe registers handler for room. A nil-room subscription (empty room)
// receives every room. The returned function unsubscribes.
func (b *Broadcaster) Subscribe(room string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	entry := subscriber{id: id, handler: handler}
	if room == "" {
		b.all = append(b.all, entry)
	} else {
		b.rooms[room] = append(b.rooms[room], entry)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if room == "" {
				b.all = remove(b.all, id)
				return
			}
			b.rooms[room] = remove(b.rooms[room], id)
			if len(b.rooms[room]) == 0 {
				delete(b.rooms, room)
			}
		})
	}
}

// Subscribers returns the number of subscribers for room
func (b *Broadcaster) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

func remove(subs []subscriber, id uint64) []subscriber {
	out := make([]subscriber, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Func adapts a plain function to Publisher
type Func func(ctx context.Context, room string, event models.StatusEvent)

// Publish implements Publisher
func (f Func) Publish(ctx context.Context, room string, event models.StatusEvent) {
	f(ctx, room, event)
}
