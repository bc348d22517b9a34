package repository

import (
	"context"
	"sync"
	"time"

	"splat-orchestrator/core/models"

	"github.com/rs/zerolog/log"
)

// EventWriter persists events
type EventWriter interface {
	RecordEvent(ctx context.Context, event models.StatusEvent) error
}

// Journal persists broadcast events off the publish path. Handle never
// blocks: when the buffer is full the event is dropped and logged.
type Journal struct {
	writer  EventWriter
	queue   chan models.StatusEvent
	timeout time.Duration

	once sync.Once
	done chan struct{}
}

// NewJournal creates a journal with a queue of size buffer
func NewJournal(writer EventWriter, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	return &Journal{
		writer:  writer,
		queue:   make(chan models.StatusEvent, buffer),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

// Handle enqueues event; subscribe it to every room
func (j *Journal) Handle(_ context.Context, event models.StatusEvent) error {
	select {
	case j.queue <- event:
	default:
		log.Warn().Str("room", event.Room).Str("step", string(event.Step)).Msg("event journal full, dropping event")
	}
	return nil
}

// Run writes queued events until Close is called, then drains the queue
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case event := <-j.queue:
			j.write(event)
		case <-j.done:
			for {
				select {
				case event := <-j.queue:
					j.write(event)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops Run after the queued events are written
func (j *Journal) Close() {
	j.once.Do(func() { close(j.done) })
}

func (j *Journal) write(event models.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.writer.RecordEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("room", event.Room).Str("event_id", event.ID).Msg("failed to record event")
	}
}
