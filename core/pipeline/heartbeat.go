package pipeline

import (
	"context"
	"sync"
	"time"

	"splat-orchestrator/core/models"
)

// Ticker is the part of time.Ticker the heartbeat uses
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// TickerFactory creates tickers; tests substitute one that counts stops
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ *time.Ticker }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

// NewTicker wraps time.NewTicker
func NewTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// Heartbeat publishes a heartbeat event for the current step on every tick
// until stopped. Stop may be called any number of times.
type Heartbeat struct {
	ticker  Ticker
	publish func(step models.Step)

	mu   sync.Mutex
	step models.Step

	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

func startHeartbeat(ctx context.Context, newTicker TickerFactory, interval time.Duration, publish func(models.Step)) *Heartbeat {
	h := &Heartbeat{
		ticker:  newTicker(interval),
		publish: publish,
		step:    models.StepStarting,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.loop(ctx)
	return h
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		case <-h.ticker.Chan():
			h.publish(h.Step())
		}
	}
}

// SetStep changes the step named by subsequent heartbeats
func (h *Heartbeat) SetStep(step models.Step) {
	h.mu.Lock()
	h.step = step
	h.mu.Unlock()
}

// Step returns the current step
func (h *Heartbeat) Step() models.Step {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step
}

// Stop stops the ticker and waits for the loop to exit. No heartbeat is
// published after Stop returns.
func (h *Heartbeat) Stop() {
	h.once.Do(func() {
		close(h.done)
		h.ticker.Stop()
		<-h.stopped
	})
}
