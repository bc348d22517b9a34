package pipeline

import (
	"context"
	"sync"

	"splat-orchestrator/core/models"
)

// Tracker keeps the latest snapshot per room. Subscribe Handle to every
// room of the broadcaster.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]models.JobSnapshot
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]models.JobSnapshot)}
}

// Handle folds event into the room's snapshot
func (t *Tracker) Handle(_ context.Context, e models.StatusEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.rooms[e.Room]
	if e.Step == models.StepOverall && e.Status == models.StatusStarted {
		snap = models.JobSnapshot{Room: e.Room, StartedAt: e.Timestamp, Running: true}
	}
	if e.JobID != "" {
		snap.JobID = e.JobID
	}
	snap.Room = e.Room
	snap.UpdatedAt = e.Timestamp

	if e.Status == models.StatusHeartbeat {
		t.rooms[e.Room] = snap
		return nil
	}

	snap.Step = e.Step
	snap.Status = e.Status
	snap.Message = e.Message
	if e.ViewerURL != "" {
		snap.ViewerURL = e.ViewerURL
	}
	if e.Step == models.StepTrain && (e.Status == models.StatusCompleted || e.Status == models.StatusError) {
		snap.ViewerURL = ""
	}
	if e.ViewerActive != nil && !*e.ViewerActive {
		snap.ViewerURL = ""
	}
	if e.SplatPath != "" {
		snap.SplatPath = e.SplatPath
	}
	if e.Step == models.StepOverall && e.Status.Terminal() {
		snap.Running = false
		snap.ViewerURL = ""
	}
	t.rooms[e.Room] = snap
	return nil
}

// Snapshot returns the latest state of room
func (t *Tracker) Snapshot(room string) (models.JobSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.rooms[room]
	return snap, ok
}
