package pipeline

import (
	"context"
	"sync"

	"splat-orchestrator/core/models"
)

type activeRun struct {
	jobID  string
	cancel context.CancelCauseFunc
}

// RoomLocks allows at most one job per room. It is keyed on the JobKey
// itself, not on the joined room name.
type RoomLocks struct {
	mu     sync.Mutex
	active map[models.JobKey]activeRun
}

// NewRoomLocks creates an empty lock table
func NewRoomLocks() *RoomLocks {
	return &RoomLocks{active: make(map[models.JobKey]activeRun)}
}

// Acquire claims key for jobID. It fails fast with ErrJobInProgress when
// the key is busy. The returned context is cancelled by Cancel(key) with
// cause ErrCancelled; release must be called on every path.
func (l *RoomLocks) Acquire(ctx context.Context, key models.JobKey, jobID string) (context.Context, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.active[key]; busy {
		return nil, nil, ErrJobInProgress
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	l.active[key] = activeRun{jobID: jobID, cancel: cancel}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			if cur, ok := l.active[key]; ok && cur.jobID == jobID {
				delete(l.active, key)
			}
			l.mu.Unlock()
			cancel(nil)
		})
	}
	return runCtx, release, nil
}

// Cancel aborts the job running for key and returns its id
func (l *RoomLocks) Cancel(key models.JobKey) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.active[key]
	if !ok {
		return "", ErrNoJob
	}
	run.cancel(ErrCancelled)
	return run.jobID, nil
}

// JobID returns the id of the job running for key, if any
func (l *RoomLocks) JobID(key models.JobKey) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.active[key]
	return run.jobID, ok
}
