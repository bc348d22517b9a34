package pipeline

import (
	"context"
	"fmt"

	"splat-orchestrator/core/events"
	"splat-orchestrator/core/models"
	rm "splat-orchestrator/core/resource_manager"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InstanceFinder locates the running instance a job should use
type InstanceFinder interface {
	FindActiveInstance(ctx context.Context, allowedTypes, allowedRegions []string) (*models.Instance, error)
}

// DatasetChecker confirms a project's dataset exists before any remote work
type DatasetChecker interface {
	CheckDataset(ctx context.Context, key models.JobKey) error
}

// TrainerConfig lists the instance allow-lists
type TrainerConfig struct {
	InstanceTypes []string
	Regions       []string
}

// Trainer starts jobs on the active instance, one per room at a time
type Trainer struct {
	finder    InstanceFinder
	datasets  DatasetChecker
	seq       *Sequencer
	publisher events.Publisher
	locks     *RoomLocks
	tracker   *Tracker
	cfg       TrainerConfig
}

// NewTrainer wires a trainer. datasets and tracker may be nil.
func NewTrainer(finder InstanceFinder, datasets DatasetChecker, seq *Sequencer, publisher events.Publisher, tracker *Tracker, cfg TrainerConfig) *Trainer {
	return &Trainer{
		finder:    finder,
		datasets:  datasets,
		seq:       seq,
		publisher: publisher,
		locks:     NewRoomLocks(),
		tracker:   tracker,
		cfg:       cfg,
	}
}

// Train runs the full pipeline for key and blocks until it ends. The
// caller's cancellation is not propagated; use Cancel to stop a job.
func (t *Trainer) Train(ctx context.Context, key models.JobKey) (*models.JobResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	room := key.Room()
	jobID := uuid.New().String()

	runCtx, release, err := t.locks.Acquire(context.WithoutCancel(ctx), key, jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	inst, err := t.finder.FindActiveInstance(runCtx, t.cfg.InstanceTypes, t.cfg.Regions)
	if err != nil {
		t.fail(runCtx, room, jobID, fmt.Sprintf("Failed to look up instances: %v", err))
		return nil, fmt.Errorf("failed to find active instance: %w", err)
	}
	if inst == nil {
		t.fail(runCtx, room, jobID, "No running instance found. Please start an instance first.")
		return nil, rm.ErrNoActiveInstance
	}

	if t.datasets != nil {
		if err := t.datasets.CheckDataset(runCtx, key); err != nil {
			t.fail(runCtx, room, jobID, fmt.Sprintf("Dataset check failed: %v", err))
			return nil, err
		}
	}

	log.Info().Str("room", room).Str("job_id", jobID).Str("instance_id", inst.ID).Msg("found running instance")
	return t.seq.Run(runCtx, key, inst.IP, jobID)
}

func (t *Trainer) fail(ctx context.Context, room, jobID, msg string) {
	t.publisher.Publish(ctx, room, models.StatusEvent{
		JobID:   jobID,
		Step:    models.StepOverall,
		Status:  models.StatusError,
		Message: msg,
	})
}

// Cancel aborts the job running for key
func (t *Trainer) Cancel(key models.JobKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	jobID, err := t.locks.Cancel(key)
	if err != nil {
		return "", err
	}
	log.Info().Str("room", key.Room()).Str("job_id", jobID).Msg("training cancel requested")
	return jobID, nil
}

// Snapshot returns the latest tracked state for key
func (t *Trainer) Snapshot(key models.JobKey) (models.JobSnapshot, bool) {
	if t.tracker == nil {
		return models.JobSnapshot{}, false
	}
	snap, ok := t.tracker.Snapshot(key.Room())
	if ok {
		_, snap.Running = t.locks.JobID(key)
	}
	return snap, ok
}
