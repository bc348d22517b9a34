package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"splat-orchestrator/core/models"
)

func TestTrackerClearsViewerURL(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed := []models.StatusEvent{
		{Room: "u1_garden", JobID: "j1", Step: models.StepOverall, Status: models.StatusStarted, Timestamp: t0},
		{Room: "u1_garden", JobID: "j1", Step: models.StepTrain, Status: models.StatusRunning, ViewerURL: "http://10.0.0.5:7007", Timestamp: t0.Add(time.Minute)},
		{Room: "u1_garden", JobID: "j1", Step: models.StepTrain, Status: models.StatusHeartbeat, Timestamp: t0.Add(2 * time.Minute)},
	}
	for _, e := range feed {
		tr.Handle(ctx, e)
	}

	snap, ok := tr.Snapshot("u1_garden")
	if !ok {
		t.Fatal("no snapshot")
	}
	if snap.ViewerURL != "http://10.0.0.5:7007" || snap.Status != models.StatusRunning || !snap.Running {
		t.Errorf("during train: %+v", snap)
	}
	if !snap.UpdatedAt.Equal(t0.Add(2*time.Minute)) || !snap.StartedAt.Equal(t0) {
		t.Errorf("timestamps: %+v", snap)
	}

	tr.Handle(ctx, models.StatusEvent{Room: "u1_garden", Step: models.StepTrain, Status: models.StatusError, Message: "boom"})
	snap, _ = tr.Snapshot("u1_garden")
	if snap.ViewerURL != "" {
		t.Errorf("viewerUrl not cleared after train error: %q", snap.ViewerURL)
	}
	if snap.JobID != "j1" {
		t.Errorf("JobID = %q", snap.JobID)
	}

	tr.Handle(ctx, models.StatusEvent{Room: "u1_garden", Step: models.StepOverall, Status: models.StatusError})
	snap, _ = tr.Snapshot("u1_garden")
	if snap.Running {
		t.Error("snapshot still running after overall error")
	}
}

func TestTrackerNewRunResets(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	tr.Handle(ctx, models.StatusEvent{Room: "r", Step: models.StepFinal, Status: models.StatusCompleted, SplatPath: "u/p/p-mesh/point_cloud.splat"})
	tr.Handle(ctx, models.StatusEvent{Room: "r", JobID: "j2", Step: models.StepOverall, Status: models.StatusStarted})

	snap, _ := tr.Snapshot("r")
	if snap.SplatPath != "" || snap.JobID != "j2" {
		t.Errorf("snapshot not reset: %+v", snap)
	}
	if _, ok := tr.Snapshot("other"); ok {
		t.Error("unexpected snapshot for unknown room")
	}
}

func TestRoomLocks(t *testing.T) {
	locks := NewRoomLocks()
	r := models.JobKey{UserID: "u1", ProjectName: "r"}
	ctx, release, err := locks.Acquire(context.Background(), r, "j1")
	if err != nil {
		t.Fatalf("Acquire() err=%v", err)
	}
	if _, _, err := locks.Acquire(context.Background(), r, "j2"); !errors.Is(err, ErrJobInProgress) {
		t.Errorf("second Acquire() err=%v, want ErrJobInProgress", err)
	}
	other := models.JobKey{UserID: "u1", ProjectName: "other"}
	if _, rel, err := locks.Acquire(context.Background(), other, "j3"); err != nil {
		t.Errorf("other key Acquire() err=%v", err)
	} else {
		rel()
	}

	id, err := locks.Cancel(r)
	if err != nil || id != "j1" {
		t.Fatalf("Cancel() = %q, %v", id, err)
	}
	if !errors.Is(context.Cause(ctx), ErrCancelled) {
		t.Errorf("cause = %v, want ErrCancelled", context.Cause(ctx))
	}

	release()
	release()
	if _, ok := locks.JobID(r); ok {
		t.Error("key still locked after release")
	}
	if _, rel, err := locks.Acquire(context.Background(), r, "j4"); err != nil {
		t.Errorf("Acquire() after release err=%v", err)
	} else {
		rel()
	}
}

func TestRoomLocksSameRoomNameDistinctKeys(t *testing.T) {
	locks := NewRoomLocks()
	a := models.JobKey{UserID: "a_b", ProjectName: "c"}
	b := models.JobKey{UserID: "a", ProjectName: "b_c"}
	if a.Room() != b.Room() {
		t.Fatalf("rooms differ: %q %q", a.Room(), b.Room())
	}

	_, relA, err := locks.Acquire(context.Background(), a, "j1")
	if err != nil {
		t.Fatalf("Acquire(a) err=%v", err)
	}
	defer relA()
	_, relB, err := locks.Acquire(context.Background(), b, "j2")
	if err != nil {
		t.Fatalf("Acquire(b) err=%v, want no conflict", err)
	}
	defer relB()

	if id, _ := locks.Cancel(b); id != "j2" {
		t.Errorf("Cancel(b) = %q, want j2", id)
	}
	if id, ok := locks.JobID(a); !ok || id != "j1" {
		t.Errorf("JobID(a) = %q, %v; want j1 still running", id, ok)
	}
}

func TestParseConvertMode(t *testing.T) {
	for in, want := range map[string]ConvertMode{"": ConvertRemote, "remote": ConvertRemote, "LOCAL": ConvertLocal} {
		if got, err := ParseConvertMode(in); err != nil || got != want {
			t.Errorf("ParseConvertMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseConvertMode("gpu"); err == nil {
		t.Error("expected error")
	}
}
