package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"splat-orchestrator/core/models"

	"github.com/google/go-cmp/cmp"
)

type memoryWriter struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (m *memoryWriter) RecordEvent(ctx context.Context, e models.StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database is down")
	}
	m.ids = append(m.ids, e.ID)
	return nil
}

func TestJournalDrainsOnClose(t *testing.T) {
	w := &memoryWriter{}
	j := NewJournal(w, 8)
	for _, id := range []string{"a", "b", "c"} {
		j.Handle(context.Background(), models.StatusEvent{ID: id, Room: "r"})
	}

	done := make(chan struct{})
	go func() {
		j.Run(context.Background())
		close(done)
	}()
	j.Close()
	j.Close()
	<-done

	if diff := cmp.Diff([]string{"a", "b", "c"}, w.ids); diff != "" {
		t.Errorf("recorded ids mismatch (-want +got):\n%s", diff)
	}
}

func TestJournalDropsWhenFull(t *testing.T) {
	w := &memoryWriter{}
	j := NewJournal(w, 1)
	j.Handle(context.Background(), models.StatusEvent{ID: "kept"})
	if err := j.Handle(context.Background(), models.StatusEvent{ID: "dropped"}); err != nil {
		t.Fatalf("Handle() err=%v", err)
	}
	j.Close()
	j.Run(context.Background())

	if diff := cmp.Diff([]string{"kept"}, w.ids); diff != "" {
		t.Errorf("recorded ids mismatch (-want +got):\n%s", diff)
	}
}

func TestJournalSurvivesWriteErrors(t *testing.T) {
	w := &memoryWriter{fail: true}
	j := NewJournal(w, 4)
	j.Handle(context.Background(), models.StatusEvent{ID: "x"})
	j.Close()
	j.Run(context.Background())
	if len(w.ids) != 0 {
		t.Errorf("recorded %v", w.ids)
	}
}
