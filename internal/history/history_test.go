package history

import (
	"testing"
	"time"

	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return NewStore(db, nil)
}

func appendEvent(t *testing.T, s *Store, e models.JobEvent) {
	t.Helper()
	if err := s.Append(e); err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

// lifecycle appends the full queued→running→terminal trail for one job.
func lifecycle(t *testing.T, s *Store, jobID, batchID string, final models.JobState, at time.Time) {
	t.Helper()
	states := []models.JobState{models.StateQueued, models.StateRunning, final}
	for i, st := range states {
		appendEvent(t, s, models.JobEvent{
			JobID:     jobID,
			BatchID:   batchID,
			Kind:      models.KindSingleTrack,
			State:     st,
			SourceRef: "https://youtube.com/watch?v=" + jobID,
			Attempt:   1,
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
	}
}

func TestStore(t *testing.T) {
	t.Run("append fills id and timestamp", func(t *testing.T) {
		s := newTestStore(t)
		appendEvent(t, s, models.JobEvent{JobID: "j1", Kind: models.KindSingleTrack, State: models.StateQueued})

		events, err := s.ByJob("j1")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected one event, got %d", len(events))
		}
		if events[0].ID == "" || events[0].CreatedAt.IsZero() {
			t.Errorf("expected generated id and timestamp: %+v", events[0])
		}
	})

	t.Run("by job preserves order", func(t *testing.T) {
		s := newTestStore(t)
		lifecycle(t, s, "j1", "", models.StateSucceeded, time.Now())

		events, err := s.ByJob("j1")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("expected three events, got %d", len(events))
		}
		if events[0].State != models.StateQueued || events[2].State != models.StateSucceeded {
			t.Errorf("events out of order: %v %v", events[0].State, events[2].State)
		}
	})

	t.Run("by batch spans jobs", func(t *testing.T) {
		s := newTestStore(t)
		lifecycle(t, s, "j1", "b1", models.StateSucceeded, time.Now())
		lifecycle(t, s, "j2", "b1", models.StateFailed, time.Now())
		lifecycle(t, s, "j3", "other", models.StateSucceeded, time.Now())

		events, err := s.ByBatch("b1")
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 6 {
			t.Errorf("expected six events for the batch, got %d", len(events))
		}
	})

	t.Run("recent is newest first and capped", func(t *testing.T) {
		s := newTestStore(t)
		for i := 0; i < 5; i++ {
			appendEvent(t, s, models.JobEvent{
				JobID: shared.GenerateID(),
				Kind:  models.KindSingleTrack,
				State: models.StateQueued,
			})
		}

		events, err := s.Recent(3)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 3 {
			t.Errorf("expected limit of 3, got %d", len(events))
		}
	})

	t.Run("range bounds are half open", func(t *testing.T) {
		s := newTestStore(t)
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 4; i++ {
			appendEvent(t, s, models.JobEvent{
				JobID:     shared.GenerateID(),
				Kind:      models.KindSingleTrack,
				State:     models.StateQueued,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			})
		}

		events, err := s.Range(base.Add(time.Hour), base.Add(3*time.Hour))
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 2 {
			t.Errorf("expected two events in range, got %d", len(events))
		}
	})

	t.Run("open jobs ignores settled ones", func(t *testing.T) {
		s := newTestStore(t)
		lifecycle(t, s, "done", "", models.StateSucceeded, time.Now())
		appendEvent(t, s, models.JobEvent{JobID: "waiting", Kind: models.KindSingleTrack, State: models.StateQueued})
		appendEvent(t, s, models.JobEvent{JobID: "inflight", Kind: models.KindSingleTrack, State: models.StateQueued})
		appendEvent(t, s, models.JobEvent{JobID: "inflight", Kind: models.KindSingleTrack, State: models.StateRunning})

		open, err := s.OpenJobs()
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(open) != 2 {
			t.Fatalf("expected two open jobs, got %d", len(open))
		}
		states := map[string]models.JobState{}
		for _, e := range open {
			states[e.JobID] = e.State
		}
		if states["waiting"] != models.StateQueued || states["inflight"] != models.StateRunning {
			t.Errorf("unexpected open states: %v", states)
		}
	})
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	lifecycle(t, s, "ok1", "", models.StateSucceeded, now.Add(-time.Minute))
	lifecycle(t, s, "ok2", "", models.StateSucceeded, now.Add(-time.Minute))
	lifecycle(t, s, "bad", "", models.StateFailed, now.Add(-time.Minute))
	appendEvent(t, s, models.JobEvent{JobID: "live", Kind: models.KindSingleTrack, State: models.StateRunning})

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	if stats.ActiveJobs != 1 {
		t.Errorf("active: got %d, want 1", stats.ActiveJobs)
	}
	if stats.FailedJobs != 1 {
		t.Errorf("failed: got %d, want 1", stats.FailedJobs)
	}
	if stats.TotalDownloads != 3 || stats.Succeeded != 2 {
		t.Errorf("totals: got %d/%d, want 3/2", stats.TotalDownloads, stats.Succeeded)
	}
	if stats.SuccessRate < 66 || stats.SuccessRate > 67 {
		t.Errorf("success rate: got %f", stats.SuccessRate)
	}
	if stats.TodayDownloads != 3 {
		t.Errorf("today: got %d, want 3", stats.TodayDownloads)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)

	lifecycle(t, s, "stale", "", models.StateSucceeded, old)
	lifecycle(t, s, "fresh", "", models.StateSucceeded, time.Now())
	// Old but never settled: must survive cleanup.
	appendEvent(t, s, models.JobEvent{
		JobID: "stuck", Kind: models.KindSingleTrack,
		State: models.StateQueued, CreatedAt: old,
	})

	removed, err := s.Cleanup(24 * time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected three rows removed, got %d", removed)
	}

	if events, _ := s.ByJob("stale"); len(events) != 0 {
		t.Error("stale job events should be gone")
	}
	if events, _ := s.ByJob("fresh"); len(events) != 3 {
		t.Error("fresh job events should survive")
	}
	if events, _ := s.ByJob("stuck"); len(events) != 1 {
		t.Error("unsettled job events should survive")
	}
}
