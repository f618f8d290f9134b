package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lucky-verma/music-discovery/internal/fetch"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// scriptRunner replays a per-ref sequence of errors; a nil entry (or an
// exhausted script) means success.
type scriptRunner struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int

	// block, when set, holds every run until the channel closes or the
	// job's context fires.
	block chan struct{}
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{
		scripts: make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (r *scriptRunner) script(ref string, outcomes ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[ref] = outcomes
}

func (r *scriptRunner) callCount(ref string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[ref]
}

func (r *scriptRunner) Run(ctx context.Context, job *models.Job) ([]string, error) {
	if r.block != nil {
		select {
		case <-ctx.Done():
			return nil, fetch.Classify(ctx, job.SourceRef, ctx.Err(), "")
		case <-r.block:
		}
	}

	r.mu.Lock()
	n := r.calls[job.SourceRef]
	r.calls[job.SourceRef] = n + 1
	script := r.scripts[job.SourceRef]
	r.mu.Unlock()

	if n < len(script) && script[n] != nil {
		return nil, script[n]
	}
	return []string{"/music/library/a/b/track.mp3"}, nil
}

type memorySink struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (m *memorySink) Append(event models.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memorySink) states(jobID string) []models.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var states []models.JobState
	for _, e := range m.events {
		if e.JobID == jobID {
			states = append(states, e.State)
		}
	}
	return states
}

func transientErr(ref string) error {
	return &fetch.FetchError{Kind: fetch.KindTransientNetwork, Ref: ref, Err: errors.New("connection reset")}
}

func newTestScheduler(t *testing.T, runner Runner, sink EventSink) *Scheduler {
	t.Helper()
	cfg := shared.DownloadsConfig{Workers: 2, BulkRate: 1000, RetryCeiling: 3}
	s := NewScheduler(cfg, runner, sink, nil)
	s.backoffFn = func(int, fetch.ErrorKind) time.Duration { return time.Millisecond }
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func waitTerminal(t *testing.T, s *Scheduler, jobID string) models.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			job, _ := s.Job(jobID)
			t.Fatalf("job %s never settled, last state %s", jobID, job.State)
		case <-time.After(2 * time.Millisecond):
		}
		job, err := s.Job(jobID)
		if err != nil {
			t.Fatalf("job lookup failed: %v", err)
		}
		if job.State.Terminal() {
			return job
		}
	}
}

func TestSubmit(t *testing.T) {
	t.Run("single track succeeds", func(t *testing.T) {
		runner := newScriptRunner()
		sink := &memorySink{}
		s := newTestScheduler(t, runner, sink)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "ok"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateSucceeded {
			t.Fatalf("expected succeeded, got %s (%s)", settled.State, settled.Error)
		}
		if settled.Attempt != 1 {
			t.Errorf("expected one attempt, got %d", settled.Attempt)
		}
		if len(settled.ResultPaths) != 1 {
			t.Errorf("expected a result path, got %v", settled.ResultPaths)
		}

		want := []models.JobState{models.StateQueued, models.StateRunning, models.StateSucceeded}
		got := sink.states(job.ID)
		if len(got) != len(want) {
			t.Fatalf("event trail %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("event trail %v, want %v", got, want)
			}
		}
	})

	t.Run("rejects job without a source", func(t *testing.T) {
		s := newTestScheduler(t, newScriptRunner(), nil)
		err := s.Submit(&models.Job{Kind: models.KindSingleTrack})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input, got %v", err)
		}
	})

	t.Run("rejected after stop", func(t *testing.T) {
		s := NewScheduler(shared.DownloadsConfig{}, newScriptRunner(), nil, nil)
		s.Start(context.Background())
		s.Stop()

		err := s.Submit(&models.Job{Kind: models.KindSingleTrack, SourceRef: "late"})
		if !errors.Is(err, shared.ErrQueueClosed) {
			t.Errorf("expected queue closed, got %v", err)
		}
	})
}

func TestRetryPolicy(t *testing.T) {
	t.Run("transient failures retry until success", func(t *testing.T) {
		runner := newScriptRunner()
		runner.script("flaky", transientErr("flaky"), transientErr("flaky"), nil)
		sink := &memorySink{}
		s := newTestScheduler(t, runner, sink)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "flaky"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateSucceeded {
			t.Fatalf("expected succeeded, got %s (%s)", settled.State, settled.Error)
		}
		if settled.Attempt != 3 {
			t.Errorf("expected three attempts, got %d", settled.Attempt)
		}

		retrying := 0
		for _, st := range sink.states(job.ID) {
			if st == models.StateRetrying {
				retrying++
			}
		}
		if retrying != 2 {
			t.Errorf("expected two retrying events, got %d", retrying)
		}
	})

	t.Run("attempts never exceed the ceiling", func(t *testing.T) {
		runner := newScriptRunner()
		runner.script("dead",
			transientErr("dead"), transientErr("dead"), transientErr("dead"),
			transientErr("dead"), transientErr("dead"))
		s := newTestScheduler(t, runner, nil)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "dead"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateFailed {
			t.Fatalf("expected failed, got %s", settled.State)
		}
		if settled.Attempt != 3 {
			t.Errorf("expected exactly three attempts, got %d", settled.Attempt)
		}
		if settled.ErrorKind != string(fetch.KindTransientNetwork) {
			t.Errorf("unexpected error kind %q", settled.ErrorKind)
		}
	})

	t.Run("not found fails immediately", func(t *testing.T) {
		runner := newScriptRunner()
		runner.script("gone", &fetch.FetchError{Kind: fetch.KindNotFound, Ref: "gone", Err: errors.New("video unavailable")})
		s := newTestScheduler(t, runner, nil)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "gone"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateFailed || settled.Attempt != 1 {
			t.Errorf("expected failed on first attempt, got %s attempt %d", settled.State, settled.Attempt)
		}
	})

	t.Run("unknown failures retry once", func(t *testing.T) {
		runner := newScriptRunner()
		unknown := &fetch.FetchError{Kind: fetch.KindUnknown, Ref: "odd", Err: errors.New("boom")}
		runner.script("odd", unknown, unknown, unknown)
		s := newTestScheduler(t, runner, nil)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "odd"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateFailed || settled.Attempt != 2 {
			t.Errorf("expected failure after one retry, got %s attempt %d", settled.State, settled.Attempt)
		}
	})

	t.Run("uncategorized errors never retry", func(t *testing.T) {
		runner := newScriptRunner()
		runner.script("disk", errors.New("organize /x: disk_full: no space left on device"))
		s := newTestScheduler(t, runner, nil)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "disk"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateFailed || settled.Attempt != 1 {
			t.Errorf("expected immediate failure, got %s attempt %d", settled.State, settled.Attempt)
		}
	})
}

func TestCancel(t *testing.T) {
	t.Run("queued job settles without running", func(t *testing.T) {
		runner := newScriptRunner()
		runner.block = make(chan struct{})
		cfg := shared.DownloadsConfig{Workers: 1, RetryCeiling: 3}
		s := NewScheduler(cfg, runner, nil, nil)
		s.backoffFn = func(int, fetch.ErrorKind) time.Duration { return time.Millisecond }
		s.Start(context.Background())
		defer s.Stop()

		blocker := &models.Job{Kind: models.KindSingleTrack, SourceRef: "blocker"}
		if err := s.Submit(blocker); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		waiting := &models.Job{Kind: models.KindSingleTrack, SourceRef: "waiting"}
		if err := s.Submit(waiting); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		if err := s.Cancel(waiting.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		settled := waitTerminal(t, s, waiting.ID)
		if settled.State != models.StateFailed || settled.ErrorKind != string(fetch.KindCancelled) {
			t.Errorf("expected cancelled failure, got %s/%s", settled.State, settled.ErrorKind)
		}

		close(runner.block)
		waitTerminal(t, s, blocker.ID)
		if runner.callCount("waiting") != 0 {
			t.Error("cancelled job must never reach the runner")
		}
	})

	t.Run("running job is interrupted", func(t *testing.T) {
		runner := newScriptRunner()
		runner.block = make(chan struct{})
		s := newTestScheduler(t, runner, nil)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "live"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		// Wait until a worker picks it up.
		deadline := time.After(5 * time.Second)
		for {
			j, _ := s.Job(job.ID)
			if j.State == models.StateRunning {
				break
			}
			select {
			case <-deadline:
				t.Fatal("job never started running")
			case <-time.After(2 * time.Millisecond):
			}
		}

		if err := s.Cancel(job.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateFailed || settled.ErrorKind != string(fetch.KindCancelled) {
			t.Errorf("expected cancelled failure, got %s/%s", settled.State, settled.ErrorKind)
		}
	})

	t.Run("terminal job is not cancelable", func(t *testing.T) {
		s := newTestScheduler(t, newScriptRunner(), nil)
		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "ok"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		waitTerminal(t, s, job.ID)

		if err := s.Cancel(job.ID); !errors.Is(err, shared.ErrJobNotCancelable) {
			t.Errorf("expected not cancelable, got %v", err)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		s := newTestScheduler(t, newScriptRunner(), nil)
		if err := s.Cancel("nope"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestManualRetry(t *testing.T) {
	t.Run("failed job restarts under a fresh id", func(t *testing.T) {
		runner := newScriptRunner()
		runner.script("sometimes",
			&fetch.FetchError{Kind: fetch.KindNotFound, Ref: "sometimes", Err: errors.New("video unavailable")},
			nil)
		s := newTestScheduler(t, runner, nil)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "sometimes"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		waitTerminal(t, s, job.ID)

		fresh, err := s.Retry(job.ID)
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if fresh.ID == job.ID {
			t.Error("retry must mint a fresh job id")
		}

		settled := waitTerminal(t, s, fresh.ID)
		if settled.State != models.StateSucceeded || settled.Attempt != 1 {
			t.Errorf("expected fresh success, got %s attempt %d", settled.State, settled.Attempt)
		}

		// Original record is untouched.
		original, _ := s.Job(job.ID)
		if original.State != models.StateFailed {
			t.Errorf("original job mutated: %s", original.State)
		}
	})

	t.Run("only failed jobs are retryable", func(t *testing.T) {
		s := newTestScheduler(t, newScriptRunner(), nil)
		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "ok"}
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		waitTerminal(t, s, job.ID)

		if _, err := s.Retry(job.ID); !errors.Is(err, shared.ErrJobNotRetryable) {
			t.Errorf("expected not retryable, got %v", err)
		}
		if _, err := s.Retry("nope"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestBulkLane(t *testing.T) {
	runner := newScriptRunner()
	s := newTestScheduler(t, runner, nil)

	jobs := make([]*models.Job, 5)
	for i := range jobs {
		jobs[i] = &models.Job{Kind: models.KindBulkSync, SourceRef: "bulk"}
		if err := s.Submit(jobs[i]); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	for _, job := range jobs {
		settled := waitTerminal(t, s, job.ID)
		if settled.State != models.StateSucceeded {
			t.Errorf("bulk job %s: %s", job.ID, settled.State)
		}
	}
	if runner.callCount("bulk") != 5 {
		t.Errorf("expected 5 runs, got %d", runner.callCount("bulk"))
	}
}

func TestOnTerminal(t *testing.T) {
	runner := newScriptRunner()
	runner.script("flaky", transientErr("flaky"), nil)
	s := NewScheduler(shared.DownloadsConfig{Workers: 2, RetryCeiling: 3}, runner, nil, nil)
	s.backoffFn = func(int, fetch.ErrorKind) time.Duration { return time.Millisecond }

	var mu sync.Mutex
	seen := map[string]int{}
	s.OnTerminal = func(job models.Job) {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
	}
	s.Start(context.Background())
	defer s.Stop()

	a := &models.Job{Kind: models.KindSingleTrack, SourceRef: "ok"}
	b := &models.Job{Kind: models.KindSingleTrack, SourceRef: "flaky"}
	for _, job := range []*models.Job{a, b} {
		if err := s.Submit(job); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	waitTerminal(t, s, a.ID)
	waitTerminal(t, s, b.ID)

	mu.Lock()
	defer mu.Unlock()
	if seen[a.ID] != 1 || seen[b.ID] != 1 {
		t.Errorf("terminal hook counts: %v", seen)
	}
}

func TestBackoffShape(t *testing.T) {
	cfg := shared.DownloadsConfig{Workers: 1, RetryCeiling: 5, BackoffBase: 2, BackoffCap: 300}
	s := NewScheduler(cfg, newScriptRunner(), nil, nil)

	for attempt := 1; attempt <= 5; attempt++ {
		nominal := time.Duration(2<<(attempt-1)) * time.Second / 2 // base << (n-1), pre-jitter
		for i := 0; i < 20; i++ {
			d := s.backoff(attempt, fetch.KindTransientNetwork)
			if d < nominal {
				t.Fatalf("attempt %d: delay %v below jitter floor %v", attempt, d, nominal)
			}
			if d > 2*nominal {
				t.Fatalf("attempt %d: delay %v above nominal ceiling %v", attempt, d, 2*nominal)
			}
		}
	}

	t.Run("clamped to the cap", func(t *testing.T) {
		d := s.backoff(20, fetch.KindTransientNetwork)
		if d > 300*time.Second {
			t.Errorf("delay %v exceeds cap", d)
		}
	})

	t.Run("rate limited floor", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			if d := s.backoff(1, fetch.KindRateLimited); d < rateLimitedFloor/2 {
				t.Errorf("rate-limited delay %v below floor", d)
			}
		}
	})
}
