// package queue schedules download jobs over a fixed worker pool.
//
// Two admission lanes feed the pool: an interactive lane for single tracks
// and playlists, and a rate-limited bulk lane for library syncs so a large
// sync never starves a track the user just asked for. Retryable failures
// re-enter their lane after an exponential backoff with jitter.
package queue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/lucky-verma/music-discovery/internal/fetch"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

const (
	defaultWorkers  = 3
	defaultBulkRate = 0.5
	defaultCeiling  = 3
	laneBuffer      = 1024

	// rateLimitedFloor is the minimum backoff after an upstream 429;
	// hammering a throttled endpoint on the normal schedule only extends
	// the throttle.
	rateLimitedFloor = 30 * time.Second
)

// Runner executes one job: fetch the audio and commit it to the library.
// Returned paths become the job's result paths.
type Runner interface {
	Run(ctx context.Context, job *models.Job) ([]string, error)
}

// EventSink receives one event per job state transition.
type EventSink interface {
	Append(event models.JobEvent) error
}

// ProgressUpdate is a lightweight notification sent on every transition.
type ProgressUpdate struct {
	JobID   string
	BatchID string
	State   models.JobState
	Attempt int
	Message string
}

// handle pairs a job with its cancellation hook. The job is mutated only
// under the scheduler's lock.
type handle struct {
	job    *models.Job
	ctx    context.Context
	cancel context.CancelFunc
}

// Scheduler owns the worker pool and the job registry.
type Scheduler struct {
	cfg    shared.DownloadsConfig
	runner Runner
	sink   EventSink
	logger *log.Logger

	// OnTerminal, when set before Start, is invoked once per job as it
	// reaches a terminal state. Called outside the scheduler lock.
	OnTerminal func(job models.Job)

	interactive chan *handle
	bulkIntake  chan *handle
	admitted    chan *handle
	limiter     *rate.Limiter
	progress    chan ProgressUpdate

	mu       sync.Mutex
	registry map[string]*handle
	closed   bool

	// backoffFn is swapped out in tests to avoid real waits.
	backoffFn func(attempt int, kind fetch.ErrorKind) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a stopped scheduler; call Start before submitting.
func NewScheduler(cfg shared.DownloadsConfig, runner Runner, sink EventSink, logger *log.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BulkRate <= 0 {
		cfg.BulkRate = defaultBulkRate
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = defaultCeiling
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	s := &Scheduler{
		cfg:         cfg,
		runner:      runner,
		sink:        sink,
		logger:      shared.WithLogger(logger, "component", "queue"),
		interactive: make(chan *handle, laneBuffer),
		bulkIntake:  make(chan *handle, laneBuffer),
		admitted:    make(chan *handle),
		limiter:     rate.NewLimiter(rate.Limit(cfg.BulkRate), 1),
		progress:    make(chan ProgressUpdate, 64),
		registry:    make(map[string]*handle),
	}
	s.backoffFn = s.backoff
	return s
}

// Start launches the worker pool and the bulk-lane pump.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.pumpBulk()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info("scheduler started", "workers", s.cfg.Workers, "bulk_rate", s.cfg.BulkRate)
}

// Stop rejects further submissions, cancels in-flight work, and waits for
// the workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	close(s.progress)
	s.logger.Info("scheduler stopped")
}

// Progress exposes the transition feed. Slow consumers miss updates rather
// than stall the workers.
func (s *Scheduler) Progress() <-chan ProgressUpdate { return s.progress }

// Submit registers a job and admits it to its lane. Bulk-sync jobs go
// through the rate-limited lane, everything else is interactive.
func (s *Scheduler) Submit(job *models.Job) error {
	if job.SourceRef == "" && job.LocalPath == "" {
		return fmt.Errorf("%w: job needs a source ref or local path", shared.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.ErrQueueClosed
	}
	if job.ID == "" {
		job.ID = shared.GenerateID()
	}
	now := time.Now()
	job.State = models.StateQueued
	job.Attempt = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	jobCtx, jobCancel := context.WithCancel(s.ctx)
	h := &handle{job: job, ctx: jobCtx, cancel: jobCancel}
	s.registry[job.ID] = h
	s.mu.Unlock()

	s.record(h, "")
	s.enqueue(h)
	return nil
}

// Cancel aborts a job. Queued and retrying jobs settle immediately; running
// jobs are interrupted through their context and settle when the worker
// observes the cancellation.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	h, ok := s.registry[jobID]
	if !ok {
		s.mu.Unlock()
		return shared.ErrJobNotFound
	}
	if h.job.State.Terminal() {
		s.mu.Unlock()
		return shared.ErrJobNotCancelable
	}
	running := h.job.State == models.StateRunning
	s.mu.Unlock()

	h.cancel()
	if !running {
		s.settle(h, false, string(fetch.KindCancelled), "cancelled before start")
	}
	return nil
}

// Retry resubmits a failed job as a fresh one with a new id and a clean
// attempt counter. The original job's record is left untouched.
func (s *Scheduler) Retry(jobID string) (*models.Job, error) {
	s.mu.Lock()
	h, ok := s.registry[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, shared.ErrJobNotFound
	}
	if h.job.State != models.StateFailed {
		s.mu.Unlock()
		return nil, shared.ErrJobNotRetryable
	}
	fresh := &models.Job{
		Kind:      h.job.Kind,
		SourceRef: h.job.SourceRef,
		Quality:   h.job.Quality,
		Meta:      h.job.Meta,
		LocalPath: h.job.LocalPath,
	}
	s.mu.Unlock()

	if err := s.Submit(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(jobID string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.registry[jobID]
	if !ok {
		return models.Job{}, shared.ErrJobNotFound
	}
	return *h.job, nil
}

// Jobs returns a snapshot of every registered job.
func (s *Scheduler) Jobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]models.Job, 0, len(s.registry))
	for _, h := range s.registry {
		jobs = append(jobs, *h.job)
	}
	return jobs
}

func (s *Scheduler) enqueue(h *handle) {
	lane := s.interactive
	if h.job.Kind == models.KindBulkSync {
		lane = s.bulkIntake
	}
	select {
	case lane <- h:
	case <-s.ctx.Done():
	}
}

// pumpBulk admits bulk jobs to the pool at the configured rate.
func (s *Scheduler) pumpBulk() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case h := <-s.bulkIntake:
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
			select {
			case s.admitted <- h:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		// Drain the interactive lane before considering bulk work.
		select {
		case <-s.ctx.Done():
			return
		case h := <-s.interactive:
			s.process(id, h)
			continue
		default:
		}

		select {
		case <-s.ctx.Done():
			return
		case h := <-s.interactive:
			s.process(id, h)
		case h := <-s.admitted:
			s.process(id, h)
		}
	}
}

func (s *Scheduler) process(workerID int, h *handle) {
	s.mu.Lock()
	if h.job.State.Terminal() {
		// Cancelled while waiting in the lane.
		s.mu.Unlock()
		return
	}
	h.job.State = models.StateRunning
	h.job.Attempt++
	h.job.UpdatedAt = time.Now()
	attempt := h.job.Attempt
	s.mu.Unlock()
	s.record(h, "")

	s.logger.Debug("job started", "worker", workerID, "job", h.job.ID, "attempt", attempt)
	paths, err := s.runner.Run(h.ctx, h.job)
	if err == nil {
		s.mu.Lock()
		h.job.ResultPaths = paths
		s.mu.Unlock()
		s.settle(h, true, "", "")
		return
	}

	fe, categorized := fetch.AsFetchError(err)
	if categorized && fe.Retryable() && attempt < s.maxAttempts(fe.Kind) {
		s.scheduleRetry(h, fe)
		return
	}

	kind := "unknown"
	if categorized {
		kind = string(fe.Kind)
	}
	s.settle(h, false, kind, err.Error())
}

// scheduleRetry parks the job in the retrying state and re-admits it to its
// lane after the backoff delay. A shutdown mid-backoff drops the job; the
// startup reconcile pass picks it up again.
func (s *Scheduler) scheduleRetry(h *handle, fe *fetch.FetchError) {
	s.mu.Lock()
	h.job.State = models.StateRetrying
	h.job.Error = fe.Error()
	h.job.ErrorKind = string(fe.Kind)
	h.job.UpdatedAt = time.Now()
	attempt := h.job.Attempt
	s.mu.Unlock()
	s.record(h, fe.Error())

	delay := s.backoffFn(attempt, fe.Kind)
	s.logger.Warn("job retrying", "job", h.job.ID, "attempt", attempt, "kind", fe.Kind, "delay", delay)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-h.ctx.Done():
			s.settle(h, false, string(fetch.KindCancelled), "cancelled during backoff")
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if h.job.State.Terminal() {
			s.mu.Unlock()
			return
		}
		h.job.State = models.StateQueued
		h.job.UpdatedAt = time.Now()
		s.mu.Unlock()
		s.record(h, "")
		s.enqueue(h)
	}()
}

// settle moves a job to its terminal state and fires the terminal hook.
func (s *Scheduler) settle(h *handle, succeeded bool, errKind, errMsg string) {
	s.mu.Lock()
	if h.job.State.Terminal() {
		s.mu.Unlock()
		return
	}
	if succeeded {
		h.job.State = models.StateSucceeded
		h.job.Error = ""
		h.job.ErrorKind = ""
	} else {
		h.job.State = models.StateFailed
		h.job.Error = errMsg
		h.job.ErrorKind = errKind
	}
	h.job.UpdatedAt = time.Now()
	snapshot := *h.job
	s.mu.Unlock()
	s.record(h, errMsg)

	h.cancel()
	if snapshot.State == models.StateSucceeded {
		s.logger.Info("job succeeded", "job", snapshot.ID, "attempt", snapshot.Attempt)
	} else {
		s.logger.Error("job failed", "job", snapshot.ID, "attempt", snapshot.Attempt, "kind", errKind, "error", errMsg)
	}

	if s.OnTerminal != nil {
		s.OnTerminal(snapshot)
	}
}

// record appends a history event and publishes a progress update for the
// job's current state.
func (s *Scheduler) record(h *handle, msg string) {
	s.mu.Lock()
	event := models.JobEvent{
		JobID:     h.job.ID,
		BatchID:   h.job.BatchID,
		Kind:      h.job.Kind,
		State:     h.job.State,
		SourceRef: h.job.SourceRef,
		Attempt:   h.job.Attempt,
		ErrorKind: h.job.ErrorKind,
		ErrorMsg:  h.job.Error,
	}
	update := ProgressUpdate{
		JobID:   h.job.ID,
		BatchID: h.job.BatchID,
		State:   h.job.State,
		Attempt: h.job.Attempt,
		Message: msg,
	}
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.Append(event); err != nil {
			s.logger.Error("failed to record job event", "job", event.JobID, "error", err)
		}
	}

	select {
	case s.progress <- update:
	default:
	}
}

// maxAttempts applies the retry ceiling. Unknown failures get at most one
// retry regardless of the configured ceiling.
func (s *Scheduler) maxAttempts(kind fetch.ErrorKind) int {
	ceiling := s.cfg.RetryCeiling
	if kind == fetch.KindUnknown && ceiling > 2 {
		return 2
	}
	return ceiling
}

// backoff computes the delay before attempt+1: exponential in the attempt
// number, clamped to the ceiling, with equal jitter so a burst of failures
// does not retry in lockstep. Rate-limited failures never back off below
// rateLimitedFloor.
func (s *Scheduler) backoff(attempt int, kind fetch.ErrorKind) time.Duration {
	base := s.cfg.BackoffBaseDuration()
	if base <= 0 {
		base = 2 * time.Second
	}
	ceiling := s.cfg.BackoffCapDuration()
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}

	delay := base << (attempt - 1)
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	if kind == fetch.KindRateLimited && delay < rateLimitedFloor {
		delay = rateLimitedFloor
	}

	half := delay / 2
	return half + rand.N(half+1)
}
