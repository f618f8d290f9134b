// package orchestrator turns user-level requests into queue work.
//
// A playlist or library sync expands into one Batch of single-track jobs
// before anything is submitted; if the upstream resolve fails, the request
// aborts with no child job ever queued. Batch settlement is detected
// exactly once, on the terminal transition of the last child job.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// Resolver expands upstream references into track lists. Implemented by the
// catalog service clients.
type Resolver interface {
	Name() string
	ResolvePlaylist(ctx context.Context, ref string) ([]models.PlaylistItem, error)
	LikedTracks(ctx context.Context) ([]models.PlaylistItem, error)
}

// Submitter admits jobs to the download queue.
type Submitter interface {
	Submit(job *models.Job) error
}

// Notifier is poked whenever new audio lands in the library.
type Notifier interface {
	RequestScan()
}

// OrchestrationError is a request-level failure: the upstream reference
// could not be expanded, and no child job was created.
type OrchestrationError struct {
	Ref string
	Err error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestrate %s: %v", e.Ref, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// BatchStatus is a point-in-time snapshot of a batch.
type BatchStatus struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Expected    int64     `json:"expected"`
	Completed   int64     `json:"completed"`
	Failed      int64     `json:"failed"`
	Settled     bool      `json:"settled"`
	CreatedAt   time.Time `json:"created_at"`
}

// Orchestrator expands requests and tracks their batches.
type Orchestrator struct {
	queue    Submitter
	notifier Notifier
	quality  string
	logger   *log.Logger

	// OnBatchSettled, when set before any sync starts, observes each
	// batch exactly once as its last child job settles.
	OnBatchSettled func(status BatchStatus)

	mu      sync.Mutex
	batches map[string]*models.Batch
}

// New wires the orchestrator to the queue and the rescan notifier. The
// scheduler's terminal hook must be pointed at [Orchestrator.JobTerminal].
func New(queue Submitter, notifier Notifier, quality string, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Orchestrator{
		queue:    queue,
		notifier: notifier,
		quality:  quality,
		logger:   shared.WithLogger(logger, "component", "orchestrator"),
		batches:  make(map[string]*models.Batch),
	}
}

// DownloadTrack queues a single-track download. No batch is created.
func (o *Orchestrator) DownloadTrack(sourceRef, quality string, meta models.TrackMetadata) (*models.Job, error) {
	if sourceRef == "" {
		return nil, fmt.Errorf("%w: source ref", shared.ErrMissingArgument)
	}
	job := &models.Job{
		Kind:      models.KindSingleTrack,
		SourceRef: sourceRef,
		Quality:   o.pickQuality(quality),
		Meta:      meta,
	}
	if err := o.queue.Submit(job); err != nil {
		return nil, err
	}
	return job, nil
}

// ImportFile queues an organize-only job for a file already on disk.
func (o *Orchestrator) ImportFile(path string) (*models.Job, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	job := &models.Job{
		Kind:      models.KindImport,
		SourceRef: path,
		LocalPath: path,
	}
	if err := o.queue.Submit(job); err != nil {
		return nil, err
	}
	return job, nil
}

// SyncPlaylist resolves an upstream playlist and queues one job per track.
// Resolution failures abort the whole request before any job is submitted.
func (o *Orchestrator) SyncPlaylist(ctx context.Context, resolver Resolver, ref, quality string) (*models.Batch, error) {
	items, err := resolver.ResolvePlaylist(ctx, ref)
	if err != nil {
		return nil, &OrchestrationError{Ref: ref, Err: err}
	}
	desc := fmt.Sprintf("playlist %s (%s)", ref, resolver.Name())
	return o.expand(desc, models.KindPlaylist, quality, items)
}

// SyncLiked queues the caller's entire liked/saved library through the
// rate-limited bulk lane.
func (o *Orchestrator) SyncLiked(ctx context.Context, resolver Resolver, quality string) (*models.Batch, error) {
	items, err := resolver.LikedTracks(ctx)
	if err != nil {
		return nil, &OrchestrationError{Ref: "liked:" + resolver.Name(), Err: err}
	}
	desc := fmt.Sprintf("liked tracks (%s)", resolver.Name())
	return o.expand(desc, models.KindBulkSync, quality, items)
}

// expand materializes the batch, then submits every child job. The batch is
// registered before the first submission so terminal hooks always find it.
func (o *Orchestrator) expand(desc string, kind models.JobKind, quality string, items []models.PlaylistItem) (*models.Batch, error) {
	jobs := make([]*models.Job, 0, len(items))
	for _, item := range items {
		if item.SourceRef == "" {
			continue
		}
		jobs = append(jobs, &models.Job{
			ID:        shared.GenerateID(),
			Kind:      kind,
			SourceRef: item.SourceRef,
			Quality:   o.pickQuality(quality),
			Meta:      item.Meta,
		})
	}

	batch := &models.Batch{
		ID:          shared.GenerateID(),
		Description: desc,
		Expected:    int64(len(jobs)),
		CreatedAt:   time.Now(),
	}
	for _, job := range jobs {
		job.BatchID = batch.ID
		batch.JobIDs = append(batch.JobIDs, job.ID)
	}

	o.mu.Lock()
	o.batches[batch.ID] = batch
	o.mu.Unlock()

	for _, job := range jobs {
		if err := o.queue.Submit(job); err != nil {
			// Submission only fails when the queue is shutting down; the
			// already-queued siblings will be dropped with it.
			o.mu.Lock()
			delete(o.batches, batch.ID)
			o.mu.Unlock()
			return nil, &OrchestrationError{Ref: desc, Err: err}
		}
	}

	o.logger.Info("batch expanded", "batch", batch.ID, "jobs", batch.Expected, "description", desc)
	return batch, nil
}

// JobTerminal is the scheduler's terminal hook: it advances batch counters
// and requests a library rescan for every successful download.
func (o *Orchestrator) JobTerminal(job models.Job) {
	succeeded := job.State == models.StateSucceeded
	if succeeded && o.notifier != nil {
		o.notifier.RequestScan()
	}
	if job.BatchID == "" {
		return
	}

	o.mu.Lock()
	batch, ok := o.batches[job.BatchID]
	o.mu.Unlock()
	if !ok {
		return
	}

	if batch.RecordOutcome(succeeded) {
		o.logger.Info("batch settled",
			"batch", batch.ID,
			"completed", batch.CompletedCount(),
			"failed", batch.FailedCount(),
			"description", batch.Description)
		if o.OnBatchSettled != nil {
			o.OnBatchSettled(snapshot(batch))
		}
	}
}

// Batch returns a snapshot of one batch.
func (o *Orchestrator) Batch(id string) (BatchStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch, ok := o.batches[id]
	if !ok {
		return BatchStatus{}, shared.ErrJobNotFound
	}
	return snapshot(batch), nil
}

// Batches returns snapshots of every known batch.
func (o *Orchestrator) Batches() []BatchStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]BatchStatus, 0, len(o.batches))
	for _, b := range o.batches {
		out = append(out, snapshot(b))
	}
	return out
}

func snapshot(b *models.Batch) BatchStatus {
	return BatchStatus{
		ID:          b.ID,
		Description: b.Description,
		Expected:    b.Expected,
		Completed:   b.CompletedCount(),
		Failed:      b.FailedCount(),
		Settled:     b.Settled(),
		CreatedAt:   b.CreatedAt,
	}
}

func (o *Orchestrator) pickQuality(quality string) string {
	if quality != "" {
		return quality
	}
	return o.quality
}
