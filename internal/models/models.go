package models

import (
	"sync/atomic"
	"time"
)

// JobKind discriminates the supported request types.
type JobKind string

const (
	KindSingleTrack JobKind = "single_track"
	KindPlaylist    JobKind = "playlist"
	KindBulkSync    JobKind = "bulk_sync"
	// KindImport is an organize-only job for a file already on disk
	// (import staging); it never touches the fetch adapter.
	KindImport JobKind = "import"
)

// JobState is the lifecycle state of a Job.
//
// Queued → Running → {Succeeded, Failed, Retrying}; Retrying → Queued after
// the backoff delay. Succeeded and Failed are terminal.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateRetrying  JobState = "retrying"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// Terminal reports whether the state ends a job's lifecycle.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is one unit of fetch-and-organize work for a single track.
//
// A job is fully owned by exactly one worker while running; nothing outside
// the queue package mutates it after submission.
type Job struct {
	ID          string    `json:"id"`
	BatchID     string    `json:"batch_id,omitempty"`
	Kind        JobKind   `json:"kind"`
	SourceRef   string    `json:"source_ref"`
	Quality     string    `json:"quality"`
	State       JobState  `json:"state"`
	Attempt     int       `json:"attempt"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ResultPaths []string  `json:"result_paths,omitempty"`

	// Hint metadata from the catalog search, used for the organize step
	// when the downloaded file's tags are incomplete.
	Meta TrackMetadata `json:"meta,omitempty"`

	// LocalPath is set for organize-only (import) jobs.
	LocalPath string `json:"local_path,omitempty"`
}

// Batch groups Jobs expanded from one user-level request.
//
// Counters are advanced with atomic increments; the increment that first
// makes done == expected detects settlement exactly once.
type Batch struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	JobIDs      []string  `json:"job_ids"`
	Expected    int64     `json:"expected"`
	CreatedAt   time.Time `json:"created_at"`

	completed atomic.Int64
	failed    atomic.Int64
	done      atomic.Int64
}

// CompletedCount returns the number of settled-successful child jobs.
func (b *Batch) CompletedCount() int64 { return b.completed.Load() }

// FailedCount returns the number of settled-failed child jobs.
func (b *Batch) FailedCount() int64 { return b.failed.Load() }

// RecordOutcome registers one child job's terminal state and reports whether
// this call settled the batch. At most one call ever returns true: detection
// rides on the unique value returned by the done-counter increment, not on
// re-reading the per-outcome counters.
func (b *Batch) RecordOutcome(succeeded bool) (settled bool) {
	if succeeded {
		b.completed.Add(1)
	} else {
		b.failed.Add(1)
	}
	return b.done.Add(1) == b.Expected
}

// Settled reports whether all child jobs are terminal.
func (b *Batch) Settled() bool {
	return b.done.Load() >= b.Expected
}

// TrackMetadata is tag data for a single track. Immutable once attached to a
// job result.
type TrackMetadata struct {
	Artist      string `json:"artist"`
	AlbumArtist string `json:"album_artist,omitempty"`
	Album       string `json:"album"`
	Title       string `json:"title"`
	TrackNum    int    `json:"track_num"`
	DiscNum     int    `json:"disc_num"`
	TotalDiscs  int    `json:"total_discs"`
	Duration    int    `json:"duration"` // seconds
	SourceID    string `json:"source_id,omitempty"`
	HasArt      bool   `json:"has_art,omitempty"`
}

// MediaResult is the fetch adapter's output: a downloaded audio file in a
// temporary location plus the metadata extracted from it.
type MediaResult struct {
	TempPath string
	Meta     TrackMetadata
}

// LibraryEntry is a (path, fingerprint) pair for a file already committed to
// the organized tree. Entries are never mutated, only superseded.
type LibraryEntry struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	TrackKey    string    `json:"track_key"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobEvent is one append-only history record, written on every job state
// transition.
type JobEvent struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Kind      JobKind   `json:"kind"`
	State     JobState  `json:"state"`
	SourceRef string    `json:"source_ref"`
	Attempt   int       `json:"attempt"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is one catalog hit returned to the UI.
type SearchResult struct {
	SourceRef string `json:"source_ref"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	ArtURL    string `json:"art_url,omitempty"`
}

// PlaylistItem is one resolved entry of an upstream playlist.
type PlaylistItem struct {
	SourceRef string        `json:"source_ref"`
	Meta      TrackMetadata `json:"meta"`
}
