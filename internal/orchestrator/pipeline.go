package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lucky-verma/music-discovery/internal/fetch"
	"github.com/lucky-verma/music-discovery/internal/library"
	"github.com/lucky-verma/music-discovery/internal/models"
)

// Committer is the organize stage of the pipeline.
type Committer interface {
	Commit(result *models.MediaResult) (library.CommitResult, error)
}

// Pipeline is the per-job execution path handed to the queue: fetch the
// audio (or pick it up from disk for imports), then commit it to the
// library. It satisfies the queue's Runner contract.
type Pipeline struct {
	fetcher   fetch.Fetcher
	organizer Committer
}

// NewPipeline wires the fetch adapter to the organize stage.
func NewPipeline(fetcher fetch.Fetcher, organizer Committer) *Pipeline {
	return &Pipeline{fetcher: fetcher, organizer: organizer}
}

// Run executes one job and returns the paths it produced. A skipped
// duplicate succeeds with no result path.
func (p *Pipeline) Run(ctx context.Context, job *models.Job) ([]string, error) {
	var result *models.MediaResult

	if job.Kind == models.KindImport {
		result = &models.MediaResult{
			TempPath: job.LocalPath,
			Meta:     fetch.ReadFileMetadata(job.LocalPath),
		}
	} else {
		fetched, err := p.fetcher.Fetch(ctx, job.SourceRef, job.Quality)
		if err != nil {
			return nil, err
		}
		result = fetched
	}

	result.Meta = mergeMeta(result.Meta, job)

	commit, err := p.organizer.Commit(result)
	if err != nil {
		return nil, err
	}
	if commit.Path == "" {
		return nil, nil
	}
	return []string{commit.Path}, nil
}

// mergeMeta fills gaps in the file's own tags from the catalog hint carried
// on the job, then applies last-resort fallbacks so every track lands on a
// usable path.
func mergeMeta(meta models.TrackMetadata, job *models.Job) models.TrackMetadata {
	hint := job.Meta

	if meta.Title == "" {
		meta.Title = hint.Title
	}
	if meta.Artist == "" {
		meta.Artist = hint.Artist
	}
	if meta.AlbumArtist == "" {
		meta.AlbumArtist = hint.AlbumArtist
	}
	if meta.Album == "" {
		meta.Album = hint.Album
	}
	if meta.TrackNum == 0 {
		meta.TrackNum = hint.TrackNum
	}
	if meta.DiscNum == 0 {
		meta.DiscNum = hint.DiscNum
		meta.TotalDiscs = hint.TotalDiscs
	}
	if meta.Duration == 0 {
		meta.Duration = hint.Duration
	}
	if meta.SourceID == "" {
		meta.SourceID = hint.SourceID
	}

	if meta.Title == "" {
		meta.Title = titleFromRef(job)
	}
	return meta
}

// titleFromRef derives a displayable title when neither the file tags nor
// the catalog hint carry one.
func titleFromRef(job *models.Job) string {
	if job.LocalPath != "" {
		base := filepath.Base(job.LocalPath)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	if strings.HasPrefix(job.SourceRef, "ytsearch") {
		if _, query, ok := strings.Cut(job.SourceRef, ":"); ok {
			return query
		}
	}
	return fmt.Sprintf("Unknown (%s)", job.SourceRef)
}
