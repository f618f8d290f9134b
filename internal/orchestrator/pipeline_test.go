package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lucky-verma/music-discovery/internal/fetch"
	"github.com/lucky-verma/music-discovery/internal/library"
	"github.com/lucky-verma/music-discovery/internal/models"
)

type fakeFetcher struct {
	result     *models.MediaResult
	err        error
	gotRef     string
	gotQuality string
}

func (f *fakeFetcher) Fetch(ctx context.Context, sourceRef, quality string) (*models.MediaResult, error) {
	f.gotRef = sourceRef
	f.gotQuality = quality
	return f.result, f.err
}

type fakeCommitter struct {
	got *models.MediaResult
	res library.CommitResult
	err error
}

func (c *fakeCommitter) Commit(result *models.MediaResult) (library.CommitResult, error) {
	c.got = result
	return c.res, c.err
}

func TestPipelineRun(t *testing.T) {
	t.Run("fetch then commit", func(t *testing.T) {
		fetcher := &fakeFetcher{result: &models.MediaResult{
			TempPath: "/tmp/x/track.mp3",
			Meta:     models.TrackMetadata{Title: "Song", Artist: "Band"},
		}}
		committer := &fakeCommitter{res: library.CommitResult{
			Status: library.StatusCommitted,
			Path:   "/music/library/Band/Album/Song.mp3",
		}}
		p := NewPipeline(fetcher, committer)

		job := &models.Job{Kind: models.KindSingleTrack, SourceRef: "abc123def45", Quality: "320K"}
		paths, err := p.Run(context.Background(), job)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(paths) != 1 || paths[0] != committer.res.Path {
			t.Errorf("unexpected paths: %v", paths)
		}
		if fetcher.gotRef != "abc123def45" || fetcher.gotQuality != "320K" {
			t.Errorf("fetcher saw %q/%q", fetcher.gotRef, fetcher.gotQuality)
		}
	})

	t.Run("skipped duplicate succeeds with no path", func(t *testing.T) {
		fetcher := &fakeFetcher{result: &models.MediaResult{TempPath: "/tmp/x/track.mp3"}}
		committer := &fakeCommitter{res: library.CommitResult{Status: library.StatusDuplicateSkipped}}
		p := NewPipeline(fetcher, committer)

		paths, err := p.Run(context.Background(), &models.Job{SourceRef: "dup"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if paths != nil {
			t.Errorf("expected no paths, got %v", paths)
		}
	})

	t.Run("fetch failure short-circuits", func(t *testing.T) {
		fe := &fetch.FetchError{Kind: fetch.KindNotFound, Ref: "gone", Err: errors.New("video unavailable")}
		fetcher := &fakeFetcher{err: fe}
		committer := &fakeCommitter{}
		p := NewPipeline(fetcher, committer)

		_, err := p.Run(context.Background(), &models.Job{SourceRef: "gone"})
		if !errors.Is(err, fe) {
			t.Errorf("expected the fetch error, got %v", err)
		}
		if committer.got != nil {
			t.Error("commit must not run after a failed fetch")
		}
	})

	t.Run("import job skips the fetcher", func(t *testing.T) {
		staged := filepath.Join(t.TempDir(), "01 - Found on Disk.mp3")
		if err := os.WriteFile(staged, []byte("not real audio"), 0644); err != nil {
			t.Fatalf("failed to stage file: %v", err)
		}

		fetcher := &fakeFetcher{err: errors.New("must not be called")}
		committer := &fakeCommitter{res: library.CommitResult{Status: library.StatusCommitted, Path: "/music/library/x.mp3"}}
		p := NewPipeline(fetcher, committer)

		job := &models.Job{
			Kind:      models.KindImport,
			SourceRef: staged,
			LocalPath: staged,
			Meta:      models.TrackMetadata{Artist: "Hint Artist"},
		}
		if _, err := p.Run(context.Background(), job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if committer.got == nil || committer.got.TempPath != staged {
			t.Fatalf("committer saw %+v", committer.got)
		}
		// The file carries no readable tags, so the hint and the filename
		// fill in.
		if committer.got.Meta.Artist != "Hint Artist" {
			t.Errorf("hint artist not applied: %+v", committer.got.Meta)
		}
		if committer.got.Meta.Title != "01 - Found on Disk" {
			t.Errorf("filename title not applied: %q", committer.got.Meta.Title)
		}
	})
}

func TestMergeMeta(t *testing.T) {
	hint := models.TrackMetadata{
		Title: "Hint Title", Artist: "Hint Artist", Album: "Hint Album",
		TrackNum: 7, DiscNum: 2, TotalDiscs: 2, Duration: 200, SourceID: "src",
	}
	job := &models.Job{SourceRef: "abc", Meta: hint}

	t.Run("file tags win", func(t *testing.T) {
		fileMeta := models.TrackMetadata{Title: "Real", Artist: "Real Artist", TrackNum: 3}
		merged := mergeMeta(fileMeta, job)
		if merged.Title != "Real" || merged.Artist != "Real Artist" || merged.TrackNum != 3 {
			t.Errorf("file tags overridden: %+v", merged)
		}
		if merged.Album != "Hint Album" || merged.Duration != 200 {
			t.Errorf("gaps not filled: %+v", merged)
		}
	})

	t.Run("empty tags fall back to the hint", func(t *testing.T) {
		merged := mergeMeta(models.TrackMetadata{}, job)
		if merged != hint {
			t.Errorf("expected full hint, got %+v", merged)
		}
	})

	t.Run("search queries become titles of last resort", func(t *testing.T) {
		j := &models.Job{SourceRef: "ytsearch1:some obscure song"}
		merged := mergeMeta(models.TrackMetadata{}, j)
		if merged.Title != "some obscure song" {
			t.Errorf("got %q", merged.Title)
		}
	})
}
