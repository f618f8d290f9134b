package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// Search queries a catalog service through the daemon.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := cmd.StringArg("query")
	if query == "" {
		return fmt.Errorf("%w: search query required", shared.ErrMissingArgument)
	}

	resp, err := r.daemon(cmd).Search(ctx, cmd.String("service"), query, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(resp, true)
	}

	r.writePlain("%d results from %s\n\n", len(resp.Results), resp.Service)
	for i, result := range resp.Results {
		r.writePlain("%2d. %s - %s", i+1, result.Artist, result.Title)
		if result.Album != "" {
			r.writePlain(" (%s)", result.Album)
		}
		r.writePlain("\n    %s\n", result.SourceRef)
	}
	return nil
}

// Download queues a single-track download.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("ref")
	if ref == "" {
		return fmt.Errorf("%w: track URL, video ID, or search query required", shared.ErrMissingArgument)
	}

	meta := models.TrackMetadata{
		Artist: cmd.String("artist"),
		Album:  cmd.String("album"),
		Title:  cmd.String("title"),
	}

	job, err := r.daemon(cmd).Download(ctx, ref, cmd.String("quality"), meta)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(job, true)
	}
	r.writePlain("queued %s (%s)\n", job.ID, job.SourceRef)
	return nil
}

// SyncPlaylist queues every track of a playlist.
func (r *Runner) SyncPlaylist(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("ref")
	if ref == "" {
		return fmt.Errorf("%w: playlist URL or ID required", shared.ErrMissingArgument)
	}

	batch, err := r.daemon(cmd).Sync(ctx, cmd.String("service"), ref, cmd.String("quality"), false)
	if err != nil {
		return err
	}
	return r.reportBatch(cmd, batch)
}

// SyncLiked queues the user's liked/saved tracks.
func (r *Runner) SyncLiked(ctx context.Context, cmd *cli.Command) error {
	batch, err := r.daemon(cmd).Sync(ctx, cmd.String("service"), "", cmd.String("quality"), true)
	if err != nil {
		return err
	}
	return r.reportBatch(cmd, batch)
}

func (r *Runner) reportBatch(cmd *cli.Command, batch *models.Batch) error {
	if cmd.Bool("json") {
		return r.writeJSON(batch, true)
	}
	r.writePlain("batch %s: %d tracks queued (%s)\n", batch.ID, batch.Expected, batch.Description)
	r.writePlain("follow with: musicd jobs watch\n")
	return nil
}

// Jobs lists the scheduler's jobs, newest first.
func (r *Runner) Jobs(ctx context.Context, cmd *cli.Command) error {
	jobs := r.daemon(cmd).Jobs()

	if cmd.Bool("json") {
		return r.writeJSON(jobs, true)
	}
	if len(jobs) == 0 {
		r.writePlain("no jobs\n")
		return nil
	}
	for _, job := range jobs {
		r.writeJobLine(job)
	}
	return nil
}

// JobShow prints one job by ID.
func (r *Runner) JobShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job ID required", shared.ErrMissingArgument)
	}

	job, err := r.daemon(cmd).Job(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(job, true)
	}
	r.writeJobLine(*job)
	for _, path := range job.ResultPaths {
		r.writePlain("    -> %s\n", path)
	}
	return nil
}

// JobCancel aborts a queued or running job.
func (r *Runner) JobCancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job ID required", shared.ErrMissingArgument)
	}
	if err := r.daemon(cmd).Cancel(id); err != nil {
		return err
	}
	r.writePlain("cancelling %s\n", id)
	return nil
}

// JobRetry requeues a failed job as a fresh one.
func (r *Runner) JobRetry(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job ID required", shared.ErrMissingArgument)
	}

	job, err := r.daemon(cmd).Retry(id)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(job, true)
	}
	r.writePlain("requeued as %s\n", job.ID)
	return nil
}

// History prints the recent job event trail.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	events, err := r.daemon(cmd).History(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(events, true)
	}
	for _, event := range events {
		line := fmt.Sprintf("%s  %-9s a%d  %s",
			event.CreatedAt.Format(time.DateTime), event.State, event.Attempt, event.SourceRef)
		if event.ErrorMsg != "" {
			line += "  " + event.ErrorMsg
		}
		r.writePlain("%s\n", line)
	}
	return nil
}

// Stats prints aggregate download counters.
func (r *Runner) Stats(ctx context.Context, cmd *cli.Command) error {
	stats, err := r.daemon(cmd).Stats()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}
	r.writePlain("active:     %d\n", stats.ActiveJobs)
	r.writePlain("failed:     %d\n", stats.FailedJobs)
	r.writePlain("downloads:  %d/%d (%.0f%%)\n", stats.Succeeded, stats.TotalDownloads, stats.SuccessRate)
	r.writePlain("today:      %d\n", stats.TodayDownloads)
	return nil
}

// Import copies a local file or directory into the watched staging directory.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: file or directory path required", shared.ErrMissingArgument)
	}

	config := r.reloadConfig(cmd)
	staging := config.Library.StagingDir
	if staging == "" {
		return fmt.Errorf("%w: library.staging_dir is not configured", shared.ErrMissingConfig)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	copied := 0
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !isAudioPath(p) {
			return nil
		}
		if err := copyIntoStaging(p, staging); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	r.writePlain("staged %d file(s) in %s\n", copied, staging)
	r.writePlain("the running daemon will pick them up shortly\n")
	return nil
}

// Scan triggers an immediate streaming-server rescan through the daemon.
func (r *Runner) Scan(ctx context.Context, cmd *cli.Command) error {
	if err := r.daemon(cmd).Scan(ctx); err != nil {
		return err
	}
	r.writePlain("rescan triggered\n")
	return nil
}

func (r *Runner) writeJobLine(job models.Job) {
	label := job.Meta.Title
	if label == "" {
		label = job.SourceRef
	}
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	line := fmt.Sprintf("%s  %-9s %-12s a%d  %s", id, job.State, job.Kind, job.Attempt, label)
	if job.Error != "" {
		line += "  " + job.Error
	}
	r.writePlain("%s\n", line)
}

func isAudioPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".m4a", ".flac", ".ogg", ".opus", ".wav":
		return true
	}
	return false
}

func copyIntoStaging(src, staging string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dest := filepath.Join(staging, filepath.Base(src))
	out, err := os.CreateTemp(staging, ".staging-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return err
	}
	// Rename last so the watcher never sees a half-written audio file.
	return os.Rename(out.Name(), dest)
}
