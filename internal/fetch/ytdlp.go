package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dhowden/tag"
	"github.com/lrstanley/go-ytdlp"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// YTDLPFetcher implements [Fetcher] over the yt-dlp CLI.
//
// Each fetch downloads into its own scratch subdirectory so concurrent
// workers never collide on output templates; the organize stage owns moving
// the file out and removing the directory.
type YTDLPFetcher struct {
	tmpDir  string
	timeout time.Duration
	logger  *log.Logger
}

// NewYTDLPFetcher creates a fetcher writing scratch files under tmpDir.
func NewYTDLPFetcher(tmpDir string, logger *log.Logger) *YTDLPFetcher {
	if tmpDir == "" {
		tmpDir = filepath.Join(os.TempDir(), "music-discovery")
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &YTDLPFetcher{
		tmpDir:  tmpDir,
		timeout: 10 * time.Minute,
		logger:  shared.WithLogger(logger, "component", "fetch"),
	}
}

// Fetch downloads a single track as tagged mp3 audio.
func (f *YTDLPFetcher) Fetch(ctx context.Context, sourceRef, quality string) (*models.MediaResult, error) {
	if quality == "" {
		quality = "320K"
	}

	workDir := filepath.Join(f.tmpDir, shared.GenerateID())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, &FetchError{Kind: KindUnknown, Ref: sourceRef, Err: fmt.Errorf("failed to create scratch dir: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	url := NormalizeSourceRef(sourceRef)
	f.logger.Debug("starting download", "ref", sourceRef, "url", url)

	dl := ytdlp.New().
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality(quality).
		EmbedThumbnail().
		EmbedMetadata().
		NoPlaylist().
		NoWarnings().
		RestrictFilenames().
		Output(filepath.Join(workDir, "%(title)s.%(ext)s"))

	result, err := dl.Run(ctx, url)
	if err != nil {
		os.RemoveAll(workDir)
		output := ""
		if result != nil {
			output = result.Stderr
		}
		return nil, Classify(ctx, sourceRef, err, output)
	}

	path, err := locateAudioFile(workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, &FetchError{Kind: KindUnknown, Ref: sourceRef, Err: err}
	}

	meta := readFileMetadata(path)
	meta.SourceID = sourceRef
	if meta.Duration == 0 {
		if info, err := result.GetExtractedInfo(); err == nil && len(info) > 0 && info[0].Duration != nil {
			meta.Duration = int(*info[0].Duration)
		}
	}

	f.logger.Info("download complete", "ref", sourceRef, "title", meta.Title, "artist", meta.Artist)
	return &models.MediaResult{TempPath: path, Meta: meta}, nil
}

// locateAudioFile finds the single mp3 yt-dlp produced in dir.
func locateAudioFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read scratch dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".mp3" {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("no mp3 produced in %s", dir)
}

// readFileMetadata extracts tag data from an audio file. Missing or
// unreadable tags degrade to zero values rather than failing the fetch;
// the organize stage falls back to the catalog hint metadata.
func readFileMetadata(path string) models.TrackMetadata {
	var meta models.TrackMetadata

	file, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		return meta
	}

	meta.Title = m.Title()
	meta.Artist = m.Artist()
	meta.AlbumArtist = m.AlbumArtist()
	meta.Album = m.Album()
	meta.TrackNum, _ = m.Track()
	meta.DiscNum, meta.TotalDiscs = m.Disc()
	meta.HasArt = m.Picture() != nil
	return meta
}

// ReadFileMetadata is the exported variant used by the import watcher for
// files that arrive on disk without going through a fetch.
func ReadFileMetadata(path string) models.TrackMetadata {
	return readFileMetadata(path)
}
