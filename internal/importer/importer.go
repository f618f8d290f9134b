// package importer watches the staging directory for audio files dropped in
// by hand and routes them through the organize stage.
//
// Events are debounced per file: a file being copied in fires a stream of
// writes, and its import is only queued once the stream goes quiet and the
// size stops moving.
package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

const defaultSettle = 2 * time.Second

// Enqueuer queues an organize-only job for a staged file. Satisfied by the
// orchestrator.
type Enqueuer interface {
	ImportFile(path string) (*models.Job, error)
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
}

type pendingFile struct {
	timer *time.Timer
	size  int64
}

// Watcher monitors one staging directory tree.
type Watcher struct {
	stagingDir string
	enqueuer   Enqueuer
	logger     *log.Logger
	settle     time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pendingFile
	closed  bool
}

// New creates a watcher for stagingDir; the directory is created if absent.
func New(stagingDir string, enqueuer Enqueuer, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		stagingDir: stagingDir,
		enqueuer:   enqueuer,
		logger:     shared.WithLogger(logger, "component", "importer"),
		settle:     defaultSettle,
		fsw:        fsw,
		pending:    make(map[string]*pendingFile),
	}, nil
}

// Start sweeps files already sitting in staging, then follows filesystem
// events until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.stagingDir); err != nil {
		return err
	}

	go w.loop(ctx)
	w.logger.Info("watching staging directory", "path", w.stagingDir)
	return nil
}

// addTree registers a directory and its subdirectories with the watcher and
// schedules any audio files already present.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if isAudioFile(path) {
			w.schedule(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		// A directory dropped into staging: watch it and sweep what it
		// already contains.
		if err := w.addTree(event.Name); err != nil {
			w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
		}
		return
	}

	if isAudioFile(event.Name) {
		w.schedule(event.Name)
	}
}

// schedule (re)arms the settle timer for one file. Every new event pushes
// the import further out, so a slow copy never imports half a file.
func (w *Watcher) schedule(path string) {
	size := int64(-1)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	p := &pendingFile{size: size}
	p.timer = time.AfterFunc(w.settle, func() { w.fire(path) })
	w.pending[path] = p
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	closed := w.closed
	w.mu.Unlock()
	if !ok || closed {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Removed before the window closed.
		return
	}
	if info.Size() != p.size {
		// Still growing; give it another window.
		w.schedule(path)
		return
	}

	job, err := w.enqueuer.ImportFile(path)
	if err != nil {
		w.logger.Error("failed to queue import", "path", path, "error", err)
		return
	}
	w.logger.Info("staged file queued", "path", path, "job", job.ID)
}

// Close stops the watcher and drops pending timers.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingFile)
	w.mu.Unlock()

	w.fsw.Close()
}

func isAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}
