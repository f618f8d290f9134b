package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// OrganizeErrorKind categorizes commit-stage failures. All are non-retryable
// at the job layer.
type OrganizeErrorKind string

const (
	ErrKindDiskFull         OrganizeErrorKind = "disk_full"
	ErrKindPermissionDenied OrganizeErrorKind = "permission_denied"
	ErrKindPathCollision    OrganizeErrorKind = "path_collision_unresolvable"
	ErrKindIO               OrganizeErrorKind = "io"
)

// OrganizeError is a categorized commit failure.
type OrganizeError struct {
	Kind OrganizeErrorKind
	Path string
	Err  error
}

func (e *OrganizeError) Error() string {
	return fmt.Sprintf("organize %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *OrganizeError) Unwrap() error { return e.Err }

// CommitStatus is the outcome of committing a MediaResult.
type CommitStatus string

const (
	StatusCommitted        CommitStatus = "committed"
	StatusDuplicateSkipped CommitStatus = "duplicate_skipped"
	StatusDuplicateMoved   CommitStatus = "duplicate_moved"
)

// CommitResult reports where a track ended up.
type CommitResult struct {
	Status CommitStatus
	Path   string // Absolute path for committed/moved files, empty for skips
}

// DuplicatePolicy selects what happens to a fingerprint-duplicate download.
type DuplicatePolicy string

const (
	PolicySkip DuplicatePolicy = "skip"
	PolicyMove DuplicatePolicy = "move"
)

// Organizer is the dedup/organize commit stage. Many workers call Commit
// concurrently; writes to any one destination path are serialized by a
// per-path lock while unrelated paths proceed in parallel.
type Organizer struct {
	root          string
	duplicatesDir string
	policy        DuplicatePolicy
	index         *Index
	locks         *pathLocks
	logger        *log.Logger
}

// NewOrganizer creates the commit stage rooted at root.
func NewOrganizer(root, duplicatesDir string, policy DuplicatePolicy, index *Index, logger *log.Logger) *Organizer {
	if policy == "" {
		policy = PolicySkip
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Organizer{
		root:          root,
		duplicatesDir: duplicatesDir,
		policy:        policy,
		index:         index,
		locks:         newPathLocks(),
		logger:        shared.WithLogger(logger, "component", "library"),
	}
}

// Index exposes the canonical entry set for read-side consumers.
func (o *Organizer) Index() *Index { return o.index }

// Commit decides whether the fetched track is a duplicate and, if not, moves
// it into the canonical layout and records a library entry.
func (o *Organizer) Commit(result *models.MediaResult) (CommitResult, error) {
	meta := result.Meta
	fp := Fingerprint(meta)
	key := shared.NormalizeTrackKey(meta.Title, meta.Artist)

	if o.index.HasFingerprint(key, fp) {
		return o.handleDuplicate(result, key, fp)
	}

	relPath, err := Organize(meta, o.index, fp)
	if err != nil {
		o.discard(result.TempPath)
		return CommitResult{}, err
	}

	// Re-check everything under the lock: a sibling worker may have committed
	// the same track, or claimed this path for different content, while this
	// one waited. When the path moves, chase it and re-lock until it is stable.
	unlock := o.locks.lock(relPath)
	for {
		if o.index.HasFingerprint(key, fp) {
			res, dupErr := o.handleDuplicate(result, key, fp)
			unlock()
			return res, dupErr
		}
		current, err := Organize(meta, o.index, fp)
		if err != nil {
			unlock()
			o.discard(result.TempPath)
			return CommitResult{}, err
		}
		if current == relPath {
			break
		}
		unlock()
		relPath = current
		unlock = o.locks.lock(relPath)
	}
	defer unlock()

	absPath := filepath.Join(o.root, relPath)
	if err := moveFile(result.TempPath, absPath); err != nil {
		return CommitResult{}, err
	}

	entry := models.LibraryEntry{
		Path:        relPath,
		Fingerprint: fp,
		TrackKey:    key,
		Artist:      meta.Artist,
		Album:       meta.Album,
		Title:       meta.Title,
		CreatedAt:   time.Now(),
	}
	if err := o.index.Insert(entry); err != nil {
		return CommitResult{}, &OrganizeError{Kind: ErrKindIO, Path: relPath, Err: err}
	}

	o.cleanupScratch(result.TempPath)
	o.logger.Info("committed track", "path", relPath, "artist", meta.Artist, "title", meta.Title)
	return CommitResult{Status: StatusCommitted, Path: absPath}, nil
}

// handleDuplicate applies the configured duplicate policy.
func (o *Organizer) handleDuplicate(result *models.MediaResult, key, fp string) (CommitResult, error) {
	if o.policy == PolicyMove && o.duplicatesDir != "" {
		dest := filepath.Join(o.duplicatesDir, filepath.Base(result.TempPath))
		if _, err := os.Stat(dest); err == nil {
			// A relocated duplicate already uses this name; keep both.
			ext := filepath.Ext(dest)
			dest = strings.TrimSuffix(dest, ext) + "-" + fp[:8] + ext
		}
		if err := moveFile(result.TempPath, dest); err != nil {
			return CommitResult{}, err
		}
		o.cleanupScratch(result.TempPath)
		o.logger.Info("duplicate relocated", "key", key, "dest", dest)
		return CommitResult{Status: StatusDuplicateMoved, Path: dest}, nil
	}

	o.discard(result.TempPath)
	o.logger.Info("duplicate skipped", "key", key)
	return CommitResult{Status: StatusDuplicateSkipped}, nil
}

// discard removes a temp file and its scratch directory.
func (o *Organizer) discard(tempPath string) {
	if tempPath == "" {
		return
	}
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		o.logger.Warn("failed to remove temp file", "path", tempPath, "error", err)
	}
	o.cleanupScratch(tempPath)
}

// cleanupScratch removes the per-fetch scratch directory once its file has
// been moved or deleted. Non-empty directories are left alone.
func (o *Organizer) cleanupScratch(tempPath string) {
	if tempPath == "" {
		return
	}
	dir := filepath.Dir(tempPath)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}

// moveFile renames src to dest, falling back to copy+rename when the two
// live on different devices. The copy goes through a .partial name so a
// crash never leaves a half-written file at the canonical path.
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return classifyFsError(dest, err)
	}

	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	partial := dest + ".partial"
	if err := copyFile(src, partial); err != nil {
		os.Remove(partial)
		return classifyFsError(dest, err)
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return classifyFsError(dest, err)
	}
	os.Remove(src)
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// classifyFsError maps filesystem failures to organize error kinds.
func classifyFsError(path string, err error) *OrganizeError {
	kind := ErrKindIO
	switch {
	case errors.Is(err, syscall.ENOSPC):
		kind = ErrKindDiskFull
	case os.IsPermission(err):
		kind = ErrKindPermissionDenied
	}
	return &OrganizeError{Kind: kind, Path: path, Err: err}
}

// pathLocks hands out one mutex per destination path, reference-counted so
// the map does not grow with library size.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// lock acquires the mutex for path and returns its release func.
func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, path)
		}
		p.mu.Unlock()
	}
}
