package library

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lucky-verma/music-discovery/internal/models"
)

// Index is the in-memory canonical entry set, mirrored to the
// library_entries table when a database is attached.
//
// Reads are lock-cheap and concurrent; inserts come only from the commit
// stage, which already serializes per destination path.
type Index struct {
	mu     sync.RWMutex
	byPath map[string]models.LibraryEntry
	byKey  map[string][]models.LibraryEntry
	db     *sql.DB
}

// NewIndex creates an Index, loading existing entries when db is non-nil.
func NewIndex(db *sql.DB) (*Index, error) {
	idx := &Index{
		byPath: make(map[string]models.LibraryEntry),
		byKey:  make(map[string][]models.LibraryEntry),
		db:     db,
	}

	if db != nil {
		if err := idx.load(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// load reads all persisted entries into memory.
func (idx *Index) load() error {
	rows, err := idx.db.Query(`
		SELECT path, fingerprint, track_key, artist, album, title, created_at
		FROM library_entries
	`)
	if err != nil {
		return fmt.Errorf("failed to load library entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.LibraryEntry
		if err := rows.Scan(&e.Path, &e.Fingerprint, &e.TrackKey, &e.Artist, &e.Album, &e.Title, &e.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan library entry: %w", err)
		}
		idx.insertMem(e)
	}
	return rows.Err()
}

func (idx *Index) insertMem(e models.LibraryEntry) {
	idx.byPath[e.Path] = e
	idx.byKey[e.TrackKey] = append(idx.byKey[e.TrackKey], e)
}

// Lookup returns the entry committed at path, if any.
func (idx *Index) Lookup(path string) (models.LibraryEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byPath[path]
	return e, ok
}

// ByTrackKey returns all entries sharing a normalized (title, artist) key.
func (idx *Index) ByTrackKey(key string) []models.LibraryEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entries := idx.byKey[key]
	out := make([]models.LibraryEntry, len(entries))
	copy(out, entries)
	return out
}

// HasFingerprint reports whether any entry under key carries fingerprint.
func (idx *Index) HasFingerprint(key, fingerprint string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, e := range idx.byKey[key] {
		if e.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// Len returns the number of committed entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byPath)
}

// Insert records a newly committed entry in memory and, when attached, the
// database.
func (idx *Index) Insert(e models.LibraryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	if idx.db != nil {
		_, err := idx.db.Exec(`
			INSERT INTO library_entries (path, fingerprint, track_key, artist, album, title, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.Path, e.Fingerprint, e.TrackKey, e.Artist, e.Album, e.Title, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to persist library entry: %w", err)
		}
	}

	idx.mu.Lock()
	idx.insertMem(e)
	idx.mu.Unlock()
	return nil
}

// Remove deletes an entry, used when a duplicate-resolution move supersedes
// an old path.
func (idx *Index) Remove(path string) error {
	idx.mu.Lock()
	e, ok := idx.byPath[path]
	if ok {
		delete(idx.byPath, path)
		entries := idx.byKey[e.TrackKey]
		kept := entries[:0]
		for _, candidate := range entries {
			if candidate.Path != path {
				kept = append(kept, candidate)
			}
		}
		if len(kept) == 0 {
			delete(idx.byKey, e.TrackKey)
		} else {
			idx.byKey[e.TrackKey] = kept
		}
	}
	idx.mu.Unlock()

	if !ok {
		return nil
	}

	if idx.db != nil {
		if _, err := idx.db.Exec("DELETE FROM library_entries WHERE path = ?", path); err != nil {
			return fmt.Errorf("failed to delete library entry: %w", err)
		}
	}
	return nil
}
