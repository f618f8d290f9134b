// package library owns the canonical music tree: deterministic path layout,
// duplicate detection, and the commit step that moves downloaded files into
// place.
package library

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"

	"github.com/lucky-verma/music-discovery/internal/models"
)

const maxSegmentLen = 100

// EntrySnapshot is a read-only view of committed entries, used for collision
// checks while computing paths.
type EntrySnapshot interface {
	Lookup(path string) (models.LibraryEntry, bool)
}

// SanitizeSegment makes a metadata value safe as a single path segment:
// filesystem-illegal characters are replaced, whitespace collapsed, and the
// result capped at a word boundary. Empty input becomes "Unknown".
func SanitizeSegment(name string) string {
	if name == "" {
		return "Unknown"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		case r < 0x20:
			// drop control characters
		default:
			b.WriteRune(r)
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if cleaned == "" {
		return "Unknown"
	}

	runes := []rune(cleaned)
	if len(runes) > maxSegmentLen {
		cut := string(runes[:maxSegmentLen])
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
		cleaned = strings.TrimSpace(cut)
	}

	// Trailing dots confuse some filesystems
	cleaned = strings.TrimRight(cleaned, ". ")
	if cleaned == "" {
		return "Unknown"
	}
	return cleaned
}

// Organize computes the canonical relative path for a track. Pure: same
// metadata plus the same snapshot always yields the same path.
//
// Layout is {albumArtist}/{album}/{NN - title}.mp3; on multi-disc albums the
// file prefix becomes D{disc}T{NN} so lexical order within the album folder
// matches disc-then-track order. A collision with a different fingerprint
// gets a stable hash suffix on the album folder; it never overwrites.
func Organize(meta models.TrackMetadata, snap EntrySnapshot, fingerprint string) (string, error) {
	base := relativePath(meta, "")

	existing, ok := snap.Lookup(base)
	if !ok || existing.Fingerprint == fingerprint {
		return base, nil
	}

	suffixed := relativePath(meta, disambiguationSuffix(meta))
	existing, ok = snap.Lookup(suffixed)
	if ok && existing.Fingerprint != fingerprint {
		return "", &OrganizeError{
			Kind: ErrKindPathCollision,
			Path: suffixed,
			Err:  fmt.Errorf("both canonical and disambiguated paths are taken by different content"),
		}
	}
	return suffixed, nil
}

// relativePath builds the path with an optional album-folder suffix.
func relativePath(meta models.TrackMetadata, albumSuffix string) string {
	artist := meta.AlbumArtist
	if artist == "" {
		artist = meta.Artist
	}
	if artist == "" {
		artist = "Unknown Artist"
	}

	album := meta.Album
	if album == "" {
		album = "Unknown Album"
	}

	albumDir := SanitizeSegment(album)
	if albumSuffix != "" {
		albumDir = albumDir + " [" + albumSuffix + "]"
	}

	return filepath.Join(
		SanitizeSegment(artist),
		albumDir,
		trackFileName(meta),
	)
}

// trackFileName renders the file segment with the ordering prefix.
func trackFileName(meta models.TrackMetadata) string {
	title := SanitizeSegment(meta.Title)

	switch {
	case meta.TotalDiscs > 1 && meta.TrackNum > 0:
		return fmt.Sprintf("D%dT%02d - %s.mp3", meta.DiscNum, meta.TrackNum, title)
	case meta.TrackNum > 0:
		return fmt.Sprintf("%02d - %s.mp3", meta.TrackNum, title)
	default:
		return title + ".mp3"
	}
}

// disambiguationSuffix derives a stable 8-hex suffix from (artist, album).
func disambiguationSuffix(meta models.TrackMetadata) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s", strings.ToLower(meta.Artist), strings.ToLower(meta.Album))
	return fmt.Sprintf("%08x", h.Sum32())
}
