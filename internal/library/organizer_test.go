package library

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/lucky-verma/music-discovery/internal/models"
)

// mapSnapshot is a trivial EntrySnapshot for organizer tests.
type mapSnapshot map[string]models.LibraryEntry

func (m mapSnapshot) Lookup(path string) (models.LibraryEntry, bool) {
	e, ok := m[path]
	return e, ok
}

func TestSanitizeSegment(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Abbey Road", "Abbey Road"},
		{"illegal characters", `AC/DC: Back in "Black"?`, "AC_DC_ Back in _Black__"},
		{"collapses whitespace", "The   Dark  Side", "The Dark Side"},
		{"empty", "", "Unknown"},
		{"only illegal", "///", "___"},
		{"trailing dots stripped", "What Is...", "What Is"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSegment(tc.in); got != tc.want {
				t.Errorf("SanitizeSegment(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	t.Run("caps length at word boundary", func(t *testing.T) {
		long := strings.Repeat("word ", 40) // 200 chars
		got := SanitizeSegment(long)
		if len(got) > maxSegmentLen {
			t.Errorf("segment too long: %d runes", len(got))
		}
		if strings.HasSuffix(got, " ") || !strings.HasSuffix(got, "word") {
			t.Errorf("expected clean word-boundary cut, got %q", got)
		}
	})
}

func TestOrganize(t *testing.T) {
	meta := models.TrackMetadata{
		Artist:   "Queen",
		Album:    "A Night at the Opera",
		Title:    "Bohemian Rhapsody",
		TrackNum: 11,
		Duration: 354,
	}

	t.Run("canonical layout", func(t *testing.T) {
		path, err := Organize(meta, mapSnapshot{}, Fingerprint(meta))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "Queen/A Night at the Opera/11 - Bohemian Rhapsody.mp3"
		if path != want {
			t.Errorf("got %q, want %q", path, want)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		snap := mapSnapshot{}
		a, _ := Organize(meta, snap, Fingerprint(meta))
		b, _ := Organize(meta, snap, Fingerprint(meta))
		if a != b {
			t.Errorf("expected identical paths, got %q and %q", a, b)
		}
	})

	t.Run("album artist preferred", func(t *testing.T) {
		m := meta
		m.Artist = "Queen feat. Someone"
		m.AlbumArtist = "Queen"
		path, _ := Organize(m, mapSnapshot{}, Fingerprint(m))
		if !strings.HasPrefix(path, "Queen/") {
			t.Errorf("expected album artist folder, got %q", path)
		}
	})

	t.Run("missing metadata falls back", func(t *testing.T) {
		m := models.TrackMetadata{Title: "Mystery Song"}
		path, _ := Organize(m, mapSnapshot{}, Fingerprint(m))
		want := "Unknown Artist/Unknown Album/Mystery Song.mp3"
		if path != want {
			t.Errorf("got %q, want %q", path, want)
		}
	})

	t.Run("same fingerprint keeps canonical path", func(t *testing.T) {
		fp := Fingerprint(meta)
		snap := mapSnapshot{}
		base, _ := Organize(meta, snap, fp)
		snap[base] = models.LibraryEntry{Path: base, Fingerprint: fp}

		again, err := Organize(meta, snap, fp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != base {
			t.Errorf("expected %q, got %q", base, again)
		}
	})

	t.Run("different fingerprint gets suffix", func(t *testing.T) {
		fp := Fingerprint(meta)
		snap := mapSnapshot{}
		base, _ := Organize(meta, snap, fp)
		snap[base] = models.LibraryEntry{Path: base, Fingerprint: "other"}

		suffixed, err := Organize(meta, snap, fp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if suffixed == base {
			t.Error("expected a disambiguated path, got the colliding one")
		}
		if !strings.Contains(suffixed, "[") {
			t.Errorf("expected suffix marker in %q", suffixed)
		}

		// Suffix must be stable across calls
		again, _ := Organize(meta, snap, fp)
		if again != suffixed {
			t.Errorf("suffix not deterministic: %q vs %q", suffixed, again)
		}
	})

	t.Run("unresolvable collision errors", func(t *testing.T) {
		fp := Fingerprint(meta)
		snap := mapSnapshot{}
		base, _ := Organize(meta, snap, fp)
		snap[base] = models.LibraryEntry{Path: base, Fingerprint: "other"}
		suffixed, _ := Organize(meta, snap, fp)
		snap[suffixed] = models.LibraryEntry{Path: suffixed, Fingerprint: "another"}

		_, err := Organize(meta, snap, fp)
		var oe *OrganizeError
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.As(err, &oe) || oe.Kind != ErrKindPathCollision {
			t.Errorf("expected path collision error, got %v", err)
		}
	})
}

func TestMultiDiscOrdering(t *testing.T) {
	mk := func(disc, track int, title string) string {
		m := models.TrackMetadata{
			Artist: "Artist", Album: "Box Set", Title: title,
			TrackNum: track, DiscNum: disc, TotalDiscs: 2,
		}
		p, err := Organize(m, mapSnapshot{}, Fingerprint(m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return p
	}

	paths := []string{
		mk(2, 1, "d2 opener"),
		mk(1, 12, "d1 closer"),
		mk(1, 2, "d1 early"),
		mk(2, 10, "d2 late"),
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	want := []string{paths[2], paths[1], paths[0], paths[3]} // D1T02, D1T12, D2T01, D2T10
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("lexical order does not match disc-then-track order:\n got %v\nwant %v", sorted, want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := models.TrackMetadata{Title: "So What", Artist: "Miles Davis", Duration: 545}

	t.Run("tag variants collapse", func(t *testing.T) {
		b := a
		b.Title = "so  what"
		b.Artist = "MILES DAVIS"
		b.Album = "Kind of Blue (Remastered)" // album not part of fingerprint
		b.HasArt = true
		if Fingerprint(a) != Fingerprint(b) {
			t.Error("expected identical fingerprints for tag-only differences")
		}
	})

	t.Run("duration distinguishes", func(t *testing.T) {
		b := a
		b.Duration = 320
		if Fingerprint(a) == Fingerprint(b) {
			t.Error("expected different fingerprints for different durations")
		}
	})
}
