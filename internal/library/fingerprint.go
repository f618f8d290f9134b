package library

import (
	"crypto/md5"
	"fmt"

	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// Fingerprint derives a content identifier from a track's embedded tags:
// normalized title, artist, and whole-second duration. Tag-only differences
// (art, comments, encoder) produce the same fingerprint, unlike a raw byte
// checksum.
func Fingerprint(meta models.TrackMetadata) string {
	identifier := fmt.Sprintf("%s|%d", shared.NormalizeTrackKey(meta.Title, meta.Artist), meta.Duration)
	return fmt.Sprintf("%x", md5.Sum([]byte(identifier)))
}
