// package services defines interface Service for the upstream music catalogs
//
// Spotify, YouTube Music (via proxy)
package services

import (
	"context"

	"github.com/lucky-verma/music-discovery/internal/models"
)

// Service is a music catalog the orchestrator can search and expand
// playlists from. Services resolve metadata only; the actual audio always
// comes from the fetch adapter.
type Service interface {
	// Search returns up to limit catalog hits for a free-text query.
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)

	// ResolvePlaylist expands a playlist reference (ID, URL, or URI) into
	// its track list.
	ResolvePlaylist(ctx context.Context, ref string) ([]models.PlaylistItem, error)

	// LikedTracks returns the authenticated user's saved/liked tracks.
	LikedTracks(ctx context.Context) ([]models.PlaylistItem, error)

	// Name returns the service name (e.g. "Spotify", "YouTube Music")
	Name() string
}
