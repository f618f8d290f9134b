// YouTube Music API [Service] implementation
//
// Communicates with a ytmusicapi proxy server. The proxy wraps the
// ytmusicapi Python library for YouTube Music operations.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

const defaultYTBaseURL string = "http://localhost:8080"

// YouTubeImage represents an image/thumbnail from YouTube Music.
type YouTubeImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// YouTubeArtist represents an artist in YouTube Music responses.
type YouTubeArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type youtubeAlbum struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// YouTubeTrack represents a track/video in YouTube Music responses.
type YouTubeTrack struct {
	VideoID     string          `json:"videoId"`
	Title       string          `json:"title"`
	Artists     []YouTubeArtist `json:"artists"`
	Album       *youtubeAlbum   `json:"album"`
	Duration    string          `json:"duration"`
	DurationSec int             `json:"duration_seconds"`
	Thumbnails  []YouTubeImage  `json:"thumbnails"`
}

// YouTubeService implements the Service interface for YouTube Music via proxy.
type YouTubeService struct {
	baseURL    string
	httpClient *http.Client
}

// NewYouTubeService creates a new YouTube Music service instance.
func NewYouTubeService(baseURL string) *YouTubeService {
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}
	return &YouTubeService{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
}

// Name returns the service name.
func (y *YouTubeService) Name() string {
	return "YouTube Music"
}

func (y *YouTubeService) doRequest(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return shared.ErrPlaylistNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Detail != "" {
			return fmt.Errorf("%w: youtube music proxy (status %d): %s", shared.ErrAPIRequest, resp.StatusCode, errResp.Detail)
		}
		return fmt.Errorf("%w: youtube music proxy status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Search queries the proxy's song search.
//
// Calls GET /api/search?q={query}&filter=songs on the proxy.
func (y *YouTubeService) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}
	if limit <= 0 {
		limit = 20
	}

	endpoint := fmt.Sprintf("/api/search?q=%s&filter=songs", url.QueryEscape(query))
	var tracks []YouTubeTrack
	if err := y.doRequest(ctx, endpoint, &tracks); err != nil {
		return nil, err
	}

	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	results := make([]models.SearchResult, len(tracks))
	for i, t := range tracks {
		results[i] = models.SearchResult{
			SourceRef: watchURL(t.VideoID),
			Title:     t.Title,
			Duration:  t.DurationSec,
		}
		if len(t.Artists) > 0 {
			results[i].Artist = t.Artists[0].Name
		}
		if t.Album != nil {
			results[i].Album = t.Album.Name
		}
		if len(t.Thumbnails) > 0 {
			results[i].ArtURL = t.Thumbnails[len(t.Thumbnails)-1].URL
		}
	}
	return results, nil
}

// ResolvePlaylist expands a playlist with all its tracks.
//
// Calls GET /api/playlists/{id} on the proxy.
func (y *YouTubeService) ResolvePlaylist(ctx context.Context, ref string) ([]models.PlaylistItem, error) {
	playlistID := extractYouTubePlaylistID(ref)
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist reference", shared.ErrMissingArgument)
	}

	var ytPlaylist struct {
		ID     string         `json:"id"`
		Title  string         `json:"title"`
		Tracks []YouTubeTrack `json:"tracks"`
	}
	endpoint := fmt.Sprintf("/api/playlists/%s", playlistID)
	if err := y.doRequest(ctx, endpoint, &ytPlaylist); err != nil {
		return nil, err
	}

	items := make([]models.PlaylistItem, 0, len(ytPlaylist.Tracks))
	for _, t := range ytPlaylist.Tracks {
		if t.VideoID == "" {
			continue
		}
		items = append(items, youtubeItem(t))
	}
	return items, nil
}

// LikedTracks retrieves the user's liked songs.
//
// Calls GET /api/library/liked on the proxy; authentication lives on the
// proxy side.
func (y *YouTubeService) LikedTracks(ctx context.Context) ([]models.PlaylistItem, error) {
	var response struct {
		Tracks []YouTubeTrack `json:"tracks"`
	}
	if err := y.doRequest(ctx, "/api/library/liked", &response); err != nil {
		return nil, err
	}

	items := make([]models.PlaylistItem, 0, len(response.Tracks))
	for _, t := range response.Tracks {
		if t.VideoID == "" {
			continue
		}
		items = append(items, youtubeItem(t))
	}
	return items, nil
}

func youtubeItem(t YouTubeTrack) models.PlaylistItem {
	meta := models.TrackMetadata{
		Title:    t.Title,
		Duration: t.DurationSec,
		SourceID: t.VideoID,
	}
	if len(t.Artists) > 0 {
		meta.Artist = t.Artists[0].Name
	}
	if t.Album != nil {
		meta.Album = t.Album.Name
	}
	return models.PlaylistItem{SourceRef: watchURL(t.VideoID), Meta: meta}
}

func watchURL(videoID string) string {
	return "https://youtube.com/watch?v=" + videoID
}

// extractYouTubePlaylistID accepts a bare playlist ID or any YouTube URL
// carrying a list parameter.
func extractYouTubePlaylistID(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		if id := u.Query().Get("list"); id != "" {
			return id
		}
		return ""
	}
	return ref
}
