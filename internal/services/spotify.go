// Spotify API implementation of [Service]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	TotalTracks int            `json:"total_tracks"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	TrackNum   int             `json:"track_number"`
	DiscNum    int             `json:"disc_number"`
	URI        string          `json:"uri"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// spotifyPage is the shared shape of Spotify's paginated track responses.
type spotifyPage struct {
	Items  []SpotifyPlaylistTrack `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
	Next   *string                `json:"next"`
}

// SpotifyService implements the Service interface for the Spotify catalog.
//
// Catalog lookups (search, playlist expansion) run on an app token from the
// client-credentials flow. Liked tracks need a user token supplied through
// [SpotifyService.Authenticate].
type SpotifyService struct {
	catalogClient *http.Client
	userClient    *http.Client
	baseURL       string
}

// NewSpotifyService creates a Spotify client from app credentials.
func NewSpotifyService(ctx context.Context, cfg shared.SpotifyConfig) (*SpotifyService, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingCredentials)
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyTokenURL,
	}

	return &SpotifyService{
		catalogClient: creds.Client(ctx),
		baseURL:       spotifyBaseURL,
	}, nil
}

// Name returns the service name.
func (s *SpotifyService) Name() string {
	return "Spotify"
}

// Authenticate attaches a user access token for library-scoped endpoints.
func (s *SpotifyService) Authenticate(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return fmt.Errorf("%w: spotify access token", shared.ErrMissingCredentials)
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	s.userClient = oauth2.NewClient(ctx, source)
	return nil
}

// doRequest performs an authenticated GET against the Spotify API.
func (s *SpotifyService) doRequest(ctx context.Context, client *http.Client, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return shared.ErrPlaylistNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: spotify API status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Search queries the track catalog.
func (s *SpotifyService) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	endpoint := fmt.Sprintf("/search?q=%s&type=track&limit=%d", url.QueryEscape(query), limit)
	var response struct {
		Tracks struct {
			Items []SpotifyTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := s.doRequest(ctx, s.catalogClient, endpoint, &response); err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(response.Tracks.Items))
	for _, t := range response.Tracks.Items {
		result := models.SearchResult{
			SourceRef: trackSourceRef(t),
			Title:     t.Name,
			Album:     t.Album.Name,
			Duration:  t.DurationMS / 1000,
		}
		if len(t.Artists) > 0 {
			result.Artist = t.Artists[0].Name
		}
		if len(t.Album.Images) > 0 {
			result.ArtURL = t.Album.Images[0].URL
		}
		results = append(results, result)
	}
	return results, nil
}

// ResolvePlaylist expands a playlist reference into its full track list,
// following pagination to the end.
func (s *SpotifyService) ResolvePlaylist(ctx context.Context, ref string) ([]models.PlaylistItem, error) {
	playlistID, err := extractSpotifyPlaylistID(ref)
	if err != nil {
		return nil, err
	}

	var items []models.PlaylistItem
	offset := 0
	for {
		endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=100&offset=%d", playlistID, offset)
		var page spotifyPage
		if err := s.doRequest(ctx, s.catalogClient, endpoint, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Track.ID == "" {
				// Local files and removed tracks come back as null tracks.
				continue
			}
			items = append(items, playlistItem(item.Track))
		}

		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}
	return items, nil
}

// LikedTracks pages through the user's saved tracks. Requires a user token.
func (s *SpotifyService) LikedTracks(ctx context.Context) ([]models.PlaylistItem, error) {
	if s.userClient == nil {
		return nil, fmt.Errorf("%w: spotify user token (call Authenticate)", shared.ErrMissingCredentials)
	}

	var items []models.PlaylistItem
	offset := 0
	for {
		endpoint := fmt.Sprintf("/me/tracks?limit=50&offset=%d", offset)
		var page spotifyPage
		if err := s.doRequest(ctx, s.userClient, endpoint, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Track.ID == "" {
				continue
			}
			items = append(items, playlistItem(item.Track))
		}

		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}
	return items, nil
}

// trackSourceRef builds the downloadable reference for a Spotify track.
// Spotify does not serve audio, so tracks resolve through a targeted search
// query against the downloader.
func trackSourceRef(t SpotifyTrack) string {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return "ytsearch1:" + strings.TrimSpace(t.Name+" "+artist)
}

func playlistItem(t SpotifyTrack) models.PlaylistItem {
	meta := models.TrackMetadata{
		Title:    t.Name,
		Album:    t.Album.Name,
		TrackNum: t.TrackNum,
		DiscNum:  t.DiscNum,
		Duration: t.DurationMS / 1000,
		SourceID: t.ID,
	}
	if len(t.Artists) > 0 {
		meta.Artist = t.Artists[0].Name
	}
	return models.PlaylistItem{SourceRef: trackSourceRef(t), Meta: meta}
}

// extractSpotifyPlaylistID accepts a bare ID, a spotify: URI, or an
// open.spotify.com URL.
func extractSpotifyPlaylistID(ref string) (string, error) {
	switch {
	case ref == "":
		return "", fmt.Errorf("%w: playlist reference", shared.ErrMissingArgument)

	case strings.HasPrefix(ref, "spotify:playlist:"):
		return strings.TrimPrefix(ref, "spotify:playlist:"), nil

	case strings.Contains(ref, "open.spotify.com/playlist/"):
		_, after, _ := strings.Cut(ref, "open.spotify.com/playlist/")
		id, _, _ := strings.Cut(after, "?")
		if id == "" {
			return "", fmt.Errorf("%w: malformed playlist URL %q", shared.ErrInvalidInput, ref)
		}
		return id, nil

	case strings.Contains(ref, "/"), strings.Contains(ref, ":"):
		return "", fmt.Errorf("%w: unrecognized playlist reference %q", shared.ErrInvalidInput, ref)
	}
	return ref, nil
}
