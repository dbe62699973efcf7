// Spotify API implementation of [Catalog]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"tempotrain/internal/shared"
)

const (
	spotifyBaseURL = "https://api.spotify.com/v1"

	// Web API batch ceilings
	maxAudioFeatureIDs   = 100
	maxRecommendLimit    = 100
	maxRecommendSeeds    = 5
	defaultSearchResults = 5
)

// spotifyImage represents an image resource.
type spotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// spotifyArtist represents a Spotify artist.
type spotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []spotifyImage `json:"images"`
}

// spotifyTrack represents a Spotify track.
type spotifyTrack struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// spotifyAudioFeatures carries the subset of audio analysis this app reads.
type spotifyAudioFeatures struct {
	ID    string  `json:"id"`
	Tempo float64 `json:"tempo"`
}

// spotifyUser represents a Spotify user profile.
type spotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// spotifyPlaylist represents a Spotify playlist.
type spotifyPlaylist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner struct {
		ID string `json:"id"`
	} `json:"owner"`
}

// SpotifyCatalog implements the Catalog interface against the Spotify Web API.
//
// Stateless with respect to users: the bearer token is supplied per call so a
// single client can serve every session. Requests pass through a shared rate
// limiter; there are no retries, failures surface to the caller directly.
type SpotifyCatalog struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

// SpotifyCatalogOpts contains configuration options for creating a SpotifyCatalog.
type SpotifyCatalogOpts struct {
	HTTPClient *http.Client
	RateLimit  float64 // Requests per second (default: 5)
	BaseURL    string  // Override for tests
}

// NewSpotifyCatalog creates a new Spotify catalog client.
func NewSpotifyCatalog(opts SpotifyCatalogOpts) *SpotifyCatalog {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}

	return &SpotifyCatalog{
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		baseURL:    opts.BaseURL,
	}
}

func (s *SpotifyCatalog) Name() string {
	return "Spotify"
}

// doRequest performs an authenticated HTTP request against the Spotify API.
//
// Waits on the rate limiter before sending. A non-2xx response is reported as
// [shared.ErrCatalogUnavailable] with the remote status attached.
func (s *SpotifyCatalog) doRequest(ctx context.Context, token, method, endpoint string, body any, result any) error {
	if token == "" {
		return shared.ErrNotAuthenticated
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	apiURL := s.baseURL + endpoint

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned status %d", shared.ErrCatalogUnavailable, method, endpoint, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// SearchArtist searches for artists by name. Results keep the API's ranking order.
func (s *SpotifyCatalog) SearchArtist(ctx context.Context, token, query string) ([]Artist, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty artist query", shared.ErrInvalidInput)
	}

	params := url.Values{}
	params.Set("q", "artist:"+query)
	params.Set("type", "artist")
	params.Set("limit", fmt.Sprintf("%d", defaultSearchResults))

	var response struct {
		Artists struct {
			Items []spotifyArtist `json:"items"`
		} `json:"artists"`
	}

	if err := s.doRequest(ctx, token, "GET", "/search?"+params.Encode(), nil, &response); err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(response.Artists.Items))
	for _, a := range response.Artists.Items {
		artists = append(artists, toArtist(a))
	}

	return artists, nil
}

// TopTracks retrieves an artist's top tracks for the token's market.
func (s *SpotifyCatalog) TopTracks(ctx context.Context, token, artistID string) ([]Track, error) {
	endpoint := fmt.Sprintf("/artists/%s/top-tracks?market=from_token", url.PathEscape(artistID))

	var response struct {
		Tracks []spotifyTrack `json:"tracks"`
	}

	if err := s.doRequest(ctx, token, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(response.Tracks))
	for _, t := range response.Tracks {
		tracks = append(tracks, Track{ID: t.ID, Name: t.Name})
	}

	return tracks, nil
}

// RelatedArtists retrieves artists similar to the given artist.
func (s *SpotifyCatalog) RelatedArtists(ctx context.Context, token, artistID string) ([]Artist, error) {
	endpoint := fmt.Sprintf("/artists/%s/related-artists", url.PathEscape(artistID))

	var response struct {
		Artists []spotifyArtist `json:"artists"`
	}

	if err := s.doRequest(ctx, token, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(response.Artists))
	for _, a := range response.Artists {
		artists = append(artists, toArtist(a))
	}

	return artists, nil
}

// AudioFeatures bulk-fetches tempo metadata for up to 100 tracks.
//
// The API returns a null entry for tracks without analysis; those are skipped.
func (s *SpotifyCatalog) AudioFeatures(ctx context.Context, token string, trackIDs []string) ([]TempoRecord, error) {
	if len(trackIDs) == 0 {
		return nil, fmt.Errorf("%w: no track IDs provided", shared.ErrInvalidInput)
	}
	if len(trackIDs) > maxAudioFeatureIDs {
		return nil, fmt.Errorf("%w: maximum %d track IDs allowed", shared.ErrInvalidInput, maxAudioFeatureIDs)
	}

	endpoint := "/audio-features?ids=" + url.QueryEscape(strings.Join(trackIDs, ","))

	var response struct {
		AudioFeatures []*spotifyAudioFeatures `json:"audio_features"`
	}

	if err := s.doRequest(ctx, token, "GET", endpoint, nil, &response); err != nil {
		return nil, err
	}

	records := make([]TempoRecord, 0, len(response.AudioFeatures))
	for _, f := range response.AudioFeatures {
		if f == nil {
			continue
		}
		records = append(records, TempoRecord{TrackID: f.ID, TempoBPM: f.Tempo})
	}

	return records, nil
}

// Recommendations fetches candidate tracks generated from seed tracks or seed artists.
func (s *SpotifyCatalog) Recommendations(ctx context.Context, token string, seeds Seeds, limit int) ([]Track, error) {
	if len(seeds.Tracks) > 0 && len(seeds.Artists) > 0 {
		return nil, fmt.Errorf("%w: supply seed tracks or seed artists, not both", shared.ErrInvalidInput)
	}
	if len(seeds.Tracks) == 0 && len(seeds.Artists) == 0 {
		return nil, fmt.Errorf("%w: no seeds provided", shared.ErrInvalidInput)
	}
	if len(seeds.Tracks) > maxRecommendSeeds || len(seeds.Artists) > maxRecommendSeeds {
		return nil, fmt.Errorf("%w: maximum %d seeds allowed", shared.ErrInvalidInput, maxRecommendSeeds)
	}
	if limit <= 0 || limit > maxRecommendLimit {
		limit = maxRecommendLimit
	}

	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", limit))
	if len(seeds.Tracks) > 0 {
		params.Set("seed_tracks", strings.Join(seeds.Tracks, ","))
	} else {
		params.Set("seed_artists", strings.Join(seeds.Artists, ","))
	}

	var response struct {
		Tracks []spotifyTrack `json:"tracks"`
	}

	if err := s.doRequest(ctx, token, "GET", "/recommendations?"+params.Encode(), nil, &response); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(response.Tracks))
	for _, t := range response.Tracks {
		tracks = append(tracks, Track{ID: t.ID, Name: t.Name})
	}

	return tracks, nil
}

// CurrentUser retrieves the authenticated user's profile.
func (s *SpotifyCatalog) CurrentUser(ctx context.Context, token string) (*User, error) {
	var user spotifyUser
	if err := s.doRequest(ctx, token, "GET", "/me", nil, &user); err != nil {
		return nil, err
	}
	return &User{ID: user.ID, DisplayName: user.DisplayName}, nil
}

// CreatePlaylist creates a new public playlist owned by the given user.
func (s *SpotifyCatalog) CreatePlaylist(ctx context.Context, token, ownerID, name string) (*Playlist, error) {
	endpoint := fmt.Sprintf("/users/%s/playlists", url.PathEscape(ownerID))

	body := map[string]any{
		"name":   name,
		"public": true,
	}

	var playlist spotifyPlaylist
	if err := s.doRequest(ctx, token, "POST", endpoint, body, &playlist); err != nil {
		return nil, err
	}

	owner := playlist.Owner.ID
	if owner == "" {
		owner = ownerID
	}

	return &Playlist{ID: playlist.ID, OwnerID: owner, Name: playlist.Name}, nil
}

// AddTracks appends tracks to a playlist in a single bulk call.
//
// Issued even for an empty track list so every build leaves a real playlist behind.
func (s *SpotifyCatalog) AddTracks(ctx context.Context, token, ownerID, playlistID string, trackIDs []string) error {
	endpoint := fmt.Sprintf("/users/%s/playlists/%s/tracks", url.PathEscape(ownerID), url.PathEscape(playlistID))

	uris := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		uris = append(uris, "spotify:track:"+id)
	}

	body := map[string]any{"uris": uris}

	return s.doRequest(ctx, token, "POST", endpoint, body, nil)
}

func toArtist(a spotifyArtist) Artist {
	artist := Artist{ID: a.ID, Name: a.Name}
	if len(a.Images) > 0 {
		artist.ImageURL = a.Images[0].URL
	}
	return artist
}
