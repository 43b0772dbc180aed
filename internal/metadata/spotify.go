// ABOUTME: Spotify Web API release year lookup
// ABOUTME: Authenticates with client credentials and reads album release dates
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/playbridge/playbridge/internal/version"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// SpotifyConfig holds Spotify application credentials
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string

	// BaseURL and TokenURL default to the public Spotify endpoints
	BaseURL  string
	TokenURL string
}

type spotifyTrack struct {
	Album struct {
		ReleaseDate string `json:"release_date"`
	} `json:"album"`
}

// SpotifyLookup reads release years from the Spotify tracks endpoint
type SpotifyLookup struct {
	baseURL    string
	httpClient *http.Client
}

// NewSpotifyLookup creates a lookup authenticated as the application
func NewSpotifyLookup(config SpotifyConfig) (*SpotifyLookup, error) {
	if config.ClientID == "" {
		return nil, fmt.Errorf("missing client_id")
	}
	if config.ClientSecret == "" {
		return nil, fmt.Errorf("missing client_secret")
	}
	if config.BaseURL == "" {
		config.BaseURL = spotifyBaseURL
	}
	if config.TokenURL == "" {
		config.TokenURL = spotifyTokenURL
	}

	cc := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.TokenURL,
	}

	return &SpotifyLookup{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: cc.Client(context.Background()),
	}, nil
}

// ReleaseYear fetches the track and returns the year of its album release
func (s *SpotifyLookup) ReleaseYear(ctx context.Context, trackID string) (string, error) {
	id := SpotifyTrackID(trackID)
	if id == "" {
		return "", fmt.Errorf("not a spotify track: %q", trackID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/tracks/"+url.PathEscape(id), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("spotify API error: status %d", resp.StatusCode)
	}

	var track spotifyTrack
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	year, _, _ := strings.Cut(track.Album.ReleaseDate, "-")
	if year == "" {
		return "", fmt.Errorf("track %s has no release date", id)
	}
	return year, nil
}

// SpotifyTrackID extracts the bare ID from spotify:track:<id>, an
// open.spotify.com track URL, or a bare ID. Other URIs yield "".
func SpotifyTrackID(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "spotify:track:"):
		return strings.TrimPrefix(ref, "spotify:track:")
	case strings.Contains(ref, "open.spotify.com/track/"):
		_, rest, _ := strings.Cut(ref, "open.spotify.com/track/")
		id, _, _ := strings.Cut(rest, "?")
		return strings.Trim(id, "/")
	case strings.ContainsAny(ref, ":/"):
		return ""
	default:
		return ref
	}
}
