// Package spotify is the metadata-provider adapter: it resolves a
// user-supplied artist/track intent into canonical metadata the matching
// engine and watchlist can key off of. OAuth ceremony (authorization code
// exchange, refresh-token storage) is an explicit non-goal; callers
// supply an already-authenticated oauth2.TokenSource.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/bozzfozz/harmony/internal/orcherr"
)

const defaultBaseURL = "https://api.spotify.com/v1"

// Track is the subset of Spotify's track metadata the matching engine and
// the artist_sync handler need.
type Track struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	AlbumName   string   `json:"album_name"`
	DurationMS  int      `json:"duration_ms"`
	ReleaseYear int      `json:"release_year"`
}

// Artist is the subset of Spotify's artist metadata the Watchlist Timer
// needs to keep a Watched Artist's external_ids mapping current.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider is the metadata-provider interface the orchestrator's handlers
// depend on. Handlers hold only this interface; tests substitute a
// fake that never performs OAuth or network I/O.
type Provider interface {
	SearchTrack(ctx context.Context, artist, title string) (Track, error)
	GetArtist(ctx context.Context, externalID string) (Artist, error)
	ArtistDiscography(ctx context.Context, externalID string) ([]Track, error)
}

// HTTPProvider is the production Provider. It never performs the OAuth
// ceremony itself; the caller's oauth2.TokenSource is responsible for
// refreshing and supplying a valid bearer token per request.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider constructs an HTTPProvider backed by an
// oauth2.TokenSource-authenticated http.Client (oauth2.NewClient), so every
// outbound request already carries a fresh bearer token.
func NewHTTPProvider(ts oauth2.TokenSource) *HTTPProvider {
	return NewHTTPProviderWithBaseURL(ts, defaultBaseURL)
}

// NewHTTPProviderWithBaseURL is NewHTTPProvider with an overridable base URL,
// used by tests to point the provider at an httptest.Server.
func NewHTTPProviderWithBaseURL(ts oauth2.TokenSource, baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  oauth2.NewClient(context.Background(), ts),
	}
}

func (p *HTTPProvider) get(ctx context.Context, path string, query url.Values, out any) error {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return orcherr.New(orcherr.ValidationError, "build spotify request", map[string]any{"error": err.Error()})
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return orcherr.New(orcherr.DependencyError, "spotify request failed", map[string]any{"error": err.Error()})
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return orcherr.New(orcherr.RateLimited, "spotify rate limited the request", nil)
	case resp.StatusCode == http.StatusNotFound:
		return orcherr.New(orcherr.NotFound, "spotify resource not found", nil)
	case resp.StatusCode >= 500:
		return orcherr.New(orcherr.DependencyError, fmt.Sprintf("spotify returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return orcherr.New(orcherr.ValidationError, fmt.Sprintf("spotify rejected request: %d", resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return orcherr.New(orcherr.DependencyError, "decode spotify response", map[string]any{"error": err.Error()})
	}
	return nil
}

// SearchTrack resolves the best-matching track for an artist/title pair.
func (p *HTTPProvider) SearchTrack(ctx context.Context, artist, title string) (Track, error) {
	var out struct {
		Tracks []Track `json:"tracks"`
	}
	q := url.Values{"q": {fmt.Sprintf("artist:%s track:%s", artist, title)}, "type": {"track"}, "limit": {"1"}}
	if err := p.get(ctx, "/search", q, &out); err != nil {
		return Track{}, err
	}
	if len(out.Tracks) == 0 {
		return Track{}, orcherr.New(orcherr.NotFound, "no matching track on spotify", map[string]any{"artist": artist, "title": title})
	}
	return out.Tracks[0], nil
}

// GetArtist resolves artist metadata by Spotify's external ID.
func (p *HTTPProvider) GetArtist(ctx context.Context, externalID string) (Artist, error) {
	var out Artist
	if err := p.get(ctx, "/artists/"+url.PathEscape(externalID), nil, &out); err != nil {
		return Artist{}, err
	}
	return out, nil
}

// ArtistDiscography lists an artist's top tracks (Spotify's top-tracks
// endpoint, US market), which artist_sync fans out into sync jobs. The list
// is not filtered by release date or by the artist's last watchlist check.
func (p *HTTPProvider) ArtistDiscography(ctx context.Context, externalID string) ([]Track, error) {
	var out struct {
		Tracks []Track `json:"tracks"`
	}
	path := "/artists/" + url.PathEscape(externalID) + "/top-tracks"
	if err := p.get(ctx, path, url.Values{"market": {"US"}}, &out); err != nil {
		return nil, err
	}
	return out.Tracks, nil
}
