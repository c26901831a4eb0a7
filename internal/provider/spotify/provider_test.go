package spotify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/provider/spotify"
)

func staticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
}

func TestSearchTrack_ReturnsFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tracks": []spotify.Track{{ID: "abc123", Name: "One More Time", Artists: []string{"Daft Punk"}}},
		})
	}))
	defer srv.Close()

	p := spotify.NewHTTPProviderWithBaseURL(staticTokenSource(), srv.URL)
	track, err := p.SearchTrack(context.Background(), "Daft Punk", "One More Time")
	require.NoError(t, err)
	require.Equal(t, "abc123", track.ID)
}

func TestSearchTrack_NoResultsReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tracks": []spotify.Track{}})
	}))
	defer srv.Close()

	p := spotify.NewHTTPProviderWithBaseURL(staticTokenSource(), srv.URL)
	_, err := p.SearchTrack(context.Background(), "Nobody", "Nothing")
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.NotFound, oe.Kind)
}

func TestGetArtist_NotFoundMapsToOrcherrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := spotify.NewHTTPProviderWithBaseURL(staticTokenSource(), srv.URL)
	_, err := p.GetArtist(context.Background(), "nonexistent")
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.NotFound, oe.Kind)
}

func TestGetArtist_RateLimitedMapsToOrcherrRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := spotify.NewHTTPProviderWithBaseURL(staticTokenSource(), srv.URL)
	_, err := p.GetArtist(context.Background(), "someone")
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.RateLimited, oe.Kind)
}

func TestArtistDiscography_ServerErrorMapsToDependencyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := spotify.NewHTTPProviderWithBaseURL(staticTokenSource(), srv.URL)
	_, err := p.ArtistDiscography(context.Background(), "artist-1")
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.DependencyError, oe.Kind)
}
