package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectTracks(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/projects/p1/tracks":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "p1",
				"title": "First EP",
				"tracks": [
					{"id": "t1", "title": "Intro", "audio_url": "https://cdn.example.com/t1.mp3", "duration_seconds": 61},
					{"id": "t2", "title": "Demo", "audio_url": "https://cdn.example.com/t2.mp3", "cover_url": "https://cdn.example.com/t2.png"}
				]
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(context.Background(), Config{BaseURL: srv.URL, Token: "tok123", Timeout: 5 * time.Second})

	p, err := c.ProjectTracks(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "First EP", p.Title)
	require.Len(t, p.Tracks, 2)
	assert.Equal(t, "t1", p.Tracks[0].ID)
	assert.Equal(t, "First EP", p.Tracks[0].ProjectTitle)
	assert.Equal(t, 61*time.Second, p.Tracks[0].Duration)
	assert.Equal(t, "https://cdn.example.com/t2.png", p.Tracks[1].CoverURL)
	assert.Zero(t, p.Tracks[1].Duration)
}

func TestProjectTracks_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	c := New(context.Background(), Config{BaseURL: srv.URL, Timeout: 5 * time.Second})

	_, err := c.ProjectTracks(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectTracks_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(context.Background(), Config{BaseURL: srv.URL, Timeout: 5 * time.Second})

	_, err := c.ProjectTracks(context.Background(), "p1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestProjectTracks_AnonymousHasNoAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"p1","title":"EP","tracks":[]}`))
	}))
	defer srv.Close()

	c := New(context.Background(), Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := c.ProjectTracks(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}
