// Package catalog provides the read-only client for the platform's REST
// API. Only the track-listing surface the player needs is covered here;
// projects, tips and uploads stay on the platform side.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"

	"github.com/soundloft/tapedeck/internal/domain/track"
)

// ErrNotFound is returned when the requested project does not exist.
var ErrNotFound = errors.New("project not found")

// Config holds catalog client configuration.
type Config struct {
	BaseURL string        // API root, e.g. https://api.example.com
	Token   string        // Bearer token, empty for anonymous access
	Timeout time.Duration // Per-request timeout
}

// Client is the catalog API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a catalog client. With a token configured, requests carry it
// as a bearer credential.
func New(ctx context.Context, cfg Config) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, httpClient), src)
		httpClient.Timeout = cfg.Timeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// projectResponse mirrors the platform's project track-list payload.
type projectResponse struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Tracks []trackResponse `json:"tracks"`
}

type trackResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	AudioURL        string `json:"audio_url"`
	CoverURL        string `json:"cover_url"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Project is a project's playable view.
type Project struct {
	ID     string
	Title  string
	Tracks []track.Track
}

// ProjectTracks fetches a project's track list.
func (c *Client) ProjectTracks(ctx context.Context, projectID string) (*Project, error) {
	u := fmt.Sprintf("%s/api/projects/%s/tracks", c.baseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building catalog request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching project tracks")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "project %s", projectID)
	default:
		return nil, errors.Newf("catalog returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog response")
	}

	var pr projectResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, errors.Wrap(err, "decoding catalog response")
	}

	p := &Project{ID: pr.ID, Title: pr.Title}
	for _, tr := range pr.Tracks {
		p.Tracks = append(p.Tracks, track.Track{
			ID:           tr.ID,
			Title:        tr.Title,
			ProjectTitle: pr.Title,
			AudioURL:     tr.AudioURL,
			CoverURL:     tr.CoverURL,
			Duration:     time.Duration(tr.DurationSeconds) * time.Second,
		})
	}
	return p, nil
}
