// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package spotify is a small Spotify Web API client covering the playlist
// calls the bot needs.
package spotify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/satoshipuzzles/jukebot/pkg/metrics"
)

const (
	DefaultBaseURL = "https://api.spotify.com/v1"

	// addBatchSize is the API's limit on URIs per add-items request.
	addBatchSize = 100
	pageSize     = 100
)

var (
	ErrUnauthorized = errors.New("spotify: unauthorized")
	ErrRateLimited  = errors.New("spotify: rate limited")
)

// API is the subset of the Web API used by the playlist pipeline.
type API interface {
	CurrentUser(ctx context.Context) (*User, error)
	CreatePlaylist(ctx context.Context, title, description string, public bool) (*Playlist, error)
	PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error)
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error
}

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Playlist struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ExternalURLs map[string]string `json:"external_urls"`
}

// APIError is a non-2xx response from the Web API.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// TrackURI converts a bare track id to a spotify:track: URI.
func TrackURI(id string) string {
	return "spotify:track:" + id
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	userMu sync.Mutex
	userID string
}

type Option func(*Client)

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPTimeout bounds each request, including reading the body. Zero
// keeps the 15s default.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient returns a client that authenticates every request with tokens
// from ts.
func NewClient(baseURL string, ts oauth2.TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 15 * time.Second

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, "current_user", http.MethodGet, c.baseURL+"/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) currentUserID(ctx context.Context) (string, error) {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	if c.userID != "" {
		return c.userID, nil
	}
	u, err := c.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	c.userID = u.ID
	return u.ID, nil
}

// CreatePlaylist creates a playlist owned by the authenticated user.
func (c *Client) CreatePlaylist(ctx context.Context, title, description string, public bool) (*Playlist, error) {
	userID, err := c.currentUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving current user: %w", err)
	}

	body := map[string]any{
		"name":        title,
		"description": description,
		"public":      public,
	}
	var pl Playlist
	endpoint := c.baseURL + "/users/" + url.PathEscape(userID) + "/playlists"
	if err := c.do(ctx, "create_playlist", http.MethodPost, endpoint, body, &pl); err != nil {
		return nil, err
	}
	if pl.ID == "" {
		return nil, fmt.Errorf("spotify: create playlist returned no id")
	}
	return &pl, nil
}

// PlaylistTrackIDs returns the ids of every track in the playlist, following
// pagination. Local files and removed tracks (null ids) are skipped.
func (c *Client) PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	q := url.Values{
		"fields": {"items(track(id)),next"},
		"limit":  {strconv.Itoa(pageSize)},
	}
	next := c.baseURL + "/playlists/" + url.PathEscape(playlistID) + "/tracks?" + q.Encode()

	var ids []string
	for next != "" {
		var page struct {
			Items []struct {
				Track *struct {
					ID string `json:"id"`
				} `json:"track"`
			} `json:"items"`
			Next string `json:"next"`
		}
		if err := c.do(ctx, "playlist_tracks", http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track != nil && item.Track.ID != "" {
				ids = append(ids, item.Track.ID)
			}
		}
		next = page.Next
	}
	return ids, nil
}

// AddTracks appends trackIDs to the playlist in batches of 100.
func (c *Client) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	endpoint := c.baseURL + "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	for start := 0; start < len(trackIDs); start += addBatchSize {
		end := start + addBatchSize
		if end > len(trackIDs) {
			end = len(trackIDs)
		}
		uris := make([]string, 0, end-start)
		for _, id := range trackIDs[start:end] {
			uris = append(uris, TrackURI(id))
		}
		if err := c.do(ctx, "add_tracks", http.MethodPost, endpoint, map[string]any{"uris": uris}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("spotify %s: waiting for rate limiter: %w", operation, err)
	}

	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("spotify %s: encoding request: %w", operation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordSpotifyRequest(operation, 0, time.Since(start))
		return fmt.Errorf("spotify %s: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.RecordSpotifyRequest(operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("spotify %s: decoding response: %w", operation, err)
	}
	return nil
}

func parseAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var payload struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		apiErr.Message = payload.Error.Message
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
