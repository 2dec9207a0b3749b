// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
)

// BreakerSettings tunes the circuit breaker. Zero values take defaults.
type BreakerSettings struct {
	Name             string
	MinRequests      uint32
	FailureRatio     float64
	ConsecutiveFails uint32
	OpenTimeout      time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Name == "" {
		s.Name = "spotify-api"
	}
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}
	if s.ConsecutiveFails == 0 {
		s.ConsecutiveFails = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return s
}

// BreakerClient wraps an API with a circuit breaker so a failing Spotify
// backend is not hammered by every incoming mention.
type BreakerClient struct {
	api  API
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

func NewBreakerClient(api API, settings BreakerSettings) *BreakerClient {
	s := settings.withDefaults()
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= s.ConsecutiveFails {
				return true
			}
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WarnCF("spotify", "Circuit breaker state change", map[string]any{
				"name": name,
				"from": stateToString(from),
				"to":   stateToString(to),
			})
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
		IsSuccessful: isBreakerSuccess,
	})

	return &BreakerClient{api: api, cb: cb, name: s.Name}
}

// isBreakerSuccess keeps client errors (bad ids, missing scopes) from opening
// the circuit; only transport errors, 429 and 5xx count as failures.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
	}
	return errors.Is(err, context.Canceled)
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, fmt.Errorf("spotify unavailable: %w", err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

// State reports the breaker state as "closed", "half-open" or "open".
func (b *BreakerClient) State() string {
	return stateToString(b.cb.State())
}

func (b *BreakerClient) CurrentUser(ctx context.Context) (*User, error) {
	return castResult[User](b.execute(func() (any, error) {
		return b.api.CurrentUser(ctx)
	}))
}

func (b *BreakerClient) CreatePlaylist(ctx context.Context, title, description string, public bool) (*Playlist, error) {
	return castResult[Playlist](b.execute(func() (any, error) {
		return b.api.CreatePlaylist(ctx, title, description, public)
	}))
}

func (b *BreakerClient) PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.PlaylistTrackIDs(ctx, playlistID)
	})
	if err != nil {
		return nil, err
	}
	ids, ok := result.([]string)
	if !ok && result != nil {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return ids, nil
}

func (b *BreakerClient) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.api.AddTracks(ctx, playlistID, trackIDs)
	})
	return err
}

func castResult[T any](result any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
