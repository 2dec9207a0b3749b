// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package playlist maps Nostr owners to Spotify playlists, creating each
// playlist on first use.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/satoshipuzzles/jukebot/pkg/identity"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
	"github.com/satoshipuzzles/jukebot/pkg/spotify"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

const (
	titleSuffix = "Nostr Playlist"
	globalKey   = "\x00global"

	defaultFlightTimeout = 30 * time.Second
)

// Creator creates playlists on the media service.
type Creator interface {
	CreatePlaylist(ctx context.Context, title, description string, public bool) (*spotify.Playlist, error)
}

// Store is the subset of *store.Store the manager needs.
type Store interface {
	Get(ctx context.Context, owner string) (store.PlaylistRef, error)
	PutIfAbsent(ctx context.Context, ref store.PlaylistRef) (store.PlaylistRef, bool, error)
	Global(ctx context.Context) (store.PlaylistRef, error)
	PutGlobalIfAbsent(ctx context.Context, ref store.PlaylistRef) (store.PlaylistRef, bool, error)
}

type Options struct {
	GlobalName string
}

type Manager struct {
	api   Creator
	store Store
	opts  Options
	group singleflight.Group
	now   func() time.Time

	flightTimeout time.Duration
}

func NewManager(api Creator, st Store, opts Options) *Manager {
	if opts.GlobalName == "" {
		opts.GlobalName = "Nostr Community Playlist"
	}
	return &Manager{api: api, store: st, opts: opts, now: time.Now, flightTimeout: defaultFlightTimeout}
}

// Title is the playlist name used when an owner's playlist is created.
func Title(owner, label string) string {
	if label != "" {
		return label + " — " + titleSuffix
	}
	return titleSuffix + " — " + identity.ShortNpub(owner)
}

func Description(owner string) string {
	return "Created by the Nostr bot for " + owner
}

// GetOrCreate returns the owner's playlist, creating it if none is recorded.
// The label only names a playlist at creation time. Concurrent callers for the
// same owner share one creation.
func (m *Manager) GetOrCreate(ctx context.Context, owner, label string) (store.PlaylistRef, error) {
	ref, err := m.store.Get(ctx, owner)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.PlaylistRef{}, fmt.Errorf("looking up playlist: %w", err)
	}

	return m.shared(ctx, owner, func(ctx context.Context) (store.PlaylistRef, error) {
		if ref, err := m.store.Get(ctx, owner); err == nil {
			return ref, nil
		}
		title := Title(owner, label)
		pl, err := m.api.CreatePlaylist(ctx, title, Description(owner), false)
		if err != nil {
			return store.PlaylistRef{}, fmt.Errorf("creating playlist: %w", err)
		}
		created := store.PlaylistRef{
			Owner:      owner,
			PlaylistID: pl.ID,
			Title:      title,
			Label:      label,
			CreatedAt:  m.now().UTC(),
		}
		stored, written, err := m.store.PutIfAbsent(ctx, created)
		if err != nil {
			return store.PlaylistRef{}, fmt.Errorf("recording playlist: %w", err)
		}
		if written {
			metrics.PlaylistsCreated.Inc()
			logger.InfoCF("playlist", "Created playlist", map[string]any{
				"owner":    owner,
				"playlist": pl.ID,
				"title":    title,
			})
		} else {
			logger.WarnCF("playlist", "Another process recorded a playlist first; new playlist left unused", map[string]any{
				"owner":    owner,
				"orphan":   pl.ID,
				"playlist": stored.PlaylistID,
			})
		}
		return stored, nil
	})
}

// Global returns the shared community playlist, creating it on first use.
func (m *Manager) Global(ctx context.Context) (store.PlaylistRef, error) {
	ref, err := m.store.Global(ctx)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.PlaylistRef{}, fmt.Errorf("looking up global playlist: %w", err)
	}

	return m.shared(ctx, globalKey, func(ctx context.Context) (store.PlaylistRef, error) {
		if ref, err := m.store.Global(ctx); err == nil {
			return ref, nil
		}
		pl, err := m.api.CreatePlaylist(ctx, m.opts.GlobalName, "Tracks shared with the Nostr bot by everyone", true)
		if err != nil {
			return store.PlaylistRef{}, fmt.Errorf("creating global playlist: %w", err)
		}
		stored, written, err := m.store.PutGlobalIfAbsent(ctx, store.PlaylistRef{
			PlaylistID: pl.ID,
			Title:      m.opts.GlobalName,
			CreatedAt:  m.now().UTC(),
		})
		if err != nil {
			return store.PlaylistRef{}, fmt.Errorf("recording global playlist: %w", err)
		}
		if written {
			metrics.PlaylistsCreated.Inc()
			logger.InfoCF("playlist", "Created global playlist", map[string]any{"playlist": pl.ID})
		}
		return stored, nil
	})
}

// shared runs create once per key among concurrent callers. The flight is
// detached from the first caller's cancellation and bounded by
// flightTimeout; each caller still stops waiting when its own ctx ends.
func (m *Manager) shared(ctx context.Context, key string, create func(context.Context) (store.PlaylistRef, error)) (store.PlaylistRef, error) {
	ch := m.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.flightTimeout)
		defer cancel()
		return create(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return store.PlaylistRef{}, res.Err
		}
		return res.Val.(store.PlaylistRef), nil
	case <-ctx.Done():
		return store.PlaylistRef{}, ctx.Err()
	}
}
