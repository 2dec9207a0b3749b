// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package store persists the owner → playlist mapping and the bot's Spotify
// credential in an embedded badger database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/satoshipuzzles/jukebot/pkg/logger"
)

const (
	playlistKeyPrefix   = "playlist:"
	credentialKeyPrefix = "credential:"
	globalPlaylistKey   = "global:playlist"

	maxConflictRetries = 5
)

var ErrNotFound = errors.New("not found")

// PlaylistRef is the durable record of a playlist created for an owner.
type PlaylistRef struct {
	Owner      string    `json:"owner"`
	PlaylistID string    `json:"playlist_id"`
	Title      string    `json:"title,omitempty"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// URL is the public open.spotify.com link for the playlist.
func (r PlaylistRef) URL() string {
	return PlaylistURL(r.PlaylistID)
}

func PlaylistURL(id string) string {
	return "https://open.spotify.com/playlist/" + id
}

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database under dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory is used by tests and the import dry-run.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the playlist recorded for owner, or ErrNotFound.
func (s *Store) Get(ctx context.Context, owner string) (PlaylistRef, error) {
	return s.getRef(playlistKeyPrefix + owner)
}

// Put unconditionally records ref for ref.Owner.
func (s *Store) Put(ctx context.Context, ref PlaylistRef) error {
	if ref.Owner == "" || ref.PlaylistID == "" {
		return fmt.Errorf("put playlist: owner and playlist id are required")
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal playlist: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(playlistKeyPrefix+ref.Owner), data)
	})
}

// PutIfAbsent stores ref unless the owner already has a playlist. It returns
// the record that is stored after the call and whether ref was the one written.
func (s *Store) PutIfAbsent(ctx context.Context, ref PlaylistRef) (PlaylistRef, bool, error) {
	if ref.Owner == "" || ref.PlaylistID == "" {
		return PlaylistRef{}, false, fmt.Errorf("put playlist: owner and playlist id are required")
	}
	return s.putIfAbsent(playlistKeyPrefix+ref.Owner, ref)
}

// Global returns the shared community playlist, or ErrNotFound.
func (s *Store) Global(ctx context.Context) (PlaylistRef, error) {
	return s.getRef(globalPlaylistKey)
}

func (s *Store) PutGlobalIfAbsent(ctx context.Context, ref PlaylistRef) (PlaylistRef, bool, error) {
	if ref.PlaylistID == "" {
		return PlaylistRef{}, false, fmt.Errorf("put global playlist: playlist id is required")
	}
	return s.putIfAbsent(globalPlaylistKey, ref)
}

// List returns every owner playlist, oldest first.
func (s *Store) List(ctx context.Context) ([]PlaylistRef, error) {
	var refs []PlaylistRef
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(playlistKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var ref PlaylistRef
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ref)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}

	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].CreatedAt.Equal(refs[j].CreatedAt) {
			return refs[i].Owner < refs[j].Owner
		}
		return refs[i].CreatedAt.Before(refs[j].CreatedAt)
	})
	return refs, nil
}

// Count returns the number of owners with a playlist.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(playlistKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count playlists: %w", err)
	}
	return n, nil
}

// LoadCredential decodes the credential saved under name into v.
func (s *Store) LoadCredential(ctx context.Context, name string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credentialKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get credential %s: %w", name, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (s *Store) SaveCredential(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(credentialKeyPrefix+name), data)
	})
}

func (s *Store) DeleteCredential(ctx context.Context, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(credentialKeyPrefix + name))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete credential %s: %w", name, err)
		}
		return nil
	})
}

func (s *Store) getRef(key string) (PlaylistRef, error) {
	var ref PlaylistRef
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ref)
		})
	})
	if err != nil {
		return PlaylistRef{}, err
	}
	return ref, nil
}

func (s *Store) putIfAbsent(key string, ref PlaylistRef) (PlaylistRef, bool, error) {
	data, err := json.Marshal(ref)
	if err != nil {
		return PlaylistRef{}, false, fmt.Errorf("marshal playlist: %w", err)
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var (
			stored  PlaylistRef
			written bool
		)
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			switch {
			case err == nil:
				return item.Value(func(val []byte) error {
					return json.Unmarshal(val, &stored)
				})
			case errors.Is(err, badger.ErrKeyNotFound):
				stored, written = ref, true
				return txn.Set([]byte(key), data)
			default:
				return err
			}
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return PlaylistRef{}, false, fmt.Errorf("put-if-absent %s: %w", key, err)
		}
		return stored, written, nil
	}
	return PlaylistRef{}, false, fmt.Errorf("put-if-absent %s: %w", key, badger.ErrConflict)
}

// badgerLogger routes badger's internal logging through the component logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.ErrorCF("store", fmt.Sprintf(format, args...), nil)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.WarnCF("store", fmt.Sprintf(format, args...), nil)
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.DebugCF("store", fmt.Sprintf(format, args...), nil)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.DebugCF("store", fmt.Sprintf(format, args...), nil)
}
