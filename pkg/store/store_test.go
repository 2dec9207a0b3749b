package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingOwner(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := PlaylistRef{Owner: "alice", PlaylistID: "PL1", Label: "Chill", CreatedAt: time.Now().UTC()}

	require.NoError(t, s.Put(ctx, ref))
	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "PL1", got.PlaylistID)
	assert.Equal(t, "Chill", got.Label)
	assert.Equal(t, "https://open.spotify.com/playlist/PL1", got.URL())
}

func TestPutRejectsIncompleteRef(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Put(context.Background(), PlaylistRef{Owner: "alice"}))
	_, _, err := s.PutIfAbsent(context.Background(), PlaylistRef{PlaylistID: "x"})
	assert.Error(t, err)
}

func TestPutIfAbsentKeepsFirstWriter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, written, err := s.PutIfAbsent(ctx, PlaylistRef{Owner: "bob", PlaylistID: "first"})
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "first", stored.PlaylistID)

	stored, written, err = s.PutIfAbsent(ctx, PlaylistRef{Owner: "bob", PlaylistID: "second"})
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, "first", stored.PlaylistID)
}

func TestPutIfAbsentConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		seen    = map[string]struct{}{}
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, written, err := s.PutIfAbsent(ctx, PlaylistRef{Owner: "carol", PlaylistID: fmt.Sprintf("pl-%d", i)})
			if err != nil {
				t.Errorf("PutIfAbsent: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if written {
				winners++
			}
			seen[stored.PlaylistID] = struct{}{}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Len(t, seen, 1, "every caller must observe the same playlist")
}

func TestListAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, PlaylistRef{Owner: "z", PlaylistID: "3", CreatedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, s.Put(ctx, PlaylistRef{Owner: "a", PlaylistID: "1", CreatedAt: base}))
	require.NoError(t, s.Put(ctx, PlaylistRef{Owner: "m", PlaylistID: "2", CreatedAt: base.Add(time.Hour)}))
	_, _, err := s.PutGlobalIfAbsent(ctx, PlaylistRef{PlaylistID: "G"})
	require.NoError(t, err)
	require.NoError(t, s.SaveCredential(ctx, "spotify", map[string]string{"access_token": "x"}))

	refs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{refs[0].PlaylistID, refs[1].PlaylistID, refs[2].PlaylistID})

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGlobalPlaylist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Global(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, written, err := s.PutGlobalIfAbsent(ctx, PlaylistRef{PlaylistID: "G1"})
	require.NoError(t, err)
	assert.True(t, written)

	got, err := s.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, "G1", got.PlaylistID)
}

func TestCredentialRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type cred struct {
		AccessToken string `json:"access_token"`
	}
	var out cred
	assert.ErrorIs(t, s.LoadCredential(ctx, "spotify", &out), ErrNotFound)

	require.NoError(t, s.SaveCredential(ctx, "spotify", cred{AccessToken: "tok"}))
	require.NoError(t, s.LoadCredential(ctx, "spotify", &out))
	assert.Equal(t, "tok", out.AccessToken)

	require.NoError(t, s.DeleteCredential(ctx, "spotify"))
	assert.ErrorIs(t, s.LoadCredential(ctx, "spotify", &out), ErrNotFound)
	require.NoError(t, s.DeleteCredential(ctx, "spotify"))
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, PlaylistRef{Owner: "dave", PlaylistID: "D"}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, "D", got.PlaylistID)
}
