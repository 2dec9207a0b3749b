package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satoshipuzzles/jukebot/pkg/auth"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

var (
	alice = strings.Repeat("a1", 32)
	bob   = strings.Repeat("b2", 32)
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeLegacyDB(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNormalizeEntries(t *testing.T) {
	npub, err := nip19.EncodePublicKey(bob)
	require.NoError(t, err)

	entries, warnings := normalizeEntries(map[string]string{
		strings.ToUpper(alice): "PL1",
		npub:                   "PL2",
		"not-a-key":            "PL3",
		strings.Repeat("c", 64): " ",
	})

	assert.Equal(t, []Entry{{Owner: alice, PlaylistID: "PL1"}, {Owner: bob, PlaylistID: "PL2"}}, entries)
	assert.Len(t, warnings, 2)
}

func TestParsePlaylistMap(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", raw: "  "},
		{name: "object", raw: `{"` + alice + `":"PL1"}`, want: map[string]string{alice: "PL1"}},
		{name: "invalid", raw: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlaylistMap(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportPlaylistMapKeepsExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, store.PlaylistRef{Owner: alice, PlaylistID: "KEEP"}))

	res, err := ImportPlaylistMap(ctx, st, `{"`+alice+`":"PL1","`+bob+`":"PL2"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)

	got, err := st.Get(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "KEEP", got.PlaylistID)

	got, err = st.Get(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "PL2", got.PlaylistID)
	assert.NotEmpty(t, got.Title)
}

func TestImportFileForce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, store.PlaylistRef{Owner: alice, PlaylistID: "OLD"}))

	path := writeLegacyDB(t, `{"botSpotify":{"accessToken":"AT","refreshToken":"RT","playlistMap":{
		"`+alice+`":"NEW","`+bob+`":"PL2"}}}`)

	var out bytes.Buffer
	res, err := ImportFile(ctx, st, path, Options{Force: true, Out: &out})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Overwritten)
	assert.True(t, res.CredentialImported)
	assert.Empty(t, res.Errors)

	got, err := st.Get(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "NEW", got.PlaylistID)

	cred, err := auth.GetCredential(ctx, st)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "RT", cred.RefreshToken)
	assert.Contains(t, out.String(), "Imported Spotify tokens")
}

func TestImportFileWithoutForceSkipsConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, store.PlaylistRef{Owner: alice, PlaylistID: "OLD"}))
	path := writeLegacyDB(t, `{"botSpotify":{"playlistMap":{"`+alice+`":"NEW","`+bob+`":"PL2"}}}`)

	var out bytes.Buffer
	res, err := ImportFile(ctx, st, path, Options{Out: &out, In: strings.NewReader("y\n")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Warnings, 1)

	got, err := st.Get(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "OLD", got.PlaylistID)
}

func TestImportFileAborted(t *testing.T) {
	st := newTestStore(t)
	path := writeLegacyDB(t, `{"botSpotify":{"playlistMap":{"`+bob+`":"PL2"}}}`)

	var out bytes.Buffer
	res, err := ImportFile(context.Background(), st, path, Options{Out: &out, In: strings.NewReader("n\n")})
	require.NoError(t, err)
	assert.Zero(t, res.Imported)
	assert.Contains(t, out.String(), "Aborted.")

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportFileDryRun(t *testing.T) {
	st := newTestStore(t)
	path := writeLegacyDB(t, `{"botSpotify":{"playlistMap":{"`+bob+`":"PL2"}}}`)

	var out bytes.Buffer
	_, err := ImportFile(context.Background(), st, path, Options{DryRun: true, Out: &out})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[import]")

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportFileMissing(t *testing.T) {
	_, err := ImportFile(context.Background(), newTestStore(t), filepath.Join(t.TempDir(), "nope.json"), Options{})
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	PrintSummary(&out, &Result{Imported: 2, Skipped: 1})
	assert.Contains(t, out.String(), "Import complete! 2 playlists imported, 1 skipped.")

	out.Reset()
	PrintSummary(&out, &Result{})
	assert.Contains(t, out.String(), "No actions taken")
}
