package pipeline

import (
	"reflect"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/satoshipuzzles/jukebot/pkg/store"
)

func TestBuildReplyContent(t *testing.T) {
	personal := store.PlaylistRef{PlaylistID: "P1"}
	labelled := store.PlaylistRef{PlaylistID: "P2", Label: "Chill"}
	global := &MutationResult{Playlist: store.PlaylistRef{PlaylistID: "G"}, Added: 1}

	tests := []struct {
		name   string
		res    MutationResult
		global *MutationResult
		want   string
	}{
		{
			name: "added",
			res:  MutationResult{Playlist: personal, Added: 2, Requested: 2},
			want: "✅ Added 2 track(s) to your playlist: https://open.spotify.com/playlist/P1",
		},
		{
			name: "nothing new",
			res:  MutationResult{Playlist: personal, Added: 0, Requested: 1},
			want: "👍 Those tracks are already in your playlist: https://open.spotify.com/playlist/P1",
		},
		{
			name: "label wording",
			res:  MutationResult{Playlist: labelled, Added: 1, Requested: 1},
			want: "✅ Added 1 track(s) to the \"Chill\" playlist: https://open.spotify.com/playlist/P2",
		},
		{
			name:   "with community playlist",
			res:    MutationResult{Playlist: personal, Added: 1, Requested: 1},
			global: global,
			want:   "✅ Added 1 track(s) to your playlist: https://open.spotify.com/playlist/P1\n🌍 Also added to the community playlist: https://open.spotify.com/playlist/G",
		},
		{
			name:   "community already had them",
			res:    MutationResult{Playlist: personal, Added: 1, Requested: 1},
			global: &MutationResult{Playlist: store.PlaylistRef{PlaylistID: "G"}},
			want:   "✅ Added 1 track(s) to your playlist: https://open.spotify.com/playlist/P1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildReplyContent(tt.res, tt.global); got != tt.want {
				t.Errorf("BuildReplyContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildReply(t *testing.T) {
	m := &nostr.Event{ID: "m1", PubKey: "author"}
	ev := BuildReply("bot", m, "hi")

	if ev.Kind != nostr.KindTextNote || ev.PubKey != "bot" || ev.Content != "hi" {
		t.Errorf("BuildReply() = %+v", ev)
	}
	want := nostr.Tags{{"e", "m1", "", "reply"}, {"p", "author"}}
	if !reflect.DeepEqual(ev.Tags, want) {
		t.Errorf("Tags = %v, want %v", ev.Tags, want)
	}
	if ev.CreatedAt == 0 {
		t.Error("CreatedAt not set")
	}
}

func TestSubtractKeepsOrder(t *testing.T) {
	got := subtract([]string{"C", "A", "B", "D"}, []string{"A", "D"})
	if len(got) != 2 || got[0] != "C" || got[1] != "B" {
		t.Errorf("subtract() = %v", got)
	}
}
