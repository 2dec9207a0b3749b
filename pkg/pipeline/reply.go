package pipeline

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// BuildReplyContent renders the confirmation text. global is nil when the
// community playlist is disabled or its update failed.
func BuildReplyContent(res MutationResult, global *MutationResult) string {
	target := "your playlist"
	if res.Playlist.Label != "" {
		target = fmt.Sprintf("the %q playlist", res.Playlist.Label)
	}
	url := res.Playlist.URL()

	var b strings.Builder
	if res.Added > 0 {
		fmt.Fprintf(&b, "✅ Added %d track(s) to %s: %s", res.Added, target, url)
	} else {
		fmt.Fprintf(&b, "👍 Those tracks are already in %s: %s", target, url)
	}
	if global != nil && global.Added > 0 {
		fmt.Fprintf(&b, "\n🌍 Also added to the community playlist: %s", global.Playlist.URL())
	}
	return b.String()
}

// BuildReply returns an unsigned kind-1 note replying to mention.
func BuildReply(botPubKey string, mention *nostr.Event, content string) nostr.Event {
	return nostr.Event{
		PubKey:    botPubKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags: nostr.Tags{
			{"e", mention.ID, "", "reply"},
			{"p", mention.PubKey},
		},
		Content: content,
	}
}
