// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package mention decides whether an event is addressed to the bot and pulls
// Spotify track ids, a playlist label and an attribution owner out of it.
package mention

import (
	"context"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

var (
	trackPattern = regexp.MustCompile(`open\.spotify\.com/track/([A-Za-z0-9]+)`)
	labelPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_-]+)`)
)

// IsMention reports whether ev has the given kind and a ["p", botPubKey]
// tag. The pubkey comparison is exact.
func IsMention(ev *nostr.Event, botPubKey string, kind int) bool {
	if ev == nil || ev.Kind != kind {
		return false
	}
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == botPubKey {
			return true
		}
	}
	return false
}

// ExtractTrackIDs returns the track ids linked in content, in order of first
// appearance, without duplicates.
func ExtractTrackIDs(content string) []string {
	matches := trackPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// ExtractLabel returns the first #hashtag in content without the '#', or "".
// Hashes inside URLs (fragments) are not labels.
func ExtractLabel(content string) string {
	m := labelPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}

// RootReference returns the id of the single root-marked e tag. Zero or
// several root markers yield ok == false.
func RootReference(tags nostr.Tags) (id string, ok bool) {
	for _, tag := range tags {
		if len(tag) < 4 || tag[0] != "e" || tag[3] != "root" || tag[1] == "" {
			continue
		}
		if ok {
			return "", false
		}
		id, ok = tag[1], true
	}
	return id, ok
}

// Resolver looks up the author of an event by id.
type Resolver interface {
	AuthorOf(ctx context.Context, eventID string) (string, error)
}

// Attribute returns the owner a mention should be credited to: the author of
// the thread root when it can be resolved, otherwise the mention's author.
func Attribute(ctx context.Context, ev *nostr.Event, resolver Resolver) string {
	if resolver == nil {
		return ev.PubKey
	}
	rootID, ok := RootReference(ev.Tags)
	if !ok || rootID == ev.ID {
		return ev.PubKey
	}
	author, err := resolver.AuthorOf(ctx, rootID)
	if err != nil || !isHexKey(author) {
		return ev.PubKey
	}
	return author
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	return strings.Trim(strings.ToLower(s), "0123456789abcdef") == ""
}

// EventFetcher is satisfied by *relay.Pool.
type EventFetcher interface {
	FetchEvent(ctx context.Context, id string) (*nostr.Event, error)
}

// FetchResolver resolves authors by fetching the referenced event from relays.
type FetchResolver struct {
	Fetcher EventFetcher
}

func (r FetchResolver) AuthorOf(ctx context.Context, eventID string) (string, error) {
	ev, err := r.Fetcher.FetchEvent(ctx, eventID)
	if err != nil {
		return "", err
	}
	return ev.PubKey, nil
}
