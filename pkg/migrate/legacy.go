package migrate

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// LegacyDB is the db.json file written by the previous bot.
type LegacyDB struct {
	BotSpotify struct {
		AccessToken  string            `json:"accessToken"`
		RefreshToken string            `json:"refreshToken"`
		PlaylistMap  map[string]string `json:"playlistMap"`
	} `json:"botSpotify"`
}

// Entry is one owner→playlist mapping to import.
type Entry struct {
	Owner      string
	PlaylistID string
}

func LoadLegacyDB(path string) (*LegacyDB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading legacy db: %w", err)
	}
	var db LegacyDB
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parsing legacy db: %w", err)
	}
	return &db, nil
}

// ParsePlaylistMap decodes the PLAYLIST_MAP JSON object of pubkey→playlist id.
func ParsePlaylistMap(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parsing PLAYLIST_MAP: %w", err)
	}
	return m, nil
}

// normalizeEntries converts keys to hex pubkeys and sorts by owner. Keys that
// are neither hex nor npub are reported as warnings and skipped.
func normalizeEntries(m map[string]string) ([]Entry, []string) {
	var entries []Entry
	var warnings []string
	for key, id := range m {
		owner, err := normalizePubKey(key)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipping %q: %v", key, err))
			continue
		}
		id = strings.TrimSpace(id)
		if id == "" {
			warnings = append(warnings, fmt.Sprintf("skipping %q: empty playlist id", key))
			continue
		}
		entries = append(entries, Entry{Owner: owner, PlaylistID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Owner < entries[j].Owner })
	sort.Strings(warnings)
	return entries, warnings
}

func normalizePubKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "npub1") {
		prefix, data, err := nip19.Decode(key)
		if err != nil || prefix != "npub" {
			return "", fmt.Errorf("invalid npub")
		}
		pk, _ := data.(string)
		return pk, nil
	}
	key = strings.ToLower(key)
	if b, err := hex.DecodeString(key); err != nil || len(b) != 32 {
		return "", fmt.Errorf("not a hex pubkey")
	}
	return key, nil
}
