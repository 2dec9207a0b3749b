// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/satoshipuzzles/jukebot/pkg/auth"
	"github.com/satoshipuzzles/jukebot/pkg/identity"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	fmt.Printf("%s jukebot Status\n", logo)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if id, err := identity.ParseSecretKey(cfg.Bot.PrivateKey); err == nil {
		fmt.Println("Bot:", id.Npub(), "✓")
	} else {
		fmt.Println("Bot: invalid BOT_NOSTR_PRIVATE_KEY ✗")
	}
	fmt.Printf("Relays: %s\n", strings.Join(cfg.Relays.URLs, ", "))
	fmt.Printf("HTTP: %s\n", cfg.HTTP.Addr)

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "not set"
	}
	fmt.Println("Spotify client:", status(cfg.SpotifyConfigured()))
	fmt.Println("Global playlist:", status(cfg.Pipeline.GlobalPlaylist))
	fmt.Println("Thread attribution:", status(cfg.Pipeline.ThreadAttribution))
	fmt.Println()

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		fmt.Println("Data:", cfg.Storage.DataDir, "✗ (locked while the bot runs; see /api/stats)")
		return
	}
	defer st.Close()
	fmt.Println("Data:", cfg.Storage.DataDir, "✓")

	ctx := context.Background()
	cred, err := auth.GetCredential(ctx, st)
	if err != nil {
		fmt.Printf("Error reading credential: %v\n", err)
	} else {
		printCredential(cred)
	}

	refs, err := st.List(ctx)
	if err != nil {
		fmt.Printf("Error listing playlists: %v\n", err)
		return
	}
	fmt.Printf("\nPlaylists: %s\n", humanize.Comma(int64(len(refs))))
	for _, ref := range refs {
		line := fmt.Sprintf("  %s  %s", identity.ShortNpub(ref.Owner), ref.URL())
		if ref.Label != "" {
			line += fmt.Sprintf("  #%s", ref.Label)
		}
		if !ref.CreatedAt.IsZero() {
			line += "  " + humanize.Time(ref.CreatedAt)
		}
		fmt.Println(line)
	}
	if global, err := st.Global(ctx); err == nil {
		fmt.Printf("\nCommunity playlist: %s\n", global.URL())
	}
}
