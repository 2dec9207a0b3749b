// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/satoshipuzzles/jukebot/pkg/auth"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

func authCmd() {
	if len(os.Args) < 3 {
		authHelp()
		return
	}

	switch os.Args[2] {
	case "login":
		authLoginCmd()
	case "logout":
		authLogoutCmd()
	case "status":
		authStatusCmd()
	default:
		fmt.Printf("Unknown auth command: %s\n", os.Args[2])
		authHelp()
	}
}

func authHelp() {
	fmt.Println("\nAuth commands:")
	fmt.Println("  login       Authorize the bot's Spotify account in a browser")
	fmt.Println("  logout      Remove the stored Spotify credential")
	fmt.Println("  status      Show the stored credential")
	fmt.Println()
	fmt.Println("The bot must be stopped while these commands run; they open the same data")
	fmt.Println("directory. With the bot running, open /api/auth on its HTTP address instead.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  jukebot auth login")
	fmt.Println("  jukebot auth status")
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("%w (is the bot running?)", err)
	}
	return st, nil
}

func authLoginCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.SpotifyConfigured() {
		fmt.Println("Error: SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set")
		os.Exit(1)
	}

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		fmt.Printf("Error opening store: %v (is the bot running?)\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cred, err := auth.LoginBrowser(ctx, auth.SpotifyOAuthConfig(cfg.Spotify), os.Stdin, os.Stdout)
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		os.Exit(1)
	}
	if err := auth.SetCredential(ctx, st, cred); err != nil {
		fmt.Printf("Failed to save credential: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Spotify connected!")
	if cred.Scope != "" {
		fmt.Printf("Scopes: %s\n", cred.Scope)
	}
}

func authLogoutCmd() {
	st, err := openStore()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := auth.DeleteCredential(context.Background(), st); err != nil {
		fmt.Printf("Failed to remove credential: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Spotify credential removed.")
}

func authStatusCmd() {
	st, err := openStore()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	cred, err := auth.GetCredential(context.Background(), st)
	if err != nil {
		fmt.Printf("Error reading credential: %v\n", err)
		os.Exit(1)
	}
	printCredential(cred)
}

func printCredential(cred *auth.AuthCredential) {
	if cred == nil {
		fmt.Println("Spotify: not connected. Run: jukebot auth login")
		return
	}

	status := "active"
	switch {
	case cred.IsExpired() && cred.RefreshToken != "":
		status = "expired (will refresh)"
	case cred.IsExpired():
		status = "expired"
	case cred.NeedsRefresh():
		status = "needs refresh"
	}

	fmt.Printf("Spotify: %s\n", status)
	fmt.Printf("  Method: %s\n", cred.AuthMethod)
	if !cred.ExpiresAt.IsZero() {
		fmt.Printf("  Expires: %s\n", humanize.Time(cred.ExpiresAt))
	}
	if !cred.UpdatedAt.IsZero() {
		fmt.Printf("  Updated: %s\n", humanize.Time(cred.UpdatedAt))
	}
	if cred.RefreshToken == "" {
		fmt.Println("  Warning: no refresh token stored")
	}
}
