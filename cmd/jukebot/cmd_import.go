// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/satoshipuzzles/jukebot/pkg/migrate"
)

func importCmd() {
	if len(os.Args) > 2 && (os.Args[2] == "--help" || os.Args[2] == "-h") {
		importHelp()
		return
	}

	opts := migrate.Options{}
	path := "db.json"

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--force":
			opts.Force = true
		default:
			if len(args[i]) > 0 && args[i][0] == '-' {
				fmt.Printf("Unknown flag: %s\n", args[i])
				importHelp()
				os.Exit(1)
			}
			path = args[i]
		}
	}

	st, err := openStore()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	result, err := migrate.ImportFile(context.Background(), st, path, opts)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if !opts.DryRun {
		migrate.PrintSummary(os.Stdout, result)
	}
}

func importHelp() {
	fmt.Println("\nImport playlists and Spotify tokens from the previous bot's db.json")
	fmt.Println()
	fmt.Println("Usage: jukebot import [options] [path]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --dry-run    Show what would be imported without making changes")
	fmt.Println("  --force      Replace existing mappings and skip the confirmation prompt")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  jukebot import                  Import ./db.json")
	fmt.Println("  jukebot import --dry-run old/db.json")
}
