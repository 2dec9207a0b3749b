// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/satoshipuzzles/jukebot/pkg/config"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const logo = "🎵"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	build = buildTime
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s jukebot %s\n", logo, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	command := "run"
	if len(os.Args) >= 2 {
		command = os.Args[1]
	}

	switch command {
	case "run":
		runCmd()
	case "auth":
		authCmd()
	case "status":
		statusCmd()
	case "import":
		importCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s jukebot - Nostr mention bot for Spotify playlists v%s\n\n", logo, version)
	fmt.Println("Usage: jukebot [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run         Connect to relays and process mentions (default)")
	fmt.Println("  auth        Manage the bot's Spotify authorization (login, logout, status)")
	fmt.Println("  status      Show configuration and stored playlists")
	fmt.Println("  import      Import playlists and tokens from a legacy db.json")
	fmt.Println("  version     Show version information")
}

// loadConfig reads the environment (and .env) and configures logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}
