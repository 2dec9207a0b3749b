// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/satoshipuzzles/jukebot/pkg/auth"
	"github.com/satoshipuzzles/jukebot/pkg/bus"
	"github.com/satoshipuzzles/jukebot/pkg/config"
	"github.com/satoshipuzzles/jukebot/pkg/gateway"
	"github.com/satoshipuzzles/jukebot/pkg/heartbeat"
	"github.com/satoshipuzzles/jukebot/pkg/identity"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/mention"
	"github.com/satoshipuzzles/jukebot/pkg/migrate"
	"github.com/satoshipuzzles/jukebot/pkg/pipeline"
	"github.com/satoshipuzzles/jukebot/pkg/playlist"
	"github.com/satoshipuzzles/jukebot/pkg/profile"
	"github.com/satoshipuzzles/jukebot/pkg/relay"
	"github.com/satoshipuzzles/jukebot/pkg/spotify"
	"github.com/satoshipuzzles/jukebot/pkg/store"
	"github.com/satoshipuzzles/jukebot/pkg/supervisor"
	"github.com/satoshipuzzles/jukebot/pkg/web"
)

const seenCapacity = 10000

func runCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.ErrorCF("main", "Bot stopped with error", map[string]any{"error": err.Error()})
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	id, err := identity.ParseSecretKey(cfg.Bot.PrivateKey)
	if err != nil {
		return fmt.Errorf("parsing BOT_NOSTR_PRIVATE_KEY: %w", err)
	}

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	if seeded, err := auth.SeedFromEnv(ctx, st, cfg.Spotify.AccessToken, cfg.Spotify.RefreshToken); err != nil {
		logger.WarnCF("main", "Seeding Spotify credential failed", map[string]any{"error": err.Error()})
	} else if seeded {
		logger.InfoC("main", "Spotify credential seeded from environment")
	}
	if cfg.Spotify.PlaylistMap != "" {
		if _, err := migrate.ImportPlaylistMap(ctx, st, cfg.Spotify.PlaylistMap); err != nil {
			logger.WarnCF("main", "PLAYLIST_MAP ignored", map[string]any{"error": err.Error()})
		}
	}

	oauthCfg := auth.SpotifyOAuthConfig(cfg.Spotify)
	tokens, err := auth.NewTokenSource(ctx, oauthCfg, st)
	if err != nil {
		return err
	}
	client := spotify.NewClient(cfg.Spotify.APIBaseURL, tokens,
		spotify.WithRateLimit(cfg.Spotify.RateLimit),
		spotify.WithHTTPTimeout(cfg.Spotify.HTTPTimeout))
	media := spotify.NewBreakerClient(client, spotify.BreakerSettings{})
	manager := playlist.NewManager(media, st, playlist.Options{GlobalName: cfg.Pipeline.GlobalPlaylistName})

	pool, err := relay.ConnectAll(ctx, cfg.Relays.URLs, relay.Options{
		ConnectTimeout:    cfg.Relays.ConnectTimeout,
		ReconnectInterval: cfg.Relays.ReconnectInterval,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	msgBus := bus.NewMessageBus()
	for _, url := range pool.Relays() {
		msgBus.OpenLane(url)
	}

	opts := pipeline.Options{
		BotPubKey:   id.PublicKey(),
		MentionKind: nostr.KindTextNote,
		Seen:        pipeline.NewSeenCache(cfg.Pipeline.SeenEventTTL, seenCapacity),
	}
	if cfg.Pipeline.ThreadAttribution {
		opts.Resolver = mention.FetchResolver{Fetcher: pool}
	}
	if cfg.Pipeline.GlobalPlaylist {
		opts.Global = manager
	}
	processor := pipeline.NewProcessor(id, &pipeline.Mutator{Collections: manager, Media: media}, pool, opts)

	if _, err := pool.Subscribe(processor.Filter(), func(msg bus.InboundMessage) {
		// Full lanes are logged and counted by the bus.
		if err := msgBus.PublishInbound(msg); err != nil && !errors.Is(err, bus.ErrLaneFull) {
			logger.DebugCF("main", "Inbound event not queued", map[string]any{
				"relay":    msg.Relay,
				"event_id": msg.Event.ID,
				"error":    err.Error(),
			})
		}
	}); err != nil {
		return err
	}

	names, err := profile.NewResolver(pool, profile.Options{})
	if err != nil {
		return err
	}
	defer names.Close()

	tree := supervisor.NewTree(logger.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	tree.AddBotService(gateway.NewGateway(msgBus, processor))
	tree.AddBotService(heartbeat.NewHeartbeatService(id, pool, heartbeat.Profile{
		Name:    cfg.Bot.Name,
		Picture: cfg.Bot.Avatar,
		About:   cfg.Bot.About,
	}, cfg.Bot.MetadataCron, true))

	if cfg.HTTP.Addr != "" {
		webOpts := web.Options{
			Credentials:    st,
			Playlists:      st,
			Names:          names,
			RateLimit:      cfg.HTTP.RateLimit,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		}
		if cfg.SpotifyConfigured() {
			webOpts.OAuth = &oauthCfg
		}
		server := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           web.NewServer(webOpts).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	}

	logger.InfoCF("main", "Jukebot started", map[string]any{
		"npub":          id.Npub(),
		"relays":        len(pool.Relays()),
		"http":          cfg.HTTP.Addr,
		"global":        cfg.Pipeline.GlobalPlaylist,
		"thread_owners": cfg.Pipeline.ThreadAttribution,
		"version":       formatVersion(),
	})

	err = tree.Serve(ctx)
	msgBus.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.InfoC("main", "Shutdown complete")
	return nil
}
