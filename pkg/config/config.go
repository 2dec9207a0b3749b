// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var ErrMissingPrivateKey = errors.New("BOT_NOSTR_PRIVATE_KEY is required")

type Config struct {
	Bot      BotConfig
	Relays   RelayConfig
	Spotify  SpotifyConfig
	Storage  StorageConfig
	HTTP     HTTPConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type BotConfig struct {
	PrivateKey   string `env:"BOT_NOSTR_PRIVATE_KEY"`
	Name         string `env:"NEXT_PUBLIC_BOT_NAME" envDefault:"Nostr Playlist Bot"`
	Avatar       string `env:"NEXT_PUBLIC_BOT_AVATAR" validate:"omitempty,url"`
	About        string `env:"NEXT_PUBLIC_BOT_ABOUT" envDefault:"Mention me with a Spotify track link and I'll add it to your playlist."`
	MetadataCron string `env:"METADATA_CRON" envDefault:"0 */6 * * *"`
}

type RelayConfig struct {
	URLs              []string      `env:"NOSTR_RELAYS" envSeparator:"," envDefault:"wss://relay.damus.io,wss://nos.lol,wss://relay.nostr.band" validate:"min=1,dive,url"`
	ConnectTimeout    time.Duration `env:"RELAY_CONNECT_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	ReconnectInterval time.Duration `env:"RELAY_RECONNECT_INTERVAL" envDefault:"30s" validate:"gte=0"`
}

type SpotifyConfig struct {
	ClientID     string        `env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string        `env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string        `env:"SPOTIFY_REDIRECT_URI" envDefault:"http://localhost:3000/api/auth/callback" validate:"omitempty,url"`
	AccessToken  string        `env:"SPOTIFY_ACCESS_TOKEN"`
	RefreshToken string        `env:"SPOTIFY_REFRESH_TOKEN"`
	RateLimit    float64       `env:"SPOTIFY_RATE_LIMIT" envDefault:"5" validate:"gte=0"`
	HTTPTimeout  time.Duration `env:"SPOTIFY_HTTP_TIMEOUT" envDefault:"15s" validate:"gt=0"`
	APIBaseURL   string        `env:"SPOTIFY_API_URL" envDefault:"https://api.spotify.com/v1" validate:"url"`
	AccountsURL  string        `env:"SPOTIFY_ACCOUNTS_URL" envDefault:"https://accounts.spotify.com" validate:"url"`
	PlaylistMap  string        `env:"PLAYLIST_MAP"`
}

type StorageConfig struct {
	DataDir string `env:"DATA_DIR" envDefault:"./data" validate:"required"`
}

type HTTPConfig struct {
	Addr           string   `env:"HTTP_ADDR" envDefault:":3000"`
	RateLimit      int      `env:"HTTP_RATE_LIMIT" envDefault:"60" validate:"gte=0"`
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS" envSeparator:","`
}

type PipelineConfig struct {
	SeenEventTTL       time.Duration `env:"SEEN_EVENT_TTL" envDefault:"10m" validate:"gte=0"`
	ThreadAttribution  bool          `env:"THREAD_ATTRIBUTION" envDefault:"false"`
	GlobalPlaylist     bool          `env:"GLOBAL_PLAYLIST" envDefault:"false"`
	GlobalPlaylistName string        `env:"GLOBAL_PLAYLIST_NAME" envDefault:"Nostr Community Playlist"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
}

// SpotifyConfigured reports whether OAuth client credentials are present.
func (c *Config) SpotifyConfigured() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// Load reads .env (if present) into the process environment and then parses it.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	return Parse()
}

// Parse builds a Config from the current environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	cfg.Bot.PrivateKey = strings.TrimSpace(cfg.Bot.PrivateKey)
	if cfg.Bot.PrivateKey == "" {
		return nil, ErrMissingPrivateKey
	}
	cfg.Relays.URLs = normalizeRelays(cfg.Relays.URLs)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizeRelays trims, drops empties and removes duplicates keeping order.
func normalizeRelays(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

var (
	validatorInst *validator.Validate
	validateOnce  sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validatorInst = validator.New(validator.WithRequiredStructEnabled())
		validatorInst.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validatorInst
}

func validate(cfg *Config) error {
	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
