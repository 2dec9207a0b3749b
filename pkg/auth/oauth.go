package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/satoshipuzzles/jukebot/pkg/config"
)

// DefaultScopes lets the bot create private playlists and append to them.
var DefaultScopes = []string{"playlist-modify-private", "playlist-modify-public"}

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AccountsURL  string
	Scopes       []string

	// Timeout bounds each token request. Zero means 15s.
	Timeout time.Duration

	// HTTPClient overrides the client used for token requests.
	HTTPClient *http.Client
}

func SpotifyOAuthConfig(cfg config.SpotifyConfig) OAuthProviderConfig {
	return OAuthProviderConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		AccountsURL:  cfg.AccountsURL,
		Scopes:       DefaultScopes,
		Timeout:      cfg.HTTPTimeout,
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (c OAuthProviderConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultRefreshTimeout
}

func (c OAuthProviderConfig) oauth2Config() *oauth2.Config {
	accounts := strings.TrimRight(c.AccountsURL, "/")
	if accounts == "" {
		accounts = "https://accounts.spotify.com"
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   accounts + "/authorize",
			TokenURL:  accounts + "/api/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (c OAuthProviderConfig) context(ctx context.Context) context.Context {
	if c.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}
	return ctx
}

// NewState returns an unguessable value for the OAuth state parameter.
func NewState() string {
	return uuid.NewString()
}

// BuildAuthorizeURL returns the consent page URL the operator opens once.
func BuildAuthorizeURL(cfg OAuthProviderConfig, state string) string {
	return cfg.oauth2Config().AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// ExchangeCode trades an authorization code for a credential.
func ExchangeCode(ctx context.Context, cfg OAuthProviderConfig, code string) (*AuthCredential, error) {
	if code == "" {
		return nil, fmt.Errorf("no authorization code received")
	}
	tok, err := cfg.oauth2Config().Exchange(cfg.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code for tokens: %w", err)
	}
	return credentialFromToken(tok, nil, "oauth"), nil
}

// RefreshAccessToken forces a refresh regardless of the stored expiry.
func RefreshAccessToken(ctx context.Context, cred *AuthCredential, cfg OAuthProviderConfig) (*AuthCredential, error) {
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	stale := &oauth2.Token{RefreshToken: cred.RefreshToken}
	tok, err := cfg.oauth2Config().TokenSource(cfg.context(ctx), stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return credentialFromToken(tok, cred, cred.AuthMethod), nil
}
