package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/satoshipuzzles/jukebot/pkg/logger"
)

const defaultRefreshTimeout = 15 * time.Second

// persistingTokenSource refreshes the Spotify token when it is within five
// minutes of expiry and writes every refreshed credential back to the store.
// The store is the source of truth: every call re-reads it, so a credential
// saved by the web callback or the CLI replaces the one in use.
type persistingTokenSource struct {
	ctx context.Context
	cfg OAuthProviderConfig
	cs  CredentialStore

	mu   sync.Mutex
	cred *AuthCredential
}

// NewTokenSource builds a refreshing token source over the stored
// credential. When nothing has been saved yet the source still builds, and
// Token returns ErrNoCredential until a credential appears in the store.
func NewTokenSource(ctx context.Context, cfg OAuthProviderConfig, cs CredentialStore) (oauth2.TokenSource, error) {
	cred, err := GetCredential(ctx, cs)
	if err != nil {
		return nil, fmt.Errorf("loading auth credentials: %w", err)
	}
	return &persistingTokenSource{
		ctx:  context.WithoutCancel(ctx),
		cfg:  cfg,
		cs:   cs,
		cred: cred,
	}, nil
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := GetCredential(s.ctx, s.cs)
	switch {
	case err != nil && s.cred == nil:
		return nil, fmt.Errorf("loading auth credentials: %w", err)
	case err != nil:
		logger.WarnCF("auth", "Reading stored credential failed, using cached one", map[string]any{"error": err.Error()})
	case stored == nil:
		// Logged out.
		s.cred = nil
		return nil, ErrNoCredential
	default:
		s.cred = stored
	}

	if !s.cred.NeedsRefresh() || s.cred.RefreshToken == "" {
		return s.cred.token(), nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.timeout())
	defer cancel()
	refreshed, err := RefreshAccessToken(ctx, s.cred, s.cfg)
	if err != nil {
		return nil, err
	}
	if err := SetCredential(s.ctx, s.cs, refreshed); err != nil {
		// The token is still usable for this process.
		logger.WarnCF("auth", "Failed to save refreshed token", map[string]any{"error": err.Error()})
	} else {
		logger.InfoCF("auth", "Spotify access token refreshed", map[string]any{
			"expires_at": refreshed.ExpiresAt.Format(time.RFC3339),
		})
	}
	s.cred = refreshed
	return refreshed.token(), nil
}
