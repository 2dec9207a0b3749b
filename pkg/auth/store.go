package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/satoshipuzzles/jukebot/pkg/store"
)

// CredentialName is the key the Spotify credential is stored under.
const CredentialName = "spotify"

var ErrNoCredential = errors.New("no Spotify credential. Run: jukebot auth, or set SPOTIFY_ACCESS_TOKEN")

type AuthCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	AuthMethod   string    `json:"auth_method"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *AuthCredential) IsExpired() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(c.ExpiresAt)
}

func (c *AuthCredential) NeedsRefresh() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(5 * time.Minute).After(c.ExpiresAt)
}

func (c *AuthCredential) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.ExpiresAt,
	}
}

func credentialFromToken(tok *oauth2.Token, prev *AuthCredential, method string) *AuthCredential {
	cred := &AuthCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		AuthMethod:   method,
		UpdatedAt:    time.Now().UTC(),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	if prev != nil {
		// Spotify omits the refresh token from refresh responses.
		if cred.RefreshToken == "" {
			cred.RefreshToken = prev.RefreshToken
		}
		if cred.Scope == "" {
			cred.Scope = prev.Scope
		}
	}
	return cred
}

// CredentialStore persists credentials. *store.Store satisfies it.
type CredentialStore interface {
	LoadCredential(ctx context.Context, name string, v any) error
	SaveCredential(ctx context.Context, name string, v any) error
	DeleteCredential(ctx context.Context, name string) error
}

// GetCredential returns the stored credential, or nil when none is saved.
func GetCredential(ctx context.Context, cs CredentialStore) (*AuthCredential, error) {
	var cred AuthCredential
	err := cs.LoadCredential(ctx, CredentialName, &cred)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func SetCredential(ctx context.Context, cs CredentialStore, cred *AuthCredential) error {
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}
	return cs.SaveCredential(ctx, CredentialName, cred)
}

func DeleteCredential(ctx context.Context, cs CredentialStore) error {
	return cs.DeleteCredential(ctx, CredentialName)
}

// SeedFromEnv stores tokens supplied through the environment when no
// credential has been saved yet. It reports whether anything was written.
func SeedFromEnv(ctx context.Context, cs CredentialStore, accessToken, refreshToken string) (bool, error) {
	if accessToken == "" && refreshToken == "" {
		return false, nil
	}
	existing, err := GetCredential(ctx, cs)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	cred := &AuthCredential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AuthMethod:   "env",
	}
	if refreshToken != "" {
		// Unknown expiry: refresh on first use.
		cred.ExpiresAt = time.Now().Add(-time.Minute)
	}
	if err := SetCredential(ctx, cs, cred); err != nil {
		return false, err
	}
	return true, nil
}
