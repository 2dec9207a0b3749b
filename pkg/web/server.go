// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package web serves the operator endpoints: the one-time Spotify
// authorization flow, playlist stats, the leaderboard, health and metrics.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satoshipuzzles/jukebot/pkg/auth"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

const (
	stateTTL        = 10 * time.Minute
	connectedPage   = "✅ Spotify connected! You can close this window."
	leaderboardWait = 5 * time.Second
)

// PlaylistStore is the read side of *store.Store.
type PlaylistStore interface {
	List(ctx context.Context) ([]store.PlaylistRef, error)
	Count(ctx context.Context) (int, error)
}

// NameResolver is satisfied by *profile.Resolver.
type NameResolver interface {
	Names(ctx context.Context, pubkeys []string) map[string]string
}

type Options struct {
	// OAuth is nil when Spotify client credentials are not configured.
	OAuth       *auth.OAuthProviderConfig
	Credentials auth.CredentialStore
	Playlists   PlaylistStore
	Names       NameResolver

	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit      int
	AllowedOrigins []string
}

type Server struct {
	opts Options

	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

func NewServer(opts Options) *Server {
	return &Server{
		opts:   opts,
		states: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.applyMiddleware(r)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth", s.handleAuth)
		r.Get("/auth/callback", s.handleCallback)
		r.Get("/stats", s.handleStats)
		r.Get("/leaderboard", s.handleLeaderboard)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if s.opts.OAuth == nil {
		writeError(w, http.StatusServiceUnavailable, "spotify client credentials are not configured")
		return
	}
	state := s.issueState()
	http.Redirect(w, r, auth.BuildAuthorizeURL(*s.opts.OAuth, state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.opts.OAuth == nil {
		writeError(w, http.StatusServiceUnavailable, "spotify client credentials are not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		logger.WarnCF("web", "Spotify authorization denied", map[string]any{"error": e})
		writeError(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	if !s.consumeState(q.Get("state")) {
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}

	cred, err := auth.ExchangeCode(r.Context(), *s.opts.OAuth, q.Get("code"))
	if err != nil {
		logger.ErrorCF("web", "Code exchange failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	if err := auth.SetCredential(r.Context(), s.opts.Credentials, cred); err != nil {
		logger.ErrorCF("web", "Saving credential failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "saving credential failed")
		return
	}

	logger.InfoC("web", "Spotify account connected")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(connectedPage))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.opts.Playlists.Count(r.Context())
	if err != nil {
		logger.ErrorCF("web", "Counting playlists failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

type leaderboardEntry struct {
	PubKey      string `json:"pubkey"`
	Npub        string `json:"npub,omitempty"`
	Name        string `json:"name,omitempty"`
	Label       string `json:"label,omitempty"`
	PlaylistURL string `json:"playlistUrl"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	refs, err := s.opts.Playlists.List(r.Context())
	if err != nil {
		logger.ErrorCF("web", "Listing playlists failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	var names map[string]string
	if s.opts.Names != nil && len(refs) > 0 {
		owners := make([]string, 0, len(refs))
		for _, ref := range refs {
			owners = append(owners, ref.Owner)
		}
		ctx, cancel := context.WithTimeout(r.Context(), leaderboardWait)
		names = s.opts.Names.Names(ctx, owners)
		cancel()
	}

	entries := make([]leaderboardEntry, 0, len(refs))
	for _, ref := range refs {
		e := leaderboardEntry{
			PubKey:      ref.Owner,
			Name:        names[ref.Owner],
			Label:       ref.Label,
			PlaylistURL: ref.URL(),
		}
		if npub, err := nip19.EncodePublicKey(ref.Owner); err == nil {
			e.Npub = npub
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) issueState() string {
	state := auth.NewState()
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(stateTTL)
	return state
}

// consumeState reports whether state was issued and unexpired. A state is
// valid for one callback.
func (s *Server) consumeState(state string) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return !s.now().After(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.DebugCF("web", "Writing response failed", map[string]any{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
