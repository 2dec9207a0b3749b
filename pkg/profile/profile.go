// Package profile resolves display names for Nostr pubkeys from their kind-0
// metadata, with an in-memory cache.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"

	"github.com/satoshipuzzles/jukebot/pkg/logger"
)

// Fetcher is satisfied by *relay.Pool.
type Fetcher interface {
	FetchLatest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error)
}

type Options struct {
	// Timeout bounds one relay lookup.
	Timeout time.Duration
	// TTL is how long a resolved name is reused.
	TTL time.Duration
	// MissTTL is how long a failed lookup is remembered.
	MissTTL time.Duration
}

type Resolver struct {
	fetcher Fetcher
	cache   *ristretto.Cache[string, string]
	opts    Options
}

func NewResolver(f Fetcher, opts Options) (*Resolver, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MissTTL <= 0 {
		opts.MissTTL = 5 * time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating profile cache: %w", err)
	}
	return &Resolver{fetcher: f, cache: cache, opts: opts}, nil
}

// Fallback is the name shown when no metadata can be found.
func Fallback(pubkey string) string {
	if len(pubkey) > 8 {
		pubkey = pubkey[:8]
	}
	return "nostr:" + pubkey + "..."
}

// Name returns the pubkey's display name, or Fallback when the lookup fails
// or times out.
func (r *Resolver) Name(ctx context.Context, pubkey string) string {
	if name, ok := r.cache.Get(pubkey); ok {
		return name
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	ev, err := r.fetcher.FetchLatest(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		logger.DebugCF("profile", "Metadata lookup failed", map[string]any{"pubkey": pubkey, "error": err.Error()})
		name := Fallback(pubkey)
		r.cache.SetWithTTL(pubkey, name, int64(len(name)), r.opts.MissTTL)
		return name
	}

	name := parseName(ev.Content)
	if name == "" {
		name = Fallback(pubkey)
	}
	r.cache.SetWithTTL(pubkey, name, int64(len(name)), r.opts.TTL)
	return name
}

// Names resolves several pubkeys concurrently.
func (r *Resolver) Names(ctx context.Context, pubkeys []string) map[string]string {
	type pair struct{ pk, name string }
	ch := make(chan pair, len(pubkeys))
	for _, pk := range pubkeys {
		go func(pk string) {
			ch <- pair{pk, r.Name(ctx, pk)}
		}(pk)
	}
	out := make(map[string]string, len(pubkeys))
	for range pubkeys {
		p := <-ch
		out[p.pk] = p.name
	}
	return out
}

func (r *Resolver) Close() {
	r.cache.Close()
}

func parseName(content string) string {
	var meta struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal([]byte(content), &meta); err != nil {
		return ""
	}
	if name := strings.TrimSpace(meta.Name); name != "" {
		return name
	}
	return strings.TrimSpace(meta.DisplayName)
}
