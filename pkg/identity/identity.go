// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package identity holds the bot's Nostr keypair and signs events with it.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var ErrInvalidKey = errors.New("invalid nostr secret key")

// Signer signs event templates. The relay pipeline only depends on this.
type Signer interface {
	PublicKey() string
	Sign(ev *nostr.Event) error
}

type Identity struct {
	secret string
	public string
}

// ParseSecretKey accepts a 64-char hex key or a bech32 "nsec1..." key.
func ParseSecretKey(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "nsec1") {
		prefix, value, err := nip19.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		sk, ok := value.(string)
		if prefix != "nsec" || !ok {
			return nil, fmt.Errorf("%w: unexpected bech32 prefix %q", ErrInvalidKey, prefix)
		}
		raw = sk
	}

	raw = strings.ToLower(raw)
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: want 64 hex characters, got %d", ErrInvalidKey, len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	pk, err := nostr.GetPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Identity{secret: raw, public: pk}, nil
}

// PublicKey returns the hex-encoded x-only public key.
func (id *Identity) PublicKey() string {
	return id.public
}

func (id *Identity) Npub() string {
	npub, err := nip19.EncodePublicKey(id.public)
	if err != nil {
		return id.public
	}
	return npub
}

// Sign sets PubKey, computes the event id and signs it.
func (id *Identity) Sign(ev *nostr.Event) error {
	ev.PubKey = id.public
	if err := ev.Sign(id.secret); err != nil {
		return fmt.Errorf("signing event kind %d: %w", ev.Kind, err)
	}
	return nil
}

// ShortNpub renders an npub truncated for display, e.g. "npub1abcd…wxyz".
func ShortNpub(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return pubkey
	}
	if len(npub) <= 20 {
		return npub
	}
	return npub[:12] + "…" + npub[len(npub)-6:]
}
