// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package heartbeat keeps the bot's kind-0 profile fresh on relays: it
// publishes once at startup and again on a cron schedule.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"

	"github.com/satoshipuzzles/jukebot/pkg/identity"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
	"github.com/satoshipuzzles/jukebot/pkg/relay"
)

const publishTimeout = 15 * time.Second

// Publisher fans a signed event out to relays.
type Publisher interface {
	Publish(ctx context.Context, ev nostr.Event) []relay.PublishResult
}

// Profile is the kind-0 metadata content.
type Profile struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	About   string `json:"about,omitempty"`
}

func (p Profile) empty() bool {
	return p.Name == "" && p.Picture == "" && p.About == ""
}

type HeartbeatService struct {
	signer    identity.Signer
	publisher Publisher
	profile   Profile
	cron      string
	enabled   bool
}

// NewHeartbeatService returns a service that republishes profile on the cron
// expression. An empty cron publishes only at startup.
func NewHeartbeatService(signer identity.Signer, publisher Publisher, profile Profile, cron string, enabled bool) *HeartbeatService {
	return &HeartbeatService{
		signer:    signer,
		publisher: publisher,
		profile:   profile,
		cron:      cron,
		enabled:   enabled && !profile.empty(),
	}
}

// Serve implements suture.Service.
func (hs *HeartbeatService) Serve(ctx context.Context) error {
	if !hs.enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	if hs.cron != "" && !gronx.IsValid(hs.cron) {
		return fmt.Errorf("invalid metadata cron expression: %s", hs.cron)
	}
	hs.run(ctx)
	return ctx.Err()
}

func (hs *HeartbeatService) String() string {
	return "heartbeat"
}

func (hs *HeartbeatService) run(ctx context.Context) {
	hs.executeHeartbeat(ctx)
	if hs.cron == "" {
		<-ctx.Done()
		return
	}

	for {
		next, err := gronx.NextTickAfter(hs.cron, time.Now().UTC(), false)
		if err != nil {
			logger.ErrorCF("heartbeat", "Computing next tick failed", map[string]any{"cron": hs.cron, "error": err.Error()})
			next = time.Now().Add(time.Hour)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			hs.executeHeartbeat(ctx)
		}
	}
}

func (hs *HeartbeatService) buildMetadata() (nostr.Event, error) {
	content, err := json.Marshal(hs.profile)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encoding profile: %w", err)
	}
	return nostr.Event{
		Kind:      nostr.KindProfileMetadata,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{},
		Content:   string(content),
	}, nil
}

// executeHeartbeat signs and publishes one metadata event. It returns the
// number of relays that accepted the write.
func (hs *HeartbeatService) executeHeartbeat(ctx context.Context) int {
	ev, err := hs.buildMetadata()
	if err == nil {
		err = hs.signer.Sign(&ev)
	}
	if err != nil {
		metrics.MetadataPublishes.WithLabelValues("error").Inc()
		logger.ErrorCF("heartbeat", "Building metadata failed", map[string]any{"error": err.Error()})
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	results := hs.publisher.Publish(ctx, ev)

	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}

	result := "ok"
	if ok == 0 {
		result = "error"
	}
	metrics.MetadataPublishes.WithLabelValues(result).Inc()
	logger.InfoCF("heartbeat", "Bot metadata published", map[string]any{
		"relays":   len(results),
		"accepted": ok,
		"event_id": ev.ID,
	})
	return ok
}
