// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package relay keeps websocket connections to a set of Nostr relays, holds
// the standing subscription on each one and fans published events out to all
// of them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/satoshipuzzles/jukebot/pkg/bus"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
)

var (
	ErrNoRelays = errors.New("no relay connections available")
	ErrNotFound = errors.New("event not found on any relay")
)

type Options struct {
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	// FetchTimeout bounds one-shot queries (profile and thread lookups).
	FetchTimeout time.Duration
	// SkipVerify disables id/signature checks on inbound events.
	SkipVerify bool
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 3 * time.Second
	}
	return o
}

// PublishResult is the outcome of one relay's publish attempt.
type PublishResult struct {
	Relay string
	Err   error
}

// link is the part of Conn the pool relies on.
type link interface {
	URL() string
	Connected() bool
	Send(data []byte) error
	Subscribe(subID string, filter nostr.Filter) error
	Close() error
}

type fetchResult struct {
	relay string
	event *nostr.Event
}

type Pool struct {
	opts  Options
	links []link

	mu       sync.RWMutex
	sink     bus.MessageHandler
	standing map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]chan fetchResult
}

func newPool(opts Options) *Pool {
	return &Pool{
		opts:     opts.withDefaults(),
		standing: make(map[string]struct{}),
		pending:  make(map[string]chan fetchResult),
	}
}

// ConnectAll dials every endpoint concurrently, each bounded by
// opts.ConnectTimeout. Endpoints that fail are logged and left out. It
// returns ErrNoRelays when none connect.
func ConnectAll(ctx context.Context, endpoints []string, opts Options) (*Pool, error) {
	p := newPool(opts)

	conns := make([]*Conn, len(endpoints))
	var wg sync.WaitGroup
	for i, url := range endpoints {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			c := newConn(url, p.opts, p.dispatch)

			dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
			defer cancel()
			if err := c.connect(dialCtx); err != nil {
				logger.WarnCF("relay", "Connect failed, excluding relay", map[string]any{
					"url":     url,
					"timeout": p.opts.ConnectTimeout.String(),
					"error":   err.Error(),
				})
				return
			}
			conns[i] = c
		}(i, url)
	}
	wg.Wait()

	for _, c := range conns {
		if c == nil {
			continue
		}
		c.start(ctx)
		p.links = append(p.links, c)
	}

	if len(p.links) == 0 {
		return nil, fmt.Errorf("%w: 0 of %d relays connected", ErrNoRelays, len(endpoints))
	}

	logger.InfoCF("relay", "Relay pool ready", map[string]any{
		"connected": len(p.links),
		"requested": len(endpoints),
	})
	return p, nil
}

// Relays returns the URLs that connected at startup, in configuration order.
func (p *Pool) Relays() []string {
	out := make([]string, len(p.links))
	for i, l := range p.links {
		out[i] = l.URL()
	}
	return out
}

// Live returns the number of currently connected relays.
func (p *Pool) Live() int {
	return len(p.live())
}

func (p *Pool) live() []link {
	out := make([]link, 0, len(p.links))
	for _, l := range p.links {
		if l.Connected() {
			out = append(out, l)
		}
	}
	return out
}

// Subscribe sends the standing REQ to every relay. Delivery is fire and
// forget; relays that are down receive it when they reconnect. Every EVENT
// matching the subscription is handed to sink.
func (p *Pool) Subscribe(filter nostr.Filter, sink bus.MessageHandler) (string, error) {
	subID := "jukebot-" + uuid.NewString()[:8]
	if _, err := EncodeReq(subID, filter); err != nil {
		return "", fmt.Errorf("encoding REQ: %w", err)
	}

	p.mu.Lock()
	p.sink = sink
	p.standing[subID] = struct{}{}
	p.mu.Unlock()

	for _, l := range p.links {
		if err := l.Subscribe(subID, filter); err != nil {
			logger.WarnCF("relay", "Subscribe send failed", map[string]any{
				"url":    l.URL(),
				"sub_id": subID,
				"error":  err.Error(),
			})
			continue
		}
		logger.InfoCF("relay", "Subscribed", map[string]any{
			"url":    l.URL(),
			"sub_id": subID,
		})
	}
	return subID, nil
}

// Publish sends ev to a snapshot of the live relays, one attempt each, in
// parallel. A failing relay never affects the others.
func (p *Pool) Publish(ctx context.Context, ev nostr.Event) []PublishResult {
	frame, err := EncodeEvent(ev)
	if err != nil {
		logger.ErrorCF("relay", "Encoding event failed", map[string]any{
			"event_id": ev.ID,
			"error":    err.Error(),
		})
		return nil
	}

	targets := p.live()
	if len(targets) == 0 {
		logger.WarnCF("relay", "No live relays to publish to", map[string]any{"event_id": ev.ID})
		return nil
	}

	results := make([]PublishResult, len(targets))
	var wg sync.WaitGroup
	for i, l := range targets {
		wg.Add(1)
		go func(i int, l link) {
			defer wg.Done()
			results[i] = PublishResult{Relay: l.URL(), Err: publishOne(ctx, l, frame)}
		}(i, l)
	}
	wg.Wait()

	for _, r := range results {
		metrics.RecordPublish(r.Relay, r.Err)
		if r.Err != nil {
			logger.WarnCF("relay", "Publish failed", map[string]any{
				"url":      r.Relay,
				"event_id": ev.ID,
				"error":    r.Err.Error(),
			})
		}
	}
	return results
}

func publishOne(ctx context.Context, l link, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Send(frame)
}

// FetchEvent looks up a single event by id on the live relays.
func (p *Pool) FetchEvent(ctx context.Context, id string) (*nostr.Event, error) {
	return p.fetch(ctx, nostr.Filter{IDs: []string{id}, Limit: 1}, true)
}

// FetchLatest returns the newest event matching filter across the live
// relays, waiting for EOSE from each or the fetch timeout.
func (p *Pool) FetchLatest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	return p.fetch(ctx, filter, false)
}

func (p *Pool) fetch(ctx context.Context, filter nostr.Filter, firstWins bool) (*nostr.Event, error) {
	subID := "fetch-" + uuid.NewString()[:8]
	frame, err := EncodeReq(subID, filter)
	if err != nil {
		return nil, fmt.Errorf("encoding REQ: %w", err)
	}

	targets := p.live()
	if len(targets) == 0 {
		return nil, ErrNoRelays
	}

	ch := make(chan fetchResult, 16*len(targets))
	p.pendingMu.Lock()
	p.pending[subID] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, subID)
		p.pendingMu.Unlock()
	}()

	var asked []link
	for _, l := range targets {
		if err := l.Send(frame); err != nil {
			logger.DebugCF("relay", "Fetch REQ failed", map[string]any{"url": l.URL(), "error": err.Error()})
			continue
		}
		asked = append(asked, l)
	}
	if len(asked) == 0 {
		return nil, ErrNoRelays
	}
	defer func() {
		if closeFrame, err := EncodeClose(subID); err == nil {
			for _, l := range asked {
				_ = l.Send(closeFrame)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	var best *nostr.Event
	finished := make(map[string]struct{}, len(asked))
	for len(finished) < len(asked) {
		select {
		case <-ctx.Done():
			if best != nil {
				return best, nil
			}
			return nil, ErrNotFound
		case res := <-ch:
			if res.event == nil {
				finished[res.relay] = struct{}{}
				continue
			}
			if best == nil || res.event.CreatedAt > best.CreatedAt {
				best = res.event
			}
			if firstWins {
				return best, nil
			}
		}
	}

	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// dispatch routes one decoded envelope from relay url.
func (p *Pool) dispatch(url string, env Envelope) {
	metrics.RelayMessages.WithLabelValues(url, env.Label).Inc()

	switch env.Label {
	case LabelEvent:
		if !p.opts.SkipVerify {
			if err := VerifyEvent(env.Event); err != nil {
				logger.WarnCF("relay", "Dropping event with bad id or signature", map[string]any{
					"url":      url,
					"event_id": env.Event.ID,
					"error":    err.Error(),
				})
				return
			}
		}

		if ch := p.waiter(env.SubID); ch != nil {
			deliver(ch, fetchResult{relay: url, event: env.Event})
			return
		}

		p.mu.RLock()
		_, standing := p.standing[env.SubID]
		sink := p.sink
		p.mu.RUnlock()
		if !standing || sink == nil {
			logger.DebugCF("relay", "Event for unknown subscription", map[string]any{
				"url":    url,
				"sub_id": env.SubID,
			})
			return
		}
		sink(bus.InboundMessage{
			Relay:      url,
			SubID:      env.SubID,
			Event:      *env.Event,
			ReceivedAt: time.Now(),
		})

	case LabelEOSE:
		if ch := p.waiter(env.SubID); ch != nil {
			deliver(ch, fetchResult{relay: url})
			return
		}
		logger.DebugCF("relay", "End of stored events", map[string]any{"url": url, "sub_id": env.SubID})

	case LabelClosed:
		if ch := p.waiter(env.SubID); ch != nil {
			deliver(ch, fetchResult{relay: url})
			return
		}
		logger.WarnCF("relay", "Subscription closed by relay", map[string]any{
			"url":    url,
			"sub_id": env.SubID,
			"reason": env.Message,
		})

	case LabelNotice:
		logger.InfoCF("relay", "Relay notice", map[string]any{"url": url, "notice": env.Message})

	case LabelOK:
		fields := map[string]any{"url": url, "event_id": env.EventID, "message": env.Message}
		if env.OK {
			logger.DebugCF("relay", "Event accepted", fields)
		} else {
			logger.WarnCF("relay", "Event rejected", fields)
		}

	case LabelAuth:
		logger.DebugCF("relay", "Relay requested AUTH, ignoring", map[string]any{"url": url})
	}
}

func (p *Pool) waiter(subID string) chan fetchResult {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return p.pending[subID]
}

func deliver(ch chan fetchResult, res fetchResult) {
	select {
	case ch <- res:
	default:
	}
}

// Close disconnects every relay.
func (p *Pool) Close() {
	for _, l := range p.links {
		_ = l.Close()
	}
}
