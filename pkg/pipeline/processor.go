// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package pipeline turns one inbound mention into playlist updates and a
// signed reply.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/satoshipuzzles/jukebot/pkg/bus"
	"github.com/satoshipuzzles/jukebot/pkg/identity"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/mention"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
	"github.com/satoshipuzzles/jukebot/pkg/relay"
)

type State string

const (
	StateReceived    State = "received"
	StateFilteredOut State = "filtered_out"
	StateSeen        State = "seen"
	StateAccepted    State = "accepted"
	StateNoIDs       State = "no_ids"
	StateExtracted   State = "extracted"
	StateMutated     State = "mutated"
	StateReplied     State = "replied"
	StateDone        State = "done"
)

// Outcome describes how one inbound event was handled.
type Outcome struct {
	State    State
	Trace    []State
	Owner    string
	TrackIDs []string
	Added    int
	Replied  bool
	Publish  []relay.PublishResult
	Err      error
}

func (o *Outcome) advance(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

// label is the metrics outcome for a finished event.
func (o *Outcome) label() string {
	switch {
	case o.State != StateDone:
		return string(o.State)
	case o.Err != nil:
		return "failed"
	case o.Replied:
		return "replied"
	default:
		return string(o.State)
	}
}

// Publisher fans a signed event out to relays.
type Publisher interface {
	Publish(ctx context.Context, ev nostr.Event) []relay.PublishResult
}

type Options struct {
	BotPubKey   string
	MentionKind int
	// Resolver enables thread attribution when set.
	Resolver mention.Resolver
	// Global enables the community playlist when set.
	Global  GlobalCollection
	Seen    *SeenCache
	Timeout time.Duration
}

type Processor struct {
	signer    identity.Signer
	mutator   *Mutator
	publisher Publisher
	opts      Options
}

func NewProcessor(signer identity.Signer, mutator *Mutator, publisher Publisher, opts Options) *Processor {
	if opts.BotPubKey == "" {
		opts.BotPubKey = signer.PublicKey()
	}
	if opts.MentionKind == 0 {
		opts.MentionKind = nostr.KindTextNote
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	return &Processor{signer: signer, mutator: mutator, publisher: publisher, opts: opts}
}

// Filter is the standing subscription filter for mentions of the bot.
func (p *Processor) Filter() nostr.Filter {
	return nostr.Filter{
		Kinds: []int{p.opts.MentionKind},
		Tags:  nostr.TagMap{"p": []string{p.opts.BotPubKey}},
	}
}

// Handle runs one event through the pipeline. It never panics and never
// returns an error: failures end in StateDone with Outcome.Err set and no
// reply published.
func (p *Processor) Handle(ctx context.Context, msg bus.InboundMessage) (out Outcome) {
	out.advance(StateReceived)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic while processing event: %v", r)
			out.Replied = false
			out.advance(StateDone)
			logger.ErrorCF("pipeline", "Recovered from panic", map[string]any{
				"event_id": msg.Event.ID,
				"panic":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			})
		}
		metrics.MentionsTotal.WithLabelValues(out.label()).Inc()
		if out.State == StateDone {
			metrics.MentionDuration.Observe(time.Since(start).Seconds())
		}
	}()

	ev := &msg.Event
	if ev.PubKey == p.opts.BotPubKey || !mention.IsMention(ev, p.opts.BotPubKey, p.opts.MentionKind) {
		out.advance(StateFilteredOut)
		return out
	}
	if p.opts.Seen.CheckAndMark(ev.ID) {
		logger.DebugCF("pipeline", "Already handled event", map[string]any{"event_id": ev.ID, "relay": msg.Relay})
		out.advance(StateSeen)
		return out
	}
	out.advance(StateAccepted)

	fields := map[string]any{"event_id": ev.ID, "author": ev.PubKey, "relay": msg.Relay}
	ids := mention.ExtractTrackIDs(ev.Content)
	if len(ids) == 0 {
		logger.DebugCF("pipeline", "Mention has no track links", fields)
		out.advance(StateNoIDs)
		return out
	}
	out.TrackIDs = ids
	out.advance(StateExtracted)

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	label := mention.ExtractLabel(ev.Content)
	owner := ev.PubKey
	if p.opts.Resolver != nil {
		owner = mention.Attribute(ctx, ev, p.opts.Resolver)
	}
	out.Owner = owner
	fields["owner"] = owner
	fields["tracks"] = len(ids)

	res, err := p.mutator.Apply(ctx, owner, label, ids)
	if err != nil {
		return p.fail(out, err, "Playlist update failed", fields)
	}
	out.Added = res.Added
	metrics.TracksAdded.Add(float64(res.Added))
	out.advance(StateMutated)

	var global *MutationResult
	if p.opts.Global != nil {
		g, err := p.mutator.ApplyToGlobal(ctx, p.opts.Global, ids)
		if err != nil {
			logger.WarnCF("pipeline", "Community playlist update failed", map[string]any{
				"event_id": ev.ID,
				"error":    err.Error(),
			})
		} else {
			global = &g
		}
	}

	reply := BuildReply(p.opts.BotPubKey, ev, BuildReplyContent(res, global))
	if err := p.signer.Sign(&reply); err != nil {
		return p.fail(out, err, "Signing reply failed", fields)
	}

	out.Publish = p.publisher.Publish(ctx, reply)
	out.Replied = true
	out.advance(StateReplied)

	delivered := 0
	for _, r := range out.Publish {
		if r.Err == nil {
			delivered++
		}
	}
	fields["added"] = res.Added
	fields["degraded"] = res.Degraded
	fields["playlist"] = res.Playlist.PlaylistID
	fields["delivered"] = delivered
	fields["relays"] = len(out.Publish)
	logger.InfoCF("pipeline", "Added tracks and replied", fields)

	out.advance(StateDone)
	return out
}

func (p *Processor) fail(out Outcome, err error, msg string, fields map[string]any) Outcome {
	fields["error"] = err.Error()
	logger.ErrorCF("pipeline", msg, fields)
	out.Err = err
	out.advance(StateDone)
	return out
}
