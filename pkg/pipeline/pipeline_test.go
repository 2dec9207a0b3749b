package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satoshipuzzles/jukebot/pkg/bus"
	"github.com/satoshipuzzles/jukebot/pkg/identity"
	"github.com/satoshipuzzles/jukebot/pkg/playlist"
	"github.com/satoshipuzzles/jukebot/pkg/relay"
	"github.com/satoshipuzzles/jukebot/pkg/spotify"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

const alicePK = "a11ce00000000000000000000000000000000000000000000000000000000000"

// fakeMedia is an in-memory Spotify that records every call.
type fakeMedia struct {
	mu        sync.Mutex
	playlists map[string][]string
	created   []string
	readErr   error
	addErr    error
	panicOn   string
	calls     int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{playlists: map[string][]string{}}
}

func (f *fakeMedia) CreatePlaylist(_ context.Context, title, _ string, _ bool) (*spotify.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.created = append(f.created, title)
	id := "PL" + string(rune('0'+len(f.created)))
	f.playlists[id] = nil
	return &spotify.Playlist{ID: id, Name: title}, nil
}

func (f *fakeMedia) PlaylistTrackIDs(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicOn == "read" {
		panic("unexpected nil playlist")
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	return append([]string(nil), f.playlists[id]...), nil
}

func (f *fakeMedia) AddTracks(_ context.Context, id string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.addErr != nil {
		return f.addErr
	}
	f.playlists[id] = append(f.playlists[id], ids...)
	return nil
}

func (f *fakeMedia) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePublisher simulates relays, failing the ones listed in failing.
type fakePublisher struct {
	relays  []string
	failing map[string]bool

	mu     sync.Mutex
	events []nostr.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev nostr.Event) []relay.PublishResult {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	out := make([]relay.PublishResult, 0, len(f.relays))
	for _, r := range f.relays {
		res := relay.PublishResult{Relay: r}
		if f.failing[r] {
			res.Err = errors.New("broken pipe")
		}
		out = append(out, res)
	}
	return out
}

func (f *fakePublisher) published() []nostr.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nostr.Event(nil), f.events...)
}

type harness struct {
	bot       *identity.Identity
	media     *fakeMedia
	publisher *fakePublisher
	store     *store.Store
	processor *Processor
}

func newHarness(t *testing.T, configure func(*Options, *harness)) *harness {
	t.Helper()
	bot, err := identity.ParseSecretKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		bot:       bot,
		media:     newFakeMedia(),
		publisher: &fakePublisher{relays: []string{"wss://a", "wss://b", "wss://c"}},
		store:     st,
	}
	manager := playlist.NewManager(h.media, st, playlist.Options{})
	opts := Options{}
	if configure != nil {
		configure(&opts, h)
	}
	h.processor = NewProcessor(bot, &Mutator{Collections: manager, Media: h.media}, h.publisher, opts)
	return h
}

func (h *harness) mention(content string, extraTags ...nostr.Tag) bus.InboundMessage {
	tags := nostr.Tags{{"p", h.bot.PublicKey()}}
	tags = append(tags, extraTags...)
	return bus.InboundMessage{
		Relay: "wss://a",
		Event: nostr.Event{
			ID:        "mention-" + strings.ReplaceAll(content, " ", ""),
			PubKey:    alicePK,
			CreatedAt: nostr.Now(),
			Kind:      1,
			Tags:      tags,
			Content:   content,
		},
		ReceivedAt: time.Now(),
	}
}

func TestNonMentionMakesNoCalls(t *testing.T) {
	h := newHarness(t, nil)
	msg := h.mention("https://open.spotify.com/track/AAA")
	msg.Event.Tags = nostr.Tags{{"p", alicePK}}

	out := h.processor.Handle(context.Background(), msg)

	assert.Equal(t, StateFilteredOut, out.State)
	assert.Zero(t, h.media.callCount())
	assert.Empty(t, h.publisher.published())
}

func TestOwnEventsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	msg := h.mention("https://open.spotify.com/track/AAA")
	msg.Event.PubKey = h.bot.PublicKey()

	out := h.processor.Handle(context.Background(), msg)
	assert.Equal(t, StateFilteredOut, out.State)
	assert.Zero(t, h.media.callCount())
}

func TestNoTrackLinksIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	out := h.processor.Handle(context.Background(), h.mention("hey bot, what's up?"))

	assert.Equal(t, StateNoIDs, out.State)
	assert.Equal(t, []State{StateReceived, StateAccepted, StateNoIDs}, out.Trace)
	assert.Zero(t, h.media.callCount())
	assert.Empty(t, h.publisher.published())
}

func TestEndToEndMention(t *testing.T) {
	h := newHarness(t, nil)
	msg := h.mention("🎶 https://open.spotify.com/track/XYZ123 #Chill")

	out := h.processor.Handle(context.Background(), msg)

	require.NoError(t, out.Err)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, []State{StateReceived, StateAccepted, StateExtracted, StateMutated, StateReplied, StateDone}, out.Trace)
	assert.Equal(t, 1, out.Added)
	assert.Equal(t, []string{"Chill — Nostr Playlist"}, h.media.created)
	assert.Equal(t, []string{"XYZ123"}, h.media.playlists["PL1"])

	events := h.publisher.published()
	require.Len(t, events, 1)
	reply := events[0]
	assert.Equal(t, 1, reply.Kind)
	assert.Equal(t, h.bot.PublicKey(), reply.PubKey)
	assert.Contains(t, reply.Content, "https://open.spotify.com/playlist/PL1")
	assert.Contains(t, reply.Content, "Added 1 track(s)")
	assert.Contains(t, reply.Tags, nostr.Tag{"e", msg.Event.ID, "", "reply"})
	assert.Contains(t, reply.Tags, nostr.Tag{"p", alicePK})

	ok, err := reply.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok, "reply must carry a valid signature")

	ref, err := h.store.Get(context.Background(), alicePK)
	require.NoError(t, err)
	assert.Equal(t, "PL1", ref.PlaylistID)
}

func TestIdempotentAppend(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, store.PlaylistRef{Owner: alicePK, PlaylistID: "EXIST", CreatedAt: time.Now()}))
	h.media.playlists["EXIST"] = []string{"AAA"}

	out := h.processor.Handle(ctx, h.mention("open.spotify.com/track/AAA open.spotify.com/track/BBB"))

	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Added)
	assert.Equal(t, []string{"AAA", "BBB"}, h.media.playlists["EXIST"])
	assert.Empty(t, h.media.created)
	assert.Contains(t, h.publisher.published()[0].Content, "Added 1 track(s)")
}

func TestAllDuplicatesStillReplies(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, store.PlaylistRef{Owner: alicePK, PlaylistID: "EXIST", CreatedAt: time.Now()}))
	h.media.playlists["EXIST"] = []string{"AAA"}

	out := h.processor.Handle(ctx, h.mention("open.spotify.com/track/AAA"))
	require.NoError(t, out.Err)
	assert.Equal(t, 0, out.Added)
	assert.Contains(t, h.publisher.published()[0].Content, "already in your playlist")
}

func TestFailOpenMembershipRead(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, store.PlaylistRef{Owner: alicePK, PlaylistID: "EXIST", CreatedAt: time.Now()}))
	h.media.playlists["EXIST"] = []string{"AAA"}
	h.media.readErr = errors.New("502 bad gateway")

	out := h.processor.Handle(ctx, h.mention("open.spotify.com/track/AAA open.spotify.com/track/BBB"))

	require.NoError(t, out.Err)
	assert.Equal(t, 2, out.Added)
	assert.Equal(t, []string{"AAA", "AAA", "BBB"}, h.media.playlists["EXIST"])
	assert.Contains(t, h.publisher.published()[0].Content, "Added 2 track(s)")
}

func TestAppendFailureSendsNoReply(t *testing.T) {
	h := newHarness(t, nil)
	h.media.addErr = errors.New("403 forbidden")

	out := h.processor.Handle(context.Background(), h.mention("open.spotify.com/track/AAA"))

	assert.Equal(t, StateDone, out.State)
	assert.Error(t, out.Err)
	assert.False(t, out.Replied)
	assert.Empty(t, h.publisher.published())
}

func TestPanicEndsInDone(t *testing.T) {
	h := newHarness(t, nil)
	h.media.panicOn = "read"

	var out Outcome
	assert.NotPanics(t, func() {
		out = h.processor.Handle(context.Background(), h.mention("open.spotify.com/track/AAA"))
	})
	assert.Equal(t, StateDone, out.State)
	assert.ErrorContains(t, out.Err, "panic")
	assert.Empty(t, h.publisher.published())
}

func TestFanOutToleratesRelayFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.failing = map[string]bool{"wss://b": true}

	out := h.processor.Handle(context.Background(), h.mention("open.spotify.com/track/AAA"))

	require.NoError(t, out.Err)
	assert.True(t, out.Replied)
	require.Len(t, out.Publish, 3)
	assert.NoError(t, out.Publish[0].Err)
	assert.Error(t, out.Publish[1].Err)
	assert.NoError(t, out.Publish[2].Err)
}

func TestSeenCacheSuppressesRedelivery(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *harness) {
		o.Seen = NewSeenCache(time.Minute, 100)
	})
	msg := h.mention("open.spotify.com/track/AAA")

	first := h.processor.Handle(context.Background(), msg)
	msg.Relay = "wss://b"
	second := h.processor.Handle(context.Background(), msg)

	assert.Equal(t, StateDone, first.State)
	assert.Equal(t, StateSeen, second.State)
	assert.Len(t, h.publisher.published(), 1)
}

func TestWithoutSeenCacheEveryDeliveryIsProcessed(t *testing.T) {
	h := newHarness(t, nil)
	msg := h.mention("open.spotify.com/track/AAA")

	h.processor.Handle(context.Background(), msg)
	h.processor.Handle(context.Background(), msg)

	// Membership check keeps the playlist free of duplicates.
	assert.Equal(t, []string{"AAA"}, h.media.playlists["PL1"])
	assert.Len(t, h.publisher.published(), 2)
}

type staticResolver map[string]string

func (s staticResolver) AuthorOf(_ context.Context, id string) (string, error) {
	if a, ok := s[id]; ok {
		return a, nil
	}
	return "", errors.New("unknown event")
}

func TestThreadAttribution(t *testing.T) {
	threadAuthor := strings.Repeat("7", 64)
	h := newHarness(t, func(o *Options, _ *harness) {
		o.Resolver = staticResolver{"root1": threadAuthor}
	})

	out := h.processor.Handle(context.Background(), h.mention("open.spotify.com/track/AAA", nostr.Tag{"e", "root1", "", "root"}))
	require.NoError(t, out.Err)
	assert.Equal(t, threadAuthor, out.Owner)

	_, err := h.store.Get(context.Background(), threadAuthor)
	assert.NoError(t, err)
}

type fixedGlobal struct {
	ref store.PlaylistRef
	err error
}

func (g fixedGlobal) Global(context.Context) (store.PlaylistRef, error) { return g.ref, g.err }

func TestGlobalPlaylist(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *harness) {
		o.Global = fixedGlobal{ref: store.PlaylistRef{PlaylistID: "GLOBAL"}}
	})

	out := h.processor.Handle(context.Background(), h.mention("open.spotify.com/track/AAA"))
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"AAA"}, h.media.playlists["GLOBAL"])
	assert.Contains(t, h.publisher.published()[0].Content, "🌍 Also added to the community playlist: https://open.spotify.com/playlist/GLOBAL")
}

func TestGlobalFailureDoesNotBlockReply(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *harness) {
		o.Global = fixedGlobal{err: errors.New("no global")}
	})

	out := h.processor.Handle(context.Background(), h.mention("open.spotify.com/track/AAA"))
	require.NoError(t, out.Err)
	assert.True(t, out.Replied)
	assert.NotContains(t, h.publisher.published()[0].Content, "community")
}

func TestFilter(t *testing.T) {
	h := newHarness(t, nil)
	f := h.processor.Filter()
	assert.Equal(t, []int{1}, f.Kinds)
	assert.Equal(t, []string{h.bot.PublicKey()}, f.Tags["p"])
}
