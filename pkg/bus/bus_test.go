package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func msg(relay, id string) InboundMessage {
	return InboundMessage{Relay: relay, Event: nostr.Event{ID: id}}
}

func TestLaneKeepsArrivalOrder(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	mb.OpenLane("wss://a")

	for _, id := range []string{"1", "2", "3"} {
		if err := mb.PublishInbound(msg("wss://a", id)); err != nil {
			t.Fatalf("PublishInbound(%s) error: %v", id, err)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"1", "2", "3"} {
		got, ok := mb.ConsumeInbound(ctx, "wss://a")
		if !ok {
			t.Fatal("ConsumeInbound returned false")
		}
		if got.Event.ID != want {
			t.Errorf("event id = %q, want %q", got.Event.ID, want)
		}
	}
}

func TestLanesAreIndependent(t *testing.T) {
	mb := NewMessageBusWithSize(1, time.Minute)
	defer mb.Close()
	mb.OpenLane("wss://a")
	mb.OpenLane("wss://b")

	// Fill lane a; lane b must still accept.
	_ = mb.PublishInbound(msg("wss://a", "a1"))

	done := make(chan error, 1)
	go func() { done <- mb.PublishInbound(msg("wss://b", "b1")) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publish to lane b failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish to lane b blocked behind lane a")
	}

	got, ok := mb.ConsumeInbound(context.Background(), "wss://b")
	if !ok || got.Event.ID != "b1" {
		t.Errorf("lane b yielded %+v, %v", got, ok)
	}
	got, ok = mb.ConsumeInbound(context.Background(), "wss://a")
	if !ok || got.Event.ID != "a1" {
		t.Errorf("lane a yielded %+v, %v", got, ok)
	}
}

func TestFullLaneDropsAfterWait(t *testing.T) {
	mb := NewMessageBusWithSize(1, 50*time.Millisecond)
	defer mb.Close()
	mb.OpenLane("wss://a")

	if err := mb.PublishInbound(msg("wss://a", "1")); err != nil {
		t.Fatalf("first publish error: %v", err)
	}

	start := time.Now()
	err := mb.PublishInbound(msg("wss://a", "2"))
	if !errors.Is(err, ErrLaneFull) {
		t.Fatalf("PublishInbound on a full lane = %v, want ErrLaneFull", err)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond || waited > time.Second {
		t.Errorf("waited %v, want about the publish wait", waited)
	}

	got, _ := mb.ConsumeInbound(context.Background(), "wss://a")
	if got.Event.ID != "1" {
		t.Errorf("queued event = %q, want 1", got.Event.ID)
	}
}

func TestPublishWaitsForRoom(t *testing.T) {
	mb := NewMessageBusWithSize(1, time.Second)
	defer mb.Close()
	mb.OpenLane("wss://a")
	_ = mb.PublishInbound(msg("wss://a", "1"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		mb.ConsumeInbound(context.Background(), "wss://a")
	}()
	if err := mb.PublishInbound(msg("wss://a", "2")); err != nil {
		t.Errorf("PublishInbound should succeed once the lane drains: %v", err)
	}
}

func TestPublishUnknownLane(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	if err := mb.PublishInbound(msg("wss://nowhere", "x")); !errors.Is(err, ErrUnknownLane) {
		t.Errorf("publish to unopened lane = %v, want ErrUnknownLane", err)
	}
}

func TestCloseUnblocksPublishersAndConsumers(t *testing.T) {
	mb := NewMessageBusWithSize(1, time.Minute)
	mb.OpenLane("wss://a")
	_ = mb.PublishInbound(msg("wss://a", "fill"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := mb.PublishInbound(msg("wss://a", "blocked")); !errors.Is(err, ErrClosed) {
			t.Errorf("blocked publish = %v, want ErrClosed", err)
		}
	}()
	go func() {
		defer wg.Done()
		mb.ConsumeInbound(context.Background(), "wss://other")
	}()

	time.Sleep(20 * time.Millisecond)
	mb.Close()
	mb.Close()

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(time.Second):
		t.Fatal("Close did not release blocked goroutines")
	}

	if _, ok := mb.ConsumeInbound(context.Background(), "wss://a"); ok {
		t.Error("ConsumeInbound after Close should return false")
	}
	if err := mb.PublishInbound(msg("wss://a", "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("PublishInbound after Close = %v, want ErrClosed", err)
	}
}

func TestConsumeHonoursContext(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	mb.OpenLane("wss://a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := mb.ConsumeInbound(ctx, "wss://a"); ok {
		t.Error("expected false after context deadline")
	}
}

func TestLanesSorted(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	mb.OpenLane("wss://b")
	mb.OpenLane("wss://a")
	mb.OpenLane("wss://a")

	lanes := mb.Lanes()
	if len(lanes) != 2 || lanes[0] != "wss://a" || lanes[1] != "wss://b" {
		t.Errorf("Lanes() = %v", lanes)
	}
}
