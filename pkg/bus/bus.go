package bus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
)

const (
	defaultLaneSize    = 100
	defaultPublishWait = 5 * time.Second
)

var (
	ErrLaneFull    = errors.New("bus: lane full")
	ErrUnknownLane = errors.New("bus: unknown lane")
	ErrClosed      = errors.New("bus: closed")
)

// MessageBus keeps one FIFO lane per relay so that each relay's stream is
// consumed in arrival order while different relays proceed independently.
type MessageBus struct {
	lanes       map[string]chan InboundMessage
	laneSize    int
	publishWait time.Duration
	done        chan struct{}
	closed      bool
	mu          sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithSize(defaultLaneSize, defaultPublishWait)
}

// NewMessageBusWithSize sizes every lane and sets how long PublishInbound
// waits on a full lane before dropping.
func NewMessageBusWithSize(size int, publishWait time.Duration) *MessageBus {
	if size <= 0 {
		size = defaultLaneSize
	}
	if publishWait <= 0 {
		publishWait = defaultPublishWait
	}
	return &MessageBus{
		lanes:       make(map[string]chan InboundMessage),
		laneSize:    size,
		publishWait: publishWait,
		done:        make(chan struct{}),
	}
}

// OpenLane creates the lane for relay. Opening an existing lane is a no-op.
func (mb *MessageBus) OpenLane(relay string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	if _, ok := mb.lanes[relay]; !ok {
		mb.lanes[relay] = make(chan InboundMessage, mb.laneSize)
	}
}

func (mb *MessageBus) Lanes() []string {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	out := make([]string, 0, len(mb.lanes))
	for relay := range mb.lanes {
		out = append(out, relay)
	}
	sort.Strings(out)
	return out
}

func (mb *MessageBus) lane(relay string) chan InboundMessage {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return nil
	}
	return mb.lanes[relay]
}

// PublishInbound enqueues msg on its relay's lane. A full lane is waited on
// for at most the publish wait, after which msg is dropped with ErrLaneFull.
// The caller is a relay read loop, which must not stall past its read
// deadline.
func (mb *MessageBus) PublishInbound(msg InboundMessage) error {
	ch := mb.lane(msg.Relay)
	if ch == nil {
		if mb.isClosed() {
			return ErrClosed
		}
		return ErrUnknownLane
	}

	select {
	case ch <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(mb.publishWait)
	defer timer.Stop()
	select {
	case ch <- msg:
		return nil
	case <-timer.C:
		metrics.InboundDropped.WithLabelValues(msg.Relay).Inc()
		logger.WarnCF("bus", "Lane full, dropping event", map[string]any{
			"relay":    msg.Relay,
			"event_id": msg.Event.ID,
			"waited":   mb.publishWait.String(),
		})
		return ErrLaneFull
	case <-mb.done:
		return ErrClosed
	}
}

func (mb *MessageBus) isClosed() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.closed
}

// ConsumeInbound blocks until the relay's lane yields a message, ctx is done
// or the bus is closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context, relay string) (InboundMessage, bool) {
	ch := mb.lane(relay)
	if ch == nil {
		return InboundMessage{}, false
	}
	select {
	case msg := <-ch:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-mb.done:
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.done)
}
