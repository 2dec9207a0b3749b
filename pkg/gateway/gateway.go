// Package gateway drains the per-relay inbound lanes into the mention
// pipeline.
package gateway

import (
	"context"
	"sync"

	"github.com/satoshipuzzles/jukebot/pkg/bus"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/pipeline"
)

// Handler processes one inbound event. *pipeline.Processor satisfies it.
type Handler interface {
	Handle(ctx context.Context, msg bus.InboundMessage) pipeline.Outcome
}

// Gateway runs one worker per relay lane. A worker handles its lane's events
// in arrival order; lanes run in parallel, so a slow Spotify call never
// stalls other relays or any relay's read loop.
type Gateway struct {
	bus     bus.Broker
	handler Handler
}

func NewGateway(b bus.Broker, h Handler) *Gateway {
	return &Gateway{bus: b, handler: h}
}

// Run blocks until ctx is canceled or the bus is closed.
func (g *Gateway) Run(ctx context.Context) error {
	lanes := g.bus.Lanes()
	logger.InfoCF("gateway", "Starting lane workers", map[string]any{"lanes": len(lanes)})

	var wg sync.WaitGroup
	for _, lane := range lanes {
		wg.Add(1)
		go func(lane string) {
			defer wg.Done()
			g.worker(ctx, lane)
		}(lane)
	}
	wg.Wait()
	return ctx.Err()
}

// Serve implements suture.Service.
func (g *Gateway) Serve(ctx context.Context) error {
	return g.Run(ctx)
}

func (g *Gateway) String() string {
	return "gateway"
}

func (g *Gateway) worker(ctx context.Context, lane string) {
	for {
		msg, ok := g.bus.ConsumeInbound(ctx, lane)
		if !ok {
			return
		}
		out := g.handler.Handle(ctx, msg)
		if out.Err != nil {
			logger.DebugCF("gateway", "Event handling failed", map[string]any{
				"relay":    lane,
				"event_id": msg.Event.ID,
				"state":    string(out.State),
			})
		}
	}
}
