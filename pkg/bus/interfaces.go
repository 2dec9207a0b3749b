package bus

import "context"

type Publisher interface {
	PublishInbound(InboundMessage) error
}

type Subscriber interface {
	ConsumeInbound(ctx context.Context, relay string) (InboundMessage, bool)
}

type Broker interface {
	Publisher
	Subscriber
	OpenLane(relay string)
	Lanes() []string
	Close()
}
