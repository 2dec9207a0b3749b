package bus

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// InboundMessage is one EVENT received on a standing subscription.
type InboundMessage struct {
	Relay      string      `json:"relay"`
	SubID      string      `json:"sub_id"`
	Event      nostr.Event `json:"event"`
	ReceivedAt time.Time   `json:"received_at"`
}

type MessageHandler func(InboundMessage)
