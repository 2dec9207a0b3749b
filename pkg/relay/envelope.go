// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package relay

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
)

// Envelope labels used on the wire.
const (
	LabelEvent  = "EVENT"
	LabelReq    = "REQ"
	LabelClose  = "CLOSE"
	LabelEOSE   = "EOSE"
	LabelNotice = "NOTICE"
	LabelOK     = "OK"
	LabelClosed = "CLOSED"
	LabelAuth   = "AUTH"
)

var ErrMalformed = errors.New("malformed relay message")

// Envelope is a decoded relay → client message. Only the fields relevant to
// Label are populated.
type Envelope struct {
	Label   string
	SubID   string
	Event   *nostr.Event
	EventID string
	OK      bool
	Message string
}

// ParseEnvelope decodes one text frame received from a relay.
func ParseEnvelope(data []byte) (Envelope, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(parts) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty array", ErrMalformed)
	}

	label, err := parseJSONString(parts[0])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: label: %v", ErrMalformed, err)
	}
	env := Envelope{Label: label}

	switch label {
	case LabelEvent:
		if len(parts) < 3 {
			return Envelope{}, fmt.Errorf("%w: EVENT needs 3 elements, got %d", ErrMalformed, len(parts))
		}
		if env.SubID, err = parseJSONString(parts[1]); err != nil {
			return Envelope{}, fmt.Errorf("%w: EVENT sub id: %v", ErrMalformed, err)
		}
		var ev nostr.Event
		if err := json.Unmarshal(parts[2], &ev); err != nil {
			return Envelope{}, fmt.Errorf("%w: EVENT payload: %v", ErrMalformed, err)
		}
		env.Event = &ev

	case LabelEOSE:
		if len(parts) < 2 {
			return Envelope{}, fmt.Errorf("%w: EOSE without sub id", ErrMalformed)
		}
		if env.SubID, err = parseJSONString(parts[1]); err != nil {
			return Envelope{}, fmt.Errorf("%w: EOSE sub id: %v", ErrMalformed, err)
		}

	case LabelNotice:
		if len(parts) >= 2 {
			env.Message, _ = parseJSONString(parts[1])
		}

	case LabelOK:
		if len(parts) < 3 {
			return Envelope{}, fmt.Errorf("%w: OK needs at least 3 elements", ErrMalformed)
		}
		if env.EventID, err = parseJSONString(parts[1]); err != nil {
			return Envelope{}, fmt.Errorf("%w: OK event id: %v", ErrMalformed, err)
		}
		if err := json.Unmarshal(parts[2], &env.OK); err != nil {
			return Envelope{}, fmt.Errorf("%w: OK flag: %v", ErrMalformed, err)
		}
		if len(parts) >= 4 {
			env.Message, _ = parseJSONString(parts[3])
		}

	case LabelClosed:
		if len(parts) < 2 {
			return Envelope{}, fmt.Errorf("%w: CLOSED without sub id", ErrMalformed)
		}
		if env.SubID, err = parseJSONString(parts[1]); err != nil {
			return Envelope{}, fmt.Errorf("%w: CLOSED sub id: %v", ErrMalformed, err)
		}
		if len(parts) >= 3 {
			env.Message, _ = parseJSONString(parts[2])
		}

	case LabelAuth:
		if len(parts) >= 2 {
			env.Message, _ = parseJSONString(parts[1])
		}

	default:
		return Envelope{}, fmt.Errorf("%w: unknown label %q", ErrMalformed, label)
	}

	return env, nil
}

func parseJSONString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// EncodeReq builds ["REQ", subID, filter...].
func EncodeReq(subID string, filters ...nostr.Filter) ([]byte, error) {
	frame := make([]any, 0, 2+len(filters))
	frame = append(frame, LabelReq, subID)
	for _, f := range filters {
		frame = append(frame, f)
	}
	return json.Marshal(frame)
}

// EncodeEvent builds ["EVENT", event].
func EncodeEvent(ev nostr.Event) ([]byte, error) {
	return json.Marshal([]any{LabelEvent, ev})
}

// EncodeClose builds ["CLOSE", subID].
func EncodeClose(subID string) ([]byte, error) {
	return json.Marshal([]any{LabelClose, subID})
}

// VerifyEvent checks that the event id matches its content and that the
// signature is valid for PubKey.
func VerifyEvent(ev *nostr.Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	if ev.GetID() != ev.ID {
		return fmt.Errorf("event id mismatch")
	}
	ok, err := ev.CheckSignature()
	if err != nil {
		return fmt.Errorf("checking signature: %w", err)
	}
	if !ok {
		return fmt.Errorf("invalid signature")
	}
	return nil
}
