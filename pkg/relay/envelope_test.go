package relay

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		check func(t *testing.T, env Envelope)
	}{
		{
			name: "event",
			in:   `["EVENT","sub1",{"id":"abc","pubkey":"pk","created_at":1700000000,"kind":1,"tags":[["p","bot"]],"content":"hi","sig":"s"}]`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, LabelEvent, env.Label)
				assert.Equal(t, "sub1", env.SubID)
				require.NotNil(t, env.Event)
				assert.Equal(t, "abc", env.Event.ID)
				assert.Equal(t, 1, env.Event.Kind)
				assert.Equal(t, "hi", env.Event.Content)
				assert.Equal(t, nostr.Timestamp(1700000000), env.Event.CreatedAt)
			},
		},
		{
			name: "eose",
			in:   `["EOSE","sub1"]`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, LabelEOSE, env.Label)
				assert.Equal(t, "sub1", env.SubID)
			},
		},
		{
			name: "notice",
			in:   `["NOTICE","rate limited"]`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, LabelNotice, env.Label)
				assert.Equal(t, "rate limited", env.Message)
			},
		},
		{
			name: "ok rejected",
			in:   `["OK","eid",false,"blocked: spam"]`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, LabelOK, env.Label)
				assert.Equal(t, "eid", env.EventID)
				assert.False(t, env.OK)
				assert.Equal(t, "blocked: spam", env.Message)
			},
		},
		{
			name: "closed",
			in:   `["CLOSED","sub1","auth-required: nope"]`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, LabelClosed, env.Label)
				assert.Equal(t, "sub1", env.SubID)
				assert.Equal(t, "auth-required: nope", env.Message)
			},
		},
		{
			name: "auth",
			in:   `["AUTH","challenge-string"]`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, LabelAuth, env.Label)
				assert.Equal(t, "challenge-string", env.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.in))
			require.NoError(t, err)
			tt.check(t, env)
		})
	}
}

func TestParseEnvelope_Malformed(t *testing.T) {
	inputs := []string{
		``,
		`{}`,
		`[]`,
		`[1,2]`,
		`["EVENT","sub"]`,
		`["EVENT","sub","not an object"]`,
		`["EOSE"]`,
		`["OK","id"]`,
		`["OK","id","yes"]`,
		`["WHAT","x"]`,
	}
	for _, in := range inputs {
		_, err := ParseEnvelope([]byte(in))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseEnvelope(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestEncodeReq(t *testing.T) {
	filter := nostr.Filter{
		Kinds: []int{1},
		Tags:  nostr.TagMap{"p": []string{"botpk"}},
	}
	data, err := EncodeReq("sub1", filter)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &parts))
	require.Len(t, parts, 3)
	assert.JSONEq(t, `"REQ"`, string(parts[0]))
	assert.JSONEq(t, `"sub1"`, string(parts[1]))
	assert.JSONEq(t, `{"kinds":[1],"#p":["botpk"]}`, string(parts[2]))
}

func TestEncodeEventAndClose(t *testing.T) {
	ev := nostr.Event{ID: "id", PubKey: "pk", Kind: 1, Content: "c", Tags: nostr.Tags{}}
	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &parts))
	require.Len(t, parts, 2)
	assert.JSONEq(t, `"EVENT"`, string(parts[0]))
	var back nostr.Event
	require.NoError(t, json.Unmarshal(parts[1], &back))
	assert.Equal(t, "id", back.ID)

	data, err = EncodeClose("sub1")
	require.NoError(t, err)
	assert.JSONEq(t, `["CLOSE","sub1"]`, string(data))
}

func TestVerifyEvent(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	ev := nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Content: "signed", Tags: nostr.Tags{}}
	require.NoError(t, ev.Sign(sk))
	assert.NoError(t, VerifyEvent(&ev))

	tampered := ev
	tampered.Content = "changed"
	assert.Error(t, VerifyEvent(&tampered))

	forged := ev
	forged.Content = "changed"
	forged.ID = forged.GetID()
	assert.Error(t, VerifyEvent(&forged))

	assert.Error(t, VerifyEvent(nil))
}
