package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageOmitsNilPayload(t *testing.T) {
	msg, err := NewMessage(TypeQueueWaiting, nil)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"queue:waiting"}`, string(data))
}

func TestSignalPayloadStaysOpaque(t *testing.T) {
	in := `{"type":"signal","payload":{"description":{"type":"offer","sdp":"v=0","extra":1},"to":"p2"}}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(in), &msg))

	var sig SignalPayload
	require.NoError(t, msg.Decode(&sig))
	assert.Equal(t, "p2", sig.To)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0","extra":1}`, string(sig.Description))
	assert.Empty(t, sig.Candidate)
}

func TestTruthy(t *testing.T) {
	cases := map[string]bool{
		``:        false,
		`null`:    false,
		`false`:   false,
		`true`:    true,
		`0`:       false,
		`1`:       true,
		`""`:      false,
		`"yes"`:   true,
		`{}`:      true,
		`[]`:      true,
		`garbage`: false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Truthy(json.RawMessage(raw)), "payload %q", raw)
	}
}
