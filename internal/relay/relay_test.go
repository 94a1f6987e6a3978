package relay

import (
	"encoding/json"
	"testing"

	"github.com/mossy-p/stranger-chat/internal/logging"
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	msgs []models.Message
	full bool
}

func (i *inbox) Deliver(msg models.Message) bool {
	if i.full {
		return false
	}
	i.msgs = append(i.msgs, msg)
	return true
}

type directory map[string]*inbox

func (d directory) Lookup(peerID string) (Endpoint, bool) {
	in, ok := d[peerID]
	if !ok {
		return nil, false
	}
	return in, true
}

func TestForwardSignalKeepsPayloadOpaque(t *testing.T) {
	dir := directory{"b": &inbox{}}
	r := New(dir, logging.Discard())

	desc := json.RawMessage(`{"type":"offer","sdp":"v=0 anything","extra":[1,2]}`)
	r.ForwardSignal("a", "b", models.SignalPayload{Description: desc, To: "b"})

	require.Len(t, dir["b"].msgs, 1)
	msg := dir["b"].msgs[0]
	assert.Equal(t, models.TypeSignal, msg.Type)

	var got models.SignalPayload
	require.NoError(t, msg.Decode(&got))
	assert.JSONEq(t, string(desc), string(got.Description))
	assert.Equal(t, "a", got.From)
	assert.Empty(t, got.To)
}

func TestForwardSignalSplitsDescriptorBeforeCandidate(t *testing.T) {
	dir := directory{"b": &inbox{}}
	r := New(dir, logging.Discard())

	r.ForwardSignal("a", "b", models.SignalPayload{
		Description: json.RawMessage(`{"type":"answer","sdp":"x"}`),
		Candidate:   json.RawMessage(`{"candidate":"c1"}`),
	})

	require.Len(t, dir["b"].msgs, 2)
	var first, second models.SignalPayload
	require.NoError(t, dir["b"].msgs[0].Decode(&first))
	require.NoError(t, dir["b"].msgs[1].Decode(&second))
	assert.NotEmpty(t, first.Description)
	assert.Empty(t, first.Candidate)
	assert.NotEmpty(t, second.Candidate)
}

func TestForwardDropsUnknownTarget(t *testing.T) {
	r := New(directory{}, logging.Discard())
	assert.False(t, r.Forward("a", "ghost", models.TypeVideoReady, nil))
}

func TestForwardDropsWhenBufferFull(t *testing.T) {
	dir := directory{"b": &inbox{full: true}}
	r := New(dir, logging.Discard())
	assert.False(t, r.Forward("a", "b", models.TypeChatMessage, models.ChatMessagePayload{Text: "hi"}))
}

func TestEchoReachesBothMembers(t *testing.T) {
	dir := directory{"a": &inbox{}, "b": &inbox{}}
	r := New(dir, logging.Discard())

	r.Echo("b", "a", models.TypeVideoAccept)

	require.Len(t, dir["a"].msgs, 1)
	require.Len(t, dir["b"].msgs, 1)
	assert.Equal(t, models.TypeVideoAccept, dir["a"].msgs[0].Type)
	assert.Equal(t, models.TypeVideoAccept, dir["b"].msgs[0].Type)
}
