package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headsoccer/matchserver/internal/events"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec()
	frame, err := c.Encode(events.TypeChatMessage, map[string]any{"message": "hi"}, 12345)
	require.NoError(t, err)

	t2, payload, ts, err := c.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, events.TypeChatMessage, t2)
	assert.Equal(t, "hi", payload["message"])
	assert.Equal(t, int64(12345), ts)
}

func TestDecodeRejectsMissingEventField(t *testing.T) {
	c := NewCodec()
	_, _, _, err := c.Decode([]byte(`{"data": {}, "ts": 1}`))
	assert.Error(t, err)
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	c := NewCodec()
	_, _, _, err := c.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeToleratesEmptyData(t *testing.T) {
	c := NewCodec()
	typ, payload, _, err := c.Decode([]byte(`{"event":"ping","ts":1}`))
	require.NoError(t, err)
	assert.Equal(t, events.Type("ping"), typ)
	assert.Empty(t, payload)
}
