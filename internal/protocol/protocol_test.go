package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceMonotonicity(t *testing.T) {
	c := New()
	_, err := c.DecodeText([]byte(`{"version":"2","type":"open","seq":1,"clientseq":0,"id":"u1","parameters":{}}`))
	require.NoError(t, err)

	first, err := c.EncodeOpened()
	require.NoError(t, err)
	second, err := c.EncodeResume()
	require.NoError(t, err)

	var m1, m2 Message
	require.NoError(t, json.Unmarshal(first, &m1))
	require.NoError(t, json.Unmarshal(second, &m2))

	assert.Equal(t, uint64(1), m1.Seq)
	assert.Equal(t, uint64(2), m2.Seq)
	assert.Equal(t, "u1", m1.ID)
	assert.Equal(t, uint64(1), m1.ClientSeq)
}

func TestDecodeTextMalformedIsProtocolError(t *testing.T) {
	c := New()
	_, err := c.DecodeText([]byte(`not json`))
	require.Error(t, err)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestDecodeBinaryOddLengthRejected(t *testing.T) {
	c := New()
	_, err := c.DecodeBinary([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeBinaryEvenLengthAccepted(t *testing.T) {
	c := New()
	frame, err := c.DecodeBinary([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, frame.Data)
}

func TestIsProbeDetectsAllZeroUUID(t *testing.T) {
	probe := &Message{Parameters: map[string]interface{}{"conversationId": DefaultConversationID}}
	real := &Message{Parameters: map[string]interface{}{"conversationId": "abc"}}
	assert.True(t, IsProbe(probe))
	assert.False(t, IsProbe(real))
}

func TestEncodeOpenedDeclaresMedia(t *testing.T) {
	c := New()
	raw, err := c.EncodeOpened()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, TypeOpened, msg.Type)
	assert.Equal(t, true, msg.Parameters["startPaused"])

	media, ok := msg.Parameters["media"].([]interface{})
	require.True(t, ok)
	require.Len(t, media, 1)
	item, ok := media[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "PCMU", item["format"])
	assert.Equal(t, float64(8000), item["rate"])
	assert.Equal(t, []interface{}{ChannelExternal, ChannelInternal}, item["channels"])
}
