package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Packet{Kind: KindResult, Payload: []byte("hello result")}

	require.NoError(t, Write(&buf, want))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Packet{Kind: KindNodeShutdown}))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindNodeShutdown, got.Kind)
	assert.Empty(t, got.Payload)
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	// Hand-craft a header claiming a payload far larger than anything a
	// real peer would ever send, without actually allocating or sending
	// that many bytes.
	buf := bytes.NewBuffer([]byte{byte(KindResult), 0xFF, 0xFF, 0xFF, 0x7F})
	_, err := Read(buf)
	assert.Error(t, err)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindRequestBlocker.Valid())
	assert.True(t, KindLogMessage.Valid())
	assert.False(t, Kind(200).Valid())
}
