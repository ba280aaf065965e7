package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsocky/vsocky/vsockerr"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"ping"}`)
	frame, err := EncodeFrame(payload)
	require.NoError(t, err)
	assert.Len(t, frame, headerSize+len(payload))

	r := NewFrameReader()
	require.NoError(t, r.Feed(frame))

	got, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, payload, got)

	_, ok = r.Next()
	assert.False(t, ok)
}

func TestFrameReaderByteByByte(t *testing.T) {
	payload := []byte("hello frame")
	frame, err := EncodeFrame(payload)
	require.NoError(t, err)

	r := NewFrameReader()
	for i := range frame {
		require.NoError(t, r.Feed(frame[i:i+1]))
		if i < len(frame)-1 {
			_, ok := r.Next()
			assert.False(t, ok, "frame completed early at byte %d", i)
		}
	}

	got, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Zero(t, r.Buffered())
}

func TestFrameReaderMultipleFramesInOneFeed(t *testing.T) {
	var stream []byte
	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, p := range payloads {
		frame, err := EncodeFrame(p)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}
	// trailing partial header
	stream = append(stream, 0x00, 0x00)

	r := NewFrameReader()
	require.NoError(t, r.Feed(stream))

	for _, want := range payloads {
		got, ok := r.Next()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := r.Next()
	assert.False(t, ok)
	assert.Equal(t, 2, r.Buffered())
}

func TestFrameReaderEmptyPayload(t *testing.T) {
	frame, err := EncodeFrame(nil)
	require.NoError(t, err)

	r := NewFrameReader()
	require.NoError(t, r.Feed(frame))

	got, ok := r.Next()
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestFrameTooLarge(t *testing.T) {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)

	r := NewFrameReader()
	err := r.Feed(header)
	assert.True(t, errors.Is(err, vsockerr.MessageTooLarge))
}

func TestEncodeFrameTooLarge(t *testing.T) {
	_, err := EncodeFrame(make([]byte, MaxFrameSize+1))
	assert.True(t, errors.Is(err, vsockerr.MessageTooLarge))
}
