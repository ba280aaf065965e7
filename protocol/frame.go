// Package protocol defines the JSON message schema vsocky exchanges with the
// host and the length-prefixed framing that carries it over a byte stream.
//
// A frame is a 4-byte big-endian payload length followed by the JSON payload.
// The framing layer knows nothing about JSON; it only bounds and delimits
// payloads.
package protocol

import (
	"encoding/binary"

	"github.com/valyala/bytebufferpool"
	"github.com/vsocky/vsocky/vsockerr"
)

const (
	headerSize = 4

	// MaxFrameSize bounds a single payload. A declared length beyond this
	// fails with message-too-large before any payload byte is buffered.
	MaxFrameSize = 10 << 20
)

// EncodeFrame prepends the length header to payload.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, vsockerr.MessageTooLarge
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

// FrameReader incrementally reassembles frames from a non-blocking byte
// stream. Feed it whatever each read produced, then drain completed payloads
// with Next. Not safe for concurrent use.
type FrameReader struct {
	header  [headerSize]byte
	headerN int
	need    int
	payload *bytebufferpool.ByteBuffer
	ready   [][]byte
}

func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed consumes p, which may contain any number of partial or complete
// frames. It fails with message-too-large as soon as a header declares an
// oversized payload; the stream cannot be resynchronized after that, so the
// caller should drop the connection.
func (r *FrameReader) Feed(p []byte) error {
	for len(p) > 0 {
		if r.headerN < headerSize {
			n := copy(r.header[r.headerN:], p)
			r.headerN += n
			p = p[n:]
			if r.headerN < headerSize {
				return nil
			}
			size := binary.BigEndian.Uint32(r.header[:])
			if size > MaxFrameSize {
				return vsockerr.MessageTooLarge
			}
			r.need = int(size)
			r.payload = bytebufferpool.Get()
		}

		take := r.need - r.payload.Len()
		if take > len(p) {
			take = len(p)
		}
		_, _ = r.payload.Write(p[:take])
		p = p[take:]

		if r.payload.Len() == r.need {
			frame := make([]byte, r.need)
			copy(frame, r.payload.B)
			r.ready = append(r.ready, frame)
			bytebufferpool.Put(r.payload)
			r.payload = nil
			r.headerN = 0
			r.need = 0
		}
	}
	return nil
}

// Next pops the oldest completed payload, if any.
func (r *FrameReader) Next() ([]byte, bool) {
	if len(r.ready) == 0 {
		return nil, false
	}
	frame := r.ready[0]
	r.ready = r.ready[1:]
	return frame, true
}

// Buffered reports how many bytes of an incomplete frame are currently held.
func (r *FrameReader) Buffered() int {
	if r.headerN < headerSize {
		return r.headerN
	}
	return headerSize + r.payload.Len()
}
