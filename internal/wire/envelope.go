package wire

import (
	"encoding/binary"
	"fmt"
)

// Envelope flag bits.
const (
	FlagCompressed byte = 1 << 0
	FlagEndStream  byte = 1 << 1
	flagsMask           = FlagCompressed | FlagEndStream
)

// Frame is one decoded Connect/gRPC envelope frame: a 1-byte flags field,
// a 4-byte big-endian length, and that many bytes of (possibly compressed)
// payload.
type Frame struct {
	Flags   byte
	Payload []byte
}

func (f Frame) Compressed() bool { return f.Flags&FlagCompressed != 0 }
func (f Frame) EndStream() bool  { return f.Flags&FlagEndStream != 0 }

// SplitFrames parses buf into a sequence of envelope frames. It returns an
// error if the framing doesn't parse exactly (trailing bytes, truncated
// header/payload, or a flags byte with any of its upper 6 bits set).
func SplitFrames(buf []byte) ([]Frame, error) {
	var frames []Frame
	for len(buf) > 0 {
		if len(buf) < 5 {
			return nil, fmt.Errorf("wire: truncated envelope header (%d bytes left)", len(buf))
		}
		flags := buf[0]
		if flags&^flagsMask != 0 {
			return nil, fmt.Errorf("wire: invalid envelope flags 0x%02x", flags)
		}
		length := binary.BigEndian.Uint32(buf[1:5])
		if uint64(len(buf)-5) < uint64(length) {
			return nil, fmt.Errorf("wire: truncated envelope payload: need %d, have %d", length, len(buf)-5)
		}
		payload := buf[5 : 5+length]
		frames = append(frames, Frame{Flags: flags, Payload: append([]byte(nil), payload...)})
		buf = buf[5+length:]
	}
	return frames, nil
}

// LooksLikeEnvelope reports whether buf parses exactly as a sequence of
// envelope frames per the heuristic in repeated (flags,
// length) parsing consumes the buffer exactly, and every flags byte has
// its upper 6 bits clear. An empty buffer does not look like an envelope.
func LooksLikeEnvelope(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	_, err := SplitFrames(buf)
	return err == nil
}

// BuildFrames reassembles a sequence of frames into envelope bytes.
func BuildFrames(frames []Frame) []byte {
	var out []byte
	for _, f := range frames {
		var header [5]byte
		header[0] = f.Flags
		binary.BigEndian.PutUint32(header[1:5], uint32(len(f.Payload)))
		out = append(out, header[:]...)
		out = append(out, f.Payload...)
	}
	return out
}
