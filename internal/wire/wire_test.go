package wire

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func buildSample() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("alpha"))
	return b
}

func TestParseEncodeRoundTrip(t *testing.T) {
	orig := buildSample()
	fields, err := ParseMessage(orig, DefaultMaxFields)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	got := EncodeMessage(fields)
	if !bytes.Equal(got, orig) {
		t.Errorf("round trip mismatch:\n got  %x\n want %x", got, orig)
	}
}

func TestProjectJSON(t *testing.T) {
	fields, err := ParseMessage(buildSample(), DefaultMaxFields)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	view := Project(fields, DefaultMaxFields, DefaultMaxBytes)
	if view["f1"] != uint64(42) {
		t.Errorf("f1 = %v, want 42", view["f1"])
	}
	if view["f2"] != "alpha" {
		t.Errorf("f2 = %v, want alpha", view["f2"])
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	frames := []Frame{
		{Flags: 0, Payload: buildSample()},
		{Flags: FlagEndStream, Payload: []byte("done")},
	}
	buf := BuildFrames(frames)
	if !LooksLikeEnvelope(buf) {
		t.Fatal("expected buffer to look like an envelope")
	}
	got, err := SplitFrames(buf)
	if err != nil {
		t.Fatalf("SplitFrames: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if !got[1].EndStream() {
		t.Error("expected second frame to have end-stream flag set")
	}
	if !bytes.Equal(BuildFrames(got), buf) {
		t.Error("re-encoding decoded frames should reproduce the original bytes")
	}
}

func TestEnvelopeRejectsBadFlags(t *testing.T) {
	buf := []byte{0xFF, 0, 0, 0, 0}
	if LooksLikeEnvelope(buf) {
		t.Error("buffer with invalid flags bits should not look like an envelope")
	}
}

func TestEnvelopeRejectsTruncated(t *testing.T) {
	buf := []byte{0, 0, 0, 0, 10, 1, 2, 3} // declares 10 bytes payload, only has 3
	if LooksLikeEnvelope(buf) {
		t.Error("truncated envelope should not look like an envelope")
	}
}
