package codec

import (
	"bytes"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]Encoding{
		"gzip":    Gzip,
		"X-GZIP":  Gzip,
		"deflate": Deflate,
		"br":      Brotli,
		"zstd":    Zstd,
		"":        Identity,
		"weird":   Identity,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)

	for _, enc := range []Encoding{Identity, Gzip, Deflate, Brotli, Zstd} {
		enc := enc
		t.Run(string(enc), func(t *testing.T) {
			if enc == Zstd && !ZstdAvailable() {
				t.Skip("zstd codec unavailable")
			}
			compressed, err := Compress(enc, payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			decompressed, err := Decompress(enc, compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(decompressed, payload) {
				t.Errorf("round trip mismatch for %s", enc)
			}
		})
	}
}

func TestShouldDecompress(t *testing.T) {
	cases := map[string]bool{
		"application/json":             true,
		"application/json; charset=utf-8": true,
		"text/plain":                   true,
		"application/grpc+proto":       true,
		"application/connect+json":     true,
		"image/png":                    false,
		"":                             false,
	}
	for ct, want := range cases {
		if got := ShouldDecompress(ct); got != want {
			t.Errorf("ShouldDecompress(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestPrintableRatio(t *testing.T) {
	if r := PrintableRatio([]byte("hello world")); r != 1.0 {
		t.Errorf("expected 1.0, got %v", r)
	}
	binary := []byte{0x00, 0x01, 0x02, 0xFF, 0xFE}
	if r := PrintableRatio(binary); r >= BinarySkipThreshold {
		t.Errorf("expected low printable ratio for binary, got %v", r)
	}
	if r := PrintableRatio(nil); r != 1.0 {
		t.Errorf("expected 1.0 for empty buffer, got %v", r)
	}
}
