// Package codec implements transparent decompression and recompression of
// HTTP and Connect/gRPC body payloads so the rewrite engine can inspect and
// edit them without breaking the wire-level content encoding.
//
// Supported encodings: identity, gzip/x-gzip, deflate, br (brotli), zstd.
// zstd is optional — if the codec fails to initialise at startup, zstd
// recompression is skipped silently and the affected bodies are left
// untouched.
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Encoding identifies a supported content/transfer encoding.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	Deflate  Encoding = "deflate"
	Brotli   Encoding = "br"
	Zstd     Encoding = "zstd"
)

// Normalize maps a raw Content-Encoding header value to a known Encoding.
// Unknown values pass through as Identity so callers default to a no-op.
func Normalize(headerValue string) Encoding {
	switch strings.ToLower(strings.TrimSpace(headerValue)) {
	case "gzip", "x-gzip":
		return Gzip
	case "deflate":
		return Deflate
	case "br":
		return Brotli
	case "zstd":
		return Zstd
	default:
		return Identity
	}
}

var (
	zstdOnce     sync.Once
	zstdEncoder  *zstd.Encoder
	zstdDecoder  *zstd.Decoder
	zstdInitErr  error
	zstdWarnOnce sync.Once
)

// initZstd lazily builds the shared zstd encoder/decoder pair. A single
// encoder/decoder is safe for concurrent use by the zstd package's design
// and avoids paying allocation cost per request.
func initZstd() error {
	zstdOnce.Do(func() {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			zstdInitErr = fmt.Errorf("initializing zstd encoder: %w", err)
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zstdInitErr = fmt.Errorf("initializing zstd decoder: %w", err)
			return
		}
		zstdEncoder = enc
		zstdDecoder = dec
	})
	return zstdInitErr
}

// ZstdAvailable reports whether the zstd codec initialised successfully.
// Rules that would require zstd recompression are skipped when this is
// false.
func ZstdAvailable() bool {
	if err := initZstd(); err != nil {
		zstdWarnOnce.Do(func() {
			slog.Warn("zstd codec unavailable, zstd rewrites disabled", "error", err)
		})
		return false
	}
	return true
}

// Decompress decodes buf according to enc. Identity returns buf itself,
// not a copy.
func Decompress(enc Encoding, buf []byte) ([]byte, error) {
	switch enc {
	case Identity, "":
		return buf, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case Deflate:
		r := flate.NewReader(bytes.NewReader(buf))
		defer r.Close()
		return io.ReadAll(r)
	case Brotli:
		r := brotli.NewReader(bytes.NewReader(buf))
		return io.ReadAll(r)
	case Zstd:
		if err := initZstd(); err != nil {
			return nil, err
		}
		return zstdDecoder.DecodeAll(buf, nil)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

// Compress encodes buf according to enc. Identity returns buf itself,
// not a copy.
// Returns (nil, errZstdUnavailable) when enc is Zstd and the codec failed
// to load — callers should fall back to leaving the original bytes alone.
func Compress(enc Encoding, buf []byte) ([]byte, error) {
	switch enc {
	case Identity, "":
		return buf, nil
	case Gzip:
		var out bytes.Buffer
		w := gzip.NewWriter(&out)
		if _, err := w.Write(buf); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return out.Bytes(), nil
	case Deflate:
		var out bytes.Buffer
		w, err := flate.NewWriter(&out, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		if _, err := w.Write(buf); err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return out.Bytes(), nil
	case Brotli:
		var out bytes.Buffer
		w := brotli.NewWriter(&out)
		if _, err := w.Write(buf); err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
		return out.Bytes(), nil
	case Zstd:
		if !ZstdAvailable() {
			return nil, errZstdUnavailable
		}
		return zstdEncoder.EncodeAll(buf, nil), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

var errZstdUnavailable = fmt.Errorf("zstd codec unavailable")

// ErrZstdUnavailable reports whether err is the zstd-unavailable sentinel,
// which callers use to decide whether to skip recompression silently.
func ErrZstdUnavailable(err error) bool {
	return err == errZstdUnavailable
}

// textLikeContentTypes lists content-type prefixes that shouldDecompress
// treats as textual or proto-like for inspection purposes.
var textLikeContentTypes = []string{
	"text/",
	"application/json",
	"application/xml",
	"application/javascript",
	"application/x-www-form-urlencoded",
	"application/grpc",
	"application/connect+",
	"application/proto",
	"application/x-protobuf",
	"application/vnd.google.protobuf",
}

// ShouldDecompress reports whether a body with the given Content-Type is
// worth decompressing for inspection/rewrite purposes.
func ShouldDecompress(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return false
	}
	// Strip charset/parameters.
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	for _, prefix := range textLikeContentTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// LogDecompressMaxBytes is a size cap for logging-only decompression, so a
// maliciously large or highly compressible body can't blow up memory just
// to populate a preview. It is a fixed constant: the separate
// LOG_DECOMPRESS_MAX_BYTES setting in internal/config does not change it,
// and no caller in this module applies it.
const LogDecompressMaxBytes = 10 * 1024 * 1024

// PrintableRatio returns the fraction of bytes in buf that are tab, CR,
// LF, or printable ASCII (0x20-0x7E). Used as a cheap text/binary
// discriminator.
func PrintableRatio(buf []byte) float64 {
	if len(buf) == 0 {
		return 1.0
	}
	printable := 0
	for _, b := range buf {
		if b == 0x09 || b == 0x0A || b == 0x0D || (b >= 0x20 && b <= 0x7E) {
			printable++
		}
	}
	return float64(printable) / float64(len(buf))
}

// Printable-ratio thresholds used across the codebase.
const (
	BinarySkipThreshold     = 0.30 // below this: treat as binary, skip text rewrite
	ProtoTextAcceptThreshold = 0.70 // above this: treat a length-delimited protobuf field as UTF-8 text
	PreviewKeepAsIsThreshold = 0.85 // above this: keep decoded text as-is for preview
)
