// Package wire implements the low-level protobuf wire-format parsing and
// Connect/gRPC envelope framing used by the rewrite engine to edit
// structured bodies in flight.
//
// Varint decoding and canonical re-encoding are delegated to
// google.golang.org/protobuf/encoding/protowire rather than hand-rolled,
// since it already implements the exact wire-type table this component
// needs (varint, 64-bit, length-delimited, 32-bit) and its canonical
// encoding matches "(field << 3) | wireType" byte for byte.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Default limits; overridable by config (see internal/config).
const (
	DefaultMaxFields = 10000
	DefaultMaxBytes  = 8 * 1024 * 1024
	MaxDepth         = 4
)

// Field is one decoded top-level (tag, value) pair from a protobuf message.
// Raw holds the encoded value bytes exactly as they appeared on the wire
// (without the tag), so re-encoding an untouched field is a pure copy.
type Field struct {
	Number protowire.Number
	Type   protowire.Type
	Raw    []byte // varint: the varint bytes; fixed32/64: the fixed bytes; bytes: the payload (no length prefix)
}

// ParseMessage decodes buf into a sequence of top-level fields. It stops
// and returns an error on malformed input (truncated varint, unknown wire
// type, length-delimited field running past the end of buf). maxFields
// bounds how many fields will be parsed before giving up, guarding against
// adversarially large field counts.
func ParseMessage(buf []byte, maxFields int) ([]Field, error) {
	if maxFields <= 0 {
		maxFields = DefaultMaxFields
	}
	var fields []Field
	for len(buf) > 0 {
		if len(fields) >= maxFields {
			return nil, fmt.Errorf("wire: exceeded max field count %d", maxFields)
		}
		num, typ, tagLen := protowire.ConsumeTag(buf)
		if tagLen < 0 {
			return nil, fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(tagLen))
		}
		buf = buf[tagLen:]

		var raw []byte
		var valLen int
		switch typ {
		case protowire.VarintType:
			_, valLen = protowire.ConsumeVarint(buf)
			if valLen < 0 {
				return nil, fmt.Errorf("wire: invalid varint: %w", protowire.ParseError(valLen))
			}
			raw = buf[:valLen]
		case protowire.Fixed64Type:
			_, valLen = protowire.ConsumeFixed64(buf)
			if valLen < 0 {
				return nil, fmt.Errorf("wire: invalid fixed64: %w", protowire.ParseError(valLen))
			}
			raw = buf[:valLen]
		case protowire.BytesType:
			var payload []byte
			payload, valLen = protowire.ConsumeBytes(buf)
			if valLen < 0 {
				return nil, fmt.Errorf("wire: invalid length-delimited field: %w", protowire.ParseError(valLen))
			}
			raw = payload
		case protowire.Fixed32Type:
			_, valLen = protowire.ConsumeFixed32(buf)
			if valLen < 0 {
				return nil, fmt.Errorf("wire: invalid fixed32: %w", protowire.ParseError(valLen))
			}
			raw = buf[:valLen]
		default:
			return nil, fmt.Errorf("wire: unsupported wire type %d for field %d", typ, num)
		}

		fields = append(fields, Field{Number: num, Type: typ, Raw: append([]byte(nil), raw...)})
		buf = buf[valLen:]
	}
	return fields, nil
}

// EncodeMessage re-encodes fields into canonical protobuf bytes: each
// field is written as AppendTag(number, type) followed by its raw value
// bytes, re-wrapped with a length prefix for BytesType fields.
func EncodeMessage(fields []Field) []byte {
	var out []byte
	for _, f := range fields {
		out = protowire.AppendTag(out, f.Number, f.Type)
		switch f.Type {
		case protowire.BytesType:
			out = protowire.AppendBytes(out, f.Raw)
		default:
			out = append(out, f.Raw...)
		}
	}
	return out
}

// VarintValue decodes a VarintType field's raw bytes into its uint64 value.
func VarintValue(f Field) (uint64, error) {
	if f.Type != protowire.VarintType {
		return 0, fmt.Errorf("wire: field %d is not a varint", f.Number)
	}
	v, n := protowire.ConsumeVarint(f.Raw)
	if n < 0 {
		return 0, fmt.Errorf("wire: corrupt varint on field %d", f.Number)
	}
	return v, nil
}

// EncodeVarintField builds a Field carrying v as a canonical varint.
func EncodeVarintField(num protowire.Number, v uint64) Field {
	return Field{Number: num, Type: protowire.VarintType, Raw: protowire.AppendVarint(nil, v)}
}

// EncodeBytesField builds a Field carrying payload as a length-delimited value.
func EncodeBytesField(num protowire.Number, payload []byte) Field {
	return Field{Number: num, Type: protowire.BytesType, Raw: payload}
}

// LooksLikeMessage reports whether buf parses cleanly as a non-empty
// protobuf message, consuming every byte. Used to decide whether a
// length-delimited field should be projected as a nested object.
func LooksLikeMessage(buf []byte, maxFields int) bool {
	if len(buf) == 0 {
		return false
	}
	fields, err := ParseMessage(buf, maxFields)
	if err != nil || len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if f.Number < 1 {
			return false
		}
	}
	return true
}
