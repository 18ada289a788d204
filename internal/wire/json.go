package wire

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/relayforge/relayforge/internal/codec"
)

// Project builds the recursive JSON view of a decoded message described
// in field N becomes key "fN". Varints become numbers;
// length-delimited fields become a nested object (if they parse as a
// non-empty message), a UTF-8 string (if printable enough), or
// {base64, length}; fixed-width fields become {bytesHex, length}.
//
// maxFields/maxBytes bound the work done; depth is capped at MaxDepth.
func Project(fields []Field, maxFields, maxBytes int) map[string]any {
	return projectDepth(fields, maxFields, maxBytes, 0)
}

func projectDepth(fields []Field, maxFields, maxBytes, depth int) map[string]any {
	out := make(map[string]any, len(fields))
	byNumber := map[protowire.Number][]any{}
	order := []protowire.Number{}

	for _, f := range fields {
		v := projectField(f, maxFields, maxBytes, depth)
		if _, seen := byNumber[f.Number]; !seen {
			order = append(order, f.Number)
		}
		byNumber[f.Number] = append(byNumber[f.Number], v)
	}

	for _, num := range order {
		key := fmt.Sprintf("f%d", num)
		vals := byNumber[num]
		if len(vals) == 1 {
			out[key] = vals[0]
		} else {
			out[key] = vals
		}
	}
	return out
}

func projectField(f Field, maxFields, maxBytes, depth int) any {
	switch f.Type {
	case protowire.VarintType:
		v, err := VarintValue(f)
		if err != nil {
			return map[string]any{"bytesHex": hex.EncodeToString(f.Raw), "length": len(f.Raw)}
		}
		return v
	case protowire.Fixed32Type, protowire.Fixed64Type:
		return map[string]any{"bytesHex": hex.EncodeToString(f.Raw), "length": len(f.Raw)}
	case protowire.BytesType:
		if len(f.Raw) > maxBytes {
			return map[string]any{"base64": base64.StdEncoding.EncodeToString(nil), "length": len(f.Raw), "note": "payload exceeds size limit, omitted"}
		}
		if depth < MaxDepth && LooksLikeMessage(f.Raw, maxFields) {
			nested, err := ParseMessage(f.Raw, maxFields)
			if err == nil {
				return projectDepth(nested, maxFields, maxBytes, depth+1)
			}
		}
		if utf8.Valid(f.Raw) && codec.PrintableRatio(f.Raw) >= 0.5 {
			return string(f.Raw)
		}
		return map[string]any{"base64": base64.StdEncoding.EncodeToString(f.Raw), "length": len(f.Raw)}
	default:
		return map[string]any{"base64": base64.StdEncoding.EncodeToString(f.Raw), "length": len(f.Raw)}
	}
}
