package logstore

import (
	"encoding/json"
	"path"
	"strings"
)

// fontExtensions maps a URL extension to a file-type label when the
// response carries no usable content-type.
var fontExtensions = map[string]string{
	".woff":  "font",
	".woff2": "font",
	".ttf":   "font",
	".otf":   "font",
	".eot":   "font",
}

// classifyFileType implements classification order:
// response content-type first, then URL extension for fonts, then
// best-effort JSON sniffing of a string body.
func classifyFileType(contentType, requestURL string, body any) string {
	if ft, ok := fromContentType(contentType); ok {
		return ft
	}
	if ft, ok := fromExtension(requestURL); ok {
		return ft
	}
	if ft, ok := fromJSONSniff(body); ok {
		return ft
	}
	return "other"
}

func fromContentType(contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return "", false
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "application/json" || strings.HasSuffix(ct, "+json"):
		return "json", true
	case strings.HasPrefix(ct, "text/html"):
		return "html", true
	case strings.HasPrefix(ct, "text/css"):
		return "css", true
	case strings.Contains(ct, "javascript") || ct == "application/ecmascript":
		return "javascript", true
	case strings.HasPrefix(ct, "image/"):
		return "image", true
	case strings.HasPrefix(ct, "font/") || strings.Contains(ct, "font-woff") || ct == "application/font-woff":
		return "font", true
	case strings.HasPrefix(ct, "video/"):
		return "video", true
	case strings.HasPrefix(ct, "audio/"):
		return "audio", true
	case ct == "text/plain":
		return "text", true
	default:
		return "", false
	}
}

func fromExtension(requestURL string) (string, bool) {
	if requestURL == "" {
		return "", false
	}
	ext := strings.ToLower(path.Ext(requestURL))
	if ft, ok := fontExtensions[ext]; ok {
		return ft, true
	}
	return "", false
}

func fromJSONSniff(body any) (string, bool) {
	s, ok := body.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if s[0] != '{' && s[0] != '[' {
		return "", false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return "", false
	}
	return "json", true
}
