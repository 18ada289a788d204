package dashboard

import (
	"errors"
	"net/url"
	"strings"
)

var errMissingKey = errors.New("missing key")
var errMissingID = errors.New("missing id")

// decodePathSegment unescapes a URL path segment, used for the
// :encodedUrl suffix on /api/resources/:encodedUrl.
func decodePathSegment(s string) (string, error) {
	return url.PathUnescape(s)
}

// idFromPath extracts the trailing path segment after prefix: a plain
// path-plus-suffix mux idiom that avoids Go 1.22+ method/wildcard patterns.
func idFromPath(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}
