package httpproxy

import (
	"net/http"
	"strings"

	"github.com/relayforge/relayforge/internal/rules"
)

// matchLocalResource implements the Local Resource lookup:
// key is a URL substring, tested against the request's candidate URLs.
// The longest matching key wins, so a more specific override (e.g. one
// full path) beats a broader one (e.g. just the host).
func matchLocalResource(resources map[string]rules.LocalResource, requestURL, fullURL string) (rules.LocalResource, bool) {
	var best rules.LocalResource
	found := false
	for key, r := range resources {
		if !r.Enabled || key == "" {
			continue
		}
		if strings.Contains(requestURL, key) || strings.Contains(fullURL, key) {
			if !found || len(key) > len(best.Key) {
				best = r
				found = true
			}
		}
	}
	return best, found
}

// serveLocalResource writes a local override directly to the client
// without contacting upstream.
func serveLocalResource(store *rules.Store, w http.ResponseWriter, r rules.LocalResource) error {
	body, err := store.ResourceBody(r.Key)
	if err != nil {
		return err
	}
	if r.ContentType != "" {
		w.Header().Set("Content-Type", r.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}
