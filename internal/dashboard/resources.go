package dashboard

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/relayforge/relayforge/internal/rules"
)

// handleResources serves GET /api/resources (list) and POST /api/resources
// (create/replace). The POST body carries the resource fields plus an
// optional base64-encoded Body for kind=file uploads.
func (d *Dashboard) handleResources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, d.rules.Current().Resources)

	case http.MethodPost:
		var body struct {
			Key         string                  `json:"key"`
			Kind        rules.LocalResourceKind `json:"kind"`
			Filename    string                  `json:"filename"`
			ContentType string                  `json:"contentType"`
			Enabled     bool                    `json:"enabled"`
			Text        string                  `json:"text"`
			Body        string                  `json:"body"` // base64, kind=file only
		}
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if body.Key == "" {
			writeErr(w, http.StatusBadRequest, errMissingKey)
			return
		}

		var raw []byte
		if body.Kind == rules.ResourceFile && body.Body != "" {
			decoded, err := base64.StdEncoding.DecodeString(body.Body)
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			raw = decoded
		}

		res := rules.LocalResource{
			Kind:        body.Kind,
			Filename:    body.Filename,
			ContentType: body.ContentType,
			Enabled:     body.Enabled,
			Text:        body.Text,
		}
		if err := d.rules.PutResource(body.Key, res, raw); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, d.rules.Current().Resources[body.Key])

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleResourcesToggle serves POST /api/resources/toggle {key, enabled}.
func (d *Dashboard) handleResourcesToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var body struct {
		Key     string `json:"key"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := d.rules.ToggleResource(body.Key, body.Enabled); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, d.rules.Current().Resources[body.Key])
}

// handleResourceDelete serves DELETE /api/resources/:encodedUrl, where the
// key is the URL-escaped resource key appended after the route prefix.
func (d *Dashboard) handleResourceDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	encoded := strings.TrimPrefix(r.URL.Path, "/api/resources/")
	if encoded == "" {
		writeErr(w, http.StatusBadRequest, errMissingKey)
		return
	}
	key, err := decodePathSegment(encoded)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := d.rules.DeleteResource(key); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
