package dashboard

import (
	"errors"
	"net/http"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/rules"
)

var errInvalidFilterMode = errors.New(`mode must be "ignore" or "focus"`)

// handleConfig serves GET /api/config: the live toggle set
func (d *Dashboard) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, d.toggles.Current())
}

// handleToggle returns a handler for one of the five boolean per-feature
// toggle endpoints (`POST /api/{x}-mode {enabled: bool}`), each setting a
// different field via set.
func (d *Dashboard) handleToggle(set func(*config.Toggles, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if err := d.toggles.Mutate(func(t *config.Toggles) { set(t, body.Enabled) }); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, d.toggles.Current())
	}
}

// handleFilterMode serves GET|POST /api/filter-mode {mode: "ignore"|"focus"}.
// The mode lives in both the toggle store (what the UI reads back) and the
// rule store (what the routing/rewrite engines actually compile against);
// the two are kept in sync on every write.
func (d *Dashboard) handleFilterMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]rules.FilterMode{"mode": d.rules.FilterMode()})

	case http.MethodPost:
		var body struct {
			Mode rules.FilterMode `json:"mode"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if body.Mode != rules.FilterIgnore && body.Mode != rules.FilterFocus {
			writeErr(w, http.StatusBadRequest, errInvalidFilterMode)
			return
		}
		d.rules.SetFilterMode(body.Mode)
		if err := d.toggles.Mutate(func(t *config.Toggles) { t.FilterMode = body.Mode }); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]rules.FilterMode{"mode": body.Mode})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}
