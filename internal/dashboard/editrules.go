package dashboard

import (
	"net/http"

	"github.com/relayforge/relayforge/internal/rules"
)

// handleEditRules serves GET /api/edit-rules (list) and POST /api/edit-rules
// (create; a blank id in the body creates a new rule).
func (d *Dashboard) handleEditRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, d.rules.ListEditRules())

	case http.MethodPost:
		var body rules.EditRule
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		out, err := d.rules.PutEditRule(body)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, out)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleEditRuleByID serves PUT and DELETE on /api/edit-rules/{id}.
func (d *Dashboard) handleEditRuleByID(w http.ResponseWriter, r *http.Request) {
	id := idFromPath(r.URL.Path, "/api/edit-rules/")
	if id == "" {
		writeErr(w, http.StatusBadRequest, errMissingID)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body rules.EditRule
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		body.ID = id
		out, err := d.rules.PutEditRule(body)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodDelete:
		if err := d.rules.DeleteEditRule(id); err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		methodNotAllowed(w, http.MethodPut, http.MethodDelete)
	}
}
