package dashboard

import (
	"fmt"
	"net/http"

	"github.com/relayforge/relayforge/internal/rules"
)

// blockedRequest is the POST /api/blocked body: an
// action-tagged upsert/delete, shared shape with /api/filters.
type blockedRequest struct {
	ID      string `json:"id,omitempty"`
	URL     string `json:"url,omitempty"`
	Name    string `json:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Action  string `json:"action"`
}

// handleBlocked serves GET /api/blocked (list) and POST /api/blocked
// (add|update|remove by action).
func (d *Dashboard) handleBlocked(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, d.rules.Current().Block)

	case http.MethodPost:
		var body blockedRequest
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}

		switch body.Action {
		case "add", "update":
			rule := rules.BlockRule{ID: body.ID, Name: body.Name, URL: body.URL, Enabled: true}
			if body.Enabled != nil {
				rule.Enabled = *body.Enabled
			}
			out, err := d.rules.PutBlockRule(rule)
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusOK, out)

		case "remove":
			if body.ID == "" {
				writeErr(w, http.StatusBadRequest, errMissingID)
				return
			}
			if err := d.rules.DeleteBlockRule(body.ID); err != nil {
				writeErr(w, http.StatusNotFound, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})

		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", body.Action))
		}

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}
