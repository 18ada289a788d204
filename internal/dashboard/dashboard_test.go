package dashboard

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/rules"
)

func newTestDashboard(t *testing.T) *Dashboard {
	t.Helper()
	dir := t.TempDir()

	store, err := rules.New(rules.Options{
		EditRulesPath:   dir + "/edit.json",
		BlockRulesPath:  dir + "/block.json",
		FilterRulesPath: dir + "/filter.json",
		ResourcesPath:   dir + "/resources.json",
		ResourcesDir:    dir,
	})
	if err != nil {
		t.Fatal(err)
	}

	toggles, err := config.NewToggleStore(dir + "/toggles.json")
	if err != nil {
		t.Fatal(err)
	}

	logs := logstore.New(logstore.Options{MaxEntries: 100})
	t.Cleanup(func() { logs.Close() })

	return New(Options{Rules: store, Logs: logs, Toggles: toggles})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleConfigReturnsCurrentToggles(t *testing.T) {
	d := newTestDashboard(t)
	rec := doJSON(t, d.APIHandler(), http.MethodGet, "/api/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got config.Toggles
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.EditRulesEnabled {
		t.Errorf("expected default toggles to have edit rules enabled")
	}
}

func TestHandleToggleFlipsAndPersists(t *testing.T) {
	d := newTestDashboard(t)
	rec := doJSON(t, d.APIHandler(), http.MethodPost, "/api/edit-rules-mode", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := d.toggles.Current(); got.EditRulesEnabled {
		t.Errorf("expected EditRulesEnabled = false after toggle")
	}
}

func TestHandleFilterModeRejectsInvalidMode(t *testing.T) {
	d := newTestDashboard(t)
	rec := doJSON(t, d.APIHandler(), http.MethodPost, "/api/filter-mode", map[string]string{"mode": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleFilterModeSyncsStoreAndToggles(t *testing.T) {
	d := newTestDashboard(t)
	rec := doJSON(t, d.APIHandler(), http.MethodPost, "/api/filter-mode", map[string]string{"mode": "focus"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if d.rules.FilterMode() != rules.FilterFocus {
		t.Errorf("rule store filter mode = %q, want focus", d.rules.FilterMode())
	}
	if d.toggles.Current().FilterMode != rules.FilterFocus {
		t.Errorf("toggle store filter mode not synced")
	}
}

func TestHandleBlockedAddUpdateRemove(t *testing.T) {
	d := newTestDashboard(t)
	mux := d.APIHandler()

	rec := doJSON(t, mux, http.MethodPost, "/api/blocked", blockedRequest{URL: "ads.example.com", Name: "ads", Action: "add"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var added rules.BlockRule
	if err := json.Unmarshal(rec.Body.Bytes(), &added); err != nil {
		t.Fatal(err)
	}
	if added.ID == "" {
		t.Fatal("expected generated id")
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/blocked", nil)
	var list []rules.BlockRule
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 block rule, got %d", len(list))
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/blocked", blockedRequest{ID: added.ID, Action: "remove"})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(d.rules.Current().Block) != 0 {
		t.Errorf("expected block rule removed")
	}
}

func TestHandleEditRulesCreateAndDeleteByID(t *testing.T) {
	d := newTestDashboard(t)
	mux := d.APIHandler()

	rec := doJSON(t, mux, http.MethodPost, "/api/edit-rules", rules.EditRule{
		Name: "strip-token", Start: "token=", End: "&", Target: rules.TargetBoth, Enabled: true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out rules.EditRule
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.ID == "" {
		t.Fatal("expected generated id")
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/edit-rules/"+out.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(d.rules.ListEditRules()) != 0 {
		t.Errorf("expected edit rule removed")
	}
}

func TestHandleEditRuleByIDMissingSegmentIsBadRequest(t *testing.T) {
	d := newTestDashboard(t)
	rec := doJSON(t, d.APIHandler(), http.MethodDelete, "/api/edit-rules/", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleResourcesCreateToggleAndDelete(t *testing.T) {
	d := newTestDashboard(t)
	mux := d.APIHandler()

	body := base64.StdEncoding.EncodeToString([]byte("hello world"))
	rec := doJSON(t, mux, http.MethodPost, "/api/resources", map[string]any{
		"key": "https://example.com/app.js", "kind": "file", "filename": "app.js",
		"contentType": "text/javascript", "enabled": true, "body": body,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/resources/toggle", map[string]any{
		"key": "https://example.com/app.js", "enabled": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if d.rules.Current().Resources["https://example.com/app.js"].Enabled {
		t.Errorf("expected resource disabled after toggle")
	}

	encoded := "https%3A%2F%2Fexample.com%2Fapp.js"
	rec = doJSON(t, mux, http.MethodDelete, "/api/resources/"+encoded, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, ok := d.rules.Current().Resources["https://example.com/app.js"]; ok {
		t.Errorf("expected resource deleted")
	}
}

func TestHandleLogsFiltersAndClears(t *testing.T) {
	d := newTestDashboard(t)
	mux := d.APIHandler()

	d.logs.Insert(&logstore.Entry{Timestamp: time.Now(), Method: "GET", Host: "api.example.com", Path: "/v1/widgets", Source: logstore.SourceProxied})
	d.logs.Insert(&logstore.Entry{Timestamp: time.Now(), Method: "GET", Host: "assets.example.com", Path: "/app.js", Source: logstore.SourceDirect})

	rec := doJSON(t, mux, http.MethodGet, "/api/logs?source=proxied", nil)
	var entries []*logstore.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Host != "api.example.com" {
		t.Fatalf("unexpected filtered entries: %+v", entries)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/logs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/audit", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty audit feed after clear, got %d", len(entries))
	}
}

func TestHandleDashboardStatsAggregatesRoutes(t *testing.T) {
	d := newTestDashboard(t)
	d.logs.Insert(&logstore.Entry{Timestamp: time.Now(), Method: "GET", Host: "api.example.com", Path: "/v1/widgets",
		Source: logstore.SourceProxied, Metrics: logstore.Metrics{TotalDurationMs: 40}})

	rec := doJSON(t, d.APIHandler(), http.MethodGet, "/api/dashboard", nil)
	var stats dashboardStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Sources["proxied"] != 1 {
		t.Errorf("sources[proxied] = %d, want 1", stats.Sources["proxied"])
	}
	if len(stats.Routes) != 1 || stats.Routes[0].Host != "api.example.com" {
		t.Fatalf("unexpected routes: %+v", stats.Routes)
	}
}

func TestMethodNotAllowedSetsAllowHeader(t *testing.T) {
	d := newTestDashboard(t)
	rec := doJSON(t, d.APIHandler(), http.MethodPut, "/api/config", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodGet {
		t.Errorf("Allow header = %q", rec.Header().Get("Allow"))
	}
}
