package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestURLMatchesBidirectional(t *testing.T) {
	if !URLMatches("ads.example.com", "http://ads.example.com/tag.js") {
		t.Error("expected pattern contained in candidate to match")
	}
	if !URLMatches("http://ads.example.com/tag.js", "ads.example.com") {
		t.Error("expected candidate contained in pattern to match")
	}
	if URLMatches("", "anything") {
		t.Error("empty pattern should never match")
	}
	if !URLMatches("ADS.EXAMPLE.COM", "ads.example.com/x") {
		t.Error("match should be case-insensitive")
	}
}

func TestCompileTextModes(t *testing.T) {
	cases := []struct {
		name string
		rule TextRule
		mode TextMode
	}{
		{"between", TextRule{ID: "1", Start: "a", End: "b"}, ModeBetween},
		{"prefix", TextRule{ID: "2", Start: "a"}, ModePrefix},
		{"suffix", TextRule{ID: "3", End: "b"}, ModeSuffix},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ct, err := CompileText(c.rule)
			if err != nil {
				t.Fatalf("CompileText: %v", err)
			}
			if ct.Mode != c.mode {
				t.Errorf("mode = %v, want %v", ct.Mode, c.mode)
			}
		})
	}

	if _, err := CompileText(TextRule{ID: "bad"}); err == nil {
		t.Error("expected error when both start and end are empty")
	}
}

func TestParsePath(t *testing.T) {
	cases := map[string][]PathSegment{
		"root.f2":         {{Key: "f2"}},
		"$.items[0].name": {{Key: "items"}, {Index: 0, IsIndex: true}, {Key: "name"}},
		"a.b[3]":          {{Key: "a"}, {Key: "b"}, {Index: 3, IsIndex: true}},
	}
	for path, want := range cases {
		got, err := parsePath(path)
		if err != nil {
			t.Fatalf("parsePath(%q): %v", path, err)
		}
		if len(got) != len(want) {
			t.Fatalf("parsePath(%q) = %+v, want %+v", path, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("parsePath(%q)[%d] = %+v, want %+v", path, i, got[i], want[i])
			}
		}
	}
}

func TestCompileJSONPathInert(t *testing.T) {
	c := CompileJSONPath(JSONPathRule{ID: "1", URLPattern: ""})
	if !c.Inert {
		t.Error("rule with empty URL pattern should be inert")
	}

	c2 := CompileJSONPath(JSONPathRule{ID: "2", URLPattern: "/svc", Path: ""})
	if !c2.Inert {
		t.Error("rule with empty path should be inert")
	}

	c3 := CompileJSONPath(JSONPathRule{ID: "3", URLPattern: "/svc", Path: "root.f2"})
	if c3.Inert {
		t.Error("well-formed rule should not be inert")
	}
}

func TestClassifyMatcher(t *testing.T) {
	if classifyMatcher("images.cdn.com") != MatcherHost {
		t.Error("dotted no-slash pattern should classify as host")
	}
	if classifyMatcher("/api/v1/foo") != MatcherPath {
		t.Error("path pattern should classify as path")
	}
	if classifyMatcher("images.cdn.com:8080") != MatcherPath {
		t.Error("pattern with colon should classify as path")
	}
}

func TestStoreCRUDRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{
		EditRulesPath:   filepath.Join(dir, "edit.json"),
		BlockRulesPath:  filepath.Join(dir, "block.json"),
		FilterRulesPath: filepath.Join(dir, "filter.json"),
		ResourcesPath:   filepath.Join(dir, "resources.json"),
		ResourcesDir:    filepath.Join(dir, "resource-bodies"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rule, err := s.PutEditRule(EditRule{Kind: KindText, Name: "redact user", Start: "\"user\":\"", End: "\"", Replacement: "\"admin\"", Enabled: true, Target: TargetRequest})
	if err != nil {
		t.Fatalf("PutEditRule: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("expected generated ID")
	}

	snap := s.Current()
	if len(snap.Text) != 1 {
		t.Fatalf("expected 1 compiled text rule, got %d", len(snap.Text))
	}

	if err := s.DeleteEditRule(rule.ID); err != nil {
		t.Fatalf("DeleteEditRule: %v", err)
	}
	if len(s.Current().Text) != 0 {
		t.Error("expected rule to be removed")
	}

	if _, err := os.Stat(filepath.Join(dir, "edit.json")); err != nil {
		t.Errorf("expected edit.json to be persisted: %v", err)
	}

	blk, err := s.PutBlockRule(BlockRule{Enabled: true, Name: "ads", URL: "ads.example.com"})
	if err != nil {
		t.Fatalf("PutBlockRule: %v", err)
	}
	if len(s.Current().Block) != 1 || s.Current().Block[0].ID != blk.ID {
		t.Error("expected block rule in snapshot")
	}

	if err := s.PutResource("example.com/api", LocalResource{Kind: ResourceText, Text: "hello", Enabled: true}, nil); err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	body, err := s.ResourceBody("example.com/api")
	if err != nil || string(body) != "hello" {
		t.Errorf("ResourceBody = %q, %v", body, err)
	}
}
