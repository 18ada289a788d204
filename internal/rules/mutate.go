package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// --- Edit rules (text + jsonPath) ---

// PutEditRule creates or updates an edit rule and rebuilds the compiled
// cache. A blank ID creates a new rule with a generated UUID.
func (s *Store) PutEditRule(e EditRule) (EditRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Kind != KindJSONPath {
		e.Kind = KindText
	}

	switch e.Kind {
	case KindJSONPath:
		r := JSONPathRule{ID: e.ID, Name: e.Name, Enabled: e.Enabled, URLPattern: e.URLPattern,
			Path: e.Path, Value: e.Value, ValueType: normalizeValueType(e.ValueType), Target: normalizeTarget(e.Target, TargetRequest)}
		replaced := false
		for i := range s.jsonpath {
			if s.jsonpath[i].ID == r.ID {
				s.jsonpath[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.jsonpath = append(s.jsonpath, r)
		}
	default:
		r := TextRule{ID: e.ID, Name: e.Name, Enabled: e.Enabled, Start: e.Start, End: e.End,
			Replacement: e.Replacement, UseRegex: e.UseRegex, CaseSensitive: e.CaseSensitive,
			URLPattern: e.URLPattern, Target: normalizeTarget(e.Target, TargetBoth)}
		if r.Start == "" && r.End == "" {
			return EditRule{}, fmt.Errorf("text rule must set start and/or end")
		}
		replaced := false
		for i := range s.text {
			if s.text[i].ID == r.ID {
				s.text[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.text = append(s.text, r)
		}
	}

	s.rebuildLocked()
	if err := s.persistEditRulesLocked(); err != nil {
		return EditRule{}, err
	}
	return e, nil
}

// DeleteEditRule removes a text or jsonPath rule by ID.
func (s *Store) DeleteEditRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.text) + len(s.jsonpath)
	s.text = filterOut(s.text, func(r TextRule) bool { return r.ID == id })
	s.jsonpath = filterOut(s.jsonpath, func(r JSONPathRule) bool { return r.ID == id })
	if len(s.text)+len(s.jsonpath) == before {
		return fmt.Errorf("edit rule %q not found", id)
	}

	s.rebuildLocked()
	return s.persistEditRulesLocked()
}

func (s *Store) persistEditRulesLocked() error {
	combined := make([]EditRule, 0, len(s.text)+len(s.jsonpath))
	for _, r := range s.text {
		combined = append(combined, EditRule{Kind: KindText, ID: r.ID, Name: r.Name, Enabled: r.Enabled,
			Start: r.Start, End: r.End, Replacement: r.Replacement, UseRegex: r.UseRegex,
			CaseSensitive: r.CaseSensitive, URLPattern: r.URLPattern, Target: r.Target})
	}
	for _, r := range s.jsonpath {
		combined = append(combined, EditRule{Kind: KindJSONPath, ID: r.ID, Name: r.Name, Enabled: r.Enabled,
			URLPattern: r.URLPattern, Path: r.Path, Value: r.Value, ValueType: r.ValueType, Target: r.Target})
	}
	return saveJSONFile(s.textPath, combined)
}

func filterOut[T any](items []T, match func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if !match(it) {
			out = append(out, it)
		}
	}
	return out
}

// --- Block rules ---

func (s *Store) SetBlockRulesEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockOn = on
	s.rebuildLocked()
}

// PutBlockRule adds (blank ID) or updates a block rule.
func (s *Store) PutBlockRule(r BlockRule) (BlockRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
		s.block = append(s.block, r)
	} else {
		found := false
		for i := range s.block {
			if s.block[i].ID == r.ID {
				s.block[i] = r
				found = true
				break
			}
		}
		if !found {
			s.block = append(s.block, r)
		}
	}

	s.rebuildLocked()
	if err := saveJSONFile(s.blockPath, s.block); err != nil {
		return BlockRule{}, err
	}
	return r, nil
}

func (s *Store) DeleteBlockRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.block)
	s.block = filterOut(s.block, func(r BlockRule) bool { return r.ID == id })
	if len(s.block) == before {
		return fmt.Errorf("block rule %q not found", id)
	}
	s.rebuildLocked()
	return saveJSONFile(s.blockPath, s.block)
}

// --- Filter rules ---

func (s *Store) SetFilterRulesEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterOn = on
	s.rebuildLocked()
}

func (s *Store) SetFilterMode(mode FilterMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterMode = mode
	s.rebuildLocked()
	_ = s.persistFiltersLocked()
}

func (s *Store) PutFilterRule(r FilterRule) (FilterRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
		s.filters = append(s.filters, r)
	} else {
		found := false
		for i := range s.filters {
			if s.filters[i].ID == r.ID {
				s.filters[i] = r
				found = true
				break
			}
		}
		if !found {
			s.filters = append(s.filters, r)
		}
	}

	s.rebuildLocked()
	if err := s.persistFiltersLocked(); err != nil {
		return FilterRule{}, err
	}
	return r, nil
}

func (s *Store) DeleteFilterRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.filters)
	s.filters = filterOut(s.filters, func(r FilterRule) bool { return r.ID == id })
	if len(s.filters) == before {
		return fmt.Errorf("filter rule %q not found", id)
	}
	s.rebuildLocked()
	return s.persistFiltersLocked()
}

func (s *Store) persistFiltersLocked() error {
	type filterFile struct {
		Mode  FilterMode   `json:"mode"`
		Rules []FilterRule `json:"rules"`
	}
	return saveJSONFile(s.filterPath, filterFile{Mode: s.filterMode, Rules: s.filters})
}

// --- Local resources ---

// PutResource registers (or replaces) a local override. body is the raw
// content for kind=file; for kind=text, Text on the struct already holds
// the content and body may be nil.
func (s *Store) PutResource(key string, r LocalResource, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Key = key
	r.CreatedAt = timeNowIfZero(r.CreatedAt)

	if r.Kind == ResourceFile && len(body) > 0 {
		if s.resourcesDir == "" {
			return fmt.Errorf("resources directory not configured")
		}
		if err := os.MkdirAll(s.resourcesDir, 0o755); err != nil {
			return fmt.Errorf("creating resources dir: %w", err)
		}
		path := filepath.Join(s.resourcesDir, sanitizeFilename(key))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return fmt.Errorf("writing resource body: %w", err)
		}
		r.Size = int64(len(body))
	} else if r.Kind == ResourceText {
		r.Size = int64(len(r.Text))
	}

	s.resources[key] = r
	s.rebuildLocked()
	return s.persistResourcesLocked()
}

func (s *Store) ToggleResource(key string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[key]
	if !ok {
		return fmt.Errorf("local resource %q not found", key)
	}
	r.Enabled = enabled
	s.resources[key] = r
	s.rebuildLocked()
	return s.persistResourcesLocked()
}

func (s *Store) DeleteResource(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[key]; !ok {
		return fmt.Errorf("local resource %q not found", key)
	}
	delete(s.resources, key)
	if s.resourcesDir != "" {
		_ = os.Remove(filepath.Join(s.resourcesDir, sanitizeFilename(key)))
	}
	s.rebuildLocked()
	return s.persistResourcesLocked()
}

// ResourceBody reads a file-kind resource's bytes from disk.
func (s *Store) ResourceBody(key string) ([]byte, error) {
	s.mu.RLock()
	r, ok := s.resources[key]
	dir := s.resourcesDir
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("local resource %q not found", key)
	}
	if r.Kind == ResourceText {
		return []byte(r.Text), nil
	}
	if dir == "" {
		return nil, fmt.Errorf("resources directory not configured")
	}
	return os.ReadFile(filepath.Join(dir, sanitizeFilename(key)))
}

func (s *Store) persistResourcesLocked() error {
	return saveJSONFile(s.resourcesPath, s.resources)
}

func sanitizeFilename(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func timeNowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
