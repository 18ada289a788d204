package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// Snapshot is the immutable, compiled view of the rule store at a point
// in time. Flows take a Snapshot reference at the start of processing and
// use it for the whole request/response lifecycle, keeping with the
// "readers take a snapshot reference at flow start" discipline.
type Snapshot struct {
	Text     []*CompiledText
	JSONPath []*CompiledJSONPath

	Block      []BlockRule
	BlockOn    bool
	FilterOn   bool
	FilterMode FilterMode
	Filters    []CompiledFilter

	Resources map[string]LocalResource
}

// CompiledFilter is a filter rule paired with its matcher classification,
// ready for the routing engine to test against a request context.
type CompiledFilter struct {
	Rule FilterRule
	Kind MatcherKind
	Glob glob.Glob // non-nil when Rule.Glob and it compiled
}

// MatcherKind distinguishes host-typed from path-typed filter matchers.
type MatcherKind int

const (
	MatcherHost MatcherKind = iota
	MatcherPath
)

// Store owns the persisted rule/resource state and the compiled caches
// derived from it. All mutation methods rebuild the snapshot and swap it
// atomically; Current() returns the live pointer for readers.
type Store struct {
	mu sync.RWMutex

	text     []TextRule
	jsonpath []JSONPathRule
	block    []BlockRule
	blockOn  bool

	filters    []FilterRule
	filterOn   bool
	filterMode FilterMode

	resources map[string]LocalResource

	snapshot *Snapshot

	textPath      string
	blockPath     string
	filterPath    string
	resourcesPath string
	resourcesDir  string
}

// Options configures where each persisted file lives on disk.
type Options struct {
	EditRulesPath   string
	BlockRulesPath  string
	FilterRulesPath string
	ResourcesPath   string
	ResourcesDir    string // sibling directory holding local-resource file bytes
}

// New loads all persisted rule/resource files (missing files are not
// errors — they start empty) and compiles the initial snapshot.
func New(opts Options) (*Store, error) {
	s := &Store{
		textPath:      opts.EditRulesPath,
		blockPath:     opts.BlockRulesPath,
		filterPath:    opts.FilterRulesPath,
		resourcesPath: opts.ResourcesPath,
		resourcesDir:  opts.ResourcesDir,
		resources:     map[string]LocalResource{},
		blockOn:       true,
		filterOn:      true,
		filterMode:    FilterIgnore,
	}
	if err := s.reloadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the live, compiled snapshot. Safe for concurrent use;
// the returned pointer is never mutated in place.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// ListEditRules returns every text and jsonPath rule in the unified
// EditRule shape persisted to disk, regardless of enabled state — used by
// the REST boundary's GET /api/edit-rules.
func (s *Store) ListEditRules() []EditRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EditRule, 0, len(s.text)+len(s.jsonpath))
	for _, r := range s.text {
		out = append(out, EditRule{Kind: KindText, ID: r.ID, Name: r.Name, Enabled: r.Enabled,
			Start: r.Start, End: r.End, Replacement: r.Replacement, UseRegex: r.UseRegex,
			CaseSensitive: r.CaseSensitive, URLPattern: r.URLPattern, Target: r.Target})
	}
	for _, r := range s.jsonpath {
		out = append(out, EditRule{Kind: KindJSONPath, ID: r.ID, Name: r.Name, Enabled: r.Enabled,
			URLPattern: r.URLPattern, Path: r.Path, Value: r.Value, ValueType: r.ValueType, Target: r.Target})
	}
	return out
}

// ListFilterRules returns every filter rule regardless of the store's
// current FilterMode — Snapshot.Filters only carries the subset matching
// the active mode, which isn't enough for a full listing endpoint.
func (s *Store) ListFilterRules() []FilterRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FilterRule(nil), s.filters...)
}

// FilterMode returns the store's currently active filter mode.
func (s *Store) FilterMode() FilterMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterMode
}

// Reload re-reads every persisted rule/resource file from disk and
// recompiles the snapshot. Exported for the fsnotify watcher
// (internal/config) to call when a file changes externally.
func (s *Store) Reload() error {
	return s.reloadAll()
}

// reloadAll re-reads every persisted file from disk. Used at startup and
// by the fsnotify watcher (internal/config) when files change externally.
func (s *Store) reloadAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edit, err := loadEditRules(s.textPath)
	if err != nil {
		return err
	}
	s.text, s.jsonpath = splitEditRules(edit)

	block, err := loadJSONFile[[]BlockRule](s.blockPath)
	if err != nil {
		return err
	}
	if block != nil {
		s.block = *block
	}

	type filterFile struct {
		Mode  FilterMode   `json:"mode"`
		Rules []FilterRule `json:"rules"`
	}
	ff, err := loadJSONFile[filterFile](s.filterPath)
	if err != nil {
		return err
	}
	if ff != nil {
		s.filters = ff.Rules
		if ff.Mode != "" {
			s.filterMode = ff.Mode
		}
	}

	res, err := loadJSONFile[map[string]LocalResource](s.resourcesPath)
	if err != nil {
		return err
	}
	if res != nil {
		for k, v := range *res {
			v.Key = k
			s.resources[k] = v
		}
	}

	s.rebuildLocked()
	return nil
}

// rebuildLocked recompiles the snapshot from current in-memory state.
// Caller must hold s.mu for writing.
func (s *Store) rebuildLocked() {
	snap := &Snapshot{
		Block:      append([]BlockRule(nil), s.block...),
		BlockOn:    s.blockOn,
		FilterOn:   s.filterOn,
		FilterMode: s.filterMode,
		Resources:  make(map[string]LocalResource, len(s.resources)),
	}

	for _, r := range s.text {
		ct, err := CompileText(r)
		if err != nil {
			slog.Warn("skipping invalid text rule", "id", r.ID, "error", err)
			continue
		}
		snap.Text = append(snap.Text, ct)
	}

	for _, r := range s.jsonpath {
		snap.JSONPath = append(snap.JSONPath, CompileJSONPath(r))
	}

	for _, f := range s.filters {
		if f.Mode != s.filterMode {
			continue
		}
		cf := CompiledFilter{Rule: f, Kind: classifyMatcher(f.URL)}
		if f.Glob {
			if g, err := glob.Compile(f.URL); err == nil {
				cf.Glob = g
			} else {
				slog.Warn("invalid glob pattern on filter rule, falling back to substring", "id", f.ID, "error", err)
			}
		}
		snap.Filters = append(snap.Filters, cf)
	}

	for k, v := range s.resources {
		snap.Resources[k] = v
	}

	s.snapshot = snap
}

// classifyMatcher applies heuristic: a pattern containing
// "." but no "/" or ":" is a host pattern; everything else is path-typed.
func classifyMatcher(pattern string) MatcherKind {
	hasDot := contains(pattern, ".")
	hasSlash := contains(pattern, "/")
	hasColon := contains(pattern, ":")
	if hasDot && !hasSlash && !hasColon {
		return MatcherHost
	}
	return MatcherPath
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func splitEditRules(edit []EditRule) ([]TextRule, []JSONPathRule) {
	var text []TextRule
	var jp []JSONPathRule
	for _, e := range edit {
		switch e.Kind {
		case KindJSONPath:
			jp = append(jp, JSONPathRule{
				ID: e.ID, Name: e.Name, Enabled: e.Enabled,
				URLPattern: e.URLPattern, Path: e.Path, Value: e.Value,
				ValueType: normalizeValueType(e.ValueType), Target: normalizeTarget(e.Target, TargetRequest),
			})
		default:
			text = append(text, TextRule{
				ID: e.ID, Name: e.Name, Enabled: e.Enabled,
				Start: e.Start, End: e.End, Replacement: e.Replacement,
				UseRegex: e.UseRegex, CaseSensitive: e.CaseSensitive,
				URLPattern: e.URLPattern, Target: normalizeTarget(e.Target, TargetBoth),
			})
		}
	}
	return text, jp
}

func normalizeTarget(t Target, def Target) Target {
	switch t {
	case TargetRequest, TargetResponse, TargetBoth:
		return t
	default:
		return def
	}
}

func normalizeValueType(v ValueType) ValueType {
	switch v {
	case ValueString, ValueNumber, ValueBoolean, ValueNull:
		return v
	default:
		return ValueString
	}
}

func loadEditRules(path string) ([]EditRule, error) {
	raw, err := loadJSONFile[[]EditRule](path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	out := make([]EditRule, 0, len(*raw))
	for _, e := range *raw {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Kind != KindJSONPath {
			e.Kind = KindText
		}
		out = append(out, e)
	}
	return out, nil
}

func loadJSONFile[T any](path string) (*T, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &v, nil
}

func saveJSONFile(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
