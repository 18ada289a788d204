// Package rules implements the persisted rule schemas (text rewrite,
// JSONPath rewrite, block, filter, local resource) and the compiler that
// turns them into the fast-path representations the rewrite and routing
// engines consume.
package rules

import "time"

// Target selects which side(s) of a flow a rule applies to.
type Target string

const (
	TargetRequest  Target = "request"
	TargetResponse Target = "response"
	TargetBoth     Target = "both"
)

// ValueType selects how a JSONPath rule's literal Value is coerced.
type ValueType string

const (
	ValueString  ValueType = "string"
	ValueNumber  ValueType = "number"
	ValueBoolean ValueType = "boolean"
	ValueNull    ValueType = "null"
)

// TextRule rewrites a literal or regex span of header/body text.
// Invariant: at least one of Start or End must be non-empty.
type TextRule struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Enabled       bool   `json:"enabled"`
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
	Replacement   string `json:"replacement"`
	UseRegex      bool   `json:"useRegex"`
	CaseSensitive bool   `json:"caseSensitive"`
	URLPattern    string `json:"urlPattern,omitempty"`
	Target        Target `json:"target"`
}

// JSONPathRule overwrites a single field reached by a dotted/[i] path
// expression. Inert (never matches) if URLPattern is empty or the path
// fails to compile.
type JSONPathRule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	URLPattern string    `json:"urlPattern"`
	Path       string    `json:"path"`
	Value      any       `json:"value"`
	ValueType  ValueType `json:"valueType"`
	Target     Target    `json:"target"`
}

// Kind disambiguates the unified persisted edit-rules array.
type Kind string

const (
	KindText     Kind = "text"
	KindJSONPath Kind = "jsonPath"
)

// EditRule is the unified on-disk representation of a text or jsonPath
// rule, disambiguated by Kind. Only the fields relevant to Kind are set.
type EditRule struct {
	Kind         Kind      `json:"kind"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	Start        string    `json:"start,omitempty"`
	End          string    `json:"end,omitempty"`
	Replacement  string    `json:"replacement,omitempty"`
	UseRegex     bool      `json:"useRegex,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
	URLPattern   string    `json:"urlPattern,omitempty"`
	Path         string    `json:"path,omitempty"`
	Value        any       `json:"value,omitempty"`
	ValueType    ValueType `json:"valueType,omitempty"`
	Target       Target    `json:"target"`
}

// BlockRule, when enabled, short-circuits a matching request to 204.
type BlockRule struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

// FilterMode selects whether FilterRules describe bypass ("ignore") or
// mediation-only ("focus") traffic.
type FilterMode string

const (
	FilterIgnore FilterMode = "ignore"
	FilterFocus  FilterMode = "focus"
)

// FilterRule contributes a host or path matcher to the bypass/focus set.
// Glob is a supplemental matching mode: when true, URL is compiled as a
// gobwas/glob pattern for host wildcards in addition to the mandatory
// substring match.
type FilterRule struct {
	ID      string     `json:"id"`
	Enabled bool       `json:"enabled"`
	Name    string     `json:"name"`
	URL     string     `json:"url"`
	Mode    FilterMode `json:"mode"`
	Glob    bool       `json:"glob,omitempty"`
}

// LocalResourceKind selects whether a local override serves a file from
// disk or an inline text body.
type LocalResourceKind string

const (
	ResourceFile LocalResourceKind = "file"
	ResourceText LocalResourceKind = "text"
)

// LocalResource is a local override served instead of forwarding upstream.
type LocalResource struct {
	Key         string            `json:"-"` // URL substring; map key, not serialized inside the value
	Kind        LocalResourceKind `json:"kind"`
	Filename    string            `json:"filename,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"createdAt"`
	Enabled     bool              `json:"enabled"`
	Text        string            `json:"text,omitempty"` // inline body for kind=text; kind=file bytes live on disk
}
