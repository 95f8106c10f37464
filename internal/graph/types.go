package graph

import (
	"fmt"
	"time"
)

// NodeType identifies the kind of entity a node represents.
type NodeType string

const (
	NodeRepo        NodeType = "repo"
	NodeModule      NodeType = "module"
	NodeUser        NodeType = "user"
	NodeIssue       NodeType = "issue"
	NodePullRequest NodeType = "pull_request"
	NodeFile        NodeType = "file"
	NodeLabel       NodeType = "label"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeRepo, NodeModule, NodeUser, NodeIssue, NodePullRequest, NodeFile, NodeLabel:
		return true
	}
	return false
}

// EdgeType identifies the kind of relationship an edge represents.
type EdgeType string

const (
	EdgeAuthored      EdgeType = "AUTHORED"
	EdgeReviewed      EdgeType = "REVIEWED"
	EdgeTouches       EdgeType = "TOUCHES"
	EdgeFixes         EdgeType = "FIXES"
	EdgeHasLabel      EdgeType = "HAS_LABEL"
	EdgeContributesTo EdgeType = "CONTRIBUTES_TO"
	EdgeInRepo        EdgeType = "IN_REPO"
)

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeAuthored, EdgeReviewed, EdgeTouches, EdgeFixes, EdgeHasLabel, EdgeContributesTo, EdgeInRepo:
		return true
	}
	return false
}

// ValueKind tags the variant stored in a Value.
type ValueKind string

const (
	KindString  ValueKind = "string"
	KindNumber  ValueKind = "number"
	KindBool    ValueKind = "bool"
	KindTime    ValueKind = "time"
	KindStrings ValueKind = "strings"
)

// Value is a tagged union covering the closed set of attribute kinds the
// store accepts. Arbitrary nested structures are deliberately not
// representable.
type Value struct {
	Kind    ValueKind `json:"kind"`
	Str     string    `json:"str,omitempty"`
	Num     float64   `json:"num,omitempty"`
	Bool    bool      `json:"bool,omitempty"`
	Time    time.Time `json:"time,omitzero"`
	Strings []string  `json:"strings,omitempty"`
}

// String wraps a string attribute value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number wraps a numeric attribute value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Int wraps an integer attribute value.
func Int(i int) Value { return Value{Kind: KindNumber, Num: float64(i)} }

// Bool wraps a boolean attribute value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Time wraps a timestamp attribute value.
func Time(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// Strings wraps a list-of-string attribute value.
func Strings(ss []string) Value { return Value{Kind: KindStrings, Strings: ss} }

// AsString returns the string variant, or "" for other kinds.
func (v Value) AsString() string {
	if v.Kind == KindString {
		return v.Str
	}
	return ""
}

// AsInt returns the numeric variant truncated to int, or 0 for other kinds.
func (v Value) AsInt() int {
	if v.Kind == KindNumber {
		return int(v.Num)
	}
	return 0
}

// AsTime returns the timestamp variant, or the zero time for other kinds.
func (v Value) AsTime() time.Time {
	if v.Kind == KindTime {
		return v.Time
	}
	return time.Time{}
}

// AsStrings returns the list variant, or nil for other kinds.
func (v Value) AsStrings() []string {
	if v.Kind == KindStrings {
		return v.Strings
	}
	return nil
}

// Attrs is a string-keyed attribute map of tagged values.
type Attrs map[string]Value

// Node is a vertex in the activity graph. IDs are composite and
// human-decodable: "{type}#{natural-key}", e.g. "user#alice".
//
// Placeholder marks a stub emitted so an edge endpoint exists before the
// full record is ingested. Writers never overwrite an existing node with
// a placeholder; the flag itself is not persisted.
type Node struct {
	ID          string
	Type        NodeType
	Attrs       Attrs
	Placeholder bool
}

// Edge is a directed relationship between two nodes. The (From, To, Type)
// triple is the idempotency key: re-writing the same triple overwrites
// Props instead of duplicating the edge.
type Edge struct {
	From  string
	To    string
	Type  EdgeType
	Props Attrs
}

// Composite ID helpers. repoKey is "org/repo".

func RepoNodeID(org, repo string) string { return fmt.Sprintf("repo#%s/%s", org, repo) }

// RepoNodeIDFromKey builds the repo node ID from an "org/repo" key.
func RepoNodeIDFromKey(repoKey string) string { return "repo#" + repoKey }

func UserNodeID(login string) string { return fmt.Sprintf("user#%s", login) }

func PRNodeID(repoKey string, number int) string { return fmt.Sprintf("pr#%s#%d", repoKey, number) }

func FileNodeID(repoKey, path string) string { return fmt.Sprintf("file#%s#%s", repoKey, path) }

func IssueNodeID(repoKey string, number int) string {
	return fmt.Sprintf("issue#%s#%d", repoKey, number)
}

func LabelNodeID(repoKey, name string) string { return fmt.Sprintf("label#%s#%s", repoKey, name) }
