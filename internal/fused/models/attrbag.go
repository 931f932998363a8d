package models

import (
	"strings"

	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// ValueKind tags the type of an attribute value. Attributes arrive from
// schemaless source systems; the tagged union keeps merge logic exhaustively
// checked instead of sprinkling type assertions over an untyped map.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindList   ValueKind = "list"
	KindBool   ValueKind = "bool"
)

// Value is one tagged attribute value.
type Value struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	List []string  `json:"list,omitempty"`
	Bool bool      `json:"bool,omitempty"`
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func ListValue(l []string) Value { return Value{Kind: KindList, List: l} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

// AsString flattens a value for scoring. Lists join with a space; booleans
// render as "true"/"false".
func (v Value) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindList:
		return strings.Join(v.List, " ")
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}

// MergeStrategy decides how per-source contributions collapse into one
// current value for an attribute.
type MergeStrategy string

const (
	// MergeFirst keeps the first source's value, in contribution order.
	MergeFirst MergeStrategy = "first"
	// MergeList collects every distinct value into a list.
	MergeList MergeStrategy = "list"
	// MergeConcatenate joins string values with a single space.
	MergeConcatenate MergeStrategy = "concatenate"
	// MergeSource keeps the value from one named source only.
	MergeSource MergeStrategy = "source"
)

// AttributeMergeRule binds one attribute to a merge strategy. Source is
// consulted only by MergeSource.
type AttributeMergeRule struct {
	Strategy MergeStrategy `json:"strategy"`
	Source   id.SourceID   `json:"source,omitempty"`
}

// SourceContribution is one source system's attribute snapshot, kept in the
// order sources were applied so order-sensitive merges are stable.
type SourceContribution struct {
	Source     id.SourceID      `json:"source"`
	Attributes map[string]Value `json:"attributes"`
}

// AttributeBag holds the four attribute views of a fused account.
type AttributeBag struct {
	// Current is the working view this pass computes.
	Current map[string]Value `json:"current"`
	// Previous snapshots the current view from the prior pass.
	Previous map[string]Value `json:"previous,omitempty"`
	// Identity carries the canonical identity's own attributes.
	Identity map[string]Value `json:"identity,omitempty"`
	// Contributions lists per-source attribute snapshots in apply order.
	Contributions []SourceContribution `json:"contributions,omitempty"`
}

// NewAttributeBag returns an empty bag with the current view allocated.
func NewAttributeBag() AttributeBag {
	return AttributeBag{Current: make(map[string]Value)}
}

// Snapshot moves the current view into previous and starts a fresh current
// view. Called once at the start of each resolution pass.
func (b *AttributeBag) Snapshot() {
	b.Previous = b.Current
	b.Current = make(map[string]Value)
}

// Contribute appends (or replaces) one source's attribute snapshot.
func (b *AttributeBag) Contribute(source id.SourceID, attrs map[string]Value) {
	for i := range b.Contributions {
		if b.Contributions[i].Source == source {
			b.Contributions[i].Attributes = attrs
			return
		}
	}
	b.Contributions = append(b.Contributions, SourceContribution{Source: source, Attributes: attrs})
}

// MergeAttribute recomputes the current value of one attribute from the
// per-source contributions under the given strategy. The source argument is
// consulted only by MergeSource.
func (b *AttributeBag) MergeAttribute(name string, strategy MergeStrategy, source id.SourceID) error {
	switch strategy {
	case MergeFirst:
		for _, c := range b.Contributions {
			if v, ok := c.Attributes[name]; ok {
				b.Current[name] = v
				return nil
			}
		}
		return nil
	case MergeList:
		var list []string
		seen := make(map[string]bool)
		for _, c := range b.Contributions {
			v, ok := c.Attributes[name]
			if !ok {
				continue
			}
			for _, item := range valueItems(v) {
				if !seen[item] {
					seen[item] = true
					list = append(list, item)
				}
			}
		}
		if list != nil {
			b.Current[name] = ListValue(list)
		}
		return nil
	case MergeConcatenate:
		var parts []string
		for _, c := range b.Contributions {
			if v, ok := c.Attributes[name]; ok {
				parts = append(parts, v.AsString())
			}
		}
		if parts != nil {
			b.Current[name] = StringValue(strings.Join(parts, " "))
		}
		return nil
	case MergeSource:
		for _, c := range b.Contributions {
			if c.Source != source {
				continue
			}
			if v, ok := c.Attributes[name]; ok {
				b.Current[name] = v
			}
			return nil
		}
		return nil
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown merge strategy %q for attribute %q", strategy, name)
	}
}

// CurrentStrings flattens the current view for the matcher.
func (b *AttributeBag) CurrentStrings() map[string]string {
	out := make(map[string]string, len(b.Current))
	for k, v := range b.Current {
		out[k] = v.AsString()
	}
	return out
}

func valueItems(v Value) []string {
	if v.Kind == KindList {
		return v.List
	}
	return []string{v.AsString()}
}
