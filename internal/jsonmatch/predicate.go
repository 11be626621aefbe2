// Package jsonmatch evaluates JSON predicates against event payloads.
//
// A predicate is either a boolean combinator (and, or, not) or a field
// matcher. A field matcher addresses a value by scope and key and tests it
// with a ValueMatcher:
//
//	{"and": [
//	  {"key": "plan", "value": {"equals": "pro"}},
//	  {"scope": ["cart"], "key": "total", "value": {"at_least": 10}}
//	]}
//
// An empty scope and key address the whole payload.
package jsonmatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Predicate is a node in a predicate tree. Exactly one of And, Or, Not or
// Value is set.
type Predicate struct {
	And []*Predicate `json:"and,omitempty"`
	Or  []*Predicate `json:"or,omitempty"`
	Not *Predicate   `json:"not,omitempty"`

	Scope      []string      `json:"scope,omitempty"`
	Key        string        `json:"key,omitempty"`
	Value      *ValueMatcher `json:"value,omitempty"`
	IgnoreCase bool          `json:"ignore_case,omitempty"`
}

// ValueMatcher tests a single JSON value. Every set field must hold.
type ValueMatcher struct {
	Equals       json.RawMessage `json:"equals,omitempty"`
	AtLeast      *float64        `json:"at_least,omitempty"`
	AtMost       *float64        `json:"at_most,omitempty"`
	IsPresent    *bool           `json:"is_present,omitempty"`
	StringBegins *string         `json:"string_begins,omitempty"`
	StringEnds   *string         `json:"string_ends,omitempty"`

	ArrayContains *ValueMatcher `json:"array_contains,omitempty"`
	Index         *int          `json:"index,omitempty"`
	ArrayLength   *ValueMatcher `json:"array_length,omitempty"`
}

// Parse decodes and validates a predicate document.
func Parse(data []byte) (*Predicate, error) {
	var p Predicate
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("jsonmatch: decode predicate: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the predicate tree is well formed.
func (p *Predicate) Validate() error {
	if p == nil {
		return nil
	}
	set := 0
	if p.And != nil {
		set++
	}
	if p.Or != nil {
		set++
	}
	if p.Not != nil {
		set++
	}
	if p.Value != nil {
		set++
	}
	switch {
	case set == 0:
		return errors.New("jsonmatch: predicate needs one of and, or, not, value")
	case set > 1:
		return errors.New("jsonmatch: predicate sets more than one of and, or, not, value")
	}

	for i, child := range p.And {
		if child == nil {
			return fmt.Errorf("jsonmatch: and[%d] is null", i)
		}
		if err := child.Validate(); err != nil {
			return fmt.Errorf("and[%d]: %w", i, err)
		}
	}
	for i, child := range p.Or {
		if child == nil {
			return fmt.Errorf("jsonmatch: or[%d] is null", i)
		}
		if err := child.Validate(); err != nil {
			return fmt.Errorf("or[%d]: %w", i, err)
		}
	}
	if p.Not != nil {
		if err := p.Not.Validate(); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	}
	if p.Value != nil {
		return p.Value.validate()
	}
	return nil
}

func (m *ValueMatcher) validate() error {
	if m.Equals == nil && m.AtLeast == nil && m.AtMost == nil && m.IsPresent == nil &&
		m.StringBegins == nil && m.StringEnds == nil && m.ArrayContains == nil &&
		m.ArrayLength == nil {
		return errors.New("jsonmatch: empty value matcher")
	}
	if m.Equals != nil && !json.Valid(m.Equals) {
		return errors.New("jsonmatch: equals is not valid JSON")
	}
	if m.Index != nil && m.ArrayContains == nil {
		return errors.New("jsonmatch: index requires array_contains")
	}
	if m.ArrayContains != nil {
		if err := m.ArrayContains.validate(); err != nil {
			return fmt.Errorf("array_contains: %w", err)
		}
	}
	if m.ArrayLength != nil {
		if err := m.ArrayLength.validate(); err != nil {
			return fmt.Errorf("array_length: %w", err)
		}
	}
	return nil
}

// Apply reports whether payload satisfies the predicate.
// A nil predicate matches everything.
func (p *Predicate) Apply(payload []byte) bool {
	if p == nil {
		return true
	}
	switch {
	case p.And != nil:
		for _, child := range p.And {
			if !child.Apply(payload) {
				return false
			}
		}
		return true
	case p.Or != nil:
		for _, child := range p.Or {
			if child.Apply(payload) {
				return true
			}
		}
		return false
	case p.Not != nil:
		return !p.Not.Apply(payload)
	case p.Value != nil:
		return p.Value.match(lookup(payload, p.Scope, p.Key), p.IgnoreCase)
	}
	return false
}

// lookup resolves scope+key inside payload.
func lookup(payload []byte, scope []string, key string) gjson.Result {
	parts := make([]string, 0, len(scope)+1)
	for _, s := range scope {
		parts = append(parts, escapePath(s))
	}
	if key != "" {
		parts = append(parts, escapePath(key))
	}
	if len(parts) == 0 {
		if len(payload) == 0 {
			return gjson.Result{}
		}
		return gjson.ParseBytes(payload)
	}
	return gjson.GetBytes(payload, strings.Join(parts, "."))
}

// escapePath escapes gjson path syntax so a component is matched literally.
func escapePath(component string) string {
	var b strings.Builder
	for _, r := range component {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', '[', ']', '{', '}', '(', ')', '"', ',', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (m *ValueMatcher) match(v gjson.Result, ignoreCase bool) bool {
	if m.IsPresent != nil && v.Exists() != *m.IsPresent {
		return false
	}
	if !v.Exists() {
		// Only an is_present:false matcher can hold for a missing value.
		return m.IsPresent != nil && !*m.IsPresent && m.onlyPresence()
	}
	if m.Equals != nil && !equalJSON(v, gjson.ParseBytes(m.Equals), ignoreCase) {
		return false
	}
	if m.AtLeast != nil && (v.Type != gjson.Number || v.Float() < *m.AtLeast) {
		return false
	}
	if m.AtMost != nil && (v.Type != gjson.Number || v.Float() > *m.AtMost) {
		return false
	}
	if m.StringBegins != nil && (v.Type != gjson.String || !hasPrefix(v.Str, *m.StringBegins, ignoreCase)) {
		return false
	}
	if m.StringEnds != nil && (v.Type != gjson.String || !hasSuffix(v.Str, *m.StringEnds, ignoreCase)) {
		return false
	}
	if m.ArrayLength != nil {
		if !v.IsArray() {
			return false
		}
		n := gjson.Parse(strconv.Itoa(len(v.Array())))
		if !m.ArrayLength.match(n, ignoreCase) {
			return false
		}
	}
	if m.ArrayContains != nil && !m.arrayContains(v, ignoreCase) {
		return false
	}
	return true
}

func (m *ValueMatcher) onlyPresence() bool {
	return m.Equals == nil && m.AtLeast == nil && m.AtMost == nil &&
		m.StringBegins == nil && m.StringEnds == nil &&
		m.ArrayContains == nil && m.ArrayLength == nil
}

func (m *ValueMatcher) arrayContains(v gjson.Result, ignoreCase bool) bool {
	if !v.IsArray() {
		return false
	}
	elems := v.Array()
	if m.Index != nil {
		i := *m.Index
		if i < 0 || i >= len(elems) {
			return false
		}
		return m.ArrayContains.match(elems[i], ignoreCase)
	}
	for _, elem := range elems {
		if m.ArrayContains.match(elem, ignoreCase) {
			return true
		}
	}
	return false
}

func equalJSON(got, want gjson.Result, ignoreCase bool) bool {
	if ignoreCase && got.Type == gjson.String && want.Type == gjson.String {
		return strings.EqualFold(got.Str, want.Str)
	}
	return reflect.DeepEqual(got.Value(), want.Value())
}

func hasPrefix(s, prefix string, ignoreCase bool) bool {
	if ignoreCase {
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
	}
	return strings.HasPrefix(s, prefix)
}

func hasSuffix(s, suffix string, ignoreCase bool) bool {
	if ignoreCase {
		return strings.HasSuffix(strings.ToLower(s), strings.ToLower(suffix))
	}
	return strings.HasSuffix(s, suffix)
}
