// Package compiler turns schedule documents (YAML or JSON) into validated
// model.Schedule values.
//
// Documents are checked against the embedded CUE schema first, so shape
// errors carry a file position. Semantic checks that need the domain model
// (predicate syntax, duplicate trigger ids) run after decoding.
//
//	schedules:
//	  - id: welcome
//	    triggers:
//	      - type: foreground
//	        goal: 1
//	    type: actions
//	    actions: {add_tags: [welcomed]}
package compiler

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"cuelang.org/go/encoding/yaml"

	"github.com/roach88/automation/internal/model"
)

//go:embed schema.cue
var schemaCUE []byte

// Compile parses one schedule document. filename is used in error
// positions only.
func Compile(filename string, src []byte) ([]model.Schedule, error) {
	f, err := yaml.Extract(filename, src)
	if err != nil {
		return nil, formatCUEError(err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("schedule schema: %w", err)
	}

	doc := ctx.BuildFile(f)
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Document")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var parsed struct {
		Schedules []json.RawMessage `json:"schedules"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}

	list := doc.LookupPath(cue.ParsePath("schedules"))
	schedules := make([]model.Schedule, 0, len(parsed.Schedules))
	seen := make(map[string]bool, len(parsed.Schedules))
	for i, data := range parsed.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		pos := list.LookupPath(cue.MakePath(cue.Index(i))).Pos()

		var s model.Schedule
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: pos}
		}
		if err := s.BackfillTriggerIDs(); err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: pos}
		}
		if err := s.Validate(); err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: pos}
		}
		if seen[s.Identifier] {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("duplicate schedule id %q", s.Identifier),
				Pos:     pos,
			}
		}
		seen[s.Identifier] = true
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
