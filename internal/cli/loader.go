package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/automation/internal/compiler"
	"github.com/roach88/automation/internal/model"
)

// LoadMode controls how errors are handled during schedule loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// scheduleExts are the document extensions the loader reads.
var scheduleExts = []string{".yaml", ".yml", ".json"}

// LoadResult contains the schedules loaded from a file or directory.
type LoadResult struct {
	Schedules []model.Schedule
	Files     []string
}

// LoadError represents an error that occurred during schedule loading.
type LoadError struct {
	Code    string
	Message string
	File    string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the source line of the error, or 0 when unknown.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// LoadSchedules compiles every schedule document at path, which may be a
// single file or a directory searched recursively. Schedule ids must be
// unique across files.
func LoadSchedules(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schedules path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schedules path: %v", err)}}
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindScheduleFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no schedule files found in %s", path)}}
		}
	}

	var errs []error
	result := &LoadResult{Files: files}
	seen := make(map[string]string)
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), File: file})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		schedules, err := compiler.Compile(file, src)
		if err != nil {
			errs = append(errs, convertCompileError(err, file))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		for _, s := range schedules {
			if prev, dup := seen[s.Identifier]; dup {
				errs = append(errs, &LoadError{
					Code:    ErrCodeDuplicateID,
					Message: fmt.Sprintf("schedule id %q already defined in %s", s.Identifier, prev),
					File:    file,
				})
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			seen[s.Identifier] = file
			result.Schedules = append(result.Schedules, s)
		}
	}
	return result, errs
}

// FindScheduleFiles walks the directory and returns all schedule document
// paths in lexical order.
func FindScheduleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && slices.Contains(scheduleExts, filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, file string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			File:    file,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: err.Error(),
		File:    file,
	}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeSchema
	case strings.HasPrefix(field, "schedules["):
		return ErrCodeInvalidSchedule
	default:
		return ErrCodeGeneric
	}
}
