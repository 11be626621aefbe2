package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/automation/internal/compiler"
	"github.com/roach88/automation/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenarios failed, schedules rejected, engine failed
	ExitCommandError = 2 // Bad paths, missing database, unreadable config
)

// Error code constants - unified across all CLI commands.
// E0xx codes are command errors; E1xx codes are schedule errors.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No schedule files found
	ErrCodeLoadFailed  = "E004" // File read failed
	ErrCodeNotFound    = "E005" // Path or database not found
	ErrCodeStoreFailed = "E006" // Database open or query failed
	ErrCodeConfig      = "E007" // Configuration invalid

	// Schedule errors
	ErrCodeSchema          = "E101" // Document does not match the schedule schema
	ErrCodeInvalidSchedule = "E102" // Schedule failed semantic validation
	ErrCodeDuplicateID     = "E103" // Schedule id defined twice
	ErrCodeEngine          = "E104" // Engine not restored or not running
	ErrCodeTestFailed      = "E105" // One or more scenarios failed
)

// ErrorCode classifies err. Load and compile errors keep their own codes;
// engine errors map by runtime code. Anything else gets fallback.
func ErrorCode(err error, fallback string) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field)
	}
	switch {
	case engine.IsInvalidScheduleError(err):
		return ErrCodeInvalidSchedule
	case engine.IsStoreError(err):
		return ErrCodeStoreFailed
	case engine.IsNotRestoredError(err), engine.IsStoppedError(err):
		return ErrCodeEngine
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	}
	return fallback
}

// exitCodeFor maps an error code to the process exit code: schedule
// errors fail the run, command errors are usage problems.
func exitCodeFor(code string) int {
	if strings.HasPrefix(code, "E1") {
		return ExitFailure
	}
	return ExitCommandError
}

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	ErrCode string // Error code reported to the user, if any
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ClassifyExitError wraps err with the exit code its error code implies.
func ClassifyExitError(fallback, message string, err error) *ExitError {
	code := ErrorCode(err, fallback)
	return &ExitError{Code: exitCodeFor(code), ErrCode: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as JSON envelopes or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics; defaults to Writer
	Verbose   bool
}

// NewOutputFormatter returns a formatter writing results to the command's
// stdout and diagnostics to its stderr.
func NewOutputFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Count  *int      `json:"count,omitempty"` // number of listed items
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error body of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // ErrCode* value
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// List outputs n listed items. Text output is left to the caller, which
// knows how to lay out its rows.
func (f *OutputFormatter) List(items any, n int) error {
	return f.encode(CLIResponse{Status: "ok", Count: &n, Data: items})
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err under its classified code and returns the matching
// ExitError for the command to return.
func (f *OutputFormatter) Fail(fallback, message string, err error) *ExitError {
	exitErr := ClassifyExitError(fallback, message, err)
	_ = f.Error(exitErr.ErrCode, err.Error(), nil)
	return exitErr
}

// VerboseLog writes a diagnostic line when verbose mode is enabled. It goes
// to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}
