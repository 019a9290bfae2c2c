package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ezachrisen/ruleswp"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rule execution or validation failure
	ExitCommandError = 2 // Command error (bad flags, unreachable source, etc.)
)

// ExitError is an error with the exit code the process should end with.
type ExitError struct {
	Code    int
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as JSON or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics, kept off Writer so JSON stays parseable
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes a result. In text mode, text is printed instead of data.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Error writes a failure and returns it as an ExitError.
func (f *OutputFormatter) Error(exitCode int, err error) error {
	code := errorCode(err)
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: err.Error()},
		})
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, err)
	}
	return WrapExitError(exitCode, code, err)
}

// VerboseLog writes a diagnostic line when verbose output is enabled.
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

// errorCode names the failure for scripts reading the output.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ruleswp.ErrRuleSetNotFound):
		return "ERR_RULESET_NOT_FOUND"
	case errors.Is(err, ruleswp.ErrFactConstruction):
		return "ERR_INVALID_FACT"
	case errors.Is(err, ruleswp.ErrRuleExecution):
		return "ERR_RULE_EXECUTION"
	case errors.Is(err, ruleswp.ErrResultExtraction):
		return "ERR_RESULT_EXTRACTION"
	case errors.Is(err, ruleswp.ErrInvalidRuleSet):
		return "ERR_INVALID_RULESET"
	default:
		return "ERR_COMMAND"
	}
}
