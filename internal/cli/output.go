// internal/cli/output.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/cmux-cli/cdpscript/internal/browser"
	"github.com/cmux-cli/cdpscript/internal/executor"
	"github.com/cmux-cli/cdpscript/internal/generator"
	"github.com/cmux-cli/cdpscript/internal/script"
	"github.com/cmux-cli/cdpscript/internal/validate"
)

// Exit codes
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1 // General errors, invalid scripts and failed runs
	ExitCodeUsage   = 2 // Usage errors (invalid command, missing args, etc.)
)

var lastOutputError error

// UsageError represents a usage/input error (exit code 2)
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// NewUsageError creates a new usage error
func NewUsageError(msg string) error {
	return &UsageError{Message: msg}
}

// reportedError marks an error whose details were already written as the
// command's result. It still sets the exit code.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// errRunFailed is returned when a script ran but at least one command failed.
var errRunFailed = errors.New("script run failed")

// OutputResult outputs the result as JSON or formatted text
func OutputResult(data any) error {
	if flagJSON {
		return OutputJSON(data)
	}
	return OutputText(data)
}

// OutputJSON outputs data as JSON
func OutputJSON(data any) error {
	return writeJSON(os.Stdout, data)
}

func writeJSON(w io.Writer, data any) error {
	if err := json.MarshalWrite(w, data, jsontext.WithIndent("  ")); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// OutputText outputs data as human-readable text.
// Types implement a TextOutput() string method; anything else is printed
// as JSON.
func OutputText(data any) error {
	if t, ok := data.(interface{ TextOutput() string }); ok {
		fmt.Println(strings.TrimRight(t.TextOutput(), "\n"))
		return nil
	}
	return OutputJSON(data)
}

// OutputError outputs an error in consistent format
func OutputError(err error) {
	if err == nil {
		return
	}
	var rep *reportedError
	if errors.As(err, &rep) {
		return
	}

	// Check if this exact error was already output
	if lastOutputError != nil && lastOutputError.Error() == err.Error() {
		return
	}
	lastOutputError = err

	if flagJSON {
		OutputJSON(ErrorResponse{
			Error: ErrorDetail{
				Code:    getErrorCode(err),
				Message: err.Error(),
			},
		})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}
}

// ResetErrorOutput resets the error output guard (for testing)
func ResetErrorOutput() {
	lastOutputError = nil
}

// GetExitCode returns the appropriate exit code for an error
func GetExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitCodeUsage
	}

	// Cobra usage errors (unknown command, missing args, etc.)
	errMsg := err.Error()
	if strings.Contains(errMsg, "unknown command") ||
		strings.Contains(errMsg, "unknown flag") ||
		strings.Contains(errMsg, "unknown shorthand flag") ||
		strings.Contains(errMsg, "requires at least") ||
		strings.Contains(errMsg, "accepts at most") ||
		strings.Contains(errMsg, "accepts ") ||
		strings.Contains(errMsg, "invalid argument") {
		return ExitCodeUsage
	}

	return ExitCodeError
}

// ErrorResponse is the standard error format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidScript      = "INVALID_SCRIPT"
	ErrCodeRunFailed          = "RUN_FAILED"
	ErrCodeBrowserUnavailable = "BROWSER_UNAVAILABLE"
	ErrCodeGenerationFailed   = "GENERATION_FAILED"
	ErrCodeDependencyMissing  = "DEPENDENCY_MISSING"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUsage              = "USAGE_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

func getErrorCode(err error) string {
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ErrCodeUsage
	}

	if isScriptError(err) {
		return ErrCodeInvalidScript
	}
	switch {
	case errors.Is(err, errRunFailed):
		return ErrCodeRunFailed
	case errors.Is(err, browser.ErrNotConnected), errors.Is(err, executor.ErrNoSession):
		return ErrCodeBrowserUnavailable
	case errors.Is(err, generator.ErrNoScript):
		return ErrCodeGenerationFailed
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "unknown command") ||
		strings.Contains(errMsg, "unknown flag") ||
		strings.Contains(errMsg, "requires at least") ||
		strings.Contains(errMsg, "accepts at most") {
		return ErrCodeUsage
	}
	if strings.Contains(errMsg, "executable file not found") ||
		strings.Contains(errMsg, "command not found") {
		return ErrCodeDependencyMissing
	}
	if strings.Contains(errMsg, "failed to connect to browser") {
		return ErrCodeBrowserUnavailable
	}
	if strings.Contains(errMsg, "generation failed") {
		return ErrCodeGenerationFailed
	}
	if strings.Contains(errMsg, "invalid") {
		return ErrCodeInvalidInput
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "timed out") {
		return ErrCodeTimeout
	}

	return ErrCodeInternal
}

func isScriptError(err error) bool {
	var (
		synErr    *script.SyntaxError
		shapeErr  *script.ShapeError
		structErr *script.StructuralError
	)
	return errors.Is(err, validate.ErrInvalid) ||
		errors.As(err, &synErr) ||
		errors.As(err, &shapeErr) ||
		errors.As(err, &structErr)
}
