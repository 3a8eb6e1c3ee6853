package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2 // bad configuration, unreachable database
)

// ExitError carries the process exit code for a failed command.
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err, ExitFailure by default.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Result is the JSON envelope printed with --format json.
type Result struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type outputFormatter struct {
	format string
	writer io.Writer
}

// success prints data as JSON, or the text line otherwise.
func (f *outputFormatter) success(data any, text string) error {
	if f.format == "json" {
		return f.writeJSON(Result{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.writer, text)
	return err
}

// failure prints err in JSON mode and returns it so cobra exits non-zero.
func (f *outputFormatter) failure(err error) error {
	if f.format == "json" {
		_ = f.writeJSON(Result{Status: "error", Error: err.Error()})
	}
	return err
}

func (f *outputFormatter) writeJSON(v any) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
