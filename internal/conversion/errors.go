package conversion

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrState      = errors.New("invalid state")
	ErrTool       = errors.New("external tool error")
	ErrIO         = errors.New("io error")

	ErrAlreadyRunning = fmt.Errorf("%w: task already running", ErrState)
	ErrNotRunning     = fmt.Errorf("%w: task not running", ErrState)
)

// Wrap tags an error with one of the sentinel markers above while keeping
// the cause inspectable through errors.Is and errors.As.
func Wrap(marker error, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTool
	}
	detail := buildDetail(operation, message)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "conversion failure"
	}
	return strings.Join(parts, ": ")
}
