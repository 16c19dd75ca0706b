package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/getmockd/mockproxy/pkg/proxy"
)

// Errors returned while loading configuration and rule files.
var (
	ErrFileNotFound       = errors.New("configuration file not found")
	ErrEmptyFile          = errors.New("rule file is empty")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidProxyConfig = proxy.ErrInvalidProxyConfig
)

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidConfig
}

// ValidationErrors aggregates every problem found by Validate.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	if len(e) == 1 {
		return "invalid configuration: " + msgs[0]
	}
	return fmt.Sprintf("%d configuration errors: %s", len(e), strings.Join(msgs, "; "))
}

func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// FileError reports a rule file that could not be read or parsed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *FileError) Unwrap() error { return e.Err }
