package models

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ConfigParseError reports a document that is not well-formed YAML or does
// not match the schema's shape.
type ConfigParseError struct {
	Source string
	Err    error
}

func (e *ConfigParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("parse configuration %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("parse configuration: %v", e.Err)
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// ConfigValidationError carries every rule a parsed configuration breaks.
type ConfigValidationError struct {
	Violations *multierror.Error
}

func (e *ConfigValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Messages(), "; ")
}

func (e *ConfigValidationError) Unwrap() error {
	return e.Violations.ErrorOrNil()
}

// Messages lists the individual violations.
func (e *ConfigValidationError) Messages() []string {
	if e.Violations == nil {
		return nil
	}
	out := make([]string, len(e.Violations.Errors))
	for i, err := range e.Violations.Errors {
		out[i] = err.Error()
	}
	return out
}
