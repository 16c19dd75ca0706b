package rule

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors carried by ValidationError.
var (
	ErrDuplicateID       = errors.New("duplicate rule id")
	ErrFacetDisabled     = errors.New("facet is not enabled")
	ErrStrategyDisabled  = errors.New("matching strategy is not enabled")
	ErrInvalidDefinition = errors.New("invalid rule definition")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrBodyFile          = errors.New("cannot read body file")
)

// ValidationError locates a problem in one rule definition.
type ValidationError struct {
	// RuleID is the rule id, or "#<index>" when the id is missing.
	RuleID string
	// Field is the offending field path, e.g. "facets[1].value".
	Field string
	// Facet is the facet kind when the problem concerns a constraint.
	Facet string
	// Message describes the problem.
	Message string
	// Err is the sentinel category, if any.
	Err error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rule %q", e.RuleID)
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	if e.Facet != "" {
		fmt.Fprintf(&b, " (%s)", e.Facet)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidationErrors collects every problem found while building a table.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d rule validation errors: %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap returns the individual errors so errors.Is and errors.As see them.
func (e ValidationErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, err := range e {
		out[i] = err
	}
	return out
}
