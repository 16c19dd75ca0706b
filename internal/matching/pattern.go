package matching

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultRegexTimeout bounds a single pattern evaluation.
const DefaultRegexTimeout = 100 * time.Millisecond

// ErrPatternTimeout is returned when a pattern evaluation exceeds its time bound.
var ErrPatternTimeout = errors.New("pattern match timed out")

// Pattern is a compiled regular expression with a match time bound.
// It is safe for concurrent use.
type Pattern struct {
	src string
	re  *regexp2.Regexp
}

// CompilePattern compiles expr using RE2-compatible syntax. A non-positive
// timeout selects DefaultRegexTimeout.
func CompilePattern(expr string, timeout time.Duration) (*Pattern, error) {
	re, err := regexp2.Compile(expr, regexp2.RE2)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	re.MatchTimeout = timeout
	return &Pattern{src: expr, re: re}, nil
}

// MatchString reports whether the pattern matches anywhere in s.
func (p *Pattern) MatchString(s string) (bool, error) {
	ok, err := p.re.MatchString(s)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrPatternTimeout, p.src, err)
	}
	return ok, nil
}

// String returns the source expression.
func (p *Pattern) String() string {
	return p.src
}
