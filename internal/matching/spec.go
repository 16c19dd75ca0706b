package matching

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoConstraints is returned for a spec without constraints.
var ErrNoConstraints = errors.New("match spec requires at least one constraint")

// Spec is the conjunction of a rule's constraints.
type Spec struct {
	matchers    []Matcher
	specificity int
	facets      FacetSet
	headers     []string
}

// NewSpec combines matchers into a spec and derives its specificity.
func NewSpec(matchers []Matcher, preferExact bool) (*Spec, error) {
	if len(matchers) == 0 {
		return nil, ErrNoConstraints
	}
	if len(matchers) > MaxConstraints {
		return nil, fmt.Errorf("match spec has %d constraints, at most %d allowed", len(matchers), MaxConstraints)
	}

	s := &Spec{matchers: append([]Matcher(nil), matchers...)}
	exact := 0
	seen := make(map[string]struct{})
	for _, m := range matchers {
		if m.Mode() == ModeExact {
			exact++
		}
		s.facets = s.facets.With(m.Facet())
		for _, name := range m.HeaderNames() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			s.headers = append(s.headers, name)
		}
	}
	sort.Strings(s.headers)
	s.specificity = Specificity(len(matchers), exact, preferExact)
	return s, nil
}

// Matches reports whether every constraint matches. Evaluation stops at the
// first failing constraint. The error, if any, is the pattern timeout that
// caused the failure.
func (s *Spec) Matches(f *Facets) (bool, error) {
	for _, m := range s.matchers {
		ok, err := m.Match(f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Explain evaluates the spec like Matches and also returns the index of the
// first failing constraint, or -1 when the spec matches.
func (s *Spec) Explain(f *Facets) (int, error) {
	for i, m := range s.matchers {
		ok, err := m.Match(f)
		if err != nil {
			return i, err
		}
		if !ok {
			return i, nil
		}
	}
	return -1, nil
}

// Specificity returns the derived score.
func (s *Spec) Specificity() int { return s.specificity }

// Facets returns the facet kinds the spec constrains.
func (s *Spec) Facets() FacetSet { return s.facets }

// HeaderNames returns the canonical header names the spec reads, sorted.
func (s *Spec) HeaderNames() []string { return s.headers }

// Matchers returns the constraints in declaration order.
func (s *Spec) Matchers() []Matcher { return s.matchers }
