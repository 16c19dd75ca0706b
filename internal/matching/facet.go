package matching

import (
	"fmt"
	"sort"
	"strings"
)

// FacetKind identifies a matchable dimension of a request.
type FacetKind string

// Facet kinds.
const (
	FacetMethod  FacetKind = "method"
	FacetURL     FacetKind = "url"
	FacetHeader  FacetKind = "header"
	FacetHeaders FacetKind = "headers"
)

// ParseFacetKind parses a facet kind. Matching is case-insensitive so that
// both "Url" and "url" are accepted in rule files.
func ParseFacetKind(s string) (FacetKind, error) {
	switch FacetKind(strings.ToLower(strings.TrimSpace(s))) {
	case FacetMethod:
		return FacetMethod, nil
	case FacetURL:
		return FacetURL, nil
	case FacetHeader:
		return FacetHeader, nil
	case FacetHeaders:
		return FacetHeaders, nil
	default:
		return "", fmt.Errorf("unknown facet kind %q", s)
	}
}

// Mode is a matching strategy.
type Mode string

// Matching strategies.
const (
	ModeExact   Mode = "exact"
	ModePattern Mode = "pattern"
)

// ParseMode parses a matching strategy name (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeExact:
		return ModeExact, nil
	case ModePattern:
		return ModePattern, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

// FacetSet is a set of facet kinds.
type FacetSet uint8

const (
	bitMethod FacetSet = 1 << iota
	bitURL
	bitHeader
	bitHeaders
)

func facetBit(k FacetKind) FacetSet {
	switch k {
	case FacetMethod:
		return bitMethod
	case FacetURL:
		return bitURL
	case FacetHeader:
		return bitHeader
	case FacetHeaders:
		return bitHeaders
	}
	return 0
}

// AllFacets returns the set containing every facet kind.
func AllFacets() FacetSet {
	return bitMethod | bitURL | bitHeader | bitHeaders
}

// NewFacetSet builds a set from the given kinds.
func NewFacetSet(kinds ...FacetKind) FacetSet {
	var s FacetSet
	for _, k := range kinds {
		s |= facetBit(k)
	}
	return s
}

// ParseFacetSet parses facet names. An empty list means every facet.
func ParseFacetSet(names []string) (FacetSet, error) {
	if len(names) == 0 {
		return AllFacets(), nil
	}
	var s FacetSet
	for _, n := range names {
		k, err := ParseFacetKind(n)
		if err != nil {
			return 0, err
		}
		s |= facetBit(k)
	}
	return s, nil
}

// Has reports whether k is in the set.
func (s FacetSet) Has(k FacetKind) bool {
	b := facetBit(k)
	return b != 0 && s&b == b
}

// With returns the set with k added.
func (s FacetSet) With(k FacetKind) FacetSet {
	return s | facetBit(k)
}

// Union returns the union of two sets.
func (s FacetSet) Union(o FacetSet) FacetSet {
	return s | o
}

// Kinds returns the members in a stable order.
func (s FacetSet) Kinds() []FacetKind {
	var out []FacetKind
	for _, k := range []FacetKind{FacetMethod, FacetURL, FacetHeader, FacetHeaders} {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s FacetSet) String() string {
	kinds := s.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// StrategySet is the set of enabled matching strategies.
type StrategySet struct {
	Exact   bool
	Pattern bool
}

// AllStrategies enables both strategies.
func AllStrategies() StrategySet {
	return StrategySet{Exact: true, Pattern: true}
}

// ParseStrategySet parses strategy names. An empty list enables both.
func ParseStrategySet(names []string) (StrategySet, error) {
	if len(names) == 0 {
		return AllStrategies(), nil
	}
	var s StrategySet
	for _, n := range names {
		m, err := ParseMode(n)
		if err != nil {
			return StrategySet{}, err
		}
		switch m {
		case ModeExact:
			s.Exact = true
		case ModePattern:
			s.Pattern = true
		}
	}
	return s, nil
}

// Allows reports whether mode m is enabled.
func (s StrategySet) Allows(m Mode) bool {
	switch m {
	case ModeExact:
		return s.Exact
	case ModePattern:
		return s.Pattern
	}
	return false
}

// Names returns the enabled strategy names, sorted.
func (s StrategySet) Names() []string {
	var out []string
	if s.Exact {
		out = append(out, string(ModeExact))
	}
	if s.Pattern {
		out = append(out, string(ModePattern))
	}
	sort.Strings(out)
	return out
}
