package rule

import "strings"

// Definition is a virtualization rule as written in configuration.
type Definition struct {
	ID string `json:"id" yaml:"id" toml:"id" mapstructure:"id" validate:"required"`
	// Priority ranks matching rules before specificity. Lower wins; rules
	// that omit it share priority 0.
	Priority int               `json:"priority,omitempty" yaml:"priority,omitempty" toml:"priority,omitempty" mapstructure:"priority" validate:"min=0,max=255"`
	Facets   []FacetDefinition `json:"facets" yaml:"facets" toml:"facets" mapstructure:"facets" validate:"dive"`
	Outcome  OutcomeDefinition `json:"outcome" yaml:"outcome" toml:"outcome" mapstructure:"outcome"`
}

// FacetDefinition is one constraint of a rule.
type FacetDefinition struct {
	Kind    string             `json:"kind" yaml:"kind" toml:"kind" mapstructure:"kind" validate:"required,oneof=method url header headers"`
	Mode    string             `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty" mapstructure:"mode" validate:"omitempty,oneof=exact pattern"`
	Value   string             `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty" mapstructure:"value"`
	Name    string             `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty" mapstructure:"name" validate:"required_if=Kind header"`
	Absent  bool               `json:"absent,omitempty" yaml:"absent,omitempty" toml:"absent,omitempty" mapstructure:"absent"`
	Headers []HeaderDefinition `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty" mapstructure:"headers" validate:"dive"`
}

// HeaderDefinition is a header name/value pair.
type HeaderDefinition struct {
	Name  string `json:"name" yaml:"name" toml:"name" mapstructure:"name" validate:"required"`
	Value string `json:"value" yaml:"value" toml:"value" mapstructure:"value"`
}

// OutcomeDefinition is what a rule does when it wins.
type OutcomeDefinition struct {
	Type string `json:"type" yaml:"type" toml:"type" mapstructure:"type" validate:"required,oneof=synthetic passthrough"`

	// Synthetic response fields.
	Status   int                `json:"status,omitempty" yaml:"status,omitempty" toml:"status,omitempty" mapstructure:"status" validate:"omitempty,min=100,max=599"`
	Headers  []HeaderDefinition `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty" mapstructure:"headers" validate:"dive"`
	Body     string             `json:"body,omitempty" yaml:"body,omitempty" toml:"body,omitempty" mapstructure:"body"`
	BodyFile string             `json:"body_file,omitempty" yaml:"body_file,omitempty" toml:"body_file,omitempty" mapstructure:"body_file" validate:"excluded_with=Body"`
	Template bool               `json:"template,omitempty" yaml:"template,omitempty" toml:"template,omitempty" mapstructure:"template"`

	// Passthrough overrides.
	Upstream     string             `json:"upstream,omitempty" yaml:"upstream,omitempty" toml:"upstream,omitempty" mapstructure:"upstream" validate:"omitempty,url"`
	ProxyHeaders []HeaderDefinition `json:"proxy_headers,omitempty" yaml:"proxy_headers,omitempty" toml:"proxy_headers,omitempty" mapstructure:"proxy_headers" validate:"dive"`
}

// Outcome types.
const (
	OutcomeSynthetic   = "synthetic"
	OutcomePassthrough = "passthrough"
)

// DefaultStatus is used for synthetic outcomes that omit a status.
const DefaultStatus = 200

// normalize lowercases enumerated fields and fills defaults. It returns a copy.
func (d Definition) normalize() Definition {
	d.ID = strings.TrimSpace(d.ID)
	facets := make([]FacetDefinition, len(d.Facets))
	for i, f := range d.Facets {
		f.Kind = strings.ToLower(strings.TrimSpace(f.Kind))
		f.Mode = strings.ToLower(strings.TrimSpace(f.Mode))
		if f.Mode == "" {
			f.Mode = "exact"
		}
		facets[i] = f
	}
	d.Facets = facets
	d.Outcome.Type = strings.ToLower(strings.TrimSpace(d.Outcome.Type))
	if d.Outcome.Type == OutcomeSynthetic && d.Outcome.Status == 0 {
		d.Outcome.Status = DefaultStatus
	}
	return d
}
