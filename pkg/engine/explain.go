package engine

import (
	"net/http"

	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/rule"
)

// RuleTrace is the evaluation result of one rule.
type RuleTrace struct {
	RuleID      string `json:"rule_id"`
	Index       int    `json:"index"`
	Priority    int    `json:"priority"`
	Specificity int    `json:"specificity"`
	Matched     bool   `json:"matched"`
	// FailedConstraint describes the first constraint that did not match.
	FailedConstraint string `json:"failed_constraint,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Explanation describes how a request would be resolved.
type Explanation struct {
	Epoch       uint64       `json:"epoch"`
	Version     string       `json:"version"`
	Fingerprint string       `json:"fingerprint"`
	Winner      string       `json:"winner,omitempty"`
	Decision    routing.Kind `json:"decision"`
	Rules       []RuleTrace  `json:"rules"`
}

// Explain evaluates req against every rule of the active table and reports
// each result. It neither reads nor writes the cache and does not count
// towards Evaluations.
func (r *Resolver) Explain(req *http.Request) *Explanation {
	t := r.table.Load()
	f := t.Extract(req)

	exp := &Explanation{
		Epoch:       t.Epoch(),
		Version:     t.Version(),
		Fingerprint: t.Key(f),
		Decision:    routing.KindProxy,
		Rules:       make([]RuleTrace, 0, t.Len()),
	}

	var best *rule.Rule
	for _, rl := range t.Rules() {
		tr := RuleTrace{RuleID: rl.ID, Index: rl.Index, Priority: rl.Priority(), Specificity: rl.Specificity()}
		failed, err := rl.Spec.Explain(f)
		switch {
		case err != nil:
			tr.Error = err.Error()
			tr.FailedConstraint = rl.Spec.Matchers()[failed].String()
		case failed >= 0:
			tr.FailedConstraint = rl.Spec.Matchers()[failed].String()
		default:
			tr.Matched = true
			if best == nil || rl.Outranks(best) {
				best = rl
				exp.Winner = rl.ID
				exp.Decision = rl.Decide(req).Kind()
			}
		}
		exp.Rules = append(exp.Rules, tr)
	}
	return exp
}
