package matching

// Specificity score constants.
// A rule's score is ScoreFacet per constraint plus ScoreExact per exact-mode
// constraint, so exactness only separates rules with the same constraint count.
const (
	// ScoreFacet is the score for each constrained facet.
	ScoreFacet = 100

	// ScoreExact is the bonus for each exact-mode constraint.
	ScoreExact = 1

	// MaxConstraints bounds the constraints per rule. Keeping the exact bonus
	// below ScoreFacet preserves the facet-count ordering.
	MaxConstraints = ScoreFacet - 1
)

// Specificity computes the score for a rule with the given constraint counts.
func Specificity(constraints, exact int, preferExact bool) int {
	score := constraints * ScoreFacet
	if preferExact {
		score += exact * ScoreExact
	}
	return score
}
