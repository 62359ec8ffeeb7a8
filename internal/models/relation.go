package models

import "strings"

// RelationType is the closed set of logical relations between two markets.
// Anything the analyzer reports outside this set collapses to
// RelationIndependent.
type RelationType string

const (
	RelationImpliesAB       RelationType = "IMPLIES_AB"
	RelationImpliesBA       RelationType = "IMPLIES_BA"
	RelationEquivalent      RelationType = "EQUIVALENT"
	RelationMutualExclusive RelationType = "MUTUAL_EXCLUSIVE"
	RelationExhaustive      RelationType = "EXHAUSTIVE"
	RelationIndependent     RelationType = "INDEPENDENT"
)

// ParseRelation maps free-form analyzer output onto the closed set.
func ParseRelation(s string) RelationType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IMPLIES_AB", "A_IMPLIES_B":
		return RelationImpliesAB
	case "IMPLIES_BA", "B_IMPLIES_A":
		return RelationImpliesBA
	case "EQUIVALENT", "EQUAL":
		return RelationEquivalent
	case "MUTUAL_EXCLUSIVE", "MUTUALLY_EXCLUSIVE":
		return RelationMutualExclusive
	case "EXHAUSTIVE":
		return RelationExhaustive
	default:
		return RelationIndependent
	}
}

// RelationshipAnalysis is the analyzer's verdict on a market pair.
type RelationshipAnalysis struct {
	MarketA string `json:"market_a"`
	MarketB string `json:"market_b"`

	Relation             RelationType `json:"relation"`
	Confidence           float64      `json:"confidence"`
	Reasoning            string       `json:"reasoning"`
	EdgeCases            []string     `json:"edge_cases,omitempty"`
	ResolutionCompatible bool         `json:"resolution_compatible"`
}

// Downgrade rewrites the analysis to an unusable independent verdict,
// recording why.
func (a *RelationshipAnalysis) Downgrade(reason string) {
	a.Relation = RelationIndependent
	a.Confidence = 0
	a.EdgeCases = append(a.EdgeCases, reason)
}

// ExhaustiveVerification is the analyzer's verdict on whether a market set
// is mutually exclusive and collectively exhaustive.
type ExhaustiveVerification struct {
	IsComplete   bool     `json:"is_complete"`
	Confidence   float64  `json:"confidence"`
	MissingCases []string `json:"missing_cases,omitempty"`
}
