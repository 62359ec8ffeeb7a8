package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"polyarb/internal/analyzer"
	"polyarb/internal/models"
)

// PairAnalyzer resolves the logical relation between market pairs.
// Satisfied by the analyzer.
type PairAnalyzer interface {
	AnalyzePairs(ctx context.Context, pairs []analyzer.Pair) ([]*models.RelationshipAnalysis, error)
}

// Implication trades model-detected one-way implications: when A implies
// B, B can never be cheaper than A, and NO on A plus YES on B pays at
// least one dollar in every outcome.
type Implication struct {
	Params   Params
	Analyzer PairAnalyzer
	Logger   *zap.Logger
}

func (s *Implication) Name() models.StrategyName { return models.StrategyImplication }

func (s *Implication) Find(ctx context.Context, in *Inputs) ([]*models.Opportunity, error) {
	pairs := clusterPairs(in)
	if len(pairs) == 0 || s.Analyzer == nil {
		return nil, nil
	}
	verdicts, err := s.Analyzer.AnalyzePairs(ctx, pairs)
	if err != nil {
		return nil, err
	}

	thresholds := thresholdsByMarket(in)

	var out []*models.Opportunity
	for i, v := range verdicts {
		if v == nil || v.Confidence < s.Params.ImplConfidence || !v.ResolutionCompatible {
			continue
		}
		var antecedent, consequent *models.Market
		switch v.Relation {
		case models.RelationImpliesAB:
			antecedent, consequent = &pairs[i].A, &pairs[i].B
		case models.RelationImpliesBA:
			antecedent, consequent = &pairs[i].B, &pairs[i].A
		default:
			continue
		}
		// The basket only stays covered if the consequent cannot settle
		// NO while the antecedent is still open past it.
		if !consequent.EndTime.IsZero() && !antecedent.EndTime.IsZero() &&
			antecedent.EndTime.After(consequent.EndTime.Add(s.tolerance())) {
			continue
		}
		// When both questions parse as thresholds, the claimed
		// implication must also hold syntactically.
		ta, okA := thresholds[antecedent.ID]
		tb, okB := thresholds[consequent.ID]
		if okA && okB && !thresholdImplies(ta, tb, s.tolerance()) {
			if s.Logger != nil {
				s.Logger.Warn("model implication contradicts threshold structure",
					zap.String("antecedent", antecedent.ID),
					zap.String("consequent", consequent.ID))
			}
			continue
		}

		opp := newOpportunity(s.Name(), in.Now, implicationLegs(antecedent, consequent)...)
		if !profitable(opp, s.Params.ProfitEpsilon) {
			continue
		}
		opp.Analysis = v
		opp.Warnings = append(opp.Warnings, fmt.Sprintf(
			"implication %s => %s at confidence %.2f",
			antecedent.ID, consequent.ID, v.Confidence))
		out = append(out, opp)
	}
	return out, nil
}

func (s *Implication) tolerance() time.Duration {
	if s.Params.DeadlineTolerance > 0 {
		return s.Params.DeadlineTolerance
	}
	return 24 * time.Hour
}

// clusterPairs enumerates every in-cluster pair in deterministic order.
func clusterPairs(in *Inputs) []analyzer.Pair {
	var pairs []analyzer.Pair
	for _, cl := range in.Clusters {
		for i := 0; i < len(cl); i++ {
			for j := i + 1; j < len(cl); j++ {
				pairs = append(pairs, analyzer.Pair{A: cl[i], B: cl[j]})
			}
		}
	}
	return pairs
}

func thresholdsByMarket(in *Inputs) map[string]*models.ThresholdInfo {
	out := make(map[string]*models.ThresholdInfo, len(in.Thresholds))
	for _, t := range in.Thresholds {
		out[t.MarketID] = t
	}
	return out
}

// thresholdImplies reports whether threshold a structurally implies
// threshold b. Touch questions and unit mismatches never imply.
func thresholdImplies(a, b *models.ThresholdInfo, tolerance time.Duration) bool {
	if a.Asset != b.Asset || a.Unit != b.Unit || a.Touch || b.Touch {
		return false
	}
	if a.Direction != b.Direction {
		return false
	}
	sameBucket := a.Deadline.UTC().Truncate(tolerance).Equal(b.Deadline.UTC().Truncate(tolerance))
	deadlineOK := false
	switch {
	case a.Cumulative && b.Cumulative:
		// Hitting a level by an earlier date implies hitting it by a
		// later one.
		deadlineOK = !a.Deadline.After(b.Deadline) || sameBucket
	case !a.Cumulative && b.Cumulative:
		// Being at the level on the date implies having hit it by then.
		deadlineOK = sameBucket
	case !a.Cumulative && !b.Cumulative:
		deadlineOK = sameBucket
	}
	if !deadlineOK {
		return false
	}
	if a.Direction == models.DirectionAbove {
		return a.Level.GreaterThanOrEqual(b.Level)
	}
	return a.Level.LessThanOrEqual(b.Level)
}
