package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyarb/internal/models"
)

// Equivalent trades the same question listed twice at different prices:
// YES on the cheap listing, NO on the dear one. Both legs settle the
// same way, so the basket always pays one dollar.
type Equivalent struct {
	Params   Params
	Analyzer PairAnalyzer
	Logger   *zap.Logger
}

func (s *Equivalent) Name() models.StrategyName { return models.StrategyEquivalent }

func (s *Equivalent) Find(ctx context.Context, in *Inputs) ([]*models.Opportunity, error) {
	pairs := clusterPairs(in)
	if len(pairs) == 0 || s.Analyzer == nil {
		return nil, nil
	}
	verdicts, err := s.Analyzer.AnalyzePairs(ctx, pairs)
	if err != nil {
		return nil, err
	}

	var out []*models.Opportunity
	for i, v := range verdicts {
		if v == nil || v.Relation != models.RelationEquivalent {
			continue
		}
		if v.Confidence < s.Params.EquivConfidence || !v.ResolutionCompatible {
			continue
		}
		a, b := &pairs[i].A, &pairs[i].B
		// Opposed phrasings are complements, not duplicates. A model
		// verdict cannot override the surface contradiction.
		if questionsOpposed(a.Question, b.Question) {
			if s.Logger != nil {
				s.Logger.Warn("equivalence verdict on opposed questions",
					zap.String("market_a", a.ID),
					zap.String("market_b", b.ID))
			}
			continue
		}
		divergence := a.YesMid.Sub(b.YesMid).Abs()
		if divergence.LessThanOrEqual(decimal.NewFromFloat(s.Params.EquivEpsilon)) {
			continue
		}
		cheap, dear := a, b
		if b.YesMid.LessThan(a.YesMid) {
			cheap, dear = b, a
		}
		opp := newOpportunity(s.Name(), in.Now,
			legSpec{market: cheap, side: models.SideYes},
			legSpec{market: dear, side: models.SideNo})
		if !profitable(opp, s.Params.ProfitEpsilon) {
			continue
		}
		opp.Analysis = v
		opp.Warnings = append(opp.Warnings, fmt.Sprintf(
			"equivalent listings diverge by %s at confidence %.2f",
			divergence.StringFixed(4), v.Confidence))
		out = append(out, opp)
	}
	return out, nil
}

var negationRe = regexp.MustCompile(`(?i)\b(?:not|never|fail to|won't|wont)\b`)

// antonymPairs are surface-level direction words whose mismatch marks a
// complement pair.
var antonymPairs = [][2]string{
	{"above", "below"},
	{"over", "under"},
	{"rise", "fall"},
	{"gain", "lose"},
	{"win", "lose"},
	{"higher", "lower"},
	{"more", "less"},
}

// questionsOpposed reports whether two questions read as negations of
// each other: one negated where the other is not, or opposite direction
// words around otherwise similar text.
func questionsOpposed(qa, qb string) bool {
	if negationRe.MatchString(qa) != negationRe.MatchString(qb) {
		return true
	}
	la, lb := strings.ToLower(qa), strings.ToLower(qb)
	for _, pair := range antonymPairs {
		aHasFirst := strings.Contains(la, pair[0])
		aHasSecond := strings.Contains(la, pair[1])
		bHasFirst := strings.Contains(lb, pair[0])
		bHasSecond := strings.Contains(lb, pair[1])
		if aHasFirst && !aHasSecond && bHasSecond && !bHasFirst {
			return true
		}
		if aHasSecond && !aHasFirst && bHasFirst && !bHasSecond {
			return true
		}
	}
	return false
}
