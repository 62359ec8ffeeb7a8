package strategy

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"polyarb/internal/models"
)

// Monotonicity finds mispriced threshold ladders. For one asset and
// direction, the probability of clearing a stricter level can never
// exceed the probability of clearing a looser one; when the market
// prices say otherwise, buying NO on the strict market and YES on the
// loose one locks in the gap.
type Monotonicity struct {
	Params Params
	Logger *zap.Logger
}

func (s *Monotonicity) Name() models.StrategyName { return models.StrategyMonotonicity }

func (s *Monotonicity) Find(ctx context.Context, in *Inputs) ([]*models.Opportunity, error) {
	ladders := make(map[string][]*models.ThresholdInfo)
	for _, t := range in.Thresholds {
		if t.Touch {
			continue
		}
		key := t.GroupKey(s.Params.DeadlineTolerance)
		ladders[key] = append(ladders[key], t)
	}

	keys := make([]string, 0, len(ladders))
	for k := range ladders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*models.Opportunity
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, models.NewScanError(models.ErrCanceled, "monotonicity scan canceled", err)
		}
		rungs := ladders[key]
		if len(rungs) < 2 {
			continue
		}
		sort.Slice(rungs, func(i, j int) bool {
			if !rungs[i].Level.Equal(rungs[j].Level) {
				return rungs[i].Level.LessThan(rungs[j].Level)
			}
			return rungs[i].MarketID < rungs[j].MarketID
		})
		rungs = s.dedupeLevels(in, rungs)
		if len(rungs) < 2 {
			continue
		}
		found := s.checkLadder(in, rungs)
		if s.Params.OptimalOnly && len(found) > 1 {
			best := found[0]
			for _, opp := range found[1:] {
				if opp.EffectiveProfit.GreaterThan(best.EffectiveProfit) {
					best = opp
				}
			}
			found = []*models.Opportunity{best}
		}
		out = append(out, found...)
	}
	return out, nil
}

// dedupeLevels collapses rungs quoting the identical level, keeping the
// one with the cheapest effective YES price so a relisted market never
// pairs against its own duplicate.
func (s *Monotonicity) dedupeLevels(in *Inputs, rungs []*models.ThresholdInfo) []*models.ThresholdInfo {
	out := rungs[:0]
	for _, t := range rungs {
		m, ok := in.ByID[t.MarketID]
		if !ok {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Level.Equal(t.Level) {
			prev := in.ByID[out[len(out)-1].MarketID]
			if m.EffectiveBuyPrice(models.SideYes).LessThan(prev.EffectiveBuyPrice(models.SideYes)) {
				out[len(out)-1] = t
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

// checkLadder runs the all-pairs violation check over one sorted ladder.
// Multi-level ladders are checked pairwise, not just between neighbors:
// a violation can span rungs that are individually consistent.
func (s *Monotonicity) checkLadder(in *Inputs, rungs []*models.ThresholdInfo) []*models.Opportunity {
	var out []*models.Opportunity
	for i := 0; i < len(rungs); i++ {
		for j := i + 1; j < len(rungs); j++ {
			lower, higher := rungs[i], rungs[j]
			if lower.Level.Equal(higher.Level) {
				continue
			}
			// ABOVE: clearing the higher level implies clearing the
			// lower. BELOW: staying under the lower level implies
			// staying under the higher.
			var strict, loose *models.ThresholdInfo
			if lower.Direction == models.DirectionAbove {
				strict, loose = higher, lower
			} else {
				strict, loose = lower, higher
			}
			mStrict, ok1 := in.ByID[strict.MarketID]
			mLoose, ok2 := in.ByID[loose.MarketID]
			if !ok1 || !ok2 {
				continue
			}
			gap := mStrict.YesMid.Sub(mLoose.YesMid).InexactFloat64()
			if gap < s.Params.MonoTolerance {
				continue
			}
			opp := newOpportunity(s.Name(), in.Now, implicationLegs(mStrict, mLoose)...)
			if !profitable(opp, s.Params.ProfitEpsilon) {
				continue
			}
			opp.Warnings = append(opp.Warnings, fmt.Sprintf(
				"%s %s ladder: level %s priced %s vs level %s priced %s",
				strict.Asset, strict.Direction,
				strict.Level, mStrict.YesMid.StringFixed(4),
				loose.Level, mLoose.YesMid.StringFixed(4)))
			out = append(out, opp)
		}
	}
	if len(out) > 0 && s.Logger != nil {
		s.Logger.Info("monotonicity violations found",
			zap.String("asset", rungs[0].Asset),
			zap.String("direction", string(rungs[0].Direction)),
			zap.Int("count", len(out)))
	}
	return out
}
