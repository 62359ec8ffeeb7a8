package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"polyarb/internal/models"
	"polyarb/internal/parser"
)

// Interval finds structural mispricings among range questions and the
// half-open ranges that threshold questions lift to:
//   - containment: the inner range implies the outer, so the outer can
//     never be cheaper than the inner
//   - disjointness: two ranges that cannot both hold must not have YES
//     prices summing above one
//   - partition: adjacent ranges covering the whole line are exhaustive,
//     so their YES prices must sum to at least one
type Interval struct {
	Params Params
	Logger *zap.Logger
}

func (s *Interval) Name() models.StrategyName { return models.StrategyInterval }

func (s *Interval) Find(ctx context.Context, in *Inputs) ([]*models.Opportunity, error) {
	groups := make(map[string][]*models.IntervalInfo)
	add := func(iv *models.IntervalInfo) {
		key := s.groupKey(iv)
		groups[key] = append(groups[key], iv)
	}
	for _, iv := range in.Intervals {
		add(iv)
	}
	// Terminal thresholds participate as half-open ranges. Cumulative
	// "by" questions measure a different event and stay out.
	for _, t := range in.Thresholds {
		if t.Cumulative {
			continue
		}
		if iv, ok := parser.ThresholdToInterval(t); ok {
			add(iv)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*models.Opportunity
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, models.NewScanError(models.ErrCanceled, "interval scan canceled", err)
		}
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].Lower != group[j].Lower {
				return group[i].Lower < group[j].Lower
			}
			return group[i].MarketID < group[j].MarketID
		})
		out = append(out, s.checkPairs(in, group)...)
		if opp := s.checkPartition(in, group); opp != nil {
			out = append(out, opp)
		}
	}
	return out, nil
}

func (s *Interval) groupKey(iv *models.IntervalInfo) string {
	tolerance := s.Params.DeadlineTolerance
	if tolerance <= 0 {
		tolerance = 24 * time.Hour
	}
	bucket := iv.Deadline.UTC().Truncate(tolerance)
	return fmt.Sprintf("%s|%s|%s", iv.Asset, iv.Unit, bucket.Format(time.RFC3339))
}

func (s *Interval) checkPairs(in *Inputs, group []*models.IntervalInfo) []*models.Opportunity {
	var out []*models.Opportunity
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			if a.MarketID == b.MarketID {
				continue
			}
			ma, ok1 := in.ByID[a.MarketID]
			mb, ok2 := in.ByID[b.MarketID]
			if !ok1 || !ok2 {
				continue
			}
			switch {
			case a.ContainsInterval(*b):
				out = appendIfProfitable(out, s.containmentOpp(in, mb, ma, b, a))
			case b.ContainsInterval(*a):
				out = appendIfProfitable(out, s.containmentOpp(in, ma, mb, a, b))
			case a.Disjoint(*b):
				out = appendIfProfitable(out, s.disjointOpp(in, ma, mb))
			}
		}
	}
	return out
}

// containmentOpp prices "inner implies outer": NO on the inner range,
// YES on the outer.
func (s *Interval) containmentOpp(in *Inputs, mInner, mOuter *models.Market, inner, outer *models.IntervalInfo) *models.Opportunity {
	opp := newOpportunity(s.Name(), in.Now, implicationLegs(mInner, mOuter)...)
	if !profitable(opp, s.Params.ProfitEpsilon) {
		return nil
	}
	opp.Warnings = append(opp.Warnings, fmt.Sprintf(
		"%s containment: %s inside %s, outer YES at %s under inner YES at %s",
		inner.Asset, describeInterval(inner), describeInterval(outer),
		mOuter.YesMid.StringFixed(4), mInner.YesMid.StringFixed(4)))
	return opp
}

// disjointOpp prices mutual exclusion: at most one range can hold, so
// buying NO on both returns at least one dollar.
func (s *Interval) disjointOpp(in *Inputs, ma, mb *models.Market) *models.Opportunity {
	opp := newOpportunity(s.Name(), in.Now,
		legSpec{market: ma, side: models.SideNo},
		legSpec{market: mb, side: models.SideNo})
	if !profitable(opp, s.Params.ProfitEpsilon) {
		return nil
	}
	opp.Warnings = append(opp.Warnings, fmt.Sprintf(
		"disjoint ranges overpriced: YES mids %s + %s exceed 1",
		ma.YesMid.StringFixed(4), mb.YesMid.StringFixed(4)))
	return opp
}

// checkPartition looks for a chain covering the whole line. A covering
// chain guarantees at least one member resolves YES, so buying YES on
// every member pays at least one dollar. Boundary overlap is allowed, it
// only adds payout; a gap is what voids the guarantee.
func (s *Interval) checkPartition(in *Inputs, group []*models.IntervalInfo) *models.Opportunity {
	var chain []*models.IntervalInfo
	covered := math.Inf(-1)
	coveredInc := false
	started := false
	for _, iv := range group {
		if !started {
			if math.IsInf(iv.Lower, -1) {
				chain = append(chain, iv)
				covered, coveredInc = iv.Upper, iv.UpperInclusive
				started = true
			}
			continue
		}
		if math.IsInf(covered, 1) {
			break
		}
		if iv.Lower > covered {
			// The group is sorted by lower bound, so nothing later can
			// close this gap.
			break
		}
		if iv.Lower == covered && !coveredInc && !iv.LowerInclusive {
			continue
		}
		if iv.Upper > covered || (iv.Upper == covered && iv.UpperInclusive && !coveredInc) {
			chain = append(chain, iv)
			covered, coveredInc = iv.Upper, iv.UpperInclusive
		}
	}
	if !started || !math.IsInf(covered, 1) || len(chain) < 2 {
		return nil
	}

	legs := make([]legSpec, 0, len(chain))
	seen := make(map[string]bool, len(chain))
	for _, iv := range chain {
		m, ok := in.ByID[iv.MarketID]
		if !ok || seen[iv.MarketID] {
			return nil
		}
		seen[iv.MarketID] = true
		legs = append(legs, legSpec{market: m, side: models.SideYes})
	}
	opp := newOpportunity(s.Name(), in.Now, legs...)
	if !profitable(opp, s.Params.ExhaustiveEpsilon) {
		return nil
	}
	opp.Warnings = append(opp.Warnings, fmt.Sprintf(
		"%s partition of %d ranges priced under 1", chain[0].Asset, len(chain)))
	if s.Logger != nil {
		s.Logger.Info("interval partition underpriced",
			zap.String("asset", chain[0].Asset),
			zap.Int("legs", len(chain)),
			zap.String("cost", opp.Cost.StringFixed(4)))
	}
	return opp
}

func appendIfProfitable(out []*models.Opportunity, opp *models.Opportunity) []*models.Opportunity {
	if opp == nil {
		return out
	}
	return append(out, opp)
}

func describeInterval(iv *models.IntervalInfo) string {
	switch {
	case math.IsInf(iv.Lower, -1) && math.IsInf(iv.Upper, 1):
		return "(-inf, +inf)"
	case math.IsInf(iv.Lower, -1):
		return fmt.Sprintf("(-inf, %g)", iv.Upper)
	case math.IsInf(iv.Upper, 1):
		return fmt.Sprintf("[%g, +inf)", iv.Lower)
	default:
		return fmt.Sprintf("[%g, %g]", iv.Lower, iv.Upper)
	}
}
