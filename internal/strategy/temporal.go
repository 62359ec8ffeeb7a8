package strategy

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"polyarb/internal/models"
)

// Temporal trades nested deadline windows on cumulative questions:
// hitting a level by March implies hitting it by June, so the June
// market can never be cheaper. Purely syntactic, no model calls.
type Temporal struct {
	Params Params
	Logger *zap.Logger
}

func (s *Temporal) Name() models.StrategyName { return models.StrategyTemporal }

func (s *Temporal) Find(ctx context.Context, in *Inputs) ([]*models.Opportunity, error) {
	groups := make(map[string][]*models.ThresholdInfo)
	for _, t := range in.Thresholds {
		if !t.Cumulative || t.Touch {
			continue
		}
		key := fmt.Sprintf("%s|%s|%s|%s", t.Asset, t.Direction, t.Unit, t.Level.String())
		groups[key] = append(groups[key], t)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*models.Opportunity
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, models.NewScanError(models.ErrCanceled, "temporal scan canceled", err)
		}
		windows := groups[key]
		if len(windows) < 2 {
			continue
		}
		sort.Slice(windows, func(i, j int) bool {
			if !windows[i].Deadline.Equal(windows[j].Deadline) {
				return windows[i].Deadline.Before(windows[j].Deadline)
			}
			return windows[i].MarketID < windows[j].MarketID
		})
		for i := 0; i < len(windows); i++ {
			for j := i + 1; j < len(windows); j++ {
				earlier, later := windows[i], windows[j]
				// Deadlines inside the same tolerance bucket belong to
				// the monotonicity ladder, not here.
				if later.Deadline.Sub(earlier.Deadline) < s.Params.DeadlineTolerance {
					continue
				}
				mEarlier, ok1 := in.ByID[earlier.MarketID]
				mLater, ok2 := in.ByID[later.MarketID]
				if !ok1 || !ok2 {
					continue
				}
				opp := newOpportunity(s.Name(), in.Now, implicationLegs(mEarlier, mLater)...)
				if !profitable(opp, s.Params.ProfitEpsilon) {
					continue
				}
				opp.Warnings = append(opp.Warnings, fmt.Sprintf(
					"%s %s %s: window ending %s priced %s above window ending %s priced %s",
					earlier.Asset, earlier.Direction, earlier.Level,
					earlier.Deadline.Format("2006-01-02"), mEarlier.YesMid.StringFixed(4),
					later.Deadline.Format("2006-01-02"), mLater.YesMid.StringFixed(4)))
				out = append(out, opp)
			}
		}
	}
	if len(out) > 0 && s.Logger != nil {
		s.Logger.Info("temporal windows mispriced", zap.Int("count", len(out)))
	}
	return out, nil
}
