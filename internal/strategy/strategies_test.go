package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"polyarb/internal/analyzer"
	"polyarb/internal/models"
)

var scanTime = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// priceMarket builds a market with consistent mids and top-of-book asks
// one tick above the mid.
func priceMarket(id string, yesMid string, endTime time.Time) models.Market {
	mid := dec(yesMid)
	tick := dec("0.002")
	return models.Market{
		ID:           id,
		TokenIDYes:   id + "-yes",
		TokenIDNo:    id + "-no",
		YesMid:       mid,
		NoMid:        decimal.NewFromInt(1).Sub(mid),
		BestAskYes:   mid.Add(tick),
		BestAskNo:    decimal.NewFromInt(1).Sub(mid).Add(tick),
		LiquidityUSD: decimal.NewFromInt(50000),
		EndTime:      endTime,
		Active:       true,
	}
}

func threshold(marketID, asset string, dir models.ThresholdDirection, level string, deadline time.Time, cumulative bool) *models.ThresholdInfo {
	return &models.ThresholdInfo{
		MarketID:   marketID,
		Asset:      asset,
		Direction:  dir,
		Level:      dec(level),
		Unit:       "$",
		Deadline:   deadline,
		Cumulative: cumulative,
	}
}

func TestMonotonicityFindsLadderViolation(t *testing.T) {
	deadline := scanTime.Add(30 * 24 * time.Hour)
	// The 120k rung is priced above the 100k rung: impossible.
	markets := []models.Market{
		priceMarket("m100", "0.40", deadline),
		priceMarket("m110", "0.30", deadline),
		priceMarket("m120", "0.55", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Thresholds = []*models.ThresholdInfo{
		threshold("m100", "BTC", models.DirectionAbove, "100000", deadline, false),
		threshold("m110", "BTC", models.DirectionAbove, "110000", deadline, false),
		threshold("m120", "BTC", models.DirectionAbove, "120000", deadline, false),
	}

	s := &Monotonicity{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	// 120k violates against both 100k and 110k.
	require.Len(t, opps, 2)
	for _, opp := range opps {
		require.Equal(t, models.StrategyMonotonicity, opp.Strategy)
		require.Len(t, opp.Legs, 2)
		require.True(t, opp.Cost.LessThan(decimal.NewFromInt(1)), "cost %s", opp.Cost)
		require.True(t, opp.EffectiveProfit.IsPositive())
	}
}

func TestMonotonicityOptimalOnlyKeepsBestPair(t *testing.T) {
	deadline := scanTime.Add(30 * 24 * time.Hour)
	markets := []models.Market{
		priceMarket("m100", "0.40", deadline),
		priceMarket("m110", "0.30", deadline),
		priceMarket("m120", "0.55", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Thresholds = []*models.ThresholdInfo{
		threshold("m100", "BTC", models.DirectionAbove, "100000", deadline, false),
		threshold("m110", "BTC", models.DirectionAbove, "110000", deadline, false),
		threshold("m120", "BTC", models.DirectionAbove, "120000", deadline, false),
	}
	params := DefaultParams()
	params.OptimalOnly = true
	s := &Monotonicity{Params: params, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	// The widest gap is 120k vs 110k.
	ids := []string{opps[0].Legs[0].MarketID, opps[0].Legs[1].MarketID}
	require.ElementsMatch(t, []string{"m120", "m110"}, ids)
}

func TestMonotonicityDedupesEqualLevels(t *testing.T) {
	deadline := scanTime.Add(30 * 24 * time.Hour)
	// Two listings of the same 100k level; the cheaper YES survives and
	// the duplicates never pair against each other.
	markets := []models.Market{
		priceMarket("m100a", "0.42", deadline),
		priceMarket("m100b", "0.40", deadline),
		priceMarket("m120", "0.55", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Thresholds = []*models.ThresholdInfo{
		threshold("m100a", "BTC", models.DirectionAbove, "100000", deadline, false),
		threshold("m100b", "BTC", models.DirectionAbove, "100000", deadline, false),
		threshold("m120", "BTC", models.DirectionAbove, "120000", deadline, false),
	}

	s := &Monotonicity{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	ids := []string{opps[0].Legs[0].MarketID, opps[0].Legs[1].MarketID}
	require.ElementsMatch(t, []string{"m120", "m100b"}, ids)
}

func TestMonotonicityRespectsTolerance(t *testing.T) {
	deadline := scanTime.Add(30 * 24 * time.Hour)
	// Gap of half a cent: under the violation tolerance.
	markets := []models.Market{
		priceMarket("m100", "0.400", deadline),
		priceMarket("m110", "0.405", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Thresholds = []*models.ThresholdInfo{
		threshold("m100", "BTC", models.DirectionAbove, "100000", deadline, false),
		threshold("m110", "BTC", models.DirectionAbove, "110000", deadline, false),
	}
	s := &Monotonicity{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, opps)
}

func TestMonotonicityBelowDirection(t *testing.T) {
	deadline := scanTime.Add(30 * 24 * time.Hour)
	// BELOW 80k (strict) priced above BELOW 90k (loose): impossible.
	markets := []models.Market{
		priceMarket("m80", "0.50", deadline),
		priceMarket("m90", "0.35", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Thresholds = []*models.ThresholdInfo{
		threshold("m80", "BTC", models.DirectionBelow, "80000", deadline, false),
		threshold("m90", "BTC", models.DirectionBelow, "90000", deadline, false),
	}
	s := &Monotonicity{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	// NO on the strict (80k) market, YES on the loose (90k).
	require.Equal(t, "m80", opps[0].Legs[0].MarketID)
	require.Equal(t, models.SideNo, opps[0].Legs[0].Side)
	require.Equal(t, "m90", opps[0].Legs[1].MarketID)
	require.Equal(t, models.SideYes, opps[0].Legs[1].Side)
}

func TestIntervalContainment(t *testing.T) {
	deadline := scanTime.Add(20 * 24 * time.Hour)
	// Inner [95k,100k] priced above outer [90k,105k]: impossible.
	markets := []models.Market{
		priceMarket("inner", "0.30", deadline),
		priceMarket("outer", "0.20", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Intervals = []*models.IntervalInfo{
		{MarketID: "inner", Asset: "BTC", Lower: 95000, Upper: 100000, LowerInclusive: true, UpperInclusive: true, Unit: "$", Deadline: deadline},
		{MarketID: "outer", Asset: "BTC", Lower: 90000, Upper: 105000, LowerInclusive: true, UpperInclusive: true, Unit: "$", Deadline: deadline},
	}
	s := &Interval{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	require.Equal(t, "inner", opps[0].Legs[0].MarketID)
	require.Equal(t, models.SideNo, opps[0].Legs[0].Side)
	require.Equal(t, "outer", opps[0].Legs[1].MarketID)
	require.Equal(t, models.SideYes, opps[0].Legs[1].Side)
}

func TestIntervalDisjointOverpriced(t *testing.T) {
	deadline := scanTime.Add(20 * 24 * time.Hour)
	// Disjoint ranges with YES mids summing to 1.15.
	markets := []models.Market{
		priceMarket("low", "0.55", deadline),
		priceMarket("high", "0.60", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Intervals = []*models.IntervalInfo{
		{MarketID: "low", Asset: "ETH", Lower: 2000, Upper: 3000, LowerInclusive: true, UpperInclusive: true, Unit: "$", Deadline: deadline},
		{MarketID: "high", Asset: "ETH", Lower: 4000, Upper: 5000, LowerInclusive: true, UpperInclusive: true, Unit: "$", Deadline: deadline},
	}
	s := &Interval{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	for _, leg := range opps[0].Legs {
		require.Equal(t, models.SideNo, leg.Side)
	}
}

func TestIntervalPartitionUnderpriced(t *testing.T) {
	deadline := scanTime.Add(20 * 24 * time.Hour)
	// Below 90k, [90k,100k], above 100k: sums to 0.85 in YES mids.
	markets := []models.Market{
		priceMarket("below", "0.25", deadline),
		priceMarket("mid", "0.30", deadline),
		priceMarket("above", "0.30", deadline),
	}
	in := NewInputs(markets, scanTime)
	in.Intervals = []*models.IntervalInfo{
		{MarketID: "mid", Asset: "BTC", Lower: 90000, Upper: 100000, LowerInclusive: true, UpperInclusive: true, Unit: "$", Deadline: deadline},
	}
	in.Thresholds = []*models.ThresholdInfo{
		threshold("below", "BTC", models.DirectionBelow, "90000", deadline, false),
		threshold("above", "BTC", models.DirectionAbove, "100000", deadline, false),
	}
	s := &Interval{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)

	var partition *models.Opportunity
	for _, opp := range opps {
		if len(opp.Legs) == 3 {
			partition = opp
		}
	}
	require.NotNil(t, partition, "expected a three-leg partition, got %+v", opps)
	for _, leg := range partition.Legs {
		require.Equal(t, models.SideYes, leg.Side)
	}
}

type fakeVerifier struct {
	verdict models.ExhaustiveVerification
	calls   int
}

func (f *fakeVerifier) VerifyExhaustiveSet(_ context.Context, _ []models.Market) (*models.ExhaustiveVerification, error) {
	f.calls++
	v := f.verdict
	return &v, nil
}

func TestExhaustiveNegRiskGroup(t *testing.T) {
	deadline := scanTime.Add(10 * 24 * time.Hour)
	mkNegRisk := func(id, mid string) models.Market {
		m := priceMarket(id, mid, deadline)
		m.EventID = "ev1"
		m.NegRisk = true
		return m
	}
	// Three-outcome group priced at 0.90 total.
	markets := []models.Market{
		mkNegRisk("o1", "0.30"),
		mkNegRisk("o2", "0.35"),
		mkNegRisk("o3", "0.25"),
	}
	in := NewInputs(markets, scanTime)
	verifier := &fakeVerifier{}
	s := &Exhaustive{Params: DefaultParams(), Verifier: verifier, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	require.Len(t, opps[0].Legs, 3)
	require.Zero(t, verifier.calls, "neg-risk groups must not consume model budget")
}

func TestExhaustiveVerifiedGroupRespectsConfidence(t *testing.T) {
	deadline := scanTime.Add(10 * 24 * time.Hour)
	mk := func(id, mid string) models.Market {
		m := priceMarket(id, mid, deadline)
		m.EventID = "ev2"
		return m
	}
	markets := []models.Market{mk("o1", "0.40"), mk("o2", "0.45")}

	low := &fakeVerifier{verdict: models.ExhaustiveVerification{IsComplete: true, Confidence: 0.5}}
	s := &Exhaustive{Params: DefaultParams(), Verifier: low, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), NewInputs(markets, scanTime))
	require.NoError(t, err)
	require.Empty(t, opps)

	high := &fakeVerifier{verdict: models.ExhaustiveVerification{IsComplete: true, Confidence: 0.95}}
	s = &Exhaustive{Params: DefaultParams(), Verifier: high, Logger: zap.NewNop()}
	opps, err = s.Find(context.Background(), NewInputs(markets, scanTime))
	require.NoError(t, err)
	require.Len(t, opps, 1)
}

type fakeAnalyzer struct {
	verdicts map[string]*models.RelationshipAnalysis
}

func (f *fakeAnalyzer) AnalyzePairs(_ context.Context, pairs []analyzer.Pair) ([]*models.RelationshipAnalysis, error) {
	out := make([]*models.RelationshipAnalysis, len(pairs))
	for i, p := range pairs {
		if v, ok := f.verdicts[p.A.ID+"|"+p.B.ID]; ok {
			out[i] = v
		} else {
			out[i] = &models.RelationshipAnalysis{
				MarketA: p.A.ID, MarketB: p.B.ID,
				Relation: models.RelationIndependent,
			}
		}
	}
	return out, nil
}

func TestImplicationFromAnalyzer(t *testing.T) {
	deadline := scanTime.Add(15 * 24 * time.Hour)
	// a implies b but b is priced below a.
	a := priceMarket("a", "0.60", deadline)
	a.Question = "Will the Fed cut rates twice by September?"
	b := priceMarket("b", "0.50", deadline)
	b.Question = "Will the Fed cut rates at least once by September?"

	in := NewInputs([]models.Market{a, b}, scanTime)
	in.Clusters = [][]models.Market{{a, b}}

	fa := &fakeAnalyzer{verdicts: map[string]*models.RelationshipAnalysis{
		"a|b": {
			MarketA: "a", MarketB: "b",
			Relation:             models.RelationImpliesAB,
			Confidence:           0.95,
			ResolutionCompatible: true,
		},
	}}
	s := &Implication{Params: DefaultParams(), Analyzer: fa, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	require.Equal(t, "a", opps[0].Legs[0].MarketID)
	require.Equal(t, models.SideNo, opps[0].Legs[0].Side)
	require.Equal(t, "b", opps[0].Legs[1].MarketID)
	require.Equal(t, models.SideYes, opps[0].Legs[1].Side)
	require.NotNil(t, opps[0].Analysis)
}

func TestImplicationRejectsLowConfidence(t *testing.T) {
	deadline := scanTime.Add(15 * 24 * time.Hour)
	a := priceMarket("a", "0.60", deadline)
	b := priceMarket("b", "0.50", deadline)
	in := NewInputs([]models.Market{a, b}, scanTime)
	in.Clusters = [][]models.Market{{a, b}}

	fa := &fakeAnalyzer{verdicts: map[string]*models.RelationshipAnalysis{
		"a|b": {
			MarketA: "a", MarketB: "b",
			Relation:             models.RelationImpliesAB,
			Confidence:           0.70,
			ResolutionCompatible: true,
		},
	}}
	s := &Implication{Params: DefaultParams(), Analyzer: fa, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, opps)
}

func TestImplicationThresholdStructureVeto(t *testing.T) {
	deadline := scanTime.Add(15 * 24 * time.Hour)
	// The model claims "above 100k implies above 110k", which is
	// structurally backwards.
	a := priceMarket("a", "0.60", deadline)
	b := priceMarket("b", "0.50", deadline)
	in := NewInputs([]models.Market{a, b}, scanTime)
	in.Clusters = [][]models.Market{{a, b}}
	in.Thresholds = []*models.ThresholdInfo{
		threshold("a", "BTC", models.DirectionAbove, "100000", deadline, false),
		threshold("b", "BTC", models.DirectionAbove, "110000", deadline, false),
	}
	fa := &fakeAnalyzer{verdicts: map[string]*models.RelationshipAnalysis{
		"a|b": {
			MarketA: "a", MarketB: "b",
			Relation:             models.RelationImpliesAB,
			Confidence:           0.99,
			ResolutionCompatible: true,
		},
	}}
	s := &Implication{Params: DefaultParams(), Analyzer: fa, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, opps)
}

func TestEquivalentDivergence(t *testing.T) {
	deadline := scanTime.Add(15 * 24 * time.Hour)
	a := priceMarket("a", "0.50", deadline)
	a.Question = "Will BTC close above $100k on June 30?"
	b := priceMarket("b", "0.58", deadline)
	b.Question = "Will Bitcoin end above $100k on June 30?"
	in := NewInputs([]models.Market{a, b}, scanTime)
	in.Clusters = [][]models.Market{{a, b}}

	fa := &fakeAnalyzer{verdicts: map[string]*models.RelationshipAnalysis{
		"a|b": {
			MarketA: "a", MarketB: "b",
			Relation:             models.RelationEquivalent,
			Confidence:           0.95,
			ResolutionCompatible: true,
		},
	}}
	s := &Equivalent{Params: DefaultParams(), Analyzer: fa, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	// YES on the cheap listing, NO on the dear one.
	require.Equal(t, "a", opps[0].Legs[0].MarketID)
	require.Equal(t, models.SideYes, opps[0].Legs[0].Side)
	require.Equal(t, "b", opps[0].Legs[1].MarketID)
	require.Equal(t, models.SideNo, opps[0].Legs[1].Side)
}

func TestEquivalentOpposedQuestionsVeto(t *testing.T) {
	deadline := scanTime.Add(15 * 24 * time.Hour)
	a := priceMarket("a", "0.50", deadline)
	a.Question = "Will BTC be above $100k on June 30?"
	b := priceMarket("b", "0.58", deadline)
	b.Question = "Will BTC be below $100k on June 30?"
	in := NewInputs([]models.Market{a, b}, scanTime)
	in.Clusters = [][]models.Market{{a, b}}

	fa := &fakeAnalyzer{verdicts: map[string]*models.RelationshipAnalysis{
		"a|b": {
			MarketA: "a", MarketB: "b",
			Relation:             models.RelationEquivalent,
			Confidence:           0.99,
			ResolutionCompatible: true,
		},
	}}
	s := &Equivalent{Params: DefaultParams(), Analyzer: fa, Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, opps)
}

func TestTemporalNestedWindows(t *testing.T) {
	early := scanTime.Add(30 * 24 * time.Hour)
	late := scanTime.Add(90 * 24 * time.Hour)
	// "By July" priced above "by September": impossible for cumulative
	// questions.
	mEarly := priceMarket("early", "0.45", early)
	mLate := priceMarket("late", "0.35", late)
	in := NewInputs([]models.Market{mEarly, mLate}, scanTime)
	in.Thresholds = []*models.ThresholdInfo{
		threshold("early", "BTC", models.DirectionAbove, "120000", early, true),
		threshold("late", "BTC", models.DirectionAbove, "120000", late, true),
	}
	s := &Temporal{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	require.Equal(t, "early", opps[0].Legs[0].MarketID)
	require.Equal(t, models.SideNo, opps[0].Legs[0].Side)
	require.Equal(t, "late", opps[0].Legs[1].MarketID)
	require.Equal(t, models.SideYes, opps[0].Legs[1].Side)
	// Lockup is bounded by the earliest-resolving leg, not the later one.
	require.InDelta(t, 30, opps[0].DaysToResolution, 0.01)
	require.NotEmpty(t, opps[0].ID)
}

func TestTemporalIgnoresTerminalQuestions(t *testing.T) {
	early := scanTime.Add(30 * 24 * time.Hour)
	late := scanTime.Add(90 * 24 * time.Hour)
	mEarly := priceMarket("early", "0.45", early)
	mLate := priceMarket("late", "0.35", late)
	in := NewInputs([]models.Market{mEarly, mLate}, scanTime)
	in.Thresholds = []*models.ThresholdInfo{
		threshold("early", "BTC", models.DirectionAbove, "120000", early, false),
		threshold("late", "BTC", models.DirectionAbove, "120000", late, false),
	}
	s := &Temporal{Params: DefaultParams(), Logger: zap.NewNop()}
	opps, err := s.Find(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, opps)
}

func TestRegistryFiltersByName(t *testing.T) {
	all := Registry(nil, DefaultParams(), nil, nil, zap.NewNop())
	require.Len(t, all, 6)

	some := Registry([]string{"MONOTONICITY", "TEMPORAL"}, DefaultParams(), nil, nil, zap.NewNop())
	require.Len(t, some, 2)
	require.Equal(t, models.StrategyMonotonicity, some[0].Name())
	require.Equal(t, models.StrategyTemporal, some[1].Name())
}
