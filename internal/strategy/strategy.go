package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polyarb/internal/models"
)

// Inputs is the shared read-only view of one scan: the catalog snapshot
// plus every derived structure the strategies consume. It is computed
// once per scan and never mutated by a strategy.
type Inputs struct {
	Markets    []models.Market
	ByID       map[string]*models.Market
	Thresholds []*models.ThresholdInfo
	Intervals  []*models.IntervalInfo
	Clusters   [][]models.Market
	Now        time.Time
}

// NewInputs indexes the catalog for strategy lookups.
func NewInputs(markets []models.Market, now time.Time) *Inputs {
	in := &Inputs{
		Markets: markets,
		ByID:    make(map[string]*models.Market, len(markets)),
		Now:     now,
	}
	for i := range markets {
		in.ByID[markets[i].ID] = &markets[i]
	}
	return in
}

// Strategy finds candidate opportunities in one scan's inputs.
type Strategy interface {
	Name() models.StrategyName
	Find(ctx context.Context, in *Inputs) ([]*models.Opportunity, error)
}

// Params are the numeric knobs shared across strategies.
type Params struct {
	MonoTolerance   float64
	ImplConfidence  float64
	EquivConfidence float64
	ExhConfidence   float64

	ProfitEpsilon     float64
	EquivEpsilon      float64
	ExhaustiveEpsilon float64

	DeadlineTolerance time.Duration
	OptimalOnly       bool
}

// DefaultParams returns the standing defaults; config overrides them.
func DefaultParams() Params {
	return Params{
		MonoTolerance:     0.01,
		ImplConfidence:    0.90,
		EquivConfidence:   0.90,
		ExhConfidence:     0.85,
		ProfitEpsilon:     0.005,
		EquivEpsilon:      0.03,
		ExhaustiveEpsilon: 0.02,
		DeadlineTolerance: 24 * time.Hour,
	}
}

// legSpec pairs a market with the side to buy.
type legSpec struct {
	market *models.Market
	side   models.Side
}

// newOpportunity assembles a candidate from its legs using effective buy
// prices. Guaranteed return is 1 per unit: every structure built here
// pays at least one dollar per basket in every resolution outcome.
func newOpportunity(name models.StrategyName, now time.Time, legs ...legSpec) *models.Opportunity {
	opp := &models.Opportunity{
		ID:               uuid.NewString(),
		Strategy:         name,
		Status:           models.StatusPending,
		GuaranteedReturn: decimal.NewFromInt(1),
		DiscoveredAt:     now,
	}
	midCost := decimal.Zero
	minLiq := decimal.Zero
	var earliestEnd time.Time
	for i, l := range legs {
		opp.Legs = append(opp.Legs, models.Leg{
			MarketID: l.market.ID,
			Side:     l.side,
			BuyPrice: l.market.EffectiveBuyPrice(l.side),
		})
		midCost = midCost.Add(l.market.Mid(l.side))
		if i == 0 || l.market.LiquidityUSD.LessThan(minLiq) {
			minLiq = l.market.LiquidityUSD
		}
		if !l.market.EndTime.IsZero() &&
			(earliestEnd.IsZero() || l.market.EndTime.Before(earliestEnd)) {
			earliestEnd = l.market.EndTime
		}
	}
	opp.MidProfit = opp.GuaranteedReturn.Sub(midCost)
	opp.MinLegLiquidityUSD = minLiq
	// Lockup is measured to the earliest leg resolution.
	days := 1.0
	if !earliestEnd.IsZero() {
		days = earliestEnd.Sub(now).Hours() / 24
	}
	if days < 1 {
		days = 1
	}
	opp.DaysToResolution = days
	opp.RecomputeEconomics()
	return opp
}

// profitable applies the effective-price profitability gate shared by all
// strategies: cost must beat the guaranteed return by at least epsilon.
func profitable(opp *models.Opportunity, epsilon float64) bool {
	margin := opp.GuaranteedReturn.Sub(decimal.NewFromFloat(epsilon))
	return opp.Cost.LessThan(margin)
}

// implicationLegs is the standing two-leg construction for "A implies B":
// buy NO on the antecedent and YES on the consequent. Whatever happens,
// at least one leg pays out one dollar.
func implicationLegs(antecedent, consequent *models.Market) []legSpec {
	return []legSpec{
		{market: antecedent, side: models.SideNo},
		{market: consequent, side: models.SideYes},
	}
}
