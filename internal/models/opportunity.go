package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyName identifies which strategy produced an opportunity.
type StrategyName string

const (
	StrategyMonotonicity StrategyName = "MONOTONICITY"
	StrategyInterval     StrategyName = "INTERVAL"
	StrategyExhaustive   StrategyName = "EXHAUSTIVE"
	StrategyImplication  StrategyName = "IMPLICATION"
	StrategyEquivalent   StrategyName = "EQUIVALENT"
	StrategyTemporal     StrategyName = "TEMPORAL"
)

// OpportunityStatus is the opportunity lifecycle state.
type OpportunityStatus string

const (
	StatusPending    OpportunityStatus = "PENDING"
	StatusValidating OpportunityStatus = "VALIDATING"
	StatusAccepted   OpportunityStatus = "ACCEPTED"
	StatusRejected   OpportunityStatus = "REJECTED"
	StatusStale      OpportunityStatus = "STALE"
)

// APYRating bands an annualized return.
type APYRating string

const (
	APYExcellent  APYRating = "EXCELLENT"
	APYGood       APYRating = "GOOD"
	APYAcceptable APYRating = "ACCEPTABLE"
	APYReject     APYRating = "REJECT"
)

// OracleAlignment classifies whether two legs' resolution sources agree.
type OracleAlignment string

const (
	OracleAligned    OracleAlignment = "ALIGNED"
	OracleCompatible OracleAlignment = "COMPATIBLE"
	OracleMisaligned OracleAlignment = "MISALIGNED"
)

// Leg is one unit buy of a market side.
type Leg struct {
	MarketID string          `json:"market_id"`
	Side     Side            `json:"side"`
	BuyPrice decimal.Decimal `json:"buy_price"`
}

// TrailEntry records one validation layer's decision.
type TrailEntry struct {
	Layer   int    `json:"layer"`
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Reason  string `json:"reason"`
	Elapsed int64  `json:"elapsed_ms"`
}

// ChecklistItem is one line of the human-review checklist attached at
// layer five.
type ChecklistItem struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Opportunity is a candidate buy-basket with its economics and audit trail.
type Opportunity struct {
	ID       string       `json:"id"`
	Strategy StrategyName `json:"strategy"`
	Status   OpportunityStatus `json:"status"`

	Legs []Leg `json:"legs"`

	Cost             decimal.Decimal `json:"cost"`
	GuaranteedReturn decimal.Decimal `json:"guaranteed_return"`
	MidProfit        decimal.Decimal `json:"mid_profit"`
	EffectiveProfit  decimal.Decimal `json:"effective_profit"`
	ProfitPct        decimal.Decimal `json:"profit_pct"`
	SlippageCost     decimal.Decimal `json:"slippage_cost"`

	MinLegLiquidityUSD decimal.Decimal `json:"min_leg_liquidity_usd"`
	DaysToResolution   float64         `json:"days_to_resolution"`

	APY             float64         `json:"apy"`
	APYRating       APYRating       `json:"apy_rating"`
	OracleAlignment OracleAlignment `json:"oracle_alignment"`

	RejectLayer  int    `json:"reject_layer,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`

	ValidationTrail []TrailEntry          `json:"validation_trail"`
	Checklist       []ChecklistItem       `json:"checklist,omitempty"`
	Analysis        *RelationshipAnalysis `json:"relationship_analysis,omitempty"`
	Warnings        []string              `json:"warnings,omitempty"`

	DiscoveredAt   time.Time `json:"discovered_at"`
	PlanSnapshotAt time.Time `json:"plan_snapshot_at"`
}

// CanonicalKey deduplicates opportunities: strategy plus the sorted
// (market_id, side) tuples of the legs. Prices do not participate.
func (o *Opportunity) CanonicalKey() string {
	parts := make([]string, 0, len(o.Legs))
	for _, l := range o.Legs {
		parts = append(parts, l.MarketID+":"+string(l.Side))
	}
	sort.Strings(parts)
	return string(o.Strategy) + "|" + strings.Join(parts, ",")
}

// Reject marks the opportunity rejected at a layer.
func (o *Opportunity) Reject(layer int, reason string) {
	o.Status = StatusRejected
	o.RejectLayer = layer
	o.RejectReason = reason
}

// RecomputeEconomics refreshes cost, effective profit and profit pct from
// the current legs and guaranteed return.
func (o *Opportunity) RecomputeEconomics() {
	cost := decimal.Zero
	for _, l := range o.Legs {
		cost = cost.Add(l.BuyPrice)
	}
	o.Cost = cost
	o.EffectiveProfit = o.GuaranteedReturn.Sub(cost)
	if cost.IsPositive() {
		o.ProfitPct = o.EffectiveProfit.Div(cost)
	} else {
		o.ProfitPct = decimal.Zero
	}
}

// StaleBy reports whether the plan snapshot is older than maxAge at now.
func (o *Opportunity) StaleBy(now time.Time, maxAge time.Duration) bool {
	if o.PlanSnapshotAt.IsZero() {
		return false
	}
	return now.Sub(o.PlanSnapshotAt) > maxAge
}

func (o *Opportunity) String() string {
	return fmt.Sprintf("%s %s legs=%d cost=%s profit=%s",
		o.Strategy, o.Status, len(o.Legs), o.Cost.StringFixed(4), o.EffectiveProfit.StringFixed(4))
}
