package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/models"
	"polyarb/internal/parser"
)

// Layer 1: the legs must refer to real, open, distinct markets whose
// questions still mean what the strategy assumed. A question whose
// threshold parse comes back ambiguous or touch-flavored cannot back a
// structural trade.
func (e *Engine) checkSemantic(_ context.Context, opp *models.Opportunity, byID map[string]*models.Market, _ time.Time) error {
	if len(opp.Legs) < 2 {
		return rejectf("basket has %d legs, need at least 2", len(opp.Legs))
	}
	seen := make(map[string]bool, len(opp.Legs))
	for _, leg := range opp.Legs {
		if seen[leg.MarketID] {
			return rejectf("market %s appears in more than one leg", leg.MarketID)
		}
		seen[leg.MarketID] = true
		m, ok := byID[leg.MarketID]
		if !ok {
			return rejectf("market %s not in scan snapshot", leg.MarketID)
		}
		if !m.Active || m.Closed {
			return rejectf("market %s is not open for trading", leg.MarketID)
		}
		if strings.TrimSpace(m.Question) == "" {
			return rejectf("market %s has no question text", leg.MarketID)
		}
		if structural(opp.Strategy) {
			t, err := parser.ParseThreshold(m.ID, m.Question, m.EndTime)
			if err != nil {
				return rejectf("question for %s is ambiguous: %v", leg.MarketID, err)
			}
			if t != nil && t.Touch {
				return rejectf("market %s has touch semantics, not a terminal threshold", leg.MarketID)
			}
		}
	}
	if modelBacked(opp.Strategy) {
		a := opp.Analysis
		if a == nil {
			return rejectf("%s candidate carries no relationship analysis", opp.Strategy)
		}
		if a.Relation == models.RelationIndependent {
			return rejectf("relationship analysis degraded to INDEPENDENT")
		}
	}
	return nil
}

// structural strategies rely on parsed question structure; model-backed
// strategies carry their own analysis instead.
func structural(name models.StrategyName) bool {
	switch name {
	case models.StrategyMonotonicity, models.StrategyTemporal:
		return true
	}
	return false
}

// modelBacked strategies must arrive with a usable analyzer verdict.
func modelBacked(name models.StrategyName) bool {
	switch name {
	case models.StrategyImplication, models.StrategyEquivalent, models.StrategyExhaustive:
		return true
	}
	return false
}

// oracleAuthorities canonicalizes known resolution sources. Sources
// mapping to the same authority are aligned even when the URLs differ.
var oracleAuthorities = map[string]string{
	"coinbase":  "coinbase",
	"binance":   "binance",
	"chainlink": "chainlink",
	"pyth":      "pyth",
	"coingecko": "coingecko",
	"kraken":    "kraken",
	"uma":       "uma",
}

// Layer 2: resolution rules. Every leg must still be live, the legs'
// deadlines must fit the structure the strategy claims, and the legs
// must settle off compatible oracles; two legs reading different price
// feeds can diverge exactly when the trade needs them to agree.
func (e *Engine) checkRulesAndOracle(_ context.Context, opp *models.Opportunity, byID map[string]*models.Market, now time.Time) error {
	var sources []string
	for _, leg := range opp.Legs {
		m := byID[leg.MarketID]
		if m == nil {
			return rejectf("market %s not in scan snapshot", leg.MarketID)
		}
		if !m.EndTime.IsZero() && !m.EndTime.After(now) {
			return rejectf("market %s is past its resolution deadline", leg.MarketID)
		}
		sources = append(sources, canonicalAuthority(m.ResolutionSource))
	}
	if err := e.checkDeadlines(opp, byID); err != nil {
		return err
	}
	if err := e.checkThresholdDirection(opp, byID); err != nil {
		return err
	}

	alignment := models.OracleAligned
	first := sources[0]
	for _, s := range sources[1:] {
		if s == first {
			continue
		}
		if s == "" || first == "" {
			alignment = models.OracleCompatible
			continue
		}
		alignment = models.OracleMisaligned
		break
	}
	opp.OracleAlignment = alignment
	if alignment == models.OracleMisaligned {
		return rejectf("legs settle off different oracles: %s", strings.Join(sources, " vs "))
	}
	if alignment == models.OracleCompatible {
		opp.Warnings = append(opp.Warnings, "resolution source missing on at least one leg")
	}
	return nil
}

// checkDeadlines re-verifies leg timing against the claimed structure:
// partition and interval legs must all settle inside the tolerance
// window, and an implication's consequent may not settle before its
// antecedent.
func (e *Engine) checkDeadlines(opp *models.Opportunity, byID map[string]*models.Market) error {
	tol := e.Params.DeadlineTolerance
	if tol <= 0 {
		tol = 24 * time.Hour
	}
	switch opp.Strategy {
	case models.StrategyExhaustive, models.StrategyInterval:
		var earliest, latest time.Time
		for _, leg := range opp.Legs {
			end := byID[leg.MarketID].EndTime
			if end.IsZero() {
				continue
			}
			if earliest.IsZero() || end.Before(earliest) {
				earliest = end
			}
			if end.After(latest) {
				latest = end
			}
		}
		if !earliest.IsZero() && latest.Sub(earliest) > tol {
			return rejectf("group deadlines spread %s apart, tolerance %s",
				latest.Sub(earliest), tol)
		}
	case models.StrategyImplication, models.StrategyTemporal:
		antecedent, consequent := implicationPair(opp, byID)
		if antecedent == nil || consequent == nil {
			return nil
		}
		if antecedent.EndTime.IsZero() || consequent.EndTime.IsZero() {
			return nil
		}
		if consequent.EndTime.Before(antecedent.EndTime.Add(-tol)) {
			return rejectf("consequent %s settles before antecedent %s",
				consequent.ID, antecedent.ID)
		}
	}
	return nil
}

// checkThresholdDirection re-parses both legs of a ladder-shaped trade.
// When both questions are thresholds on the same asset and direction,
// the NO leg must be the stricter level; an analyzer verdict cannot
// override the parsed ordering.
func (e *Engine) checkThresholdDirection(opp *models.Opportunity, byID map[string]*models.Market) error {
	switch opp.Strategy {
	case models.StrategyMonotonicity, models.StrategyImplication, models.StrategyTemporal:
	default:
		return nil
	}
	antecedent, consequent := implicationPair(opp, byID)
	if antecedent == nil || consequent == nil {
		return nil
	}
	tNo, err := parser.ParseThreshold(antecedent.ID, antecedent.Question, antecedent.EndTime)
	if err != nil || tNo == nil {
		return nil
	}
	tYes, err := parser.ParseThreshold(consequent.ID, consequent.Question, consequent.EndTime)
	if err != nil || tYes == nil {
		return nil
	}
	if tNo.Asset != tYes.Asset || tNo.Direction != tYes.Direction ||
		tNo.Unit != tYes.Unit || tNo.Touch || tYes.Touch {
		return nil
	}
	if tNo.Level.Equal(tYes.Level) {
		return nil
	}
	strictNo := tNo.Level.GreaterThan(tYes.Level)
	if tNo.Direction == models.DirectionBelow {
		strictNo = tNo.Level.LessThan(tYes.Level)
	}
	if !strictNo {
		return rejectf("implication direction contradicts parsed levels: NO leg at %s, YES leg at %s",
			tNo.Level, tYes.Level)
	}
	return nil
}

// implicationPair resolves a two-leg trade into its NO-side antecedent
// and YES-side consequent. Baskets of any other shape return nils.
func implicationPair(opp *models.Opportunity, byID map[string]*models.Market) (antecedent, consequent *models.Market) {
	if len(opp.Legs) != 2 {
		return nil, nil
	}
	for _, leg := range opp.Legs {
		switch leg.Side {
		case models.SideNo:
			antecedent = byID[leg.MarketID]
		case models.SideYes:
			consequent = byID[leg.MarketID]
		}
	}
	return antecedent, consequent
}

func canonicalAuthority(source string) string {
	lower := strings.ToLower(source)
	for token, canonical := range oracleAuthorities {
		if strings.Contains(lower, token) {
			return canonical
		}
	}
	return strings.TrimSpace(lower)
}

// Layer 3: the money. Re-verify profitability on effective prices, then
// walk the books to price the target size on every leg and charge the
// slippage. A leg that cannot absorb the target, or whose book carries
// less than the depth floor near the best ask, kills the trade.
func (e *Engine) checkMathAndLiquidity(ctx context.Context, opp *models.Opportunity, byID map[string]*models.Market, _ time.Time) error {
	opp.RecomputeEconomics()
	if !opp.Cost.LessThan(opp.GuaranteedReturn.Sub(decimal.NewFromFloat(e.Params.ProfitEpsilon))) {
		return rejectf("cost %s leaves no margin against return %s", opp.Cost, opp.GuaranteedReturn)
	}

	books, tokenIDs, err := e.fetchBooks(ctx, opp, byID)
	if err != nil {
		return err
	}
	vwapCost, slippage, err := e.walkBooks(opp, books, tokenIDs)
	if err != nil {
		return err
	}
	opp.SlippageCost = slippage

	// The trade must survive its own market impact.
	if !vwapCost.LessThan(opp.GuaranteedReturn.Sub(decimal.NewFromFloat(e.Params.ProfitEpsilon))) {
		return rejectf("slippage-adjusted cost %s erases the margin", vwapCost.StringFixed(4))
	}
	return nil
}

func (e *Engine) fetchBooks(ctx context.Context, opp *models.Opportunity, byID map[string]*models.Market) (map[string]models.OrderBook, []string, error) {
	tokenIDs := make([]string, 0, len(opp.Legs))
	for _, leg := range opp.Legs {
		tokenIDs = append(tokenIDs, byID[leg.MarketID].TokenID(leg.Side))
	}
	books, err := e.Books.GetBooks(ctx, tokenIDs)
	if err != nil {
		return nil, nil, err
	}
	return books, tokenIDs, nil
}

// depthBand widens the best ask into the price band whose cumulative
// depth must clear the liquidity floor.
var depthBand = decimal.NewFromFloat(1.10)

// walkBooks prices the full target notional on every leg's ask side and
// totals the VWAP cost and the slippage beyond the current leg prices.
func (e *Engine) walkBooks(opp *models.Opportunity, books map[string]models.OrderBook, tokenIDs []string) (vwapCost, slippage decimal.Decimal, err error) {
	target := decimal.NewFromFloat(e.Params.TargetSizeUSD)
	minDepth := decimal.NewFromFloat(e.Params.MinLiquidityUSD)
	for i, leg := range opp.Legs {
		book := books[tokenIDs[i]]
		if book.IsEmpty() {
			return vwapCost, slippage, rejectf("INSUFFICIENT_LIQUIDITY: no book for leg %s %s",
				leg.MarketID, leg.Side)
		}
		depth := book.AskDepthUSD(book.BestAsk().Mul(depthBand))
		if depth.LessThan(minDepth) {
			return vwapCost, slippage, rejectf("INSUFFICIENT_LIQUIDITY: leg %s %s depth %s under floor %s",
				leg.MarketID, leg.Side, depth.StringFixed(0), minDepth.StringFixed(0))
		}
		vwap, ok := book.VWAPForNotional(target)
		if !ok {
			return vwapCost, slippage, rejectf("INSUFFICIENT_LIQUIDITY: leg %s %s cannot absorb %s",
				leg.MarketID, leg.Side, target.StringFixed(0))
		}
		vwapCost = vwapCost.Add(vwap)
		if vwap.GreaterThan(leg.BuyPrice) {
			slippage = slippage.Add(vwap.Sub(leg.BuyPrice))
		}
	}
	return vwapCost, slippage, nil
}

// Layer 4: annualized return. Thin profit locked up for months is not
// worth the oracle and fill risk. Lockup is recomputed here as the
// earliest leg resolution, whatever the strategy stamped at discovery.
func (e *Engine) checkAPY(_ context.Context, opp *models.Opportunity, byID map[string]*models.Market, now time.Time) error {
	days := -1.0
	for _, leg := range opp.Legs {
		m := byID[leg.MarketID]
		if m == nil || m.EndTime.IsZero() {
			continue
		}
		d := m.EndTime.Sub(now).Hours() / 24
		if d < 0 {
			d = 0
		}
		if days < 0 || d < days {
			days = d
		}
	}
	if days >= 0 {
		opp.DaysToResolution = days
	} else {
		days = opp.DaysToResolution
	}
	if days < 1 {
		days = 1
	}
	profitPct, _ := opp.ProfitPct.Float64()
	apy := profitPct * 365 / days
	opp.APY = apy
	switch {
	case apy >= 0.50:
		opp.APYRating = models.APYExcellent
	case apy >= 0.25:
		opp.APYRating = models.APYGood
	case apy >= e.Params.MinAPY:
		opp.APYRating = models.APYAcceptable
	default:
		opp.APYRating = models.APYReject
		return rejectf("apy %.1f%% under floor %.1f%% over %.0f days",
			apy*100, e.Params.MinAPY*100, days)
	}
	return nil
}

// Layer 5: the human-review checklist. Attaches context, never rejects.
func (e *Engine) attachChecklist(_ context.Context, opp *models.Opportunity, byID map[string]*models.Market, _ time.Time) error {
	items := []models.ChecklistItem{
		{Label: "strategy", Value: string(opp.Strategy)},
		{Label: "cost_per_basket", Value: opp.Cost.StringFixed(4)},
		{Label: "guaranteed_return", Value: opp.GuaranteedReturn.StringFixed(2)},
		{Label: "effective_profit", Value: opp.EffectiveProfit.StringFixed(4)},
		{Label: "slippage_at_target", Value: opp.SlippageCost.StringFixed(4)},
		{Label: "apy", Value: fmt.Sprintf("%.1f%% (%s)", opp.APY*100, opp.APYRating)},
		{Label: "oracle_alignment", Value: string(opp.OracleAlignment)},
		{Label: "days_to_resolution", Value: fmt.Sprintf("%.1f", opp.DaysToResolution)},
	}
	for _, leg := range opp.Legs {
		m := byID[leg.MarketID]
		items = append(items, models.ChecklistItem{
			Label: fmt.Sprintf("leg %s %s", leg.Side, leg.MarketID),
			Value: fmt.Sprintf("%q at %s, resolves %s", m.Question, leg.BuyPrice.StringFixed(4), m.EndTime.Format("2006-01-02")),
		})
	}
	if opp.Analysis != nil {
		items = append(items, models.ChecklistItem{
			Label: "model_verdict",
			Value: fmt.Sprintf("%s at %.2f: %s", opp.Analysis.Relation, opp.Analysis.Confidence, opp.Analysis.Reasoning),
		})
	}
	for _, w := range opp.Warnings {
		items = append(items, models.ChecklistItem{Label: "warning", Value: w})
	}
	opp.Checklist = items
	return nil
}

// Layer 6: pre-flight. Quotes moved while the candidate sat in the
// pipeline, so re-fetch fresh books, reprice every leg off the live best
// ask, and re-run the full execution audit. A plan whose margin degraded
// here was valid when discovered, so it is marked stale rather than
// rejected.
func (e *Engine) checkPreflight(ctx context.Context, opp *models.Opportunity, byID map[string]*models.Market, now time.Time) error {
	if e.Params.PlanMaxAge > 0 && now.Sub(opp.DiscoveredAt) > e.Params.PlanMaxAge {
		return stalef("candidate discovered more than %s ago", e.Params.PlanMaxAge)
	}

	books, tokenIDs, err := e.fetchBooks(ctx, opp, byID)
	if err != nil {
		return err
	}
	for i := range opp.Legs {
		ask := books[tokenIDs[i]].BestAsk()
		if !ask.IsPositive() {
			return stalef("no live ask for leg %s %s", opp.Legs[i].MarketID, opp.Legs[i].Side)
		}
		opp.Legs[i].BuyPrice = ask
	}
	opp.RecomputeEconomics()
	vwapCost, slippage, err := e.walkBooks(opp, books, tokenIDs)
	if err != nil {
		return stalef("degraded at pre-flight: %v", err)
	}
	opp.SlippageCost = slippage
	if !vwapCost.LessThan(opp.GuaranteedReturn.Sub(decimal.NewFromFloat(e.Params.ProfitEpsilon))) {
		return stalef("margin gone at pre-flight: live fill cost %s", vwapCost.StringFixed(4))
	}
	opp.PlanSnapshotAt = now
	return nil
}

// stalef marks a pre-flight degradation.
func stalef(format string, args ...any) error {
	return models.NewScanError(models.ErrStalePlan, fmt.Sprintf(format, args...), nil)
}
