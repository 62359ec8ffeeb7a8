package validation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"polyarb/internal/models"
)

// BookFetcher provides order books for pre-flight audits. Satisfied by
// the clob client.
type BookFetcher interface {
	GetBooks(ctx context.Context, tokenIDs []string) (map[string]models.OrderBook, error)
}

// Params are the validation gates.
type Params struct {
	TargetSizeUSD     float64
	MinLiquidityUSD   float64
	MinAPY            float64
	ProfitEpsilon     float64
	PlanMaxAge        time.Duration
	DeadlineTolerance time.Duration
}

// Engine runs a candidate opportunity through the validation layers in
// order, recording a trail entry per layer. The first failing layer
// rejects the candidate; layer five never rejects, it only attaches the
// review checklist.
type Engine struct {
	Params Params
	Books  BookFetcher
	Logger *zap.Logger
}

type layerFunc struct {
	number int
	name   string
	run    func(ctx context.Context, opp *models.Opportunity, byID map[string]*models.Market, now time.Time) error
}

// Validate mutates the opportunity in place: status, trail, checklist,
// economics. It returns nil even when the candidate is rejected; an
// error means validation itself could not run (cancellation, transport).
func (e *Engine) Validate(ctx context.Context, opp *models.Opportunity, byID map[string]*models.Market, now time.Time) error {
	opp.Status = models.StatusValidating
	layers := []layerFunc{
		{1, "semantic", e.checkSemantic},
		{2, "rules_and_oracle", e.checkRulesAndOracle},
		{3, "math_and_liquidity", e.checkMathAndLiquidity},
		{4, "apy", e.checkAPY},
		{5, "checklist", e.attachChecklist},
		{6, "preflight", e.checkPreflight},
	}
	for _, layer := range layers {
		start := time.Now()
		err := layer.run(ctx, opp, byID, now)
		entry := models.TrailEntry{
			Layer:   layer.number,
			Name:    layer.name,
			Passed:  err == nil,
			Elapsed: time.Since(start).Milliseconds(),
		}
		if err != nil {
			kind := models.KindOf(err)
			if kind == models.ErrCanceled || kind == models.ErrSourceUnavailable {
				return err
			}
			entry.Reason = err.Error()
			opp.ValidationTrail = append(opp.ValidationTrail, entry)
			opp.Reject(layer.number, err.Error())
			if kind == models.ErrStalePlan {
				opp.Status = models.StatusStale
			}
			if e.Logger != nil {
				e.Logger.Debug("candidate rejected",
					zap.String("strategy", string(opp.Strategy)),
					zap.Int("layer", layer.number),
					zap.String("reason", err.Error()))
			}
			return nil
		}
		opp.ValidationTrail = append(opp.ValidationTrail, entry)
	}
	opp.Status = models.StatusAccepted
	return nil
}

// rejectf builds a layer rejection.
func rejectf(format string, args ...any) error {
	return models.NewScanError(models.ErrValidationReject, fmt.Sprintf(format, args...), nil)
}
