package strategy

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"polyarb/internal/models"
)

// ExhaustiveVerifier checks whether a market set partitions its outcome
// space. Satisfied by the analyzer.
type ExhaustiveVerifier interface {
	VerifyExhaustiveSet(ctx context.Context, markets []models.Market) (*models.ExhaustiveVerification, error)
}

// Exhaustive buys YES across complete outcome sets priced under one
// dollar. Venue neg-risk groups are trusted as-is; other candidate sets
// must be verified before they are priced.
type Exhaustive struct {
	Params   Params
	Verifier ExhaustiveVerifier
	Logger   *zap.Logger

	// MaxSetSize bounds verification requests; sets larger than this
	// are skipped rather than sent to the model.
	MaxSetSize int
}

func (s *Exhaustive) Name() models.StrategyName { return models.StrategyExhaustive }

func (s *Exhaustive) Find(ctx context.Context, in *Inputs) ([]*models.Opportunity, error) {
	maxSet := s.MaxSetSize
	if maxSet <= 0 {
		maxSet = 8
	}

	byEvent := make(map[string][]*models.Market)
	for i := range in.Markets {
		m := &in.Markets[i]
		if m.EventID != "" {
			byEvent[m.EventID] = append(byEvent[m.EventID], m)
		}
	}
	eventIDs := make([]string, 0, len(byEvent))
	for id := range byEvent {
		eventIDs = append(eventIDs, id)
	}
	sort.Strings(eventIDs)

	var out []*models.Opportunity
	verified := make(map[string]bool)
	for _, eventID := range eventIDs {
		if err := ctx.Err(); err != nil {
			return nil, models.NewScanError(models.ErrCanceled, "exhaustive scan canceled", err)
		}
		set := byEvent[eventID]
		if len(set) < 2 || len(set) > maxSet {
			continue
		}
		confidence := 1.0
		negRisk := true
		for _, m := range set {
			if !m.NegRisk {
				negRisk = false
				break
			}
		}
		if !negRisk {
			if s.Verifier == nil {
				continue
			}
			ms := make([]models.Market, len(set))
			for i, m := range set {
				ms[i] = *m
			}
			v, err := s.Verifier.VerifyExhaustiveSet(ctx, ms)
			if err != nil {
				if models.KindOf(err) == models.ErrAnalyzerBudgetExhausted {
					break
				}
				return nil, err
			}
			if !v.IsComplete || v.Confidence < s.Params.ExhConfidence {
				continue
			}
			verified[eventID] = true
			confidence = v.Confidence
		}

		legs := make([]legSpec, 0, len(set))
		for _, m := range set {
			legs = append(legs, legSpec{market: m, side: models.SideYes})
		}
		opp := newOpportunity(s.Name(), in.Now, legs...)
		if !profitable(opp, s.Params.ExhaustiveEpsilon) {
			continue
		}
		source := "neg-risk flag"
		if verified[eventID] {
			source = "verified partition"
		}
		opp.Analysis = &models.RelationshipAnalysis{
			Relation:             models.RelationExhaustive,
			Confidence:           confidence,
			Reasoning:            fmt.Sprintf("complete partition of event %s (%s)", eventID, source),
			ResolutionCompatible: true,
		}
		opp.Warnings = append(opp.Warnings, fmt.Sprintf(
			"exhaustive set of %d outcomes (%s) priced at %s",
			len(set), source, opp.Cost.StringFixed(4)))
		if s.Logger != nil {
			s.Logger.Info("exhaustive set underpriced",
				zap.String("event_id", eventID),
				zap.Int("outcomes", len(set)),
				zap.String("cost", opp.Cost.StringFixed(4)))
		}
		out = append(out, opp)
	}
	return out, nil
}
