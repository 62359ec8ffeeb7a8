package scan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"polyarb/internal/config"
	"polyarb/internal/models"
	"polyarb/internal/parser"
	"polyarb/internal/strategy"
)

// Catalog supplies the market snapshot. Satisfied by the gamma client.
type Catalog interface {
	FetchMarkets(ctx context.Context, tags []string, limit int) ([]models.Market, error)
}

// Clusterer groups markets for pairwise analysis. Satisfied by the
// cluster package.
type Clusterer interface {
	Cluster(ctx context.Context, markets []models.Market) ([][]models.Market, error)
}

// Validator runs a candidate through the validation layers. Satisfied by
// the validation engine.
type Validator interface {
	Validate(ctx context.Context, opp *models.Opportunity, byID map[string]*models.Market, now time.Time) error
}

// CallCounter reports analyzer usage for the scan report.
type CallCounter interface {
	CallsUsed() int
}

// Orchestrator runs one full scan: snapshot the catalog, derive the
// strategy inputs once, fan the strategies out over a bounded pool,
// then funnel candidates through dedup and validation.
type Orchestrator struct {
	Catalog    Catalog
	Clusterer  Clusterer
	Strategies []strategy.Strategy
	Validator  Validator
	Analyzer   CallCounter
	Cfg        config.ScanConfig
	Logger     *zap.Logger

	// StrategyPool bounds concurrently running strategies; CandidateBuf
	// is the backpressure window between strategies and validation.
	StrategyPool int
	CandidateBuf int
}

// Run executes one scan. The returned report is always non-nil once the
// catalog has been fetched; on cancellation it is partial and marked.
func (o *Orchestrator) Run(ctx context.Context) (*models.ScanReport, error) {
	now := time.Now().UTC()
	report := &models.ScanReport{
		ScanID:            uuid.NewString(),
		StartedAt:         now,
		RejectionsSummary: map[string]int{},
	}
	for _, s := range o.Strategies {
		report.StrategiesRun = append(report.StrategiesRun, string(s.Name()))
	}

	markets, err := o.Catalog.FetchMarkets(ctx, o.Cfg.Tags, o.Cfg.MarketLimit)
	if err != nil {
		return nil, err
	}
	open := markets[:0]
	for _, m := range markets {
		if m.Active && !m.Closed {
			open = append(open, m)
		}
	}
	markets = open
	report.MarketsConsidered = len(markets)

	in := strategy.NewInputs(markets, now)
	o.deriveStructures(in, report)
	o.deriveClusters(ctx, in, report)

	accepted, canceled := o.runStrategies(ctx, in, report, now)
	report.Opportunities = accepted
	report.Canceled = canceled
	if o.Analyzer != nil {
		report.LLMCallsUsed = o.Analyzer.CallsUsed()
	}
	report.FinishedAt = time.Now().UTC()

	o.Logger.Info("scan finished",
		zap.String("scan_id", report.ScanID),
		zap.Int("markets", report.MarketsConsidered),
		zap.Int("accepted", len(report.Opportunities)),
		zap.Int("llm_calls", report.LLMCallsUsed),
		zap.Bool("canceled", report.Canceled))

	if canceled {
		return report, models.NewScanError(models.ErrCanceled, "scan canceled", ctx.Err())
	}
	return report, nil
}

// deriveStructures parses every question once. Ambiguous parses become
// report warnings, not failures.
func (o *Orchestrator) deriveStructures(in *strategy.Inputs, report *models.ScanReport) {
	for i := range in.Markets {
		m := &in.Markets[i]
		t, err := parser.ParseThreshold(m.ID, m.Question, m.EndTime)
		if err != nil {
			report.Warnings = append(report.Warnings, err.Error())
			continue
		}
		if t != nil {
			in.Thresholds = append(in.Thresholds, t)
			continue
		}
		iv, err := parser.ParseInterval(m.ID, m.Question, m.EndTime)
		if err != nil {
			report.Warnings = append(report.Warnings, err.Error())
			continue
		}
		if iv != nil {
			in.Intervals = append(in.Intervals, iv)
		}
	}
}

// deriveClusters is best effort: the structural strategies still run
// when the embedding service is down.
func (o *Orchestrator) deriveClusters(ctx context.Context, in *strategy.Inputs, report *models.ScanReport) {
	if o.Clusterer == nil {
		return
	}
	clusters, err := o.Clusterer.Cluster(ctx, in.Markets)
	if err != nil {
		report.Warnings = append(report.Warnings, "clustering unavailable: "+err.Error())
		o.Logger.Warn("clustering failed, model strategies will see no pairs", zap.Error(err))
		return
	}
	in.Clusters = clusters
}

// runStrategies fans the strategies out and consumes their candidates
// through dedup and validation. On cancellation the consumer keeps
// draining so no producer blocks on the channel.
func (o *Orchestrator) runStrategies(ctx context.Context, in *strategy.Inputs, report *models.ScanReport, now time.Time) (accepted []models.Opportunity, canceled bool) {
	pool := o.StrategyPool
	if pool <= 0 {
		pool = 4
	}
	buf := o.CandidateBuf
	if buf <= 0 {
		buf = 64
	}

	candidates := make(chan *models.Opportunity, buf)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool)

	warnings := make(chan string, len(o.Strategies))
	for _, s := range o.Strategies {
		s := s
		g.Go(func() error {
			found, err := s.Find(gctx, in)
			if err != nil {
				if models.KindOf(err) == models.ErrCanceled || gctx.Err() != nil {
					return err
				}
				warnings <- string(s.Name()) + " failed: " + err.Error()
				return nil
			}
			for _, opp := range found {
				select {
				case candidates <- opp:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(warnings)
		close(candidates)
	}()

	seen := make(map[string]bool)
	for opp := range candidates {
		if canceled || ctx.Err() != nil {
			canceled = true
			continue
		}
		key := opp.CanonicalKey()
		if seen[key] {
			report.AddRejection("duplicate")
			continue
		}
		seen[key] = true
		if opp.ID == "" {
			opp.ID = uuid.NewString()
		}

		if err := o.Validator.Validate(ctx, opp, in.ByID, time.Now().UTC()); err != nil {
			if models.KindOf(err) == models.ErrCanceled || ctx.Err() != nil {
				canceled = true
				continue
			}
			report.Warnings = append(report.Warnings, "validation error: "+err.Error())
			continue
		}
		switch opp.Status {
		case models.StatusAccepted:
			accepted = append(accepted, *opp)
		case models.StatusStale:
			report.AddRejection("stale")
		default:
			report.AddRejection(layerLabel(opp.RejectLayer))
		}
	}
	for w := range warnings {
		report.Warnings = append(report.Warnings, w)
	}
	if ctx.Err() != nil {
		canceled = true
	}
	return accepted, canceled
}

func layerLabel(layer int) string {
	switch layer {
	case 1:
		return "semantic"
	case 2:
		return "rules_and_oracle"
	case 3:
		return "math_and_liquidity"
	case 4:
		return "apy"
	case 5:
		return "checklist"
	case 6:
		return "preflight"
	default:
		return "unknown"
	}
}
