package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyarb/internal/config"
	"polyarb/internal/models"
	"polyarb/internal/strategy"
)

type fakeCatalog struct {
	markets []models.Market
	err     error
}

func (f *fakeCatalog) FetchMarkets(_ context.Context, _ []string, _ int) ([]models.Market, error) {
	return f.markets, f.err
}

type fakeClusterer struct {
	clusters [][]models.Market
	err      error
}

func (f *fakeClusterer) Cluster(_ context.Context, _ []models.Market) ([][]models.Market, error) {
	return f.clusters, f.err
}

// fakeStrategy emits scripted candidates, optionally canceling the scan
// or failing outright first.
type fakeStrategy struct {
	name   models.StrategyName
	opps   []*models.Opportunity
	err    error
	cancel context.CancelFunc
	seen   *strategy.Inputs
}

func (f *fakeStrategy) Name() models.StrategyName { return f.name }

func (f *fakeStrategy) Find(_ context.Context, in *strategy.Inputs) ([]*models.Opportunity, error) {
	f.seen = in
	if f.cancel != nil {
		f.cancel()
	}
	return f.opps, f.err
}

// fakeValidator stamps each candidate with a scripted outcome keyed by
// canonical key. Unscripted candidates are accepted.
type fakeValidator struct {
	rejectLayer map[string]int
	stale       map[string]bool
	err         error
}

func (f *fakeValidator) Validate(_ context.Context, opp *models.Opportunity, _ map[string]*models.Market, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	key := opp.CanonicalKey()
	if f.stale[key] {
		opp.Status = models.StatusStale
		return nil
	}
	if layer, ok := f.rejectLayer[key]; ok {
		opp.Reject(layer, "scripted rejection")
		return nil
	}
	opp.Status = models.StatusAccepted
	return nil
}

type fakeCounter struct{ calls int }

func (f *fakeCounter) CallsUsed() int { return f.calls }

func openMarket(id, question string, end time.Time) models.Market {
	return models.Market{
		ID:         id,
		TokenIDYes: id + "-yes",
		TokenIDNo:  id + "-no",
		Question:   question,
		EndTime:    end,
		Active:     true,
		YesMid:     decimal.RequireFromString("0.50"),
		NoMid:      decimal.RequireFromString("0.50"),
	}
}

func candidate(name models.StrategyName, marketIDs ...string) *models.Opportunity {
	opp := &models.Opportunity{
		Strategy:         name,
		Status:           models.StatusPending,
		GuaranteedReturn: decimal.NewFromInt(1),
		DiscoveredAt:     time.Now().UTC(),
	}
	for _, id := range marketIDs {
		opp.Legs = append(opp.Legs, models.Leg{
			MarketID: id,
			Side:     models.SideYes,
			BuyPrice: decimal.RequireFromString("0.45"),
		})
	}
	opp.RecomputeEconomics()
	return opp
}

func newOrchestrator(catalog Catalog, strategies []strategy.Strategy, validator Validator) *Orchestrator {
	return &Orchestrator{
		Catalog:    catalog,
		Strategies: strategies,
		Validator:  validator,
		Cfg:        config.ScanConfig{Tags: []string{"crypto"}, MarketLimit: 500},
		Logger:     zap.NewNop(),
	}
}

func TestRunFullPipeline(t *testing.T) {
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	closed := openMarket("m3", "Will Solana be above $500 on June 30?", end)
	closed.Closed = true
	catalog := &fakeCatalog{markets: []models.Market{
		openMarket("m1", "Will Bitcoin be above $100,000 on December 31?", end),
		openMarket("m2", "Will Bitcoin be above $120,000 on December 31?", end),
		closed,
	}}

	winner := candidate(models.StrategyMonotonicity, "m1", "m2")
	duplicate := candidate(models.StrategyMonotonicity, "m2", "m1")
	loser := candidate(models.StrategyTemporal, "m1", "m2")

	sa := &fakeStrategy{name: models.StrategyMonotonicity, opps: []*models.Opportunity{winner, duplicate}}
	sb := &fakeStrategy{name: models.StrategyTemporal, opps: []*models.Opportunity{loser}}
	validator := &fakeValidator{rejectLayer: map[string]int{loser.CanonicalKey(): 3}}

	o := newOrchestrator(catalog, []strategy.Strategy{sa, sb}, validator)
	o.Analyzer = &fakeCounter{calls: 7}

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ScanID == "" {
		t.Fatal("expected a scan id")
	}
	if report.MarketsConsidered != 2 {
		t.Fatalf("considered = %d, want 2 after dropping the closed market", report.MarketsConsidered)
	}
	if len(report.Opportunities) != 1 {
		t.Fatalf("accepted = %d, want 1", len(report.Opportunities))
	}
	if report.Opportunities[0].Status != models.StatusAccepted {
		t.Fatalf("status = %s", report.Opportunities[0].Status)
	}
	if report.Opportunities[0].ID == "" {
		t.Fatal("accepted opportunity has no id")
	}
	if report.RejectionsSummary["duplicate"] != 1 {
		t.Fatalf("duplicate rejections = %d, want 1", report.RejectionsSummary["duplicate"])
	}
	if report.RejectionsSummary["math_and_liquidity"] != 1 {
		t.Fatalf("layer 3 rejections = %d, want 1", report.RejectionsSummary["math_and_liquidity"])
	}
	if report.LLMCallsUsed != 7 {
		t.Fatalf("llm calls = %d, want 7", report.LLMCallsUsed)
	}
	if len(report.StrategiesRun) != 2 {
		t.Fatalf("strategies run = %v", report.StrategiesRun)
	}
	if report.Canceled {
		t.Fatal("scan should not be canceled")
	}
	if report.FinishedAt.Before(report.StartedAt) {
		t.Fatal("finished before started")
	}
}

func TestRunDerivesStructures(t *testing.T) {
	end := time.Now().UTC().Add(60 * 24 * time.Hour)
	catalog := &fakeCatalog{markets: []models.Market{
		openMarket("m1", "Will Bitcoin be above $100,000 on December 31?", end),
		openMarket("m2", "Will Ethereum be between $3,000 and $4,000 on December 31?", end),
		openMarket("m3", "Will Bitcoin or Ethereum be above $100,000 on December 31?", end),
	}}
	probe := &fakeStrategy{name: models.StrategyInterval}
	o := newOrchestrator(catalog, []strategy.Strategy{probe}, &fakeValidator{})

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if probe.seen == nil {
		t.Fatal("strategy never ran")
	}
	if len(probe.seen.Thresholds) != 1 || probe.seen.Thresholds[0].MarketID != "m1" {
		t.Fatalf("thresholds = %+v, want m1 only", probe.seen.Thresholds)
	}
	if len(probe.seen.Intervals) != 1 || probe.seen.Intervals[0].MarketID != "m2" {
		t.Fatalf("intervals = %+v, want m2 only", probe.seen.Intervals)
	}
	// The two-asset question is ambiguous and surfaces as a warning.
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", report.Warnings)
	}
}

func TestRunClusteringDegrades(t *testing.T) {
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	catalog := &fakeCatalog{markets: []models.Market{
		openMarket("m1", "Will Bitcoin be above $100,000 on December 31?", end),
	}}
	probe := &fakeStrategy{name: models.StrategyImplication}
	o := newOrchestrator(catalog, []strategy.Strategy{probe}, &fakeValidator{})
	o.Clusterer = &fakeClusterer{err: errors.New("embedding service down")}

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings = %v, want the clustering warning", report.Warnings)
	}
	if probe.seen == nil || probe.seen.Clusters != nil {
		t.Fatal("strategies should still run, with no clusters")
	}
}

func TestRunCatalogFailureAborts(t *testing.T) {
	srcErr := models.NewScanError(models.ErrSourceUnavailable, "gamma down", nil)
	o := newOrchestrator(&fakeCatalog{err: srcErr}, nil, &fakeValidator{})

	report, err := o.Run(context.Background())
	if report != nil {
		t.Fatal("no report without a snapshot")
	}
	if models.KindOf(err) != models.ErrSourceUnavailable {
		t.Fatalf("err = %v", err)
	}
}

func TestRunStrategyFailureIsIsolated(t *testing.T) {
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	catalog := &fakeCatalog{markets: []models.Market{
		openMarket("m1", "Will Bitcoin be above $100,000 on December 31?", end),
		openMarket("m2", "Will Bitcoin be above $120,000 on December 31?", end),
	}}
	good := candidate(models.StrategyInterval, "m1", "m2")
	broken := &fakeStrategy{name: models.StrategyEquivalent, err: errors.New("boom")}
	working := &fakeStrategy{name: models.StrategyInterval, opps: []*models.Opportunity{good}}

	o := newOrchestrator(catalog, []strategy.Strategy{broken, working}, &fakeValidator{})
	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Opportunities) != 1 {
		t.Fatalf("accepted = %d, want the working strategy's find", len(report.Opportunities))
	}
	found := false
	for _, w := range report.Warnings {
		if w == "EQUIVALENT failed: boom" {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want the strategy failure recorded", report.Warnings)
	}
}

func TestRunCancellation(t *testing.T) {
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	catalog := &fakeCatalog{markets: []models.Market{
		openMarket("m1", "Will Bitcoin be above $100,000 on December 31?", end),
		openMarket("m2", "Will Bitcoin be above $120,000 on December 31?", end),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	// The strategy cancels the scan before handing its candidates over,
	// so nothing downstream of it may validate.
	s := &fakeStrategy{
		name:   models.StrategyMonotonicity,
		opps:   []*models.Opportunity{candidate(models.StrategyMonotonicity, "m1", "m2")},
		cancel: cancel,
	}
	o := newOrchestrator(catalog, []strategy.Strategy{s}, &fakeValidator{})

	report, err := o.Run(ctx)
	if report == nil {
		t.Fatal("canceled scans still return the partial report")
	}
	if !report.Canceled {
		t.Fatal("report not marked canceled")
	}
	if models.KindOf(err) != models.ErrCanceled {
		t.Fatalf("err = %v, want CANCELED", err)
	}
	if len(report.Opportunities) != 0 {
		t.Fatalf("accepted = %d after cancellation", len(report.Opportunities))
	}
}

func TestRunStaleCandidate(t *testing.T) {
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	catalog := &fakeCatalog{markets: []models.Market{
		openMarket("m1", "Will Bitcoin be above $100,000 on December 31?", end),
		openMarket("m2", "Will Bitcoin be above $120,000 on December 31?", end),
	}}
	old := candidate(models.StrategyTemporal, "m1", "m2")
	s := &fakeStrategy{name: models.StrategyTemporal, opps: []*models.Opportunity{old}}
	validator := &fakeValidator{stale: map[string]bool{old.CanonicalKey(): true}}

	o := newOrchestrator(catalog, []strategy.Strategy{s}, validator)
	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RejectionsSummary["stale"] != 1 {
		t.Fatalf("stale count = %d, want 1", report.RejectionsSummary["stale"])
	}
}
