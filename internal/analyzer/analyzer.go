package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"polyarb/internal/client/llm"
	"polyarb/internal/models"
)

// ChatClient is the completion surface the analyzer needs.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// promptVersion participates in the memo key so cached verdicts are
// invalidated when the prompt changes.
const promptVersion = "v2"

// Analyzer asks the language model how two market questions relate. One
// verdict per ordered pair per prompt version is cached for the lifetime
// of the analyzer; the budget caps total completions per scan.
type Analyzer struct {
	chat     ChatClient
	nLLM     int
	maxCalls int
	log      *zap.Logger

	mu    sync.Mutex
	memo  map[string]*models.RelationshipAnalysis
	calls int
}

func New(chat ChatClient, nLLM, maxCalls int, log *zap.Logger) *Analyzer {
	if nLLM <= 0 {
		nLLM = 3
	}
	if maxCalls <= 0 {
		maxCalls = 200
	}
	return &Analyzer{
		chat:     chat,
		nLLM:     nLLM,
		maxCalls: maxCalls,
		log:      log,
		memo:     make(map[string]*models.RelationshipAnalysis),
	}
}

// CallsUsed is the number of completions issued so far.
func (a *Analyzer) CallsUsed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Pair is one analysis request.
type Pair struct {
	A, B models.Market
}

// AnalyzePairs resolves many pairs with a bounded worker pool. Results
// are positional; a pair whose analysis failed terminally carries an
// INDEPENDENT zero-confidence verdict rather than a hole.
func (a *Analyzer) AnalyzePairs(ctx context.Context, pairs []Pair) ([]*models.RelationshipAnalysis, error) {
	results := make([]*models.RelationshipAnalysis, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.nLLM)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			res, err := a.AnalyzePair(gctx, p.A, p.B)
			if err != nil {
				if models.KindOf(err) == models.ErrAnalyzerBudgetExhausted {
					results[i] = independentVerdict(p.A.ID, p.B.ID, "llm_budget_exhausted")
					return nil
				}
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AnalyzePair returns the relation between two markets, consulting the
// memo first. A completion that cannot be parsed is retried once; a
// second failure degrades to INDEPENDENT with zero confidence.
func (a *Analyzer) AnalyzePair(ctx context.Context, ma, mb models.Market) (*models.RelationshipAnalysis, error) {
	key, swapped := memoKey(ma.ID, mb.ID)

	a.mu.Lock()
	if cached, ok := a.memo[key]; ok {
		a.mu.Unlock()
		return orient(cached, swapped), nil
	}
	if a.calls >= a.maxCalls {
		a.mu.Unlock()
		return nil, models.NewScanError(models.ErrAnalyzerBudgetExhausted,
			fmt.Sprintf("llm call budget of %d exhausted", a.maxCalls), nil)
	}
	a.calls++
	a.mu.Unlock()

	// Prompt always presents the pair in canonical order so the memo
	// stores one orientation.
	first, second := ma, mb
	if swapped {
		first, second = mb, ma
	}

	verdict := a.analyzeWithRetry(ctx, first, second)
	if verdict == nil {
		if err := ctx.Err(); err != nil {
			return nil, models.NewScanError(models.ErrCanceled, "pair analysis canceled", err)
		}
		verdict = independentVerdict(first.ID, second.ID, "parse_failure")
	}
	downgradeOnContradiction(verdict)

	a.mu.Lock()
	a.memo[key] = verdict
	a.mu.Unlock()
	return orient(verdict, swapped), nil
}

func (a *Analyzer) analyzeWithRetry(ctx context.Context, first, second models.Market) *models.RelationshipAnalysis {
	user := pairPrompt(first, second)
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := a.chat.Complete(ctx, systemPrompt, user)
		if err != nil {
			a.log.Warn("pair analysis completion failed",
				zap.String("market_a", first.ID),
				zap.String("market_b", second.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		verdict, err := parsePairVerdict(first.ID, second.ID, raw)
		if err != nil {
			a.log.Warn("pair analysis parse failed",
				zap.String("market_a", first.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		return verdict
	}
	return nil
}

// VerifyExhaustiveSet asks whether a market set is mutually exclusive and
// collectively exhaustive. Failures report incomplete with zero
// confidence so the strategy skips the set instead of trusting it.
func (a *Analyzer) VerifyExhaustiveSet(ctx context.Context, markets []models.Market) (*models.ExhaustiveVerification, error) {
	a.mu.Lock()
	if a.calls >= a.maxCalls {
		a.mu.Unlock()
		return nil, models.NewScanError(models.ErrAnalyzerBudgetExhausted,
			fmt.Sprintf("llm call budget of %d exhausted", a.maxCalls), nil)
	}
	a.calls++
	a.mu.Unlock()

	raw, err := a.chat.Complete(ctx, systemPrompt, exhaustivePrompt(markets))
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewScanError(models.ErrCanceled, "exhaustive verification canceled", ctx.Err())
		}
		return &models.ExhaustiveVerification{IsComplete: false, Confidence: 0}, nil
	}
	text, ok := llm.ExtractJSON(raw)
	if !ok {
		return &models.ExhaustiveVerification{IsComplete: false, Confidence: 0}, nil
	}
	var wire struct {
		IsComplete   bool     `json:"is_complete"`
		Confidence   float64  `json:"confidence"`
		MissingCases []string `json:"missing_cases"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return &models.ExhaustiveVerification{IsComplete: false, Confidence: 0}, nil
	}
	return &models.ExhaustiveVerification{
		IsComplete:   wire.IsComplete,
		Confidence:   clamp01(wire.Confidence),
		MissingCases: wire.MissingCases,
	}, nil
}

func parsePairVerdict(idA, idB, raw string) (*models.RelationshipAnalysis, error) {
	text, ok := llm.ExtractJSON(raw)
	if !ok {
		return nil, models.NewScanError(models.ErrAnalyzerParseFailure, "no JSON object in completion", nil)
	}
	var wire struct {
		Relation             string   `json:"relation"`
		Confidence           float64  `json:"confidence"`
		Reasoning            string   `json:"reasoning"`
		EdgeCases            []string `json:"edge_cases"`
		ResolutionCompatible *bool    `json:"resolution_compatible"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, models.NewScanError(models.ErrAnalyzerParseFailure, "malformed verdict JSON", err)
	}
	if wire.Relation == "" {
		return nil, models.NewScanError(models.ErrAnalyzerParseFailure, "verdict missing relation", nil)
	}
	compatible := true
	if wire.ResolutionCompatible != nil {
		compatible = *wire.ResolutionCompatible
	}
	return &models.RelationshipAnalysis{
		MarketA:              idA,
		MarketB:              idB,
		Relation:             models.ParseRelation(wire.Relation),
		Confidence:           clamp01(wire.Confidence),
		Reasoning:            wire.Reasoning,
		EdgeCases:            wire.EdgeCases,
		ResolutionCompatible: compatible,
	}, nil
}

// contradictionMarkers are reasoning phrases that deny the relation the
// verdict claims. A verdict whose own reasoning denies it is not usable
// at any confidence.
var contradictionMarkers = []string{
	"not related",
	"unrelated",
	"no implication",
	"does not imply",
	"doesn't imply",
	"cannot conclude",
	"not equivalent",
	"independent of each other",
	"no logical connection",
}

// relationAssertions are reasoning phrases that positively assert a
// relation. A verdict whose reasoning asserts a relation other than the
// one it declares is rewritten to INDEPENDENT before any strategy sees
// it.
var relationAssertions = []struct {
	phrase   string
	relation models.RelationType
}{
	{"mutually exclusive", models.RelationMutualExclusive},
	{"cannot both resolve yes", models.RelationMutualExclusive},
	{"cannot both be true", models.RelationMutualExclusive},
	{"are equivalent", models.RelationEquivalent},
	{"resolve the same way", models.RelationEquivalent},
	{"are independent", models.RelationIndependent},
}

// negatedAssertions are stripped before the assertion scan so a denial
// like "not mutually exclusive" never reads as an assertion.
var negatedAssertions = []string{
	"not mutually exclusive",
	"not equivalent",
	"not independent",
}

func downgradeOnContradiction(v *models.RelationshipAnalysis) {
	if v.Relation == models.RelationIndependent {
		return
	}
	reasoning := strings.ToLower(v.Reasoning)
	for _, marker := range contradictionMarkers {
		if strings.Contains(reasoning, marker) {
			v.Downgrade("reasoning_contradicts_relation: " + marker)
			return
		}
	}
	for _, neg := range negatedAssertions {
		reasoning = strings.ReplaceAll(reasoning, neg, "")
	}
	for _, a := range relationAssertions {
		if strings.Contains(reasoning, a.phrase) && a.relation != v.Relation &&
			!compatibleRelations(a.relation, v.Relation) {
			v.Downgrade("reasoning_asserts_" + string(a.relation) + "_not_" + string(v.Relation))
			return
		}
	}
}

// compatibleRelations reports assertion pairs that can hold together: a
// partition is both mutually exclusive and exhaustive.
func compatibleRelations(a, b models.RelationType) bool {
	return (a == models.RelationMutualExclusive && b == models.RelationExhaustive) ||
		(a == models.RelationExhaustive && b == models.RelationMutualExclusive)
}

func independentVerdict(idA, idB, reason string) *models.RelationshipAnalysis {
	return &models.RelationshipAnalysis{
		MarketA:              idA,
		MarketB:              idB,
		Relation:             models.RelationIndependent,
		Confidence:           0,
		Reasoning:            reason,
		ResolutionCompatible: false,
	}
}

// memoKey orders the pair lexicographically; swapped reports that the
// caller's orientation differs from the stored one.
func memoKey(idA, idB string) (string, bool) {
	if idA <= idB {
		return promptVersion + "|" + idA + "|" + idB, false
	}
	return promptVersion + "|" + idB + "|" + idA, true
}

// orient flips direction-sensitive relations when the caller asked for
// the reverse orientation of the memoized verdict.
func orient(v *models.RelationshipAnalysis, swapped bool) *models.RelationshipAnalysis {
	if !swapped {
		return v
	}
	flipped := *v
	flipped.MarketA, flipped.MarketB = v.MarketB, v.MarketA
	switch v.Relation {
	case models.RelationImpliesAB:
		flipped.Relation = models.RelationImpliesBA
	case models.RelationImpliesBA:
		flipped.Relation = models.RelationImpliesAB
	}
	return &flipped
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
