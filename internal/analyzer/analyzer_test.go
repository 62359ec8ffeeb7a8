package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyarb/internal/models"
)

// scriptedChat returns canned completions in call order.
type scriptedChat struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedChat) Complete(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func mkt(id, q string) models.Market {
	return models.Market{ID: id, Question: q}
}

const goodVerdict = `{"relation": "IMPLIES_AB", "confidence": 0.95,
 "reasoning": "A at a higher level guarantees B", "edge_cases": [],
 "resolution_compatible": true}`

func TestAnalyzePairParsesVerdict(t *testing.T) {
	chat := &scriptedChat{responses: []string{goodVerdict}}
	a := New(chat, 2, 10, zap.NewNop())

	res, err := a.AnalyzePair(context.Background(), mkt("a", "above 110k"), mkt("b", "above 100k"))
	if err != nil {
		t.Fatalf("AnalyzePair: %v", err)
	}
	if res.Relation != models.RelationImpliesAB || res.Confidence != 0.95 {
		t.Fatalf("unexpected verdict: %+v", res)
	}
}

func TestAnalyzePairMemoizesAndOrients(t *testing.T) {
	chat := &scriptedChat{responses: []string{goodVerdict}}
	a := New(chat, 2, 10, zap.NewNop())

	first, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2"))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := a.AnalyzePair(context.Background(), mkt("b", "q2"), mkt("a", "q1"))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if chat.calls != 1 {
		t.Fatalf("expected 1 completion, got %d", chat.calls)
	}
	if first.Relation != models.RelationImpliesAB {
		t.Fatalf("canonical orientation wrong: %+v", first)
	}
	if second.Relation != models.RelationImpliesBA {
		t.Fatalf("reversed orientation not flipped: %+v", second)
	}
	if second.MarketA != "b" || second.MarketB != "a" {
		t.Fatalf("reversed ids not swapped: %+v", second)
	}
}

func TestAnalyzePairRecoversFencedJSON(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		"Sure, here is the analysis:\n```json\n" + goodVerdict + "\n```\nHope that helps.",
	}}
	a := New(chat, 1, 10, zap.NewNop())
	res, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2"))
	if err != nil {
		t.Fatalf("AnalyzePair: %v", err)
	}
	if res.Relation != models.RelationImpliesAB {
		t.Fatalf("unexpected verdict: %+v", res)
	}
}

func TestAnalyzePairRetriesOnceThenDegrades(t *testing.T) {
	chat := &scriptedChat{responses: []string{"not json at all", "still not json"}}
	a := New(chat, 1, 10, zap.NewNop())
	res, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2"))
	if err != nil {
		t.Fatalf("AnalyzePair: %v", err)
	}
	if chat.calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", chat.calls)
	}
	if res.Relation != models.RelationIndependent || res.Confidence != 0 {
		t.Fatalf("expected degraded verdict, got %+v", res)
	}
	if res.Reasoning != "parse_failure" {
		t.Fatalf("degraded verdict should be marked: %+v", res)
	}
}

func TestAnalyzePairBudget(t *testing.T) {
	chat := &scriptedChat{responses: []string{goodVerdict}}
	a := New(chat, 1, 1, zap.NewNop())

	if _, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2")); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := a.AnalyzePair(context.Background(), mkt("c", "q3"), mkt("d", "q4"))
	if models.KindOf(err) != models.ErrAnalyzerBudgetExhausted {
		t.Fatalf("expected budget error, got %v", err)
	}
	// Memoized pairs stay available after the budget is gone.
	if _, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2")); err != nil {
		t.Fatalf("memoized call after budget: %v", err)
	}
	if a.CallsUsed() != 1 {
		t.Fatalf("CallsUsed = %d, want 1", a.CallsUsed())
	}
}

func TestContradictionDowngrade(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"relation": "EQUIVALENT", "confidence": 0.9,
		  "reasoning": "These markets are not equivalent because the deadlines differ",
		  "resolution_compatible": true}`,
	}}
	a := New(chat, 1, 10, zap.NewNop())
	res, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2"))
	if err != nil {
		t.Fatalf("AnalyzePair: %v", err)
	}
	if res.Relation != models.RelationIndependent || res.Confidence != 0 {
		t.Fatalf("self-contradicting verdict not downgraded: %+v", res)
	}
}

func TestContradictionDowngradeOnAssertedRelation(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"relation": "IMPLIES_AB", "confidence": 0.95,
		  "reasoning": "These markets are mutually exclusive",
		  "resolution_compatible": true}`,
	}}
	a := New(chat, 1, 10, zap.NewNop())
	res, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2"))
	if err != nil {
		t.Fatalf("AnalyzePair: %v", err)
	}
	if res.Relation != models.RelationIndependent || res.Confidence != 0 {
		t.Fatalf("contradictory verdict not downgraded: relation=%s conf=%.2f", res.Relation, res.Confidence)
	}
	if len(res.EdgeCases) == 0 {
		t.Fatal("downgrade did not record the contradiction")
	}
}

func TestContradictionSparesConsistentVerdicts(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"relation": "MUTUAL_EXCLUSIVE", "confidence": 0.9,
		  "reasoning": "The outcomes are mutually exclusive by the rules",
		  "resolution_compatible": true}`,
		`{"relation": "EXHAUSTIVE", "confidence": 0.9,
		  "reasoning": "The set is mutually exclusive and covers every outcome",
		  "resolution_compatible": true}`,
	}}
	a := New(chat, 1, 10, zap.NewNop())
	me, err := a.AnalyzePair(context.Background(), mkt("a", "q1"), mkt("b", "q2"))
	if err != nil {
		t.Fatalf("AnalyzePair: %v", err)
	}
	if me.Relation != models.RelationMutualExclusive {
		t.Fatalf("consistent verdict downgraded: %+v", me)
	}
	ex, err := a.AnalyzePair(context.Background(), mkt("c", "q3"), mkt("d", "q4"))
	if err != nil {
		t.Fatalf("AnalyzePair: %v", err)
	}
	if ex.Relation != models.RelationExhaustive {
		t.Fatalf("exclusivity wording over an exhaustive verdict downgraded: %+v", ex)
	}
}

func TestPairPromptCarriesRulesAndPrices(t *testing.T) {
	a := mkt("a", "Will BTC be above $120,000 on June 30?")
	a.EventDescription = "Resolves per the Coinbase BTC-USD close."
	a.YesMid = decimal.NewFromFloat(0.55)
	a.NoMid = decimal.NewFromFloat(0.45)
	b := mkt("b", "Will BTC be above $100,000 on June 30?")
	b.YesMid = decimal.NewFromFloat(0.40)
	b.NoMid = decimal.NewFromFloat(0.60)

	prompt := pairPrompt(a, b)
	for _, want := range []string{
		"Coinbase BTC-USD close",
		"YES 0.550",
		"YES 0.400",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestAnalyzePairsPoolBudgetExhaustion(t *testing.T) {
	chat := &scriptedChat{responses: []string{goodVerdict}}
	a := New(chat, 2, 1, zap.NewNop())
	pairs := []Pair{
		{A: mkt("a", "q1"), B: mkt("b", "q2")},
		{A: mkt("c", "q3"), B: mkt("d", "q4")},
	}
	results, err := a.AnalyzePairs(context.Background(), pairs)
	if err != nil {
		t.Fatalf("AnalyzePairs: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	degraded := 0
	for _, r := range results {
		if r == nil {
			t.Fatal("nil result in pool output")
		}
		if r.Reasoning == "llm_budget_exhausted" {
			degraded++
		}
	}
	if degraded != 1 {
		t.Fatalf("expected exactly 1 budget-degraded verdict, got %d", degraded)
	}
}

func TestParseRelationUnknownCollapses(t *testing.T) {
	if got := models.ParseRelation("CAUSALLY_LINKED"); got != models.RelationIndependent {
		t.Fatalf("unknown relation should collapse to INDEPENDENT, got %s", got)
	}
}
