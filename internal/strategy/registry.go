package strategy

import (
	"go.uber.org/zap"
)

// Registry builds the enabled strategy set in a fixed evaluation order.
// An empty enabled list means all strategies.
func Registry(enabled []string, params Params, pairAnalyzer PairAnalyzer, verifier ExhaustiveVerifier, log *zap.Logger) []Strategy {
	all := []Strategy{
		&Monotonicity{Params: params, Logger: log},
		&Interval{Params: params, Logger: log},
		&Exhaustive{Params: params, Verifier: verifier, Logger: log},
		&Implication{Params: params, Analyzer: pairAnalyzer, Logger: log},
		&Equivalent{Params: params, Analyzer: pairAnalyzer, Logger: log},
		&Temporal{Params: params, Logger: log},
	}
	if len(enabled) == 0 {
		return all
	}
	want := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		want[name] = true
	}
	out := make([]Strategy, 0, len(all))
	for _, s := range all {
		if want[string(s.Name())] {
			out = append(out, s)
		}
	}
	return out
}
