package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ThresholdDirection says which side of the level the question asserts.
type ThresholdDirection string

const (
	DirectionAbove ThresholdDirection = "ABOVE"
	DirectionBelow ThresholdDirection = "BELOW"
)

// ThresholdInfo is the parsed structure of a threshold question
// ("Will BTC be above $100k by June 30?").
type ThresholdInfo struct {
	MarketID  string
	Asset     string
	Direction ThresholdDirection
	Level     decimal.Decimal
	Unit      string // "$", "%", or ""
	Deadline  time.Time

	// Touch marks "dip to"/"touch" phrasing whose semantics differ from
	// terminal-price questions; touch parses are excluded from ladders
	// and flagged for human review.
	Touch bool

	// Cumulative marks "by <date>" phrasing: the condition only needs to
	// hold at some point before the deadline, so an earlier deadline
	// implies a later one. Terminal "on <date>" questions do not nest.
	Cumulative bool
}

// GroupKey buckets thresholds into ladders: same asset, direction, unit
// and deadline phrasing, deadlines rounded to the grouping tolerance.
// Cumulative "by" questions never ladder against terminal "on" ones.
func (t ThresholdInfo) GroupKey(tolerance time.Duration) string {
	if tolerance <= 0 {
		tolerance = 24 * time.Hour
	}
	bucket := t.Deadline.UTC().Truncate(tolerance)
	phrasing := "on"
	if t.Cumulative {
		phrasing = "by"
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", t.Asset, t.Direction, t.Unit, phrasing, bucket.Format(time.RFC3339))
}

// IntervalInfo is the parsed structure of a range question
// ("Will ETH be between $3,500 and $4,000 on June 30?").
// Lower may be -Inf and Upper +Inf for half-open questions.
type IntervalInfo struct {
	MarketID       string
	Asset          string
	Lower          float64
	Upper          float64
	LowerInclusive bool
	UpperInclusive bool
	Unit           string
	Deadline       time.Time
}

// Bounded reports whether both edges are finite.
func (iv IntervalInfo) Bounded() bool {
	return !math.IsInf(iv.Lower, -1) && !math.IsInf(iv.Upper, 1)
}

// Contains reports whether the value falls inside the interval respecting
// edge inclusivity.
func (iv IntervalInfo) Contains(v float64) bool {
	if v < iv.Lower || (v == iv.Lower && !iv.LowerInclusive) {
		return false
	}
	if v > iv.Upper || (v == iv.Upper && !iv.UpperInclusive) {
		return false
	}
	return true
}

// ContainsInterval reports whether iv fully encloses other.
func (iv IntervalInfo) ContainsInterval(other IntervalInfo) bool {
	lowerOK := iv.Lower < other.Lower ||
		(iv.Lower == other.Lower && (iv.LowerInclusive || !other.LowerInclusive))
	upperOK := iv.Upper > other.Upper ||
		(iv.Upper == other.Upper && (iv.UpperInclusive || !other.UpperInclusive))
	return lowerOK && upperOK
}

// Disjoint reports whether the two intervals cannot both contain a value.
func (iv IntervalInfo) Disjoint(other IntervalInfo) bool {
	if iv.Upper < other.Lower || other.Upper < iv.Lower {
		return true
	}
	if iv.Upper == other.Lower && !(iv.UpperInclusive && other.LowerInclusive) {
		return true
	}
	if other.Upper == iv.Lower && !(other.UpperInclusive && iv.LowerInclusive) {
		return true
	}
	return false
}

// Adjacent reports whether the two intervals share exactly one boundary
// with no gap and no overlap, i.e. they partition the value range between
// min(lower) and max(upper).
func (iv IntervalInfo) Adjacent(other IntervalInfo) bool {
	if iv.Upper == other.Lower {
		return iv.UpperInclusive != other.LowerInclusive
	}
	if other.Upper == iv.Lower {
		return other.UpperInclusive != iv.LowerInclusive
	}
	return false
}
