package parser

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"polyarb/internal/models"
)

// Interval phrasings: "between $90k and $100k", "from 3,500 to 4,000",
// "in the $90k-$100k range". Each pattern embeds priceGroup twice, so a
// match carries six trailing submatches (number, suffix, percent) x2.
var intervalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbetween\s+` + priceGroup + `\s+and\s+` + priceGroup),
	regexp.MustCompile(`(?i)\bfrom\s+` + priceGroup + `\s+to\s+` + priceGroup),
	regexp.MustCompile(`(?i)\b(?:in\s+the\s+)?` + priceGroup + `\s*(?:-|–|to)\s*` + priceGroup + `\s+range\b`),
}

// ParseInterval extracts the range structure of a market question.
// Returns (nil, nil) when the question is not a single-asset range, and a
// PARSE_AMBIGUOUS error when the bounds cannot be pinned down. Edges are
// inclusive; venue range questions do not state open bounds.
func ParseInterval(marketID, question string, deadline time.Time) (*models.IntervalInfo, error) {
	asset, assetCount := detectAsset(question)
	if assetCount == 0 {
		return nil, nil
	}
	if assetCount > 1 {
		return nil, models.NewScanError(models.ErrParseAmbiguous,
			fmt.Sprintf("question mentions multiple assets: %q", question), nil)
	}

	for _, re := range intervalPatterns {
		sm := re.FindStringSubmatch(question)
		if sm == nil {
			continue
		}
		n := len(sm)
		dollar := strings.Contains(sm[0], "$")
		lower, lowerUnit, err := parsePrice(sm[n-6], sm[n-5], sm[n-4], dollar)
		if err != nil {
			return nil, models.NewScanError(models.ErrParseAmbiguous,
				fmt.Sprintf("unparseable lower bound in %q", sm[0]), err)
		}
		upper, upperUnit, err := parsePrice(sm[n-3], sm[n-2], sm[n-1], dollar)
		if err != nil {
			return nil, models.NewScanError(models.ErrParseAmbiguous,
				fmt.Sprintf("unparseable upper bound in %q", sm[0]), err)
		}
		if lowerUnit != upperUnit && lowerUnit != "" && upperUnit != "" {
			return nil, models.NewScanError(models.ErrParseAmbiguous,
				fmt.Sprintf("mixed units in range: %q", sm[0]), nil)
		}
		unit := lowerUnit
		if unit == "" {
			unit = upperUnit
		}
		lo, _ := lower.Float64()
		hi, _ := upper.Float64()
		// "$100k to $90k" reads as a typo, not an empty interval.
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo == hi {
			return nil, models.NewScanError(models.ErrParseAmbiguous,
				fmt.Sprintf("degenerate range in %q", sm[0]), nil)
		}
		return &models.IntervalInfo{
			MarketID:       marketID,
			Asset:          asset,
			Lower:          lo,
			Upper:          hi,
			LowerInclusive: true,
			UpperInclusive: true,
			Unit:           unit,
			Deadline:       deadline,
		}, nil
	}
	return nil, nil
}

// ThresholdToInterval lifts a parsed threshold into the half-open
// interval it is equivalent to, letting interval logic cross-check
// thresholds against ranges. Touch thresholds do not lift.
func ThresholdToInterval(t *models.ThresholdInfo) (*models.IntervalInfo, bool) {
	if t == nil || t.Touch {
		return nil, false
	}
	level, _ := t.Level.Float64()
	iv := &models.IntervalInfo{
		MarketID: t.MarketID,
		Asset:    t.Asset,
		Unit:     t.Unit,
		Deadline: t.Deadline,
	}
	if t.Direction == models.DirectionAbove {
		iv.Lower = level
		iv.LowerInclusive = true
		iv.Upper = math.Inf(1)
	} else {
		iv.Lower = math.Inf(-1)
		iv.Upper = level
		iv.UpperInclusive = false
	}
	return iv, true
}
