package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/models"
)

// priceGroup captures a dollar-or-bare number with an optional magnitude
// suffix and an optional percent sign. Every direction pattern embeds it,
// so the last three submatches of any match are number, suffix, percent.
const priceGroup = `\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*([kKmMbBtT])?\s*(%)?`

var (
	abovePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:above|over|exceeds?|exceeded|surpass(?:es|ed)?|greater\s+than|higher\s+than|more\s+than|at\s+least)\s+` + priceGroup),
		regexp.MustCompile(`(?i)\b(?:reach(?:es|ed)?|hits?|hitting|cross(?:es|ed)?|breaks?|tops?)\s+(?:above\s+)?` + priceGroup),
	}
	belowPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:below|under|less\s+than|lower\s+than|at\s+most)\s+` + priceGroup),
		regexp.MustCompile(`(?i)\b(?:falls?|fallen|drops?|dropped|dips?|declines?|crash(?:es)?)\s+(?:below|under)\s+` + priceGroup),
	}
	// "dip to"/"touch" asserts the price trades at the level at some
	// point, not that it finishes there. Parsed with Touch set so ladder
	// construction can exclude it.
	touchPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:dips?|falls?|drops?)\s+to\s+` + priceGroup),
		regexp.MustCompile(`(?i)\btouch(?:es)?\s+` + priceGroup),
	}
)

// digit phrases carry an implied level and direction.
type digitPhrase struct {
	re        *regexp.Regexp
	direction models.ThresholdDirection
	level     int64
}

var digitPhrases = []digitPhrase{
	{regexp.MustCompile(`(?i)\b(?:triple|three)[\s-]+digits?\b`), models.DirectionAbove, 100},
	{regexp.MustCompile(`(?i)\bfour[\s-]+digits?\b`), models.DirectionAbove, 1000},
	{regexp.MustCompile(`(?i)\bfive[\s-]+digits?\b`), models.DirectionAbove, 10000},
	{regexp.MustCompile(`(?i)\bsix[\s-]+digits?\b`), models.DirectionAbove, 100000},
	{regexp.MustCompile(`(?i)\b(?:single|one)[\s-]+digits?\b`), models.DirectionBelow, 10},
	{regexp.MustCompile(`(?i)\b(?:double|two)[\s-]+digits?\b`), models.DirectionBelow, 100},
}

// cumulativeRe marks "by June 30" style deadlines, where the question
// resolves YES as soon as the condition holds once.
var cumulativeRe = regexp.MustCompile(`(?i)\b(?:by|before|until)\b`)

var suffixMultipliers = map[string]int64{
	"k": 1_000,
	"m": 1_000_000,
	"b": 1_000_000_000,
	"t": 1_000_000_000_000,
}

// ParseThreshold extracts the threshold structure of a market question.
// Returns (nil, nil) when the question is simply not a single-asset price
// threshold, and a PARSE_AMBIGUOUS error when it looks like one but the
// structure cannot be pinned down.
func ParseThreshold(marketID, question string, deadline time.Time) (*models.ThresholdInfo, error) {
	asset, assetCount := detectAsset(question)
	if assetCount == 0 {
		return nil, nil
	}
	if assetCount > 1 {
		return nil, models.NewScanError(models.ErrParseAmbiguous,
			fmt.Sprintf("question mentions multiple assets: %q", question), nil)
	}

	cumulative := cumulativeRe.MatchString(question)

	if info := matchDigitPhrase(marketID, asset, question, deadline); info != nil {
		info.Cumulative = cumulative
		return info, nil
	}

	touchLevel, touchUnit, touchOK, err := matchFirst(touchPatterns, question)
	if err != nil {
		return nil, err
	}
	aboveLevel, aboveUnit, aboveOK, err := matchFirst(abovePatterns, question)
	if err != nil {
		return nil, err
	}
	belowLevel, belowUnit, belowOK, err := matchFirst(belowPatterns, question)
	if err != nil {
		return nil, err
	}

	// A touch phrasing whose level also matched a directional pattern is
	// still a touch question; drop the weaker match only when the levels
	// agree, otherwise the question is ambiguous.
	if touchOK {
		if (aboveOK && !aboveLevel.Equal(touchLevel)) || (belowOK && !belowLevel.Equal(touchLevel)) {
			return nil, models.NewScanError(models.ErrParseAmbiguous,
				fmt.Sprintf("touch and directional levels conflict: %q", question), nil)
		}
		return &models.ThresholdInfo{
			MarketID:   marketID,
			Asset:      asset,
			Direction:  models.DirectionBelow,
			Level:      touchLevel,
			Unit:       touchUnit,
			Deadline:   deadline,
			Touch:      true,
			Cumulative: cumulative,
		}, nil
	}

	switch {
	case aboveOK && belowOK:
		return nil, models.NewScanError(models.ErrParseAmbiguous,
			fmt.Sprintf("question matches both directions: %q", question), nil)
	case aboveOK:
		return &models.ThresholdInfo{
			MarketID:   marketID,
			Asset:      asset,
			Direction:  models.DirectionAbove,
			Level:      aboveLevel,
			Unit:       aboveUnit,
			Deadline:   deadline,
			Cumulative: cumulative,
		}, nil
	case belowOK:
		return &models.ThresholdInfo{
			MarketID:   marketID,
			Asset:      asset,
			Direction:  models.DirectionBelow,
			Level:      belowLevel,
			Unit:       belowUnit,
			Deadline:   deadline,
			Cumulative: cumulative,
		}, nil
	default:
		return nil, nil
	}
}

// RenderThreshold produces a canonical question for a parsed threshold.
// Re-parsing the rendered text must reproduce the same structure; the
// semantic validation layer uses this round trip as a self-check.
func RenderThreshold(t *models.ThresholdInfo) string {
	dir := "above"
	if t.Direction == models.DirectionBelow {
		dir = "below"
	}
	unit := t.Unit
	if unit == "" {
		unit = "$"
	}
	level := t.Level.String()
	var priceText string
	if unit == "%" {
		priceText = level + "%"
	} else {
		priceText = "$" + level
	}
	return fmt.Sprintf("Will %s be %s %s on %s?",
		t.Asset, dir, priceText, t.Deadline.UTC().Format("January 2, 2006"))
}

func matchDigitPhrase(marketID, asset, question string, deadline time.Time) *models.ThresholdInfo {
	for _, dp := range digitPhrases {
		if dp.re.MatchString(question) {
			return &models.ThresholdInfo{
				MarketID:  marketID,
				Asset:     asset,
				Direction: dp.direction,
				Level:     decimal.NewFromInt(dp.level),
				Unit:      "$",
				Deadline:  deadline,
			}
		}
	}
	return nil
}

// matchFirst runs the pattern list and returns the level of the first
// match. Two matches with different levels in one question are ambiguous.
func matchFirst(patterns []*regexp.Regexp, question string) (decimal.Decimal, string, bool, error) {
	var level decimal.Decimal
	var unit string
	found := false
	for _, re := range patterns {
		sm := re.FindStringSubmatch(question)
		if sm == nil {
			continue
		}
		l, u, err := parsePrice(sm[len(sm)-3], sm[len(sm)-2], sm[len(sm)-1], strings.Contains(sm[0], "$"))
		if err != nil {
			return decimal.Zero, "", false, models.NewScanError(models.ErrParseAmbiguous,
				fmt.Sprintf("unparseable price in %q", sm[0]), err)
		}
		if found && !level.Equal(l) {
			return decimal.Zero, "", false, models.NewScanError(models.ErrParseAmbiguous,
				fmt.Sprintf("conflicting levels in question: %q", question), nil)
		}
		level, unit, found = l, u, true
	}
	return level, unit, found, nil
}

func parsePrice(number, suffix, percent string, dollar bool) (decimal.Decimal, string, error) {
	cleaned := strings.ReplaceAll(number, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, "", err
	}
	if suffix != "" {
		mult, ok := suffixMultipliers[strings.ToLower(suffix)]
		if !ok {
			return decimal.Zero, "", fmt.Errorf("unknown magnitude suffix %q", suffix)
		}
		d = d.Mul(decimal.NewFromInt(mult))
	}
	unit := ""
	switch {
	case percent == "%":
		unit = "%"
	case dollar:
		unit = "$"
	}
	return d, unit, nil
}
