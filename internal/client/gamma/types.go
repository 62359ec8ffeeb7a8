package gamma

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polyarb/internal/models"
)

// flexDecimal accepts a JSON string or number.
type flexDecimal struct {
	decimal.Decimal
}

func (d *flexDecimal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			d.Decimal = decimal.Zero
			return nil
		}
		val, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		d.Decimal = val
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		d.Decimal = decimal.NewFromFloat(f)
		return nil
	}
	return fmt.Errorf("invalid decimal: %s", string(b))
}

// stringList accepts either a JSON array of strings or a string holding
// an encoded JSON array, which is how Gamma ships outcomePrices and
// clobTokenIds.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid string list: %s", string(b))
	}
	if s == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return fmt.Errorf("invalid encoded string list: %s", s)
	}
	*l = arr
	return nil
}

type rawEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	NegRisk     bool   `json:"negRisk"`
}

type rawTag struct {
	ID    json.Number `json:"id"`
	Label string      `json:"label"`
	Slug  string      `json:"slug"`
}

type rawMarket struct {
	ID               string      `json:"id"`
	ConditionID      string      `json:"conditionId"`
	Question         string      `json:"question"`
	Description      string      `json:"description"`
	ResolutionSource string      `json:"resolutionSource"`
	GroupItemTitle   string      `json:"groupItemTitle"`
	OutcomePrices    stringList  `json:"outcomePrices"`
	ClobTokenIDs     stringList  `json:"clobTokenIds"`
	BestBid          flexDecimal `json:"bestBid"`
	BestAsk          flexDecimal `json:"bestAsk"`
	Liquidity        flexDecimal `json:"liquidityNum"`
	Volume           flexDecimal `json:"volumeNum"`
	EndDate          string      `json:"endDate"`
	CreatedAt        string      `json:"createdAt"`
	Active           bool        `json:"active"`
	Closed           bool        `json:"closed"`
	NegRisk          bool        `json:"negRisk"`
	Events           []rawEvent  `json:"events"`
	Tags             []rawTag    `json:"tags"`
}

func decodeMarketList(body []byte) ([]rawMarket, error) {
	var list []rawMarket
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Data []rawMarket `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return nil, fmt.Errorf("unknown markets payload shape")
}

// toMarket converts a raw catalog entry. Markets missing a token pair or
// priced outside (0,1) on both outcomes are skipped rather than carried
// into the scan with garbage quotes.
func (r rawMarket) toMarket(queryTag string) (models.Market, bool) {
	if len(r.ClobTokenIDs) < 2 || r.Question == "" {
		return models.Market{}, false
	}
	yesMid := decimal.Zero
	noMid := decimal.Zero
	if len(r.OutcomePrices) >= 2 {
		yesMid, _ = decimal.NewFromString(r.OutcomePrices[0])
		noMid, _ = decimal.NewFromString(r.OutcomePrices[1])
	}
	if !yesMid.IsPositive() && !noMid.IsPositive() {
		return models.Market{}, false
	}

	m := models.Market{
		ID:               r.ID,
		ConditionID:      r.ConditionID,
		TokenIDYes:       r.ClobTokenIDs[0],
		TokenIDNo:        r.ClobTokenIDs[1],
		Question:         strings.TrimSpace(r.Question),
		Description:      r.Description,
		ResolutionSource: r.ResolutionSource,
		GroupTitle:       r.GroupItemTitle,
		Tags:             map[string]struct{}{},
		YesMid:           yesMid,
		NoMid:            noMid,
		LiquidityUSD:     r.Liquidity.Decimal,
		VolumeUSD:        r.Volume.Decimal,
		Active:           r.Active,
		Closed:           r.Closed,
		NegRisk:          r.NegRisk,
	}
	if queryTag != "" {
		m.Tags[queryTag] = struct{}{}
	}
	for _, t := range r.Tags {
		if t.Slug != "" {
			m.Tags[t.Slug] = struct{}{}
		}
	}
	if len(r.Events) > 0 {
		ev := r.Events[0]
		m.EventID = ev.ID
		m.EventTitle = ev.Title
		m.EventDescription = ev.Description
		if ev.NegRisk {
			m.NegRisk = true
		}
	}
	if ts, err := parseGammaTime(r.EndDate); err == nil {
		m.EndTime = ts
	}
	if ts, err := parseGammaTime(r.CreatedAt); err == nil {
		m.CreatedAt = ts
	}
	return m, true
}

func parseGammaTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time: %s", s)
}
