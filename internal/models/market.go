package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the outcome token side of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Market is one binary question with a YES/NO token pair. Markets are built
// once per scan from the venue catalog and shared read-only afterwards;
// order-book fields are filled in lazily by the pre-flight auditor.
type Market struct {
	ID          string
	ConditionID string
	TokenIDYes  string
	TokenIDNo   string

	Question         string
	Description      string
	EventDescription string // shared resolution rules of the parent event
	ResolutionSource string

	EventID    string
	EventTitle string
	GroupTitle string // per-outcome label inside a grouped event
	Tags       map[string]struct{}

	YesMid decimal.Decimal
	NoMid  decimal.Decimal

	// Order-book derived, zero until a book has been fetched.
	BestBidYes decimal.Decimal
	BestAskYes decimal.Decimal
	BestBidNo  decimal.Decimal
	BestAskNo  decimal.Decimal

	LiquidityUSD decimal.Decimal
	VolumeUSD    decimal.Decimal

	EndTime   time.Time
	CreatedAt time.Time

	Active bool
	Closed bool

	// NegRisk marks venue-flagged mutually exclusive event groups.
	NegRisk bool
}

// HasTag reports whether the market carries the given tag.
func (m *Market) HasTag(tag string) bool {
	_, ok := m.Tags[tag]
	return ok
}

// Mid returns the catalog midpoint for a side.
func (m *Market) Mid(side Side) decimal.Decimal {
	if side == SideNo {
		return m.NoMid
	}
	return m.YesMid
}

// EffectiveBuyPrice is the price actually paid when buying one unit at
// market: the best ask when a book is present, the mid otherwise.
// Executable computations must use this, never Mid.
func (m *Market) EffectiveBuyPrice(side Side) decimal.Decimal {
	if side == SideNo {
		if m.BestAskNo.IsPositive() {
			return m.BestAskNo
		}
		return m.NoMid
	}
	if m.BestAskYes.IsPositive() {
		return m.BestAskYes
	}
	return m.YesMid
}

// TokenID returns the token identifier for a side.
func (m *Market) TokenID(side Side) string {
	if side == SideNo {
		return m.TokenIDNo
	}
	return m.TokenIDYes
}

// DaysToResolution is the number of days until the market resolves,
// clamped at zero for past deadlines.
func (m *Market) DaysToResolution(now time.Time) float64 {
	d := m.EndTime.Sub(now).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Event groups markets sharing an event identifier and resolution rules.
type Event struct {
	ID          string
	Title       string
	Description string
	NegRisk     bool
	MarketIDs   []string
	EndTime     time.Time
}

// TagInfo is one venue tag.
type TagInfo struct {
	ID    string
	Label string
	Slug  string
}
