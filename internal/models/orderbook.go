package models

import (
	"github.com/shopspring/decimal"
)

// BookLevel is one price level of an order book.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook holds sorted levels for one token: bids descending by price,
// asks ascending.
type OrderBook struct {
	TokenID string      `json:"token_id"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
}

// EmptyOrderBook is the degraded result after fetch retries are exhausted.
func EmptyOrderBook(tokenID string) OrderBook {
	return OrderBook{TokenID: tokenID}
}

// IsEmpty reports whether the book has no levels on either side.
func (b OrderBook) IsEmpty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// BestAsk returns the lowest ask, or zero when the ask side is empty.
func (b OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// BestBid returns the highest bid, or zero when the bid side is empty.
func (b OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// AskDepthUSD sums price*size over the ask side up to maxPrice
// (inclusive). A zero maxPrice means the whole side.
func (b OrderBook) AskDepthUSD(maxPrice decimal.Decimal) decimal.Decimal {
	depth := decimal.Zero
	for _, l := range b.Asks {
		if maxPrice.IsPositive() && l.Price.GreaterThan(maxPrice) {
			break
		}
		depth = depth.Add(l.Price.Mul(l.Size))
	}
	return depth
}

// VWAPForNotional walks the ask side consuming the target notional and
// returns the volume-weighted average price paid. ok is false when the
// side cannot absorb the notional.
func (b OrderBook) VWAPForNotional(notional decimal.Decimal) (vwap decimal.Decimal, ok bool) {
	if notional.LessThanOrEqual(decimal.Zero) || len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	remaining := notional
	shares := decimal.Zero
	spent := decimal.Zero
	for _, l := range b.Asks {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		levelNotional := l.Price.Mul(l.Size)
		take := levelNotional
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if l.Price.IsPositive() {
			shares = shares.Add(take.Div(l.Price))
		}
		spent = spent.Add(take)
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() || !shares.IsPositive() {
		return decimal.Zero, false
	}
	return spent.Div(shares), true
}
