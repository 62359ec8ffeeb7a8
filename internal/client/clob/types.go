package clob

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"polyarb/internal/models"
)

// wireDecimal accepts a JSON string or number.
type wireDecimal struct {
	decimal.Decimal
}

func (d *wireDecimal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
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

// wireLevel accepts both shapes the book endpoint is known to emit:
// ["0.55","120"] pairs and {"price":...,"size":...} objects.
type wireLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (l *wireLevel) UnmarshalJSON(b []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err == nil && len(arr) >= 2 {
		price, err := parseDecimalRaw(arr[0])
		if err != nil {
			return err
		}
		size, err := parseDecimalRaw(arr[1])
		if err != nil {
			return err
		}
		l.Price = price
		l.Size = size
		return nil
	}
	var obj struct {
		Price json.RawMessage `json:"price"`
		Size  json.RawMessage `json:"size"`
		Qty   json.RawMessage `json:"qty"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		price, err := parseDecimalRaw(obj.Price)
		if err != nil {
			return err
		}
		sizeRaw := obj.Size
		if len(sizeRaw) == 0 {
			sizeRaw = obj.Qty
		}
		size, err := parseDecimalRaw(sizeRaw)
		if err != nil {
			return err
		}
		l.Price = price
		l.Size = size
		return nil
	}
	return fmt.Errorf("invalid book level: %s", string(b))
}

func parseOrderBook(tokenID string, body []byte) (models.OrderBook, error) {
	var wire struct {
		Bids []wireLevel `json:"bids"`
		Asks []wireLevel `json:"asks"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return models.OrderBook{}, err
	}
	book := models.OrderBook{
		TokenID: tokenID,
		Bids:    make([]models.BookLevel, 0, len(wire.Bids)),
		Asks:    make([]models.BookLevel, 0, len(wire.Asks)),
	}
	for _, l := range wire.Bids {
		book.Bids = append(book.Bids, models.BookLevel{Price: l.Price, Size: l.Size})
	}
	for _, l := range wire.Asks {
		book.Asks = append(book.Asks, models.BookLevel{Price: l.Price, Size: l.Size})
	}
	sortBook(&book)
	return book, nil
}

func parseDecimalRaw(b json.RawMessage) (decimal.Decimal, error) {
	var d wireDecimal
	if err := json.Unmarshal(b, &d); err != nil {
		return decimal.Zero, err
	}
	return d.Decimal, nil
}
