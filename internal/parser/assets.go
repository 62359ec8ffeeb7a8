package parser

import "regexp"

// assetPattern maps a canonical symbol to the aliases seen in question
// text. Order matters only for determinism; detection collects every
// match and treats multi-asset questions as ambiguous.
type assetPattern struct {
	symbol string
	re     *regexp.Regexp
}

var assetPatterns = []assetPattern{
	{"BTC", regexp.MustCompile(`(?i)\b(?:btc|bitcoin)\b`)},
	{"ETH", regexp.MustCompile(`(?i)\b(?:eth|ethereum)\b`)},
	{"SOL", regexp.MustCompile(`(?i)\b(?:sol|solana)\b`)},
	{"XRP", regexp.MustCompile(`(?i)\b(?:xrp|ripple)\b`)},
	{"DOGE", regexp.MustCompile(`(?i)\b(?:doge|dogecoin)\b`)},
	{"ADA", regexp.MustCompile(`(?i)\b(?:ada|cardano)\b`)},
	{"AVAX", regexp.MustCompile(`(?i)\b(?:avax|avalanche)\b`)},
	{"LINK", regexp.MustCompile(`(?i)\b(?:link|chainlink)\b`)},
	{"DOT", regexp.MustCompile(`(?i)\b(?:polkadot|dot)\b`)},
	{"MATIC", regexp.MustCompile(`(?i)\b(?:matic|polygon)\b`)},
	{"LTC", regexp.MustCompile(`(?i)\b(?:ltc|litecoin)\b`)},
	{"BNB", regexp.MustCompile(`(?i)\bbnb\b`)},
	{"SHIB", regexp.MustCompile(`(?i)\b(?:shib|shiba\s+inu)\b`)},
	{"TRX", regexp.MustCompile(`(?i)\b(?:trx|tron)\b`)},
	{"SUI", regexp.MustCompile(`(?i)\bsui\b`)},
	{"PEPE", regexp.MustCompile(`(?i)\bpepe\b`)},
}

// detectAsset returns the single asset a question mentions. Zero matches
// means the question is out of scope; two or more distinct assets make
// the question ambiguous for price-structure parsing.
func detectAsset(question string) (symbol string, count int) {
	for _, ap := range assetPatterns {
		if ap.re.MatchString(question) {
			count++
			if symbol == "" {
				symbol = ap.symbol
			}
		}
	}
	return symbol, count
}
