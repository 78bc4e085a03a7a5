package price

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatch/price-scraper/internal/steps"
)

// Result is the normalized outcome of a price reading.
type Result struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	IncludesVAT bool    `json:"includes_vat"`
	Net         float64 `json:"net"`
	Gross       float64 `json:"gross"`
}

var (
	pricePattern  = regexp.MustCompile(`[€$£¥]?\s*(\d{1,3}(?:[,.]\d{3})*(?:[,.]\d{1,2})?)\s*[€$£¥]?`)
	numberPattern = regexp.MustCompile(`(\d+(?:[,.]\d+)?)`)
)

// Parse extracts a numeric price from page text, tolerant of locale-specific
// thousands and decimal separators ("1.234,56" and "1,234.56" both parse to
// 1234.56).
func Parse(text string) (float64, error) {
	match := pricePattern.FindStringSubmatch(text)
	if match == nil {
		match = numberPattern.FindStringSubmatch(text)
		if match == nil {
			return 0, fmt.Errorf("%w: no numeric value in %q", steps.ErrPriceParse, strings.TrimSpace(text))
		}
	}

	number := match[1]
	lastDot := strings.LastIndex(number, ".")
	lastComma := strings.LastIndex(number, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 1.234,56: comma is the decimal separator
			number = strings.ReplaceAll(number, ".", "")
			number = strings.Replace(number, ",", ".", 1)
		} else {
			// 1,234.56: dot is the decimal separator
			number = strings.ReplaceAll(number, ",", "")
		}
	case lastComma >= 0:
		digitsAfter := len(number) - lastComma - 1
		if digitsAfter <= 2 {
			// 29,81: decimal separator
			number = strings.Replace(number, ",", ".", 1)
		} else {
			// 1,234: thousands separator
			number = strings.ReplaceAll(number, ",", "")
		}
	}

	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", steps.ErrPriceParse, number)
	}
	return v, nil
}

// ParseHTML extracts a price from an element's HTML fragment. Prices are
// frequently split across child elements (currency symbol, superscript
// cents), so the fragment is flattened to text first.
func ParseHTML(fragment string) (float64, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", steps.ErrPriceParse, err)
	}
	return Parse(doc.Text())
}

// Normalize applies VAT semantics to a raw reading. When the source price
// includes VAT, net = gross / (1 + rate); otherwise the reading is net and
// gross is derived. The rate is fractional (0.21, not 21).
func Normalize(amount, vatRate float64, includesVAT bool, currency string) Result {
	res := Result{
		Amount:      amount,
		Currency:    currency,
		IncludesVAT: includesVAT,
	}
	if includesVAT {
		res.Gross = amount
		res.Net = amount / (1 + vatRate)
	} else {
		res.Net = amount
		res.Gross = amount * (1 + vatRate)
	}
	return res
}
