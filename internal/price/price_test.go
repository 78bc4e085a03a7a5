package price

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricewatch/price-scraper/internal/steps"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
		hasError bool
	}{
		{name: "plain decimal", text: "121.00", expected: 121.00},
		{name: "euro comma decimal", text: "€ 29,81", expected: 29.81},
		{name: "dutch thousands", text: "1.234,56", expected: 1234.56},
		{name: "english thousands", text: "1,234.56", expected: 1234.56},
		{name: "comma only thousands", text: "1,234", expected: 1234},
		{name: "trailing currency", text: "45,50 €", expected: 45.50},
		{name: "embedded text", text: "Totaal: € 99,95 incl. btw", expected: 99.95},
		{name: "whole number", text: "40", expected: 40},
		{name: "no number", text: "niet beschikbaar", hasError: true},
		{name: "empty", text: "", hasError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			if tt.hasError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, steps.ErrPriceParse))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParseHTML(t *testing.T) {
	// Price split across child elements, the usual shop markup.
	fragment := `<span class="price"><span class="currency">€</span>121<sup>,00</sup></span>`
	got, err := ParseHTML(fragment)
	require.NoError(t, err)
	assert.InDelta(t, 121.00, got, 1e-9)

	_, err = ParseHTML(`<span>op aanvraag</span>`)
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	t.Run("gross reading strips VAT", func(t *testing.T) {
		res := Normalize(121.00, 0.21, true, "EUR")
		assert.InDelta(t, 100.00, res.Net, 1e-6)
		assert.InDelta(t, 121.00, res.Gross, 1e-9)
		assert.Equal(t, "EUR", res.Currency)
		assert.True(t, res.IncludesVAT)
	})

	t.Run("net reading derives gross", func(t *testing.T) {
		res := Normalize(100.00, 0.21, false, "EUR")
		assert.InDelta(t, 100.00, res.Net, 1e-9)
		assert.InDelta(t, 121.00, res.Gross, 1e-6)
		assert.False(t, res.IncludesVAT)
	})

	t.Run("relative tolerance", func(t *testing.T) {
		for _, g := range []float64{0.01, 12.34, 999.99, 123456.78} {
			res := Normalize(g, 0.19, true, "EUR")
			assert.InEpsilon(t, g/1.19, res.Net, 1e-6)
		}
	})
}

func TestEvalCalculation(t *testing.T) {
	vars := map[string]float64{"quantity": 4, "width": 300, "length": 500}

	tests := []struct {
		name     string
		expr     string
		price    float64
		expected float64
		hasError bool
	}{
		{name: "per unit", expr: "price / {quantity}", price: 40, expected: 10},
		{name: "bare identifiers", expr: "price / quantity", price: 40, expected: 10},
		{name: "square meter", expr: "price / (width * length / 1000000)", price: 15, expected: 100},
		{name: "precedence", expr: "price + 2 * 3", price: 1, expected: 7},
		{name: "unary minus", expr: "-price + 10", price: 4, expected: 6},
		{name: "unknown variable", expr: "price / {depth}", price: 1, hasError: true},
		{name: "division by zero", expr: "price / 0", price: 1, hasError: true},
		{name: "trailing garbage", expr: "price ; rm", price: 1, hasError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalCalculation(tt.expr, tt.price, vars)
			if tt.hasError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}
