package dimension

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pricewatch/price-scraper/internal/steps"
)

// Input carries the physical dimensions driving a calculation. All linear
// measurements are canonical millimeters; other representations are derived
// at substitution time and never stored.
type Input struct {
	ThicknessMM float64
	LengthMM    float64
	WidthMM     float64
	Quantity    int
}

// Validate rejects negative measurements and non-positive quantities.
func (in Input) Validate() error {
	if in.ThicknessMM < 0 || in.LengthMM < 0 || in.WidthMM < 0 {
		return fmt.Errorf("%w: dimensions must be non-negative", steps.ErrConfigInvalid)
	}
	if in.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be positive", steps.ErrConfigInvalid)
	}
	return nil
}

// Variables returns the dimension bindings available to calculation
// expressions and scripts, in the step's declared unit where applicable.
func (in Input) Variables() map[string]float64 {
	return map[string]float64{
		"thickness": in.ThicknessMM,
		"length":    in.LengthMM,
		"height":    in.LengthMM,
		"width":     in.WidthMM,
		"quantity":  float64(in.Quantity),
	}
}

// DefaultPrecision is the decimal precision used for mm→cm conversion when
// none is configured.
const DefaultPrecision = 2

// Resolver substitutes dimension placeholders into step templates. It is a
// pure function of its inputs; the only state is the rounding precision.
type Resolver struct {
	precision int
}

// NewResolver returns a resolver rounding converted values half-up to the
// given number of decimals. Negative precision falls back to the default.
func NewResolver(precision int) *Resolver {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Resolver{precision: precision}
}

// Convert converts a canonical millimeter value into the declared unit.
// Supported units are "mm" and "cm" ("" means mm); anything else is an
// error. Conversion is linear with round-half-up at the configured
// precision.
func (r *Resolver) Convert(mm float64, unit string) (float64, error) {
	switch unit {
	case "", "mm":
		return r.round(mm), nil
	case "cm":
		return r.round(mm / 10), nil
	default:
		return 0, fmt.Errorf("%w: unsupported unit %q", steps.ErrConfigInvalid, unit)
	}
}

func (r *Resolver) round(v float64) float64 {
	scale := math.Pow(10, float64(r.precision))
	return math.Floor(v*scale+0.5) / scale
}

// Resolve replaces {thickness}, {length} (alias {height}), {width} and
// {quantity} placeholders in the template. Linear dimensions are converted
// from millimeters to the declared unit; quantity is a count and passes
// through as an integer. Non-placeholder text is untouched.
func (r *Resolver) Resolve(template, unit string, dims Input) (string, error) {
	if !strings.Contains(template, "{") {
		return template, nil
	}

	linear := map[string]float64{
		"thickness": dims.ThicknessMM,
		"length":    dims.LengthMM,
		"height":    dims.LengthMM,
		"width":     dims.WidthMM,
	}

	out := template
	for name, mm := range linear {
		placeholder := "{" + name + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		converted, err := r.Convert(mm, unit)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, placeholder, formatNumber(converted))
	}

	out = strings.ReplaceAll(out, "{quantity}", strconv.Itoa(dims.Quantity))
	return out, nil
}

// formatNumber renders a value without trailing zeros, so whole numbers
// substitute as "300" rather than "300.00".
func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
