package dimension

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r := NewResolver(2)
	dims := Input{ThicknessMM: 3, LengthMM: 500, WidthMM: 300, Quantity: 4}

	tests := []struct {
		name     string
		template string
		unit     string
		expected string
		hasError bool
	}{
		{
			name:     "width in mm",
			template: "{width}",
			unit:     "mm",
			expected: "300",
		},
		{
			name:     "width in cm",
			template: "{width}",
			unit:     "cm",
			expected: "30",
		},
		{
			name:     "length alias height",
			template: "{height}",
			unit:     "mm",
			expected: "500",
		},
		{
			name:     "quantity is never converted",
			template: "{quantity}",
			unit:     "cm",
			expected: "4",
		},
		{
			name:     "surrounding text passes through",
			template: "li[data-value='{thickness}']",
			unit:     "mm",
			expected: "li[data-value='3']",
		},
		{
			name:     "multiple placeholders",
			template: "{length}x{width}",
			unit:     "cm",
			expected: "50x30",
		},
		{
			name:     "no placeholders",
			template: ".price .amount",
			unit:     "mm",
			expected: ".price .amount",
		},
		{
			name:     "empty unit defaults to mm",
			template: "{width}",
			unit:     "",
			expected: "300",
		},
		{
			name:     "unknown unit is an error",
			template: "{width}",
			unit:     "inch",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.template, tt.unit, dims)
			if tt.hasError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestConvertRounding(t *testing.T) {
	r := NewResolver(2)

	// 125mm -> 12.5cm, 333mm -> 33.3cm, half-up at two decimals
	tests := []struct {
		mm       float64
		unit     string
		expected float64
	}{
		{125, "cm", 12.5},
		{333, "cm", 33.3},
		{4.5, "cm", 0.45},
		{4.567, "cm", 0.46},
		{0.125, "cm", 0.01}, // 0.0125 rounds up
		{300, "mm", 300},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%vmm->%s", tt.mm, tt.unit), func(t *testing.T) {
			got, err := r.Convert(tt.mm, tt.unit)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestConvertRoundTrip(t *testing.T) {
	// mm -> cm -> mm reproduces the original within one rounding unit at the
	// chosen precision.
	r := NewResolver(2)
	unit := 10 * 1 / 100.0 // one cm rounding unit expressed in mm

	for _, mm := range []float64{1, 2.5, 37, 124.9, 300, 501.3, 999.99} {
		cm, err := r.Convert(mm, "cm")
		require.NoError(t, err)
		back := cm * 10
		assert.InDelta(t, mm, back, unit+1e-9, "mm=%v", mm)
	}
}

func TestInputValidate(t *testing.T) {
	assert.NoError(t, Input{ThicknessMM: 1, LengthMM: 1, WidthMM: 1, Quantity: 1}.Validate())
	assert.Error(t, Input{ThicknessMM: -1, Quantity: 1}.Validate())
	assert.Error(t, Input{Quantity: 0}.Validate())
}
