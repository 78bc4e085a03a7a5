package steps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationInterval(t *testing.T) {
	tests := []struct {
		name     string
		duration Duration
		want     time.Duration
	}{
		{"short", DurationShort, 500 * time.Millisecond},
		{"default", DurationDefault, 1 * time.Second},
		{"long", DurationLong, 1500 * time.Millisecond},
		{"longer", DurationLonger, 3 * time.Second},
		{"longest", DurationLongest, 5 * time.Second},
		{"empty falls back to default", Duration(""), 1 * time.Second},
		{"unknown falls back to default", Duration("forever"), 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.duration.Interval())
		})
	}
}

func TestDurationValid(t *testing.T) {
	assert.True(t, Duration("").Valid())
	assert.True(t, DurationLongest.Valid())
	assert.False(t, Duration("forever").Valid())
}

func TestStepValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{"valid click", Step{Type: TypeClick, Selector: "#buy"}, false},
		{"click without selector", Step{Type: TypeClick}, true},
		{"valid input", Step{Type: TypeInput, Selector: "#length", Value: "{length}", Unit: "cm"}, false},
		{"input without selector", Step{Type: TypeInput, Value: "{length}"}, true},
		{"valid select", Step{Type: TypeSelect, Selector: "#thickness", Value: "{thickness}"}, false},
		{"select without value", Step{Type: TypeSelect, Selector: "#thickness"}, true},
		{"valid wait", Step{Type: TypeWait, Duration: DurationLong}, false},
		{"wait with unknown duration", Step{Type: TypeWait, Duration: "forever"}, true},
		{"valid read_price", Step{Type: TypeReadPrice, Selector: ".price", IncludesVAT: true}, false},
		{"read_price without selector", Step{Type: TypeReadPrice}, true},
		{"valid modify", Step{Type: TypeModify, Script: "el.value = '{width}'"}, false},
		{"modify without script", Step{Type: TypeModify}, true},
		{"valid navigate", Step{Type: TypeNavigate, URL: "https://example.com/configure"}, false},
		{"navigate without url", Step{Type: TypeNavigate}, true},
		{"valid decide_config", Step{Type: TypeDecideConfig, Selector: "#variant-b", FallbackConfig: "alt"}, false},
		{"decide_config without fallback", Step{Type: TypeDecideConfig, Selector: "#variant-b"}, true},
		{"blur needs nothing", Step{Type: TypeBlur}, false},
		{"unknown type", Step{Type: "hover"}, true},
		{"unsupported unit", Step{Type: TypeInput, Selector: "#x", Unit: "inch"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStepShouldClearFirst(t *testing.T) {
	assert.True(t, Step{}.ShouldClearFirst(), "unset defaults to true")

	f := false
	assert.False(t, Step{ClearFirst: &f}.ShouldClearFirst())

	tr := true
	assert.True(t, Step{ClearFirst: &tr}.ShouldClearFirst())
}

func TestStepTimeout(t *testing.T) {
	assert.Equal(t, 2*time.Second, Step{}.Timeout(2*time.Second))
	assert.Equal(t, 250*time.Millisecond, Step{TimeoutMs: 250}.Timeout(2*time.Second))
}

func TestParse(t *testing.T) {
	raw := []byte(`{
		"domain": "plasticsupplier.example",
		"config": {
			"domain": "plasticsupplier.example",
			"categories": {
				"square_meter_price": {
					"steps": [
						{"type": "input", "selector": "#length", "value": "{length}", "unit": "cm"},
						{"type": "input", "selector": "#width", "value": "{width}", "unit": "cm"},
						{"type": "wait", "duration": "short"},
						{"type": "read_price", "selector": ".total", "includes_vat": true, "calculation": "price / {quantity}"}
					]
				}
			}
		},
		"createdAt": "2025-11-02T10:00:00Z"
	}`)

	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "plasticsupplier.example", doc.Domain)

	cat, ok := doc.Category("square_meter_price")
	require.True(t, ok)
	require.Len(t, cat.Steps, 4)
	assert.Equal(t, TypeInput, cat.Steps[0].Type)
	assert.Equal(t, "cm", cat.Steps[0].Unit)
	assert.True(t, cat.Steps[3].IncludesVAT)

	_, ok = doc.Category("shipping_price")
	assert.False(t, ok)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"no domain", `{"config":{"categories":{"a":{"steps":[{"type":"blur"}]}}}}`},
		{"no categories", `{"domain":"x.example","config":{"categories":{}}}`},
		{"empty category", `{"domain":"x.example","config":{"categories":{"a":{"steps":[]}}}}`},
		{"bad step", `{"domain":"x.example","config":{"categories":{"a":{"steps":[{"type":"click"}]}}}}`},
		{"dangling fallback", `{"domain":"x.example","config":{"categories":{"a":{"steps":[
			{"type":"decide_config","selector":"#alt","fallback_config":"missing"}]}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrConfigInvalid)
		})
	}
}

func TestDocumentValidateAcceptsFallbackReference(t *testing.T) {
	doc := &Document{
		Domain: "x.example",
		Config: Config{
			Categories: map[string]Category{
				"main": {Steps: []Step{
					{Type: TypeDecideConfig, Selector: "#alt-layout", FallbackConfig: "alt"},
					{Type: TypeReadPrice, Selector: ".price"},
				}},
				"alt": {Steps: []Step{
					{Type: TypeReadPrice, Selector: ".price-alt"},
				}},
			},
		},
	}
	assert.NoError(t, doc.Validate())
}
