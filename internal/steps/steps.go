package steps

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of page interaction a step performs. The set is
// closed: configs referencing anything else are rejected at parse time.
type Type string

const (
	TypeClick        Type = "click"
	TypeInput        Type = "input"
	TypeSelect       Type = "select"
	TypeWait         Type = "wait"
	TypeReadPrice    Type = "read_price"
	TypeBlur         Type = "blur"
	TypeModify       Type = "modify"
	TypeNavigate     Type = "navigate"
	TypeDecideConfig Type = "decide_config"
)

var knownTypes = map[Type]bool{
	TypeClick:        true,
	TypeInput:        true,
	TypeSelect:       true,
	TypeWait:         true,
	TypeReadPrice:    true,
	TypeBlur:         true,
	TypeModify:       true,
	TypeNavigate:     true,
	TypeDecideConfig: true,
}

// Duration is the abstract wait length used by wait steps so configs never
// encode raw millisecond values.
type Duration string

const (
	DurationShort   Duration = "short"
	DurationDefault Duration = "default"
	DurationLong    Duration = "long"
	DurationLonger  Duration = "longer"
	DurationLongest Duration = "longest"
)

var durationIntervals = map[Duration]time.Duration{
	DurationShort:   500 * time.Millisecond,
	DurationDefault: 1 * time.Second,
	DurationLong:    1500 * time.Millisecond,
	DurationLonger:  3 * time.Second,
	DurationLongest: 5 * time.Second,
}

// Interval maps the duration class to a concrete interval. An empty or
// unknown class falls back to the default interval.
func (d Duration) Interval() time.Duration {
	if iv, ok := durationIntervals[d]; ok {
		return iv
	}
	return durationIntervals[DurationDefault]
}

// Valid reports whether d is one of the known duration classes. The empty
// string is valid and means "default".
func (d Duration) Valid() bool {
	if d == "" {
		return true
	}
	_, ok := durationIntervals[d]
	return ok
}

// Step is one declarative unit of page interaction or price extraction.
// Which fields are meaningful depends on Type; Validate enforces the
// per-type requirements. Steps are immutable once a run starts.
type Step struct {
	Type       Type   `json:"type"`
	Selector   string `json:"selector,omitempty"`
	Value      string `json:"value,omitempty"`
	Unit       string `json:"unit,omitempty"`
	ClearFirst *bool  `json:"clear_first,omitempty"`
	// ContinueOnError and SkipOnFailure both tolerate a failure of this
	// step: execution advances and the step contributes nothing to later
	// calculations. A failed step has no side effect to skip, so the
	// runner treats the two flags identically.
	ContinueOnError bool     `json:"continue_on_error,omitempty"`
	SkipOnFailure   bool     `json:"skip_on_failure,omitempty"`
	Duration        Duration `json:"duration,omitempty"`
	IncludesVAT     bool     `json:"includes_vat,omitempty"`
	Calculation     string   `json:"calculation,omitempty"`
	Script          string   `json:"script,omitempty"`
	URL             string   `json:"url,omitempty"`
	WaitForLoad     string   `json:"wait_for_load,omitempty"`
	FallbackConfig  string   `json:"fallback_config,omitempty"`
	TimeoutMs       int      `json:"timeout,omitempty"`
	Randomize       bool     `json:"randomize,omitempty"`
	RandomType      string   `json:"random_type,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// ShouldClearFirst reports whether an input step clears the field before
// typing. Unset means true.
func (s Step) ShouldClearFirst() bool {
	if s.ClearFirst == nil {
		return true
	}
	return *s.ClearFirst
}

// Timeout returns the step's explicit timeout, or the given fallback when
// the config does not declare one.
func (s Step) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// Validate checks the structural requirements for the step's type: field
// presence and shape only. Whether a selector exists on a live page is an
// execution-time concern.
func (s Step) Validate() error {
	if !knownTypes[s.Type] {
		return fmt.Errorf("%w: unknown step type %q", ErrConfigInvalid, s.Type)
	}

	switch s.Type {
	case TypeClick, TypeReadPrice:
		if s.Selector == "" {
			return fmt.Errorf("%w: %s step requires a selector", ErrConfigInvalid, s.Type)
		}
	case TypeInput:
		if s.Selector == "" {
			return fmt.Errorf("%w: input step requires a selector", ErrConfigInvalid)
		}
	case TypeSelect:
		if s.Selector == "" {
			return fmt.Errorf("%w: select step requires a selector", ErrConfigInvalid)
		}
		if s.Value == "" {
			return fmt.Errorf("%w: select step requires a value", ErrConfigInvalid)
		}
	case TypeWait:
		if !s.Duration.Valid() {
			return fmt.Errorf("%w: unknown wait duration %q", ErrConfigInvalid, s.Duration)
		}
	case TypeModify:
		if s.Script == "" {
			return fmt.Errorf("%w: modify step requires a script", ErrConfigInvalid)
		}
	case TypeNavigate:
		if s.URL == "" {
			return fmt.Errorf("%w: navigate step requires a url", ErrConfigInvalid)
		}
	case TypeDecideConfig:
		if s.Selector == "" {
			return fmt.Errorf("%w: decide_config step requires a selector", ErrConfigInvalid)
		}
		if s.FallbackConfig == "" {
			return fmt.Errorf("%w: decide_config step requires a fallback_config", ErrConfigInvalid)
		}
	}

	if s.Unit != "" && s.Unit != "mm" && s.Unit != "cm" {
		return fmt.Errorf("%w: unsupported unit %q", ErrConfigInvalid, s.Unit)
	}

	return nil
}

// Category is an ordered sequence of steps for one pricing category of one
// domain. The declared order is the sole execution order.
type Category struct {
	Steps []Step `json:"steps"`
}

// Config is the per-domain configuration body holding all categories.
type Config struct {
	Domain     string              `json:"domain"`
	Categories map[string]Category `json:"categories"`
}

// Document is the stored StepConfig document. A run consumes one immutable
// snapshot; later edits to the stored configuration never affect it.
type Document struct {
	Domain    string     `json:"domain"`
	Config    Config     `json:"config"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Category returns the named category, or false when the document does not
// define it.
func (d *Document) Category(name string) (Category, bool) {
	cat, ok := d.Config.Categories[name]
	return cat, ok
}

// Parse decodes and validates a raw StepConfig document.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document structure and every step in every category.
func (d *Document) Validate() error {
	if d.Domain == "" {
		return fmt.Errorf("%w: document requires a domain", ErrConfigInvalid)
	}
	if len(d.Config.Categories) == 0 {
		return fmt.Errorf("%w: document defines no categories", ErrConfigInvalid)
	}
	for name, cat := range d.Config.Categories {
		if len(cat.Steps) == 0 {
			return fmt.Errorf("%w: category %q has no steps", ErrConfigInvalid, name)
		}
		for i, step := range cat.Steps {
			if err := step.Validate(); err != nil {
				return fmt.Errorf("category %q step %d: %w", name, i, err)
			}
		}
		for i, step := range cat.Steps {
			if step.Type == TypeDecideConfig {
				if _, ok := d.Config.Categories[step.FallbackConfig]; !ok {
					return fmt.Errorf("%w: category %q step %d references unknown fallback_config %q",
						ErrConfigInvalid, name, i, step.FallbackConfig)
				}
			}
		}
	}
	return nil
}
