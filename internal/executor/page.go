package executor

import (
	"context"
	"time"
)

// SelectOption is one choice offered by a select-like element.
type SelectOption struct {
	Value string
	Label string
}

// Page is the set of page primitives the executor needs. The production
// implementation wraps a playwright page (internal/browser); tests use a
// deterministic fake. Implementations classify their failures with the
// sentinel errors from internal/steps so the executor and runner can apply
// the right recovery policy.
type Page interface {
	// Goto navigates and waits for the given load condition
	// ("load", "domcontentloaded" or "networkidle").
	Goto(ctx context.Context, url, waitUntil string, timeout time.Duration) error

	// WaitForSelector waits until the selector matches a visible element or
	// the timeout elapses. Absence is reported via the bool, not an error.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	Click(ctx context.Context, selector string) error

	// Fill types the value into the element, optionally clearing it first,
	// and dispatches input/change events.
	Fill(ctx context.Context, selector, value string, clearFirst bool) error

	// SelectValue picks the option with the given value attribute.
	SelectValue(ctx context.Context, selector, value string) error

	// Options enumerates the choices of a select-like element.
	Options(ctx context.Context, selector string) ([]SelectOption, error)

	// InnerHTML returns the element's HTML fragment.
	InnerHTML(ctx context.Context, selector string) (string, error)

	// EvaluateOnElement runs a script with the element bound to `el` and the
	// given variables in scope. The variable set is the fixed contract of
	// the modify step; nothing else from the run leaks into the script.
	EvaluateOnElement(ctx context.Context, selector, script string, vars map[string]string) error

	// Blur defocuses the element to trigger page-side validation handlers.
	Blur(ctx context.Context, selector string) error

	// MouseMove moves the pointer; used by the humanization policy only.
	MouseMove(x, y float64)

	// Content returns the full page HTML, used for obstacle detection.
	Content(ctx context.Context) (string, error)
}
