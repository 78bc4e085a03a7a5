package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/pricewatch/price-scraper/internal/executor"
	"github.com/pricewatch/price-scraper/internal/steps"
)

// pwPage adapts a playwright page to the executor's Page port, translating
// playwright failures into the step error kinds.
type pwPage struct {
	page playwright.Page
}

var loadStates = map[string]*playwright.WaitUntilState{
	"load":             playwright.WaitUntilStateLoad,
	"domcontentloaded": playwright.WaitUntilStateDomcontentloaded,
	"networkidle":      playwright.WaitUntilStateNetworkidle,
}

func (p *pwPage) Goto(ctx context.Context, url, waitUntil string, timeout time.Duration) error {
	state, ok := loadStates[waitUntil]
	if !ok {
		state = playwright.WaitUntilStateDomcontentloaded
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: state,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return classifyPlaywright(err, fmt.Sprintf("goto %s", url))
	}
	return ctx.Err()
}

func (p *pwPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	locator := p.page.Locator(selector).First()
	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err == nil {
		return true, ctx.Err()
	}
	if isTimeout(err) {
		// Absence after the wait is a fact about the page, not a fault.
		return false, ctx.Err()
	}
	return false, classifyPlaywright(err, fmt.Sprintf("wait for %s", selector))
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	locator := p.page.Locator(selector).First()
	if err := locator.ScrollIntoViewIfNeeded(); err != nil {
		return classifyPlaywright(err, fmt.Sprintf("scroll to %s", selector))
	}
	if err := locator.Click(); err != nil {
		return classifyPlaywright(err, fmt.Sprintf("click %s", selector))
	}
	return ctx.Err()
}

func (p *pwPage) Fill(ctx context.Context, selector, value string, clearFirst bool) error {
	locator := p.page.Locator(selector).First()
	if err := locator.Focus(); err != nil {
		return classifyPlaywright(err, fmt.Sprintf("focus %s", selector))
	}
	if clearFirst {
		if err := locator.Clear(); err != nil {
			return classifyPlaywright(err, fmt.Sprintf("clear %s", selector))
		}
	}
	if err := locator.Fill(value); err != nil {
		return classifyPlaywright(err, fmt.Sprintf("fill %s", selector))
	}
	// Some shops recalculate only on explicit input/change events.
	_, err := locator.Evaluate(`el => {
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}`, nil)
	if err != nil {
		return classifyPlaywright(err, fmt.Sprintf("dispatch events on %s", selector))
	}
	return ctx.Err()
}

func (p *pwPage) SelectValue(ctx context.Context, selector, value string) error {
	locator := p.page.Locator(selector).First()
	_, err := locator.SelectOption(playwright.SelectOptionValues{
		Values: playwright.StringSlice(value),
	})
	if err != nil {
		return classifyPlaywright(err, fmt.Sprintf("select %q on %s", value, selector))
	}
	_, err = locator.Evaluate(`el => el.dispatchEvent(new Event('change', { bubbles: true }))`, nil)
	if err != nil {
		return classifyPlaywright(err, fmt.Sprintf("dispatch change on %s", selector))
	}
	return ctx.Err()
}

func (p *pwPage) Options(ctx context.Context, selector string) ([]executor.SelectOption, error) {
	locator := p.page.Locator(selector).First()
	raw, err := locator.Evaluate(`el => {
		if (el.tagName && el.tagName.toLowerCase() === 'select') {
			return Array.from(el.options).map(o => ({ value: o.value, label: o.text.trim() }));
		}
		// Non-standard dropdowns: enumerate common option shapes beneath it.
		const items = el.querySelectorAll('li, .option, .dropdown-item, [role="option"]');
		return Array.from(items).map(o => ({
			value: o.getAttribute('data-value') || o.textContent.trim(),
			label: o.textContent.trim(),
		}));
	}`, nil)
	if err != nil {
		return nil, classifyPlaywright(err, fmt.Sprintf("enumerate options of %s", selector))
	}

	entries, ok := raw.([]interface{})
	if !ok {
		return nil, nil
	}
	options := make([]executor.SelectOption, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		opt := executor.SelectOption{}
		if v, ok := m["value"].(string); ok {
			opt.Value = v
		}
		if l, ok := m["label"].(string); ok {
			opt.Label = l
		}
		options = append(options, opt)
	}
	return options, ctx.Err()
}

func (p *pwPage) InnerHTML(ctx context.Context, selector string) (string, error) {
	locator := p.page.Locator(selector).First()
	html, err := locator.InnerHTML()
	if err != nil {
		return "", classifyPlaywright(err, fmt.Sprintf("inner html of %s", selector))
	}
	return html, ctx.Err()
}

func (p *pwPage) EvaluateOnElement(ctx context.Context, selector, script string, vars map[string]string) error {
	locator := p.page.Locator(selector).First()
	wrapped := fmt.Sprintf(`(el, vars) => { %s }`, script)
	arg := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		arg[k] = v
	}
	if _, err := locator.Evaluate(wrapped, arg); err != nil {
		return fmt.Errorf("%w: %v", steps.ErrScriptExecution, err)
	}
	return ctx.Err()
}

func (p *pwPage) Blur(ctx context.Context, selector string) error {
	locator := p.page.Locator(selector).First()
	if _, err := locator.Evaluate(`el => el.blur()`, nil); err != nil {
		return classifyPlaywright(err, fmt.Sprintf("blur %s", selector))
	}
	return ctx.Err()
}

func (p *pwPage) MouseMove(x, y float64) {
	p.page.Mouse().Move(x, y)
}

func (p *pwPage) Content(ctx context.Context) (string, error) {
	content, err := p.page.Content()
	if err != nil {
		return "", classifyPlaywright(err, "page content")
	}
	return content, ctx.Err()
}

func isTimeout(err error) bool {
	return errors.Is(err, playwright.ErrTimeout) ||
		strings.Contains(err.Error(), "Timeout") ||
		strings.Contains(err.Error(), "timeout")
}

func isCrashed(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Target closed") ||
		strings.Contains(msg, "Target page, context or browser has been closed") ||
		strings.Contains(msg, "browser has been closed") ||
		strings.Contains(msg, "Connection closed") ||
		strings.Contains(msg, "crashed")
}

// classifyPlaywright wraps a playwright failure with the matching step
// error sentinel so the layers above never inspect playwright error text.
// Unrecognized element-level failures (detached nodes, covered elements)
// count as the selector not being usable.
func classifyPlaywright(err error, op string) error {
	switch {
	case isCrashed(err):
		return fmt.Errorf("%w: %s: %v", steps.ErrSessionCrashed, op, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %s: %v", steps.ErrTimeout, op, err)
	case strings.HasPrefix(op, "goto"):
		return fmt.Errorf("%w: %s: %v", steps.ErrNavigationFailure, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", steps.ErrSelectorNotFound, op, err)
	}
}
