package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pricewatch/price-scraper/internal/captcha"
	"github.com/pricewatch/price-scraper/internal/dimension"
	"github.com/pricewatch/price-scraper/internal/price"
	"github.com/pricewatch/price-scraper/internal/steps"
)

// RunContext is the mutable state threaded through one run: resolved
// dimensions, the last-focused element (for blur), and the accumulated
// price reading.
type RunContext struct {
	Dims        dimension.Input
	LastFocused string

	// RawPrice is set by the first successful read_price step, after the
	// optional per-item calculation.
	RawPrice  *float64
	PriceStep *steps.Step
}

// Executor translates resolved steps into concrete page interactions. One
// executor serves one run against one page.
type Executor struct {
	page     Page
	resolver *dimension.Resolver
	human    Humanizer
	solver   captcha.Solver // nil when no solver is configured
	logger   *slog.Logger
	rng      *rand.Rand

	// implicit wait applied when locating elements before interacting
	selectorWait time.Duration
}

type Config struct {
	Resolver     *dimension.Resolver
	Humanizer    Humanizer
	Solver       captcha.Solver
	SelectorWait time.Duration
}

func New(page Page, cfg Config, logger *slog.Logger) *Executor {
	if cfg.Resolver == nil {
		cfg.Resolver = dimension.NewResolver(dimension.DefaultPrecision)
	}
	if cfg.Humanizer == nil {
		cfg.Humanizer = Noop{}
	}
	if cfg.SelectorWait == 0 {
		cfg.SelectorWait = 5 * time.Second
	}
	return &Executor{
		page:         page,
		resolver:     cfg.Resolver,
		human:        cfg.Humanizer,
		solver:       cfg.Solver,
		logger:       logger.With("component", "executor"),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		selectorWait: cfg.SelectorWait,
	}
}

// Execute dispatches one step. All step types are known at compile time;
// documents with anything else never get past parsing.
func (e *Executor) Execute(ctx context.Context, step steps.Step, rc *RunContext) steps.Outcome {
	switch step.Type {
	case steps.TypeClick:
		return e.click(ctx, step, rc)
	case steps.TypeInput:
		return e.input(ctx, step, rc)
	case steps.TypeSelect:
		return e.selectOption(ctx, step, rc)
	case steps.TypeWait:
		return e.wait(ctx, step)
	case steps.TypeReadPrice:
		return e.readPrice(ctx, step, rc)
	case steps.TypeBlur:
		return e.blur(ctx, rc)
	case steps.TypeModify:
		return e.modify(ctx, step, rc)
	case steps.TypeNavigate:
		return e.navigate(ctx, step, rc)
	case steps.TypeDecideConfig:
		return e.decideConfig(ctx, step)
	default:
		return steps.Fatal(steps.KindConfigInvalid,
			fmt.Errorf("%w: unknown step type %q", steps.ErrConfigInvalid, step.Type))
	}
}

func (e *Executor) click(ctx context.Context, step steps.Step, rc *RunContext) steps.Outcome {
	selector, err := e.resolver.Resolve(step.Selector, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}

	if err := e.human.Pace(ctx); err != nil {
		return classify(err)
	}
	e.human.Jitter(e.page)

	found, err := e.page.WaitForSelector(ctx, selector, e.selectorWait)
	if err != nil {
		return classify(err)
	}
	if !found {
		return e.selectorMissing(ctx, selector)
	}

	if err := e.page.Click(ctx, selector); err != nil {
		return classify(err)
	}

	rc.LastFocused = selector
	e.logger.Debug("clicked", "selector", selector)
	return steps.Ok()
}

func (e *Executor) input(ctx context.Context, step steps.Step, rc *RunContext) steps.Outcome {
	selector, err := e.resolver.Resolve(step.Selector, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}

	var value string
	if step.Randomize {
		value = randomValue(e.rng, step.RandomType)
	} else {
		value, err = e.resolver.Resolve(step.Value, step.Unit, rc.Dims)
		if err != nil {
			return steps.Fatal(steps.KindConfigInvalid, err)
		}
	}

	if err := e.human.Pace(ctx); err != nil {
		return classify(err)
	}
	e.human.Jitter(e.page)

	found, err := e.page.WaitForSelector(ctx, selector, e.selectorWait)
	if err != nil {
		return classify(err)
	}
	if !found {
		return e.selectorMissing(ctx, selector)
	}

	if err := e.page.Fill(ctx, selector, value, step.ShouldClearFirst()); err != nil {
		return classify(err)
	}

	rc.LastFocused = selector
	e.logger.Debug("filled input", "selector", selector, "value", value)
	return steps.Ok()
}

var numberInText = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// selectOption picks an option by exact value, then exact label, then
// nearest numeric match, then partial label match. Configs target select
// elements on pages the operator does not control, so a tolerant fallback
// chain beats strict matching.
func (e *Executor) selectOption(ctx context.Context, step steps.Step, rc *RunContext) steps.Outcome {
	selector, err := e.resolver.Resolve(step.Selector, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}
	value, err := e.resolver.Resolve(step.Value, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}

	if err := e.human.Pace(ctx); err != nil {
		return classify(err)
	}
	e.human.Jitter(e.page)

	found, err := e.page.WaitForSelector(ctx, selector, e.selectorWait)
	if err != nil {
		return classify(err)
	}
	if !found {
		return e.selectorMissing(ctx, selector)
	}

	options, err := e.page.Options(ctx, selector)
	if err != nil {
		return classify(err)
	}

	chosen, ok := matchOption(options, value)
	if !ok {
		return steps.Recoverable(steps.KindSelectorNotFound,
			fmt.Errorf("%w: no option matching %q in %s", steps.ErrSelectorNotFound, value, selector))
	}

	if err := e.page.SelectValue(ctx, selector, chosen.Value); err != nil {
		return classify(err)
	}

	rc.LastFocused = selector
	e.logger.Debug("selected option", "selector", selector, "value", chosen.Value, "label", chosen.Label)
	return steps.Ok()
}

// matchOption implements the documented fallback chain for select steps.
func matchOption(options []SelectOption, value string) (SelectOption, bool) {
	for _, opt := range options {
		if opt.Value == value {
			return opt, true
		}
	}
	for _, opt := range options {
		if strings.TrimSpace(opt.Label) == value {
			return opt, true
		}
	}

	// Nearest numeric match: "3" should select the "3mm (+ €2,50)" option.
	if target, err := strconv.ParseFloat(value, 64); err == nil {
		best := -1
		bestDiff := math.Inf(1)
		for i, opt := range options {
			m := numberInText.FindString(opt.Label)
			if m == "" {
				m = numberInText.FindString(opt.Value)
			}
			if m == "" {
				continue
			}
			n, err := strconv.ParseFloat(m, 64)
			if err != nil {
				continue
			}
			if diff := math.Abs(n - target); diff < bestDiff {
				bestDiff = diff
				best = i
			}
		}
		// Tolerance keeps "2" from matching a lone "20" option.
		if best >= 0 && bestDiff < 0.01 {
			return options[best], true
		}
		// A numeric value with no numeric match must not fall through to
		// substring matching, where "2" would select "20mm" and the run
		// would report the wrong thickness's price.
		return SelectOption{}, false
	}

	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), strings.ToLower(value)) {
			return opt, true
		}
	}

	return SelectOption{}, false
}

func (e *Executor) wait(ctx context.Context, step steps.Step) steps.Outcome {
	select {
	case <-ctx.Done():
		return classify(ctx.Err())
	case <-time.After(step.Duration.Interval()):
		return steps.Ok()
	}
}

func (e *Executor) blur(ctx context.Context, rc *RunContext) steps.Outcome {
	if rc.LastFocused == "" {
		// Nothing was interacted with yet; defocusing is a no-op.
		return steps.Ok()
	}
	if err := e.page.Blur(ctx, rc.LastFocused); err != nil {
		return classify(err)
	}
	return steps.Ok()
}

func (e *Executor) modify(ctx context.Context, step steps.Step, rc *RunContext) steps.Outcome {
	selector, err := e.resolver.Resolve(step.Selector, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}
	// Variables are substituted before the script crosses the execution
	// boundary, and also passed by name; that pair is the whole contract.
	script, err := e.resolver.Resolve(step.Script, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}

	vars := make(map[string]string, 5)
	for name, v := range rc.Dims.Variables() {
		vars[name] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	if err := e.page.EvaluateOnElement(ctx, selector, script, vars); err != nil {
		if kind := steps.KindOf(err); kind != "" && kind != steps.KindScriptExecutionError {
			return classify(err)
		}
		return steps.Recoverable(steps.KindScriptExecutionError,
			fmt.Errorf("%w: %v", steps.ErrScriptExecution, err))
	}
	return steps.Ok()
}

func (e *Executor) navigate(ctx context.Context, step steps.Step, rc *RunContext) steps.Outcome {
	target, err := e.resolver.Resolve(step.URL, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}

	waitUntil := step.WaitForLoad
	if waitUntil == "" {
		waitUntil = "domcontentloaded"
	}

	if err := e.page.Goto(ctx, target, waitUntil, step.Timeout(30*time.Second)); err != nil {
		if kind := steps.KindOf(err); kind == steps.KindTimeout || kind == steps.KindSessionCrashed {
			return classify(err)
		}
		return steps.Recoverable(steps.KindNavigationFailure,
			fmt.Errorf("%w: %v", steps.ErrNavigationFailure, err))
	}

	// A fresh page is where anti-bot walls show up.
	if out := e.checkObstacles(ctx, target); out.Status != steps.StatusOk {
		return out
	}

	rc.LastFocused = ""
	return steps.Ok()
}

func (e *Executor) decideConfig(ctx context.Context, step steps.Step) steps.Outcome {
	timeout := step.Timeout(2 * time.Second)
	found, err := e.page.WaitForSelector(ctx, step.Selector, timeout)
	if err != nil {
		return classify(err)
	}
	if found {
		return steps.Ok()
	}
	e.logger.Info("probe selector absent, switching config",
		"selector", step.Selector, "fallback", step.FallbackConfig)
	return steps.Outcome{Status: steps.StatusOk, SwitchConfig: step.FallbackConfig}
}

func (e *Executor) readPrice(ctx context.Context, step steps.Step, rc *RunContext) steps.Outcome {
	selector, err := e.resolver.Resolve(step.Selector, step.Unit, rc.Dims)
	if err != nil {
		return steps.Fatal(steps.KindConfigInvalid, err)
	}

	found, err := e.page.WaitForSelector(ctx, selector, e.selectorWait)
	if err != nil {
		return classify(err)
	}
	if !found {
		return e.selectorMissing(ctx, selector)
	}

	fragment, err := e.page.InnerHTML(ctx, selector)
	if err != nil {
		return classify(err)
	}

	raw, err := price.ParseHTML(fragment)
	if err != nil {
		return steps.Recoverable(steps.KindPriceParseError, err)
	}

	if step.Calculation != "" {
		raw, err = price.EvalCalculation(step.Calculation, raw, rc.Dims.Variables())
		if err != nil {
			return steps.Fatal(steps.KindConfigInvalid, err)
		}
	}

	stepCopy := step
	rc.RawPrice = &raw
	rc.PriceStep = &stepCopy
	e.logger.Info("price read", "selector", selector, "price", raw)
	return steps.Ok()
}

// selectorMissing reports an absent element, first checking whether a
// captcha wall is the reason and solving it when a solver is available.
func (e *Executor) selectorMissing(ctx context.Context, selector string) steps.Outcome {
	if out := e.checkObstacles(ctx, ""); out.Status != steps.StatusOk {
		return out
	}
	return steps.Recoverable(steps.KindSelectorNotFound,
		fmt.Errorf("%w: %s", steps.ErrSelectorNotFound, selector))
}

var siteKeyPattern = regexp.MustCompile(`data-sitekey="([^"]+)"`)

// checkObstacles probes the page for captcha walls. With a configured
// solver the run suspends while the challenge is solved and the token is
// injected; without one the step is fatal.
func (e *Executor) checkObstacles(ctx context.Context, pageURL string) steps.Outcome {
	content, err := e.page.Content(ctx)
	if err != nil {
		return classify(err)
	}

	var chType string
	switch {
	case strings.Contains(content, "g-recaptcha") || strings.Contains(content, "recaptcha/api"):
		chType = "recaptcha_v2"
	case strings.Contains(content, "h-captcha") || strings.Contains(content, "hcaptcha.com"):
		chType = "hcaptcha"
	default:
		return steps.Ok()
	}

	if e.solver == nil {
		return steps.Fatal(steps.KindCaptchaRequired,
			fmt.Errorf("%w: %s challenge and no solver configured", steps.ErrCaptchaRequired, chType))
	}

	siteKey := ""
	if m := siteKeyPattern.FindStringSubmatch(content); m != nil {
		siteKey = m[1]
	}

	e.logger.Info("captcha detected, suspending for solver", "type", chType)
	token, err := e.solver.Solve(ctx, captcha.Challenge{Type: chType, SiteKey: siteKey, PageURL: pageURL})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return classify(err)
		}
		return steps.Fatal(steps.KindCaptchaRequired,
			fmt.Errorf("%w: solver failed: %v", steps.ErrCaptchaRequired, err))
	}

	inject := `el.value = vars.token; el.dispatchEvent(new Event('change', { bubbles: true }));`
	if err := e.page.EvaluateOnElement(ctx, `textarea[name="g-recaptcha-response"], textarea[name="h-captcha-response"]`,
		inject, map[string]string{"token": token}); err != nil {
		return steps.Fatal(steps.KindCaptchaRequired,
			fmt.Errorf("%w: token injection failed: %v", steps.ErrCaptchaRequired, err))
	}

	e.logger.Info("captcha solved", "type", chType)
	return steps.Ok()
}

// classify maps implementation errors onto step outcomes. Cancellation
// passes through untouched so the runner can abort; session and timeout
// errors stay recoverable because the runner owns retry and session
// recovery policy.
func classify(err error) steps.Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return steps.Outcome{Status: steps.StatusFatal, Err: err}
	}
	switch kind := steps.KindOf(err); kind {
	case steps.KindSessionCrashed, steps.KindTimeout, steps.KindNavigationFailure,
		steps.KindSelectorNotFound, steps.KindPriceParseError, steps.KindScriptExecutionError:
		return steps.Recoverable(kind, err)
	case steps.KindCaptchaRequired, steps.KindConfigInvalid:
		return steps.Fatal(kind, err)
	default:
		return steps.Recoverable(steps.KindSessionCrashed,
			fmt.Errorf("%w: %v", steps.ErrSessionCrashed, err))
	}
}
