package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricewatch/price-scraper/internal/dimension"
	"github.com/pricewatch/price-scraper/internal/executor"
	"github.com/pricewatch/price-scraper/internal/price"
	"github.com/pricewatch/price-scraper/internal/steps"
)

// State is the lifecycle of one run.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the final result of a run. FailedStep is -1 for failures that
// cannot be attributed to a single step (missing category, session that
// never came up, no price step in the whole sequence).
type Outcome struct {
	State      State
	Result     *price.Result
	FailedStep int
	Kind       steps.ErrorKind
	Reason     string
}

// VAT carries the country collaborator's answer for one run. Known is false
// when the country has no configured rate.
type VAT struct {
	Rate     float64
	Currency string
	Known    bool
}

// Session is the runner's view of a browser session.
type Session interface {
	ID() string
	Page() executor.Page
	Dead() bool
}

// SessionProvider owns session lifecycle: creation with anti-detection
// defaults, failure accounting, and teardown.
type SessionProvider interface {
	Acquire(ctx context.Context) (Session, error)
	// Report feeds the consecutive-failure counter. A session whose counter
	// reaches the threshold goes Dead and must not be reused.
	Report(s Session, failed bool)
	// Release tears the session down unconditionally.
	Release(s Session)
}

// Progress receives ordered per-step events as the run advances.
type Progress func(stepIndex int, status, message string)

// RetryPolicy bounds per-step recovery for transient network and session
// failures.
type RetryPolicy struct {
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.BackoffBase)
	for i := 0; i < attempt; i++ {
		d *= p.BackoffMultiplier
	}
	return time.Duration(d)
}

// Runner is the interpreter driving one configuration against one page. It
// pulls steps in order, applies per-step error policy, and produces a
// single deterministic result.
type Runner struct {
	sessions SessionProvider
	execCfg  executor.Config
	retry    RetryPolicy
	logger   *slog.Logger
}

func New(sessions SessionProvider, execCfg executor.Config, retry RetryPolicy, logger *slog.Logger) *Runner {
	if retry.MaxRetries == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Runner{
		sessions: sessions,
		execCfg:  execCfg,
		retry:    retry,
		logger:   logger.With("component", "runner"),
	}
}

// Run executes the named category of the document against startURL. The
// document snapshot is immutable for the duration of the run.
func (r *Runner) Run(ctx context.Context, doc *steps.Document, category, startURL string,
	dims dimension.Input, vat VAT, progress Progress) Outcome {

	if progress == nil {
		progress = func(int, string, string) {}
	}

	if err := dims.Validate(); err != nil {
		return failed(-1, steps.KindConfigInvalid, err.Error())
	}

	current, ok := doc.Category(category)
	if !ok {
		return failed(-1, steps.KindConfigInvalid,
			fmt.Sprintf("category %q not configured for domain %s", category, doc.Domain))
	}

	sess, err := r.sessions.Acquire(ctx)
	if err != nil {
		if isCancel(err) {
			return aborted(ctx.Err())
		}
		return failed(-1, steps.KindSessionCrashed, fmt.Sprintf("failed to acquire session: %v", err))
	}
	defer func() {
		if sess != nil {
			r.sessions.Release(sess)
		}
	}()

	exec := executor.New(sess.Page(), r.execCfg, r.logger)
	rc := &executor.RunContext{Dims: dims}

	if startURL != "" {
		out, newSess, newExec := r.execWithRecovery(ctx, exec, sess,
			steps.Step{Type: steps.TypeNavigate, URL: startURL}, rc)
		sess, exec = newSess, newExec
		if out.Status != steps.StatusOk {
			if isCancel(out.Err) {
				return aborted(out.Err)
			}
			return failed(-1, out.Kind, errText(out.Err))
		}
	}

	stepList := current.Steps
	priceStepIndex := -1
	visited := map[string]bool{category: true}

	for i := 0; i < len(stepList); i++ {
		if ctx.Err() != nil {
			return aborted(ctx.Err())
		}

		step := stepList[i]
		progress(i, "running", string(step.Type))

		// Snapshot the price contribution so a failed read_price step can
		// be tolerated without erasing an earlier step's reading.
		prevRaw, prevStep := rc.RawPrice, rc.PriceStep

		out, newSess, newExec := r.execWithRecovery(ctx, exec, sess, step, rc)
		sess, exec = newSess, newExec

		if isCancel(out.Err) {
			return aborted(out.Err)
		}
		if sess == nil {
			// Session recreation failed; no error policy can keep the run
			// going without a browser.
			progress(i, "failed", errText(out.Err))
			return failed(i, out.Kind, errText(out.Err))
		}

		// VAT availability is checked where the reading happens so a
		// failure names the right step.
		if out.Status == steps.StatusOk && step.Type == steps.TypeReadPrice {
			if step.IncludesVAT && !vat.Known {
				out = steps.Fatal(steps.KindConfigInvalid,
					fmt.Errorf("%w: price includes VAT but no rate is configured", steps.ErrConfigInvalid))
				rc.RawPrice = prevRaw
				rc.PriceStep = prevStep
			} else {
				priceStepIndex = i
			}
		}

		if out.Status == steps.StatusOk {
			if out.SwitchConfig != "" {
				fallback, ok := doc.Category(out.SwitchConfig)
				if !ok {
					return failed(i, steps.KindConfigInvalid,
						fmt.Sprintf("fallback config %q not found", out.SwitchConfig))
				}
				if visited[out.SwitchConfig] {
					return failed(i, steps.KindConfigInvalid,
						fmt.Sprintf("config switch cycle via %q", out.SwitchConfig))
				}
				visited[out.SwitchConfig] = true
				progress(i, "config_switched", out.SwitchConfig)
				r.logger.Info("switching config", "from", category, "to", out.SwitchConfig)
				category = out.SwitchConfig
				stepList = fallback.Steps
				i = -1 // restart at the fallback sequence's first step
				continue
			}
			progress(i, "completed", "")
			continue
		}

		// Tolerated failures advance without a price contribution; a
		// skipped step's side effect never reaches later calculations.
		if step.ContinueOnError || step.SkipOnFailure {
			progress(i, "skipped", errText(out.Err))
			r.logger.Warn("step failed but tolerated",
				"step", i, "type", step.Type, "kind", out.Kind, "error", out.Err)
			continue
		}

		progress(i, "failed", errText(out.Err))
		return failed(i, out.Kind, errText(out.Err))
	}

	if rc.RawPrice == nil || rc.PriceStep == nil {
		return failed(-1, steps.KindConfigInvalid, "no read_price step produced a value")
	}

	includesVAT := rc.PriceStep.IncludesVAT
	rate := vat.Rate
	if !vat.Known {
		rate = 0
	}
	result := price.Normalize(*rc.RawPrice, rate, includesVAT, vat.Currency)

	r.logger.Info("run succeeded",
		"domain", doc.Domain, "category", category,
		"net", result.Net, "gross", result.Gross, "currency", result.Currency,
		"price_step", priceStepIndex)

	return Outcome{State: StateSucceeded, Result: &result, FailedStep: -1}
}

// execWithRecovery runs one step, retrying transient network failures with
// exponential backoff and recreating the session after crashes, both
// bounded by the retry policy. It returns the session and executor in
// effect afterwards, which differ from the inputs when recovery replaced
// the session. The returned session is nil when the dead session was
// released but no replacement could be acquired.
func (r *Runner) execWithRecovery(ctx context.Context, exec *executor.Executor, sess Session,
	step steps.Step, rc *executor.RunContext) (steps.Outcome, Session, *executor.Executor) {

	var out steps.Outcome
	for attempt := 0; ; attempt++ {
		out = exec.Execute(ctx, step, rc)

		if out.Status == steps.StatusOk || isCancel(out.Err) {
			r.sessions.Report(sess, out.Status != steps.StatusOk)
			return out, sess, exec
		}
		if out.Status == steps.StatusFatal {
			r.sessions.Report(sess, true)
			return out, sess, exec
		}

		switch out.Kind {
		case steps.KindSessionCrashed:
			r.sessions.Report(sess, true)
			if attempt >= r.retry.MaxRetries {
				return out, sess, exec
			}
			if sess.Dead() {
				r.sessions.Release(sess)
				fresh, err := r.sessions.Acquire(ctx)
				if err != nil {
					// The dead session is already released; hand back no
					// session so the caller does not release it again.
					out.Err = fmt.Errorf("%w: session recreation failed: %v", steps.ErrSessionCrashed, err)
					return out, nil, exec
				}
				r.logger.Info("session recreated", "old", sess.ID(), "new", fresh.ID(), "step_type", step.Type)
				sess = fresh
				exec = executor.New(sess.Page(), r.execCfg, r.logger)
			}

		case steps.KindTimeout, steps.KindNavigationFailure:
			r.sessions.Report(sess, true)
			if attempt >= r.retry.MaxRetries {
				return out, sess, exec
			}
			wait := r.retry.backoff(attempt)
			r.logger.Warn("transient failure, backing off",
				"step_type", step.Type, "kind", out.Kind, "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				out.Err = ctx.Err()
				return out, sess, exec
			case <-time.After(wait):
			}

		default:
			// Not transient: the step's own error policy decides.
			r.sessions.Report(sess, true)
			return out, sess, exec
		}
	}
}

func isCancel(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func failed(step int, kind steps.ErrorKind, reason string) Outcome {
	return Outcome{State: StateFailed, FailedStep: step, Kind: kind, Reason: reason}
}

func aborted(err error) Outcome {
	return Outcome{State: StateAborted, FailedStep: -1, Reason: errText(err)}
}
