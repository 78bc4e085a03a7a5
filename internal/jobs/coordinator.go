package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pricewatch/price-scraper/internal/dimension"
	"github.com/pricewatch/price-scraper/internal/events"
	"github.com/pricewatch/price-scraper/internal/runner"
	"github.com/pricewatch/price-scraper/internal/steps"
	"github.com/pricewatch/price-scraper/internal/store"
)

// CalculationRequest asks for a square-meter price from one supplier page.
// Dimensions arrive in millimeters; the step configuration decides which
// unit the page wants.
type CalculationRequest struct {
	URL         string  `json:"url"`
	ThicknessMM float64 `json:"thickness"`
	LengthMM    float64 `json:"length"`
	WidthMM     float64 `json:"width"`
	Quantity    int     `json:"quantity"`
	Country     string  `json:"country"`
	Category    string  `json:"category"`
}

// ShippingRequest asks for the shipping price of a preset package.
type ShippingRequest struct {
	URL       string `json:"url"`
	PackageID string `json:"package_id"`
	Country   string `json:"country"`
}

// Result is the outward-facing answer for one request.
type Result struct {
	RequestID string        `json:"request_id"`
	Domain    string        `json:"domain"`
	State     string        `json:"state"`
	NetPrice  float64       `json:"net_price,omitempty"`
	Gross     float64       `json:"gross_price,omitempty"`
	Currency  string        `json:"currency,omitempty"`
	FailedAt  int           `json:"failed_step"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Elapsed   time.Duration `json:"-"`
}

// ConfigSource resolves the active step configuration for a domain.
type ConfigSource interface {
	ActiveConfig(ctx context.Context, domain string) (*steps.Document, error)
}

// RateSource answers VAT rate and currency for a country code.
type RateSource interface {
	VATRate(ctx context.Context, country string) (float64, string, error)
}

// PackageSource resolves shipping package presets by ID.
type PackageSource interface {
	Get(ctx context.Context, packageID string) (*store.Package, error)
}

// Executor runs a prepared step sequence. Satisfied by *runner.Runner.
type Executor interface {
	Run(ctx context.Context, doc *steps.Document, category, startURL string,
		dims dimension.Input, vat runner.VAT, progress runner.Progress) runner.Outcome
}

// Options for the coordinator. Workers bounds concurrent browser runs;
// RunTimeout caps a single run end to end.
type Options struct {
	Workers    int
	RunTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Workers:    3,
		RunTimeout: 3 * time.Minute,
	}
}

// Coordinator turns incoming requests into bounded runner executions and
// fans progress out to the status transport.
type Coordinator struct {
	configs   ConfigSource
	rates     RateSource
	packages  PackageSource
	runner    Executor
	publisher events.Publisher
	sem       chan struct{}
	opts      Options
	logger    *slog.Logger
}

func NewCoordinator(configs ConfigSource, rates RateSource, packages PackageSource,
	exec Executor, publisher events.Publisher, opts Options, logger *slog.Logger) *Coordinator {

	if opts.Workers < 1 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultOptions().RunTimeout
	}
	return &Coordinator{
		configs:   configs,
		rates:     rates,
		packages:  packages,
		runner:    exec,
		publisher: publisher,
		sem:       make(chan struct{}, opts.Workers),
		opts:      opts,
		logger:    logger.With("component", "coordinator"),
	}
}

// NormalizeDomain reduces a URL or hostname to the bare domain used as the
// configuration key: scheme, www prefix, port, and path are stripped.
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty url", steps.ErrConfigInvalid)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: cannot extract domain from %q", steps.ErrConfigInvalid, raw)
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host, nil
}

// Calculate executes a square-meter price request. It blocks until a worker
// slot is free, then runs the configured steps against the supplier page.
func (c *Coordinator) Calculate(ctx context.Context, req CalculationRequest) Result {
	requestID := uuid.New().String()

	dims := dimension.Input{
		ThicknessMM: req.ThicknessMM,
		LengthMM:    req.LengthMM,
		WidthMM:     req.WidthMM,
		Quantity:    req.Quantity,
	}
	category := req.Category
	if category == "" {
		category = "square_meter_price"
	}

	return c.execute(ctx, requestID, req.URL, category, dims, req.Country)
}

// CalculateShipping resolves the package preset's dimensions and runs the
// shipping category of the domain's configuration.
func (c *Coordinator) CalculateShipping(ctx context.Context, req ShippingRequest) Result {
	requestID := uuid.New().String()

	pkg, err := c.packages.Get(ctx, req.PackageID)
	if err != nil {
		c.logger.Warn("unknown package preset", "request_id", requestID, "package_id", req.PackageID)
		return errResult(requestID, "", steps.KindConfigInvalid, err.Error())
	}

	dims := dimension.Input{
		ThicknessMM: pkg.ThicknessMM,
		LengthMM:    pkg.LengthMM,
		WidthMM:     pkg.WidthMM,
		Quantity:    pkg.Quantity,
	}
	return c.execute(ctx, requestID, req.URL, "shipping_price", dims, req.Country)
}

func (c *Coordinator) execute(ctx context.Context, requestID, rawURL, category string,
	dims dimension.Input, country string) Result {

	start := time.Now()

	domain, err := NormalizeDomain(rawURL)
	if err != nil {
		return errResult(requestID, "", steps.KindConfigInvalid, err.Error())
	}

	doc, err := c.configs.ActiveConfig(ctx, domain)
	if err != nil {
		kind := steps.KindConfigInvalid
		c.logger.Warn("no usable configuration",
			"request_id", requestID, "domain", domain, "error", err)
		return errResult(requestID, domain, kind, err.Error())
	}

	vat := runner.VAT{}
	if country != "" {
		rate, currency, rerr := c.rates.VATRate(ctx, country)
		switch {
		case rerr == nil:
			vat = runner.VAT{Rate: rate, Currency: currency, Known: true}
		case errors.Is(rerr, store.ErrNotFound):
			c.logger.Warn("no VAT configuration for country",
				"request_id", requestID, "country", country)
		default:
			return errResult(requestID, domain, steps.KindConfigInvalid, rerr.Error())
		}
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return Result{
			RequestID: requestID,
			Domain:    domain,
			State:     runner.StateAborted.String(),
			FailedAt:  -1,
			Reason:    "aborted while waiting for a worker",
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.opts.RunTimeout)
	defer cancel()

	progress := c.progressFunc(requestID)
	progress(-1, "started", domain)

	outcome := c.runner.Run(runCtx, doc, category, rawURL, dims, vat, progress)

	res := Result{
		RequestID: requestID,
		Domain:    domain,
		State:     outcome.State.String(),
		FailedAt:  outcome.FailedStep,
		ErrorKind: string(outcome.Kind),
		Reason:    outcome.Reason,
		Elapsed:   time.Since(start),
	}
	if outcome.State == runner.StateSucceeded && outcome.Result != nil {
		res.NetPrice = outcome.Result.Net
		res.Gross = outcome.Result.Gross
		res.Currency = outcome.Result.Currency
	}
	if outcome.State == runner.StateAborted && runCtx.Err() != nil && ctx.Err() == nil {
		res.Reason = fmt.Sprintf("run exceeded %s", c.opts.RunTimeout)
	}

	progress(-1, strings.ToLower(res.State), res.Reason)

	c.logger.Info("run finished",
		"request_id", requestID,
		"domain", domain,
		"category", category,
		"state", res.State,
		"elapsed", res.Elapsed)
	return res
}

func (c *Coordinator) progressFunc(requestID string) runner.Progress {
	return func(stepIndex int, status, message string) {
		ev := events.ProgressEvent{
			RequestID: requestID,
			StepIndex: stepIndex,
			Status:    status,
			Message:   message,
			Timestamp: time.Now(),
		}
		// Status delivery is best effort; a broken transport must not
		// interrupt a run in flight.
		if err := c.publisher.Publish(context.Background(), ev); err != nil {
			c.logger.Warn("failed to publish progress event",
				"request_id", requestID, "step", stepIndex, "error", err)
		}
	}
}

func errResult(requestID, domain string, kind steps.ErrorKind, reason string) Result {
	return Result{
		RequestID: requestID,
		Domain:    domain,
		State:     runner.StateFailed.String(),
		FailedAt:  -1,
		ErrorKind: string(kind),
		Reason:    reason,
	}
}
