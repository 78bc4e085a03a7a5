package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pricewatch/price-scraper/internal/steps"
)

// Challenge describes a captcha obstacle detected mid-run.
type Challenge struct {
	Type    string // "recaptcha_v2" or "hcaptcha"
	SiteKey string
	PageURL string
}

// Solver turns a challenge into a response token. Solving is an opaque
// external call (a paid service or manual intervention); the run suspends
// while it is in flight and ctx cancellation aborts it.
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

// HTTPSolver talks to a 2captcha-compatible solving service.
type HTTPSolver struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	client       *http.Client
	logger       *slog.Logger
}

type Options struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
}

func NewHTTPSolver(opts Options, logger *slog.Logger) *HTTPSolver {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://2captcha.com"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &HTTPSolver{
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pollInterval: opts.PollInterval,
		client:       &http.Client{Timeout: opts.Timeout},
		logger:       logger.With("component", "captcha_solver"),
	}
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the challenge and polls until the service produces a token.
func (s *HTTPSolver) Solve(ctx context.Context, ch Challenge) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("%w: no solver API key configured", steps.ErrCaptchaRequired)
	}

	method := "userrecaptcha"
	if ch.Type == "hcaptcha" {
		method = "hcaptcha"
	}

	form := url.Values{
		"key":       {s.apiKey},
		"method":    {method},
		"googlekey": {ch.SiteKey},
		"sitekey":   {ch.SiteKey},
		"pageurl":   {ch.PageURL},
		"json":      {"1"},
	}

	submit, err := s.post(ctx, s.baseURL+"/in.php", form)
	if err != nil {
		return "", err
	}
	if submit.Status != 1 {
		return "", fmt.Errorf("%w: solver rejected challenge: %s", steps.ErrCaptchaRequired, submit.Request)
	}
	taskID := submit.Request

	s.logger.Info("captcha submitted", "task_id", taskID, "type", ch.Type)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}

		res, err := s.get(ctx, fmt.Sprintf("%s/res.php?key=%s&action=get&id=%s&json=1",
			s.baseURL, s.apiKey, taskID))
		if err != nil {
			return "", err
		}
		if res.Status == 1 {
			return res.Request, nil
		}
		if res.Request != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("%w: solver failed: %s", steps.ErrCaptchaRequired, res.Request)
		}
	}
}

func (s *HTTPSolver) post(ctx context.Context, u string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *HTTPSolver) get(ctx context.Context, u string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

func (s *HTTPSolver) do(req *http.Request) (*apiResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solver request failed: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode solver response: %w", err)
	}
	return &out, nil
}
