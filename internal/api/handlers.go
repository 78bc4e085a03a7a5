package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pricewatch/price-scraper/internal/events"
	"github.com/pricewatch/price-scraper/internal/jobs"
	"github.com/pricewatch/price-scraper/internal/steps"
	"github.com/pricewatch/price-scraper/internal/store"
)

// Calculator accepts price requests. Satisfied by *jobs.Coordinator.
type Calculator interface {
	Calculate(ctx context.Context, req jobs.CalculationRequest) jobs.Result
	CalculateShipping(ctx context.Context, req jobs.ShippingRequest) jobs.Result
}

// ConfigStore is the handler's view of configuration persistence.
type ConfigStore interface {
	ActiveConfig(ctx context.Context, domain string) (*steps.Document, error)
	SaveConfig(ctx context.Context, doc *steps.Document) error
	ListDomains(ctx context.Context) ([]string, error)
}

// StatusSource replays the progress events of a past or running request.
type StatusSource interface {
	History(ctx context.Context, requestID string) ([]events.ProgressEvent, error)
}

type Handlers struct {
	calc    Calculator
	configs ConfigStore
	status  StatusSource
	logger  *slog.Logger
}

func NewHandlers(calc Calculator, configs ConfigStore, status StatusSource, logger *slog.Logger) *Handlers {
	return &Handlers{
		calc:    calc,
		configs: configs,
		status:  status,
		logger:  logger,
	}
}

// Calculate handles square-meter price requests. The run is synchronous:
// the response carries the final result, and the request ID can be used to
// replay progress events afterwards.
func (h *Handlers) Calculate(w http.ResponseWriter, r *http.Request) {
	var req jobs.CalculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	result := h.calc.Calculate(r.Context(), req)
	h.respondJSON(w, http.StatusOK, result)
}

// CalculateShipping handles shipping price requests for a package preset.
func (h *Handlers) CalculateShipping(w http.ResponseWriter, r *http.Request) {
	var req jobs.ShippingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.PackageID == "" {
		h.respondError(w, http.StatusBadRequest, "package_id is required")
		return
	}

	result := h.calc.CalculateShipping(r.Context(), req)
	h.respondJSON(w, http.StatusOK, result)
}

// GetConfig returns the active step configuration for a domain.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		h.respondError(w, http.StatusBadRequest, "domain is required")
		return
	}

	doc, err := h.configs.ActiveConfig(r.Context(), domain)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "no configuration for domain")
			return
		}
		h.logger.Error("failed to load config", "domain", domain, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load configuration")
		return
	}

	h.respondJSON(w, http.StatusOK, doc)
}

// PutConfig validates and stores a new configuration version for a domain.
func (h *Handlers) PutConfig(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		h.respondError(w, http.StatusBadRequest, "domain is required")
		return
	}

	var body steps.Config
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc := &steps.Document{Domain: domain, Config: body}
	if err := h.configs.SaveConfig(r.Context(), doc); err != nil {
		if errors.Is(err, steps.ErrConfigInvalid) {
			h.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("failed to save config", "domain", domain, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save configuration")
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]string{
		"domain": domain,
		"status": "saved",
	})
}

// ListConfigs returns every domain with an active configuration.
func (h *Handlers) ListConfigs(w http.ResponseWriter, r *http.Request) {
	domains, err := h.configs.ListDomains(r.Context())
	if err != nil {
		h.logger.Error("failed to list domains", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list configurations")
		return
	}
	if domains == nil {
		domains = []string{}
	}

	h.respondJSON(w, http.StatusOK, map[string][]string{"domains": domains})
}

// GetStatus replays the progress events recorded for a request ID.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	if requestID == "" {
		h.respondError(w, http.StatusBadRequest, "request ID is required")
		return
	}

	history, err := h.status.History(r.Context(), requestID)
	if err != nil {
		h.logger.Error("failed to load status history", "request_id", requestID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	if len(history) == 0 {
		h.respondError(w, http.StatusNotFound, "no status for request")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"events":     history,
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
