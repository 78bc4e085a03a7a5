package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricewatch/price-scraper/internal/events"
	"github.com/pricewatch/price-scraper/internal/jobs"
	"github.com/pricewatch/price-scraper/internal/steps"
	"github.com/pricewatch/price-scraper/internal/store"
)

type fakeCalculator struct {
	lastCalc     *jobs.CalculationRequest
	lastShipping *jobs.ShippingRequest
	result       jobs.Result
}

func (f *fakeCalculator) Calculate(ctx context.Context, req jobs.CalculationRequest) jobs.Result {
	f.lastCalc = &req
	return f.result
}

func (f *fakeCalculator) CalculateShipping(ctx context.Context, req jobs.ShippingRequest) jobs.Result {
	f.lastShipping = &req
	return f.result
}

type fakeConfigStore struct {
	docs  map[string]*steps.Document
	saved []*steps.Document
}

func (f *fakeConfigStore) ActiveConfig(ctx context.Context, domain string) (*steps.Document, error) {
	doc, ok := f.docs[domain]
	if !ok {
		return nil, fmt.Errorf("%w: no configuration for domain %s", store.ErrNotFound, domain)
	}
	return doc, nil
}

func (f *fakeConfigStore) SaveConfig(ctx context.Context, doc *steps.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	f.saved = append(f.saved, doc)
	return nil
}

func (f *fakeConfigStore) ListDomains(ctx context.Context) ([]string, error) {
	var out []string
	for d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

type fakeStatus struct {
	histories map[string][]events.ProgressEvent
}

func (f *fakeStatus) History(ctx context.Context, requestID string) ([]events.ProgressEvent, error) {
	return f.histories[requestID], nil
}

func newTestRouter(calc Calculator, configs ConfigStore, status StatusSource) http.Handler {
	h := NewHandlers(calc, configs, status, slog.Default())
	r := chi.NewRouter()
	r.Post("/api/v1/calculate", h.Calculate)
	r.Post("/api/v1/calculate/shipping", h.CalculateShipping)
	r.Get("/api/v1/configs", h.ListConfigs)
	r.Get("/api/v1/configs/{domain}", h.GetConfig)
	r.Put("/api/v1/configs/{domain}", h.PutConfig)
	r.Get("/api/v1/status/{requestID}", h.GetStatus)
	return r
}

func supplierDoc() *steps.Document {
	return &steps.Document{
		Domain: "supplier.example",
		Config: steps.Config{Categories: map[string]steps.Category{
			"square_meter_price": {Steps: []steps.Step{{Type: steps.TypeReadPrice, Selector: ".total"}}},
		}},
	}
}

func TestCalculateEndpoint(t *testing.T) {
	calc := &fakeCalculator{result: jobs.Result{
		RequestID: "req-1", Domain: "supplier.example", State: "succeeded",
		NetPrice: 100, Gross: 121, Currency: "EUR", FailedAt: -1,
	}}
	router := newTestRouter(calc, &fakeConfigStore{}, &fakeStatus{})

	body := `{"url":"https://supplier.example/sheet","thickness":3,"length":3000,"width":1500,"quantity":1,"country":"NL"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calculate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res jobs.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "succeeded", res.State)
	assert.InDelta(t, 100.0, res.NetPrice, 0.001)

	require.NotNil(t, calc.lastCalc)
	assert.Equal(t, 3000.0, calc.lastCalc.LengthMM)
	assert.Equal(t, "NL", calc.lastCalc.Country)
}

func TestCalculateEndpointRejectsBadRequests(t *testing.T) {
	router := newTestRouter(&fakeCalculator{}, &fakeConfigStore{}, &fakeStatus{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing url", `{"thickness":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/calculate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCalculateEndpointDefaultsQuantity(t *testing.T) {
	calc := &fakeCalculator{result: jobs.Result{State: "succeeded"}}
	router := newTestRouter(calc, &fakeConfigStore{}, &fakeStatus{})

	body := `{"url":"https://supplier.example","thickness":3,"length":100,"width":100}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calculate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, calc.lastCalc)
	assert.Equal(t, 1, calc.lastCalc.Quantity)
}

func TestShippingEndpoint(t *testing.T) {
	calc := &fakeCalculator{result: jobs.Result{State: "succeeded"}}
	router := newTestRouter(calc, &fakeConfigStore{}, &fakeStatus{})

	body := `{"url":"https://supplier.example","package_id":"2","country":"NL"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calculate/shipping", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, calc.lastShipping)
	assert.Equal(t, "2", calc.lastShipping.PackageID)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/calculate/shipping",
		strings.NewReader(`{"url":"https://supplier.example"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "package_id is required")
}

func TestGetConfig(t *testing.T) {
	configs := &fakeConfigStore{docs: map[string]*steps.Document{"supplier.example": supplierDoc()}}
	router := newTestRouter(&fakeCalculator{}, configs, &fakeStatus{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/configs/supplier.example", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc steps.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "supplier.example", doc.Domain)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/configs/unknown.example", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutConfig(t *testing.T) {
	configs := &fakeConfigStore{docs: map[string]*steps.Document{}}
	router := newTestRouter(&fakeCalculator{}, configs, &fakeStatus{})

	body := `{"categories":{"square_meter_price":{"steps":[
		{"type":"input","selector":"#length","value":"{length}","unit":"cm"},
		{"type":"read_price","selector":".total"}
	]}}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/configs/supplier.example", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, configs.saved, 1)
	assert.Equal(t, "supplier.example", configs.saved[0].Domain)
}

func TestPutConfigRejectsInvalidSteps(t *testing.T) {
	router := newTestRouter(&fakeCalculator{}, &fakeConfigStore{}, &fakeStatus{})

	body := `{"categories":{"square_meter_price":{"steps":[{"type":"hover","selector":"#x"}]}}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/configs/supplier.example", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetStatus(t *testing.T) {
	status := &fakeStatus{histories: map[string][]events.ProgressEvent{
		"req-1": {
			{RequestID: "req-1", StepIndex: 0, Status: "completed", Timestamp: time.Now()},
			{RequestID: "req-1", StepIndex: 1, Status: "completed", Timestamp: time.Now()},
		},
	}}
	router := newTestRouter(&fakeCalculator{}, &fakeConfigStore{}, status)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/req-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RequestID string                 `json:"request_id"`
		Events    []events.ProgressEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.RequestID)
	assert.Len(t, body.Events, 2)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status/req-404", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
