package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"cashflow-engine/internal/forecastclient"
	"cashflow-engine/internal/kpi"
	"cashflow-engine/internal/models"
	"cashflow-engine/internal/reconciler"
	"cashflow-engine/internal/reports"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// Report names served next to the reports service views
const (
	ReportDSO              = "dso"
	ReportEBITDA           = "ebitda"
	ReportBFR              = "bfr"
	ReportBreakEven        = "breakeven"
	ReportKPI              = "kpi"
	ReportForecastEnhanced = "forecast-enhanced"
	ReportForecastBacktest = "forecast-backtest"
)

// HealthChecker reports the state of the forecasting service
type HealthChecker interface {
	Health(ctx context.Context) (*forecastclient.HealthStatus, error)
}

// Handler serves the cash-flow endpoints
type Handler struct {
	engine  *reconciler.Engine
	reports *reports.Service
	kpis    *kpi.Service
	health  HealthChecker
	logger  logger.Logger
	now     func() time.Time
}

// NewHandler creates a handler. health may be nil when no forecasting
// service is configured.
func NewHandler(engine *reconciler.Engine, reportsSvc *reports.Service, kpiSvc *kpi.Service, health HealthChecker) *Handler {
	return &Handler{
		engine:  engine,
		reports: reportsSvc,
		kpis:    kpiSvc,
		health:  health,
		logger:  logger.GetGlobalLogger().WithComponent("api"),
		now:     time.Now,
	}
}

// SetLogger replaces the handler logger
func (h *Handler) SetLogger(l logger.Logger) {
	h.logger = l.WithComponent("api")
}

// Router builds the mux router with request id, access log and recovery middleware
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware(h.logger), recoverMiddleware(h.logger))

	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/companies/{companyId}/cashflow/{report}", h.Cashflow).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found: " + r.URL.Path, Code: "not_found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: "method_not_allowed"})
	})
	return r
}

// Reports lists every report name the cash-flow route accepts
func Reports() []string {
	return append(append([]string{}, reports.Names...),
		ReportDSO, ReportEBITDA, ReportBFR, ReportBreakEven, ReportKPI,
		ReportForecastEnhanced, ReportForecastBacktest)
}

type healthResponse struct {
	Status    string         `json:"status"`
	Time      time.Time      `json:"time"`
	Forecasts forecastHealth `json:"forecastService"`
}

type forecastHealth struct {
	Configured bool   `json:"configured"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Health reports the API status. An unhealthy forecasting service degrades
// the status but never fails the check: forecasts fall back to the trend method.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Time: h.now().UTC()}

	if h.health != nil {
		resp.Forecasts.Configured = true
		status, err := h.health.Health(r.Context())
		switch {
		case err != nil:
			resp.Status = "degraded"
			resp.Forecasts.Status = "unavailable"
			resp.Forecasts.Error = err.Error()
		case !status.Healthy():
			resp.Status = "degraded"
			resp.Forecasts.Status = status.Status
		default:
			resp.Forecasts.Status = status.Status
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Cashflow dispatches /api/companies/{companyId}/cashflow/{report}
func (h *Handler) Cashflow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	companyID, report := vars["companyId"], vars["report"]

	p, err := parseParams(companyID, r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	var result interface{}

	switch report {
	case ReportForecastEnhanced:
		result, err = h.forecastEnhanced(ctx, p)
	case ReportForecastBacktest:
		result, err = h.engine.Backtest(ctx, reconciler.BacktestRequest{
			CompanyID:   companyID,
			AccountIDs:  accountIDs(p.query.AccountID),
			PortfolioID: p.query.PortfolioID,
			HorizonDays: p.horizonDays,
		})
	case ReportDSO, ReportEBITDA, ReportBFR, ReportBreakEven, ReportKPI:
		result, err = h.kpiReport(ctx, report, p.query)
	default:
		if !isReport(report) {
			writeJSON(w, http.StatusNotFound, errorBody{
				Error:   "unknown report: " + report,
				Code:    "not_found",
				Details: map[string]interface{}{"available": Reports()},
			})
			return
		}
		result, err = h.reports.Run(ctx, report, p.query)
	}

	if err != nil {
		h.logger.WithError(err).WithFields(logger.Fields{
			"request_id": RequestID(ctx),
			"company_id": companyID,
			"report":     report,
		}).Warn("Report failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func isReport(name string) bool {
	for _, n := range reports.Names {
		if n == name {
			return true
		}
	}
	return false
}

func (h *Handler) forecastEnhanced(ctx context.Context, p params) (*reconciler.Result, error) {
	req := reconciler.Request{
		CompanyID:      p.query.CompanyID,
		AccountIDs:     accountIDs(p.query.AccountID),
		PortfolioID:    p.query.PortfolioID,
		PaymentFlowID:  p.query.PaymentFlowID,
		HorizonDays:    p.horizonDays,
		HistoricalDays: p.query.Days,
	}
	if p.query.From != nil || p.query.To != nil {
		resolved, err := h.reports.Resolve(p.query)
		if err != nil {
			return nil, err
		}
		req.Range = &resolved.Range
	}
	return h.engine.Reconcile(ctx, req)
}

func (h *Handler) kpiReport(ctx context.Context, report string, q reports.Query) (interface{}, error) {
	resolved, err := h.reports.Resolve(q)
	if err != nil {
		return nil, err
	}
	kq := kpi.Query{
		CompanyID:   resolved.CompanyID,
		Range:       resolved.Range,
		AccountIDs:  resolved.AccountIDs,
		PortfolioID: resolved.PortfolioID,
	}

	switch report {
	case ReportDSO:
		return h.kpis.DSO(ctx, kq)
	case ReportEBITDA:
		return h.kpis.EBITDA(ctx, kq)
	case ReportBFR:
		return h.kpis.BFR(ctx, kq)
	case ReportBreakEven:
		return h.kpis.BreakEven(ctx, kq)
	default:
		return h.kpis.All(ctx, kq)
	}
}

// params is the parsed query string of a cash-flow request
type params struct {
	query       reports.Query
	horizonDays int
}

func parseParams(companyID string, values url.Values) (params, error) {
	p := params{query: reports.Query{
		CompanyID:     companyID,
		GroupBy:       values.Get("groupBy"),
		PortfolioID:   values.Get("portfolioId"),
		AccountID:     values.Get("accountId"),
		PaymentFlowID: values.Get("paymentFlowId"),
	}}

	var err error
	if p.query.From, err = parseDate(values, "from"); err != nil {
		return p, err
	}
	if p.query.To, err = parseDate(values, "to"); err != nil {
		return p, err
	}
	if p.query.Days, err = parseInt(values, "days"); err != nil {
		return p, err
	}
	if p.query.Limit, err = parseInt(values, "limit"); err != nil {
		return p, err
	}
	if p.horizonDays, err = parseInt(values, "horizonDays"); err != nil {
		return p, err
	}
	return p, nil
}

func parseDate(values url.Values, name string) (*time.Time, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseTimeWithFormats(raw)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, name, raw, err)
	}
	t = models.TruncateDay(t)
	return &t, nil
}

func parseInt(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.ValidationError(errors.CodeOutOfRange, name, raw, err).
			WithSuggestion("use a positive whole number")
	}
	return n, nil
}

func accountIDs(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError maps err onto its HTTP status and the JSON error body
func writeError(w http.ResponseWriter, err error) {
	engineErr, ok := errors.AsEngineError(err)
	if !ok {
		engineErr = errors.InternalError(errors.CodeUnexpectedError, "request", err)
	}

	details := make(map[string]interface{}, len(engineErr.Context)+1)
	for k, v := range engineErr.Context {
		details[k] = v
	}
	if engineErr.Suggestion != "" {
		details["suggestion"] = engineErr.Suggestion
	}

	writeJSON(w, engineErr.HTTPStatus(), errorBody{
		Error:   engineErr.Message,
		Code:    string(engineErr.Code),
		Details: details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
