// Package reconciler merges ledger actuals, planned entries, recurring patterns
// and ML predictions into one forward-looking daily cash series.
//
// The Engine reads a company's transactions once per request, computes the
// current balance and historical daily averages from CONFIRMED entries, and
// then picks a forecasting mode:
//   - "prophet" when the historical window holds enough confirmed transactions
//     and the forecasting service answers
//   - "simple_trend" otherwise, including every service or data failure
//
// Planned and scheduled transactions are layered on top of either mode day by
// day. Recurring patterns detected in the history are returned as auto events
// next to the manual events stored for the forecast window.
//
// Example usage:
//
//	engine, err := reconciler.NewEngine(store, client, detector)
//	result, err := engine.Reconcile(ctx, reconciler.Request{
//		CompanyID:   "acme",
//		HorizonDays: 60,
//	})
//	fmt.Println(result.Model.Type, result.Stats.RunwayDays)
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/forecastclient"
	"cashflow-engine/internal/ledger"
	"cashflow-engine/internal/models"
	"cashflow-engine/internal/patterns"
	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// Model types reported on every result
const (
	ModelProphet     = "prophet"
	ModelSimpleTrend = "simple_trend"
)

// Forecaster is the subset of the forecasting service client the engine uses
type Forecaster interface {
	Forecast(ctx context.Context, txs []models.Transaction, horizonDays int, confidenceLevels []float64) (*forecastclient.PredictionSet, error)
	Backtest(ctx context.Context, txs []models.Transaction, horizonDays int) (*forecastclient.BacktestMetrics, error)
}

// Config holds the engine defaults and bounds
type Config struct {
	DefaultHorizonDays    int       `json:"default_horizon_days" mapstructure:"default_horizon_days"`
	MaxHorizonDays        int       `json:"max_horizon_days" mapstructure:"max_horizon_days"`
	DefaultHistoricalDays int       `json:"default_historical_days" mapstructure:"default_historical_days"`
	MinHistoricalDays     int       `json:"min_historical_days" mapstructure:"min_historical_days"`
	MaxHistoricalDays     int       `json:"max_historical_days" mapstructure:"max_historical_days"`
	MLMinTransactions     int       `json:"ml_min_transactions" mapstructure:"ml_min_transactions"`
	LowCashRunwayDays     int       `json:"low_cash_runway_days" mapstructure:"low_cash_runway_days"`
	ConfidenceLevels      []float64 `json:"confidence_levels" mapstructure:"confidence_levels"`
}

// DefaultConfig returns the standard engine settings
func DefaultConfig() *Config {
	return &Config{
		DefaultHorizonDays:    90,
		MaxHorizonDays:        365,
		DefaultHistoricalDays: 90,
		MinHistoricalDays:     7,
		MaxHistoricalDays:     365,
		MLMinTransactions:     30,
		LowCashRunwayDays:     30,
		ConfidenceLevels:      []float64{0.8, 0.95},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxHorizonDays < 1 {
		return fmt.Errorf("max horizon must be at least 1 day")
	}
	if c.DefaultHorizonDays < 1 || c.DefaultHorizonDays > c.MaxHorizonDays {
		return fmt.Errorf("default horizon %d must be within [1, %d]", c.DefaultHorizonDays, c.MaxHorizonDays)
	}
	if c.MinHistoricalDays < 1 || c.MinHistoricalDays > c.MaxHistoricalDays {
		return fmt.Errorf("historical day bounds [%d, %d] are invalid", c.MinHistoricalDays, c.MaxHistoricalDays)
	}
	if c.DefaultHistoricalDays < c.MinHistoricalDays || c.DefaultHistoricalDays > c.MaxHistoricalDays {
		return fmt.Errorf("default historical days %d must be within [%d, %d]",
			c.DefaultHistoricalDays, c.MinHistoricalDays, c.MaxHistoricalDays)
	}
	if c.MLMinTransactions < 0 {
		return fmt.Errorf("ML transaction threshold cannot be negative")
	}
	return nil
}

// Request describes one reconciliation
type Request struct {
	CompanyID      string
	AccountIDs     []string
	PortfolioID    string
	PaymentFlowID  string
	// Range selects the actuals returned with the forecast. Nil means the historical window.
	Range          *models.DateRange
	HorizonDays    int
	HistoricalDays int
}

// ForecastPoint is one projected day
type ForecastPoint struct {
	Date        time.Time       `json:"date"`
	Balance     decimal.Decimal `json:"balance"`
	Lower80     decimal.Decimal `json:"lower80"`
	Upper80     decimal.Decimal `json:"upper80"`
	Lower95     decimal.Decimal `json:"lower95"`
	Upper95     decimal.Decimal `json:"upper95"`
	Optimistic  decimal.Decimal `json:"optimistic"`
	Realistic   decimal.Decimal `json:"realistic"`
	Pessimistic decimal.Decimal `json:"pessimistic"`
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`
	PlannedNet  decimal.Decimal `json:"plannedNet"`
	Trend       *float64        `json:"trend,omitempty"`
}

// ModelInfo tells which forecasting mode produced the series
type ModelInfo struct {
	Type           string `json:"type"`
	Points         int    `json:"points,omitempty"`
	Cached         bool   `json:"cached,omitempty"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// Stats summarizes the history and the projection
type Stats struct {
	CurrentBalance         decimal.Decimal `json:"currentBalance"`
	AvgDailyIncome         decimal.Decimal `json:"avgDailyIncome"`
	AvgDailyExpense        decimal.Decimal `json:"avgDailyExpense"`
	AvgDailyNet            decimal.Decimal `json:"avgDailyNet"`
	HistoricalTransactions int             `json:"historicalTransactions"`
	PlannedTransactions    int             `json:"plannedTransactions"`
	RunwayDays             *int            `json:"runwayDays"`
	MinBalance             decimal.Decimal `json:"minBalance"`
	MaxBalance             decimal.Decimal `json:"maxBalance"`
}

// Alerts flags conditions the caller should surface
type Alerts struct {
	LowCash         bool `json:"lowCash"`
	NegativeBalance bool `json:"negativeBalance"`
}

// Result is the forecast-enhanced view of a company's cash
type Result struct {
	CompanyID      string                 `json:"companyId"`
	Today          time.Time              `json:"today"`
	HorizonDays    int                    `json:"horizonDays"`
	HistoricalDays int                    `json:"historicalDays"`
	Actuals        ledger.Result          `json:"actuals"`
	Forecast       []ForecastPoint        `json:"forecast"`
	Events         []models.ForecastEvent `json:"events"`
	Model          ModelInfo              `json:"model"`
	Stats          Stats                  `json:"stats"`
	Alerts         Alerts                 `json:"alerts"`
}

// BacktestRequest selects the history evaluated by a backtest
type BacktestRequest struct {
	CompanyID   string
	AccountIDs  []string
	PortfolioID string
	HorizonDays int
}

// BacktestResult wraps the service metrics with the request scope
type BacktestResult struct {
	CompanyID    string                          `json:"companyId"`
	HorizonDays  int                             `json:"horizonDays"`
	Transactions int                             `json:"transactions"`
	Metrics      *forecastclient.BacktestMetrics `json:"metrics"`
}

// Engine is the reconciliation orchestrator
type Engine struct {
	repo       repository.Reader
	forecaster Forecaster
	detector   *patterns.Detector
	config     *Config
	logger     logger.Logger
	now        func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the engine's notion of today
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger replaces the engine logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithConfig replaces the default engine settings
func WithConfig(c *Config) Option {
	return func(e *Engine) {
		e.config = c
	}
}

// NewEngine creates an engine. forecaster may be nil, in which case every
// forecast uses the trend method. A nil detector gets the default thresholds.
func NewEngine(repo repository.Reader, forecaster Forecaster, detector *patterns.Detector, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "repository", nil, nil).
			WithSuggestion("provide a repository reader")
	}

	e := &Engine{
		repo:       repo,
		forecaster: forecaster,
		detector:   detector,
		config:     DefaultConfig(),
		logger:     logger.GetGlobalLogger().WithComponent("reconciler"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}
	if e.detector == nil {
		d, err := patterns.NewDetector(nil)
		if err != nil {
			return nil, err
		}
		e.detector = d
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

func (e *Engine) today() time.Time {
	return models.TruncateDay(e.now())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ResolveHorizon applies the default and bounds to a requested horizon
func (e *Engine) ResolveHorizon(days int) int {
	if days == 0 {
		return e.config.DefaultHorizonDays
	}
	return clamp(days, 1, e.config.MaxHorizonDays)
}

// ResolveHistoricalDays applies the default and bounds to a requested history length
func (e *Engine) ResolveHistoricalDays(days int) int {
	if days == 0 {
		return e.config.DefaultHistoricalDays
	}
	return clamp(days, e.config.MinHistoricalDays, e.config.MaxHistoricalDays)
}

// Reconcile builds the forecast-enhanced result. Forecasting service failures
// never reach the caller: they switch the result to the trend method. Only
// repository failures and invalid requests are returned as errors.
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if req.CompanyID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "companyId", "", nil)
	}
	if req.Range != nil {
		if err := req.Range.Validate(); err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidRange, "range", req.Range.String(), err)
		}
	}

	horizon := e.ResolveHorizon(req.HorizonDays)
	historicalDays := e.ResolveHistoricalDays(req.HistoricalDays)
	today := e.today()
	forecastTo := today.AddDate(0, 0, horizon)
	window := models.NewDateRange(today.AddDate(0, 0, -(historicalDays - 1)), today)

	op := logger.NewOperationLogger("reconcile", e.logger).WithFields(logger.Fields{
		"company_id":      req.CompanyID,
		"horizon_days":    horizon,
		"historical_days": historicalDays,
	})

	op.Step("loading transactions")
	all, err := e.repo.ListTransactions(ctx, repository.TransactionFilter{
		CompanyID:     req.CompanyID,
		AccountIDs:    req.AccountIDs,
		PortfolioID:   req.PortfolioID,
		PaymentFlowID: req.PaymentFlowID,
	})
	if err != nil {
		op.Error(err, "Failed to load transactions")
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load transactions")
	}

	h := splitHistory(all, today, window, forecastTo)
	stats, rates := e.historicalStats(h, historicalDays)
	stats.PlannedTransactions = h.plannedCount

	actualsRange := window
	if req.Range != nil {
		actualsRange = models.NewDateRange(req.Range.From, req.Range.To)
	}

	result := &Result{
		CompanyID:      req.CompanyID,
		Today:          today,
		HorizonDays:    horizon,
		HistoricalDays: historicalDays,
		Actuals:        ledger.Aggregate(all, actualsRange, models.GroupByDay),
	}

	op.Step("forecasting")
	forecast, model := e.forecast(ctx, h, stats, rates, today, horizon)
	result.Forecast = forecast
	result.Model = model

	stats.RunwayDays = ComputeRunway(stats.CurrentBalance, stats.AvgDailyNet, horizon)
	stats.MinBalance, stats.MaxBalance = balanceRange(stats.CurrentBalance, forecast)
	result.Stats = stats
	result.Alerts = Alerts{
		LowCash:         stats.RunwayDays != nil && *stats.RunwayDays < e.config.LowCashRunwayDays,
		NegativeBalance: stats.MinBalance.IsNegative(),
	}
	if result.Alerts.NegativeBalance {
		op.WithField("min_balance", stats.MinBalance.StringFixed(2)).Warning("Forecast balance goes negative")
	}

	op.Step("collecting events")
	events, err := e.collectEvents(ctx, req.CompanyID, h.windowConfirmed, today, forecastTo)
	if err != nil {
		op.Error(err, "Failed to load forecast events")
		return nil, err
	}
	result.Events = events

	op.WithFields(logger.Fields{
		"model":  model.Type,
		"points": len(forecast),
		"events": len(events),
	}).Success("reconciliation completed")

	return result, nil
}

// history is the per-request partition of a company's transactions
type history struct {
	// confirmed holds every CONFIRMED transaction up to today
	confirmed []models.Transaction
	// lastConfirmed is the latest effective date in confirmed
	lastConfirmed time.Time
	// windowConfirmed holds the CONFIRMED transactions of the historical window
	windowConfirmed []models.Transaction
	// plannedByDay holds PLANNED and SCHEDULED movements after today up to the horizon
	plannedByDay map[string]plannedDay
	plannedCount int
}

type plannedDay struct {
	credit decimal.Decimal
	debit  decimal.Decimal
}

func (p plannedDay) net() decimal.Decimal {
	return p.credit.Sub(p.debit)
}

func splitHistory(all []models.Transaction, today time.Time, window models.DateRange, forecastTo time.Time) history {
	h := history{plannedByDay: make(map[string]plannedDay)}

	for i := range all {
		tx := all[i]
		d, ok := tx.EffectiveDate()
		if !ok {
			continue
		}

		if tx.IsConfirmed() {
			if d.After(today) {
				continue
			}
			h.confirmed = append(h.confirmed, tx)
			if d.After(h.lastConfirmed) {
				h.lastConfirmed = d
			}
			if window.Contains(d) {
				h.windowConfirmed = append(h.windowConfirmed, tx)
			}
			continue
		}

		if !d.After(today) || d.After(forecastTo) {
			continue
		}
		key := d.Format(models.DateFormat)
		p := h.plannedByDay[key]
		if tx.IsCredit() {
			p.credit = p.credit.Add(tx.Amount)
		} else {
			p.debit = p.debit.Add(tx.Amount)
		}
		h.plannedByDay[key] = p
		h.plannedCount++
	}
	return h
}

// dailyRates are the unrounded historical averages the trend projection compounds
type dailyRates struct {
	income  decimal.Decimal
	expense decimal.Decimal
}

func (e *Engine) historicalStats(h history, historicalDays int) (Stats, dailyRates) {
	current := decimal.Zero
	for i := range h.confirmed {
		current = current.Add(h.confirmed[i].SignedAmount())
	}

	income := decimal.Zero
	expense := decimal.Zero
	for i := range h.windowConfirmed {
		if h.windowConfirmed[i].IsCredit() {
			income = income.Add(h.windowConfirmed[i].Amount)
		} else {
			expense = expense.Add(h.windowConfirmed[i].Amount)
		}
	}

	days := decimal.NewFromInt(int64(historicalDays))
	avgIncome := income.Div(days)
	avgExpense := expense.Div(days)

	stats := Stats{
		CurrentBalance:         current,
		AvgDailyIncome:         avgIncome.Round(2),
		AvgDailyExpense:        avgExpense.Round(2),
		AvgDailyNet:            avgIncome.Sub(avgExpense).Round(2),
		HistoricalTransactions: len(h.windowConfirmed),
	}
	return stats, dailyRates{income: avgIncome, expense: avgExpense}
}

// forecast tries the forecasting service and falls back to the trend method on any failure
func (e *Engine) forecast(ctx context.Context, h history, stats Stats, rates dailyRates, today time.Time, horizon int) ([]ForecastPoint, ModelInfo) {
	reason := ""
	switch {
	case e.forecaster == nil:
		reason = "no forecasting service configured"
	case len(h.windowConfirmed) < e.config.MLMinTransactions:
		reason = fmt.Sprintf("%d confirmed transactions in the historical window, %d required",
			len(h.windowConfirmed), e.config.MLMinTransactions)
	default:
		points, info, err := e.mlForecast(ctx, h, today, horizon)
		if err == nil {
			return points, info
		}
		reason = err.Error()
		e.logger.WithError(err).WithField("fallback", ModelSimpleTrend).Warn("Forecasting service unavailable, using trend projection")
	}

	points := TrendForecast(TrendInput{
		Today:          today,
		HorizonDays:    horizon,
		CurrentBalance: stats.CurrentBalance,
		AvgIncome:      rates.income,
		AvgExpense:     rates.expense,
		Planned:        h.plannedByDay,
	})
	return points, ModelInfo{Type: ModelSimpleTrend, FallbackReason: reason}
}

func (e *Engine) mlForecast(ctx context.Context, h history, today time.Time, horizon int) ([]ForecastPoint, ModelInfo, error) {
	// the service predicts from the last history day, so a stale history needs
	// the days up to today on top of the horizon
	requested := horizon
	if gap := models.DaysBetween(h.lastConfirmed, today); !h.lastConfirmed.IsZero() && gap > 0 {
		requested += gap
	}

	set, err := e.forecaster.Forecast(ctx, h.confirmed, requested, e.config.ConfidenceLevels)
	if err != nil {
		return nil, ModelInfo{}, err
	}

	forecastTo := today.AddDate(0, 0, horizon)
	points := make([]ForecastPoint, 0, len(set.Predictions))
	for _, p := range set.Predictions {
		d, err := p.Date()
		if err != nil {
			return nil, ModelInfo{}, errors.UpstreamError(errors.CodeServiceRejected, "/forecast", err).
				WithContext("ds", p.DS)
		}
		if !d.After(today) || d.After(forecastTo) {
			continue
		}

		planned := h.plannedByDay[d.Format(models.DateFormat)].net()
		trend := p.Trend
		yhat := decimal.NewFromFloat(p.Yhat).Add(planned).Round(2)
		points = append(points, ForecastPoint{
			Date:        d,
			Balance:     yhat,
			Lower80:     decimal.NewFromFloat(p.YhatLower80).Add(planned).Round(2),
			Upper80:     decimal.NewFromFloat(p.YhatUpper80).Add(planned).Round(2),
			Lower95:     decimal.NewFromFloat(p.YhatLower).Add(planned).Round(2),
			Upper95:     decimal.NewFromFloat(p.YhatUpper).Add(planned).Round(2),
			Optimistic:  decimal.NewFromFloat(p.YhatUpper80).Add(planned).Round(2),
			Realistic:   yhat,
			Pessimistic: decimal.NewFromFloat(p.YhatLower80).Add(planned).Round(2),
			Income:      decimal.Zero,
			Expense:     decimal.Zero,
			PlannedNet:  planned,
			Trend:       &trend,
		})
	}

	if len(points) == 0 {
		return nil, ModelInfo{}, errors.UpstreamError(errors.CodeServiceRejected, "/forecast",
			fmt.Errorf("no predictions inside the forecast horizon"))
	}

	return points, ModelInfo{Type: ModelProphet, Points: set.Points, Cached: set.Cached}, nil
}

// collectEvents merges detected recurring events with stored manual and imported
// events dated within [today, forecastTo]. The two lists are not deduplicated.
func (e *Engine) collectEvents(ctx context.Context, companyID string, historical []models.Transaction, today, forecastTo time.Time) ([]models.ForecastEvent, error) {
	categories, err := e.repo.ListCategories(ctx, companyID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load categories")
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	events := e.detector.Detect(historical, names)

	stored, err := e.repo.ListForecastEvents(ctx, repository.EventFilter{
		CompanyID: companyID,
		Types:     []models.EventType{models.EventTypeManual, models.EventTypeImported},
		From:      &today,
		To:        &forecastTo,
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load forecast events")
	}

	return append(events, stored...), nil
}

// ComputeRunway returns floor(current / |avgNet|) clamped to [0, horizon] when the
// average daily net is negative, and nil otherwise.
func ComputeRunway(current, avgNet decimal.Decimal, horizon int) *int {
	if !avgNet.IsNegative() {
		return nil
	}
	days := int(current.Div(avgNet.Abs()).Floor().IntPart())
	days = clamp(days, 0, horizon)
	return &days
}

func balanceRange(current decimal.Decimal, points []ForecastPoint) (decimal.Decimal, decimal.Decimal) {
	lo, hi := current, current
	for _, p := range points {
		if p.Balance.LessThan(lo) {
			lo = p.Balance
		}
		if p.Balance.GreaterThan(hi) {
			hi = p.Balance
		}
	}
	return lo, hi
}

// Backtest evaluates the forecasting service on the company's confirmed history.
// Unlike Reconcile it has no fallback, so service and data errors are returned.
func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	if req.CompanyID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "companyId", "", nil)
	}
	if e.forecaster == nil {
		return nil, errors.UpstreamError(errors.CodeServiceUnreachable, "/backtest",
			fmt.Errorf("no forecasting service configured"))
	}

	horizon := e.ResolveHorizon(req.HorizonDays)
	today := e.today()

	txs, err := e.repo.ListTransactions(ctx, repository.TransactionFilter{
		CompanyID:   req.CompanyID,
		AccountIDs:  req.AccountIDs,
		PortfolioID: req.PortfolioID,
		Statuses:    []models.TransactionStatus{models.StatusConfirmed},
		To:          &today,
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load transactions")
	}

	metrics, err := e.forecaster.Backtest(ctx, txs, horizon)
	if err != nil {
		e.logger.WithError(err).WithField("company_id", req.CompanyID).Warn("Backtest failed")
		return nil, err
	}

	return &BacktestResult{
		CompanyID:    req.CompanyID,
		HorizonDays:  horizon,
		Transactions: len(txs),
		Metrics:      metrics,
	}, nil
}
