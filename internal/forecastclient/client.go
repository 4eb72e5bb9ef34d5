// Package forecastclient talks to the external ML forecasting service.
package forecastclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
	apperrors "cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

const (
	forecastPath = "/forecast"
	backtestPath = "/backtest"
	healthPath   = "/health"
)

// Config holds the forecasting service settings
type Config struct {
	BaseURL           string        `json:"base_url" mapstructure:"base_url"`
	ForecastTimeout   time.Duration `json:"forecast_timeout" mapstructure:"forecast_timeout"`
	BacktestTimeout   time.Duration `json:"backtest_timeout" mapstructure:"backtest_timeout"`
	HealthTimeout     time.Duration `json:"health_timeout" mapstructure:"health_timeout"`
	CacheTTL          time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
	CleanupSchedule   string        `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	MinForecastPoints int           `json:"min_forecast_points" mapstructure:"min_forecast_points"`
	MinBacktestPoints int           `json:"min_backtest_points" mapstructure:"min_backtest_points"`
	ConfidenceLevels  []float64     `json:"confidence_levels" mapstructure:"confidence_levels"`
}

// DefaultConfig returns the standard service settings
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://localhost:8000",
		ForecastTimeout:   10 * time.Second,
		BacktestTimeout:   60 * time.Second,
		HealthTimeout:     5 * time.Second,
		CacheTTL:          24 * time.Hour,
		CleanupSchedule:   "@every 1h",
		MinForecastPoints: 30,
		MinBacktestPoints: 365,
		ConfidenceLevels:  []float64{0.8, 0.95},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("forecast service base URL cannot be empty")
	}
	if c.ForecastTimeout <= 0 || c.BacktestTimeout <= 0 || c.HealthTimeout <= 0 {
		return fmt.Errorf("service timeouts must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.MinForecastPoints < 1 || c.MinBacktestPoints < 1 {
		return fmt.Errorf("minimum point counts must be positive")
	}
	for _, level := range c.ConfidenceLevels {
		if level <= 0 || level >= 1 {
			return fmt.Errorf("confidence level %v must be in (0, 1)", level)
		}
	}
	return nil
}

// Client calls the forecasting service and caches forecast results
type Client struct {
	config *Config
	http   *http.Client
	cache  *Cache
	logger logger.Logger
}

// NewClient creates a client. A nil cache gets a private one with the configured TTL.
func NewClient(config *Config, cache *Cache) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "forecast", config.BaseURL, err)
	}
	if cache == nil {
		cache = NewCache(config.CacheTTL)
	}
	return &Client{
		config: config,
		http:   &http.Client{},
		cache:  cache,
		logger: logger.GetGlobalLogger().WithComponent("forecast-client"),
	}, nil
}

// SetLogger replaces the client logger
func (c *Client) SetLogger(l logger.Logger) {
	c.logger = l
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

// Cache returns the forecast cache
func (c *Client) Cache() *Cache {
	return c.cache
}

// PrepareSeries turns transactions into a running-balance series with one point
// per calendar day that has at least one dated transaction. Days without
// transactions are not filled in.
func PrepareSeries(txs []models.Transaction) []SeriesPoint {
	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	models.SortByEffectiveDate(sorted)

	series := make([]SeriesPoint, 0)
	running := decimal.Zero
	for i := range sorted {
		d, ok := sorted[i].EffectiveDate()
		if !ok {
			continue
		}
		running = running.Add(sorted[i].SignedAmount())
		balance, _ := running.Float64()
		key := d.Format(models.DateFormat)

		if n := len(series); n > 0 && series[n-1].Date == key {
			series[n-1].Balance = balance
			continue
		}
		series = append(series, SeriesPoint{Date: key, Balance: balance})
	}
	return series
}

// Forecast asks the service for horizonDays predictions. It fails with an
// insufficient data error below the configured number of daily points and
// never degrades to another method on its own.
func (c *Client) Forecast(ctx context.Context, txs []models.Transaction, horizonDays int, confidenceLevels []float64) (*PredictionSet, error) {
	series := PrepareSeries(txs)
	if len(series) < c.config.MinForecastPoints {
		return nil, apperrors.InsufficientDataError("forecast", c.config.MinForecastPoints, len(series))
	}
	if len(confidenceLevels) == 0 {
		confidenceLevels = c.config.ConfidenceLevels
	}

	key := CacheKey(series, horizonDays, confidenceLevels)
	if cached, ok := c.cache.Get(key); ok {
		c.logger.WithField("points", len(series)).Debug("Forecast served from cache")
		cached.Cached = true
		return &cached, nil
	}

	req := forecastRequest{
		HistoricalData:   series,
		HorizonDays:      horizonDays,
		ConfidenceLevels: confidenceLevels,
	}
	var resp struct {
		Predictions []Prediction `json:"predictions"`
	}

	op := logger.NewOperationLogger("forecast", c.logger).
		WithFields(logger.Fields{"points": len(series), "horizon_days": horizonDays})
	if err := c.do(ctx, http.MethodPost, forecastPath, c.config.ForecastTimeout, req, &resp); err != nil {
		op.Error(err, "Forecast request failed")
		return nil, err
	}
	op.Success(fmt.Sprintf("received %d predictions", len(resp.Predictions)))

	result := PredictionSet{Predictions: resp.Predictions, Points: len(series)}
	c.cache.Set(key, result)
	return &result, nil
}

// Backtest asks the service to evaluate its accuracy on the history. It needs
// at least the configured number of daily points.
func (c *Client) Backtest(ctx context.Context, txs []models.Transaction, horizonDays int) (*BacktestMetrics, error) {
	series := PrepareSeries(txs)
	if len(series) < c.config.MinBacktestPoints {
		return nil, apperrors.InsufficientDataError("backtest", c.config.MinBacktestPoints, len(series))
	}

	req := backtestRequest{HistoricalData: series, HorizonDays: horizonDays}
	var resp backtestResponse

	op := logger.NewOperationLogger("backtest", c.logger).
		WithFields(logger.Fields{"points": len(series), "horizon_days": horizonDays})
	if err := c.do(ctx, http.MethodPost, backtestPath, c.config.BacktestTimeout, req, &resp); err != nil {
		op.Error(err, "Backtest request failed")
		return nil, err
	}
	if !resp.Success || resp.Metrics == nil {
		reason := resp.Error
		if reason == "" {
			reason = "backtest returned no metrics"
		}
		err := apperrors.UpstreamError(apperrors.CodeServiceRejected, backtestPath, errors.New(reason)).
			WithContext("reason", reason)
		op.Error(err, "Backtest rejected")
		return nil, err
	}
	op.Success("backtest completed")

	return resp.Metrics, nil
}

// Health queries the service health endpoint
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, healthPath, c.config.HealthTimeout, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do performs one JSON call bounded by timeout. Transport failures map to
// service_unreachable, deadline expiry to service_timeout, and non-2xx or
// undecodable responses to service_rejected.
func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.InternalError(apperrors.CodeUnexpectedError, "encode "+path+" request", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return apperrors.UpstreamError(apperrors.CodeServiceUnreachable, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.UpstreamError(apperrors.CodeServiceTimeout, path, err).
				WithContext("timeout", timeout.String())
		}
		return apperrors.UpstreamError(apperrors.CodeServiceUnreachable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.UpstreamError(apperrors.CodeServiceTimeout, path, err)
		}
		return apperrors.UpstreamError(apperrors.CodeServiceUnreachable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.UpstreamError(apperrors.CodeServiceRejected, path,
			fmt.Errorf("unexpected status code: %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode).
			WithContext("body", truncate(string(raw), 512))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.UpstreamError(apperrors.CodeServiceRejected, path, errors.Wrap(err, "invalid response body"))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
