package forecastclient

import (
	"time"

	"cashflow-engine/internal/models"
)

// SeriesPoint is one day of the running-balance series sent to the service
type SeriesPoint struct {
	Date    string  `json:"date"`
	Balance float64 `json:"balance"`
}

type forecastRequest struct {
	HistoricalData   []SeriesPoint `json:"historical_data"`
	HorizonDays      int           `json:"horizon_days"`
	ConfidenceLevels []float64     `json:"confidence_levels"`
}

type backtestRequest struct {
	HistoricalData []SeriesPoint `json:"historical_data"`
	HorizonDays    int           `json:"horizon_days"`
}

// Prediction is one forecast day as returned by the service.
// YhatLower/YhatUpper carry the 95% band.
type Prediction struct {
	DS          string   `json:"ds"`
	Yhat        float64  `json:"yhat"`
	YhatLower80 float64  `json:"yhat_lower_80"`
	YhatUpper80 float64  `json:"yhat_upper_80"`
	YhatLower   float64  `json:"yhat_lower"`
	YhatUpper   float64  `json:"yhat_upper"`
	Trend       float64  `json:"trend"`
	Yearly      *float64 `json:"yearly,omitempty"`
	Weekly      *float64 `json:"weekly,omitempty"`
}

// Date parses the prediction day
func (p Prediction) Date() (time.Time, error) {
	t, err := models.ParseTimeWithFormats(p.DS)
	if err != nil {
		return time.Time{}, err
	}
	return models.TruncateDay(t), nil
}

// PredictionSet is the outcome of a forecast call
type PredictionSet struct {
	Predictions []Prediction `json:"predictions"`
	// Points is the number of daily points the forecast was computed from
	Points int  `json:"points"`
	Cached bool `json:"cached"`
}

// BacktestMetrics are the accuracy metrics of a backtest run
type BacktestMetrics struct {
	MAE           float64 `json:"mae"`
	RMSE          float64 `json:"rmse"`
	MAPE          float64 `json:"mape"`
	Coverage      float64 `json:"coverage"`
	CutoffsTested int     `json:"cutoffs_tested"`
}

type backtestResponse struct {
	Success bool             `json:"success"`
	Metrics *BacktestMetrics `json:"metrics,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// HealthStatus is the response of the service health endpoint
type HealthStatus struct {
	Status string `json:"status"`
}

// Healthy reports whether the service declared itself healthy
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}
