package reconciler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/forecastclient"
	"cashflow-engine/internal/models"
	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

var today = time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)

type fakeForecaster struct {
	forecastCalls int
	backtestCalls int
	lastHistory   []models.Transaction
	lastHorizon   int
	set           *forecastclient.PredictionSet
	metrics       *forecastclient.BacktestMetrics
	err           error
}

func (f *fakeForecaster) Forecast(ctx context.Context, txs []models.Transaction, horizonDays int, levels []float64) (*forecastclient.PredictionSet, error) {
	f.forecastCalls++
	f.lastHistory = txs
	f.lastHorizon = horizonDays
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

func (f *fakeForecaster) Backtest(ctx context.Context, txs []models.Transaction, horizonDays int) (*forecastclient.BacktestMetrics, error) {
	f.backtestCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.metrics, nil
}

func daysAgo(n int) *time.Time {
	d := models.TruncateDay(today).AddDate(0, 0, -n)
	return &d
}

func daysAhead(n int) *time.Time {
	d := models.TruncateDay(today).AddDate(0, 0, n)
	return &d
}

func confirmedTx(id string, amount int64, typ models.TransactionType, at *time.Time) models.Transaction {
	return models.Transaction{ID: id, CompanyID: "acme", Amount: decimal.NewFromInt(amount), Type: typ, Status: models.StatusConfirmed, OccurredAt: at, AccountID: "acc-1"}
}

func plannedTx(id string, amount int64, typ models.TransactionType, at *time.Time) models.Transaction {
	return models.Transaction{ID: id, CompanyID: "acme", Amount: decimal.NewFromInt(amount), Type: typ, Status: models.StatusPlanned, ScheduledFor: at, AccountID: "acc-1"}
}

// storeWithHistory holds n daily confirmed credits of 10 inside the historical window
func storeWithHistory(n int) *repository.MemoryStore {
	store := repository.NewMemoryStore()
	for i := 0; i < n; i++ {
		store.AddTransactions(confirmedTx(fmt.Sprintf("h%d", i), 10, models.TransactionTypeCredit, daysAgo(i)))
	}
	return store
}

func newTestEngine(t *testing.T, store repository.Reader, forecaster Forecaster) *Engine {
	t.Helper()
	var engine *Engine
	var err error
	if forecaster == nil {
		engine, err = NewEngine(store, nil, nil, WithClock(func() time.Time { return today }), WithLogger(logger.Discard()))
	} else {
		engine, err = NewEngine(store, forecaster, nil, WithClock(func() time.Time { return today }), WithLogger(logger.Discard()))
	}
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestReconcile_BelowThresholdUsesTrend(t *testing.T) {
	fake := &fakeForecaster{}
	engine := newTestEngine(t, storeWithHistory(29), fake)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fake.forecastCalls != 0 {
		t.Errorf("expected the forecasting service not to be called, got %d calls", fake.forecastCalls)
	}
	if result.Model.Type != ModelSimpleTrend {
		t.Errorf("expected simple_trend, got %s", result.Model.Type)
	}
	if result.Stats.HistoricalTransactions != 29 {
		t.Errorf("expected 29 historical transactions, got %d", result.Stats.HistoricalTransactions)
	}
	if len(result.Forecast) != 10 {
		t.Errorf("expected 10 forecast points, got %d", len(result.Forecast))
	}
}

func TestReconcile_ServiceUnreachableFallsBack(t *testing.T) {
	fake := &fakeForecaster{err: errors.UpstreamError(errors.CodeServiceUnreachable, "/forecast", fmt.Errorf("connection refused"))}
	engine := newTestEngine(t, storeWithHistory(40), fake)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 5})
	if err != nil {
		t.Fatalf("service failure must not reach the caller: %v", err)
	}
	if fake.forecastCalls != 1 {
		t.Errorf("expected 1 service call, got %d", fake.forecastCalls)
	}
	if result.Model.Type != ModelSimpleTrend {
		t.Errorf("expected simple_trend, got %s", result.Model.Type)
	}
	if result.Model.FallbackReason == "" {
		t.Error("expected a fallback reason")
	}
}

func TestReconcile_RealClientUnreachableFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	cfg := forecastclient.DefaultConfig()
	cfg.BaseURL = url
	client, err := forecastclient.NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	client.SetLogger(logger.Discard())

	engine := newTestEngine(t, storeWithHistory(60), client)
	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Model.Type != ModelSimpleTrend {
		t.Errorf("expected simple_trend, got %s", result.Model.Type)
	}
	if result.HorizonDays != 90 {
		t.Errorf("expected default horizon 90, got %d", result.HorizonDays)
	}
}

func TestReconcile_ServiceInsufficientDataFallsBack(t *testing.T) {
	fake := &fakeForecaster{err: errors.InsufficientDataError("forecast", 30, 12)}
	engine := newTestEngine(t, storeWithHistory(35), fake)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Model.Type != ModelSimpleTrend {
		t.Errorf("expected simple_trend, got %s", result.Model.Type)
	}
}

func TestReconcile_ProphetAddsPlannedNet(t *testing.T) {
	store := storeWithHistory(30)
	store.AddTransactions(
		plannedTx("p1", 100, models.TransactionTypeDebit, daysAhead(2)),
		plannedTx("p2", 40, models.TransactionTypeCredit, daysAhead(2)),
	)
	fake := &fakeForecaster{set: &forecastclient.PredictionSet{
		Points: 30,
		Predictions: []forecastclient.Prediction{
			{DS: daysAhead(0).Format(models.DateFormat), Yhat: 1},
			{DS: daysAhead(1).Format(models.DateFormat), Yhat: 300, YhatLower80: 290, YhatUpper80: 310, YhatLower: 280, YhatUpper: 320},
			{DS: daysAhead(2).Format(models.DateFormat), Yhat: 310, YhatLower80: 295, YhatUpper80: 325, YhatLower: 285, YhatUpper: 335},
		},
	}}
	engine := newTestEngine(t, store, fake)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Model.Type != ModelProphet {
		t.Fatalf("expected prophet, got %s (%s)", result.Model.Type, result.Model.FallbackReason)
	}
	if len(fake.lastHistory) != 30 {
		t.Errorf("expected the confirmed history to be sent, got %d transactions", len(fake.lastHistory))
	}
	if len(result.Forecast) != 2 {
		t.Fatalf("expected predictions for today to be skipped, got %d points", len(result.Forecast))
	}

	first, second := result.Forecast[0], result.Forecast[1]
	if !first.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected day 1 balance 300, got %s", first.Balance)
	}
	// planned net on day 2 is 40 - 100 = -60, added to that day only
	if !second.Balance.Equal(decimal.NewFromInt(250)) {
		t.Errorf("expected day 2 balance 250, got %s", second.Balance)
	}
	if !second.Lower80.Equal(decimal.NewFromInt(235)) || !second.Upper95.Equal(decimal.NewFromInt(275)) {
		t.Errorf("expected bands shifted by planned net, got %s / %s", second.Lower80, second.Upper95)
	}
}

func TestReconcile_ProphetStaleHistoryCoversHorizon(t *testing.T) {
	store := repository.NewMemoryStore()
	for i := 0; i < 30; i++ {
		store.AddTransactions(confirmedTx(fmt.Sprintf("h%d", i), 10, models.TransactionTypeCredit, daysAgo(10+i)))
	}

	// the service answers from the day after the last history point
	predictions := make([]forecastclient.Prediction, 0, 15)
	for i := -9; i <= 5; i++ {
		predictions = append(predictions, forecastclient.Prediction{DS: daysAhead(i).Format(models.DateFormat), Yhat: float64(300 + i)})
	}
	fake := &fakeForecaster{set: &forecastclient.PredictionSet{Points: 30, Predictions: predictions}}
	engine := newTestEngine(t, store, fake)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Model.Type != ModelProphet {
		t.Fatalf("expected prophet, got %s (%s)", result.Model.Type, result.Model.FallbackReason)
	}
	if fake.lastHorizon != 15 {
		t.Errorf("expected horizon extended by the 10 day gap to 15, got %d", fake.lastHorizon)
	}
	if len(result.Forecast) != 5 {
		t.Fatalf("expected 5 forecast points, got %d", len(result.Forecast))
	}
	if !result.Forecast[0].Date.Equal(*daysAhead(1)) {
		t.Errorf("expected first point tomorrow, got %s", result.Forecast[0].Date)
	}
	if !result.Forecast[4].Balance.Equal(decimal.NewFromInt(305)) {
		t.Errorf("expected last balance 305, got %s", result.Forecast[4].Balance)
	}
}

func TestReconcile_TrendUsesUnroundedAverages(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddTransactions(confirmedTx("in", 1000, models.TransactionTypeCredit, daysAgo(5)))
	engine := newTestEngine(t, store, nil)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 90, HistoricalDays: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Stats.AvgDailyIncome.Equal(decimal.RequireFromString("33.33")) {
		t.Errorf("expected displayed avg income 33.33, got %s", result.Stats.AvgDailyIncome)
	}
	if len(result.Forecast) != 90 {
		t.Fatalf("expected 90 points, got %d", len(result.Forecast))
	}
	// 90 days of 1000/30 per day, without compounding the rounded 33.33
	if last := result.Forecast[89].Balance; !last.Equal(decimal.NewFromInt(4000)) {
		t.Errorf("expected day 90 balance 4000, got %s", last)
	}
	if mid := result.Forecast[29].Balance; !mid.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected day 30 balance 2000, got %s", mid)
	}
}

func TestReconcile_RunwayScenario(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddTransactions(confirmedTx("seed", 10500, models.TransactionTypeCredit, daysAgo(200)))
	for i := 0; i < 90; i++ {
		store.AddTransactions(confirmedTx(fmt.Sprintf("out%d", i), 100, models.TransactionTypeDebit, daysAgo(i)))
	}
	engine := newTestEngine(t, store, nil)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 30, HistoricalDays: 90})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Stats.CurrentBalance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected current balance 1500, got %s", result.Stats.CurrentBalance)
	}
	if !result.Stats.AvgDailyNet.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("expected avg daily net -100, got %s", result.Stats.AvgDailyNet)
	}
	if result.Stats.RunwayDays == nil || *result.Stats.RunwayDays != 15 {
		t.Fatalf("expected runway 15, got %v", result.Stats.RunwayDays)
	}
	if !result.Alerts.LowCash {
		t.Error("expected low cash alert")
	}
	if !result.Alerts.NegativeBalance {
		t.Error("expected negative balance alert")
	}
	if !result.Stats.MaxBalance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected max balance to include the current balance, got %s", result.Stats.MaxBalance)
	}
	if !result.Stats.MinBalance.Equal(decimal.NewFromInt(-1500)) {
		t.Errorf("expected min balance -1500, got %s", result.Stats.MinBalance)
	}
}

func TestComputeRunway(t *testing.T) {
	tests := []struct {
		name     string
		current  int64
		avgNet   int64
		horizon  int
		expected *int
	}{
		{"negative trend", 1500, -100, 30, intPtr(15)},
		{"clamped to horizon", 100000, -10, 90, intPtr(90)},
		{"already negative", -500, -10, 90, intPtr(0)},
		{"positive trend", 1500, 50, 30, nil},
		{"flat", 1500, 0, 30, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeRunway(decimal.NewFromInt(tt.current), decimal.NewFromInt(tt.avgNet), tt.horizon)
			if (got == nil) != (tt.expected == nil) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			if got != nil && *got != *tt.expected {
				t.Errorf("expected %d, got %d", *tt.expected, *got)
			}
		})
	}
}

func intPtr(v int) *int { return &v }

func TestTrendForecast(t *testing.T) {
	points := TrendForecast(TrendInput{
		Today:          today,
		HorizonDays:    3,
		CurrentBalance: decimal.NewFromInt(1000),
		AvgIncome:      decimal.NewFromInt(50),
		AvgExpense:     decimal.NewFromInt(30),
		Planned: map[string]plannedDay{
			daysAhead(2).Format(models.DateFormat): {credit: decimal.NewFromInt(100), debit: decimal.Zero},
		},
	})

	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	expected := []int64{1020, 1140, 1160}
	for i, p := range points {
		if !p.Balance.Equal(decimal.NewFromInt(expected[i])) {
			t.Errorf("day %d: expected %d, got %s", i+1, expected[i], p.Balance)
		}
	}

	p := points[0]
	checks := map[string]struct {
		got  decimal.Decimal
		want string
	}{
		"lower80":     {p.Lower80, "938.4"},
		"upper80":     {p.Upper80, "1101.6"},
		"lower95":     {p.Lower95, "867"},
		"upper95":     {p.Upper95, "1173"},
		"optimistic":  {p.Optimistic, "1173"},
		"realistic":   {p.Realistic, "1020"},
		"pessimistic": {p.Pessimistic, "867"},
	}
	for name, c := range checks {
		if !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s: expected %s, got %s", name, c.want, c.got)
		}
	}
	if !points[1].Income.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected planned credit in day 2 income, got %s", points[1].Income)
	}
	if !points[0].Date.Equal(models.TruncateDay(today).AddDate(0, 0, 1)) {
		t.Errorf("expected first point tomorrow, got %s", points[0].Date)
	}
}

func TestReconcile_EventsMergedWithoutDedup(t *testing.T) {
	store := repository.NewMemoryStore()
	for i := 0; i < 3; i++ {
		store.AddTransactions(confirmedTx(fmt.Sprintf("rent%d", i), 1200, models.TransactionTypeDebit, daysAgo(60-30*i)))
	}
	store.AddForecastEvents(
		models.ForecastEvent{ID: "m1", CompanyID: "acme", Date: *daysAhead(30), Label: "Loyer", Amount: decimal.NewFromInt(-1200), Type: models.EventTypeManual, Confidence: 1},
		models.ForecastEvent{ID: "m-old", CompanyID: "acme", Date: *daysAgo(5), Label: "Old", Type: models.EventTypeManual},
		models.ForecastEvent{ID: "m-far", CompanyID: "acme", Date: *daysAhead(200), Label: "Far", Type: models.EventTypeManual},
	)
	engine := newTestEngine(t, store, nil)

	result, err := engine.Reconcile(context.Background(), Request{CompanyID: "acme", HorizonDays: 60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Events) != 2 {
		t.Fatalf("expected 1 auto and 1 manual event, got %+v", result.Events)
	}
	if result.Events[0].Type != models.EventTypeAuto || result.Events[1].ID != "m1" {
		t.Errorf("unexpected events %+v", result.Events)
	}
	if !result.Events[0].Date.Equal(result.Events[1].Date) {
		t.Errorf("expected auto and manual events on the same day, got %s and %s", result.Events[0].Date, result.Events[1].Date)
	}
}

func TestReconcile_Validation(t *testing.T) {
	engine := newTestEngine(t, repository.NewMemoryStore(), nil)

	_, err := engine.Reconcile(context.Background(), Request{})
	if !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("expected validation error for missing company, got %v", err)
	}

	bad := models.DateRange{From: today, To: today.AddDate(0, 0, -3)}
	_, err = engine.Reconcile(context.Background(), Request{CompanyID: "acme", Range: &bad})
	if !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("expected validation error for inverted range, got %v", err)
	}
}

func TestResolveBounds(t *testing.T) {
	engine := newTestEngine(t, repository.NewMemoryStore(), nil)

	tests := []struct {
		in, horizon, historical int
	}{
		{0, 90, 90},
		{-5, 1, 7},
		{3, 3, 7},
		{400, 365, 365},
		{120, 120, 120},
	}
	for _, tt := range tests {
		if got := engine.ResolveHorizon(tt.in); got != tt.horizon {
			t.Errorf("ResolveHorizon(%d) = %d, want %d", tt.in, got, tt.horizon)
		}
		if got := engine.ResolveHistoricalDays(tt.in); got != tt.historical {
			t.Errorf("ResolveHistoricalDays(%d) = %d, want %d", tt.in, got, tt.historical)
		}
	}
}

func TestBacktest(t *testing.T) {
	t.Run("propagates service errors", func(t *testing.T) {
		fake := &fakeForecaster{err: errors.InsufficientDataError("backtest", 365, 40)}
		engine := newTestEngine(t, storeWithHistory(40), fake)

		_, err := engine.Backtest(context.Background(), BacktestRequest{CompanyID: "acme"})
		if !errors.IsCategory(err, errors.CategoryInsufficientData) {
			t.Errorf("expected insufficient data error, got %v", err)
		}
	})

	t.Run("no service configured", func(t *testing.T) {
		engine := newTestEngine(t, storeWithHistory(40), nil)

		_, err := engine.Backtest(context.Background(), BacktestRequest{CompanyID: "acme"})
		if !errors.IsUpstreamUnavailable(err) {
			t.Errorf("expected upstream unavailable error, got %v", err)
		}
	})

	t.Run("returns metrics", func(t *testing.T) {
		fake := &fakeForecaster{metrics: &forecastclient.BacktestMetrics{MAE: 3, CutoffsTested: 2}}
		engine := newTestEngine(t, storeWithHistory(40), fake)

		result, err := engine.Backtest(context.Background(), BacktestRequest{CompanyID: "acme", HorizonDays: 30})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Transactions != 40 || result.Metrics.MAE != 3 || result.HorizonDays != 30 {
			t.Errorf("unexpected result %+v", result)
		}
	})
}
