package reconciler

import (
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

// Trend band and scenario multipliers. They are fixed business placeholders,
// not statistical intervals.
var (
	band80Lower = decimal.RequireFromString("0.92")
	band80Upper = decimal.RequireFromString("1.08")
	band95Lower = decimal.RequireFromString("0.85")
	band95Upper = decimal.RequireFromString("1.15")

	scenarioOptimistic  = decimal.RequireFromString("1.15")
	scenarioRealistic   = decimal.NewFromInt(1)
	scenarioPessimistic = decimal.RequireFromString("0.85")
)

// TrendInput carries what the trend projection needs
type TrendInput struct {
	Today          time.Time
	HorizonDays    int
	CurrentBalance decimal.Decimal
	AvgIncome      decimal.Decimal
	AvgExpense     decimal.Decimal
	// Planned holds planned movements keyed by day (YYYY-MM-DD)
	Planned map[string]plannedDay
}

// TrendForecast projects the balance day by day from historical averages plus
// planned movements. Day i (1..horizon) adds avgIncome + plannedCredit and
// subtracts avgExpense + plannedDebit.
func TrendForecast(in TrendInput) []ForecastPoint {
	points := make([]ForecastPoint, 0, in.HorizonDays)
	running := in.CurrentBalance

	for i := 1; i <= in.HorizonDays; i++ {
		d := models.TruncateDay(in.Today).AddDate(0, 0, i)
		planned := in.Planned[d.Format(models.DateFormat)]

		income := in.AvgIncome.Add(planned.credit)
		expense := in.AvgExpense.Add(planned.debit)
		running = running.Add(income).Sub(expense)

		balance := running.Round(2)
		points = append(points, ForecastPoint{
			Date:        d,
			Balance:     balance,
			Lower80:     running.Mul(band80Lower).Round(2),
			Upper80:     running.Mul(band80Upper).Round(2),
			Lower95:     running.Mul(band95Lower).Round(2),
			Upper95:     running.Mul(band95Upper).Round(2),
			Optimistic:  running.Mul(scenarioOptimistic).Round(2),
			Realistic:   running.Mul(scenarioRealistic).Round(2),
			Pessimistic: running.Mul(scenarioPessimistic).Round(2),
			Income:      income.Round(2),
			Expense:     expense.Round(2),
			PlannedNet:  planned.net(),
		})
	}
	return points
}
