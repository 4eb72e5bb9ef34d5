package kpi

import (
	"math"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

// Trend directions of a KPI against the preceding period
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// DSOResult is the Days Sales Outstanding of a period
type DSOResult struct {
	DSO                    float64          `json:"dso"`
	OutstandingReceivables decimal.Decimal  `json:"outstandingReceivables"`
	PeriodRevenue          decimal.Decimal  `json:"periodRevenue"`
	DaysInPeriod           int              `json:"daysInPeriod"`
	CustomerInvoices       int              `json:"customerInvoices"`
	PaidInvoices           int              `json:"paidInvoices"`
	PaidWithDate           int              `json:"paidWithDate"`
	OutstandingInvoices    int              `json:"outstandingInvoices"`
	PreviousDSO            float64          `json:"previousDso"`
	PreviousRange          models.DateRange `json:"previousRange"`
	Change                 float64          `json:"change"`
	Trend                  string           `json:"trend"`
}

// CalculateDSO computes (outstanding receivables / revenue) x days for r and
// compares it with the preceding period of equal length. Revenue is the sum of
// PAID customer invoices issued within the range.
func CalculateDSO(invoices []models.Invoice, r models.DateRange) DSOResult {
	current := dsoFor(invoices, r)
	previous := dsoFor(invoices, r.Previous())

	current.PreviousDSO = previous.DSO
	current.PreviousRange = r.Previous()
	current.Change = round2(current.DSO - previous.DSO)
	switch {
	case math.Abs(current.Change) < 1:
		current.Trend = TrendStable
	case current.Change > 0:
		current.Trend = TrendUp
	default:
		current.Trend = TrendDown
	}
	return current
}

func dsoFor(invoices []models.Invoice, r models.DateRange) DSOResult {
	res := DSOResult{
		OutstandingReceivables: decimal.Zero,
		PeriodRevenue:          decimal.Zero,
		DaysInPeriod:           r.Days(),
	}

	for i := range invoices {
		inv := &invoices[i]
		if inv.Side != models.InvoiceSideCustomer || !inv.IsCountable() {
			continue
		}
		if r.Contains(inv.IssuedAt) {
			res.CustomerInvoices++
			if inv.Status == models.InvoicePaid {
				res.PaidInvoices++
				res.PeriodRevenue = res.PeriodRevenue.Add(inv.Amount)
				if inv.PaidAt != nil {
					res.PaidWithDate++
				}
			}
		}
	}

	res.OutstandingReceivables, res.OutstandingInvoices = outstanding(invoices, models.InvoiceSideCustomer, r)

	days := decimal.NewFromInt(int64(res.DaysInPeriod))
	dso, _ := safeDiv(res.OutstandingReceivables, res.PeriodRevenue).Mul(days).Float64()
	res.DSO = round2(dso)
	return res
}
