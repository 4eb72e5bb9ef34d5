package kpi

import (
	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

// BFRResult is the working-capital requirement at the end of a period
type BFRResult struct {
	Receivables          decimal.Decimal `json:"receivables"`
	Inventory            decimal.Decimal `json:"inventory"`
	Payables             decimal.Decimal `json:"payables"`
	BFR                  decimal.Decimal `json:"bfr"`
	Revenue              decimal.Decimal `json:"revenue"`
	BFRDays              float64         `json:"bfrDays"`
	Ratio                float64         `json:"ratio"`
	DaysInPeriod         int             `json:"daysInPeriod"`
	CustomerInvoices     int             `json:"customerInvoices"`
	SupplierInvoices     int             `json:"supplierInvoices"`
	OpenCustomerInvoices int             `json:"openCustomerInvoices"`
	OpenSupplierInvoices int             `json:"openSupplierInvoices"`
}

// CalculateBFR computes receivables + inventory - payables at the end of r.
// Inventory is not tracked and is always 0. Revenue is the sum of confirmed
// credits within r.
func CalculateBFR(txs []models.Transaction, invoices []models.Invoice, r models.DateRange) BFRResult {
	res := BFRResult{
		Inventory:    decimal.Zero,
		DaysInPeriod: r.Days(),
	}

	res.Receivables, res.OpenCustomerInvoices = outstanding(invoices, models.InvoiceSideCustomer, r)
	res.Payables, res.OpenSupplierInvoices = outstanding(invoices, models.InvoiceSideSupplier, r)
	for i := range invoices {
		if !invoices[i].IsCountable() || models.TruncateDay(invoices[i].IssuedAt).After(r.To) {
			continue
		}
		if invoices[i].Side == models.InvoiceSideCustomer {
			res.CustomerInvoices++
		} else {
			res.SupplierInvoices++
		}
	}

	res.BFR = res.Receivables.Add(res.Inventory).Sub(res.Payables)
	res.Revenue = confirmedRevenue(txs, r)

	days := decimal.NewFromInt(int64(res.DaysInPeriod))
	res.BFRDays = ratio(res.BFR.Mul(days), res.Revenue)
	res.Ratio = ratio(res.BFR.Mul(hundred), res.Revenue)
	return res
}
