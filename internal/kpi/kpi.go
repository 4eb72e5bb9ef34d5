// Package kpi computes financial ratios over a transaction and invoice window.
//
// Every calculator is a pure function. Ratios that divide by revenue return 0
// when revenue is 0 and never fail on empty input.
package kpi

import (
	"math"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

var hundred = decimal.NewFromInt(100)

// safeDiv returns a/b, or zero when b is zero
func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// ratio returns a/b as a float rounded to 2 decimals, or 0 when b is zero
func ratio(a, b decimal.Decimal) float64 {
	f, _ := safeDiv(a, b).Round(2).Float64()
	return f
}

func round2(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Round(f*100) / 100
}

// windowTransactions returns the CONFIRMED transactions dated within r
func windowTransactions(txs []models.Transaction, r models.DateRange) []models.Transaction {
	out := make([]models.Transaction, 0, len(txs))
	for i := range txs {
		if !txs[i].IsConfirmed() {
			continue
		}
		d, ok := txs[i].EffectiveDate()
		if !ok || !r.Contains(d) {
			continue
		}
		out = append(out, txs[i])
	}
	return out
}

// confirmedRevenue sums confirmed credits within r
func confirmedRevenue(txs []models.Transaction, r models.DateRange) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range windowTransactions(txs, r) {
		if tx.IsCredit() {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// outstanding sums the invoices of side still unpaid at the end of r
func outstanding(invoices []models.Invoice, side models.InvoiceSide, r models.DateRange) (decimal.Decimal, int) {
	total := decimal.Zero
	count := 0
	for i := range invoices {
		inv := &invoices[i]
		if inv.Side != side || !inv.OutstandingAt(r.To) {
			continue
		}
		total = total.Add(inv.Amount)
		count++
	}
	return total, count
}

// CategoryAmount is one line of a per-category breakdown
type CategoryAmount struct {
	CategoryID string          `json:"categoryId"`
	Name       string          `json:"name"`
	Class      string          `json:"class"`
	Amount     decimal.Decimal `json:"amount"`
	Count      int             `json:"count"`
}

func categoryIndex(categories []models.Category) map[string]models.Category {
	idx := make(map[string]models.Category, len(categories))
	for _, c := range categories {
		idx[c.ID] = c
	}
	return idx
}
