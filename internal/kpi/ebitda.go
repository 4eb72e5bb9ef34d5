package kpi

import (
	"sort"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

// Breakdown classes of the EBITDA calculation
const (
	ClassRevenue       = "revenue"
	ClassCOGS          = "cogs"
	ClassOpex          = "opex"
	ClassDepreciation  = "depreciation_amortization"
	ClassOtherExpenses = "other_expenses"
)

// EBITDAResult holds the EBITDA decomposition of a period
type EBITDAResult struct {
	Revenue                  decimal.Decimal  `json:"revenue"`
	COGS                     decimal.Decimal  `json:"cogs"`
	GrossMargin              decimal.Decimal  `json:"grossMargin"`
	GrossMarginRate          float64          `json:"grossMarginRate"`
	OperatingExpenses        decimal.Decimal  `json:"operatingExpenses"`
	OtherExpenses            decimal.Decimal  `json:"otherExpenses"`
	DepreciationAmortization decimal.Decimal  `json:"depreciationAmortization"`
	OperatingProfit          decimal.Decimal  `json:"operatingProfit"`
	EBITDA                   decimal.Decimal  `json:"ebitda"`
	EBITDAMargin             float64          `json:"ebitdaMargin"`
	Transactions             int              `json:"transactions"`
	DebitTransactions        int              `json:"debitTransactions"`
	CategorizedDebits        int              `json:"categorizedDebits"`
	DaysInPeriod             int              `json:"daysInPeriod"`
	Breakdown                []CategoryAmount `json:"breakdown"`
}

// CalculateEBITDA computes operatingProfit + D&A over the confirmed transactions
// of r. Credits are revenue. Debits are assigned by category name: depreciation
// or COGS keywords first, then opex for EXPENSE categories, and other expenses
// for everything else, uncategorized debits included.
func CalculateEBITDA(txs []models.Transaction, categories []models.Category, r models.DateRange, classifier ExpenseClassifier) EBITDAResult {
	res := EBITDAResult{
		Revenue:                  decimal.Zero,
		COGS:                     decimal.Zero,
		OperatingExpenses:        decimal.Zero,
		OtherExpenses:            decimal.Zero,
		DepreciationAmortization: decimal.Zero,
		DaysInPeriod:             r.Days(),
	}
	idx := categoryIndex(categories)
	lines := make(map[string]*CategoryAmount)

	add := func(tx *models.Transaction, class string) {
		key := class + "|" + tx.CategoryID
		line, ok := lines[key]
		if !ok {
			line = &CategoryAmount{CategoryID: tx.CategoryID, Name: idx[tx.CategoryID].Name, Class: class, Amount: decimal.Zero}
			lines[key] = line
		}
		line.Amount = line.Amount.Add(tx.Amount)
		line.Count++
	}

	window := windowTransactions(txs, r)
	res.Transactions = len(window)
	for i := range window {
		tx := &window[i]
		if tx.IsCredit() {
			res.Revenue = res.Revenue.Add(tx.Amount)
			add(tx, ClassRevenue)
			continue
		}

		res.DebitTransactions++
		cat, known := idx[tx.CategoryID]
		if tx.CategoryID == "" || !known {
			res.OtherExpenses = res.OtherExpenses.Add(tx.Amount)
			add(tx, ClassOtherExpenses)
			continue
		}
		res.CategorizedDebits++

		switch classifier.ClassifyExpense(cat.Name) {
		case ExpenseDepreciation:
			res.DepreciationAmortization = res.DepreciationAmortization.Add(tx.Amount)
			add(tx, ClassDepreciation)
		case ExpenseCOGS:
			res.COGS = res.COGS.Add(tx.Amount)
			add(tx, ClassCOGS)
		default:
			if cat.Kind == models.CategoryKindExpense {
				res.OperatingExpenses = res.OperatingExpenses.Add(tx.Amount)
				add(tx, ClassOpex)
			} else {
				res.OtherExpenses = res.OtherExpenses.Add(tx.Amount)
				add(tx, ClassOtherExpenses)
			}
		}
	}

	res.GrossMargin = res.Revenue.Sub(res.COGS)
	res.GrossMarginRate = ratio(res.GrossMargin.Mul(hundred), res.Revenue)
	res.OperatingProfit = res.GrossMargin.
		Sub(res.OperatingExpenses).
		Sub(res.OtherExpenses).
		Sub(res.DepreciationAmortization)
	res.EBITDA = res.OperatingProfit.Add(res.DepreciationAmortization)
	res.EBITDAMargin = ratio(res.EBITDA.Mul(hundred), res.Revenue)

	res.Breakdown = make([]CategoryAmount, 0, len(lines))
	for _, line := range lines {
		res.Breakdown = append(res.Breakdown, *line)
	}
	sort.Slice(res.Breakdown, func(i, j int) bool {
		if res.Breakdown[i].Class != res.Breakdown[j].Class {
			return res.Breakdown[i].Class < res.Breakdown[j].Class
		}
		if !res.Breakdown[i].Amount.Equal(res.Breakdown[j].Amount) {
			return res.Breakdown[i].Amount.GreaterThan(res.Breakdown[j].Amount)
		}
		return res.Breakdown[i].CategoryID < res.Breakdown[j].CategoryID
	})
	return res
}

// CategorizedRate is the share of debits carrying a known category, 1 when there are none
func (r EBITDAResult) CategorizedRate() float64 {
	if r.DebitTransactions == 0 {
		return 1
	}
	return round2(float64(r.CategorizedDebits) / float64(r.DebitTransactions))
}
