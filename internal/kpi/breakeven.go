package kpi

import (
	"sort"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

var half = decimal.RequireFromString("0.5")

// BreakEvenResult is the break-even analysis of a period
type BreakEvenResult struct {
	Revenue                  decimal.Decimal  `json:"revenue"`
	FixedCosts               decimal.Decimal  `json:"fixedCosts"`
	VariableCosts            decimal.Decimal  `json:"variableCosts"`
	UnclassifiedCosts        decimal.Decimal  `json:"unclassifiedCosts"`
	MixedCosts               decimal.Decimal  `json:"mixedCosts"`
	TotalCosts               decimal.Decimal  `json:"totalCosts"`
	ContributionMargin       float64          `json:"contributionMargin"`
	ContributionMarginAmount decimal.Decimal  `json:"contributionMarginAmount"`
	BreakEvenRevenue         decimal.Decimal  `json:"breakEvenRevenue"`
	SafetyMargin             float64          `json:"safetyMargin"`
	Reached                  bool             `json:"reached"`
	Transactions             int              `json:"transactions"`
	ExpenseTransactions      int              `json:"expenseTransactions"`
	DaysInPeriod             int              `json:"daysInPeriod"`
	Breakdown                []CategoryAmount `json:"breakdown"`
}

// ClassifiedRate is the share of expense amounts with a known cost nature
func (r BreakEvenResult) ClassifiedRate() float64 {
	if r.TotalCosts.IsZero() {
		return 0
	}
	return ratio(r.TotalCosts.Sub(r.UnclassifiedCosts), r.TotalCosts)
}

// MixedRate is the share of expense amounts split between fixed and variable
func (r BreakEvenResult) MixedRate() float64 {
	return ratio(r.MixedCosts, r.TotalCosts)
}

// CalculateBreakEven classifies each confirmed debit of r by category name.
// Mixed costs split 50/50 between fixed and variable; unclassified and
// uncategorized costs count as fixed.
func CalculateBreakEven(txs []models.Transaction, categories []models.Category, r models.DateRange, classifier CostClassifier) BreakEvenResult {
	res := BreakEvenResult{
		Revenue:           decimal.Zero,
		FixedCosts:        decimal.Zero,
		VariableCosts:     decimal.Zero,
		UnclassifiedCosts: decimal.Zero,
		MixedCosts:        decimal.Zero,
		TotalCosts:        decimal.Zero,
		BreakEvenRevenue:  decimal.Zero,
		DaysInPeriod:      r.Days(),
	}
	idx := categoryIndex(categories)
	lines := make(map[string]*CategoryAmount)

	window := windowTransactions(txs, r)
	res.Transactions = len(window)
	for i := range window {
		tx := &window[i]
		if tx.IsCredit() {
			res.Revenue = res.Revenue.Add(tx.Amount)
			continue
		}
		res.ExpenseTransactions++
		res.TotalCosts = res.TotalCosts.Add(tx.Amount)

		nature := CostUnclassified
		if cat, ok := idx[tx.CategoryID]; ok && tx.CategoryID != "" {
			nature = classifier.ClassifyCost(cat.Name)
		}

		switch nature {
		case CostFixed:
			res.FixedCosts = res.FixedCosts.Add(tx.Amount)
		case CostVariable:
			res.VariableCosts = res.VariableCosts.Add(tx.Amount)
		case CostMixed:
			part := tx.Amount.Mul(half)
			res.MixedCosts = res.MixedCosts.Add(tx.Amount)
			res.FixedCosts = res.FixedCosts.Add(part)
			res.VariableCosts = res.VariableCosts.Add(tx.Amount.Sub(part))
		default:
			res.UnclassifiedCosts = res.UnclassifiedCosts.Add(tx.Amount)
			res.FixedCosts = res.FixedCosts.Add(tx.Amount)
		}

		line, ok := lines[tx.CategoryID]
		if !ok {
			line = &CategoryAmount{CategoryID: tx.CategoryID, Name: idx[tx.CategoryID].Name, Class: string(nature), Amount: decimal.Zero}
			lines[tx.CategoryID] = line
		}
		line.Amount = line.Amount.Add(tx.Amount)
		line.Count++
	}

	res.ContributionMarginAmount = res.Revenue.Sub(res.VariableCosts)
	margin := safeDiv(res.ContributionMarginAmount, res.Revenue)
	res.ContributionMargin, _ = margin.Mul(hundred).Round(2).Float64()

	if margin.IsPositive() {
		res.BreakEvenRevenue = res.FixedCosts.Div(margin).Round(2)
	}
	res.SafetyMargin = ratio(res.Revenue.Sub(res.BreakEvenRevenue).Mul(hundred), res.Revenue)
	res.Reached = res.Revenue.IsPositive() && res.BreakEvenRevenue.IsPositive() &&
		res.Revenue.GreaterThanOrEqual(res.BreakEvenRevenue)

	res.Breakdown = make([]CategoryAmount, 0, len(lines))
	for _, line := range lines {
		res.Breakdown = append(res.Breakdown, *line)
	}
	sort.Slice(res.Breakdown, func(i, j int) bool {
		if !res.Breakdown[i].Amount.Equal(res.Breakdown[j].Amount) {
			return res.Breakdown[i].Amount.GreaterThan(res.Breakdown[j].Amount)
		}
		return res.Breakdown[i].CategoryID < res.Breakdown[j].CategoryID
	})
	return res
}
