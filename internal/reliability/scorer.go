package reliability

import "fmt"

// Prerequisite names shared by the scorers
const (
	PrereqInvoices           = "invoices"
	PrereqPaidInvoices       = "paid_invoices"
	PrereqRevenue            = "revenue"
	PrereqPeriodLength       = "period_length"
	PrereqPaymentDates       = "payment_dates"
	PrereqTransactions       = "transactions"
	PrereqCategorization     = "categorization"
	PrereqDepreciation       = "depreciation"
	PrereqInventory          = "inventory"
	PrereqSupplierInvoices   = "supplier_invoices"
	PrereqCostClassification = "cost_classification"
	PrereqMixedCosts         = "mixed_costs"
)

// DSOInput summarizes the data behind a DSO computation
type DSOInput struct {
	CustomerInvoices int
	PaidInvoices     int
	PaidWithDate     int
	RevenueIsZero    bool
	DaysInPeriod     int
}

// ScoreDSO rates a DSO result
func ScoreDSO(in DSOInput) Score {
	b := newBuilder()

	if in.CustomerInvoices == 0 {
		b.lack(PrereqInvoices, "Import customer invoices to compute DSO", 50)
		b.completeness -= 60
	} else {
		b.ok(PrereqInvoices)
	}

	if in.PaidInvoices < 5 {
		b.warn(PrereqPaidInvoices, fmt.Sprintf("At least 5 paid invoices are needed for a stable DSO (found %d)", in.PaidInvoices), 25)
		b.accuracy -= 30
	} else {
		b.ok(PrereqPaidInvoices)
	}

	if in.RevenueIsZero {
		b.lack(PrereqRevenue, "Mark paid customer invoices as PAID so period revenue is known", 30)
		b.accuracy -= 40
	} else {
		b.ok(PrereqRevenue)
	}

	if in.DaysInPeriod < 30 {
		b.warn(PrereqPeriodLength, "Use a period of at least 30 days", 10)
		b.consistency -= 20
	} else {
		b.ok(PrereqPeriodLength)
	}

	if in.PaidInvoices > 0 {
		coverage := float64(in.PaidWithDate) / float64(in.PaidInvoices)
		if coverage < 1 {
			b.warn(PrereqPaymentDates, "Record payment dates on paid invoices", (1-coverage)*15)
			b.completeness -= (1 - coverage) * 30
		} else {
			b.ok(PrereqPaymentDates)
		}
	}

	return b.build()
}

// EBITDAInput summarizes the data behind an EBITDA computation
type EBITDAInput struct {
	Transactions    int
	CategorizedRate float64
	RevenueIsZero   bool
	HasDepreciation bool
	DaysInPeriod    int
}

// ScoreEBITDA rates an EBITDA result
func ScoreEBITDA(in EBITDAInput) Score {
	b := newBuilder()

	if in.Transactions < 10 {
		b.warn(PrereqTransactions, fmt.Sprintf("At least 10 transactions are needed (found %d)", in.Transactions), 30)
		b.completeness -= 40
	} else {
		b.ok(PrereqTransactions)
	}

	if in.CategorizedRate < 0.8 {
		b.warn(PrereqCategorization, fmt.Sprintf("Categorize expenses: %.0f%% categorized, 80%% recommended", in.CategorizedRate*100), (1-in.CategorizedRate)*40)
		b.consistency -= (1 - in.CategorizedRate) * 60
	} else {
		b.ok(PrereqCategorization)
	}

	if in.RevenueIsZero {
		b.lack(PrereqRevenue, "No revenue recorded in the period", 30)
		b.accuracy -= 40
	} else {
		b.ok(PrereqRevenue)
	}

	if !in.HasDepreciation {
		b.warn(PrereqDepreciation, "Add a depreciation or amortization category if assets are amortized", 10)
		b.accuracy -= 10
	} else {
		b.ok(PrereqDepreciation)
	}

	if in.DaysInPeriod < 28 {
		b.warn(PrereqPeriodLength, "Use at least one full month", 10)
		b.consistency -= 15
	} else {
		b.ok(PrereqPeriodLength)
	}

	return b.build()
}

// BFRInput summarizes the data behind a BFR computation
type BFRInput struct {
	CustomerInvoices int
	SupplierInvoices int
	RevenueIsZero    bool
}

// ScoreBFR rates a BFR result. Inventory is never tracked, so the score
// carries a fixed penalty and a permanent missing entry.
func ScoreBFR(in BFRInput) Score {
	b := newBuilder()

	b.lack(PrereqInventory, "Inventory is not tracked; BFR excludes stock value", 20)
	b.completeness -= 20

	if in.CustomerInvoices+in.SupplierInvoices == 0 {
		b.lack(PrereqInvoices, "Import customer and supplier invoices", 30)
		b.completeness -= 40
	} else {
		b.ok(PrereqInvoices)
	}

	if in.RevenueIsZero {
		b.lack(PrereqRevenue, "No revenue recorded in the period; BFR days cannot be derived", 30)
		b.accuracy -= 40
	} else {
		b.ok(PrereqRevenue)
	}

	if in.SupplierInvoices == 0 {
		b.warn(PrereqSupplierInvoices, "Import supplier invoices so payables are known", 10)
		b.consistency -= 20
	} else {
		b.ok(PrereqSupplierInvoices)
	}

	return b.build()
}

// BreakEvenInput summarizes the data behind a break-even computation
type BreakEvenInput struct {
	Transactions   int
	RevenueIsZero  bool
	ClassifiedRate float64
	MixedRate      float64
	DaysInPeriod   int
}

// ScoreBreakEven rates a break-even result. Zero revenue scores 0.
func ScoreBreakEven(in BreakEvenInput) Score {
	if in.RevenueIsZero {
		return Zero(PrereqRevenue, "No revenue recorded in the period; break-even cannot be computed")
	}

	b := newBuilder()
	b.ok(PrereqRevenue)

	if in.ClassifiedRate < 0.7 {
		b.warn(PrereqCostClassification, fmt.Sprintf("Name expense categories so costs can be classified: %.0f%% classified, 70%% recommended", in.ClassifiedRate*100), (1-in.ClassifiedRate)*40)
		b.consistency -= (1 - in.ClassifiedRate) * 60
	} else {
		b.ok(PrereqCostClassification)
	}

	if in.Transactions < 10 {
		b.warn(PrereqTransactions, fmt.Sprintf("At least 10 transactions are needed (found %d)", in.Transactions), 20)
		b.completeness -= 30
	} else {
		b.ok(PrereqTransactions)
	}

	if in.DaysInPeriod < 30 {
		b.warn(PrereqPeriodLength, "Use a period of at least 30 days", 10)
		b.consistency -= 15
	} else {
		b.ok(PrereqPeriodLength)
	}

	if in.MixedRate > 0.3 {
		b.warn(PrereqMixedCosts, "Split mixed cost categories into fixed and variable parts", 10)
		b.accuracy -= 20
	} else {
		b.ok(PrereqMixedCosts)
	}

	return b.build()
}
