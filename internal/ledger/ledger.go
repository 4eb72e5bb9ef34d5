// Package ledger buckets transactions into calendar periods and computes running balances.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

// Bucket holds the movements of one calendar period
type Bucket struct {
	Key           string          `json:"key"`
	Date          time.Time       `json:"date"`
	Credit        decimal.Decimal `json:"credit"`
	Debit         decimal.Decimal `json:"debit"`
	PlannedCredit decimal.Decimal `json:"plannedCredit"`
	PlannedDebit  decimal.Decimal `json:"plannedDebit"`
	Net           decimal.Decimal `json:"net"`
	PlannedNet    decimal.Decimal `json:"plannedNet"`
	// Balance accumulates confirmed movements only
	Balance decimal.Decimal `json:"balance"`
	// ProjectedBalance also includes planned and scheduled movements
	ProjectedBalance decimal.Decimal `json:"projectedBalance"`
	Count            int             `json:"count"`
}

// Totals sums every bucket of a result
type Totals struct {
	Credit                decimal.Decimal `json:"credit"`
	Debit                 decimal.Decimal `json:"debit"`
	PlannedCredit         decimal.Decimal `json:"plannedCredit"`
	PlannedDebit          decimal.Decimal `json:"plannedDebit"`
	FinalBalance          decimal.Decimal `json:"finalBalance"`
	FinalProjectedBalance decimal.Decimal `json:"finalProjectedBalance"`
	Transactions          int             `json:"transactions"`
	Dropped               int             `json:"dropped"`
}

// Result is the bucketed view of a set of transactions over a range
type Result struct {
	Range       models.DateRange `json:"range"`
	GroupBy     models.GroupBy   `json:"groupBy"`
	BaseBalance decimal.Decimal  `json:"baseBalance"`
	Buckets     []Bucket         `json:"buckets"`
	Totals      Totals           `json:"totals"`
}

// Group is the result for one breakdown key (account, category, flow)
type Group struct {
	Key    string `json:"key"`
	Result Result `json:"result"`
}

// KeyFunc extracts the breakdown key of a transaction
type KeyFunc func(tx *models.Transaction) string

// ByAccount groups transactions by account
func ByAccount(tx *models.Transaction) string { return tx.AccountID }

// ByCategory groups transactions by category
func ByCategory(tx *models.Transaction) string { return tx.CategoryID }

// ByPaymentFlow groups transactions by payment flow
func ByPaymentFlow(tx *models.Transaction) string { return tx.PaymentFlowID }

// Keys returns the ordered start dates of every period of r for the grouping.
// Days step by one, weeks by seven from r.From, months jump to the first of the next month.
func Keys(r models.DateRange, groupBy models.GroupBy) []time.Time {
	from := models.TruncateDay(r.From)
	to := models.TruncateDay(r.To)
	if from.After(to) {
		return nil
	}

	var keys []time.Time
	for cur := from; !cur.After(to); cur = next(cur, groupBy) {
		keys = append(keys, cur)
	}
	return keys
}

func next(cur time.Time, groupBy models.GroupBy) time.Time {
	switch groupBy {
	case models.GroupByWeek:
		return cur.AddDate(0, 0, 7)
	case models.GroupByMonth:
		return time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return cur.AddDate(0, 0, 1)
	}
}

// FormatKey renders a period start as the bucket key string
func FormatKey(d time.Time, groupBy models.GroupBy) string {
	if groupBy == models.GroupByMonth {
		return d.Format("2006-01")
	}
	return d.Format(models.DateFormat)
}

// Aggregate buckets txs over r. CONFIRMED transactions dated before r.From
// form the base balance; everything else outside the range or without an
// effective date is dropped.
func Aggregate(txs []models.Transaction, r models.DateRange, groupBy models.GroupBy) Result {
	r = models.NewDateRange(r.From, r.To)
	keys := Keys(r, groupBy)

	result := Result{
		Range:       r,
		GroupBy:     groupBy,
		BaseBalance: decimal.Zero,
		Buckets:     make([]Bucket, len(keys)),
	}
	for i, k := range keys {
		result.Buckets[i] = Bucket{
			Key:              FormatKey(k, groupBy),
			Date:             k,
			Credit:           decimal.Zero,
			Debit:            decimal.Zero,
			PlannedCredit:    decimal.Zero,
			PlannedDebit:     decimal.Zero,
			Net:              decimal.Zero,
			PlannedNet:       decimal.Zero,
			Balance:          decimal.Zero,
			ProjectedBalance: decimal.Zero,
		}
	}

	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	models.SortByEffectiveDate(sorted)

	for i := range sorted {
		tx := &sorted[i]
		d, ok := tx.EffectiveDate()
		if !ok {
			result.Totals.Dropped++
			continue
		}

		if d.Before(r.From) {
			if tx.IsConfirmed() {
				result.BaseBalance = result.BaseBalance.Add(tx.SignedAmount())
			} else {
				result.Totals.Dropped++
			}
			continue
		}

		idx := bucketIndex(keys, d)
		if idx < 0 || d.After(r.To) {
			result.Totals.Dropped++
			continue
		}

		b := &result.Buckets[idx]
		b.Count++
		result.Totals.Transactions++
		switch {
		case tx.IsConfirmed() && tx.IsCredit():
			b.Credit = b.Credit.Add(tx.Amount)
		case tx.IsConfirmed():
			b.Debit = b.Debit.Add(tx.Amount)
		case tx.IsCredit():
			b.PlannedCredit = b.PlannedCredit.Add(tx.Amount)
		default:
			b.PlannedDebit = b.PlannedDebit.Add(tx.Amount)
		}
	}

	running := result.BaseBalance
	projected := result.BaseBalance
	for i := range result.Buckets {
		b := &result.Buckets[i]
		b.Net = b.Credit.Sub(b.Debit)
		b.PlannedNet = b.PlannedCredit.Sub(b.PlannedDebit)
		running = running.Add(b.Net)
		projected = projected.Add(b.Net).Add(b.PlannedNet)
		b.Balance = running
		b.ProjectedBalance = projected

		result.Totals.Credit = result.Totals.Credit.Add(b.Credit)
		result.Totals.Debit = result.Totals.Debit.Add(b.Debit)
		result.Totals.PlannedCredit = result.Totals.PlannedCredit.Add(b.PlannedCredit)
		result.Totals.PlannedDebit = result.Totals.PlannedDebit.Add(b.PlannedDebit)
	}
	result.Totals.FinalBalance = running
	result.Totals.FinalProjectedBalance = projected

	return result
}

// bucketIndex returns the index of the last key on or before d, or -1
func bucketIndex(keys []time.Time, d time.Time) int {
	i := sort.Search(len(keys), func(i int) bool { return keys[i].After(d) })
	return i - 1
}

// AggregateBy runs Aggregate independently for each breakdown key, each
// group with its own base balance. Groups are ordered by key.
func AggregateBy(txs []models.Transaction, r models.DateRange, groupBy models.GroupBy, key KeyFunc) []Group {
	partitions := make(map[string][]models.Transaction)
	for i := range txs {
		k := key(&txs[i])
		partitions[k] = append(partitions[k], txs[i])
	}

	names := make([]string, 0, len(partitions))
	for k := range partitions {
		names = append(names, k)
	}
	sort.Strings(names)

	groups := make([]Group, 0, len(names))
	for _, k := range names {
		groups = append(groups, Group{Key: k, Result: Aggregate(partitions[k], r, groupBy)})
	}
	return groups
}
