package patterns

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
	"cashflow-engine/pkg/logger"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(nil)
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}
	d.SetLogger(logger.Discard())
	return d
}

func tx(id string, amount string, typ models.TransactionType, on time.Time) models.Transaction {
	d := on
	return models.Transaction{
		ID:         id,
		Amount:     decimal.RequireFromString(amount),
		Type:       typ,
		Status:     models.StatusConfirmed,
		OccurredAt: &d,
	}
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(prefix string, amounts []string, interval int, typ models.TransactionType) []models.Transaction {
	out := make([]models.Transaction, len(amounts))
	for i, a := range amounts {
		out[i] = tx(fmt.Sprintf("%s-%d", prefix, i), a, typ, start.AddDate(0, 0, i*interval))
	}
	return out
}

func TestDetect_MonthlyScenario(t *testing.T) {
	d := newTestDetector(t)
	txs := series("rent", []string{"1000", "1020", "980"}, 30, models.TransactionTypeDebit)

	events := d.Detect(txs, nil)

	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Metadata.Frequency != models.FrequencyMonthly {
		t.Errorf("expected monthly frequency, got %s", ev.Metadata.Frequency)
	}
	if ev.Confidence < 0.5 || ev.Confidence > 1 {
		t.Errorf("confidence %f out of [0.5, 1]", ev.Confidence)
	}
	if !ev.Date.Equal(start.AddDate(0, 0, 90)) {
		t.Errorf("expected next date %s, got %s", start.AddDate(0, 0, 90), ev.Date)
	}
	if ev.Type != models.EventTypeAuto {
		t.Errorf("expected auto event, got %s", ev.Type)
	}
	if !ev.Amount.Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("expected signed amount -1000, got %s", ev.Amount)
	}
	if ev.Label != "Dépense mensuel (1000€)" {
		t.Errorf("unexpected fallback label %q", ev.Label)
	}
}

func TestDetect_SeparatesCreditsAndDebits(t *testing.T) {
	d := newTestDetector(t)
	txs := series("salary", []string{"1000", "1000", "1000"}, 30, models.TransactionTypeCredit)
	for i := 0; i < 3; i++ {
		txs = append(txs, tx(fmt.Sprintf("rent-%d", i), "1000", models.TransactionTypeDebit, start.AddDate(0, 0, 15+i*30)))
	}

	events := d.Detect(txs, nil)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	credit, debit := events[0], events[1]
	if credit.Metadata.TransactionType != models.TransactionTypeCredit {
		t.Errorf("expected first event to be credit, got %s", credit.Metadata.TransactionType)
	}
	if debit.Metadata.TransactionType != models.TransactionTypeDebit {
		t.Errorf("expected second event to be debit, got %s", debit.Metadata.TransactionType)
	}
	for _, ev := range events {
		if ev.Metadata.Frequency != models.FrequencyMonthly {
			t.Errorf("expected monthly frequency for %s, got %s", ev.ID, ev.Metadata.Frequency)
		}
		if ev.Metadata.Occurrences != 3 {
			t.Errorf("expected 3 occurrences for %s, got %d", ev.ID, ev.Metadata.Occurrences)
		}
	}
	if !credit.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected credit amount 1000, got %s", credit.Amount)
	}
	if !debit.Amount.Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("expected debit amount -1000, got %s", debit.Amount)
	}
	if !credit.Date.Equal(start.AddDate(0, 0, 90)) {
		t.Errorf("expected credit next date %s, got %s", start.AddDate(0, 0, 90), credit.Date)
	}
	if !debit.Date.Equal(start.AddDate(0, 0, 105)) {
		t.Errorf("expected debit next date %s, got %s", start.AddDate(0, 0, 105), debit.Date)
	}
}

func TestDetect_RequiresThreeTransactions(t *testing.T) {
	d := newTestDetector(t)
	txs := series("two", []string{"500", "500"}, 30, models.TransactionTypeCredit)

	if events := d.Detect(txs, nil); len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestDetect_SmallGroupsNeverAppear(t *testing.T) {
	d := newTestDetector(t)
	txs := append(
		series("big", []string{"2000", "2000"}, 30, models.TransactionTypeCredit),
		series("small", []string{"300", "300", "300", "300"}, 14, models.TransactionTypeDebit)...,
	)

	events := d.Detect(txs, nil)

	for _, ev := range events {
		if ev.Metadata.Occurrences < 3 {
			t.Errorf("event %s built from %d occurrences", ev.ID, ev.Metadata.Occurrences)
		}
		if strings.Contains(ev.ID, "2000") {
			t.Errorf("group of two 2000 entries should not produce an event")
		}
	}
	if len(events) != 1 || events[0].Metadata.Frequency != models.FrequencyBiweekly {
		t.Errorf("expected one biweekly event, got %+v", events)
	}
}

func TestDetect_RejectsIrregularAndSubWeekly(t *testing.T) {
	d := newTestDetector(t)

	irregular := []models.Transaction{
		tx("i0", "700", models.TransactionTypeDebit, start),
		tx("i1", "700", models.TransactionTypeDebit, start.AddDate(0, 0, 5)),
		tx("i2", "700", models.TransactionTypeDebit, start.AddDate(0, 0, 60)),
	}
	if events := d.Detect(irregular, nil); len(events) != 0 {
		t.Errorf("expected irregular intervals to be rejected, got %d events", len(events))
	}

	daily := series("daily", []string{"400", "400", "400", "400", "400"}, 2, models.TransactionTypeDebit)
	if events := d.Detect(daily, nil); len(events) != 0 {
		t.Errorf("expected sub-weekly intervals to be rejected, got %d events", len(events))
	}
}

func TestDetect_AmountToleranceFiltersOutliers(t *testing.T) {
	d := newTestDetector(t)
	// 1060 rounds to 1100 and joins that group instead; 1000 group keeps 3 members
	txs := []models.Transaction{
		tx("a", "1000", models.TransactionTypeCredit, start),
		tx("b", "1010", models.TransactionTypeCredit, start.AddDate(0, 0, 7)),
		tx("c", "1060", models.TransactionTypeCredit, start.AddDate(0, 0, 10)),
		tx("d", "990", models.TransactionTypeCredit, start.AddDate(0, 0, 14)),
	}

	events := d.Detect(txs, nil)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Metadata.Occurrences != 3 {
		t.Errorf("expected 3 occurrences, got %d", events[0].Metadata.Occurrences)
	}
	if events[0].Metadata.Frequency != models.FrequencyWeekly {
		t.Errorf("expected weekly, got %s", events[0].Metadata.Frequency)
	}
}

func TestDetect_Idempotent(t *testing.T) {
	d := newTestDetector(t)
	txs := append(
		series("salary", []string{"3000", "3000", "3000", "3000"}, 30, models.TransactionTypeCredit),
		series("sub", []string{"100", "100", "100"}, 7, models.TransactionTypeDebit)...,
	)

	first := d.Detect(txs, nil)
	second := d.Detect(txs, nil)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical output on repeated runs:\n%+v\n%+v", first, second)
	}
	for _, ev := range first {
		if ev.Confidence < 0.5 || ev.Confidence > 1 {
			t.Errorf("confidence %f out of range", ev.Confidence)
		}
	}
}

func TestDetect_Labels(t *testing.T) {
	d := newTestDetector(t)

	withCategory := series("cat", []string{"500", "500", "500"}, 30, models.TransactionTypeDebit)
	for i := range withCategory {
		withCategory[i].CategoryID = "cat-rent"
		withCategory[i].Description = "Loyer bureau"
	}
	events := d.Detect(withCategory, map[string]string{"cat-rent": "Loyer"})
	if len(events) != 1 || events[0].Label != "Loyer" {
		t.Errorf("expected category label, got %+v", events)
	}

	withDescription := series("desc", []string{"500", "500", "500"}, 30, models.TransactionTypeDebit)
	for i := range withDescription {
		withDescription[i].Description = "Netflix abonnement"
	}
	events = d.Detect(withDescription, nil)
	if len(events) != 1 || events[0].Label != "Netflix" {
		t.Errorf("expected description label, got %+v", events)
	}

	income := series("inc", []string{"2500", "2500", "2500"}, 91, models.TransactionTypeCredit)
	events = d.Detect(income, nil)
	if len(events) != 1 || events[0].Label != "Revenu trimestriel (2500€)" {
		t.Errorf("expected fallback income label, got %+v", events)
	}
}

func TestDetect_ConfidenceClamp(t *testing.T) {
	d := newTestDetector(t)
	// variance of intervals [7, 25] is 81, so the variance score is low
	txs := []models.Transaction{
		tx("a", "800", models.TransactionTypeDebit, start),
		tx("b", "800", models.TransactionTypeDebit, start.AddDate(0, 0, 7)),
		tx("c", "800", models.TransactionTypeDebit, start.AddDate(0, 0, 32)),
	}

	events := d.Detect(txs, nil)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Confidence != 0.5 {
		t.Errorf("expected confidence clamped to 0.5, got %f", events[0].Confidence)
	}
	if events[0].Metadata.Frequency != models.FrequencyCustom {
		t.Errorf("expected custom frequency, got %s", events[0].Metadata.Frequency)
	}
}

func TestFrequencyFor(t *testing.T) {
	tests := []struct {
		interval float64
		expected models.Frequency
	}{
		{7, models.FrequencyWeekly},
		{14, models.FrequencyBiweekly},
		{30.5, models.FrequencyMonthly},
		{91, models.FrequencyQuarterly},
		{45, models.FrequencyCustom},
		{10, models.FrequencyCustom},
	}
	for _, tt := range tests {
		if got := FrequencyFor(tt.interval); got != tt.expected {
			t.Errorf("FrequencyFor(%v) = %s, want %s", tt.interval, got, tt.expected)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
	bad := DefaultConfig()
	bad.AmountTolerance = 1.5
	if _, err := NewDetector(bad); err == nil {
		t.Error("expected error for invalid tolerance")
	}
}
