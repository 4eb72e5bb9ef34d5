package reliability

import "testing"

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score    int
		expected Level
	}{
		{100, LevelExcellent},
		{80, LevelExcellent},
		{79, LevelGood},
		{60, LevelGood},
		{59, LevelModerate},
		{40, LevelModerate},
		{39, LevelPoor},
		{0, LevelPoor},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.expected {
			t.Errorf("LevelFor(%d): expected %s, got %s", tt.score, tt.expected, got)
		}
	}
}

func TestScoreDSO(t *testing.T) {
	tests := []struct {
		name     string
		input    DSOInput
		expected int
		missing  []string
		warnings []string
	}{
		{
			name:     "complete data",
			input:    DSOInput{CustomerInvoices: 20, PaidInvoices: 12, PaidWithDate: 12, DaysInPeriod: 90},
			expected: 100,
		},
		{
			name:     "no invoices",
			input:    DSOInput{RevenueIsZero: true, DaysInPeriod: 30},
			expected: 0,
			missing:  []string{PrereqInvoices, PrereqRevenue},
			warnings: []string{PrereqPaidInvoices},
		},
		{
			name:     "few paid invoices on a short period",
			input:    DSOInput{CustomerInvoices: 6, PaidInvoices: 3, PaidWithDate: 3, DaysInPeriod: 14},
			expected: 65,
			warnings: []string{PrereqPaidInvoices, PrereqPeriodLength},
		},
		{
			name:     "half of payment dates missing",
			input:    DSOInput{CustomerInvoices: 10, PaidInvoices: 10, PaidWithDate: 5, DaysInPeriod: 30},
			expected: 93,
			warnings: []string{PrereqPaymentDates},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreDSO(tt.input)
			if score.Score != tt.expected {
				t.Errorf("expected score %d, got %d", tt.expected, score.Score)
			}
			if score.Level != LevelFor(tt.expected) {
				t.Errorf("expected level %s, got %s", LevelFor(tt.expected), score.Level)
			}
			for _, m := range tt.missing {
				if !contains(score.Prerequisites.Missing, m) {
					t.Errorf("expected %s in missing %v", m, score.Prerequisites.Missing)
				}
			}
			for _, w := range tt.warnings {
				if !contains(score.Prerequisites.Warnings, w) {
					t.Errorf("expected %s in warnings %v", w, score.Prerequisites.Warnings)
				}
			}
			if len(score.Prerequisites.Missing)+len(score.Prerequisites.Warnings) != len(score.Recommendations) {
				t.Errorf("expected one recommendation per unmet prerequisite, got %d for %d",
					len(score.Recommendations), len(score.Prerequisites.Missing)+len(score.Prerequisites.Warnings))
			}
		})
	}
}

func TestScoreEBITDA(t *testing.T) {
	full := ScoreEBITDA(EBITDAInput{Transactions: 50, CategorizedRate: 0.95, HasDepreciation: true, DaysInPeriod: 30})
	if full.Score != 100 {
		t.Errorf("expected 100, got %d", full.Score)
	}
	if len(full.Recommendations) != 0 {
		t.Errorf("expected no recommendations, got %v", full.Recommendations)
	}

	// 100 - 30 (sample) - 20 (half categorized) - 10 (no D&A)
	partial := ScoreEBITDA(EBITDAInput{Transactions: 5, CategorizedRate: 0.5, DaysInPeriod: 30})
	if partial.Score != 40 {
		t.Errorf("expected 40, got %d", partial.Score)
	}
	if partial.Level != LevelModerate {
		t.Errorf("expected moderate, got %s", partial.Level)
	}
	if partial.DataQuality.Consistency != 70 {
		t.Errorf("expected consistency 70, got %d", partial.DataQuality.Consistency)
	}

	worst := ScoreEBITDA(EBITDAInput{RevenueIsZero: true, DaysInPeriod: 7})
	if worst.Score != 0 {
		t.Errorf("expected score clamped to 0, got %d", worst.Score)
	}
}

func TestScoreBFR(t *testing.T) {
	best := ScoreBFR(BFRInput{CustomerInvoices: 10, SupplierInvoices: 5})
	if best.Score != 80 {
		t.Errorf("expected inventory penalty to cap the score at 80, got %d", best.Score)
	}
	if !contains(best.Prerequisites.Missing, PrereqInventory) {
		t.Error("expected inventory to always be missing")
	}

	noSuppliers := ScoreBFR(BFRInput{CustomerInvoices: 10})
	if noSuppliers.Score != 70 {
		t.Errorf("expected 70, got %d", noSuppliers.Score)
	}

	nothing := ScoreBFR(BFRInput{RevenueIsZero: true})
	if nothing.Score != 10 {
		t.Errorf("expected 10, got %d", nothing.Score)
	}
	if nothing.Level != LevelPoor {
		t.Errorf("expected poor, got %s", nothing.Level)
	}
}

func TestScoreBreakEven(t *testing.T) {
	zero := ScoreBreakEven(BreakEvenInput{RevenueIsZero: true, Transactions: 100, ClassifiedRate: 1, DaysInPeriod: 90})
	if zero.Score != 0 {
		t.Errorf("expected 0 for zero revenue, got %d", zero.Score)
	}
	if !contains(zero.Prerequisites.Missing, PrereqRevenue) {
		t.Error("expected revenue to be missing")
	}
	if zero.DataQuality != (DataQuality{}) {
		t.Errorf("expected zero data quality, got %+v", zero.DataQuality)
	}

	good := ScoreBreakEven(BreakEvenInput{Transactions: 40, ClassifiedRate: 0.9, MixedRate: 0.1, DaysInPeriod: 30})
	if good.Score != 100 {
		t.Errorf("expected 100, got %d", good.Score)
	}

	weak := ScoreBreakEven(BreakEvenInput{Transactions: 5, ClassifiedRate: 0.4, MixedRate: 0.5, DaysInPeriod: 14})
	// 100 - 24 - 20 - 10 - 10
	if weak.Score != 36 {
		t.Errorf("expected 36, got %d", weak.Score)
	}
	if len(weak.Recommendations) != 4 {
		t.Errorf("expected 4 recommendations, got %d", len(weak.Recommendations))
	}
}

func TestScoresAreClamped(t *testing.T) {
	scores := []Score{
		ScoreDSO(DSOInput{}),
		ScoreEBITDA(EBITDAInput{}),
		ScoreBFR(BFRInput{}),
		ScoreBreakEven(BreakEvenInput{}),
	}
	for i, s := range scores {
		if s.Score < 0 || s.Score > 100 {
			t.Errorf("score %d out of range: %d", i, s.Score)
		}
		dq := []int{s.DataQuality.Completeness, s.DataQuality.Consistency, s.DataQuality.Accuracy}
		for _, v := range dq {
			if v < 0 || v > 100 {
				t.Errorf("score %d has data quality out of range: %+v", i, s.DataQuality)
			}
		}
		if s.Prerequisites.Met == nil || s.Prerequisites.Missing == nil || s.Prerequisites.Warnings == nil || s.Recommendations == nil {
			t.Errorf("score %d has nil lists", i)
		}
	}
}
