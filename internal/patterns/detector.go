// Package patterns detects recurring transactions and predicts their next occurrence.
package patterns

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
	"cashflow-engine/pkg/logger"
)

// Config holds the detection thresholds
type Config struct {
	// MinOccurrences is the smallest group that can be recurring
	MinOccurrences int `json:"min_occurrences" mapstructure:"min_occurrences"`
	// AmountStep is the rounding step used to form amount groups
	AmountStep int64 `json:"amount_step" mapstructure:"amount_step"`
	// AmountTolerance is the relative distance to the group key a member may have
	AmountTolerance float64 `json:"amount_tolerance" mapstructure:"amount_tolerance"`
	// MaxIntervalVariance rejects groups with irregular spacing
	MaxIntervalVariance float64 `json:"max_interval_variance" mapstructure:"max_interval_variance"`
	// MinMeanInterval rejects sub-weekly noise
	MinMeanInterval float64 `json:"min_mean_interval" mapstructure:"min_mean_interval"`
	MinConfidence   float64 `json:"min_confidence" mapstructure:"min_confidence"`
}

// DefaultConfig returns the standard detection thresholds
func DefaultConfig() *Config {
	return &Config{
		MinOccurrences:      3,
		AmountStep:          100,
		AmountTolerance:     0.05,
		MaxIntervalVariance: 100,
		MinMeanInterval:     7,
		MinConfidence:       0.5,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MinOccurrences < 2 {
		return fmt.Errorf("min occurrences must be at least 2, got %d", c.MinOccurrences)
	}
	if c.AmountStep <= 0 {
		return fmt.Errorf("amount step must be positive, got %d", c.AmountStep)
	}
	if c.AmountTolerance < 0 || c.AmountTolerance >= 1 {
		return fmt.Errorf("amount tolerance must be in [0, 1), got %f", c.AmountTolerance)
	}
	if c.MaxIntervalVariance <= 0 {
		return fmt.Errorf("max interval variance must be positive")
	}
	if c.MinMeanInterval < 1 {
		return fmt.Errorf("min mean interval must be at least 1 day")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0, 1]")
	}
	return nil
}

// Detector finds recurring amounts in a transaction history
type Detector struct {
	config *Config
	logger logger.Logger
}

// NewDetector creates a detector, falling back to the default thresholds for a nil config
func NewDetector(config *Config) (*Detector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector configuration: %w", err)
	}
	return &Detector{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("patterns"),
	}, nil
}

// SetLogger replaces the detector logger
func (d *Detector) SetLogger(l logger.Logger) {
	d.logger = l
}

// groupKey separates credits from debits of the same rounded amount
type groupKey struct {
	txType models.TransactionType
	amount int64
}

type member struct {
	date   time.Time
	amount decimal.Decimal
	tx     *models.Transaction
}

// Detect returns one auto event per recurring (type, amount) group, ordered by date then ID.
// categoryNames maps category ids to display names and may be nil.
// Repeated calls on the same input return identical events.
func (d *Detector) Detect(txs []models.Transaction, categoryNames map[string]string) []models.ForecastEvent {
	events := make([]models.ForecastEvent, 0)
	if len(txs) < d.config.MinOccurrences {
		return events
	}

	groups := d.groupByAmount(txs)

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].txType != keys[j].txType {
			return keys[i].txType < keys[j].txType
		}
		return keys[i].amount < keys[j].amount
	})

	for _, key := range keys {
		members := groups[key]
		if len(members) < d.config.MinOccurrences {
			continue
		}
		if ev, ok := d.analyze(key, members, categoryNames); ok {
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].ID < events[j].ID
	})

	d.logger.WithFields(logger.Fields{
		"transactions": len(txs),
		"groups":       len(groups),
		"events":       len(events),
	}).Debug("Recurring pattern detection completed")

	return events
}

// groupByAmount keys each transaction by its type and its amount rounded to the
// nearest step, keeping it only when it lies within the relative tolerance of that key
func (d *Detector) groupByAmount(txs []models.Transaction) map[groupKey][]member {
	step := float64(d.config.AmountStep)
	groups := make(map[groupKey][]member)

	for i := range txs {
		tx := &txs[i]
		date, ok := tx.EffectiveDate()
		if !ok {
			continue
		}
		amount := tx.Amount.Abs()
		f, _ := amount.Float64()
		key := int64(math.Round(f/step) * step)
		if key == 0 {
			continue
		}
		if !models.CompareAmountsWithTolerance(amount, decimal.NewFromInt(key), d.config.AmountTolerance) {
			continue
		}
		gk := groupKey{txType: tx.Type, amount: key}
		groups[gk] = append(groups[gk], member{date: date, amount: amount, tx: tx})
	}
	return groups
}

func (d *Detector) analyze(key groupKey, members []member, categoryNames map[string]string) (models.ForecastEvent, bool) {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].date.Equal(members[j].date) {
			return members[i].date.Before(members[j].date)
		}
		return members[i].tx.ID < members[j].tx.ID
	})

	intervals := make([]float64, 0, len(members)-1)
	for i := 1; i < len(members); i++ {
		intervals = append(intervals, float64(models.DaysBetween(members[i-1].date, members[i].date)))
	}
	meanInterval, intervalVariance := meanVariance(intervals)

	if intervalVariance >= d.config.MaxIntervalVariance || meanInterval < d.config.MinMeanInterval {
		return models.ForecastEvent{}, false
	}

	amounts := make([]float64, len(members))
	for i, m := range members {
		amounts[i], _ = m.amount.Float64()
	}
	meanAmount, amountVariance := meanVariance(amounts)

	occurrenceScore := math.Min(float64(len(members))/10, 1)
	varianceScore := math.Max(0, 1-intervalVariance/d.config.MaxIntervalVariance)
	amountScore := 0.0
	if meanAmount > 0 {
		amountScore = math.Max(0, 1-amountVariance/(meanAmount*meanAmount))
	}
	confidence := 0.3*occurrenceScore + 0.4*varianceScore + 0.3*amountScore
	confidence = math.Min(1, math.Max(d.config.MinConfidence, confidence))
	confidence = math.Round(confidence*100) / 100

	last := members[len(members)-1]
	nextDate := last.date.AddDate(0, 0, int(math.Round(meanInterval)))
	frequency := FrequencyFor(meanInterval)
	txType := key.txType

	amount := decimal.NewFromFloat(meanAmount).Round(2)
	signed := amount
	if txType == models.TransactionTypeDebit {
		signed = amount.Neg()
	}

	return models.ForecastEvent{
		ID:         fmt.Sprintf("auto-%s-%d-%s", txType, key.amount, nextDate.Format(models.DateFormat)),
		CompanyID:  last.tx.CompanyID,
		Date:       nextDate,
		Label:      label(members[0].tx, txType, frequency, amount, categoryNames),
		Amount:     signed,
		Confidence: confidence,
		Type:       models.EventTypeAuto,
		Metadata: models.EventMetadata{
			Frequency:       frequency,
			TransactionType: txType,
			Occurrences:     len(members),
			AverageInterval: math.Round(meanInterval*100) / 100,
			IntervalVar:     math.Round(intervalVariance*100) / 100,
			CategoryID:      members[0].tx.CategoryID,
		},
	}, true
}

// FrequencyFor maps a mean interval in days to a frequency
func FrequencyFor(meanInterval float64) models.Frequency {
	switch {
	case meanInterval >= 85 && meanInterval <= 95:
		return models.FrequencyQuarterly
	case meanInterval >= 28 && meanInterval <= 31:
		return models.FrequencyMonthly
	case meanInterval >= 13 && meanInterval <= 15:
		return models.FrequencyBiweekly
	case meanInterval >= 6 && meanInterval <= 8:
		return models.FrequencyWeekly
	default:
		return models.FrequencyCustom
	}
}

var frequencyLabels = map[models.Frequency]string{
	models.FrequencyWeekly:    "hebdomadaire",
	models.FrequencyBiweekly:  "bimensuel",
	models.FrequencyMonthly:   "mensuel",
	models.FrequencyQuarterly: "trimestriel",
	models.FrequencyCustom:    "récurrent",
}

func label(tx *models.Transaction, txType models.TransactionType, frequency models.Frequency, amount decimal.Decimal, categoryNames map[string]string) string {
	if name := strings.TrimSpace(categoryNames[tx.CategoryID]); tx.CategoryID != "" && name != "" {
		return name
	}
	if words := strings.Fields(tx.Description); len(words) > 0 {
		return words[0]
	}
	kind := "Revenu"
	if txType == models.TransactionTypeDebit {
		kind = "Dépense"
	}
	return fmt.Sprintf("%s %s (%s€)", kind, frequencyLabels[frequency], amount.StringFixed(0))
}

// meanVariance returns the mean and population variance of values
func meanVariance(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, sq / float64(len(values))
}
