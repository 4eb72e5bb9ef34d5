// Package generator produces synthetic ledgers for demos, load tests and
// the forecasting service. Output is deterministic for a given seed.
package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
)

// Pattern selects the shape of the random part of the ledger
type Pattern string

const (
	// PatternSteady spreads random entries evenly over the days
	PatternSteady Pattern = "steady"
	// PatternSeasonal doubles income in the last quarter and slows summer months
	PatternSeasonal Pattern = "seasonal"
	// PatternEndOfMonth concentrates random entries on the last five days of each month
	PatternEndOfMonth Pattern = "end-of-month"
)

// IsValid checks if the pattern is known
func (p Pattern) IsValid() bool {
	switch p {
	case PatternSteady, PatternSeasonal, PatternEndOfMonth:
		return true
	default:
		return false
	}
}

// Config controls what the generator produces
type Config struct {
	CompanyID  string   `json:"company_id" mapstructure:"company_id"`
	AccountIDs []string `json:"account_ids" mapstructure:"account_ids"`
	// Today is the last day of history; planned entries start the day after
	Today          time.Time `json:"today" mapstructure:"today"`
	HistoricalDays int       `json:"historical_days" mapstructure:"historical_days"`
	PlannedDays    int       `json:"planned_days" mapstructure:"planned_days"`
	// RandomPerDay is the average number of non-recurring entries per day
	RandomPerDay float64         `json:"random_per_day" mapstructure:"random_per_day"`
	MinAmount    decimal.Decimal `json:"min_amount" mapstructure:"min_amount"`
	MaxAmount    decimal.Decimal `json:"max_amount" mapstructure:"max_amount"`
	// DebitRatio is the share of random entries booked as expenses
	DebitRatio float64 `json:"debit_ratio" mapstructure:"debit_ratio"`
	Pattern    Pattern `json:"pattern" mapstructure:"pattern"`
	Seed       int64   `json:"seed" mapstructure:"seed"`
}

// DefaultConfig returns a one year history with a quarter of planned entries
func DefaultConfig() *Config {
	return &Config{
		CompanyID:      "demo",
		AccountIDs:     []string{"main", "savings"},
		Today:          models.TruncateDay(time.Now()),
		HistoricalDays: 365,
		PlannedDays:    90,
		RandomPerDay:   2,
		MinAmount:      decimal.NewFromInt(20),
		MaxAmount:      decimal.NewFromInt(2500),
		DebitRatio:     0.45,
		Pattern:        PatternSteady,
		Seed:           1,
	}
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.CompanyID == "" {
		return fmt.Errorf("company id cannot be empty")
	}
	if len(c.AccountIDs) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	if c.HistoricalDays < 1 {
		return fmt.Errorf("historical days must be positive, got %d", c.HistoricalDays)
	}
	if c.PlannedDays < 0 {
		return fmt.Errorf("planned days cannot be negative, got %d", c.PlannedDays)
	}
	if c.RandomPerDay < 0 {
		return fmt.Errorf("random entries per day cannot be negative")
	}
	if c.MinAmount.IsNegative() || c.MaxAmount.LessThan(c.MinAmount) {
		return fmt.Errorf("amount range [%s, %s] is invalid", c.MinAmount, c.MaxAmount)
	}
	if c.DebitRatio < 0 || c.DebitRatio > 1 {
		return fmt.Errorf("debit ratio must be between 0 and 1, got %v", c.DebitRatio)
	}
	if !c.Pattern.IsValid() {
		return fmt.Errorf("unknown pattern: %s", c.Pattern)
	}
	return nil
}

// recurring is a fixed entry repeated on a calendar rule
type recurring struct {
	categoryID string
	label      string
	amount     int64
	txType     models.TransactionType
	// dayOfMonth > 0 repeats monthly, otherwise weekday repeats weekly
	dayOfMonth int
	weekday    time.Weekday
	flow       string
}

var recurringEntries = []recurring{
	{categoryID: "sales", label: "Client retainer", amount: 6000, txType: models.TransactionTypeCredit, dayOfMonth: 1, flow: "subscriptions"},
	{categoryID: "salaries", label: "Payroll", amount: 3800, txType: models.TransactionTypeDebit, dayOfMonth: 28, flow: "payroll"},
	{categoryID: "rent", label: "Office rent", amount: 1200, txType: models.TransactionTypeDebit, dayOfMonth: 5, flow: "overheads"},
	{categoryID: "insurance", label: "Insurance", amount: 150, txType: models.TransactionTypeDebit, dayOfMonth: 10, flow: "overheads"},
	{categoryID: "purchases", label: "Supplier order", amount: 400, txType: models.TransactionTypeDebit, weekday: time.Monday, flow: "suppliers"},
}

// Categories returns the category set the generated ledger refers to
func Categories(companyID string) []models.Category {
	return []models.Category{
		{ID: "sales", CompanyID: companyID, Name: "Sales", Kind: models.CategoryKindIncome},
		{ID: "services", CompanyID: companyID, Name: "Consulting services", Kind: models.CategoryKindIncome},
		{ID: "salaries", CompanyID: companyID, Name: "Salaries", Kind: models.CategoryKindExpense},
		{ID: "rent", CompanyID: companyID, Name: "Rent", Kind: models.CategoryKindExpense},
		{ID: "insurance", CompanyID: companyID, Name: "Insurance", Kind: models.CategoryKindExpense},
		{ID: "purchases", CompanyID: companyID, Name: "Material purchases", Kind: models.CategoryKindExpense},
		{ID: "marketing", CompanyID: companyID, Name: "Marketing", Kind: models.CategoryKindExpense},
		{ID: "shipping", CompanyID: companyID, Name: "Shipping", Kind: models.CategoryKindExpense},
	}
}

var (
	randomIncome  = []string{"sales", "services"}
	randomExpense = []string{"purchases", "marketing", "shipping"}
)

// Generator builds synthetic ledgers
type Generator struct {
	config *Config
	rng    *rand.Rand
}

// New creates a generator. A nil config uses DefaultConfig.
func New(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generator config: %w", err)
	}
	return &Generator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Accounts returns the generated accounts, all in one portfolio
func (g *Generator) Accounts() []models.Account {
	out := make([]models.Account, len(g.config.AccountIDs))
	for i, id := range g.config.AccountIDs {
		out[i] = models.Account{ID: id, CompanyID: g.config.CompanyID, Name: id, PortfolioID: "default"}
	}
	return out
}

// Generate returns CONFIRMED history ending today followed by PLANNED
// occurrences of the recurring entries. Transactions are sorted by date.
func (g *Generator) Generate() []models.Transaction {
	today := models.TruncateDay(g.config.Today)
	start := today.AddDate(0, 0, -(g.config.HistoricalDays - 1))
	var txs []models.Transaction

	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		for _, r := range recurringEntries {
			if r.due(d) {
				txs = append(txs, g.recurringTx(r, d, models.StatusConfirmed))
			}
		}
		for i := 0; i < g.randomCount(d); i++ {
			txs = append(txs, g.randomTx(d))
		}
	}

	end := today.AddDate(0, 0, g.config.PlannedDays)
	for d := today.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		for _, r := range recurringEntries {
			if r.due(d) {
				txs = append(txs, g.recurringTx(r, d, models.StatusPlanned))
			}
		}
	}

	models.SortByEffectiveDate(txs)
	return txs
}

func (r recurring) due(d time.Time) bool {
	if r.dayOfMonth > 0 {
		return d.Day() == r.dayOfMonth
	}
	return d.Weekday() == r.weekday
}

func (g *Generator) id() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (g *Generator) account() string {
	return g.config.AccountIDs[g.rng.Intn(len(g.config.AccountIDs))]
}

func (g *Generator) recurringTx(r recurring, d time.Time, status models.TransactionStatus) models.Transaction {
	// +-2% jitter keeps the amounts within the pattern detector's tolerance
	jitter := 1 + (g.rng.Float64()*4-2)/100
	amount := decimal.NewFromInt(r.amount).Mul(decimal.NewFromFloat(jitter)).Round(2)

	date := d
	tx := models.Transaction{
		ID:            g.id(),
		CompanyID:     g.config.CompanyID,
		Amount:        amount,
		Type:          r.txType,
		Status:        status,
		AccountID:     g.config.AccountIDs[0],
		CategoryID:    r.categoryID,
		PaymentFlowID: r.flow,
		Description:   r.label,
	}
	if status == models.StatusConfirmed {
		tx.OccurredAt = &date
	} else {
		tx.ScheduledFor = &date
	}
	return tx
}

func (g *Generator) randomCount(d time.Time) int {
	mean := g.config.RandomPerDay
	switch g.config.Pattern {
	case PatternEndOfMonth:
		if d.AddDate(0, 0, 5).Month() == d.Month() {
			mean *= 0.25
		} else {
			mean *= 4
		}
	case PatternSeasonal:
		switch d.Month() {
		case time.July, time.August:
			mean *= 0.5
		case time.October, time.November, time.December:
			mean *= 1.5
		}
	}
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		mean *= 0.3
	}

	n := int(mean)
	if g.rng.Float64() < mean-float64(n) {
		n++
	}
	return n
}

func (g *Generator) randomTx(d time.Time) models.Transaction {
	amountRange := g.config.MaxAmount.Sub(g.config.MinAmount)
	amount := decimal.NewFromFloat(g.rng.Float64()).Mul(amountRange).Add(g.config.MinAmount)

	txType := models.TransactionTypeCredit
	category := randomIncome[g.rng.Intn(len(randomIncome))]
	if g.rng.Float64() < g.config.DebitRatio {
		txType = models.TransactionTypeDebit
		category = randomExpense[g.rng.Intn(len(randomExpense))]
	}
	if g.config.Pattern == PatternSeasonal && txType == models.TransactionTypeCredit && d.Month() >= time.October {
		amount = amount.Mul(decimal.NewFromInt(2))
	}

	date := d
	return models.Transaction{
		ID:          g.id(),
		CompanyID:   g.config.CompanyID,
		Amount:      amount.Round(2),
		Type:        txType,
		Status:      models.StatusConfirmed,
		OccurredAt:  &date,
		AccountID:   g.account(),
		CategoryID:  category,
		Description: fmt.Sprintf("%s %s", txType, category),
	}
}

// TransactionHeader is the column order of WriteTransactions
var TransactionHeader = []string{"id", "company_id", "amount", "type", "status", "date", "scheduled_for", "account_id", "category_id", "payment_flow_id", "description"}

// WriteTransactions writes txs as a ledger CSV readable by the parsers package
func WriteTransactions(w io.Writer, txs []models.Transaction) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(TransactionHeader); err != nil {
		return err
	}
	for _, tx := range txs {
		record := []string{
			tx.ID,
			tx.CompanyID,
			tx.Amount.StringFixed(2),
			string(tx.Type),
			string(tx.Status),
			formatDate(tx.OccurredAt),
			formatDate(tx.ScheduledFor),
			tx.AccountID,
			tx.CategoryID,
			tx.PaymentFlowID,
			tx.Description,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCategories writes categories as a CSV readable by the parsers package
func WriteCategories(w io.Writer, categories []models.Category) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "company_id", "name", "kind"}); err != nil {
		return err
	}
	for _, c := range categories {
		if err := writer.Write([]string{c.ID, c.CompanyID, c.Name, string(c.Kind)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteAccounts writes accounts as a CSV readable by the parsers package
func WriteAccounts(w io.Writer, accounts []models.Account) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "company_id", "name", "portfolio_id"}); err != nil {
		return err
	}
	for _, a := range accounts {
		if err := writer.Write([]string{a.ID, a.CompanyID, a.Name, a.PortfolioID}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(models.DateFormat)
}
