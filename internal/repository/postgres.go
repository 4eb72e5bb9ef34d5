package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
	apperrors "cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// effectiveDateExpr mirrors models.Transaction.EffectiveDate in SQL
const effectiveDateExpr = `(CASE WHEN t.status = 'CONFIRMED' THEN t.occurred_at ELSE COALESCE(t.scheduled_for, t.occurred_at) END)::date`

// PostgresStore reads ledger records from PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger logger.Logger
}

// NewPostgresStore wraps an existing connection
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.GetGlobalLogger().WithComponent("repository"),
	}
}

// OpenPostgres connects to the database behind dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "database-url", redactDSN(dsn), err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresStore(db), nil
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type transactionRow struct {
	ID            string          `db:"id"`
	CompanyID     string          `db:"company_id"`
	Amount        decimal.Decimal `db:"amount"`
	Type          string          `db:"type"`
	Status        string          `db:"status"`
	OccurredAt    sql.NullTime    `db:"occurred_at"`
	ScheduledFor  sql.NullTime    `db:"scheduled_for"`
	AccountID     string          `db:"account_id"`
	CategoryID    sql.NullString  `db:"category_id"`
	PaymentFlowID sql.NullString  `db:"payment_flow_id"`
	Description   sql.NullString  `db:"description"`
}

func (r transactionRow) toModel() models.Transaction {
	return models.Transaction{
		ID:            r.ID,
		CompanyID:     r.CompanyID,
		Amount:        r.Amount,
		Type:          models.TransactionType(strings.ToLower(r.Type)),
		Status:        models.TransactionStatus(strings.ToUpper(r.Status)),
		OccurredAt:    nullTimePtr(r.OccurredAt),
		ScheduledFor:  nullTimePtr(r.ScheduledFor),
		AccountID:     r.AccountID,
		CategoryID:    r.CategoryID.String,
		PaymentFlowID: r.PaymentFlowID.String,
		Description:   r.Description.String,
	}
}

type invoiceRow struct {
	ID        string          `db:"id"`
	CompanyID string          `db:"company_id"`
	Side      string          `db:"side"`
	Number    sql.NullString  `db:"number"`
	Amount    decimal.Decimal `db:"amount"`
	Status    string          `db:"status"`
	IssuedAt  time.Time       `db:"issued_at"`
	DueAt     sql.NullTime    `db:"due_at"`
	PaidAt    sql.NullTime    `db:"paid_at"`
}

type eventRow struct {
	ID         string          `db:"id"`
	CompanyID  string          `db:"company_id"`
	Date       time.Time       `db:"date"`
	Label      string          `db:"label"`
	Amount     decimal.Decimal `db:"amount"`
	Confidence float64         `db:"confidence"`
	Type       string          `db:"type"`
	Frequency  sql.NullString  `db:"frequency"`
}

// ListTransactions implements Reader
func (s *PostgresStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query, args := buildTransactionQuery(filter)

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithError(err).WithField("company_id", filter.CompanyID).Error("Failed to list transactions")
		return nil, apperrors.InternalError(apperrors.CodeRepositoryError, "list transactions", err)
	}

	result := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toModel())
	}
	return result, nil
}

// ListInvoices implements Reader
func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	query, args := buildInvoiceQuery(filter)

	var rows []invoiceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithError(err).WithField("company_id", filter.CompanyID).Error("Failed to list invoices")
		return nil, apperrors.InternalError(apperrors.CodeRepositoryError, "list invoices", err)
	}

	result := make([]models.Invoice, 0, len(rows))
	for _, r := range rows {
		result = append(result, models.Invoice{
			ID:        r.ID,
			CompanyID: r.CompanyID,
			Side:      models.InvoiceSide(r.Side),
			Number:    r.Number.String,
			Amount:    r.Amount,
			Status:    models.InvoiceStatus(strings.ToUpper(r.Status)),
			IssuedAt:  r.IssuedAt,
			DueAt:     nullTimePtr(r.DueAt),
			PaidAt:    nullTimePtr(r.PaidAt),
		})
	}
	return result, nil
}

// ListCategories implements Reader
func (s *PostgresStore) ListCategories(ctx context.Context, companyID string) ([]models.Category, error) {
	query := `
		SELECT id, company_id, name, kind
		FROM categories
		WHERE company_id = $1
		ORDER BY name`

	var categories []models.Category
	if err := s.db.SelectContext(ctx, &categories, query, companyID); err != nil {
		return nil, apperrors.InternalError(apperrors.CodeRepositoryError, "list categories", err)
	}
	return categories, nil
}

// ListAccounts implements Reader
func (s *PostgresStore) ListAccounts(ctx context.Context, companyID string) ([]models.Account, error) {
	query := `
		SELECT id, company_id, name, COALESCE(portfolio_id, '') AS portfolio_id
		FROM accounts
		WHERE company_id = $1
		ORDER BY name`

	var accounts []models.Account
	if err := s.db.SelectContext(ctx, &accounts, query, companyID); err != nil {
		return nil, apperrors.InternalError(apperrors.CodeRepositoryError, "list accounts", err)
	}
	return accounts, nil
}

// ListForecastEvents implements Reader
func (s *PostgresStore) ListForecastEvents(ctx context.Context, filter EventFilter) ([]models.ForecastEvent, error) {
	query, args := buildEventQuery(filter)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.InternalError(apperrors.CodeRepositoryError, "list forecast events", err)
	}

	result := make([]models.ForecastEvent, 0, len(rows))
	for _, r := range rows {
		result = append(result, models.ForecastEvent{
			ID:         r.ID,
			CompanyID:  r.CompanyID,
			Date:       models.TruncateDay(r.Date),
			Label:      r.Label,
			Amount:     r.Amount,
			Confidence: r.Confidence,
			Type:       models.EventType(r.Type),
			Metadata:   models.EventMetadata{Frequency: models.Frequency(r.Frequency.String)},
		})
	}
	return result, nil
}

// queryBuilder accumulates WHERE clauses with positional arguments
type queryBuilder struct {
	clauses []string
	args    []interface{}
}

func (b *queryBuilder) add(clause string, arg interface{}) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, fmt.Sprintf(clause, len(b.args)))
}

func (b *queryBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func buildTransactionQuery(filter TransactionFilter) (string, []interface{}) {
	b := &queryBuilder{}
	if filter.CompanyID != "" {
		b.add("t.company_id = $%d", filter.CompanyID)
	}
	if len(filter.AccountIDs) > 0 {
		b.add("t.account_id = ANY($%d)", pq.Array(filter.AccountIDs))
	}
	if filter.PortfolioID != "" {
		b.add("a.portfolio_id = $%d", filter.PortfolioID)
	}
	if filter.PaymentFlowID != "" {
		b.add("t.payment_flow_id = $%d", filter.PaymentFlowID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		b.add("t.status = ANY($%d)", pq.Array(statuses))
	}
	if filter.From != nil {
		b.add(effectiveDateExpr+" >= $%d", models.TruncateDay(*filter.From))
	}
	if filter.To != nil {
		b.add(effectiveDateExpr+" <= $%d", models.TruncateDay(*filter.To))
	}

	query := `SELECT t.id, t.company_id, t.amount, t.type, t.status, t.occurred_at, t.scheduled_for,
		t.account_id, t.category_id, t.payment_flow_id, t.description
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id` + b.where() +
		` ORDER BY ` + effectiveDateExpr + ` NULLS LAST, t.id`
	return query, b.args
}

func buildInvoiceQuery(filter InvoiceFilter) (string, []interface{}) {
	b := &queryBuilder{}
	if filter.CompanyID != "" {
		b.add("company_id = $%d", filter.CompanyID)
	}
	if filter.Side != "" {
		b.add("side = $%d", string(filter.Side))
	}
	if filter.IssuedFrom != nil {
		b.add("issued_at::date >= $%d", models.TruncateDay(*filter.IssuedFrom))
	}
	if filter.IssuedTo != nil {
		b.add("issued_at::date <= $%d", models.TruncateDay(*filter.IssuedTo))
	}

	query := `SELECT id, company_id, side, number, amount, status, issued_at, due_at, paid_at
		FROM invoices` + b.where() + ` ORDER BY issued_at, id`
	return query, b.args
}

func buildEventQuery(filter EventFilter) (string, []interface{}) {
	b := &queryBuilder{}
	if filter.CompanyID != "" {
		b.add("company_id = $%d", filter.CompanyID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		b.add("type = ANY($%d)", pq.Array(types))
	}
	if filter.From != nil {
		b.add("date::date >= $%d", models.TruncateDay(*filter.From))
	}
	if filter.To != nil {
		b.add("date::date <= $%d", models.TruncateDay(*filter.To))
	}

	query := `SELECT id, company_id, date, label, amount, confidence, type, frequency
		FROM forecast_events` + b.where() + ` ORDER BY date, id`
	return query, b.args
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// redactDSN hides the password of a postgres URL before it reaches logs or errors
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
