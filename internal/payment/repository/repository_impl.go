package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/backoffice/internal/payment/domain"
	"github.com/smallbiznis/backoffice/pkg/db"
	"gorm.io/gorm"
)

const paymentColumns = `id, client_id, subscription_id, amount, status, due_date, paid_at,
	reference, description, source, created_at, updated_at`

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, payment *paymentdomain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.ClientID,
		payment.SubscriptionID,
		payment.Amount,
		payment.Status,
		payment.DueDate,
		payment.PaidAt,
		payment.Reference,
		payment.Description,
		payment.Source,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*paymentdomain.Payment, error) {
	return r.findOne(ctx, conn, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*paymentdomain.Payment, error) {
	return r.findOne(ctx, conn, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`+db.ForUpdate(conn), id)
}

func (r *repo) FindCycleForUpdate(ctx context.Context, conn *gorm.DB, clientID snowflake.ID, reference string) (*paymentdomain.Payment, error) {
	return r.findOne(ctx, conn,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE client_id = ? AND reference = ? AND source = ?
		 ORDER BY id ASC LIMIT 1`+db.ForUpdate(conn),
		clientID,
		reference,
		paymentdomain.PaymentSourceCycle,
	)
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter paymentdomain.ListFilter) ([]*paymentdomain.Payment, error) {
	var payments []*paymentdomain.Payment
	stmt := conn.WithContext(ctx).Model(&paymentdomain.Payment{})
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Reference != "" {
		stmt = stmt.Where("reference = ?", filter.Reference)
	}
	if filter.AfterID > 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, payment *paymentdomain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
		payment.Status,
		payment.PaidAt,
		payment.UpdatedAt,
		payment.ID,
	).Error
}

func (r *repo) UpdateAmount(ctx context.Context, conn *gorm.DB, id snowflake.ID, amount decimal.Decimal, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payments SET amount = ?, updated_at = ? WHERE id = ?`,
		amount,
		now,
		id,
	).Error
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}
