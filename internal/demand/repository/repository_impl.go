package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	"github.com/smallbiznis/backoffice/pkg/db"
	"gorm.io/gorm"
)

const demandColumns = `id, domain_id, client_id, subscription_id, ticket_id, title, description, status,
	hours, value, overage_value, overage_hours, billed, billed_at, payment_id, invoiced_at,
	created_at, updated_at`

type repo struct{}

func Provide() demanddomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, demand *demanddomain.Demand) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO demands (
			id, domain_id, client_id, subscription_id, ticket_id, title, description, status,
			hours, value, overage_value, overage_hours, billed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		demand.ID,
		demand.DomainID,
		demand.ClientID,
		demand.SubscriptionID,
		demand.TicketID,
		demand.Title,
		demand.Description,
		demand.Status,
		demand.Hours,
		demand.Value,
		demand.OverageValue,
		demand.OverageHours,
		demand.Billed,
		demand.CreatedAt,
		demand.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*demanddomain.Demand, error) {
	return r.findOne(ctx, conn, `SELECT `+demandColumns+` FROM demands WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*demanddomain.Demand, error) {
	return r.findOne(ctx, conn, `SELECT `+demandColumns+` FROM demands WHERE id = ?`+db.ForUpdate(conn), id)
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter demanddomain.ListFilter) ([]*demanddomain.Demand, error) {
	var demands []*demanddomain.Demand
	stmt := conn.WithContext(ctx).Model(&demanddomain.Demand{})
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.DomainID != nil {
		stmt = stmt.Where("domain_id = ?", *filter.DomainID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Billed != nil {
		stmt = stmt.Where("billed = ?", *filter.Billed)
	}
	if filter.AfterID > 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&demands).Error; err != nil {
		return nil, err
	}
	return demands, nil
}

func (r *repo) UpdateDetails(ctx context.Context, conn *gorm.DB, demand *demanddomain.Demand) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE demands SET title = ?, description = ?, hours = ?, updated_at = ?
		 WHERE id = ? AND billed = ?`,
		demand.Title,
		demand.Description,
		demand.Hours,
		demand.UpdatedAt,
		demand.ID,
		false,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, status demanddomain.DemandStatus, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE demands SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) SaveBilling(ctx context.Context, conn *gorm.DB, demand *demanddomain.Demand) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE demands
		 SET status = ?, subscription_id = ?, value = ?, overage_value = ?, overage_hours = ?,
		     billed = ?, billed_at = ?, updated_at = ?
		 WHERE id = ? AND billed = ?`,
		demand.Status,
		demand.SubscriptionID,
		demand.Value,
		demand.OverageValue,
		demand.OverageHours,
		true,
		demand.BilledAt,
		demand.UpdatedAt,
		demand.ID,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListUninvoiced(ctx context.Context, conn *gorm.DB, filter demanddomain.InvoiceFilter) ([]*demanddomain.Demand, error) {
	var demands []*demanddomain.Demand
	stmt := conn.WithContext(ctx).Model(&demanddomain.Demand{}).
		Where("billed = ? AND invoiced_at IS NULL", true)
	if !filter.BilledBefore.IsZero() {
		stmt = stmt.Where("billed_at < ?", filter.BilledBefore)
	}
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	err := stmt.Order("client_id asc").Order("id asc").Find(&demands).Error
	return demands, err
}

// MarkInvoiced stamps only demands that are still uninvoiced and returns how many it took.
func (r *repo) MarkInvoiced(ctx context.Context, conn *gorm.DB, ids []snowflake.ID, paymentID *snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE demands SET payment_id = ?, invoiced_at = ?, updated_at = ?
		 WHERE id IN ? AND invoiced_at IS NULL`,
		paymentID,
		now,
		now,
		ids,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*demanddomain.Demand, error) {
	var demand demanddomain.Demand
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&demand).Error; err != nil {
		return nil, err
	}
	if demand.ID == 0 {
		return nil, nil
	}
	return &demand, nil
}
