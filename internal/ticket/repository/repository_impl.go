package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ticketdomain "github.com/smallbiznis/backoffice/internal/ticket/domain"
	"github.com/smallbiznis/backoffice/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ticketdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, ticket *ticketdomain.SupportTicket) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO support_tickets (id, client_id, domain_id, message, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID,
		ticket.ClientID,
		ticket.DomainID,
		ticket.Message,
		ticket.Status,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*ticketdomain.SupportTicket, error) {
	return r.findOne(ctx, conn, "", id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*ticketdomain.SupportTicket, error) {
	return r.findOne(ctx, conn, db.ForUpdate(conn), id)
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter ticketdomain.ListFilter) ([]*ticketdomain.SupportTicket, error) {
	var tickets []*ticketdomain.SupportTicket
	stmt := conn.WithContext(ctx).Model(&ticketdomain.SupportTicket{})
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.AfterID > 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&tickets).Error; err != nil {
		return nil, err
	}
	return tickets, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, status ticketdomain.TicketStatus, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE support_tickets SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, lock string, id snowflake.ID) (*ticketdomain.SupportTicket, error) {
	var ticket ticketdomain.SupportTicket
	err := conn.WithContext(ctx).Raw(
		`SELECT id, client_id, domain_id, message, status, created_at, updated_at
		 FROM support_tickets WHERE id = ?`+lock,
		id,
	).Scan(&ticket).Error
	if err != nil {
		return nil, err
	}
	if ticket.ID == 0 {
		return nil, nil
	}
	return &ticket, nil
}
