package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(notifications).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Notification, error) {
	var n domain.Notification
	err := db.WithContext(ctx).Raw(
		`SELECT id, client_id, user_id, demand_id, type, title, message, is_read, status, created_at, updated_at
		 FROM notifications WHERE id = ?`,
		id,
	).Scan(&n).Error
	if err != nil {
		return nil, err
	}
	if n.ID == 0 {
		return nil, nil
	}
	return &n, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Notification, error) {
	var items []*domain.Notification
	stmt := scopeRecipient(db.WithContext(ctx).Model(&domain.Notification{}), filter.Recipient)
	if !filter.IncludeArchived {
		stmt = stmt.Where("status = ?", domain.NotificationStatusActive)
	}
	if filter.UnreadOnly {
		stmt = stmt.Where("is_read = ?", false)
	}
	if filter.AfterID > 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountUnread(ctx context.Context, db *gorm.DB, recipient domain.Recipient) (int64, error) {
	var count int64
	err := scopeRecipient(db.WithContext(ctx).Model(&domain.Notification{}), recipient).
		Where("status = ? AND is_read = ?", domain.NotificationStatusActive, false).
		Count(&count).Error
	return count, err
}

func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notifications SET is_read = ?, updated_at = ? WHERE id = ?`,
		true,
		now,
		id,
	).Error
}

func (r *repo) Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notifications SET status = ?, is_read = ?, updated_at = ? WHERE id = ?`,
		domain.NotificationStatusArchived,
		true,
		now,
		id,
	).Error
}

func scopeRecipient(stmt *gorm.DB, recipient domain.Recipient) *gorm.DB {
	if recipient.ClientID != nil {
		return stmt.Where("client_id = ? AND user_id IS NULL", *recipient.ClientID)
	}
	if recipient.UserID != nil {
		return stmt.Where("user_id = ? AND client_id IS NULL", *recipient.UserID)
	}
	return stmt.Where("1 = 0")
}
