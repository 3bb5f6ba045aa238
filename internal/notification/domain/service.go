package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"gorm.io/gorm"
)

// Dispatcher records notifications raised by lifecycle transitions.
type Dispatcher interface {
	// NotifyAdmins writes one notification per admin user.
	NotifyAdmins(ctx context.Context, msg Message) error
	NotifyClient(ctx context.Context, clientID snowflake.ID, msg Message) error
}

type ListNotificationRequest struct {
	pagination.Pagination
	UnreadOnly      bool
	IncludeArchived bool
}

type ListNotificationResponse struct {
	pagination.PageInfo
	Notifications []*Notification `json:"notifications"`
}

type Service interface {
	Dispatcher

	ListForActor(ctx context.Context, req ListNotificationRequest) (ListNotificationResponse, error)
	MarkRead(ctx context.Context, id string) (Notification, error)
	Archive(ctx context.Context, id string) (Notification, error)
	CountUnread(ctx context.Context) (int64, error)
}

type Recipient struct {
	ClientID *snowflake.ID
	UserID   *snowflake.ID
}

type ListFilter struct {
	Recipient
	UnreadOnly      bool
	IncludeArchived bool
	AfterID         int64
	Limit           int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, notifications []*Notification) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Notification, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Notification, error)
	CountUnread(ctx context.Context, db *gorm.DB, recipient Recipient) (int64, error)
	MarkRead(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}

var (
	ErrInvalidRecipient     = errors.New("invalid_recipient")
	ErrInvalidType          = errors.New("invalid_type")
	ErrInvalidTitle         = errors.New("invalid_title")
	ErrInvalidNotification  = errors.New("invalid_notification")
	ErrNotificationNotFound = errors.New("notification_not_found")
)
