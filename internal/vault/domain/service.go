package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateEntryRequest struct {
	ClientID string `json:"client_id"`
	DomainID string `json:"domain_id,omitempty"`
	Service  string `json:"service"`
	Login    string `json:"login"`
	Secret   string `json:"secret"`
	URL      string `json:"url"`
	Notes    string `json:"notes"`
}

// UpdateEntryRequest leaves nil fields untouched.
type UpdateEntryRequest struct {
	ID      string       `json:"id"`
	Service *string      `json:"service,omitempty"`
	Login   *string      `json:"login,omitempty"`
	Secret  *string      `json:"secret,omitempty"`
	URL     *string      `json:"url,omitempty"`
	Notes   *string      `json:"notes,omitempty"`
	Status  *EntryStatus `json:"status,omitempty"`
}

type ListEntryRequest struct {
	pagination.Pagination
	ClientID string
	DomainID string
	Status   EntryStatus
}

type ListEntryResponse struct {
	pagination.PageInfo
	Entries []*Entry `json:"entries"`
}

type Service interface {
	Create(ctx context.Context, req CreateEntryRequest) (Entry, error)
	Update(ctx context.Context, req UpdateEntryRequest) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context, req ListEntryRequest) (ListEntryResponse, error)
	// Reveal never fails on a bad envelope; it returns a redacted secret instead.
	Reveal(ctx context.Context, id string) (RevealedSecret, error)
	Delete(ctx context.Context, id string) error
}

type ListFilter struct {
	ClientID *snowflake.ID
	DomainID *snowflake.ID
	Status   EntryStatus
	AfterID  int64
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	Update(ctx context.Context, db *gorm.DB, entry *Entry) error
	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}

var (
	ErrInvalidEntry   = errors.New("invalid_entry")
	ErrInvalidClient  = errors.New("invalid_client")
	ErrInvalidDomain  = errors.New("invalid_domain")
	ErrInvalidService = errors.New("invalid_service")
	ErrInvalidSecret  = errors.New("invalid_secret")
	ErrInvalidStatus  = errors.New("invalid_status")
	ErrEntryNotFound  = errors.New("entry_not_found")

	ErrRevealRateLimited = errors.New("reveal_rate_limited")
)
