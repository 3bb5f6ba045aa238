package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"gorm.io/gorm"
)

type OpenTicketRequest struct {
	// ClientID is ignored for client actors; they always open tickets for themselves.
	ClientID string `json:"client_id,omitempty"`
	DomainID string `json:"domain_id,omitempty"`
	Message  string `json:"message"`
}

type ConvertTicketRequest struct {
	TicketID    string          `json:"ticket_id"`
	DomainID    string          `json:"domain_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
}

type ConvertTicketResponse struct {
	Ticket SupportTicket       `json:"ticket"`
	Demand demanddomain.Demand `json:"demand"`
}

type ListTicketRequest struct {
	pagination.Pagination
	Status TicketStatus
}

type ListTicketResponse struct {
	pagination.PageInfo
	Tickets []*SupportTicket `json:"tickets"`
}

type Service interface {
	Open(ctx context.Context, req OpenTicketRequest) (SupportTicket, error)
	Start(ctx context.Context, id string) (SupportTicket, error)
	Complete(ctx context.Context, id string) (SupportTicket, error)
	Cancel(ctx context.Context, id string) (SupportTicket, error)
	ConvertToDemand(ctx context.Context, req ConvertTicketRequest) (ConvertTicketResponse, error)
	Get(ctx context.Context, id string) (SupportTicket, error)
	List(ctx context.Context, req ListTicketRequest) (ListTicketResponse, error)
}

type ListFilter struct {
	ClientID *snowflake.ID
	Status   TicketStatus
	AfterID  int64
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, ticket *SupportTicket) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SupportTicket, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SupportTicket, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*SupportTicket, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status TicketStatus, now time.Time) error
}

var (
	ErrInvalidTicket          = errors.New("invalid_ticket")
	ErrInvalidClient          = errors.New("invalid_client")
	ErrInvalidDomain          = errors.New("invalid_domain")
	ErrInvalidMessage         = errors.New("invalid_message")
	ErrDomainRequired         = errors.New("domain_required")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrTicketNotFound         = errors.New("ticket_not_found")
)
