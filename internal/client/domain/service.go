package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
)

type CreateClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ListClientRequest struct {
	pagination.Pagination
	Status ClientStatus
}

type ListClientResponse struct {
	pagination.PageInfo
	Clients []*Client `json:"clients"`
}

type CreateDomainRequest struct {
	ClientID string `json:"client_id"`
	Hostname string `json:"hostname"`
}

// ProvisionFailure is one client skipped during user provisioning.
type ProvisionFailure struct {
	ClientID snowflake.ID
	Err      error
}

type ProvisionSummary struct {
	Processed int
	Created   int
	Failed    int
	Failures  []ProvisionFailure
}

type Service interface {
	CreateClient(ctx context.Context, req CreateClientRequest) (Client, error)
	GetClient(ctx context.Context, id string) (Client, error)
	ListClients(ctx context.Context, req ListClientRequest) (ListClientResponse, error)

	CreateDomain(ctx context.Context, req CreateDomainRequest) (Domain, error)
	GetDomain(ctx context.Context, id string) (Domain, error)
	ListDomains(ctx context.Context, clientID string) ([]*Domain, error)
	DeleteDomain(ctx context.Context, id string) error

	// ProvisionMissingUsers creates a client login for every client without one.
	// Records that cannot be provisioned are reported, never fatal.
	ProvisionMissingUsers(ctx context.Context) (ProvisionSummary, error)
}

var (
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidDomain      = errors.New("invalid_domain")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidHostname    = errors.New("invalid_hostname")
	ErrClientNotFound     = errors.New("client_not_found")
	ErrDomainNotFound     = errors.New("domain_not_found")
	ErrEmailTaken         = errors.New("email_taken")
	ErrAlreadyProvisioned = errors.New("already_provisioned")
	ErrValidation         = errors.New("validation_failed")
)

// ValidationError names the field that made a record unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation_failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
