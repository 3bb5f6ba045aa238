package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertClient(ctx context.Context, db *gorm.DB, client *Client) error
	FindClientByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Client, error)
	ListClients(ctx context.Context, db *gorm.DB, filter ListClientFilter) ([]*Client, error)
	ListClientsWithoutUser(ctx context.Context, db *gorm.DB) ([]*Client, error)
	LinkUser(ctx context.Context, db *gorm.DB, clientID, userID snowflake.ID) (int64, error)

	InsertDomain(ctx context.Context, db *gorm.DB, domain *Domain) error
	FindDomainByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Domain, error)
	ListDomains(ctx context.Context, db *gorm.DB, clientID snowflake.ID) ([]*Domain, error)
	SoftDeleteDomain(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	InsertUser(ctx context.Context, db *gorm.DB, user *User) error
	ListAdminUsers(ctx context.Context, db *gorm.DB) ([]*User, error)
}

type ListClientFilter struct {
	Status  ClientStatus
	AfterID int64
	Limit   int
}
