package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusInactive ClientStatus = "inactive"
)

type DomainStatus string

const (
	DomainStatusActive   DomainStatus = "active"
	DomainStatusInactive DomainStatus = "inactive"
)

type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleClient UserRole = "client"
)

type Client struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"type:text;not null" json:"name"`
	Email     *string       `gorm:"type:text" json:"email,omitempty"`
	Status    ClientStatus  `gorm:"type:text;not null" json:"status"`
	UserID    *snowflake.ID `gorm:"index" json:"user_id,omitempty"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null" json:"updated_at"`
}

func (Client) TableName() string { return "clients" }

// Domain is a client's website; subscriptions and demands hang off it.
type Domain struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	ClientID  snowflake.ID   `gorm:"not null;index" json:"client_id"`
	Hostname  string         `gorm:"type:text;not null" json:"hostname"`
	Status    DomainStatus   `gorm:"type:text;not null" json:"status"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Domain) TableName() string { return "domains" }

type User struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID    *snowflake.ID `gorm:"index" json:"client_id,omitempty"`
	Email       string        `gorm:"type:text;not null;uniqueIndex" json:"email"`
	Name        string        `gorm:"type:text;not null" json:"name"`
	Role        UserRole      `gorm:"type:text;not null;index" json:"role"`
	InviteToken *string       `gorm:"type:text" json:"-"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
}

func (User) TableName() string { return "users" }
