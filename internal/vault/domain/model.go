package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EntryStatus string

const (
	EntryStatusActive   EntryStatus = "active"
	EntryStatusInactive EntryStatus = "inactive"
)

// Entry is a client credential. SealedSecret holds the sealer envelope and is
// never serialized.
type Entry struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID     snowflake.ID  `gorm:"not null;index" json:"client_id"`
	DomainID     *snowflake.ID `gorm:"index" json:"domain_id,omitempty"`
	Service      string        `gorm:"type:text;not null" json:"service"`
	Login        string        `gorm:"type:text" json:"login"`
	SealedSecret string        `gorm:"column:sealed_secret;type:text;not null" json:"-"`
	URL          string        `gorm:"type:text" json:"url"`
	Notes        string        `gorm:"type:text" json:"notes"`
	Status       EntryStatus   `gorm:"type:text;not null" json:"status"`
	CreatedAt    time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null" json:"updated_at"`
	DeletedAt    *time.Time    `gorm:"index" json:"-"`
}

func (Entry) TableName() string { return "vault_entries" }

// AAD ties a sealed secret to the entry that owns it.
func (e Entry) AAD() []byte {
	return []byte("vault_entry:" + e.ID.String())
}

// RevealedSecret is the only shape that carries a plaintext secret. Redacted
// is set when the stored envelope could not be opened.
type RevealedSecret struct {
	EntryID  snowflake.ID `json:"entry_id"`
	Secret   string       `json:"secret"`
	Redacted bool         `json:"redacted"`
}
