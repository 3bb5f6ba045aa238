package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	vaultdomain "github.com/smallbiznis/backoffice/internal/vault/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() vaultdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *vaultdomain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO vault_entries (id, client_id, domain_id, service, login, sealed_secret, url, notes, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ClientID,
		entry.DomainID,
		entry.Service,
		entry.Login,
		entry.SealedSecret,
		entry.URL,
		entry.Notes,
		entry.Status,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*vaultdomain.Entry, error) {
	var entry vaultdomain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, client_id, domain_id, service, login, sealed_secret, url, notes, status, created_at, updated_at, deleted_at
		 FROM vault_entries WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter vaultdomain.ListFilter) ([]*vaultdomain.Entry, error) {
	var entries []*vaultdomain.Entry
	stmt := db.WithContext(ctx).Model(&vaultdomain.Entry{}).Where("deleted_at IS NULL")
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.DomainID != nil {
		stmt = stmt.Where("domain_id = ?", *filter.DomainID)
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
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, entry *vaultdomain.Entry) error {
	return db.WithContext(ctx).Exec(
		`UPDATE vault_entries
		 SET service = ?, login = ?, sealed_secret = ?, url = ?, notes = ?, status = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		entry.Service,
		entry.Login,
		entry.SealedSecret,
		entry.URL,
		entry.Notes,
		entry.Status,
		entry.UpdatedAt,
		entry.ID,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE vault_entries SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now,
		now,
		id,
	)
	return res.RowsAffected == 1, res.Error
}
