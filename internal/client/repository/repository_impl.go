package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/client/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertClient(ctx context.Context, db *gorm.DB, client *domain.Client) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO clients (id, name, email, status, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		client.ID,
		client.Name,
		client.Email,
		client.Status,
		client.UserID,
		client.CreatedAt,
		client.UpdatedAt,
	).Error
}

func (r *repo) FindClientByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Client, error) {
	var client domain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, status, user_id, created_at, updated_at
		 FROM clients WHERE id = ?`,
		id,
	).Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) ListClients(ctx context.Context, db *gorm.DB, filter domain.ListClientFilter) ([]*domain.Client, error) {
	var clients []*domain.Client
	stmt := db.WithContext(ctx).Model(&domain.Client{})
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
	if err := stmt.Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func (r *repo) ListClientsWithoutUser(ctx context.Context, db *gorm.DB) ([]*domain.Client, error) {
	var clients []*domain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, status, user_id, created_at, updated_at
		 FROM clients WHERE user_id IS NULL
		 ORDER BY id ASC`,
	).Scan(&clients).Error
	return clients, err
}

// LinkUser only links clients that have no user yet; it reports rows touched.
func (r *repo) LinkUser(ctx context.Context, db *gorm.DB, clientID, userID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clients SET user_id = ? WHERE id = ? AND user_id IS NULL`,
		userID,
		clientID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertDomain(ctx context.Context, db *gorm.DB, d *domain.Domain) error {
	return db.WithContext(ctx).Create(d).Error
}

func (r *repo) FindDomainByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Domain, error) {
	var d domain.Domain
	err := db.WithContext(ctx).Raw(
		`SELECT id, client_id, hostname, status, created_at, updated_at
		 FROM domains WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&d).Error
	if err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	return &d, nil
}

func (r *repo) ListDomains(ctx context.Context, db *gorm.DB, clientID snowflake.ID) ([]*domain.Domain, error) {
	var domains []*domain.Domain
	err := db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("id asc").
		Find(&domains).Error
	return domains, err
}

func (r *repo) SoftDeleteDomain(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Delete(&domain.Domain{}, "id = ?", id).Error
}

func (r *repo) InsertUser(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO users (id, client_id, email, name, role, invite_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.ClientID,
		user.Email,
		user.Name,
		user.Role,
		user.InviteToken,
		user.CreatedAt,
	).Error
}

func (r *repo) ListAdminUsers(ctx context.Context, db *gorm.DB) ([]*domain.User, error) {
	var users []*domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, client_id, email, name, role, created_at
		 FROM users WHERE role = ? ORDER BY id ASC`,
		domain.UserRoleAdmin,
	).Scan(&users).Error
	return users, err
}
