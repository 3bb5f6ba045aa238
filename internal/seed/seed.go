package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"gorm.io/gorm"
)

var ErrInvalidAdminEmail = errors.New("bootstrap admin email is invalid")

// EnsureAdmin creates the bootstrap admin user unless an admin already exists.
// It reports whether a user was created.
func EnsureAdmin(ctx context.Context, db *gorm.DB, node *snowflake.Node, email, name string) (bool, error) {
	if db == nil {
		return false, errors.New("seed database handle is required")
	}
	if node == nil {
		return false, errors.New("seed id generator is required")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}
	if !strings.Contains(email, "@") {
		return false, ErrInvalidAdminEmail
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Administrator"
	}

	created := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var admins int64
		if err := tx.Model(&clientdomain.User{}).
			Where("role = ?", clientdomain.UserRoleAdmin).
			Count(&admins).Error; err != nil {
			return err
		}
		if admins > 0 {
			return nil
		}

		var existing clientdomain.User
		err := tx.Where("email = ?", email).First(&existing).Error
		switch {
		case err == nil:
			// Promote a pre-existing user with the bootstrap email.
			if existing.ClientID != nil {
				return errors.New("bootstrap admin email belongs to a client user")
			}
			if err := tx.Model(&existing).Update("role", clientdomain.UserRoleAdmin).Error; err != nil {
				return err
			}
			created = true
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		user := clientdomain.User{
			ID:        node.Generate(),
			Email:     email,
			Name:      name,
			Role:      clientdomain.UserRoleAdmin,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}
