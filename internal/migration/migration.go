package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/backoffice/internal/payment/domain"
	plandomain "github.com/smallbiznis/backoffice/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	ticketdomain "github.com/smallbiznis/backoffice/internal/ticket/domain"
	vaultdomain "github.com/smallbiznis/backoffice/internal/vault/domain"
	"gorm.io/gorm"
)

// Partial indexes that AutoMigrate cannot express. The postgres schema
// carries the same definitions in the embedded SQL.
var sqlitePartialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_active_domain ON subscriptions(domain_id)
		WHERE status = 'active' AND deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_demands_uninvoiced ON demands(client_id, id)
		WHERE billed = 1 AND invoiced_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_cycle_reference ON payments(client_id, reference)
		WHERE source = 'cycle'`,
}

// Models lists every table owned by the backoffice, parents first.
func Models() []any {
	return []any{
		&clientdomain.User{},
		&clientdomain.Client{},
		&clientdomain.Domain{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&ticketdomain.SupportTicket{},
		&paymentdomain.Payment{},
		&demanddomain.Demand{},
		&notificationdomain.Notification{},
		&vaultdomain.Entry{},
		&auditdomain.AuditLog{},
	}
}

// Migrate brings the schema up to date. Postgres runs the versioned SQL
// migrations; other dialects fall back to AutoMigrate.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	switch conn.Dialector.Name() {
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	case "sqlite":
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		for _, stmt := range sqlitePartialIndexes {
			if err := conn.Exec(stmt).Error; err != nil {
				return fmt.Errorf("create partial index: %w", err)
			}
		}
		return nil
	default:
		// MySQL has no partial indexes; active subscription uniqueness relies
		// on the row lock taken by the subscription service.
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
}

// Source opens the embedded migration files.
func Source() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	driver, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return driver, nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	src, err := Source()
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
