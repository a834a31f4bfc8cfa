package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// Migrator применяет встроенные SQL-миграции PostgreSQL.
type Migrator struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewMigrator(pool *pgxpool.Pool, logger *zap.Logger) *Migrator {
	return &Migrator{pool: pool, logger: logger.Named("Migrator")}
}

// Up применяет все доступные миграции.
func (m *Migrator) Up(ctx context.Context) error {
	mg, err := m.create()
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	m.logger.Info("Database migrations applied")
	return nil
}

// Down откатывает все миграции.
func (m *Migrator) Down(ctx context.Context) error {
	mg, err := m.create()
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	m.logger.Info("Database migrations rolled back")
	return nil
}

// Version возвращает текущую версию схемы.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.create()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(mg, m.logger)
	return readVersion(mg)
}

// ForceVersion принудительно выставляет версию (после ручного исправления dirty-состояния).
func (m *Migrator) ForceVersion(ctx context.Context, version int) error {
	mg, err := m.create()
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version: %w", err)
	}
	m.logger.Info("Database migration version forced", zap.Int("version", version))
	return nil
}

func (m *Migrator) create() (*migrate.Migrate, error) {
	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations source: %w", err)
	}
	db := stdlib.OpenDBFromPool(m.pool)
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.LockTimeout = DefaultMigrationLockTimeout
	return mg, nil
}
