package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"
)

// DefaultMigrationLockTimeout ограничивает ожидание блокировки миграций.
const DefaultMigrationLockTimeout = 30 * time.Second

// readVersion возвращает версию схемы, (0, false) для пустой базы.
func readVersion(mg *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := mg.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func closeMigrate(mg *migrate.Migrate, logger *zap.Logger) {
	srcErr, dbErr := mg.Close()
	if srcErr != nil {
		logger.Warn("Failed to close migration source", zap.Error(srcErr))
	}
	if dbErr != nil {
		logger.Warn("Failed to close migration database", zap.Error(dbErr))
	}
}
