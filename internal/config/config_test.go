package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecrets(t *testing.T, secrets map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, value := range secrets {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value), 0o600))
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SECRETS_DIR", writeSecrets(t, map[string]string{"db_password": "pw", "jwt_secret": "jwt"}))

	cfg, err := LoadConfig(true)
	require.NoError(t, err)

	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StorageDriver)
	assert.Equal(t, 7, cfg.EnergyCap)
	assert.Equal(t, 30*time.Minute, cfg.EnergyRegenStep)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.TxRetryDelay)
	assert.Equal(t, "progress_events", cfg.ProgressEventsQueue)
	assert.Equal(t, "pw", cfg.DBPassword)
	assert.Equal(t, "jwt", cfg.JWTSecret)
	assert.Equal(t, "postgres://postgres:pw@localhost:5432/novel_engine?sslmode=disable", cfg.GetDSN())
}

func TestLoadConfig_SQLiteWithoutDBPassword(t *testing.T) {
	t.Setenv("SECRETS_DIR", writeSecrets(t, nil))
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("ENERGY_CAP", "10")

	cfg, err := LoadConfig(false)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.EnergyPolicy().Cap)
	assert.Empty(t, cfg.DBPassword)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("Missing jwt secret", func(t *testing.T) {
		t.Setenv("SECRETS_DIR", writeSecrets(t, map[string]string{"db_password": "pw"}))
		_, err := LoadConfig(true)
		assert.ErrorContains(t, err, "jwt_secret")
	})

	t.Run("Unknown driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "mongo")
		_, err := LoadConfig(false)
		assert.ErrorContains(t, err, "STORAGE_DRIVER")
	})

	t.Run("Bad energy cap", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "sqlite")
		t.Setenv("ENERGY_CAP", "0")
		_, err := LoadConfig(false)
		assert.ErrorContains(t, err, "energy cap")
	})

	t.Run("Bad retry attempts", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "sqlite")
		t.Setenv("TX_MAX_ATTEMPTS", "0")
		_, err := LoadConfig(false)
		assert.ErrorContains(t, err, "TX_MAX_ATTEMPTS")
	})
}
