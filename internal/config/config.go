package config

import (
	"fmt"
	"time"

	"novel-engine/internal/ledger"
	"novel-engine/internal/utils"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config содержит конфигурацию движка прогрессии.
type Config struct {
	// Настройки сервера
	Port        string `envconfig:"SERVER_PORT" default:"8082"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// Хранилище
	StorageDriver string        `envconfig:"STORAGE_DRIVER" default:"postgres"`
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"novel_engine"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"novel-engine.db"`
	AutoMigrate   bool          `envconfig:"AUTO_MIGRATE" default:"false"`
	// Секретное поле без envconfig тега
	DBPassword string `ignored:"true"`

	// Транзакции
	TxTimeout     time.Duration `envconfig:"DB_TX_TIMEOUT" default:"5s"`
	TxMaxAttempts int           `envconfig:"TX_MAX_ATTEMPTS" default:"5"`
	TxRetryDelay  time.Duration `envconfig:"TX_RETRY_DELAY" default:"50ms"`

	// Экономика
	EnergyCap       int           `envconfig:"ENERGY_CAP" default:"7"`
	EnergyRegenStep time.Duration `envconfig:"ENERGY_REGEN_STEP" default:"30m"`
	DefaultLanguage string        `envconfig:"DEFAULT_LANGUAGE" default:"ru"`

	// Кэш историй. Пустой REDIS_URL - только локальный кэш.
	// Импорт (storyctl import) сбрасывает Redis и оповещает серверы через pub/sub.
	// Без Redis сервер видит новую версию истории только после STORY_CACHE_TTL.
	RedisURL      string        `envconfig:"REDIS_URL"`
	StoryCacheTTL time.Duration `envconfig:"STORY_CACHE_TTL" default:"5m"`

	// События. Пустой RABBITMQ_URL - события не публикуются.
	RabbitMQURL         string `envconfig:"RABBITMQ_URL"`
	ProgressEventsQueue string `envconfig:"PROGRESS_EVENTS_QUEUE" default:"progress_events"`

	DevEndpointsEnabled bool   `envconfig:"DEV_ENDPOINTS_ENABLED" default:"false"`
	SecretsDir          string `envconfig:"SECRETS_DIR" default:"/run/secrets"`
	// Секретное поле без envconfig тега
	JWTSecret string `ignored:"true"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// EnergyPolicy возвращает политику восстановления энергии.
func (c *Config) EnergyPolicy() ledger.Policy {
	return ledger.Policy{Cap: c.EnergyCap, Step: c.EnergyRegenStep}
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want %s or %s)", c.StorageDriver, DriverPostgres, DriverSQLite)
	}
	if err := c.EnergyPolicy().Validate(); err != nil {
		return fmt.Errorf("energy policy: %w", err)
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1, got %d", c.TxMaxAttempts)
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("DB_TX_TIMEOUT must be positive, got %v", c.TxTimeout)
	}
	if c.StorageDriver == DriverPostgres && c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNECTIONS must be at least 1, got %d", c.DBMaxConns)
	}
	return nil
}

// LoadConfig загружает конфигурацию из переменных окружения.
// withJWT включает чтение jwt_secret: он нужен серверу, но не storyctl.
func LoadConfig(withJWT bool) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var err error
	if cfg.StorageDriver == DriverPostgres {
		cfg.DBPassword, err = utils.ReadSecret(cfg.SecretsDir, "db_password")
		if err != nil {
			return nil, err
		}
	}
	if withJWT {
		cfg.JWTSecret, err = utils.ReadSecret(cfg.SecretsDir, "jwt_secret")
		if err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LogFields возвращает поля конфигурации для лога старта без секретов.
func (c *Config) LogFields() []zap.Field {
	fields := []zap.Field{
		zap.String("port", c.Port),
		zap.String("logLevel", c.LogLevel),
		zap.String("storageDriver", c.StorageDriver),
		zap.Duration("txTimeout", c.TxTimeout),
		zap.Int("txMaxAttempts", c.TxMaxAttempts),
		zap.Int("energyCap", c.EnergyCap),
		zap.Duration("energyRegenStep", c.EnergyRegenStep),
		zap.String("defaultLanguage", c.DefaultLanguage),
		zap.Bool("redisCache", c.RedisURL != ""),
		zap.Duration("storyCacheTTL", c.StoryCacheTTL),
		zap.Bool("eventsEnabled", c.RabbitMQURL != ""),
		zap.Bool("devEndpoints", c.DevEndpointsEnabled),
	}
	if c.StorageDriver == DriverPostgres {
		fields = append(fields,
			zap.String("dbDSN", fmt.Sprintf("postgres://%s:***@%s:%s/%s?sslmode=%s", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)),
			zap.Int("dbMaxConns", c.DBMaxConns))
	} else {
		fields = append(fields, zap.String("sqlitePath", c.SQLitePath))
	}
	return fields
}
