// Package sqlite - хранилище на встроенной SQLite (modernc.org/sqlite, без cgo).
// Используется для локального запуска и тестов сервиса.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"

	"go.uber.org/zap"
	"modernc.org/sqlite"
)

var _ interfaces.Store = (*Store)(nil)

// Коды результата SQLite, после которых транзакцию можно повторить.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store держит единственное соединение: транзакции выполняются строго по очереди,
// что дает ту же сериализацию переходов игрока, что и блокировка строки в PostgreSQL.
type Store struct {
	db      *sql.DB
	logger  *zap.Logger
	content interfaces.ContentRepository
	players interfaces.PlayerRepository
}

// Open открывает (или создает) базу по пути path и применяет миграции.
// path ":memory:" создает базу в памяти.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(pingCtx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger.Named("SQLiteStore")}
	s.content = newContentRepository(db, logger)
	s.players = newPlayerRepository(db, logger)
	return s, nil
}

func (s *Store) Content() interfaces.ContentRepository { return s.content }
func (s *Store) Players() interfaces.PlayerRepository { return s.players }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", classifyError(err))
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, newTx(tx, s.logger)); err != nil {
		_ = tx.Rollback()
		return classifyError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", classifyError(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classifyError(s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	players  interfaces.PlayerRepository
	wallets  interfaces.WalletRepository
	progress interfaces.ProgressRepository
	unlocks  interfaces.UnlockRepository
	consents interfaces.AgeConsentRepository
}

func newTx(tx *sql.Tx, logger *zap.Logger) *sqliteTx {
	return &sqliteTx{
		players:  newPlayerRepository(tx, logger),
		wallets:  &walletRepository{q: tx},
		progress: &progressRepository{q: tx},
		unlocks:  &unlockRepository{q: tx},
		consents: &consentRepository{q: tx},
	}
}

func (t *sqliteTx) Players() interfaces.PlayerRepository { return t.players }
func (t *sqliteTx) Wallets() interfaces.WalletRepository { return t.wallets }
func (t *sqliteTx) Progress() interfaces.ProgressRepository { return t.progress }
func (t *sqliteTx) Unlocks() interfaces.UnlockRepository { return t.unlocks }
func (t *sqliteTx) Consents() interfaces.AgeConsentRepository { return t.consents }

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return fmt.Errorf("%w: %v", models.ErrTxConflict, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%w: %v", models.ErrTxConflict, err)
	}
	return err
}

func stampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
