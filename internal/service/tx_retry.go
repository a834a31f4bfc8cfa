package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"

	"go.uber.org/zap"
)

const maxRetryDelay = 1200 * time.Millisecond

// RetryPolicy ограничивает повторы транзакции при конфликтах хранилища.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// AttemptTimeout ограничивает одну попытку. 0 - без отдельного таймаута.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy - 5 попыток, задержка от 50ms с удвоением, 5s на попытку.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, AttemptTimeout: 5 * time.Second}
}

// runInTx выполняет fn в транзакции хранилища, повторяя попытку целиком при models.ErrTxConflict.
// fn должна быть идемпотентной до фиксации: каждая попытка начинает переход с первого шага.
func runInTx(ctx context.Context, store interfaces.Store, policy RetryPolicy, logger *zap.Logger, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	attempts := max(1, policy.MaxAttempts)
	delay := policy.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = runAttempt(ctx, store, policy.AttemptTimeout, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrTxConflict) {
			return err
		}
		if attempt == attempts {
			break
		}

		txRetriesTotal.Inc()
		logger.Warn("Transaction conflict, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if err := sleepWithContext(ctx, delay); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
		}
		if delay < maxRetryDelay {
			delay = min(delay*2, maxRetryDelay)
		}
	}
	logger.Error("Transaction retries exhausted", zap.Int("attempts", attempts), zap.Error(err))
	return err
}

func runAttempt(ctx context.Context, store interfaces.Store, timeout time.Duration, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := store.InTx(ctx, fn)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrStorageUnavailable) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
