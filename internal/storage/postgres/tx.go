package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ttejuosho/akubata/internal/domain"
)

// SQLSTATE, которые мы различаем.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateCheckViolation       = "23514"
	sqlStateNumericOutOfRange    = "22003"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateSerializationFailure = "40001"
)

// WithinTx открывает транзакцию READ COMMITTED с ограниченным lock_timeout
// и выполняет fn. Ошибка fn или коммита откатывает транзакцию.
// Таймаут блокировки, deadlock и serialization failure возвращаются как ErrConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classifyError(fmt.Errorf("begin tx: %w", err))
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	lockTimeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err = sqlTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeout); err != nil {
		return classifyError(fmt.Errorf("set lock_timeout: %w", err))
	}

	if err = fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return classifyError(err)
	}

	if err = sqlTx.Commit(); err != nil {
		return classifyError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// pgTx привязывает репозитории к одной транзакции.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Orders() domain.OrderLedger    { return &orderLedger{tx: t.tx} }
func (t *pgTx) Products() domain.ProductStore { return &productStore{tx: t.tx} }
func (t *pgTx) Outbox() domain.OutboxWriter   { return &outboxWriter{tx: t.tx} }

// classifyError переводит ошибки блокировок PostgreSQL в ErrConflict.
func classifyError(err error) error {
	if err == nil || errors.Is(err, domain.ErrConflict) {
		return err
	}
	switch pgErrorCode(err) {
	case sqlStateLockNotAvailable, sqlStateDeadlockDetected, sqlStateSerializationFailure:
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == sqlStateUniqueViolation
}

func isOutOfRange(err error) bool {
	return pgErrorCode(err) == sqlStateNumericOutOfRange
}

func isCheckViolation(err error) bool {
	return pgErrorCode(err) == sqlStateCheckViolation
}

var _ domain.TxManager = (*Store)(nil)
