package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/pkg/database"
)

const (
	insertTransactionQuery = `INSERT INTO ledger_transactions (id, student_id, type, amount, description, badge_id, bimester, date, note, teacher_name, created_at, updated_at)
VALUES (:id, :student_id, :type, :amount, :description, :badge_id, :bimester, :date, :note, :teacher_name, :created_at, :updated_at)`
	selectTransactionsQuery = `SELECT id, student_id, type, amount, description, badge_id, bimester, date, note, teacher_name, created_at, updated_at
FROM ledger_transactions ORDER BY date ASC, id ASC`
)

// ErrConflictRetriesExhausted is returned when a batch keeps aborting on concurrent writes.
var ErrConflictRetriesExhausted = errors.New("ledger batch aborted by concurrent writers")

// ApplyResult summarises how a batch landed in the database.
type ApplyResult struct {
	Applied  int
	Skipped  int
	Attempts int
}

// LedgerRepository replays ledger batches as relative balance deltas.
type LedgerRepository struct {
	db              *sqlx.DB
	logger          *zap.Logger
	conflictRetries int
	backoff         time.Duration
}

// NewLedgerRepository constructs a LedgerRepository.
func NewLedgerRepository(db *sqlx.DB, conflictRetries int, logger *zap.Logger) *LedgerRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conflictRetries < 0 {
		conflictRetries = 0
	}
	return &LedgerRepository{db: db, logger: logger, conflictRetries: conflictRetries, backoff: 50 * time.Millisecond}
}

// ApplyBatch writes every mutation of batch in one database transaction. Appends are
// insert-if-absent and removes are delete-returning, so replaying a batch that already
// landed changes nothing. Serialization failures and deadlocks are retried.
func (r *LedgerRepository) ApplyBatch(ctx context.Context, batch models.LedgerBatch) (ApplyResult, error) {
	var (
		res ApplyResult
		err error
	)
	for attempt := 0; attempt <= r.conflictRetries; attempt++ {
		res, err = r.applyOnce(ctx, batch)
		res.Attempts = attempt + 1
		if err == nil || !database.IsRetryable(err) {
			return res, err
		}
		r.logger.Warn("ledger batch conflict, retrying",
			zap.String("batch_id", batch.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt+1)):
		}
	}
	return res, fmt.Errorf("%w: %v", ErrConflictRetriesExhausted, err)
}

func (r *LedgerRepository) applyOnce(ctx context.Context, batch models.LedgerBatch) (res ApplyResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin ledger batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, m := range batch.Mutations {
		var applied bool
		switch m.Kind {
		case models.MutationAppend:
			applied, err = r.applyAppend(ctx, tx, m.Transaction, now)
		case models.MutationAmend:
			applied, err = r.applyAmend(ctx, tx, m.Transaction, now)
		case models.MutationRemove:
			applied, err = r.applyRemove(ctx, tx, m.Transaction.ID, now)
		default:
			err = fmt.Errorf("unknown mutation kind %q", m.Kind)
		}
		if err != nil {
			return res, err
		}
		if applied {
			res.Applied++
		} else {
			res.Skipped++
			r.logger.Info("ledger mutation already reflected",
				zap.String("batch_id", batch.ID),
				zap.String("kind", string(m.Kind)),
				zap.String("transaction_id", m.Transaction.ID))
		}
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("commit ledger batch: %w", err)
	}
	return res, nil
}

func (r *LedgerRepository) applyAppend(ctx context.Context, tx *sqlx.Tx, t models.Transaction, now time.Time) (bool, error) {
	result, err := tx.NamedExecContext(ctx, insertTransactionQuery+" ON CONFLICT (id) DO NOTHING", t)
	if err != nil {
		return false, fmt.Errorf("insert ledger transaction %s: %w", t.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return false, nil
	}
	if err := addBalanceDelta(ctx, tx, t.StudentID, t.Bimester, t.Amount, now); err != nil {
		return false, err
	}
	if badgeID := t.OwnedBadgeID(); badgeID != "" {
		const badgeQuery = `INSERT INTO student_badges (student_id, badge_id, awarded_at) VALUES ($1, $2, $3) ON CONFLICT (student_id, badge_id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, badgeQuery, t.StudentID, badgeID, t.Date); err != nil {
			return false, fmt.Errorf("grant badge %s: %w", badgeID, err)
		}
	}
	return true, nil
}

func (r *LedgerRepository) applyAmend(ctx context.Context, tx *sqlx.Tx, t models.Transaction, now time.Time) (bool, error) {
	var current struct {
		StudentID string `db:"student_id"`
		Bimester  int    `db:"bimester"`
		Amount    int    `db:"amount"`
	}
	const lockQuery = `SELECT student_id, bimester, amount FROM ledger_transactions WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &current, lockQuery, t.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock ledger transaction %s: %w", t.ID, err)
	}

	const updateQuery = `UPDATE ledger_transactions SET amount = $2, description = $3, note = $4, updated_at = $5 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery, t.ID, t.Amount, t.Description, t.Note, now); err != nil {
		return false, fmt.Errorf("update ledger transaction %s: %w", t.ID, err)
	}
	if delta := t.Amount - current.Amount; delta != 0 {
		if err := addBalanceDelta(ctx, tx, current.StudentID, current.Bimester, delta, now); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *LedgerRepository) applyRemove(ctx context.Context, tx *sqlx.Tx, id string, now time.Time) (bool, error) {
	var removed models.Transaction
	const deleteQuery = `DELETE FROM ledger_transactions WHERE id = $1 RETURNING id, student_id, type, amount, description, badge_id, bimester`
	if err := tx.GetContext(ctx, &removed, deleteQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("delete ledger transaction %s: %w", id, err)
	}
	if err := addBalanceDelta(ctx, tx, removed.StudentID, removed.Bimester, -removed.Amount, now); err != nil {
		return false, err
	}
	if badgeID := removed.OwnedBadgeID(); badgeID != "" {
		const revokeQuery = `DELETE FROM student_badges sb WHERE sb.student_id = $1 AND sb.badge_id = $2
AND NOT EXISTS (
	SELECT 1 FROM ledger_transactions lt
	WHERE lt.student_id = $1 AND lt.type = 'BADGE' AND COALESCE(NULLIF(lt.badge_id, ''), lt.description) = $2
)`
		if _, err := tx.ExecContext(ctx, revokeQuery, removed.StudentID, badgeID); err != nil {
			return false, fmt.Errorf("revoke badge %s: %w", badgeID, err)
		}
	}
	return true, nil
}

func addBalanceDelta(ctx context.Context, tx *sqlx.Tx, studentID string, bimester, delta int, now time.Time) error {
	const query = `INSERT INTO student_balances (student_id, bimester, lxc_total, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (student_id, bimester) DO UPDATE SET lxc_total = student_balances.lxc_total + EXCLUDED.lxc_total, updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, query, studentID, bimester, delta, now); err != nil {
		return fmt.Errorf("apply balance delta for %s/%d: %w", studentID, bimester, err)
	}
	return nil
}

// ListTransactions returns every stored transaction in chronological order.
func (r *LedgerRepository) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	var txs []models.Transaction
	if err := r.db.SelectContext(ctx, &txs, selectTransactionsQuery); err != nil {
		return nil, fmt.Errorf("list ledger transactions: %w", err)
	}
	return txs, nil
}

// RebuildBalances recomputes student_balances from the transaction log and returns
// the number of rows written.
func (r *LedgerRepository) RebuildBalances(ctx context.Context) (n int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rebuild balances: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM student_balances`); err != nil {
		return 0, fmt.Errorf("clear balances: %w", err)
	}
	result, err := tx.ExecContext(ctx, `INSERT INTO student_balances (student_id, bimester, lxc_total, updated_at)
SELECT student_id, bimester, SUM(amount), NOW() FROM ledger_transactions GROUP BY student_id, bimester`)
	if err != nil {
		return 0, fmt.Errorf("rebuild balances: %w", err)
	}
	n, _ = result.RowsAffected()
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rebuild balances: %w", err)
	}
	return n, nil
}
