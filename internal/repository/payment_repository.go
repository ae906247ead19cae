package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/tokengen/tokengen-bot/internal/models"
)

const mysqlDuplicateEntry = 1062

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, txnID string) (*models.PaymentRecord, error) {
	const query = `
SELECT id, account_id, stars_amount, credits_granted, transaction_id, status, created_at
FROM payments WHERE transaction_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, txnID)
	var p models.PaymentRecord
	if err := row.Scan(&p.ID, &p.AccountID, &p.StarsAmount, &p.CreditsGranted, &p.TransactionID, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// Apply records the payment and credits the balance in one transaction.
// The UNIQUE key on transaction_id closes the race between concurrent
// deliveries of the same confirmation: the loser's insert fails with a
// duplicate entry and Apply reports created=false without crediting.
func (r *PaymentRepository) Apply(ctx context.Context, rec *models.PaymentRecord) (created bool, err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
INSERT INTO payments (account_id, stars_amount, credits_granted, transaction_id, status)
VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, insert, rec.AccountID, rec.StarsAmount, rec.CreditsGranted, rec.TransactionID, rec.Status)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return false, nil
		}
		return false, fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id

	const credit = `UPDATE accounts SET balance = balance + ?, last_active = NOW() WHERE id = ?`
	if _, err := tx.ExecContext(ctx, credit, rec.CreditsGranted, rec.AccountID); err != nil {
		return false, fmt.Errorf("credit balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment tx: %w", err)
	}
	return true, nil
}

// Totals reports payment count and stars volume for the stats surface.
func (r *PaymentRepository) Totals(ctx context.Context) (count int64, stars int64, err error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(stars_amount), 0) FROM payments`
	if err := r.db.QueryRowContext(ctx, query).Scan(&count, &stars); err != nil {
		return 0, 0, fmt.Errorf("payment totals: %w", err)
	}
	return count, stars, nil
}
