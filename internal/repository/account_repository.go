package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tokengen/tokengen-bot/internal/models"
)

const dayFormat = "2006-01-02"

// AccountRepository owns the accounts table. Balance and free-quota
// mutations are conditional updates so concurrent issuers cannot
// overdraw an account or lose a daily reset.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error) {
	const query = `
SELECT id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), balance, free_used_today, free_reset_date, tokens_generated, created_at, last_active
FROM accounts WHERE telegram_id = ?`
	row := r.db.QueryRowContext(ctx, query, telegramID)
	var a models.Account
	if err := row.Scan(&a.ID, &a.TelegramID, &a.Username, &a.FirstName, &a.Balance, &a.FreeUsedToday, &a.FreeResetDate, &a.TokensGenerated, &a.CreatedAt, &a.LastActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	const query = `
INSERT INTO accounts (telegram_id, username, first_name, balance, free_used_today, free_reset_date)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, account.TelegramID, account.Username, account.FirstName, account.Balance, account.FreeUsedToday, account.FreeResetDate.Format(dayFormat))
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	account.ID = id
	return account, nil
}

// Ensure returns the account for telegramID, creating it with a zero
// balance on first contact.
func (r *AccountRepository) Ensure(ctx context.Context, telegramID int64, username, firstName string) (*models.Account, bool, error) {
	account, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		return account, false, nil
	}
	created, err := r.Create(ctx, &models.Account{
		TelegramID:    telegramID,
		Username:      username,
		FirstName:     firstName,
		FreeResetDate: models.DayUTC(time.Now()),
	})
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// DebitBalance subtracts amount only while the balance covers it and
// reports whether a row changed.
func (r *AccountRepository) DebitBalance(ctx context.Context, accountID int64, amount int) (bool, error) {
	const query = `
UPDATE accounts SET balance = balance - ?, last_active = NOW()
WHERE id = ? AND balance >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, accountID, amount)
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *AccountRepository) CreditBalance(ctx context.Context, accountID int64, amount int) error {
	const query = `UPDATE accounts SET balance = balance + ?, last_active = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, amount, accountID); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// ConsumeFreeQuota takes one free-quota slot for the given UTC day. A
// stale reset date counts as zero used, so the same statement performs
// the lazy daily reset and the consumption; SET assignments evaluate
// left to right, so free_used_today still sees the old reset date.
func (r *AccountRepository) ConsumeFreeQuota(ctx context.Context, accountID int64, day time.Time, limit int) (bool, error) {
	d := models.DayUTC(day).Format(dayFormat)
	const query = `
UPDATE accounts
SET free_used_today = IF(free_reset_date < ?, 1, free_used_today + 1),
    free_reset_date = ?,
    last_active = NOW()
WHERE id = ? AND (free_reset_date < ? OR free_used_today < ?)`
	res, err := r.db.ExecContext(ctx, query, d, d, accountID, d, limit)
	if err != nil {
		return false, fmt.Errorf("consume free quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("free quota rows affected: %w", err)
	}
	return affected > 0, nil
}

// RefundFreeQuota gives back one slot taken earlier the same day. The
// reset-date guard keeps a refund from leaking across a day boundary.
func (r *AccountRepository) RefundFreeQuota(ctx context.Context, accountID int64, day time.Time) error {
	const query = `
UPDATE accounts SET free_used_today = GREATEST(free_used_today - 1, 0)
WHERE id = ? AND free_reset_date = ?`
	if _, err := r.db.ExecContext(ctx, query, accountID, models.DayUTC(day).Format(dayFormat)); err != nil {
		return fmt.Errorf("refund free quota: %w", err)
	}
	return nil
}

// ResetFreeQuotaIfStale persists the lazy daily reset. The WHERE clause
// makes concurrent first-reads of the day race harmlessly: only one
// update wins, the rest match zero rows.
func (r *AccountRepository) ResetFreeQuotaIfStale(ctx context.Context, accountID int64, day time.Time) (bool, error) {
	d := models.DayUTC(day).Format(dayFormat)
	const query = `
UPDATE accounts SET free_used_today = 0, free_reset_date = ?
WHERE id = ? AND free_reset_date < ?`
	res, err := r.db.ExecContext(ctx, query, d, accountID, d)
	if err != nil {
		return false, fmt.Errorf("reset free quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordIssued bumps the lifetime counter after a successful issuance.
func (r *AccountRepository) RecordIssued(ctx context.Context, accountID int64) error {
	const query = `UPDATE accounts SET tokens_generated = tokens_generated + 1, last_active = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("record issued: %w", err)
	}
	return nil
}

func (r *AccountRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_id FROM accounts`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}
