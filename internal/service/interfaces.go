package service

import (
	"context"
	"time"

	"github.com/tokengen/tokengen-bot/internal/models"
	"github.com/tokengen/tokengen-bot/internal/token"
)

// AccountStore is the ledger surface the services need. The repository
// package implements it over MySQL; tests substitute an in-memory fake.
type AccountStore interface {
	Ensure(ctx context.Context, telegramID int64, username, firstName string) (*models.Account, bool, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error)
	DebitBalance(ctx context.Context, accountID int64, amount int) (bool, error)
	CreditBalance(ctx context.Context, accountID int64, amount int) error
	ConsumeFreeQuota(ctx context.Context, accountID int64, day time.Time, limit int) (bool, error)
	RefundFreeQuota(ctx context.Context, accountID int64, day time.Time) error
	ResetFreeQuotaIfStale(ctx context.Context, accountID int64, day time.Time) (bool, error)
	RecordIssued(ctx context.Context, accountID int64) error
}

// GenerationLog appends issuance audit records.
type GenerationLog interface {
	Append(ctx context.Context, rec *models.GenerationRecord) error
}

// PaymentLog records reconciled payments with transaction-id
// idempotency.
type PaymentLog interface {
	FindByTransactionID(ctx context.Context, txnID string) (*models.PaymentRecord, error)
	Apply(ctx context.Context, rec *models.PaymentRecord) (bool, error)
}

// TokenSource produces token payloads. *token.Generator is the real
// implementation.
type TokenSource interface {
	APIKey(length int, prefix, suffix string) (string, error)
	JWT(claims map[string]string, expiryHours int) (string, error)
	UUID(version int) (string, error)
	Custom(p token.CustomParams) (string, error)
	Bulk() (string, error)
}
