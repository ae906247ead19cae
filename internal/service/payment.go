package service

import (
	"context"

	"github.com/tokengen/tokengen-bot/internal/models"
	"github.com/tokengen/tokengen-bot/internal/pricing"
)

// PaymentService reconciles payment confirmations into credit grants,
// exactly once per transaction id.
type PaymentService struct {
	accounts AccountStore
	payments PaymentLog
}

func NewPaymentService(accounts AccountStore, payments PaymentLog) *PaymentService {
	return &PaymentService{accounts: accounts, payments: payments}
}

// ReconcileResult reports the grant for confirmation messaging.
type ReconcileResult struct {
	CreditsGranted int
	NewBalance     int
	Duplicate      bool
}

// Reconcile maps a stars payment onto a credit grant and applies it.
// Re-delivered confirmations (same transaction id) return the prior
// grant without touching the balance again.
func (s *PaymentService) Reconcile(ctx context.Context, telegramID int64, txnID string, stars int) (*ReconcileResult, error) {
	account, _, err := s.accounts.Ensure(ctx, telegramID, "", "")
	if err != nil {
		return nil, storeErr(err)
	}

	if existing, err := s.payments.FindByTransactionID(ctx, txnID); err != nil {
		return nil, storeErr(err)
	} else if existing != nil {
		return &ReconcileResult{
			CreditsGranted: existing.CreditsGranted,
			NewBalance:     account.Balance,
			Duplicate:      true,
		}, nil
	}

	credits := pricing.CreditsForStars(stars)
	rec := &models.PaymentRecord{
		AccountID:      account.ID,
		StarsAmount:    stars,
		CreditsGranted: credits,
		TransactionID:  txnID,
		Status:         "completed",
	}
	created, err := s.payments.Apply(ctx, rec)
	if err != nil {
		return nil, storeErr(err)
	}
	if !created {
		// lost a delivery race; the winner already credited
		existing, err := s.payments.FindByTransactionID(ctx, txnID)
		if err != nil {
			return nil, storeErr(err)
		}
		granted := credits
		if existing != nil {
			granted = existing.CreditsGranted
		}
		current, err := s.accounts.FindByTelegramID(ctx, telegramID)
		if err != nil {
			return nil, storeErr(err)
		}
		balance := account.Balance
		if current != nil {
			balance = current.Balance
		}
		return &ReconcileResult{CreditsGranted: granted, NewBalance: balance, Duplicate: true}, nil
	}

	return &ReconcileResult{
		CreditsGranted: credits,
		NewBalance:     account.Balance + credits,
	}, nil
}
