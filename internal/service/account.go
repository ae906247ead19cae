package service

import (
	"context"
	"time"

	"github.com/tokengen/tokengen-bot/internal/models"
)

type AccountService struct {
	accounts       AccountStore
	freeDailyLimit int
	now            func() time.Time
}

func NewAccountService(accounts AccountStore, freeDailyLimit int) *AccountService {
	return &AccountService{accounts: accounts, freeDailyLimit: freeDailyLimit, now: time.Now}
}

// AccountSummary is the synchronous status surface used by /mycredits
// and the admin server.
type AccountSummary struct {
	Balance             int   `json:"balance"`
	FreeTokensLeftToday int   `json:"free_tokens_left_today"`
	TotalGenerated      int64 `json:"total_generated"`
}

func (s *AccountService) Ensure(ctx context.Context, telegramID int64, username, firstName string) (*models.Account, bool, error) {
	account, created, err := s.accounts.Ensure(ctx, telegramID, username, firstName)
	if err != nil {
		return nil, false, storeErr(err)
	}
	return account, created, nil
}

func (s *AccountService) Summary(ctx context.Context, telegramID int64) (*AccountSummary, error) {
	account, _, err := s.accounts.Ensure(ctx, telegramID, "", "")
	if err != nil {
		return nil, storeErr(err)
	}
	used := models.EffectiveFreeUsed(account, s.now().UTC())
	left := s.freeDailyLimit - used
	if left < 0 {
		left = 0
	}
	return &AccountSummary{
		Balance:             account.Balance,
		FreeTokensLeftToday: left,
		TotalGenerated:      account.TokensGenerated,
	}, nil
}
