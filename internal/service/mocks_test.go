package service

import (
	"context"
	"sync"
	"time"

	"github.com/tokengen/tokengen-bot/internal/models"
	"github.com/tokengen/tokengen-bot/internal/token"
)

// fakeStore is an in-memory AccountStore with the same conditional
// semantics as the MySQL repository.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
	nextID   int64

	// err, when set, makes every operation fail.
	err error
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[int64]*models.Account)}
}

func (f *fakeStore) seed(telegramID int64, balance int, freeUsed int, resetDay time.Time) *models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a := &models.Account{
		ID:            f.nextID,
		TelegramID:    telegramID,
		Balance:       balance,
		FreeUsedToday: freeUsed,
		FreeResetDate: models.DayUTC(resetDay),
	}
	f.accounts[telegramID] = a
	return a
}

func (f *fakeStore) byID(accountID int64) *models.Account {
	for _, a := range f.accounts {
		if a.ID == accountID {
			return a
		}
	}
	return nil
}

func (f *fakeStore) Ensure(_ context.Context, telegramID int64, username, firstName string) (*models.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if a, ok := f.accounts[telegramID]; ok {
		copied := *a
		return &copied, false, nil
	}
	f.nextID++
	a := &models.Account{
		ID:            f.nextID,
		TelegramID:    telegramID,
		Username:      username,
		FirstName:     firstName,
		FreeResetDate: models.DayUTC(time.Now()),
	}
	f.accounts[telegramID] = a
	copied := *a
	return &copied, true, nil
}

func (f *fakeStore) FindByTelegramID(_ context.Context, telegramID int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.accounts[telegramID]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) DebitBalance(_ context.Context, accountID int64, amount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	a := f.byID(accountID)
	if a == nil || a.Balance < amount {
		return false, nil
	}
	a.Balance -= amount
	return true, nil
}

func (f *fakeStore) CreditBalance(_ context.Context, accountID int64, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if a := f.byID(accountID); a != nil {
		a.Balance += amount
	}
	return nil
}

func (f *fakeStore) ConsumeFreeQuota(_ context.Context, accountID int64, day time.Time, limit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	a := f.byID(accountID)
	if a == nil {
		return false, nil
	}
	d := models.DayUTC(day)
	if a.FreeResetDate.Before(d) {
		a.FreeUsedToday = 1
		a.FreeResetDate = d
		return true, nil
	}
	if a.FreeUsedToday < limit {
		a.FreeUsedToday++
		a.FreeResetDate = d
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) RefundFreeQuota(_ context.Context, accountID int64, day time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	a := f.byID(accountID)
	if a != nil && a.FreeResetDate.Equal(models.DayUTC(day)) && a.FreeUsedToday > 0 {
		a.FreeUsedToday--
	}
	return nil
}

func (f *fakeStore) ResetFreeQuotaIfStale(_ context.Context, accountID int64, day time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	a := f.byID(accountID)
	d := models.DayUTC(day)
	if a != nil && a.FreeResetDate.Before(d) {
		a.FreeUsedToday = 0
		a.FreeResetDate = d
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) RecordIssued(_ context.Context, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if a := f.byID(accountID); a != nil {
		a.TokensGenerated++
	}
	return nil
}

func (f *fakeStore) balanceOf(telegramID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[telegramID]; ok {
		return a.Balance
	}
	return 0
}

func (f *fakeStore) freeUsedOf(telegramID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[telegramID]; ok {
		return a.FreeUsedToday
	}
	return 0
}

// fakeGenerationLog records appended audit rows.
type fakeGenerationLog struct {
	mu      sync.Mutex
	records []*models.GenerationRecord
	err     error
}

func (f *fakeGenerationLog) Append(_ context.Context, rec *models.GenerationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	copied := *rec
	f.records = append(f.records, &copied)
	return nil
}

func (f *fakeGenerationLog) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakePaymentLog applies payments against the fakeStore atomically,
// enforcing transaction-id uniqueness like the real table does.
type fakePaymentLog struct {
	mu      sync.Mutex
	store   *fakeStore
	records map[string]*models.PaymentRecord
	err     error
}

func newFakePaymentLog(store *fakeStore) *fakePaymentLog {
	return &fakePaymentLog{store: store, records: make(map[string]*models.PaymentRecord)}
}

func (f *fakePaymentLog) FindByTransactionID(_ context.Context, txnID string) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if rec, ok := f.records[txnID]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (f *fakePaymentLog) Apply(ctx context.Context, rec *models.PaymentRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.records[rec.TransactionID]; ok {
		return false, nil
	}
	copied := *rec
	f.records[rec.TransactionID] = &copied
	f.store.mu.Lock()
	if a := f.store.byID(rec.AccountID); a != nil {
		a.Balance += rec.CreditsGranted
	}
	f.store.mu.Unlock()
	return true, nil
}

// fakeTokens returns canned values and can be told to fail, to exercise
// the post-funding rollback path.
type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) value(kind string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return kind + "-token", nil
}

func (f *fakeTokens) APIKey(length int, prefix, suffix string) (string, error) {
	return f.value("api")
}

func (f *fakeTokens) JWT(claims map[string]string, expiryHours int) (string, error) {
	return f.value("jwt")
}

func (f *fakeTokens) UUID(version int) (string, error) { return f.value("uuid") }

func (f *fakeTokens) Custom(p token.CustomParams) (string, error) { return f.value("custom") }

func (f *fakeTokens) Bulk() (string, error) { return f.value("bulk") }
