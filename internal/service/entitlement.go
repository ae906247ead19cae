package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tokengen/tokengen-bot/internal/models"
	"github.com/tokengen/tokengen-bot/internal/pricing"
	"github.com/tokengen/tokengen-bot/internal/token"
)

const previewLimit = 50

// IssueParams carries the per-kind parameters a conversation collected.
type IssueParams struct {
	Custom         token.CustomParams
	JWTClaims      map[string]string
	JWTExpiryHours int
	UUIDVersion    int
}

// IssuedToken is the result of a successful issuance.
type IssuedToken struct {
	Kind           models.TokenKind
	Value          string
	Funding        models.FundingSource
	ChargedCredits int
	BalanceAfter   int
	FreeLeftToday  int
	FundingNote    string

	// AuditErr is set when the issuance succeeded but the audit record
	// could not be appended. The token was delivered and the charge
	// stands; the transport should log it.
	AuditErr error
}

// EntitlementService decides whether an issuance is allowed, which
// funding source pays, and performs the debit atomically with
// generation. Concurrent requests for one user are serialized with a
// per-user lock; the conditional store updates are the backstop.
type EntitlementService struct {
	accounts       AccountStore
	generations    GenerationLog
	tokens         TokenSource
	freeDailyLimit int
	now            func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewEntitlementService(accounts AccountStore, generations GenerationLog, tokens TokenSource, freeDailyLimit int) *EntitlementService {
	if freeDailyLimit <= 0 {
		freeDailyLimit = pricing.FreeDailyLimit
	}
	return &EntitlementService{
		accounts:       accounts,
		generations:    generations,
		tokens:         tokens,
		freeDailyLimit: freeDailyLimit,
		now:            time.Now,
		locks:          make(map[int64]*sync.Mutex),
	}
}

func (s *EntitlementService) userLock(telegramID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[telegramID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[telegramID] = l
	}
	return l
}

// TryIssue funds and generates one token for the user. Free quota is
// preferred over paid balance whenever the kind qualifies and slots
// remain today. If generation fails after funding was reserved, the
// funding is rolled back before the error surfaces.
func (s *EntitlementService) TryIssue(ctx context.Context, telegramID int64, kind models.TokenKind, params IssueParams) (*IssuedToken, error) {
	if !kind.Valid() {
		return nil, &token.ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported token kind %q", kind)}
	}
	if kind == models.KindCustom && params.Custom.Length <= 0 {
		return nil, &token.ValidationError{Field: "length", Reason: "must be positive"}
	}

	lock := s.userLock(telegramID)
	lock.Lock()
	defer lock.Unlock()

	account, _, err := s.accounts.Ensure(ctx, telegramID, "", "")
	if err != nil {
		return nil, storeErr(err)
	}

	now := s.now().UTC()
	effectiveUsed := models.EffectiveFreeUsed(account, now)
	cost := s.cost(kind, params)

	funding := models.FundingPaid
	charged := cost
	if effectiveUsed < s.freeDailyLimit && pricing.FreeQuotaEligible(kind) {
		ok, err := s.accounts.ConsumeFreeQuota(ctx, account.ID, now, s.freeDailyLimit)
		if err != nil {
			return nil, storeErr(err)
		}
		if ok {
			funding = models.FundingFree
			charged = 0
			effectiveUsed++
		}
	}

	if funding == models.FundingPaid {
		if models.DayUTC(account.FreeResetDate).Before(models.DayUTC(now)) {
			// opportunistic persist of the lazy daily reset
			_, _ = s.accounts.ResetFreeQuotaIfStale(ctx, account.ID, now)
		}
		ok, err := s.accounts.DebitBalance(ctx, account.ID, cost)
		if err != nil {
			return nil, storeErr(err)
		}
		if !ok {
			return nil, &InsufficientCreditsError{Cost: cost, Balance: account.Balance}
		}
		account.Balance -= cost
	}

	value, genErr := s.generate(kind, params)
	if genErr != nil {
		if rbErr := s.rollbackFunding(ctx, account.ID, funding, charged, now); rbErr != nil {
			return nil, fmt.Errorf("%w: %v (rollback failed: %v)", ErrGenerationFailed, genErr, rbErr)
		}
		var vErr *token.ValidationError
		if errors.As(genErr, &vErr) {
			return nil, genErr
		}
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, genErr)
	}

	issued := &IssuedToken{
		Kind:           kind,
		Value:          value,
		Funding:        funding,
		ChargedCredits: charged,
		BalanceAfter:   account.Balance,
		FreeLeftToday:  s.freeDailyLimit - effectiveUsed,
	}
	if funding == models.FundingFree {
		issued.FundingNote = fmt.Sprintf("free quota (%d of %d left today)", issued.FreeLeftToday, s.freeDailyLimit)
	} else {
		issued.FundingNote = fmt.Sprintf("balance (%d credits, %d left)", charged, issued.BalanceAfter)
	}

	rec := &models.GenerationRecord{
		AccountID:      account.ID,
		Kind:           kind,
		ChargedCredits: charged,
		Funding:        funding,
		TokenPreview:   preview(kind, value),
	}
	if err := s.generations.Append(ctx, rec); err != nil {
		issued.AuditErr = err
	} else if err := s.accounts.RecordIssued(ctx, account.ID); err != nil {
		issued.AuditErr = err
	}

	return issued, nil
}

func (s *EntitlementService) cost(kind models.TokenKind, params IssueParams) int {
	if kind == models.KindCustom {
		return pricing.CustomCost(params.Custom.Length, params.Custom.Special)
	}
	return pricing.Cost(kind)
}

func (s *EntitlementService) generate(kind models.TokenKind, params IssueParams) (string, error) {
	switch kind {
	case models.KindAPIKey:
		return s.tokens.APIKey(token.DefaultLength, "", "")
	case models.KindJWT:
		hours := params.JWTExpiryHours
		if hours == 0 {
			hours = 24
		}
		return s.tokens.JWT(params.JWTClaims, hours)
	case models.KindUUID:
		return s.tokens.UUID(params.UUIDVersion)
	case models.KindCustom:
		return s.tokens.Custom(params.Custom)
	case models.KindBulk:
		return s.tokens.Bulk()
	default:
		return "", &token.ValidationError{Field: "kind", Reason: "unsupported"}
	}
}

func (s *EntitlementService) rollbackFunding(ctx context.Context, accountID int64, funding models.FundingSource, charged int, day time.Time) error {
	if funding == models.FundingFree {
		return s.accounts.RefundFreeQuota(ctx, accountID, day)
	}
	return s.accounts.CreditBalance(ctx, accountID, charged)
}

func preview(kind models.TokenKind, value string) string {
	if kind == models.KindBulk {
		return "bulk"
	}
	if len(value) > previewLimit {
		return value[:previewLimit] + "..."
	}
	return value
}
