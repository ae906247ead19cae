package models

import "time"

type TokenKind string

const (
	KindAPIKey TokenKind = "api_key"
	KindJWT    TokenKind = "jwt"
	KindUUID   TokenKind = "uuid"
	KindCustom TokenKind = "custom"
	KindBulk   TokenKind = "bulk"
)

// Valid reports whether the kind is one of the supported token kinds.
func (k TokenKind) Valid() bool {
	switch k {
	case KindAPIKey, KindJWT, KindUUID, KindCustom, KindBulk:
		return true
	}
	return false
}

type FundingSource string

const (
	FundingFree FundingSource = "free"
	FundingPaid FundingSource = "paid"
)

// Account is the durable per-user ledger record. Balance never goes
// negative; the conditional debit query enforces that at the store level.
type Account struct {
	ID              int64
	TelegramID      int64
	Username        string
	FirstName       string
	Balance         int
	FreeUsedToday   int
	FreeResetDate   time.Time
	TokensGenerated int64
	CreatedAt       time.Time
	LastActive      time.Time
}

// EffectiveFreeUsed returns the free-quota usage for the calendar day of
// now (UTC). A reset date before today means the stored counter is stale
// and counts as zero; persisting the reset happens separately through a
// conditional write so concurrent readers cannot lose updates.
func EffectiveFreeUsed(a *Account, now time.Time) int {
	if a == nil {
		return 0
	}
	if DayUTC(a.FreeResetDate).Before(DayUTC(now)) {
		return 0
	}
	return a.FreeUsedToday
}

// DayUTC truncates t to midnight UTC.
func DayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GenerationRecord is an append-only audit entry for one issued token.
// ChargedCredits is 0 when the free quota paid for the issuance.
type GenerationRecord struct {
	ID             int64
	AccountID      int64
	Kind           TokenKind
	ChargedCredits int
	Funding        FundingSource
	TokenPreview   string
	CreatedAt      time.Time
}

// PaymentRecord is an append-only audit entry for one reconciled payment.
// TransactionID is unique; re-delivered confirmations map onto the
// existing row instead of crediting twice.
type PaymentRecord struct {
	ID             int64
	AccountID      int64
	StarsAmount    int
	CreditsGranted int
	TransactionID  string
	Status         string
	CreatedAt      time.Time
}
