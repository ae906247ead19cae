package service

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks a transient ledger failure. Callers may
// retry; it is never conflated with an insufficient balance.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

// ErrGenerationFailed marks a generator failure after funding was
// already reserved. TryIssue rolls the funding back before returning it.
var ErrGenerationFailed = errors.New("token generation failed after funding")

// InsufficientCreditsError carries the shortfall so the transport can
// render an actionable message.
type InsufficientCreditsError struct {
	Cost    int
	Balance int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Cost, e.Balance)
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
