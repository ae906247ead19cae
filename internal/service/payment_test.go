package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tokengen/tokengen-bot/internal/models"
)

func TestReconcileGrantsPackageCredits(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(100, 0, 0, time.Now())
	svc := NewPaymentService(store, newFakePaymentLog(store))

	res, err := svc.Reconcile(ctx, 100, "txn-1", 100)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Duplicate {
		t.Error("first delivery flagged duplicate")
	}
	if res.CreditsGranted != 250 {
		t.Errorf("granted %d for 100 stars, want 250", res.CreditsGranted)
	}
	if res.NewBalance != 250 {
		t.Errorf("new balance = %d, want 250", res.NewBalance)
	}
	if store.balanceOf(100) != 250 {
		t.Errorf("stored balance = %d, want 250", store.balanceOf(100))
	}
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(200, 0, 0, time.Now())
	svc := NewPaymentService(store, newFakePaymentLog(store))

	if _, err := svc.Reconcile(ctx, 200, "txn-dup", 100); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	res, err := svc.Reconcile(ctx, 200, "txn-dup", 100)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if !res.Duplicate {
		t.Error("redelivery not flagged duplicate")
	}
	if res.CreditsGranted != 250 {
		t.Errorf("duplicate reports %d granted, want the original 250", res.CreditsGranted)
	}
	if store.balanceOf(200) != 250 {
		t.Errorf("balance double-credited: %d", store.balanceOf(200))
	}
}

func TestReconcileFallbackRate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(300, 0, 0, time.Now())
	svc := NewPaymentService(store, newFakePaymentLog(store))

	// 77 stars is not a listed package; rate fallback is 2 credits per star
	res, err := svc.Reconcile(ctx, 300, "txn-odd", 77)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.CreditsGranted != 154 {
		t.Errorf("granted %d for 77 stars, want 154", res.CreditsGranted)
	}
}

func TestReconcileLostInsertRace(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	acct := store.seed(400, 0, 0, time.Now())
	payments := newFakePaymentLog(store)
	svc := NewPaymentService(store, payments)

	// another delivery wins the insert between our lookup and apply
	won, err := payments.Apply(ctx, &models.PaymentRecord{
		AccountID:      acct.ID,
		StarsAmount:    50,
		CreditsGranted: 100,
		TransactionID:  "txn-race",
		Status:         "completed",
	})
	if err != nil || !won {
		t.Fatalf("seeding winner: won=%v err=%v", won, err)
	}

	res, err := svc.Reconcile(ctx, 400, "txn-race", 50)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Duplicate {
		t.Error("lost race not flagged duplicate")
	}
	if res.CreditsGranted != 100 {
		t.Errorf("granted %d, want the winner's 100", res.CreditsGranted)
	}
	if res.NewBalance != 100 {
		t.Errorf("new balance = %d, want 100", res.NewBalance)
	}
	if store.balanceOf(400) != 100 {
		t.Errorf("balance = %d, credited twice", store.balanceOf(400))
	}
}

func TestReconcileStoreDown(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.err = errors.New("connection refused")
	svc := NewPaymentService(store, newFakePaymentLog(store))

	if _, err := svc.Reconcile(ctx, 500, "txn-x", 50); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
