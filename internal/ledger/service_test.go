package ledger

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type stubRepo struct {
	entries []models.LedgerEntry
	wallets map[uuid.UUID]*models.Wallet

	failCreate error
	skipDelta  bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{wallets: map[uuid.UUID]*models.Wallet{}}
}

func (r *stubRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubRepo) Create(ctx context.Context, entry *models.LedgerEntry) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *stubRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubRepo) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range r.entries {
		if e.OrderID != nil && *e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubRepo) HasEntry(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (bool, error) {
	for _, e := range r.entries {
		if e.OrderID != nil && *e.OrderID == orderID && e.Type == entryType {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRepo) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, ok := r.wallets[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *w
	return &copied, nil
}

func (r *stubRepo) ApplyWalletDelta(ctx context.Context, userID uuid.UUID, delta WalletDelta) error {
	if r.skipDelta {
		return nil
	}
	w, ok := r.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID}
		r.wallets[userID] = w
	}
	w.AvailableCents += delta.AvailableCents
	w.PendingCents += delta.PendingCents
	w.LifetimeEarnedCents += delta.LifetimeEarnedCents
	w.LifetimeSpentCents += delta.LifetimeSpentCents
	return nil
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(repo, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAppendValidatesInput(t *testing.T) {
	svc := newTestService(t, newStubRepo())
	ctx := context.Background()
	userID := uuid.New()

	cases := []struct {
		name  string
		input AppendInput
	}{
		{"missing user", AppendInput{Type: enums.LedgerEntryTypeCredit, AmountCents: 100}},
		{"unknown type", AppendInput{UserID: userID, Type: "bogus", AmountCents: 100}},
		{"zero amount", AppendInput{UserID: userID, Type: enums.LedgerEntryTypeCredit, AmountCents: 0}},
		{"negative credit", AppendInput{UserID: userID, Type: enums.LedgerEntryTypeCredit, AmountCents: -100}},
		{"negative refund", AppendInput{UserID: userID, Type: enums.LedgerEntryTypeRefund, AmountCents: -5}},
		{"positive debit", AppendInput{UserID: userID, Type: enums.LedgerEntryTypeDebit, AmountCents: 100}},
		{"positive payout", AppendInput{UserID: userID, Type: enums.LedgerEntryTypePayout, AmountCents: 100}},
		{"negative release", AppendInput{UserID: userID, Type: enums.LedgerEntryTypeEscrowRelease, AmountCents: -1}},
	}
	for _, tc := range cases {
		if _, err := svc.Append(ctx, nil, tc.input); !apperrors.IsCode(err, apperrors.CodeValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestAppendUpdatesWalletInLockstep(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	userID := uuid.New()
	orderID := uuid.New()

	steps := []AppendInput{
		{UserID: userID, Type: enums.LedgerEntryTypeCredit, AmountCents: 10_000},
		{UserID: userID, Type: enums.LedgerEntryTypeEscrowHold, AmountCents: 2_500, OrderID: &orderID},
		{UserID: userID, Type: enums.LedgerEntryTypeEscrowRelease, AmountCents: 2_500, OrderID: &orderID},
		{UserID: userID, Type: enums.LedgerEntryTypeDebit, AmountCents: -1_000},
	}
	for _, step := range steps {
		if _, err := svc.Append(ctx, nil, step); err != nil {
			t.Fatalf("Append(%s): %v", step.Type, err)
		}
	}

	wallet, err := svc.WalletOf(ctx, userID)
	if err != nil {
		t.Fatalf("WalletOf: %v", err)
	}
	if wallet.AvailableCents != 11_500 {
		t.Errorf("available = %d, want 11500", wallet.AvailableCents)
	}
	if wallet.PendingCents != 0 {
		t.Errorf("pending = %d, want 0", wallet.PendingCents)
	}
	if wallet.LifetimeEarnedCents != 2_500 {
		t.Errorf("lifetime earned = %d, want 2500", wallet.LifetimeEarnedCents)
	}
	if wallet.LifetimeSpentCents != 1_000 {
		t.Errorf("lifetime spent = %d, want 1000", wallet.LifetimeSpentCents)
	}

	if err := svc.VerifyWallet(ctx, userID); err != nil {
		t.Errorf("VerifyWallet: %v", err)
	}
}

func TestFoldMatchesIncrementalDeltas(t *testing.T) {
	userID := uuid.New()
	entries := []models.LedgerEntry{
		{UserID: userID, Type: enums.LedgerEntryTypeCredit, AmountCents: 5_000},
		{UserID: userID, Type: enums.LedgerEntryTypeEscrowHold, AmountCents: 3_000},
		{UserID: userID, Type: enums.LedgerEntryTypeEscrowHold, AmountCents: -3_000},
		{UserID: userID, Type: enums.LedgerEntryTypeRefund, AmountCents: 750},
		{UserID: userID, Type: enums.LedgerEntryTypePayout, AmountCents: -2_000},
	}
	got := Fold(entries)
	want := Balance{AvailableCents: 3_750, PendingCents: 0, LifetimeSpentCents: 2_000}
	if got != want {
		t.Errorf("Fold = %+v, want %+v", got, want)
	}
}

func TestEscrowReversalZeroesPending(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	userID := uuid.New()
	orderID := uuid.New()

	hold := AppendInput{UserID: userID, Type: enums.LedgerEntryTypeEscrowHold, AmountCents: 4_200, OrderID: &orderID}
	if _, err := svc.Append(ctx, nil, hold); err != nil {
		t.Fatalf("hold: %v", err)
	}
	reverse := AppendInput{UserID: userID, Type: enums.LedgerEntryTypeEscrowHold, AmountCents: -4_200, OrderID: &orderID}
	if _, err := svc.Append(ctx, nil, reverse); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	balance, err := svc.BalanceOf(ctx, userID)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if balance.PendingCents != 0 || balance.AvailableCents != 0 {
		t.Errorf("balance after reversal = %+v, want zeroes", balance)
	}
}

func TestVerifyWalletDetectsDrift(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Append(ctx, nil, AppendInput{UserID: userID, Type: enums.LedgerEntryTypeCredit, AmountCents: 1_000}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate a wallet update that went missing.
	repo.skipDelta = true
	if _, err := svc.Append(ctx, nil, AppendInput{UserID: userID, Type: enums.LedgerEntryTypeCredit, AmountCents: 500}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	err := svc.VerifyWallet(ctx, userID)
	if !apperrors.IsCode(err, apperrors.CodeInvariant) {
		t.Errorf("expected invariant violation, got %v", err)
	}
}

func TestHasEntryScopedToOrderAndType(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	userID := uuid.New()
	orderID := uuid.New()

	if _, err := svc.Append(ctx, nil, AppendInput{UserID: userID, Type: enums.LedgerEntryTypeEscrowHold, AmountCents: 100, OrderID: &orderID}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	found, err := svc.HasEntry(ctx, nil, orderID, enums.LedgerEntryTypeEscrowHold)
	if err != nil || !found {
		t.Errorf("HasEntry(hold) = %v, %v; want true", found, err)
	}
	found, err = svc.HasEntry(ctx, nil, orderID, enums.LedgerEntryTypeEscrowRelease)
	if err != nil || found {
		t.Errorf("HasEntry(release) = %v, %v; want false", found, err)
	}
	found, err = svc.HasEntry(ctx, nil, uuid.New(), enums.LedgerEntryTypeEscrowHold)
	if err != nil || found {
		t.Errorf("HasEntry(other order) = %v, %v; want false", found, err)
	}
}
