package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

// AppendInput describes one ledger entry to record. Amount is signed:
// positive entries add money to a balance, negative entries remove it.
type AppendInput struct {
	UserID      uuid.UUID
	Type        enums.LedgerEntryType
	AmountCents int
	OrderID     *uuid.UUID
	ExternalRef *string
}

// Balance is the result of folding a user's ledger entries in order.
type Balance struct {
	AvailableCents      int
	PendingCents        int
	LifetimeEarnedCents int
	LifetimeSpentCents  int
}

// Service owns the append-only ledger and the materialized wallet rows.
// Every append updates the wallet in the same transaction so the two can
// never drift outside of a bug, and VerifyWallet exists to catch that bug.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.LedgerEntry, error)
	HasEntry(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, entryType enums.LedgerEntryType) (bool, error)
	EntriesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	EntriesForUser(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error)
	BalanceOf(ctx context.Context, userID uuid.UUID) (Balance, error)
	WalletOf(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	WalletInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error)
	VerifyWallet(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	repo Repository
	log  *logger.Logger
}

// NewService constructs the ledger service.
func NewService(repo Repository, log *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger: repository is required")
	}
	if log == nil {
		return nil, fmt.Errorf("ledger: logger is required")
	}
	return &service{repo: repo, log: log}, nil
}

// Append records a ledger entry and applies its wallet delta atomically.
// Callers already inside a transaction must pass it as tx so the entry and
// the wallet update commit or roll back with the rest of their work.
func (s *service) Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.LedgerEntry, error) {
	if err := validateAppend(input); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		UserID:      input.UserID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		OrderID:     input.OrderID,
		ExternalRef: input.ExternalRef,
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to record ledger entry")
	}
	if err := repo.ApplyWalletDelta(ctx, input.UserID, deltaFor(input.Type, input.AmountCents)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to update wallet")
	}

	ctx = s.log.WithUserID(ctx, input.UserID.String())
	s.log.Info(ctx, fmt.Sprintf("ledger entry %s recorded: %s %d", entry.ID, input.Type, input.AmountCents))
	return entry, nil
}

func (s *service) HasEntry(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, entryType enums.LedgerEntryType) (bool, error) {
	return s.repo.WithTx(tx).HasEntry(ctx, orderID, entryType)
}

func (s *service) EntriesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}

func (s *service) EntriesForUser(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// BalanceOf recomputes a user's balances from scratch by folding their
// entries in chronological order. The wallet row is the fast path; this is
// the source of truth.
func (s *service) BalanceOf(ctx context.Context, userID uuid.UUID) (Balance, error) {
	entries, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return Balance{}, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list ledger entries")
	}
	return Fold(entries), nil
}

func (s *service) WalletOf(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No entries yet means an empty wallet, not an error.
			return &models.Wallet{UserID: userID}, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load wallet")
	}
	return wallet, nil
}

// WalletInTx reads the wallet through an open transaction so callers can
// check the balance their own uncommitted appends produced.
func (s *service) WalletInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.WithTx(tx).GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Wallet{UserID: userID}, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load wallet")
	}
	return wallet, nil
}

// VerifyWallet folds the user's entries and compares the result against the
// materialized wallet row. A mismatch means an append skipped its wallet
// delta, which is a bug worth failing loudly on.
func (s *service) VerifyWallet(ctx context.Context, userID uuid.UUID) error {
	balance, err := s.BalanceOf(ctx, userID)
	if err != nil {
		return err
	}
	wallet, err := s.WalletOf(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.AvailableCents != balance.AvailableCents ||
		wallet.PendingCents != balance.PendingCents ||
		wallet.LifetimeEarnedCents != balance.LifetimeEarnedCents ||
		wallet.LifetimeSpentCents != balance.LifetimeSpentCents {
		return apperrors.New(apperrors.CodeInvariant, "wallet diverged from ledger fold").WithDetails(map[string]any{
			"user_id":          userID.String(),
			"wallet_available": wallet.AvailableCents,
			"fold_available":   balance.AvailableCents,
			"wallet_pending":   wallet.PendingCents,
			"fold_pending":     balance.PendingCents,
		})
	}
	return nil
}

// Fold replays entries against a zero balance. Entry order does not affect
// the final totals, but replaying chronologically keeps intermediate states
// meaningful when debugging.
func Fold(entries []models.LedgerEntry) Balance {
	var b Balance
	for _, entry := range entries {
		d := deltaFor(entry.Type, entry.AmountCents)
		b.AvailableCents += d.AvailableCents
		b.PendingCents += d.PendingCents
		b.LifetimeEarnedCents += d.LifetimeEarnedCents
		b.LifetimeSpentCents += d.LifetimeSpentCents
	}
	return b
}

func deltaFor(entryType enums.LedgerEntryType, amountCents int) WalletDelta {
	switch entryType {
	case enums.LedgerEntryTypeCredit, enums.LedgerEntryTypeRefund:
		return WalletDelta{AvailableCents: amountCents}
	case enums.LedgerEntryTypeDebit, enums.LedgerEntryTypePayout:
		// Stored negative; spending grows lifetime_spent by the magnitude.
		return WalletDelta{AvailableCents: amountCents, LifetimeSpentCents: -amountCents}
	case enums.LedgerEntryTypeEscrowHold:
		// Positive on hold, negative on an offsetting reversal.
		return WalletDelta{PendingCents: amountCents}
	case enums.LedgerEntryTypeEscrowRelease:
		// Money leaves pending and lands in available in one step.
		return WalletDelta{AvailableCents: amountCents, PendingCents: -amountCents, LifetimeEarnedCents: amountCents}
	default:
		return WalletDelta{}
	}
}

func validateAppend(input AppendInput) error {
	if input.UserID == uuid.Nil {
		return apperrors.New(apperrors.CodeValidation, "ledger entry requires a user")
	}
	if !input.Type.IsValid() {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown ledger entry type %q", input.Type))
	}
	if input.AmountCents == 0 {
		return apperrors.New(apperrors.CodeValidation, "ledger entry amount must be non-zero")
	}
	switch input.Type {
	case enums.LedgerEntryTypeCredit, enums.LedgerEntryTypeRefund, enums.LedgerEntryTypeEscrowRelease:
		if input.AmountCents < 0 {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("%s entries must be positive", input.Type))
		}
	case enums.LedgerEntryTypeDebit, enums.LedgerEntryTypePayout:
		if input.AmountCents > 0 {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("%s entries must be negative", input.Type))
		}
	}
	return nil
}
