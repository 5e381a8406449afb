package wallets

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/internal/ledger"
	"github.com/tradeyard-app/tradeyard-backend/internal/payments"
	dbpkg "github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

// Service is the user-facing wallet surface: balance reads, statement
// listing, payout destination management and withdrawals of the available
// balance.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Entries(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error)
	SetPayoutDestination(ctx context.Context, userID uuid.UUID, destination string) (*models.Wallet, error)
	Withdraw(ctx context.Context, userID uuid.UUID, amountCents int) (*models.LedgerEntry, error)
	SettlePayout(ctx context.Context, externalRef string, succeeded bool, reason string) error
}

type service struct {
	repo     Repository
	ledger   ledger.Service
	payments payments.Service
	runner   dbpkg.TxRunner
	log      *logger.Logger
}

// NewService constructs the wallet service.
func NewService(repo Repository, ledgerSvc ledger.Service, paymentsSvc payments.Service, runner dbpkg.TxRunner, log *logger.Logger) (Service, error) {
	switch {
	case repo == nil:
		return nil, fmt.Errorf("wallets: repository is required")
	case ledgerSvc == nil:
		return nil, fmt.Errorf("wallets: ledger service is required")
	case paymentsSvc == nil:
		return nil, fmt.Errorf("wallets: payments service is required")
	case runner == nil:
		return nil, fmt.Errorf("wallets: tx runner is required")
	case log == nil:
		return nil, fmt.Errorf("wallets: logger is required")
	}
	return &service{
		repo:     repo,
		ledger:   ledgerSvc,
		payments: paymentsSvc,
		runner:   runner,
		log:      log,
	}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.ledger.WalletOf(ctx, userID)
}

func (s *service) Entries(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	entries, err := s.ledger.EntriesForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list ledger entries")
	}
	return entries, nil
}

func (s *service) SetPayoutDestination(ctx context.Context, userID uuid.UUID, destination string) (*models.Wallet, error) {
	if strings.TrimSpace(destination) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "a payout destination is required")
	}
	if err := s.repo.SetPayoutDestination(ctx, userID, destination); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to set payout destination")
	}
	return s.ledger.WalletOf(ctx, userID)
}

// Withdraw transfers available balance to the user's payout destination. The
// ledger debit commits first, reserving the funds under a fresh withdrawal
// id, and only then does the external transfer go out. Concurrent
// withdrawals race on the same available balance and the one that would
// overdraw rolls back before anything leaves the processor; a transfer that
// fails after the debit committed is restored with an offsetting credit.
func (s *service) Withdraw(ctx context.Context, userID uuid.UUID, amountCents int) (*models.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "withdrawal amount must be positive")
	}
	// A wallet row that disagrees with the entry fold means a bug somewhere
	// in the write paths; refuse to move money off a corrupted balance.
	if err := s.ledger.VerifyWallet(ctx, userID); err != nil {
		return nil, err
	}
	wallet, err := s.ledger.WalletOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.PayoutDestination == nil || strings.TrimSpace(*wallet.PayoutDestination) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "no payout destination on file")
	}
	if wallet.AvailableCents < amountCents {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("available balance %d is less than requested %d", wallet.AvailableCents, amountCents))
	}

	withdrawalID := uuid.New()
	var entry *models.LedgerEntry
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.ledger.Append(ctx, tx, ledger.AppendInput{
			UserID:      userID,
			Type:        enums.LedgerEntryTypePayout,
			AmountCents: -amountCents,
			OrderID:     &withdrawalID,
		})
		if txErr != nil {
			return txErr
		}
		updated, txErr := s.ledger.WalletInTx(ctx, tx, userID)
		if txErr != nil {
			return txErr
		}
		if updated.AvailableCents < 0 {
			return apperrors.New(apperrors.CodeStateConflict, "insufficient available balance")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	externalRef, err := s.payments.ExecutePayout(ctx, withdrawalID, amountCents, *wallet.PayoutDestination)
	if err != nil {
		if restoreErr := s.restoreWithdrawal(ctx, userID, withdrawalID, amountCents, nil); restoreErr != nil {
			logCtx := s.log.WithUserID(ctx, userID.String())
			s.log.Error(logCtx, fmt.Sprintf("failed to restore withdrawal %s after transfer error", withdrawalID), restoreErr)
			return nil, apperrors.Wrap(apperrors.CodeInternal, restoreErr, "failed to restore balance after transfer error")
		}
		return nil, err
	}
	ctx = s.log.WithUserID(ctx, userID.String())
	s.log.Info(ctx, fmt.Sprintf("withdrawal %s of %d cents sent as %s", withdrawalID, amountCents, externalRef))
	return entry, nil
}

// restoreWithdrawal puts a committed withdrawal debit back into the user's
// available balance. Replays are no-ops guarded by the ledger has-entry
// check, so the transfer-failure path and a later settlement webhook cannot
// double-credit.
func (s *service) restoreWithdrawal(ctx context.Context, userID, withdrawalID uuid.UUID, amountCents int, externalRef *string) error {
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		reversed, err := s.ledger.HasEntry(ctx, tx, withdrawalID, enums.LedgerEntryTypeCredit)
		if err != nil {
			return err
		}
		if reversed {
			return nil
		}
		_, err = s.ledger.Append(ctx, tx, ledger.AppendInput{
			UserID:      userID,
			Type:        enums.LedgerEntryTypeCredit,
			AmountCents: amountCents,
			OrderID:     &withdrawalID,
			ExternalRef: externalRef,
		})
		return err
	})
}

// SettlePayout applies the provider's asynchronous settlement outcome for a
// withdrawal. A failed transfer puts the withdrawn amount back into the
// user's available balance with an offsetting credit entry; replays are
// no-ops guarded by the ledger has-entry check.
func (s *service) SettlePayout(ctx context.Context, externalRef string, succeeded bool, reason string) error {
	attempt, err := s.payments.SettlePayout(ctx, externalRef, succeeded, reason)
	if err != nil {
		return err
	}
	if succeeded {
		return nil
	}

	entries, err := s.ledger.EntriesForOrder(ctx, attempt.OrderID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load withdrawal ledger entries")
	}
	var debit *models.LedgerEntry
	for i := range entries {
		if entries[i].Type == enums.LedgerEntryTypePayout {
			debit = &entries[i]
			break
		}
	}
	if debit == nil {
		// Nothing committed under this withdrawal; nothing to restore.
		return nil
	}

	if err := s.restoreWithdrawal(ctx, debit.UserID, attempt.OrderID, -debit.AmountCents, &externalRef); err != nil {
		return err
	}
	logCtx := s.log.WithUserID(ctx, debit.UserID.String())
	s.log.Warn(logCtx, fmt.Sprintf("payout %s failed to settle, restored %d cents", externalRef, -debit.AmountCents))
	return nil
}
