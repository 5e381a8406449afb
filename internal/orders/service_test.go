package orders

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tradeyard-app/tradeyard-backend/internal/escrow"
	"github.com/tradeyard-app/tradeyard-backend/internal/ledger"
	"github.com/tradeyard-app/tradeyard-backend/internal/payments"
	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/metrics"
	"github.com/tradeyard-app/tradeyard-backend/pkg/outbox"
	"github.com/tradeyard-app/tradeyard-backend/pkg/stripe"
)

const testSchema = `
CREATE TABLE orders (
	id TEXT PRIMARY KEY,
	listing_id TEXT NOT NULL,
	buyer_id TEXT NOT NULL,
	seller_id TEXT NOT NULL,
	courier_id TEXT,
	total_cents INTEGER NOT NULL,
	fee_cents INTEGER NOT NULL,
	net_cents INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'created',
	payment_ref TEXT,
	pickup_code TEXT,
	delivery_code TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE ledger_entries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	order_id TEXT,
	external_ref TEXT,
	created_at DATETIME
);
CREATE TABLE wallets (
	user_id TEXT PRIMARY KEY,
	available_cents INTEGER NOT NULL DEFAULT 0,
	pending_cents INTEGER NOT NULL DEFAULT 0,
	lifetime_earned_cents INTEGER NOT NULL DEFAULT 0,
	lifetime_spent_cents INTEGER NOT NULL DEFAULT 0,
	payout_destination TEXT,
	updated_at DATETIME
);
CREATE TABLE outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME,
	published_at DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);
CREATE TABLE payment_attempts (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	external_ref TEXT UNIQUE,
	status TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
`

type fakeVerifier struct {
	intents map[string]*stripe.PaymentIntentInfo
}

func (f *fakeVerifier) VerifyPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntentInfo, error) {
	info, ok := f.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such payment intent %s", intentID)
	}
	return info, nil
}

type fakeProcessor struct {
	refunds     []int
	payouts     []int
	failRefunds bool
}

func (f *fakeProcessor) Refund(ctx context.Context, paymentRef string, amountCents int) (string, error) {
	if f.failRefunds {
		return "", context.DeadlineExceeded
	}
	f.refunds = append(f.refunds, amountCents)
	return fmt.Sprintf("re_test_%d", len(f.refunds)), nil
}

func (f *fakeProcessor) Payout(ctx context.Context, amountCents int, destination string) (string, error) {
	f.payouts = append(f.payouts, amountCents)
	return fmt.Sprintf("po_test_%d", len(f.payouts)), nil
}

type gormRunner struct {
	db *gorm.DB
}

func (r *gormRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type harness struct {
	db        *gorm.DB
	svc       Service
	ledger    ledger.Service
	verifier  *fakeVerifier
	processor *fakeProcessor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// One connection keeps every session on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.Exec(testSchema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gdb), log)
	if err != nil {
		t.Fatalf("ledger.NewService: %v", err)
	}
	escrowSvc, err := escrow.NewService(ledgerSvc, log)
	if err != nil {
		t.Fatalf("escrow.NewService: %v", err)
	}
	processor := &fakeProcessor{}
	paymentsSvc, err := payments.NewService(payments.NewRepository(gdb), processor, log)
	if err != nil {
		t.Fatalf("payments.NewService: %v", err)
	}
	verifier := &fakeVerifier{intents: map[string]*stripe.PaymentIntentInfo{}}

	svc, err := NewService(Deps{
		Repo:     NewRepository(gdb),
		Runner:   &gormRunner{db: gdb},
		Escrow:   escrowSvc,
		Payments: paymentsSvc,
		Verifier: verifier,
		Outbox:   outbox.NewService(outbox.NewRepository(gdb), log),
		Fees:     config.FeesConfig{PlatformRateBasisPoints: 500, MinimumFeeCents: 50},
		Orders:   config.OrdersConfig{VerificationCodeLength: 6},
		Metrics:  metrics.NewTransitionMetrics(nil),
		Log:      log,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &harness{db: gdb, svc: svc, ledger: ledgerSvc, verifier: verifier, processor: processor}
}

func (h *harness) createOrder(t *testing.T, totalCents int) *models.Order {
	t.Helper()
	order, err := h.svc.Create(context.Background(), CreateInput{
		ListingID:  uuid.New(),
		BuyerID:    uuid.New(),
		SellerID:   uuid.New(),
		TotalCents: totalCents,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return order
}

func (h *harness) payOrder(t *testing.T, order *models.Order) *models.Order {
	t.Helper()
	ref := "pi_" + order.ID.String()[:8]
	h.verifier.intents[ref] = &stripe.PaymentIntentInfo{ID: ref, AmountCents: order.TotalCents, Succeeded: true}
	paid, err := h.svc.ConfirmPayment(context.Background(), order.ID, ref)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	return paid
}

func (h *harness) forceStatus(t *testing.T, orderID uuid.UUID, status enums.OrderStatus) {
	t.Helper()
	if err := h.db.Exec("UPDATE orders SET status = ? WHERE id = ?", status, orderID).Error; err != nil {
		t.Fatalf("force status: %v", err)
	}
}

func TestCreateComputesFeeOnce(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, 10_000)
	if order.FeeCents != 500 || order.NetCents != 9_500 {
		t.Errorf("fee/net = %d/%d, want 500/9500", order.FeeCents, order.NetCents)
	}

	// Below the percentage threshold the minimum fee applies.
	small := h.createOrder(t, 400)
	if small.FeeCents != 50 || small.NetCents != 350 {
		t.Errorf("small fee/net = %d/%d, want 50/350", small.FeeCents, small.NetCents)
	}
}

func TestCreateRejectsUncoverableTotals(t *testing.T) {
	h := newHarness(t)
	for _, total := range []int{0, -100, 50, 49} {
		_, err := h.svc.Create(context.Background(), CreateInput{
			ListingID: uuid.New(), BuyerID: uuid.New(), SellerID: uuid.New(), TotalCents: total,
		})
		if !apperrors.IsCode(err, apperrors.CodeValidation) {
			t.Errorf("total %d: expected validation error, got %v", total, err)
		}
	}
}

func TestCreateRejectsSelfTrade(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	_, err := h.svc.Create(context.Background(), CreateInput{
		ListingID: uuid.New(), BuyerID: userID, SellerID: userID, TotalCents: 10_000,
	})
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestConfirmPaymentHoldsEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	paid := h.payOrder(t, order)

	if paid.Status != enums.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", paid.Status)
	}
	if paid.PaymentRef == nil {
		t.Fatal("payment_ref not recorded")
	}
	balance, err := h.ledger.BalanceOf(ctx, order.SellerID)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if balance.PendingCents != 9_500 || balance.AvailableCents != 0 {
		t.Errorf("seller balance = %+v, want pending 9500", balance)
	}

	var events int64
	h.db.Table("outbox_events").Where("event_type = ? AND aggregate_id = ?", enums.EventOrderPaid, order.ID).Count(&events)
	if events != 1 {
		t.Errorf("order.paid events = %d, want 1", events)
	}
}

func TestConfirmPaymentReplayIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	paid := h.payOrder(t, order)

	again, err := h.svc.ConfirmPayment(ctx, order.ID, *paid.PaymentRef)
	if err != nil {
		t.Fatalf("replayed ConfirmPayment: %v", err)
	}
	if again.Status != enums.OrderStatusPaid {
		t.Errorf("status = %s, want paid", again.Status)
	}

	entries, err := h.ledger.EntriesForOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("EntriesForOrder: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ledger entries after replay = %d, want 1", len(entries))
	}
}

func TestConfirmPaymentRedeliveryAfterAdvanceIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	paid := h.payOrder(t, order)
	h.forceStatus(t, order.ID, enums.OrderStatusPickupScheduled)

	// The processor redelivers the succeeded-payment event long after the
	// order moved on; acknowledging it must not report a conflict.
	again, err := h.svc.ConfirmPayment(ctx, order.ID, *paid.PaymentRef)
	if err != nil {
		t.Fatalf("redelivered ConfirmPayment: %v", err)
	}
	if again.Status != enums.OrderStatusPickupScheduled {
		t.Errorf("status = %s, want pickup_scheduled untouched", again.Status)
	}
	entries, err := h.ledger.EntriesForOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("EntriesForOrder: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ledger entries after redelivery = %d, want 1", len(entries))
	}
}

func TestConfirmPaymentWithDifferentRefConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)

	h.verifier.intents["pi_other"] = &stripe.PaymentIntentInfo{ID: "pi_other", AmountCents: 10_000, Succeeded: true}
	_, err := h.svc.ConfirmPayment(ctx, order.ID, "pi_other")
	if !apperrors.IsCode(err, apperrors.CodeStateConflict) {
		t.Errorf("expected state conflict, got %v", err)
	}
}

func TestConfirmPaymentRejectsAmountMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)

	h.verifier.intents["pi_short"] = &stripe.PaymentIntentInfo{ID: "pi_short", AmountCents: 9_000, Succeeded: true}
	_, err := h.svc.ConfirmPayment(ctx, order.ID, "pi_short")
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	reloaded, _ := h.svc.GetByID(ctx, order.ID)
	if reloaded.Status != enums.OrderStatusCreated {
		t.Errorf("status = %s, want created untouched", reloaded.Status)
	}
}

func TestConfirmPaymentRejectsUnsucceededIntent(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, 10_000)

	h.verifier.intents["pi_pending"] = &stripe.PaymentIntentInfo{ID: "pi_pending", AmountCents: 10_000, Succeeded: false}
	_, err := h.svc.ConfirmPayment(context.Background(), order.ID, "pi_pending")
	if !apperrors.IsCode(err, apperrors.CodeStateConflict) {
		t.Errorf("expected state conflict, got %v", err)
	}
}

func TestCompleteReleasesEscrowToSeller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)
	h.forceStatus(t, order.ID, enums.OrderStatusDelivered)

	completed, err := h.svc.Complete(ctx, order.ID, order.BuyerID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != enums.OrderStatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}

	balance, _ := h.ledger.BalanceOf(ctx, order.SellerID)
	if balance.AvailableCents != 9_500 || balance.PendingCents != 0 {
		t.Errorf("seller balance = %+v, want available 9500, pending 0", balance)
	}
	if err := h.ledger.VerifyWallet(ctx, order.SellerID); err != nil {
		t.Errorf("VerifyWallet: %v", err)
	}
}

func TestCompleteRequiresBuyer(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)
	h.forceStatus(t, order.ID, enums.OrderStatusDelivered)

	_, err := h.svc.Complete(context.Background(), order.ID, order.SellerID)
	if !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestCompleteBeforeDeliveryConflicts(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)

	_, err := h.svc.Complete(context.Background(), order.ID, order.BuyerID)
	if !apperrors.IsCode(err, apperrors.CodeStateConflict) {
		t.Errorf("expected state conflict, got %v", err)
	}
}

func TestAutoCompleteSwallowsLostRaces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)
	h.forceStatus(t, order.ID, enums.OrderStatusDisputed)

	// The dispute won; the worker's default-confirm must not fail the run.
	if err := h.svc.AutoComplete(ctx, order.ID); err != nil {
		t.Errorf("AutoComplete after dispute: %v", err)
	}
	reloaded, _ := h.svc.GetByID(ctx, order.ID)
	if reloaded.Status != enums.OrderStatusDisputed {
		t.Errorf("status = %s, want disputed untouched", reloaded.Status)
	}
}

func TestCancelUnpaidSkipsRefund(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, 10_000)

	cancelled, err := h.svc.Cancel(context.Background(), order.ID, order.BuyerID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if len(h.processor.refunds) != 0 {
		t.Errorf("refunds issued = %d, want 0", len(h.processor.refunds))
	}
}

func TestCancelPaidRefundsFullTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)

	cancelled, err := h.svc.Cancel(ctx, order.ID, order.BuyerID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if len(h.processor.refunds) != 1 || h.processor.refunds[0] != 10_000 {
		t.Errorf("refunds = %v, want one of 10000", h.processor.refunds)
	}

	seller, _ := h.ledger.BalanceOf(ctx, order.SellerID)
	if seller.PendingCents != 0 || seller.AvailableCents != 0 {
		t.Errorf("seller balance = %+v, want zeroes", seller)
	}
	buyer, _ := h.ledger.BalanceOf(ctx, order.BuyerID)
	if buyer.AvailableCents != 10_000 {
		t.Errorf("buyer refund = %d, want full total 10000", buyer.AvailableCents)
	}

	// Cancelling again is a no-op with no second transfer.
	if _, err := h.svc.Cancel(ctx, order.ID, order.BuyerID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if len(h.processor.refunds) != 1 {
		t.Errorf("refunds after replay = %d, want 1", len(h.processor.refunds))
	}
}

func TestCancelLosingToDisputeSendsNoRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	paid := h.payOrder(t, order)

	// A dispute freezes the order after the cancel request already read it
	// as paid. The stale cancel must lose without money moving.
	h.forceStatus(t, order.ID, enums.OrderStatusDisputed)

	_, err := h.svc.(*service).cancelPaid(ctx, paid)
	if !apperrors.IsCode(err, apperrors.CodeStateConflict) {
		t.Errorf("expected state conflict, got %v", err)
	}
	if len(h.processor.refunds) != 0 {
		t.Errorf("refunds = %v, want none", h.processor.refunds)
	}
	reloaded, _ := h.svc.GetByID(ctx, order.ID)
	if reloaded.Status != enums.OrderStatusDisputed {
		t.Errorf("status = %s, want disputed untouched", reloaded.Status)
	}
}

func TestCancelPaidFinishesRefundOnRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)

	h.processor.failRefunds = true
	_, err := h.svc.Cancel(ctx, order.ID, order.BuyerID)
	if !apperrors.IsCode(err, apperrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	// The cancellation itself committed; only the refund is outstanding.
	reloaded, _ := h.svc.GetByID(ctx, order.ID)
	if reloaded.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", reloaded.Status)
	}
	if len(h.processor.refunds) != 0 {
		t.Fatalf("refunds = %v, want none yet", h.processor.refunds)
	}

	h.processor.failRefunds = false
	if _, err := h.svc.Cancel(ctx, order.ID, order.BuyerID); err != nil {
		t.Fatalf("retried Cancel: %v", err)
	}
	if len(h.processor.refunds) != 1 || h.processor.refunds[0] != 10_000 {
		t.Errorf("refunds = %v, want one of 10000", h.processor.refunds)
	}
}

func TestCancelAfterPickupConflicts(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)
	h.forceStatus(t, order.ID, enums.OrderStatusPickedUp)

	_, err := h.svc.Cancel(context.Background(), order.ID, order.BuyerID)
	if !apperrors.IsCode(err, apperrors.CodeStateConflict) {
		t.Errorf("expected state conflict, got %v", err)
	}
}

func TestCancelByStrangerIsNotFound(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, 10_000)

	_, err := h.svc.Cancel(context.Background(), order.ID, uuid.New())
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestApplyTransitionExactlyOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, 10_000)
	h.payOrder(t, order)

	err := h.db.Transaction(func(tx *gorm.DB) error {
		_, applied, err := h.svc.ApplyTransition(ctx, tx, order.ID,
			AllowedSources(enums.OrderStatusPickupScheduled), enums.OrderStatusPickupScheduled, nil)
		if err != nil {
			return err
		}
		if !applied {
			t.Error("first transition should apply")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// The same source set no longer matches: the second writer loses.
	err = h.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := h.svc.ApplyTransition(ctx, tx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPaid}, enums.OrderStatusCancelled, nil)
		return err
	})
	if !apperrors.IsCode(err, apperrors.CodeStateConflict) {
		t.Errorf("expected state conflict for the loser, got %v", err)
	}
}

func TestTransitionTableShape(t *testing.T) {
	if !CanTransition(enums.OrderStatusCreated, enums.OrderStatusPaid) {
		t.Error("created -> paid must be allowed")
	}
	if !CanTransition(enums.OrderStatusDisputed, enums.OrderStatusCompleted) {
		t.Error("disputed -> completed must be allowed")
	}
	if !CanTransition(enums.OrderStatusDisputed, enums.OrderStatusCancelled) {
		t.Error("disputed -> cancelled must be allowed")
	}
	if CanTransition(enums.OrderStatusCreated, enums.OrderStatusDisputed) {
		t.Error("created -> disputed must be rejected")
	}
	if CanTransition(enums.OrderStatusCompleted, enums.OrderStatusDisputed) {
		t.Error("completed -> disputed must be rejected")
	}
	if CanTransition(enums.OrderStatusCancelled, enums.OrderStatusPaid) {
		t.Error("cancelled is terminal")
	}
	if CanTransition(enums.OrderStatusCreated, enums.OrderStatusCompleted) {
		t.Error("created -> completed must be rejected")
	}
}
