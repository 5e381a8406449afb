package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/internal/disputes"
	internalorders "github.com/tradeyard-app/tradeyard-backend/internal/orders"
	"github.com/tradeyard-app/tradeyard-backend/internal/promotions"
	pkgAuth "github.com/tradeyard-app/tradeyard-backend/pkg/auth"
	"github.com/tradeyard-app/tradeyard-backend/pkg/auth/session"
	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubSessionChecker struct{}

func (stubSessionChecker) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

type memIdemStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemIdemStore() *memIdemStore {
	return &memIdemStore{data: map[string]string{}}
}

func (s *memIdemStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", nil
}

func (s *memIdemStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value.(string)
	return true, nil
}

func (s *memIdemStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *memIdemStore) IdempotencyKey(scope, id string) string {
	return "ty:idem:" + scope + ":" + id
}

type stubOrdersService struct{}

func (stubOrdersService) Create(ctx context.Context, input internalorders.CreateInput) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusCreated}, nil
}

func (stubOrdersService) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	panic("unimplemented")
}

func (stubOrdersService) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: id, Status: enums.OrderStatusCreated}, nil
}

func (stubOrdersService) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	return nil, "", nil
}

func (stubOrdersService) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) (*models.Order, error) {
	panic("unimplemented")
}

func (stubOrdersService) Complete(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusCompleted}, nil
}

func (stubOrdersService) AutoComplete(ctx context.Context, orderID uuid.UUID) error {
	panic("unimplemented")
}

func (stubOrdersService) Cancel(ctx context.Context, orderID, requesterID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusCancelled}, nil
}

func (stubOrdersService) ApplyTransition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) (*models.Order, bool, error) {
	panic("unimplemented")
}

func (stubOrdersService) ResumeFromDispute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, prior enums.OrderStatus) (*models.Order, error) {
	panic("unimplemented")
}

func (stubOrdersService) ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	panic("unimplemented")
}

func (stubOrdersService) ComputeFee(totalCents int) (int, int, error) {
	panic("unimplemented")
}

type stubFulfillmentService struct{}

func (stubFulfillmentService) SchedulePickup(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, string, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusPickupScheduled}, "1234", nil
}

func (stubFulfillmentService) ConfirmPickup(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusPickedUp}, nil
}

func (stubFulfillmentService) ScheduleDelivery(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, string, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusDeliveryScheduled}, "5678", nil
}

func (stubFulfillmentService) ConfirmDelivery(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusDelivered}, nil
}

type stubDisputesService struct{}

func (stubDisputesService) Open(ctx context.Context, input disputes.OpenInput) (*models.Dispute, error) {
	return &models.Dispute{ID: uuid.New(), Status: enums.DisputeStatusOpen}, nil
}

func (stubDisputesService) GetForActor(ctx context.Context, disputeID uuid.UUID, actor disputes.Actor) (*models.Dispute, error) {
	return &models.Dispute{ID: disputeID, Status: enums.DisputeStatusOpen}, nil
}

func (stubDisputesService) AddMessage(ctx context.Context, disputeID uuid.UUID, actor disputes.Actor, body string) (*models.DisputeMessage, error) {
	panic("unimplemented")
}

func (stubDisputesService) AddEvidence(ctx context.Context, disputeID uuid.UUID, actor disputes.Actor, fileRef string, caption *string) (*models.DisputeEvidence, error) {
	panic("unimplemented")
}

func (stubDisputesService) Transcript(ctx context.Context, disputeID uuid.UUID, actor disputes.Actor) ([]models.DisputeMessage, []models.DisputeEvidence, error) {
	return nil, nil, nil
}

func (stubDisputesService) StartInvestigation(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	return &models.Dispute{ID: disputeID, Status: enums.DisputeStatusInvestigating}, nil
}

func (stubDisputesService) Resolve(ctx context.Context, input disputes.ResolveInput) (*models.Dispute, error) {
	panic("unimplemented")
}

func (stubDisputesService) Close(ctx context.Context, disputeID uuid.UUID, actor disputes.Actor) (*models.Dispute, error) {
	panic("unimplemented")
}

func (stubDisputesService) ListActive(ctx context.Context, limit int) ([]models.Dispute, error) {
	return []models.Dispute{}, nil
}

type stubWalletsService struct{}

func (stubWalletsService) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return &models.Wallet{UserID: userID}, nil
}

func (stubWalletsService) Entries(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (stubWalletsService) SetPayoutDestination(ctx context.Context, userID uuid.UUID, destination string) (*models.Wallet, error) {
	panic("unimplemented")
}

func (stubWalletsService) Withdraw(ctx context.Context, userID uuid.UUID, amountCents int) (*models.LedgerEntry, error) {
	panic("unimplemented")
}

func (stubWalletsService) SettlePayout(ctx context.Context, externalRef string, succeeded bool, reason string) error {
	panic("unimplemented")
}

type stubPromotionsService struct{}

func (stubPromotionsService) Create(ctx context.Context, input promotions.CreateInput) (*models.Promotion, error) {
	panic("unimplemented")
}

func (stubPromotionsService) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Promotion, error) {
	panic("unimplemented")
}

func (stubPromotionsService) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Promotion, error) {
	return []models.Promotion{}, nil
}

func (stubPromotionsService) ConfirmPayment(ctx context.Context, id uuid.UUID, paymentRef string) (*models.Promotion, error) {
	panic("unimplemented")
}

func (stubPromotionsService) Cancel(ctx context.Context, id, ownerID uuid.UUID) (*models.Promotion, error) {
	panic("unimplemented")
}

func (stubPromotionsService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	panic("unimplemented")
}

type stubWebhookService struct{}

func (stubWebhookService) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Output: io.Discard})
	return NewRouter(Deps{
		Config:        cfg,
		Logger:        logg,
		DBPinger:      stubPinger{},
		RedisPinger:   stubPinger{},
		IdemStore:     newMemIdemStore(),
		Sessions:      stubSessionChecker{},
		Orders:        stubOrdersService{},
		Fulfillment:   stubFulfillmentService{},
		Disputes:      stubDisputesService{},
		Wallets:       stubWalletsService{},
		Promotions:    stubPromotionsService{},
		StripeWebhook: stubWebhookService{},
	})
}

func buildToken(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthEndpointsArePublic(t *testing.T) {
	router := newTestRouter(testConfig())

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s got %d", path, resp.Code)
		}
	}
}

func TestPrivateGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestPrivateGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with token got %d", resp.Code)
	}
}

func TestCourierGroupRequiresCourierRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/v1/courier/orders/" + uuid.NewString() + "/pickup"

	buyer := httptest.NewRequest(http.MethodPost, path, nil)
	buyer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, buyer)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-courier got %d", resp.Code)
	}

	courier := httptest.NewRequest(http.MethodPost, path, nil)
	courier.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleCourier))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, courier)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for courier got %d", resp.Code)
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	user := httptest.NewRequest(http.MethodGet, "/api/admin/v1/disputes", nil)
	user.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, user)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodGet, "/api/admin/v1/disputes", nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestWebhookRouteIsPublic(t *testing.T) {
	router := newTestRouter(testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for webhook got %d", resp.Code)
	}
}

func TestOrderCreateReplaysIdempotentResponse(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	token := buildToken(t, cfg, enums.ActorRoleUser)
	body := `{"listing_id":"` + uuid.NewString() + `","seller_id":"` + uuid.NewString() + `","total_cents":10000}`

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "order-create-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first create got %d: %s", first.Code, first.Body.String())
	}
	second := send()
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical replayed body:\nfirst: %s\nsecond: %s", first.Body.String(), second.Body.String())
	}
}
