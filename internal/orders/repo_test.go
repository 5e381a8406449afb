package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	"github.com/tradeyard-app/tradeyard-backend/pkg/pagination"
)

func setupRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.Exec(testSchema).Error)
	return gdb
}

func seedOrder(t *testing.T, repo Repository, buyerID, sellerID uuid.UUID, status enums.OrderStatus, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:         uuid.New(),
		ListingID:  uuid.New(),
		BuyerID:    buyerID,
		SellerID:   sellerID,
		TotalCents: 10000,
		FeeCents:   500,
		NetCents:   9500,
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), order))
	return order
}

func TestRepositoryCreateAndGet(t *testing.T) {
	repo := NewRepository(setupRepoDB(t))
	order := seedOrder(t, repo, uuid.New(), uuid.New(), enums.OrderStatusCreated, time.Now())

	found, err := repo.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, enums.OrderStatusCreated, found.Status)
	assert.Equal(t, 9500, found.NetCents)
}

func TestRepositoryUpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupRepoDB(t))
	order := seedOrder(t, repo, uuid.New(), uuid.New(), enums.OrderStatusCreated, time.Now())

	rows, err := repo.UpdateStatusCAS(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusCreated}, enums.OrderStatusPaid, map[string]any{"payment_ref": "pi_123"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)

	// Stale writer loses.
	rows, err = repo.UpdateStatusCAS(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusCreated}, enums.OrderStatusCancelled, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows)

	found, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, found.Status)
	require.NotNil(t, found.PaymentRef)
	assert.Equal(t, "pi_123", *found.PaymentRef)
}

func TestRepositoryListForUserPagination(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupRepoDB(t))
	buyerID := uuid.New()
	base := time.Now().Add(-time.Hour)

	var newest *models.Order
	for i := 0; i < 3; i++ {
		newest = seedOrder(t, repo, buyerID, uuid.New(), enums.OrderStatusCreated, base.Add(time.Duration(i)*time.Minute))
	}
	// Someone else's order stays invisible.
	seedOrder(t, repo, uuid.New(), uuid.New(), enums.OrderStatusCreated, base)

	page, err := repo.ListForUser(ctx, buyerID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.NotEmpty(t, page)
	assert.Equal(t, newest.ID, page[0].ID)
	for _, order := range page {
		assert.True(t, order.BuyerID == buyerID || order.SellerID == buyerID)
	}

	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID})
	rest, err := repo.ListForUser(ctx, buyerID, pagination.Params{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.NotEmpty(t, rest)
	assert.True(t, rest[0].CreatedAt.Before(page[1].CreatedAt) ||
		(rest[0].CreatedAt.Equal(page[1].CreatedAt) && rest[0].ID.String() < page[1].ID.String()))
}

func TestRepositoryListDeliveredBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupRepoDB(t))
	cutoff := time.Now().Add(-72 * time.Hour)

	stale := seedOrder(t, repo, uuid.New(), uuid.New(), enums.OrderStatusDelivered, cutoff.Add(-time.Hour))
	seedOrder(t, repo, uuid.New(), uuid.New(), enums.OrderStatusDelivered, time.Now())
	seedOrder(t, repo, uuid.New(), uuid.New(), enums.OrderStatusPaid, cutoff.Add(-time.Hour))

	due, err := repo.ListDeliveredBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, stale.ID, due[0].ID)
}
