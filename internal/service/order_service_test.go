package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/storybook/internal/models"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

func placeOrder(t *testing.T, f *fixture, userID uuid.UUID, productType models.ProductType) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:         uuid.New(),
		UserID:     userID,
		CreationID: uuid.New(),
		OrderType:  productType,
		Status:     models.OrderPending,
		CreatedAt:  f.now(),
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), order))
	return order
}

func TestOrderIsVisibleToOwnerOnly(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	order := placeOrder(t, f, owner, models.ProductEbook)

	_, err := f.orders.Get(context.Background(), f.user(t), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	got, err := f.orders.Get(context.Background(), owner, order.ID)
	require.NoError(t, err)
	assert.Empty(t, got.DownloadURL)
	assert.Zero(t, f.signer.calls, "nothing to sign yet")
}

func TestFulfillmentProgressAndTerminalGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := placeOrder(t, f, f.user(t), models.ProductHardcover)

	for _, status := range []models.OrderStatus{models.OrderProcessing, models.OrderPrinted, models.OrderShipped, models.OrderDelivered} {
		updated, err := f.orders.ApplyFulfillment(ctx, order.ID, models.FulfillmentUpdate{Status: status, PrintOrderID: "lulu-77"})
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
	}

	_, err := f.orders.ApplyFulfillment(ctx, order.ID, models.FulfillmentUpdate{Status: models.OrderShipped})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.orders.ApplyFulfillment(ctx, order.ID, models.FulfillmentUpdate{Status: models.OrderPending})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.orders.ApplyFulfillment(ctx, order.ID, models.FulfillmentUpdate{Status: "lost"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.orders.ApplyFulfillment(ctx, uuid.New(), models.FulfillmentUpdate{Status: models.OrderProcessing})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, f.notifier.ebooks, "printed books never announce an ebook")
}

func TestEbookReadyAnnouncedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t)
	order := placeOrder(t, f, owner, models.ProductEbook)

	_, err := f.orders.ApplyFulfillment(ctx, order.ID, models.FulfillmentUpdate{DownloadURL: "https://cdn.test/book.pdf"})
	require.NoError(t, err)
	_, err = f.orders.ApplyFulfillment(ctx, order.ID, models.FulfillmentUpdate{Status: models.OrderDelivered})
	require.NoError(t, err)
	assert.Len(t, f.notifier.ebooks, 1)

	got, err := f.orders.Get(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/book.pdf", got.DownloadURL)
	assert.Zero(t, f.signer.calls, "public urls are returned as is")
}
