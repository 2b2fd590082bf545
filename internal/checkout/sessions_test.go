package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/storybook/internal/models"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

type fakePrices struct {
	calls int
	err   error
}

func (f *fakePrices) Price(_ context.Context, productType models.ProductType) (*models.BookPrice, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cents := 1299
	if productType.IsPhysical() {
		cents = 2999
	}
	return &models.BookPrice{ProductType: productType, PriceCents: cents, Currency: "usd"}, nil
}

type fakeQuoter struct {
	calls int
	err   error
	addr  models.ShippingAddress
}

func (f *fakeQuoter) Quote(_ context.Context, addr models.ShippingAddress, _ int, _ models.ProductType) ([]models.ShippingOption, error) {
	f.calls++
	f.addr = addr
	if f.err != nil {
		return nil, f.err
	}
	return []models.ShippingOption{
		{ID: "MAIL", Label: "Mail", ProductCostCents: 900, ShippingCostCents: 499, TotalCostCents: 1399, Currency: "USD"},
		{ID: "EXPEDITED", Label: "Expedited", ProductCostCents: 900, ShippingCostCents: 1599, TotalCostCents: 2499, Currency: "USD"},
	}, nil
}

type fakeCreator struct {
	err error
	req BookCheckoutRequest
}

func (f *fakeCreator) CreateBookCheckout(_ context.Context, req BookCheckoutRequest) (*Result, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	id := uuid.New()
	return &Result{OrderID: &id, SessionID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

type harness struct {
	prices  *fakePrices
	quoter  *fakeQuoter
	creator *fakeCreator
	mgr     *Manager
	user    uuid.UUID
}

func newHarness() *harness {
	h := &harness{prices: &fakePrices{}, quoter: &fakeQuoter{}, creator: &fakeCreator{}, user: uuid.New()}
	h.mgr = NewManager(h.prices, h.quoter, h.creator, nil)
	return h
}

func (h *harness) start(t *testing.T, productType models.ProductType) Wizard {
	t.Helper()
	w, err := h.mgr.Start(context.Background(), StartInput{
		UserID:      h.user,
		UserEmail:   "ada@example.com",
		CreationID:  uuid.New(),
		ProductType: productType,
	})
	require.NoError(t, err)
	return w
}

func (h *harness) do(t *testing.T, id uuid.UUID, in Input) (Wizard, error) {
	t.Helper()
	return h.mgr.Handle(context.Background(), h.user, id, in)
}

func strPtr(s string) *string { return &s }

func TestEbookWizardCheckout(t *testing.T) {
	h := newHarness()
	w := h.start(t, models.ProductEbook)
	require.NotNil(t, w.Price)
	assert.Equal(t, 1299, w.Price.PriceCents)

	w, err := h.do(t, w.ID, Input{Action: ActionNext, DedicationText: strPtr("  For Mia  ")})
	require.NoError(t, err)
	assert.Equal(t, StateReview, w.Machine.State)
	assert.True(t, w.CanCheckout)

	w, err = h.do(t, w.ID, Input{Action: ActionCheckout})
	require.NoError(t, err)
	assert.Equal(t, StateRedirected, w.Machine.State)
	assert.Equal(t, "https://checkout.example/cs_test", w.CheckoutURL)
	assert.NotNil(t, w.OrderID)

	assert.Equal(t, "For Mia", h.creator.req.DedicationText)
	assert.Equal(t, 1299, h.creator.req.BookCostCents)
	assert.Nil(t, h.creator.req.Shipping)
	assert.Equal(t, 1, h.prices.calls, "price is looked up once per product type")
}

func TestPhysicalWizardInvalidZipThenProviderFailure(t *testing.T) {
	h := newHarness()
	w := h.start(t, models.ProductSoftcover)

	w, err := h.do(t, w.ID, Input{Action: ActionNext})
	require.NoError(t, err)
	require.Equal(t, StateShipping, w.Machine.State)

	addr := validAddress()
	addr.Zip = "1"
	w, err = h.do(t, w.ID, Input{Action: ActionSubmitShipping, Address: &addr})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, StateShipping, w.Machine.State)
	assert.Contains(t, w.FieldErrors, "zip")
	assert.Zero(t, h.quoter.calls, "invalid address never reaches the provider")

	addr.Zip = "90210"
	h.quoter.err = errors.New("lulu: status 500")
	w, err = h.do(t, w.ID, Input{Action: ActionSubmitShipping, Address: &addr})
	require.NoError(t, err)
	assert.Equal(t, StateShipping, w.Machine.State)
	assert.Equal(t, ratesFailedMessage, w.Error)
	assert.Equal(t, 1, h.quoter.calls)

	h.quoter.err = nil
	w, err = h.do(t, w.ID, Input{Action: ActionSubmitShipping})
	require.NoError(t, err, "the stored address is reused on retry")
	assert.Equal(t, StateSelectShipping, w.Machine.State)
	assert.Empty(t, w.Error)
	assert.Len(t, w.Options, 2)
	assert.Equal(t, "US", h.quoter.addr.CountryCode)
}

func TestPhysicalWizardRateSelectionAndBack(t *testing.T) {
	h := newHarness()
	w := h.start(t, models.ProductHardcover)
	addr := validAddress()

	_, err := h.do(t, w.ID, Input{Action: ActionNext, IsGift: boolPtr(true)})
	require.NoError(t, err)
	_, err = h.do(t, w.ID, Input{Action: ActionSubmitShipping, Address: &addr})
	require.NoError(t, err)

	w, err = h.do(t, w.ID, Input{Action: ActionNext})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, StateSelectShipping, w.Machine.State)

	_, err = h.do(t, w.ID, Input{Action: ActionSelectRate, OptionID: "OVERNIGHT"})
	require.Error(t, err)

	w, err = h.do(t, w.ID, Input{Action: ActionSelectRate, OptionID: "EXPEDITED"})
	require.NoError(t, err)
	assert.Equal(t, 2999+1599, w.TotalCents)

	w, err = h.do(t, w.ID, Input{Action: ActionNext})
	require.NoError(t, err)
	require.Equal(t, StateReview, w.Machine.State)

	w, err = h.do(t, w.ID, Input{Action: ActionBack})
	require.NoError(t, err)
	assert.Equal(t, StateSelectShipping, w.Machine.State)
	assert.NotNil(t, w.Selected, "going back keeps the chosen rate")

	_, err = h.do(t, w.ID, Input{Action: ActionNext})
	require.NoError(t, err)
	_, err = h.do(t, w.ID, Input{Action: ActionCheckout})
	require.NoError(t, err)

	req := h.creator.req
	require.NotNil(t, req.Shipping)
	assert.Equal(t, "EXPEDITED", req.ShippingLevelID)
	assert.Equal(t, 1599, req.ShippingCostCents)
	assert.True(t, req.IsGift)
}

func boolPtr(b bool) *bool { return &b }

func TestCheckoutFailureIsInline(t *testing.T) {
	h := newHarness()
	w := h.start(t, models.ProductEbook)
	_, err := h.do(t, w.ID, Input{Action: ActionNext})
	require.NoError(t, err)

	h.creator.err = pkgerrors.New(pkgerrors.CodeDependency, "We couldn't start checkout. Please try again.")
	w, err = h.do(t, w.ID, Input{Action: ActionCheckout})
	require.NoError(t, err)
	assert.Equal(t, StateReview, w.Machine.State)
	assert.Equal(t, checkoutFailedMessage, w.Error)
	assert.True(t, w.CanCheckout, "submission is re-enabled")

	h.creator.err = nil
	w, err = h.do(t, w.ID, Input{Action: ActionCheckout})
	require.NoError(t, err)
	assert.Equal(t, StateRedirected, w.Machine.State)
}

func TestCanceledQuoteIsNotReported(t *testing.T) {
	h := newHarness()
	w := h.start(t, models.ProductSoftcover)
	_, err := h.do(t, w.ID, Input{Action: ActionNext})
	require.NoError(t, err)

	h.quoter.err = context.Canceled
	addr := validAddress()
	w, err = h.do(t, w.ID, Input{Action: ActionSubmitShipping, Address: &addr})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateShipping, w.Machine.State)
	assert.Empty(t, w.Error)
}

func TestPriceFailureBlocksCheckoutUntilReload(t *testing.T) {
	h := newHarness()
	h.prices.err = errors.New("db down")
	w := h.start(t, models.ProductEbook)
	assert.Equal(t, pricesFailedMessage, w.Error)

	w, err := h.do(t, w.ID, Input{Action: ActionNext})
	require.NoError(t, err)
	assert.False(t, w.CanCheckout)

	_, err = h.do(t, w.ID, Input{Action: ActionCheckout})
	require.ErrorIs(t, err, ErrIllegalTransition)

	h.prices.err = nil
	w, err = h.do(t, w.ID, Input{Action: ActionReloadPrices})
	require.NoError(t, err)
	assert.True(t, w.CanCheckout)
	assert.Empty(t, w.Error)
}

func TestWizardOwnership(t *testing.T) {
	h := newHarness()
	w := h.start(t, models.ProductEbook)

	_, err := h.mgr.Get(uuid.New(), w.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.mgr.Handle(context.Background(), uuid.New(), w.ID, Input{Action: ActionNext})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestPruneDropsIdleWizards(t *testing.T) {
	h := newHarness()
	w := h.start(t, models.ProductEbook)

	assert.Zero(t, h.mgr.Prune(w.UpdatedAt))
	assert.Equal(t, 1, h.mgr.Prune(w.UpdatedAt.Add(1)))

	_, err := h.mgr.Get(h.user, w.ID)
	assert.Error(t, err)
}
