package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/digkill/storybook/internal/auth"
	"github.com/digkill/storybook/internal/config"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/payment"
	"github.com/digkill/storybook/internal/repository/memory"
	"github.com/digkill/storybook/internal/storage"
	"github.com/digkill/storybook/pkg/logger"
)

type fakeGateway struct {
	mu   sync.Mutex
	err  error
	reqs []payment.SessionRequest
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	id := "cs_test_" + uuid.NewString()[:8]
	return &payment.Session{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (g *fakeGateway) last() payment.SessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs[len(g.reqs)-1]
}

type fakeRates struct {
	err   error
	calls int
}

func (r *fakeRates) Quote(_ context.Context, _ models.ShippingAddress, _ int, _ models.ProductType) ([]models.ShippingOption, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []models.ShippingOption{
		{ID: "MAIL", Label: "Standard mail", ProductCostCents: 850, ShippingCostCents: 499, TotalCostCents: 1349, Currency: "USD"},
		{ID: "PRIORITY_MAIL", Label: "Priority mail", ProductCostCents: 850, ShippingCostCents: 1299, TotalCostCents: 2149, Currency: "USD"},
	}, nil
}

type fakeSigner struct{ calls int }

func (s *fakeSigner) SignURL(_ context.Context, kind storage.Kind, key string) (string, error) {
	s.calls++
	return "https://signed.test/" + string(kind) + "/" + key + "?n=" + time.Now().Format(time.RFC3339Nano), nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	paid    []uuid.UUID
	credits []string
	ebooks  []uuid.UUID
}

func (n *recordingNotifier) OrderPaid(_ context.Context, order *models.Order) {
	n.mu.Lock()
	n.paid = append(n.paid, order.ID)
	n.mu.Unlock()
}

func (n *recordingNotifier) CreditsPurchased(_ context.Context, _, packName string, _, _ int) {
	n.mu.Lock()
	n.credits = append(n.credits, packName)
	n.mu.Unlock()
}

func (n *recordingNotifier) EbookReady(_ context.Context, order *models.Order) {
	n.mu.Lock()
	n.ebooks = append(n.ebooks, order.ID)
	n.mu.Unlock()
}

type fixture struct {
	store     *memory.Store
	gateway   *fakeGateway
	rates     *fakeRates
	signer    *fakeSigner
	notifier  *recordingNotifier
	catalog   *CatalogService
	credits   *CreditService
	creations *CreationService
	shipping  *ShippingService
	payments  *PaymentService
	orders    *OrderService
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	f := &fixture{
		store:    memory.New(),
		gateway:  &fakeGateway{},
		rates:    &fakeRates{},
		signer:   &fakeSigner{},
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.catalog = NewCatalogService(config.CreditsConfig{
		FreeLimit:      3,
		Currency:       "usd",
		EbookPrice:     1299,
		SoftcoverPrice: 2999,
		HardcoverPrice: 3999,
	}, f.store)
	require.NoError(t, f.catalog.EnsureDefaults(context.Background()))

	f.credits = NewCreditService(f.store, f.store, 3, 0, nil, log)
	f.credits.now = f.now
	f.creations = NewCreationService(f.credits, f.store, f.signer, nil)
	f.creations.now = f.now
	f.shipping = NewShippingService(f.rates, nil, log)
	f.payments = NewPaymentService(PaymentServiceParams{
		Gateway:       f.gateway,
		Orders:        f.store,
		Catalog:       f.catalog,
		Credits:       f.credits,
		Creations:     f.creations,
		Shipping:      f.rates,
		Notifier:      f.notifier,
		Log:           log,
		PublicBaseURL: "https://app.test/",
		SuccessPath:   "/checkout/success",
		CancelPath:    "/checkout/cancel",
	})
	f.orders = NewOrderService(f.store, f.signer, f.notifier, log)
	return f
}

// now advances one second per call so creations get distinct timestamps.
func (f *fixture) now() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fixture) user(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.credits.EnsureProfile(context.Background(), id, "parent@example.com"))
	return id
}

func (f *fixture) save(t *testing.T, userID uuid.UUID, title string) models.Creation {
	t.Helper()
	res, err := f.creations.Save(context.Background(), userID, SaveCreationInput{
		Title:            title,
		OriginalImageKey: "originals/" + title + ".png",
		VideoKey:         "videos/" + title + ".mp4",
		PageImageKeys:    []string{"pages/" + title + "-1.png"},
	})
	require.NoError(t, err)
	return res.Creation
}

func authed(userID uuid.UUID) context.Context {
	return auth.WithUser(context.Background(), auth.User{ID: userID, Email: "parent@example.com"})
}

func checkoutEvent(t *testing.T, eventType stripe.EventType, session map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	return &stripe.Event{ID: "evt_" + uuid.NewString()[:8], Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

var errProvider = errors.New("provider returned 500")
