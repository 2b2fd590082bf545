package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/digkill/storybook/internal/auth"
	"github.com/digkill/storybook/internal/checkout"
	"github.com/digkill/storybook/internal/config"
	"github.com/digkill/storybook/internal/idempotency"
	"github.com/digkill/storybook/internal/metrics"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/payment"
	"github.com/digkill/storybook/internal/repository/memory"
	"github.com/digkill/storybook/internal/service"
	"github.com/digkill/storybook/internal/storage"
	"github.com/digkill/storybook/pkg/logger"
)

const (
	webhookSecret     = "whsec_test_secret"
	fulfillmentSecret = "lulu-callback-secret"
)

var authConfig = config.AuthConfig{JWTSecret: "test-secret", Audience: "authenticated"}

type stubGateway struct {
	mu   sync.Mutex
	reqs []payment.SessionRequest
}

func (g *stubGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	id := "cs_test_" + uuid.NewString()[:8]
	return &payment.Session{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (g *stubGateway) last() payment.SessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs[len(g.reqs)-1]
}

type stubRates struct{}

func (stubRates) Quote(_ context.Context, _ models.ShippingAddress, _ int, _ models.ProductType) ([]models.ShippingOption, error) {
	return []models.ShippingOption{{ID: "MAIL", Label: "Standard mail", ProductCostCents: 850, ShippingCostCents: 499, TotalCostCents: 1349, Currency: "USD"}}, nil
}

type stubSigner struct{}

func (stubSigner) SignURL(_ context.Context, kind storage.Kind, key string) (string, error) {
	return "https://signed.test/" + string(kind) + "/" + key, nil
}

type testEnv struct {
	srv     *httptest.Server
	store   *memory.Store
	gateway *stubGateway
	user    auth.User
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := logger.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := memory.New()
	gateway := &stubGateway{}
	catalog := service.NewCatalogService(config.CreditsConfig{Currency: "usd", EbookPrice: 1299, SoftcoverPrice: 2999, HardcoverPrice: 3999}, store)
	require.NoError(t, catalog.EnsureDefaults(ctx))
	credits := service.NewCreditService(store, store, 3, 0, m, log)
	creations := service.NewCreationService(credits, store, stubSigner{}, m)
	shipping := service.NewShippingService(stubRates{}, m, log)
	payments := service.NewPaymentService(service.PaymentServiceParams{
		Gateway:       gateway,
		Orders:        store,
		Catalog:       catalog,
		Credits:       credits,
		Creations:     creations,
		Shipping:      stubRates{},
		Metrics:       m,
		Log:           log,
		PublicBaseURL: "https://app.test",
		SuccessPath:   "/orders/success",
		CancelPath:    "/orders/cancelled",
	})
	orders := service.NewOrderService(store, stubSigner{}, nil, log)

	verifier, err := payment.NewStripe(config.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: webhookSecret})
	require.NoError(t, err)
	guard, err := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Hour, "stripe")
	require.NoError(t, err)

	server := NewServer(Deps{
		Auth:              authConfig,
		Admin:             config.AdminConfig{Username: "admin", Password: "s3cret"},
		FulfillmentSecret: fulfillmentSecret,
		Log:               log,
		Metrics:           m,
		Gatherer:          reg,
		Credits:           credits,
		Creations:         creations,
		Catalog:           catalog,
		Shipping:          shipping,
		Payments:          payments,
		Orders:            orders,
		Wizards:           checkout.NewManager(catalog, shipping, payments, log),
		Events:            verifier,
		Guard:             guard,
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	user := auth.User{ID: uuid.New(), Email: "parent@example.com"}
	token, err := auth.MintToken(authConfig, user, time.Now(), time.Hour)
	require.NoError(t, err)
	return &testEnv{srv: srv, store: store, gateway: gateway, user: user, token: token}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (e *testEnv) stripeEvent(t *testing.T, eventID string, session map[string]any) (int, envelope) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2025-01-01",
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	return e.do(t, http.MethodPost, "/webhooks/stripe", payload, "Stripe-Signature", signed.Header)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	status, body := env.do(t, http.MethodGet, "/api/credits/balance", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)

	env.token = "not-a-jwt"
	status, _ = env.do(t, http.MethodGet, "/api/credits/balance", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCreditsPurchaseOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	for _, title := range []string{"one", "two", "three"} {
		status, _ := env.do(t, http.MethodPost, "/api/creations", map[string]any{"title": title})
		require.Equal(t, http.StatusCreated, status)
	}
	status, body := env.do(t, http.MethodPost, "/api/creations", map[string]any{"title": "four"})
	assert.Equal(t, http.StatusPaymentRequired, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "NO_CREDITS", body.Error.Code)
	assert.Equal(t, "credit_packs", body.Error.Details["upsell"])

	status, body = env.do(t, http.MethodPost, "/api/credits/checkout", map[string]any{"pack": "starter"})
	require.Equal(t, http.StatusCreated, status)
	res := decode[checkout.Result](t, body)
	assert.NotEmpty(t, res.URL)

	session := map[string]any{
		"id":             res.SessionID,
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   499,
		"metadata":       env.gateway.last().Metadata,
	}
	status, body = env.stripeEvent(t, "evt_credit_1", session)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", decode[map[string]string](t, body)["status"])

	status, body = env.stripeEvent(t, "evt_credit_1", session)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "duplicate", decode[map[string]string](t, body)["status"])

	status, _ = env.stripeEvent(t, "evt_credit_2", session)
	require.Equal(t, http.StatusOK, status, "a new event for the same payment is applied idempotently")

	status, body = env.do(t, http.MethodGet, "/api/credits/balance", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.CreditBalance{PaidCredits: 3, TotalAvailable: 3}, decode[models.CreditBalance](t, body))

	status, body = env.do(t, http.MethodGet, "/api/credits/eligibility", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, service.Eligibility{CanCreate: true, WillUse: models.CreditSourcePaid}, decode[service.Eligibility](t, body))

	status, body = env.do(t, http.MethodGet, "/api/credits/transactions?limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.CreditTransaction](t, body), 2)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/webhooks/stripe", []byte(`{"id":"evt_x"}`), "Stripe-Signature", "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, body.Error)
}

func TestCreationDetailAndDelete(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/api/creations", map[string]any{
		"title":              "Dragon",
		"artist_name":        "Mia",
		"artist_age":         6,
		"original_image_key": "u/dragon.png",
		"page_image_keys":    []string{"u/p1.png", "u/p2.png"},
	})
	require.Equal(t, http.StatusCreated, status)
	saved := decode[service.SaveCreationResult](t, body)
	assert.Equal(t, models.CreditSourceFree, saved.Transaction.Source)

	path := "/api/creations/" + saved.Creation.ID.String()
	status, body = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, status)
	detail := decode[service.CreationDetail](t, body)
	assert.Equal(t, "https://signed.test/original-image/u/dragon.png", detail.OriginalImageURL)
	assert.Len(t, detail.PageImageURLs, 2)

	status, _ = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, body = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)

	status, _ = env.do(t, http.MethodGet, "/api/creations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestShippingQuoteValidation(t *testing.T) {
	env := newTestEnv(t)
	addr := map[string]any{
		"name": "Sam Parent", "street1": "123 Maple Street", "city": "Beverly Hills",
		"state": "CA", "zip": "1", "phone": "3105550199", "email": "sam@example.com",
	}
	status, body := env.do(t, http.MethodPost, "/api/shipping/quote", map[string]any{"address": addr, "book_type": "softcover"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, body.Error)
	assert.Contains(t, body.Error.Details, "zip")

	addr["zip"] = "90210"
	status, body = env.do(t, http.MethodPost, "/api/shipping/quote", map[string]any{"address": addr, "book_type": "softcover"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.ShippingOption](t, body), 1)
}

func TestWizardAndOrderOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/api/creations", map[string]any{"title": "Moon"})
	require.Equal(t, http.StatusCreated, status)
	creation := decode[service.SaveCreationResult](t, body).Creation

	status, body = env.do(t, http.MethodPost, "/api/checkout/wizards", map[string]any{
		"creation_id": creation.ID, "product_type": "ebook",
	})
	require.Equal(t, http.StatusCreated, status)
	wiz := decode[checkout.Wizard](t, body)
	assert.Equal(t, checkout.StateDedication, wiz.Machine.State)
	events := "/api/checkout/wizards/" + wiz.ID.String() + "/events"

	status, body = env.do(t, http.MethodPost, events, map[string]any{"action": "back"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "STATE_CONFLICT", body.Error.Code)

	status, body = env.do(t, http.MethodPost, events, map[string]any{"action": "next", "dedication_text": "For Leo"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, checkout.StateReview, decode[checkout.Wizard](t, body).Machine.State)

	status, body = env.do(t, http.MethodPost, events, map[string]any{"action": "checkout"})
	require.Equal(t, http.StatusOK, status)
	wiz = decode[checkout.Wizard](t, body)
	assert.Equal(t, checkout.StateRedirected, wiz.Machine.State)
	require.NotNil(t, wiz.OrderID)

	status, body = env.do(t, http.MethodGet, "/api/checkout/wizards/"+wiz.ID.String(), nil)
	require.Equal(t, http.StatusOK, status)

	orderPath := "/api/orders/" + wiz.OrderID.String()
	status, body = env.do(t, http.MethodGet, orderPath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.OrderPending, decode[models.Order](t, body).Status)

	callback := map[string]any{"order_id": wiz.OrderID, "status": "processing", "download_path": "ebooks/moon.pdf"}
	status, _ = env.do(t, http.MethodPost, "/webhooks/fulfillment", callback, "X-Fulfillment-Secret", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, "/webhooks/fulfillment", callback, "X-Fulfillment-Secret", fulfillmentSecret)
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodGet, orderPath, nil)
	require.Equal(t, http.StatusOK, status)
	order := decode[models.Order](t, body)
	assert.Equal(t, models.OrderProcessing, order.Status)
	assert.Equal(t, "https://signed.test/ebook/ebooks/moon.pdf", order.DownloadURL)
}

func TestAdminPacksNeedBasicAuth(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodGet, "/admin/packs", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/admin/packs",
		strings.NewReader(`{"name":"family","title":"Family pack","credits":15,"price_cents":1799}`))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	status, body := env.do(t, http.MethodGet, "/api/credits/packs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.CreditPack](t, body), 4)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	env.do(t, http.MethodGet, "/api/prices", nil)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `storybook_http_requests_total{route="/api/prices",status="2xx"}`)
}
