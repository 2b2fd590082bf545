package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/digkill/storybook/internal/config"
)

func TestBuildSessionParams(t *testing.T) {
	params := BuildSessionParams(SessionRequest{
		Currency:      "USD",
		CustomerEmail: "parent@example.com",
		SuccessURL:    "https://app.test/orders/success",
		CancelURL:     "https://app.test/orders/cancelled",
		Items: []LineItem{
			{Name: "Softcover book", AmountCents: 2999},
			{Name: "Shipping (Standard Mail)", AmountCents: 499},
		},
		Metadata: map[string]string{"kind": "book", "order_id": "o1"},
	})

	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	assert.Equal(t, "parent@example.com", *params.CustomerEmail)
	require.Len(t, params.LineItems, 2)
	assert.Equal(t, "usd", *params.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(2999), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, int64(1), *params.LineItems[1].Quantity)
	assert.Equal(t, "book", params.Metadata["kind"])
}

func TestNewStripeRequiresSecrets(t *testing.T) {
	_, err := NewStripe(config.StripeConfig{WebhookSecret: "whsec"})
	require.Error(t, err)
	_, err = NewStripe(config.StripeConfig{SecretKey: "sk_test_1"})
	require.Error(t, err)
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	s := &Stripe{signingSecret: "whsec_test"}
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": map[string]any{"id": "cs_1", "object": "checkout.session"}},
	})
	require.NoError(t, err)

	event, err := s.ConstructEvent(payload, SignPayload(payload, "whsec_test", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripe.EventTypeCheckoutSessionCompleted, event.Type)

	_, err = s.ConstructEvent(payload, "t=1,v1=bad")
	require.Error(t, err)
}

// SignPayload builds a Stripe-Signature header value for tests.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
