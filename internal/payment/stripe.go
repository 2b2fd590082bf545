// Package payment wraps Stripe hosted checkout and webhook verification.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/digkill/storybook/internal/config"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
)

// LineItem is one priced product on a checkout session.
type LineItem struct {
	Name        string
	Description string
	AmountCents int64
	Quantity    int64
}

type SessionRequest struct {
	Currency          string
	CustomerEmail     string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Items             []LineItem
	Metadata          map[string]string
}

type Session struct {
	ID  string
	URL string
}

type Stripe struct {
	signingSecret string
}

// NewStripe configures the Stripe SDK key once for the process.
func NewStripe(cfg config.StripeConfig) (*Stripe, error) {
	apiKey := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	stripe.Key = apiKey
	return &Stripe{signingSecret: secret}, nil
}

func (s *Stripe) SigningSecret() string {
	if s == nil {
		return ""
	}
	return s.signingSecret
}

// CreateSession opens a hosted checkout session in payment mode.
func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := BuildSessionParams(req)
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, fmt.Errorf("checkout session %s has no url", sess.ID)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// BuildSessionParams maps a request onto Stripe's session parameters.
func BuildSessionParams(req SessionRequest) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	for _, item := range req.Items {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.AmountCents),
				ProductData: product,
			},
			Quantity: stripe.Int64(quantity),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (s *Stripe) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, s.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
