package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/digkill/storybook/internal/checkout"
	"github.com/digkill/storybook/internal/metrics"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/notify"
	"github.com/digkill/storybook/internal/payment"
	"github.com/digkill/storybook/internal/repository"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

const (
	kindBook    = "book"
	kindCredits = "credits"

	checkoutUnavailableMessage = "We couldn't start checkout. Please try again."
)

// CheckoutGateway opens hosted checkout sessions.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

type PaymentService struct {
	gateway   CheckoutGateway
	orders    repository.OrderStore
	catalog   *CatalogService
	credits   *CreditService
	creations *CreationService
	shipping  RateProvider
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	log       *slog.Logger
	baseURL   string
	success   string
	cancel    string
	now       func() time.Time
}

type PaymentServiceParams struct {
	Gateway       CheckoutGateway
	Orders        repository.OrderStore
	Catalog       *CatalogService
	Credits       *CreditService
	Creations     *CreationService
	Shipping      RateProvider
	Notifier      notify.Notifier
	Metrics       *metrics.Metrics
	Log           *slog.Logger
	PublicBaseURL string
	SuccessPath   string
	CancelPath    string
}

func NewPaymentService(p PaymentServiceParams) *PaymentService {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &PaymentService{
		gateway:   p.Gateway,
		orders:    p.Orders,
		catalog:   p.Catalog,
		credits:   p.Credits,
		creations: p.Creations,
		shipping:  p.Shipping,
		notifier:  notifier,
		metrics:   p.Metrics,
		log:       p.Log,
		baseURL:   strings.TrimRight(p.PublicBaseURL, "/"),
		success:   p.SuccessPath,
		cancel:    p.CancelPath,
		now:       time.Now,
	}
}

// CreateBookCheckout records a pending order intent and returns the hosted
// checkout URL. The order is only confirmed by the payment webhook.
func (s *PaymentService) CreateBookCheckout(ctx context.Context, req checkout.BookCheckoutRequest) (*checkout.Result, error) {
	if !req.ProductType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown product type").
			WithDetails(map[string]string{"product_type": "must be ebook, softcover or hardcover"})
	}
	if err := s.creations.EnsureAccessible(ctx, req.UserID, req.CreationID); err != nil {
		return nil, err
	}
	price, err := s.catalog.Price(ctx, req.ProductType)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:             uuid.New(),
		UserID:         req.UserID,
		CreationID:     req.CreationID,
		OrderType:      req.ProductType,
		Status:         models.OrderPending,
		IsGift:         req.IsGift,
		DedicationText: strings.TrimSpace(req.DedicationText),
		BookCostCents:  price.PriceCents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	items := []payment.LineItem{{Name: bookItemName(req.ProductType), AmountCents: int64(price.PriceCents), Quantity: 1}}

	if req.ProductType.IsPhysical() {
		option, err := s.confirmShipping(ctx, req)
		if err != nil {
			return nil, err
		}
		addr := checkout.NormalizeAddress(*req.Shipping)
		order.Shipping = &addr
		order.ShippingLevel = option.ID
		order.ShippingCostCents = option.ShippingCostCents
		items = append(items, payment.LineItem{Name: "Shipping (" + option.Label + ")", AmountCents: int64(option.ShippingCostCents), Quantity: 1})
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, storeError(err, "create order")
	}

	email := req.UserEmail
	if email == "" && order.Shipping != nil {
		email = order.Shipping.Email
	}
	sess, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		Currency:          price.Currency,
		CustomerEmail:     email,
		ClientReferenceID: order.ID.String(),
		SuccessURL:        s.returnURL(s.success, "order_id="+order.ID.String()),
		CancelURL:         s.returnURL(s.cancel, "order_id="+order.ID.String()),
		Items:             items,
		Metadata: map[string]string{
			"kind":         kindBook,
			"order_id":     order.ID.String(),
			"user_id":      req.UserID.String(),
			"product_type": string(req.ProductType),
		},
	})
	s.metrics.Checkout(kindBook, err)
	if err != nil {
		s.abandonOrder(ctx, order.ID)
		return nil, s.gatewayError(err)
	}
	if err := s.orders.AttachCheckoutSession(ctx, order.ID, sess.ID); err != nil {
		return nil, storeError(err, "attach checkout session")
	}

	orderID := order.ID
	return &checkout.Result{OrderID: &orderID, SessionID: sess.ID, URL: sess.URL}, nil
}

// confirmShipping re-quotes the chosen level so the charged shipping cost
// comes from the provider rather than the client.
func (s *PaymentService) confirmShipping(ctx context.Context, req checkout.BookCheckoutRequest) (*models.ShippingOption, error) {
	if req.Shipping == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required").
			WithDetails(map[string]string{"shipping": "required"})
	}
	if err := checkout.ValidateAddress(*req.Shipping); err != nil {
		return nil, err
	}
	if req.ShippingLevelID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping level is required").
			WithDetails(map[string]string{"shipping_level_id": "required"})
	}
	options, err := s.shipping.Quote(ctx, checkout.NormalizeAddress(*req.Shipping), 1, req.ProductType)
	if err != nil {
		if errors.Is(err, context.Canceled) || pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, shippingUnavailableMessage)
	}
	for i := range options {
		if options[i].ID == req.ShippingLevelID {
			return &options[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping level is no longer available").
		WithDetails(map[string]string{"shipping_level_id": "not offered for this address"})
}

func (s *PaymentService) abandonOrder(ctx context.Context, id uuid.UUID) {
	if _, err := s.orders.ApplyFulfillmentUpdate(ctx, id, models.FulfillmentUpdate{Status: models.OrderCancelled}); err != nil && s.log != nil {
		s.log.Warn("cancel abandoned order", "order_id", id, "err", err)
	}
}

// CreateCreditCheckout opens a hosted checkout for an active credit pack.
func (s *PaymentService) CreateCreditCheckout(ctx context.Context, userID uuid.UUID, email, packName string) (*checkout.Result, error) {
	pack, err := s.catalog.Pack(ctx, packName)
	if err != nil {
		return nil, err
	}
	if !pack.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit pack not available")
	}
	sess, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		Currency:          pack.Currency,
		CustomerEmail:     email,
		ClientReferenceID: userID.String(),
		SuccessURL:        s.returnURL(s.success, "pack="+pack.Name),
		CancelURL:         s.returnURL(s.cancel, "pack="+pack.Name),
		Items: []payment.LineItem{{
			Name:        pack.Title,
			Description: fmt.Sprintf("%d creation credits", pack.Credits),
			AmountCents: int64(pack.PriceCents),
			Quantity:    1,
		}},
		Metadata: map[string]string{
			"kind":        kindCredits,
			"user_id":     userID.String(),
			"pack":        pack.Name,
			"credits":     strconv.Itoa(pack.Credits),
			"price_cents": strconv.Itoa(pack.PriceCents),
		},
	})
	s.metrics.Checkout(kindCredits, err)
	if err != nil {
		return nil, s.gatewayError(err)
	}
	return &checkout.Result{SessionID: sess.ID, URL: sess.URL}, nil
}

func (s *PaymentService) gatewayError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if s.log != nil {
		s.log.Error("checkout session failed", "err", err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, checkoutUnavailableMessage)
}

// HandleEvent applies a verified Stripe event. Unknown event types are ignored.
func (s *PaymentService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if event.Type == stripe.EventTypeCheckoutSessionCompleted && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// delayed payment methods confirm through async_payment_succeeded
		return nil
	}

	switch sess.Metadata["kind"] {
	case kindBook:
		return s.confirmBookOrder(ctx, &sess)
	case kindCredits:
		return s.confirmCreditPurchase(ctx, &sess)
	default:
		if s.log != nil {
			s.log.Warn("checkout session without known kind", "session_id", sess.ID)
		}
		return nil
	}
}

func (s *PaymentService) confirmBookOrder(ctx context.Context, sess *stripe.CheckoutSession) error {
	orderID, err := uuid.Parse(sess.Metadata["order_id"])
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkout session has no order id")
	}
	ref := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		ref = sess.PaymentIntent.ID
	}
	applied, err := s.orders.MarkPaymentReceived(ctx, orderID, ref, int(sess.AmountTotal))
	if err != nil {
		return storeError(err, "confirm order payment")
	}
	if !applied {
		return nil
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return storeError(err, "load order")
	}
	if s.log != nil {
		s.log.Info("order paid", "order_id", orderID, "type", order.OrderType, "amount", order.AmountPaidCents)
	}
	s.notifier.OrderPaid(ctx, order)
	return nil
}

func (s *PaymentService) confirmCreditPurchase(ctx context.Context, sess *stripe.CheckoutSession) error {
	userID, err := uuid.Parse(sess.Metadata["user_id"])
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkout session has no user id")
	}
	pack := sess.Metadata["pack"]
	credits, err := strconv.Atoi(sess.Metadata["credits"])
	if err != nil {
		// sessions opened before the pack snapshot was recorded
		return s.creditFromCatalog(ctx, userID, pack, sess.ID)
	}
	price, _ := strconv.Atoi(sess.Metadata["price_cents"])
	// the session id is the payment reference so redeliveries never double credit
	grant := PackGrant{Name: pack, Credits: credits, PriceCents: price}
	balance, applied, err := s.credits.GrantCredits(ctx, userID, grant, sess.ID)
	if err != nil {
		return err
	}
	if applied {
		s.notifier.CreditsPurchased(ctx, userID.String(), pack, credits, balance)
	}
	return nil
}

func (s *PaymentService) creditFromCatalog(ctx context.Context, userID uuid.UUID, pack, paymentRef string) error {
	balance, applied, err := s.credits.AddCredits(ctx, userID, pack, paymentRef)
	if err != nil {
		return err
	}
	if applied {
		credits := 0
		if p, err := s.catalog.Pack(ctx, pack); err == nil {
			credits = p.Credits
		}
		s.notifier.CreditsPurchased(ctx, userID.String(), pack, credits, balance)
	}
	return nil
}

func (s *PaymentService) returnURL(path, query string) string {
	u := s.baseURL + path
	if strings.Contains(u, "?") {
		return u + "&" + query
	}
	return u + "?" + query
}

func bookItemName(productType models.ProductType) string {
	switch productType {
	case models.ProductEbook:
		return "Storybook ebook"
	case models.ProductSoftcover:
		return "Softcover storybook"
	case models.ProductHardcover:
		return "Hardcover storybook"
	default:
		return "Storybook"
	}
}
