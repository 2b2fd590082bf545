package checkout

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

const (
	maxDedicationLength = 500

	ratesFailedMessage    = "We couldn't load shipping options right now. Please check the address and try again."
	checkoutFailedMessage = "We couldn't start checkout. Please try again."
	pricesFailedMessage   = "Prices are unavailable right now. Please try again."
)

// Actions accepted from the client on top of the machine events the wizard
// raises itself.
const (
	ActionNext           = EventNext
	ActionBack           = EventBack
	ActionSubmitShipping = EventSubmitShipping
	ActionSelectRate     = EventSelectRate
	ActionCheckout       = EventCheckout
)

// ActionReloadPrices retries a failed price lookup.
const ActionReloadPrices EventType = "reload_prices"

// PriceLookup returns the retail price of a product type.
type PriceLookup interface {
	Price(ctx context.Context, productType models.ProductType) (*models.BookPrice, error)
}

// ShippingQuoter quotes shipping levels for an address.
type ShippingQuoter interface {
	Quote(ctx context.Context, addr models.ShippingAddress, quantity int, productType models.ProductType) ([]models.ShippingOption, error)
}

// Creator opens the hosted payment session for a finished wizard.
type Creator interface {
	CreateBookCheckout(ctx context.Context, req BookCheckoutRequest) (*Result, error)
}

// Wizard is one checkout attempt as the client sees it.
type Wizard struct {
	ID             uuid.UUID               `json:"id"`
	UserID         uuid.UUID               `json:"-"`
	UserEmail      string                  `json:"-"`
	CreationID     uuid.UUID               `json:"creation_id"`
	ProductType    models.ProductType      `json:"product_type"`
	Machine        Machine                 `json:"machine"`
	DedicationText string                  `json:"dedication_text"`
	IsGift         bool                    `json:"is_gift"`
	Address        *models.ShippingAddress `json:"address,omitempty"`
	Options        []models.ShippingOption `json:"options,omitempty"`
	Selected       *models.ShippingOption  `json:"selected,omitempty"`
	Price          *models.BookPrice       `json:"price,omitempty"`
	TotalCents     int                     `json:"total_cents"`
	Error          string                  `json:"error,omitempty"`
	FieldErrors    map[string]string       `json:"field_errors,omitempty"`
	CanCheckout    bool                    `json:"can_checkout"`
	CanGoBack      bool                    `json:"can_go_back"`
	CheckoutURL    string                  `json:"checkout_url,omitempty"`
	OrderID        *uuid.UUID              `json:"order_id,omitempty"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Input is a client action against a wizard. Only the fields relevant to the
// action are read.
type Input struct {
	Action         EventType               `json:"action"`
	DedicationText *string                 `json:"dedication_text,omitempty"`
	IsGift         *bool                   `json:"is_gift,omitempty"`
	Address        *models.ShippingAddress `json:"address,omitempty"`
	OptionID       string                  `json:"option_id,omitempty"`
}

func (w *Wizard) apply(ev Event) error {
	next, err := w.Machine.Apply(ev)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "checkout step not allowed").
			WithDetails(map[string]string{"state": string(w.Machine.State), "action": string(ev.Type)})
	}
	w.Machine = next
	return nil
}

func (w *Wizard) refresh(now time.Time) {
	w.CanCheckout = w.Machine.CanCheckout()
	w.CanGoBack = w.Machine.CanGoBack()
	w.TotalCents = 0
	if w.Price != nil {
		w.TotalCents = w.Price.PriceCents
	}
	if w.Selected != nil {
		w.TotalCents += w.Selected.ShippingCostCents
	}
	w.UpdatedAt = now
}

func (w *Wizard) clearErrors() {
	w.Error = ""
	w.FieldErrors = nil
}

func (w *Wizard) editDedication(in Input) error {
	if in.DedicationText != nil {
		text := strings.TrimSpace(*in.DedicationText)
		if utf8.RuneCountInString(text) > maxDedicationLength {
			w.FieldErrors = map[string]string{"dedication_text": "must be at most 500 characters"}
			return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(w.FieldErrors)
		}
		w.DedicationText = text
	}
	if in.IsGift != nil {
		w.IsGift = *in.IsGift
	}
	return nil
}

func (w *Wizard) selectRate(optionID string) error {
	for i := range w.Options {
		if w.Options[i].ID == optionID {
			if err := w.apply(Event{Type: EventSelectRate}); err != nil {
				return err
			}
			opt := w.Options[i]
			w.Selected = &opt
			return nil
		}
	}
	w.FieldErrors = map[string]string{"option_id": "choose one of the offered shipping options"}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(w.FieldErrors)
}

func (w *Wizard) checkoutRequest() BookCheckoutRequest {
	req := BookCheckoutRequest{
		UserID:         w.UserID,
		CreationID:     w.CreationID,
		ProductType:    w.ProductType,
		DedicationText: w.DedicationText,
		UserEmail:      w.UserEmail,
		IsGift:         w.IsGift,
	}
	if w.Price != nil {
		req.BookCostCents = w.Price.PriceCents
	}
	if w.Machine.Physical && w.Address != nil && w.Selected != nil {
		addr := *w.Address
		req.Shipping = &addr
		req.ShippingLevelID = w.Selected.ID
		req.ShippingCostCents = w.Selected.ShippingCostCents
	}
	return req
}

// inlineMessage picks the text shown next to the failed step.
func inlineMessage(err error, fallback string) (string, map[string]string) {
	typed := pkgerrors.As(err)
	if typed == nil {
		return fallback, nil
	}
	fields, _ := typed.Details().(map[string]string)
	if typed.Code() == pkgerrors.CodeValidation || typed.Code() == pkgerrors.CodeDependency {
		return typed.Message(), fields
	}
	return fallback, fields
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
