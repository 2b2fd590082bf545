package checkout

import (
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/pkg/validate"
)

const defaultCountry = "US"

// BookCheckoutRequest is the create-book-checkout payload. Shipping fields are
// only read for printed books.
type BookCheckoutRequest struct {
	UserID            uuid.UUID               `json:"-"`
	CreationID        uuid.UUID               `json:"creation_id" validate:"required"`
	ProductType       models.ProductType      `json:"product_type" validate:"required,oneof=ebook softcover hardcover"`
	DedicationText    string                  `json:"dedication_text" validate:"max=500"`
	UserEmail         string                  `json:"user_email" validate:"omitempty,email"`
	IsGift            bool                    `json:"is_gift"`
	Shipping          *models.ShippingAddress `json:"shipping,omitempty"`
	ShippingLevelID   string                  `json:"shipping_level_id,omitempty"`
	ShippingCostCents int                     `json:"shipping_cost,omitempty"`
	BookCostCents     int                     `json:"book_cost,omitempty"`
}

// Result is what the caller needs to redirect to hosted checkout.
type Result struct {
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	SessionID string     `json:"session_id"`
	URL       string     `json:"url"`
}

type addressForm struct {
	Name        string `json:"name" validate:"min=2"`
	Street1     string `json:"street1" validate:"min=5"`
	City        string `json:"city" validate:"min=2"`
	State       string `json:"state" validate:"min=2"`
	Zip         string `json:"zip" validate:"min=3"`
	CountryCode string `json:"country_code" validate:"len=2,alpha"`
	Phone       string `json:"phone" validate:"phone"`
	Email       string `json:"email" validate:"contains=@"`
}

// NormalizeAddress trims every field and fills in the default country.
func NormalizeAddress(addr models.ShippingAddress) models.ShippingAddress {
	out := models.ShippingAddress{
		Name:        strings.TrimSpace(addr.Name),
		Street1:     strings.TrimSpace(addr.Street1),
		Street2:     strings.TrimSpace(addr.Street2),
		City:        strings.TrimSpace(addr.City),
		State:       strings.TrimSpace(addr.State),
		Zip:         strings.TrimSpace(addr.Zip),
		CountryCode: strings.ToUpper(strings.TrimSpace(addr.CountryCode)),
		Phone:       strings.TrimSpace(addr.Phone),
		Email:       strings.TrimSpace(addr.Email),
	}
	if out.CountryCode == "" {
		out.CountryCode = defaultCountry
	}
	return out
}

// ValidateAddress applies the shipping form rules and returns a
// VALIDATION_ERROR with one message per offending field.
func ValidateAddress(addr models.ShippingAddress) error {
	addr = NormalizeAddress(addr)
	return validate.Struct(addressForm{
		Name:        addr.Name,
		Street1:     addr.Street1,
		City:        addr.City,
		State:       addr.State,
		Zip:         addr.Zip,
		CountryCode: addr.CountryCode,
		Phone:       addr.Phone,
		Email:       addr.Email,
	})
}
