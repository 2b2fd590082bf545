package models

import (
	"time"

	"github.com/google/uuid"
)

type CreditSource string

const (
	CreditSourceFree CreditSource = "free"
	CreditSourcePaid CreditSource = "paid"
)

type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
)

type SubscriptionTier string

const (
	SubscriptionFree    SubscriptionTier = "free"
	SubscriptionPremium SubscriptionTier = "premium"
)

type ProductType string

const (
	ProductEbook     ProductType = "ebook"
	ProductSoftcover ProductType = "softcover"
	ProductHardcover ProductType = "hardcover"
)

func (p ProductType) IsValid() bool {
	switch p {
	case ProductEbook, ProductSoftcover, ProductHardcover:
		return true
	}
	return false
}

// IsPhysical reports whether the product ships through the print provider.
func (p ProductType) IsPhysical() bool {
	return p == ProductSoftcover || p == ProductHardcover
}

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPaymentReceived OrderStatus = "payment_received"
	OrderProcessing      OrderStatus = "processing"
	OrderPrinted         OrderStatus = "printed"
	OrderShipped         OrderStatus = "shipped"
	OrderDelivered       OrderStatus = "delivered"
	OrderCancelled       OrderStatus = "cancelled"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderPending, OrderPaymentReceived, OrderProcessing, OrderPrinted, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

type Profile struct {
	UserID                uuid.UUID
	Email                 string
	FreeSavesUsed         int
	CreditBalance         int
	PaidSavesUsed         int
	SubscriptionTier      SubscriptionTier
	SubscriptionExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsPremium reports an active, unexpired premium subscription at now.
func (p *Profile) IsPremium(now time.Time) bool {
	if p == nil || p.SubscriptionTier != SubscriptionPremium {
		return false
	}
	return p.SubscriptionExpiresAt == nil || p.SubscriptionExpiresAt.After(now)
}

type CreditBalance struct {
	FreeRemaining  int `json:"free_remaining"`
	PaidCredits    int `json:"paid_credits"`
	TotalAvailable int `json:"total_available"`
}

type CreditTransaction struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int             `json:"amount"`
	BalanceAfter int             `json:"balance_after"`
	Source       CreditSource    `json:"source,omitempty"`
	PackName     string          `json:"pack_name,omitempty"`
	PriceCents   int             `json:"price_cents,omitempty"`
	PaymentRef   string          `json:"payment_ref,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	CreationID   *uuid.UUID      `json:"creation_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Creation struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Title            string    `json:"title"`
	ArtistName       string    `json:"artist_name,omitempty"`
	ArtistAge        int       `json:"artist_age,omitempty"`
	OriginalImageKey string    `json:"-"`
	VideoKey         string    `json:"-"`
	PageImageKeys    []string  `json:"-"`
	IsDeleted        bool      `json:"-"`
	IsLocked         bool      `json:"is_locked"`
	CreatedAt        time.Time `json:"created_at"`
}

type CreditPack struct {
	Name       string    `json:"name"`
	Title      string    `json:"title"`
	Credits    int       `json:"credits"`
	PriceCents int       `json:"price_cents"`
	Currency   string    `json:"currency"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type BookPrice struct {
	ProductType ProductType `json:"product_type"`
	PriceCents  int         `json:"price_cents"`
	Currency    string      `json:"currency"`
}

type ShippingAddress struct {
	Name        string `json:"name"`
	Street1     string `json:"street1"`
	Street2     string `json:"street2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zip         string `json:"zip"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

type ShippingOption struct {
	ID                string    `json:"id"`
	Label             string    `json:"label"`
	ProductCostCents  int       `json:"product_cost_cents"`
	ShippingCostCents int       `json:"shipping_cost_cents"`
	TotalCostCents    int       `json:"total_cost_cents"`
	Currency          string    `json:"currency"`
	MinDeliveryDays   int       `json:"min_delivery_days"`
	MaxDeliveryDays   int       `json:"max_delivery_days"`
	EstimatedFrom     time.Time `json:"estimated_from"`
	EstimatedTo       time.Time `json:"estimated_to"`
}

type Order struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"user_id"`
	CreationID        uuid.UUID        `json:"creation_id"`
	OrderType         ProductType      `json:"order_type"`
	Status            OrderStatus      `json:"status"`
	AmountPaidCents   int              `json:"amount_paid_cents"`
	IsGift            bool             `json:"is_gift"`
	DedicationText    string           `json:"dedication_text,omitempty"`
	Shipping          *ShippingAddress `json:"shipping,omitempty"`
	ShippingLevel     string           `json:"shipping_level,omitempty"`
	ShippingCostCents int              `json:"shipping_cost_cents,omitempty"`
	BookCostCents     int              `json:"book_cost_cents"`
	CheckoutSessionID string           `json:"-"`
	PaymentRef        string           `json:"-"`
	PrintOrderID      string           `json:"print_order_id,omitempty"`
	DownloadURL       string           `json:"download_url,omitempty"`
	DownloadPath      string           `json:"download_path,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// FulfillmentUpdate carries a status callback from the fulfillment provider.
// Empty fields leave the stored values untouched.
type FulfillmentUpdate struct {
	Status       OrderStatus
	PrintOrderID string
	DownloadURL  string
	DownloadPath string
}
