package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
)

var (
	ErrNotFound      = errors.New("repository: not found")
	ErrNoCredits     = errors.New("repository: no free or paid credit available")
	ErrOrderTerminal = errors.New("repository: order is in a terminal status")
	ErrDuplicate     = errors.New("repository: already exists")
)

// AddCreditsParams describes one purchase ledger entry.
type AddCreditsParams struct {
	UserID     uuid.UUID
	PackName   string
	Credits    int
	PriceCents int
	PaymentRef string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// CreditStore owns profiles and the append-only credit ledger.
type CreditStore interface {
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	// ConsumeCredit spends one free slot, or one paid credit when no free slot
	// remains, and appends the usage entry. Returns ErrNoCredits when neither is left.
	ConsumeCredit(ctx context.Context, userID, creationID uuid.UUID, freeLimit int, now time.Time) (*models.CreditTransaction, error)
	// AddCredits is idempotent per PaymentRef: a replay reports applied=false
	// and the current balance.
	AddCredits(ctx context.Context, params AddCreditsParams) (balance int, applied bool, err error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

type CreationStore interface {
	// ListActive returns non-deleted creations ordered by created_at, then id.
	ListActive(ctx context.Context, userID uuid.UUID) ([]models.Creation, error)
	// SaveWithCredit inserts the creation and consumes a credit atomically.
	SaveWithCredit(ctx context.Context, creation *models.Creation, freeLimit int) (*models.CreditTransaction, error)
	// SoftDelete marks the creation deleted; releaseFree returns one free slot.
	SoftDelete(ctx context.Context, userID, creationID uuid.UUID, releaseFree bool) error
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string) error
	// MarkPaymentReceived moves a pending order to payment_received; applied is
	// false when the order was already confirmed.
	MarkPaymentReceived(ctx context.Context, id uuid.UUID, paymentRef string, amountPaidCents int) (applied bool, err error)
	ApplyFulfillmentUpdate(ctx context.Context, id uuid.UUID, update models.FulfillmentUpdate) (*models.Order, error)
}

type CatalogStore interface {
	ListPacks(ctx context.Context) ([]models.CreditPack, error)
	GetPack(ctx context.Context, name string) (*models.CreditPack, error)
	CreatePack(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error)
	UpdatePack(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error)
	DeletePack(ctx context.Context, name string) error
	SeedPack(ctx context.Context, pack *models.CreditPack) error
	ListPrices(ctx context.Context) ([]models.BookPrice, error)
	GetPrice(ctx context.Context, productType models.ProductType) (*models.BookPrice, error)
	SeedPrice(ctx context.Context, price *models.BookPrice) error
}

// Store bundles every persistence concern; implemented by MySQL and memory backends.
type Store interface {
	CreditStore
	CreationStore
	OrderStore
	CatalogStore
}

// MySQLStore is the database/sql backed Store.
type MySQLStore struct {
	*CreditRepository
	*CreationRepository
	*OrderRepository
	*CatalogRepository
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		CreditRepository:   NewCreditRepository(db),
		CreationRepository: NewCreationRepository(db),
		OrderRepository:    NewOrderRepository(db),
		CatalogRepository:  NewCatalogRepository(db),
	}
}
