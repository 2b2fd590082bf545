// Package memory is an in-process Store used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/repository"
)

type Store struct {
	mu sync.RWMutex

	profiles     map[uuid.UUID]*models.Profile
	creations    map[uuid.UUID]*models.Creation
	transactions []models.CreditTransaction
	paymentRefs  map[string]struct{}
	orders       map[uuid.UUID]*models.Order
	packs        map[string]*models.CreditPack
	prices       map[models.ProductType]*models.BookPrice
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		profiles:    make(map[uuid.UUID]*models.Profile),
		creations:   make(map[uuid.UUID]*models.Creation),
		paymentRefs: make(map[string]struct{}),
		orders:      make(map[uuid.UUID]*models.Order),
		packs:       make(map[string]*models.CreditPack),
		prices:      make(map[models.ProductType]*models.BookPrice),
	}
}

// Credit store

func (s *Store) EnsureProfile(_ context.Context, userID uuid.UUID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[userID]; ok {
		if email != "" {
			p.Email = email
		}
		return nil
	}
	now := time.Now().UTC()
	s.profiles[userID] = &models.Profile{
		UserID:           userID,
		Email:            email,
		SubscriptionTier: models.SubscriptionFree,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return nil
}

// SetSubscription changes a profile's tier; subscriptions are managed outside
// this service, so only tests and tooling call it.
func (s *Store) SetSubscription(userID uuid.UUID, tier models.SubscriptionTier, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	p.SubscriptionTier = tier
	p.SubscriptionExpiresAt = expiresAt
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *p
	for _, t := range s.transactions {
		if t.UserID == userID && t.Type == models.TransactionUsage && t.Source == models.CreditSourcePaid {
			out.PaidSavesUsed++
		}
	}
	return &out, nil
}

func (s *Store) ConsumeCredit(_ context.Context, userID, creationID uuid.UUID, freeLimit int, now time.Time) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.consumeLocked(userID, creationID, freeLimit, now)
}

func (s *Store) consumeLocked(userID, creationID uuid.UUID, freeLimit int, now time.Time) (*models.CreditTransaction, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return nil, repository.ErrNoCredits
	}

	entry := models.CreditTransaction{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       models.TransactionUsage,
		CreationID: &creationID,
		CreatedAt:  now,
	}
	switch {
	case p.FreeSavesUsed < freeLimit:
		p.FreeSavesUsed++
		entry.Source = models.CreditSourceFree
	case p.CreditBalance > 0:
		p.CreditBalance--
		entry.Source = models.CreditSourcePaid
		entry.Amount = -1
	default:
		return nil, repository.ErrNoCredits
	}
	p.UpdatedAt = now
	entry.BalanceAfter = p.CreditBalance
	s.transactions = append(s.transactions, entry)
	return &entry, nil
}

func (s *Store) AddCredits(_ context.Context, params repository.AddCreditsParams) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[params.UserID]
	if !ok {
		return 0, false, repository.ErrNotFound
	}
	if _, seen := s.paymentRefs[params.PaymentRef]; seen {
		return p.CreditBalance, false, nil
	}

	p.CreditBalance += params.Credits
	p.UpdatedAt = params.CreatedAt
	expires := params.ExpiresAt
	s.transactions = append(s.transactions, models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       params.UserID,
		Type:         models.TransactionPurchase,
		Amount:       params.Credits,
		BalanceAfter: p.CreditBalance,
		PackName:     params.PackName,
		PriceCents:   params.PriceCents,
		PaymentRef:   params.PaymentRef,
		ExpiresAt:    &expires,
		CreatedAt:    params.CreatedAt,
	})
	s.paymentRefs[params.PaymentRef] = struct{}{}
	return p.CreditBalance, true, nil
}

func (s *Store) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CreditTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID != userID {
			continue
		}
		out = append(out, s.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Creation store

func (s *Store) ListActive(_ context.Context, userID uuid.UUID) ([]models.Creation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Creation
	for _, c := range s.creations {
		if c.UserID == userID && !c.IsDeleted {
			cp := *c
			cp.PageImageKeys = append([]string(nil), c.PageImageKeys...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) SaveWithCredit(_ context.Context, creation *models.Creation, freeLimit int) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.creations[creation.ID]; exists {
		return nil, repository.ErrDuplicate
	}
	entry, err := s.consumeLocked(creation.UserID, creation.ID, freeLimit, creation.CreatedAt)
	if err != nil {
		return nil, err
	}
	cp := *creation
	cp.PageImageKeys = append([]string(nil), creation.PageImageKeys...)
	cp.IsLocked = false
	s.creations[cp.ID] = &cp
	return entry, nil
}

func (s *Store) SoftDelete(_ context.Context, userID, creationID uuid.UUID, releaseFree bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creations[creationID]
	if !ok || c.UserID != userID || c.IsDeleted {
		return repository.ErrNotFound
	}
	c.IsDeleted = true
	if p, ok := s.profiles[userID]; ok && releaseFree && p.FreeSavesUsed > 0 {
		p.FreeSavesUsed--
	}
	return nil
}

// Order store

func (s *Store) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return repository.ErrDuplicate
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) AttachCheckoutSession(_ context.Context, id uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.CheckoutSessionID = sessionID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkPaymentReceived(_ context.Context, id uuid.UUID, paymentRef string, amountPaidCents int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if o.Status != models.OrderPending {
		return false, nil
	}
	o.Status = models.OrderPaymentReceived
	o.PaymentRef = paymentRef
	o.AmountPaidCents = amountPaidCents
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) ApplyFulfillmentUpdate(_ context.Context, id uuid.UUID, update models.FulfillmentUpdate) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if o.Status.IsTerminal() && update.Status != "" && update.Status != o.Status {
		return nil, repository.ErrOrderTerminal
	}
	if update.Status != "" {
		o.Status = update.Status
	}
	if update.PrintOrderID != "" {
		o.PrintOrderID = update.PrintOrderID
	}
	if update.DownloadURL != "" {
		o.DownloadURL = update.DownloadURL
	}
	if update.DownloadPath != "" {
		o.DownloadPath = update.DownloadPath
	}
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	if o.Shipping != nil {
		addr := *o.Shipping
		cp.Shipping = &addr
	}
	return &cp
}

// Catalog store

func (s *Store) ListPacks(_ context.Context) ([]models.CreditPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CreditPack, 0, len(s.packs))
	for _, p := range s.packs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits != out[j].Credits {
			return out[i].Credits < out[j].Credits
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetPack(_ context.Context, name string) (*models.CreditPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.packs[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) CreatePack(_ context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.packs[pack.Name]; exists {
		return nil, repository.ErrDuplicate
	}
	cp := *pack
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.packs[cp.Name] = &cp
	out := cp
	return &out, nil
}

func (s *Store) UpdatePack(_ context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.packs[pack.Name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *pack
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.packs[cp.Name] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeletePack(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packs[name]; !ok {
		return repository.ErrNotFound
	}
	delete(s.packs, name)
	return nil
}

func (s *Store) SeedPack(_ context.Context, pack *models.CreditPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.packs[pack.Name]; exists {
		return nil
	}
	cp := *pack
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.packs[cp.Name] = &cp
	return nil
}

func (s *Store) ListPrices(_ context.Context) ([]models.BookPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BookPrice, 0, len(s.prices))
	for _, p := range s.prices {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out, nil
}

func (s *Store) GetPrice(_ context.Context, productType models.ProductType) (*models.BookPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[productType]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) SeedPrice(_ context.Context, price *models.BookPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.prices[price.ProductType]; exists {
		return nil
	}
	cp := *price
	s.prices[cp.ProductType] = &cp
	return nil
}
