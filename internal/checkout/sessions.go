package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

// Manager keeps one wizard per checkout session. The mutex is never held
// while the price, quote or checkout call is in flight; the machine state
// (LOADING_RATES, Submitting) rejects competing events meanwhile.
type Manager struct {
	mu      sync.RWMutex
	wizards map[uuid.UUID]*Wizard

	prices  PriceLookup
	quoter  ShippingQuoter
	creator Creator
	log     *slog.Logger
	now     func() time.Time
}

type StartInput struct {
	UserID      uuid.UUID
	UserEmail   string
	CreationID  uuid.UUID
	ProductType models.ProductType
}

func NewManager(prices PriceLookup, quoter ShippingQuoter, creator Creator, log *slog.Logger) *Manager {
	return &Manager{
		wizards: make(map[uuid.UUID]*Wizard),
		prices:  prices,
		quoter:  quoter,
		creator: creator,
		log:     log,
		now:     time.Now,
	}
}

// Start opens a wizard at DEDICATION and looks up the product price once.
func (m *Manager) Start(ctx context.Context, in StartInput) (Wizard, error) {
	if !in.ProductType.IsValid() {
		return Wizard{}, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"product_type": "must be one of: ebook softcover hardcover"})
	}
	if in.CreationID == uuid.Nil {
		return Wizard{}, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"creation_id": "is required"})
	}
	w := &Wizard{
		ID:          uuid.New(),
		UserID:      in.UserID,
		UserEmail:   in.UserEmail,
		CreationID:  in.CreationID,
		ProductType: in.ProductType,
		Machine:     NewMachine(in.ProductType),
	}
	if err := m.loadPrice(ctx, w); err != nil && isCanceled(err) {
		return Wizard{}, err
	}
	w.refresh(m.now())

	m.mu.Lock()
	m.wizards[w.ID] = w
	snapshot := *w
	m.mu.Unlock()
	return snapshot, nil
}

func (m *Manager) loadPrice(ctx context.Context, w *Wizard) error {
	price, err := m.prices.Price(ctx, w.ProductType)
	if err != nil {
		if !isCanceled(err) {
			w.Error = pricesFailedMessage
			if m.log != nil {
				m.log.Warn("checkout price lookup failed", "wizard_id", w.ID, "product_type", w.ProductType, "err", err)
			}
		}
		return err
	}
	w.Price = price
	next, _ := w.Machine.Apply(Event{Type: EventPricesLoaded})
	w.Machine = next
	return nil
}

func (m *Manager) Get(userID, id uuid.UUID) (Wizard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wizards[id]
	if !ok || w.UserID != userID {
		return Wizard{}, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
	}
	return *w, nil
}

// Handle applies a client action. Validation problems are returned as
// VALIDATION_ERROR and also kept on the wizard; provider failures move the
// wizard back to a retryable step and are reported inline only.
func (m *Manager) Handle(ctx context.Context, userID, id uuid.UUID, in Input) (Wizard, error) {
	m.mu.Lock()
	w, ok := m.wizards[id]
	if !ok || w.UserID != userID {
		m.mu.Unlock()
		return Wizard{}, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
	}

	switch in.Action {
	case ActionSubmitShipping:
		return m.submitShipping(ctx, w, in)
	case ActionCheckout:
		return m.checkout(ctx, w)
	case ActionReloadPrices:
		return m.reloadPrices(ctx, w)
	}
	defer m.mu.Unlock()

	var err error
	switch in.Action {
	case ActionNext:
		if w.Machine.State == StateDedication {
			if err = w.editDedication(in); err != nil {
				break
			}
		}
		w.clearErrors()
		err = w.apply(Event{Type: EventNext})
		if err != nil && w.Machine.State == StateSelectShipping {
			w.FieldErrors = map[string]string{"option_id": "select a shipping option"}
			err = pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(w.FieldErrors)
		}
	case ActionBack:
		if err = w.apply(Event{Type: EventBack}); err == nil {
			w.clearErrors()
		}
	case ActionSelectRate:
		w.clearErrors()
		err = w.selectRate(in.OptionID)
	default:
		err = pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"action": "unknown action"})
	}
	w.refresh(m.now())
	return *w, err
}

// submitShipping is entered with m.mu held and releases it for the quote.
func (m *Manager) submitShipping(ctx context.Context, w *Wizard, in Input) (Wizard, error) {
	if w.Machine.State != StateShipping {
		err := w.apply(Event{Type: EventSubmitShipping})
		snapshot := *w
		m.mu.Unlock()
		return snapshot, err
	}
	w.clearErrors()
	if in.Address != nil {
		addr := NormalizeAddress(*in.Address)
		w.Address = &addr
	}
	var verr error
	if w.Address == nil {
		verr = pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"address": "is required"})
	} else {
		verr = ValidateAddress(*w.Address)
	}
	if verr != nil {
		_, w.FieldErrors = inlineMessage(verr, "")
		w.refresh(m.now())
		snapshot := *w
		m.mu.Unlock()
		return snapshot, verr
	}
	if err := w.apply(Event{Type: EventSubmitShipping, AddressValid: true}); err != nil {
		snapshot := *w
		m.mu.Unlock()
		return snapshot, err
	}
	w.Options = nil
	w.Selected = nil
	w.refresh(m.now())
	addr := *w.Address
	productType := w.ProductType
	m.mu.Unlock()

	options, err := m.quoter.Quote(ctx, addr, 1, productType)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil && len(options) == 0 {
		err = pkgerrors.New(pkgerrors.CodeDependency, ratesFailedMessage)
	}
	if err != nil {
		_ = w.apply(Event{Type: EventRatesFailed})
		if !isCanceled(err) {
			w.Error, w.FieldErrors = inlineMessage(err, ratesFailedMessage)
			if m.log != nil {
				m.log.Warn("checkout rate quote failed", "wizard_id", w.ID, "err", err)
			}
			err = nil
		}
		w.refresh(m.now())
		return *w, err
	}
	w.Options = options
	_ = w.apply(Event{Type: EventRatesLoaded})
	w.refresh(m.now())
	return *w, nil
}

// checkout is entered with m.mu held and releases it for the payment call.
func (m *Manager) checkout(ctx context.Context, w *Wizard) (Wizard, error) {
	if err := w.apply(Event{Type: EventCheckout}); err != nil {
		w.refresh(m.now())
		snapshot := *w
		m.mu.Unlock()
		return snapshot, err
	}
	w.clearErrors()
	w.refresh(m.now())
	req := w.checkoutRequest()
	m.mu.Unlock()

	res, err := m.creator.CreateBookCheckout(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		_ = w.apply(Event{Type: EventCheckoutFailed})
		if !isCanceled(err) {
			w.Error, w.FieldErrors = inlineMessage(err, checkoutFailedMessage)
			if m.log != nil {
				m.log.Warn("checkout session failed", "wizard_id", w.ID, "err", err)
			}
			err = nil
		}
		w.refresh(m.now())
		return *w, err
	}
	_ = w.apply(Event{Type: EventCheckoutCreated})
	w.CheckoutURL = res.URL
	w.OrderID = res.OrderID
	w.refresh(m.now())
	return *w, nil
}

// reloadPrices is the manual retry after a failed price lookup.
func (m *Manager) reloadPrices(ctx context.Context, w *Wizard) (Wizard, error) {
	if w.Machine.PricesLoaded || w.Machine.State == StateRedirected {
		snapshot := *w
		m.mu.Unlock()
		return snapshot, nil
	}
	probe := &Wizard{ID: w.ID, ProductType: w.ProductType, Machine: w.Machine}
	m.mu.Unlock()

	err := m.loadPrice(ctx, probe)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if !isCanceled(err) {
			w.Error = probe.Error
			err = nil
		}
		w.refresh(m.now())
		return *w, err
	}
	w.Error = ""
	w.Price = probe.Price
	next, _ := w.Machine.Apply(Event{Type: EventPricesLoaded})
	w.Machine = next
	w.refresh(m.now())
	return *w, nil
}

// Prune drops wizards untouched since before and returns how many went.
func (m *Manager) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, w := range m.wizards {
		if w.UpdatedAt.Before(before) && !w.Machine.Submitting && w.Machine.State != StateLoadingRates {
			delete(m.wizards, id)
			n++
		}
	}
	return n
}
