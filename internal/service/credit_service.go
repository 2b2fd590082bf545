package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/metrics"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/repository"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

const defaultTransactionLimit = 50

// Eligibility answers whether the next save is allowed and which allowance it draws from.
type Eligibility struct {
	CanCreate bool                `json:"can_create"`
	WillUse   models.CreditSource `json:"will_use,omitempty"`
}

type CreditService struct {
	credits     repository.CreditStore
	packs       repository.CatalogStore
	freeLimit   int
	purchaseTTL time.Duration
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
}

func NewCreditService(credits repository.CreditStore, packs repository.CatalogStore, freeLimit int, purchaseTTL time.Duration, m *metrics.Metrics, log *slog.Logger) *CreditService {
	if purchaseTTL <= 0 {
		purchaseTTL = 365 * 24 * time.Hour
	}
	return &CreditService{
		credits:     credits,
		packs:       packs,
		freeLimit:   freeLimit,
		purchaseTTL: purchaseTTL,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

func (s *CreditService) FreeLimit() int {
	return s.freeLimit
}

func (s *CreditService) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) error {
	if err := s.credits.EnsureProfile(ctx, userID, email); err != nil {
		return storeError(err, "ensure profile")
	}
	return nil
}

// Profile returns the stored profile, or a fresh one when the user has none yet.
func (s *CreditService) Profile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := s.credits.GetProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Profile{UserID: userID, SubscriptionTier: models.SubscriptionFree}, nil
	}
	if err != nil {
		return nil, storeError(err, "load profile")
	}
	return profile, nil
}

func (s *CreditService) GetBalance(ctx context.Context, userID uuid.UUID) (models.CreditBalance, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return models.CreditBalance{}, err
	}
	return BalanceOf(profile, s.freeLimit), nil
}

// BalanceOf derives the user-facing balance; both parts are clamped at zero.
func BalanceOf(profile *models.Profile, freeLimit int) models.CreditBalance {
	free := freeLimit - profile.FreeSavesUsed
	if free < 0 {
		free = 0
	}
	paid := profile.CreditBalance
	if paid < 0 {
		paid = 0
	}
	return models.CreditBalance{
		FreeRemaining:  free,
		PaidCredits:    paid,
		TotalAvailable: free + paid,
	}
}

func (s *CreditService) CanCreate(ctx context.Context, userID uuid.UUID) (Eligibility, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return Eligibility{}, err
	}
	switch {
	case balance.FreeRemaining > 0:
		return Eligibility{CanCreate: true, WillUse: models.CreditSourceFree}, nil
	case balance.PaidCredits > 0:
		return Eligibility{CanCreate: true, WillUse: models.CreditSourcePaid}, nil
	default:
		return Eligibility{}, nil
	}
}

// UseCredit spends one save for creationID, free allowance first.
func (s *CreditService) UseCredit(ctx context.Context, userID, creationID uuid.UUID) (*models.CreditTransaction, error) {
	if err := s.EnsureProfile(ctx, userID, ""); err != nil {
		return nil, err
	}
	entry, err := s.credits.ConsumeCredit(ctx, userID, creationID, s.freeLimit, s.now().UTC())
	if err != nil {
		return nil, s.creditError(err)
	}
	s.metrics.CreditConsumed(string(entry.Source))
	return entry, nil
}

func (s *CreditService) creditError(err error) error {
	if errors.Is(err, repository.ErrNoCredits) {
		s.metrics.CreditDenied()
		return pkgerrors.Wrap(pkgerrors.CodeNoCredits, err, "no creation credits left").
			WithDetails(map[string]any{"upsell": "credit_packs"})
	}
	return storeError(err, "consume credit")
}

// PackGrant is what a purchase entitles the buyer to, fixed when the
// checkout session was opened.
type PackGrant struct {
	Name       string
	Credits    int
	PriceCents int
}

// AddCredits credits the pack as currently configured, once per paymentRef.
// A replayed paymentRef returns the current balance with applied=false.
func (s *CreditService) AddCredits(ctx context.Context, userID uuid.UUID, packName, paymentRef string) (int, bool, error) {
	pack, err := s.packs.GetPack(ctx, packName)
	if err != nil {
		return 0, false, storeError(err, fmt.Sprintf("credit pack %q", packName))
	}
	return s.GrantCredits(ctx, userID, PackGrant{Name: pack.Name, Credits: pack.Credits, PriceCents: pack.PriceCents}, paymentRef)
}

// GrantCredits credits exactly what grant describes, once per paymentRef. The
// catalog is not consulted, so later pack edits or deletions do not change a
// purchase that was already paid for.
func (s *CreditService) GrantCredits(ctx context.Context, userID uuid.UUID, grant PackGrant, paymentRef string) (int, bool, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return 0, false, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if grant.Credits <= 0 {
		return 0, false, pkgerrors.New(pkgerrors.CodeValidation, "credit pack has no credits")
	}
	if err := s.EnsureProfile(ctx, userID, ""); err != nil {
		return 0, false, err
	}

	now := s.now().UTC()
	balance, applied, err := s.credits.AddCredits(ctx, repository.AddCreditsParams{
		UserID:     userID,
		PackName:   grant.Name,
		Credits:    grant.Credits,
		PriceCents: grant.PriceCents,
		PaymentRef: paymentRef,
		ExpiresAt:  now.Add(s.purchaseTTL),
		CreatedAt:  now,
	})
	if err != nil {
		return 0, false, storeError(err, "add credits")
	}
	if applied {
		s.metrics.CreditsPurchased(grant.Name, grant.Credits)
		if s.log != nil {
			s.log.Info("credits added", "user_id", userID, "pack", grant.Name, "credits", grant.Credits, "balance", balance)
		}
	}
	return balance, applied, nil
}

func (s *CreditService) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultTransactionLimit
	}
	entries, err := s.credits.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, storeError(err, "list transactions")
	}
	if entries == nil {
		entries = []models.CreditTransaction{}
	}
	return entries, nil
}
