package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/digkill/storybook/internal/config"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/repository"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

var packNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

type CatalogService struct {
	cfg  config.CreditsConfig
	repo repository.CatalogStore
}

type CreatePackInput struct {
	Name       string
	Title      string
	Credits    int
	PriceCents int
	Currency   string
	IsActive   *bool
}

type UpdatePackInput struct {
	Title      *string
	Credits    *int
	PriceCents *int
	Currency   *string
	IsActive   *bool
}

func NewCatalogService(cfg config.CreditsConfig, repo repository.CatalogStore) *CatalogService {
	return &CatalogService{cfg: cfg, repo: repo}
}

// EnsureDefaults seeds the standard credit packs and book prices; existing
// rows are left as an operator configured them.
func (s *CatalogService) EnsureDefaults(ctx context.Context) error {
	packs := []models.CreditPack{
		{Name: "starter", Title: "Starter pack", Credits: 3, PriceCents: 499},
		{Name: "creator", Title: "Creator pack", Credits: 10, PriceCents: 1299},
		{Name: "studio", Title: "Studio pack", Credits: 25, PriceCents: 2499},
	}
	for i := range packs {
		packs[i].Currency = s.cfg.Currency
		packs[i].IsActive = true
		if err := s.repo.SeedPack(ctx, &packs[i]); err != nil {
			return fmt.Errorf("seed pack %s: %w", packs[i].Name, err)
		}
	}

	prices := []models.BookPrice{
		{ProductType: models.ProductEbook, PriceCents: s.cfg.EbookPrice},
		{ProductType: models.ProductSoftcover, PriceCents: s.cfg.SoftcoverPrice},
		{ProductType: models.ProductHardcover, PriceCents: s.cfg.HardcoverPrice},
	}
	for i := range prices {
		prices[i].Currency = s.cfg.Currency
		if err := s.repo.SeedPrice(ctx, &prices[i]); err != nil {
			return fmt.Errorf("seed price %s: %w", prices[i].ProductType, err)
		}
	}
	return nil
}

// Packs lists credit packs; activeOnly hides retired ones from shoppers.
func (s *CatalogService) Packs(ctx context.Context, activeOnly bool) ([]models.CreditPack, error) {
	packs, err := s.repo.ListPacks(ctx)
	if err != nil {
		return nil, storeError(err, "list packs")
	}
	out := make([]models.CreditPack, 0, len(packs))
	for _, p := range packs {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *CatalogService) Pack(ctx context.Context, name string) (*models.CreditPack, error) {
	pack, err := s.repo.GetPack(ctx, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return nil, storeError(err, "credit pack not found")
	}
	return pack, nil
}

func (s *CatalogService) CreatePack(ctx context.Context, input CreatePackInput) (*models.CreditPack, error) {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	details := map[string]string{}
	if !packNamePattern.MatchString(name) {
		details["name"] = "lowercase letters, digits, dashes"
	}
	if strings.TrimSpace(input.Title) == "" {
		details["title"] = "required"
	}
	if input.PriceCents <= 0 {
		details["price_cents"] = "must be positive"
	}
	if input.Credits <= 0 {
		details["credits"] = "must be positive"
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid credit pack").WithDetails(details)
	}
	currency := strings.ToLower(input.Currency)
	if currency == "" {
		currency = s.cfg.Currency
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	created, err := s.repo.CreatePack(ctx, &models.CreditPack{
		Name:       name,
		Title:      strings.TrimSpace(input.Title),
		Credits:    input.Credits,
		PriceCents: input.PriceCents,
		Currency:   currency,
		IsActive:   isActive,
	})
	if err != nil {
		return nil, storeError(err, "credit pack already exists")
	}
	return created, nil
}

func (s *CatalogService) UpdatePack(ctx context.Context, name string, input UpdatePackInput) (*models.CreditPack, error) {
	existing, err := s.Pack(ctx, name)
	if err != nil {
		return nil, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) != "" {
		existing.Title = strings.TrimSpace(*input.Title)
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = strings.ToLower(*input.Currency)
	}
	if input.PriceCents != nil && *input.PriceCents > 0 {
		existing.PriceCents = *input.PriceCents
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	updated, err := s.repo.UpdatePack(ctx, existing)
	if err != nil {
		return nil, storeError(err, "update pack")
	}
	return updated, nil
}

func (s *CatalogService) DeletePack(ctx context.Context, name string) error {
	if err := s.repo.DeletePack(ctx, strings.ToLower(strings.TrimSpace(name))); err != nil {
		return storeError(err, "credit pack not found")
	}
	return nil
}

func (s *CatalogService) Prices(ctx context.Context) ([]models.BookPrice, error) {
	prices, err := s.repo.ListPrices(ctx)
	if err != nil {
		return nil, storeError(err, "list prices")
	}
	return prices, nil
}

func (s *CatalogService) Price(ctx context.Context, productType models.ProductType) (*models.BookPrice, error) {
	if !productType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown product type")
	}
	price, err := s.repo.GetPrice(ctx, productType)
	if err != nil {
		return nil, storeError(err, "price not configured")
	}
	return price, nil
}
