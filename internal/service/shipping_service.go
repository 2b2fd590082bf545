package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digkill/storybook/internal/auth"
	"github.com/digkill/storybook/internal/checkout"
	"github.com/digkill/storybook/internal/metrics"
	"github.com/digkill/storybook/internal/models"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

const shippingUnavailableMessage = "We couldn't load shipping options right now. Please check the address and try again."

// RateProvider quotes shipping levels from the print provider.
type RateProvider interface {
	Quote(ctx context.Context, addr models.ShippingAddress, quantity int, productType models.ProductType) ([]models.ShippingOption, error)
}

type ShippingService struct {
	provider RateProvider
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewShippingService(provider RateProvider, m *metrics.Metrics, log *slog.Logger) *ShippingService {
	return &ShippingService{provider: provider, metrics: m, log: log}
}

// Quote returns the shipping options for a physical book. Results are never cached.
func (s *ShippingService) Quote(ctx context.Context, addr models.ShippingAddress, quantity int, productType models.ProductType) ([]models.ShippingOption, error) {
	if _, ok := auth.UserFromContext(ctx); !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to get shipping rates")
	}
	if !productType.IsPhysical() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping applies to printed books only").
			WithDetails(map[string]string{"book_type": "must be softcover or hardcover"})
	}
	if quantity <= 0 {
		quantity = 1
	}
	if err := checkout.ValidateAddress(addr); err != nil {
		return nil, err
	}
	addr = checkout.NormalizeAddress(addr)

	start := time.Now()
	options, err := s.provider.Quote(ctx, addr, quantity, productType)
	s.metrics.Quote(time.Since(start), err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if s.log != nil {
			s.log.Warn("shipping quote failed", "product_type", productType, "country", addr.CountryCode, "err", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, shippingUnavailableMessage)
	}
	if len(options) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, shippingUnavailableMessage)
	}
	return options, nil
}
