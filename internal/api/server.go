// Package api serves the storybook HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/digkill/storybook/internal/checkout"
	"github.com/digkill/storybook/internal/config"
	"github.com/digkill/storybook/internal/idempotency"
	"github.com/digkill/storybook/internal/metrics"
	"github.com/digkill/storybook/internal/service"
)

// EventVerifier checks a webhook signature and decodes the event.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type Deps struct {
	Addr              string
	Auth              config.AuthConfig
	Admin             config.AdminConfig
	FulfillmentSecret string
	Log               *slog.Logger
	Metrics           *metrics.Metrics
	Gatherer          prometheus.Gatherer
	Credits           *service.CreditService
	Creations         *service.CreationService
	Catalog           *service.CatalogService
	Shipping          *service.ShippingService
	Payments          *service.PaymentService
	Orders            *service.OrderService
	Wizards           *checkout.Manager
	Events            EventVerifier
	Guard             *idempotency.Guard
	// Ready reports backing store health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	Deps
	router *chi.Mux
}

func NewServer(d Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{Deps: d, router: r}
	r.Use(s.requestLogger)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/webhooks/stripe", s.handleStripeWebhook)
	r.Post("/webhooks/fulfillment", s.handleFulfillmentWebhook)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Use(s.ensureProfile)

		api.Route("/credits", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/eligibility", s.handleEligibility)
			r.Get("/transactions", s.handleTransactions)
			r.Get("/packs", s.handleListPacks)
			r.Post("/checkout", s.handleCreditCheckout)
		})
		api.Route("/creations", func(r chi.Router) {
			r.Get("/", s.handleListCreations)
			r.Post("/", s.handleSaveCreation)
			r.Get("/{id}", s.handleGetCreation)
			r.Delete("/{id}", s.handleDeleteCreation)
		})
		api.Get("/prices", s.handlePrices)
		api.Post("/shipping/quote", s.handleShippingQuote)
		api.Route("/checkout", func(r chi.Router) {
			r.Post("/book", s.handleBookCheckout)
			r.Post("/wizards", s.handleStartWizard)
			r.Get("/wizards/{id}", s.handleGetWizard)
			r.Post("/wizards/{id}/events", s.handleWizardEvent)
		})
		api.Get("/orders/{id}", s.handleGetOrder)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuth)
		admin.Route("/packs", func(r chi.Router) {
			r.Get("/", s.handleAdminListPacks)
			r.Post("/", s.handleAdminCreatePack)
			r.Put("/{name}", s.handleAdminUpdatePack)
			r.Delete("/{name}", s.handleAdminDeletePack)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Log.Error("http shutdown error", "err", err)
		}
	}()

	s.Log.Info("api listening", "addr", s.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			s.Log.Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
