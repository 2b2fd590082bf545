package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/digkill/storybook/internal/api"
	"github.com/digkill/storybook/internal/checkout"
	"github.com/digkill/storybook/internal/config"
	"github.com/digkill/storybook/internal/database"
	"github.com/digkill/storybook/internal/idempotency"
	"github.com/digkill/storybook/internal/lulu"
	"github.com/digkill/storybook/internal/metrics"
	"github.com/digkill/storybook/internal/notify"
	"github.com/digkill/storybook/internal/payment"
	"github.com/digkill/storybook/internal/repository"
	"github.com/digkill/storybook/internal/repository/memory"
	"github.com/digkill/storybook/internal/service"
	"github.com/digkill/storybook/internal/storage"
	"github.com/digkill/storybook/pkg/logger"
)

const (
	wizardTTL        = 2 * time.Hour
	wizardPruneEvery = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	signer, err := storage.NewSigner(cfg.S3)
	if err != nil {
		log.Fatalf("storage signer: %v", err)
	}
	stripeClient, err := payment.NewStripe(cfg.Stripe)
	if err != nil {
		log.Fatalf("stripe: %v", err)
	}
	printer := lulu.NewClient(cfg.Lulu, cfg.App.RequestTimeout, logr)

	guard, err := newGuard(ctx, cfg.Redis, logr)
	if err != nil {
		log.Fatalf("idempotency: %v", err)
	}
	defer func() {
		if err := guard.Close(); err != nil {
			logr.Warn("close idempotency store", "err", err)
		}
	}()

	notifier := newNotifier(cfg.Telegram, logr)

	catalog := service.NewCatalogService(cfg.Credits, store)
	if err := catalog.EnsureDefaults(ctx); err != nil {
		log.Fatalf("ensure catalog defaults: %v", err)
	}
	credits := service.NewCreditService(store, store, cfg.Credits.FreeLimit, cfg.Credits.PurchaseTTL, m, logr)
	creations := service.NewCreationService(credits, store, signer, m)
	shipping := service.NewShippingService(printer, m, logr)
	payments := service.NewPaymentService(service.PaymentServiceParams{
		Gateway:       stripeClient,
		Orders:        store,
		Catalog:       catalog,
		Credits:       credits,
		Creations:     creations,
		Shipping:      printer,
		Notifier:      notifier,
		Metrics:       m,
		Log:           logr,
		PublicBaseURL: cfg.App.PublicBaseURL,
		SuccessPath:   cfg.Stripe.SuccessPath,
		CancelPath:    cfg.Stripe.CancelPath,
	})
	orders := service.NewOrderService(store, signer, notifier, logr)

	wizards := checkout.NewManager(catalog, shipping, payments, logr)
	go pruneWizards(ctx, wizards, logr)

	server := api.NewServer(api.Deps{
		Addr:              cfg.App.ListenAddr,
		Auth:              cfg.Auth,
		Admin:             cfg.Admin,
		FulfillmentSecret: cfg.Fulfillment.CallbackSecret,
		Log:               logr,
		Metrics:           m,
		Gatherer:          reg,
		Credits:           credits,
		Creations:         creations,
		Catalog:           catalog,
		Shipping:          shipping,
		Payments:          payments,
		Orders:            orders,
		Wizards:           wizards,
		Events:            stripeClient,
		Guard:             guard,
		Ready:             ready,
	})

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(context.Context) error, func(), error) {
	if cfg.App.Store == config.StoreMemory {
		return memory.New(), nil, func() {}, nil
	}
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return repository.NewMySQLStore(db), db.PingContext, closer(db), nil
}

func closer(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func newGuard(ctx context.Context, cfg config.RedisConfig, logr *slog.Logger) (*idempotency.Guard, error) {
	if cfg.URL == "" {
		logr.Warn("REDIS_URL not set, webhook idempotency is process-local")
		return idempotency.NewGuard(idempotency.NewMemoryStore(), cfg.IdempotencyTTL, "stripe")
	}
	store, err := idempotency.NewRedisStore(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return idempotency.NewGuard(store, cfg.IdempotencyTTL, "stripe")
}

func newNotifier(cfg config.TelegramConfig, logr *slog.Logger) notify.Notifier {
	if cfg.BotToken == "" || cfg.OpsChat == 0 {
		return notify.Noop{}
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logr.Warn("telegram notifier disabled", "err", err)
		return notify.Noop{}
	}
	return notify.NewTelegram(botAPI, cfg.OpsChat, logr)
}

func pruneWizards(ctx context.Context, wizards *checkout.Manager, logr *slog.Logger) {
	ticker := time.NewTicker(wizardPruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := wizards.Prune(now.Add(-wizardTTL)); n > 0 {
				logr.Debug("pruned checkout wizards", "count", n)
			}
		}
	}
}
