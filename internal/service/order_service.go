package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/notify"
	"github.com/digkill/storybook/internal/repository"
	"github.com/digkill/storybook/internal/storage"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

type OrderService struct {
	orders   repository.OrderStore
	signer   URLSigner
	notifier notify.Notifier
	log      *slog.Logger
}

func NewOrderService(orders repository.OrderStore, signer URLSigner, notifier notify.Notifier, log *slog.Logger) *OrderService {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &OrderService{orders: orders, signer: signer, notifier: notifier, log: log}
}

// Get returns the caller's order. When the ebook is stored privately, a fresh
// signed URL is issued on every read.
func (s *OrderService) Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order not found")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.DownloadURL == "" && order.DownloadPath != "" && s.signer != nil {
		u, err := s.signer.SignURL(ctx, storage.KindEbook, order.DownloadPath)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign download url")
		}
		order.DownloadURL = u
	}
	return order, nil
}

// ApplyFulfillment records a status callback from the fulfillment provider.
// Delivered and cancelled orders never change status again.
func (s *OrderService) ApplyFulfillment(ctx context.Context, orderID uuid.UUID, update models.FulfillmentUpdate) (*models.Order, error) {
	if update.Status != "" && !update.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]string{"status": string(update.Status)})
	}
	if update.Status == models.OrderPending {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orders cannot return to pending")
	}

	before, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order not found")
	}
	order, err := s.orders.ApplyFulfillmentUpdate(ctx, orderID, update)
	if err != nil {
		return nil, storeError(err, "order is already final")
	}
	if s.log != nil {
		s.log.Info("fulfillment update applied", "order_id", orderID, "status", order.Status, "print_order_id", order.PrintOrderID)
	}
	hadAsset := before.DownloadURL != "" || before.DownloadPath != ""
	hasAsset := order.DownloadURL != "" || order.DownloadPath != ""
	if order.OrderType == models.ProductEbook && !hadAsset && hasAsset {
		s.notifier.EbookReady(ctx, order)
	}
	return order, nil
}
