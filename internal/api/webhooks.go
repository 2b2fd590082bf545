package api

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
	"github.com/digkill/storybook/pkg/logger"
	"github.com/digkill/storybook/pkg/validate"
)

const (
	maxWebhookBody          = 1 << 16
	fulfillmentSecretHeader = "X-Fulfillment-Secret"
)

// handleStripeWebhook verifies and applies a Stripe event. Each event id is
// processed once; a failed event is unmarked so Stripe's redelivery retries it.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, s.Log)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.Metrics.Webhook("stripe", "rejected")
		s.writeError(ctx, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable webhook body"))
		return
	}
	event, err := s.Events.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.Metrics.Webhook("stripe", "rejected")
		log.Warn("stripe signature rejected", "err", err)
		s.writeError(ctx, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature"))
		return
	}

	if s.Guard != nil {
		seen, err := s.Guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			s.Metrics.Webhook("stripe", "error")
			s.writeError(ctx, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
			return
		}
		if seen {
			s.Metrics.Webhook("stripe", "duplicate")
			writeData(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	if err := s.Payments.HandleEvent(ctx, &event); err != nil {
		s.Metrics.Webhook("stripe", "error")
		if s.Guard != nil {
			// the request context may already be gone; the unmark must still land
			if derr := s.Guard.Delete(context.WithoutCancel(ctx), event.ID); derr != nil {
				log.Error("unmark stripe event", "event_id", event.ID, "err", derr)
			}
		}
		log.Error("stripe event failed", "event_id", event.ID, "type", event.Type, "err", err)
		s.writeError(ctx, w, err)
		return
	}
	s.Metrics.Webhook("stripe", "processed")
	writeData(w, http.StatusOK, map[string]string{"status": "processed"})
}

type fulfillmentCallback struct {
	OrderID      uuid.UUID          `json:"order_id" validate:"required"`
	Status       models.OrderStatus `json:"status"`
	PrintOrderID string             `json:"print_order_id"`
	DownloadURL  string             `json:"download_url" validate:"omitempty,url"`
	DownloadPath string             `json:"download_path"`
}

func (s *Server) handleFulfillmentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.FulfillmentSecret == "" || !secureEqual(r.Header.Get(fulfillmentSecretHeader), s.FulfillmentSecret) {
		s.Metrics.Webhook("fulfillment", "rejected")
		s.writeError(ctx, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid callback secret"))
		return
	}
	var req fulfillmentCallback
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.Metrics.Webhook("fulfillment", "rejected")
		s.writeError(ctx, w, err)
		return
	}
	order, err := s.Orders.ApplyFulfillment(ctx, req.OrderID, models.FulfillmentUpdate{
		Status:       req.Status,
		PrintOrderID: req.PrintOrderID,
		DownloadURL:  req.DownloadURL,
		DownloadPath: req.DownloadPath,
	})
	if err != nil {
		s.Metrics.Webhook("fulfillment", "error")
		s.writeError(ctx, w, err)
		return
	}
	s.Metrics.Webhook("fulfillment", "processed")
	writeData(w, http.StatusOK, order)
}
