package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/database"
	"github.com/digkill/storybook/internal/models"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
SELECT id, user_id, creation_id, order_type, status, amount_paid_cents, is_gift, COALESCE(dedication_text, ''),
       shipping, COALESCE(shipping_level, ''), shipping_cost_cents, book_cost_cents, COALESCE(checkout_session_id, ''),
       COALESCE(payment_ref, ''), COALESCE(print_order_id, ''), COALESCE(download_url, ''), COALESCE(download_path, ''),
       created_at, updated_at
FROM book_orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var orderType, status string
	var shipping []byte
	if err := row.Scan(&o.ID, &o.UserID, &o.CreationID, &orderType, &status, &o.AmountPaidCents, &o.IsGift, &o.DedicationText,
		&shipping, &o.ShippingLevel, &o.ShippingCostCents, &o.BookCostCents, &o.CheckoutSessionID,
		&o.PaymentRef, &o.PrintOrderID, &o.DownloadURL, &o.DownloadPath, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.OrderType = models.ProductType(orderType)
	o.Status = models.OrderStatus(status)
	if len(shipping) > 0 && string(shipping) != "null" {
		var addr models.ShippingAddress
		if err := json.Unmarshal(shipping, &addr); err != nil {
			return nil, fmt.Errorf("decode shipping for %s: %w", o.ID, err)
		}
		o.Shipping = &addr
	}
	return &o, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	var shipping any
	if order.Shipping != nil {
		raw, err := json.Marshal(order.Shipping)
		if err != nil {
			return fmt.Errorf("encode shipping: %w", err)
		}
		shipping = raw
	}
	const query = `
INSERT INTO book_orders (id, user_id, creation_id, order_type, status, amount_paid_cents, is_gift, dedication_text,
                         shipping, shipping_level, shipping_cost_cents, book_cost_cents, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, order.ID, order.UserID, order.CreationID, order.OrderType, order.Status,
		order.AmountPaidCents, order.IsGift, order.DedicationText, shipping, order.ShippingLevel,
		order.ShippingCostCents, order.BookCostCents, order.CreatedAt, order.UpdatedAt); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, orderColumns+` WHERE id = ?`, id))
}

func (r *OrderRepository) AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE book_orders SET checkout_session_id = ?, updated_at = ? WHERE id = ?`, sessionID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("attach checkout session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OrderRepository) MarkPaymentReceived(ctx context.Context, id uuid.UUID, paymentRef string, amountPaidCents int) (bool, error) {
	applied := false
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM book_orders WHERE id = ? FOR UPDATE`, id).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		if models.OrderStatus(status) != models.OrderPending {
			return nil
		}
		const query = `
UPDATE book_orders SET status = ?, payment_ref = ?, amount_paid_cents = ?, updated_at = ?
WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query, models.OrderPaymentReceived, paymentRef, amountPaidCents, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("mark payment received: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// ApplyFulfillmentUpdate locks the order row so a late callback cannot move a
// delivered or cancelled order back.
func (r *OrderRepository) ApplyFulfillmentUpdate(ctx context.Context, id uuid.UUID, update models.FulfillmentUpdate) (*models.Order, error) {
	var order *models.Order
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := scanOrder(tx.QueryRowContext(ctx, orderColumns+` WHERE id = ? FOR UPDATE`, id))
		if err != nil {
			return err
		}
		next := mergeFulfillment(*current, update)
		if current.Status.IsTerminal() && next.Status != current.Status {
			return ErrOrderTerminal
		}
		next.UpdatedAt = time.Now().UTC()

		const query = `
UPDATE book_orders
SET status = ?, print_order_id = NULLIF(?, ''), download_url = NULLIF(?, ''), download_path = NULLIF(?, ''), updated_at = ?
WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query, next.Status, next.PrintOrderID, next.DownloadURL, next.DownloadPath, next.UpdatedAt, id); err != nil {
			return fmt.Errorf("apply fulfillment update: %w", err)
		}
		order = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// mergeFulfillment overlays the non-empty fields of update onto order.
func mergeFulfillment(order models.Order, update models.FulfillmentUpdate) models.Order {
	if update.Status != "" {
		order.Status = update.Status
	}
	if update.PrintOrderID != "" {
		order.PrintOrderID = update.PrintOrderID
	}
	if update.DownloadURL != "" {
		order.DownloadURL = update.DownloadURL
	}
	if update.DownloadPath != "" {
		order.DownloadPath = update.DownloadPath
	}
	return order
}
