// Package notify posts operational events to a Telegram ops chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/storybook/internal/models"
)

// Sender is the subset of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier reports business events. Failures are logged, never returned:
// a lost notification must not fail a payment or a callback.
type Notifier interface {
	OrderPaid(ctx context.Context, order *models.Order)
	CreditsPurchased(ctx context.Context, userID, packName string, credits, balance int)
	EbookReady(ctx context.Context, order *models.Order)
}

type Telegram struct {
	api    Sender
	chatID int64
	log    *slog.Logger
}

func NewTelegram(api Sender, chatID int64, log *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, log: log}
}

func (t *Telegram) OrderPaid(ctx context.Context, order *models.Order) {
	var b strings.Builder
	fmt.Fprintf(&b, "Order paid: %s\n", order.ID)
	fmt.Fprintf(&b, "Type: %s\n", order.OrderType)
	fmt.Fprintf(&b, "Amount: %s", formatCents(order.AmountPaidCents))
	if order.Shipping != nil {
		fmt.Fprintf(&b, "\nShip to: %s, %s %s (%s)", order.Shipping.City, order.Shipping.State, order.Shipping.Zip, order.ShippingLevel)
	}
	if order.IsGift {
		b.WriteString("\nGift order")
	}
	t.send(ctx, b.String())
}

func (t *Telegram) CreditsPurchased(ctx context.Context, userID, packName string, credits, balance int) {
	t.send(ctx, fmt.Sprintf("Credits purchased: %s pack (+%d) by %s, balance %d", packName, credits, userID, balance))
}

func (t *Telegram) EbookReady(ctx context.Context, order *models.Order) {
	t.send(ctx, fmt.Sprintf("Ebook ready for order %s", order.ID))
}

func (t *Telegram) send(ctx context.Context, text string) {
	if t == nil || t.api == nil || t.chatID == 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil && t.log != nil {
		t.log.Warn("telegram notify failed", "chat_id", t.chatID, "err", err)
	}
}

// Noop discards every event.
type Noop struct{}

func (Noop) OrderPaid(context.Context, *models.Order) {}

func (Noop) CreditsPurchased(context.Context, string, string, int, int) {}

func (Noop) EbookReady(context.Context, *models.Order) {}

func formatCents(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
