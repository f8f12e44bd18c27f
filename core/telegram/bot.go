// Package telegram is the transport skin: it turns Telegram updates into
// conversation events and renders the machine's effects back into messages.
package telegram

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/shopbot/core/config"
	"github.com/m3rciful/shopbot/core/conversation"
	"github.com/m3rciful/shopbot/core/domain"
	tghelpers "github.com/m3rciful/shopbot/core/telegram/helpers"
	"github.com/m3rciful/shopbot/core/telegram/sender"
)

// Bot couples the Telegram client with the conversation machine.
type Bot struct {
	bot        *tele.Bot
	machine    *conversation.Machine
	registry   *Registry
	dispatcher *sender.Dispatcher
}

// New builds the bot, its outbound dispatcher, and the update routes.
func New(cfg *coreconfig.Config, machine *conversation.Machine) (*Bot, error) {
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: buildPoller(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	b := &Bot{
		bot:        tb,
		machine:    machine,
		registry:   NewRegistry(),
		dispatcher: sender.NewDispatcher(sender.Options{MaxRetries: 2}),
	}
	tghelpers.SetDispatcher(b.dispatcher)
	b.setupRoutes()
	return b, nil
}

// sendTo queues a Markdown message for an arbitrary user.
func (b *Bot) sendTo(ctx context.Context, userID int64, text string) error {
	recipient := &tele.User{ID: userID}
	return b.dispatcher.Enqueue(ctx, "send.notify", func() error {
		_, err := b.bot.Send(recipient, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		return err
	})
}

// NotifyPayer tells the buyer their gateway payment settled.
func (b *Bot) NotifyPayer(ctx context.Context, userID int64, o domain.Order) error {
	label := o.PlanLabel
	if label == "" {
		label = o.Plan
	}
	text := fmt.Sprintf("✅ *Pago confirmado*\nPlan: %s\nMonto: %s USD\n¡Gracias por tu compra!",
		label, o.Price.StringFixed(2))
	return b.sendTo(ctx, userID, text)
}

// NotifyAdmin reports a settled gateway payment to one admin.
func (b *Bot) NotifyAdmin(ctx context.Context, adminID int64, o domain.Order, updated bool) error {
	label := o.PlanLabel
	if label == "" {
		label = o.Plan
	}
	origin := "sin pedido previo"
	if updated {
		origin = "pedido existente"
	}
	text := fmt.Sprintf("💳 *Pago PayPal confirmado* (%s)\nPlan: %s\nMonto: %s USD\nTxn: `%s`",
		origin, label, o.Price.StringFixed(2), o.TxnID)
	return b.sendTo(ctx, adminID, text)
}
