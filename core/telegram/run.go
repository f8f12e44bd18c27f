package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/shopbot/core/config"
	"github.com/m3rciful/shopbot/core/logger"
	tghelpers "github.com/m3rciful/shopbot/core/telegram/helpers"
)

// Run starts update processing until the provided context is done.
func (b *Bot) Run(ctx context.Context, cfg *coreconfig.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	switch p := b.bot.Poller.(type) {
	case *tele.Webhook:
		logger.Info(ctx, "tg", "mode",
			slog.String("payload", "webhook"),
			slog.String("handler", p.Endpoint.PublicURL),
		)
	default:
		timeoutSec := cfg.Telegram.LongPollTimeoutSeconds
		if timeoutSec <= 0 {
			timeoutSec = 10
		}
		logger.Info(ctx, "tg", "mode",
			slog.String("payload", "polling"),
			slog.Duration("duration", time.Duration(timeoutSec)*time.Second),
		)
		if strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeLongpoll) {
			// A lingering webhook blocks long polling.
			if err := b.bot.RemoveWebhook(false); err != nil {
				logger.Warn(ctx, "tg", "delete_webhook",
					slog.String("err", err.Error()),
				)
			}
		}
	}

	runDone := make(chan struct{})
	go func() {
		b.bot.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		b.bot.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	b.dispatcher.Close()
	if n := b.dispatcher.Errors(); n > 0 {
		logger.Warn(ctx, "tg", "sender.dropped",
			slog.Uint64("count", n),
		)
	}
	tghelpers.SetDispatcher(nil)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
