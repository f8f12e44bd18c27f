package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/shopbot/core/conversation"
	"github.com/m3rciful/shopbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/shopbot/core/telegram/helpers"
	"github.com/m3rciful/shopbot/core/telegram/middleware"
)

func (b *Bot) setupRoutes() {
	b.registry.RegisterCommand("/start", commands.Command{
		Handler:     b.eventHandler("start", conversation.KindRestart, ""),
		Description: "Reiniciar la conversación",
	})
	b.registry.RegisterCommand("/comprar", commands.Command{
		Handler:     b.eventHandler("comprar", conversation.KindText, "browse"),
		Description: "Ver los planes disponibles",
		Aliases:     []string{"planes"},
	})
	b.registry.RegisterCommand("/miestado", commands.Command{
		Handler:     b.eventHandler("miestado", conversation.KindText, "status"),
		Description: "Consultar tus pedidos",
	})
	b.registry.RegisterCommand("/cancel", commands.Command{
		Handler:     b.eventHandler("cancel", conversation.KindCancel, ""),
		Description: "Cancelar la operación actual",
	})
	b.registry.RegisterCommand("/help", commands.Command{
		Handler:     b.eventHandler("help", conversation.KindText, "help"),
		Description: "Mostrar la ayuda",
	})
	b.registry.RegisterCommand("/admin", commands.Command{
		Handler:     b.eventHandler("admin", conversation.KindText, "admin"),
		Description: "Panel de administración",
		AdminOnly:   true,
		Hidden:      true,
	})

	b.bot.Use(middleware.RecoverMiddleware, middleware.LoggerMiddleware)

	for name, cmd := range b.registry.Commands() {
		b.bot.Handle(name, cmd.Handler)
	}
	b.bot.Handle(tele.OnText, b.handleText)
	b.bot.Handle(tele.OnPhoto, b.handleEvidence)
	b.bot.Handle(tele.OnDocument, b.handleEvidence)
	b.bot.Handle(tele.OnCallback, b.handleCallback)

	InitBotCommands(b.bot, b.registry)
}

// eventHandler builds a handler that feeds a fixed event into the machine.
func (b *Bot) eventHandler(name string, kind conversation.EventKind, payload string) tele.HandlerFunc {
	return func(c tele.Context) error {
		return b.dispatch(c, name, kind, payload)
	}
}

func (b *Bot) handleText(c tele.Context) error {
	// Aliases are not registered with telebot directly, so an aliased command
	// like /planes arrives here and gets resolved through the registry.
	if text := strings.TrimSpace(c.Text()); strings.HasPrefix(text, "/") {
		if _, cmd, ok := b.registry.LookupCommand(strings.Fields(text)[0]); ok {
			return cmd.Handler(c)
		}
	}
	return b.dispatch(c, "text", conversation.KindText, c.Text())
}

func (b *Bot) handleEvidence(c tele.Context) error {
	return b.dispatch(c, "evidence", conversation.KindEvidence, "")
}

// handleCallback routes inline button presses. Button uniques map onto the
// machine's payload grammar; unknown uniques get a soft decline.
func (b *Bot) handleCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	defer func() { _ = c.Respond(&tele.CallbackResponse{}) }()

	key, data := splitCallback(cb)
	switch key {
	case "plan":
		return b.dispatch(c, "cb.plan", conversation.KindText, "plan:"+data)
	case "page":
		return b.dispatch(c, "cb.page", conversation.KindText, "page:"+data)
	case "method":
		return b.dispatch(c, "cb.method", conversation.KindText, data)
	case "back":
		return b.dispatch(c, "cb.back", conversation.KindText, "back")
	case "cancel":
		return b.dispatch(c, "cb.cancel", conversation.KindCancel, "")
	case "admin_rate":
		return b.dispatch(c, "cb.admin", conversation.KindText, "rate")
	case "admin_admins":
		return b.dispatch(c, "cb.admin", conversation.KindText, "admins")
	case "admin_orders":
		return b.dispatch(c, "cb.admin", conversation.KindText, "orders")
	case "admin_totals":
		return b.dispatch(c, "cb.admin", conversation.KindText, "totals")
	}
	_ = c.Respond(&tele.CallbackResponse{Text: "Acción no disponible"})
	return nil
}

func (b *Bot) dispatch(c tele.Context, handler string, kind conversation.EventKind, payload string) error {
	user := c.Sender()
	if user == nil {
		return nil
	}
	ctx := tghelpers.WithHandler(c, handler)

	effects := b.machine.Handle(ctx, conversation.Event{
		UserID:  user.ID,
		Handle:  user.Username,
		Kind:    kind,
		Payload: payload,
	})
	return b.renderEffects(c, effects)
}

func splitCallback(cb *tele.Callback) (string, string) {
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), parts[1]
	}
	return strings.TrimSpace(parts[0]), ""
}
