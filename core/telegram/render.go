package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/shopbot/core/conversation"
	"github.com/m3rciful/shopbot/core/domain"
	tghelpers "github.com/m3rciful/shopbot/core/telegram/helpers"
	"github.com/m3rciful/shopbot/core/telegram/keyboard"
)

// methodLabels maps payment methods to their button captions.
var methodLabels = map[domain.PaymentMethod]string{
	domain.MethodProvider:      "💳 PayPal",
	domain.MethodWireTransferA: "🏦 Zelle",
	domain.MethodWireTransferB: "💱 Tarjeta CUP",
	domain.MethodCashBalance:   "📱 Saldo móvil",
}

// renderEffects delivers the machine's outbound intents. Effects addressed to
// the acting user reply in place; targeted ones go through the notifier.
func (b *Bot) renderEffects(c tele.Context, effects []conversation.Effect) error {
	var firstErr error
	for _, ef := range effects {
		var err error
		if ef.TargetUserID != 0 {
			err = b.deliverTargeted(c, ef)
		} else {
			err = b.renderLocal(c, ef)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bot) renderLocal(c tele.Context, ef conversation.Effect) error {
	switch ef.Kind {
	case conversation.EffectWelcome:
		return tghelpers.SendMD(c, "👋 *Bienvenido a la tienda de suscripciones.*\nElige un plan para comenzar.")

	case conversation.EffectShowCatalog:
		return tghelpers.EditOrSendMD(c, catalogText(ef), catalogMarkup(ef))

	case conversation.EffectShowMethods:
		text := fmt.Sprintf("Plan seleccionado: *%s*\n¿Cómo deseas pagar?", ef.Plan.Label)
		return tghelpers.EditOrSendMD(c, text, methodsMarkup())

	case conversation.EffectShowInstructions:
		return tghelpers.SendMD(c, instructionsText(ef.Instructions))

	case conversation.EffectProofAccepted:
		return tghelpers.SendMD(c, "✅ Comprobante recibido. Un administrador verificará tu pago y activará el plan.", keyboard.RemoveKeyboard())

	case conversation.EffectValidationNotice:
		return tghelpers.SendText(c, "⚠️ Entrada no válida. Usa los botones o revisa el formato.")

	case conversation.EffectReminder:
		return tghelpers.SendText(c, "📎 Envía la captura o el comprobante del pago para continuar.")

	case conversation.EffectCancelled:
		return tghelpers.SendMD(c, "Operación cancelada. Usa /start cuando quieras volver a empezar.", keyboard.RemoveKeyboard())

	case conversation.EffectRetryNotice:
		return tghelpers.SendText(c, "⚠️ Error temporal guardando los datos. Intenta de nuevo en unos segundos.")

	case conversation.EffectAdminMenu:
		return tghelpers.EditOrSendMD(c, "*Panel de administración*", adminMarkup())

	case conversation.EffectPromptRate:
		return tghelpers.SendMD(c, "Envía: `<método> <tasa>`\nEjemplo: `wire_b 405`\nMétodos: wire_b, balance")

	case conversation.EffectPromptAdmins:
		return tghelpers.SendMD(c, "Envía `+<id>` para añadir o `-<id>` para quitar un administrador.")

	case conversation.EffectAdminDone:
		return tghelpers.SendMD(c, "✅ "+ef.Reason)

	case conversation.EffectOrderList:
		return tghelpers.SendMD(c, ordersText(ef.Orders))

	case conversation.EffectTotals:
		return tghelpers.SendMD(c, fmt.Sprintf("💰 Total confirmado: *%s USD*", ef.Total.StringFixed(2)))

	case conversation.EffectHelp:
		return tghelpers.SendMD(c, helpText())
	}
	return nil
}

func (b *Bot) deliverTargeted(c tele.Context, ef conversation.Effect) error {
	switch ef.Kind {
	case conversation.EffectNotifyAdmin:
		text := adminProofText(ef)
		return b.sendTo(tghelpers.BuildContext(c), ef.TargetUserID, text)
	}
	return nil
}

func catalogText(ef conversation.Effect) string {
	var sb strings.Builder
	sb.WriteString("*Planes disponibles*\n")
	for _, p := range ef.Catalog {
		sb.WriteString("• ")
		sb.WriteString(p.Label)
		sb.WriteString("\n")
	}
	if ef.Pages > 1 {
		fmt.Fprintf(&sb, "\nPágina %d de %d", ef.Page, ef.Pages)
	}
	return sb.String()
}

func catalogMarkup(ef conversation.Effect) *tele.ReplyMarkup {
	var rows [][]keyboard.InlineBtn
	for _, p := range ef.Catalog {
		rows = append(rows, []keyboard.InlineBtn{{Text: p.Label, Unique: "plan", Data: p.Code}})
	}
	var nav []keyboard.InlineBtn
	if ef.Page > 1 {
		nav = append(nav, keyboard.InlineBtn{Text: "⬅️", Unique: "page", Data: strconv.Itoa(ef.Page - 1)})
	}
	if ef.Page < ef.Pages {
		nav = append(nav, keyboard.InlineBtn{Text: "➡️", Unique: "page", Data: strconv.Itoa(ef.Page + 1)})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	return keyboard.CancelRow(rows...)
}

func methodsMarkup() *tele.ReplyMarkup {
	order := []domain.PaymentMethod{
		domain.MethodProvider,
		domain.MethodWireTransferA,
		domain.MethodWireTransferB,
		domain.MethodCashBalance,
	}
	buttons := make([]keyboard.InlineBtn, 0, len(order)+1)
	for _, m := range order {
		buttons = append(buttons, keyboard.InlineBtn{Text: methodLabels[m], Unique: "method", Data: string(m)})
	}
	buttons = append(buttons, keyboard.InlineBtn{Text: "⬅️ Planes", Unique: "back"})
	return keyboard.InlineButtons(buttons)
}

func adminMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "💱 Tasa", Unique: "admin_rate"},
			{Text: "👥 Admins", Unique: "admin_admins"},
		},
		[]keyboard.InlineBtn{
			{Text: "🧾 Pedidos", Unique: "admin_orders"},
			{Text: "💰 Totales", Unique: "admin_totals"},
		},
		[]keyboard.InlineBtn{{Text: "⬅️ Salir", Unique: "back"}},
	)
}

func instructionsText(in *conversation.Instructions) string {
	if in == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s*\n\n", in.Plan.Label)

	if in.Method == domain.MethodProvider {
		fmt.Fprintf(&sb, "Paga con PayPal usando este enlace:\n%s\n\n", in.Link)
		fmt.Fprintf(&sb, "Referencia: `%s`\n", in.Token)
		sb.WriteString("La confirmación llega automáticamente; te avisaremos al recibirla.")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Método: %s\n", methodLabels[in.Method])
	if !in.Rate.IsZero() {
		fmt.Fprintf(&sb, "Tasa: %s\nMonto a pagar: *%s*\n", in.Rate.String(), in.Converted.StringFixed(2))
	} else {
		fmt.Fprintf(&sb, "Monto a pagar: *%s USD*\n", in.Plan.Price.StringFixed(2))
	}
	if in.Destination != "" {
		fmt.Fprintf(&sb, "Destino: `%s`\n", in.Destination)
	}
	sb.WriteString("\nCuando pagues, envía aquí la captura del comprobante.")
	if in.SupportHandle != "" {
		fmt.Fprintf(&sb, "\n¿Dudas? Escribe a %s", in.SupportHandle)
	}
	return sb.String()
}

func ordersText(orders []domain.Order) string {
	if len(orders) == 0 {
		return "No hay pedidos registrados."
	}
	var sb strings.Builder
	sb.WriteString("*Pedidos*\n")
	for _, o := range orders {
		label := o.PlanLabel
		if label == "" {
			label = o.Plan
		}
		fmt.Fprintf(&sb, "%s %s · %s USD · %s\n",
			statusEmoji(o.Status), label, o.Price.StringFixed(2),
			o.CreatedAt.Format("02 Jan 15:04"),
		)
	}
	return sb.String()
}

func statusEmoji(s domain.OrderStatus) string {
	switch s {
	case domain.StatusProviderConfirmed:
		return "✅"
	case domain.StatusCancelled:
		return "❌"
	default:
		return "🕓"
	}
}

func adminProofText(ef conversation.Effect) string {
	by := ef.ProofBy
	if by == "" && len(ef.Orders) > 0 {
		by = strconv.FormatInt(ef.Orders[0].Payer.UserID, 10)
	}
	var price, method string
	if len(ef.Orders) > 0 {
		price = ef.Orders[0].Price.StringFixed(2)
		method = string(ef.Orders[0].Method)
	}
	return fmt.Sprintf("📥 Nuevo comprobante de @%s\nPlan: %s\nMétodo: %s\nMonto: %s USD",
		by, ef.Plan.Label, method, price)
}

func helpText() string {
	return strings.Join([]string{
		"*Comandos*",
		"/start – reiniciar la conversación",
		"/comprar – ver los planes",
		"/miestado – tus pedidos",
		"/cancel – cancelar la operación actual",
		"/help – esta ayuda",
	}, "\n")
}
