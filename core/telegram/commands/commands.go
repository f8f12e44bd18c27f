// Package commands holds the metadata the registry keeps for each slash
// command of the shop bot.
package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command is one slash command entry. Hidden commands stay out of the
// Telegram command menu; AdminOnly marks the privileged ones so listings can
// filter them. Aliases route alternate spellings to the same handler.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}
