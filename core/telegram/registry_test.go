package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/shopbot/core/telegram/commands"
)

func TestLookupCommandResolvesAlias(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCommand("/comprar", commands.Command{
		Handler:     func(tele.Context) error { return nil },
		Description: "Ver los planes disponibles",
		Aliases:     []string{"planes"},
	})

	for _, name := range []string{"/comprar", "comprar", "/planes", "planes"} {
		key, cmd, ok := reg.LookupCommand(name)
		if !ok {
			t.Fatalf("lookup %q: not found", name)
		}
		if key != "/comprar" {
			t.Fatalf("lookup %q: key = %q, want /comprar", name, key)
		}
		if cmd.Handler == nil {
			t.Fatalf("lookup %q: handler missing", name)
		}
	}

	if _, _, ok := reg.LookupCommand("/desconocido"); ok {
		t.Fatal("unknown command must not resolve")
	}
}
