package logger

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"log/slog"
)

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	lw := newLineWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   lw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	ctx := WithRID(Background(), "rid-123")
	ctx = WithUserID(ctx, 7)

	log := slog.New(handler).With("component", "ledger")
	LogEvent(ctx, log, slog.LevelInfo, "order.append",
		slog.String("status", "ok"),
		slog.String("plan", "1m"),
	)
	if err := lw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	tokens := strings.Split(line, " ")
	wantPrefix := []string{"ts=", "level=INFO", "component=ledger", "event=order.append", "status=ok", "rid=rid-123", "user_id=7", "plan=1m"}
	if len(tokens) < len(wantPrefix) {
		t.Fatalf("unexpected token count: %d (%q)", len(tokens), line)
	}
	for i, want := range wantPrefix {
		if !strings.HasPrefix(tokens[i], want) {
			t.Fatalf("token %d = %q, want prefix %q (line %q)", i, tokens[i], want, line)
		}
	}
}

func TestStructuredHandlerJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	lw := newLineWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelDebug,
		writer:   lw,
		format:   formatJSON,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})

	log := slog.New(handler)
	LogEvent(Background(), log, slog.LevelInfo, "reconcile.settle",
		slog.String("txn_id", "TXN-1"),
		slog.String("empty", ""),
	)
	if err := lw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		t.Fatalf("expected JSON line, got %q", line)
	}
	if !strings.Contains(line, `"txn_id":"TXN-1"`) {
		t.Fatalf("txn_id missing in %q", line)
	}
	if strings.Contains(line, `"empty"`) {
		t.Fatalf("empty field should be pruned: %q", line)
	}
	if !strings.Contains(line, `"component":"app"`) {
		t.Fatalf("default component missing in %q", line)
	}
}
