package domain

import "testing"

func TestCorrelationTokenRoundTrip(t *testing.T) {
	tok := NewCorrelationToken(4242)
	id, ok := PayerIDFromToken(tok)
	if !ok {
		t.Fatalf("token %q not parseable", tok)
	}
	if id != 4242 {
		t.Fatalf("got payer %d, want 4242", id)
	}

	other := NewCorrelationToken(4242)
	if other == tok {
		t.Fatalf("tokens must be unique per issuance")
	}
}

func TestPayerIDFromTokenRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "ord", "ord-x-abc", "txn-TX9", "ord-0-abc123", "ord-5-a-b"} {
		if _, ok := PayerIDFromToken(bad); ok {
			t.Errorf("token %q should not parse", bad)
		}
	}
}
