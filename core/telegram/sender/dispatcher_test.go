package sender

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherCountsExhaustedJobs(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 4})
	ctx := context.Background()

	fail := errors.New("forbidden: bot was blocked by the user")
	if err := d.Enqueue(ctx, "send.test", func() error { return fail }); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.Enqueue(ctx, "send.test", func() error { return nil }); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := d.Errors(); got != 1 {
		t.Fatalf("errors = %d, want 1", got)
	}
	if err := d.Enqueue(ctx, "send.test", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close = %v, want ErrQueueClosed", err)
	}
}
