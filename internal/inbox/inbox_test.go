package inbox

import (
	"io"
	"log/slog"
	"testing"
)

func newTestMailbox(size int) *Mailbox[int] {
	return New[int](size, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// =============================================================================
// Send/Receive Tests
// =============================================================================

func TestMailbox_SendReceive(t *testing.T) {
	mb := newTestMailbox(4)

	for i := 1; i <= 3; i++ {
		if !mb.TrySend(i) {
			t.Fatalf("send %d should succeed", i)
		}
	}

	if mb.Len() != 3 {
		t.Errorf("expected depth 3, got %d", mb.Len())
	}

	for i := 1; i <= 3; i++ {
		msg, ok := mb.Receive()
		if !ok || msg != i {
			t.Errorf("expected %d, got %d ok=%v", i, msg, ok)
		}
	}
}

func TestMailbox_TrySendDropsWhenFull(t *testing.T) {
	mb := newTestMailbox(2)

	mb.TrySend(1)
	mb.TrySend(2)
	if mb.TrySend(3) {
		t.Error("expected drop when full")
	}

	stats := mb.GetStats()
	if stats.Sent != 2 || stats.Dropped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMailbox_TryReceiveEmpty(t *testing.T) {
	mb := newTestMailbox(2)

	if _, ok := mb.TryReceive(); ok {
		t.Error("expected no message from empty mailbox")
	}
}

func TestMailbox_ReceiveAfterClose(t *testing.T) {
	mb := newTestMailbox(2)
	mb.TrySend(7)
	mb.Close()

	// Buffered messages survive close.
	msg, ok := mb.Receive()
	if !ok || msg != 7 {
		t.Fatalf("expected buffered message after close, got %d ok=%v", msg, ok)
	}

	if _, ok := mb.Receive(); ok {
		t.Error("expected ok=false once closed and drained")
	}
}

func TestMailbox_Drain(t *testing.T) {
	mb := newTestMailbox(8)
	for i := 0; i < 5; i++ {
		mb.TrySend(i)
	}

	msgs := mb.Drain()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 drained messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		if msg != i {
			t.Errorf("drain order broken at %d: got %d", i, msg)
		}
	}

	stats := mb.GetStats()
	if stats.Received != 5 {
		t.Errorf("expected 5 received, got %d", stats.Received)
	}
}
