package server

import (
	"testing"

	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"github.com/gorilla/websocket"
)

func TestConnectionDisconnectsSlowConsumer(t *testing.T) {
	conn := newConnection("c1", nil, 2)
	envelope := replication.Envelope{Event: replication.EventOp}

	for index := 0; index < 2; index++ {
		if !conn.Deliver(envelope) {
			t.Fatalf("expected frame %d to be queued", index)
		}
	}
	if conn.Deliver(envelope) {
		t.Fatalf("expected overflow to be refused")
	}
	select {
	case <-conn.done:
	default:
		t.Fatalf("expected overflowing connection to be closed")
	}
	if conn.closeCode != websocket.CloseTryAgainLater || conn.closeReason != closeReasonSlowConsumer {
		t.Fatalf("unexpected close: %d %q", conn.closeCode, conn.closeReason)
	}
	if conn.Deliver(envelope) {
		t.Fatalf("closed connection must refuse frames")
	}
}

func TestConnectionKeepsFirstCloseReason(t *testing.T) {
	conn := newConnection("c1", nil, 0)
	conn.close(websocket.CloseGoingAway, closeReasonShutdown)
	conn.close(websocket.CloseNormalClosure, "")
	if conn.closeCode != websocket.CloseGoingAway {
		t.Fatalf("expected first close code to win, got %d", conn.closeCode)
	}
	if cap(conn.send) != defaultSendBuffer {
		t.Fatalf("expected default buffer, got %d", cap(conn.send))
	}
}

func TestConnectionHubRefusesAfterCloseAll(t *testing.T) {
	hub := NewConnectionHub()
	first := newConnection("c1", nil, 1)
	if !hub.register(first) {
		t.Fatalf("expected registration to succeed")
	}
	hub.CloseAll()
	select {
	case <-first.done:
	default:
		t.Fatalf("expected registered connection to be closed")
	}
	if hub.register(newConnection("c2", nil, 1)) {
		t.Fatalf("expected hub to refuse registrations after shutdown")
	}
	hub.unregister("c1")
	if hub.Len() != 0 {
		t.Fatalf("expected empty hub, got %d", hub.Len())
	}
}
