package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/auth"
	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/inkroom/internal/persistence"
	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"github.com/MarcoPoloResearchLab/inkroom/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "inkroom_session"
	sessionIssuer        = "inkroom-auth"
	roomID               = "sketch-1"
)

type stack struct {
	registry *rooms.Registry
	server   *httptest.Server
	hub      *server.ConnectionHub
}

func startStack(t *testing.T, store rooms.PersistenceAdapter) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := rooms.NewRegistry(rooms.RegistryConfig{Persistence: store, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	hub := server.NewConnectionHub()
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Registry:    registry,
		Validator:   validator,
		Connections: hub,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &stack{registry: registry, server: httptest.NewServer(handler), hub: hub}
}

func (s *stack) stop(t *testing.T) {
	t.Helper()
	s.hub.CloseAll()
	s.server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.Close(ctx); err != nil {
		t.Fatalf("registry close failed: %v", err)
	}
}

func dial(t *testing.T, s *stack, userID string) *websocket.Conn {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	token, _, err := issuer.Issue(auth.Identity{UserID: userID, DisplayName: userID})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: sessionCookieName, Value: token}).String())
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	socket, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { socket.Close() })
	return socket
}

func send(t *testing.T, socket *websocket.Conn, event string, payload any) {
	t.Helper()
	envelope, err := replication.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := socket.WriteJSON(envelope); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func await(t *testing.T, socket *websocket.Conn, event string, target any) {
	t.Helper()
	_ = socket.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var envelope replication.Envelope
		if err := socket.ReadJSON(&envelope); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if envelope.Event == event {
			if err := envelope.Decode(target); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			return
		}
	}
}

// awaitOp reads op broadcasts until one satisfies matches.
func awaitOp(t *testing.T, socket *websocket.Conn, matches func(drawing.Operation) bool) drawing.Operation {
	t.Helper()
	for {
		var op drawing.Operation
		await(t, socket, replication.EventOp, &op)
		if matches(op) {
			return op
		}
	}
}

func byID(id string) func(drawing.Operation) bool {
	return func(op drawing.Operation) bool { return op.ID == id }
}

func byKind(kind drawing.Kind) func(drawing.Operation) bool {
	return func(op drawing.Operation) bool { return op.Kind == kind }
}

func stroke(id string) drawing.Operation {
	return drawing.NewStroke(id, "", drawing.Style{Tool: drawing.ToolBrush, Color: "#101010", Size: 5}, []drawing.Point{
		{X: 0, Y: 0, T: 1},
		{X: 10, Y: 10, T: 2},
		{X: 20, Y: 5, T: 3},
	})
}

func TestDrawingSurvivesRestart(testContext *testing.T) {
	db, err := persistence.OpenSQLite(filepath.Join(testContext.TempDir(), "rooms.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := persistence.NewSQLiteStore(persistence.SQLiteStoreConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}

	first := startStack(testContext, store)
	alice := dial(testContext, first, "alice")
	bob := dial(testContext, first, "bob")

	var state replication.FullState
	send(testContext, alice, replication.EventJoin, replication.JoinRequest{RoomID: roomID})
	await(testContext, alice, replication.EventFullState, &state)
	send(testContext, bob, replication.EventJoin, replication.JoinRequest{RoomID: roomID})
	await(testContext, bob, replication.EventFullState, &state)

	send(testContext, alice, replication.EventOp, stroke("a1"))
	awaitOp(testContext, bob, byID("a1"))
	send(testContext, bob, replication.EventOp, stroke("b1"))
	awaitOp(testContext, alice, byID("b1"))
	send(testContext, bob, replication.EventOp, drawing.NewClear("c1", ""))
	awaitOp(testContext, alice, byID("c1"))
	send(testContext, alice, replication.EventOp, stroke("a2"))
	awaitOp(testContext, bob, byID("a2"))
	send(testContext, alice, replication.EventUndo, nil)
	undo := awaitOp(testContext, bob, byKind(drawing.KindTombstone))
	if undo.TargetID != "a2" || undo.Origin != "alice" {
		testContext.Fatalf("expected alice's latest stroke to be undone, got %+v", undo)
	}

	first.stop(testContext)

	second := startStack(testContext, store)
	defer second.stop(testContext)
	carol := dial(testContext, second, "carol")
	send(testContext, carol, replication.EventJoin, replication.JoinRequest{RoomID: roomID})
	await(testContext, carol, replication.EventFullState, &state)

	if len(state.Log) != 5 || len(state.Tombstones) != 1 || state.Tombstones[0] != "a2" {
		testContext.Fatalf("unexpected restored state: %+v", state)
	}
	if visible := replication.ReplayFullState(state); len(visible) != 0 {
		testContext.Fatalf("expected the clear and the undo to leave nothing visible, got %+v", visible)
	}

	// Alice's redo stack is restored with the room.
	returning := dial(testContext, second, "alice")
	send(testContext, returning, replication.EventJoin, replication.JoinRequest{RoomID: roomID})
	await(testContext, returning, replication.EventFullState, &state)
	send(testContext, returning, replication.EventRedo, nil)
	redo := awaitOp(testContext, carol, byKind(drawing.KindUntombstone))
	if redo.TargetID != "a2" {
		testContext.Fatalf("expected redo after restart, got %+v", redo)
	}
}
