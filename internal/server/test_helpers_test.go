package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/auth"
	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	testSigningSecret = "secret"
	testIssuer        = "inkroom-auth"
	testCookieName    = "inkroom_session"
)

func newTestRegistry(t *testing.T) *rooms.Registry {
	t.Helper()
	registry, err := rooms.NewRegistry(rooms.RegistryConfig{})
	if err != nil {
		t.Fatalf("registry init failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
	})
	return registry
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Registry == nil {
		deps.Registry = newTestRegistry(t)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("handler init failed: %v", err)
	}
	return handler
}

func newTestValidator(t *testing.T) *auth.SessionValidator {
	t.Helper()
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("validator init failed: %v", err)
	}
	return validator
}

func issueTestToken(t *testing.T, identity auth.Identity) string {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("issuer init failed: %v", err)
	}
	token, _, err := issuer.Issue(identity)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	return token
}

func websocketURL(server *httptest.Server, query string) string {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

type testClient struct {
	t      *testing.T
	socket *websocket.Conn
}

func dialTestClient(t *testing.T, url string, header http.Header) *testClient {
	t.Helper()
	socket, response, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if response != nil {
			status = response.StatusCode
		}
		t.Fatalf("dial failed (status %d): %v", status, err)
	}
	t.Cleanup(func() { socket.Close() })
	return &testClient{t: t, socket: socket}
}

func (c *testClient) send(event string, payload any) {
	c.t.Helper()
	envelope, err := replication.NewEnvelope(event, payload)
	if err != nil {
		c.t.Fatalf("encode %s failed: %v", event, err)
	}
	if err := c.socket.WriteJSON(envelope); err != nil {
		c.t.Fatalf("write %s failed: %v", event, err)
	}
}

// await reads frames until one carries event, decoding it into target.
func (c *testClient) await(event string, target any) {
	c.t.Helper()
	_ = c.socket.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var envelope replication.Envelope
		if err := c.socket.ReadJSON(&envelope); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if envelope.Event != event {
			continue
		}
		if target != nil {
			if err := envelope.Decode(target); err != nil {
				c.t.Fatalf("decode %s failed: %v", event, err)
			}
		}
		return
	}
}

func (c *testClient) join(roomID string) replication.FullState {
	c.t.Helper()
	c.send(replication.EventJoin, replication.JoinRequest{RoomID: roomID})
	var state replication.FullState
	c.await(replication.EventFullState, &state)
	return state
}
