package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const guestNamePrefix = "guest-"

func (h *httpHandler) handleWebSocket(c *gin.Context) {
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID := uuid.NewString()
	conn := newConnection(connectionID, socket, h.sendBuffer)
	logger := h.logger.With(zap.String("connection_id", connectionID))

	origin := connectionID
	meta := replication.MemberMeta{Name: guestName(connectionID)}
	if claims, ok := identityFromContext(c); ok {
		origin = claims.UserID
		if name := strings.TrimSpace(claims.UserDisplayName); name != "" {
			meta.Name = name
		}
		meta.Color = claims.UserColor
		logger = logger.With(zap.String("user_id", claims.UserID))
	}

	session, err := rooms.NewSession(rooms.SessionConfig{
		Registry:    h.registry,
		Peer:        conn,
		Origin:      origin,
		DefaultMeta: meta,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to start session", zap.Error(err))
		conn.close(websocket.CloseInternalServerErr, "session unavailable")
		conn.writeLoop()
		return
	}

	if !h.connections.register(conn) {
		conn.close(websocket.CloseGoingAway, closeReasonShutdown)
		conn.writeLoop()
		return
	}
	defer h.connections.unregister(connectionID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writeLoop()
	}()

	logger.Debug("websocket connected")
	h.readLoop(c.Request.Context(), conn, session, logger)

	session.Close()
	conn.close(websocket.CloseNormalClosure, "")
	<-writerDone
	logger.Debug("websocket disconnected")
}

// readLoop feeds client frames to the session until the socket fails or the
// connection is closed from the write side.
func (h *httpHandler) readLoop(ctx context.Context, conn *connection, session *rooms.Session, logger *zap.Logger) {
	socket := conn.socket
	socket.SetReadLimit(h.maxMessageBytes)
	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		envelope, err := replication.ParseEnvelope(frame)
		if err != nil {
			logger.Debug("discarding malformed frame", zap.Error(err))
			continue
		}
		if err := session.Handle(ctx, envelope); err != nil {
			logHandleError(logger, envelope.Event, err)
		}
	}
}

func logHandleError(logger *zap.Logger, event string, err error) {
	fields := []zap.Field{zap.String("event", event), zap.Error(err)}
	reason := replication.Reason(err)
	if reason != replication.ReasonInternalError || errors.Is(err, rooms.ErrUnknownEvent) || errors.Is(err, rooms.ErrInvalidRoomID) {
		logger.Debug("client event refused", append(fields, zap.String("reason", reason))...)
		return
	}
	logger.Warn("client event failed", fields...)
}

func guestName(connectionID string) string {
	compact := strings.ReplaceAll(connectionID, "-", "")
	if len(compact) > 6 {
		compact = compact[len(compact)-6:]
	}
	return guestNamePrefix + compact
}
