package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/auth"
	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	identityContextKey     = "inkroom_identity"
	defaultMaxMessageBytes = 1 << 20
	wildcardOrigin         = "*"
)

var (
	errMissingRegistry = errors.New("room registry dependency required")
)

// SessionValidator authenticates upgrade and state requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies describes what the HTTP handler needs. A nil Validator serves
// anonymous clients.
type Dependencies struct {
	Registry        *rooms.Registry
	Validator       SessionValidator
	Connections     *ConnectionHub
	Logger          *zap.Logger
	AllowedOrigins  []string
	MaxMessageBytes int64
	SendBuffer      int
}

// NewHTTPHandler wires the HTTP routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	connections := deps.Connections
	if connections == nil {
		connections = NewConnectionHub()
	}
	maxMessageBytes := deps.MaxMessageBytes
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	allowedOrigins := normalizeOrigins(deps.AllowedOrigins)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(allowedOrigins)))

	handler := &httpHandler{
		registry:        deps.Registry,
		validator:       deps.Validator,
		connections:     connections,
		logger:          logger,
		maxMessageBytes: maxMessageBytes,
		sendBuffer:      deps.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/rooms/:roomId/state", handler.handleRoomState)
	protected.GET("/ws", handler.handleWebSocket)

	return router, nil
}

type httpHandler struct {
	registry        *rooms.Registry
	validator       SessionValidator
	connections     *ConnectionHub
	logger          *zap.Logger
	upgrader        websocket.Upgrader
	maxMessageBytes int64
	sendBuffer      int
}

type roomStateResponse struct {
	RoomID string `json:"roomId"`
	replication.FullState
	Users []replication.Member `json:"users"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRoomState(c *gin.Context) {
	room, err := h.registry.Ensure(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		if errors.Is(err, rooms.ErrInvalidRoomID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
			return
		}
		h.logger.Error("failed to open room", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room_unavailable"})
		return
	}
	state, err := room.State()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room_unavailable"})
		return
	}
	c.JSON(http.StatusOK, roomStateResponse{
		RoomID:    room.ID(),
		FullState: state,
		Users:     room.Members(),
	})
}

// authorizeRequest validates the session token when a validator is configured.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.validator == nil {
		c.Next()
		return
	}
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, claims)
	c.Next()
}

func identityFromContext(c *gin.Context) (auth.SessionClaims, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

func normalizeOrigins(origins []string) []string {
	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	if len(normalized) == 0 {
		return []string{wildcardOrigin}
	}
	return normalized
}

func allowsAnyOrigin(origins []string) bool {
	for _, origin := range origins {
		if origin == wildcardOrigin {
			return true
		}
	}
	return false
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if allowsAnyOrigin(origins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return config
}

// originChecker accepts upgrades from the configured origins. Requests without
// an Origin header come from non-browser clients and are accepted.
func originChecker(origins []string) func(r *http.Request) bool {
	if allowsAnyOrigin(origins) {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
