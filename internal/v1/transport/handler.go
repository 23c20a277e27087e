// Package transport upgrades inbound HTTP requests to WebSocket connections
// and wires each one to a room via the broker. It is the only layer that
// knows about gin and gorilla/websocket; everything below it deals in
// session handles and room ids.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/broker"
	"github.com/kalgynirae/sudoku-sync/internal/v1/logging"
	"github.com/kalgynirae/sudoku-sync/internal/v1/ratelimit"
	"github.com/kalgynirae/sudoku-sync/internal/v1/session"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
	"github.com/kalgynirae/sudoku-sync/internal/v1/wire"
)

// Handler upgrades connections for a single route and hands each one off
// to the broker's room registry.
type Handler struct {
	broker         *broker.Broker
	limiter        *ratelimit.Limiter
	allowedOrigins []string
	logger         *zap.Logger
}

// New builds a Handler. allowedOrigins is a comma-separated list as read
// from configuration (e.g. "http://localhost:3000,https://app.example.com").
func New(b *broker.Broker, limiter *ratelimit.Limiter, allowedOrigins string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := strings.Split(allowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return &Handler{
		broker:         b,
		limiter:        limiter,
		allowedOrigins: origins,
		logger:         logger,
	}
}

// ServeWs upgrades the request and starts a session against the room named
// by the :roomId path parameter.
func (h *Handler) ServeWs(c *gin.Context) {
	roomID, err := wire.DecodeRoomID(c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	h.serve(c, roomID, c.Param("roomId"))
}

// ServeWsNewRoom mints a fresh room id and upgrades straight into it, for
// clients that don't yet have a room to join.
func (h *Handler) ServeWsNewRoom(c *gin.Context) {
	roomID := wire.NewRoomID()
	h.serve(c, roomID, wire.EncodeRoomID(roomID))
}

func (h *Handler) serve(c *gin.Context, roomID types.RoomID, roomIDHex string) {
	if !h.limiter.CheckWebSocketConnect(c) {
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgrade(c)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	handle := types.SessionHandle(uuid.New().String())
	sess := session.New(handle, conn, h.logger)
	r := h.broker.GetOrCreate(c.Request.Context(), roomID)

	logging.Info(c.Request.Context(), "session connected",
		zap.String("session", string(handle)),
		zap.String("room", roomIDHex),
	)

	if err := sess.Run(context.Background(), roomIDHex, r); err != nil {
		h.logger.Debug("session ended", zap.String("session", string(handle)), zap.Error(err))
	}
}

func (h *Handler) upgrade(c *gin.Context) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}
	return upgrader.Upgrade(c.Writer, c.Request, nil)
}

// validateOrigin allows requests with no Origin header (non-browser
// clients) and otherwise requires an exact scheme+host match against the
// configured allow list.
func validateOrigin(r *http.Request, allowed []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}

	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return errOriginNotAllowed
}
