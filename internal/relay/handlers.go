package relay

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/realtime"
	"github.com/acadex/acadex-client/pkg/jwt"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("platformrole", func(fl validator.FieldLevel) bool {
			return models.Role(fl.Field().String()).Valid()
		})
	}
}

const (
	transportWebsocket = "websocket"
	transportPolling   = "polling"

	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

// Handlers serves the relay's HTTP surface: the capability probe, the
// websocket upgrade, the long-polling fallback and the admin endpoints.
type Handlers struct {
	hub         *Hub
	tokens      *jwt.TokenManager
	maxPollWait time.Duration
	upgrader    websocket.Upgrader
}

func NewHandlers(hub *Hub, tokens *jwt.TokenManager, maxPollWait time.Duration, allowedOrigins []string) *Handlers {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Handlers{
		hub:         hub,
		tokens:      tokens,
		maxPollWait: maxPollWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// non-browser clients send no Origin header
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Info answers the capability probe
func (h *Handlers) Info(c *gin.Context) {
	c.JSON(http.StatusOK, realtime.Capabilities{
		Transports:          []string{transportWebsocket, transportPolling},
		PingIntervalSeconds: int(pingInterval.Seconds()),
	})
}

// Health reports liveness plus a runtime snapshot for quick diagnostics
func (h *Handlers) Health(c *gin.Context) {
	sys := metrics.CollectSystem()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"online_users":    len(h.hub.OnlineUsers()),
		"goroutines":      sys.Goroutines,
		"heap_alloc_byte": sys.HeapAlloc,
	})
}

// authenticate validates the token query parameter used by both transports
func (h *Handlers) authenticate(c *gin.Context) (*jwt.SessionClaims, bool) {
	claims, err := h.tokens.ValidateToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return nil, false
	}
	return claims, true
}

// Websocket upgrades the request and pumps events both ways until the peer
// disconnects
func (h *Handlers) Websocket(c *gin.Context) {
	claims, ok := h.authenticate(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	s := h.hub.Register(claims.UserID, transportWebsocket)

	go h.writePump(s, conn)
	h.readPump(s, conn)
}

func (h *Handlers) writePump(s *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case env := <-s.Out():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) readPump(s *Session, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(s)
		_ = conn.Close()
	}()

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Websocket read failed", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		h.hub.HandleEmit(s, env)
	}
}

// PollOpen performs the long-polling handshake, creating a relay-side queue
func (h *Handlers) PollOpen(c *gin.Context) {
	claims, ok := h.authenticate(c)
	if !ok {
		return
	}

	s := h.hub.Register(claims.UserID, transportPolling)
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID})
}

// PollEvents drains the session's queue, holding the request open up to the
// wait parameter when the queue is empty. An empty answer is 204.
func (h *Handlers) PollEvents(c *gin.Context) {
	s, ok := h.hub.Lookup(c.Param("id"))
	if !ok || s.Transport != transportPolling {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown polling session"})
		return
	}
	s.touch()

	wait := h.maxPollWait
	if raw := c.Query("wait"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			if d := time.Duration(secs) * time.Second; d < wait {
				wait = d
			}
		}
	}

	envelopes := drain(s)
	if len(envelopes) == 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case env, ok := <-s.Out():
			if !ok {
				c.Status(http.StatusNoContent)
				return
			}
			envelopes = append([]realtime.Envelope{env}, drain(s)...)
		case <-s.Done():
			c.Status(http.StatusNoContent)
			return
		case <-c.Request.Context().Done():
			return
		case <-timer.C:
			c.Status(http.StatusNoContent)
			return
		}
	}

	s.touch()
	c.JSON(http.StatusOK, envelopes)
}

// PollEmit accepts one client-emitted envelope for a polling session
func (h *Handlers) PollEmit(c *gin.Context) {
	s, ok := h.hub.Lookup(c.Param("id"))
	if !ok || s.Transport != transportPolling {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown polling session"})
		return
	}
	s.touch()

	var env realtime.Envelope
	if err := c.ShouldBindJSON(&env); err != nil || env.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed envelope"})
		return
	}

	h.hub.HandleEmit(s, env)
	c.Status(http.StatusAccepted)
}

func drain(s *Session) []realtime.Envelope {
	var envelopes []realtime.Envelope
	for {
		select {
		case env := <-s.Out():
			envelopes = append(envelopes, env)
		default:
			return envelopes
		}
	}
}

// MintTokenRequest is the dev token endpoint's input
type MintTokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email" binding:"required,email"`
	Name   string `json:"name" binding:"required"`
	Role   string `json:"role" binding:"required,platformrole"`
}

// MintToken issues a signed session token. Development convenience only;
// the real platform's auth service owns token issuance.
func (h *Handlers) MintToken(c *gin.Context) {
	var req MintTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.tokens.GenerateToken(req.UserID, req.Email, req.Name, req.Role)
	if err != nil {
		logger.Error("Failed to mint token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mint token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ForceLogoutRequest is the admin force-logout endpoint's input
type ForceLogoutRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ForceLogout pushes a force_logout event to all of a user's sessions
func (h *Handlers) ForceLogout(c *gin.Context) {
	var req ForceLogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	notified := h.hub.ForceLogout(req.UserID, req.Reason, req.Message)
	c.JSON(http.StatusOK, gin.H{"sessions": notified})
}

// Online reports the current presence roster; handy for debugging clients
func (h *Handlers) Online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_ids": h.hub.OnlineUsers()})
}
