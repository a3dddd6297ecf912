package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/pkg/response"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MembershipChecker returns userID's role in orgID, or "" when they are not a member.
type MembershipChecker interface {
	GetMemberRole(ctx context.Context, orgID, userID string) (models.OrgRole, error)
}

// Client is a single WebSocket connection watching one organization.
type Client struct {
	ID             string
	OrganizationID string
	UserID         string
	Role           models.OrgRole
	hub            *Hub
	conn           *websocket.Conn
	send           chan WSMessage
	logger         *zap.Logger
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
}

// ServeWs handles GET /ws?organization_id=..&token=..: the token is validated,
// membership re-checked, and the connection joins the organization room.
func ServeWs(hub *Hub, tokens middleware.TokenValidator, members MembershipChecker, allowedOrigins []string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := newUpgrader(allowedOrigins)
	return func(c *gin.Context) {
		orgID := c.Query("organization_id")
		token := c.Query("token")
		if orgID == "" || token == "" {
			response.BadRequest(c, "organization_id and token required")
			return
		}
		userID, _, err := tokens.ValidateToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		role, err := members.GetMemberRole(c.Request.Context(), orgID, userID)
		if err != nil {
			logger.Error("membership check failed", zap.String("organization_id", orgID), zap.Error(err))
			response.Internal(c, "something went wrong")
			return
		}
		if role == "" {
			response.Forbidden(c, "not a member of this organization")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			UserID:         userID,
			Role:           role,
			hub:            hub,
			conn:           conn,
			send:           make(chan WSMessage, sendBuffer),
			logger:         logger,
		}
		if err := hub.Register(client); err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream unavailable")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
		go client.writePump()
		client.readPump()
	}
}

// readPump keeps the connection alive. The stream is server-to-client; the
// only client message answered is "ping".
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		if msg.Event == "ping" {
			select {
			case c.send <- WSMessage{Event: "pong"}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
