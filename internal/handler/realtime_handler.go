package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/realtime"
	"github.com/noah-isme/hostel-permit-api/pkg/response"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 32
)

type accountLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RealtimeHandler streams workflow events to connected consoles.
type RealtimeHandler struct {
	hub      *realtime.Hub
	accounts accountLookup
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRealtimeHandler builds the websocket endpoint. allowedOrigins empty accepts any origin.
func NewRealtimeHandler(hub *realtime.Hub, accounts accountLookup, allowedOrigins []string, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &RealtimeHandler{
		hub:      hub,
		accounts: accounts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				_, wildcard := origins["*"]
				return ok || wildcard
			},
		},
	}
}

// Stream godoc
// @Summary Live workflow events
// @Description Websocket stream. Students receive their own notices; approvers receive events for their blocks or floors.
// @Tags Realtime
// @Param access_token query string false "Access token when headers cannot be set"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /realtime/ws [get]
func (h *RealtimeHandler) Stream(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	patterns, err := h.subscriptions(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return
	}

	client := &realtime.Client{ID: uuid.NewString(), Send: make(chan []byte, wsSendBuffer), Patterns: patterns}
	h.hub.Register(client)
	h.logger.Debug("realtime client connected", zap.String("client_id", client.ID), zap.Strings("patterns", patterns))

	go h.writePump(conn, client)
	h.readPump(conn, client)
}

func (h *RealtimeHandler) subscriptions(ctx context.Context, claims *models.JWTClaims) ([]string, error) {
	switch claims.Role {
	case models.RoleAdmin:
		return []string{"*"}, nil
	case models.RoleStudent:
		return []string{realtime.StudentKey(claims.UserID)}, nil
	case models.RoleSecurity:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no live stream for this role")
	}

	user, err := h.accounts.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "unknown account")
	}
	approver, ok := user.Approver()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account cannot watch approval queues")
	}
	return scopePatterns(approver), nil
}

// scopePatterns lists the channel keys an approver may watch. Floor incharges
// only see normal requests; emergency requests never reach their level.
func scopePatterns(approver *models.Approver) []string {
	var patterns []string
	for _, block := range approver.BlockVariants() {
		if approver.Role != models.ApproverFloorIncharge {
			patterns = append(patterns, realtime.ScopeBlockPattern(block))
			continue
		}
		for _, floor := range approver.Floors {
			patterns = append(patterns, realtime.ScopeKey(block, floor, string(models.CategoryNormal)))
		}
	}
	return patterns
}

// readPump drains client frames so control messages are processed, and
// unregisters the client once the connection drops.
func (h *RealtimeHandler) readPump(conn *websocket.Conn, client *realtime.Client) {
	defer func() {
		h.hub.Unregister(client)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("realtime client dropped", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
	}
}

func (h *RealtimeHandler) writePump(conn *websocket.Conn, client *realtime.Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
