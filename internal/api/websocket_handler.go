package api

import (
	"net/http"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/middleware"
	ws "github.com/Shi-Yueyang/TrueSwiftie/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler 房间和大厅的 WebSocket 入口
type WebSocketHandler struct {
	rooms    *ws.RoomHandler
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(rooms *ws.RoomHandler, cfg config.WebSocketConfig) *WebSocketHandler {
	return &WebSocketHandler{
		rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: cfg.EnableCompression,
			// 前端与后端不同源部署
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.WithModule("websocket"),
	}
}

// DualMode 对战房间连接 /ws/ts/dualmode/:room_id
func (h *WebSocketHandler) DualMode(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		badRequest(c, "missing room_id")
		return
	}
	conn, user, ok := h.upgrade(c)
	if !ok {
		return
	}
	h.rooms.ServeRoom(c.Request.Context(), conn, roomID, user)
}

// Lobby 大厅连接 /ws/ts/lobby
func (h *WebSocketHandler) Lobby(c *gin.Context) {
	conn, user, ok := h.upgrade(c)
	if !ok {
		return
	}
	h.rooms.ServeLobby(c.Request.Context(), conn, user)
}

func (h *WebSocketHandler) upgrade(c *gin.Context) (*websocket.Conn, *ws.Identity, bool) {
	var user *ws.Identity
	if id, ok := middleware.GetUserID(c); ok {
		name, _ := middleware.GetUsername(c)
		user = &ws.Identity{ID: id, Username: name}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		h.log.Warn("WebSocket升级失败", zap.String("ip", c.ClientIP()), zap.Error(err))
		return nil, nil, false
	}
	return conn, user, true
}
