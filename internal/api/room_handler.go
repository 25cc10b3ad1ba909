package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/middleware"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/room"
	ws "github.com/Shi-Yueyang/TrueSwiftie/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 320
	maxQRSize     = 1024
)

// RoomHandler 对战房间的 REST 接口
type RoomHandler struct {
	registry  *room.Registry
	rooms     *ws.RoomHandler
	publicURL string
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(registry *room.Registry, rooms *ws.RoomHandler, publicURL string) *RoomHandler {
	return &RoomHandler{
		registry:  registry,
		rooms:     rooms,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// List 当前房间列表
func (h *RoomHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.SnapshotRooms())
}

// Create 创建房间，登录用户占 1 号位
func (h *RoomHandler) Create(c *gin.Context) {
	var creator *uint
	if id, ok := middleware.GetUserID(c); ok {
		creator = &id
	}
	snap := h.registry.CreateRoom(creator)
	h.rooms.PublishRooms(c.Request.Context())
	c.JSON(http.StatusCreated, snap)
}

// Get 房间详情
func (h *RoomHandler) Get(c *gin.Context) {
	snap, err := h.registry.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// QRCode 邀请链接二维码
func (h *RoomHandler) QRCode(c *gin.Context) {
	snap, err := h.registry.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	size, ok := intQuery(c, "size", defaultQRSize)
	if !ok {
		return
	}
	if size == 0 || size > maxQRSize {
		badRequest(c, "invalid size")
		return
	}

	png, err := qrcode.Encode(h.InviteURL(snap.ID), qrcode.Medium, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// InviteURL 前端等待页的地址
func (h *RoomHandler) InviteURL(roomID string) string {
	return h.publicURL + "/waiting-room?room=" + url.QueryEscape(roomID)
}
