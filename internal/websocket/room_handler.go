package websocket

import (
	"context"
	"encoding/json"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/room"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RoomHandler 对战房间和大厅连接的处理器
type RoomHandler struct {
	hub      *Hub
	registry *room.Registry
	cfg      config.WebSocketConfig
	log      *zap.Logger
}

// NewRoomHandler 创建处理器
func NewRoomHandler(hub *Hub, registry *room.Registry, cfg config.WebSocketConfig) *RoomHandler {
	return &RoomHandler{
		hub:      hub,
		registry: registry,
		cfg:      cfg,
		log:      logger.WithModule("websocket"),
	}
}

// ServeRoom 处理一个房间连接，阻塞到连接断开
func (h *RoomHandler) ServeRoom(ctx context.Context, conn *websocket.Conn, roomID string, user *Identity) {
	client := NewClient(conn, user, h.cfg)
	go client.WritePump()
	defer client.Close()

	snap, err := h.registry.AddMember(roomID, client.ID, client.UserID())
	if err != nil {
		h.log.Info("加入房间失败", zap.String("room_id", roomID), zap.Error(err))
		h.sendAppError(client, err)
		return
	}

	topic := RoomTopic(roomID)
	if err := h.hub.Join(ctx, client, topic); err != nil {
		h.log.Error("订阅房间失败", zap.String("room_id", roomID), zap.Error(err))
		h.leaveRegistry(roomID, client)
		h.sendAppError(client, err)
		return
	}
	logger.LogRoomEvent("member_joined", roomID, zap.String("client_id", client.ID), zap.Int("members", snap.Members))

	defer func() {
		h.hub.Leave(client, topic)
		h.leaveRegistry(roomID, client)
		logger.LogRoomEvent("member_left", roomID, zap.String("client_id", client.ID))

		// 连接已断开，用独立的 context 完成广播
		bg := context.WithoutCancel(ctx)
		h.publish(bg, topic, MessageTypePlayerLeft, map[string]string{"room_id": roomID}, SenderSystem)
		h.PublishRooms(bg)
	}()

	h.send(client, MessageTypeRoomState, snap)
	h.publish(ctx, topic, MessageTypePlayerJoined, map[string]interface{}{
		"room_id": roomID,
		"user":    user,
	}, SenderSystem)
	h.PublishRooms(ctx)

	client.ReadPump(func(msg Inbound) {
		msgType := msg.Type
		if msgType == "" {
			msgType = MessageTypeMessage
		}
		data := msg.Data
		if len(data) == 0 || string(data) == "null" {
			data = json.RawMessage(`{}`)
		}

		// 原样转发给房间，发送者为用户ID
		var sender interface{}
		if id := client.UserID(); id != nil {
			sender = *id
		}
		env := Envelope{Type: msgType, Data: data, Sender: sender}
		if err := h.hub.Publish(ctx, topic, env); err != nil {
			h.log.Warn("转发房间消息失败", zap.String("room_id", roomID), zap.Error(err))
		}
	})
}

// ServeLobby 处理一个大厅连接，阻塞到连接断开
func (h *RoomHandler) ServeLobby(ctx context.Context, conn *websocket.Conn, user *Identity) {
	client := NewClient(conn, user, h.cfg)
	go client.WritePump()
	defer client.Close()

	if err := h.hub.Join(ctx, client, LobbyTopic); err != nil {
		h.log.Error("订阅大厅失败", zap.Error(err))
		h.sendAppError(client, err)
		return
	}
	defer h.hub.Leave(client, LobbyTopic)

	h.send(client, MessageTypeRooms, h.registry.SnapshotRooms())

	client.ReadPump(func(msg Inbound) {
		// 大厅只处理创建房间
		if msg.Type != MessageTypeCreateRoom {
			return
		}
		snap := h.registry.CreateRoom(client.UserID())
		logger.LogRoomEvent("room_created", snap.ID, zap.String("client_id", client.ID))

		h.send(client, MessageTypeRoomCreated, snap)
		h.PublishRooms(ctx)
	})
}

// PublishRooms 向大厅广播房间列表，REST 创建房间后也会调用
func (h *RoomHandler) PublishRooms(ctx context.Context) {
	h.publish(ctx, LobbyTopic, MessageTypeRooms, h.registry.SnapshotRooms(), nil)
}

func (h *RoomHandler) publish(ctx context.Context, topic, msgType string, data interface{}, sender interface{}) {
	env, err := NewEnvelope(msgType, data, sender)
	if err != nil {
		h.log.Error("构造消息失败", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := h.hub.Publish(ctx, topic, env); err != nil {
		h.log.Warn("广播失败", zap.String("topic", topic), zap.String("type", msgType), zap.Error(err))
	}
}

func (h *RoomHandler) send(client *Client, msgType string, data interface{}) {
	env, err := NewEnvelope(msgType, data, nil)
	if err != nil {
		h.log.Error("构造消息失败", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := client.Send(env); err != nil {
		h.log.Debug("发送消息失败", zap.String("client_id", client.ID), zap.Error(err))
	}
}

func (h *RoomHandler) sendAppError(client *Client, err error) {
	appErr := apperrors.As(err)
	if appErr == nil {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}
	h.send(client, MessageTypeError, map[string]interface{}{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}

func (h *RoomHandler) leaveRegistry(roomID string, client *Client) {
	if err := h.registry.RemoveMember(roomID, client.ID); err != nil {
		h.log.Warn("离开房间失败", zap.String("room_id", roomID), zap.Error(err))
	}
}
