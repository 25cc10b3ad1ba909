package websocket

import (
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
)

// 主题
const (
	LobbyTopic      = "lobby"
	roomTopicPrefix = "room:"
)

// RoomTopic 房间主题
func RoomTopic(roomID string) string {
	return roomTopicPrefix + roomID
}

// 消息类型
const (
	MessageTypeRoomState    = "room_state"
	MessageTypePlayerJoined = "player_joined"
	MessageTypePlayerLeft   = "player_left"
	MessageTypeRooms        = "rooms"
	MessageTypeRoomCreated  = "room_created"
	MessageTypeCreateRoom   = "create_room"
	MessageTypeMessage      = "message"
	MessageTypeError        = "error"
)

// SenderSystem 系统消息的发送者
const SenderSystem = "system"

// Envelope 服务端下发的消息信封
type Envelope struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Sender interface{}     `json:"sender,omitempty"`
}

// NewEnvelope 序列化 data 构造信封
func NewEnvelope(msgType string, data interface{}, sender interface{}) (Envelope, error) {
	env := Envelope{Type: msgType, Sender: sender}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, apperrors.Wrap(err, apperrors.ErrMessageFormat, "序列化消息失败")
	}
	env.Data = raw
	return env, nil
}

// Broker 发布订阅抽象，主题为房间或大厅
type Broker interface {
	// Publish 向主题发布消息，同一发布者的消息按发布顺序送达
	Publish(ctx context.Context, topic string, env Envelope) error
	// Subscribe 订阅主题，ctx 只约束订阅过程本身
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription 一个主题订阅
type Subscription struct {
	Topic string
	C     <-chan Envelope

	once    sync.Once
	closeFn func() error
	err     error
}

func newSubscription(topic string, c <-chan Envelope, closeFn func() error) *Subscription {
	return &Subscription{Topic: topic, C: c, closeFn: closeFn}
}

// Close 取消订阅，C 随后被关闭。可重复调用
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.closeFn()
	})
	return s.err
}
