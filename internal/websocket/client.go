package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientClosed   = errors.New("客户端已关闭")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
)

// 默认连接参数
const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendQueueSize  = 256
)

// Identity 连接对应的登录用户，匿名连接为 nil
type Identity struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Inbound 客户端上行消息
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client 一个 WebSocket 连接
type Client struct {
	ID   string
	User *Identity

	conn *websocket.Conn
	send chan []byte

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64

	mu     sync.Mutex
	closed bool
	log    *zap.Logger
}

// NewClient 创建客户端
func NewClient(conn *websocket.Conn, user *Identity, cfg config.WebSocketConfig) *Client {
	c := &Client{
		ID:             uuid.NewString(),
		User:           user,
		conn:           conn,
		writeWait:      cfg.WriteTimeout,
		pongWait:       cfg.PongTimeout,
		maxMessageSize: cfg.MaxMessageSize,
		log:            logger.WithModule("websocket"),
	}
	if c.writeWait <= 0 {
		c.writeWait = defaultWriteWait
	}
	if c.pongWait <= 0 {
		c.pongWait = defaultPongWait
	}
	// ping周期必须小于pong超时
	c.pingPeriod = cfg.PingInterval
	if c.pingPeriod <= 0 || c.pingPeriod >= c.pongWait {
		c.pingPeriod = (c.pongWait * 9) / 10
	}
	if c.maxMessageSize <= 0 {
		c.maxMessageSize = defaultMaxMessageSize
	}
	queue := cfg.SendQueueSize
	if queue <= 0 {
		queue = defaultSendQueueSize
	}
	c.send = make(chan []byte, queue)
	return c
}

// UserID 登录用户ID，匿名连接返回 nil
func (c *Client) UserID() *uint {
	if c.User == nil {
		return nil
	}
	id := c.User.ID
	return &id
}

// Send 序列化并放入发送队列
func (c *Client) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close 关闭发送队列，WritePump 发送关闭帧后断开连接。可重复调用
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump 读取消息直到连接断开，每条消息按到达顺序交给 handle
func (c *Client) ReadPump(handle func(Inbound)) {
	c.conn.SetReadLimit(c.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Debug("解析WebSocket消息失败",
				zap.String("client_id", c.ID),
				zap.Error(err))
			c.sendError("消息格式错误")
			continue
		}
		handle(msg)
	}
}

// WritePump 写入消息，连接上唯一的写协程
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError 发送错误消息
func (c *Client) sendError(message string) {
	env, err := NewEnvelope(MessageTypeError, map[string]string{"error": message}, nil)
	if err != nil {
		return
	}
	if err := c.Send(env); err != nil {
		c.log.Debug("发送错误消息失败", zap.String("client_id", c.ID), zap.Error(err))
	}
}
