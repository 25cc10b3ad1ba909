package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrHubClosed Hub 已关闭
var ErrHubClosed = errors.New("hub已关闭")

// Hub 连接管理中心。同一主题在本进程只订阅一次 broker，再分发给本地连接
type Hub struct {
	broker Broker

	mu      sync.Mutex
	clients map[string]*Client
	topics  map[string]*topicGroup
	closed  bool

	logger *zap.Logger
}

// topicGroup 一个主题的本地连接。ready 关闭前 sub 仍在订阅中
type topicGroup struct {
	clients map[string]*Client
	sub     *Subscription
	ready   chan struct{}
	done    chan struct{}
}

// NewHub 创建Hub
func NewHub(broker Broker) *Hub {
	return &Hub{
		broker:  broker,
		clients: make(map[string]*Client),
		topics:  make(map[string]*topicGroup),
		logger:  logger.WithModule("websocket"),
	}
}

// Join 客户端加入主题。首个加入者在锁外向 broker 订阅，其余加入者等待订阅完成
func (h *Hub) Join(ctx context.Context, client *Client, topic string) error {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return ErrHubClosed
		}

		group, ok := h.topics[topic]
		if !ok {
			group = &topicGroup{
				clients: make(map[string]*Client),
				ready:   make(chan struct{}),
				done:    make(chan struct{}),
			}
			h.topics[topic] = group
			h.mu.Unlock()

			if err := h.subscribe(ctx, topic, group); err != nil {
				return err
			}
			continue
		}

		select {
		case <-group.ready:
		default:
			h.mu.Unlock()
			select {
			case <-group.ready:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		group.clients[client.ID] = client
		h.clients[client.ID] = client
		count := len(group.clients)
		h.mu.Unlock()

		h.logger.Debug("客户端加入主题",
			zap.String("client_id", client.ID),
			zap.String("topic", topic),
			zap.Int("local_clients", count))
		return nil
	}
}

// subscribe 订阅 broker 后安装到主题并唤醒等待者。订阅失败或 Hub 已关闭时撤下主题
func (h *Hub) subscribe(ctx context.Context, topic string, group *topicGroup) error {
	sub, err := h.broker.Subscribe(ctx, topic)

	h.mu.Lock()
	installed := h.topics[topic] == group
	switch {
	case err != nil:
		if installed {
			delete(h.topics, topic)
		}
	case !installed:
		err = ErrHubClosed
	default:
		group.sub = sub
		go h.forward(topic, group)
	}
	close(group.ready)
	h.mu.Unlock()

	if err != nil && sub != nil {
		_ = sub.Close()
	}
	return err
}

// Leave 客户端离开主题，主题没有本地连接时取消订阅
func (h *Hub) Leave(client *Client, topic string) {
	h.mu.Lock()
	delete(h.clients, client.ID)
	group, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := group.clients[client.ID]; !member {
		h.mu.Unlock()
		return
	}
	delete(group.clients, client.ID)
	if len(group.clients) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.topics, topic)
	h.mu.Unlock()

	if err := group.sub.Close(); err != nil {
		h.logger.Warn("取消订阅失败", zap.String("topic", topic), zap.Error(err))
	}
	<-group.done
}

// Publish 向主题广播
func (h *Hub) Publish(ctx context.Context, topic string, env Envelope) error {
	logger.LogWebSocketMessage("publish", env.Type, topic)
	return h.broker.Publish(ctx, topic, env)
}

// ClientCount 本地连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// TopicCount 本地订阅的主题数
func (h *Hub) TopicCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

// Close 取消全部订阅并断开本地连接
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	groups := make([]*topicGroup, 0, len(h.topics))
	for topic, group := range h.topics {
		delete(h.topics, topic)
		// 仍在订阅中的主题由 subscribe 自行关闭
		if group.sub != nil {
			groups = append(groups, group)
		}
	}
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}

	var eg errgroup.Group
	for _, group := range groups {
		eg.Go(func() error {
			err := group.sub.Close()
			<-group.done
			return err
		})
	}
	return eg.Wait()
}

// forward 把订阅收到的消息分发给主题下的本地连接
func (h *Hub) forward(topic string, group *topicGroup) {
	defer close(group.done)

	for env := range group.sub.C {
		data, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("序列化消息失败", zap.Error(err))
			continue
		}

		h.mu.Lock()
		targets := make([]*Client, 0, len(group.clients))
		for _, c := range group.clients {
			targets = append(targets, c)
		}
		h.mu.Unlock()

		for _, c := range targets {
			if err := c.sendRaw(data); err != nil && err != ErrClientClosed {
				h.logger.Warn("客户端发送缓冲区满",
					zap.String("client_id", c.ID),
					zap.String("topic", topic))
			}
		}
	}
}
