package websocket

import (
	"context"
	"sync"

	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"go.uber.org/zap"
)

const defaultBrokerBuffer = 64

// MemoryBroker 进程内发布订阅
type MemoryBroker struct {
	mu         sync.RWMutex
	subs       map[string]map[chan Envelope]struct{}
	bufferSize int
	closed     bool
	log        *zap.Logger
}

// NewMemoryBroker 创建进程内 broker
func NewMemoryBroker(bufferSize int) *MemoryBroker {
	if bufferSize <= 0 {
		bufferSize = defaultBrokerBuffer
	}
	return &MemoryBroker{
		subs:       make(map[string]map[chan Envelope]struct{}),
		bufferSize: bufferSize,
		log:        logger.WithModule("broker"),
	}
}

// Publish 非阻塞地投递给所有订阅者，订阅者缓冲区满时丢弃
func (b *MemoryBroker) Publish(_ context.Context, topic string, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return apperrors.New(apperrors.ErrBrokerPublish, "broker closed")
	}
	for ch := range b.subs[topic] {
		select {
		case ch <- env:
		default:
			b.log.Warn("订阅者缓冲区满，丢弃消息",
				zap.String("topic", topic),
				zap.String("type", env.Type))
		}
	}
	return nil
}

// Subscribe 订阅主题
func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, apperrors.New(apperrors.ErrBrokerSubscribe, "broker closed")
	}

	ch := make(chan Envelope, b.bufferSize)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan Envelope]struct{})
	}
	b.subs[topic][ch] = struct{}{}

	return newSubscription(topic, ch, func() error {
		b.unsubscribe(topic, ch)
		return nil
	}), nil
}

func (b *MemoryBroker) unsubscribe(topic string, ch chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[topic]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
}

// Close 关闭所有订阅
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for ch := range subs {
			close(ch)
		}
		delete(b.subs, topic)
	}
	b.closed = true
	return nil
}
