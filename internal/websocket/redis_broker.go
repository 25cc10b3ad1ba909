package websocket

import (
	"context"
	"encoding/json"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker 基于 Redis pub/sub 的 broker，多实例部署时共享房间和大厅广播
type RedisBroker struct {
	client     redis.UniversalClient
	prefix     string
	bufferSize int
	log        *zap.Logger
}

// NewRedisBroker 创建 Redis broker
func NewRedisBroker(client redis.UniversalClient, cfg config.BrokerConfig) *RedisBroker {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBrokerBuffer
	}
	return &RedisBroker{
		client:     client,
		prefix:     cfg.ChannelPrefix,
		bufferSize: bufferSize,
		log:        logger.WithModule("broker"),
	}
}

func (b *RedisBroker) channel(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + ":" + topic
}

// Publish 发布消息
func (b *RedisBroker) Publish(ctx context.Context, topic string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrMessageFormat, "序列化消息失败")
	}
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrBrokerPublish, "publish %s", topic)
	}
	return nil
}

// Subscribe 订阅主题，返回前等待 Redis 确认订阅
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperrors.Wrapf(err, apperrors.ErrBrokerSubscribe, "subscribe %s", topic)
	}

	out := make(chan Envelope, b.bufferSize)
	done := make(chan struct{})
	msgs := ps.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Warn("丢弃无法解析的消息", zap.String("topic", topic), zap.Error(err))
					continue
				}
				select {
				case out <- env:
				case <-done:
					return
				default:
					b.log.Warn("订阅者缓冲区满，丢弃消息",
						zap.String("topic", topic),
						zap.String("type", env.Type))
				}
			}
		}
	}()

	return newSubscription(topic, out, func() error {
		close(done)
		return ps.Close()
	}), nil
}

// Close 客户端由调用方管理，这里不关闭
func (b *RedisBroker) Close() error {
	return nil
}
