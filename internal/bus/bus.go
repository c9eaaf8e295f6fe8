package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/model"
)

// EventBus 基于NATS的事件总线。TikTok连接器把直播事件发布到
// <prefix>.<eventType> 主题，引擎订阅 <prefix>.> 并逐条派发。
type EventBus struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewEventBus 连接NATS并创建事件总线
func NewEventBus(url, subjectPrefix string) (*EventBus, error) {
	if subjectPrefix == "" {
		subjectPrefix = "live.events"
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS连接断开")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS已重连")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	return &EventBus{
		conn:          conn,
		subjectPrefix: subjectPrefix,
	}, nil
}

// Conn 暴露底层连接，供转发动作处理器复用
func (b *EventBus) Conn() *nats.Conn {
	return b.conn
}

// Publish 发布直播事件到 <prefix>.<eventType> 主题
func (b *EventBus) Publish(ev model.LiveEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", b.subjectPrefix, ev.Type)
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅全部直播事件，实现rules.EventSource。
// 消息按到达顺序逐条交给handler，不重排、不批处理。
func (b *EventBus) Subscribe(handler func(ev model.LiveEvent)) (func() error, error) {
	subject := b.subjectPrefix + ".>"
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev model.LiveEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("事件解码失败，已丢弃")
			return
		}
		if ev.Type == "" {
			// 主题尾段兜底为事件类型
			if i := strings.LastIndex(msg.Subject, "."); i >= 0 {
				ev.Type = msg.Subject[i+1:]
			}
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("订阅事件主题失败: %w", err)
	}

	log.Info().Str("subject", subject).Msg("事件总线订阅完成")
	return sub.Unsubscribe, nil
}

// Close 排空并关闭连接
func (b *EventBus) Close() {
	if err := b.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS排空失败")
	}
	b.conn.Close()
}
