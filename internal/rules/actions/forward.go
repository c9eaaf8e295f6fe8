package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/rules"
)

// ForwardHandler NATS转发处理器：把动作载荷重新发布到总线，
// 由订阅对应主题的插件进程消费
type ForwardHandler struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewForwardHandler 创建转发处理器
func NewForwardHandler(conn *nats.Conn, subjectPrefix string) *ForwardHandler {
	if subjectPrefix == "" {
		subjectPrefix = "live.actions"
	}
	return &ForwardHandler{
		conn:          conn,
		subjectPrefix: subjectPrefix,
	}
}

// Name 返回处理器名称
func (h *ForwardHandler) Name() string {
	return "forward"
}

// Execute 把载荷发布到 <prefix>.<category>.<action> 主题
func (h *ForwardHandler) Execute(_ context.Context, ref rules.ActionRef, payload map[string]any) error {
	if h.conn == nil {
		return fmt.Errorf("NATS连接未初始化")
	}

	subject := fmt.Sprintf("%s.%s.%s", h.subjectPrefix, ref.Category, ref.Name)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化载荷失败: %w", err)
	}

	if err := h.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("发布NATS消息失败: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Int("bytes", len(data)).
		Msg("转发动作执行成功")
	return nil
}
