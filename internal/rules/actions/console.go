package actions

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/rules"
)

// ConsoleHandler 控制台动作处理器：只打日志，用于规则试运行
type ConsoleHandler struct{}

// NewConsoleHandler 创建控制台处理器
func NewConsoleHandler() *ConsoleHandler {
	return &ConsoleHandler{}
}

// Name 返回处理器名称
func (h *ConsoleHandler) Name() string {
	return "console"
}

// Execute 输出动作载荷
func (h *ConsoleHandler) Execute(_ context.Context, ref rules.ActionRef, payload map[string]any) error {
	log.Info().
		Str("category", ref.Category).
		Str("action", ref.Name).
		Interface("payload", payload).
		Msg("控制台动作")
	return nil
}
