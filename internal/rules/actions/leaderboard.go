package actions

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/model"
	"github.com/streamcast/live-rules/internal/rules"
)

// LeaderboardHandler 排行榜处理器：把礼物金币累计进Redis有序集合，
// 排行榜覆盖层直接读取ZREVRANGE渲染
type LeaderboardHandler struct {
	client    *redis.Client
	keyPrefix string
}

// NewLeaderboardHandler 创建排行榜处理器
func NewLeaderboardHandler(client *redis.Client, keyPrefix string) *LeaderboardHandler {
	if keyPrefix == "" {
		keyPrefix = "live:leaderboard"
	}
	return &LeaderboardHandler{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Name 返回处理器名称
func (h *LeaderboardHandler) Name() string {
	return "leaderboard"
}

// Execute 按动作名维护排行榜：member取载荷username，
// 增量取载荷coins（缺省按1计，用于点赞/关注榜）
func (h *LeaderboardHandler) Execute(ctx context.Context, ref rules.ActionRef, payload map[string]any) error {
	if h.client == nil {
		return fmt.Errorf("Redis客户端未初始化")
	}

	member, _ := payload["username"].(string)
	if member == "" {
		return fmt.Errorf("载荷缺少username字段")
	}

	increment := 1.0
	if v, ok := payload["coins"]; ok {
		if f, ok := model.ToFloat64(v); ok {
			increment = f
		}
	}

	key := fmt.Sprintf("%s:%s", h.keyPrefix, ref.Name)
	score, err := h.client.ZIncrBy(ctx, key, increment, member).Result()
	if err != nil {
		return fmt.Errorf("更新排行榜失败: %w", err)
	}

	log.Debug().
		Str("key", key).
		Str("member", member).
		Float64("increment", increment).
		Float64("score", score).
		Msg("排行榜已更新")
	return nil
}
