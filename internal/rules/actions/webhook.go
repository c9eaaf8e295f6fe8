package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/rules"
)

// WebhookHandler HTTP回调处理器：把载荷POST给插件的REST端点
// （覆盖层插件通过本地HTTP接口接收触发）
type WebhookHandler struct {
	baseURL string
	client  *http.Client
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(baseURL string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookHandler{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name 返回处理器名称
func (h *WebhookHandler) Name() string {
	return "webhook"
}

// Execute POST载荷到 <baseURL>/<category>/<action>
func (h *WebhookHandler) Execute(ctx context.Context, ref rules.ActionRef, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化载荷失败: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", h.baseURL, ref.Category, ref.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("回调请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("回调返回非成功状态: %d", resp.StatusCode)
	}

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Msg("回调动作执行成功")
	return nil
}
