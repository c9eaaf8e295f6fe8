package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/rules"
)

// overlayMessage 推送给覆盖层页面的消息
type overlayMessage struct {
	Type     string         `json:"type"`
	Category string         `json:"category,omitempty"`
	Action   string         `json:"action,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// OverlayHandler WebSocket覆盖层处理器：把动作推送到
// 连接中的OBS浏览器源页面（聊天HUD、烟花、排行榜渲染端）。
type OverlayHandler struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	upgrader   websocket.Upgrader
	done       chan struct{}
	closeOnce  sync.Once
}

// NewOverlayHandler 创建覆盖层处理器并启动广播循环
func NewOverlayHandler() *OverlayHandler {
	h := &OverlayHandler{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 覆盖层页面由OBS本地加载，无Origin校验需求
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	go h.run()
	return h
}

// Name 返回处理器名称
func (h *OverlayHandler) Name() string {
	return "overlay"
}

// Execute 把动作广播给所有连接中的覆盖层页面
func (h *OverlayHandler) Execute(_ context.Context, ref rules.ActionRef, payload map[string]any) error {
	msg := overlayMessage{
		Type:     "action",
		Category: ref.Category,
		Action:   ref.Name,
		Payload:  payload,
		SentAt:   time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化覆盖层消息失败: %w", err)
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return fmt.Errorf("覆盖层处理器已关闭")
	default:
		return fmt.Errorf("覆盖层广播队列已满")
	}
}

// Reset 全局停止时广播stop_all，让覆盖层立即结束正在播放的动画
func (h *OverlayHandler) Reset() {
	msg := overlayMessage{Type: "stop_all", SentAt: time.Now()}
	data, _ := json.Marshal(msg)
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
	}
}

// HandleConnection 覆盖层页面的WebSocket接入端点
func (h *OverlayHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("覆盖层连接升级失败")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// 读循环只用于感知对端关闭
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Debug().Err(err).Msg("覆盖层连接异常断开")
				}
				return
			}
		}
	}()
}

// Close 关闭处理器与全部连接
func (h *OverlayHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// run 广播循环：串行处理注册、注销与广播
func (h *OverlayHandler) run() {
	for {
		select {
		case <-h.done:
			for conn := range h.clients {
				conn.Close()
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
			log.Info().Int("clients", len(h.clients)).Msg("覆盖层页面已连接")
		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				log.Info().Int("clients", len(h.clients)).Msg("覆盖层页面已断开")
			}
		case data := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					delete(h.clients, conn)
					conn.Close()
					log.Warn().Err(err).Msg("覆盖层推送失败，连接已移除")
				}
			}
		}
	}
}
