package model

import (
	"encoding/json"
	"time"
)

// 事件类型常量（直播伴侣侧约定，引擎本身不关心具体取值）
const (
	EventGift      = "gift"
	EventChat      = "chat"
	EventFollow    = "follow"
	EventLike      = "like"
	EventShare     = "share"
	EventSubscribe = "subscribe"
)

// LiveEvent 直播事件。由外部事件源（TikTok连接器）推入，
// 对规则引擎而言是只读输入：类型标签 + 扁平字段表。
type LiveEvent struct {
	Type      string         `json:"type" yaml:"type"`
	Fields    map[string]any `json:"fields" yaml:"fields"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

// NewLiveEvent 创建直播事件
func NewLiveEvent(eventType string, fields map[string]any) LiveEvent {
	if fields == nil {
		fields = make(map[string]any)
	}
	return LiveEvent{
		Type:      eventType,
		Fields:    fields,
		Timestamp: time.Now(),
	}
}

// Str 获取字符串字段，字段不存在或类型不符返回空串
func (e LiveEvent) Str(key string) string {
	if v, ok := e.Fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Num 获取数值字段。JSON解码后的数字可能是float64、json.Number或整型，
// 统一转换为float64；失败返回false。
func (e LiveEvent) Num(key string) (float64, bool) {
	v, ok := e.Fields[key]
	if !ok {
		return 0, false
	}
	return ToFloat64(v)
}

// Has 判断字段是否存在
func (e LiveEvent) Has(key string) bool {
	_, ok := e.Fields[key]
	return ok
}

// FieldsCopy 返回字段表的浅拷贝，供下游安全修改
func (e LiveEvent) FieldsCopy() map[string]any {
	out := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		out[k] = v
	}
	return out
}

// ToFloat64 尝试将值转换为float64
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}
