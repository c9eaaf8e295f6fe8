package rules

import (
	"context"
	"time"

	"github.com/streamcast/live-rules/internal/model"
)

// Rule 规则定义：把一类直播事件映射到一个下游动作，
// 带条件、延迟、冷却与优先级元数据。
type Rule struct {
	ID          string            `json:"id" yaml:"id"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	EventType   string            `json:"event_type" yaml:"event_type"`
	Action      ActionRef         `json:"action" yaml:"action"`
	Context     map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
	Conditions  *Condition        `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Delay       time.Duration     `json:"delay" yaml:"delay"`
	Cooldown    time.Duration     `json:"cooldown" yaml:"cooldown"`
	Priority    int               `json:"priority" yaml:"priority"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"updated_at"`
}

// ActionRef 动作引用：分类 + 动作名，由动作处理器自行解释。
// 引擎不理解动作的语义，只负责把载荷交给对应处理器。
type ActionRef struct {
	Category string `json:"category" yaml:"category"`
	Name     string `json:"name" yaml:"name"`
}

// Empty 判断动作引用是否为空
func (r ActionRef) Empty() bool {
	return r.Category == "" || r.Name == ""
}

// Condition 条件定义。各条件组之间为AND关系；
// 列表型条件组内部（如礼物名白名单）为OR关系。
// 全部字段为空表示无条件匹配。
type Condition struct {
	Allow      map[string][]string `json:"allow,omitempty" yaml:"allow,omitempty"`           // 字段 -> 允许值列表
	Deny       map[string][]string `json:"deny,omitempty" yaml:"deny,omitempty"`             // 字段 -> 排除值列表
	Min        map[string]float64  `json:"min,omitempty" yaml:"min,omitempty"`               // 字段 -> 数值下界
	Max        map[string]float64  `json:"max,omitempty" yaml:"max,omitempty"`               // 字段 -> 数值上界
	Contains   map[string]string   `json:"contains,omitempty" yaml:"contains,omitempty"`     // 字段 -> 子串（不区分大小写）
	Regex      map[string]string   `json:"regex,omitempty" yaml:"regex,omitempty"`           // 字段 -> 正则模式
	Expression string              `json:"expression,omitempty" yaml:"expression,omitempty"` // 至多一个沙箱布尔表达式
}

// Empty 判断条件是否为空（空条件恒为匹配）
func (c *Condition) Empty() bool {
	if c == nil {
		return true
	}
	return len(c.Allow) == 0 && len(c.Deny) == 0 && len(c.Min) == 0 &&
		len(c.Max) == 0 && len(c.Contains) == 0 && len(c.Regex) == 0 &&
		c.Expression == ""
}

// RuleExport 导出格式的规则：用于备份/导入，不包含内部ID与时间戳。
type RuleExport struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	EventType   string            `json:"event_type" yaml:"event_type"`
	Action      ActionRef         `json:"action" yaml:"action"`
	Context     map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
	Conditions  *Condition        `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Delay       time.Duration     `json:"delay" yaml:"delay"`
	Cooldown    time.Duration     `json:"cooldown" yaml:"cooldown"`
	Priority    int               `json:"priority" yaml:"priority"`
}

// ActionHandler 动作处理器接口。Execute不保证同步完成；
// 返回的错误只会被调度器记录，不会中断其余候选规则。
type ActionHandler interface {
	Name() string
	Execute(ctx context.Context, ref ActionRef, payload map[string]any) error
}

// Storage 规则持久化后端接口，任何满足增删改查的存储皆可
type Storage interface {
	Insert(rule *Rule) error
	UpdateByID(id string, rule *Rule) error
	DeleteByID(id string) error
	SelectAll() ([]*Rule, error)
	Close() error
}

// EventSource 事件源接口：宿主通过它把直播事件推入引擎
type EventSource interface {
	Subscribe(handler func(ev model.LiveEvent)) (func() error, error)
}

// Clone 深拷贝规则，避免调用方修改索引内共享实例
func (r *Rule) Clone() *Rule {
	out := *r
	if r.Context != nil {
		out.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			out.Context[k] = v
		}
	}
	if r.Conditions != nil {
		out.Conditions = r.Conditions.Clone()
	}
	return &out
}

// Clone 深拷贝条件
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	out := &Condition{Expression: c.Expression}
	if c.Allow != nil {
		out.Allow = cloneStringListMap(c.Allow)
	}
	if c.Deny != nil {
		out.Deny = cloneStringListMap(c.Deny)
	}
	if c.Min != nil {
		out.Min = make(map[string]float64, len(c.Min))
		for k, v := range c.Min {
			out.Min[k] = v
		}
	}
	if c.Max != nil {
		out.Max = make(map[string]float64, len(c.Max))
		for k, v := range c.Max {
			out.Max[k] = v
		}
	}
	if c.Contains != nil {
		out.Contains = make(map[string]string, len(c.Contains))
		for k, v := range c.Contains {
			out.Contains[k] = v
		}
	}
	if c.Regex != nil {
		out.Regex = make(map[string]string, len(c.Regex))
		for k, v := range c.Regex {
			out.Regex[k] = v
		}
	}
	return out
}

func cloneStringListMap(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Export 转为导出格式（剥离ID与时间戳）
func (r *Rule) Export() RuleExport {
	c := r.Clone()
	return RuleExport{
		Enabled:     c.Enabled,
		Name:        c.Name,
		Description: c.Description,
		EventType:   c.EventType,
		Action:      c.Action,
		Context:     c.Context,
		Conditions:  c.Conditions,
		Delay:       c.Delay,
		Cooldown:    c.Cooldown,
		Priority:    c.Priority,
	}
}

// Rule 转导入格式的逆操作：由导出条目重建规则草稿
func (e RuleExport) Rule() *Rule {
	return &Rule{
		Enabled:     e.Enabled,
		Name:        e.Name,
		Description: e.Description,
		EventType:   e.EventType,
		Action:      e.Action,
		Context:     e.Context,
		Conditions:  e.Conditions,
		Delay:       e.Delay,
		Cooldown:    e.Cooldown,
		Priority:    e.Priority,
	}
}
