package rules

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/model"
)

// placeholderPattern 上下文模板中的字段占位符，如 {{username}}
var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Resettable 动作处理器可选实现的复位接口。
// StopAll时被调用，用于释放处理器代持的活动状态
// （如按住未放的表情触发、尚在播放的覆盖层动画）。
type Resettable interface {
	Reset()
}

// Dispatcher 调度核心：事件到达时取候选规则，
// 按 冷却检查 -> 条件评估 -> 原子记录冷却 -> 派发动作 的顺序处理。
// 冷却在匹配时刻记录，先于任何延迟——延迟窗口内的重复事件同样被冷却拦截。
type Dispatcher struct {
	store     *Store
	evaluator *Evaluator
	cooldowns *CooldownTracker

	handlers   map[string]ActionHandler
	handlersMu sync.RWMutex

	timers   map[int64]*time.Timer
	timerSeq int64
	timersMu sync.Mutex

	counters engineCounters
}

// NewDispatcher 创建调度器。状态全部由实例持有，
// 多个引擎实例（如按直播会话隔离）可以共存。
func NewDispatcher(store *Store, evaluator *Evaluator, cooldowns *CooldownTracker) *Dispatcher {
	return &Dispatcher{
		store:     store,
		evaluator: evaluator,
		cooldowns: cooldowns,
		handlers:  make(map[string]ActionHandler),
		timers:    make(map[int64]*time.Timer),
	}
}

// RegisterHandler 按动作分类注册处理器
func (d *Dispatcher) RegisterHandler(category string, handler ActionHandler) {
	d.handlersMu.Lock()
	d.handlers[category] = handler
	d.handlersMu.Unlock()
	log.Info().Str("category", category).Str("name", handler.Name()).Msg("动作处理器已注册")
}

// HandleEvent 事件入口。单个事件的候选规则按确定性顺序
// 全部独立评估：一个规则命中不会压制后续低优先级候选（1事件:N动作）。
// 本方法从不向调用方抛出错误。
func (d *Dispatcher) HandleEvent(ev model.LiveEvent) {
	d.counters.eventsProcessed.Add(1)
	d.counters.lastEventUnixMs.Store(time.Now().UnixMilli())

	candidates := d.store.Candidates(ev.Type)
	if len(candidates) == 0 {
		return
	}

	for _, rule := range candidates {
		// 索引只收录启用规则，这里是防御性复查
		if !rule.Enabled {
			continue
		}

		// 冷却先查：仍在冷却期内的规则直接跳过，省掉条件评估。
		// 两个检查都无副作用，先后顺序不影响外部可见行为。
		if d.cooldowns.IsOnCooldown(rule.ID) {
			d.counters.cooldownBlocked.Add(1)
			continue
		}

		if !d.evaluator.Evaluate(rule.Conditions, ev) {
			continue
		}

		// 条件通过后原子地复查并记录冷却，
		// 防止并发事件同时绕过同一条冷却
		if !d.cooldowns.CheckAndRecord(rule.ID, rule.Cooldown) {
			d.counters.cooldownBlocked.Add(1)
			continue
		}

		d.counters.rulesMatched.Add(1)
		payload := buildPayload(rule, ev)

		if rule.Delay > 0 {
			d.scheduleDelayed(rule, payload)
		} else {
			d.execute(rule, payload)
		}
	}
}

// StopAll 全局停止：取消所有待触发的延迟动作，
// 并复位处理器代持的活动状态。规则集与冷却状态保持不变——
// 停止派发不等于重置规则或冷却。
func (d *Dispatcher) StopAll() {
	d.timersMu.Lock()
	cancelled := 0
	for seq, timer := range d.timers {
		if timer.Stop() {
			cancelled++
		}
		delete(d.timers, seq)
	}
	d.timersMu.Unlock()
	d.counters.actionsCancelled.Add(int64(cancelled))

	d.handlersMu.RLock()
	for _, handler := range d.handlers {
		if r, ok := handler.(Resettable); ok {
			r.Reset()
		}
	}
	d.handlersMu.RUnlock()

	log.Info().Int("cancelled", cancelled).Msg("全局停止：待触发动作已取消")
}

// PendingCount 待触发的延迟动作数量
func (d *Dispatcher) PendingCount() int {
	d.timersMu.Lock()
	defer d.timersMu.Unlock()
	return len(d.timers)
}

// Metrics 引擎指标快照
func (d *Dispatcher) Metrics() EngineMetrics {
	return d.counters.snapshot()
}

// scheduleDelayed 延迟派发。冷却已在匹配时刻记录，
// 此处仅登记定时器；取消定时器不回滚冷却。
func (d *Dispatcher) scheduleDelayed(rule *Rule, payload map[string]any) {
	d.timersMu.Lock()
	d.timerSeq++
	seq := d.timerSeq
	d.timers[seq] = time.AfterFunc(rule.Delay, func() {
		d.timersMu.Lock()
		delete(d.timers, seq)
		d.timersMu.Unlock()
		d.execute(rule, payload)
	})
	d.timersMu.Unlock()

	d.counters.actionsScheduled.Add(1)
	log.Debug().
		Str("rule_id", rule.ID).
		Dur("delay", rule.Delay).
		Msg("动作已延迟调度")
}

// execute 执行动作。处理器的错误与panic都在此被拦截记录，
// 永远不会波及同一事件的其余候选规则。
func (d *Dispatcher) execute(rule *Rule, payload map[string]any) {
	d.handlersMu.RLock()
	handler, exists := d.handlers[rule.Action.Category]
	d.handlersMu.RUnlock()

	if !exists {
		d.counters.actionsFailed.Add(1)
		log.Error().
			Str("rule_id", rule.ID).
			Str("category", rule.Action.Category).
			Msg("未注册的动作分类")
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = NewActionError(ErrCodeActionPanic, "动作处理器panic", fmt.Errorf("%v", r))
			}
		}()
		return handler.Execute(context.Background(), rule.Action, payload)
	}()

	if err != nil {
		d.counters.actionsFailed.Add(1)
		log.Error().Err(err).
			Str("rule_id", rule.ID).
			Str("category", rule.Action.Category).
			Str("action", rule.Action.Name).
			Msg("动作执行失败")
		return
	}

	d.counters.actionsSucceeded.Add(1)
	log.Debug().
		Str("rule_id", rule.ID).
		Str("category", rule.Action.Category).
		Str("action", rule.Action.Name).
		Msg("动作执行完成")
}

// buildPayload 按上下文模板构建动作载荷。
// 模板缺省时直接透传事件字段。
func buildPayload(rule *Rule, ev model.LiveEvent) map[string]any {
	if len(rule.Context) == 0 {
		return ev.FieldsCopy()
	}
	payload := make(map[string]any, len(rule.Context))
	for key, template := range rule.Context {
		payload[key] = renderTemplate(template, ev)
	}
	return payload
}

// renderTemplate 替换模板中的 {{field}} 占位符；
// 缺失字段替换为空串
func renderTemplate(template string, ev model.LiveEvent) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		field := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := ev.Fields[field]; ok {
			return fmt.Sprint(v)
		}
		return ""
	})
}
