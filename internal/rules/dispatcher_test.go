package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcast/live-rules/internal/model"
)

// stubStorage 测试用内存存储
type stubStorage struct {
	mu    sync.Mutex
	rules map[string]*Rule
}

func newStubStorage() *stubStorage {
	return &stubStorage{rules: make(map[string]*Rule)}
}

func (s *stubStorage) Insert(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

func (s *stubStorage) UpdateByID(id string, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[id] = rule.Clone()
	return nil
}

func (s *stubStorage) DeleteByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

func (s *stubStorage) SelectAll() ([]*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Clone())
	}
	return out, nil
}

func (s *stubStorage) Close() error { return nil }

// recordingHandler 记录每次执行的测试处理器
type recordingHandler struct {
	mu       sync.Mutex
	refs     []ActionRef
	payloads []map[string]any
	fail     bool
	panics   bool
	resets   int
}

func (h *recordingHandler) Name() string { return "recording" }

func (h *recordingHandler) Execute(_ context.Context, ref ActionRef, payload map[string]any) error {
	h.mu.Lock()
	h.refs = append(h.refs, ref)
	h.payloads = append(h.payloads, payload)
	h.mu.Unlock()
	if h.panics {
		panic("handler exploded")
	}
	if h.fail {
		return NewActionError(ErrCodeActionExec, "模拟执行失败", nil)
	}
	return nil
}

func (h *recordingHandler) Reset() {
	h.mu.Lock()
	h.resets++
	h.mu.Unlock()
}

func (h *recordingHandler) executed() []ActionRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ActionRef(nil), h.refs...)
}

func (h *recordingHandler) lastPayload() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.payloads) == 0 {
		return nil
	}
	return h.payloads[len(h.payloads)-1]
}

// testEngine 调度器测试夹具
type testEngine struct {
	store     *Store
	dispatch  *Dispatcher
	cooldowns *CooldownTracker
	clock     *fakeClock
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	evaluator := NewEvaluator()
	store, err := NewStore(newStubStorage(), evaluator)
	require.NoError(t, err)

	clock := newFakeClock()
	cooldowns := newCooldownTracker(time.Hour, clock.Now)
	t.Cleanup(cooldowns.Close)

	return &testEngine{
		store:     store,
		dispatch:  NewDispatcher(store, evaluator, cooldowns),
		cooldowns: cooldowns,
		clock:     clock,
	}
}

func (e *testEngine) mustCreate(t *testing.T, rule *Rule) *Rule {
	t.Helper()
	created, err := e.store.Create(rule)
	require.NoError(t, err)
	return created
}

func draftRule(name, eventType string, priority int) *Rule {
	return &Rule{
		Enabled:   true,
		Name:      name,
		EventType: eventType,
		Action:    ActionRef{Category: "recording", Name: name},
		Priority:  priority,
	}
}

func TestDispatchExecutesInDeterministicOrder(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	e.mustCreate(t, draftRule("low", model.EventGift, 1))
	e.mustCreate(t, draftRule("high", model.EventGift, 10))
	e.mustCreate(t, draftRule("mid", model.EventGift, 5))

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, nil))

	refs := handler.executed()
	require.Len(t, refs, 3)
	assert.Equal(t, "high", refs[0].Name)
	assert.Equal(t, "mid", refs[1].Name)
	assert.Equal(t, "low", refs[2].Name)
}

func TestDispatchOneEventManyActions(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	// 同一事件类型的多条规则互不排斥，一个命中不压制其余
	e.mustCreate(t, draftRule("sound", model.EventGift, 5))
	e.mustCreate(t, draftRule("overlay", model.EventGift, 5))
	failing := draftRule("broken", model.EventGift, 9)
	e.mustCreate(t, failing)

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, nil))

	assert.Len(t, handler.executed(), 3)

	metrics := e.dispatch.Metrics()
	assert.Equal(t, int64(1), metrics.EventsProcessed)
	assert.Equal(t, int64(3), metrics.RulesMatched)
}

func TestDispatchCooldownBlocksRepeat(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	rule := draftRule("alert", model.EventFollow, 0)
	rule.Cooldown = 10 * time.Second
	e.mustCreate(t, rule)

	ev := model.NewLiveEvent(model.EventFollow, nil)
	e.dispatch.HandleEvent(ev)
	e.clock.Advance(3 * time.Second)
	e.dispatch.HandleEvent(ev)

	assert.Len(t, handler.executed(), 1)
	assert.Equal(t, int64(1), e.dispatch.Metrics().CooldownBlocked)

	// 冷却结束后恢复触发
	e.clock.Advance(8 * time.Second)
	e.dispatch.HandleEvent(ev)
	assert.Len(t, handler.executed(), 2)
}

func TestDispatchDelayDoesNotExemptCooldown(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	rule := draftRule("delayed", model.EventGift, 0)
	rule.Delay = 50 * time.Millisecond
	rule.Cooldown = time.Minute
	e.mustCreate(t, rule)

	ev := model.NewLiveEvent(model.EventGift, nil)
	e.dispatch.HandleEvent(ev)
	// 冷却在匹配时刻记录：第一个动作尚未执行，第二个事件已被拦截
	e.dispatch.HandleEvent(ev)

	assert.Empty(t, handler.executed())
	assert.Equal(t, 1, e.dispatch.PendingCount())
	assert.Equal(t, int64(1), e.dispatch.Metrics().CooldownBlocked)

	assert.Eventually(t, func() bool {
		return len(handler.executed()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, e.dispatch.PendingCount())
}

func TestDispatchFailingHandlerDoesNotAffectOthers(t *testing.T) {
	e := newTestEngine(t)
	good := &recordingHandler{}
	bad := &recordingHandler{fail: true}
	e.dispatch.RegisterHandler("recording", good)
	e.dispatch.RegisterHandler("failing", bad)

	broken := draftRule("broken", model.EventChat, 10)
	broken.Action = ActionRef{Category: "failing", Name: "broken"}
	e.mustCreate(t, broken)
	e.mustCreate(t, draftRule("ok", model.EventChat, 1))

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventChat, nil))

	// 高优先级处理器失败不影响后续候选执行
	assert.Len(t, good.executed(), 1)

	metrics := e.dispatch.Metrics()
	assert.Equal(t, int64(1), metrics.ActionsFailed)
	assert.Equal(t, int64(1), metrics.ActionsSucceeded)
}

func TestDispatchPanickingHandlerIsContained(t *testing.T) {
	e := newTestEngine(t)
	good := &recordingHandler{}
	angry := &recordingHandler{panics: true}
	e.dispatch.RegisterHandler("recording", good)
	e.dispatch.RegisterHandler("panicking", angry)

	explosive := draftRule("explosive", model.EventChat, 10)
	explosive.Action = ActionRef{Category: "panicking", Name: "explosive"}
	e.mustCreate(t, explosive)
	e.mustCreate(t, draftRule("ok", model.EventChat, 1))

	require.NotPanics(t, func() {
		e.dispatch.HandleEvent(model.NewLiveEvent(model.EventChat, nil))
	})
	assert.Len(t, good.executed(), 1)
	assert.Equal(t, int64(1), e.dispatch.Metrics().ActionsFailed)
}

func TestDispatchUnknownCategoryIsRecorded(t *testing.T) {
	e := newTestEngine(t)

	orphan := draftRule("orphan", model.EventLike, 0)
	orphan.Action = ActionRef{Category: "nonexistent", Name: "orphan"}
	e.mustCreate(t, orphan)

	require.NotPanics(t, func() {
		e.dispatch.HandleEvent(model.NewLiveEvent(model.EventLike, nil))
	})
	assert.Equal(t, int64(1), e.dispatch.Metrics().ActionsFailed)
}

func TestDispatchStopAllCancelsPendingAndResetsHandlers(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	rule := draftRule("slow", model.EventGift, 0)
	rule.Delay = 10 * time.Second
	e.mustCreate(t, rule)

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, nil))
	require.Equal(t, 1, e.dispatch.PendingCount())

	e.dispatch.StopAll()

	assert.Equal(t, 0, e.dispatch.PendingCount())
	assert.Empty(t, handler.executed())
	assert.Equal(t, int64(1), e.dispatch.Metrics().ActionsCancelled)

	handler.mu.Lock()
	resets := handler.resets
	handler.mu.Unlock()
	assert.Equal(t, 1, resets)

	// 规则集不受影响，后续事件照常处理
	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, nil))
	assert.Equal(t, 1, e.dispatch.PendingCount())
}

func TestDispatchStopAllKeepsCooldowns(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	rule := draftRule("guarded", model.EventShare, 0)
	rule.Cooldown = time.Minute
	e.mustCreate(t, rule)

	ev := model.NewLiveEvent(model.EventShare, nil)
	e.dispatch.HandleEvent(ev)
	e.dispatch.StopAll()

	// 停止派发不重置冷却
	e.dispatch.HandleEvent(ev)
	assert.Len(t, handler.executed(), 1)
}

func TestDispatchPayloadFromContextTemplate(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	rule := draftRule("templated", model.EventGift, 0)
	rule.Context = map[string]string{
		"text":    "{{username}} 送出 {{gift_name}}",
		"missing": "[{{nonexistent}}]",
	}
	e.mustCreate(t, rule)

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, map[string]any{
		"username":  "alice",
		"gift_name": "Rose",
		"coins":     10,
	}))

	payload := handler.lastPayload()
	require.NotNil(t, payload)
	assert.Equal(t, "alice 送出 Rose", payload["text"])
	// 缺失字段替换为空串
	assert.Equal(t, "[]", payload["missing"])
	// 配置了模板时不透传原始字段
	assert.NotContains(t, payload, "coins")
}

func TestDispatchPayloadDefaultsToEventFields(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	e.mustCreate(t, draftRule("passthrough", model.EventGift, 0))

	fields := map[string]any{"username": "bob", "coins": 42}
	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, fields))

	payload := handler.lastPayload()
	require.NotNil(t, payload)
	assert.Equal(t, "bob", payload["username"])
	assert.Equal(t, 42, payload["coins"])

	// 载荷是副本，处理器改动不回写事件
	payload["coins"] = 0
	assert.Equal(t, 42, fields["coins"])
}

func TestDispatchConditionGate(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	rule := draftRule("big-gift", model.EventGift, 0)
	rule.Conditions = &Condition{
		Min:   map[string]float64{"coins": 100},
		Allow: map[string][]string{"gift_name": {"Lion", "Galaxy"}},
	}
	e.mustCreate(t, rule)

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, map[string]any{
		"gift_name": "Rose", "coins": 500,
	}))
	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, map[string]any{
		"gift_name": "Lion", "coins": 50,
	}))
	assert.Empty(t, handler.executed())

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventGift, map[string]any{
		"gift_name": "Lion", "coins": 500,
	}))
	assert.Len(t, handler.executed(), 1)
}

func TestDispatchSkipsOtherEventTypes(t *testing.T) {
	e := newTestEngine(t)
	handler := &recordingHandler{}
	e.dispatch.RegisterHandler("recording", handler)

	e.mustCreate(t, draftRule("gift-only", model.EventGift, 0))

	e.dispatch.HandleEvent(model.NewLiveEvent(model.EventChat, nil))
	assert.Empty(t, handler.executed())
	assert.Equal(t, int64(1), e.dispatch.Metrics().EventsProcessed)
}
