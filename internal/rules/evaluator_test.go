package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcast/live-rules/internal/model"
)

func giftEvent(fields map[string]any) model.LiveEvent {
	return model.NewLiveEvent(model.EventGift, fields)
}

func TestEvaluateEmptyConditionAlwaysMatches(t *testing.T) {
	e := NewEvaluator()
	ev := giftEvent(map[string]any{"username": "alice"})

	assert.True(t, e.Evaluate(nil, ev))
	assert.True(t, e.Evaluate(&Condition{}, ev))
}

func TestEvaluateAllowList(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Allow: map[string][]string{"gift_name": {"Rose", "Lion"}},
	}

	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"gift_name": "Rose"})))
	// 列表内部为OR，且不区分大小写
	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"gift_name": "lion"})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"gift_name": "Galaxy"})))
	// 字段缺失不匹配白名单
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"username": "alice"})))
}

func TestEvaluateDenyList(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Deny: map[string][]string{"username": {"spammer", "bot"}},
	}

	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"username": "Spammer"})))
	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"username": "alice"})))
	// 黑名单对缺失字段放行
	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{})))
}

func TestEvaluateNumericBounds(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Min: map[string]float64{"coins": 100},
		Max: map[string]float64{"coins": 500},
	}

	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"coins": 99})))
	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"coins": 100})))
	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"coins": 500.0})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"coins": 501})))
	// 非数值字段不满足数值界
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"coins": "many"})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{})))
}

func TestEvaluateContains(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Contains: map[string]string{"comment": "hello"},
	}

	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"comment": "well HELLO there"})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"comment": "hi"})))
}

func TestEvaluateRegex(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Regex: map[string]string{"comment": `^!(\w+)`},
	}

	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"comment": "!play song"})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"comment": "play song"})))
}

func TestEvaluateUnsafeRegexFailsClosed(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Regex: map[string]string{"comment": `(a+)+$`},
	}

	// 危险模式被启发式拒绝，按不匹配处理而不是panic或挂起
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"comment": strings.Repeat("a", 64)})))
}

func TestEvaluateGroupsAreConjunctive(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Allow: map[string][]string{"gift_name": {"Rose"}},
		Min:   map[string]float64{"coins": 10},
	}

	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"gift_name": "Rose", "coins": 50})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"gift_name": "Rose", "coins": 5})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"gift_name": "Lion", "coins": 50})))
}

func TestEvaluateExpression(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Expression: `coins >= 100 && contains(comment, "vip")`,
	}

	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"coins": 150, "comment": "vip club"})))
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"coins": 150, "comment": "hello"})))
	// 表达式引用缺失字段时评估出错，按不匹配处理
	assert.False(t, e.Evaluate(cond, giftEvent(map[string]any{"comment": "vip club"})))
}

func TestValidateConditionRejectsBadRegex(t *testing.T) {
	e := NewEvaluator()

	err := e.ValidateCondition(&Condition{
		Regex: map[string]string{"comment": `([`},
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	err = e.ValidateCondition(&Condition{
		Regex: map[string]string{"comment": `(a*)*b`},
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestValidateConditionRejectsBadExpression(t *testing.T) {
	e := NewEvaluator()

	err := e.ValidateCondition(&Condition{Expression: "coins >="})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	assert.NoError(t, e.ValidateCondition(&Condition{Expression: "coins > 10"}))
}

func TestEvaluateNonStringFieldCoercion(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{
		Allow: map[string][]string{"level": {"7"}},
	}

	assert.True(t, e.Evaluate(cond, giftEvent(map[string]any{"level": 7})))
}
