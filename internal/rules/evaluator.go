package rules

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/model"
)

// Evaluator 条件评估器。纯查询：不产生副作用，不做I/O。
// 任何单个条件组的评估错误都按不匹配处理并记日志，
// 规则匹配永远不会让事件处理循环崩溃。
type Evaluator struct {
	regexCache *RegexCache
	sandbox    *ExpressionSandbox
}

// NewEvaluator 创建条件评估器
func NewEvaluator() *Evaluator {
	return &Evaluator{
		regexCache: NewRegexCache(256),
		sandbox:    NewExpressionSandbox(),
	}
}

// Evaluate 评估条件。条件为空恒为true；
// 各条件组之间为AND，列表型条件组内部为OR。
func (e *Evaluator) Evaluate(cond *Condition, ev model.LiveEvent) bool {
	if cond.Empty() {
		return true
	}

	// 白名单：字段值必须出现在允许列表中
	for field, allowed := range cond.Allow {
		value, ok := fieldString(ev, field)
		if !ok || !containsFold(allowed, value) {
			return false
		}
	}

	// 黑名单：字段值出现在排除列表中则不匹配；字段缺失视为通过
	for field, denied := range cond.Deny {
		if value, ok := fieldString(ev, field); ok && containsFold(denied, value) {
			return false
		}
	}

	// 数值下界
	for field, min := range cond.Min {
		num, ok := ev.Num(field)
		if !ok || num < min {
			return false
		}
	}

	// 数值上界
	for field, max := range cond.Max {
		num, ok := ev.Num(field)
		if !ok || num > max {
			return false
		}
	}

	// 子串匹配（不区分大小写）
	for field, substr := range cond.Contains {
		value, ok := fieldString(ev, field)
		if !ok || !strings.Contains(strings.ToLower(value), strings.ToLower(substr)) {
			return false
		}
	}

	// 正则匹配，模式先过ReDoS启发式检查，被拒绝的按不匹配处理
	for field, pattern := range cond.Regex {
		value, ok := fieldString(ev, field)
		if !ok {
			return false
		}
		matched, err := e.regexCache.Match(pattern, value)
		if err != nil {
			log.Warn().Err(err).
				Str("field", field).
				Str("pattern", pattern).
				Msg("正则条件评估失败，按不匹配处理")
			return false
		}
		if !matched {
			return false
		}
	}

	// 沙箱布尔表达式，与其余条件组AND
	if cond.Expression != "" {
		matched, err := e.sandbox.EvaluateBool(cond.Expression, ev.Fields)
		if err != nil {
			log.Warn().Err(err).
				Str("expression", cond.Expression).
				Msg("表达式条件评估失败，按不匹配处理")
			return false
		}
		if !matched {
			return false
		}
	}

	return true
}

// ValidateCondition 规则落库前的条件静态校验：
// 正则模式的安全检查与可编译性、表达式的可解析性。
func (e *Evaluator) ValidateCondition(cond *Condition) error {
	if cond.Empty() {
		return nil
	}
	for field, pattern := range cond.Regex {
		if _, err := e.regexCache.Get(pattern); err != nil {
			return NewValidationError(ErrCodeRuleRegex, "正则条件无效").
				WithCause(err).
				WithContext("field", field).
				WithContext("pattern", pattern)
		}
	}
	if cond.Expression != "" {
		if err := checkExpressionSyntax(cond.Expression); err != nil {
			return NewValidationError(ErrCodeRuleExpr, "表达式条件无法解析").
				WithCause(err).
				WithContext("expression", cond.Expression)
		}
	}
	return nil
}

// RegexCacheStats 暴露正则缓存统计，供引擎指标使用
func (e *Evaluator) RegexCacheStats() (size int, hitRate float64, requests int64) {
	return e.regexCache.Stats()
}

// fieldString 以字符串形式取事件字段
func fieldString(ev model.LiveEvent, field string) (string, bool) {
	v, ok := ev.Fields[field]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// containsFold 不区分大小写的列表成员判断
func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
