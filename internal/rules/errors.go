package rules

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeCondition  ErrorType = "condition"
	ErrorTypeExpression ErrorType = "expression"
	ErrorTypeAction     ErrorType = "action"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeSystem     ErrorType = "system"
)

// ErrorLevel 错误级别
type ErrorLevel string

const (
	ErrorLevelWarning  ErrorLevel = "warning"
	ErrorLevelError    ErrorLevel = "error"
	ErrorLevelCritical ErrorLevel = "critical"
)

// RuleError 规则引擎专用错误。
// Validation/NotFound同步抛给调用方；Condition/Expression/Action
// 属于热路径内部错误，只记日志，不向事件处理循环传播。
type RuleError struct {
	Type      ErrorType      `json:"type"`
	Level     ErrorLevel     `json:"level"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Cause     error          `json:"-"`
}

// Error 实现error接口
func (e *RuleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap 支持错误链
func (e *RuleError) Unwrap() error {
	return e.Cause
}

// WithContext 添加上下文信息
func (e *RuleError) WithContext(key string, value any) *RuleError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause 添加原因错误
func (e *RuleError) WithCause(cause error) *RuleError {
	e.Cause = cause
	return e
}

// NewRuleError 创建规则错误
func NewRuleError(errorType ErrorType, level ErrorLevel, code, message string) *RuleError {
	return &RuleError{
		Type:      errorType,
		Level:     level,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewValidationError 创建验证错误（规则创建/更新/导入时的字段约束违反）
func NewValidationError(code, message string) *RuleError {
	return NewRuleError(ErrorTypeValidation, ErrorLevelError, code, message)
}

// NewNotFoundError 创建规则不存在错误
func NewNotFoundError(id string) *RuleError {
	return NewRuleError(ErrorTypeNotFound, ErrorLevelError, ErrCodeRuleNotFound, "规则不存在").
		WithContext("rule_id", id)
}

// NewEvaluationError 创建条件评估错误（内部错误，按false处理）
func NewEvaluationError(code, message string, cause error) *RuleError {
	return NewRuleError(ErrorTypeCondition, ErrorLevelWarning, code, message).WithCause(cause)
}

// NewExpressionError 创建表达式错误（内部错误，按false处理）
func NewExpressionError(message string, cause error) *RuleError {
	return NewRuleError(ErrorTypeExpression, ErrorLevelWarning, ErrCodeExprEval, message).WithCause(cause)
}

// NewActionError 创建动作执行错误（内部错误，不中断其余候选规则）
func NewActionError(code, message string, cause error) *RuleError {
	return NewRuleError(ErrorTypeAction, ErrorLevelError, code, message).WithCause(cause)
}

// NewStorageError 创建持久化错误
func NewStorageError(message string, cause error) *RuleError {
	return NewRuleError(ErrorTypeStorage, ErrorLevelCritical, ErrCodeStorage, message).WithCause(cause)
}

// 错误码常量
const (
	// 验证错误码
	ErrCodeRuleName     = "RULE_NAME"
	ErrCodeRuleEvent    = "RULE_EVENT"
	ErrCodeRuleAction   = "RULE_ACTION"
	ErrCodeRuleDuration = "RULE_DURATION"
	ErrCodeRuleRegex    = "RULE_REGEX"
	ErrCodeRuleExpr     = "RULE_EXPR"

	// 查找错误码
	ErrCodeRuleNotFound = "RULE_NOT_FOUND"

	// 条件评估错误码
	ErrCodeCondField = "COND_FIELD"
	ErrCodeCondRegex = "COND_REGEX"
	ErrCodeCondEval  = "COND_EVAL"

	// 表达式错误码
	ErrCodeExprParse = "EXPR_PARSE"
	ErrCodeExprEval  = "EXPR_EVAL"

	// 动作错误码
	ErrCodeActionExec    = "ACTION_EXEC"
	ErrCodeActionUnknown = "ACTION_UNKNOWN"
	ErrCodeActionPanic   = "ACTION_PANIC"

	// 持久化错误码
	ErrCodeStorage = "STORAGE"
)

// IsValidation 判断是否为验证错误
func IsValidation(err error) bool {
	var re *RuleError
	return errors.As(err, &re) && re.Type == ErrorTypeValidation
}

// IsNotFound 判断是否为规则不存在错误
func IsNotFound(err error) bool {
	var re *RuleError
	return errors.As(err, &re) && re.Type == ErrorTypeNotFound
}
