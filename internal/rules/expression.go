package rules

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/streamcast/live-rules/internal/model"
)

// ExpressionSandbox 受限布尔表达式沙箱。
// 表达式中唯一可见的标识符是传入的事件字段与少量纯函数，
// 不存在任何指向进程环境、文件系统或引擎内部状态的通路：
// 选择器（a.b）、索引、闭包等节点一律拒绝。
type ExpressionSandbox struct {
	functions map[string]exprFunction
}

// exprFunction 表达式内置函数
type exprFunction func(args []any) (any, error)

// NewExpressionSandbox 创建表达式沙箱
func NewExpressionSandbox() *ExpressionSandbox {
	s := &ExpressionSandbox{
		functions: make(map[string]exprFunction),
	}
	s.registerBuiltinFunctions()
	return s
}

// EvaluateBool 在给定字段上下文中评估布尔表达式。
// 语法错误、运行期错误、非布尔结果都返回error，由调用方按false处理。
func (s *ExpressionSandbox) EvaluateBool(source string, fields map[string]any) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = NewExpressionError("表达式评估异常", fmt.Errorf("%v", r))
		}
	}()

	source = strings.TrimSpace(source)
	if source == "" {
		return false, NewExpressionError("表达式为空", nil)
	}

	expr, parseErr := parser.ParseExpr(source)
	if parseErr != nil {
		return false, NewRuleError(ErrorTypeExpression, ErrorLevelWarning, ErrCodeExprParse, "表达式解析失败").
			WithCause(parseErr).
			WithContext("expression", source)
	}

	value, evalErr := s.evalNode(expr, fields)
	if evalErr != nil {
		return false, evalErr
	}

	b, ok := value.(bool)
	if !ok {
		return false, NewExpressionError("表达式结果不是布尔值", nil).
			WithContext("result_type", fmt.Sprintf("%T", value))
	}
	return b, nil
}

// evalNode 评估AST节点
func (s *ExpressionSandbox) evalNode(node ast.Expr, fields map[string]any) (any, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		return parseBasicLit(n)
	case *ast.Ident:
		return s.evalIdent(n, fields)
	case *ast.BinaryExpr:
		return s.evalBinaryExpr(n, fields)
	case *ast.UnaryExpr:
		return s.evalUnaryExpr(n, fields)
	case *ast.ParenExpr:
		return s.evalNode(n.X, fields)
	case *ast.CallExpr:
		return s.evalCallExpr(n, fields)
	default:
		// 选择器、索引、复合字面量等全部拒绝
		return nil, NewExpressionError("不支持的表达式节点", nil).
			WithContext("node_type", fmt.Sprintf("%T", node))
	}
}

// evalIdent 解析标识符：布尔字面量或上下文字段
func (s *ExpressionSandbox) evalIdent(ident *ast.Ident, fields map[string]any) (any, error) {
	switch ident.Name {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if value, exists := fields[ident.Name]; exists {
		return normalizeValue(value), nil
	}
	return nil, NewExpressionError("未定义的变量", nil).
		WithContext("name", ident.Name)
}

// evalBinaryExpr 评估二元表达式
func (s *ExpressionSandbox) evalBinaryExpr(expr *ast.BinaryExpr, fields map[string]any) (any, error) {
	// 逻辑操作符短路评估
	if expr.Op == token.LAND || expr.Op == token.LOR {
		left, err := s.evalNode(expr.X, fields)
		if err != nil {
			return nil, err
		}
		lb, ok := left.(bool)
		if !ok {
			return nil, NewExpressionError("逻辑操作符要求布尔操作数", nil)
		}
		if expr.Op == token.LAND && !lb {
			return false, nil
		}
		if expr.Op == token.LOR && lb {
			return true, nil
		}
		right, err := s.evalNode(expr.Y, fields)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, NewExpressionError("逻辑操作符要求布尔操作数", nil)
		}
		return rb, nil
	}

	left, err := s.evalNode(expr.X, fields)
	if err != nil {
		return nil, err
	}
	right, err := s.evalNode(expr.Y, fields)
	if err != nil {
		return nil, err
	}
	return applyBinaryOperator(left, right, expr.Op)
}

// evalUnaryExpr 评估一元表达式
func (s *ExpressionSandbox) evalUnaryExpr(expr *ast.UnaryExpr, fields map[string]any) (any, error) {
	operand, err := s.evalNode(expr.X, fields)
	if err != nil {
		return nil, err
	}
	switch expr.Op {
	case token.NOT:
		if b, ok := operand.(bool); ok {
			return !b, nil
		}
		return nil, NewExpressionError("!操作符要求布尔操作数", nil)
	case token.SUB:
		if f, ok := model.ToFloat64(operand); ok {
			return -f, nil
		}
		return nil, NewExpressionError("-操作符要求数值操作数", nil)
	default:
		return nil, NewExpressionError("不支持的一元操作符", nil).
			WithContext("operator", expr.Op.String())
	}
}

// evalCallExpr 评估函数调用，只允许注册过的纯函数
func (s *ExpressionSandbox) evalCallExpr(expr *ast.CallExpr, fields map[string]any) (any, error) {
	ident, ok := expr.Fun.(*ast.Ident)
	if !ok {
		return nil, NewExpressionError("只允许调用内置函数", nil)
	}
	fn, exists := s.functions[ident.Name]
	if !exists {
		return nil, NewExpressionError("未定义的函数", nil).
			WithContext("name", ident.Name)
	}

	args := make([]any, 0, len(expr.Args))
	for _, argExpr := range expr.Args {
		arg, err := s.evalNode(argExpr, fields)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return fn(args)
}

// registerBuiltinFunctions 注册内置函数
func (s *ExpressionSandbox) registerBuiltinFunctions() {
	s.functions["len"] = func(args []any) (any, error) {
		if err := wantArgs("len", args, 1); err != nil {
			return nil, err
		}
		if str, ok := args[0].(string); ok {
			return float64(len(str)), nil
		}
		return nil, NewExpressionError("len要求字符串参数", nil)
	}
	s.functions["contains"] = func(args []any) (any, error) {
		if err := wantArgs("contains", args, 2); err != nil {
			return nil, err
		}
		str, ok1 := args[0].(string)
		sub, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, NewExpressionError("contains要求字符串参数", nil)
		}
		return strings.Contains(str, sub), nil
	}
	s.functions["startsWith"] = func(args []any) (any, error) {
		if err := wantArgs("startsWith", args, 2); err != nil {
			return nil, err
		}
		str, ok1 := args[0].(string)
		prefix, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, NewExpressionError("startsWith要求字符串参数", nil)
		}
		return strings.HasPrefix(str, prefix), nil
	}
	s.functions["endsWith"] = func(args []any) (any, error) {
		if err := wantArgs("endsWith", args, 2); err != nil {
			return nil, err
		}
		str, ok1 := args[0].(string)
		suffix, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, NewExpressionError("endsWith要求字符串参数", nil)
		}
		return strings.HasSuffix(str, suffix), nil
	}
	s.functions["lower"] = func(args []any) (any, error) {
		if err := wantArgs("lower", args, 1); err != nil {
			return nil, err
		}
		if str, ok := args[0].(string); ok {
			return strings.ToLower(str), nil
		}
		return nil, NewExpressionError("lower要求字符串参数", nil)
	}
	s.functions["upper"] = func(args []any) (any, error) {
		if err := wantArgs("upper", args, 1); err != nil {
			return nil, err
		}
		if str, ok := args[0].(string); ok {
			return strings.ToUpper(str), nil
		}
		return nil, NewExpressionError("upper要求字符串参数", nil)
	}
	s.functions["abs"] = func(args []any) (any, error) {
		if err := wantArgs("abs", args, 1); err != nil {
			return nil, err
		}
		if f, ok := model.ToFloat64(args[0]); ok {
			return math.Abs(f), nil
		}
		return nil, NewExpressionError("abs要求数值参数", nil)
	}
	s.functions["min"] = func(args []any) (any, error) {
		if err := wantArgs("min", args, 2); err != nil {
			return nil, err
		}
		a, ok1 := model.ToFloat64(args[0])
		b, ok2 := model.ToFloat64(args[1])
		if !ok1 || !ok2 {
			return nil, NewExpressionError("min要求数值参数", nil)
		}
		return math.Min(a, b), nil
	}
	s.functions["max"] = func(args []any) (any, error) {
		if err := wantArgs("max", args, 2); err != nil {
			return nil, err
		}
		a, ok1 := model.ToFloat64(args[0])
		b, ok2 := model.ToFloat64(args[1])
		if !ok1 || !ok2 {
			return nil, NewExpressionError("max要求数值参数", nil)
		}
		return math.Max(a, b), nil
	}
}

func wantArgs(name string, args []any, n int) error {
	if len(args) != n {
		return NewExpressionError(fmt.Sprintf("%s要求%d个参数", name, n), nil).
			WithContext("got", len(args))
	}
	return nil
}

// checkExpressionSyntax 规则落库前的表达式语法检查
func checkExpressionSyntax(source string) error {
	_, err := parser.ParseExpr(strings.TrimSpace(source))
	return err
}

// parseBasicLit 解析基本字面量
func parseBasicLit(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT:
		v, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return nil, NewExpressionError("整数字面量解析失败", err)
		}
		return float64(v), nil
	case token.FLOAT:
		v, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, NewExpressionError("浮点字面量解析失败", err)
		}
		return v, nil
	case token.STRING, token.CHAR:
		v, err := strconv.Unquote(lit.Value)
		if err != nil {
			return nil, NewExpressionError("字符串字面量解析失败", err)
		}
		return v, nil
	default:
		return nil, NewExpressionError("不支持的字面量类型", nil).
			WithContext("kind", lit.Kind.String())
	}
}

// applyBinaryOperator 应用二元操作符
func applyBinaryOperator(left, right any, op token.Token) (any, error) {
	switch op {
	case token.ADD:
		// 字符串拼接或数值加法
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		return applyArithmetic(left, right, op)
	case token.SUB, token.MUL, token.QUO, token.REM:
		return applyArithmetic(left, right, op)
	case token.EQL:
		return compareAny(left, right) == 0, nil
	case token.NEQ:
		return compareAny(left, right) != 0, nil
	case token.LSS:
		return compareAny(left, right) < 0, nil
	case token.LEQ:
		return compareAny(left, right) <= 0, nil
	case token.GTR:
		return compareAny(left, right) > 0, nil
	case token.GEQ:
		return compareAny(left, right) >= 0, nil
	default:
		return nil, NewExpressionError("不支持的操作符", nil).
			WithContext("operator", op.String())
	}
}

// applyArithmetic 数值算术
func applyArithmetic(left, right any, op token.Token) (any, error) {
	a, ok1 := model.ToFloat64(left)
	b, ok2 := model.ToFloat64(right)
	if !ok1 || !ok2 {
		return nil, NewExpressionError("算术操作符要求数值操作数", nil).
			WithContext("left_type", fmt.Sprintf("%T", left)).
			WithContext("right_type", fmt.Sprintf("%T", right))
	}
	switch op {
	case token.ADD:
		return a + b, nil
	case token.SUB:
		return a - b, nil
	case token.MUL:
		return a * b, nil
	case token.QUO:
		if b == 0 {
			return nil, NewExpressionError("除数为零", nil)
		}
		return a / b, nil
	case token.REM:
		if b == 0 {
			return nil, NewExpressionError("除数为零", nil)
		}
		return math.Mod(a, b), nil
	}
	return nil, NewExpressionError("不支持的算术操作符", nil)
}

// normalizeValue 统一数值类型，便于比较与运算
func normalizeValue(v any) any {
	if f, ok := model.ToFloat64(v); ok {
		return f
	}
	return v
}

// compareAny 比较两个值：数值、字符串、布尔
func compareAny(a, b any) int {
	if numA, ok := model.ToFloat64(a); ok {
		if numB, ok := model.ToFloat64(b); ok {
			switch {
			case numA < numB:
				return -1
			case numA > numB:
				return 1
			}
			return 0
		}
	}
	if strA, ok := a.(string); ok {
		if strB, ok := b.(string); ok {
			return strings.Compare(strA, strB)
		}
	}
	if boolA, ok := a.(bool); ok {
		if boolB, ok := b.(bool); ok {
			switch {
			case !boolA && boolB:
				return -1
			case boolA && !boolB:
				return 1
			}
			return 0
		}
	}
	// 类型不可比较时视为不相等
	return -1
}
