package query

import "fmt"

// CompileError reports an expression shape or method the compiler does not support
type CompileError struct {
	Node    Expr
	Message string
}

func (e *CompileError) Error() string {
	if e.Node == nil {
		return "query compile error: " + e.Message
	}
	return fmt.Sprintf("query compile error at %s: %s", describe(e.Node), e.Message)
}

func unsupported(node Expr, format string, args ...interface{}) error {
	return &CompileError{Node: node, Message: fmt.Sprintf(format, args...)}
}

func describe(node Expr) string {
	switch n := node.(type) {
	case MemberPath:
		return "member " + n.String()
	case MethodCall:
		return "method " + n.Method
	case BinaryOp:
		return "operator " + n.Op.String()
	case Source:
		return "source " + n.Entity
	default:
		return fmt.Sprintf("%T", node)
	}
}
