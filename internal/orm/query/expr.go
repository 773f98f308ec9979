// Package query compiles typed query expressions into parameterized SQL.
//
// Expressions are small trees built with Field, From and the combinator
// methods on each node:
//
//	query.From("Album").
//		Where(query.Field("Artist", "Name").StartsWith("Miles").
//			And(query.Field("Deleted").Eq(false))).
//		OrderBy(query.Field("Year"))
//
// The Compiler lowers the tree in two stages: a visitor that produces SQL
// fragments, parameters and joins, and an assembly stage that builds the
// final statement and hands pagination to a Dialect.
package query

import "strings"

// Expr is a node of a query expression.
//
// This is a sealed interface; only types in this package implement it so
// the compiler can switch over every shape.
type Expr interface {
	exprNode()
}

// BinaryOp combines two operands with a comparison or logical operator
type BinaryOp struct {
	Op    Operator
	Left  Expr
	Right Expr
}

// Not negates its operand
type Not struct {
	Operand Expr
}

// MemberPath names a property relative to the current scope. A path with
// more than one element walks through reference fields.
type MemberPath struct {
	Path []string
}

// Constant is a literal bound as a parameter
type Constant struct {
	Value interface{}
}

// MethodCall applies a named method to a target. Pipeline methods (Where,
// OrderBy, Take...) target another pipeline node; predicate methods
// (StartsWith, In, Any...) target a member path.
type MethodCall struct {
	Method string
	Target Expr
	Args   []Expr
}

// Source is the root set of all rows of one entity type
type Source struct {
	Entity string
}

// Raw is a literal SQL predicate taken from a Criteria condition
type Raw struct {
	SQL string
}

func (BinaryOp) exprNode()   {}
func (Not) exprNode()        {}
func (MemberPath) exprNode() {}
func (Constant) exprNode()   {}
func (MethodCall) exprNode() {}
func (Source) exprNode()     {}
func (Raw) exprNode()        {}

// Method names understood by the compiler
const (
	MethodWhere             = "Where"
	MethodFirst             = "First"
	MethodFirstOrDefault    = "FirstOrDefault"
	MethodSingle            = "Single"
	MethodSingleOrDefault   = "SingleOrDefault"
	MethodCount             = "Count"
	MethodOrderBy           = "OrderBy"
	MethodOrderByDescending = "OrderByDescending"
	MethodThenBy            = "ThenBy"
	MethodThenByDescending  = "ThenByDescending"
	MethodTake              = "Take"
	MethodSkip              = "Skip"
	MethodInclude           = "Include"
	MethodChangeQueryType   = "ChangeQueryType"

	MethodStartsWith = "StartsWith"
	MethodEndsWith   = "EndsWith"
	MethodContains   = "Contains"
	MethodIn         = "In"
	MethodAny        = "Any"
	MethodAll        = "All"
)

// Field builds a member path. Elements may also be dotted: Field("Artist.Name").
func Field(path ...string) MemberPath {
	var parts []string
	for _, p := range path {
		parts = append(parts, strings.Split(p, ".")...)
	}
	return MemberPath{Path: parts}
}

// Value wraps v as a constant
func Value(v interface{}) Constant {
	return Constant{Value: v}
}

// And combines predicates with AND
func And(left, right Expr) BinaryOp {
	return BinaryOp{Op: OpAnd, Left: left, Right: right}
}

// Or combines predicates with OR
func Or(left, right Expr) BinaryOp {
	return BinaryOp{Op: OpOr, Left: left, Right: right}
}

// Negate wraps a predicate in Not
func Negate(e Expr) Not {
	return Not{Operand: e}
}

// lift turns a Go value into a constant unless it already is an expression
func lift(v interface{}) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Constant{Value: v}
}

func compare(op Operator, left Expr, right interface{}) BinaryOp {
	return BinaryOp{Op: op, Left: left, Right: lift(right)}
}

func (m MemberPath) String() string {
	return strings.Join(m.Path, ".")
}

// Eq compares the member with a value or another expression; nil compiles to IS NULL
func (m MemberPath) Eq(v interface{}) BinaryOp { return compare(OpEqual, m, v) }

// Ne is the negation of Eq; nil compiles to IS NOT NULL
func (m MemberPath) Ne(v interface{}) BinaryOp { return compare(OpNotEqual, m, v) }

func (m MemberPath) Gt(v interface{}) BinaryOp { return compare(OpGreaterThan, m, v) }
func (m MemberPath) Ge(v interface{}) BinaryOp { return compare(OpGreaterThanOrEqual, m, v) }
func (m MemberPath) Lt(v interface{}) BinaryOp { return compare(OpLessThan, m, v) }
func (m MemberPath) Le(v interface{}) BinaryOp { return compare(OpLessThanOrEqual, m, v) }

// IsNull is shorthand for Eq(nil)
func (m MemberPath) IsNull() BinaryOp { return compare(OpEqual, m, nil) }

// StartsWith matches string members beginning with s
func (m MemberPath) StartsWith(s string) MethodCall {
	return MethodCall{Method: MethodStartsWith, Target: m, Args: []Expr{Constant{Value: s}}}
}

// EndsWith matches string members ending with s
func (m MemberPath) EndsWith(s string) MethodCall {
	return MethodCall{Method: MethodEndsWith, Target: m, Args: []Expr{Constant{Value: s}}}
}

// Contains matches string members containing s
func (m MemberPath) Contains(s string) MethodCall {
	return MethodCall{Method: MethodContains, Target: m, Args: []Expr{Constant{Value: s}}}
}

// In matches members equal to any of the values
func (m MemberPath) In(values ...interface{}) MethodCall {
	args := make([]Expr, len(values))
	for i, v := range values {
		args[i] = lift(v)
	}
	return MethodCall{Method: MethodIn, Target: m, Args: args}
}

// Any matches rows with at least one list member satisfying the optional predicate.
// Member paths inside the predicate are relative to the list item.
func (m MemberPath) Any(pred ...Expr) MethodCall {
	return MethodCall{Method: MethodAny, Target: m, Args: pred}
}

// All matches rows whose list members all satisfy the predicate
func (m MemberPath) All(pred Expr) MethodCall {
	return MethodCall{Method: MethodAll, Target: m, Args: []Expr{pred}}
}

// Count is the number of list members satisfying the optional predicate
func (m MemberPath) Count(pred ...Expr) MethodCall {
	return MethodCall{Method: MethodCount, Target: m, Args: pred}
}

func (b BinaryOp) And(e Expr) BinaryOp   { return And(b, e) }
func (b BinaryOp) Or(e Expr) BinaryOp    { return Or(b, e) }
func (c MethodCall) And(e Expr) BinaryOp { return And(c, e) }
func (c MethodCall) Or(e Expr) BinaryOp  { return Or(c, e) }
func (n Not) And(e Expr) BinaryOp        { return And(n, e) }
func (n Not) Or(e Expr) BinaryOp         { return Or(n, e) }

// Comparisons on scalar method results such as Count
func (c MethodCall) Eq(v interface{}) BinaryOp { return compare(OpEqual, c, v) }
func (c MethodCall) Ne(v interface{}) BinaryOp { return compare(OpNotEqual, c, v) }
func (c MethodCall) Gt(v interface{}) BinaryOp { return compare(OpGreaterThan, c, v) }
func (c MethodCall) Ge(v interface{}) BinaryOp { return compare(OpGreaterThanOrEqual, c, v) }
func (c MethodCall) Lt(v interface{}) BinaryOp { return compare(OpLessThan, c, v) }
func (c MethodCall) Le(v interface{}) BinaryOp { return compare(OpLessThanOrEqual, c, v) }

// Queryable is a query pipeline over one entity type
type Queryable struct {
	expr Expr
}

// From starts a pipeline over all rows of entity
func From(entity string) Queryable {
	return Queryable{expr: Source{Entity: entity}}
}

// Expr returns the expression tree of the pipeline
func (q Queryable) Expr() Expr {
	return q.expr
}

func (q Queryable) call(method string, args ...Expr) Queryable {
	return Queryable{expr: MethodCall{Method: method, Target: q.expr, Args: args}}
}

// Where filters rows; repeated calls are ANDed
func (q Queryable) Where(pred Expr) Queryable { return q.call(MethodWhere, pred) }

// First returns the first row matching the optional predicate and fails if there is none
func (q Queryable) First(pred ...Expr) Queryable { return q.call(MethodFirst, pred...) }

// FirstOrDefault is First without the failure on an empty result
func (q Queryable) FirstOrDefault(pred ...Expr) Queryable {
	return q.call(MethodFirstOrDefault, pred...)
}

// Single returns the only row matching the optional predicate and fails on zero or many
func (q Queryable) Single(pred ...Expr) Queryable { return q.call(MethodSingle, pred...) }

// SingleOrDefault is Single that allows an empty result
func (q Queryable) SingleOrDefault(pred ...Expr) Queryable {
	return q.call(MethodSingleOrDefault, pred...)
}

// Count turns the pipeline into a row count
func (q Queryable) Count(pred ...Expr) Queryable { return q.call(MethodCount, pred...) }

func (q Queryable) OrderBy(key Expr) Queryable { return q.call(MethodOrderBy, key) }
func (q Queryable) OrderByDescending(key Expr) Queryable {
	return q.call(MethodOrderByDescending, key)
}
func (q Queryable) ThenBy(key Expr) Queryable { return q.call(MethodThenBy, key) }
func (q Queryable) ThenByDescending(key Expr) Queryable {
	return q.call(MethodThenByDescending, key)
}

// Take limits the number of rows
func (q Queryable) Take(n int) Queryable { return q.call(MethodTake, Constant{Value: n}) }

// Skip skips the first n rows
func (q Queryable) Skip(n int) Queryable { return q.call(MethodSkip, Constant{Value: n}) }

// Include asks the session to eager load a reference or list field; it has no SQL effect
func (q Queryable) Include(path string) Queryable {
	return q.call(MethodInclude, Field(path))
}

// ChangeQueryType retargets the pipeline at another entity type, keeping its predicates
func (q Queryable) ChangeQueryType(entity string) Queryable {
	return q.call(MethodChangeQueryType, Source{Entity: entity})
}
