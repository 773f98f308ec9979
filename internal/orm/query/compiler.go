package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Compiler lowers query expressions against entity metadata
type Compiler struct {
	metadata schema.Resolver
	dialect  Dialect
}

// NewCompiler creates a compiler; a nil dialect defaults to SQLServer
func NewCompiler(metadata schema.Resolver, dialect Dialect) *Compiler {
	if dialect == nil {
		dialect = SQLServer{}
	}
	return &Compiler{
		metadata: metadata,
		dialect:  dialect,
	}
}

// Dialect returns the dialect used for pagination
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// Compile compiles a query pipeline
func (c *Compiler) Compile(q Queryable) (*Query, error) {
	return c.CompileExpr(q.Expr())
}

// CompileCriteria compiles programmatic criteria
func (c *Compiler) CompileCriteria(cr *Criteria) (*Query, error) {
	q, err := cr.Queryable()
	if err != nil {
		return nil, err
	}
	return c.Compile(q)
}

// CompileExpr compiles a raw expression tree rooted at a pipeline node
func (c *Compiler) CompileExpr(e Expr) (*Query, error) {
	l := &lowering{metadata: c.metadata}
	if err := l.pipeline(e); err != nil {
		return nil, err
	}
	return l.assemble(c.dialect)
}

// scope is one FROM level: the root query or a collection sub-query
type scope struct {
	alias string
	meta  *schema.EntityMetadata
	joins []TableJoin
	memo  map[string]string
}

// lowering holds the state of one compilation
type lowering struct {
	metadata    schema.Resolver
	root        *scope
	aliases     int
	params      []Parameter
	where       []string
	order       []string
	limit       *int
	offset      *int
	includes    []string
	cardinality Cardinality
}

func (l *lowering) newScope(meta *schema.EntityMetadata) *scope {
	return &scope{
		alias: l.nextAlias(),
		meta:  meta,
		memo:  make(map[string]string),
	}
}

func (l *lowering) nextAlias() string {
	alias := "t" + strconv.Itoa(l.aliases)
	l.aliases++
	return alias
}

func (l *lowering) entity(node Expr, name string) (*schema.EntityMetadata, error) {
	meta, ok := l.metadata.Get(name)
	if !ok {
		return nil, unsupported(node, "unknown entity %s", name)
	}
	return meta, nil
}

// pipeline visits the method chain from the source outwards
func (l *lowering) pipeline(e Expr) error {
	switch n := e.(type) {
	case Source:
		meta, err := l.entity(n, n.Entity)
		if err != nil {
			return err
		}
		l.root = l.newScope(meta)
		return nil
	case MethodCall:
		if n.Target == nil {
			return unsupported(n, "pipeline method without a source")
		}
		if err := l.pipeline(n.Target); err != nil {
			return err
		}
		return l.apply(n)
	default:
		return unsupported(e, "expected a query source or pipeline method")
	}
}

func (l *lowering) apply(call MethodCall) error {
	switch call.Method {
	case MethodWhere:
		if len(call.Args) != 1 {
			return unsupported(call, "takes exactly one predicate")
		}
		return l.filter(call.Args[0])

	case MethodFirst, MethodFirstOrDefault, MethodSingle, MethodSingleOrDefault, MethodCount:
		if len(call.Args) > 1 {
			return unsupported(call, "takes at most one predicate")
		}
		if len(call.Args) == 1 {
			if err := l.filter(call.Args[0]); err != nil {
				return err
			}
		}
		switch call.Method {
		case MethodFirst:
			l.cardinality, l.limit = One, intPtr(1)
		case MethodFirstOrDefault:
			l.cardinality, l.limit = OneOrDefault, intPtr(1)
		case MethodSingle:
			l.cardinality, l.limit = Single, intPtr(2)
		case MethodSingleOrDefault:
			l.cardinality, l.limit = SingleOrDefault, intPtr(2)
		case MethodCount:
			l.cardinality = Scalar
		}
		return nil

	case MethodOrderBy, MethodOrderByDescending, MethodThenBy, MethodThenByDescending:
		if len(call.Args) != 1 {
			return unsupported(call, "takes exactly one key")
		}
		if _, ok := call.Args[0].(Constant); ok {
			return unsupported(call, "cannot order by a constant")
		}
		key, _, err := l.operand(l.root, call.Args[0], nil)
		if err != nil {
			return err
		}
		if call.Method == MethodOrderByDescending || call.Method == MethodThenByDescending {
			key += " DESC"
		}
		l.order = append(l.order, key)
		return nil

	case MethodTake, MethodSkip:
		n, err := intArg(call)
		if err != nil {
			return err
		}
		if call.Method == MethodTake {
			l.limit = &n
		} else {
			l.offset = &n
		}
		return nil

	case MethodInclude:
		member, ok := singleArg(call).(MemberPath)
		if !ok {
			return unsupported(call, "expects a member path")
		}
		if err := l.includable(call, l.root.meta, member.String()); err != nil {
			return err
		}
		l.includes = append(l.includes, member.String())
		return nil

	case MethodChangeQueryType:
		src, ok := singleArg(call).(Source)
		if !ok {
			return unsupported(call, "expects a query source")
		}
		meta, err := l.entity(src, src.Entity)
		if err != nil {
			return err
		}
		for _, path := range l.includes {
			if err := l.includable(call, meta, path); err != nil {
				return err
			}
		}
		l.root.meta = meta
		return nil

	default:
		return unsupported(call, "unknown pipeline method")
	}
}

// includable accepts a reference or list field of meta; eager loading
// goes one level deep
func (l *lowering) includable(node Expr, meta *schema.EntityMetadata, path string) error {
	if strings.Contains(path, ".") {
		return unsupported(node, "nested include %s is not supported", path)
	}
	if meta.IsList(path) {
		return nil
	}
	if f, ok := meta.Field(path); ok && f.IsComplexFieldType() {
		return nil
	}
	return unsupported(node, "%s.%s is not a reference or list", meta.Name, path)
}

func (l *lowering) filter(pred Expr) error {
	sql, err := l.predicate(l.root, pred)
	if err != nil {
		return err
	}
	l.where = append(l.where, sql)
	return nil
}

// predicate lowers a boolean expression
func (l *lowering) predicate(sc *scope, e Expr) (string, error) {
	switch n := e.(type) {
	case BinaryOp:
		if n.Op == OpAnd || n.Op == OpOr {
			left, err := l.predicate(sc, n.Left)
			if err != nil {
				return "", err
			}
			right, err := l.predicate(sc, n.Right)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("(%s %s %s)", left, n.Op, right), nil
		}
		if n.Op.isComparison() {
			return l.comparison(sc, n)
		}
		return "", unsupported(n, "operator is not a predicate")

	case Not:
		inner, err := l.predicate(sc, n.Operand)
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil

	case MemberPath:
		// a bare boolean member means member = true
		col, field, err := l.member(sc, n.Path)
		if err != nil {
			return "", err
		}
		if field.FieldType != schema.TypeBool {
			return "", unsupported(n, "is not a boolean field")
		}
		return fmt.Sprintf("(%s = %s)", col, l.param(true, field)), nil

	case MethodCall:
		return l.predicateCall(sc, n)

	case Raw:
		return "(" + n.SQL + ")", nil

	case Constant:
		if b, ok := n.Value.(bool); ok {
			if b {
				return "(1 = 1)", nil
			}
			return "(1 = 0)", nil
		}
		return "", unsupported(n, "constant %v is not a predicate", n.Value)

	default:
		return "", unsupported(e, "unsupported expression")
	}
}

func (l *lowering) comparison(sc *scope, n BinaryOp) (string, error) {
	leftNil, rightNil := isNullConstant(n.Left), isNullConstant(n.Right)
	if leftNil || rightNil {
		if leftNil && rightNil {
			return "", unsupported(n, "compares nil with nil")
		}
		if n.Op != OpEqual && n.Op != OpNotEqual {
			return "", unsupported(n, "nil can only be compared for equality")
		}
		other := n.Left
		if leftNil {
			other = n.Right
		}
		col, _, err := l.operand(sc, other, nil)
		if err != nil {
			return "", err
		}
		if n.Op == OpEqual {
			return "(" + col + " IS NULL)", nil
		}
		return "(" + col + " IS NOT NULL)", nil
	}

	var (
		left, right string
		hint        *schema.FieldMetadata
		err         error
	)
	_, leftConst := n.Left.(Constant)
	_, rightMember := n.Right.(MemberPath)
	if leftConst && rightMember {
		// type the constant from the member it is compared with
		if right, hint, err = l.operand(sc, n.Right, nil); err != nil {
			return "", err
		}
		if left, _, err = l.operand(sc, n.Left, hint); err != nil {
			return "", err
		}
	} else {
		if left, hint, err = l.operand(sc, n.Left, nil); err != nil {
			return "", err
		}
		if right, _, err = l.operand(sc, n.Right, hint); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("(%s %s %s)", left, n.Op, right), nil
}

// operand lowers a value expression; hint types constants
func (l *lowering) operand(sc *scope, e Expr, hint *schema.FieldMetadata) (string, *schema.FieldMetadata, error) {
	switch n := e.(type) {
	case MemberPath:
		return l.member(sc, n.Path)
	case Constant:
		return l.param(n.Value, hint), hint, nil
	case MethodCall:
		if n.Method == MethodCount {
			sql, err := l.collection(sc, n)
			return sql, nil, err
		}
		return "", nil, unsupported(n, "is not a value")
	default:
		return "", nil, unsupported(e, "is not a value")
	}
}

// likeEscape marks a literal wildcard in LIKE patterns; '[' is a wildcard on SQL Server
const likeEscape = "!"

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_", "[", "![")

func (l *lowering) predicateCall(sc *scope, call MethodCall) (string, error) {
	switch call.Method {
	case MethodStartsWith, MethodEndsWith, MethodContains:
		member, ok := call.Target.(MemberPath)
		if !ok || len(call.Args) != 1 {
			return "", unsupported(call, "expects a member and one string")
		}
		c, ok := call.Args[0].(Constant)
		if !ok {
			return "", unsupported(call, "expects a constant pattern")
		}
		s, ok := c.Value.(string)
		if !ok {
			return "", unsupported(call, "expects a string pattern, got %T", c.Value)
		}
		col, field, err := l.member(sc, member.Path)
		if err != nil {
			return "", err
		}
		escaped := likeEscaper.Replace(s)
		suffix := ""
		if escaped != s {
			suffix = " ESCAPE '" + likeEscape + "'"
		}
		switch call.Method {
		case MethodStartsWith:
			escaped = escaped + "%"
		case MethodEndsWith:
			escaped = "%" + escaped
		default:
			escaped = "%" + escaped + "%"
		}
		return fmt.Sprintf("(%s LIKE %s%s)", col, l.param(escaped, field), suffix), nil

	case MethodIn:
		if _, ok := call.Target.(MemberPath); !ok {
			return "", unsupported(call, "expects a member")
		}
		col, field, err := l.operand(sc, call.Target, nil)
		if err != nil {
			return "", err
		}
		if len(call.Args) == 0 {
			return "(1 = 0)", nil
		}
		names := make([]string, len(call.Args))
		for i, arg := range call.Args {
			if names[i], _, err = l.operand(sc, arg, field); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("(%s IN (%s))", col, strings.Join(names, ", ")), nil

	case MethodAny, MethodAll:
		return l.collection(sc, call)

	default:
		return "", unsupported(call, "unsupported method")
	}
}

// member resolves a property path to a column, joining through references
func (l *lowering) member(sc *scope, path []string) (string, *schema.FieldMetadata, error) {
	node := MemberPath{Path: path}
	if len(path) == 0 {
		return "", nil, unsupported(node, "empty member path")
	}

	viaID := false
	if n := len(path); n > 1 && path[n-1] == schema.FieldID {
		// Artist.Id is the ArtistId column, no join needed
		path = path[:n-1]
		viaID = true
	}

	alias, meta, err := l.walk(sc, path[:len(path)-1])
	if err != nil {
		return "", nil, err
	}
	name := path[len(path)-1]
	field, ok := meta.Field(name)
	if !ok {
		if meta.IsList(name) {
			return "", nil, unsupported(node, "list %s.%s can only be used through Any, All or Count", meta.Name, name)
		}
		return "", nil, unsupported(node, "%s has no field %s", meta.Name, name)
	}

	if !field.IsComplexFieldType() {
		if viaID {
			return "", nil, unsupported(node, "%s.%s is not a reference", meta.Name, name)
		}
		return alias + "." + field.Name, field, nil
	}

	fk, ok := meta.ForeignKeyFor(name)
	if !ok {
		return "", nil, unsupported(node, "reference %s.%s has no foreign key column", meta.Name, name)
	}
	return alias + "." + fk.Name, fk, nil
}

// walk joins through a chain of reference fields and returns the last alias
func (l *lowering) walk(sc *scope, refs []string) (string, *schema.EntityMetadata, error) {
	alias, meta := sc.alias, sc.meta
	for i, name := range refs {
		node := MemberPath{Path: refs[:i+1]}
		field, ok := meta.Field(name)
		if !ok || !field.IsComplexFieldType() {
			return "", nil, unsupported(node, "%s.%s is not a reference", meta.Name, name)
		}
		fk, ok := meta.ForeignKeyFor(name)
		if !ok {
			return "", nil, unsupported(node, "reference %s.%s has no foreign key column", meta.Name, name)
		}
		target, err := l.entity(node, field.FieldType)
		if err != nil {
			return "", nil, err
		}
		alias = l.join(sc, strings.Join(refs[:i+1], "."), alias, target, fk)
		meta = target
	}
	return alias, meta, nil
}

func (l *lowering) join(sc *scope, path, parent string, target *schema.EntityMetadata, fk *schema.FieldMetadata) string {
	if alias, ok := sc.memo[path]; ok {
		return alias
	}
	alias := l.nextAlias()
	sc.joins = append(sc.joins, TableJoin{
		Table:        target.Table,
		Alias:        alias,
		Target:       parent,
		TargetColumn: fk.Name,
		IsNullable:   !fk.Mandatory,
	})
	sc.memo[path] = alias
	return alias
}

// collection lowers Any, All and Count over a list field into a correlated sub-query
func (l *lowering) collection(sc *scope, call MethodCall) (string, error) {
	member, ok := call.Target.(MemberPath)
	if !ok || len(member.Path) == 0 {
		return "", unsupported(call, "applies to list fields only")
	}
	if len(call.Args) > 1 {
		return "", unsupported(call, "takes at most one predicate")
	}
	if call.Method == MethodAll && len(call.Args) != 1 {
		return "", unsupported(call, "requires a predicate")
	}

	path := member.Path
	ownerAlias, owner, err := l.walk(sc, path[:len(path)-1])
	if err != nil {
		return "", err
	}
	list, ok := owner.ListField(path[len(path)-1])
	if !ok {
		return "", unsupported(member, "%s.%s is not a list", owner.Name, path[len(path)-1])
	}
	child, err := l.entity(member, list.ItemType)
	if err != nil {
		return "", err
	}
	fk, ok := child.ForeignKeyFor(list.ReferenceField)
	if !ok {
		return "", unsupported(member, "%s.%s has no foreign key column", child.Name, list.ReferenceField)
	}

	inner := l.newScope(child)
	conds := []string{fmt.Sprintf("%s.%s = %s.%s", inner.alias, fk.Name, ownerAlias, schema.FieldID)}
	if len(call.Args) == 1 {
		pred, err := l.predicate(inner, call.Args[0])
		if err != nil {
			return "", err
		}
		if call.Method == MethodAll {
			pred = "(NOT " + pred + ")"
		}
		conds = append(conds, pred)
	}

	body := fromClause(inner) + " WHERE " + strings.Join(conds, " AND ")
	switch call.Method {
	case MethodAny:
		return "EXISTS (SELECT 1 " + body + ")", nil
	case MethodAll:
		return "NOT EXISTS (SELECT 1 " + body + ")", nil
	default:
		return "(SELECT COUNT(*) " + body + ")", nil
	}
}

// param binds a constant and returns its placeholder
func (l *lowering) param(value interface{}, hint *schema.FieldMetadata) string {
	if e, ok := value.(entity.Entity); ok {
		if rv := reflect.ValueOf(e); rv.Kind() == reflect.Ptr && rv.IsNil() {
			value = nil
		} else {
			value = e.EntityBase().ID
		}
	}

	p := Parameter{
		Name:  "@p" + strconv.Itoa(len(l.params)),
		Value: value,
	}
	if hint != nil {
		p.DbType = hint.DbType()
		p.IsNullable = !hint.Mandatory
		p.Size = hint.MaxLength
		p.Precision = hint.Precision
		p.Scale = hint.Scale
	} else {
		p.DbType = dbTypeOf(value)
		p.IsNullable = true
	}
	l.params = append(l.params, p)
	return p.Name
}

func dbTypeOf(v interface{}) schema.DbType {
	switch v.(type) {
	case int, int32, int16, int8:
		return schema.DbInt32
	case int64:
		return schema.DbInt64
	case float32, float64:
		return schema.DbDouble
	case string:
		return schema.DbString
	case bool:
		return schema.DbBoolean
	case time.Time:
		return schema.DbDateTime
	case []byte:
		return schema.DbBinary
	default:
		return schema.DbObject
	}
}

func isNullConstant(e Expr) bool {
	c, ok := e.(Constant)
	if !ok {
		return false
	}
	if c.Value == nil {
		return true
	}
	rv := reflect.ValueOf(c.Value)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func singleArg(call MethodCall) Expr {
	if len(call.Args) != 1 {
		return nil
	}
	return call.Args[0]
}

func intArg(call MethodCall) (int, error) {
	c, ok := singleArg(call).(Constant)
	if !ok {
		return 0, unsupported(call, "expects a constant count")
	}
	n, ok := c.Value.(int)
	if !ok || n < 0 {
		return 0, unsupported(call, "expects a non-negative int, got %v", c.Value)
	}
	return n, nil
}

func intPtr(n int) *int {
	return &n
}
