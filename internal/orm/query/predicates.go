package query

import (
	"fmt"
	"reflect"

	"github.com/spf13/cast"
)

// Operator represents a comparison or logical operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpLike
	OpIn
	OpIsNull
	OpIsNotNull
	OpAnd
	OpOr
)

// String returns the SQL text of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpLike:
		return "LIKE"
	case OpIn:
		return "IN"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return "UNKNOWN"
	}
}

func (o Operator) isComparison() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpLike:
		return true
	}
	return false
}

// Condition is either a raw SQL expression or a (property path, value, operator) triple
type Condition struct {
	Raw          string
	PropertyPath string
	Value        interface{}
	Operator     Operator
}

// ConditionGroup is a group of conditions and nested groups combined with AND or OR
type ConditionGroup struct {
	Conditions []*Condition
	Groups     []*ConditionGroup
	Or         bool
}

// NewConditionGroup creates a new condition group
func NewConditionGroup(or bool) *ConditionGroup {
	return &ConditionGroup{
		Conditions: make([]*Condition, 0),
		Groups:     make([]*ConditionGroup, 0),
		Or:         or,
	}
}

// AddCondition adds a condition to the group
func (g *ConditionGroup) AddCondition(cond *Condition) {
	g.Conditions = append(g.Conditions, cond)
}

// AddGroup adds a nested group
func (g *ConditionGroup) AddGroup(group *ConditionGroup) {
	g.Groups = append(g.Groups, group)
}

// Expr lowers the group into an expression tree; an empty group returns nil
func (g *ConditionGroup) Expr() (Expr, error) {
	var parts []Expr
	for _, cond := range g.Conditions {
		e, err := cond.Expr()
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	for _, group := range g.Groups {
		e, err := group.Expr()
		if err != nil {
			return nil, err
		}
		if e != nil {
			parts = append(parts, e)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}

	result := parts[0]
	for _, p := range parts[1:] {
		if g.Or {
			result = Or(result, p)
		} else {
			result = And(result, p)
		}
	}
	return result, nil
}

// Expr lowers the condition into an expression tree
func (c *Condition) Expr() (Expr, error) {
	if c.Raw != "" {
		return Raw{SQL: c.Raw}, nil
	}
	if c.PropertyPath == "" {
		return nil, fmt.Errorf("condition has neither raw text nor a property path")
	}

	field := Field(c.PropertyPath)
	switch c.Operator {
	case OpIsNull:
		return field.Eq(nil), nil
	case OpIsNotNull:
		return field.Ne(nil), nil
	case OpIn:
		values, err := toSlice(c.Value)
		if err != nil {
			return nil, fmt.Errorf("IN operator on %s: %w", c.PropertyPath, err)
		}
		return field.In(values...), nil
	default:
		if !c.Operator.isComparison() {
			return nil, fmt.Errorf("unsupported operator %s on %s", c.Operator, c.PropertyPath)
		}
		return compare(c.Operator, field, c.Value), nil
	}
}

// Criteria is a programmatic query over one entity type built from condition groups
type Criteria struct {
	Entity string
	root   *ConditionGroup
	order  []Expr
	desc   []bool
	limit  *int
	offset *int
}

// NewCriteria creates criteria over entity with an AND root group
func NewCriteria(entity string) *Criteria {
	return &Criteria{
		Entity: entity,
		root:   NewConditionGroup(false),
	}
}

// And adds a (property path, operator, value) condition to the root group
func (c *Criteria) And(path string, op Operator, value interface{}) *Criteria {
	c.root.AddCondition(&Condition{PropertyPath: path, Operator: op, Value: value})
	return c
}

// Raw adds a raw SQL condition to the root group
func (c *Criteria) Raw(sql string) *Criteria {
	c.root.AddCondition(&Condition{Raw: sql})
	return c
}

// AndGroup adds a nested AND group
func (c *Criteria) AndGroup(fn func(*ConditionGroup)) *Criteria {
	group := NewConditionGroup(false)
	fn(group)
	c.root.AddGroup(group)
	return c
}

// OrGroup adds a nested OR group
func (c *Criteria) OrGroup(fn func(*ConditionGroup)) *Criteria {
	group := NewConditionGroup(true)
	fn(group)
	c.root.AddGroup(group)
	return c
}

// OrderBy appends an ordering on a property path
func (c *Criteria) OrderBy(path string, descending bool) *Criteria {
	c.order = append(c.order, Field(path))
	c.desc = append(c.desc, descending)
	return c
}

// Limit sets the maximum number of rows
func (c *Criteria) Limit(n int) *Criteria {
	c.limit = &n
	return c
}

// Offset sets the number of rows to skip
func (c *Criteria) Offset(n int) *Criteria {
	c.offset = &n
	return c
}

// Queryable converts the criteria into a query pipeline
func (c *Criteria) Queryable() (Queryable, error) {
	q := From(c.Entity)
	pred, err := c.root.Expr()
	if err != nil {
		return q, err
	}
	if pred != nil {
		q = q.Where(pred)
	}
	for i, key := range c.order {
		if c.desc[i] {
			q = q.OrderByDescending(key)
		} else {
			q = q.OrderBy(key)
		}
	}
	if c.offset != nil {
		q = q.Skip(*c.offset)
	}
	if c.limit != nil {
		q = q.Take(*c.limit)
	}
	return q, nil
}

// toSlice accepts []interface{} and typed slices such as []int64
func toSlice(v interface{}) ([]interface{}, error) {
	if values, err := cast.ToSliceE(v); err == nil {
		return values, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a slice, got %T", v)
	}
	values := make([]interface{}, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values, nil
}
