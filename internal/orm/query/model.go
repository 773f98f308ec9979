package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Cardinality is the number of results a compiled query expects
type Cardinality int

const (
	Many Cardinality = iota
	One
	OneOrDefault
	Single
	SingleOrDefault
	Scalar
)

// String returns the string representation of the cardinality
func (c Cardinality) String() string {
	switch c {
	case Many:
		return "many"
	case One:
		return "first"
	case OneOrDefault:
		return "first_or_default"
	case Single:
		return "single"
	case SingleOrDefault:
		return "single_or_default"
	case Scalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// Parameter is one placeholder of a command, typed from the compared field
type Parameter struct {
	Name       string
	Value      interface{}
	DbType     schema.DbType
	IsNullable bool
	Size       int
	Precision  int
	Scale      int
}

// TableJoin is one JOIN of a compiled query. IsNullable selects LEFT over INNER.
type TableJoin struct {
	Table        string
	Alias        string
	Target       string
	TargetColumn string
	IsNullable   bool
}

// SQL renders the join clause
func (j TableJoin) SQL() string {
	kind := "INNER"
	if j.IsNullable {
		kind = "LEFT"
	}
	return fmt.Sprintf("%s JOIN %s %s ON %s.%s = %s.%s",
		kind, j.Table, j.Alias, j.Alias, schema.FieldID, j.Target, j.TargetColumn)
}

// Query is a command ready for execution
type Query struct {
	Command     string
	Parameters  []Parameter
	EntityType  string
	Includes    []string
	Cardinality Cardinality
}

// Param returns the parameter with the given name
func (q *Query) Param(name string) (Parameter, bool) {
	for _, p := range q.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Values returns the parameter values in order
func (q *Query) Values() []interface{} {
	values := make([]interface{}, len(q.Parameters))
	for i, p := range q.Parameters {
		values[i] = p.Value
	}
	return values
}

// String renders the command with its parameters for logging
func (q *Query) String() string {
	if len(q.Parameters) == 0 {
		return q.Command
	}
	parts := make([]string, len(q.Parameters))
	for i, p := range q.Parameters {
		parts[i] = fmt.Sprintf("%s=%v", p.Name, p.Value)
	}
	return q.Command + " [" + strings.Join(parts, ", ") + "]"
}
