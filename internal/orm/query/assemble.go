package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

// assemble builds the final command from the lowered fragments
func (l *lowering) assemble(dialect Dialect) (*Query, error) {
	if l.root == nil {
		return nil, &CompileError{Message: "query has no source"}
	}
	sc := l.root

	var tail strings.Builder
	tail.WriteString(fromClause(sc))
	if len(l.where) > 0 {
		tail.WriteString(" WHERE ")
		tail.WriteString(strings.Join(l.where, " AND "))
	}
	filtered := tail.String()
	if len(l.order) > 0 {
		tail.WriteString(" ORDER BY ")
		tail.WriteString(strings.Join(l.order, ", "))
	}

	var command string
	if l.cardinality == Scalar {
		if l.limit == nil && l.offset == nil {
			command = "SELECT COUNT(*) " + filtered
		} else {
			page := dialect.ApplyLimit(
				fmt.Sprintf("SELECT %s.%s %s", sc.alias, schema.FieldID, tail.String()),
				sc.alias, l.limit, l.offset)
			command = fmt.Sprintf("SELECT COUNT(*) FROM (%s) %s", page, l.nextAlias())
		}
	} else {
		cols := sc.meta.ColumnNames()
		for i, c := range cols {
			cols[i] = sc.alias + "." + c
		}
		command = dialect.ApplyLimit(
			"SELECT "+strings.Join(cols, ", ")+" "+tail.String(),
			sc.alias, l.limit, l.offset)
	}

	return &Query{
		Command:     command,
		Parameters:  l.params,
		EntityType:  sc.meta.Name,
		Includes:    l.includes,
		Cardinality: l.cardinality,
	}, nil
}

func fromClause(sc *scope) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "FROM %s %s", sc.meta.Table, sc.alias)
	for _, j := range sc.joins {
		sb.WriteString(" ")
		sb.WriteString(j.SQL())
	}
	return sb.String()
}
