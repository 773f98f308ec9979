package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Dialect renders the database specific parts of a command
type Dialect interface {
	Name() string
	// ApplyLimit appends pagination to a complete SELECT; nil limit and
	// offset leave the command unchanged
	ApplyLimit(command, alias string, limit, offset *int) string
}

// SQLServer paginates with OFFSET/FETCH, which requires an ORDER BY
type SQLServer struct{}

func (SQLServer) Name() string { return "sqlserver" }

func (SQLServer) ApplyLimit(command, alias string, limit, offset *int) string {
	if limit == nil && offset == nil {
		return command
	}

	var sb strings.Builder
	sb.WriteString(command)
	if !strings.Contains(command, " ORDER BY ") {
		fmt.Fprintf(&sb, " ORDER BY %s.%s", alias, schema.FieldID)
	}
	skip := 0
	if offset != nil {
		skip = *offset
	}
	fmt.Fprintf(&sb, " OFFSET %d ROWS", skip)
	if limit != nil {
		fmt.Fprintf(&sb, " FETCH NEXT %d ROWS ONLY", *limit)
	}
	return sb.String()
}

// limitOffset is the LIMIT/OFFSET form shared by most databases. unbounded
// is the LIMIT written when only an offset is given; empty omits it.
type limitOffset struct {
	name      string
	unbounded string
}

func (d limitOffset) Name() string { return d.name }

func (d limitOffset) ApplyLimit(command, _ string, limit, offset *int) string {
	if limit == nil && offset == nil {
		return command
	}

	var sb strings.Builder
	sb.WriteString(command)
	if limit != nil {
		sb.WriteString(" LIMIT " + strconv.Itoa(*limit))
	} else if d.unbounded != "" {
		sb.WriteString(" LIMIT " + d.unbounded)
	}
	if offset != nil {
		sb.WriteString(" OFFSET " + strconv.Itoa(*offset))
	}
	return sb.String()
}

// Postgres paginates with LIMIT/OFFSET; OFFSET may stand alone
var Postgres Dialect = limitOffset{name: "postgres"}

// SQLite needs LIMIT -1 in front of a lone OFFSET
var SQLite Dialect = limitOffset{name: "sqlite", unbounded: "-1"}

// MySQL has no unbounded LIMIT, so a lone OFFSET uses the largest row count
var MySQL Dialect = limitOffset{name: "mysql", unbounded: "18446744073709551615"}

// DialectByName returns the dialect for a database or driver name
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlserver", "mssql":
		return SQLServer{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql", "mariadb":
		return MySQL, nil
	default:
		return nil, fmt.Errorf("unknown SQL dialect: %s", name)
	}
}
