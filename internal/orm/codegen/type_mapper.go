// Package codegen generates the DDL that bootstraps a database for a schema:
// tables with the Id, Version and Deleted columns, foreign keys, indexes and
// the triggers that advance Version on every UPDATE.
package codegen

import (
	"fmt"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Target databases, named like the query dialects
const (
	Postgres  = "postgres"
	SQLite    = "sqlite"
	MySQL     = "mysql"
	SQLServer = "sqlserver"
)

// TypeMapper maps field types to column types of one target database
type TypeMapper struct {
	target string
}

// NewTypeMapper creates a mapper for target
func NewTypeMapper(target string) (*TypeMapper, error) {
	switch target {
	case Postgres, SQLite, MySQL, SQLServer:
		return &TypeMapper{target: target}, nil
	}
	return nil, fmt.Errorf("unsupported DDL target: %s", target)
}

// MapType returns the column type of a scalar field
func (tm *TypeMapper) MapType(f *schema.FieldMetadata) (string, error) {
	if f.Enum {
		return tm.pick("INTEGER", "INTEGER", "INT", "INT"), nil
	}

	switch f.FieldType {
	case schema.TypeInt:
		return tm.pick("INTEGER", "INTEGER", "INT", "INT"), nil
	case schema.TypeInt64:
		return tm.pick("BIGINT", "INTEGER", "BIGINT", "BIGINT"), nil
	case schema.TypeFloat:
		return tm.pick("DOUBLE PRECISION", "REAL", "DOUBLE", "FLOAT"), nil
	case schema.TypeDecimal:
		if tm.target == SQLite {
			return "NUMERIC", nil
		}
		if f.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", tm.pick("NUMERIC", "", "DECIMAL", "DECIMAL"), f.Precision, f.Scale), nil
		}
		return tm.pick("NUMERIC", "", "DECIMAL(18,2)", "DECIMAL(18,2)"), nil
	case schema.TypeString:
		return tm.mapString(f.MaxLength), nil
	case schema.TypeBool:
		return tm.pick("BOOLEAN", "BOOLEAN", "BOOLEAN", "BIT"), nil
	case schema.TypeDateTime:
		return tm.pick("TIMESTAMP WITH TIME ZONE", "DATETIME", "DATETIME(6)", "DATETIME2"), nil
	case schema.TypeGUID:
		return tm.pick("UUID", "TEXT", "CHAR(36)", "UNIQUEIDENTIFIER"), nil
	case schema.TypeBytes:
		return tm.pick("BYTEA", "BLOB", "LONGBLOB", "VARBINARY(MAX)"), nil
	}
	return "", fmt.Errorf("unsupported type: %s", f.FieldType)
}

func (tm *TypeMapper) mapString(length int) string {
	switch tm.target {
	case SQLite:
		return "TEXT"
	case SQLServer:
		if length > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", length)
		}
		return "NVARCHAR(MAX)"
	case MySQL:
		// an unbounded TEXT column cannot carry a UNIQUE key
		if length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", length)
		}
		return "VARCHAR(255)"
	default:
		if length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", length)
		}
		return "TEXT"
	}
}

// MapNullability returns the NULL/NOT NULL constraint for a field
func (tm *TypeMapper) MapNullability(f *schema.FieldMetadata) string {
	if f.Mandatory {
		return "NOT NULL"
	}
	return "NULL"
}

// IdentityColumn is the Id column definition
func (tm *TypeMapper) IdentityColumn() string {
	return schema.FieldID + " " + tm.pick(
		"BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
		"INTEGER PRIMARY KEY AUTOINCREMENT",
		"BIGINT AUTO_INCREMENT PRIMARY KEY",
		"BIGINT IDENTITY(1,1) PRIMARY KEY",
	)
}

// VersionColumn is the Version column definition
func (tm *TypeMapper) VersionColumn() string {
	return schema.FieldVersion + " " + tm.pick("INTEGER", "INTEGER", "INT", "INT") + " NOT NULL DEFAULT 0"
}

// DeletedColumn is the Deleted column definition
func (tm *TypeMapper) DeletedColumn() string {
	return schema.FieldDeleted + " " + tm.pick(
		"BOOLEAN NOT NULL DEFAULT FALSE",
		"BOOLEAN NOT NULL DEFAULT 0",
		"BOOLEAN NOT NULL DEFAULT FALSE",
		"BIT NOT NULL DEFAULT 0",
	)
}

func (tm *TypeMapper) pick(postgres, sqlite, mysql, sqlserver string) string {
	switch tm.target {
	case SQLite:
		return sqlite
	case MySQL:
		return mysql
	case SQLServer:
		return sqlserver
	default:
		return postgres
	}
}
