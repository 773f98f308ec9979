// Package schema provides the entity metadata model for the persist ORM.
// Metadata is immutable once registered and is shared by every session.
package schema

import (
	"fmt"
	"strings"
)

// Base field names present on every entity
const (
	FieldID      = "Id"
	FieldVersion = "Version"
	FieldDeleted = "Deleted"
)

// Primitive field types. Any other FieldType names a referenced entity.
const (
	TypeInt      = "int"
	TypeInt64    = "int64"
	TypeFloat    = "float"
	TypeDecimal  = "decimal"
	TypeString   = "string"
	TypeBool     = "bool"
	TypeDateTime = "datetime"
	TypeGUID     = "guid"
	TypeBytes    = "bytes"
)

var primitiveTypes = map[string]DbType{
	TypeInt:      DbInt32,
	TypeInt64:    DbInt64,
	TypeFloat:    DbDouble,
	TypeDecimal:  DbDecimal,
	TypeString:   DbString,
	TypeBool:     DbBoolean,
	TypeDateTime: DbDateTime,
	TypeGUID:     DbGUID,
	TypeBytes:    DbBinary,
}

// IsPrimitiveType returns true if t is one of the built-in column types
func IsPrimitiveType(t string) bool {
	_, ok := primitiveTypes[t]
	return ok
}

// DbType is the provider-neutral column type of a parameter
type DbType int

const (
	DbObject DbType = iota
	DbInt32
	DbInt64
	DbDouble
	DbDecimal
	DbString
	DbBoolean
	DbDateTime
	DbGUID
	DbBinary
)

// String returns the string representation of the db type
func (d DbType) String() string {
	switch d {
	case DbInt32:
		return "int32"
	case DbInt64:
		return "int64"
	case DbDouble:
		return "double"
	case DbDecimal:
		return "decimal"
	case DbString:
		return "string"
	case DbBoolean:
		return "boolean"
	case DbDateTime:
		return "datetime"
	case DbGUID:
		return "guid"
	case DbBinary:
		return "binary"
	default:
		return "object"
	}
}

// CascadeMode is the tier at which a save or delete propagates through a field.
// Tiers are ordered: None < Save < SaveDelete.
type CascadeMode int

const (
	CascadeNone CascadeMode = iota
	CascadeSave
	CascadeSaveDelete
)

// String returns the string representation of the cascade mode
func (c CascadeMode) String() string {
	switch c {
	case CascadeNone:
		return "none"
	case CascadeSave:
		return "save"
	case CascadeSaveDelete:
		return "save_delete"
	default:
		return "unknown"
	}
}

// ParseCascadeMode converts a string to a CascadeMode
func ParseCascadeMode(s string) (CascadeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CascadeNone, nil
	case "save":
		return CascadeSave, nil
	case "save_delete", "savedelete", "save-delete", "all":
		return CascadeSaveDelete, nil
	default:
		return 0, fmt.Errorf("unknown cascade mode: %s", s)
	}
}

// FieldMetadata describes a scalar or reference field
type FieldMetadata struct {
	Name      string
	FieldType string
	Mandatory bool
	Unique    bool
	MaxLength int
	Precision int
	Scale     int
	Cascade   CascadeMode

	// ForeignKey names the reference property this scalar mirrors
	ForeignKey   string
	IsForeignKey bool

	Enum      bool
	EagerLoad bool
}

// IsComplexFieldType returns true if the field references another entity.
// Enum fields name their Go type but persist as an int column.
func (f *FieldMetadata) IsComplexFieldType() bool {
	return !f.Enum && !IsPrimitiveType(f.FieldType)
}

// DbType returns the parameter type used when binding values of this field
func (f *FieldMetadata) DbType() DbType {
	if f.Enum {
		return DbInt32
	}
	return primitiveTypes[f.FieldType]
}

// ListFieldMetadata describes a one-to-many collection
type ListFieldMetadata struct {
	Name string
	// ItemType is the child entity name
	ItemType string
	// ReferenceField is the child's back-pointer property
	ReferenceField string
	Cascade        CascadeMode
	EagerLoad      bool
}

// EntityMetadata is the immutable schema description of one entity type
type EntityMetadata struct {
	Name       string
	Table      string
	Fields     []*FieldMetadata
	ListFields []*ListFieldMetadata

	fieldIndex map[string]*FieldMetadata
	listIndex  map[string]*ListFieldMetadata
}

// NewEntityMetadata creates metadata with the base Id, Version and Deleted
// fields prepended to the declared fields. Table defaults to the name.
func NewEntityMetadata(name, table string, fields []*FieldMetadata, lists []*ListFieldMetadata) *EntityMetadata {
	if table == "" {
		table = name
	}

	all := []*FieldMetadata{
		{Name: FieldID, FieldType: TypeInt64, Mandatory: true, Unique: true},
		{Name: FieldVersion, FieldType: TypeInt, Mandatory: true},
		{Name: FieldDeleted, FieldType: TypeBool, Mandatory: true},
	}
	for _, f := range fields {
		switch f.Name {
		case FieldID, FieldVersion, FieldDeleted:
			continue
		}
		all = append(all, f)
	}

	m := &EntityMetadata{
		Name:       name,
		Table:      table,
		Fields:     all,
		ListFields: lists,
		fieldIndex: make(map[string]*FieldMetadata, len(all)),
		listIndex:  make(map[string]*ListFieldMetadata, len(lists)),
	}
	for _, f := range all {
		m.fieldIndex[f.Name] = f
	}
	for _, l := range lists {
		m.listIndex[l.Name] = l
	}
	return m
}

// Field returns the scalar or reference field with the given name
func (m *EntityMetadata) Field(name string) (*FieldMetadata, bool) {
	f, ok := m.fieldIndex[name]
	return f, ok
}

// ListField returns the list field with the given name
func (m *EntityMetadata) ListField(name string) (*ListFieldMetadata, bool) {
	l, ok := m.listIndex[name]
	return l, ok
}

// IsList returns true if name is a list field
func (m *EntityMetadata) IsList(name string) bool {
	_, ok := m.listIndex[name]
	return ok
}

// Columns returns the persisted (non-complex) fields in declaration order
func (m *EntityMetadata) Columns() []*FieldMetadata {
	cols := make([]*FieldMetadata, 0, len(m.Fields))
	for _, f := range m.Fields {
		if !f.IsComplexFieldType() {
			cols = append(cols, f)
		}
	}
	return cols
}

// ColumnNames returns the names of Columns()
func (m *EntityMetadata) ColumnNames() []string {
	cols := m.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// References returns the complex reference fields in declaration order
func (m *EntityMetadata) References() []*FieldMetadata {
	var refs []*FieldMetadata
	for _, f := range m.Fields {
		if f.IsComplexFieldType() {
			refs = append(refs, f)
		}
	}
	return refs
}

// ForeignKeys returns the scalar foreign key fields in declaration order
func (m *EntityMetadata) ForeignKeys() []*FieldMetadata {
	var fks []*FieldMetadata
	for _, f := range m.Fields {
		if f.IsForeignKey {
			fks = append(fks, f)
		}
	}
	return fks
}

// ForeignKeyFor returns the scalar field that stores the id of the given reference field
func (m *EntityMetadata) ForeignKeyFor(reference string) (*FieldMetadata, bool) {
	for _, f := range m.Fields {
		if f.IsForeignKey && f.ForeignKey == reference {
			return f, true
		}
	}
	return nil, false
}
