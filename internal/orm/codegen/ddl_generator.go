package codegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Script is the DDL of a whole schema, grouped by kind in execution order
type Script struct {
	Functions   []string
	Tables      []string
	Constraints []string
	Indexes     []string
	Triggers    []string
}

// Statements returns every statement in execution order
func (s *Script) Statements() []string {
	var all []string
	for _, group := range [][]string{s.Functions, s.Tables, s.Constraints, s.Indexes, s.Triggers} {
		all = append(all, group...)
	}
	return all
}

// String renders the script with a blank line between statements
func (s *Script) String() string {
	return strings.Join(s.Statements(), "\n\n") + "\n"
}

// Apply executes the script statement by statement
func (s *Script) Apply(ctx context.Context, c conn.Connection) error {
	for _, stmt := range s.Statements() {
		if _, err := c.ExecuteNonQuery(ctx, &query.Query{Command: stmt}); err != nil {
			return fmt.Errorf("failed to apply %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// DDLGenerator generates CREATE statements from entity metadata
type DDLGenerator struct {
	target     string
	typeMapper *TypeMapper
	indexes    *IndexGenerator
	triggers   *TriggerGenerator
}

// NewDDLGenerator creates a generator for the database of dialect
func NewDDLGenerator(dialect query.Dialect) (*DDLGenerator, error) {
	if dialect == nil {
		dialect = query.SQLServer{}
	}
	target := dialect.Name()
	tm, err := NewTypeMapper(target)
	if err != nil {
		return nil, err
	}
	return &DDLGenerator{
		target:     target,
		typeMapper: tm,
		indexes:    NewIndexGenerator(),
		triggers:   NewTriggerGenerator(target),
	}, nil
}

// GenerateSchema generates the DDL of every entity. Tables are created with
// referenced tables first; schemas with reference cycles keep declaration order.
func (g *DDLGenerator) GenerateSchema(metadata schema.Resolver) (*Script, error) {
	metas := orderedMetadata(metadata)
	script := &Script{Functions: g.triggers.GenerateFunctions()}

	for _, m := range metas {
		table, err := g.GenerateCreateTable(metadata, m)
		if err != nil {
			return nil, err
		}
		script.Tables = append(script.Tables, table)

		if g.target != SQLite {
			fks, err := g.GenerateForeignKeys(metadata, m)
			if err != nil {
				return nil, err
			}
			script.Constraints = append(script.Constraints, fks...)
		}
		script.Indexes = append(script.Indexes, g.indexes.GenerateForeignKeyIndexes(m)...)
		script.Triggers = append(script.Triggers, g.triggers.GenerateVersionTrigger(m))
	}
	return script, nil
}

// GenerateCreateTable generates the CREATE TABLE statement of one entity.
// SQLite declares foreign keys inline; other targets add them afterwards.
func (g *DDLGenerator) GenerateCreateTable(metadata schema.Resolver, m *schema.EntityMetadata) (string, error) {
	if m == nil {
		return "", fmt.Errorf("metadata cannot be nil")
	}

	defs := []string{
		g.typeMapper.IdentityColumn(),
		g.typeMapper.VersionColumn(),
		g.typeMapper.DeletedColumn(),
	}
	for _, f := range m.Columns() {
		switch f.Name {
		case schema.FieldID, schema.FieldVersion, schema.FieldDeleted:
			continue
		}
		def, err := g.generateColumnDefinition(metadata, m, f)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", m.Name, f.Name, err)
		}
		defs = append(defs, def)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", m.Table)
	for i, def := range defs {
		b.WriteString("  ")
		b.WriteString(def)
		if i < len(defs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String(), nil
}

func (g *DDLGenerator) generateColumnDefinition(metadata schema.Resolver, m *schema.EntityMetadata, f *schema.FieldMetadata) (string, error) {
	columnType, err := g.typeMapper.MapType(f)
	if err != nil {
		return "", err
	}
	parts := []string{f.Name, columnType, g.typeMapper.MapNullability(f)}
	if f.Unique {
		parts = append(parts, "UNIQUE")
	}
	if f.IsForeignKey && g.target == SQLite {
		target, err := referencedTable(metadata, m, f)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s)", target, schema.FieldID))
	}
	return strings.Join(parts, " "), nil
}

// GenerateForeignKeys generates one ALTER TABLE ... ADD CONSTRAINT per foreign key column
func (g *DDLGenerator) GenerateForeignKeys(metadata schema.Resolver, m *schema.EntityMetadata) ([]string, error) {
	var out []string
	for _, fk := range m.ForeignKeys() {
		target, err := referencedTable(metadata, m, fk)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT fk_%s_%s FOREIGN KEY (%s) REFERENCES %s (%s);",
			m.Table, m.Table, fk.Name, fk.Name, target, schema.FieldID))
	}
	return out, nil
}

// GenerateDropSchema drops every table, dependents first
func (g *DDLGenerator) GenerateDropSchema(metadata schema.Resolver) []string {
	metas := orderedMetadata(metadata)
	out := make([]string, 0, len(metas)+1)
	for i := len(metas) - 1; i >= 0; i-- {
		out = append(out, fmt.Sprintf("DROP TABLE %s;", metas[i].Table))
	}
	return append(out, g.triggers.GenerateDropFunctions()...)
}

func referencedTable(metadata schema.Resolver, m *schema.EntityMetadata, fk *schema.FieldMetadata) (string, error) {
	ref, ok := m.Field(fk.ForeignKey)
	if !ok {
		return "", fmt.Errorf("%s.%s: unknown reference %s", m.Name, fk.Name, fk.ForeignKey)
	}
	target, ok := metadata.Get(ref.FieldType)
	if !ok {
		return "", fmt.Errorf("%s.%s: unknown entity %s", m.Name, ref.Name, ref.FieldType)
	}
	return target.Table, nil
}

func orderedMetadata(metadata schema.Resolver) []*schema.EntityMetadata {
	all := metadata.All()
	order, err := schema.NewRelationshipGraph(all).TopologicalSort()
	if err != nil {
		return all
	}
	metas := make([]*schema.EntityMetadata, 0, len(order))
	for _, name := range order {
		if m, ok := metadata.Get(name); ok {
			metas = append(metas, m)
		}
	}
	return metas
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
