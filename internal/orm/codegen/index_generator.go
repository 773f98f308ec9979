package codegen

import (
	"fmt"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

// IndexGenerator generates CREATE INDEX statements
type IndexGenerator struct{}

// NewIndexGenerator creates a new index generator
func NewIndexGenerator() *IndexGenerator {
	return &IndexGenerator{}
}

// GenerateForeignKeyIndexes indexes every foreign key column. Deletion
// checks and list loads filter on these columns.
func (g *IndexGenerator) GenerateForeignKeyIndexes(m *schema.EntityMetadata) []string {
	var indexes []string
	for _, fk := range m.ForeignKeys() {
		indexes = append(indexes, fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s);",
			m.Table, fk.Name, m.Table, fk.Name))
	}
	return indexes
}
