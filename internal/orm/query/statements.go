package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Insert builds the INSERT of every column except Id. Parameters are named
// after their fields and follow declaration order.
func Insert(meta *schema.EntityMetadata, values map[string]interface{}) *Query {
	var cols, names []string
	var params []Parameter
	for _, f := range meta.Columns() {
		if f.Name == schema.FieldID {
			continue
		}
		p := writeParam(f, values[f.Name])
		cols = append(cols, f.Name)
		names = append(names, p.Name)
		params = append(params, p)
	}

	return &Query{
		Command: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
			meta.Table, strings.Join(cols, ","), strings.Join(names, ",")),
		Parameters: params,
		EntityType: meta.Name,
	}
}

// Update builds the UPDATE of the changed columns keyed on the id and the
// version the row had before this write. Id and Version are never SET; the
// store maintains Version. It returns nil when no column changed.
func Update(meta *schema.EntityMetadata, id int64, previousVersion int, changed []string, values map[string]interface{}) *Query {
	wanted := make(map[string]bool, len(changed))
	for _, c := range changed {
		wanted[c] = true
	}

	var sets []string
	var params []Parameter
	for _, f := range meta.Columns() {
		if f.Name == schema.FieldID || f.Name == schema.FieldVersion || !wanted[f.Name] {
			continue
		}
		p := writeParam(f, values[f.Name])
		sets = append(sets, f.Name+" = "+p.Name)
		params = append(params, p)
	}
	if len(sets) == 0 {
		return nil
	}

	return &Query{
		Command: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %d AND %s = %d",
			meta.Table, strings.Join(sets, ","), schema.FieldID, id, schema.FieldVersion, previousVersion),
		Parameters: params,
		EntityType: meta.Name,
	}
}

// Delete builds the physical DELETE of one row at its current version
func Delete(meta *schema.EntityMetadata, id int64, version int) *Query {
	return &Query{
		Command: fmt.Sprintf("DELETE %s WHERE %s = %d AND %s = %d",
			meta.Table, schema.FieldID, id, schema.FieldVersion, version),
		EntityType: meta.Name,
	}
}

func writeParam(f *schema.FieldMetadata, value interface{}) Parameter {
	return Parameter{
		Name:       "@" + f.Name,
		Value:      value,
		DbType:     f.DbType(),
		IsNullable: !f.Mandatory,
		Size:       f.MaxLength,
		Precision:  f.Precision,
		Scale:      f.Scale,
	}
}
