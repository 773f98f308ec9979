package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a metadata validation error with context
type ValidationError struct {
	Entity  string
	Field   string
	Message string
	Hint    string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder

	if e.Entity != "" {
		b.WriteString(e.Entity)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}

	return b.String()
}

// ValidateStructural validates a single entity without looking at other entities
func ValidateStructural(m *EntityMetadata) error {
	if m == nil {
		return &ValidationError{Message: "metadata is nil"}
	}
	if m.Name == "" {
		return &ValidationError{Message: "entity name is required"}
	}

	var errs []error
	seen := make(map[string]bool)
	for _, f := range m.Fields {
		if f.Name == "" {
			errs = append(errs, &ValidationError{Entity: m.Name, Message: "field name is required"})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, &ValidationError{Entity: m.Name, Field: f.Name, Message: "duplicate field"})
		}
		seen[f.Name] = true

		if f.FieldType == "" {
			errs = append(errs, &ValidationError{Entity: m.Name, Field: f.Name, Message: "field type is required"})
		}
		if f.IsForeignKey {
			ref, ok := m.Field(f.ForeignKey)
			switch {
			case f.ForeignKey == "":
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: f.Name,
					Message: "foreign key does not name its reference property",
					Hint:    "set foreign_key to the reference field, e.g. foreign_key: Artist",
				})
			case !ok:
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: f.Name,
					Message: fmt.Sprintf("foreign key references unknown property %s", f.ForeignKey),
				})
			case !ref.IsComplexFieldType():
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: f.Name,
					Message: fmt.Sprintf("foreign key property %s is not a reference", f.ForeignKey),
				})
			}
		}
		if f.IsComplexFieldType() && f.Cascade != CascadeNone {
			if _, ok := m.ForeignKeyFor(f.Name); !ok {
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: f.Name,
					Message: "cascading reference has no foreign key column",
				})
			}
		}
	}

	for _, l := range m.ListFields {
		if seen[l.Name] {
			errs = append(errs, &ValidationError{Entity: m.Name, Field: l.Name, Message: "duplicate field"})
		}
		seen[l.Name] = true
		if l.ItemType == "" {
			errs = append(errs, &ValidationError{Entity: m.Name, Field: l.Name, Message: "list item type is required"})
		}
		if l.ReferenceField == "" {
			errs = append(errs, &ValidationError{Entity: m.Name, Field: l.Name, Message: "list reference field is required"})
		}
	}

	return errors.Join(errs...)
}

// ValidateReferences checks every reference and list field against the other entities
func ValidateReferences(metas []*EntityMetadata) error {
	byName := make(map[string]*EntityMetadata, len(metas))
	for _, m := range metas {
		byName[m.Name] = m
	}

	var errs []error
	for _, m := range metas {
		for _, ref := range m.References() {
			if _, ok := byName[ref.FieldType]; !ok {
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: ref.Name,
					Message: fmt.Sprintf("references unknown entity %s", ref.FieldType),
					Hint:    "field types that are not primitives must name a registered entity",
				})
			}
		}
		for _, l := range m.ListFields {
			child, ok := byName[l.ItemType]
			if !ok {
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: l.Name,
					Message: fmt.Sprintf("list of unknown entity %s", l.ItemType),
				})
				continue
			}
			back, ok := child.Field(l.ReferenceField)
			if !ok {
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: l.Name,
					Message: fmt.Sprintf("%s has no reference field %s", child.Name, l.ReferenceField),
				})
				continue
			}
			if back.IsComplexFieldType() && back.FieldType != m.Name {
				errs = append(errs, &ValidationError{
					Entity: m.Name, Field: l.Name,
					Message: fmt.Sprintf("%s.%s references %s, not %s", child.Name, back.Name, back.FieldType, m.Name),
				})
			}
		}
	}

	return errors.Join(errs...)
}
