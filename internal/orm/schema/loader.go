package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// document is the external schema description shared by the YAML and CUE loaders
type document struct {
	Entities []entityDoc `yaml:"entities" json:"entities"`
}

type entityDoc struct {
	Name   string     `yaml:"name" json:"name"`
	Table  string     `yaml:"table" json:"table,omitempty"`
	Fields []fieldDoc `yaml:"fields" json:"fields,omitempty"`
	Lists  []listDoc  `yaml:"lists" json:"lists,omitempty"`
}

type fieldDoc struct {
	Name       string `yaml:"name" json:"name"`
	Type       string `yaml:"type" json:"type"`
	Mandatory  bool   `yaml:"mandatory" json:"mandatory,omitempty"`
	Unique     bool   `yaml:"unique" json:"unique,omitempty"`
	MaxLength  int    `yaml:"max_length" json:"max_length,omitempty"`
	Precision  int    `yaml:"precision" json:"precision,omitempty"`
	Scale      int    `yaml:"scale" json:"scale,omitempty"`
	Cascade    string `yaml:"cascade" json:"cascade,omitempty"`
	ForeignKey string `yaml:"foreign_key" json:"foreign_key,omitempty"`
	Enum       bool   `yaml:"enum" json:"enum,omitempty"`
	EagerLoad  bool   `yaml:"eager_load" json:"eager_load,omitempty"`
}

type listDoc struct {
	Name      string `yaml:"name" json:"name"`
	ItemType  string `yaml:"item_type" json:"item_type"`
	Reference string `yaml:"reference" json:"reference"`
	Cascade   string `yaml:"cascade" json:"cascade,omitempty"`
	EagerLoad bool   `yaml:"eager_load" json:"eager_load,omitempty"`
}

// LoadYAML parses a YAML schema description
func LoadYAML(r io.Reader) ([]*EntityMetadata, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unmarshalling YAML: %w", err)
	}
	return doc.build()
}

// LoadCUE parses a CUE schema description
func LoadCUE(filename string, src []byte) ([]*EntityMetadata, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compiling CUE: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating CUE: %w", err)
	}

	var doc document
	if err := value.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding CUE: %w", err)
	}
	return doc.build()
}

// LoadFile loads a schema description, choosing the format by file extension
func LoadFile(path string) ([]*EntityMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(bytes.NewReader(data))
	case ".cue":
		return LoadCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported schema file extension: %s", filepath.Ext(path))
	}
}

// LoadRegistry loads a schema file into a new, fully validated registry
func LoadRegistry(path string) (*Registry, error) {
	metas, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, m := range metas {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	if err := registry.ValidateAll(); err != nil {
		return nil, err
	}
	return registry, nil
}

func (d *document) build() ([]*EntityMetadata, error) {
	metas := make([]*EntityMetadata, 0, len(d.Entities))
	for _, e := range d.Entities {
		fields := make([]*FieldMetadata, 0, len(e.Fields))
		for _, f := range e.Fields {
			cascade, err := ParseCascadeMode(f.Cascade)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.Name, f.Name, err)
			}
			fields = append(fields, &FieldMetadata{
				Name:         f.Name,
				FieldType:    f.Type,
				Mandatory:    f.Mandatory,
				Unique:       f.Unique,
				MaxLength:    f.MaxLength,
				Precision:    f.Precision,
				Scale:        f.Scale,
				Cascade:      cascade,
				ForeignKey:   f.ForeignKey,
				IsForeignKey: f.ForeignKey != "",
				Enum:         f.Enum,
				EagerLoad:    f.EagerLoad,
			})
		}

		lists := make([]*ListFieldMetadata, 0, len(e.Lists))
		for _, l := range e.Lists {
			cascade, err := ParseCascadeMode(l.Cascade)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.Name, l.Name, err)
			}
			lists = append(lists, &ListFieldMetadata{
				Name:           l.Name,
				ItemType:       l.ItemType,
				ReferenceField: l.Reference,
				Cascade:        cascade,
				EagerLoad:      l.EagerLoad,
			})
		}

		metas = append(metas, NewEntityMetadata(e.Name, e.Table, fields, lists))
	}
	return metas, nil
}
