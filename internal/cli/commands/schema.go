package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/persist/internal/cli/ui"
	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schema]",
		Short: "Load a schema and check every entity",
		Long: `Load a YAML or CUE schema, run structural and cross-entity validation
and print a summary of the entities. Without an argument the schema.path
setting is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := schemaPath(cmd, args)
			if err != nil {
				return err
			}
			p := printer(cmd)

			registry, err := loadSchema(p, path)
			if err != nil {
				return err
			}

			p.Header("Schema " + path)
			rows := make([][]string, 0, registry.Count())
			for _, m := range registry.All() {
				rows = append(rows, []string{
					m.Name,
					m.Table,
					strconv.Itoa(len(m.Columns())),
					strconv.Itoa(len(m.References())),
					strconv.Itoa(len(m.ListFields)),
				})
			}
			p.Table([]string{"ENTITY", "TABLE", "COLUMNS", "REFERENCES", "LISTS"}, rows)
			p.Success("%d entities valid", registry.Count())
			return nil
		},
	}
}

// NewDescribeCommand creates the describe command
func NewDescribeCommand() *cobra.Command {
	var driverName string

	cmd := &cobra.Command{
		Use:   "describe <schema> [entity]",
		Short: "Show the fields and statements of entities",
		Long: `Print the fields of each entity (or only the named one) together with
the INSERT, UPDATE, DELETE and SELECT statements a session issues for it and
the mandatory references that block its deletion.

With --driver the statements are rendered with the driver's placeholders.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer(cmd)
			registry, err := loadSchema(p, args[0])
			if err != nil {
				return err
			}

			var driver *conn.Driver
			var dialect query.Dialect
			if driverName != "" {
				d, err := conn.LookupDriver(driverName)
				if err != nil {
					return err
				}
				driver, dialect = &d, d.Dialect
			}
			compiler := query.NewCompiler(registry, dialect)

			metas := registry.All()
			if len(args) == 2 {
				meta, ok := registry.Get(args[1])
				if !ok {
					names := make([]string, 0, len(metas))
					for _, m := range metas {
						names = append(names, m.Name)
					}
					p.Problem(ui.Problem{
						Context:      "unknown entity",
						Message:      args[1],
						Details:      []string{fmt.Sprintf("%s declares %d entities", args[0], len(metas))},
						Suggestions:  ui.Suggest(args[1], names),
						HelpCommands: []string{"persist validate " + args[0]},
					})
					return fmt.Errorf("entity %s not found", args[1])
				}
				metas = []*schema.EntityMetadata{meta}
			}

			for _, m := range metas {
				if err := describeEntity(p, registry, compiler, driver, m); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&driverName, "driver", "", "render statements for a driver (pgx, postgres, sqlite3, mysql)")
	return cmd
}

// NewOrderCommand creates the order command
func NewOrderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "order [schema]",
		Short: "Print entities in dependency order",
		Long:  "Print the entities of a schema with every referenced entity before the entities that reference it.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := schemaPath(cmd, args)
			if err != nil {
				return err
			}
			p := printer(cmd)

			registry, err := loadSchema(p, path)
			if err != nil {
				return err
			}

			order, err := registry.DependencyOrder()
			if err != nil {
				p.Problem(ui.Problem{
					Context: "cyclic references",
					Message: err.Error(),
					Details: []string{"sessions insert entities in a cycle in flush order and patch the foreign keys afterwards"},
				})
				return err
			}

			lines := make([]string, len(order))
			for i, name := range order {
				lines[i] = fmt.Sprintf("%d. %s", i+1, name)
			}
			p.Section("Dependency order", lines...)
			return nil
		},
	}
}

// loadSchema loads and validates a schema file and reports failures as problems
func loadSchema(p *ui.Printer, path string) (*schema.Registry, error) {
	metas, err := schema.LoadFile(path)
	if err != nil {
		p.Problem(ui.Problem{
			Context:      "schema unreadable",
			Message:      path,
			Details:      strings.Split(err.Error(), "\n"),
			HelpCommands: []string{"persist validate --help"},
		})
		return nil, fmt.Errorf("failed to load schema %s", path)
	}

	registry, err := schema.LoadRegistry(path)
	if err != nil {
		names := make([]string, 0, len(metas))
		for _, m := range metas {
			names = append(names, m.Name)
		}
		p.Problem(ui.Problem{
			Context:      "schema invalid",
			Message:      path,
			Details:      strings.Split(err.Error(), "\n"),
			Suggestions:  suggestEntities(err, names),
			HelpCommands: []string{"persist describe " + path},
		})
		return nil, fmt.Errorf("schema %s is invalid", path)
	}
	return registry, nil
}

// suggestEntities proposes names for every unknown entity a validation error mentions
func suggestEntities(err error, names []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, ve := range validationErrors(err) {
		unknown, ok := strings.CutPrefix(ve.Message, "references unknown entity ")
		if !ok {
			unknown, ok = strings.CutPrefix(ve.Message, "list of unknown entity ")
		}
		if !ok {
			continue
		}
		for _, s := range ui.Suggest(unknown, names) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func validationErrors(err error) []*schema.ValidationError {
	var out []*schema.ValidationError
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case *schema.ValidationError:
			out = append(out, x)
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}

func describeEntity(p *ui.Printer, registry *schema.Registry, compiler *query.Compiler, driver *conn.Driver, m *schema.EntityMetadata) error {
	p.Header(m.Name)
	p.KeyValues(
		[2]string{"Table", m.Table},
		[2]string{"Columns", strconv.Itoa(len(m.Columns()))},
	)

	rows := make([][]string, 0, len(m.Fields)+len(m.ListFields))
	for _, f := range m.Fields {
		rows = append(rows, []string{f.Name, f.FieldType, yesNo(f.Mandatory), fieldNotes(f)})
	}
	for _, l := range m.ListFields {
		notes := "list via " + l.ItemType + "." + l.ReferenceField
		if l.Cascade != schema.CascadeNone {
			notes += ", cascade " + l.Cascade.String()
		}
		rows = append(rows, []string{l.Name, "[]" + l.ItemType, "no", notes})
	}
	p.Table([]string{"FIELD", "TYPE", "MANDATORY", "NOTES"}, rows)

	var changed []string
	for _, f := range m.Columns() {
		changed = append(changed, f.Name)
	}
	selectQuery, err := compiler.Compile(query.From(m.Name))
	if err != nil {
		return err
	}

	statements := []struct {
		title string
		q     *query.Query
	}{
		{"INSERT", query.Insert(m, nil)},
		{"UPDATE", query.Update(m, 1, 0, changed, nil)},
		{"DELETE", query.Delete(m, 1, 0)},
		{"SELECT", selectQuery},
	}
	for _, st := range statements {
		if st.q == nil {
			continue
		}
		command := st.q.Command
		if driver != nil {
			if command, _, err = driver.Rewrite(st.q); err != nil {
				return err
			}
		}
		p.Section(st.title, command)
	}

	refs := registry.Referencing(m.Name)
	lines := make([]string, 0, len(refs))
	for _, ref := range refs {
		lines = append(lines, fmt.Sprintf("%s.%s → %s", ref.Entity.Name, ref.ForeignKey.Name, ref.Target))
	}
	if len(lines) == 0 {
		lines = append(lines, "(none)")
	}
	p.Section("Blocking references", lines...)
	return nil
}

func fieldNotes(f *schema.FieldMetadata) string {
	var notes []string
	if f.IsForeignKey {
		notes = append(notes, "foreign key of "+f.ForeignKey)
	}
	if f.IsComplexFieldType() {
		notes = append(notes, "reference")
		if f.Cascade != schema.CascadeNone {
			notes = append(notes, "cascade "+f.Cascade.String())
		}
	}
	if f.Unique {
		notes = append(notes, "unique")
	}
	if f.MaxLength > 0 {
		notes = append(notes, "max "+strconv.Itoa(f.MaxLength))
	}
	if f.EagerLoad {
		notes = append(notes, "eager")
	}
	return strings.Join(notes, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
