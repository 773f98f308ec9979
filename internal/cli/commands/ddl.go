package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/persist/internal/orm/codegen"
	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// NewDDLCommand creates the ddl command
func NewDDLCommand() *cobra.Command {
	var (
		driverName string
		drop       bool
		apply      bool
	)

	cmd := &cobra.Command{
		Use:   "ddl [schema]",
		Short: "Generate the tables and Version triggers of a schema",
		Long: `Print the CREATE statements that bootstrap a database for a schema:
tables with Id, Version and Deleted, foreign keys, foreign key indexes and the
triggers that advance Version on every UPDATE.

The driver defaults to database.driver from config. With --apply the script
is executed against the configured database.`,
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

			if driverName == "" || apply {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if apply {
					return applyDDL(cmd, cfg.Database.Driver, cfg.Database.DSN, registry)
				}
				driverName = cfg.Database.Driver
			}

			driver, err := conn.LookupDriver(driverName)
			if err != nil {
				return err
			}
			gen, err := codegen.NewDDLGenerator(driver.Dialect)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if drop {
				fmt.Fprintln(out, strings.Join(gen.GenerateDropSchema(registry), "\n"))
				return nil
			}
			script, err := gen.GenerateSchema(registry)
			if err != nil {
				return err
			}
			fmt.Fprint(out, script.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&driverName, "driver", "", "target driver (pgx, postgres, sqlite3, mysql)")
	cmd.Flags().BoolVar(&drop, "drop", false, "print DROP statements instead")
	cmd.Flags().BoolVar(&apply, "apply", false, "execute the script against the configured database")
	return cmd
}

func applyDDL(cmd *cobra.Command, driverName, dsn string, registry schema.Resolver) error {
	db, err := conn.New(driverName, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if err := db.Open(ctx); err != nil {
		return err
	}
	gen, err := codegen.NewDDLGenerator(db.Dialect())
	if err != nil {
		return err
	}
	script, err := gen.GenerateSchema(registry)
	if err != nil {
		return err
	}
	if err := script.Apply(ctx, db); err != nil {
		return err
	}
	printer(cmd).Success("applied %d statements to %s", len(script.Statements()), driverName)
	return nil
}
