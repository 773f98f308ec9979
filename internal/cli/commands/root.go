package commands

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/persist/internal/cli/config"
	"github.com/conduit-lang/persist/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "persist",
		Short: "Entity schema and persistence tooling",
		Long: color.CyanString(`persist - object-relational persistence engine

Loads entity schemas described in YAML or CUE, checks them and shows the
statements a session issues for each entity.

Features:
  • Unit-of-work sessions with optimistic locking
  • Cascading save and delete along declared references
  • Query pipelines compiled to SQL
  • PostgreSQL, MySQL and SQLite drivers`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default ./persist.yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewValidateCommand())
	rootCmd.AddCommand(NewDescribeCommand())
	rootCmd.AddCommand(NewOrderCommand())
	rootCmd.AddCommand(NewDDLCommand())
	rootCmd.AddCommand(NewPingCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the persist version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			printer(cmd).KeyValues(
				[2]string{"persist version", Version},
				[2]string{"Git commit", GitCommit},
				[2]string{"Build date", BuildDate},
				[2]string{"Go version", goVer},
			)
		},
	}
}

func printer(cmd *cobra.Command) *ui.Printer {
	noColor, _ := cmd.Flags().GetBool("no-color")
	return ui.NewPrinter(cmd.OutOrStdout(), noColor)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// schemaPath returns the schema argument, falling back to schema.path from config
func schemaPath(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.Schema.Path, nil
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
