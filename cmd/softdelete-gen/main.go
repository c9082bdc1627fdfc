package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vitebski/softdelete-gen/internal/config"
	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/internal/emitter"
	"github.com/vitebski/softdelete-gen/internal/generator"
	"github.com/vitebski/softdelete-gen/internal/source"
	"github.com/vitebski/softdelete-gen/internal/utils"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// options holds the flags shared by every subcommand
type options struct {
	configPath string
	schemaPath string
	host       string
	user       string
	password   string
	database   string
	port       string
	envFile    string
	logLevel   string
	dialect    string
	sourceRoot string
	exclude    []string
}

func (o *options) liveSource() bool {
	return o.schemaPath == ""
}

// setup builds the logger and the configuration. A live MySQL source renders MySQL unless a
// dialect was chosen by flag or config file.
func (o *options) setup(cmd *cobra.Command) (*logrus.Logger, *config.Config, error) {
	logger := utils.SetupLogging(o.logLevel)
	utils.LoadEnvironmentVariables(o.envFile, o.liveSource(), logger)

	if o.configPath == "" {
		o.configPath = os.Getenv("SOFTDELETE_CONFIG")
	}

	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return logger, nil, err
		}
		cfg = loaded
		logger.Infof("Loaded configuration from %s", o.configPath)
	}

	switch {
	case cmd.Flags().Changed("dialect"):
		cfg.Output.Dialect = o.dialect
	case o.liveSource() && o.configPath == "":
		cfg.Output.Dialect = config.DialectMySQL
	}
	if err := cfg.Validate(); err != nil {
		return logger, nil, err
	}

	return logger, cfg, nil
}

// connect opens the live MySQL source, falling back to the MYSQL_* environment variables
func (o *options) connect(logger *logrus.Logger) (*source.DatabaseConnector, error) {
	db := source.NewDatabaseConnector(o.host, o.user, o.password, o.database, o.port, logger)
	if !utils.ValidateConnectionParams(db.Host, db.User, db.Password, db.Database, db.Port, logger) {
		return nil, fmt.Errorf("invalid connection parameters")
	}
	if err := db.Connect(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// loadTables reads the schema from the snapshot file, or from the live database. The returned
// connector is nil for a snapshot.
func (o *options) loadTables(cfg *config.Config, logger *logrus.Logger) ([]models.Table, *source.DatabaseConnector, error) {
	if !o.liveSource() {
		tables, err := source.LoadSnapshot(o.schemaPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Loaded %d tables from %s", len(tables), o.schemaPath)
		return tables, nil, nil
	}

	db, err := o.connect(logger)
	if err != nil {
		return nil, nil, err
	}
	tables, err := source.NewIntrospector(db, cfg.Columns.ValidFrom, cfg.Columns.ValidTo, logger).Tables()
	if err != nil {
		db.Disconnect()
		return nil, nil, fmt.Errorf("read schema: %w", err)
	}
	return tables, db, nil
}

// loggedError is an error the command has already logged
type loggedError struct{ err error }

func (e loggedError) Error() string { return e.err.Error() }
func (e loggedError) Unwrap() error { return e.err }

// fail logs err once and hands it back to cobra, so deferred cleanup still runs
func fail(logger *logrus.Logger, format string, err error) error {
	var structural *diag.StructuralError
	if errors.As(err, &structural) {
		logger.Errorf("The schema cannot be processed: %v", structural)
	} else {
		logger.Errorf(format, err)
	}
	return loggedError{err}
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "softdelete-gen",
		Short: "Generates soft delete triggers and a purge procedure from a database schema",
		Long: `Soft Delete Generator

A Go tool that reads a schema snapshot or a live MySQL database and writes the triggers
that keep soft deletes consistent across foreign keys, plus a procedure that purges
expired soft deleted rows in dependency order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration (default: $SOFTDELETE_CONFIG)")
	pf.StringVarP(&opts.schemaPath, "schema", "s", "", "Path to a YAML schema snapshot; reads the live database when empty")
	pf.StringVarP(&opts.host, "host", "H", "", "MySQL host (default: localhost)")
	pf.StringVarP(&opts.user, "user", "u", "", "MySQL user (default: root)")
	pf.StringVarP(&opts.password, "password", "p", "", "MySQL password")
	pf.StringVarP(&opts.database, "database", "d", "", "MySQL database name")
	pf.StringVarP(&opts.port, "port", "P", "", "MySQL port (default: 3306)")
	pf.StringVarP(&opts.envFile, "env-file", "e", ".env", "Path to .env file")
	pf.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.dialect, "dialect", config.DialectSQLServer, "SQL dialect to render (sqlserver, mysql)")
	pf.StringVarP(&opts.sourceRoot, "source-root", "r", ".", "Root of the SQL source tree scanned for existing declarations")
	pf.StringSliceVarP(&opts.exclude, "exclude", "x", nil, "Glob patterns, relative to the source root, of files not to scan")

	rootCmd.AddCommand(newAnalyzeCmd(opts), newGenerateCmd(opts))
	return rootCmd
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		var logged loggedError
		if !errors.As(err, &logged) {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	var writeSnapshot string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Print how the schema is classified without writing any file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := opts.setup(cmd)
			if err != nil {
				return fail(logger, "Invalid configuration: %v", err)
			}

			tables, db, err := opts.loadTables(cfg, logger)
			if err != nil {
				return fail(logger, "Failed to load schema: %v", err)
			}
			if db != nil {
				defer db.Disconnect()
			}

			if writeSnapshot != "" {
				if err := source.WriteSnapshot(writeSnapshot, tables); err != nil {
					return fail(logger, "Failed to write snapshot: %v", err)
				}
				logger.Infof("Wrote schema snapshot of %d tables to %s", len(tables), writeSnapshot)
			}

			sa, err := generator.NewGenerator(cfg, logger).Analyze(tables)
			if sa != nil {
				utils.PrintSchemaAnalysis(sa)
				sa.Report.Log(logger)
			}
			if err != nil {
				return fail(logger, "%v", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&writeSnapshot, "write-snapshot", "w", "", "Also save the loaded schema as a YAML snapshot")
	return cmd
}

func newGenerateCmd(opts *options) *cobra.Command {
	var (
		triggersDir   string
		proceduresDir string
		force         bool
		dryRun        bool
		verify        bool
		workers       int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the soft delete triggers and the purge procedure",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := opts.setup(cmd)
			if err != nil {
				return fail(logger, "Invalid configuration: %v", err)
			}
			if cmd.Flags().Changed("triggers-dir") {
				cfg.Output.TriggersDir = triggersDir
			}
			if cmd.Flags().Changed("procedures-dir") {
				cfg.Output.ProceduresDir = proceduresDir
			}
			if cmd.Flags().Changed("force") {
				cfg.Output.Force = force
			}

			tables, db, err := opts.loadTables(cfg, logger)
			if err != nil {
				return fail(logger, "Failed to load schema: %v", err)
			}
			if db != nil {
				defer db.Disconnect()
			}

			scanner := source.NewScanner(opts.sourceRoot,
				[]string{cfg.Output.TriggersDir, cfg.Output.ProceduresDir}, opts.exclude, logger)
			declarations, err := scanner.ScanDeclarations()
			if err != nil {
				return fail(logger, "Failed to scan the source tree: %v", err)
			}

			gen := generator.NewGenerator(cfg, logger)
			gen.Workers = workers
			in := generator.Input{Tables: tables, Declarations: declarations}

			if dryRun {
				plan, err := gen.Plan(in)
				if err != nil {
					return fail(logger, "%v", err)
				}
				plan.Report.Log(logger)
				for _, a := range plan.Artifacts {
					fmt.Printf("  - %s (%s)\n", a.FileName(), a.Kind())
				}
				logger.Infof("Dry run, %d artifact(s) would be written", len(plan.Artifacts))
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			logger.Info("Starting generation...")
			summary, err := gen.Run(ctx, in)
			if err != nil {
				return fail(logger, "%v", err)
			}
			summary.Report.Log(logger)
			utils.PrintSummary(summary)

			if !verify {
				return nil
			}
			if db == nil {
				logger.Warning("Verification needs a live database, skipping")
				return nil
			}
			var installed []string
			for _, f := range summary.Files {
				if f.Status != emitter.Skipped {
					installed = append(installed, f.Artifact)
				}
			}
			ok, missing := utils.VerifyInstalled(db, installed, logger)
			utils.PrintVerificationResults(missing, len(installed))
			if !ok {
				return loggedError{fmt.Errorf("%d generated object(s) are not installed", len(missing))}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&triggersDir, "triggers-dir", "", "Directory for generated triggers (overrides output.triggers_dir)")
	cmd.Flags().StringVar(&proceduresDir, "procedures-dir", "", "Directory for the generated purge procedure (overrides output.procedures_dir)")
	cmd.Flags().BoolVarP(&force, "force", "f", true, "Regenerate files written by a previous run")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Plan and report without writing files")
	cmd.Flags().BoolVarP(&verify, "verify", "v", false, "Check that the generated objects are installed in the live database")
	cmd.Flags().IntVar(&workers, "workers", utils.GetEnvInt("SOFTDELETE_WORKERS", 0), "Files written in parallel (default: number of CPUs)")
	return cmd
}
