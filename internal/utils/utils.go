package utils

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/internal/analyzer"
	"github.com/vitebski/softdelete-gen/internal/emitter"
	"github.com/vitebski/softdelete-gen/internal/generator"
	"github.com/vitebski/softdelete-gen/internal/source"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("SOFTDELETE_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from an .env file. When requireMySQL is
// set, it also reports whether the MYSQL_* connection variables are present.
func LoadEnvironmentVariables(envFile string, requireMySQL bool, logger *logrus.Logger) bool {
	// Check if a sample .env file exists but not the actual .env file
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	if !requireMySQL {
		return true
	}

	requiredVars := []string{"MYSQL_HOST", "MYSQL_USER", "MYSQL_DATABASE"}
	var missingVars []string
	for _, v := range requiredVars {
		if os.Getenv(v) == "" {
			missingVars = append(missingVars, v)
		}
	}

	if len(missingVars) > 0 {
		logger.Warningf("Missing environment variables: %s", strings.Join(missingVars, ", "))
		logger.Info("These can be provided via command line arguments, environment variables, or a .env file")
		return false
	}

	if logger.Level == logrus.DebugLevel {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "MYSQL_") || strings.HasPrefix(env, "SOFTDELETE_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					if parts[0] == "MYSQL_PASSWORD" {
						logger.Debugf("%s=********", parts[0])
					} else {
						logger.Debugf("%s=%s", parts[0], parts[1])
					}
				}
			}
		}
	}

	return true
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(host, user, password, database, port string, logger *logrus.Logger) bool {
	if host == "" {
		logger.Error("Database host is required")
		return false
	}

	if user == "" {
		logger.Error("Database user is required")
		return false
	}

	if password == "" { // Empty password is allowed
		logger.Warning("Database password is empty")
	}

	if database == "" {
		logger.Error("Database name is required")
		return false
	}

	if _, err := strconv.Atoi(port); err != nil {
		logger.Errorf("Invalid port number: %s", port)
		return false
	}

	return true
}

// PrintSummary prints what a generation run wrote, left alone and skipped
func PrintSummary(summary *generator.Summary) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("SOFT DELETE GENERATION SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Tables analyzed: %d\n", summary.Tables)
	fmt.Printf("Artifacts planned: %d\n", summary.Planned)
	fmt.Printf("Files written: %d\n", summary.Count(emitter.Written))
	fmt.Printf("Files unchanged: %d\n", summary.Count(emitter.Unchanged))
	fmt.Printf("Files skipped: %d\n", summary.Count(emitter.Skipped))

	if summary.Count(emitter.Written) > 0 {
		fmt.Println("\nWritten:")
		for _, f := range summary.Files {
			if f.Status == emitter.Written {
				fmt.Printf("  - %s\n", f.Path)
			}
		}
	}

	if summary.Report != nil && summary.Report.Len() > 0 {
		fmt.Println("\nDiagnostics:")
		for _, d := range summary.Report.Items() {
			fmt.Printf("  - %s\n", d)
		}
	}

	fmt.Println(strings.Repeat("=", 50))
}

// PrintSchemaAnalysis prints how the generator sees the schema: categories, resolved modes and
// the purge order
func PrintSchemaAnalysis(sa *analyzer.SchemaAnalyzer) {
	tables := sa.Directory.Tables()

	var softDelete, leaves, parents, selfRef, appendOnly, polymorphic, history []string
	fkCount, compositeCount := 0, 0
	for _, t := range tables {
		id := t.ID()
		p := sa.Pattern(id)
		fkCount += len(t.ForeignKeys)
		for _, fk := range t.ForeignKeys {
			if fk.IsComposite() {
				compositeCount++
			}
		}

		if p.HasSoftDelete {
			softDelete = append(softDelete, id.String())
		}
		if p.IsLeaf {
			leaves = append(leaves, id.String())
		} else {
			parents = append(parents, id.String())
		}
		if p.IsSelfReferencing {
			selfRef = append(selfRef, id.String())
		}
		if p.IsAppendOnly {
			appendOnly = append(appendOnly, id.String())
		}
		if p.IsPolymorphic {
			polymorphic = append(polymorphic, fmt.Sprintf("%s (%s, %s)", id, p.Polymorphic.TypeColumn, p.Polymorphic.IDColumn))
		}
		if t.IsHistoryTable {
			history = append(history, id.String())
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SOFT DELETE SCHEMA ANALYSIS REPORT")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("\n1. BASIC STATISTICS")
	fmt.Printf("   Total tables: %d\n", len(tables))
	fmt.Printf("   Foreign keys: %d (%d composite)\n", fkCount, compositeCount)
	fmt.Printf("   Soft delete tables: %d\n", len(softDelete))
	fmt.Printf("   Tables in circular dependencies: %d\n", len(sa.CircularTables))

	fmt.Println("\n2. TABLE CATEGORIES")
	printList("Leaf tables (no children)", leaves)
	printList("Parent tables", parents)
	printList("Self-referencing tables", selfRef)
	printList("Append-only tables", appendOnly)
	printList("Polymorphic tables", polymorphic)
	printList("History tables", history)

	fmt.Println("\n3. RESOLVED SOFT DELETE MODES")
	for _, t := range tables {
		id := t.ID()
		rc := sa.Config(id)
		line := fmt.Sprintf("   %s: %s", id, rc.SoftDeleteMode)
		if !sa.Pattern(id).HasSoftDelete {
			line += " (no soft delete)"
		}
		if rc.ExcludeFromPurge {
			line += " [excluded from purge]"
		}
		if len(rc.AppliedOverrides) > 0 {
			line += fmt.Sprintf(" overrides: %s", strings.Join(rc.AppliedOverrides, ", "))
		}
		fmt.Println(line)
	}

	if len(sa.CircularTables) > 0 {
		fmt.Println("\n4. CIRCULAR DEPENDENCIES")
		var circular []string
		for table := range sa.CircularTables {
			circular = append(circular, table)
		}
		sort.Strings(circular)
		fmt.Printf("   Tables involved: %s\n", strings.Join(circular, ", "))
	}

	if len(sa.PurgeOrder) > 0 {
		fmt.Println("\n5. PURGE ORDER (children first)")
		for i, id := range sa.PurgeOrder {
			fmt.Printf("   %3d. %s\n", i+1, id)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
}

func printList(label string, items []string) {
	fmt.Printf("   %s: %d\n", label, len(items))
	if len(items) > 0 {
		fmt.Printf("     %s\n", strings.Join(items, ", "))
	}
}

const (
	installedTriggersQuery = `
		SELECT trigger_name AS trigger_name
		FROM information_schema.triggers
		WHERE trigger_schema = ?`

	installedProceduresQuery = `
		SELECT routine_name AS routine_name
		FROM information_schema.routines
		WHERE routine_schema = ?
		AND routine_type = 'PROCEDURE'`
)

// VerifyInstalled checks that every named trigger or procedure exists in the connected database.
// It returns the names that were not found.
func VerifyInstalled(db *source.DatabaseConnector, names []string, logger *logrus.Logger) (bool, []string) {
	logger.Infof("Verifying that %d generated object(s) are installed in %s...", len(names), db.Database)

	installed := make(map[string]bool)
	for _, q := range []struct{ query, column string }{
		{installedTriggersQuery, "trigger_name"},
		{installedProceduresQuery, "routine_name"},
	} {
		result, err := db.ExecuteQuery(q.query, db.Database)
		if err != nil {
			logger.Warningf("Could not list installed objects: %v", err)
			continue
		}
		for _, row := range result {
			if name, ok := row[q.column].(string); ok {
				installed[strings.ToLower(name)] = true
			}
		}
	}

	var missing []string
	for _, name := range names {
		if !installed[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	if len(missing) == 0 {
		logger.Info("Verification successful: all generated objects are installed")
		return true, nil
	}
	logger.Errorf("Verification failed: %d generated object(s) are not installed", len(missing))
	return false, missing
}

// PrintVerificationResults prints the results of the installation check
func PrintVerificationResults(missing []string, total int) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("INSTALLATION VERIFICATION RESULTS")
	fmt.Println(strings.Repeat("=", 50))

	if len(missing) == 0 {
		fmt.Printf("✅ All %d generated object(s) are installed\n", total)
		fmt.Println(strings.Repeat("=", 50))
		return
	}

	fmt.Printf("❌ %d of %d generated object(s) are not installed:\n", len(missing), total)
	for _, name := range missing {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Println(strings.Repeat("=", 50))
}
