package source

import (
	"database/sql"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/pkg/models"
)

// DatabaseConnector handles the MySQL connection and query execution
type DatabaseConnector struct {
	Host     string
	User     string
	Password string
	Database string
	Port     string
	DB       *sql.DB
	Logger   *logrus.Logger
}

// NewDatabaseConnector creates a new database connector. Empty arguments fall back to the
// MYSQL_* environment variables.
func NewDatabaseConnector(host, user, password, database, port string, logger *logrus.Logger) *DatabaseConnector {
	if host == "" {
		host = getEnvOrDefault("MYSQL_HOST", "localhost")
	}
	if user == "" {
		user = getEnvOrDefault("MYSQL_USER", "root")
	}
	if password == "" {
		password = getEnvOrDefault("MYSQL_PASSWORD", "")
	}
	if database == "" {
		database = getEnvOrDefault("MYSQL_DATABASE", "")
	}
	if port == "" {
		port = getEnvOrDefault("MYSQL_PORT", "3306")
	}

	return &DatabaseConnector{
		Host:     host,
		User:     user,
		Password: password,
		Database: database,
		Port:     port,
		Logger:   logger,
	}
}

// DSN returns the driver connection string
func (dc *DatabaseConnector) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = dc.User
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(dc.Host, dc.Port)
	cfg.DBName = dc.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Connect establishes a connection to the MySQL database
func (dc *DatabaseConnector) Connect() error {
	if dc.Database == "" {
		return fmt.Errorf("database name must be provided either as an argument or as MYSQL_DATABASE environment variable")
	}

	db, err := sql.Open("mysql", dc.DSN())
	if err != nil {
		dc.Logger.Errorf("Error connecting to MySQL database: %v", err)
		return err
	}

	if err := db.Ping(); err != nil {
		dc.Logger.Errorf("Error pinging MySQL database: %v", err)
		db.Close()
		return err
	}

	dc.DB = db
	dc.Logger.Infof("Connected to MySQL database: %s", dc.Database)
	return nil
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.DB != nil {
		if err := dc.DB.Close(); err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Info("MySQL connection closed")
		}
	}
}

// ExecuteQuery executes a SQL query and returns the rows as column maps. Text values are
// returned as strings.
func (dc *DatabaseConnector) ExecuteQuery(query string, params ...interface{}) ([]map[string]interface{}, error) {
	// Connect lazily
	if dc.DB == nil {
		if err := dc.Connect(); err != nil {
			return nil, err
		}
	}

	rows, err := dc.DB.Query(query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		dc.Logger.Errorf("Error getting columns: %v", err)
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			dc.Logger.Errorf("Error scanning row: %v", err)
			return nil, err
		}

		// Convert []byte to string for text values
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[strings.ToLower(col)] = string(b)
			} else {
				row[strings.ToLower(col)] = values[i]
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		dc.Logger.Errorf("Error iterating rows: %v", err)
		return nil, err
	}

	return results, nil
}

// Introspector reads table facts from information_schema.
//
// MariaDB system-versioned tables are temporal. Plain MySQL has no system versioning, so a table
// that carries both PeriodColumns is treated as temporal by convention.
type Introspector struct {
	DB            *DatabaseConnector
	PeriodColumns [2]string
	Logger        *logrus.Logger
}

// NewIntrospector creates an introspector over a connector
func NewIntrospector(db *DatabaseConnector, validFrom, validTo string, logger *logrus.Logger) *Introspector {
	return &Introspector{
		DB:            db,
		PeriodColumns: [2]string{validFrom, validTo},
		Logger:        logger,
	}
}

const (
	tablesQuery = `
		SELECT table_name AS table_name, table_type AS table_type
		FROM information_schema.tables
		WHERE table_schema = ?
		AND table_type IN ('BASE TABLE', 'SYSTEM VERSIONED')
		ORDER BY table_name`

	columnsQuery = `
		SELECT table_name AS table_name, column_name AS column_name,
			data_type AS data_type, is_nullable AS is_nullable
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position`

	primaryKeysQuery = `
		SELECT table_name AS table_name, column_name AS column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
		AND constraint_name = 'PRIMARY'
		ORDER BY table_name, ordinal_position`

	foreignKeysQuery = `
		SELECT k.table_name AS table_name, k.constraint_name AS constraint_name,
			k.column_name AS column_name, k.referenced_table_schema AS referenced_table_schema,
			k.referenced_table_name AS referenced_table_name,
			k.referenced_column_name AS referenced_column_name, r.delete_rule AS delete_rule
		FROM information_schema.key_column_usage k
		JOIN information_schema.referential_constraints r
		ON r.constraint_schema = k.constraint_schema
		AND r.constraint_name = k.constraint_name
		AND r.table_name = k.table_name
		WHERE k.table_schema = ?
		AND k.referenced_table_name IS NOT NULL
		ORDER BY k.table_name, k.constraint_name, k.ordinal_position`

	checksQuery = `
		SELECT t.table_name AS table_name, c.constraint_name AS constraint_name,
			c.check_clause AS check_clause
		FROM information_schema.check_constraints c
		JOIN information_schema.table_constraints t
		ON c.constraint_schema = t.constraint_schema
		AND c.constraint_name = t.constraint_name
		WHERE c.constraint_schema = ?
		AND t.constraint_type = 'CHECK'
		ORDER BY t.table_name, c.constraint_name`
)

// Tables reads every base table of the connected database. Tables are returned without a schema,
// so generated SQL runs against whatever database the client is connected to.
func (in *Introspector) Tables() ([]models.Table, error) {
	db := in.DB.Database

	// Get all base tables
	tablesResult, err := in.DB.ExecuteQuery(tablesQuery, db)
	if err != nil {
		in.Logger.Errorf("Error getting tables: %v", err)
		return nil, err
	}

	tables := make(map[string]*models.Table, len(tablesResult))
	var names []string
	for _, row := range tablesResult {
		name := str(row, "table_name")
		tables[name] = &models.Table{
			Name:                  name,
			HasTemporalVersioning: str(row, "table_type") == "SYSTEM VERSIONED",
		}
		names = append(names, name)
	}
	in.Logger.Infof("Found %d tables in %s", len(names), db)

	// Fill in columns and constraints
	if err := in.readColumns(tables); err != nil {
		return nil, err
	}
	if err := in.readPrimaryKeys(tables); err != nil {
		return nil, err
	}
	if err := in.readForeignKeys(tables); err != nil {
		return nil, err
	}
	in.readChecks(tables)

	sort.Strings(names)
	out := make([]models.Table, 0, len(names))
	for _, name := range names {
		t := tables[name]
		// Both period columns present means temporal by convention
		if !t.HasTemporalVersioning && t.HasColumn(in.PeriodColumns[0]) && t.HasColumn(in.PeriodColumns[1]) {
			t.HasTemporalVersioning = true
		}
		out = append(out, *t)
	}
	return out, nil
}

func (in *Introspector) readColumns(tables map[string]*models.Table) error {
	result, err := in.DB.ExecuteQuery(columnsQuery, in.DB.Database)
	if err != nil {
		in.Logger.Errorf("Error getting columns: %v", err)
		return err
	}
	for _, row := range result {
		t, ok := tables[str(row, "table_name")]
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, models.Column{
			Name:       str(row, "column_name"),
			DataType:   str(row, "data_type"),
			IsNullable: str(row, "is_nullable") == "YES",
		})
	}
	return nil
}

func (in *Introspector) readPrimaryKeys(tables map[string]*models.Table) error {
	result, err := in.DB.ExecuteQuery(primaryKeysQuery, in.DB.Database)
	if err != nil {
		in.Logger.Errorf("Error getting primary keys: %v", err)
		return err
	}
	for _, row := range result {
		if t, ok := tables[str(row, "table_name")]; ok {
			t.PrimaryKey = append(t.PrimaryKey, str(row, "column_name"))
		}
	}
	return nil
}

// readForeignKeys groups key columns by constraint, preserving ordinal order
func (in *Introspector) readForeignKeys(tables map[string]*models.Table) error {
	result, err := in.DB.ExecuteQuery(foreignKeysQuery, in.DB.Database)
	if err != nil {
		in.Logger.Errorf("Error getting foreign keys: %v", err)
		return err
	}

	for _, row := range result {
		t, ok := tables[str(row, "table_name")]
		if !ok {
			continue
		}
		name := str(row, "constraint_name")

		// Rows of one constraint arrive together; extend the last key or start a new one
		var fk *models.ForeignKey
		if n := len(t.ForeignKeys); n > 0 && t.ForeignKeys[n-1].Name == name {
			fk = &t.ForeignKeys[n-1]
		} else {
			// Same-database references stay unqualified like the tables themselves
			schema := str(row, "referenced_table_schema")
			if strings.EqualFold(schema, in.DB.Database) {
				schema = ""
			}
			t.ForeignKeys = append(t.ForeignKeys, models.ForeignKey{
				Name:             name,
				ReferencedTable:  str(row, "referenced_table_name"),
				ReferencedSchema: schema,
				OnDelete:         str(row, "delete_rule"),
			})
			fk = &t.ForeignKeys[len(t.ForeignKeys)-1]
		}
		fk.Columns = append(fk.Columns, str(row, "column_name"))
		fk.ReferencedColumns = append(fk.ReferencedColumns, str(row, "referenced_column_name"))
	}
	return nil
}

// readChecks is best effort: CHECK constraints only exist from MySQL 8.0.16
func (in *Introspector) readChecks(tables map[string]*models.Table) {
	result, err := in.DB.ExecuteQuery(checksQuery, in.DB.Database)
	if err != nil {
		in.Logger.Warningf("Error getting check constraints (this is expected for MySQL < 8.0.16): %v", err)
		return
	}
	for _, row := range result {
		if t, ok := tables[str(row, "table_name")]; ok {
			t.CheckConstraints = append(t.CheckConstraints, models.CheckConstraint{
				Name:       str(row, "constraint_name"),
				Expression: str(row, "check_clause"),
			})
		}
	}
}

func str(row map[string]interface{}, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
