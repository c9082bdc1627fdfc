// Package config holds the generator configuration and the resolver that folds global settings
// with per-table overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SoftDeleteMode is the policy a parent applies to its children when it is soft deleted
type SoftDeleteMode string

const (
	ModeCascade  SoftDeleteMode = "cascade"
	ModeRestrict SoftDeleteMode = "restrict"
	ModeIgnore   SoftDeleteMode = "ignore"
)

// ParseMode parses a mode name, case-insensitively
func ParseMode(s string) (SoftDeleteMode, error) {
	switch m := SoftDeleteMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCascade, ModeRestrict, ModeIgnore:
		return m, nil
	default:
		return "", fmt.Errorf("unknown soft delete mode %q (expected cascade, restrict or ignore)", s)
	}
}

// UnmarshalYAML validates the mode while decoding
func (m *SoftDeleteMode) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*m = parsed
	return nil
}

// Dialects the emitter can render
const (
	DialectSQLServer = "sqlserver"
	DialectMySQL     = "mysql"
)

// Features holds the global feature switches
type Features struct {
	SoftDelete          bool `yaml:"soft_delete"`
	ReactivationGuards  bool `yaml:"reactivation_guards"`
	ReactivationCascade bool `yaml:"reactivation_cascade"`
	Purge               bool `yaml:"purge"`
}

// Columns holds the column naming conventions
type Columns struct {
	Active        string `yaml:"active"`
	ValidFrom     string `yaml:"valid_from"`
	ValidTo       string `yaml:"valid_to"`
	CreatedAt     string `yaml:"created_at"`
	UpdatedBy     string `yaml:"updated_by"`
	UpdatedByType string `yaml:"updated_by_type"`
}

// PolymorphicPattern names a type/id column pair that together reference an owner row
type PolymorphicPattern struct {
	TypeColumn string `yaml:"type_column"`
	IDColumn   string `yaml:"id_column"`
}

// SoftDelete holds the default soft delete policy
type SoftDelete struct {
	Mode                    SoftDeleteMode `yaml:"mode"`
	ReactivationToleranceMs int64          `yaml:"reactivation_tolerance_ms"`
}

// Purge holds the defaults baked into the purge procedure
type Purge struct {
	ProcedureName   string `yaml:"procedure_name"`
	Schema          string `yaml:"schema"`
	GracePeriodDays int    `yaml:"grace_period_days"`
	BatchSize       int    `yaml:"batch_size"`
	DryRun          bool   `yaml:"dry_run"`
}

// Output holds the host integration settings
type Output struct {
	Dialect       string `yaml:"dialect"`
	DefaultSchema string `yaml:"default_schema"`
	TriggersDir   string `yaml:"triggers_dir"`
	ProceduresDir string `yaml:"procedures_dir"`
	Force         bool   `yaml:"force"`
}

// Override changes settings for the tables its Match key selects. Match is an exact table name
// (optionally schema-qualified), "category:<name>", or a glob. Nil fields are left alone.
type Override struct {
	Match                      string               `yaml:"match"`
	SoftDeleteMode             *SoftDeleteMode      `yaml:"soft_delete_mode"`
	GenerateReactivationGuards *bool                `yaml:"reactivation_guards"`
	ReactivationCascade        *bool                `yaml:"reactivation_cascade"`
	ReactivationToleranceMs    *int64               `yaml:"reactivation_tolerance_ms"`
	ActiveColumn               *string              `yaml:"active_column"`
	ValidFromColumn            *string              `yaml:"valid_from_column"`
	ValidToColumn              *string              `yaml:"valid_to_column"`
	UpdatedByColumn            *string              `yaml:"updated_by_column"`
	UpdatedByType              *string              `yaml:"updated_by_type"`
	PolymorphicPatterns        []PolymorphicPattern `yaml:"polymorphic"`
	ExcludeFromPurge           *bool                `yaml:"exclude_from_purge"`
}

// Config is the complete generator configuration
type Config struct {
	Features    Features             `yaml:"features"`
	Columns     Columns              `yaml:"columns"`
	SoftDelete  SoftDelete           `yaml:"soft_delete"`
	Polymorphic []PolymorphicPattern `yaml:"polymorphic"`
	Purge       Purge                `yaml:"purge"`
	Output      Output               `yaml:"output"`
	Overrides   []Override           `yaml:"overrides"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Features: Features{
			SoftDelete:         true,
			ReactivationGuards: true,
			Purge:              true,
		},
		Columns: Columns{
			Active:        "active",
			ValidFrom:     "valid_from",
			ValidTo:       "valid_to",
			CreatedAt:     "created_at",
			UpdatedBy:     "updated_by",
			UpdatedByType: "INT",
		},
		SoftDelete: SoftDelete{
			Mode:                    ModeCascade,
			ReactivationToleranceMs: 2000,
		},
		Purge: Purge{
			ProcedureName:   "usp_purge_soft_deleted",
			GracePeriodDays: 90,
		},
		Output: Output{
			Dialect:       DialectSQLServer,
			TriggersDir:   "generated/triggers",
			ProceduresDir: "generated/procedures",
			Force:         true,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse reads configuration from YAML bytes on top of the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(c)
}

// Validate checks values the resolver and planner rely on
func (c *Config) Validate() error {
	if c.Columns.Active == "" {
		return fmt.Errorf("columns.active is required")
	}
	if c.SoftDelete.ReactivationToleranceMs < 0 {
		return fmt.Errorf("soft_delete.reactivation_tolerance_ms must not be negative")
	}
	if c.Purge.GracePeriodDays < 0 {
		return fmt.Errorf("purge.grace_period_days must not be negative")
	}
	if c.Purge.BatchSize < 0 {
		return fmt.Errorf("purge.batch_size must not be negative (0 means unlimited)")
	}
	if c.Features.Purge && c.Purge.ProcedureName == "" {
		return fmt.Errorf("purge.procedure_name is required when the purge feature is enabled")
	}
	switch c.Output.Dialect {
	case DialectSQLServer, DialectMySQL:
	default:
		return fmt.Errorf("output.dialect %q is not supported (expected %s or %s)",
			c.Output.Dialect, DialectSQLServer, DialectMySQL)
	}
	for i, o := range c.Overrides {
		if strings.TrimSpace(o.Match) == "" {
			return fmt.Errorf("overrides[%d]: match is required", i)
		}
		if o.ReactivationToleranceMs != nil && *o.ReactivationToleranceMs < 0 {
			return fmt.Errorf("overrides[%d] (%s): reactivation_tolerance_ms must not be negative", i, o.Match)
		}
	}
	return nil
}
