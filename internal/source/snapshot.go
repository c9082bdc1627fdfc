// Package source gathers the inputs of a run: the table facts, either from a schema snapshot file
// or from a live MySQL database, and the trigger, view and procedure declarations already present
// in the source tree.
package source

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vitebski/softdelete-gen/pkg/models"
)

// Snapshot is the on-disk form of a schema
type Snapshot struct {
	Tables []models.Table `yaml:"tables"`
}

// LoadSnapshot reads the tables of a YAML schema snapshot. Unknown keys are rejected.
func LoadSnapshot(path string) ([]models.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	tables, err := ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return tables, nil
}

// ParseSnapshot reads the tables of a YAML schema snapshot from bytes
func ParseSnapshot(data []byte) ([]models.Table, error) {
	var snap Snapshot
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&snap); err != nil {
		return nil, err
	}
	if len(snap.Tables) == 0 {
		return nil, fmt.Errorf("snapshot declares no tables")
	}
	return snap.Tables, nil
}

// WriteSnapshot writes tables as a YAML snapshot, the form LoadSnapshot reads back
func WriteSnapshot(path string, tables []models.Table) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(Snapshot{Tables: tables}); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}
