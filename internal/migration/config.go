// Package migration orchestrates the per-dataset pipeline: load → normalize
// → resolve dimensions → bulk-insert facts, in bounded batches.
package migration

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gridmart-io/gridmart/internal/config"
	"github.com/gridmart-io/gridmart/internal/dataset"
)

// DefaultManifestPath is the default location of the run manifest, following
// the hidden-file convention of comparable tools.
const DefaultManifestPath = ".gridmart.yaml"

// ManifestPathEnvVar overrides the manifest location.
const ManifestPathEnvVar = "GRIDMART_MANIFEST"

// DefaultBatchSize is the number of file rows pushed through the pipeline
// per batch when the manifest does not say otherwise.
const DefaultBatchSize = 5000

// Sentinel errors for manifest loading.
var (
	// ErrManifestUnreadable is returned when the manifest file cannot be read.
	ErrManifestUnreadable = errors.New("manifest unreadable")

	// ErrManifestInvalid is returned when the manifest parses but is unusable.
	ErrManifestInvalid = errors.New("manifest invalid")
)

// DatasetPaths names the extract file for each dataset; empty entries are
// skipped with a warning, matching operator workflows where only some
// extracts arrive each month.
type DatasetPaths struct {
	MarginalPrices    string `yaml:"marginal_prices"`
	Withdrawals       string `yaml:"withdrawals"`
	PhysicalContracts string `yaml:"physical_contracts"`
}

// Manifest is the YAML run configuration: which files to migrate and how to
// parse them.
type Manifest struct {
	Datasets DatasetPaths `yaml:"datasets"`

	// Encoding is the first encoding tried for every file, utf-8 when
	// unset; the fallback chain (latin-1, utf-8-sig, iso-8859-1) follows
	// regardless.
	Encoding string `yaml:"encoding"`

	// DateOrder disambiguates dates like 04/10/2024: "dmy" (default) or
	// "mdy". The extracts are day-first; changing this is an explicit,
	// logged decision, never an inference.
	DateOrder string `yaml:"date_order"`

	// BatchSize is the number of file rows per pipeline batch.
	BatchSize int `yaml:"batch_size"`
}

// ManifestPath returns the configured manifest location.
func ManifestPath() string {
	return config.GetEnvStr(ManifestPathEnvVar, DefaultManifestPath)
}

// LoadManifest reads and validates the run manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestUnreadable, path, err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestInvalid, path, err)
	}

	if m.BatchSize == 0 {
		m.BatchSize = DefaultBatchSize
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate checks the manifest is usable.
func (m *Manifest) Validate() error {
	if m.Datasets.MarginalPrices == "" && m.Datasets.Withdrawals == "" && m.Datasets.PhysicalContracts == "" {
		return fmt.Errorf("%w: no dataset files configured", ErrManifestInvalid)
	}

	if m.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrManifestInvalid, m.BatchSize)
	}

	if _, err := dataset.ParseDateOrder(m.DateOrder); err != nil {
		return fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}

	return nil
}

// ParsedDateOrder returns the manifest's date order; Validate has already
// rejected unknown values.
func (m *Manifest) ParsedDateOrder() dataset.DateOrder {
	order, _ := dataset.ParseDateOrder(m.DateOrder)

	return order
}
