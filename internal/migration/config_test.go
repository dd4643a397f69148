package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmart-io/gridmart/internal/dataset"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gridmart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadManifest_Valid(t *testing.T) {
	path := writeManifest(t, `
datasets:
  marginal_prices: data/precios.csv
  withdrawals: data/retiros.csv
  physical_contracts: data/contratos.csv
encoding: utf-8
date_order: mdy
batch_size: 250
`)

	m, err := LoadManifest(path)

	require.NoError(t, err)
	assert.Equal(t, "data/precios.csv", m.Datasets.MarginalPrices)
	assert.Equal(t, "data/retiros.csv", m.Datasets.Withdrawals)
	assert.Equal(t, "data/contratos.csv", m.Datasets.PhysicalContracts)
	assert.Equal(t, "utf-8", m.Encoding)
	assert.Equal(t, 250, m.BatchSize)
	assert.Equal(t, dataset.MonthFirst, m.ParsedDateOrder())
}

func TestLoadManifest_DefaultsApply(t *testing.T) {
	path := writeManifest(t, `
datasets:
  marginal_prices: data/precios.csv
`)

	m, err := LoadManifest(path)

	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, m.BatchSize)
	assert.Equal(t, dataset.DayFirst, m.ParsedDateOrder())
	assert.Empty(t, m.Encoding)
}

func TestLoadManifest_MissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.ErrorIs(t, err, ErrManifestUnreadable)
}

func TestLoadManifest_InvalidYAML(t *testing.T) {
	path := writeManifest(t, "datasets: [broken")

	_, err := LoadManifest(path)

	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestLoadManifest_NoDatasetsConfigured(t *testing.T) {
	path := writeManifest(t, `
batch_size: 100
`)

	_, err := LoadManifest(path)

	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestLoadManifest_NegativeBatchSize(t *testing.T) {
	path := writeManifest(t, `
datasets:
  withdrawals: data/retiros.csv
batch_size: -5
`)

	_, err := LoadManifest(path)

	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestLoadManifest_BadDateOrder(t *testing.T) {
	path := writeManifest(t, `
datasets:
  withdrawals: data/retiros.csv
date_order: ymd
`)

	_, err := LoadManifest(path)

	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestManifestPath_EnvOverride(t *testing.T) {
	t.Setenv(ManifestPathEnvVar, "/etc/gridmart/run.yaml")

	assert.Equal(t, "/etc/gridmart/run.yaml", ManifestPath())
}
