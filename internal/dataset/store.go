package dataset

import "context"

// DimensionResolver maps batches of candidate natural keys to surrogate keys,
// creating dimension rows on first appearance. Implementations must be
// idempotent: resolving the same natural key any number of times, from any
// number of concurrent tool runs, yields the same surrogate key and leaves
// exactly one row per key. A unique-constraint conflict during insert is an
// expected outcome (another run won the race) and must be recovered by
// re-reading the authoritative row, never surfaced as an error.
//
// The domain defines this interface so pipeline logic does not depend on the
// PostgreSQL implementation in internal/storage.
type DimensionResolver interface {
	// ResolveBarras maps grid-node names to barra surrogate keys.
	ResolveBarras(ctx context.Context, names []string) (map[string]int64, error)

	// ResolveEmpresas maps counterparty names to empresa surrogate keys.
	// Newly created rows get the default classification tag.
	ResolveEmpresas(ctx context.Context, names []string) (map[string]int64, error)

	// ResolveTiempos maps (fecha, hora, minuto) candidates to dim_tiempo
	// surrogate keys. Lookups over large candidate sets are performed in
	// bounded chunks and merged. When several candidates share a natural key
	// with differing cuarto_hora/clave_anio_mes attributes, the first writer
	// wins: time rows are immutable once created.
	ResolveTiempos(ctx context.Context, times []TimeValue) (map[TimeKey]int64, error)
}

// FactWriter performs bulk, append-only inserts of fact rows whose dimension
// keys have already been resolved. Each call is one transaction: a storage
// failure rolls back that batch only. The returned count is the number of
// rows actually submitted.
type FactWriter interface {
	InsertPrecios(ctx context.Context, rows []PrecioFact) (int, error)
	InsertRetiros(ctx context.Context, rows []RetiroFact) (int, error)
	InsertContratos(ctx context.Context, rows []ContratoFact) (int, error)
}
