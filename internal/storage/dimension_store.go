package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/gridmart-io/gridmart/internal/dataset"
)

// Sentinel errors for dimension resolution.
var (
	// ErrResolveFailed is returned when a resolution batch cannot complete.
	// Fatal for the batch; distinct resolve calls are independently retryable.
	ErrResolveFailed = errors.New("dimension resolution failed")

	// Compile-time assertion: DimensionStore implements the domain resolver.
	_ dataset.DimensionResolver = (*DimensionStore)(nil)
)

const (
	// defaultLookupChunkSize bounds natural keys per lookup round trip so
	// parameter lists and result sets stay small on large batches.
	defaultLookupChunkSize = 1000

	// uniqueViolation is the PostgreSQL error code for a unique-constraint
	// conflict. With ON CONFLICT DO NOTHING inserts it should not surface,
	// but a concurrent run can still produce it through other paths; it is
	// always recoverable by re-reading the winner's row.
	uniqueViolation = pq.ErrorCode("23505")

	// DefaultEmpresaTipo is the classification tag for counterparties created
	// before anyone has classified them.
	DefaultEmpresaTipo = "Por Definir"
)

// timeKeyParams is the number of SQL parameters per composite time key.
const timeKeyParams = 3

// DimensionStore resolves natural keys to surrogate keys against PostgreSQL,
// creating dimension rows lazily with conflict-tolerant inserts. It is the
// sole mechanism protecting against duplicate dimension rows when several
// migration runs write to the same warehouse concurrently: an insert that
// loses a race is recovered by re-reading the winner's row.
type DimensionStore struct {
	conn      *Connection
	logger    *slog.Logger
	chunkSize int
}

// DimensionStoreOption configures optional DimensionStore behavior.
type DimensionStoreOption func(*DimensionStore)

// WithLookupChunkSize overrides the per-round-trip key limit.
func WithLookupChunkSize(n int) DimensionStoreOption {
	return func(s *DimensionStore) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewDimensionStore creates a PostgreSQL-backed dimension resolver.
func NewDimensionStore(conn *Connection, logger *slog.Logger, opts ...DimensionStoreOption) (*DimensionStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	s := &DimensionStore{
		conn:      conn,
		logger:    logger,
		chunkSize: defaultLookupChunkSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// nameDimension describes one name-keyed dimension table.
type nameDimension struct {
	table      string
	idColumn   string
	nameColumn string
}

var (
	barraDimension   = nameDimension{table: "barra", idColumn: "id_barra", nameColumn: "nombre"}
	empresaDimension = nameDimension{table: "empresa", idColumn: "id_emp", nameColumn: "nombre"}
)

// ResolveBarras maps grid-node names to barra surrogate keys, creating
// missing rows.
func (s *DimensionStore) ResolveBarras(ctx context.Context, names []string) (map[string]int64, error) {
	insert := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES ($1) ON CONFLICT (%s) DO NOTHING RETURNING %s",
		barraDimension.table, barraDimension.nameColumn, barraDimension.nameColumn, barraDimension.idColumn,
	)

	return s.resolveNames(ctx, barraDimension, names, func(ctx context.Context, name string) (int64, error) {
		var id int64
		err := s.conn.QueryRowContext(ctx, insert, name).Scan(&id)

		return id, err
	})
}

// ResolveEmpresas maps counterparty names to empresa surrogate keys. Rows
// created here carry the default classification tag; classification is
// somebody else's job and this tool never updates dimension rows.
func (s *DimensionStore) ResolveEmpresas(ctx context.Context, names []string) (map[string]int64, error) {
	insert := fmt.Sprintf(
		"INSERT INTO %s (%s, tipo) VALUES ($1, $2) ON CONFLICT (%s) DO NOTHING RETURNING %s",
		empresaDimension.table, empresaDimension.nameColumn, empresaDimension.nameColumn, empresaDimension.idColumn,
	)

	return s.resolveNames(ctx, empresaDimension, names, func(ctx context.Context, name string) (int64, error) {
		var id int64
		err := s.conn.QueryRowContext(ctx, insert, name, DefaultEmpresaTipo).Scan(&id)

		return id, err
	})
}

// resolveNames implements insert-or-retrieve for a name-keyed dimension:
// chunked lookup of existing rows, conflict-tolerant insert of the
// complement, and a re-lookup pass for inserts that lost a race to a
// concurrent run.
func (s *DimensionStore) resolveNames(
	ctx context.Context,
	dim nameDimension,
	names []string,
	insertRow func(ctx context.Context, name string) (int64, error),
) (map[string]int64, error) {
	unique := uniqueNames(names)
	resolved := make(map[string]int64, len(unique))

	if err := s.lookupNames(ctx, dim, unique, resolved); err != nil {
		return nil, err
	}

	var losers []string

	for _, name := range unique {
		if _, ok := resolved[name]; ok {
			continue
		}

		id, err := insertRow(ctx, name)

		switch {
		case err == nil:
			resolved[name] = id

			s.logger.Debug("Dimension row created",
				slog.String("table", dim.table),
				slog.String("name", name),
				slog.Int64("id", id),
			)
		case isConflict(err):
			// A concurrent run inserted this key first; pick up its row below.
			losers = append(losers, name)
		default:
			return nil, fmt.Errorf("%w: inserting into %s: %w", ErrResolveFailed, dim.table, err)
		}
	}

	if len(losers) > 0 {
		s.logger.Debug("Recovering dimension rows lost to concurrent writers",
			slog.String("table", dim.table),
			slog.Int("count", len(losers)),
		)

		if err := s.lookupNames(ctx, dim, losers, resolved); err != nil {
			return nil, err
		}
	}

	for _, name := range unique {
		if _, ok := resolved[name]; !ok {
			return nil, fmt.Errorf("%w: %s row for %q vanished after conflict", ErrResolveFailed, dim.table, name)
		}
	}

	return resolved, nil
}

// lookupNames queries existing rows for the given names in bounded chunks,
// merging results into resolved.
func (s *DimensionStore) lookupNames(
	ctx context.Context,
	dim nameDimension,
	names []string,
	resolved map[string]int64,
) error {
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s = ANY($1)",
		dim.idColumn, dim.nameColumn, dim.table, dim.nameColumn,
	)

	for _, chunk := range chunkStrings(names, s.chunkSize) {
		rows, err := s.conn.QueryContext(ctx, query, pq.Array(chunk))
		if err != nil {
			return fmt.Errorf("%w: querying %s: %w", ErrResolveFailed, dim.table, err)
		}

		if err := scanNameRows(rows, resolved); err != nil {
			return fmt.Errorf("%w: scanning %s: %w", ErrResolveFailed, dim.table, err)
		}
	}

	return nil
}

func scanNameRows(rows *sql.Rows, resolved map[string]int64) error {
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			id   int64
			name string
		)

		if err := rows.Scan(&id, &name); err != nil {
			return err
		}

		resolved[name] = id
	}

	return rows.Err()
}

// ResolveTiempos maps (fecha, hora, minuto) candidates to dim_tiempo
// surrogate keys. Candidates sharing a natural key are collapsed to the
// first occurrence; time rows are immutable once created, so the first
// writer's cuarto_hora/clave_anio_mes attributes stand.
func (s *DimensionStore) ResolveTiempos(ctx context.Context, times []dataset.TimeValue) (map[dataset.TimeKey]int64, error) {
	unique := uniqueTimeValues(times)
	resolved := make(map[dataset.TimeKey]int64, len(unique))

	keys := make([]dataset.TimeKey, len(unique))
	for i, tv := range unique {
		keys[i] = tv.TimeKey
	}

	if err := s.lookupTiempos(ctx, keys, resolved); err != nil {
		return nil, err
	}

	const insert = `
		INSERT INTO dim_tiempo (fecha, hora, minuto, cuarto_hora, clave_anio_mes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fecha, hora, minuto) DO NOTHING
		RETURNING id_tiempo
	`

	var losers []dataset.TimeKey

	for _, tv := range unique {
		if _, ok := resolved[tv.TimeKey]; ok {
			continue
		}

		var id int64

		err := s.conn.QueryRowContext(ctx, insert,
			tv.Fecha, tv.Hora, tv.Minuto, tv.CuartoHora, tv.ClaveAnioMes,
		).Scan(&id)

		switch {
		case err == nil:
			resolved[tv.TimeKey] = id
		case isConflict(err):
			losers = append(losers, tv.TimeKey)
		default:
			return nil, fmt.Errorf("%w: inserting into dim_tiempo: %w", ErrResolveFailed, err)
		}
	}

	if len(losers) > 0 {
		s.logger.Debug("Recovering time rows lost to concurrent writers",
			slog.Int("count", len(losers)),
		)

		if err := s.lookupTiempos(ctx, losers, resolved); err != nil {
			return nil, err
		}
	}

	for _, tv := range unique {
		if _, ok := resolved[tv.TimeKey]; !ok {
			return nil, fmt.Errorf("%w: dim_tiempo row for %v vanished after conflict", ErrResolveFailed, tv.TimeKey)
		}
	}

	return resolved, nil
}

// lookupTiempos queries existing time rows for the given composite keys in
// bounded chunks, merging results into resolved. Each chunk is exactly one
// round trip.
func (s *DimensionStore) lookupTiempos(
	ctx context.Context,
	keys []dataset.TimeKey,
	resolved map[dataset.TimeKey]int64,
) error {
	for _, chunk := range chunkTimeKeys(keys, s.chunkSize) {
		query, args := tiempoLookupQuery(chunk)

		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: querying dim_tiempo: %w", ErrResolveFailed, err)
		}

		if err := scanTiempoRows(rows, resolved); err != nil {
			return fmt.Errorf("%w: scanning dim_tiempo: %w", ErrResolveFailed, err)
		}
	}

	return nil
}

// tiempoLookupQuery builds a composite-key lookup for one chunk.
func tiempoLookupQuery(chunk []dataset.TimeKey) (string, []any) {
	var sb strings.Builder

	sb.WriteString("SELECT id_tiempo, fecha, hora, minuto FROM dim_tiempo WHERE ")

	args := make([]any, 0, len(chunk)*timeKeyParams)

	for i, key := range chunk {
		if i > 0 {
			sb.WriteString(" OR ")
		}

		base := i * timeKeyParams
		fmt.Fprintf(&sb, "(fecha = $%d AND hora = $%d AND minuto = $%d)", base+1, base+2, base+3)
		args = append(args, key.Fecha, key.Hora, key.Minuto)
	}

	return sb.String(), args
}

func scanTiempoRows(rows *sql.Rows, resolved map[dataset.TimeKey]int64) error {
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			id           int64
			fecha        time.Time
			hora, minuto int
		)

		if err := rows.Scan(&id, &fecha, &hora, &minuto); err != nil {
			return err
		}

		resolved[dateKey(fecha, hora, minuto)] = id
	}

	return rows.Err()
}

// dateKey normalizes a scanned date to a UTC-midnight TimeKey so map lookups
// match keys built by the normalizer.
func dateKey(fecha time.Time, hora, minuto int) dataset.TimeKey {
	return dataset.TimeKey{
		Fecha:  time.Date(fecha.Year(), fecha.Month(), fecha.Day(), 0, 0, 0, 0, time.UTC),
		Hora:   hora,
		Minuto: minuto,
	}
}

// isConflict reports whether an insert lost a uniqueness race: either the
// conflict-tolerant insert returned no row, or the driver surfaced a
// unique-constraint violation directly.
func isConflict(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}

	return false
}

// uniqueNames deduplicates names preserving first-seen order. Blank names
// are skipped; the natural key of a dimension row is never empty.
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	for _, name := range names {
		if name == "" {
			continue
		}

		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		out = append(out, name)
	}

	return out
}

// uniqueTimeValues deduplicates candidates by natural key, keeping the first
// occurrence's attributes.
func uniqueTimeValues(times []dataset.TimeValue) []dataset.TimeValue {
	seen := make(map[dataset.TimeKey]struct{}, len(times))
	out := make([]dataset.TimeValue, 0, len(times))

	for _, tv := range times {
		if _, ok := seen[tv.TimeKey]; ok {
			continue
		}

		seen[tv.TimeKey] = struct{}{}
		out = append(out, tv)
	}

	return out
}

// chunkStrings splits names into slices of at most size elements.
func chunkStrings(names []string, size int) [][]string {
	if len(names) == 0 {
		return nil
	}

	chunks := make([][]string, 0, (len(names)+size-1)/size)

	for start := 0; start < len(names); start += size {
		end := min(start+size, len(names))
		chunks = append(chunks, names[start:end])
	}

	return chunks
}

// chunkTimeKeys splits composite keys into slices of at most size elements.
func chunkTimeKeys(keys []dataset.TimeKey, size int) [][]dataset.TimeKey {
	if len(keys) == 0 {
		return nil
	}

	chunks := make([][]dataset.TimeKey, 0, (len(keys)+size-1)/size)

	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}

	return chunks
}
