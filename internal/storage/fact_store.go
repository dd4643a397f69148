package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gridmart-io/gridmart/internal/dataset"
)

// Sentinel errors for fact loading.
var (
	// ErrInsertFailed is returned when a fact bulk insert fails; the batch's
	// transaction is rolled back and the dataset is fatal, other datasets
	// unaffected.
	ErrInsertFailed = errors.New("fact insert failed")

	// Compile-time assertion: FactStore implements the domain writer.
	_ dataset.FactWriter = (*FactStore)(nil)
)

// maxRowsPerStatement bounds one multi-row INSERT so the parameter count
// stays well under PostgreSQL's 65535 limit at any batch size. Statements
// for one batch still share a single transaction.
const maxRowsPerStatement = 1000

// FactStore performs append-only bulk inserts of fact rows. Each Insert*
// call runs in its own transaction: the batch commits or rolls back as a
// unit. Fact rows are never deduplicated; re-running a file appends again.
type FactStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewFactStore creates a PostgreSQL-backed fact loader.
func NewFactStore(conn *Connection, logger *slog.Logger) (*FactStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &FactStore{conn: conn, logger: logger}, nil
}

var (
	precioColumns   = []string{"tiempo_id", "barra_id", "cmg_mills_kwh", "cmg_usd_kwh", "usd"}
	retiroColumns   = []string{"tiempo_id", "barra_id", "suministrador_id", "retiro_id", "clave", "tipo", "medida_kwh"}
	contratoColumns = []string{
		"tiempo_id", "barra_id", "clave", "empresa_id", "transaccion",
		"kwh", "valorizado_clp", "id_contrato", "cmg_peso_kwh",
	}
)

// InsertPrecios bulk-inserts marginal-price facts.
func (s *FactStore) InsertPrecios(ctx context.Context, rows []dataset.PrecioFact) (int, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{r.TiempoID, r.BarraID, r.CMgMillsKWh, r.CMgUSDKWh, r.USD}
	}

	return s.bulkInsert(ctx, "precio_marginal", precioColumns, values)
}

// InsertRetiros bulk-inserts withdrawal facts.
func (s *FactStore) InsertRetiros(ctx context.Context, rows []dataset.RetiroFact) (int, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{r.TiempoID, r.BarraID, r.SuministradorID, r.RetiroID, r.Clave, r.Tipo, r.MedidaKWh}
	}

	return s.bulkInsert(ctx, "retiro_energia", retiroColumns, values)
}

// InsertContratos bulk-inserts physical-contract facts.
func (s *FactStore) InsertContratos(ctx context.Context, rows []dataset.ContratoFact) (int, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{
			r.TiempoID, r.BarraID, r.Clave, r.EmpresaID, r.Transaccion,
			r.KWh, r.ValorizadoCLP, r.IDContrato, r.CMgPesoKWh,
		}
	}

	return s.bulkInsert(ctx, "contrato_fisico", contratoColumns, values)
}

// bulkInsert writes all values into table inside one transaction, using
// multi-row statements of at most maxRowsPerStatement rows each. Returns the
// number of rows submitted.
func (s *FactStore) bulkInsert(ctx context.Context, table string, columns []string, values [][]any) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: beginning transaction for %s: %w", ErrInsertFailed, table, err)
	}

	for start := 0; start < len(values); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(values))
		stmt := values[start:end]

		query := multiRowInsertSQL(table, columns, len(stmt))

		args := make([]any, 0, len(stmt)*len(columns))
		for _, row := range stmt {
			args = append(args, row...)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()

			return 0, fmt.Errorf("%w: inserting into %s: %w", ErrInsertFailed, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing %s: %w", ErrInsertFailed, table, err)
	}

	s.logger.Debug("Fact batch inserted",
		slog.String("table", table),
		slog.Int("rows", len(values)),
	)

	return len(values), nil
}

// multiRowInsertSQL builds "INSERT INTO t (c1, c2) VALUES ($1, $2), ($3, $4), ...".
func multiRowInsertSQL(table string, columns []string, rowCount int) string {
	var sb strings.Builder

	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	param := 1

	for row := 0; row < rowCount; row++ {
		if row > 0 {
			sb.WriteString(", ")
		}

		sb.WriteByte('(')

		for col := range columns {
			if col > 0 {
				sb.WriteString(", ")
			}

			fmt.Fprintf(&sb, "$%d", param)
			param++
		}

		sb.WriteByte(')')
	}

	return sb.String()
}
