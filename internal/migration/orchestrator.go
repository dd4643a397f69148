// Package migration orchestrates a full warehouse run: it walks the
// configured extracts in a fixed order, streams each one through the
// loader and normalizer in batches, resolves dimension keys, and writes
// fact rows through the storage layer.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gridmart-io/gridmart/internal/dataset"
	"github.com/gridmart-io/gridmart/internal/loader"
)

// DatasetResult summarizes the outcome of one extract within a run.
type DatasetResult struct {
	Kind     dataset.Kind
	Path     string
	State    dataset.State
	Read     int            // raw rows handed to the normalizer
	Inserted int            // fact rows committed
	Dropped  map[string]int // drop counts keyed by reason
}

// RunResult summarizes a complete run across all configured extracts.
type RunResult struct {
	RunID         string
	Datasets      []DatasetResult
	TotalInserted int
}

// Runner drives the load -> normalize -> resolve -> insert pipeline for
// every dataset in a manifest. Datasets are processed sequentially in a
// fixed order; a failure aborts the run but already committed batches
// stay in the warehouse.
type Runner struct {
	logger     *slog.Logger
	loader     *loader.Loader
	normalizer *dataset.Normalizer
	dims       dataset.DimensionResolver
	facts      dataset.FactWriter

	batchSize int
	limiter   *rate.Limiter
	closer    io.Closer
	closeOnce sync.Once
	runID     string
}

// RunnerOption configures optional Runner behavior.
type RunnerOption func(*Runner)

// WithBatchSize overrides the number of raw rows processed per batch.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBatchLimiter paces fact inserts with the given rate limiter.
func WithBatchLimiter(l *rate.Limiter) RunnerOption {
	return func(r *Runner) {
		r.limiter = l
	}
}

// WithConnectionCloser registers a resource, typically the database
// connection, that the Runner releases exactly once when the run ends.
func WithConnectionCloser(c io.Closer) RunnerOption {
	return func(r *Runner) {
		r.closer = c
	}
}

// NewRunner creates a Runner wired to the given loader, normalizer, and
// storage interfaces.
func NewRunner(
	logger *slog.Logger,
	ld *loader.Loader,
	norm *dataset.Normalizer,
	dims dataset.DimensionResolver,
	facts dataset.FactWriter,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		logger:     logger,
		loader:     ld,
		normalizer: norm,
		dims:       dims,
		facts:      facts,
		batchSize:  DefaultBatchSize,
		runID:      uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the identifier stamped on this run's log records.
func (r *Runner) RunID() string { return r.runID }

// batchProcessor normalizes one batch of raw rows for a dataset,
// resolves its dimension keys, and writes the surviving fact rows.
type batchProcessor func(ctx context.Context, run *dataset.Run, rows []dataset.RawRow) (int, *dataset.DropStats, error)

// Run processes every configured dataset in order: marginal prices,
// withdrawals, physical contracts. Unconfigured or missing extract
// files are skipped with a warning. The first dataset error aborts the
// run; the registered closer is released on every exit path.
func (r *Runner) Run(ctx context.Context, paths DatasetPaths) (*RunResult, error) {
	defer r.release()

	result := &RunResult{RunID: r.runID}
	jobs := []struct {
		kind    dataset.Kind
		path    string
		process batchProcessor
	}{
		{dataset.KindMarginalPrices, paths.MarginalPrices, r.precioBatch},
		{dataset.KindWithdrawals, paths.Withdrawals, r.retiroBatch},
		{dataset.KindPhysicalContracts, paths.PhysicalContracts, r.contratoBatch},
	}

	r.logger.Info("migration run starting", "run_id", r.runID, "batch_size", r.batchSize)

	for _, job := range jobs {
		if job.path == "" {
			r.logger.Info("dataset not configured, skipping", "run_id", r.runID, "dataset", job.kind)
			continue
		}
		if _, err := os.Stat(job.path); err != nil {
			r.logger.Warn("extract file missing, skipping dataset",
				"run_id", r.runID, "dataset", job.kind, "path", job.path, "error", err)
			continue
		}

		res, err := r.processDataset(ctx, job.kind, job.path, job.process)
		result.Datasets = append(result.Datasets, res)
		result.TotalInserted += res.Inserted
		if err != nil {
			r.logger.Error("migration run aborted",
				"run_id", r.runID, "dataset", job.kind, "error", err)
			return result, fmt.Errorf("dataset %s: %w", job.kind, err)
		}
	}

	r.logger.Info("migration run completed",
		"run_id", r.runID, "datasets", len(result.Datasets), "total_inserted", result.TotalInserted)
	return result, nil
}

// release closes the registered closer exactly once.
func (r *Runner) release() {
	r.closeOnce.Do(func() {
		if r.closer == nil {
			return
		}
		if err := r.closer.Close(); err != nil {
			r.logger.Warn("closing connection failed", "run_id", r.runID, "error", err)
		}
	})
}

// processDataset runs the batch loop for a single extract, tracking its
// lifecycle state and accumulating read/insert/drop counts.
func (r *Runner) processDataset(ctx context.Context, kind dataset.Kind, path string, process batchProcessor) (DatasetResult, error) {
	run := dataset.NewRun(kind)
	res := DatasetResult{Kind: kind, Path: path, Dropped: make(map[string]int)}
	drops := &dataset.DropStats{}

	fail := func(err error) (DatasetResult, error) {
		_ = run.Fail()
		res.State = run.State()
		mergeDropCounts(res.Dropped, drops)
		return res, err
	}

	if err := run.Transition(dataset.StateLoading); err != nil {
		return fail(err)
	}
	rr, err := r.loader.Open(path)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = rr.Close() }()

	r.logger.Info("dataset load started",
		"run_id", r.runID, "dataset", kind, "path", path,
		"encoding", rr.Encoding(), "delimiter", string(rr.Delimiter()))

	for {
		batch, readErr := rr.ReadBatch(r.batchSize)
		atEOF := errors.Is(readErr, io.EOF)
		if readErr != nil && !atEOF {
			return fail(readErr)
		}

		if len(batch) > 0 {
			res.Read += len(batch)
			if err := run.Transition(dataset.StateNormalizing); err != nil {
				return fail(err)
			}
			inserted, batchDrops, err := process(ctx, run, batch)
			res.Inserted += inserted
			drops.Merge(batchDrops)
			if err != nil {
				return fail(err)
			}
		}

		if atEOF {
			break
		}
	}

	if skipped := rr.Skipped(); skipped > 0 {
		drops.AddN(dataset.DropMalformedRecord, skipped)
	}
	if err := run.Transition(dataset.StateDone); err != nil {
		return fail(err)
	}

	res.State = run.State()
	mergeDropCounts(res.Dropped, drops)
	r.logger.Info("dataset done",
		"run_id", r.runID, "dataset", kind,
		"read", res.Read, "inserted", res.Inserted, "dropped", drops.Total())
	return res, nil
}

// precioBatch handles one batch of the marginal price extract.
func (r *Runner) precioBatch(ctx context.Context, run *dataset.Run, rows []dataset.RawRow) (int, *dataset.DropStats, error) {
	cleaned, drops := r.normalizer.NormalizePrecios(rows)
	if len(cleaned) == 0 {
		return 0, drops, nil
	}
	if err := run.Transition(dataset.StateResolving); err != nil {
		return 0, drops, err
	}

	barraNames := make([]string, 0, len(cleaned))
	times := make([]dataset.TimeValue, 0, len(cleaned))
	for _, row := range cleaned {
		barraNames = append(barraNames, row.Barra)
		times = append(times, row.Time)
	}
	barras, err := r.dims.ResolveBarras(ctx, barraNames)
	if err != nil {
		return 0, drops, err
	}
	tiempos, err := r.dims.ResolveTiempos(ctx, times)
	if err != nil {
		return 0, drops, err
	}

	facts := make([]dataset.PrecioFact, 0, len(cleaned))
	for _, row := range cleaned {
		idTiempo, okT := tiempos[row.Time.TimeKey]
		idBarra, okB := barras[row.Barra]
		if !okT || !okB {
			drops.Add(dataset.DropUnresolvedKey)
			continue
		}
		facts = append(facts, dataset.PrecioFact{
			TiempoID:    idTiempo,
			BarraID:     idBarra,
			CMgMillsKWh: row.CMgMillsKWh,
			CMgUSDKWh:   row.CMgUSDKWh,
			USD:         row.USD,
		})
	}
	if len(facts) == 0 {
		return 0, drops, nil
	}

	if err := r.wait(ctx); err != nil {
		return 0, drops, err
	}
	if err := run.Transition(dataset.StateInserting); err != nil {
		return 0, drops, err
	}
	inserted, err := r.facts.InsertPrecios(ctx, facts)
	return inserted, drops, err
}

// retiroBatch handles one batch of the energy withdrawal extract. Both
// the supplier and the withdrawing party resolve against the
// counterparty dimension.
func (r *Runner) retiroBatch(ctx context.Context, run *dataset.Run, rows []dataset.RawRow) (int, *dataset.DropStats, error) {
	cleaned, drops := r.normalizer.NormalizeRetiros(rows)
	if len(cleaned) == 0 {
		return 0, drops, nil
	}
	if err := run.Transition(dataset.StateResolving); err != nil {
		return 0, drops, err
	}

	barraNames := make([]string, 0, len(cleaned))
	empresaNames := make([]string, 0, 2*len(cleaned))
	times := make([]dataset.TimeValue, 0, len(cleaned))
	for _, row := range cleaned {
		barraNames = append(barraNames, row.Barra)
		empresaNames = append(empresaNames, row.Suministrador, row.Retiro)
		times = append(times, row.Time)
	}
	barras, err := r.dims.ResolveBarras(ctx, barraNames)
	if err != nil {
		return 0, drops, err
	}
	empresas, err := r.dims.ResolveEmpresas(ctx, empresaNames)
	if err != nil {
		return 0, drops, err
	}
	tiempos, err := r.dims.ResolveTiempos(ctx, times)
	if err != nil {
		return 0, drops, err
	}

	facts := make([]dataset.RetiroFact, 0, len(cleaned))
	for _, row := range cleaned {
		idTiempo, okT := tiempos[row.Time.TimeKey]
		idBarra, okB := barras[row.Barra]
		idSuministrador, okS := empresas[row.Suministrador]
		idRetiro, okR := empresas[row.Retiro]
		if !okT || !okB || !okS || !okR {
			drops.Add(dataset.DropUnresolvedKey)
			continue
		}
		facts = append(facts, dataset.RetiroFact{
			TiempoID:        idTiempo,
			BarraID:         idBarra,
			SuministradorID: idSuministrador,
			RetiroID:        idRetiro,
			Clave:           row.Clave,
			Tipo:            row.Tipo,
			MedidaKWh:       row.MedidaKWh,
		})
	}
	if len(facts) == 0 {
		return 0, drops, nil
	}

	if err := r.wait(ctx); err != nil {
		return 0, drops, err
	}
	if err := run.Transition(dataset.StateInserting); err != nil {
		return 0, drops, err
	}
	inserted, err := r.facts.InsertRetiros(ctx, facts)
	return inserted, drops, err
}

// contratoBatch handles one batch of the physical contract extract.
func (r *Runner) contratoBatch(ctx context.Context, run *dataset.Run, rows []dataset.RawRow) (int, *dataset.DropStats, error) {
	cleaned, drops := r.normalizer.NormalizeContratos(rows)
	if len(cleaned) == 0 {
		return 0, drops, nil
	}
	if err := run.Transition(dataset.StateResolving); err != nil {
		return 0, drops, err
	}

	barraNames := make([]string, 0, len(cleaned))
	empresaNames := make([]string, 0, len(cleaned))
	times := make([]dataset.TimeValue, 0, len(cleaned))
	for _, row := range cleaned {
		barraNames = append(barraNames, row.Barra)
		empresaNames = append(empresaNames, row.Empresa)
		times = append(times, row.Time)
	}
	barras, err := r.dims.ResolveBarras(ctx, barraNames)
	if err != nil {
		return 0, drops, err
	}
	empresas, err := r.dims.ResolveEmpresas(ctx, empresaNames)
	if err != nil {
		return 0, drops, err
	}
	tiempos, err := r.dims.ResolveTiempos(ctx, times)
	if err != nil {
		return 0, drops, err
	}

	facts := make([]dataset.ContratoFact, 0, len(cleaned))
	for _, row := range cleaned {
		idTiempo, okT := tiempos[row.Time.TimeKey]
		idBarra, okB := barras[row.Barra]
		idEmpresa, okE := empresas[row.Empresa]
		if !okT || !okB || !okE {
			drops.Add(dataset.DropUnresolvedKey)
			continue
		}
		facts = append(facts, dataset.ContratoFact{
			TiempoID:      idTiempo,
			BarraID:       idBarra,
			EmpresaID:     idEmpresa,
			Clave:         row.Clave,
			Transaccion:   row.Transaccion,
			KWh:           row.KWh,
			ValorizadoCLP: row.ValorizadoCLP,
			IDContrato:    row.IDContrato,
			CMgPesoKWh:    row.CMgPesoKWh,
		})
	}
	if len(facts) == 0 {
		return 0, drops, nil
	}

	if err := r.wait(ctx); err != nil {
		return 0, drops, err
	}
	if err := run.Transition(dataset.StateInserting); err != nil {
		return 0, drops, err
	}
	inserted, err := r.facts.InsertContratos(ctx, facts)
	return inserted, drops, err
}

// wait blocks on the batch limiter, when one is configured, before a
// fact insert hits the database.
func (r *Runner) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func mergeDropCounts(dst map[string]int, drops *dataset.DropStats) {
	for reason, n := range drops.ByReason() {
		dst[reason] += n
	}
}
