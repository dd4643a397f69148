package dataset

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Source column names per dataset, exactly as the extracts spell them.
const (
	ColFecha       = "FECHA"
	ColHora        = "HORA"
	ColMinuto      = "MINUTO"
	ColBarra       = "BARRA"
	ColCMgMills    = "CMg[mills/kWh]"
	ColCMgUSD      = "CMg[$/KWh]"
	ColUSD         = "USD"
	ColCuartoHora  = "Cuarto de Hora"
	ColBarraMixed  = "Barra"
	ColSuministra  = "Suministrador"
	ColRetiro      = "Retiro"
	ColClave       = "clave"
	ColTipo        = "Tipo"
	ColMedidaKWh   = "Medida_kWh"
	ColClaveAnoMes = "Clave Año_Mes"
	ColEmpresa     = "Empresa"
	ColTransaccion = "Transacción"
	ColKwhh        = "Kwhh"
	ColValorizado  = "Valorizado_CLP"
	ColIDContrato  = "Id_Contrato"
	ColCMgPesoKWh  = "CMG_PESO_KWH"
)

// colTransaccionMojibake is the double-encoded header the contract extracts
// actually ship with ("Transacción" read as latin-1). Accepted as an alias.
const colTransaccionMojibake = "TransacciÃ³n"

// Valid component ranges.
const (
	maxHora       = 23
	maxMinuto     = 59
	maxCuartoHora = 96
)

// Normalizer turns raw rows into validated, typed records. Rows that fail
// validation are dropped with a logged reason and counted; a bad row never
// fails the batch.
type Normalizer struct {
	logger  *slog.Logger
	order   DateOrder
	refDate time.Time
}

// NormalizerOption configures optional Normalizer behavior.
type NormalizerOption func(*Normalizer)

// WithDateOrder sets the disambiguation order for delimited dates.
func WithDateOrder(order DateOrder) NormalizerOption {
	return func(n *Normalizer) {
		n.order = order
	}
}

// WithReferenceDate sets the date stamped on physical-contract rows, whose
// extracts carry no date column. Defaults to the current date at construction.
func WithReferenceDate(d time.Time) NormalizerOption {
	return func(n *Normalizer) {
		n.refDate = d
	}
}

// NewNormalizer creates a Normalizer writing row-drop warnings to logger.
func NewNormalizer(logger *slog.Logger, opts ...NormalizerOption) *Normalizer {
	now := time.Now().UTC()

	n := &Normalizer{
		logger:  logger,
		order:   DayFirst,
		refDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// NormalizePrecios validates marginal-price rows. FECHA accepts any format
// ParseFlexibleDate knows; HORA and MINUTO are given directly and cuarto_hora
// is derived 0-indexed.
func (n *Normalizer) NormalizePrecios(rows []RawRow) ([]PriceRow, *DropStats) {
	out := make([]PriceRow, 0, len(rows))
	stats := &DropStats{}

	for i, row := range rows {
		required := []string{ColFecha, ColHora, ColMinuto, ColBarra, ColCMgMills, ColCMgUSD, ColUSD}
		if col, ok := missingColumn(row, required); !ok {
			n.drop(stats, KindMarginalPrices, i, DropMissingColumn, col)
			continue
		}

		fecha, err := ParseFlexibleDate(strings.TrimSpace(row[ColFecha]), n.order)
		if err != nil {
			n.drop(stats, KindMarginalPrices, i, DropBadDate, ColFecha)
			continue
		}

		hora, okH := parseIntField(row[ColHora])
		minuto, okM := parseIntField(row[ColMinuto])

		if !okH || !okM || hora < 0 || hora > maxHora || minuto < 0 || minuto > maxMinuto {
			n.drop(stats, KindMarginalPrices, i, DropBadNumber, ColHora)
			continue
		}

		barra := strings.TrimSpace(row[ColBarra])
		if barra == "" {
			n.drop(stats, KindMarginalPrices, i, DropEmptyRequiredText, ColBarra)
			continue
		}

		mills, okMills := parseFloatField(row[ColCMgMills])
		usdKWh, okUSDKWh := parseFloatField(row[ColCMgUSD])
		usd, okUSD := parseFloatField(row[ColUSD])

		if !okMills || !okUSDKWh || !okUSD {
			n.drop(stats, KindMarginalPrices, i, DropBadNumber, ColCMgMills)
			continue
		}

		out = append(out, PriceRow{
			Time:        NewTimeValue(TimeKey{Fecha: fecha, Hora: hora, Minuto: minuto}),
			Barra:       barra,
			CMgMillsKWh: mills,
			CMgUSDKWh:   usdKWh,
			USD:         usd,
		})
	}

	return out, stats
}

// NormalizeRetiros validates withdrawal rows. The source's "Cuarto de Hora"
// is 1-indexed (1-96); hora and minuto are derived from it and the source
// value is kept as the cuarto_hora stored with the time row. A blank cuarto
// defaults to the first interval of the day (hora 0, minuto 0).
func (n *Normalizer) NormalizeRetiros(rows []RawRow) ([]WithdrawalRow, *DropStats) {
	out := make([]WithdrawalRow, 0, len(rows))
	stats := &DropStats{}

	for i, row := range rows {
		required := []string{
			ColCuartoHora, ColBarraMixed, ColSuministra, ColRetiro,
			ColClave, ColTipo, ColMedidaKWh, ColClaveAnoMes,
		}
		if col, ok := missingColumn(row, required); !ok {
			n.drop(stats, KindWithdrawals, i, DropMissingColumn, col)
			continue
		}

		fecha, err := ParseFlexibleDate(strings.TrimSpace(row[ColClaveAnoMes]), n.order)
		if err != nil {
			n.drop(stats, KindWithdrawals, i, DropBadDate, ColClaveAnoMes)
			continue
		}

		cuarto := 1

		if raw := strings.TrimSpace(row[ColCuartoHora]); raw != "" {
			parsed, ok := parseIntField(raw)
			if !ok {
				n.drop(stats, KindWithdrawals, i, DropBadNumber, ColCuartoHora)
				continue
			}

			cuarto = parsed
		}

		if cuarto < 1 || cuarto > maxCuartoHora {
			n.drop(stats, KindWithdrawals, i, DropBadQuarterHour, ColCuartoHora)
			continue
		}

		barra := strings.TrimSpace(row[ColBarraMixed])
		suministrador := strings.TrimSpace(row[ColSuministra])
		retiro := strings.TrimSpace(row[ColRetiro])
		clave := strings.TrimSpace(row[ColClave])

		if barra == "" || suministrador == "" || retiro == "" || clave == "" {
			n.drop(stats, KindWithdrawals, i, DropEmptyRequiredText, ColBarraMixed)
			continue
		}

		medida, ok := parseFloatField(row[ColMedidaKWh])
		if !ok {
			n.drop(stats, KindWithdrawals, i, DropBadNumber, ColMedidaKWh)
			continue
		}

		key := TimeKey{Fecha: fecha, Hora: HoraFromCuarto(cuarto), Minuto: MinutoFromCuarto(cuarto)}

		out = append(out, WithdrawalRow{
			Time: TimeValue{
				TimeKey:      key,
				CuartoHora:   cuarto, // 1-indexed source convention, kept as-is
				ClaveAnioMes: key.YearMonthKey(),
			},
			Barra:         barra,
			Suministrador: suministrador,
			Retiro:        retiro,
			Clave:         clave,
			Tipo:          strings.TrimSpace(row[ColTipo]),
			MedidaKWh:     medida,
		})
	}

	return out, stats
}

// NormalizeContratos validates physical-contract rows. Contract extracts
// carry no date column, so each row is stamped with the normalizer's
// reference date; "Cuarto de Hora" follows the withdrawal convention.
func (n *Normalizer) NormalizeContratos(rows []RawRow) ([]ContractRow, *DropStats) {
	out := make([]ContractRow, 0, len(rows))
	stats := &DropStats{}

	for i, row := range rows {
		transaccion, okT := contractTransaccion(row)

		required := []string{
			ColCuartoHora, ColBarraMixed, ColClave, ColEmpresa,
			ColKwhh, ColValorizado, ColIDContrato, ColCMgPesoKWh,
		}
		col, ok := missingColumn(row, required)

		if !ok || !okT {
			if !ok {
				n.drop(stats, KindPhysicalContracts, i, DropMissingColumn, col)
			} else {
				n.drop(stats, KindPhysicalContracts, i, DropMissingColumn, ColTransaccion)
			}

			continue
		}

		cuarto, okC := parseIntField(row[ColCuartoHora])
		if !okC || cuarto < 1 || cuarto > maxCuartoHora {
			n.drop(stats, KindPhysicalContracts, i, DropBadQuarterHour, ColCuartoHora)
			continue
		}

		barra := strings.TrimSpace(row[ColBarraMixed])
		clave := strings.TrimSpace(row[ColClave])
		empresa := strings.TrimSpace(row[ColEmpresa])
		transaccion = strings.TrimSpace(transaccion)

		if barra == "" || clave == "" || empresa == "" || transaccion == "" {
			n.drop(stats, KindPhysicalContracts, i, DropEmptyRequiredText, ColBarraMixed)
			continue
		}

		kwh, okK := parseFloatField(row[ColKwhh])
		valorizado, okV := parseFloatField(row[ColValorizado])
		cmgPeso, okP := parseFloatField(row[ColCMgPesoKWh])
		idContrato, okI := parseInt64Field(row[ColIDContrato])

		if !okK || !okV || !okP || !okI {
			n.drop(stats, KindPhysicalContracts, i, DropBadNumber, ColKwhh)
			continue
		}

		key := TimeKey{Fecha: n.refDate, Hora: HoraFromCuarto(cuarto), Minuto: MinutoFromCuarto(cuarto)}

		out = append(out, ContractRow{
			Time: TimeValue{
				TimeKey:      key,
				CuartoHora:   cuarto,
				ClaveAnioMes: key.YearMonthKey(),
			},
			Barra:         barra,
			Clave:         clave,
			Empresa:       empresa,
			Transaccion:   transaccion,
			KWh:           kwh,
			ValorizadoCLP: valorizado,
			IDContrato:    idContrato,
			CMgPesoKWh:    cmgPeso,
		})
	}

	return out, stats
}

// drop records and logs one dropped row.
func (n *Normalizer) drop(stats *DropStats, kind Kind, rowIndex int, reason, column string) {
	stats.Add(reason)

	n.logger.Warn("Dropping invalid row",
		slog.String("dataset", kind.String()),
		slog.Int("row", rowIndex),
		slog.String("reason", reason),
		slog.String("column", column),
	)
}

// missingColumn returns the first required column absent from the row, with
// ok=false when one is missing.
func missingColumn(row RawRow, required []string) (string, bool) {
	for _, col := range required {
		if _, present := row[col]; !present {
			return col, false
		}
	}

	return "", true
}

// contractTransaccion fetches the transaction column, accepting the
// double-encoded header variant shipped by some extracts.
func contractTransaccion(row RawRow) (string, bool) {
	if v, ok := row[ColTransaccion]; ok {
		return v, true
	}

	if v, ok := row[colTransaccionMojibake]; ok {
		return v, true
	}

	return "", false
}

func parseIntField(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}

	return v, true
}

func parseInt64Field(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

func parseFloatField(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
