package dataset

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNormalizer(t *testing.T, opts ...NormalizerOption) *Normalizer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewNormalizer(logger, opts...)
}

func validPrecioRow() RawRow {
	return RawRow{
		ColFecha:    "20241004",
		ColHora:     "13",
		ColMinuto:   "30",
		ColBarra:    "QUILLOTA 220KV",
		ColCMgMills: "62.5",
		ColCMgUSD:   "0.0625",
		ColUSD:      "950.3",
	}
}

func TestNormalizePrecios_ValidRow(t *testing.T) {
	n := testNormalizer(t)

	rows, stats := n.NormalizePrecios([]RawRow{validPrecioRow()})

	require.Len(t, rows, 1)
	assert.Equal(t, 0, stats.Total())

	row := rows[0]
	assert.Equal(t, date(2024, time.October, 4), row.Time.Fecha)
	assert.Equal(t, 13, row.Time.Hora)
	assert.Equal(t, 30, row.Time.Minuto)
	assert.Equal(t, 54, row.Time.CuartoHora) // 13*4 + 30/15, 0-indexed
	assert.Equal(t, "2024-10", row.Time.ClaveAnioMes)
	assert.Equal(t, "QUILLOTA 220KV", row.Barra)
	assert.InDelta(t, 62.5, row.CMgMillsKWh, 1e-9)
	assert.InDelta(t, 0.0625, row.CMgUSDKWh, 1e-9)
	assert.InDelta(t, 950.3, row.USD, 1e-9)
}

func TestNormalizePrecios_OffGridMinuteKept(t *testing.T) {
	n := testNormalizer(t)

	row := validPrecioRow()
	row[ColMinuto] = "5"

	rows, stats := n.NormalizePrecios([]RawRow{row})

	require.Len(t, rows, 1)
	assert.Equal(t, 0, stats.Total())
	assert.Equal(t, 5, rows[0].Time.Minuto)
	assert.Equal(t, 52, rows[0].Time.CuartoHora) // 13*4 + 5/15
}

func TestNormalizePrecios_DropsBadRowsAndKeepsGoodOnes(t *testing.T) {
	n := testNormalizer(t)

	badDate := validPrecioRow()
	badDate[ColFecha] = "not-a-date"

	badHora := validPrecioRow()
	badHora[ColHora] = "24"

	badNumber := validPrecioRow()
	badNumber[ColCMgMills] = "sixty"

	missing := validPrecioRow()
	delete(missing, ColUSD)

	blankBarra := validPrecioRow()
	blankBarra[ColBarra] = "   "

	rows, stats := n.NormalizePrecios([]RawRow{
		badDate, validPrecioRow(), badHora, badNumber, missing, blankBarra,
	})

	require.Len(t, rows, 1)
	assert.Equal(t, 1, stats.Count(DropBadDate))
	assert.Equal(t, 2, stats.Count(DropBadNumber))
	assert.Equal(t, 1, stats.Count(DropMissingColumn))
	assert.Equal(t, 1, stats.Count(DropEmptyRequiredText))
	assert.Equal(t, 5, stats.Total())
}

func validRetiroRow() RawRow {
	return RawRow{
		ColCuartoHora:  "5",
		ColBarraMixed:  "Polpaico 220",
		ColSuministra:  "GENERADORA SUR",
		ColRetiro:      "DISTRIBUIDORA NORTE",
		ColClave:       "POLP-220-A",
		ColTipo:        "Libre",
		ColMedidaKWh:   "1234.75",
		ColClaveAnoMes: "2410",
	}
}

func TestNormalizeRetiros_DerivesTimeFromOneIndexedCuarto(t *testing.T) {
	n := testNormalizer(t)

	rows, stats := n.NormalizeRetiros([]RawRow{validRetiroRow()})

	require.Len(t, rows, 1)
	assert.Equal(t, 0, stats.Total())

	row := rows[0]
	assert.Equal(t, date(2024, time.October, 1), row.Time.Fecha)
	assert.Equal(t, 1, row.Time.Hora)   // cuarto 5 is the first quarter of hour 1
	assert.Equal(t, 0, row.Time.Minuto)
	assert.Equal(t, 5, row.Time.CuartoHora) // source convention kept as stored
	assert.Equal(t, "GENERADORA SUR", row.Suministrador)
	assert.Equal(t, "DISTRIBUIDORA NORTE", row.Retiro)
	assert.InDelta(t, 1234.75, row.MedidaKWh, 1e-9)
}

func TestNormalizeRetiros_BlankCuartoDefaultsToFirstInterval(t *testing.T) {
	n := testNormalizer(t)

	row := validRetiroRow()
	row[ColCuartoHora] = ""

	rows, stats := n.NormalizeRetiros([]RawRow{row})

	require.Len(t, rows, 1)
	assert.Equal(t, 0, stats.Total())
	assert.Equal(t, 0, rows[0].Time.Hora)
	assert.Equal(t, 0, rows[0].Time.Minuto)
	assert.Equal(t, 1, rows[0].Time.CuartoHora)
}

func TestNormalizeRetiros_CuartoBounds(t *testing.T) {
	n := testNormalizer(t)

	last := validRetiroRow()
	last[ColCuartoHora] = "96"

	rows, stats := n.NormalizeRetiros([]RawRow{last})
	require.Len(t, rows, 1)
	assert.Equal(t, 23, rows[0].Time.Hora)
	assert.Equal(t, 45, rows[0].Time.Minuto)
	assert.Equal(t, 0, stats.Total())

	for _, bad := range []string{"0", "97", "-3"} {
		row := validRetiroRow()
		row[ColCuartoHora] = bad

		rows, stats = n.NormalizeRetiros([]RawRow{row})
		assert.Empty(t, rows, "cuarto %q", bad)
		assert.Equal(t, 1, stats.Count(DropBadQuarterHour), "cuarto %q", bad)
	}
}

func validContratoRow() RawRow {
	return RawRow{
		ColCuartoHora:  "1",
		ColBarraMixed:  "Charrua 154",
		ColClave:       "CH-154-B",
		ColEmpresa:     "COMERCIALIZADORA ANDES",
		ColTransaccion: "Venta",
		ColKwhh:        "5000",
		ColValorizado:  "312500.5",
		ColIDContrato:  "77001",
		ColCMgPesoKWh:  "62.5",
	}
}

func TestNormalizeContratos_StampsReferenceDate(t *testing.T) {
	ref := date(2024, time.November, 15)
	n := testNormalizer(t, WithReferenceDate(ref))

	rows, stats := n.NormalizeContratos([]RawRow{validContratoRow()})

	require.Len(t, rows, 1)
	assert.Equal(t, 0, stats.Total())

	row := rows[0]
	assert.Equal(t, ref, row.Time.Fecha)
	assert.Equal(t, "2024-11", row.Time.ClaveAnioMes)
	assert.Equal(t, 0, row.Time.Hora)
	assert.Equal(t, 0, row.Time.Minuto)
	assert.Equal(t, int64(77001), row.IDContrato)
}

func TestNormalizeContratos_AcceptsMojibakeTransaccionHeader(t *testing.T) {
	n := testNormalizer(t)

	row := validContratoRow()
	value := row[ColTransaccion]
	delete(row, ColTransaccion)
	row[colTransaccionMojibake] = value

	rows, stats := n.NormalizeContratos([]RawRow{row})

	require.Len(t, rows, 1)
	assert.Equal(t, 0, stats.Total())
	assert.Equal(t, "Venta", rows[0].Transaccion)
}

func TestNormalizeContratos_MissingTransaccionDropsRow(t *testing.T) {
	n := testNormalizer(t)

	row := validContratoRow()
	delete(row, ColTransaccion)

	rows, stats := n.NormalizeContratos([]RawRow{row})

	assert.Empty(t, rows)
	assert.Equal(t, 1, stats.Count(DropMissingColumn))
}

func TestNormalizeContratos_BadNumbersDropRow(t *testing.T) {
	n := testNormalizer(t)

	row := validContratoRow()
	row[ColIDContrato] = "77001.5"

	rows, stats := n.NormalizeContratos([]RawRow{row})

	assert.Empty(t, rows)
	assert.Equal(t, 1, stats.Count(DropBadNumber))
}
