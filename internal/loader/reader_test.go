package loader

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(t *testing.T, opts ...Option) *Loader {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewLoader(logger, opts...)
}

func writeExtract(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	return path
}

func TestOpen_SemicolonLatin1File(t *testing.T) {
	// "Transacción" with ó as the single latin-1 byte 0xF3.
	content := []byte("Transacci\xf3n;Empresa\nVenta;COMERCIALIZADORA ANDES\n")
	path := writeExtract(t, "contratos.csv", content)

	reader, err := testLoader(t).Open(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, "latin-1", reader.Encoding())
	assert.Equal(t, ';', reader.Delimiter())
	assert.Equal(t, []string{"Transacción", "Empresa"}, reader.Header())

	row, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "Venta", row["Transacción"])
	assert.Equal(t, "COMERCIALIZADORA ANDES", row["Empresa"])

	_, err = reader.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpen_CommaDelimitedFile(t *testing.T) {
	content := []byte("FECHA,HORA,BARRA\n20241004,13,QUILLOTA 220KV\n")
	path := writeExtract(t, "precios.csv", content)

	reader, err := testLoader(t).Open(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, ',', reader.Delimiter())

	row, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "20241004", row["FECHA"])
	assert.Equal(t, "QUILLOTA 220KV", row["BARRA"])
}

func TestOpen_UTF8FileWithoutHintKeepsAccentedHeader(t *testing.T) {
	content := []byte("Cuarto de Hora;Barra;Suministrador;Retiro;clave;Tipo;Medida_kWh;Clave Año_Mes\n" +
		"5;QUILLOTA 220KV;GEN SUR;DIST NORTE;K1;R;120.5;202410\n")
	path := writeExtract(t, "retiros.csv", content)

	reader, err := testLoader(t).Open(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, "utf-8", reader.Encoding())
	assert.Contains(t, reader.Header(), "Clave Año_Mes")

	row, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "202410", row["Clave Año_Mes"])
}

func TestOpen_UTF8BOMStrippedWithHint(t *testing.T) {
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("FECHA,HORA\n2410,3\n")...)
	path := writeExtract(t, "bom.csv", content)

	reader, err := testLoader(t, WithEncodingHint("utf-8-sig")).Open(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, "utf-8-sig", reader.Encoding())
	assert.Equal(t, []string{"FECHA", "HORA"}, reader.Header())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := testLoader(t).Open(filepath.Join(t.TempDir(), "nope.csv"))

	assert.ErrorIs(t, err, ErrLoadFailed)
}

func TestOpen_UnknownEncodingHint(t *testing.T) {
	path := writeExtract(t, "x.csv", []byte("a;b\n1;2\n"))

	_, err := testLoader(t, WithEncodingHint("ebcdic")).Open(path)

	assert.ErrorIs(t, err, ErrLoadFailed)
}

func TestRowReader_SkipsRecordsWithWrongFieldCount(t *testing.T) {
	content := []byte("a;b;c\n1;2;3\nshort;row\n4;5;6\n")
	path := writeExtract(t, "ragged.csv", content)

	reader, err := testLoader(t).Open(path)
	require.NoError(t, err)
	defer reader.Close()

	var rows []map[string]string
	for {
		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		rows = append(rows, row)
	}

	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0]["a"])
	assert.Equal(t, "4", rows[1]["a"])
	assert.Equal(t, 1, reader.Skipped())
}

func TestRowReader_ReadBatch(t *testing.T) {
	content := []byte("n\n1\n2\n3\n4\n5\n")
	path := writeExtract(t, "batched.csv", content)

	reader, err := testLoader(t).Open(path)
	require.NoError(t, err)
	defer reader.Close()

	batch, err := reader.ReadBatch(2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = reader.ReadBatch(2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	// Final partial batch arrives together with EOF.
	batch, err = reader.ReadBatch(2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, batch, 1)
	assert.Equal(t, "5", batch[0]["n"])

	batch, err = reader.ReadBatch(2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, batch)
}
