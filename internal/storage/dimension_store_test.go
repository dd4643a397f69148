package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmart-io/gridmart/internal/dataset"
)

func testDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timeKeyAt(day, hora, minuto int) dataset.TimeKey {
	return dataset.TimeKey{
		Fecha:  time.Date(2024, time.October, day, 0, 0, 0, 0, time.UTC),
		Hora:   hora,
		Minuto: minuto,
	}
}

func TestNewDimensionStore_RequiresConnection(t *testing.T) {
	_, err := NewDimensionStore(nil, testDiscardLogger())

	assert.ErrorIs(t, err, ErrNoDatabaseConnection)
}

func TestChunkStrings_BoundsRoundTrips(t *testing.T) {
	names := make([]string, 2500)
	for i := range names {
		names[i] = fmt.Sprintf("BARRA-%04d", i)
	}

	chunks := chunkStrings(names, 1000)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 500)
}

func TestChunkStrings_Empty(t *testing.T) {
	assert.Nil(t, chunkStrings(nil, 1000))
}

func TestChunkTimeKeys_BoundsRoundTrips(t *testing.T) {
	keys := make([]dataset.TimeKey, 2500)
	for i := range keys {
		keys[i] = timeKeyAt(1+i%28, (i/4)%24, (i%4)*15)
	}

	chunks := chunkTimeKeys(keys, 1000)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[2], 500)
}

func TestTiempoLookupQuery(t *testing.T) {
	chunk := []dataset.TimeKey{timeKeyAt(4, 13, 30), timeKeyAt(5, 0, 0)}

	query, args := tiempoLookupQuery(chunk)

	assert.Equal(t,
		"SELECT id_tiempo, fecha, hora, minuto FROM dim_tiempo WHERE "+
			"(fecha = $1 AND hora = $2 AND minuto = $3) OR (fecha = $4 AND hora = $5 AND minuto = $6)",
		query,
	)
	require.Len(t, args, 6)
	assert.Equal(t, 13, args[1])
	assert.Equal(t, 0, args[5])
}

func TestUniqueNames_DeduplicatesAndSkipsBlanks(t *testing.T) {
	names := uniqueNames([]string{"A", "B", "", "A", "C", "B"})

	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestUniqueTimeValues_FirstOccurrenceWins(t *testing.T) {
	key := timeKeyAt(4, 1, 0)

	unique := uniqueTimeValues([]dataset.TimeValue{
		{TimeKey: key, CuartoHora: 5, ClaveAnioMes: "2024-10"},  // 1-indexed convention
		{TimeKey: key, CuartoHora: 4, ClaveAnioMes: "2024-10"},  // 0-indexed convention
		{TimeKey: timeKeyAt(4, 2, 0), CuartoHora: 8, ClaveAnioMes: "2024-10"},
	})

	require.Len(t, unique, 2)
	assert.Equal(t, 5, unique[0].CuartoHora)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, isConflict(sql.ErrNoRows))
	assert.True(t, isConflict(&pq.Error{Code: "23505"}))
	assert.True(t, isConflict(fmt.Errorf("wrapped: %w", sql.ErrNoRows)))
	assert.False(t, isConflict(&pq.Error{Code: "23503"}))
	assert.False(t, isConflict(errors.New("connection reset")))
	assert.False(t, isConflict(nil))
}
