// Package dataset provides the domain model for energy-market extract
// migration: typed rows per dataset, flexible date parsing, per-dataset
// normalization, and the per-dataset run lifecycle.
//
// This package defines the DimensionResolver and FactWriter interfaces which
// represent what the domain needs for warehouse persistence. Concrete
// implementations (PostgreSQL) live in the internal/storage package.
package dataset

import (
	"time"
)

// Kind identifies one of the three supported fact datasets.
type Kind string

// Supported dataset kinds.
const (
	KindMarginalPrices    Kind = "marginal_prices"
	KindWithdrawals       Kind = "withdrawals"
	KindPhysicalContracts Kind = "physical_contracts"
)

// IsValid reports whether the kind is one of the supported datasets.
func (k Kind) IsValid() bool {
	switch k {
	case KindMarginalPrices, KindWithdrawals, KindPhysicalContracts:
		return true
	}

	return false
}

// String returns the dataset kind as a string.
func (k Kind) String() string {
	return string(k)
}

// RawRow is a single record as read from a delimited file: source column
// names mapped to raw string values, no coercion applied.
type RawRow map[string]string

// quarterHourMinutes is the length of one cuarto de hora interval.
const quarterHourMinutes = 15

// TimeKey is the natural key of the time dimension: a (fecha, hora, minuto)
// triple. Fecha carries only the date part (UTC midnight).
type TimeKey struct {
	Fecha  time.Time
	Hora   int
	Minuto int
}

// QuarterHour derives the 0-indexed quarter-hour index within the day.
func (k TimeKey) QuarterHour() int {
	return k.Hora*4 + k.Minuto/quarterHourMinutes
}

// YearMonthKey derives the "YYYY-MM" key of the date.
func (k TimeKey) YearMonthKey() string {
	return k.Fecha.Format("2006-01")
}

// TimeValue is a fully-populated time-dimension candidate: a natural key plus
// the cuarto_hora and clave_anio_mes attributes to store with it. Normalizers
// populate CuartoHora and ClaveAnioMes explicitly, either derived from the
// key or carried over from the source when the dataset supplies its own
// convention (withdrawals use the 1-indexed source value).
type TimeValue struct {
	TimeKey

	CuartoHora   int
	ClaveAnioMes string
}

// NewTimeValue builds a TimeValue with both attributes derived from the key.
func NewTimeValue(key TimeKey) TimeValue {
	return TimeValue{
		TimeKey:      key,
		CuartoHora:   key.QuarterHour(),
		ClaveAnioMes: key.YearMonthKey(),
	}
}

// HoraFromCuarto converts a 1-indexed cuarto de hora (1-96) to its hour.
func HoraFromCuarto(cuarto int) int {
	return (cuarto - 1) / 4
}

// MinutoFromCuarto converts a 1-indexed cuarto de hora (1-96) to its minute.
func MinutoFromCuarto(cuarto int) int {
	return ((cuarto - 1) % 4) * quarterHourMinutes
}

// PriceRow is a validated marginal-price record.
type PriceRow struct {
	Time        TimeValue
	Barra       string
	CMgMillsKWh float64
	CMgUSDKWh   float64
	USD         float64
}

// WithdrawalRow is a validated energy-withdrawal record. Suministrador and
// Retiro both name counterparties and resolve through the empresa dimension.
type WithdrawalRow struct {
	Time          TimeValue
	Barra         string
	Suministrador string
	Retiro        string
	Clave         string
	Tipo          string
	MedidaKWh     float64
}

// ContractRow is a validated physical-contract record.
type ContractRow struct {
	Time          TimeValue
	Barra         string
	Clave         string
	Empresa       string
	Transaccion   string
	KWh           float64
	ValorizadoCLP float64
	IDContrato    int64
	CMgPesoKWh    float64
}

// PrecioFact is a marginal-price fact row with resolved surrogate keys,
// ready for bulk insert.
type PrecioFact struct {
	TiempoID    int64
	BarraID     int64
	CMgMillsKWh float64
	CMgUSDKWh   float64
	USD         float64
}

// RetiroFact is a withdrawal fact row with resolved surrogate keys.
type RetiroFact struct {
	TiempoID        int64
	BarraID         int64
	SuministradorID int64
	RetiroID        int64
	Clave           string
	Tipo            string
	MedidaKWh       float64
}

// ContratoFact is a physical-contract fact row with resolved surrogate keys.
type ContratoFact struct {
	TiempoID      int64
	BarraID       int64
	EmpresaID     int64
	Clave         string
	Transaccion   string
	KWh           float64
	ValorizadoCLP float64
	IDContrato    int64
	CMgPesoKWh    float64
}

// Drop reasons recorded by normalizers and the fact loader.
const (
	DropMissingColumn     = "missing_column"
	DropBadDate           = "bad_date"
	DropBadNumber         = "bad_number"
	DropBadQuarterHour    = "bad_quarter_hour"
	DropUnresolvedKey     = "unresolved_dimension"
	DropMalformedRecord   = "malformed_record"
	DropEmptyRequiredText = "empty_required_text"
)

// DropStats counts rows excluded from a dataset, keyed by reason. The zero
// value is ready to use.
type DropStats struct {
	byReason map[string]int
}

// Add records one dropped row for the given reason.
func (s *DropStats) Add(reason string) {
	if s.byReason == nil {
		s.byReason = make(map[string]int)
	}

	s.byReason[reason]++
}

// AddN records n dropped rows for the given reason.
func (s *DropStats) AddN(reason string, n int) {
	if n <= 0 {
		return
	}

	if s.byReason == nil {
		s.byReason = make(map[string]int)
	}

	s.byReason[reason] += n
}

// Count returns the number of rows dropped for a reason.
func (s *DropStats) Count(reason string) int {
	return s.byReason[reason]
}

// Total returns the number of rows dropped across all reasons.
func (s *DropStats) Total() int {
	total := 0
	for _, n := range s.byReason {
		total += n
	}

	return total
}

// Merge folds other's counters into s.
func (s *DropStats) Merge(other *DropStats) {
	if other == nil {
		return
	}

	for reason, n := range other.byReason {
		s.AddN(reason, n)
	}
}

// ByReason returns a copy of the per-reason counters.
func (s *DropStats) ByReason() map[string]int {
	out := make(map[string]int, len(s.byReason))
	for reason, n := range s.byReason {
		out[reason] = n
	}

	return out
}
