package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrUnparseableDate is returned when a date string matches none of the
// accepted formats.
var ErrUnparseableDate = errors.New("unparseable date")

// DateOrder controls how ambiguous delimited dates such as "04/10/2024" are
// disambiguated. The source extracts are day-first, so DayFirst is the
// default; the order is configurable but never silently changed.
type DateOrder int

// Supported disambiguation orders.
const (
	DayFirst DateOrder = iota
	MonthFirst
)

// String returns the order name used in manifests and logs.
func (o DateOrder) String() string {
	if o == MonthFirst {
		return "mdy"
	}

	return "dmy"
}

// ParseDateOrder parses a manifest value ("dmy" or "mdy") into a DateOrder.
func ParseDateOrder(s string) (DateOrder, error) {
	switch s {
	case "", "dmy":
		return DayFirst, nil
	case "mdy":
		return MonthFirst, nil
	}

	return DayFirst, fmt.Errorf("invalid date order %q (want dmy or mdy)", s)
}

// Delimited layouts tried in order after the compact numeric forms. Day-first
// layouts precede their month-first counterparts; MonthFirst swaps each
// ambiguous pair.
var (
	dayFirstLayouts = []string{
		"2006-01-02",
		"02/01/2006",
		"01/02/2006",
		"02-01-2006",
		"01-02-2006",
		"2006/01/02",
		"02/01/06",
		"01/02/06",
		"02.01.2006",
		"01.02.2006",
		"2006.01.02",
	}

	monthFirstLayouts = []string{
		"2006-01-02",
		"01/02/2006",
		"02/01/2006",
		"01-02-2006",
		"02-01-2006",
		"2006/01/02",
		"01/02/06",
		"02/01/06",
		"01.02.2006",
		"02.01.2006",
		"2006.01.02",
	}
)

// ParseFlexibleDate parses the date formats observed in market extracts.
//
// Purely numeric strings are interpreted by length first:
//   - 4 digits:  YYMM, day implied as 1 ("2410" is 2024-10-01)
//   - 6 digits:  YYMMDD, falling back to YYYYMM with day 1
//   - 8 digits:  YYYYMMDD
//
// Anything else is tried against an ordered list of delimited layouts; the
// first match wins. Two-digit years map to 2000+YY. Returns a UTC date
// (midnight) or ErrUnparseableDate.
func ParseFlexibleDate(s string, order DateOrder) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnparseableDate)
	}

	if isAllDigits(s) {
		if d, ok := parseCompactDate(s); ok {
			return d, nil
		}

		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDate, s)
	}

	layouts := dayFirstLayouts
	if order == MonthFirst {
		layouts = monthFirstLayouts
	}

	for _, layout := range layouts {
		if d, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return d, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDate, s)
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return len(s) > 0
}

// parseCompactDate interprets undelimited numeric dates by length.
func parseCompactDate(s string) (time.Time, bool) {
	switch len(s) {
	case 4: // YYMM, day 1
		yy, _ := strconv.Atoi(s[:2])
		mm, _ := strconv.Atoi(s[2:])

		return makeDate(2000+yy, mm, 1)

	case 6: // YYMMDD, then YYYYMM with day 1
		yy, _ := strconv.Atoi(s[:2])
		mm, _ := strconv.Atoi(s[2:4])
		dd, _ := strconv.Atoi(s[4:])

		if d, ok := makeDate(2000+yy, mm, dd); ok {
			return d, true
		}

		yyyy, _ := strconv.Atoi(s[:4])
		mm, _ = strconv.Atoi(s[4:])

		return makeDate(yyyy, mm, 1)

	case 8: // YYYYMMDD
		yyyy, _ := strconv.Atoi(s[:4])
		mm, _ := strconv.Atoi(s[4:6])
		dd, _ := strconv.Atoi(s[6:])

		return makeDate(yyyy, mm, dd)
	}

	return time.Time{}, false
}

// makeDate builds a UTC date, rejecting out-of-range components. time.Date
// normalizes overflow (month 13 → January), which would silently accept
// garbage, so components are validated against the round trip.
func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}

	return d, true
}
