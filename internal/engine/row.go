package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column positions of the WPP annual population table:
// LocID,Location,VarID,Variant,Time,AgeGrp,AgeGrpStart,AgeGrpSpan,PopMale,PopFemale,PopTotal
const (
	colCode = iota
	colName
	colVariantID   // ignored
	colVariantName // ignored
	colTime
	colAgeLabel
	colAgeStart
	colAgeSpan // ignored
	colMale
	colFemale
	colTotal // ignored

	NumColumns
)

// Row is one data line of the input. Numeric fields stay raw until the
// extractor decides it needs them.
type Row struct {
	Line     int
	Code     string
	Name     string
	Time     string
	AgeLabel string
	AgeStart string
	Male     string
	Female   string
}

// NewRow maps a positional record onto a Row.
func NewRow(line int, record []string) (Row, error) {
	if len(record) < NumColumns {
		return Row{}, &MalformedRowError{
			Line: line,
			Err:  fmt.Errorf("%w: got %d fields, want %d", ErrShortRow, len(record), NumColumns),
		}
	}
	return Row{
		Line:     line,
		Code:     record[colCode],
		Name:     record[colName],
		Time:     record[colTime],
		AgeLabel: record[colAgeLabel],
		AgeStart: record[colAgeStart],
		Male:     record[colMale],
		Female:   record[colFemale],
	}, nil
}

var ErrShortRow = errors.New("short row")

// MalformedRowError reports a row that could not be read. It aborts the run.
type MalformedRowError struct {
	Line  int
	Field string
	Err   error
}

func (e *MalformedRowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed row at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed row at line %d: field %s: %v", e.Line, e.Field, e.Err)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

func (r Row) year() (int, error) {
	y, err := strconv.Atoi(strings.TrimSpace(r.Time))
	if err != nil {
		return 0, &MalformedRowError{Line: r.Line, Field: "Time", Err: err}
	}
	return y, nil
}

var ErrNonFinite = errors.New("population is not a finite number")

func (r Row) count(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &MalformedRowError{Line: r.Line, Field: field, Err: err}
	}
	// NaN and Inf parse fine but cannot be written as JSON.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &MalformedRowError{Line: r.Line, Field: field, Err: fmt.Errorf("%w: %q", ErrNonFinite, raw)}
	}
	return v, nil
}

func (r Row) pair() (Pair, error) {
	m, err := r.count("PopMale", r.Male)
	if err != nil {
		return Pair{}, err
	}
	f, err := r.count("PopFemale", r.Female)
	if err != nil {
		return Pair{}, err
	}
	return Pair{m, f}, nil
}

// AgeKey selects which column names an age bucket.
type AgeKey string

const (
	AgeByLabel AgeKey = "label" // AgeGrp, e.g. "0-4" or "80+"
	AgeByStart AgeKey = "start" // AgeGrpStart, e.g. "0"
)

// Grouping selects how country runs are detected.
type Grouping string

const (
	// GroupAdjacent flushes whenever the country column changes.
	GroupAdjacent Grouping = "adjacent"
	// GroupCollect gathers every row of a country before persisting.
	GroupCollect Grouping = "grouped"
)

// AllCountries admits every country code.
const AllCountries = "*"

// Options control filtering and bucketing.
type Options struct {
	Country  string
	MinYear  int
	MaxYear  int
	AgeKey   AgeKey
	Grouping Grouping
	Workers  int
}

func (o Options) admits(code string) bool {
	return o.Country == "" || o.Country == AllCountries || code == o.Country
}

func (o Options) ageOf(r Row) string {
	if o.AgeKey == AgeByStart {
		return r.AgeStart
	}
	return r.AgeLabel
}

// accumulate applies the year filter and records r into acc.
// It reports whether the row was recorded.
func (o Options) accumulate(acc Accumulator, r Row) (bool, error) {
	y, err := r.year()
	if err != nil {
		return false, err
	}
	if y < o.MinYear || y > o.MaxYear {
		return false, nil
	}
	p, err := r.pair()
	if err != nil {
		return false, err
	}
	acc.Set(r.Time, o.ageOf(r), p)
	return true, nil
}
