package engine

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/charmap"
)

// RowSource yields rows in input order and io.EOF when exhausted.
type RowSource interface {
	Next() (Row, error)
}

var ErrNoHeader = errors.New("input has no header row")

// Reader streams rows from a Latin-1 encoded CSV table.
type Reader struct {
	csv    *csv.Reader
	closer io.Closer
	Header []string
}

// NewReader decodes r as Latin-1 and consumes the header row.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(bufio.NewReaderSize(r, 1<<20)))
	cr.FieldsPerRecord = -1 // short rows are reported as MalformedRowError
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return &Reader{csv: cr, Header: append([]string(nil), header...)}, nil
}

// Open opens path for reading. "-" reads standard input.
func Open(path string) (*Reader, error) {
	if path == "-" {
		return NewReader(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// Next returns the next data row.
func (r *Reader) Next() (Row, error) {
	record, err := r.csv.Read()
	if err != nil {
		if err == io.EOF {
			return Row{}, io.EOF
		}
		return Row{}, fmt.Errorf("read row: %w", err)
	}
	line, _ := r.csv.FieldPos(0)
	return NewRow(line, record)
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// SliceSource replays rows already in memory.
type SliceSource struct {
	rows []Row
	pos  int
}

func NewSliceSource(rows []Row) *SliceSource { return &SliceSource{rows: rows} }

func (s *SliceSource) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return Row{}, io.EOF
	}
	r := s.rows[s.pos]
	s.pos++
	if r.Line == 0 {
		r.Line = s.pos + 1
	}
	return r, nil
}
