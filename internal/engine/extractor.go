package engine

import (
	"context"
	"io"

	"github.com/labstack/gommon/log"
)

// Sink persists a finished country run.
type Sink interface {
	Persist(ctx context.Context, c Country, acc Accumulator) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Country, acc Accumulator) error

func (f SinkFunc) Persist(ctx context.Context, c Country, acc Accumulator) error {
	return f(ctx, c, acc)
}

// Processor consumes a row source to the end.
type Processor interface {
	Process(ctx context.Context, src RowSource) (Summary, error)
}

// Summary counts what a run did.
type Summary struct {
	Rows        int      `json:"rows"`
	Matched     int      `json:"matched"`
	Accumulated int      `json:"accumulated"`
	Flushes     int      `json:"flushes"`
	Countries   []string `json:"countries"`
}

func (s *Summary) flushed(code string) {
	s.Flushes++
	for _, c := range s.Countries {
		if c == code {
			return
		}
	}
	s.Countries = append(s.Countries, code)
}

// Extractor groups rows by adjacency: a run ends when the country column
// changes. A nil active run is the Idle state.
type Extractor struct {
	opts    Options
	sink    Sink
	log     *log.Logger
	active  *run
	summary Summary
}

// New returns the processor selected by opts.Grouping.
func New(opts Options, sink Sink, logger *log.Logger) Processor {
	if opts.Grouping == GroupCollect {
		return NewAggregator(opts, sink, logger)
	}
	return NewExtractor(opts, sink, logger)
}

func NewExtractor(opts Options, sink Sink, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.New("engine")
	}
	return &Extractor{opts: opts, sink: sink, log: logger}
}

// OnRow advances the state machine by one row, flushing the previous run
// when r starts a new one.
func (e *Extractor) OnRow(ctx context.Context, r Row) error {
	e.summary.Rows++
	if !e.opts.admits(r.Code) {
		return nil
	}
	e.summary.Matched++

	if e.active == nil || e.active.country.Code != r.Code {
		if err := e.flush(ctx); err != nil {
			return err
		}
		e.active = newRun(r.Code, r.Name)
	}

	ok, err := e.opts.accumulate(e.active.acc, r)
	if err != nil {
		return err
	}
	if ok {
		e.summary.Accumulated++
	}
	return nil
}

// Close flushes the active run, if any, and returns to Idle.
func (e *Extractor) Close(ctx context.Context) error {
	return e.flush(ctx)
}

func (e *Extractor) flush(ctx context.Context) error {
	if e.active == nil {
		return nil
	}
	cur := e.active
	e.active = nil
	e.log.Infof("Saving %s (%s): %d years", cur.country.Code, cur.country.Name, len(cur.acc))
	if err := e.sink.Persist(ctx, cur.country, cur.acc); err != nil {
		return err
	}
	e.summary.flushed(cur.country.Code)
	return nil
}

// Process runs every row of src through OnRow and flushes at end of input.
func (e *Extractor) Process(ctx context.Context, src RowSource) (Summary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return e.summary, err
		}
		r, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return e.summary, err
		}
		if err := e.OnRow(ctx, r); err != nil {
			return e.summary, err
		}
	}
	err := e.Close(ctx)
	return e.summary, err
}
