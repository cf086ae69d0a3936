package engine

import (
	"context"
	"io"
	"runtime"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"
)

// Aggregator collects every matched row per country before persisting, so
// countries split across the input are merged instead of overwritten.
// Persisting runs in parallel across countries.
type Aggregator struct {
	opts Options
	sink Sink
	log  *log.Logger
}

func NewAggregator(opts Options, sink Sink, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New("engine")
	}
	return &Aggregator{opts: opts, sink: sink, log: logger}
}

func (a *Aggregator) Process(ctx context.Context, src RowSource) (Summary, error) {
	var sum Summary

	// 1. Group (order of first appearance)
	groups := make(map[string]*run)
	var order []string
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		r, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, err
		}
		sum.Rows++
		if !a.opts.admits(r.Code) {
			continue
		}
		sum.Matched++

		g, ok := groups[r.Code]
		if !ok {
			g = newRun(r.Code, r.Name)
			groups[r.Code] = g
			order = append(order, r.Code)
		}
		ok, err = a.opts.accumulate(g.acc, r)
		if err != nil {
			return sum, err
		}
		if ok {
			sum.Accumulated++
		}
	}

	// 2. Persist (each country has its own path)
	workers := a.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, code := range order {
		g := groups[code]
		eg.Go(func() error {
			a.log.Infof("Saving %s (%s): %d years", g.country.Code, g.country.Name, len(g.acc))
			return a.sink.Persist(egCtx, g.country, g.acc)
		})
	}
	if err := eg.Wait(); err != nil {
		return sum, err
	}
	sum.Flushes = len(order)
	sum.Countries = order
	return sum, nil
}
