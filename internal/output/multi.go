package output

import (
	"context"

	"popextract/internal/engine"
)

// Multi persists to every sink in order, stopping at the first error.
func Multi(sinks ...engine.Sink) engine.Sink {
	return engine.SinkFunc(func(ctx context.Context, c engine.Country, acc engine.Accumulator) error {
		for _, s := range sinks {
			if err := s.Persist(ctx, c, acc); err != nil {
				return err
			}
		}
		return nil
	})
}
