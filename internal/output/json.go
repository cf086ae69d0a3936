package output

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/labstack/gommon/log"
	"github.com/valyala/bytebufferpool"
	"github.com/zeebo/xxh3"

	"popextract/internal/engine"
	"popextract/internal/models"
)

// JSONWriter persists {"<year>": {"<age>": [male, female]}} per country.
// Map keys are emitted sorted, so identical input gives identical bytes.
type JSONWriter struct {
	layout   *Layout
	pretty   bool
	manifest *Manifest
	log      *log.Logger
}

func NewJSONWriter(layout *Layout, pretty bool, manifest *Manifest, logger *log.Logger) *JSONWriter {
	if logger == nil {
		logger = log.New("output")
	}
	return &JSONWriter{layout: layout, pretty: pretty, manifest: manifest, log: logger}
}

var _ engine.Sink = (*JSONWriter)(nil)

func (w *JSONWriter) Persist(ctx context.Context, c engine.Country, acc engine.Accumulator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := w.layout.Rel(c.Code, "json")
	if err != nil {
		return err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := Encode(buf, acc, w.pretty); err != nil {
		return fmt.Errorf("encode %s: %w", c.Code, err)
	}

	path := filepath.Join(w.layout.Root(), rel)
	if err := writeFileAtomic(path, buf.B, 0o644); err != nil {
		return fmt.Errorf("persist %s: %w", c.Code, err)
	}
	digest := fmt.Sprintf("%016x", xxh3.Hash(buf.B))
	w.log.Debugf("wrote %s (%d bytes, xxh3 %s)", path, buf.Len(), digest)
	w.manifest.attach(c.Code, models.Artifact{Format: "json", Path: filepath.ToSlash(rel), Bytes: buf.Len(), XXH3: digest})
	return nil
}

// Encode writes acc as a JSON object without a trailing newline.
func Encode(buf *bytebufferpool.ByteBuffer, acc engine.Accumulator, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if acc == nil {
		acc = engine.Accumulator{}
	}
	if pretty {
		data, err = json.MarshalIndent(acc, "", "  ")
	} else {
		data, err = json.Marshal(acc)
	}
	if err != nil {
		return err
	}
	_, err = buf.Write(data)
	return err
}
