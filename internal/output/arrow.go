package output

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/labstack/gommon/log"
	"github.com/valyala/bytebufferpool"
	"github.com/zeebo/xxh3"

	"popextract/internal/engine"
	"popextract/internal/models"
)

// ArrowSchema is the columnar form of an accumulator: one row per (year, age).
var ArrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "year", Type: arrow.PrimitiveTypes.Int32},
	{Name: "age_group", Type: arrow.BinaryTypes.String},
	{Name: "male", Type: arrow.PrimitiveTypes.Float64},
	{Name: "female", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ArrowWriter persists each country as an Arrow IPC file.
type ArrowWriter struct {
	layout   *Layout
	manifest *Manifest
	mem      memory.Allocator
	log      *log.Logger
}

func NewArrowWriter(layout *Layout, manifest *Manifest, logger *log.Logger) *ArrowWriter {
	if logger == nil {
		logger = log.New("output")
	}
	return &ArrowWriter{layout: layout, manifest: manifest, mem: memory.NewGoAllocator(), log: logger}
}

var _ engine.Sink = (*ArrowWriter)(nil)

func (w *ArrowWriter) Persist(ctx context.Context, c engine.Country, acc engine.Accumulator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := w.layout.Rel(c.Code, "arrow")
	if err != nil {
		return err
	}

	rec, err := w.record(acc)
	if err != nil {
		return fmt.Errorf("arrow %s: %w", c.Code, err)
	}
	defer rec.Release()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	fw, err := ipc.NewFileWriter(buf, ipc.WithSchema(ArrowSchema), ipc.WithAllocator(w.mem))
	if err != nil {
		return err
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("arrow %s: %w", c.Code, err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("arrow %s: %w", c.Code, err)
	}

	path := filepath.Join(w.layout.Root(), rel)
	if err := writeFileAtomic(path, buf.B, 0o644); err != nil {
		return fmt.Errorf("persist %s: %w", c.Code, err)
	}
	digest := fmt.Sprintf("%016x", xxh3.Hash(buf.B))
	w.log.Debugf("wrote %s (%d rows)", path, rec.NumRows())
	w.manifest.attach(c.Code, models.Artifact{Format: "arrow", Path: filepath.ToSlash(rel), Bytes: buf.Len(), XXH3: digest})
	return nil
}

// record flattens acc ordered by year, then age key.
func (w *ArrowWriter) record(acc engine.Accumulator) (arrow.Record, error) {
	b := array.NewRecordBuilder(w.mem, ArrowSchema)
	defer b.Release()

	years := b.Field(0).(*array.Int32Builder)
	ages := b.Field(1).(*array.StringBuilder)
	males := b.Field(2).(*array.Float64Builder)
	females := b.Field(3).(*array.Float64Builder)

	for _, y := range acc.Years() {
		yr, err := strconv.Atoi(strings.TrimSpace(y))
		if err != nil {
			return nil, err
		}
		bucket := acc[y]
		for _, age := range bucket.Ages() {
			p := bucket[age]
			years.Append(int32(yr))
			ages.Append(age)
			males.Append(p.Male())
			females.Append(p.Female())
		}
	}
	return b.NewRecord(), nil
}
