// Package export converts datasets to and from Apache Arrow, and writes
// Arrow IPC streams, Parquet files and JSON.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/KaramelBytes/tabloom/internal/dataset"
)

// nameKey holds the dataset name in the schema metadata.
const nameKey = "tabloom.name"

// Timestamp is the Arrow type used for date columns.
var Timestamp = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

type options struct {
	mem memory.Allocator
}

// Option configures a writer or reader.
type Option func(*options)

// WithAllocator sets the Arrow allocator; the Go allocator is the default.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

func newOptions(opts []Option) options {
	o := options{mem: memory.NewGoAllocator()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Record builds an Arrow record from ds. Columns holding only numbers become
// float64, only dates timestamp[ms, UTC], only booleans bool; anything else,
// mixed columns included, is written as formatted text. Nil is null. The
// caller releases the record.
func Record(ds *dataset.Dataset, opts ...Option) (arrow.Record, error) {
	if ds == nil || len(ds.Columns) == 0 {
		return nil, dataset.ErrNoHeader
	}
	o := newOptions(opts)
	fields := make([]arrow.Field, len(ds.Columns))
	cols := make([]arrow.Array, len(ds.Columns))
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for i, name := range ds.Columns {
		vals := ds.Column(name)
		dt := columnType(vals)
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
		cols[i] = buildColumn(o.mem, dt, vals)
	}
	md := arrow.NewMetadata([]string{nameKey}, []string{ds.Name})
	schema := arrow.NewSchema(fields, &md)
	return array.NewRecord(schema, cols, int64(ds.Len())), nil
}

func columnType(vals []dataset.Value) arrow.DataType {
	var kind arrow.DataType
	for _, v := range vals {
		var dt arrow.DataType
		switch v.(type) {
		case nil:
			continue
		case float64:
			dt = arrow.PrimitiveTypes.Float64
		case time.Time:
			dt = Timestamp
		case bool:
			dt = arrow.FixedWidthTypes.Boolean
		default:
			return arrow.BinaryTypes.String
		}
		if kind == nil {
			kind = dt
		} else if !arrow.TypeEqual(kind, dt) {
			return arrow.BinaryTypes.String
		}
	}
	if kind == nil {
		return arrow.BinaryTypes.String
	}
	return kind
}

func buildColumn(mem memory.Allocator, dt arrow.DataType, vals []dataset.Value) arrow.Array {
	switch dt.ID() {
	case arrow.FLOAT64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range vals {
			if f, ok := v.(float64); ok {
				b.Append(f)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()
	case arrow.TIMESTAMP:
		b := array.NewTimestampBuilder(mem, Timestamp)
		defer b.Release()
		for _, v := range vals {
			if t, ok := v.(time.Time); ok {
				b.Append(arrow.Timestamp(t.UnixMilli()))
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()
	case arrow.BOOL:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range vals {
			if x, ok := v.(bool); ok {
				b.Append(x)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()
	}
	b := array.NewStringBuilder(mem)
	defer b.Release()
	for _, v := range vals {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(dataset.Format(v))
	}
	return b.NewArray()
}

// WriteArrow writes ds to w as an Arrow IPC stream with a single record batch.
func WriteArrow(w io.Writer, ds *dataset.Dataset, opts ...Option) error {
	o := newOptions(opts)
	rec, err := Record(ds, opts...)
	if err != nil {
		return err
	}
	defer rec.Release()
	iw := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(o.mem))
	if err := iw.Write(rec); err != nil {
		_ = iw.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("close arrow stream: %w", err)
	}
	return nil
}

// ReadArrow reads an Arrow IPC stream into a Dataset. All record batches are
// concatenated; the dataset is named from the schema metadata when present.
func ReadArrow(r io.Reader, opts ...Option) (*dataset.Dataset, error) {
	o := newOptions(opts)
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(o.mem))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()

	schema := rdr.Schema()
	var rows [][]dataset.Value
	for rdr.Next() {
		rows = appendRows(rows, rdr.Record())
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return fromSchema(schema, rows)
}

func fromSchema(schema *arrow.Schema, rows [][]dataset.Value) (*dataset.Dataset, error) {
	cols := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = f.Name
	}
	name := ""
	if i := schema.Metadata().FindKey(nameKey); i >= 0 {
		name = schema.Metadata().Values()[i]
	}
	ds, err := dataset.New(name, cols, rows)
	if err != nil {
		return nil, err
	}
	if ds.Len() == 0 {
		return nil, dataset.ErrEmpty
	}
	return ds, nil
}

func appendRows(rows [][]dataset.Value, rec arrow.Record) [][]dataset.Value {
	n := int(rec.NumRows())
	start := len(rows)
	for r := 0; r < n; r++ {
		rows = append(rows, make([]dataset.Value, rec.NumCols()))
	}
	for c, col := range rec.Columns() {
		for r := 0; r < n; r++ {
			rows[start+r][c] = cell(col, r)
		}
	}
	return rows
}

// cell converts one Arrow value to a dataset Value. Integers and floats
// become float64, dates and timestamps time.Time in UTC.
func cell(col arrow.Array, i int) dataset.Value {
	if col.IsNull(i) {
		return nil
	}
	switch a := col.(type) {
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Int64:
		return float64(a.Value(i))
	case *array.Int32:
		return float64(a.Value(i))
	case *array.Int16:
		return float64(a.Value(i))
	case *array.Int8:
		return float64(a.Value(i))
	case *array.Uint64:
		return float64(a.Value(i))
	case *array.Uint32:
		return float64(a.Value(i))
	case *array.Uint16:
		return float64(a.Value(i))
	case *array.Uint8:
		return float64(a.Value(i))
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return strings.Clone(a.Value(i))
	case *array.LargeString:
		return strings.Clone(a.Value(i))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	case *array.Date64:
		return a.Value(i).ToTime().UTC()
	}
	return col.ValueStr(i)
}
