package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/KaramelBytes/tabloom/internal/dataset"
)

// WriteParquet writes ds to w as a Snappy-compressed Parquet file. The Arrow
// schema is stored so timestamps and the dataset name survive a round trip.
func WriteParquet(w io.Writer, ds *dataset.Dataset, opts ...Option) error {
	o := newOptions(opts)
	rec, err := Record(ds, opts...)
	if err != nil {
		return err
	}
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(o.mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	fw, err := pqarrow.NewFileWriter(rec.Schema(), w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet reads a Parquet file held in b into a Dataset.
func ReadParquet(ctx context.Context, b []byte, opts ...Option) (*dataset.Dataset, error) {
	o := newOptions(opts)
	pf, err := file.NewParquetReader(bytes.NewReader(b), file.WithReadProps(parquet.NewReaderProperties(o.mem)))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, o.mem)
	if err != nil {
		return nil, fmt.Errorf("create arrow reader: %w", err)
	}
	table, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read parquet data: %w", err)
	}
	defer table.Release()

	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()
	var rows [][]dataset.Value
	for tr.Next() {
		rows = appendRows(rows, tr.Record())
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("read parquet table: %w", err)
	}
	return fromSchema(table.Schema(), rows)
}
