package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/KaramelBytes/tabloom/internal/dataset"
)

func sample() *dataset.Dataset {
	d := func(n int) time.Time { return time.Date(2024, 5, n, 0, 0, 0, 0, time.UTC) }
	return dataset.MustNew("sample", []string{"date", "line", "output", "ok", "mixed"}, [][]dataset.Value{
		{d(1), "L1", 10.5, true, 1.0},
		{d(2), nil, nil, false, "x"},
		{nil, "L2", 7.0, nil, nil},
	})
}

func TestRecordTypes(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec, err := Record(sample(), WithAllocator(mem))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	defer rec.Release()

	want := []arrow.DataType{Timestamp, arrow.BinaryTypes.String, arrow.PrimitiveTypes.Float64, arrow.FixedWidthTypes.Boolean, arrow.BinaryTypes.String}
	for i, f := range rec.Schema().Fields() {
		if !arrow.TypeEqual(f.Type, want[i]) {
			t.Errorf("field %s type = %s, want %s", f.Name, f.Type, want[i])
		}
	}
	if rec.NumRows() != 3 || rec.Column(2).NullN() != 1 || rec.Column(0).NullN() != 1 {
		t.Fatalf("rows=%d nulls=%d/%d", rec.NumRows(), rec.Column(2).NullN(), rec.Column(0).NullN())
	}
}

func TestArrowRoundTrip(t *testing.T) {
	src := sample()
	var buf bytes.Buffer
	if err := WriteArrow(&buf, src); err != nil {
		t.Fatalf("WriteArrow: %v", err)
	}
	got, err := ReadArrow(&buf)
	if err != nil {
		t.Fatalf("ReadArrow: %v", err)
	}
	if got.Name != "sample" || strings.Join(got.Columns, ",") != strings.Join(src.Columns, ",") || got.Len() != src.Len() {
		t.Fatalf("got %s %v rows=%d", got.Name, got.Columns, got.Len())
	}
	if !got.Get(0, "date").(time.Time).Equal(src.Get(0, "date").(time.Time)) {
		t.Fatalf("date = %v", got.Get(0, "date"))
	}
	if got.Get(0, "output") != 10.5 || got.Get(0, "ok") != true || got.Get(0, "mixed") != "1" {
		t.Fatalf("row 0 = %v", got.Rows[0])
	}
	for r := range src.Rows {
		for c, col := range src.Columns {
			if (src.Rows[r][c] == nil) != (got.Get(r, col) == nil) {
				t.Fatalf("null mismatch at %d/%s", r, col)
			}
		}
	}
}

func TestParquetRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteParquet(&buf, sample()); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	got, err := ReadParquet(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if got.Len() != 3 || got.Get(1, "output") != nil || got.Get(2, "line") != "L2" {
		t.Fatalf("rows = %v", got.Rows)
	}
	if ts, ok := got.Get(1, "date").(time.Time); !ok || !ts.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %#v", got.Get(1, "date"))
	}
}

func TestReadArrowRejectsGarbage(t *testing.T) {
	if _, err := ReadArrow(strings.NewReader("not arrow")); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := Record(nil); !errors.Is(err, dataset.ErrNoHeader) {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteDataset(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDataset(&buf, FormatJSON, sample()); err != nil {
		t.Fatal(err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, buf.String())
	}
	if len(rows) != 3 || rows[0]["line"] != "L1" {
		t.Fatalf("rows = %v", rows)
	}
	if err := WriteDataset(&buf, "xml", sample()); err == nil {
		t.Fatal("expected unsupported format error")
	}
	for path, want := range map[string]Format{"a.ARROW": FormatArrow, "b.parquet": FormatParquet, "c.json": FormatJSON} {
		if f, ok := FormatFor(path); !ok || f != want {
			t.Errorf("FormatFor(%q) = %q, %v", path, f, ok)
		}
	}
	if _, ok := FormatFor("d.csv"); ok {
		t.Error("csv is not an export format")
	}
}

func TestDecodeDispatchesOnExtension(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArrow(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	opt := dataset.DefaultOptions()
	opt.MaxRows = 2
	ds, err := Decode(context.Background(), "in.arrow", buf.Bytes(), opt)
	if err != nil {
		t.Fatalf("Decode arrow: %v", err)
	}
	if ds.Len() != 2 || ds.Name != "sample" {
		t.Fatalf("arrow dataset %q rows=%d", ds.Name, ds.Len())
	}
	ds, err = Decode(context.Background(), "in.csv", []byte("a,b\n1,x\n"), dataset.DefaultOptions())
	if err != nil || ds.Get(0, "a") != 1.0 {
		t.Fatalf("Decode csv: %v %v", ds, err)
	}
	if _, err := Decode(context.Background(), "in.json", []byte("[]"), opt); err == nil {
		t.Fatal("json input accepted")
	}
	if !Readable("x.parquet") || !Readable("x.xlsx") || Readable("x.json") {
		t.Fatal("Readable")
	}
}
