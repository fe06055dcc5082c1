package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/tabloom/internal/dataset"
)

// Readable reports whether Decode can read a file with this name.
func Readable(name string) bool {
	if dataset.Supported(name) {
		return true
	}
	f, ok := FormatFor(name)
	return ok && f != FormatJSON
}

// Decode reads CSV, TSV, XLSX, Arrow IPC or Parquet content, chosen by the
// extension of name. opt.MaxRows also caps Arrow and Parquet input.
func Decode(ctx context.Context, name string, b []byte, opt dataset.Options) (*dataset.Dataset, error) {
	f, ok := FormatFor(name)
	if !ok || f == FormatJSON {
		if !dataset.Supported(name) {
			return nil, fmt.Errorf("unsupported file type %q", strings.ToLower(filepath.Ext(name)))
		}
		return dataset.Decode(name, b, opt)
	}
	var (
		ds  *dataset.Dataset
		err error
	)
	if f == FormatArrow {
		ds, err = ReadArrow(bytes.NewReader(b))
	} else {
		ds, err = ReadParquet(ctx, b)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if ds.Name == "" {
		ds.Name = name
	}
	if opt.MaxRows > 0 {
		ds = ds.Head(opt.MaxRows)
	}
	return ds, nil
}

// Load reads path with Decode.
func Load(ctx context.Context, path string, opt dataset.Options) (*dataset.Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return Decode(ctx, filepath.Base(path), b, opt)
}
