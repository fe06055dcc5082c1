package export

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/utils"
)

// WriteJSON writes v to w as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	b, err := utils.PrettyJSON(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// Format is a dataset file format chosen by extension.
type Format string

const (
	FormatArrow   Format = "arrow"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// FormatFor maps a path's extension to a Format; unknown extensions are
// reported as not ok.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow", ".arrows", ".ipc":
		return FormatArrow, true
	case ".parquet", ".pq":
		return FormatParquet, true
	case ".json":
		return FormatJSON, true
	}
	return "", false
}

// WriteDataset writes ds in format f. JSON output is one object per row.
func WriteDataset(w io.Writer, f Format, ds *dataset.Dataset) error {
	switch f {
	case FormatArrow:
		return WriteArrow(w, ds)
	case FormatParquet:
		return WriteParquet(w, ds)
	case FormatJSON:
		return WriteJSON(w, ds.Records())
	}
	return fmt.Errorf("unsupported export format %q", f)
}
