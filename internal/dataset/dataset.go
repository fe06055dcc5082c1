package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Value is a single cell. Only nil, string, float64, time.Time and bool are stored.
type Value = any

var (
	// ErrEmpty is returned when a source has a header but no data rows.
	ErrEmpty = errors.New("dataset has no rows")
	// ErrNoHeader is returned when a source has no readable header row.
	ErrNoHeader = errors.New("dataset has no header")
)

// Dataset is an ordered, row-major table with unique column names.
//
// A Dataset is treated as an immutable snapshot: methods that change shape or
// content return a new Dataset and never write through to the receiver. Row
// slices may be shared between snapshots, so callers must not modify them.
type Dataset struct {
	Name    string
	Columns []string
	Rows    [][]Value

	index map[string]int
}

// New validates columns and builds a Dataset. Short rows are padded with nil,
// long rows are truncated to the column count.
func New(name string, columns []string, rows [][]Value) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, ErrNoHeader
	}
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		if _, dup := idx[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		idx[c] = i
	}
	cols := append([]string(nil), columns...)
	norm := make([][]Value, len(rows))
	for i, r := range rows {
		if len(r) == len(cols) {
			norm[i] = r
			continue
		}
		row := make([]Value, len(cols))
		copy(row, r)
		norm[i] = row
	}
	return &Dataset{Name: name, Columns: cols, Rows: norm, index: idx}, nil
}

// MustNew is New for literals in tests and fixtures.
func MustNew(name string, columns []string, rows [][]Value) *Dataset {
	d, err := New(name, columns, rows)
	if err != nil {
		panic(err)
	}
	return d
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Index returns the position of col, or -1.
func (d *Dataset) Index(col string) int {
	if d == nil {
		return -1
	}
	if d.index == nil {
		for i, c := range d.Columns {
			if c == col {
				return i
			}
		}
		return -1
	}
	if i, ok := d.index[col]; ok {
		return i
	}
	return -1
}

// Has reports whether col exists.
func (d *Dataset) Has(col string) bool { return d.Index(col) >= 0 }

// Lookup finds a column by case-insensitive name and returns its real name.
func (d *Dataset) Lookup(name string) (string, bool) {
	if d.Has(name) {
		return name, true
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, c := range d.Columns {
		if strings.ToLower(c) == want {
			return c, true
		}
	}
	return "", false
}

// Column returns a copy of the values of col, or nil when missing.
func (d *Dataset) Column(col string) []Value {
	i := d.Index(col)
	if i < 0 {
		return nil
	}
	out := make([]Value, len(d.Rows))
	for r, row := range d.Rows {
		out[r] = row[i]
	}
	return out
}

// Get returns the value at row r of col.
func (d *Dataset) Get(r int, col string) Value {
	i := d.Index(col)
	if i < 0 || r < 0 || r >= len(d.Rows) {
		return nil
	}
	return d.Rows[r][i]
}

// Filter keeps rows for which keep returns true.
func (d *Dataset) Filter(keep func(row []Value) bool) *Dataset {
	rows := make([][]Value, 0, len(d.Rows))
	for _, row := range d.Rows {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	return d.derive(d.Columns, rows)
}

// Select projects the named columns in the given order. Unknown names are skipped.
func (d *Dataset) Select(cols []string) *Dataset {
	var names []string
	var pos []int
	seen := map[string]bool{}
	for _, c := range cols {
		i := d.Index(c)
		if i < 0 || seen[c] {
			continue
		}
		seen[c] = true
		names = append(names, c)
		pos = append(pos, i)
	}
	rows := make([][]Value, len(d.Rows))
	for r, row := range d.Rows {
		nr := make([]Value, len(pos))
		for j, p := range pos {
			nr[j] = row[p]
		}
		rows[r] = nr
	}
	return d.derive(names, rows)
}

// WithColumn returns a copy with col set to vals. An existing column is replaced
// in place, a new one is appended. vals shorter than the row count pad with nil.
func (d *Dataset) WithColumn(col string, vals []Value) *Dataset {
	cols := d.Columns
	i := d.Index(col)
	if i < 0 {
		cols = append(append([]string(nil), d.Columns...), col)
		i = len(cols) - 1
	}
	rows := make([][]Value, len(d.Rows))
	for r, row := range d.Rows {
		nr := make([]Value, len(cols))
		copy(nr, row)
		if r < len(vals) {
			nr[i] = vals[r]
		} else {
			nr[i] = nil
		}
		rows[r] = nr
	}
	return d.derive(cols, rows)
}

// Head returns the first n rows.
func (d *Dataset) Head(n int) *Dataset {
	if n < 0 || n >= len(d.Rows) {
		return d.derive(d.Columns, d.Rows)
	}
	return d.derive(d.Columns, d.Rows[:n:n])
}

// Records renders rows as column-keyed maps, mostly for JSON responses.
func (d *Dataset) Records() []map[string]Value {
	out := make([]map[string]Value, len(d.Rows))
	for r, row := range d.Rows {
		m := make(map[string]Value, len(d.Columns))
		for i, c := range d.Columns {
			m[c] = row[i]
		}
		out[r] = m
	}
	return out
}

func (d *Dataset) derive(cols []string, rows [][]Value) *Dataset {
	cp := append([]string(nil), cols...)
	idx := make(map[string]int, len(cp))
	for i, c := range cp {
		idx[c] = i
	}
	return &Dataset{Name: d.Name, Columns: cp, Rows: rows, index: idx}
}
