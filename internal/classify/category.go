// Package classify assigns each column of a dataset one semantic category and
// coerces the values to match.
package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KaramelBytes/tabloom/internal/dataset"
)

// Category is the inferred business meaning of a column.
type Category string

const (
	Date              Category = "date"
	NumericMeasure    Category = "numeric_measure"
	QualityMeasure    Category = "quality_measure"
	EfficiencyMeasure Category = "efficiency_measure"
	TimeMeasure       Category = "time_measure"
	Categorical       Category = "categorical"
	Identifier        Category = "identifier"
	Other             Category = "other"
)

// Categories lists every category literal.
var Categories = []Category{
	Date, NumericMeasure, QualityMeasure, EfficiencyMeasure, TimeMeasure, Categorical, Identifier, Other,
}

// ParseCategory accepts a literal case-insensitively.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Valid reports whether c is one of the eight literals.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Numeric reports whether columns of c hold float64 values after coercion.
func (c Category) Numeric() bool {
	switch c {
	case NumericMeasure, QualityMeasure, EfficiencyMeasure, TimeMeasure:
		return true
	}
	return false
}

// Metadata maps every column to exactly one Category, in column order.
// Views are computed from the mapping on each call. Metadata is never
// mutated after construction; With returns a copy.
type Metadata struct {
	columns []string
	cats    map[string]Category
}

// NewMetadata validates that every column has one valid category.
func NewMetadata(columns []string, cats map[string]Category) (*Metadata, error) {
	m := &Metadata{columns: append([]string(nil), columns...), cats: make(map[string]Category, len(columns))}
	for _, c := range columns {
		cat, ok := cats[c]
		if !ok {
			return nil, fmt.Errorf("column %q has no category", c)
		}
		if !cat.Valid() {
			return nil, fmt.Errorf("column %q: unknown category %q", c, cat)
		}
		if _, dup := m.cats[c]; dup {
			return nil, fmt.Errorf("column %q listed twice", c)
		}
		m.cats[c] = cat
	}
	return m, nil
}

// Columns returns the classified columns in dataset order.
func (m *Metadata) Columns() []string { return append([]string(nil), m.columns...) }

// Category returns the category of col, or Other with false when unknown.
func (m *Metadata) Category(col string) (Category, bool) {
	c, ok := m.cats[col]
	if !ok {
		return Other, false
	}
	return c, true
}

// Is reports whether col is classified as c.
func (m *Metadata) Is(col string, c Category) bool {
	got, ok := m.cats[col]
	return ok && got == c
}

// Of returns the columns classified as any of cs, in column order.
func (m *Metadata) Of(cs ...Category) []string {
	var out []string
	for _, col := range m.columns {
		for _, c := range cs {
			if m.cats[col] == c {
				out = append(out, col)
				break
			}
		}
	}
	return out
}

func (m *Metadata) DateColumns() []string        { return m.Of(Date) }
func (m *Metadata) NumericMeasures() []string    { return m.Of(NumericMeasure) }
func (m *Metadata) QualityMeasures() []string    { return m.Of(QualityMeasure) }
func (m *Metadata) EfficiencyMeasures() []string { return m.Of(EfficiencyMeasure) }
func (m *Metadata) TimeMeasures() []string       { return m.Of(TimeMeasure) }
func (m *Metadata) CategoricalColumns() []string { return m.Of(Categorical) }
func (m *Metadata) Identifiers() []string        { return m.Of(Identifier) }
func (m *Metadata) Others() []string             { return m.Of(Other) }

// Numeric returns every column in one of the four numeric categories.
func (m *Metadata) Numeric() []string {
	return m.Of(NumericMeasure, QualityMeasure, EfficiencyMeasure, TimeMeasure)
}

// With returns a copy with col set to c, appending col when it is new.
func (m *Metadata) With(col string, c Category) *Metadata {
	out := &Metadata{columns: append([]string(nil), m.columns...), cats: make(map[string]Category, len(m.cats)+1)}
	for k, v := range m.cats {
		out.cats[k] = v
	}
	if _, ok := out.cats[col]; !ok {
		out.columns = append(out.columns, col)
	}
	out.cats[col] = c
	return out
}

// Retain returns a copy restricted to the columns of ds, in ds order.
func (m *Metadata) Retain(ds *dataset.Dataset) *Metadata {
	out := &Metadata{cats: map[string]Category{}}
	for _, col := range ds.Columns {
		if c, ok := m.cats[col]; ok {
			out.columns = append(out.columns, col)
			out.cats[col] = c
		}
	}
	return out
}

// Validate checks that m covers exactly the columns of ds.
func (m *Metadata) Validate(ds *dataset.Dataset) error {
	if len(m.columns) != len(ds.Columns) {
		return fmt.Errorf("metadata has %d columns, dataset has %d", len(m.columns), len(ds.Columns))
	}
	for _, col := range ds.Columns {
		if _, ok := m.cats[col]; !ok {
			return fmt.Errorf("column %q has no category", col)
		}
	}
	return nil
}

// Mapping returns a copy of the column to category map.
func (m *Metadata) Mapping() map[string]Category {
	out := make(map[string]Category, len(m.cats))
	for k, v := range m.cats {
		out[k] = v
	}
	return out
}

type metadataJSON struct {
	ColumnMapping      map[string]Category `json:"column_mapping"`
	DateColumns        []string            `json:"date_columns"`
	NumericMeasures    []string            `json:"numeric_measures"`
	QualityMeasures    []string            `json:"quality_measures"`
	EfficiencyMeasures []string            `json:"efficiency_measures"`
	TimeMeasures       []string            `json:"time_measures"`
	CategoricalColumns []string            `json:"categorical_columns"`
	Identifiers        []string            `json:"identifiers"`
}

// MarshalJSON renders the mapping plus the per-category views.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	nz := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return s
	}
	return json.Marshal(metadataJSON{
		ColumnMapping:      m.Mapping(),
		DateColumns:        nz(m.DateColumns()),
		NumericMeasures:    nz(m.NumericMeasures()),
		QualityMeasures:    nz(m.QualityMeasures()),
		EfficiencyMeasures: nz(m.EfficiencyMeasures()),
		TimeMeasures:       nz(m.TimeMeasures()),
		CategoricalColumns: nz(m.CategoricalColumns()),
		Identifiers:        nz(m.Identifiers()),
	})
}
