package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
)

const (
	summaryCategoricalColumns = 3
	summaryTopValues          = 5
)

// MetricSummary holds the summary numerics of one column.
type MetricSummary struct {
	Column string  `json:"column"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	Std    float64 `json:"std"`
	Count  int     `json:"count"`
}

// SummarizeMetrics computes MetricSummary for each column of ds in cols. Missing
// columns are skipped.
func SummarizeMetrics(ds *dataset.Dataset, cols []string) []MetricSummary {
	out := []MetricSummary{}
	for _, c := range cols {
		if !ds.Has(c) {
			continue
		}
		s := dataset.Describe(ds.Column(c))
		out = append(out, MetricSummary{Column: c, Total: s.Total, Mean: s.Mean, Max: s.Max, Min: s.Min, Std: s.Std, Count: s.Count})
	}
	return out
}

// DateSpan is the covered date range of a column.
type DateSpan struct {
	Column string    `json:"column"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Days   int       `json:"days"`
}

// Span returns the date range of col, counting distinct calendar days.
func Span(ds *dataset.Dataset, col string) *DateSpan {
	vals := ds.Column(col)
	lo, hi, ok := dataset.TimeRange(vals)
	if !ok {
		return nil
	}
	days := map[string]bool{}
	for _, v := range vals {
		if t, isTime := v.(time.Time); isTime {
			days[t.Format("2006-01-02")] = true
		}
	}
	return &DateSpan{Column: col, Start: lo, End: hi, Days: len(days)}
}

// CategoricalSummary lists the most frequent values of a column.
type CategoricalSummary struct {
	Column   string                  `json:"column"`
	Distinct int                     `json:"distinct"`
	Top      []dataset.CategoryCount `json:"top"`
}

// DataSummary describes a classified dataset for display and prompts.
type DataSummary struct {
	Name        string               `json:"name"`
	Records     int                  `json:"total_records"`
	Columns     []string             `json:"available_columns"`
	Meta        *classify.Metadata   `json:"column_metadata"`
	DateRange   *DateSpan            `json:"date_range,omitempty"`
	Numeric     []MetricSummary      `json:"numeric_summary"`
	Categorical []CategoricalSummary `json:"categorical_summary"`
}

// Summarize describes ds: size, schema, date range of the first date
// column, numerics for numeric, quality and efficiency measures, and the top
// values of the first categorical columns.
func Summarize(ds *dataset.Dataset, meta *classify.Metadata) DataSummary {
	meta = metaFor(ds, meta)
	s := DataSummary{
		Name:        ds.Name,
		Records:     ds.Len(),
		Columns:     append([]string(nil), ds.Columns...),
		Meta:        meta,
		Categorical: []CategoricalSummary{},
	}
	if col := firstPresent(ds, meta.DateColumns()); col != "" {
		s.DateRange = Span(ds, col)
	}
	s.Numeric = SummarizeMetrics(ds, meta.Of(classify.NumericMeasure, classify.QualityMeasure, classify.EfficiencyMeasure))
	cats := meta.CategoricalColumns()
	if len(cats) > summaryCategoricalColumns {
		cats = cats[:summaryCategoricalColumns]
	}
	for _, c := range cats {
		vals := ds.Column(c)
		s.Categorical = append(s.Categorical, CategoricalSummary{
			Column:   c,
			Distinct: dataset.Distinct(vals),
			Top:      dataset.TopValues(vals, summaryTopValues),
		})
	}
	return s
}

// Markdown renders the summary as the bracketed context block used in
// prompts and CLI output.
func (s DataSummary) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if s.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", s.Name)
	}
	fmt.Fprintf(&b, "Records: %d\n", s.Records)
	fmt.Fprintf(&b, "Columns: %d\n", len(s.Columns))
	if s.DateRange != nil {
		fmt.Fprintf(&b, "Date range (%s): %s to %s (%d days)\n", s.DateRange.Column,
			s.DateRange.Start.Format("2006-01-02"), s.DateRange.End.Format("2006-01-02"), s.DateRange.Days)
	}

	b.WriteString("\n[SCHEMA]\n")
	for _, c := range s.Columns {
		cat := classify.Other
		if s.Meta != nil {
			cat, _ = s.Meta.Category(c)
		}
		fmt.Fprintf(&b, "- %s: %s\n", c, cat)
	}
	if len(s.Numeric) > 0 {
		b.WriteString("\n[NUMERIC]\n")
		for _, m := range s.Numeric {
			fmt.Fprintf(&b, "- %s: total=%s mean=%s min=%s max=%s std=%s\n", m.Column,
				num(m.Total), num(m.Mean), num(m.Min), num(m.Max), num(m.Std))
		}
	}
	if len(s.Categorical) > 0 {
		b.WriteString("\n[CATEGORICAL]\n")
		for _, c := range s.Categorical {
			parts := make([]string, len(c.Top))
			for i, v := range c.Top {
				parts[i] = fmt.Sprintf("%s (%d)", v.Value, v.Count)
			}
			fmt.Fprintf(&b, "- %s (%d distinct): %s\n", c.Column, c.Distinct, strings.Join(parts, ", "))
		}
	}
	return b.String()
}

func num(f float64) string { return fmt.Sprintf("%.2f", f) }
