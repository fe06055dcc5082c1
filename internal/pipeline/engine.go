package pipeline

import (
	"context"
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/instruction"
	"github.com/KaramelBytes/tabloom/internal/logging"
)

// ErrBlocked is returned when a safety-block instruction is run.
var ErrBlocked = errors.New("instruction is a safety block")

// Outcome is the result of one analysis run.
type Outcome struct {
	Instruction instruction.Instruction `json:"instruction"`
	Records     int                     `json:"records_analyzed"`
	NoRows      bool                    `json:"no_rows"`
	Metrics     []string                `json:"metrics"`
	Summary     []MetricSummary         `json:"metrics_summary"`
	DateRange   *DateSpan               `json:"date_range,omitempty"`
	Chart       ChartSeries             `json:"chart"`

	Filtered   FilterResult     `json:"-"`
	Aggregated AggregatedResult `json:"-"`
}

// Engine runs instructions against classified datasets. It holds no state
// besides its logger and is safe for concurrent use.
type Engine struct {
	logger log.Logger
}

func NewEngine(logger log.Logger) *Engine {
	return &Engine{logger: logging.OrNop(logger)}
}

// Run filters, derives, aggregates and charts ds for inst, in that order.
// A filter that removes every row is reported with NoRows, not an error.
func (e *Engine) Run(ctx context.Context, ds *dataset.Dataset, meta *classify.Metadata, inst instruction.Instruction) (*Outcome, error) {
	if ds == nil {
		return nil, dataset.ErrEmpty
	}
	if inst.Blocked() {
		return nil, ErrBlocked
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta = metaFor(ds, meta)
	metrics := inst.Metrics
	if inst.PrimaryMetric != "" {
		metrics = append([]string{inst.PrimaryMetric}, metrics...)
	}

	rows := FilterRows(ds, meta, inst.Filters)
	level.Debug(e.logger).Log("msg", "filter", "rows_in", ds.Len(), "rows_out", rows.Len())
	derived, dmeta := DeriveMetrics(rows, meta)
	level.Debug(e.logger).Log("msg", "derive", "columns_in", len(rows.Columns), "columns_out", len(derived.Columns))
	filtered := Project(derived, dmeta, metrics)
	level.Debug(e.logger).Log("msg", "project", "columns", len(filtered.Data.Columns), "metrics", len(filtered.Metrics))

	out := &Outcome{
		Instruction: inst,
		Records:     filtered.Data.Len(),
		Metrics:     filtered.Metrics,
		Filtered:    filtered,
		Summary:     SummarizeMetrics(filtered.Data, summaryColumns(filtered)),
		Chart:       ChartSeries{Points: []Point{}, ChartType: inst.ChartType, Title: inst.Title},
	}
	if col := firstPresent(filtered.Data, filtered.Meta.DateColumns()); col != "" {
		out.DateRange = Span(filtered.Data, col)
	}
	if filtered.Data.Len() == 0 {
		out.NoRows = true
		level.Debug(e.logger).Log("msg", "no rows matched", "filters", len(inst.Filters.Families()))
		return out, nil
	}

	agg := Aggregate(filtered.Data, filtered.Meta, inst.Grouping, inst.Calculations)
	level.Debug(e.logger).Log("msg", "aggregate", "grouping", inst.Grouping, "grouped", agg.Grouped, "rows", agg.Data.Len())
	out.Aggregated = agg
	if inst.ChartType != instruction.NoChart {
		out.Chart = PrepareChart(agg, inst)
		level.Debug(e.logger).Log("msg", "chart", "x", out.Chart.XAxis, "y", out.Chart.YAxis, "points", len(out.Chart.Points))
	}
	return out, nil
}

// summaryColumns is the requested metrics followed by the remaining source
// numeric and quality measures.
func summaryColumns(f FilterResult) []string {
	cols := append([]string(nil), f.Metrics...)
	seen := map[string]bool{}
	for _, c := range cols {
		seen[c] = true
	}
	for _, c := range f.Meta.Of(classify.NumericMeasure, classify.QualityMeasure) {
		if !seen[c] && !isDerived(c) {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return cols
}
