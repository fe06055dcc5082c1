package pipeline

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/instruction"
)

// Point is one chart datum.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ChartSeries is a renderer-agnostic chart. No points means no chart.
type ChartSeries struct {
	Points    []Point               `json:"points"`
	XAxis     string                `json:"x_axis"`
	YAxis     string                `json:"y_axis"`
	ChartType instruction.ChartKind `json:"chart_type"`
	Title     string                `json:"title"`
}

// Empty reports whether there is nothing to draw.
func (c ChartSeries) Empty() bool { return len(c.Points) == 0 }

// PrepareChart picks the axes for res and turns its rows into points.
// Rankings are sorted by value and cut to the instruction's limit.
func PrepareChart(res AggregatedResult, inst instruction.Instruction) ChartSeries {
	out := ChartSeries{Points: []Point{}, ChartType: inst.ChartType, Title: inst.Title}
	ds := res.Data
	if ds == nil || len(ds.Columns) == 0 {
		return out
	}
	out.XAxis = xAxis(res)
	out.YAxis = yAxis(ds, out.XAxis, inst)
	if ds.Len() == 0 {
		return out
	}
	xi, yi := ds.Index(out.XAxis), ds.Index(out.YAxis)
	for _, row := range ds.Rows {
		p := Point{Label: label(row[xi])}
		if yi >= 0 {
			p.Value, _ = dataset.Float(row[yi])
		}
		out.Points = append(out.Points, p)
	}
	if inst.AnalysisType == instruction.Ranking {
		desc := inst.Descending()
		sort.SliceStable(out.Points, func(a, b int) bool {
			if desc {
				return out.Points[a].Value > out.Points[b].Value
			}
			return out.Points[a].Value < out.Points[b].Value
		})
		if n := inst.Limit(); n > 0 && len(out.Points) > n {
			out.Points = out.Points[:n]
		}
	}
	return out
}

func xAxis(res AggregatedResult) string {
	ds := res.Data
	if res.Grouped && res.GroupColumn != "" && ds.Has(res.GroupColumn) {
		return res.GroupColumn
	}
	for _, c := range ds.Columns {
		if !floatColumn(ds.Column(c)) {
			return c
		}
	}
	return ds.Columns[0]
}

// yAxis returns the first requested metric in ds, matched exactly or as
// <metric>_<op>, else the first numeric column other than x.
func yAxis(ds *dataset.Dataset, x string, inst instruction.Instruction) string {
	metrics := inst.Metrics
	if inst.PrimaryMetric != "" {
		metrics = append([]string{inst.PrimaryMetric}, metrics...)
	}
	for _, m := range metrics {
		if col, ok := ds.Lookup(m); ok && col != x {
			return col
		}
		for _, op := range []instruction.Op{instruction.Sum, instruction.Mean, instruction.Max, instruction.Min, instruction.Count} {
			if col, ok := ds.Lookup(m + "_" + string(op)); ok && col != x {
				return col
			}
		}
	}
	for _, c := range ds.Columns {
		if c != x && floatColumn(ds.Column(c)) {
			return c
		}
	}
	return ""
}

func label(v dataset.Value) string {
	switch x := v.(type) {
	case time.Time:
		return x.Format("2006-01-02")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return strings.TrimSpace(x)
	}
	return dataset.Format(v)
}
