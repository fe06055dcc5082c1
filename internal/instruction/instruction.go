// Package instruction defines the analysis plan that drives the pipeline, its
// defaults, and the ways to obtain one: decoding model output, a keyword
// fallback, or a safety block.
package instruction

import (
	"strings"
)

// Kind is the analysis kind.
type Kind string

const (
	Ranking      Kind = "ranking"
	Trend        Kind = "trend"
	Comparison   Kind = "comparison"
	Summary      Kind = "summary"
	Correlation  Kind = "correlation"
	Distribution Kind = "distribution"
	SafetyBlock  Kind = "safety-block"
)

// ChartKind is the requested chart.
type ChartKind string

const (
	Line    ChartKind = "line"
	Bar     ChartKind = "bar"
	Scatter ChartKind = "scatter"
	Pie     ChartKind = "pie"
	Heatmap ChartKind = "heatmap"
	NoChart ChartKind = "none"
)

// Op is a reduction applied during aggregation.
type Op string

const (
	Sum   Op = "sum"
	Mean  Op = "mean"
	Max   Op = "max"
	Min   Op = "min"
	Count Op = "count"
)

// Grouping keys with special meaning. Any other value names a column.
const (
	GroupNone     = "none"
	GroupDaily    = "daily"
	GroupWeekly   = "weekly"
	GroupMonthly  = "monthly"
	GroupShift    = "shift"
	GroupLine     = "line"
	GroupOperator = "operator"
)

// Sort orders for ranking.
const (
	Desc = "desc"
	Asc  = "asc"
)

// DateRange bounds are absolute dates or relative phrases such as
// "last week"; either may be empty.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Active reports whether either bound is set.
func (r *DateRange) Active() bool {
	return r != nil && (strings.TrimSpace(r.Start) != "" || strings.TrimSpace(r.End) != "")
}

// Filters restrict rows before analysis. Each family is an allow-list for
// the column whose name is the family's singular form.
type Filters struct {
	DateRange  *DateRange `json:"date_range,omitempty"`
	Shifts     []string   `json:"shifts,omitempty"`
	Lines      []string   `json:"lines,omitempty"`
	Operators  []string   `json:"operators,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Groups     []string   `json:"groups,omitempty"`
}

// Family is one categorical allow-list.
type Family struct {
	Column string
	Values []string
}

// Families returns the non-empty allow-lists keyed by singular column name.
func (f Filters) Families() []Family {
	var out []Family
	for _, fam := range []Family{
		{"shift", f.Shifts}, {"line", f.Lines}, {"operator", f.Operators},
		{"category", f.Categories}, {"group", f.Groups},
	} {
		if len(fam.Values) > 0 {
			out = append(out, fam)
		}
	}
	return out
}

// Instruction is one analysis plan. It is created per query and never
// persisted.
type Instruction struct {
	AnalysisType  Kind      `json:"analysis_type"`
	Filters       Filters   `json:"filters"`
	Metrics       []string  `json:"metrics"`
	Grouping      string    `json:"grouping"`
	Calculations  []Op      `json:"calculations"`
	ChartType     ChartKind `json:"chart_type"`
	Title         string    `json:"title"`
	Message       string    `json:"message,omitempty"`
	PrimaryMetric string    `json:"primary_metric,omitempty"`
	SortOrder     string    `json:"sort_order,omitempty"`
	TopN          int       `json:"top_n,omitempty"`
	InsightsFocus string    `json:"insights_focus,omitempty"`
}

// Default values for every field.
var (
	DefaultMetrics      = []string{"production", "defects", "efficiency"}
	DefaultCalculations = []Op{Sum, Mean}
)

const (
	DefaultTitle = "Data Analysis"
	DefaultTopN  = 10
)

// Defaults returns the plan used when nothing else is known.
func Defaults() Instruction {
	return Instruction{
		AnalysisType: Trend,
		Metrics:      append([]string(nil), DefaultMetrics...),
		Grouping:     GroupDaily,
		Calculations: append([]Op(nil), DefaultCalculations...),
		ChartType:    Line,
		Title:        DefaultTitle,
	}
}

// Blocked reports whether the plan is a safety block and must not run.
func (in Instruction) Blocked() bool { return in.AnalysisType == SafetyBlock }

// Descending reports the ranking order; anything but "asc" is descending.
func (in Instruction) Descending() bool { return in.SortOrder != Asc }

// Limit returns TopN, or DefaultTopN for rankings without one.
func (in Instruction) Limit() int {
	if in.TopN > 0 {
		return in.TopN
	}
	if in.AnalysisType == Ranking {
		return DefaultTopN
	}
	return 0
}

var kindAliases = map[string]Kind{
	"trend": Trend, "trend_analysis": Trend, "trends": Trend, "time_series": Trend,
	"ranking": Ranking, "rank": Ranking, "top": Ranking, "top_n": Ranking,
	"comparison": Comparison, "compare": Comparison,
	"summary": Summary, "overview": Summary,
	"correlation": Correlation,
	"distribution": Distribution,
	"safety-block": SafetyBlock, "safety_block": SafetyBlock, "safety_filter": SafetyBlock,
}

var chartAliases = map[string]ChartKind{
	"line": Line, "bar": Bar, "column": Bar, "scatter": Scatter, "pie": Pie,
	"heatmap": Heatmap, "none": NoChart,
}

var groupAliases = map[string]string{
	"": GroupDaily, "day": GroupDaily, "daily": GroupDaily, "date": GroupDaily,
	"week": GroupWeekly, "weekly": GroupWeekly,
	"month": GroupMonthly, "monthly": GroupMonthly,
	"none": GroupNone, "total": GroupNone, "overall": GroupNone, "all": GroupNone,
	"shifts": GroupShift, "lines": GroupLine, "operators": GroupOperator, "worker": GroupOperator,
}

var opAliases = map[string]Op{
	"sum": Sum, "total": Sum, "mean": Mean, "average": Mean, "avg": Mean,
	"max": Max, "maximum": Max, "min": Min, "minimum": Min, "count": Count,
}

// Normalize applies defaults to missing fields and canonicalises aliases.
// Unknown kinds become trend, unknown charts line, unknown operations are
// dropped. A nil Calculations gets the defaults; an explicit empty list stays
// empty and selects per-column reductions.
func Normalize(in Instruction) Instruction {
	out := in
	if k, ok := kindAliases[lowerTrim(string(in.AnalysisType))]; ok {
		out.AnalysisType = k
	} else {
		out.AnalysisType = Trend
	}
	if c, ok := chartAliases[lowerTrim(string(in.ChartType))]; ok {
		out.ChartType = c
	} else {
		out.ChartType = Line
	}
	g := lowerTrim(in.Grouping)
	if alias, ok := groupAliases[g]; ok {
		g = alias
	}
	out.Grouping = g

	if in.Metrics == nil {
		out.Metrics = append([]string(nil), DefaultMetrics...)
	} else if out.Metrics = dedupe(in.Metrics); out.Metrics == nil {
		out.Metrics = []string{}
	}
	if in.Calculations == nil {
		out.Calculations = append([]Op(nil), DefaultCalculations...)
	} else {
		ops := []Op{}
		seen := map[Op]bool{}
		for _, raw := range in.Calculations {
			op, ok := opAliases[lowerTrim(string(raw))]
			if !ok || seen[op] {
				continue
			}
			seen[op] = true
			ops = append(ops, op)
		}
		out.Calculations = ops
	}
	if strings.TrimSpace(in.Title) == "" {
		out.Title = DefaultTitle
	} else {
		out.Title = strings.TrimSpace(in.Title)
	}
	switch lowerTrim(in.SortOrder) {
	case "asc", "ascending":
		out.SortOrder = Asc
	case "":
		out.SortOrder = ""
	default:
		out.SortOrder = Desc
	}
	if out.TopN < 0 {
		out.TopN = 0
	}
	out.PrimaryMetric = strings.TrimSpace(in.PrimaryMetric)
	out.Filters = normalizeFilters(in.Filters)
	return out
}

func normalizeFilters(f Filters) Filters {
	out := Filters{
		Shifts:     dedupe(f.Shifts),
		Lines:      dedupe(f.Lines),
		Operators:  dedupe(f.Operators),
		Categories: dedupe(f.Categories),
		Groups:     dedupe(f.Groups),
	}
	if f.DateRange.Active() {
		out.DateRange = &DateRange{Start: strings.TrimSpace(f.DateRange.Start), End: strings.TrimSpace(f.DateRange.End)}
	}
	return out
}

// dedupe trims and de-duplicates in, returning nil when nothing is left.
func dedupe(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func lowerTrim(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
