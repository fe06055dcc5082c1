package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/instruction"
)

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

// plant returns ten days of two shifts each. Shift A makes 100+10d units
// with 5 defects at 90% efficiency, shift B 80+10d with 4 defects at 80%.
func plant(t *testing.T) (*dataset.Dataset, *classify.Metadata) {
	t.Helper()
	var rows [][]dataset.Value
	for d := 1; d <= 10; d++ {
		rows = append(rows,
			[]dataset.Value{day(d), "A", "L1", float64(100 + 10*d), 5.0, 90.0},
			[]dataset.Value{day(d), "B", "L2", float64(80 + 10*d), 4.0, 80.0},
		)
	}
	ds := dataset.MustNew("plant", []string{"date", "shift", "line", "production", "defects", "efficiency"}, rows)
	meta := classify.Rules(ds)
	if !meta.Is("date", classify.Date) || !meta.Is("shift", classify.Categorical) || !meta.Is("defects", classify.QualityMeasure) {
		t.Fatalf("unexpected fixture classification: %v", meta.Mapping())
	}
	return ds, meta
}

func TestStartAfterEveryDateIsEmptyNotError(t *testing.T) {
	ds, meta := plant(t)
	res := ApplyFilters(ds, meta, instruction.Filters{DateRange: &instruction.DateRange{Start: "2030-01-01"}}, []string{"production"})
	if res.Data.Len() != 0 {
		t.Fatalf("rows = %d, want 0", res.Data.Len())
	}
	out, err := NewEngine(nil).Run(context.Background(), ds, meta, instruction.Instruction{
		Filters:  instruction.Filters{DateRange: &instruction.DateRange{Start: "2030-01-01"}},
		Metrics:  []string{"production"},
		Grouping: instruction.GroupDaily,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.NoRows || !out.Chart.Empty() {
		t.Fatalf("expected NoRows with an empty chart, got %+v", out)
	}
}

func TestRelativeDatesAnchorOnLatestDate(t *testing.T) {
	ds, meta := plant(t)
	now = func() time.Time { return time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = time.Now })

	tests := []struct {
		start, end string
		days       []int
	}{
		{start: "last 3 days", days: []int{7, 8, 9, 10}},
		{start: "yesterday", days: []int{9, 10}},
		{start: "today", days: []int{10}},
		{start: "last week", days: []int{3, 4, 5, 6, 7, 8, 9, 10}},
		{start: "this month", days: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{start: "2024-01-02", end: "2024-01-03", days: []int{2, 3}},
		{end: "yesterday", days: []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{start: "someday", days: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}
	for _, tt := range tests {
		got := FilterRows(ds, meta, instruction.Filters{DateRange: &instruction.DateRange{Start: tt.start, End: tt.end}})
		if got.Len() != 2*len(tt.days) {
			t.Errorf("%q..%q: rows = %d, want %d", tt.start, tt.end, got.Len(), 2*len(tt.days))
			continue
		}
		first := got.Get(0, "date").(time.Time)
		if first.Day() != tt.days[0] {
			t.Errorf("%q..%q: first day = %d, want %d", tt.start, tt.end, first.Day(), tt.days[0])
		}
	}
}

func TestNilDatesDroppedOnlyWhenBounded(t *testing.T) {
	ds := dataset.MustNew("d", []string{"date", "units"}, [][]dataset.Value{
		{day(1), 1.0}, {nil, 2.0}, {day(3), 3.0},
	})
	meta := classify.Rules(ds)
	if got := FilterRows(ds, meta, instruction.Filters{}); got.Len() != 3 {
		t.Fatalf("unbounded rows = %d, want 3", got.Len())
	}
	got := FilterRows(ds, meta, instruction.Filters{DateRange: &instruction.DateRange{Start: "2024-01-01"}})
	if got.Len() != 2 {
		t.Fatalf("bounded rows = %d, want 2", got.Len())
	}
}

func TestCategoricalFilters(t *testing.T) {
	ds, meta := plant(t)
	got := FilterRows(ds, meta, instruction.Filters{Shifts: []string{" a "}, Operators: []string{"Alice"}})
	if got.Len() != 10 {
		t.Fatalf("rows = %d, want 10", got.Len())
	}
	for r := 0; r < got.Len(); r++ {
		if got.Get(r, "shift") != "A" {
			t.Fatalf("row %d kept shift %v", r, got.Get(r, "shift"))
		}
	}
	if got := FilterRows(ds, meta, instruction.Filters{Lines: []string{"L3"}}); got.Len() != 0 {
		t.Fatalf("unknown line kept %d rows", got.Len())
	}
	if ds.Len() != 20 {
		t.Fatalf("filter mutated the source")
	}
}

func TestNumericCategoryValuesMatchAsText(t *testing.T) {
	ds := dataset.MustNew("d", []string{"group", "units"}, [][]dataset.Value{
		{1.0, 5.0}, {2.0, 6.0}, {1.0, 7.0},
	})
	got := FilterRows(ds, classify.Rules(ds), instruction.Filters{Groups: []string{"1"}})
	if got.Len() != 2 {
		t.Fatalf("rows = %d, want 2", got.Len())
	}
}

func TestProjection(t *testing.T) {
	ds, meta := plant(t)
	res := ApplyFilters(ds, meta, instruction.Filters{}, []string{"Production", "missing", "defect_rate"})
	if got := strings.Join(res.Data.Columns, ","); got != "date,shift,line,production,defect_rate" {
		t.Fatalf("columns = %s", got)
	}
	if strings.Join(res.Metrics, ",") != "production,defect_rate" {
		t.Fatalf("metrics = %v", res.Metrics)
	}
	if err := res.Meta.Validate(res.Data); err != nil {
		t.Fatalf("metadata out of sync: %v", err)
	}

	all := ApplyFilters(ds, meta, instruction.Filters{}, []string{"missing"})
	if len(all.Metrics) != 0 || len(all.Data.Columns) <= len(ds.Columns) {
		t.Fatalf("expected the full derived table, got %v", all.Data.Columns)
	}
}

func TestDeriveMetrics(t *testing.T) {
	ds := dataset.MustNew("d", []string{"units_produced", "defects", "net_change", "label"}, [][]dataset.Value{
		{200.0, 10.0, -5.0, "x"},
		{0.0, 3.0, 2.0, "y"},
		{nil, 1.0, 1.0, "z"},
		{50.0, nil, 0.0, "w"},
	})
	meta := classify.Rules(ds)
	out, om := DeriveMetrics(ds, meta)

	wantRate := []float64{5, 0, 0, 0}
	for r, want := range wantRate {
		got, ok := out.Get(r, DefectRate).(float64)
		if !ok || got != want || math.IsNaN(got) {
			t.Fatalf("defect_rate[%d] = %#v, want %v", r, out.Get(r, DefectRate), want)
		}
		if q := out.Get(r, QualityScore).(float64); q != 100-want {
			t.Fatalf("quality_score[%d] = %v", r, q)
		}
	}
	if out.Get(0, ProductionPerHour) != 25.0 || out.Get(2, ProductionPerHour) != nil {
		t.Fatalf("production_per_hour = %v, %v", out.Get(0, ProductionPerHour), out.Get(2, ProductionPerHour))
	}
	if v := out.Get(0, "units_produced_percentage").(float64); v != 80 {
		t.Fatalf("units_produced_percentage[0] = %v, want 80", v)
	}
	if out.Get(2, "units_produced_percentage") != 0.0 {
		t.Fatalf("nil value should give 0 percentage")
	}
	if out.Has("net_change_percentage") {
		t.Fatalf("non-positive total should skip the percentage column")
	}
	if out.Has(DefectRate+"_percentage") || out.Has("label_percentage") {
		t.Fatalf("unexpected percentage columns: %v", out.Columns)
	}
	if ds.Has(DefectRate) {
		t.Fatalf("DeriveMetrics mutated its input")
	}
	if err := om.Validate(out); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if !om.Is(DefectRate, classify.QualityMeasure) {
		c, _ := om.Category(DefectRate)
		t.Fatalf("defect_rate category = %s", c)
	}
}

func TestDeriveWithoutPrerequisites(t *testing.T) {
	ds := dataset.MustNew("d", []string{"region", "revenue"}, [][]dataset.Value{{"n", 0.0}, {"s", 0.0}})
	out, _ := DeriveMetrics(ds, nil)
	if strings.Join(out.Columns, ",") != "region,revenue" {
		t.Fatalf("columns = %v", out.Columns)
	}
}

func TestAggregateMissingGroupColumnReturnsInput(t *testing.T) {
	ds := dataset.MustNew("d", []string{"region", "revenue"}, [][]dataset.Value{{"n", 1.0}, {"s", 2.0}})
	for _, g := range []string{"shift", "daily", "weekly", "nonexistent"} {
		res := Aggregate(ds, nil, g, nil)
		if res.Grouped || res.Data != ds {
			t.Fatalf("grouping %q should return the input unchanged", g)
		}
	}
}

func TestAggregateDefaultReductions(t *testing.T) {
	ds, meta := plant(t)
	res := Aggregate(ds, meta, instruction.GroupShift, []instruction.Op{})
	if !res.Grouped || res.GroupColumn != "shift" {
		t.Fatalf("result = %+v", res)
	}
	if got := strings.Join(res.Data.Columns, ","); got != "shift,production,defects,efficiency" {
		t.Fatalf("columns = %s", got)
	}
	if res.Data.Len() != 2 || res.Data.Get(0, "shift") != "A" {
		t.Fatalf("groups = %v", res.Data.Rows)
	}
	// A: sum(100+10d, d=1..10) = 1550
	if res.Data.Get(0, "production") != 1550.0 || res.Data.Get(0, "defects") != 50.0 || res.Data.Get(0, "efficiency") != 90.0 {
		t.Fatalf("shift A row = %v", res.Data.Rows[0])
	}
}

func TestAggregateExplicitOps(t *testing.T) {
	ds, meta := plant(t)
	res := Aggregate(ds, meta, "LINE", []instruction.Op{instruction.Sum, instruction.Max, instruction.Sum, "median"})
	want := "line,production_sum,production_max,defects_sum,defects_max,efficiency_sum,efficiency_max"
	if got := strings.Join(res.Data.Columns, ","); got != want {
		t.Fatalf("columns = %s, want %s", got, want)
	}
	if res.Data.Get(1, "production_max") != 180.0 {
		t.Fatalf("L2 production_max = %v", res.Data.Get(1, "production_max"))
	}
}

func TestAggregateCalendarBuckets(t *testing.T) {
	ds := dataset.MustNew("d", []string{"date", "output"}, [][]dataset.Value{
		{day(9), 1.0}, {day(1), 2.0}, {day(2), 3.0}, {time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), 4.0}, {nil, 100.0},
	})
	meta := classify.Rules(ds)

	weekly := Aggregate(ds, meta, instruction.GroupWeekly, nil)
	if weekly.GroupColumn != WeekColumn || weekly.Data.Len() != 3 {
		t.Fatalf("weekly = %+v", weekly.Data.Rows)
	}
	if weekly.Data.Get(0, WeekColumn) != "2024-W01" || weekly.Data.Get(0, "output") != 5.0 || weekly.Data.Get(1, WeekColumn) != "2024-W02" {
		t.Fatalf("weekly rows = %v", weekly.Data.Rows)
	}

	monthly := Aggregate(ds, meta, instruction.GroupMonthly, nil)
	if monthly.Data.Len() != 2 || monthly.Data.Get(0, MonthColumn) != "2024-01" || monthly.Data.Get(0, "output") != 6.0 {
		t.Fatalf("monthly rows = %v", monthly.Data.Rows)
	}

	daily := Aggregate(ds, meta, instruction.GroupDaily, nil)
	if daily.Data.Len() != 4 || !daily.Data.Get(0, "date").(time.Time).Equal(day(1)) {
		t.Fatalf("daily rows = %v", daily.Data.Rows)
	}
}

func TestAggregateNoneIsOneRow(t *testing.T) {
	ds, meta := plant(t)
	res := Aggregate(ds, meta, instruction.GroupNone, []instruction.Op{instruction.Mean, instruction.Count})
	if !res.Grouped || res.GroupColumn != "" || res.Data.Len() != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Data.Get(0, "production_count") != 20.0 || res.Data.Get(0, "efficiency_mean") != 85.0 {
		t.Fatalf("row = %v", res.Data.Rows[0])
	}
}

func TestDefaultOp(t *testing.T) {
	tests := map[string]instruction.Op{
		"production": instruction.Sum, "defects": instruction.Sum, "downtime_minutes": instruction.Sum,
		"defect_rate": instruction.Mean, "efficiency_pct": instruction.Mean, "quality_score": instruction.Mean,
		"revenue": instruction.Sum,
	}
	for col, want := range tests {
		if got := DefaultOp(col); got != want {
			t.Errorf("DefaultOp(%q) = %s, want %s", col, got, want)
		}
	}
}

func TestPrepareChartAxes(t *testing.T) {
	ds, meta := plant(t)
	inst := instruction.Normalize(instruction.Instruction{Metrics: []string{"production"}, Grouping: "daily"})
	agg := Aggregate(ds, meta, inst.Grouping, inst.Calculations)
	ch := PrepareChart(agg, inst)
	if ch.XAxis != "date" || ch.YAxis != "production_sum" || ch.ChartType != instruction.Line {
		t.Fatalf("axes = %s / %s (%s)", ch.XAxis, ch.YAxis, ch.ChartType)
	}
	if len(ch.Points) != 10 || ch.Points[0] != (Point{Label: "2024-01-01", Value: 200}) {
		t.Fatalf("points = %v", ch.Points)
	}
}

func TestPrepareChartCoercesValues(t *testing.T) {
	ds := dataset.MustNew("d", []string{"name", "score"}, [][]dataset.Value{
		{"a", 1.5}, {"b", nil}, {"c", math.Inf(1)}, {nil, 2.0},
	})
	ch := PrepareChart(AggregatedResult{Data: ds}, instruction.Instruction{Metrics: []string{"score"}})
	if ch.XAxis != "name" || ch.YAxis != "score" || len(ch.Points) != 4 {
		t.Fatalf("chart = %+v", ch)
	}
	for _, p := range ch.Points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			t.Fatalf("non-finite value in %v", ch.Points)
		}
	}
	if ch.Points[1].Value != 0 || ch.Points[2].Value != 0 || ch.Points[3].Label != "" {
		t.Fatalf("points = %v", ch.Points)
	}
}

func TestPrepareChartFallsBackToFirstColumns(t *testing.T) {
	ds := dataset.MustNew("d", []string{"a", "b"}, [][]dataset.Value{{1.0, 2.0}})
	ch := PrepareChart(AggregatedResult{Data: ds}, instruction.Instruction{Metrics: []string{"zzz"}})
	if ch.XAxis != "a" || ch.YAxis != "b" || ch.Points[0] != (Point{Label: "1", Value: 2}) {
		t.Fatalf("chart = %+v", ch)
	}
	empty := PrepareChart(AggregatedResult{Data: ds.Head(0)}, instruction.Instruction{})
	if !empty.Empty() || empty.Points == nil {
		t.Fatalf("expected empty non-nil points, got %+v", empty)
	}
}

func TestRankingSortsAndLimits(t *testing.T) {
	ds := dataset.MustNew("d", []string{"operator", "output"}, [][]dataset.Value{
		{"ann", 3.0}, {"bob", 9.0}, {"cy", 1.0}, {"dee", 5.0},
	})
	inst := instruction.Instruction{AnalysisType: instruction.Ranking, PrimaryMetric: "output", TopN: 2}
	ch := PrepareChart(AggregatedResult{Data: ds}, inst)
	if len(ch.Points) != 2 || ch.Points[0].Label != "bob" || ch.Points[1].Label != "dee" {
		t.Fatalf("desc = %v", ch.Points)
	}
	inst.SortOrder = instruction.Asc
	ch = PrepareChart(AggregatedResult{Data: ds}, inst)
	if ch.Points[0].Label != "cy" || ch.Points[1].Label != "ann" {
		t.Fatalf("asc = %v", ch.Points)
	}
}

func TestSummarize(t *testing.T) {
	ds, meta := plant(t)
	s := Summarize(ds, meta)
	if s.Records != 20 || s.DateRange == nil || s.DateRange.Days != 10 {
		t.Fatalf("summary = %+v", s)
	}
	if len(s.Numeric) != 3 || s.Numeric[0].Column != "production" || s.Numeric[0].Total != 2900 {
		t.Fatalf("numeric = %+v", s.Numeric)
	}
	if len(s.Categorical) != 2 || s.Categorical[0].Distinct != 2 {
		t.Fatalf("categorical = %+v", s.Categorical)
	}
	md := s.Markdown()
	for _, want := range []string{"[DATASET SUMMARY]", "[SCHEMA]", "[CATEGORICAL]", "- defects: quality_measure", "2024-01-01 to 2024-01-10"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestEngineRun(t *testing.T) {
	ds, meta := plant(t)
	inst := instruction.Fallback("top shifts by production", meta)
	out, err := NewEngine(nil).Run(context.Background(), ds, meta, inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.NoRows || out.Records != 20 || out.DateRange == nil || out.DateRange.Days != 10 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Chart.XAxis != "shift" || out.Chart.Points[0].Label != "A" || out.Chart.Points[0].Value != 1550 {
		t.Fatalf("chart = %+v", out.Chart)
	}
	if len(out.Summary) == 0 || out.Summary[0].Column != "production" || out.Summary[0].Count != 20 {
		t.Fatalf("summary = %+v", out.Summary)
	}
}

func TestEngineRejectsBlockedAndCanceled(t *testing.T) {
	ds, meta := plant(t)
	e := NewEngine(nil)
	if _, err := e.Run(context.Background(), ds, meta, instruction.Instruction{AnalysisType: instruction.SafetyBlock}); !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, ds, meta, instruction.Defaults()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
