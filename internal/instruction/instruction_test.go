package instruction

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/KaramelBytes/tabloom/internal/ai"
	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/safety"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func meta(t *testing.T) *classify.Metadata {
	t.Helper()
	m, err := classify.NewMetadata(
		[]string{"date", "line", "shift", "production", "defects", "efficiency"},
		map[string]classify.Category{
			"date": classify.Date, "line": classify.Categorical, "shift": classify.Categorical,
			"production": classify.NumericMeasure, "defects": classify.QualityMeasure, "efficiency": classify.EfficiencyMeasure,
		})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.AnalysisType != Trend || d.Grouping != GroupDaily || d.ChartType != Line || d.Title != DefaultTitle {
		t.Fatalf("Defaults = %+v", d)
	}
	if !reflect.DeepEqual(d.Metrics, []string{"production", "defects", "efficiency"}) || !reflect.DeepEqual(d.Calculations, []Op{Sum, Mean}) {
		t.Fatalf("Defaults lists = %v %v", d.Metrics, d.Calculations)
	}
	d.Metrics[0] = "changed"
	if DefaultMetrics[0] != "production" {
		t.Fatal("Defaults shares the package slice")
	}
}

func TestParseNormalises(t *testing.T) {
	text := "Here is the plan:\n```json\n" + `{
		"analysis_type": "trend_analysis",
		"filters": {"date_range": {"start": "last week", "end": null}, "shift": "A", "lines": ["L1", "L1", " "], "categories": {}},
		"metrics": ["production", "production", ""],
		"grouping_column": "Weekly",
		"calculations": ["AVG", "sum", "defect_rate", "sum"],
		"chart_type": "column",
		"top_n": "5",
		"specific_query": "ignored"
	}` + "\n```"
	in, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if in.AnalysisType != Trend || in.ChartType != Bar || in.Grouping != GroupWeekly || in.TopN != 5 {
		t.Fatalf("scalar fields = %+v", in)
	}
	if !reflect.DeepEqual(in.Calculations, []Op{Mean, Sum}) {
		t.Fatalf("calculations = %v", in.Calculations)
	}
	if !reflect.DeepEqual(in.Metrics, []string{"production"}) {
		t.Fatalf("metrics = %v", in.Metrics)
	}
	if in.Filters.DateRange == nil || in.Filters.DateRange.Start != "last week" || in.Filters.DateRange.End != "" {
		t.Fatalf("date range = %+v", in.Filters.DateRange)
	}
	fams := in.Filters.Families()
	if len(fams) != 2 || fams[0].Column != "shift" || fams[1].Column != "line" || len(fams[1].Values) != 1 {
		t.Fatalf("families = %+v", fams)
	}
	if in.Title != DefaultTitle {
		t.Fatalf("title = %q", in.Title)
	}
}

func TestParseMissingFieldsTakeDefaults(t *testing.T) {
	in, err := Parse(`{"analysis_type": "mystery", "chart_type": "sparkline"}`)
	if err != nil {
		t.Fatal(err)
	}
	want := Defaults()
	if !reflect.DeepEqual(in, want) {
		t.Fatalf("got %+v\nwant %+v", in, want)
	}
	in, err = Parse(`{"calculations": []}`)
	if err != nil {
		t.Fatal(err)
	}
	if in.Calculations == nil || len(in.Calculations) != 0 {
		t.Fatalf("explicit empty calculations should stay empty, got %#v", in.Calculations)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("no braces at all"); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
	if _, err := Parse(`{"metrics": }`); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFallbackKinds(t *testing.T) {
	m := meta(t)
	tests := []struct {
		query    string
		kind     Kind
		chart    ChartKind
		grouping string
	}{
		{"show production trend", Trend, Line, GroupDaily},
		{"compare efficiency by shift", Comparison, Bar, GroupShift},
		{"which line has the lowest defects", Ranking, Bar, GroupLine},
		{"give me a summary", Summary, Bar, GroupNone},
		{"correlation between production and defects", Correlation, Scatter, GroupDaily},
		{"distribution of efficiency as a pie", Distribution, Pie, GroupDaily},
		{"weekly production", Trend, Line, GroupWeekly},
		{"top performers", Ranking, Bar, "line"},
	}
	for _, tt := range tests {
		in := Fallback(tt.query, m)
		if in.AnalysisType != tt.kind || in.ChartType != tt.chart || in.Grouping != tt.grouping {
			t.Errorf("Fallback(%q) = %s/%s/%s, want %s/%s/%s", tt.query, in.AnalysisType, in.ChartType, in.Grouping, tt.kind, tt.chart, tt.grouping)
		}
	}
}

func TestFallbackDetails(t *testing.T) {
	m := meta(t)
	in := Fallback("Which line had the lowest defects last month?", m)
	if in.SortOrder != Asc || in.PrimaryMetric != "defects" || in.Limit() != DefaultTopN {
		t.Fatalf("ranking details = %+v", in)
	}
	if in.Filters.DateRange == nil || in.Filters.DateRange.Start != "last month" {
		t.Fatalf("date range = %+v", in.Filters.DateRange)
	}
	if in.Grouping != GroupLine {
		t.Fatalf("date phrase leaked into grouping: %q", in.Grouping)
	}
	if in.Title != "Ranking Analysis" {
		t.Fatalf("title = %q", in.Title)
	}
	if got := Fallback("show me the data", m).Metrics; !reflect.DeepEqual(got, []string{"production", "defects", "efficiency"}) {
		t.Fatalf("metrics = %v", got)
	}
	if got := Fallback("show data", nil).Metrics; !reflect.DeepEqual(got, DefaultMetrics) {
		t.Fatalf("nil meta metrics = %v", got)
	}
}

func TestFallbackDerivedMetrics(t *testing.T) {
	m := meta(t)
	if got := Fallback("What's the defect rate trend?", m).Metrics; !reflect.DeepEqual(got, []string{"defect_rate"}) {
		t.Fatalf("metrics = %v", got)
	}
	if got := Fallback("quality score and efficiency by shift", m).Metrics; !reflect.DeepEqual(got, []string{"efficiency", "quality_score"}) {
		t.Fatalf("metrics = %v", got)
	}
	noProd, err := classify.NewMetadata([]string{"date", "defects"},
		map[string]classify.Category{"date": classify.Date, "defects": classify.QualityMeasure})
	if err != nil {
		t.Fatal(err)
	}
	if got := Fallback("defect rate trend", noProd).Metrics; !reflect.DeepEqual(got, []string{"defects"}) {
		t.Fatalf("underivable metric picked: %v", got)
	}
}

func TestBlock(t *testing.T) {
	d := safety.Default.Check("How to hack a password?")
	in := Block(d)
	if !in.Blocked() || in.Title != "Invalid Query" || in.ChartType != NoChart || in.Message != d.Message {
		t.Fatalf("Block = %+v", in)
	}
}

type fakeRuntime struct {
	text  string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeRuntime) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	f.calls++
	if f.delay > 0 {
		t := time.NewTimer(f.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Content: f.text}}}}, nil
}

func TestPlannerSources(t *testing.T) {
	m := meta(t)
	ctx := context.Background()

	rt := &fakeRuntime{text: `{"analysis_type": "ranking", "metrics": ["defects"], "grouping": "line", "chart_type": "bar", "title": "Defects by line"}`}
	p := NewPlanner(Config{Runtime: rt, Model: "m"})
	plan := p.Plan(ctx, "Which line has the most defects?", "[DATASET SUMMARY]", m)
	if plan.Source != SourceModel || plan.Instruction.Title != "Defects by line" || plan.Instruction.AnalysisType != Ranking {
		t.Fatalf("model plan = %+v", plan)
	}

	blocked := p.Plan(ctx, "What's the weather, and also show defect trends?", "", m)
	if blocked.Source != SourceSafety || !blocked.Instruction.Blocked() || blocked.Decision.Verdict != safety.BlockedIrrelevant {
		t.Fatalf("blocked plan = %+v", blocked)
	}
	if rt.calls != 1 {
		t.Fatalf("safety rejection must not reach the runtime, calls=%d", rt.calls)
	}
}

func TestPlannerFallsBack(t *testing.T) {
	m := meta(t)
	cases := map[string]*fakeRuntime{
		"error":     {err: errors.New("unavailable")},
		"malformed": {text: "Sorry, I can only chat."},
		"slow":      {text: `{"analysis_type": "summary"}`, delay: 2 * time.Second},
		"blocked":   {text: `{"analysis_type": "safety_block", "message": "no"}`},
	}
	for name, rt := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewPlanner(Config{Runtime: rt, Model: "m", Timeout: 50 * time.Millisecond})
			start := time.Now()
			plan := p.Plan(context.Background(), "show production trend", "", m)
			if plan.Source != SourceFallback {
				t.Fatalf("source = %s", plan.Source)
			}
			if plan.Instruction.AnalysisType != Trend {
				t.Fatalf("fallback plan = %+v", plan.Instruction)
			}
			if time.Since(start) > time.Second {
				t.Fatalf("planner exceeded its timeout")
			}
		})
	}
	if plan := NewPlanner(Config{}).Plan(context.Background(), "show production trend", "", m); plan.Source != SourceFallback {
		t.Fatalf("no runtime should use the fallback, got %s", plan.Source)
	}
}

func TestUserPromptIncludesContext(t *testing.T) {
	got := UserPrompt("  top lines ", "[DATASET SUMMARY]\nrows: 4", meta(t))
	for _, want := range []string{"[DATASET SUMMARY]", "Categorical columns: line, shift", "User query: top lines"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(plannerSystemPrompt, `"ranking"|"trend"`) {
		t.Fatalf("system prompt lacks literal sets")
	}
}
