package instruction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/KaramelBytes/tabloom/internal/ai"
	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/logging"
	"github.com/KaramelBytes/tabloom/internal/safety"
	"github.com/KaramelBytes/tabloom/internal/utils"
)

// ErrModelBlocked is reported when the runtime answers an allowed query
// with a safety-block plan; only the local filter may block.
var ErrModelBlocked = errors.New("model returned a safety-block plan")

// DefaultTimeout bounds a planning call.
const DefaultTimeout = 30 * time.Second

// contextTokenBudget caps the dataset summary sent with each query.
const contextTokenBudget = 1500

// Source tells where a plan came from.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
	SourceSafety   Source = "safety"
)

// Plan is a planner result.
type Plan struct {
	Instruction Instruction     `json:"instruction"`
	Source      Source          `json:"source"`
	Decision    safety.Decision `json:"decision"`
}

// Config configures a Planner. A nil Runtime always uses Fallback.
type Config struct {
	Runtime     ai.Runtime
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Filter      *safety.Filter
	Logger      log.Logger
}

// Planner turns a question into an Instruction.
type Planner struct {
	cfg    Config
	logger log.Logger
}

func NewPlanner(cfg Config) *Planner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Filter == nil {
		cfg.Filter = safety.Default
	}
	return &Planner{cfg: cfg, logger: logging.OrNop(cfg.Logger)}
}

// Plan checks query with the safety filter, then asks the runtime for a
// plan. Any runtime failure, timeout or unparseable answer yields the
// keyword Fallback, so Plan always returns a usable plan.
func (p *Planner) Plan(ctx context.Context, query, summary string, meta *classify.Metadata) Plan {
	d := p.cfg.Filter.Check(query)
	if !d.Allowed() {
		level.Info(p.logger).Log("msg", "query rejected", "verdict", d.Verdict, "rule", d.Rule)
		return Plan{Instruction: Block(d), Source: SourceSafety, Decision: d}
	}
	if p.cfg.Runtime == nil {
		return Plan{Instruction: Fallback(query, meta), Source: SourceFallback, Decision: d}
	}
	text, err := ai.Complete(ctx, p.cfg.Runtime, ai.Prompt{
		Model:       p.cfg.Model,
		System:      plannerSystemPrompt,
		User:        UserPrompt(query, summary, meta),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		JSON:        true,
		Timeout:     p.cfg.Timeout,
	})
	if err == nil {
		var in Instruction
		if in, err = Parse(text); err == nil && in.Blocked() {
			err = ErrModelBlocked
		}
		if err == nil {
			return Plan{Instruction: in, Source: SourceModel, Decision: d}
		}
	}
	level.Warn(p.logger).Log("msg", "planning fell back to keywords", "reason", ai.Reason(err), "err", err)
	return Plan{Instruction: Fallback(query, meta), Source: SourceFallback, Decision: d}
}

var plannerSystemPrompt = fmt.Sprintf(`You are a data analysis planner. Turn the user's question about a tabular dataset into a JSON analysis plan.
Use the actual column names from the context. Respond with only one JSON object:
{
  "analysis_type": one of %s,
  "filters": {"date_range": {"start": null, "end": null}, "shifts": [], "lines": [], "operators": [], "categories": [], "groups": []},
  "metrics": ["numeric columns to analyse"],
  "grouping": one of %s or a categorical column name,
  "calculations": any of %s,
  "chart_type": one of %s,
  "title": "short descriptive title",
  "primary_metric": "main metric column",
  "sort_order": "desc|asc",
  "top_n": 10,
  "insights_focus": "what the answer should highlight"
}
Date bounds may be YYYY-MM-DD or relative phrases: today, yesterday, last week, last month, last N days, this week, this month.
Chart rules: line for trends over time, bar for comparisons and rankings, scatter for correlations, pie for proportions, heatmap for complex relationships.`,
	quoted("ranking", "trend", "comparison", "summary", "correlation", "distribution"),
	quoted(GroupNone, GroupDaily, GroupWeekly, GroupMonthly, GroupShift, GroupLine, GroupOperator),
	quoted(string(Sum), string(Mean), string(Max), string(Min), string(Count)),
	quoted(string(Line), string(Bar), string(Scatter), string(Pie), string(Heatmap), string(NoChart)),
)

func quoted(vals ...string) string {
	return `"` + strings.Join(vals, `"|"`) + `"`
}

// UserPrompt combines the dataset summary, column semantics and the question.
func UserPrompt(query, summary string, meta *classify.Metadata) string {
	var b strings.Builder
	if s := strings.TrimSpace(summary); s != "" {
		b.WriteString(utils.TruncateToTokenLimit(s, contextTokenBudget))
		b.WriteString("\n\n")
	}
	if meta != nil {
		b.WriteString("[COLUMN SEMANTICS]\n")
		for _, line := range []struct {
			label string
			cols  []string
		}{
			{"Date columns", meta.DateColumns()},
			{"Numeric measures", meta.NumericMeasures()},
			{"Quality measures", meta.QualityMeasures()},
			{"Efficiency measures", meta.EfficiencyMeasures()},
			{"Time measures", meta.TimeMeasures()},
			{"Categorical columns", meta.CategoricalColumns()},
		} {
			fmt.Fprintf(&b, "- %s: %s\n", line.label, strings.Join(line.cols, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User query: %s\n", strings.TrimSpace(query))
	return b.String()
}
