// Package insight turns a pipeline outcome into a short narrative, using a
// text-generation runtime when one is configured and a template otherwise.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/KaramelBytes/tabloom/internal/ai"
	"github.com/KaramelBytes/tabloom/internal/logging"
	"github.com/KaramelBytes/tabloom/internal/pipeline"
)

// DefaultTimeout bounds a narrative call.
const DefaultTimeout = 30 * time.Second

// maxPoints caps the chart points sent to the model.
const maxPoints = 20

// NoRowsMessage is returned when filtering left nothing to describe.
const NoRowsMessage = "No data found matching your criteria. Please try a different query."

// Source tells where a narrative came from.
type Source string

const (
	SourceModel    Source = "model"
	SourceTemplate Source = "template"
)

// Narrative is the text shown with a result.
type Narrative struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// Config configures a Narrator. A nil Runtime always uses the template.
type Config struct {
	Runtime     ai.Runtime
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Logger      log.Logger
}

type Narrator struct {
	cfg    Config
	logger log.Logger
}

func NewNarrator(cfg Config) *Narrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	return &Narrator{cfg: cfg, logger: logging.OrNop(cfg.Logger)}
}

// Describe narrates out for query. Runtime failures fall back to Template.
func (n *Narrator) Describe(ctx context.Context, query string, out *pipeline.Outcome) Narrative {
	if out == nil || out.NoRows {
		return Narrative{Text: NoRowsMessage, Source: SourceTemplate}
	}
	if n.cfg.Runtime == nil {
		return Narrative{Text: Template(out), Source: SourceTemplate}
	}
	prompt, err := UserPrompt(query, out)
	if err == nil {
		var text string
		text, err = ai.Complete(ctx, n.cfg.Runtime, ai.Prompt{
			Model:       n.cfg.Model,
			System:      systemPrompt,
			User:        prompt,
			MaxTokens:   n.cfg.MaxTokens,
			Temperature: n.cfg.Temperature,
			Timeout:     n.cfg.Timeout,
		})
		if text = strings.TrimSpace(text); err == nil && text != "" {
			return Narrative{Text: text, Source: SourceModel}
		}
	}
	level.Warn(n.logger).Log("msg", "insight generation fell back to template", "reason", ai.Reason(err), "err", err)
	return Narrative{Text: Template(out), Source: SourceTemplate}
}

const systemPrompt = `You are a professional data analyst. Based on the analysis results you are given, write a clean, well-structured answer in plain text with three parts:

Summary: a brief overview of what the data shows.
Key insights: two or three bullet points starting with "- ".
What this means: business implications or recommendations.

Do not use markdown headings. Do not mention file paths or internal field names.`

type resultsJSON struct {
	Query     string                   `json:"query"`
	Type      string                   `json:"query_type"`
	Records   int                      `json:"records_analyzed"`
	DateRange *dateRangeJSON           `json:"date_range,omitempty"`
	Metrics   []pipeline.MetricSummary `json:"metrics_summary"`
	XAxis     string                   `json:"x_axis,omitempty"`
	YAxis     string                   `json:"y_axis,omitempty"`
	Points    []pipeline.Point         `json:"chart_points,omitempty"`
	Note      string                   `json:"chart_note,omitempty"`
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

// UserPrompt renders the analysis results as JSON for the model.
func UserPrompt(query string, out *pipeline.Outcome) (string, error) {
	r := resultsJSON{
		Query:   query,
		Type:    string(out.Instruction.AnalysisType),
		Records: out.Records,
		Metrics: out.Summary,
		XAxis:   out.Chart.XAxis,
		YAxis:   out.Chart.YAxis,
		Points:  out.Chart.Points,
	}
	if len(r.Points) > maxPoints {
		r.Note = fmt.Sprintf("Showing %d of %d points", maxPoints, len(r.Points))
		r.Points = r.Points[:maxPoints]
	}
	if d := out.DateRange; d != nil {
		r.DateRange = &dateRangeJSON{Start: d.Start.Format("2006-01-02"), End: d.End.Format("2006-01-02"), Days: d.Days}
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return "Analysis results:\n" + string(b), nil
}

// Template describes out without a model: records analysed, date range,
// per-metric totals and the best and worst chart points.
func Template(out *pipeline.Outcome) string {
	if out == nil || out.NoRows {
		return NoRowsMessage
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Summary\nAnalysed %d records", out.Records)
	if d := out.DateRange; d != nil {
		fmt.Fprintf(&b, " from %s to %s (%d days)", d.Start.Format("2006-01-02"), d.End.Format("2006-01-02"), d.Days)
	}
	b.WriteString(".\n")

	if len(out.Summary) > 0 {
		b.WriteString("\nKey figures\n")
		for _, m := range out.Summary {
			fmt.Fprintf(&b, "- %s: total %s, average %s, max %s, min %s\n",
				m.Column, num(m.Total), num(m.Mean), num(m.Max), num(m.Min))
		}
	}

	if pts := out.Chart.Points; len(pts) > 1 && out.Chart.YAxis != "" {
		best, worst := pts[0], pts[0]
		for _, p := range pts[1:] {
			if p.Value > best.Value {
				best = p
			}
			if p.Value < worst.Value {
				worst = p
			}
		}
		fmt.Fprintf(&b, "\nBy %s\n", out.Chart.XAxis)
		fmt.Fprintf(&b, "- Highest %s: %s (%s)\n", out.Chart.YAxis, best.Label, num(best.Value))
		fmt.Fprintf(&b, "- Lowest %s: %s (%s)\n", out.Chart.YAxis, worst.Label, num(worst.Value))
		if worst.Value != 0 {
			fmt.Fprintf(&b, "- Gap: %s (%.1f%%)\n", num(best.Value-worst.Value), (best.Value-worst.Value)/worst.Value*100)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func num(f float64) string { return fmt.Sprintf("%.2f", f) }
