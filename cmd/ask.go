package cmd

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabloom/internal/export"
	"github.com/KaramelBytes/tabloom/internal/insight"
	"github.com/KaramelBytes/tabloom/internal/instruction"
	"github.com/KaramelBytes/tabloom/internal/pipeline"
	"github.com/KaramelBytes/tabloom/internal/safety"
	"github.com/KaramelBytes/tabloom/internal/utils"
)

var (
	askLoad       loadFlags
	askProvider   string
	askModel      string
	askOllamaHost string
	askNoAI       bool
	askAIClassify bool
	askJSON       bool
	askArrow      string
	askOutput     string
	askPlanOnly   bool
)

// askResult is the --json shape of an answer.
type askResult struct {
	Query             string                   `json:"query"`
	Success           bool                     `json:"success"`
	Message           string                   `json:"message,omitempty"`
	Decision          safety.Decision          `json:"safety"`
	Instruction       instruction.Instruction  `json:"instruction"`
	InstructionSource instruction.Source       `json:"instruction_source"`
	Response          string                   `json:"response,omitempty"`
	ResponseSource    insight.Source           `json:"response_source,omitempty"`
	Records           int                      `json:"records_analyzed"`
	DateRange         *pipeline.DateSpan       `json:"date_range,omitempty"`
	Summary           []pipeline.MetricSummary `json:"metrics_summary,omitempty"`
	Chart             *pipeline.ChartSeries    `json:"chart,omitempty"`
}

var askCmd = &cobra.Command{
	Use:   "ask <file> <query>",
	Short: "Answer a plain-language question about a dataset",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path, query := args[0], strings.Join(args[1:], " ")
		opt, err := askLoad.options()
		if err != nil {
			return err
		}
		ds, err := export.Load(ctx, path, opt)
		if err != nil {
			return err
		}
		comps, err := buildComponents(cfg, componentOptions{
			NoAI:           askNoAI,
			AIClassify:     askAIClassify,
			runtimeOptions: runtimeOptions{ProviderFlag: askProvider, OllamaHost: askOllamaHost},
			Model:          askModel,
		})
		if err != nil {
			return err
		}
		if comps.runtime != nil {
			level.Debug(logger).Log("msg", "using model", "provider", comps.provider, "model", comps.model)
		}

		res, err := comps.classifier.Classify(ctx, ds)
		if err != nil {
			return err
		}
		summary := pipeline.Summarize(res.Data, res.Meta)
		plan := comps.planner.Plan(ctx, query, summary.Markdown(), res.Meta)
		result := askResult{
			Query:             query,
			Decision:          plan.Decision,
			Instruction:       plan.Instruction,
			InstructionSource: plan.Source,
		}
		out := cmd.OutOrStdout()

		if plan.Instruction.Blocked() || askPlanOnly {
			result.Message = plan.Instruction.Message
			result.Success = !plan.Instruction.Blocked()
			return printAnswer(out, result)
		}

		outcome, err := pipeline.NewEngine(logger).Run(ctx, res.Data, res.Meta, plan.Instruction)
		if err != nil {
			return err
		}
		result.Instruction = outcome.Instruction
		result.Records = outcome.Records
		result.DateRange = outcome.DateRange
		result.Summary = outcome.Summary
		if outcome.NoRows {
			result.Message = insight.NoRowsMessage
			return printAnswer(out, result)
		}
		n := comps.narrator.Describe(ctx, query, outcome)
		result.Success = true
		result.Response, result.ResponseSource = n.Text, n.Source
		result.Chart = &outcome.Chart

		if askArrow != "" {
			var buf bytes.Buffer
			if err := export.WriteArrow(&buf, outcome.Aggregated.Data); err != nil {
				return err
			}
			if err := utils.SafeWriteFile(askArrow, buf.Bytes()); err != nil {
				return err
			}
		}
		if askOutput != "" {
			if err := writeDataset(askOutput, outcome.Aggregated.Data); err != nil {
				return err
			}
		}
		return printAnswer(out, result)
	},
}

func printAnswer(w io.Writer, r askResult) error {
	if askJSON {
		return export.WriteJSON(w, r)
	}
	if !r.Success {
		fmt.Fprintln(w, "✗", r.Message)
		return nil
	}
	if r.Response == "" {
		// --plan-only
		return export.WriteJSON(w, r.Instruction)
	}
	fmt.Fprintf(w, "=== %s ===\n%s\n", r.Instruction.Title, r.Response)
	if r.Chart != nil && !r.Chart.Empty() {
		rows := make([][]string, len(r.Chart.Points))
		for i, p := range r.Chart.Points {
			rows[i] = []string{p.Label, num(p.Value)}
		}
		fmt.Fprintf(w, "\n%s chart\n", r.Chart.ChartType)
		printTable(w, []string{r.Chart.XAxis, r.Chart.YAxis}, rows)
	}
	fmt.Fprintf(w, "\n(plan: %s, text: %s)\n", r.InstructionSource, r.ResponseSource)
	return nil
}

func init() {
	rootCmd.AddCommand(askCmd)
	askLoad.register(askCmd.Flags())
	askCmd.Flags().StringVar(&askProvider, "provider", "", "model provider: openrouter|ollama (default from config)")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model name (default from config)")
	askCmd.Flags().StringVar(&askOllamaHost, "ollama-host", "", "Ollama base URL (default from config)")
	askCmd.Flags().BoolVar(&askNoAI, "no-ai", false, "skip the model and use deterministic planning and text")
	askCmd.Flags().BoolVar(&askAIClassify, "ai-classify", false, "also classify columns with the model")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full result as JSON")
	askCmd.Flags().BoolVar(&askPlanOnly, "plan-only", false, "print the analysis plan without running it")
	askCmd.Flags().StringVar(&askArrow, "arrow", "", "write the aggregated table as an Arrow IPC stream")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "write the aggregated table (.arrow, .parquet or .json)")
}
