package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/export"
)

var (
	clsLoad     loadFlags
	clsJSON     bool
	clsAI       bool
	clsProvider string
	clsModel    string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file>",
	Short: "Label each column of a dataset with its business category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opt, err := clsLoad.options()
		if err != nil {
			return err
		}
		ds, err := export.Load(cmd.Context(), args[0], opt)
		if err != nil {
			return err
		}
		comps, err := buildComponents(cfg, componentOptions{
			NoAI:           !clsAI,
			AIClassify:     clsAI,
			runtimeOptions: runtimeOptions{ProviderFlag: clsProvider},
			Model:          clsModel,
		})
		if err != nil {
			return err
		}
		res, err := comps.classifier.Classify(cmd.Context(), ds)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if clsJSON {
			return export.WriteJSON(out, map[string]any{
				"file":            ds.Name,
				"rows":            res.Data.Len(),
				"source":          res.Source,
				"column_metadata": res.Meta,
			})
		}
		rows := make([][]string, 0, len(res.Data.Columns))
		for _, col := range res.Data.Columns {
			c, _ := res.Meta.Category(col)
			rows = append(rows, []string{col, string(c), sample(res.Data, col)})
		}
		fmt.Fprintf(out, "%s: %d rows, %d columns (classified by %s)\n\n", ds.Name, res.Data.Len(), len(res.Data.Columns), res.Source)
		printTable(out, []string{"COLUMN", "CATEGORY", "SAMPLE"}, rows)
		if n := len(res.Meta.Of(classify.Other)); n > 0 {
			fmt.Fprintf(out, "\n%d column(s) could not be categorised\n", n)
		}
		return nil
	},
}

// sample returns the first non-null value of col, formatted.
func sample(ds *dataset.Dataset, col string) string {
	for _, v := range ds.Column(col) {
		if v != nil {
			s := dataset.Format(v)
			if len(s) > 30 {
				s = s[:27] + "..."
			}
			return s
		}
	}
	return ""
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	clsLoad.register(classifyCmd.Flags())
	classifyCmd.Flags().BoolVar(&clsJSON, "json", false, "print JSON instead of a table")
	classifyCmd.Flags().BoolVar(&clsAI, "ai", false, "ask the configured model first, falling back to rules")
	classifyCmd.Flags().StringVar(&clsProvider, "provider", "", "model provider: openrouter|ollama (default from config)")
	classifyCmd.Flags().StringVar(&clsModel, "model", "", "model name (default from config)")
}
