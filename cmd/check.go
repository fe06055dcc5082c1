package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabloom/internal/safety"
)

var checkVerbose bool

var checkCmd = &cobra.Command{
	Use:   "check <query>",
	Short: "Run a question through the safety filter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := strings.Join(args, " ")
		d := safety.Default.Check(q)
		out := cmd.OutOrStdout()
		mark := "✓"
		if !d.Allowed() {
			mark = "✗"
		}
		fmt.Fprintf(out, "%s %s\n%s\n", mark, d.Verdict, d.Message)
		if checkVerbose {
			domain, analysis := safety.Default.Score(q)
			fmt.Fprintf(out, "\nrule: %s\ndomain keywords: %d\nanalysis keywords: %d\n", d.Rule, domain, analysis)
			if !d.Allowed() {
				fmt.Fprintln(out, "\nTry for example:")
				for _, ex := range safety.Examples {
					fmt.Fprintf(out, "  - %s\n", ex)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "show the deciding rule and keyword hit counts")
}
