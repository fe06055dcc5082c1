package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabloom/internal/ai"
)

var modelsPing bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List model providers and the models used by default",
	Example: `  tabloom models
  tabloom models --ping`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows := make([][]string, 0, 2)
		for _, p := range ai.Providers() {
			status := ""
			if modelsPing {
				status = pingProvider(cmd.Context(), p)
			}
			def := ""
			if cfg != nil && ai.NormalizeProvider(cfg.DefaultProvider) == p {
				def = "*"
			}
			rows = append(rows, []string{def + p, selectModel(cfg, p, ""), status})
		}
		header := []string{"PROVIDER", "MODEL", ""}
		if modelsPing {
			header[2] = "STATUS"
		}
		printTable(cmd.OutOrStdout(), header, rows)
		return nil
	},
}

// pingProvider reports whether a provider answers; runtimes that cannot
// ping are reported as unchecked.
func pingProvider(ctx context.Context, provider string) string {
	rt, _, err := buildRuntime(cfg, runtimeOptions{ProviderFlag: provider})
	if err != nil {
		return err.Error()
	}
	p, ok := rt.(ai.Pinger)
	if !ok {
		return "unchecked"
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Sprintf("unavailable (%s)", ai.Reason(err))
	}
	return "ok"
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().BoolVar(&modelsPing, "ping", false, "check that each provider answers")
}
