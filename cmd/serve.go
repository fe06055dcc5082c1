package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabloom/internal/pipeline"
	"github.com/KaramelBytes/tabloom/internal/server"
)

var (
	serveAddr       string
	serveProvider   string
	serveModel      string
	serveNoAI       bool
	serveAIClassify bool
	serveMaxRows    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload and query HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(cfg, componentOptions{
			NoAI:           serveNoAI,
			AIClassify:     serveAIClassify,
			runtimeOptions: runtimeOptions{ProviderFlag: serveProvider},
			Model:          serveModel,
		})
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = cfg.ListenAddr
		}
		if addr == "" {
			addr = ":8080"
		}
		load, err := (loadFlags{MaxRows: cfg.MaxRows}).options()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-rows") {
			load.MaxRows = serveMaxRows
		}

		srv := server.New(server.Config{
			Classifier:     comps.classifier,
			Planner:        comps.planner,
			Narrator:       comps.narrator,
			Engine:         pipeline.NewEngine(logger),
			Runtime:        comps.runtime,
			Model:          comps.model,
			Load:           load,
			MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
			Logger:         logger,
		})
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "model provider: openrouter|ollama (default from config)")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "model name (default from config)")
	serveCmd.Flags().BoolVar(&serveNoAI, "no-ai", false, "serve deterministic answers only")
	serveCmd.Flags().BoolVar(&serveAIClassify, "ai-classify", false, "classify uploaded columns with the model")
	serveCmd.Flags().IntVar(&serveMaxRows, "max-rows", 0, "maximum rows loaded per upload (0 = unlimited, default from config)")
}
