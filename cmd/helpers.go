package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/KaramelBytes/tabloom/internal/ai"
	"github.com/KaramelBytes/tabloom/internal/classify"
	cfgpkg "github.com/KaramelBytes/tabloom/internal/config"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/export"
	"github.com/KaramelBytes/tabloom/internal/insight"
	"github.com/KaramelBytes/tabloom/internal/instruction"
	"github.com/KaramelBytes/tabloom/internal/utils"
)

type runtimeOptions struct {
	ProviderFlag string
	OllamaHost   string
}

func buildRuntime(cfg *cfgpkg.Global, opts runtimeOptions) (ai.Runtime, string, error) {
	httpTimeout := 60 * time.Second
	retryMax := 3
	baseDelay := 500 * time.Millisecond
	maxDelay := 4 * time.Second
	if cfg != nil {
		httpTimeout = cfgpkg.Seconds(cfg.HTTPTimeoutSec, httpTimeout)
		if cfg.RetryMaxAttempts > 0 {
			retryMax = cfg.RetryMaxAttempts
		}
		baseDelay = cfgpkg.Millis(cfg.RetryBaseDelayMs, baseDelay)
		maxDelay = cfgpkg.Millis(cfg.RetryMaxDelayMs, maxDelay)
	}

	providerName := strings.TrimSpace(opts.ProviderFlag)
	if providerName == "" && cfg != nil {
		providerName = cfg.DefaultProvider
	}
	providerName = ai.NormalizeProvider(providerName)
	switch providerName {
	case "":
		providerName = ai.ProviderOpenRouter
	case "openai", "anthropic", "google", "gemini", "meta", "llama":
		providerName = ai.ProviderOpenRouter
	}

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" && cfg != nil {
		apiKey = cfg.APIKey
	}
	rc := ai.RuntimeConfig{
		HTTPTimeout: httpTimeout,
		RetryMax:    retryMax,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		APIKey:      apiKey,
	}

	if providerName == ai.ProviderOllama {
		host := strings.TrimSpace(opts.OllamaHost)
		if host == "" && cfg != nil {
			host = cfg.OllamaHost
		}
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		rc.Host = host
		if cfg != nil && cfg.OllamaTimeoutSec > 0 {
			rc.HTTPTimeout = time.Duration(cfg.OllamaTimeoutSec) * time.Second
		}
	}

	client, ok := ai.GetRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s (use %s)", providerName, strings.Join(ai.Providers(), " or "))
	}
	return client, providerName, nil
}

// selectModel prefers the flag, then config, then the provider default.
func selectModel(cfg *cfgpkg.Global, provider, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cfg != nil && cfg.DefaultModel != "" && ai.NormalizeProvider(cfg.DefaultProvider) == provider {
		return cfg.DefaultModel
	}
	if m := ai.DefaultModel(provider); m != "" {
		return m
	}
	return "openai/gpt-4o-mini"
}

// components holds the model-backed stages; all work with a nil runtime.
type components struct {
	runtime    ai.Runtime
	provider   string
	model      string
	classifier *classify.Classifier
	planner    *instruction.Planner
	narrator   *insight.Narrator
}

type componentOptions struct {
	NoAI       bool
	AIClassify bool
	runtimeOptions
	Model string
}

func buildComponents(cfg *cfgpkg.Global, opts componentOptions) (*components, error) {
	if cfg == nil {
		cfg = &cfgpkg.Global{}
	}
	c := &components{}
	if !opts.NoAI {
		rt, provider, err := buildRuntime(cfg, opts.runtimeOptions)
		if err != nil {
			return nil, err
		}
		c.runtime, c.provider = rt, provider
		c.model = selectModel(cfg, provider, opts.Model)
	}
	classifyRT := c.runtime
	if !opts.AIClassify && !cfg.AIClassify {
		classifyRT = nil
	}
	c.classifier = classify.New(classify.Config{
		Runtime: classifyRT,
		Model:   c.model,
		Timeout: cfgpkg.Seconds(cfg.ClassifyTimeoutSec, classify.DefaultTimeout),
		Logger:  logger,
	})
	c.planner = instruction.NewPlanner(instruction.Config{
		Runtime:     c.runtime,
		Model:       c.model,
		Timeout:     cfgpkg.Seconds(cfg.PlanTimeoutSec, instruction.DefaultTimeout),
		Temperature: cfg.Temperature,
		Logger:      logger,
	})
	c.narrator = insight.NewNarrator(insight.Config{
		Runtime:     c.runtime,
		Model:       c.model,
		Timeout:     cfgpkg.Seconds(cfg.InsightTimeoutSec, insight.DefaultTimeout),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Logger:      logger,
	})
	return c, nil
}

// loadFlags are the dataset reading flags shared by classify and ask.
type loadFlags struct {
	Delimiter  string
	Decimal    string
	Thousands  string
	SheetName  string
	SheetIndex int
	MaxRows    int
}

func (f loadFlags) options() (dataset.Options, error) {
	opt := dataset.DefaultOptions()
	if f.MaxRows >= 0 {
		opt.MaxRows = f.MaxRows
	}
	if f.SheetName != "" {
		opt.SheetName = f.SheetName
	}
	if f.SheetIndex > 0 {
		opt.SheetIndex = f.SheetIndex
	}
	switch f.Delimiter {
	case "":
	case ",":
		opt.Delimiter = ','
	case "\t", "tab":
		opt.Delimiter = '\t'
	case ";":
		opt.Delimiter = ';'
	case "|", "pipe":
		opt.Delimiter = '|'
	default:
		return opt, fmt.Errorf("unsupported --delimiter: %s", f.Delimiter)
	}
	switch strings.ToLower(strings.TrimSpace(f.Decimal)) {
	case ",", "comma":
		opt.DecimalSeparator = ','
	case ".", "dot":
		opt.DecimalSeparator = '.'
	case "":
	default:
		return opt, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", f.Decimal)
	}
	switch strings.ToLower(f.Thousands) {
	case ",":
		opt.ThousandsSeparator = ','
	case ".":
		opt.ThousandsSeparator = '.'
	case "space", " ":
		opt.ThousandsSeparator = ' '
	case "":
	default:
		return opt, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", f.Thousands)
	}
	return opt, nil
}

func (f *loadFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Delimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' | 'pipe' (sniffed if omitted)")
	fs.StringVar(&f.Decimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	fs.StringVar(&f.Thousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	fs.StringVar(&f.SheetName, "sheet-name", "", "XLSX: sheet name to load")
	fs.IntVar(&f.SheetIndex, "sheet-index", 1, "XLSX: 1-based sheet index (used if --sheet-name not provided)")
	fs.IntVar(&f.MaxRows, "max-rows", 100000, "maximum rows to load (0 = unlimited)")
}

// writeDataset writes ds to path in the format its extension names.
func writeDataset(path string, ds *dataset.Dataset) error {
	f, ok := export.FormatFor(path)
	if !ok {
		return fmt.Errorf("unsupported output extension for %s (use .arrow, .parquet or .json)", path)
	}
	var buf bytes.Buffer
	if err := export.WriteDataset(&buf, f, ds); err != nil {
		return err
	}
	return utils.SafeWriteFile(path, buf.Bytes())
}

func printTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	line := func(cells []string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = c + strings.Repeat(" ", widths[i]-len(c))
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	line(header)
	for _, r := range rows {
		line(r)
	}
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }
