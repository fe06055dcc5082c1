package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "TABLOOM"

// Global configuration structure.
type Global struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model"`
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost       string `mapstructure:"ollama_host" yaml:"ollama_host"`
	OllamaTimeoutSec int    `mapstructure:"ollama_timeout_sec" yaml:"ollama_timeout_sec"`

	// Model call budgets; each falls back to deterministic output when exceeded.
	PlanTimeoutSec     int  `mapstructure:"plan_timeout_sec" yaml:"plan_timeout_sec"`
	ClassifyTimeoutSec int  `mapstructure:"classify_timeout_sec" yaml:"classify_timeout_sec"`
	InsightTimeoutSec  int  `mapstructure:"insight_timeout_sec" yaml:"insight_timeout_sec"`
	AIClassify         bool `mapstructure:"ai_classify" yaml:"ai_classify"`

	// Server
	ListenAddr  string `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	MaxRows     int    `mapstructure:"max_rows" yaml:"max_rows"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
}

// Keys lists every configuration key in file order.
var Keys = []string{
	"api_key", "default_provider", "default_model", "max_tokens", "temperature",
	"http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
	"ollama_host", "ollama_timeout_sec",
	"plan_timeout_sec", "classify_timeout_sec", "insight_timeout_sec", "ai_classify",
	"listen_addr", "max_upload_mb", "max_rows", "log_level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("default_model", "openai/gpt-4o-mini")
	v.SetDefault("default_provider", "openrouter")
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("temperature", 0.2)
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	// Ollama defaults
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	v.SetDefault("ollama_timeout_sec", 60)
	v.SetDefault("plan_timeout_sec", 30)
	v.SetDefault("classify_timeout_sec", 20)
	v.SetDefault("insight_timeout_sec", 30)
	v.SetDefault("ai_classify", false)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("max_upload_mb", 50)
	v.SetDefault("max_rows", 0)
	v.SetDefault("log_level", "info")
}

// Dir returns ~/.tabloom.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".tabloom"), nil
}

// Path returns the file Load reads: cfgFile when set, else ~/.tabloom/config.yaml.
func Path(cfgFile string) (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.tabloom/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path, err := Path(cfgFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (applied by the caller) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Set parses value for key and stores it on c.
func (c *Global) Set(key, value string) error {
	switch key {
	case "api_key":
		c.APIKey = value
	case "default_provider":
		c.DefaultProvider = value
	case "default_model":
		c.DefaultModel = value
	case "ollama_host":
		c.OllamaHost = value
	case "listen_addr":
		c.ListenAddr = value
	case "log_level":
		c.LogLevel = value
	case "temperature":
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Temperature = f
	case "ai_classify":
		b, err := cast.ToBoolE(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.AIClassify = b
	default:
		p, ok := c.intField(key)
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		n, err := cast.ToIntE(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*p = n
	}
	return nil
}

func (c *Global) intField(key string) (*int, bool) {
	fields := map[string]*int{
		"max_tokens":           &c.MaxTokens,
		"http_timeout_sec":     &c.HTTPTimeoutSec,
		"retry_max_attempts":   &c.RetryMaxAttempts,
		"retry_base_delay_ms":  &c.RetryBaseDelayMs,
		"retry_max_delay_ms":   &c.RetryMaxDelayMs,
		"ollama_timeout_sec":   &c.OllamaTimeoutSec,
		"plan_timeout_sec":     &c.PlanTimeoutSec,
		"classify_timeout_sec": &c.ClassifyTimeoutSec,
		"insight_timeout_sec":  &c.InsightTimeoutSec,
		"max_upload_mb":        &c.MaxUploadMB,
		"max_rows":             &c.MaxRows,
	}
	p, ok := fields[key]
	return p, ok
}

// Seconds converts a *_sec value to a duration, using def when n <= 0.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// Millis converts a *_ms value to a duration, using def when n <= 0.
func Millis(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
