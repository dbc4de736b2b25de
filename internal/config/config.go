// Package config loads service settings from flags, IDF_* environment variables and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joelkehle/idf-drafter/internal/layout"
)

const (
	EnvPrefix = "IDF"

	DefaultListenAddr  = ":8080"
	DefaultLogMode     = "development"
	DefaultLogLevel    = "info"
	DefaultTimeout     = 90 * time.Second
	DefaultMaxAttempts = 2
	DefaultDraftTTL    = 24 * time.Hour
	DefaultMaxUpload   = 10 << 20
	DefaultPreviewDPI  = 96
)

type Config struct {
	ListenAddr string
	LogMode    string
	LogLevel   string

	AnthropicAPIKey  string
	AnthropicModel   string
	PerplexityAPIKey string
	PerplexityURL    string
	PerplexityModel  string
	Timeout          time.Duration
	MaxAttempts      int

	FontRegular string
	FontBold    string
	FiguresDir  string
	ChromePath  string
	PreviewDPI  float64
	MaxUpload   int64

	DraftTTL time.Duration

	OTELEndpoint string
	OTELInsecure bool
	SampleRatio  float64

	Branding layout.Branding
}

// Flags declares every setting on fs. Keys use dots; flags use dashes.
func Flags(fs *pflag.FlagSet) {
	b := layout.DefaultBranding()
	fs.String("listen", DefaultListenAddr, "HTTP listen address")
	fs.String("log-mode", DefaultLogMode, "log encoding: development or production")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("anthropic-model", "", "Anthropic model used to bootstrap drafts")
	fs.String("perplexity-url", "", "Perplexity-compatible chat completions base URL")
	fs.String("perplexity-model", "", "model used to refine fields")
	fs.Duration("timeout", DefaultTimeout, "per-attempt provider timeout")
	fs.Int("max-attempts", DefaultMaxAttempts, "provider attempts on transient failures")
	fs.String("font-regular", "", "TTF used for regular text (Go fonts when empty)")
	fs.String("font-bold", "", "TTF used for bold text (Go fonts when empty)")
	fs.String("figures-dir", "figures", "directory holding uploaded figures")
	fs.String("chrome-path", "", "Chromium binary used for PDF export")
	fs.Float64("preview-dpi", DefaultPreviewDPI, "resolution of PNG page previews")
	fs.Int64("max-upload", DefaultMaxUpload, "largest accepted figure upload in bytes")
	fs.Duration("draft-ttl", DefaultDraftTTL, "drafts untouched for longer are pruned")
	fs.String("otel-endpoint", "", "OTLP/HTTP trace endpoint (tracing off when empty)")
	fs.Float64("otel-sample-ratio", 1, "trace sampling ratio")
	fs.String("institution", b.Institution, "institution name printed in the banner")
	fs.String("form-title", b.FormTitle, "form title printed in the banner")
	fs.String("contact-line", b.ContactLine, "footer contact line")
	fs.String("config", "", "optional config file (yaml, json or toml)")
}

var flagKeys = map[string]string{
	"listen":            "listen",
	"log-mode":          "log.mode",
	"log-level":         "log.level",
	"anthropic-model":   "anthropic.model",
	"perplexity-url":    "perplexity.url",
	"perplexity-model":  "perplexity.model",
	"timeout":           "generate.timeout",
	"max-attempts":      "generate.max_attempts",
	"font-regular":      "fonts.regular",
	"font-bold":         "fonts.bold",
	"figures-dir":       "figures.dir",
	"chrome-path":       "render.chrome_path",
	"preview-dpi":       "render.preview_dpi",
	"max-upload":        "figures.max_upload",
	"draft-ttl":         "drafts.ttl",
	"otel-endpoint":     "otel.endpoint",
	"otel-sample-ratio": "otel.sample_ratio",
	"institution":       "branding.institution",
	"form-title":        "branding.form_title",
	"contact-line":      "branding.contact_line",
}

// Load resolves settings with flag > env > file > default precedence. fs must already be
// parsed; it may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs == nil {
		fs = pflag.NewFlagSet("idf", pflag.ContinueOnError)
		Flags(fs)
	}
	for flag, key := range flagKeys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		v.SetDefault(key, f.DefValue)
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind %s: %w", flag, err)
		}
	}
	_ = v.BindEnv("otel.endpoint", "IDF_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("anthropic.api_key", "IDF_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("perplexity.api_key", "IDF_PERPLEXITY_API_KEY", "PERPLEXITY_API_KEY")

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", f.Value.String(), err)
		}
	}

	brand := layout.DefaultBranding()
	brand.Institution = v.GetString("branding.institution")
	brand.FormTitle = v.GetString("branding.form_title")
	brand.ContactLine = v.GetString("branding.contact_line")

	cfg := &Config{
		ListenAddr:       v.GetString("listen"),
		LogMode:          v.GetString("log.mode"),
		LogLevel:         strings.ToLower(v.GetString("log.level")),
		AnthropicAPIKey:  strings.TrimSpace(v.GetString("anthropic.api_key")),
		AnthropicModel:   v.GetString("anthropic.model"),
		PerplexityAPIKey: strings.TrimSpace(v.GetString("perplexity.api_key")),
		PerplexityURL:    v.GetString("perplexity.url"),
		PerplexityModel:  v.GetString("perplexity.model"),
		Timeout:          v.GetDuration("generate.timeout"),
		MaxAttempts:      v.GetInt("generate.max_attempts"),
		FontRegular:      v.GetString("fonts.regular"),
		FontBold:         v.GetString("fonts.bold"),
		FiguresDir:       v.GetString("figures.dir"),
		ChromePath:       v.GetString("render.chrome_path"),
		PreviewDPI:       v.GetFloat64("render.preview_dpi"),
		MaxUpload:        v.GetInt64("figures.max_upload"),
		DraftTTL:         v.GetDuration("drafts.ttl"),
		OTELEndpoint:     v.GetString("otel.endpoint"),
		OTELInsecure:     strings.HasPrefix(v.GetString("otel.endpoint"), "http://"),
		SampleRatio:      v.GetFloat64("otel.sample_ratio"),
		Branding:         brand,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and that configured font files exist. Missing API keys are not an
// error: the service runs without AI assistance.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address cannot be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.PreviewDPI <= 0 {
		return errors.New("preview dpi must be positive")
	}
	if c.MaxUpload <= 0 {
		return errors.New("max upload must be positive")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.New("sample ratio must be within [0, 1]")
	}
	if (c.FontRegular == "") != (c.FontBold == "") {
		return errors.New("font-regular and font-bold must be set together")
	}
	for _, p := range []string{c.FontRegular, c.FontBold} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", layout.ErrFontUnavailable, p)
		}
	}
	return nil
}
