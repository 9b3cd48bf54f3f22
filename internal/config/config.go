package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/strategy"
)

// ReportFormat selects the encoding of the report file.
type ReportFormat string

const (
	ReportFormatText ReportFormat = "text"
	ReportFormatJSON ReportFormat = "json"
	ReportFormatYAML ReportFormat = "yaml"
)

type Config struct {
	Strategy         string            `mapstructure:"strategy"`
	StrategyMode     int               `mapstructure:"strategy_mode"`
	Smoke            time.Duration     `mapstructure:"smoke"`
	TargetURL        string            `mapstructure:"target"`
	Method           string            `mapstructure:"method"`
	Headers          map[string]string `mapstructure:"headers"`
	Body             string            `mapstructure:"body"`
	BodyFile         string            `mapstructure:"body_file"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	Retries          int               `mapstructure:"retries"`
	ThinkTime        time.Duration     `mapstructure:"think_time"`
	TickInterval     time.Duration     `mapstructure:"tick_interval"`
	SampleInterval   time.Duration     `mapstructure:"sample_interval"`
	SchedulerQuantum time.Duration     `mapstructure:"scheduler_quantum"`
	RampTimeout      time.Duration     `mapstructure:"ramp_timeout"`
	Resource         ResourceConfig    `mapstructure:"resource"`
	Tracing          TracingConfig     `mapstructure:"tracing"`
	JSONOutput       bool              `mapstructure:"json_output"`
	ReportFile       string            `mapstructure:"report_file"`
	ReportFormat     ReportFormat      `mapstructure:"report_format"`
	Dashboard        bool              `mapstructure:"dashboard"`
	LogErrors        bool              `mapstructure:"log_errors"`
	LogLevel         string            `mapstructure:"log_level"`
	LogJSON          bool              `mapstructure:"log_json"`
	Tester           string            `mapstructure:"tester"`
	Thresholds       []string          `mapstructure:"thresholds"`
	ConfigFile       string            `mapstructure:"-"`
}

// ResourceConfig points the resource sampler at a JSON endpoint describing
// the system under test.
type ResourceConfig struct {
	URL      string            `mapstructure:"url"`
	Interval time.Duration     `mapstructure:"interval"`
	Fields   map[string]string `mapstructure:"fields"` // series name -> JSON path
	Headers  map[string]string `mapstructure:"headers"`
}

// Enabled reports whether a resource endpoint is configured.
func (r ResourceConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // nil follows Enabled
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether outgoing requests carry W3C trace headers.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Mode returns the validated strategy mode.
func (c Config) Mode() (strategy.Mode, error) {
	return strategy.ParseMode(c.StrategyMode)
}

// Plan expands the configured strategy descriptor.
func (c Config) Plan() (strategy.Plan, error) {
	mode, err := c.Mode()
	if err != nil {
		return strategy.Plan{}, err
	}
	return strategy.Parse(c.Strategy, mode)
}

// EffectiveReportFormat falls back to the report file extension, then JSON.
func (c Config) EffectiveReportFormat() ReportFormat {
	if c.ReportFormat != "" {
		return ReportFormat(strings.ToLower(string(c.ReportFormat)))
	}
	lower := strings.ToLower(c.ReportFile)
	switch {
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return ReportFormatYAML
	case strings.HasSuffix(lower, ".txt"):
		return ReportFormatText
	default:
		return ReportFormatJSON
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.TargetURL) == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else if u, err := url.Parse(c.TargetURL); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target must be an absolute URL: %q", c.TargetURL))
	}

	switch {
	case c.Smoke < 0:
		issues = append(issues, "smoke must be non-negative")
	case c.Smoke > 0:
		// A smoke run replaces the strategy.
	default:
		if _, err := c.Plan(); err != nil {
			issues = append(issues, fmt.Sprintf("strategy: %v", err))
		} else if d, err := strategy.ParseDescriptor(c.Strategy); err == nil && d.End > 1000 {
			fmt.Fprintf(os.Stderr, "WARNING: strategy ramps to %d users. Ensure you have authorization to test the target system.\n", d.End)
		}
	}

	if c.Timeout < 0 {
		issues = append(issues, "timeout must be non-negative")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be non-negative")
	}
	if c.ThinkTime < 0 {
		issues = append(issues, "think_time must be non-negative")
	}
	if c.TickInterval < 0 {
		issues = append(issues, "tick_interval must be non-negative")
	}
	if c.SampleInterval < 0 {
		issues = append(issues, "sample_interval must be non-negative")
	}
	if c.SchedulerQuantum < 0 {
		issues = append(issues, "scheduler_quantum must be non-negative")
	}
	if c.RampTimeout < 0 {
		issues = append(issues, "ramp_timeout must be non-negative")
	}

	if c.Body != "" && c.BodyFile != "" {
		issues = append(issues, "body and body_file are mutually exclusive")
	}
	if c.BodyFile != "" {
		if _, err := os.Stat(c.BodyFile); err != nil {
			issues = append(issues, fmt.Sprintf("body_file: %v", err))
		}
	}

	if c.Resource.Enabled() {
		if len(c.Resource.Fields) == 0 {
			issues = append(issues, "resource.fields must name at least one field when resource.url is set")
		}
		if c.Resource.Interval < 0 {
			issues = append(issues, "resource.interval must be non-negative")
		}
	}

	if c.Tracing.Enabled() {
		switch strings.ToLower(c.Tracing.Protocol) {
		case "", "grpc", "http":
		default:
			issues = append(issues, fmt.Sprintf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
		}
	}

	switch ReportFormat(strings.ToLower(string(c.ReportFormat))) {
	case "", ReportFormatText, ReportFormatJSON, ReportFormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("report_format must be text, json or yaml, got %q", c.ReportFormat))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
