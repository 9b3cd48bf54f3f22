package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/strategy"
)

func TestLoadWithoutArgsRequestsHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load() error = %v, want ErrHelpRequested", err)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{"--strategy", "1_1_0_5"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetURL != "" {
		t.Errorf("TargetURL = %q, want empty", cfg.TargetURL)
	}
	if cfg.Method != "GET" {
		t.Errorf("Method = %q, want GET", cfg.Method)
	}
	if cfg.StrategyMode != 0 {
		t.Errorf("StrategyMode = %d, want 0", cfg.StrategyMode)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %s, want 1s", cfg.TickInterval)
	}
	if cfg.SampleInterval != 2*time.Second {
		t.Errorf("SampleInterval = %s, want 2s", cfg.SampleInterval)
	}
	if cfg.Resource.Interval != 10*time.Second {
		t.Errorf("Resource.Interval = %s, want 10s", cfg.Resource.Interval)
	}
	if cfg.RampTimeout != 0 {
		t.Errorf("RampTimeout = %s, want 0", cfg.RampTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.JSONOutput {
		t.Errorf("JSONOutput = true, want false")
	}
	if cfg.Tracing.Enabled() {
		t.Errorf("Tracing.Enabled() = true, want false")
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("Headers len = %d, want 0", len(cfg.Headers))
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"strategy": "10_30_10_60",
		"strategyMode": 1,
		"target": "https://api.example.com",
		"method": "PUT",
		"headers": {"Content-Type": "application/json"},
		"body": "{\"foo\":\"bar\"}",
		"timeout": "45s",
		"retries": 3,
		"rampTimeout": "20s",
		"jsonOutput": true,
		"reportFile": "out/report.yaml",
		"tester": "qa-team"
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path, "--method", "PATCH", "--header", "Authorization=Bearer token"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Strategy != "10_30_10_60" {
		t.Errorf("Strategy = %q, want 10_30_10_60", cfg.Strategy)
	}
	if cfg.StrategyMode != 1 {
		t.Errorf("StrategyMode = %d, want 1", cfg.StrategyMode)
	}
	if cfg.TargetURL != "https://api.example.com" {
		t.Errorf("TargetURL = %q, want https://api.example.com", cfg.TargetURL)
	}
	if cfg.Method != "PATCH" {
		t.Errorf("Method = %q, want PATCH", cfg.Method)
	}
	if cfg.Headers["Content-Type"] != "application/json" {
		t.Errorf("Headers[Content-Type] = %q, want application/json", cfg.Headers["Content-Type"])
	}
	if cfg.Headers["Authorization"] != "Bearer token" {
		t.Errorf("Headers[Authorization] = %q, want Bearer token", cfg.Headers["Authorization"])
	}
	if cfg.Body != `{"foo":"bar"}` {
		t.Errorf("Body = %q, want {\"foo\":\"bar\"}", cfg.Body)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Timeout = %s, want 45s", cfg.Timeout)
	}
	if cfg.Retries != 3 {
		t.Errorf("Retries = %d, want 3", cfg.Retries)
	}
	if cfg.RampTimeout != 20*time.Second {
		t.Errorf("RampTimeout = %s, want 20s", cfg.RampTimeout)
	}
	if !cfg.JSONOutput {
		t.Errorf("JSONOutput = false, want true")
	}
	if cfg.EffectiveReportFormat() != config.ReportFormatYAML {
		t.Errorf("EffectiveReportFormat() = %q, want yaml", cfg.EffectiveReportFormat())
	}
	if cfg.Tester != "qa-team" {
		t.Errorf("Tester = %q, want qa-team", cfg.Tester)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"strategy: 5_20_5_30",
		"strategy_mode: 2",
		"target: https://service.example.com",
		"method: POST",
		"headers:",
		"  X-Env: staging",
		"think_time: 100ms",
		"sample_interval: 1s",
		"resource:",
		"  url: https://service.example.com/metrics",
		"  interval: 5s",
		"  fields:",
		"    cpu: process.cpu",
		"    rss: process.memory.rss",
		"tracing:",
		"  endpoint: localhost:4317",
		"  insecure: true",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Strategy != "5_20_5_30" || cfg.StrategyMode != 2 {
		t.Errorf("strategy = %q mode %d, want 5_20_5_30 mode 2", cfg.Strategy, cfg.StrategyMode)
	}
	if cfg.Method != "POST" {
		t.Errorf("Method = %q, want POST", cfg.Method)
	}
	if cfg.Headers["X-Env"] != "staging" {
		t.Errorf("Headers[X-Env] = %q, want staging", cfg.Headers["X-Env"])
	}
	if cfg.ThinkTime != 100*time.Millisecond {
		t.Errorf("ThinkTime = %s, want 100ms", cfg.ThinkTime)
	}
	if cfg.SampleInterval != time.Second {
		t.Errorf("SampleInterval = %s, want 1s", cfg.SampleInterval)
	}
	if !cfg.Resource.Enabled() || cfg.Resource.Interval != 5*time.Second {
		t.Errorf("Resource = %+v", cfg.Resource)
	}
	if cfg.Resource.Fields["rss"] != "process.memory.rss" {
		t.Errorf("Resource.Fields[rss] = %q", cfg.Resource.Fields["rss"])
	}
	if !cfg.Tracing.Enabled() || !cfg.Tracing.Insecure || !cfg.Tracing.ShouldPropagate() {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}

	plan, err := cfg.Plan()
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Len() != 4 {
		t.Errorf("Plan().Len() = %d, want 4 load stages in bare mode", plan.Len())
	}
}

func TestFlagBodyOverridesConfigBodyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"bodyFile":"payload.json"}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path, "--body", "inline"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Body != "inline" {
		t.Errorf("Body = %q, want inline", cfg.Body)
	}
	if cfg.BodyFile != "" {
		t.Errorf("BodyFile = %q, want empty", cfg.BodyFile)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		have config.Config
		want []string
	}{
		{
			name: "missing target and strategy",
			have: config.Config{},
			want: []string{"target", "strategy"},
		},
		{
			name: "bad descriptor",
			have: config.Config{TargetURL: "https://example.com", Strategy: "10_5_1"},
			want: []string{"strategy", strategy.ErrInvalidStrategy.Error()},
		},
		{
			name: "bad mode",
			have: config.Config{TargetURL: "https://example.com", Strategy: "1_2_1_5", StrategyMode: 3},
			want: []string{"mode"},
		},
		{
			name: "negative values",
			have: config.Config{
				TargetURL:      "https://example.com",
				Strategy:       "1_2_1_5",
				Timeout:        -1,
				Retries:        -1,
				ThinkTime:      -1,
				SampleInterval: -1,
				RampTimeout:    -1,
			},
			want: []string{"timeout", "retries", "think_time", "sample_interval", "ramp_timeout"},
		},
		{
			name: "negative smoke",
			have: config.Config{TargetURL: "https://example.com", Smoke: -time.Second},
			want: []string{"smoke"},
		},
		{
			name: "body conflict",
			have: config.Config{
				TargetURL: "https://example.com",
				Strategy:  "1_2_1_5",
				Body:      "inline",
				BodyFile:  "payload.json",
			},
			want: []string{"body"},
		},
		{
			name: "resource without fields",
			have: config.Config{
				TargetURL: "https://example.com",
				Strategy:  "1_2_1_5",
				Resource:  config.ResourceConfig{URL: "http://metrics"},
			},
			want: []string{"resource.fields"},
		},
		{
			name: "tracing and output",
			have: config.Config{
				TargetURL:    "https://example.com",
				Strategy:     "1_2_1_5",
				Tracing:      config.TracingConfig{Endpoint: "x:4317", Protocol: "thrift", SampleRate: 2},
				ReportFormat: "html",
				LogLevel:     "loud",
			},
			want: []string{"tracing.protocol", "tracing.sample_rate", "report_format", "log_level"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.have.Validate()
			if err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) || len(verr.Issues()) == 0 {
				t.Fatalf("Validate() error %T, want ValidationError with issues", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() error %q missing %q", err.Error(), want)
				}
			}
		})
	}
}

func TestConfigValidateAcceptsMinimal(t *testing.T) {
	cfg := config.Config{TargetURL: "http://localhost:8080/health", Strategy: "1_3_1_10"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestConfigValidateSmokeSkipsStrategy(t *testing.T) {
	cfg := config.Config{TargetURL: "https://example.com", Smoke: 30 * time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want smoke run without a strategy to pass", err)
	}
}

func TestEffectiveReportFormat(t *testing.T) {
	tests := []struct {
		cfg  config.Config
		want config.ReportFormat
	}{
		{config.Config{ReportFile: "r.json"}, config.ReportFormatJSON},
		{config.Config{ReportFile: "r.YML"}, config.ReportFormatYAML},
		{config.Config{ReportFile: "r.txt"}, config.ReportFormatText},
		{config.Config{ReportFile: "r.yaml", ReportFormat: "TEXT"}, config.ReportFormatText},
		{config.Config{}, config.ReportFormatJSON},
	}
	for _, tt := range tests {
		if got := tt.cfg.EffectiveReportFormat(); got != tt.want {
			t.Errorf("EffectiveReportFormat(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}
