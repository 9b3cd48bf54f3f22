package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	return LoadFlags(cmd.Flags(), len(args) == 0)
}

// LoadFlags builds a Config from an already parsed flag set, reading the file
// named by --config first and applying changed flags on top. When noArgs is
// set and no config file is given, help is requested.
func LoadFlags(flagSet *pflag.FlagSet, noArgs bool) (*Config, error) {
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if noArgs && configPath == "" {
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.BodyFile = strings.TrimSpace(cfg.BodyFile)
	cfg.Strategy = strings.TrimSpace(cfg.Strategy)

	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Method:           "GET",
		Headers:          map[string]string{},
		Timeout:          30 * time.Second,
		TickInterval:     time.Second,
		SampleInterval:   2 * time.Second,
		SchedulerQuantum: time.Second,
		Resource:         ResourceConfig{Interval: 10 * time.Second},
		Tracing:          TracingConfig{Protocol: "grpc", SampleRate: 1.0},
		LogLevel:         "info",
	}
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "strategy"); ok {
		val, err := asStrategy(raw)
		if err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
		cfg.Strategy = val
	}

	if raw, ok := lookupSetting(settings, "strategymode", "strategy_mode", "strategy-mode"); ok {
		val, err := asMode(raw)
		if err != nil {
			return fmt.Errorf("strategyMode: %w", err)
		}
		cfg.StrategyMode = val
	}

	if raw, ok := lookupSetting(settings, "smoke"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("smoke: %w", err)
		}
		cfg.Smoke = dur
	}

	if raw, ok := lookupSetting(settings, "ramptimeout", "ramp_timeout", "ramp-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("rampTimeout: %w", err)
		}
		cfg.RampTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("method: %w", err)
		}
		if val != "" {
			cfg.Method = val
		}
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "body"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("body: %w", err)
		}
		cfg.Body = val
	}

	if raw, ok := lookupSetting(settings, "bodyfile", "body_file", "body-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("bodyFile: %w", err)
		}
		cfg.BodyFile = val
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "retries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("retries: %w", err)
		}
		cfg.Retries = val
	}

	if raw, ok := lookupSetting(settings, "thinktime", "think_time", "think-time"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("thinkTime: %w", err)
		}
		cfg.ThinkTime = dur
	}

	if raw, ok := lookupSetting(settings, "tickinterval", "tick_interval", "tick-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("tickInterval: %w", err)
		}
		cfg.TickInterval = dur
	}

	if raw, ok := lookupSetting(settings, "sampleinterval", "sample_interval", "sample-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("sampleInterval: %w", err)
		}
		cfg.SampleInterval = dur
	}

	if raw, ok := lookupSetting(settings, "schedulerquantum", "scheduler_quantum", "scheduler-quantum"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("schedulerQuantum: %w", err)
		}
		cfg.SchedulerQuantum = dur
	}

	if raw, ok := lookupSetting(settings, "resource"); ok {
		res, err := parseResource(raw, cfg.Resource)
		if err != nil {
			return fmt.Errorf("resource: %w", err)
		}
		cfg.Resource = res
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tr, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tr
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "reportfile", "report_file", "report-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("reportFile: %w", err)
		}
		cfg.ReportFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "reportformat", "report_format", "report-format"); ok {
		val, err := asReportFormat(raw)
		if err != nil {
			return fmt.Errorf("reportFormat: %w", err)
		}
		cfg.ReportFormat = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "logerrors", "log_errors", "log-errors"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("logErrors: %w", err)
		}
		cfg.LogErrors = val
	}

	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}

	if raw, ok := lookupSetting(settings, "logjson", "log_json", "log-json"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("logJSON: %w", err)
		}
		cfg.LogJSON = val
	}

	if raw, ok := lookupSetting(settings, "tester"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("tester: %w", err)
		}
		cfg.Tester = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	return nil
}

func parseResource(value interface{}, base ResourceConfig) (ResourceConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return ResourceConfig{}, err
	}
	res := base
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return ResourceConfig{}, fmt.Errorf("url: %w", err)
		}
		res.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return ResourceConfig{}, fmt.Errorf("interval: %w", err)
		}
		res.Interval = dur
	}
	if raw, ok := lookupSetting(settings, "fields"); ok {
		fields, err := asFieldPaths(raw)
		if err != nil {
			return ResourceConfig{}, fmt.Errorf("fields: %w", err)
		}
		res.Fields = fields
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return ResourceConfig{}, fmt.Errorf("headers: %w", err)
		}
		res.Headers = make(map[string]string, len(hdrs))
		for k, v := range hdrs {
			res.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}
	return res, nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tr := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		tr.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		tr.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("serviceName: %w", err)
		}
		tr.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sampleRate: %w", err)
		}
		tr.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tr.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tr.Propagate = &val
	}
	return tr, nil
}
