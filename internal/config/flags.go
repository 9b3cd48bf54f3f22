package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagefire",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Strategy flags
	flags.StringP("strategy", "s", "", "Load strategy as start_end_step_duration (e.g. 10_50_10_60)")
	flags.IntP("strategy-mode", "m", 0, "Zero-user stages around the ramp: 0 buffers and rests, 1 buffers only, 2 none")
	flags.Duration("ramp-timeout", 0, "Measure a stage anyway if its user target is not reached within this time (0 waits forever)")
	flags.Duration("smoke", 0, "Run a single user for this long instead of the strategy")

	// Core request flags
	flags.String("target", "", "Target URL to load test")
	flags.String("method", "GET", "HTTP method to use")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.String("body", "", "Inline request body payload")
	flags.String("body-file", "", "Path to file containing the request body")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Int("retries", 0, "Number of retries per request")
	flags.Duration("think-time", 0, "Pause between consecutive requests of one user")

	// Engine flags
	flags.Duration("tick-interval", time.Second, "How often the load shape is polled")
	flags.Duration("sample-interval", 2*time.Second, "How often local metrics are sampled")
	flags.Duration("scheduler-quantum", time.Second, "Upper bound on the sampler scheduler sleep")

	// Resource sampler flags
	flags.String("resource-url", "", "JSON endpoint polled for resource usage of the system under test")
	flags.Duration("resource-interval", 10*time.Second, "Resource sampling interval")
	flags.StringToString("resource-field", nil, "Resource series name=JSON path pairs (e.g. cpu=pods.0.cpu)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP endpoint for stage spans (empty disables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("report-file", "", "Write the report to this file")
	flags.String("report-format", "", "Report file format: text, json or yaml (default from extension)")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.Bool("log-errors", false, "Log each failed request")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.String("tester", "", "Name recorded in the report description")
	flags.StringArray("threshold", nil, "Per-stage threshold, repeatable (e.g. 'http_req_duration:p95 < 500')")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("strategy") {
		val, err := fs.GetString("strategy")
		if err != nil {
			return err
		}
		cfg.Strategy = strings.TrimSpace(val)
	}
	if fs.Changed("strategy-mode") {
		val, err := fs.GetInt("strategy-mode")
		if err != nil {
			return err
		}
		cfg.StrategyMode = val
	}
	if fs.Changed("ramp-timeout") {
		val, err := fs.GetDuration("ramp-timeout")
		if err != nil {
			return err
		}
		cfg.RampTimeout = val
	}
	if fs.Changed("smoke") {
		val, err := fs.GetDuration("smoke")
		if err != nil {
			return err
		}
		cfg.Smoke = val
	}
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}
	if fs.Changed("method") {
		val, err := fs.GetString("method")
		if err != nil {
			return err
		}
		cfg.Method = val
	}
	if fs.Changed("body") {
		val, err := fs.GetString("body")
		if err != nil {
			return err
		}
		cfg.Body = val
		cfg.BodyFile = ""
	}
	if fs.Changed("body-file") {
		val, err := fs.GetString("body-file")
		if err != nil {
			return err
		}
		cfg.BodyFile = val
		cfg.Body = ""
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("think-time") {
		val, err := fs.GetDuration("think-time")
		if err != nil {
			return err
		}
		cfg.ThinkTime = val
	}
	if fs.Changed("tick-interval") {
		val, err := fs.GetDuration("tick-interval")
		if err != nil {
			return err
		}
		cfg.TickInterval = val
	}
	if fs.Changed("sample-interval") {
		val, err := fs.GetDuration("sample-interval")
		if err != nil {
			return err
		}
		cfg.SampleInterval = val
	}
	if fs.Changed("scheduler-quantum") {
		val, err := fs.GetDuration("scheduler-quantum")
		if err != nil {
			return err
		}
		cfg.SchedulerQuantum = val
	}

	if fs.Changed("resource-url") {
		val, err := fs.GetString("resource-url")
		if err != nil {
			return err
		}
		cfg.Resource.URL = strings.TrimSpace(val)
	}
	if fs.Changed("resource-interval") {
		val, err := fs.GetDuration("resource-interval")
		if err != nil {
			return err
		}
		cfg.Resource.Interval = val
	}
	if fs.Changed("resource-field") {
		val, err := fs.GetStringToString("resource-field")
		if err != nil {
			return err
		}
		if cfg.Resource.Fields == nil {
			cfg.Resource.Fields = map[string]string{}
		}
		for k, v := range val {
			cfg.Resource.Fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}

	if fs.Changed("threshold") {
		val, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("report-file") {
		val, err := fs.GetString("report-file")
		if err != nil {
			return err
		}
		cfg.ReportFile = strings.TrimSpace(val)
	}
	if fs.Changed("report-format") {
		val, err := fs.GetString("report-format")
		if err != nil {
			return err
		}
		cfg.ReportFormat = ReportFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("log-errors") {
		val, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.LogErrors = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-json") {
		val, err := fs.GetBool("log-json")
		if err != nil {
			return err
		}
		cfg.LogJSON = val
	}
	if fs.Changed("tester") {
		val, err := fs.GetString("tester")
		if err != nil {
			return err
		}
		cfg.Tester = strings.TrimSpace(val)
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return nil
}
