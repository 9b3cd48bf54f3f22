package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/dashboard"
	"github.com/torosent/stagefire/internal/httpclient"
	"github.com/torosent/stagefire/internal/logging"
	"github.com/torosent/stagefire/internal/monitor"
	"github.com/torosent/stagefire/internal/output"
	"github.com/torosent/stagefire/internal/run"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/strategy"
	"github.com/torosent/stagefire/internal/threshold"
	"github.com/torosent/stagefire/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second

	retryBase = 100 * time.Millisecond
	retryMax  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCommand(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagefire",
		Short:         "Staged HTTP load tests that step concurrency through a plan",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFlags(cmd.Flags(), cmd.Flags().NFlag() == 0)
			if err != nil {
				if errors.Is(err, config.ErrHelpRequested) {
					return cmd.Help()
				}
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	config.RegisterFlags(cmd)
	return cmd
}

func execute(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	level := cfg.LogLevel
	if cfg.Dashboard {
		// The dashboard owns the terminal.
		level = "error"
	}
	logger, err := logging.New(level, cfg.LogJSON, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var mode strategy.Mode
	if cfg.Smoke == 0 {
		if mode, err = cfg.Mode(); err != nil {
			return err
		}
	}
	provider, err := tracing.New(ctx, cfg.Tracing,
		tracing.WithAttributes(tracing.RunAttributes(cfg.Strategy, mode, cfg.Tester, cfg.Smoke)...))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := provider.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("tracing shutdown failed", zap.Error(serr))
		}
	}()

	r, err := buildRun(cfg, mode, logger, provider)
	if err != nil {
		return err
	}

	stopDisplay := func() {}
	if cfg.Dashboard {
		strategyLabel, modeLabel := cfg.Strategy, ""
		if cfg.Smoke > 0 {
			strategyLabel = "smoke " + cfg.Smoke.String()
		} else {
			modeLabel = mode.String()
		}
		dash, derr := dashboard.New(r, dashboard.RunInfo{
			TargetURL:  cfg.TargetURL,
			Method:     cfg.Method,
			Strategy:   strategyLabel,
			Mode:       modeLabel,
			Tester:     cfg.Tester,
			ConfigFile: cfg.ConfigFile,
		}, r.Abort)
		if derr != nil {
			return derr
		}
		dash.Start()
		stopDisplay = dash.Stop
	} else if !cfg.JSONOutput {
		progress := output.NewProgressReporter(r, progressInterval, stdout)
		progress.Start()
		stopDisplay = progress.Stop
	}

	rep, runErr := r.Run(ctx)
	stopDisplay()
	return finish(ctx, cfg, rep, runErr, stdout, logger)
}

func buildRun(cfg *config.Config, mode strategy.Mode, logger *zap.Logger, provider *tracing.Provider) (*run.Run, error) {
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	requester, err := newRequester(cfg, logger, provider)
	if err != nil {
		return nil, err
	}

	b := run.NewBuilder().
		Descriptor(cfg.Strategy, mode).
		Requester(requester).
		Logger(logger).
		Tracer(provider.Tracer()).
		Tester(cfg.Tester).
		Intervals(cfg.TickInterval, cfg.SampleInterval, cfg.SchedulerQuantum).
		RampTimeout(cfg.RampTimeout).
		ThinkTime(cfg.ThinkTime).
		Smoke(cfg.Smoke).
		Thresholds(thresholds)

	if cfg.Resource.Enabled() {
		b.ResourceSampler(monitor.ResourceOptions{
			URL:     cfg.Resource.URL,
			Fields:  cfg.Resource.Fields,
			Headers: cfg.Resource.Headers,
			Client:  httpclient.NewClient(cfg.Timeout),
			Logger:  logger,
		}, cfg.Resource.Interval)
	}
	return b.Build()
}

func newRequester(cfg *config.Config, logger *zap.Logger, provider *tracing.Provider) (runner.Requester, error) {
	builder, err := httpclient.NewRequestBuilder(cfg)
	if err != nil {
		return nil, err
	}
	client := httpclient.NewClient(cfg.Timeout)

	var requester runner.Requester = httpclient.NewRequester(client, builder,
		httpclient.WithTracer(provider.Tracer(), provider.ShouldPropagate()))
	if cfg.LogErrors {
		requester = runner.WithFailureLog(requester, logger.With(zap.String("component", "requester")))
	}
	requester = runner.WithRetry(requester, runner.RetryPolicy{
		Attempts: cfg.Retries + 1,
		Base:     retryBase,
		Max:      retryMax,
		Jitter:   true,
		Logger:   logger.With(zap.String("component", "retry")),
	})
	return requester, nil
}

// finish prints the report, writes the report file and turns the run outcome
// into the process exit error.
func finish(ctx context.Context, cfg *config.Config, rep run.Report, runErr error, stdout io.Writer, logger *zap.Logger) error {
	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, rep); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, rep)
	}

	if cfg.ReportFile != "" {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := output.WriteReportFile(writeCtx, cfg.ReportFile, cfg.EffectiveReportFormat(), rep); err != nil {
			return err
		}
		logger.Info("report written", zap.String("path", cfg.ReportFile))
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("run interrupted: %w", runErr)
		}
		return runErr
	}
	if n := threshold.Failed(rep.Thresholds); n > 0 {
		return fmt.Errorf("%d of %d thresholds failed", n, len(rep.Thresholds))
	}
	if rep.Result.Errors > 0 {
		return fmt.Errorf("%d requests failed", rep.Result.Errors)
	}
	return nil
}
