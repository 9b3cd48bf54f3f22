package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/stagefire/internal/run"
	"github.com/torosent/stagefire/internal/threshold"
)

const timeLayout = "2006-01-02 15:04:05"

// PrintReport outputs a human-readable report: the run description followed
// by one row per stage snapshot.
func PrintReport(w io.Writer, rep run.Report) {
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", rep.RunID)
	if rep.Tester != "" {
		fmt.Fprintf(w, "Tester:            %s\n", rep.Tester)
	}
	if rep.Smoke > 0 {
		fmt.Fprintf(w, "Strategy:          smoke (1 user for %s)\n", rep.Smoke)
	} else {
		fmt.Fprintf(w, "Strategy:          %s (%s)\n", rep.Descriptor, rep.Mode)
	}
	fmt.Fprintf(w, "Plan:              %s\n", rep.Plan)
	fmt.Fprintf(w, "Start:             %s\n", formatTime(rep.Begin))
	fmt.Fprintf(w, "End:               %s\n", formatTime(rep.End))
	fmt.Fprintf(w, "Duration:          %s\n", rep.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests:    %d\n", rep.Result.Total)
	fmt.Fprintf(w, "Failed:            %d\n", rep.Result.Errors)
	fmt.Fprintf(w, "Peak Users:        %d\n", rep.Result.PeakUsers)
	if rep.Error != "" {
		fmt.Fprintf(w, "Error:             %s\n", rep.Error)
	}

	printStages(w, rep)
	printThresholds(w, rep.Thresholds)
}

func printStages(w io.Writer, rep run.Report) {
	fmt.Fprintln(w, "\nStages:")
	if len(rep.Snapshots) == 0 {
		fmt.Fprintln(w, "  None")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, strings.Join([]string{
		"stage", "users", "dur(s)", "avg", "min", "max", "50%", "90%", "95%", "99%", "100%",
		"reqs", "fails", "qps", "fail%", "fps", "pps", "",
	}, "\t"))
	for _, s := range rep.Snapshots {
		fmt.Fprintf(tw, "%d\t%d\t%.0f\t%.1f\t%.1f\t%.1f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			s.Stage, s.Concurrency, s.DurationSec,
			s.AvgResponse, s.MinResponse, s.MaxResponse,
			s.P50, s.P90, s.P95, s.P99, s.P100,
			s.Requests, s.Failures, s.QPS, s.FailRate, s.FPS, s.PPS,
		)
	}
	_ = tw.Flush()
	fmt.Fprintln(w, "Latencies are in milliseconds.")
}

func printThresholds(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	failed := threshold.Failed(results)
	fmt.Fprintf(w, "\nThresholds: %d passed, %d failed\n", len(results)-failed, failed)
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, rep run.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteYAMLReport outputs a YAML-formatted report.
func WriteYAMLReport(w io.Writer, rep run.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}
