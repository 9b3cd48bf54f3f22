package dashboard

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ui "github.com/gizak/termui/v3"

	"github.com/torosent/stagefire/internal/aggregate"
	"github.com/torosent/stagefire/internal/monitor"
	"github.com/torosent/stagefire/internal/shape"
	"github.com/torosent/stagefire/internal/strategy"
)

type fakeSource struct {
	status    shape.Status
	users     int
	samples   *monitor.Store
	snapshots *aggregate.Store
}

func (f *fakeSource) ID() string                  { return "01J0000000000000000000TEST" }
func (f *fakeSource) Status() shape.Status        { return f.status }
func (f *fakeSource) UserCount() int              { return f.users }
func (f *fakeSource) Samples() *monitor.Store     { return f.samples }
func (f *fakeSource) Snapshots() *aggregate.Store { return f.snapshots }

func newFakeSource() *fakeSource {
	return &fakeSource{
		status: shape.Status{
			State:   shape.StateMeasuring,
			Index:   2,
			Stages:  5,
			Stage:   strategy.Stage{Users: 30, Duration: 60},
			Elapsed: 15 * time.Second,
		},
		users:     30,
		samples:   monitor.NewStore(),
		snapshots: aggregate.NewStore(),
	}
}

func TestUpdateBeforeAnySample(t *testing.T) {
	src := newFakeSource()
	d := newDashboard(src, RunInfo{TargetURL: "http://svc.local/api", Method: "GET", Strategy: "10_50_10_60", Mode: "rested"}, nil)
	d.update()

	for _, want := range []string{
		"Run: 01J0000000000000000000TEST | Strategy: 10_50_10_60 rested",
		"Target: http://svc.local/api",
		"Stage 3/5",
		"[measuring](fg:green)",
		"Target users: 30 | Live users: 30",
		"Stage: 15s/60s",
	} {
		if !strings.Contains(d.summaryPara.Text, want) {
			t.Errorf("summary missing %q:\n%s", want, d.summaryPara.Text)
		}
	}
	if d.latencyList.Rows[0] != "Awaiting samples" {
		t.Errorf("latency rows = %v", d.latencyList.Rows)
	}
	if d.stageList.Rows[0] != "No stage completed yet" {
		t.Errorf("stage rows = %v", d.stageList.Rows)
	}
	if d.resourceList.Rows[0] != "No resource sampler" {
		t.Errorf("resource rows = %v", d.resourceList.Rows)
	}
}

func TestUpdateReadsSamplesAndSnapshots(t *testing.T) {
	src := newFakeSource()
	now := time.Now()
	for i := 0; i < historyLimit+20; i++ {
		src.samples.AddSample(monitor.Sample{Time: now.Add(time.Duration(i) * time.Second), RPS: float64(i), P50: 10, P90: 25, P100: 80})
	}
	src.samples.AddResource("cpu", monitor.Point{Time: now, Value: 0.5})
	src.samples.AddResource("memory", monitor.Point{Time: now, Value: 2048})
	src.snapshots.Add(aggregate.Snapshot{Stage: 0, Concurrency: 10, QPS: 95.5, AvgResponse: 12, P90: 20, P99: 40})
	src.snapshots.Add(aggregate.Snapshot{Stage: 2, Concurrency: 20, QPS: 180, Failures: 3, FailRate: 0.5})

	d := newDashboard(src, RunInfo{TargetURL: "http://svc.local", Method: "POST", Tester: "qa"}, nil)
	d.update()

	data := d.rpsSparkline.Sparklines[0].Data
	if len(data) != historyLimit {
		t.Fatalf("sparkline points = %d, want %d", len(data), historyLimit)
	}
	if data[len(data)-1] != float64(historyLimit+19) {
		t.Errorf("last sparkline point = %v", data[len(data)-1])
	}
	if !strings.Contains(d.rpsSparkline.Title, "Current: 119.0") {
		t.Errorf("sparkline title = %q", d.rpsSparkline.Title)
	}
	if len(d.latencyList.Rows) != 5 || !strings.Contains(d.latencyList.Rows[3], "25ms") {
		t.Errorf("latency rows = %v", d.latencyList.Rows)
	}
	if len(d.resourceList.Rows) != 2 || !strings.Contains(d.resourceList.Rows[0], "cpu") || !strings.Contains(d.resourceList.Rows[1], "2048") {
		t.Errorf("resource rows = %v", d.resourceList.Rows)
	}
	if len(d.stageList.Rows) != 2 {
		t.Fatalf("stage rows = %v", d.stageList.Rows)
	}
	if !strings.Contains(d.stageList.Rows[0], "fg:green") || !strings.Contains(d.stageList.Rows[1], "fg:red") {
		t.Errorf("stage rows colours = %v", d.stageList.Rows)
	}
	if !strings.Contains(d.summaryPara.Text, "POST http://svc.local") || !strings.Contains(d.summaryPara.Text, "Tester: qa") {
		t.Errorf("summary = %q", d.summaryPara.Text)
	}
}

func TestSummaryShowsTerminalError(t *testing.T) {
	src := newFakeSource()
	src.status = shape.Status{State: shape.StateFinished, Index: 5, Stages: 5, Err: errors.New("shape: aborted")}
	d := newDashboard(src, RunInfo{}, nil)
	d.update()

	if !strings.Contains(d.summaryPara.Text, "Stage 5/5") {
		t.Errorf("summary = %q", d.summaryPara.Text)
	}
	if !strings.Contains(d.summaryPara.Text, "[Error: shape: aborted](fg:red)") {
		t.Errorf("summary = %q", d.summaryPara.Text)
	}
	if strings.Contains(d.summaryPara.Text, "Stage: ") {
		t.Errorf("stage timer shown after finish: %q", d.summaryPara.Text)
	}
}

func TestQuitKeysAbort(t *testing.T) {
	for _, key := range []string{"q", "<C-c>", "<Escape>"} {
		t.Run(key, func(t *testing.T) {
			var aborted atomic.Int32
			d := newDashboard(newFakeSource(), RunInfo{}, func() { aborted.Add(1) })
			d.handleEvent(ui.Event{Type: ui.KeyboardEvent, ID: key})
			if aborted.Load() != 1 {
				t.Fatalf("abort called %d times", aborted.Load())
			}
		})
	}

	d := newDashboard(newFakeSource(), RunInfo{}, nil)
	d.handleEvent(ui.Event{Type: ui.KeyboardEvent, ID: "q"})
}

func TestFormatSnapshotRowsKeepsLatest(t *testing.T) {
	snaps := make([]aggregate.Snapshot, maxSnapshotRows+3)
	for i := range snaps {
		snaps[i] = aggregate.Snapshot{Stage: i, Concurrency: i * 10}
	}
	rows := formatSnapshotRows(snaps)
	if len(rows) != maxSnapshotRows {
		t.Fatalf("rows = %d, want %d", len(rows), maxSnapshotRows)
	}
	if !strings.HasPrefix(rows[0], "#3 ") {
		t.Errorf("first row = %q, want stage 3", rows[0])
	}
	if formatSnapshotRows(nil) != nil {
		t.Errorf("expected nil rows for no snapshots")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value    float64
		expected string
	}{
		{12.345, "12.35"},
		{1234.5, "1234"},
		{0, "0.00"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.value); got != tt.expected {
			t.Errorf("formatValue(%v) = %s, expected %s", tt.value, got, tt.expected)
		}
	}
}
