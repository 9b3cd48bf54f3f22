package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/stagefire/internal/aggregate"
	"github.com/torosent/stagefire/internal/monitor"
	"github.com/torosent/stagefire/internal/shape"
)

const (
	refreshInterval = 500 * time.Millisecond
	historyLimit    = 100
	maxSnapshotRows = 12
)

// Source is the read-only view of a run the dashboard renders. Every method
// must be safe to call while the run is in progress.
type Source interface {
	ID() string
	Status() shape.Status
	UserCount() int
	Samples() *monitor.Store
	Snapshots() *aggregate.Store
}

// RunInfo holds the run parameters shown in the summary.
type RunInfo struct {
	TargetURL  string
	Method     string
	Strategy   string
	Mode       string
	Tester     string
	ConfigFile string
}

// Dashboard renders a live terminal UI for a staged load test.
type Dashboard struct {
	source    Source
	info      RunInfo
	abortFunc func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	startTime time.Time

	grid         *ui.Grid
	summaryPara  *widgets.Paragraph
	rpsSparkline *widgets.SparklineGroup
	latencyList  *widgets.List
	resourceList *widgets.List
	stageList    *widgets.List
}

// New initializes the terminal and creates a Dashboard. abort is called when
// the user presses a quit key.
func New(source Source, info RunInfo, abort func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}
	d := newDashboard(source, info, abort)
	termWidth, termHeight := ui.TerminalDimensions()
	d.setupGrid(termWidth, termHeight)
	return d, nil
}

func newDashboard(source Source, info RunInfo, abort func()) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		source:    source,
		info:      info,
		abortFunc: abort,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	d.initWidgets()
	return d
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	sparkline := widgets.NewSparkline()
	sparkline.Title = "RPS"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.rpsSparkline = widgets.NewSparklineGroup(sparkline)
	d.rpsSparkline.Title = "Requests Per Second"
	d.rpsSparkline.BorderStyle.Fg = ui.ColorCyan

	d.latencyList = widgets.NewList()
	d.latencyList.Title = "Latency (current window)"
	d.latencyList.Rows = []string{"Awaiting samples"}
	d.latencyList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.latencyList.BorderStyle.Fg = ui.ColorCyan

	d.resourceList = widgets.NewList()
	d.resourceList.Title = "Resources"
	d.resourceList.Rows = []string{"No resource sampler"}
	d.resourceList.TextStyle = ui.NewStyle(ui.ColorGreen)
	d.resourceList.BorderStyle.Fg = ui.ColorCyan

	d.stageList = widgets.NewList()
	d.stageList.Title = "Stage Snapshots"
	d.stageList.Rows = []string{"No stage completed yet"}
	d.stageList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.stageList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid(width, height int) {
	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, width, height)
	d.grid.Set(
		ui.NewRow(0.2,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.3,
			ui.NewCol(0.65, d.rpsSparkline),
			ui.NewCol(0.35, d.latencyList),
		),
		ui.NewRow(0.5,
			ui.NewCol(0.7, d.stageList),
			ui.NewCol(0.3, d.resourceList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.update()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			d.handleEvent(e)
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) handleEvent(e ui.Event) {
	switch e.ID {
	case "q", "<C-c>", "<Escape>":
		// Stop is called by the owner once the run has wound down.
		if d.abortFunc != nil {
			d.abortFunc()
		}
	case "<Resize>":
		payload := e.Payload.(ui.Resize)
		d.mu.Lock()
		d.grid.SetRect(0, 0, payload.Width, payload.Height)
		d.mu.Unlock()
		ui.Clear()
		d.render()
	}
}

// update refreshes every widget from the source.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.source.Status()
	samples := d.source.Samples()

	d.summaryPara.Text = d.formatSummary(st, d.source.UserCount(), time.Since(d.startTime))

	rps := samples.Series(monitor.SeriesRPS)
	if len(rps) > 0 {
		data := make([]float64, 0, historyLimit)
		if len(rps) > historyLimit {
			rps = rps[len(rps)-historyLimit:]
		}
		for _, p := range rps {
			data = append(data, p.Value)
		}
		d.rpsSparkline.Sparklines[0].Data = data
		d.rpsSparkline.Title = fmt.Sprintf("Requests Per Second | Current: %.1f", data[len(data)-1])
	}

	if latest, ok := samples.Latest(); ok {
		d.latencyList.Rows = formatLatencyRows(latest)
	}
	if rows := formatResourceRows(samples.Resources()); len(rows) > 0 {
		d.resourceList.Rows = rows
	}
	if rows := formatSnapshotRows(d.source.Snapshots().Snapshots()); len(rows) > 0 {
		d.stageList.Rows = rows
	}
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.grid == nil {
		return
	}
	ui.Render(d.grid)
}

func (d *Dashboard) formatSummary(st shape.Status, live int, elapsed time.Duration) string {
	stage := st.Index + 1
	if stage > st.Stages {
		stage = st.Stages
	}

	lines := []string{
		fmt.Sprintf("Run: %s | Strategy: %s %s", d.source.ID(), d.info.Strategy, d.info.Mode),
		fmt.Sprintf("Target: %s", formatTarget(d.info)),
		fmt.Sprintf("Stage %d/%d | State: %s | Target users: %d | Live users: %d",
			stage, st.Stages, formatState(st.State), st.Stage.Users, live),
	}
	timing := fmt.Sprintf("Elapsed: %s", elapsed.Round(time.Second))
	if st.State == shape.StateMeasuring {
		timing += fmt.Sprintf(" | Stage: %ds/%ds", int(st.Elapsed.Seconds()), st.Stage.Duration)
	}
	if d.info.Tester != "" {
		timing += " | Tester: " + d.info.Tester
	}
	if d.info.ConfigFile != "" {
		timing += " | Config: " + d.info.ConfigFile
	}
	lines = append(lines, timing)
	if st.Err != nil {
		lines = append(lines, fmt.Sprintf("[Error: %s](fg:red)", st.Err))
	}
	return strings.Join(lines, "\n")
}

func formatTarget(info RunInfo) string {
	if info.Method == "" || info.Method == "GET" {
		return info.TargetURL
	}
	return info.Method + " " + info.TargetURL
}

func formatState(s shape.State) string {
	switch s {
	case shape.StateMeasuring:
		return fmt.Sprintf("[%s](fg:green)", s)
	case shape.StateAwaitingRamp:
		return fmt.Sprintf("[%s](fg:yellow)", s)
	case shape.StateFinished:
		return fmt.Sprintf("[%s](fg:magenta)", s)
	default:
		return s.String()
	}
}

func formatLatencyRows(s monitor.Sample) []string {
	return []string{
		fmt.Sprintf("RPS:     %.1f", s.RPS),
		fmt.Sprintf("Fail/s:  %.1f", s.FailPerSec),
		fmt.Sprintf("P50:     %.0fms", s.P50),
		fmt.Sprintf("P90:     %.0fms", s.P90),
		fmt.Sprintf("P100:    %.0fms", s.P100),
	}
}

func formatResourceRows(series map[string][]monitor.Point) []string {
	if len(series) == 0 {
		return nil
	}
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]string, 0, len(names))
	for _, name := range names {
		pts := series[name]
		if len(pts) == 0 {
			continue
		}
		rows = append(rows, fmt.Sprintf("[%s](fg:white) %s", strings.TrimPrefix(name, "resource."), formatValue(pts[len(pts)-1].Value)))
	}
	return rows
}

func formatSnapshotRows(snaps []aggregate.Snapshot) []string {
	if len(snaps) == 0 {
		return nil
	}
	if len(snaps) > maxSnapshotRows {
		snaps = snaps[len(snaps)-maxSnapshotRows:]
	}
	rows := make([]string, 0, len(snaps))
	for _, s := range snaps {
		color := "green"
		if s.Failures > 0 {
			color = "red"
		}
		rows = append(rows, fmt.Sprintf("#%-2d users %4d | qps %7.1f | avg %6.1fms | p90 %5.0fms | p99 %5.0fms | [fail %.2f%%](fg:%s)",
			s.Stage, s.Concurrency, s.QPS, s.AvgResponse, s.P90, s.P99, s.FailRate, color))
	}
	return rows
}

func formatValue(v float64) string {
	if v > 1000 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
