package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/stagefire/internal/monitor"
	"github.com/torosent/stagefire/internal/shape"
)

// ProgressSource is the read-only view of a run the progress line needs.
type ProgressSource interface {
	Status() shape.Status
	UserCount() int
	Samples() *monitor.Store
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   ProgressSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source ProgressSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+ProgressLine(p.source))
		case <-p.done:
			return
		}
	}
}

// ProgressLine renders the stage position, user counts and the latest sample.
func ProgressLine(source ProgressSource) string {
	st := source.Status()
	stage := st.Index + 1
	if stage > st.Stages {
		stage = st.Stages
	}
	line := fmt.Sprintf("Stage %d/%d | %s | Users: %d/%d",
		stage, st.Stages, st.State, source.UserCount(), st.Stage.Users)
	if st.State == shape.StateMeasuring {
		line += fmt.Sprintf(" | Elapsed: %.0fs/%ds", st.Elapsed.Seconds(), st.Stage.Duration)
	}
	if sample, ok := source.Samples().Latest(); ok {
		line += fmt.Sprintf(" | RPS: %.1f | Fail/s: %.1f | P90: %.0fms", sample.RPS, sample.FailPerSec, sample.P90)
	}
	return line
}
