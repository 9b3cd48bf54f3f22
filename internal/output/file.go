package output

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/run"
)

const lockRetryDelay = 50 * time.Millisecond

// WriteReportFile writes rep to path in the given format. The write holds an
// exclusive lock on path + ".lock" so concurrent runs sharing a report path
// never interleave; ctx bounds how long to wait for the lock.
func WriteReportFile(ctx context.Context, path string, format config.ReportFormat, rep run.Report) error {
	if path == "" {
		return fmt.Errorf("report file: path is required")
	}
	var encode func(io.Writer) error
	switch format {
	case config.ReportFormatText:
		encode = func(w io.Writer) error {
			PrintReport(w, rep)
			return nil
		}
	case config.ReportFormatYAML:
		encode = func(w io.Writer) error { return WriteYAMLReport(w, rep) }
	case config.ReportFormatJSON, "":
		encode = func(w io.Writer) error { return PrintJSONReport(w, rep) }
	default:
		return fmt.Errorf("report file: unsupported format %q", format)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report file: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("report file: lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("report file: could not lock %s", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report file: %w", err)
	}
	bw := bufio.NewWriter(f)
	err = encode(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("report file: %w", err)
	}
	return nil
}
