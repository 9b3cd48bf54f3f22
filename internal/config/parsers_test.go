package config

import (
	"errors"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/strategy"
)

func TestAsStrategy(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"descriptor", " 10_50_10_60 ", "10_50_10_60"},
		{"yaml map", map[string]interface{}{"start": 10, "end": 50, "step": 10, "duration": 60}, "10_50_10_60"},
		{"json map", map[string]interface{}{"Start": 5.0, "END": 1.0, "step": 2.0, "duration": 30.0}, "5_1_2_30"},
		{"interface keys", map[interface{}]interface{}{"start": 3, "end": 3, "step": 0, "duration": 5}, "3_3_0_5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := asStrategy(tt.input)
			if err != nil {
				t.Fatalf("asStrategy() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("asStrategy() = %q, want %q", got, tt.want)
			}
			if _, err := strategy.ParseDescriptor(got); err != nil {
				t.Fatalf("descriptor %q does not parse: %v", got, err)
			}
		})
	}
}

func TestAsStrategyRejectsIncompleteMap(t *testing.T) {
	tests := []interface{}{
		map[string]interface{}{"start": 1, "end": 5, "step": 1},
		map[string]interface{}{"start": 1, "end": 5, "step": 1.5, "duration": 10},
		map[string]interface{}{"start": "one", "end": 5, "step": 1, "duration": 10},
	}
	for _, input := range tests {
		if got, err := asStrategy(input); err == nil {
			t.Errorf("asStrategy(%v) = %q, want error", input, got)
		}
	}
}

func TestAsMode(t *testing.T) {
	tests := []struct {
		input interface{}
		want  strategy.Mode
	}{
		{0, strategy.ModeRested},
		{2.0, strategy.ModeBare},
		{"buffered", strategy.ModeBuffered},
		{" BARE ", strategy.ModeBare},
		{"1", strategy.ModeBuffered},
	}
	for _, tt := range tests {
		got, err := asMode(tt.input)
		if err != nil {
			t.Fatalf("asMode(%v) error = %v", tt.input, err)
		}
		if strategy.Mode(got) != tt.want {
			t.Errorf("asMode(%v) = %s, want %s", tt.input, strategy.Mode(got), tt.want)
		}
	}

	if _, err := asMode("ramped"); !errors.Is(err, strategy.ErrInvalidStrategy) {
		t.Errorf("asMode(ramped) error = %v, want ErrInvalidStrategy", err)
	}
	if _, err := asMode("5"); !errors.Is(err, strategy.ErrInvalidStrategy) {
		t.Errorf("asMode(5) error = %v, want ErrInvalidStrategy", err)
	}
}

func TestAsDurationReadsSeconds(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{"1m", time.Minute},
		{"90", 90 * time.Second},
		{60, time.Minute},
		{1.5, 1500 * time.Millisecond},
		{time.Second, time.Second},
		{nil, 0},
	}
	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Fatalf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %s, want %s", tt.input, got, tt.want)
		}
	}
	if _, err := asDuration(true); err == nil {
		t.Errorf("asDuration(true) error = nil")
	}
}

func TestAsIntRejectsFractions(t *testing.T) {
	if got, err := asInt(60.0); err != nil || got != 60 {
		t.Fatalf("asInt(60.0) = %d, %v", got, err)
	}
	if _, err := asInt(2.5); err == nil {
		t.Fatalf("asInt(2.5) error = nil, want error")
	}
	if _, err := asInt([]interface{}{1}); err == nil {
		t.Fatalf("asInt(list) error = nil, want error")
	}
}

func TestAsFieldPaths(t *testing.T) {
	got, err := asFieldPaths(map[string]interface{}{" cpu ": " pods.0.cpu ", "rss": "$.memory.rss"})
	if err != nil {
		t.Fatalf("asFieldPaths() error = %v", err)
	}
	if got["cpu"] != "pods.0.cpu" || got["rss"] != "$.memory.rss" || len(got) != 2 {
		t.Fatalf("asFieldPaths() = %v", got)
	}

	for _, input := range []interface{}{
		map[string]interface{}{"cpu": ""},
		map[string]interface{}{"  ": "cpu"},
		map[string]interface{}{"cpu": map[string]interface{}{"path": "x"}},
		"cpu=pods.0.cpu",
	} {
		if _, err := asFieldPaths(input); err == nil {
			t.Errorf("asFieldPaths(%v) error = nil, want error", input)
		}
	}
}

func TestAsStringSliceAndReportFormat(t *testing.T) {
	got, err := asStringSlice("http_req_failed:rate < 0.01")
	if err != nil || len(got) != 1 {
		t.Fatalf("asStringSlice(string) = %v, %v", got, err)
	}
	if _, err := asStringSlice([]interface{}{"ok", map[string]interface{}{}}); err == nil {
		t.Fatalf("asStringSlice() accepted a nested map")
	}

	format, err := asReportFormat(" YAML ")
	if err != nil || format != ReportFormatYAML {
		t.Fatalf("asReportFormat() = %q, %v", format, err)
	}
}
