package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/stagefire/internal/aggregate"
)

var pattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Threshold is a performance assertion checked against every stage snapshot.
type Threshold struct {
	Metric    string  `json:"metric" yaml:"metric"`       // e.g. "http_req_duration", "http_req_failed"
	Aggregate string  `json:"aggregate" yaml:"aggregate"` // e.g. "p95", "p99", "avg", "max", "rate"
	Operator  string  `json:"operator" yaml:"operator"`   // "<", "<=", ">", ">=", "=="
	Value     float64 `json:"value" yaml:"value"`
	Raw       string  `json:"raw" yaml:"raw"`
}

// Result is the outcome of one threshold over the whole plan. Stage and
// Actual name the first failing stage, or the stage closest to failing when
// every stage passed.
type Result struct {
	Threshold Threshold `json:"threshold" yaml:"threshold"`
	Stage     int       `json:"stage" yaml:"stage"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

// Evaluator evaluates thresholds against stage snapshots.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Len is the number of thresholds to evaluate.
func (e *Evaluator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.thresholds)
}

// Evaluate checks every threshold against every snapshot. A threshold
// passes only when it holds for each measured stage; with no snapshots
// every threshold fails.
func (e *Evaluator) Evaluate(snaps []aggregate.Snapshot) []Result {
	if e.Len() == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, snaps))
	}
	return results
}

// Failed counts the results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}

func evaluateOne(t Threshold, snaps []aggregate.Snapshot) Result {
	if len(snaps) == 0 {
		return Result{
			Threshold: t,
			Stage:     -1,
			Message:   fmt.Sprintf("✗ %s: no stage was measured", t.Raw),
		}
	}

	worst := Result{Threshold: t, Stage: -1, Pass: true}
	for _, snap := range snaps {
		actual, err := extractMetricValue(t, snap)
		if err != nil {
			return Result{
				Threshold: t,
				Stage:     snap.Stage,
				Message:   fmt.Sprintf("error: %v", err),
			}
		}
		if !compareValues(actual, t.Operator, t.Value) {
			worst = Result{Threshold: t, Stage: snap.Stage, Actual: actual}
			break
		}
		if worst.Stage < 0 || closer(t.Operator, actual, worst.Actual) {
			worst.Stage = snap.Stage
			worst.Actual = actual
		}
	}

	status := "✓"
	if !worst.Pass {
		status = "✗"
	}
	worst.Message = fmt.Sprintf("%s %s: %.2f %s %.2f (stage %d)", status, t.Raw, worst.Actual, t.Operator, t.Value, worst.Stage)
	return worst
}

// closer reports whether a is nearer to breaking the operator than b.
func closer(operator string, a, b float64) bool {
	switch operator {
	case "<", "<=":
		return a > b
	case ">", ">=":
		return a < b
	default:
		return false
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "http_req_duration:p95 < 500"     (latency percentile in ms)
// - "http_req_duration:avg < 200"     (average latency in ms)
// - "http_req_duration:max < 1000"    (max latency in ms)
// - "http_req_failed:rate < 0.01"     (failure rate as decimal)
// - "http_req_failed:count < 10"      (failure count)
// - "http_requests:rate > 100"        (requests per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'http_req_duration:p95 < 500')", s)
	}

	metric := matches[1]
	agg := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if !isValidMetric(metric) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: http_req_duration, http_req_failed, http_requests)", metric)
	}
	if !isValidAggregate(agg) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: p50, p90, p95, p99, p100, avg, min, max, rate, count)", agg)
	}
	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: agg,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}

	return result, nil
}

func isValidMetric(metric string) bool {
	switch metric {
	case "http_req_duration", "http_req_failed", "http_requests":
		return true
	}
	return false
}

func isValidAggregate(agg string) bool {
	switch agg {
	case "p50", "p90", "p95", "p99", "p100", "avg", "min", "max", "rate", "count":
		return true
	}
	return false
}

func isValidOperator(operator string) bool {
	switch operator {
	case "<", "<=", ">", ">=", "==":
		return true
	}
	return false
}

func extractMetricValue(t Threshold, snap aggregate.Snapshot) (float64, error) {
	switch t.Metric {
	case "http_req_duration":
		return extractLatencyMetric(t.Aggregate, snap)
	case "http_req_failed":
		return extractFailureMetric(t.Aggregate, snap)
	case "http_requests":
		return extractRequestMetric(t.Aggregate, snap)
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(agg string, snap aggregate.Snapshot) (float64, error) {
	switch agg {
	case "p50":
		return snap.P50, nil
	case "p90":
		return snap.P90, nil
	case "p95":
		return snap.P95, nil
	case "p99":
		return snap.P99, nil
	case "p100":
		return snap.P100, nil
	case "avg":
		return snap.AvgResponse, nil
	case "min":
		return snap.MinResponse, nil
	case "max":
		return snap.MaxResponse, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_req_duration", agg)
	}
}

func extractFailureMetric(agg string, snap aggregate.Snapshot) (float64, error) {
	switch agg {
	case "count":
		return float64(snap.Failures), nil
	case "rate":
		return snap.FailRate / 100, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_req_failed (use 'count' or 'rate')", agg)
	}
}

func extractRequestMetric(agg string, snap aggregate.Snapshot) (float64, error) {
	switch agg {
	case "count":
		return float64(snap.Requests), nil
	case "rate":
		return snap.QPS, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_requests (use 'count' or 'rate')", agg)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
