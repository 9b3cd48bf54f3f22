// Package metrics provides the live statistics surface of the load engine.
//
// A [Collector] aggregates latencies and failures from every simulated user:
//
//	collector := metrics.NewCollector()
//	collector.RecordRequest(latency, err)
//
//	totals, _ := collector.Totals()
//	p95 := totals.Percentile(0.95)
//
// # Totals and Windows
//
// [Collector.Totals] reports cumulative figures since the last
// [Collector.ResetStats]. The stage controller resets the collector once a
// stage reaches its target concurrency, so each stage's totals exclude the
// ramp-up transient.
//
// [Collector.Current] reports a short rolling window (two seconds by default)
// used by the periodic sampler: requests per second, failures per second and
// window percentiles.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Percentile lookups run against a
// copy of the histogram taken when the snapshot was built.
package metrics
