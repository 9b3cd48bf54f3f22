// Package monitor holds the periodic samplers hosted by the scheduler and the
// store they write to.
//
// The store is written only from the scheduler goroutine. Readers such as the
// dashboard go through its locked accessors, which return copies.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// Local sample series names.
const (
	SeriesRPS  = "rps"
	SeriesFPS  = "fps"
	SeriesP50  = "50%ile"
	SeriesP90  = "90%ile"
	SeriesP100 = "100%ile"

	resourcePrefix = "resource."
)

// Sample is one reading of the host's rolling window. Latencies are
// milliseconds.
type Sample struct {
	Time       time.Time `json:"time" yaml:"time"`
	RPS        float64   `json:"rps" yaml:"rps"`
	FailPerSec float64   `json:"fps" yaml:"fps"`
	P50        float64   `json:"p50_ms" yaml:"p50_ms"`
	P90        float64   `json:"p90_ms" yaml:"p90_ms"`
	P100       float64   `json:"p100_ms" yaml:"p100_ms"`
}

// Point is a single timestamped value of a named series.
type Point struct {
	Time  time.Time `json:"time" yaml:"time"`
	Value float64   `json:"value" yaml:"value"`
}

// Store keeps local samples and resource series in arrival order.
type Store struct {
	mu       sync.RWMutex
	samples  []Sample
	resource map[string][]Point
}

func NewStore() *Store {
	return &Store{resource: make(map[string][]Point)}
}

// AddSample appends a local sample.
func (s *Store) AddSample(sample Sample) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

// AddResource appends a point to the resource series name.
func (s *Store) AddResource(name string, p Point) {
	s.mu.Lock()
	s.resource[resourcePrefix+name] = append(s.resource[resourcePrefix+name], p)
	s.mu.Unlock()
}

// Samples returns a copy of the local samples.
func (s *Store) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Sample(nil), s.samples...)
}

// Resources returns a copy of every resource series keyed by full name.
func (s *Store) Resources() map[string][]Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.resource) == 0 {
		return nil
	}
	out := make(map[string][]Point, len(s.resource))
	for name, pts := range s.resource {
		out[name] = append([]Point(nil), pts...)
	}
	return out
}

// Latest returns the most recent local sample.
func (s *Store) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Len is the number of local samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Series returns a copy of the named series. Local series are projected from
// the samples; resource series are named "resource.<field>".
func (s *Store) Series(name string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pts, ok := s.resource[name]; ok {
		return append([]Point(nil), pts...)
	}
	pick := localField(name)
	if pick == nil {
		return nil
	}
	out := make([]Point, len(s.samples))
	for i, sample := range s.samples {
		out[i] = Point{Time: sample.Time, Value: pick(sample)}
	}
	return out
}

// Names lists the local series followed by resource series in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := []string{SeriesRPS, SeriesFPS, SeriesP50, SeriesP90, SeriesP100}
	resource := make([]string, 0, len(s.resource))
	for name := range s.resource {
		resource = append(resource, name)
	}
	sort.Strings(resource)
	return append(names, resource...)
}

func localField(name string) func(Sample) float64 {
	switch name {
	case SeriesRPS:
		return func(s Sample) float64 { return s.RPS }
	case SeriesFPS:
		return func(s Sample) float64 { return s.FailPerSec }
	case SeriesP50:
		return func(s Sample) float64 { return s.P50 }
	case SeriesP90:
		return func(s Sample) float64 { return s.P90 }
	case SeriesP100:
		return func(s Sample) float64 { return s.P100 }
	default:
		return nil
	}
}
