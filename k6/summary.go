package k6

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Summary is the parsed shape of k6's --summary-export output. Only the
// metrics map matters for the verdict; groups are ignored.
type Summary struct {
	Metrics map[string]Metric `json:"metrics"`
}

// Metric carries one metric's numeric values plus its threshold outcomes.
// k6 emits heterogeneous fields per metric kind (counters have count/rate,
// trends have avg and percentiles), so values land in one map.
type Metric struct {
	Values     map[string]float64
	Thresholds map[string]Threshold
}

// Threshold is one declared assertion's outcome. Older k6 versions export a
// bare boolean; newer ones an object with an "ok" field. Both decode.
type Threshold struct {
	OK bool `json:"ok"`
}

func (t *Threshold) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		t.OK = b
		return nil
	}
	var obj struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("threshold entry: %w", err)
	}
	t.OK = obj.OK
	return nil
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Values = make(map[string]float64)
	for key, value := range raw {
		if key == "thresholds" {
			if err := json.Unmarshal(value, &m.Thresholds); err != nil {
				return fmt.Errorf("metric thresholds: %w", err)
			}
			continue
		}
		var n float64
		if err := json.Unmarshal(value, &n); err == nil {
			m.Values[key] = n
		}
	}
	return nil
}

// Value returns a named value from the metric, zero when absent.
func (m Metric) Value(key string) float64 {
	return m.Values[key]
}

// ParseSummaryFile reads and parses a summary export from disk.
func ParseSummaryFile(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	return ParseSummary(data)
}

// ParseSummary parses a summary export payload.
func ParseSummary(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &s, nil
}

// HasMetrics reports whether the summary carries any metric data. Nil-safe.
func (s *Summary) HasMetrics() bool {
	return s != nil && len(s.Metrics) > 0
}

// HeadlineMetrics are the derived reporting values persisted with a k6 run.
type HeadlineMetrics struct {
	TotalRequests  int64 `json:"totalRequests"`
	FailedRequests int64 `json:"failedRequests"`
	// RequestRateX100 is requests-per-second scaled by 100 so two decimal
	// places survive integer storage.
	RequestRateX100   int64   `json:"requestRate"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	P95ResponseTimeMs float64 `json:"p95ResponseTimeMs"`
	P99ResponseTimeMs float64 `json:"p99ResponseTimeMs"`
	MaxVUs            int64   `json:"maxVUs"`
}

// Headline extracts the reporting values. Missing metrics read as zero;
// http_req_failed is a rate metric whose passes count the failures.
func (s *Summary) Headline() HeadlineMetrics {
	if !s.HasMetrics() {
		return HeadlineMetrics{}
	}
	reqs := s.Metrics["http_reqs"]
	failed := s.Metrics["http_req_failed"]
	duration := s.Metrics["http_req_duration"]
	vus := s.Metrics["vus_max"]

	maxVUs := vus.Value("max")
	if maxVUs == 0 {
		maxVUs = vus.Value("value")
	}
	return HeadlineMetrics{
		TotalRequests:     int64(reqs.Value("count")),
		FailedRequests:    int64(failed.Value("passes")),
		// Round, don't truncate: 39.98*100 floats to 3997.999....
		RequestRateX100:   int64(math.Round(reqs.Value("rate") * 100)),
		AvgResponseTimeMs: duration.Value("avg"),
		P95ResponseTimeMs: duration.Value("p(95)"),
		P99ResponseTimeMs: duration.Value("p(99)"),
		MaxVUs:            int64(maxVUs),
	}
}
