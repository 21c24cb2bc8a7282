// Package metrics records per-task performance data two ways: an
// append-only JSONL file reproducing original_source/metrics.rs's
// append_jsonl exactly (one caller-provided object per line, durable local
// history independent of any scrape target), and ambient Prometheus
// counters/histograms via github.com/prometheus/client_golang so the local
// diagnostics endpoint (C11/toolchain) can expose /metrics the way
// hubenschmidt-asr-llm-tts's gateway does.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"typevoice/internal/corerr"
)

// TaskPerf is one row of the metrics JSONL file (metrics.jsonl under the
// data directory, see paths.MetricsPath): the timing/outcome breakdown for
// a single completed (or failed) task.
type TaskPerf struct {
	TaskID       string  `json:"task_id"`
	CreatedAtMs  int64   `json:"created_at_ms"`
	Stage        string  `json:"stage"`
	Outcome      string  `json:"outcome"`
	PreprocessMs int64   `json:"preprocess_ms,omitempty"`
	AsrMs        int64   `json:"asr_ms,omitempty"`
	RewriteMs    int64   `json:"rewrite_ms,omitempty"`
	TotalMs      int64   `json:"total_ms"`
	DeviceUsed   string  `json:"device_used,omitempty"`
	Rtf          float64 `json:"rtf,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty"`
}

// JSONLWriter appends one JSON object per call to a single file, creating
// parent directories as needed, matching metrics.rs's append_jsonl.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
}

// NewJSONLWriter builds a writer rooted at path.
func NewJSONLWriter(path string) *JSONLWriter { return &JSONLWriter{path: path} }

// Append serializes obj as one JSON line and appends it to the file.
func (w *JSONLWriter) Append(obj any) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return corerr.Wrap("E_METRICS_DIR_FAILED", "create metrics dir failed", err)
	}

	line, err := json.Marshal(obj)
	if err != nil {
		return corerr.Wrap("E_METRICS_SERIALIZE_FAILED", "serialize metrics json failed", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return corerr.Wrap("E_METRICS_OPEN_FAILED", "open metrics jsonl failed", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return corerr.Wrap("E_METRICS_WRITE_FAILED", "write metrics line failed", err)
	}
	return nil
}

// Prometheus holds the process-wide counters/histograms the diagnostics
// endpoint scrapes, supplemental to the JSONL trail above (§D.4).
type Prometheus struct {
	TasksTotal       *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	RewriteFallbacks prometheus.Counter
	RealTimeFactor   prometheus.Histogram
}

// NewPrometheus registers and returns the metric set on registry.
func NewPrometheus(registry prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "typevoice_tasks_total",
			Help: "Total completed tasks by terminal outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "typevoice_stage_duration_ms",
			Help:    "Stage duration in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage"}),
		RewriteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typevoice_rewrite_fallbacks_total",
			Help: "Rewrite stage failures that fell back to ASR-only text.",
		}),
		RealTimeFactor: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "typevoice_asr_rtf",
			Help:    "ASR real-time factor (processing time / audio duration).",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(p.TasksTotal, p.StageDuration, p.RewriteFallbacks, p.RealTimeFactor)
	return p
}
