package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestJSONLWriterAppendsOneLinePerCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "task_perf.jsonl")
	w := NewJSONLWriter(path)

	if err := w.Append(TaskPerf{TaskID: "t1", TotalMs: 100}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(TaskPerf{TaskID: "t2", TotalMs: 200}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []TaskPerf
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var tp TaskPerf
		if err := json.Unmarshal(sc.Bytes(), &tp); err != nil {
			t.Fatalf("malformed line: %v", err)
		}
		lines = append(lines, tp)
	}
	if len(lines) != 2 || lines[0].TaskID != "t1" || lines[1].TaskID != "t2" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestNewPrometheusRegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)
	p.TasksTotal.WithLabelValues("completed").Inc()
	p.RewriteFallbacks.Inc()
	p.RealTimeFactor.Observe(0.2)
	p.StageDuration.WithLabelValues("Transcribe").Observe(120)
}
