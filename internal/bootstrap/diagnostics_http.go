package bootstrap

import (
	"bufio"
	"net"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"typevoice/internal/toolchain"
)

// taskPerfSummary is the trimmed shape /metrics/tail returns per line,
// read with gjson rather than encoding/json so a valid line with missing or
// unexpectedly-shaped fields degrades to zero values for those fields
// instead of dropping the whole line. A line that is not valid JSON (e.g.
// partially written: the writer appends one line at a time, with no
// transactional guarantee against a concurrent crash) is skipped.
type taskPerfSummary struct {
	TaskID  string  `json:"task_id"`
	Stage   string  `json:"stage"`
	Outcome string  `json:"outcome"`
	TotalMs int64   `json:"total_ms"`
	Rtf     float64 `json:"rtf"`
}

// diagnosticsServer is the local-only HTTP surface named in §D.6/§B.4:
// runtime_toolchain_status mirrored as a GET endpoint, a Prometheus
// /metrics scrape target, and a metrics-tail endpoint over the task_perf
// JSONL trail. No pack repo imports echo directly — it arrives only as a
// transitive Wails asset-server dependency — so route registration here is
// translated from hubenschmidt-asr-llm-tts's cmd/gateway/routes.go
// net/http.ServeMux handlers into echo's e.GET idiom (see DESIGN.md).
type diagnosticsServer struct {
	e  *echo.Echo
	ln net.Listener
}

func newDiagnosticsServer(checker *toolchain.Checker, dataDir, pythonBinary string, registry *prometheus.Registry, metricsPath string) *diagnosticsServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/runtime/toolchain_status", func(c echo.Context) error {
		_, status := checker.Run(dataDir, pythonBinary)
		return c.JSON(http.StatusOK, status)
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	e.GET("/metrics/tail", func(c echo.Context) error {
		lines, err := tailLines(metricsPath, 100)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		summaries := make([]taskPerfSummary, 0, len(lines))
		for _, line := range lines {
			if !gjson.Valid(line) {
				continue
			}
			parsed := gjson.Parse(line)
			summaries = append(summaries, taskPerfSummary{
				TaskID:  parsed.Get("task_id").String(),
				Stage:   parsed.Get("stage").String(),
				Outcome: parsed.Get("outcome").String(),
				TotalMs: parsed.Get("total_ms").Int(),
				Rtf:     parsed.Get("rtf").Float(),
			})
		}
		return c.JSON(http.StatusOK, summaries)
	})

	return &diagnosticsServer{e: e}
}

// ListenAndServe binds a loopback TCP listener and serves in the
// background, returning the bound address for publishing to developer
// tooling alongside internal/devfeed's feed address.
func (s *diagnosticsServer) ListenAndServe(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.ln = ln
	go func() { _ = s.e.Server.Serve(ln) }()
	return ln.Addr().String(), nil
}

func (s *diagnosticsServer) Close() error {
	return s.e.Close()
}

// tailLines returns the last n lines of the file at path, skipping a
// missing file silently since metrics are best-effort.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		all = append(all, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
