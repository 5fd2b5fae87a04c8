package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestMetricsRegisterOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.FramesReceived.WithLabelValues("0").Add(3)
	if got := testutil.ToFloat64(m.FramesReceived.WithLabelValues("0")); got != 3 {
		t.Fatalf("expected frames received 3, got %f", got)
	}

	m.FramesDiscarded.WithLabelValues("not_position_report").Inc()
	if got := testutil.ToFloat64(m.FramesDiscarded.WithLabelValues("not_position_report")); got != 1 {
		t.Fatalf("expected discarded 1, got %f", got)
	}

	m.SnapshotDuration.Observe(0.02)
	if samples := testutil.CollectAndCount(m.SnapshotDuration); samples != 1 {
		t.Fatalf("expected snapshot histogram to record 1 sample, got %d", samples)
	}

	// A second set on a fresh registry must not collide.
	_ = NewMetrics(prometheus.NewRegistry())
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"WARN ": zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"trace": zerolog.TraceLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestLoggersTagComponentAndFilterLevel(t *testing.T) {
	var buf bytes.Buffer
	loggers := NewLoggers(&buf, zerolog.WarnLevel, LogFormatJSON)

	log := loggers.For("session")
	log.Info().Msg("dropped")
	log.Warn().Int("shard", 2).Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line at warn level, got %q", buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "session" || entry["message"] != "kept" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestLoggersConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggers(&buf, zerolog.InfoLevel, LogFormatConsole).For("snapshot")
	log.Info().Msg("snapshot written")

	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "snapshot written") {
		t.Fatalf("expected console output, got %q", out)
	}
}

func readiness(t *testing.T, h *HealthChecker) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("readiness body is not JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker()

	code, body := readiness(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "no_open_sessions" {
		t.Fatalf("expected 503 no_open_sessions before any session opens, got %d %v", code, body)
	}

	h.RelayStateChanged(3, false)
	code, body = readiness(t, h)
	if code != http.StatusOK || body["open_sessions"] != float64(3) {
		t.Fatalf("expected 200 with 3 open sessions, got %d %v", code, body)
	}
	if !h.IsReady() || h.OpenSessions() != 3 {
		t.Fatalf("expected ready with 3 open sessions")
	}

	h.RelayStateChanged(3, true)
	code, body = readiness(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "shutting_down" {
		t.Fatalf("expected 503 shutting_down, got %d %v", code, body)
	}

	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected liveness 200 during shutdown, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"shutting_down":true`) {
		t.Fatalf("expected liveness to report shutdown, got %s", rec.Body.String())
	}
}
