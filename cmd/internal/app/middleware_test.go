package app

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 101, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "1xx"},
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
		{status: 42, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "unknown"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithRequestLogging_RecordsRouteAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := newHTTPMetrics(prometheus.NewRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := WithRequestLogging(mux, log, metrics)

	for _, path := range []string{"/items/1", "/items/2"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("status=%d", rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("GET /items/{id}", "GET", "4xx")); got != 2 {
		t.Fatalf("requests{route=/items/{id}}=%v want=2", got)
	}
	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("unmatched", "GET", "4xx")); got != 1 {
		t.Fatalf("requests{route=unmatched}=%v want=1", got)
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"msg":"http.request"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if !strings.Contains(out, `"path":"/items/1"`) {
		t.Fatalf("path not logged: %s", out)
	}
}

func TestLoggingResponseWriter_PreservesInterfaces(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}

	if _, ok := any(lrw).(http.Hijacker); !ok {
		t.Fatalf("loggingResponseWriter must implement http.Hijacker")
	}
	if _, ok := any(lrw).(http.Flusher); !ok {
		t.Fatalf("loggingResponseWriter must implement http.Flusher")
	}
	if _, _, err := lrw.Hijack(); err == nil {
		t.Fatalf("expected error hijacking a recorder")
	}

	n, err := lrw.Write([]byte("hello"))
	if err != nil || n != 5 || lrw.bytes != 5 {
		t.Fatalf("Write n=%d bytes=%d err=%v", n, lrw.bytes, err)
	}
	if rc := http.NewResponseController(lrw); rc.Flush() != nil {
		t.Fatalf("flush through ResponseController failed")
	}
}
