package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nirjar1012/newChat/cmd/internal/realtime"
	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:3001", want: "http://127.0.0.1:3001"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "port only", in: ":3001", want: "http://127.0.0.1:3001"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://relay.example.com", want: "wss://relay.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func testConfig() Config {
	return Config{
		HTTPAddr:                "127.0.0.1:0",
		LogFormat:               "json",
		AllowedOrigins:          []string{"http://app.test"},
		StoreDriver:             StoreMemory,
		PresenceWorkers:         2,
		PresenceTimeout:         time.Second,
		MembershipLookupTimeout: time.Second,
		ShutdownTimeout:         time.Second,
	}
}

func newTestApp(t *testing.T, cfg Config) (*App, *httptest.Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		ts.Close()
		a.Close(context.Background())
	})
	return a, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestApp_HealthAndReadiness(t *testing.T) {
	_, ts := newTestApp(t, testConfig())

	code, body := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok\n", body)

	code, _ = get(t, ts.URL+"/readyz")
	require.Equal(t, http.StatusOK, code)

	resp, err := http.Post(ts.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestApp_ReadinessRequiresStore(t *testing.T) {
	cfg := testConfig()
	cfg.ReadinessRequireStore = true
	_, ts := newTestApp(t, cfg)

	code, _ := get(t, ts.URL+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestApp_BadgerStoreIsReady(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = StoreBadger
	cfg.ReadinessRequireStore = true
	_, ts := newTestApp(t, cfg)

	code, _ := get(t, ts.URL+"/readyz")
	require.Equal(t, http.StatusOK, code)
}

func TestApp_WebSocketAndMetrics(t *testing.T) {
	a, ts := newTestApp(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Origin": []string{"http://app.test"}},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	raw, err := json.Marshal(v1.IdentifyPayload{UserID: "user_1"})
	require.NoError(t, err)
	frame, err := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeIdentify, Payload: raw})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))

	for {
		_, b, err := conn.Read(ctx)
		require.NoError(t, err)
		var env v1.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		if env.Type == v1.TypeOnlineUsersSnapshot {
			break
		}
	}
	require.True(t, a.ctrl.Registry().IsOnline("user_1"))

	code, _ := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, code)

	code, body := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "relay_users_online 1")
	require.Contains(t, body, `relay_presence_transitions_total{status="online"} 1`)
	require.Contains(t, body, `relay_http_requests_total{class="2xx",method="GET",route="GET /healthz"}`)
}

func TestNewStore_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "cassandra"
	_, _, err := newStore(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func dialAndIdentify(t *testing.T, ctx context.Context, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Origin": []string{"http://app.test"}},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	raw, err := json.Marshal(v1.IdentifyPayload{UserID: userID})
	require.NoError(t, err)
	frame, err := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeIdentify, Payload: raw})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))

	for {
		_, b, err := conn.Read(ctx)
		require.NoError(t, err)
		var env v1.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		if env.Type == v1.TypeOnlineUsersSnapshot {
			return conn
		}
	}
}

func TestApp_CloseFlushesOfflineOfDisconnectingSessions(t *testing.T) {
	a, ts := newTestApp(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	users := []string{"user_1", "user_2", "user_3"}
	conns := make([]*websocket.Conn, 0, len(users))
	for _, u := range users {
		conns = append(conns, dialAndIdentify(t, ctx, ts, u))
	}
	for _, c := range conns {
		_ = c.CloseNow()
	}

	// Close right away: the gateway may still be tearing the sessions down.
	a.Close(ctx)

	require.Zero(t, a.ws.ActiveConnections())
	st, ok := a.store.(*realtime.InMemoryStore)
	require.True(t, ok)
	for _, u := range users {
		rec, ok := st.Presence(u)
		require.True(t, ok, u)
		require.Equal(t, realtime.StatusOffline, rec.Status, u)
	}
}

func TestApp_OwnsLoggerItOpens(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := testConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "relay.log")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, ok := a.logCloser.(*lumberjack.Logger)
	require.True(t, ok)
	a.Close(context.Background())

	b, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	require.Contains(t, string(b), "store.enabled")
}
