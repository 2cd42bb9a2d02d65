package realtime

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// WSDefaultAllowedOrigins is the web client's dev origin.
	WSDefaultAllowedOrigins = "http://localhost:3000"
)

// GatewayConfig holds the transport policy of the WebSocket gateway.
// Zero values fall back to secure defaults.
type GatewayConfig struct {
	// AllowedOrigins is the origin allow-list ("*" allows any origin).
	AllowedOrigins []string
	// OriginRequired rejects requests without an Origin header.
	OriginRequired bool
	// InsecureSkipVerify disables the websocket library's own origin check (dev only).
	InsecureSkipVerify bool

	SendQueueSize   int
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = splitCSV(WSDefaultAllowedOrigins)
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// WSGateway is the WebSocket entrypoint of the relay.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats, and
// hands every decoded envelope to the Controller. Each connection gets a reader
// (this handler), a writer and a heartbeat goroutine.
type WSGateway struct {
	log     *slog.Logger
	ctrl    *Controller
	metrics *Metrics
	cfg     GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	active *atomic.Int64
}

// NewWSGateway constructs a gateway in front of ctrl.
func NewWSGateway(log *slog.Logger, ctrl *Controller, cfg GatewayConfig, metrics *Metrics) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if ctrl == nil {
		ctrl = NewController(log, nil, nil, nil, nil, WithMetrics(metrics))
	}
	cfg = cfg.withDefaults()

	return &WSGateway{
		log:     log,
		ctrl:    ctrl,
		metrics: metrics,
		cfg:     cfg,
		// The two origin layers must agree, so the library patterns come from the allow-list.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
		active:         atomic.NewInt64(0),
	}
}

// ActiveConnections returns the number of upgraded connections being served.
func (g *WSGateway) ActiveConnections() int64 { return g.active.Load() }

// WaitIdle blocks until every upgraded connection has finished its teardown or ctx is done.
// http.Server.Shutdown does not track hijacked connections, so callers use this before
// releasing what the teardown writes to.
func (g *WSGateway) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(idlePollInterval)
	defer t.Stop()

	for g.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "realtime: %d connections still open", g.active.Load())
		case <-t.C:
		}
	}
	return nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs it until disconnect.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.Rejected("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		g.metrics.Rejected("accept")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.metrics.Rejected("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	client := NewClient(sessionID, g.cfg.SendQueueSize)
	sess := g.ctrl.Open(client)

	g.active.Inc()
	defer g.active.Dec()
	g.log.Info("ws.session.open", "session_id", sessionID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Controller.Close removes the session from rooms and the
	// registry before the client is marked closed; client.Send itself is never closed.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.ctrl.Close(sess)
			_ = conn.Close(code, reason)
			cancel()
			g.log.Info("ws.session.close", "session_id", sessionID, "reason", reason, "dropped", client.Dropped())
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						g.metrics.Rejected("heartbeat")
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now().UTC()) {
			g.metrics.Rejected("rate_limited")
			g.ctrl.replyError(sess, ErrRateLimited)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			g.ctrl.replyError(sess, errors.Wrapf(ErrBadPayload, "invalid JSON: %v", err))
			continue readLoop
		}
		if err := env.Validate(); err != nil {
			g.ctrl.replyError(sess, errors.Wrapf(ErrBadPayload, "invalid envelope: %v", err))
			continue readLoop
		}

		_ = g.ctrl.Handle(ctx, sess, env)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, errors.Newf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return errors.Newf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, de-duplicated hosts of allowed.
// websocket.Accept matches OriginPatterns against the origin host with filepath.Match.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	hosts := lo.Uniq(lo.FilterMap(allowed, func(a string, _ int) (string, bool) {
		h := originHostOnly(a)
		return h, h != ""
	}))
	slices.Sort(hosts)
	return hosts
}

func splitCSV(raw string) []string {
	return lo.FilterMap(strings.Split(raw, ","), func(p string, _ int) (string, bool) {
		s := strings.TrimSpace(p)
		return s, s != ""
	})
}
