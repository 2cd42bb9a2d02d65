// Package app wires the relay runtime: config, logging, store selection, HTTP routes and the
// WebSocket gateway.
package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nirjar1012/newChat/cmd/internal/realtime"
)

// App is the relay runtime: it owns the HTTP server, the store and the realtime components.
type App struct {
	cfg Config
	log Logger

	store  realtime.Store
	dbPool *pgxpool.Pool

	presence *realtime.PresenceSync
	ctrl     *realtime.Controller
	ws       *realtime.WSGateway
	handler  http.Handler

	// logCloser is set when New opened the logger itself.
	logCloser io.Closer
	closeOnce sync.Once
}

// New constructs a fully wired App from cfg.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	var logCloser io.Closer = nopCloser{}
	if log == nil {
		log, logCloser = NewLogger(cfg)
	}

	st, pool, err := newStore(ctx, cfg, log)
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(reg)

	presence, err := realtime.NewPresenceSync(log, st,
		realtime.WithPresenceWorkers(cfg.PresenceWorkers),
		realtime.WithPresenceTimeout(cfg.PresenceTimeout),
		realtime.WithPresenceMetrics(metrics),
	)
	if err != nil {
		closeStore(log, st, pool)
		_ = logCloser.Close()
		return nil, err
	}

	ctrl := realtime.NewController(log, nil, nil, presence, st,
		realtime.WithLookupTimeout(cfg.MembershipLookupTimeout),
		realtime.WithMetrics(metrics),
	)
	metrics.WatchState(ctrl.Registry(), ctrl.Rooms())

	ws := realtime.NewWSGateway(log, ctrl, realtime.GatewayConfig{
		AllowedOrigins:     cfg.AllowedOrigins,
		OriginRequired:     cfg.OriginRequired,
		InsecureSkipVerify: cfg.WSInsecureSkipVerify,
		SendQueueSize:      cfg.WSSendQueue,
		WriteTimeout:       cfg.WSWriteTimeout,
		ReadIdleTimeout:    cfg.WSReadIdleTimeout,
		HeartbeatInterval:  cfg.WSHeartbeatInterval,
		RateEvents:         cfg.WSRateEvents,
		RateWindow:         cfg.WSRateWindow,
	}, metrics)

	mux := http.NewServeMux()
	registerHTTP(mux, routes{log: log, cfg: cfg, store: st, gatherer: reg, ws: ws})

	return &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		dbPool:   pool,
		presence: presence,
		ctrl:     ctrl,
		ws:       ws,
		handler:  WithRequestLogging(mux, log, newHTTPMetrics(reg)),

		logCloser: logCloser,
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is cancelled or the server fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"store", a.cfg.StoreDriver,
		"ws_url", wsBaseURL(base)+"/ws",
		"metrics_url", base+"/metrics",
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http: listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown; they end with ctx.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.fail", "err", err)
	}

	a.log.Info("server.stopped", "ws_draining", a.ws.ActiveConnections())
	a.Close(context.WithoutCancel(ctx))
	return err
}

// Close waits for open WebSocket sessions to finish their teardown, flushes pending
// presence writes and releases the store. Only the first call has an effect.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(ctx, a.shutdownTimeout())
		defer cancel()

		// Sessions still tearing down enqueue offline writes; presence must accept them.
		if err := a.ws.WaitIdle(closeCtx); err != nil {
			a.log.Warn("ws.drain.fail", "err", err)
		}
		if err := a.presence.Close(closeCtx); err != nil {
			a.log.Warn("presence.close.fail", "err", err)
		}
		closeStore(a.log, a.store, a.dbPool)

		if a.logCloser != nil {
			_ = a.logCloser.Close()
		}
	})
}

func (a *App) shutdownTimeout() time.Duration {
	return nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore opens the persistence collaborator selected by cfg.StoreDriver.
// The pool is returned separately because the app, not PostgresStore, owns it.
func newStore(ctx context.Context, cfg Config, log Logger) (realtime.Store, *pgxpool.Pool, error) {
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		st, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("store.enabled", "driver", StorePostgres, "schema", cfg.DBSchema)
		return st, pool, nil

	case StoreBadger:
		st, err := realtime.OpenBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store.enabled", "driver", StoreBadger, "path", cfg.BadgerPath, "in_memory", cfg.BadgerPath == "")
		return st, nil, nil

	case StoreNATS:
		st, err := realtime.DialNATSStore(ctx, log, cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store.enabled", "driver", StoreNATS)
		return st, nil, nil

	case StoreMemory, "":
		log.Info("store.enabled", "driver", StoreMemory)
		return realtime.NewInMemoryStore(), nil, nil

	default:
		return nil, nil, errors.Newf("unknown store driver %q", cfg.StoreDriver)
	}
}

func closeStore(log Logger, st realtime.Store, pool *pgxpool.Pool) {
	if st != nil {
		if err := st.Close(); err != nil {
			log.Error("store.close.fail", "err", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return "ws://" + httpURL
	}
}
