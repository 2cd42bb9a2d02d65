package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nirjar1012/newChat/cmd/internal/realtime"
)

const readinessTimeout = 2 * time.Second

// routes holds what the HTTP surface needs from the runtime.
type routes struct {
	log      Logger
	cfg      Config
	store    realtime.Store
	gatherer prometheus.Gatherer
	ws       http.Handler
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireStore && (rt.store == nil || rt.cfg.StoreDriver == StoreMemory) {
			http.Error(w, "store not configured", http.StatusServiceUnavailable)
			return
		}

		if p, ok := rt.store.(realtime.Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			err := p.Ping(ctx)
			cancel()
			if err != nil {
				http.Error(w, "store not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.store.not_ready", "driver", rt.cfg.StoreDriver, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))

	mux.Handle("GET /ws", rt.ws)
}
