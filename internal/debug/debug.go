// Package debug exposes the operator-facing diagnostics endpoint: pprof
// dumps and Prometheus metrics. It only runs when debugging is enabled in
// the configuration.
package debug

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	runtimepprof "runtime/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dalang-app/dalang/internal/core"
)

// Start runs the debug HTTP server until ctx is cancelled. It returns
// immediately when debugging is disabled.
func Start(ctx context.Context, config *core.Config, logger *logrus.Logger, gatherer prometheus.Gatherer) error {
	if !config.Debugging.Enabled {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", config.Hostname, config.Debugging.PprofPort)
	logger.Infof("opening debug port on %s", addr)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	// Plain-text dump of every goroutine's stack, handy with curl.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_ = runtimepprof.Lookup("goroutine").WriteTo(w, 1)
	})
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	server := &http.Server{Addr: addr, Handler: mux}

	errs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
