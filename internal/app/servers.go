package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/health"
)

const readHeaderTimeout = 5 * time.Second

// newMetricsRouter собирает служебные endpoints: /metrics и health probes.
func newMetricsRouter(checks *health.Handler) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", checks)
	r.Get("/livez", health.LivenessHandler)
	r.Get("/readyz", checks.ReadinessHandler)
	return r
}

// serveHTTP начинает слушать addr и обслуживает handler в фоне.
// Ошибка Serve, кроме штатной остановки, отправляется в errCh.
func serveHTTP(addr string, handler http.Handler, name string, logger *log.Entry, errCh chan<- error) (*http.Server, net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.WithField("addr", lis.Addr().String()).Infof("%s server listening", name)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv, lis.Addr(), nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
