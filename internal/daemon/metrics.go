package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/duet/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer exposes the Prometheus registry over HTTP. It does nothing
// when no metrics address is configured.
type MetricsServer struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

// NewMetricsServer builds the /metrics endpoint for cfg.MetricsAddr.
func NewMetricsServer(cfg *config.Config, reg *prometheus.Registry, logger *zap.Logger) *MetricsServer {
	ms := &MetricsServer{addr: cfg.MetricsAddr, logger: logger}
	if ms.addr == "" {
		return ms
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	ms.srv = &http.Server{Addr: ms.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return ms
}

// Start listens in the background. A bind failure is logged, not fatal.
func (ms *MetricsServer) Start() {
	if ms.srv == nil {
		return
	}
	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		ms.logger.Warn("metrics listener failed", zap.String("addr", ms.addr), zap.Error(err))
		ms.srv = nil
		return
	}
	ms.addr = ln.Addr().String()
	ms.logger.Info("metrics server starting", zap.String("addr", ms.addr))
	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ms.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Addr returns the listen address, resolved once Start has bound it.
func (ms *MetricsServer) Addr() string {
	return ms.addr
}

// Stop shuts the listener down.
func (ms *MetricsServer) Stop(ctx context.Context) error {
	if ms.srv == nil {
		return nil
	}
	return ms.srv.Shutdown(ctx)
}
