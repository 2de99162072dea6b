// Package app собирает зависимости сервиса заказов и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/httpapi"
	"github.com/vladislavdragonenkov/orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

// Run запускает HTTP, gRPC и сервер метрик и блокируется до отмены ctx
// или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	logger := log.WithField("component", "app")
	logger.Info(version.String())

	checks := health.NewHandler(version.GetVersion())
	deps, err := initDependencies(ctx, cfg, checks, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	kafkaRT, err := initKafka(cfg, deps.Outbox, logger)
	if err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}

	serviceOpts := []orders.Option{
		orders.WithTimeline(deps.Timeline),
		orders.WithMetrics(metrics.NewOrderMetrics()),
		orders.WithLogger(logger.WithField("component", "order-workflow")),
		orders.WithCurrency(cfg.Currency),
	}
	if kafkaRT != nil {
		// События пишутся в outbox только когда есть кому их публиковать.
		serviceOpts = append(serviceOpts, orders.WithOutbox(deps.Outbox))
	}
	workflow := orders.NewService(deps.Orders, deps.Catalog, deps.Payments, serviceOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if kafkaRT != nil {
		if err := kafkaRT.attachPaymentConsumer(cfg, workflow, logger); err != nil {
			kafkaRT.stop(logger)
			return err
		}
		if err := kafkaRT.start(runCtx); err != nil {
			kafkaRT.stop(logger)
			return fmt.Errorf("start kafka: %w", err)
		}
		defer kafkaRT.stop(logger)
	}

	if deps.memoryIdempotency != nil {
		cleanup := idempotency.NewCleanupWorker(deps.memoryIdempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
			idempotency.WithMetrics(metrics.NewIdempotencyCleanupMetrics(nil)),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		go cleanup.Run(runCtx)
	}

	errCh := make(chan error, 3)

	api := httpapi.NewHandler(workflow,
		httpapi.WithIdempotency(deps.Idempotency, cfg.IdempotencyTTL),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
		httpapi.WithLogger(logger.WithField("layer", "http")),
	)
	apiSrv, _, err := serveHTTP(cfg.HTTPAddr, api.Router(), "http api", logger, errCh)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	defer shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)

	metricsSrv, _, err := serveHTTP(cfg.MetricsAddr, newMetricsRouter(checks), "metrics", logger, errCh)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	defer shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)

	grpcServer, healthServer := newGRPCServer(workflow, deps, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("grpc server listening")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		stopGRPC(grpcServer, healthServer, cfg.ShutdownTimeout, logger)
		return ctx.Err()
	case err := <-errCh:
		stopGRPC(grpcServer, healthServer, cfg.ShutdownTimeout, logger)
		return err
	}
}

// newGRPCServer регистрирует сервис заказов, health и reflection с метриками Prometheus.
func newGRPCServer(workflow grpcsvc.Workflow, deps *Dependencies, logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderServiceServer(server, grpcsvc.NewOrderService(workflow, deps.Idempotency, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)
	return server, healthServer
}

// stopGRPC переводит health в NOT_SERVING и ждёт завершения активных RPC не дольше timeout.
func stopGRPC(server *grpc.Server, healthServer *grpchealth.Server, timeout time.Duration, logger *log.Entry) {
	healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		server.Stop()
	}
}
