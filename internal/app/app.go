// Package app связывает хранилище, движок workflow счетов, gRPC, Kafka и
// фоновые воркеры в процесс farm-сервиса.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/farmops/internal/health"
	"github.com/vladislavdragonenkov/farmops/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/farmops/internal/metrics"
	"github.com/vladislavdragonenkov/farmops/internal/service/billing"
	grpcsvc "github.com/vladislavdragonenkov/farmops/internal/service/grpc"
	"github.com/vladislavdragonenkov/farmops/internal/service/idempotency"
	"github.com/vladislavdragonenkov/farmops/internal/service/outbox"
	"github.com/vladislavdragonenkov/farmops/internal/service/recovery"
	"github.com/vladislavdragonenkov/farmops/internal/service/retention"
	"github.com/vladislavdragonenkov/farmops/internal/service/stock"
	"github.com/vladislavdragonenkov/farmops/internal/version"
)

const gracefulStopTimeout = 5 * time.Second

// Run обслуживает запросы, пока ctx не отменён или gRPC-сервер не упал.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).Info("starting farm service")
	metrics.RegisterBuildInfo(prometheus.DefaultRegisterer, version.GetVersion(), version.GetCommit())

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	billMetrics := metrics.NewBillMetrics()
	engine := billing.NewService(deps.billingRepositories(),
		billing.WithLogger(logger.WithField("component", "billing")),
		billing.WithMetrics(billMetrics),
	)
	stockSvc := stock.NewService(deps.inventoryRepo, deps.circleRepo, deps.circleStockRepo, logger.WithField("component", "stock"))
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency"))

	grpcServer, grpcHealth := newGRPCServer(engine, stockSvc, guard, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	// recovery подбирает записи после RecoveryStaleAfter; через три окна они считаются зависшими
	healthHandler.RegisterChecker("bill_journal", healthcheck.NewJournalChecker(deps.transitionRepo, 3*cfg.RecoveryStaleAfter))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	bus, err := connectKafka(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("kafka unreachable, running without it")
	}
	defer bus.close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	startBackgroundWorkers(workerCtx, &workers, cfg, deps, engine, bus, logger)

	if err := bus.startAudit(workerCtx, cfg, billMetrics); err != nil {
		logger.WithError(err).Warn("bill audit consumer not started")
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC server listening on %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping gRPC server")
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(gracefulStopTimeout):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func newGRPCServer(engine billing.Service, stockSvc *stock.Service, guard *idempotency.Guard, logger *log.Entry) (*grpc.Server, *health.Server) {
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

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	serviceLogger := logger.WithField("layer", "grpc")
	grpcsvc.RegisterBillServiceServer(grpcServer, grpcsvc.NewBillService(engine, guard, serviceLogger))
	grpcsvc.RegisterStockServiceServer(grpcServer, grpcsvc.NewStockService(stockSvc, guard, serviceLogger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.BillServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.StockServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

// startBackgroundWorkers запускает outbox relay (только с Kafka),
// retention sweeper и recovery sweeper журнала до завершения ctx.
func startBackgroundWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *runtimeDependencies,
	engine billing.Service,
	bus *kafkaRuntime,
	logger *log.Entry,
) {
	if bus.enabled() {
		worker := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(bus.producer, cfg.KafkaEventsTopic),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(bus.producer, cfg.KafkaDLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	} else {
		logger.Warn("kafka is not configured, bill events stay in the outbox")
	}

	targets := []retention.Target{retention.IdempotencyKeys(deps.idempotencyRepo)}
	if cfg.OutboxRetention > 0 {
		targets = append(targets, retention.DeliveredEvents(deps.outboxRepo, cfg.OutboxRetention))
	}
	janitor := retention.NewSweeper(targets,
		retention.WithLogger(logger.WithField("component", "retention-sweeper")),
		retention.WithInterval(cfg.IdempotencyCleanupInterval),
		retention.WithMetrics(metrics.NewRetentionMetrics(prometheus.DefaultRegisterer)),
		retention.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Run(ctx)
	}()

	sweeper := recovery.NewSweeper(deps.transitionRepo, engine,
		recovery.WithLogger(logger.WithField("component", "recovery-sweeper")),
		recovery.WithSchedule(cfg.RecoverySchedule),
		recovery.WithStaleAfter(cfg.RecoveryStaleAfter),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil {
			logger.WithError(err).Error("recovery sweeper stopped")
		}
	}()
}

// startMetricsServer отдаёт /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
