package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/icn-bootstrap/internal/bootstrap"
	"github.com/signalsfoundry/icn-bootstrap/internal/config"
	"github.com/signalsfoundry/icn-bootstrap/internal/control"
	"github.com/signalsfoundry/icn-bootstrap/internal/fid"
	"github.com/signalsfoundry/icn-bootstrap/internal/flows"
	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/monitor"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
	"github.com/signalsfoundry/icn-bootstrap/internal/topology"
	"github.com/signalsfoundry/icn-bootstrap/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load configuration", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.Control.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Control.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "bootstrapd exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the daemon and blocks until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Observability(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	promReg := prometheus.NewRegistry()
	controlMetrics, err := observability.NewControlCollector(promReg)
	if err != nil {
		return fmt.Errorf("control metrics: %w", err)
	}
	bootstrapMetrics, err := observability.NewBootstrapCollector(promReg)
	if err != nil {
		return fmt.Errorf("bootstrap metrics: %w", err)
	}

	reg, err := registry.New()
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	feed := topology.NewFeed(nil)
	defer feed.Close()

	tm := tmsdn.NewClient(tmsdn.ClientConfig{Timeout: cfg.Bootstrap.AllocationTimeout}, log)
	table := flows.NewTable(log, bootstrapMetrics)
	counters := monitor.NewMapSource()

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New(reg, counters, tm, log, bootstrapMetrics)
		mon.SetRoundTimeout(cfg.Monitor.RoundTimeout)
	}

	orch := bootstrap.New(reg, tm, table, fid.NewComposer(feed.Graph(), reg, log), bootstrap.Options{
		Batch:      cfg.Bootstrap.Batch,
		RetryLimit: rate.Limit(cfg.Bootstrap.RetriesPerSecond),
		RetryBurst: cfg.Bootstrap.RetryBurst,
		Monitor:    mon,
		Metrics:    bootstrapMetrics,
		Log:        log,
	})

	if cfg.TM.Set() {
		if err := orch.Configure(ctx, cfg.TM.Orchestrator()); err != nil {
			return fmt.Errorf("configure tm: %w", err)
		}
		if cfg.Bootstrap.ActivateOnStart {
			orch.Activate(ctx, true)
		}
	}

	ticks := timectrl.NewTickSource(clock.NewClock(), cfg.Bootstrap.TickInterval).Start(ctx)
	eventq, cancelWatch := feed.Watch()
	defer cancelWatch()

	loopDone := make(chan error, 1)
	go func() { loopDone <- orch.Run(ctx, eventq, ticks) }()

	svc := control.NewService(orch, log, control.WithTopology(feed), control.WithCounters(counters))
	server, hs := control.NewGRPCServer(svc, controlMetrics, log)

	metricsSrv := serveMetrics(cfg.Control.MetricsAddress, controlMetrics, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting bootstrap control server",
		logging.String("addr", lis.Addr().String()),
		logging.Bool("batch", cfg.Bootstrap.Batch),
		logging.Duration("tick", cfg.Bootstrap.TickInterval),
	)
	go func() { serveErr <- server.Serve(lis) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("grpc server: %w", err)
	}

	log.Info(context.Background(), "shutting down bootstrap control server")
	hs.SetServingStatus(control.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if runErr == nil {
		runErr = <-loopDone
	}
	return runErr
}

func serveMetrics(addr string, collector *observability.ControlCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
