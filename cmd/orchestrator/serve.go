package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/AltairaLabs/agentvine/internal/observability"
	"github.com/AltairaLabs/agentvine/internal/orchestrator"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/metrics"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/routing"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/session"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/rpc"
	"github.com/AltairaLabs/agentvine/internal/storage/memory"
	"github.com/AltairaLabs/agentvine/internal/storage/sqlite"
	"github.com/AltairaLabs/agentvine/internal/taskqueue"
	"github.com/AltairaLabs/agentvine/internal/tools"
	"github.com/AltairaLabs/agentvine/internal/types"
)

const shutdownTimeout = 10 * time.Second

// flagBindings maps config keys to serve flags
var flagBindings = map[string]string{
	config.KeyGRPCAddr:        "grpc-addr",
	config.KeyMCPAddr:         "mcp-addr",
	config.KeyMCPBaseURL:      "mcp-base-url",
	config.KeyMetricsAddr:     "metrics-addr",
	config.KeyStoragePath:     "storage",
	config.KeyTracingEndpoint: "tracing-endpoint",
	config.KeyRulesFile:       "rules",
}

func newServeCmd() *cobra.Command {
	var configPath string
	var stdio bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)
			slog.SetDefault(logger)

			rt, err := config.Load(configPath, logger)
			if err != nil {
				return err
			}
			if err := rt.BindFlags(cmd.Flags(), flagBindings); err != nil {
				return err
			}
			rt.Watch()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, rt, logger)
			if err != nil {
				return err
			}
			a.stdio = stdio
			return a.run(ctx)
		},
	}

	d := config.DefaultServerConfig()
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to a YAML config file (watched for changes)")
	f.BoolVar(&stdio, "stdio", false, "Serve MCP on stdio instead of HTTP/SSE")
	f.String("grpc-addr", d.GRPCAddr, "Listen address for the worker gRPC service")
	f.String("mcp-addr", d.MCPAddr, "Listen address for the MCP HTTP/SSE server")
	f.String("mcp-base-url", d.MCPBaseURL, "Public base URL of the MCP server")
	f.String("metrics-addr", d.MetricsAddr, "Listen address for /metrics (empty disables)")
	f.String("storage", "", "SQLite database path for the work queue (empty keeps it in memory)")
	f.String("tracing-endpoint", "", "OTLP HTTP endpoint for traces (empty disables)")
	f.String("rules", "", "YAML file with extra routing rules")
	return cmd
}

// app holds every component of a running orchestrator
type app struct {
	cfg      config.Source
	logger   *slog.Logger
	stdio    bool
	registry *prometheus.Registry

	tracer   *observability.TracerProvider
	sqlite   *sqlite.WorkQueueStorage
	queue    *taskqueue.TaskQueue
	sessions *session.Registry
	channel  *messaging.Channel
	orch     *orchestrator.Orchestrator
	mcp      *tools.MCPServer
	grpc     *grpc.Server
}

// lateAnswerer forwards answers to the orchestrator, which is built after
// the MCP server it publishes to
type lateAnswerer struct {
	orch *orchestrator.Orchestrator
}

func (l *lateAnswerer) Answered(requestID, content, responderID string) error {
	if l.orch == nil {
		return errors.New("orchestrator not ready")
	}
	return l.orch.Answered(requestID, content, responderID)
}

func newApp(ctx context.Context, cfg config.Source, logger *slog.Logger) (*app, error) {
	cur := cfg.Current()
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNewMetrics(a.registry)

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Endpoint:       cur.Server.TracingEndpoint,
		Insecure:       true,
		SampleRate:     1.0,
		ServiceName:    appName,
		ServiceVersion: appVersion,
	})
	if err != nil {
		return nil, err
	}
	a.tracer = tp

	var work storage.WorkQueueStorage
	if path := cur.Server.StoragePath; path != "" {
		a.sqlite, err = sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		work = a.sqlite
		logger.Info("Using SQLite work queue", "path", path)
	} else {
		work = memory.NewInMemoryWorkQueueStorage(0)
		logger.Info("Using in-memory work queue")
	}

	tasks := memory.NewInMemoryTaskContextStore()
	liveness := memory.NewInMemoryWorkerLivenessStorage()
	a.sessions = session.NewRegistry(memory.NewInMemorySessionStorage(), tasks, cfg, session.Options{
		Logger:  logger,
		Metrics: m,
	})

	channel, err := messaging.NewChannel(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.channel = channel

	table, err := ruleTable(cfg)
	if err != nil {
		return nil, err
	}

	a.queue = taskqueue.NewTaskQueue(work, cfg, taskqueue.Options{
		Logger:  logger,
		Metrics: m,
		Tasks:   tasks,
		DeadLetters: taskqueue.DeadLetterFunc(func(ctx context.Context, item *types.WorkItem) {
			a.mcp.Report(ctx, item)
		}),
	})

	answerer := &lateAnswerer{}
	a.mcp = tools.NewMCPServer(tools.ServerConfig{Name: appName, Version: appVersion}, tools.Deps{
		Requests: channel,
		Answerer: answerer,
		Queue:    a.queue,
		Sessions: a.sessions,
		Workers:  liveness,
		WorkerStaleAfter: func() time.Duration {
			return cfg.Current().Session.WorkerStaleAfter
		},
	}, logger)

	a.orch, err = orchestrator.New(cfg, orchestrator.Options{
		Channel:        channel,
		Engine:         routing.NewEngine(table, logger),
		Sessions:       a.sessions,
		Tasks:          tasks,
		Automated:      orchestrator.EchoHandler{},
		Human:          a.mcp,
		Logger:         logger,
		Metrics:        m,
		TracerProvider: tp.Provider(),
	})
	if err != nil {
		return nil, err
	}
	answerer.orch = a.orch

	a.grpc = grpc.NewServer()
	rpc.NewServer(a.queue, a.sessions, channel, liveness, logger).Register(a.grpc)
	return a, nil
}

func ruleTable(cfg config.Source) (*routing.Table, error) {
	rules := routing.StandardRules(func() int { return cfg.Current().Routing.SimpleMaxLength })
	if path := cfg.Current().Routing.RulesFile; path != "" {
		custom, err := routing.LoadRuleFile(path)
		if err != nil {
			return nil, err
		}
		rules = routing.Merge(rules, custom)
	}
	return routing.NewTable(rules...), nil
}

// run serves until ctx is cancelled or a component fails
func (a *app) run(ctx context.Context) error {
	srv := a.cfg.Current().Server
	g, ctx := errgroup.WithContext(ctx)

	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", srv.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.GRPCAddr, err)
	}
	g.Go(func() error {
		a.logger.Info("Starting gRPC server for workers", "address", srv.GRPCAddr)
		return a.grpc.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.grpc.GracefulStop()
		return nil
	})

	if a.stdio {
		g.Go(func() error { return a.mcp.Serve() })
	} else {
		g.Go(func() error { return a.mcp.ServeHTTP(ctx, srv.MCPAddr, srv.MCPBaseURL) })
	}

	if srv.MetricsAddr != "" {
		g.Go(func() error { return a.serveMetrics(ctx, srv.MetricsAddr) })
	}

	a.queue.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		a.queue.Stop()
		return nil
	})
	g.Go(func() error {
		a.sessions.Start(ctx)
		return nil
	})
	g.Go(func() error { return a.orch.Run(ctx) })

	a.logger.Info("Orchestrator started", "version", appVersion)
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return a.shutdown(runErr)
}

func (a *app) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	a.logger.Info("Prometheus metrics server listening", "address", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdown releases resources and aggregates every error
func (a *app) shutdown(runErr error) error {
	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.tracer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("tracer shutdown: %w", err))
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close storage: %w", err))
		}
	}

	a.logger.Info("Orchestrator stopped")
	return result.ErrorOrNil()
}
