package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/telewatch/internal/adapters/http/api"
	"github.com/okian/telewatch/internal/adapters/http/swagger"
	"github.com/okian/telewatch/internal/adapters/m2x"
	"github.com/okian/telewatch/internal/adapters/repository"
	"github.com/okian/telewatch/internal/adapters/sink"
	service "github.com/okian/telewatch/internal/app"
	"github.com/okian/telewatch/internal/config"
	"github.com/okian/telewatch/internal/domain/classify"
	"github.com/okian/telewatch/internal/domain/watermark"
	"github.com/okian/telewatch/pkg/logger"
	"github.com/okian/telewatch/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "watcher exited", logger.Error(err))
		os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

// run wires the watcher from configuration and blocks until ctx is done.
func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.LogFormat == logger.FormatJSON {
		if err := logger.InitWith(os.Stdout, logger.FormatJSON); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
	}
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	client, err := m2x.New(cfg.M2X.DeviceID,
		m2x.WithBaseURL(cfg.M2X.BaseURL),
		m2x.WithAPIKey(cfg.M2X.APIKey),
		m2x.WithHTTPClient(&http.Client{Timeout: cfg.M2X.Timeout}),
	)
	if err != nil {
		return err
	}

	tracker, closeTracker, err := buildTracker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTracker()

	out, sinkName, closeSink, err := buildSink(cfg, client)
	if err != nil {
		return err
	}
	defer closeSink()

	w, err := service.New(client, tracker, out, buildStreams(cfg),
		service.WithPollInterval(cfg.PollInterval),
		service.WithPollFetchTimeout(cfg.FetchTimeout),
		service.WithPollLookback(cfg.Lookback),
		service.WithQueueSize(cfg.EventQueueSize),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithDeliveryTimeout(cfg.DeliveryTimeout),
		service.WithShutdownTimeout(cfg.ShutdownTimeout),
		service.WithHistorySize(cfg.HistorySize),
		service.WithSinkName(sinkName),
		service.WithLogger(loggerInstance.Named("watcher")),
	)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, w)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(w, api.WithMaxEventsLimit(cfg.HistorySize)).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(shutdownCtx, "server stopped")
	return nil
}

// buildStreams converts configured streams into watcher streams.
func buildStreams(cfg *config.Config) []service.Stream {
	streams := make([]service.Stream, 0, len(cfg.Streams))
	for _, s := range cfg.Streams {
		rules := make([]classify.Config, 0, len(s.Rules))
		for _, r := range s.Rules {
			rules = append(rules, r.Classifier())
		}
		streams = append(streams, service.Stream{ID: s.ID, Rules: rules})
	}
	return streams
}

// buildTracker returns the configured watermark store and its cleanup.
func buildTracker(ctx context.Context, cfg *config.Config) (watermark.Tracker, func(), error) {
	if cfg.Watermark.Backend != config.BackendRedis {
		return watermark.NewInMemoryTracker(), func() {}, nil
	}

	r := cfg.Watermark.Redis
	client, err := repository.Dial(ctx, r.Addr, r.Password, r.DB)
	if err != nil {
		return nil, nil, err
	}
	tracker := repository.NewRedisTracker(client, repository.WithKeyPrefix(r.KeyPrefix))
	logger.Get().Info(ctx, "watermarks persisted in redis", logger.String("addr", r.Addr))
	return tracker, func() { _ = tracker.Close() }, nil
}

// buildSink fans events out to every configured sink. The returned name
// labels dispatch metrics.
func buildSink(cfg *config.Config, updater sink.Updater) (sink.Sink, string, func(), error) {
	var (
		sinks   sink.Multi
		names   string
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, t := range cfg.Sink.Types {
		switch t {
		case config.SinkLog:
			sinks = append(sinks, sink.NewLogSink(logger.Get().Named("events")))
		case config.SinkNATS:
			conn, err := sink.Dial(cfg.Sink.NATS.URL, cfg.Sink.NATS.ClientName)
			if err != nil {
				closeAll()
				return nil, "", nil, err
			}
			closers = append(closers, func() { sink.CloseConn(conn) })
			sinks = append(sinks, sink.NewNATSSink(conn, cfg.Sink.NATS.SubjectPrefix))
		case config.SinkStream:
			sinks = append(sinks, sink.NewStreamSink(updater, cfg.Sink.StreamTargets))
		default:
			closeAll()
			return nil, "", nil, fmt.Errorf("%w: unknown sink type %q", config.ErrInvalidConfig, t)
		}
		if names != "" {
			names += "+"
		}
		names += t
	}

	if len(sinks) == 1 {
		return sinks[0], names, closeAll, nil
	}
	return sinks, names, closeAll, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates watcher metrics.
func startServiceMetricsUpdater(ctx context.Context, w *service.Watcher) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(w)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges derived from watcher stats.
func updateServiceMetrics(w *service.Watcher) {
	stats := w.GetStats()

	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}

	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerActiveCount(workerCount)
	}
}
