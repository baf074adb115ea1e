package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docsieve/docsieve/config"
	"github.com/docsieve/docsieve/pkg/api"
	"github.com/docsieve/docsieve/pkg/api/events"
	"github.com/docsieve/docsieve/pkg/api/handlers"
	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/deadletter"
	badgerstore "github.com/docsieve/docsieve/pkg/deadletter/badger"
	"github.com/docsieve/docsieve/pkg/deadletter/memory"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/metrics"
	"github.com/docsieve/docsieve/pkg/pipeline"
	sig "github.com/docsieve/docsieve/pkg/signal"
	"github.com/docsieve/docsieve/pkg/telemetry/tracing"
	"github.com/docsieve/docsieve/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	overrides := buildOverrides()

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting DocSieve",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize tracing
	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize the dead-letter store backend
	store, err := newDeadLetterStore(cfg)
	if err != nil {
		log.Error("Failed to create dead-letter store", "error", err)
		os.Exit(1)
	}
	log.Info("Initialized dead-letter store", "type", cfg.DeadLetter.Type)

	// Initialize metrics manager
	metricsCfg := metrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		Port:                    cfg.Metrics.Port,
		Path:                    cfg.Metrics.Path,
		DeliveryDurationBuckets: metrics.DefaultConfig().DeliveryDurationBuckets,
		HTTPDurationBuckets:     metrics.DefaultConfig().HTTPDurationBuckets,
	}
	metricsManager := metrics.NewManager(metricsCfg)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// The broadcaster fans bus events out to websocket subscribers.
	broadcaster := events.NewBroadcaster()

	// Initialize the signal bus
	busSystem, err := bus.New(busOptions(cfg, store, metricsManager, broadcaster, log))
	if err != nil {
		log.Error("Failed to create signal bus", "error", err)
		os.Exit(1)
	}

	// Wire the evaluation pipeline before starting the bus so stage
	// contracts and subscriptions are in place for the first signal.
	pipe, err := pipeline.New(busSystem, cfg.Pipeline, log)
	if err != nil {
		log.Error("Failed to create pipeline", "error", err)
		os.Exit(1)
	}
	busSystem.Start()

	// Initialize HTTP server with handlers
	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	go forwardEvents(broadcaster, wsHandler)

	apiHandlers := &api.Handlers{
		Bus:         handlers.NewBusHandler(busSystem, log),
		Contracts:   handlers.NewContractHandler(busSystem, log),
		DeadLetters: handlers.NewDeadLetterHandler(busSystem, log),
		Health:      handlers.NewHealthHandler(busSystem),
		Events:      wsHandler,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
		apiHandlers.MetricsHandler = metricsManager.Handler()
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Watch the config file for hot-reloadable changes
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, config.NewLoader())
		if err != nil {
			log.Warn("Config watching disabled", "error", err)
		} else {
			current := config.ExtractHotReloadable(cfg)
			watcher.OnChange(func(next *config.Config) {
				reloaded := config.ExtractHotReloadable(next)
				if !current.Changed(reloaded) {
					return
				}
				applyHotReload(busSystem, log, reloaded)
				current = reloaded
			})
			go func() {
				if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
					log.Warn("Config watcher stopped", "error", err)
				}
			}()
		}
	}

	log.Info("DocSieve is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"channels", len(cfg.Bus.Channels),
	)
	log.Info("Press Ctrl+C to stop")

	select {
	case s := <-sigChan:
		log.Info("Received shutdown signal", "signal", s)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Error("Error stopping config watcher", "error", err)
		}
	}

	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}
	wsHandler.Close()

	log.Info("Stopping signal bus")
	pipe.Close()
	if err := busSystem.Close(shutdownCtx); err != nil {
		log.Error("Error during bus shutdown", "error", err)
	}
	broadcaster.Close()

	if err := tracingShutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("DocSieve stopped gracefully")
}

// newDeadLetterStore selects the dead-letter backend from configuration.
func newDeadLetterStore(cfg *config.Config) (deadletter.Store, error) {
	switch cfg.DeadLetter.Type {
	case "badger":
		return badgerstore.NewStore(&badgerstore.Config{
			Path:             cfg.DeadLetter.Badger.Path,
			SyncWrites:       cfg.DeadLetter.Badger.SyncWrites,
			ValueLogFileSize: cfg.DeadLetter.Badger.ValueLogFileSize,
		})
	case "memory", "":
		return memory.NewStore(cfg.DeadLetter.MaxSize), nil
	default:
		return nil, fmt.Errorf("unknown dead-letter store type %q", cfg.DeadLetter.Type)
	}
}

// busOptions maps file configuration onto bus options.
func busOptions(cfg *config.Config, store deadletter.Store, m *metrics.Manager, sink bus.EventSink, log logger.Logger) bus.Options {
	channels := make([]bus.ChannelConfig, 0, len(cfg.Bus.Channels))
	for _, cc := range cfg.Bus.Channels {
		channels = append(channels, bus.ChannelConfig{
			Name:                  cc.Name,
			Capacity:              cc.Capacity,
			BackpressureThreshold: cc.BackpressureThreshold,
			RetainHistory:         cc.RetainHistory,
			HistorySize:           cc.HistorySize,
			HistoryMaxAge:         cc.HistoryMaxAge,
			OnNoConsumer:          bus.NoConsumerPolicy(cc.OnNoConsumer),
		})
	}

	opts := bus.Options{
		Channels: channels,
		Dispatcher: bus.DispatcherConfig{
			Workers:               cfg.Bus.Dispatcher.Workers,
			MaxAttempts:           cfg.Bus.Dispatcher.MaxAttempts,
			RetryDelay:            cfg.Bus.Dispatcher.RetryDelay,
			DeliveryTimeout:       cfg.Bus.Dispatcher.DeliveryTimeout,
			MaxPendingPerConsumer: cfg.Bus.Dispatcher.MaxPendingPerConsumer,
			Breaker: bus.BreakerConfig{
				FailureThreshold: cfg.Bus.Breaker.FailureThreshold,
				Cooldown:         cfg.Bus.Breaker.Cooldown,
			},
		},
		Thresholds:        thresholdTypes(cfg.Bus.Thresholds),
		ThresholdFallback: cfg.Bus.ThresholdFallback,
		Store:             store,
		PublishRate:       cfg.Bus.PublishRate,
		PublishBurst:      cfg.Bus.PublishBurst,
		Events:            sink,
		Logger:            log,
	}
	if m.Enabled() {
		opts.Metrics = m
	}
	return opts
}

func thresholdTypes(byName map[string]float64) map[sig.Type]float64 {
	out := make(map[sig.Type]float64, len(byName))
	for name, v := range byName {
		out[sig.Type(name)] = v
	}
	return out
}

// applyHotReload applies hot-reloadable config: log level and the value-gate
// thresholds.
func applyHotReload(b *bus.BusSystem, log logger.Logger, reloaded config.HotReloadableConfig) {
	log.SetLevel(logger.ParseLevel(reloaded.LogLevel))
	b.Thresholds().Replace(thresholdTypes(reloaded.Thresholds), reloaded.ThresholdFallback)
	log.Info("Applied hot-reloaded configuration",
		"log_level", reloaded.LogLevel,
		"thresholds", len(reloaded.Thresholds),
		"threshold_fallback", reloaded.ThresholdFallback,
	)
}

// forwardEvents pipes broadcaster events to connected websocket clients.
func forwardEvents(b *events.Broadcaster, ws *handlers.WebSocketHandler) {
	ch := b.Subscribe(256)
	for event := range ch {
		_ = ws.Broadcast(handlers.EventMessage{
			Type:      event.Type,
			Timestamp: event.Timestamp,
			Payload:   event.Payload,
		})
	}
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("DocSieve - Document Evaluation Signal Bus\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("DocSieve - Typed signal bus for document-evaluation pipelines\n\n")
	fmt.Printf("Usage: docsieve [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  docsieve                                  # Run with default config\n")
	fmt.Printf("  docsieve -config config.yaml              # Use specific config file\n")
	fmt.Printf("  docsieve -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  docsieve -version                         # Print version info\n")
}
