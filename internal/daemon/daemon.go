package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/knowhub/internal/config"
	"github.com/harun/knowhub/internal/logger"
	"github.com/harun/knowhub/internal/observability"
	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/agent"
	"github.com/harun/knowhub/pkg/batch"
	"github.com/harun/knowhub/pkg/commandqueue"
	"github.com/harun/knowhub/pkg/health"
	"github.com/harun/knowhub/pkg/httpapi"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/orchestrator"
	"github.com/harun/knowhub/pkg/prompts"
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/reasoning"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolserver"
)

// Daemon assembles and runs the knowhub service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	aggregator   *metrics.Aggregator
	prometheus   *observability.Recorder
	recorder     metrics.Recorder
	toolServer   *toolserver.Client
	chain        *provider.Chain
	executor     *resilience.Executor
	batches      *batch.Manager
	writes       *commandqueue.Queue
	prompts      *prompts.Store
	reader       *agent.Reader
	integrator   *agent.Integrator
	orchestrator *orchestrator.Orchestrator
	checker      *health.Checker

	// Services
	server    *httpapi.Server
	monitor   *health.Monitor
	watcher   *prompts.Watcher
	lifecycle *LifecycleManager

	factory provider.Factory

	// Runtime state
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	startTime time.Time
	fatal     chan error
}

// Option configures a Daemon
type Option func(*Daemon)

// WithProviderFactory replaces the SDK-backed provider factory
func WithProviderFactory(f provider.Factory) Option {
	return func(d *Daemon) {
		d.factory = f
	}
}

// New creates a daemon with all modules wired from cfg. Nothing is
// started and no connection is made.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		factory: provider.DefaultFactory,
		ctx:     ctx,
		cancel:  cancel,
		fatal:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	d.aggregator = metrics.NewAggregator(cfg.Metrics.Capacity)
	recorders := metrics.MultiRecorder{d.aggregator}
	if cfg.Metrics.Prometheus {
		d.prometheus = observability.NewRecorder()
		recorders = append(recorders, d.prometheus)
	}
	d.recorder = recorders
	d.logger.Info().Int("capacity", cfg.Metrics.Capacity).Bool("prometheus", cfg.Metrics.Prometheus).Msg("Metrics initialized")

	tsOpts := []toolserver.Option{
		toolserver.WithLogger(d.logger.Component("toolserver")),
		toolserver.WithRecorder(d.recorder),
	}
	if d.prometheus != nil {
		tsOpts = append(tsOpts, toolserver.WithStateHook(d.prometheus.SetToolServerConnected))
	}
	d.toolServer = toolserver.New(toolserver.Config{
		URL:            cfg.ToolServer.URL,
		ConnectTimeout: cfg.ToolServer.ConnectTimeout,
		CallTimeout:    cfg.ToolServer.CallTimeout,
	}, tsOpts...)
	d.logger.Info().Str("url", cfg.ToolServer.URL).Msg("Tool server client initialized")

	chain, err := provider.BuildChain(cfg.Tiers, d.factory)
	if err != nil {
		return err
	}
	d.chain = chain

	d.executor, err = resilience.NewExecutor(chain.Tiers(),
		resilience.WithLogger(d.logger.Component("resilience")),
		resilience.WithRecorder(d.recorder),
		resilience.WithPolicy(resilience.RetryPolicy{
			MaxRetries:        cfg.Retry.MaxRetries,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			InitialDelay:      cfg.Retry.InitialDelay,
			MaxDelay:          cfg.Retry.MaxDelay,
		}),
	)
	if err != nil {
		return err
	}
	tierNames := make([]string, 0, chain.Len())
	for _, t := range chain.Tiers() {
		tierNames = append(tierNames, t.Key())
	}
	d.logger.Info().Strs("tiers", tierNames).Msg("Model fallback chain initialized")

	d.batches = batch.NewManager(d.toolServer, batch.WithLogger(d.logger.Component("batch")))

	d.prompts, err = prompts.NewStore(cfg.Prompts.Dir, d.logger.Component("prompts"))
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	d.logger.Info().Str("dir", cfg.Prompts.Dir).Msg("Prompt store initialized")

	return d.initializeAgents()
}

func (d *Daemon) initializeAgents() error {
	cfg := d.config

	level, err := reasoning.ParseLevel(cfg.Reasoning.Level)
	if err != nil {
		return err
	}

	deps := agent.Deps{
		Executor:  d.executor,
		Providers: d.chain,
		Tools:     d.toolServer,
		Prompts:   d.prompts,
		Recorder:  d.recorder,
		Logger:    d.logger.Component("agent"),
		Batches:   d.batches,
	}

	d.reader, err = agent.NewReader(deps,
		agent.WithMaxSteps(cfg.Agents.ReaderMaxSteps),
		agent.WithReasoning(level),
	)
	if err != nil {
		return err
	}
	d.integrator, err = agent.NewIntegrator(deps,
		agent.WithPhaseSteps(cfg.Agents.IntegratorReadSteps, cfg.Agents.IntegratorWriteSteps),
		agent.WithReasoning(level),
	)
	if err != nil {
		return err
	}

	d.writes = commandqueue.New(
		commandqueue.WithLogger(d.logger.Component("commandqueue")),
		commandqueue.WithWarnAfter(30*time.Second),
	)

	patterns, err := orchestrator.CompilePatterns(cfg.Orchestrator.TriggerPatterns)
	if err != nil {
		return err
	}
	d.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Executor:   d.executor,
		Providers:  d.chain,
		Reader:     d.reader,
		Integrator: d.integrator,
		Prompts:    d.prompts,
		Recorder:   d.recorder,
		Logger:     d.logger.Logger,
		Queue:      d.writes,
	},
		orchestrator.WithMaxSteps(cfg.Orchestrator.MaxSteps),
		orchestrator.WithTriggerPatterns(patterns),
		orchestrator.WithTemperature(cfg.Orchestrator.Temperature),
	)
	if err != nil {
		return err
	}
	d.logger.Info().Int("maxSteps", cfg.Orchestrator.MaxSteps).Str("reasoning", string(level)).Msg("Orchestrator initialized")
	return nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	d.checker = health.NewChecker(d.toolServer, d.aggregator, d.chain.Tiers(),
		health.WithTimeout(cfg.ToolServer.ConnectTimeout))

	if cfg.Health.Enabled {
		monitor, err := health.NewMonitor(d.checker, cfg.Health.Schedule,
			health.WithLogger(d.logger.Component("health")))
		if err != nil {
			return err
		}
		d.monitor = monitor
		d.logger.Info().Str("schedule", cfg.Health.Schedule).Msg("Health monitor initialized")
	}

	var metricsHandler http.Handler
	if d.prometheus != nil {
		metricsHandler = d.prometheus.Handler()
	}
	server, err := httpapi.NewServer(httpapi.Options{
		Addr:               cfg.Server.Addr,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		RateLimitPerMinute: cfg.Server.RateLimit,
	}, httpapi.Deps{
		Orchestrator: d.orchestrator,
		Health:       d.checker,
		Stats:        d.aggregator,
		ToolServer:   d.toolServer,
		Metrics:      metricsHandler,
		Logger:       d.logger.Logger,
	})
	if err != nil {
		return err
	}
	d.server = server
	d.logger.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server initialized")
	return nil
}

// Start writes the PID file and starts every service. The HTTP server runs
// in the background; a listen failure is reported through Wait.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting knowhub daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.Tracing.Enabled {
		if err := tracing.Setup(d.ctx, d.config.Tracing.ServiceName, d.config.Tracing.SampleRatio); err != nil {
			logger.Warn().Err(err).Msg("Failed to set up tracing")
		} else {
			logger.Info().Float64("sampleRatio", d.config.Tracing.SampleRatio).Msg("Tracing started")
		}
	}

	// the client reconnects on demand, so a failed first dial is not fatal
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.toolServer.Connect(d.ctx); err != nil {
			logger.Warn().Err(err).Msg("Tool server not reachable yet")
			return
		}
		logger.Info().Msg("Tool server connected")
	}()

	if d.config.Prompts.Watch && d.prompts.Dir() != "" {
		watcher, err := prompts.Watch(d.prompts, 0, func(role string) {
			d.logger.Info().Str("role", role).Msg("Prompt reloaded")
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to start prompt watcher")
		} else {
			d.watcher = watcher
		}
	}

	if d.monitor != nil {
		d.monitor.Start()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
			select {
			case d.fatal <- err:
			default:
			}
		}
	}()

	logger.Info().Str("addr", d.server.Addr()).Msg("Daemon started")
	return nil
}

// Stop shuts services down in reverse order
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.Logger
	logger.Info().Msg("Stopping knowhub daemon")

	ctx, cancel := context.WithTimeout(context.Background(), d.config.Server.ShutdownTimeout)
	defer cancel()

	if err := d.server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop HTTP server")
	}

	if d.monitor != nil {
		d.monitor.Stop(ctx)
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop prompt watcher")
		}
		d.watcher = nil
	}

	if err := d.writes.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to drain write queue")
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.toolServer.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close tool server connection")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.config.Tracing.Enabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:             d.running,
		ToolServerConnected: d.toolServer.Connected(),
		Tiers:               d.chain.Len(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Wait blocks until SIGINT, SIGTERM or a server failure, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case err := <-d.fatal:
		d.logger.Error().Err(err).Msg("Shutting down after server failure")
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Close releases resources of a daemon that was never started
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.writes.Close(ctx)

	d.cancel()
	return d.toolServer.Close()
}

// Config returns the configuration
func (d *Daemon) Config() *config.Config {
	return d.config
}

// Orchestrator returns the wired orchestrator
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}

// ToolServer returns the tool server client
func (d *Daemon) ToolServer() *toolserver.Client {
	return d.toolServer
}

// Checker returns the health checker
func (d *Daemon) Checker() *health.Checker {
	return d.checker
}

// Aggregator returns the in-memory metrics
func (d *Daemon) Aggregator() *metrics.Aggregator {
	return d.aggregator
}

// Handler returns the HTTP API handler
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

// Status is a point-in-time view of the daemon
type Status struct {
	Running             bool          `json:"running"`
	Uptime              time.Duration `json:"uptime"`
	StartTime           time.Time     `json:"startTime"`
	ToolServerConnected bool          `json:"toolServerConnected"`
	Tiers               int           `json:"tiers"`
}
