// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/config"
	logpkg "firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
	"firestige.xyz/netcore/internal/sniffer"
	"firestige.xyz/netcore/internal/stack"
)

// Daemon manages the netcore daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	stack         *stack.Stack
	capture       *sniffer.Writer // nil if capture disabled
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	stopOnce     sync.Once
	reloadMu     sync.Mutex
	shutdownChan chan struct{}
	sigChan      chan os.Signal // promoted from Run() local for cleanup in Stop()
}

// New creates a new Daemon instance. Empty socketPath or pidFile fall back
// to the control section of the configuration.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	// Load global configuration
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}

	// Create context for lifecycle management
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Stack returns the protocol stack once Start has built it.
func (d *Daemon) Stack() *stack.Stack {
	return d.stack
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting netcore daemon",
		"version", command.Version,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Build the stack: devices, addresses, routes, services
	if err := d.buildStack(); err != nil {
		d.teardownStack()
		d.removePIDFile()
		return fmt.Errorf("failed to build stack: %w", err)
	}

	// 4. Start the receive loop
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.stack.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("stack run loop failed", "error", err)
		}
	}()

	// 5. Start metrics server and gauge sampler
	if err := d.startMetrics(); err != nil {
		d.cancel()
		d.wg.Wait()
		d.teardownStack()
		d.removePIDFile()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 6. Create command handler
	d.cmdHandler = command.NewCommandHandler(d.stack, d)
	d.cmdHandler.SetDriverOpener(openDriver)

	// 7. Wire shutdown handler so daemon_shutdown command can trigger graceful stop
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 8. Start UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("uds server failed", "error", err)
		}
	}()

	slog.Info("daemon started successfully",
		"devices", len(d.stack.Devices().All()),
		"routing", d.stack.Routing(),
	)
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		slog.Info("stopping uds server")
		d.udsServer.Stop()
	}

	// 2. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 3. Cancel context to stop the run loop and sampler
	d.cancel()
	d.wg.Wait()

	// 4. Detach devices and close the capture file
	d.teardownStack()

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	// Setup signal handling
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			// Shutdown triggered by daemon_shutdown command
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			// Context cancelled externally
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format, routing switch.
// Cold (requires restart): devices, routes, services, capture, listen addresses.
// Implements ConfigReloader interface for CommandHandler.
func (d *Daemon) Reload() error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	old := d.config

	// Track what was hot-reloaded for the log message
	hotReloaded := []string{}

	// 1. Logging: a format change needs new handlers, a level change does not
	if newConfig.Log.Format != old.Log.Format || newConfig.Log.Outputs != old.Log.Outputs {
		if err := logpkg.Init(newConfig.Log); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	} else if newConfig.Log.Level != old.Log.Level {
		if err := logpkg.SetLevel(newConfig.Log.Level); err != nil {
			return err
		}
		hotReloaded = append(hotReloaded, "log.level")
	}

	// 2. Routing switch
	if newConfig.Stack.Routing != d.stack.Routing() {
		d.stack.SetRouting(newConfig.Stack.Routing)
		hotReloaded = append(hotReloaded, "stack.routing")
	}

	// 3. Warn about cold-reload items that changed
	requiresRestart := []string{}
	if !reflect.DeepEqual(newConfig.Devices, old.Devices) {
		requiresRestart = append(requiresRestart, "devices")
	}
	if !reflect.DeepEqual(newConfig.Routes, old.Routes) {
		requiresRestart = append(requiresRestart, "routes")
	}
	if !reflect.DeepEqual(newConfig.Services, old.Services) {
		requiresRestart = append(requiresRestart, "services")
	}
	if newConfig.Capture != old.Capture {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Metrics != old.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	d.config = newConfig

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)

	return nil
}

// TriggerShutdown triggers graceful shutdown from external caller (e.g., daemon_shutdown command).
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
		// Shutdown signal sent
	default:
		// Already pending
	}
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)

	return nil
}

// startMetrics starts the metrics HTTP server if enabled. The gauge
// sampler runs regardless so the registry stays current for tests and
// scrapes alike.
func (d *Daemon) startMetrics() error {
	cfg := d.config.Metrics

	// Reload swaps d.config, so the sampler gets its own copy of the interval
	interval := cfg.Interval()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		metrics.RunSampler(d.ctx, interval, d.stack.SampleMetrics)
	}()

	if !cfg.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(cfg.Listen, cfg.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}

// ReadPIDFile returns the process ID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", path, err)
	}
	return pid, nil
}
