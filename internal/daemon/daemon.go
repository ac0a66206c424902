// Package daemon implements the station lifecycle: it assembles shards from
// configuration, runs them and handles signals.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"firestige.xyz/decoystation/internal/capture"
	"firestige.xyz/decoystation/internal/capture/afpacket"
	"firestige.xyz/decoystation/internal/config"
	"firestige.xyz/decoystation/internal/forward"
	logpkg "firestige.xyz/decoystation/internal/log"
	"firestige.xyz/decoystation/internal/metrics"
	"firestige.xyz/decoystation/internal/sink/tun"
	"firestige.xyz/decoystation/internal/station"
)

// captureOpener opens the capture handle of one worker.
type captureOpener func(cfg config.CaptureConfig, worker int) (capture.Capturer, error)

// sinkOpener returns one sink per worker and a closer for the device.
type sinkOpener func(cfg config.TUNConfig, workers int) ([]forward.Sink, io.Closer, error)

// Daemon manages the station process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	openCapture captureOpener
	openSinks   sinkOpener

	// Core components
	runtime       *station.Runtime
	device        io.Closer      // nil until shards are built
	metricsServer *metrics.Server // nil if metrics disabled
	logCloser     io.Closer

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration and creates a Daemon. Nothing is opened yet.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newDaemon(cfg, configPath, pidFile), nil
}

func newDaemon(cfg *config.GlobalConfig, configPath, pidFile string) *Daemon {
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		openCapture:  openAFPacket,
		openSinks:    openTUN,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes logging, metrics and every shard. Any failure aborts
// startup and releases what was already opened.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting decoy station",
		"config", d.configPath,
		"workers", d.config.Station.Workers,
		"interface", d.config.Capture.Interface,
		"tun", d.config.TUN.Name,
		"notify", d.config.Notify.Type,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.removePIDFile()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build shards
	if err := d.buildRuntime(); err != nil {
		d.stopMetrics()
		d.removePIDFile()
		return err
	}

	slog.Info("decoy station started")
	return nil
}

func (d *Daemon) buildRuntime() error {
	sh, err := loadShared(d.config)
	if err != nil {
		return err
	}

	n := d.config.Station.Workers
	sinks, device, err := d.openSinks(d.config.TUN, n)
	if err != nil {
		return fmt.Errorf("failed to open forwarding sink: %w", err)
	}
	if len(sinks) != n {
		device.Close()
		return fmt.Errorf("forwarding sink has %d queues, need %d", len(sinks), n)
	}

	var (
		workers []station.Worker
		opened  []capture.Capturer
	)
	fail := func(err error) error {
		for _, c := range opened {
			c.Close()
		}
		for _, w := range workers {
			w.Shard.Close()
		}
		device.Close()
		return err
	}

	for i := 0; i < n; i++ {
		src, err := d.openCapture(d.config.Capture, i)
		if err != nil {
			return fail(fmt.Errorf("worker %d capture: %w", i, err))
		}
		opened = append(opened, src)

		shard, err := sh.newShard(i, d.config, notifyConfig(d.config), sinks[i])
		if err != nil {
			return fail(err)
		}
		workers = append(workers, station.Worker{Shard: shard, Capture: src})
	}

	shards := make([]*station.Shard, n)
	for i, w := range workers {
		shards[i] = w.Shard
	}
	d.runtime = station.NewRuntime(workers, station.NewReporter(shards, opened, d.config.Stats.Interval))
	d.device = device
	return nil
}

// Run runs the station, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown
//  3. every worker stopping, e.g. on a capture error
//
// SIGHUP reloads the log configuration.
func (d *Daemon) Run() error {
	if d.runtime == nil {
		return errors.New("daemon not started")
	}

	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	done := make(chan error, 1)
	go func() { done <- d.runtime.Run(d.ctx) }()

	slog.Info("station running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				return d.shutdown(done)
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			return d.shutdown(done)

		case err := <-done:
			slog.Error("all workers stopped", "error", err)
			d.Stop()
			return err
		}
	}
}

// shutdown cancels the workers, waits for them and stops the rest.
func (d *Daemon) shutdown(done <-chan error) error {
	d.cancel()
	err := <-done
	d.Stop()
	return err
}

// Stop releases everything Start opened. Workers must have returned.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if d.device != nil {
		if err := d.device.Close(); err != nil {
			slog.Error("error closing tun device", "error", err)
		}
		d.device = nil
	}

	d.stopMetrics()

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("decoy station stopped")

	if d.logCloser != nil {
		d.logCloser.Close()
		d.logCloser = nil
	}
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload re-reads the configuration file. Only logging is hot-reloadable;
// changes to anything else are reported as requiring a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log != d.config.Log {
		old := d.config.Log
		d.config.Log = newConfig.Log
		if err := d.initLogging(); err != nil {
			d.config.Log = old
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Station.Workers != d.config.Station.Workers {
		requiresRestart = append(requiresRestart, "station.workers")
	}
	if newConfig.Station.PrivateKeyPath != d.config.Station.PrivateKeyPath {
		requiresRestart = append(requiresRestart, "station.private_key_path")
	}
	if newConfig.Capture != d.config.Capture {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Flow != d.config.Flow {
		requiresRestart = append(requiresRestart, "flow")
	}
	if newConfig.TUN != d.config.TUN {
		requiresRestart = append(requiresRestart, "tun")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// initLogging (re)installs the default logger from config.
func (d *Daemon) initLogging() error {
	closer, err := logpkg.Init(d.config.Log)
	if err != nil {
		return err
	}
	if d.logCloser != nil {
		d.logCloser.Close()
	}
	d.logCloser = closer

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	return nil
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metricsServer.Stop(shutdownCtx); err != nil {
		slog.Error("error stopping metrics server", "error", err)
	}
	d.metricsServer = nil
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
	return nil
}

func openAFPacket(cfg config.CaptureConfig, worker int) (capture.Capturer, error) {
	return afpacket.New(afpacket.Config{
		Interface:    cfg.Interface,
		BPFFilter:    cfg.BPFFilter,
		SnapLen:      cfg.SnapLen,
		RingBufferMB: cfg.RingBufferMB,
		FanoutID:     cfg.FanoutID,
		Fanout:       cfg.Fanout,
	})
}

func openTUN(cfg config.TUNConfig, workers int) ([]forward.Sink, io.Closer, error) {
	dev, err := tun.Open(tun.Config{Name: cfg.Name, MTU: cfg.MTU, Queues: workers})
	if err != nil {
		return nil, nil, err
	}
	sinks := make([]forward.Sink, dev.Len())
	for i := range sinks {
		sinks[i] = dev.Queue(i)
	}
	return sinks, dev, nil
}
